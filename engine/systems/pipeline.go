package systems

import (
	"fmt"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

type PipelineStateSystemConfig struct {
	/** @brief Maximum number of cached pipelines. 0 keeps every pipeline until Clear. */
	Capacity int
}

/**
 * @brief A cached pipeline state object.
 */
type PipelineState struct {
	ID   uint32
	Name string
	/** @brief Content key of the description. */
	Key         uint64
	Description *metadata.PipelineStateDescription
	Object      *metadata.PipelineObject
	released    bool
}

// IsReleased reports whether the pipeline left the cache. Its device object is
// destroyed once the frames using it complete.
func (p *PipelineState) IsReleased() bool {
	return p.released
}

type PipelineStateSystem struct {
	Config   *PipelineStateSystemConfig
	cache    *ContentCache[*PipelineState]
	ids      *core.IdentifierPool
	renderer *renderer.Renderer
	bus      *core.EventBus
}

func NewPipelineStateSystem(config *PipelineStateSystemConfig, r *renderer.Renderer, bus *core.EventBus) (*PipelineStateSystem, error) {
	ps := &PipelineStateSystem{
		Config:   config,
		ids:      core.NewIdentifierPool(64),
		renderer: r,
		bus:      bus,
	}
	cache, err := NewContentCache("pipeline", config.Capacity, ps.release, ps.evicted)
	if err != nil {
		return nil, err
	}
	ps.cache = cache
	return ps, nil
}

// Resolve returns the pipeline built from desc, creating the device object on
// the first request for this content.
func (ps *PipelineStateSystem) Resolve(desc *metadata.PipelineStateDescription) (*PipelineState, error) {
	if desc == nil {
		return nil, fmt.Errorf("nil pipeline description: %w", core.ErrCacheConstruction)
	}
	var k metadata.KeyBuilder
	desc.AppendKey(&k)

	p, _, err := ps.cache.GetOrCreate(k.Result(), func(key uint64) (*PipelineState, error) {
		owned := clonePipelineDescription(desc)
		obj, err := ps.renderer.Device().CreatePipelineObject(owned)
		if err != nil {
			return nil, err
		}
		obj.Hash = key
		p := &PipelineState{
			Name:        desc.Name,
			Key:         key,
			Description: owned,
			Object:      obj,
		}
		p.ID = ps.ids.AquireNewID(p)
		core.LogDebug("pipeline %q created as %016x", desc.Name, key)
		return p, nil
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline %q: %w", desc.Name, err)
	}
	return p, nil
}

func (ps *PipelineStateSystem) release(p *PipelineState) {
	p.released = true
	if err := ps.ids.ReleaseID(p.ID); err != nil {
		core.LogWarn("pipeline %q: %s", p.Name, err)
	}
	obj := p.Object
	device := ps.renderer.Device()
	ps.renderer.DeferRelease(func() {
		device.DestroyPipelineObject(obj)
	})
}

func (ps *PipelineStateSystem) evicted(key uint64, p *PipelineState) {
	if ps.bus != nil {
		ps.bus.Fire(core.EVENT_CODE_CACHE_EVICTED, ps, core.EventContext{Name: "pipeline", U64: [2]uint64{key, uint64(p.ID)}})
	}
}

func (ps *PipelineStateSystem) Clear() {
	ps.cache.Clear()
}

func (ps *PipelineStateSystem) Len() int {
	return ps.cache.Len()
}

func (ps *PipelineStateSystem) Stats() CacheStats {
	return ps.cache.Stats()
}

func (ps *PipelineStateSystem) Shutdown() error {
	ps.cache.Clear()
	return nil
}

func clonePipelineDescription(d *metadata.PipelineStateDescription) *metadata.PipelineStateDescription {
	c := *d
	c.VertexShader.Code = append([]byte(nil), d.VertexShader.Code...)
	c.PixelShader.Code = append([]byte(nil), d.PixelShader.Code...)
	c.RenderTargetFormats = append([]metadata.Format(nil), d.RenderTargetFormats...)
	c.Attributes = append([]metadata.VertexAttribute(nil), d.Attributes...)
	return &c
}
