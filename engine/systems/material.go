package systems

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/descriptors"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/resource"
)

/** @brief Size in bytes of the per-material constant block. */
const MaterialConstantsSize = 32

type MaterialSystemConfig struct {
	/** @brief Maximum number of cached materials. 0 keeps every material until Clear. */
	Capacity int
}

/** @brief A texture bound by a material, in shader table order. */
type TextureBinding struct {
	Texture *resource.GPUResource
	Use     metadata.TextureUse
	Filter  metadata.TextureFilter
	Repeat  metadata.TextureRepeat
}

/**
 * @brief Everything a material is built from. Name is a debug label and is not
 * part of the content key.
 */
type MaterialDescription struct {
	Name          string
	Pipeline      *PipelineState
	DiffuseColour [4]float32
	Shininess     float32
	Textures      []TextureBinding
}

func (d *MaterialDescription) appendKey(k *metadata.KeyBuilder) {
	k.Uint64(d.Pipeline.Key).Uint32(d.Pipeline.ID)
	for _, c := range d.DiffuseColour {
		k.Float32(c)
	}
	k.Float32(d.Shininess)
	k.Uint32(uint32(len(d.Textures)))
	for _, t := range d.Textures {
		k.Uint32(t.Texture.ID).Uint8(uint8(t.Use)).Uint8(uint8(t.Filter)).Uint8(uint8(t.Repeat))
	}
}

type Material struct {
	ID   uint32
	Name string
	/** @brief Content key of the description. */
	Key           uint64
	Pipeline      *PipelineState
	DiffuseColour [4]float32
	Shininess     float32
	Textures      []TextureBinding

	descriptors []descriptors.DescriptorSlot
	constants   [MaterialConstantsSize]byte
	system      *MaterialSystem
	released    bool

	// Frame stamp of the last copy into the frame heap, see MaterialSystem.frame.
	copiedFrame uint64
	table       metadata.GPUDescriptorHandle
	tableErr    error
}

// CopyDescriptorsIfNeeded copies the material's texture descriptors into the
// frame heap the first time it is called in a frame and returns the base of
// the table. Later calls in the same frame return the same table.
func (m *Material) CopyDescriptorsIfNeeded(frameHeap *descriptors.FrameDescriptorHeap) (metadata.GPUDescriptorHandle, error) {
	if m.copiedFrame == m.system.frame {
		return m.table, m.tableErr
	}
	m.copiedFrame = m.system.frame
	if len(m.descriptors) == 0 {
		m.table, m.tableErr = metadata.InvalidGPUDescriptorHandle, nil
		return m.table, nil
	}
	_, m.table, m.tableErr = frameHeap.CopyDescriptors(metadata.DescriptorCategoryShaderResource, m.descriptors)
	m.system.copies++
	return m.table, m.tableErr
}

// Constants returns the material's constant block: diffuse colour then
// shininess, little endian, padded to MaterialConstantsSize.
func (m *Material) Constants() []byte {
	return m.constants[:]
}

func (m *Material) Descriptors() []descriptors.DescriptorSlot {
	return m.descriptors
}

func (m *Material) IsReleased() bool {
	return m.released
}

// IsLive reports whether the material and everything it refers to are still
// usable for drawing.
func (m *Material) IsLive() bool {
	if m.released || m.Pipeline.IsReleased() {
		return false
	}
	for _, t := range m.Textures {
		if t.Texture.IsDestroyed() {
			return false
		}
	}
	return true
}

// matches reports whether a cached material is still the one desc describes.
// Identifiers are recycled, so equal keys can refer to new objects.
func (m *Material) matches(desc *MaterialDescription) bool {
	if m.Pipeline != desc.Pipeline || m.Pipeline.IsReleased() || len(m.Textures) != len(desc.Textures) {
		return false
	}
	for i, t := range m.Textures {
		if t.Texture != desc.Textures[i].Texture || t.Texture.IsDestroyed() {
			return false
		}
	}
	return true
}

type MaterialSystem struct {
	Config   *MaterialSystemConfig
	cache    *ContentCache[*Material]
	ids      *core.IdentifierPool
	renderer *renderer.Renderer
	bus      *core.EventBus

	// Incremented on every StartFrame. Starts at 1 so a zero stamp means never copied.
	frame  uint64
	copies uint64
}

func NewMaterialSystem(config *MaterialSystemConfig, r *renderer.Renderer, bus *core.EventBus) (*MaterialSystem, error) {
	ms := &MaterialSystem{
		Config:   config,
		ids:      core.NewIdentifierPool(256),
		renderer: r,
		bus:      bus,
		frame:    1,
	}
	cache, err := NewContentCache("material", config.Capacity, ms.release, ms.evicted)
	if err != nil {
		return nil, err
	}
	ms.cache = cache
	return ms, nil
}

// Resolve returns the material built from desc. Texture descriptors are
// allocated on the first request for this content.
func (ms *MaterialSystem) Resolve(desc *MaterialDescription) (*Material, error) {
	if err := validateMaterialDescription(desc); err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	var k metadata.KeyBuilder
	desc.appendKey(&k)
	canonical := k.Result()

	if m, ok := ms.cache.Get(canonical); ok && !m.matches(desc) {
		core.LogDebug("material %q refers to released objects, rebuilding", m.Name)
		ms.cache.Remove(canonical)
	}

	m, _, err := ms.cache.GetOrCreate(canonical, func(key uint64) (*Material, error) {
		return ms.create(key, desc)
	})
	if err != nil {
		return nil, fmt.Errorf("material %q: %w", desc.Name, err)
	}
	return m, nil
}

func validateMaterialDescription(desc *MaterialDescription) error {
	if desc == nil {
		return fmt.Errorf("nil material description: %w", core.ErrCacheConstruction)
	}
	if desc.Pipeline == nil || desc.Pipeline.IsReleased() {
		return fmt.Errorf("material %q has no live pipeline: %w", desc.Name, core.ErrCacheConstruction)
	}
	for i, t := range desc.Textures {
		if t.Texture == nil {
			return fmt.Errorf("material %q texture %d is nil: %w", desc.Name, i, core.ErrCacheConstruction)
		}
	}
	return nil
}

func (ms *MaterialSystem) create(key uint64, desc *MaterialDescription) (*Material, error) {
	m := &Material{
		Name:          desc.Name,
		Key:           key,
		Pipeline:      desc.Pipeline,
		DiffuseColour: desc.DiffuseColour,
		Shininess:     desc.Shininess,
		Textures:      append([]TextureBinding(nil), desc.Textures...),
		descriptors:   make([]descriptors.DescriptorSlot, 0, len(desc.Textures)),
		system:        ms,
	}
	for _, t := range desc.Textures {
		slot, err := ms.renderer.ResourceDescriptor(t.Texture, metadata.DescriptorCategoryShaderResource)
		if err != nil {
			return nil, err
		}
		m.descriptors = append(m.descriptors, slot)
	}
	for i, c := range desc.DiffuseColour {
		binary.LittleEndian.PutUint32(m.constants[i*4:], math.Float32bits(c))
	}
	binary.LittleEndian.PutUint32(m.constants[16:], math.Float32bits(desc.Shininess))
	m.ID = ms.ids.AquireNewID(m)
	core.LogDebug("material %q created as %016x with %d textures", desc.Name, key, len(desc.Textures))
	return m, nil
}

// Texture descriptors belong to the textures, so only the id goes back.
func (ms *MaterialSystem) release(m *Material) {
	m.released = true
	if err := ms.ids.ReleaseID(m.ID); err != nil {
		core.LogWarn("material %q: %s", m.Name, err)
	}
}

func (ms *MaterialSystem) evicted(key uint64, m *Material) {
	if ms.bus != nil {
		ms.bus.Fire(core.EVENT_CODE_CACHE_EVICTED, ms, core.EventContext{Name: "material", U64: [2]uint64{key, uint64(m.ID)}})
	}
}

// StartFrame invalidates every material's frame heap table.
func (ms *MaterialSystem) StartFrame(frameIndex uint32) {
	ms.frame++
}

// FrameCopies is the number of descriptor table copies made since creation.
func (ms *MaterialSystem) FrameCopies() uint64 {
	return ms.copies
}

func (ms *MaterialSystem) Clear() {
	ms.cache.Clear()
}

func (ms *MaterialSystem) Len() int {
	return ms.cache.Len()
}

func (ms *MaterialSystem) Stats() CacheStats {
	return ms.cache.Stats()
}

func (ms *MaterialSystem) Shutdown() error {
	ms.cache.Clear()
	return nil
}
