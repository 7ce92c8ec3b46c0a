package systems

import (
	"errors"
	"fmt"

	"github.com/spaghettifunk/anima-rhi/engine/assets"
	"github.com/spaghettifunk/anima-rhi/engine/config"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

const (
	maxTextureCount = 4096
	jobWorkers      = 2
	jobQueueSize    = 64
)

type namedMaterial struct {
	material *Material
	textures []string
	// Set when one of the material's assets changed on disk.
	stale bool
}

// SystemManager owns the caches and resolves assets by name through them.
// Every method runs on the render thread.
type SystemManager struct {
	jobSystem      *JobSystem
	textureSystem  *TextureSystem
	pipelineSystem *PipelineStateSystem
	materialSystem *MaterialSystem

	renderer     *renderer.Renderer
	assetManager *assets.AssetManager
	bus          *core.EventBus

	// Last good version of each description, by asset name.
	pipelineConfigs map[string]*metadata.PipelineConfig
	materialConfigs map[string]*metadata.MaterialConfig
	shaders         map[string][]byte

	namedPipelines map[string]*PipelineState
	namedMaterials map[string]*namedMaterial
}

// NewSystemManager builds every system. am may be nil when nothing is loaded
// by name.
func NewSystemManager(cfg *config.Config, r *renderer.Renderer, am *assets.AssetManager, bus *core.EventBus) (*SystemManager, error) {
	js, err := NewJobSystem(jobWorkers, jobQueueSize)
	if err != nil {
		return nil, err
	}
	ts, err := NewTextureSystem(&TextureSystemConfig{
		MaxTextureCount: maxTextureCount,
	}, am, r)
	if err != nil {
		return nil, err
	}
	ps, err := NewPipelineStateSystem(&PipelineStateSystemConfig{
		Capacity: cfg.Caches.PipelineCapacity,
	}, r, bus)
	if err != nil {
		return nil, err
	}
	ms, err := NewMaterialSystem(&MaterialSystemConfig{
		Capacity: cfg.Caches.MaterialCapacity,
	}, r, bus)
	if err != nil {
		return nil, err
	}
	r.AddFrameListener(ms)

	return &SystemManager{
		jobSystem:       js,
		textureSystem:   ts,
		pipelineSystem:  ps,
		materialSystem:  ms,
		renderer:        r,
		assetManager:    am,
		bus:             bus,
		pipelineConfigs: make(map[string]*metadata.PipelineConfig),
		materialConfigs: make(map[string]*metadata.MaterialConfig),
		shaders:         make(map[string][]byte),
		namedPipelines:  make(map[string]*PipelineState),
		namedMaterials:  make(map[string]*namedMaterial),
	}, nil
}

func (sm *SystemManager) Initialize() error {
	return sm.textureSystem.Initialize()
}

func (sm *SystemManager) TextureSystem() *TextureSystem {
	return sm.textureSystem
}

func (sm *SystemManager) PipelineStateSystem() *PipelineStateSystem {
	return sm.pipelineSystem
}

func (sm *SystemManager) MaterialSystem() *MaterialSystem {
	return sm.materialSystem
}

func (sm *SystemManager) JobSystem() *JobSystem {
	return sm.jobSystem
}

// ResolveMaterial returns the cached material for desc, building it on a miss.
func (sm *SystemManager) ResolveMaterial(desc *MaterialDescription) (*Material, error) {
	return sm.materialSystem.Resolve(desc)
}

// ResolvePipelineState returns the cached pipeline for desc, building it on a miss.
func (sm *SystemManager) ResolvePipelineState(desc *metadata.PipelineStateDescription) (*PipelineState, error) {
	return sm.pipelineSystem.Resolve(desc)
}

// AcquirePipeline resolves the pipeline described by the named
// .pipeline.toml asset and its shaders.
func (sm *SystemManager) AcquirePipeline(name string) (*PipelineState, error) {
	if p, ok := sm.namedPipelines[name]; ok && !p.IsReleased() {
		return p, nil
	}
	cfg, err := sm.pipelineConfig(name)
	if err != nil {
		return nil, err
	}
	vs, err := sm.shader(cfg.VertexShader)
	if err != nil {
		return nil, err
	}
	var fs []byte
	if cfg.PixelShader != "" {
		if fs, err = sm.shader(cfg.PixelShader); err != nil {
			return nil, err
		}
	}
	p, err := sm.pipelineSystem.Resolve(cfg.Description(vs, fs))
	if err != nil {
		return nil, err
	}
	sm.namedPipelines[name] = p
	return p, nil
}

// AcquireMaterial resolves the material described by the named
// .material.toml asset. Textures it names are acquired from the texture
// system and held until the material is rebuilt or the manager shuts down.
func (sm *SystemManager) AcquireMaterial(name string) (*Material, error) {
	prev, ok := sm.namedMaterials[name]
	if ok && !prev.stale && prev.material.IsLive() {
		return prev.material, nil
	}
	cfg, err := sm.materialConfig(name)
	if err != nil {
		return nil, err
	}
	pipeline, err := sm.AcquirePipeline(cfg.Pipeline)
	if err != nil {
		return nil, err
	}

	desc := &MaterialDescription{
		Name:          cfg.Name,
		Pipeline:      pipeline,
		DiffuseColour: cfg.DiffuseColour,
		Shininess:     cfg.Shininess,
		Textures:      make([]TextureBinding, 0, len(cfg.Maps)),
	}
	acquired := make([]string, 0, len(cfg.Maps))
	releaseAcquired := func() {
		for _, t := range acquired {
			sm.textureSystem.Release(t)
		}
	}
	for _, m := range cfg.Maps {
		t, err := sm.textureSystem.Aquire(m.Texture, true)
		if err != nil {
			releaseAcquired()
			return nil, fmt.Errorf("material %q: %w", name, err)
		}
		acquired = append(acquired, m.Texture)
		desc.Textures = append(desc.Textures, TextureBinding{Texture: t, Use: m.Use, Filter: m.Filter, Repeat: m.Repeat})
	}

	mat, err := sm.materialSystem.Resolve(desc)
	if err != nil {
		releaseAcquired()
		return nil, err
	}
	// The new textures are held before the old ones go, so unchanged textures
	// survive a rebuild.
	if ok {
		for _, t := range prev.textures {
			sm.textureSystem.Release(t)
		}
	}
	sm.namedMaterials[name] = &namedMaterial{material: mat, textures: acquired}
	return mat, nil
}

func (sm *SystemManager) pipelineConfig(name string) (*metadata.PipelineConfig, error) {
	if cfg, ok := sm.pipelineConfigs[name]; ok {
		return cfg, nil
	}
	res, err := sm.load(name, metadata.ResourceTypePipeline)
	if err != nil {
		return nil, err
	}
	cfg, ok := res.Data.(*metadata.PipelineConfig)
	if !ok {
		return nil, fmt.Errorf("%w: pipeline %q loaded as %T", core.ErrInvalidAsset, name, res.Data)
	}
	sm.pipelineConfigs[name] = cfg
	return cfg, nil
}

func (sm *SystemManager) materialConfig(name string) (*metadata.MaterialConfig, error) {
	if cfg, ok := sm.materialConfigs[name]; ok {
		return cfg, nil
	}
	res, err := sm.load(name, metadata.ResourceTypeMaterial)
	if err != nil {
		return nil, err
	}
	cfg, ok := res.Data.(*metadata.MaterialConfig)
	if !ok {
		return nil, fmt.Errorf("%w: material %q loaded as %T", core.ErrInvalidAsset, name, res.Data)
	}
	sm.materialConfigs[name] = cfg
	return cfg, nil
}

func (sm *SystemManager) shader(name string) ([]byte, error) {
	if code, ok := sm.shaders[name]; ok {
		return code, nil
	}
	res, err := sm.load(name, metadata.ResourceTypeShader)
	if err != nil {
		return nil, err
	}
	code, ok := res.Data.([]byte)
	if !ok {
		return nil, fmt.Errorf("%w: shader %q loaded as %T", core.ErrInvalidAsset, name, res.Data)
	}
	sm.shaders[name] = code
	return code, nil
}

func (sm *SystemManager) load(name string, t metadata.ResourceType) (*metadata.Resource, error) {
	if sm.assetManager == nil {
		return nil, fmt.Errorf("%w: %s %q (no asset manager)", core.ErrAssetNotFound, t, name)
	}
	return sm.assetManager.LoadAsset(name, t, nil)
}

/**
 * @brief Picks up asset changes and finished jobs. Should happen once an
 * update cycle, on the render thread.
 */
func (sm *SystemManager) Update() {
	if sm.assetManager != nil {
		for _, c := range sm.assetManager.DrainChanges() {
			sm.handleAssetChange(c)
		}
	}
	sm.jobSystem.Update()
}

// handleAssetChange reloads a changed description on a worker. The previous
// version stays in use until the reload completes, and for good if it fails.
func (sm *SystemManager) handleAssetChange(c assets.AssetChange) {
	if sm.bus != nil {
		sm.bus.Fire(core.EVENT_CODE_ASSET_CHANGED, sm, core.EventContext{Name: c.Path})
	}
	if c.Removed {
		core.LogWarn("%s asset %q removed, keeping the loaded version", c.Type, c.Name)
		return
	}
	am := sm.assetManager
	err := sm.jobSystem.Submit(metadata.JobTask{
		InputParams: c,
		OnStart: func(params interface{}) (interface{}, error) {
			change := params.(assets.AssetChange)
			return am.LoadAsset(change.Name, change.Type, nil)
		},
		OnComplete: func(result interface{}) {
			sm.applyReload(c, result.(*metadata.Resource))
		},
		OnFailure: func(err error) {
			core.LogWarn("reload of %s %q failed, keeping the loaded version: %s", c.Type, c.Name, err)
		},
	})
	if err != nil && !errors.Is(err, ErrJobSystemClosed) {
		core.LogError("failed to queue reload of %s %q: %s", c.Type, c.Name, err)
	}
}

func (sm *SystemManager) applyReload(c assets.AssetChange, res *metadata.Resource) {
	switch data := res.Data.(type) {
	case *metadata.MaterialConfig:
		sm.materialConfigs[c.Name] = data
		sm.markMaterialsStale(func(name string, _ *metadata.MaterialConfig) bool { return name == c.Name })

	case *metadata.PipelineConfig:
		sm.pipelineConfigs[c.Name] = data
		sm.invalidatePipeline(c.Name)

	case []byte:
		sm.shaders[c.Name] = data
		for name, cfg := range sm.pipelineConfigs {
			if cfg.VertexShader == c.Name || cfg.PixelShader == c.Name {
				sm.invalidatePipeline(name)
			}
		}

	case *metadata.TextureHeader:
		if err := sm.textureSystem.Reload(c.Name, data); err != nil {
			core.LogError("reload of texture %q failed: %s", c.Name, err)
			return
		}
		sm.markMaterialsStale(func(_ string, cfg *metadata.MaterialConfig) bool {
			for _, m := range cfg.Maps {
				if m.Texture == c.Name {
					return true
				}
			}
			return false
		})

	default:
		core.LogWarn("no reload handler for %s %q (%T)", c.Type, c.Name, res.Data)
		return
	}
	core.LogInfo("reloaded %s %q", c.Type, c.Name)
}

func (sm *SystemManager) invalidatePipeline(name string) {
	delete(sm.namedPipelines, name)
	sm.markMaterialsStale(func(_ string, cfg *metadata.MaterialConfig) bool { return cfg.Pipeline == name })
}

func (sm *SystemManager) markMaterialsStale(match func(name string, cfg *metadata.MaterialConfig) bool) {
	for name, nm := range sm.namedMaterials {
		if cfg, ok := sm.materialConfigs[name]; ok && match(name, cfg) {
			nm.stale = true
		}
	}
}

func (sm *SystemManager) Shutdown() error {
	var errs []error
	// Pending reloads finish against live systems.
	if err := sm.jobSystem.Shutdown(); err != nil {
		errs = append(errs, err)
	}
	for name, nm := range sm.namedMaterials {
		for _, t := range nm.textures {
			sm.textureSystem.Release(t)
		}
		delete(sm.namedMaterials, name)
	}
	if err := sm.materialSystem.Shutdown(); err != nil {
		errs = append(errs, err)
	}
	if err := sm.pipelineSystem.Shutdown(); err != nil {
		errs = append(errs, err)
	}
	if err := sm.textureSystem.Shutdown(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
