package testbed

import (
	"errors"
	"fmt"

	"github.com/spaghettifunk/anima-rhi/engine"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/resource"
	"github.com/spaghettifunk/anima-rhi/engine/systems"
)

const (
	targetName   = "testbed_target"
	targetWidth  = 1280
	targetHeight = 720
)

// Materials drawn every frame, by asset name.
var sceneMaterials = []string{"brick", "stone"}

// Shininess values the fallback material cycles through, one per second.
var shininessSteps = []float32{8, 16, 32, 64}

type TestGame struct {
	*engine.Game
}

type gameState struct {
	target    *resource.GPUResource
	materials map[string]*systems.Material
	// Used when the materials cannot be loaded from assets.
	fallbackPipeline *systems.PipelineState
	fallback         *systems.Material

	elapsed float64
	step    int
	draws   uint64
}

func NewTestGame(configPath string) *TestGame {
	tg := &TestGame{
		Game: &engine.Game{
			ApplicationConfig: &engine.ApplicationConfig{
				Name:       "Anima RHI Testbed",
				ConfigPath: configPath,
			},
			State: &gameState{
				materials: make(map[string]*systems.Material, len(sceneMaterials)),
			},
		},
	}

	tg.FnInitialize = tg.Initialize
	tg.FnUpdate = tg.Update
	tg.FnRender = tg.Render
	tg.FnShutdown = tg.Shutdown

	return tg
}

func (g *TestGame) Initialize() error {
	core.LogDebug("TestGame Initialize fn....")

	if g.SystemManager == nil {
		return fmt.Errorf("the engine is not yet initialized with all the system managers")
	}
	state := g.State.(*gameState)

	t, err := g.SystemManager.TextureSystem().AquireWriteable(targetName, targetWidth, targetHeight, metadata.FormatRGBA8Unorm)
	if err != nil {
		return err
	}
	state.target = t

	for _, name := range sceneMaterials {
		m, err := g.SystemManager.AcquireMaterial(name)
		if errors.Is(err, core.ErrAssetNotFound) {
			core.LogWarn("material '%s' has no asset, drawing the fallback material instead", name)
			continue
		}
		if err != nil {
			return err
		}
		state.materials[name] = m
	}
	if len(state.materials) == 0 {
		if err := g.buildFallback(state); err != nil {
			return err
		}
	}

	g.EventBus.Register(core.EVENT_CODE_ASSET_CHANGED, g, g.gameOnEvent)
	return nil
}

// buildFallback creates a pipeline and material from code, with the default
// texture as the only map.
func (g *TestGame) buildFallback(state *gameState) error {
	// SPIR-V header only, enough for devices that do not compile shaders.
	code := []byte{0x03, 0x02, 0x23, 0x07, 0x00, 0x00, 0x01, 0x00}
	desc := &metadata.PipelineStateDescription{
		Name:                "testbed_fallback",
		VertexShader:        metadata.ShaderBytecode{Name: "fallback.vs", Stage: metadata.ShaderStageVertex, EntryPoint: "main", Code: code},
		PixelShader:         metadata.ShaderBytecode{Name: "fallback.ps", Stage: metadata.ShaderStagePixel, EntryPoint: "main", Code: code},
		Rasterizer:          metadata.RasterizerState{CullMode: metadata.FaceCullModeBack},
		DepthStencil:        metadata.DepthStencilState{DepthTest: true, DepthWrite: true, Compare: metadata.CompareFuncLess},
		Topology:            metadata.PrimitiveTopologyTriangleList,
		RenderTargetFormats: []metadata.Format{metadata.FormatRGBA8Unorm},
		VertexStride:        32,
		Attributes: []metadata.VertexAttribute{
			{Semantic: "POSITION", Format: metadata.FormatRGBA32Float, Offset: 0},
			{Semantic: "TEXCOORD", Format: metadata.FormatRGBA32Float, Offset: 16},
		},
	}
	p, err := g.SystemManager.ResolvePipelineState(desc)
	if err != nil {
		return err
	}
	state.fallbackPipeline = p
	return g.resolveFallback(state)
}

func (g *TestGame) resolveFallback(state *gameState) error {
	m, err := g.SystemManager.ResolveMaterial(&systems.MaterialDescription{
		Name:          "testbed_fallback",
		Pipeline:      state.fallbackPipeline,
		DiffuseColour: [4]float32{0.8, 0.4, 0.2, 1},
		Shininess:     shininessSteps[state.step],
		Textures: []systems.TextureBinding{{
			Texture: g.SystemManager.TextureSystem().GetDefaultTexture(),
			Use:     metadata.TextureUseMapDiffuse,
		}},
	})
	if err != nil {
		return err
	}
	state.fallback = m
	return nil
}

func (g *TestGame) Update(deltaTime float64) error {
	state := g.State.(*gameState)
	state.elapsed += deltaTime

	// Reloaded assets leave the held materials stale. Acquiring again
	// returns the rebuilt ones.
	for name, m := range state.materials {
		if m.IsLive() {
			continue
		}
		rebuilt, err := g.SystemManager.AcquireMaterial(name)
		if err != nil {
			core.LogError("material '%s' could not be rebuilt: %s", name, err)
			delete(state.materials, name)
			continue
		}
		state.materials[name] = rebuilt
	}

	if state.fallbackPipeline != nil && state.elapsed >= 1 {
		state.elapsed = 0
		state.step = (state.step + 1) % len(shininessSteps)
		// After the first cycle every step is a cache hit.
		return g.resolveFallback(state)
	}
	return nil
}

func (g *TestGame) Render(deltaTime float64) error {
	state := g.State.(*gameState)
	r := g.Renderer

	if _, _, err := r.Transition(state.target, metadata.ResourceStateRenderTarget); err != nil {
		return err
	}
	if _, err := r.ResourceDescriptor(state.target, metadata.DescriptorCategoryRenderTarget); err != nil {
		return err
	}

	for _, m := range state.materials {
		if err := g.drawMaterial(m); err != nil {
			return err
		}
	}
	if state.fallback != nil {
		if err := g.drawMaterial(state.fallback); err != nil {
			return err
		}
	}

	// The target is read back by the next pass.
	if _, _, err := r.Transition(state.target, metadata.ResourceStateShaderResource); err != nil {
		return err
	}
	srv, err := r.ResourceDescriptor(state.target, metadata.DescriptorCategoryShaderResource)
	if err != nil {
		return err
	}
	if _, _, err := r.CopyIntoFrameHeap(metadata.DescriptorCategoryShaderResource, srv); err != nil {
		return err
	}
	r.Tracker().FlushBarriers(r.Device())
	return nil
}

func (g *TestGame) drawMaterial(m *systems.Material) error {
	r := g.Renderer
	for _, t := range m.Textures {
		if _, _, err := r.Transition(t.Texture, metadata.ResourceStateShaderResource); err != nil {
			return err
		}
	}
	table, err := m.CopyDescriptorsIfNeeded(r.FrameHeap())
	if err != nil {
		return fmt.Errorf("material '%s': %w", m.Name, err)
	}
	address, err := r.WriteConstants(m.Constants())
	if err != nil {
		return fmt.Errorf("material '%s': %w", m.Name, err)
	}
	g.State.(*gameState).draws++
	core.LogDebug("draw '%s' with pipeline %d, table %d, constants 0x%x", m.Name, m.Pipeline.ID, table.Index, address)
	return nil
}

func (g *TestGame) Shutdown() error {
	state := g.State.(*gameState)
	core.LogInfo("testbed recorded %d draws", state.draws)

	g.EventBus.Unregister(core.EVENT_CODE_ASSET_CHANGED, g)
	if state.target != nil {
		g.SystemManager.TextureSystem().Release(targetName)
		state.target = nil
	}
	return nil
}

func (g *TestGame) gameOnEvent(code core.SystemEventCode, sender interface{}, listenerInst interface{}, data core.EventContext) bool {
	if code == core.EVENT_CODE_ASSET_CHANGED {
		core.LogInfo("asset '%s' changed, affected materials are rebuilt on the next update", data.Name)
	}
	return false
}
