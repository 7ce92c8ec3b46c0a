package systems

import (
	"fmt"

	"github.com/spaghettifunk/anima-rhi/engine/assets"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/resource"
)

type TextureSystemConfig struct {
	/** @brief The maximum number of textures that can be loaded at once. */
	MaxTextureCount uint32
}

type textureReference struct {
	texture        *resource.GPUResource
	referenceCount uint64
	autoRelease    bool
	/** @brief Incremented every time the texture is recreated. */
	generation uint32
}

/**
 * @brief Texture resources by name. Textures are created from the header of
 * their image asset and are reference counted.
 */
type TextureSystem struct {
	Config         *TextureSystemConfig
	defaultTexture *resource.GPUResource
	// Hashtable for texture lookups.
	registeredTextureTable map[string]*textureReference
	// sub systems
	assetManager *assets.AssetManager
	renderer     *renderer.Renderer
}

func NewTextureSystem(config *TextureSystemConfig, am *assets.AssetManager, r *renderer.Renderer) (*TextureSystem, error) {
	if config.MaxTextureCount == 0 {
		err := fmt.Errorf("func NewTextureSystem - config.MaxTextureCount must be > 0: %w", core.ErrInvalidConfig)
		core.LogError(err.Error())
		return nil, err
	}
	return &TextureSystem{
		Config:                 config,
		registeredTextureTable: make(map[string]*textureReference),
		assetManager:           am,
		renderer:               r,
	}, nil
}

// Initialize creates the default texture, used where a material has no map.
func (ts *TextureSystem) Initialize() error {
	header := &metadata.TextureHeader{
		Name:      metadata.DEFAULT_TEXTURE_NAME,
		Format:    metadata.FormatRGBA8Unorm,
		Width:     16,
		Height:    16,
		MipLevels: metadata.MipCount(16, 16),
	}
	t, err := ts.renderer.CreateResource(*header.Description(), metadata.ResourceStateShaderResource)
	if err != nil {
		return err
	}
	ts.defaultTexture = t
	return nil
}

func (ts *TextureSystem) Shutdown() error {
	for name, ref := range ts.registeredTextureTable {
		if err := ts.renderer.DestroyResource(ref.texture); err != nil {
			core.LogError("texture '%s': %s", name, err)
		}
		delete(ts.registeredTextureTable, name)
	}
	if ts.defaultTexture != nil {
		if err := ts.renderer.DestroyResource(ts.defaultTexture); err != nil {
			return err
		}
		ts.defaultTexture = nil
	}
	return nil
}

func (ts *TextureSystem) GetDefaultTexture() *resource.GPUResource {
	return ts.defaultTexture
}

// Aquire returns the named texture, creating it from its image asset on the
// first call. Every call must be paired with a Release.
func (ts *TextureSystem) Aquire(name string, autoRelease bool) (*resource.GPUResource, error) {
	if name == metadata.DEFAULT_TEXTURE_NAME {
		core.LogWarn("func texture system Acquire called for default texture. Use GetDefaultTexture for texture 'default'")
		return ts.defaultTexture, nil
	}
	if ref, ok := ts.registeredTextureTable[name]; ok {
		ref.referenceCount++
		return ref.texture, nil
	}
	if uint32(len(ts.registeredTextureTable)) >= ts.Config.MaxTextureCount {
		err := fmt.Errorf("texture system cannot hold more than %d textures, adjust the configuration", ts.Config.MaxTextureCount)
		core.LogError(err.Error())
		return nil, err
	}
	header, err := ts.loadHeader(name)
	if err != nil {
		core.LogError("failed to load texture '%s': %s", name, err)
		return nil, err
	}
	t, err := ts.renderer.CreateResource(*header.Description(), metadata.ResourceStateCopyDestination)
	if err != nil {
		return nil, err
	}
	ts.registeredTextureTable[name] = &textureReference{
		texture:        t,
		referenceCount: 1,
		autoRelease:    autoRelease,
	}
	core.LogDebug("texture '%s' created (%dx%d %s)", name, header.Width, header.Height, header.Format)
	return t, nil
}

// AquireWriteable registers a texture that has no image asset, e.g. a render
// target. Writeable textures are never auto released.
func (ts *TextureSystem) AquireWriteable(name string, width, height uint32, format metadata.Format) (*resource.GPUResource, error) {
	if ref, ok := ts.registeredTextureTable[name]; ok {
		ref.referenceCount++
		return ref.texture, nil
	}
	header := &metadata.TextureHeader{
		Name:      name,
		Format:    format,
		Width:     width,
		Height:    height,
		MipLevels: 1,
	}
	initial := metadata.ResourceStateRenderTarget
	if format.IsDepth() {
		initial = metadata.ResourceStateDepthWrite
	}
	t, err := ts.renderer.CreateResource(*header.Description(), initial)
	if err != nil {
		return nil, err
	}
	ts.registeredTextureTable[name] = &textureReference{texture: t, referenceCount: 1}
	return t, nil
}

func (ts *TextureSystem) Release(name string) {
	// Ignore release requests for the default texture.
	if name == metadata.DEFAULT_TEXTURE_NAME {
		return
	}
	ref, ok := ts.registeredTextureTable[name]
	if !ok || ref.referenceCount == 0 {
		core.LogWarn("tried to release non-existent texture: '%s'", name)
		return
	}
	ref.referenceCount--
	if ref.referenceCount == 0 && ref.autoRelease {
		if err := ts.renderer.DestroyResource(ref.texture); err != nil {
			core.LogError("texture '%s': %s", name, err)
		}
		delete(ts.registeredTextureTable, name)
		core.LogDebug("released texture '%s', unloaded because reference count=0 and autoRelease=true", name)
	}
}

// Reload recreates the named texture from its current image header. Materials
// built on the old texture are rebuilt on their next resolve.
func (ts *TextureSystem) Reload(name string, header *metadata.TextureHeader) error {
	ref, ok := ts.registeredTextureTable[name]
	if !ok {
		return nil
	}
	t, err := ts.renderer.CreateResource(*header.Description(), metadata.ResourceStateCopyDestination)
	if err != nil {
		return err
	}
	old := ref.texture
	ref.texture = t
	ref.generation++
	core.LogInfo("texture '%s' reloaded (generation %d)", name, ref.generation)
	return ts.renderer.DestroyResource(old)
}

func (ts *TextureSystem) Get(name string) (*resource.GPUResource, bool) {
	ref, ok := ts.registeredTextureTable[name]
	if !ok {
		return nil, false
	}
	return ref.texture, true
}

func (ts *TextureSystem) ReferenceCount(name string) uint64 {
	if ref, ok := ts.registeredTextureTable[name]; ok {
		return ref.referenceCount
	}
	return 0
}

func (ts *TextureSystem) loadHeader(name string) (*metadata.TextureHeader, error) {
	if ts.assetManager == nil {
		return nil, fmt.Errorf("%w: image %q (no asset manager)", core.ErrAssetNotFound, name)
	}
	res, err := ts.assetManager.LoadAsset(name, metadata.ResourceTypeImage, nil)
	if err != nil {
		return nil, err
	}
	defer ts.assetManager.UnloadAsset(res)
	header, ok := res.Data.(*metadata.TextureHeader)
	if !ok {
		return nil, fmt.Errorf("%w: image %q loaded as %T", core.ErrInvalidAsset, name, res.Data)
	}
	return header, nil
}
