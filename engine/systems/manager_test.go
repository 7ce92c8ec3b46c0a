package systems

import (
	"bytes"
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-rhi/engine/assets"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

var spirvHeader = []byte{0x03, 0x02, 0x23, 0x07}

func writeAsset(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, data, 0o644))
	return p
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

func seedAssets(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeAsset(t, dir, "materials/brick.material.toml", []byte(`
name = "brick"
pipeline = "lit"
shininess = 4.0
[[maps]]
texture = "brick"
use = "diffuse"
`))
	writeAsset(t, dir, "materials/stone.material.toml", []byte(`
name = "stone"
pipeline = "lit"
[[maps]]
texture = "brick"
use = "diffuse"
[[maps]]
texture = "stone_norm"
use = "normal"
`))
	writeAsset(t, dir, "materials/lit.pipeline.toml", []byte(`
name = "lit"
vertex_shader = "lit.vert"
pixel_shader = "lit.frag"
`))
	writeAsset(t, dir, "shaders/lit.vert.spv", spirvHeader)
	writeAsset(t, dir, "shaders/lit.frag.spv", spirvHeader)
	writeAsset(t, dir, "textures/brick.png", pngBytes(t, 8, 8))
	writeAsset(t, dir, "textures/stone_norm.png", pngBytes(t, 4, 4))
	return dir
}

func newAssetManager(t *testing.T, dir string) *assets.AssetManager {
	t.Helper()
	am, err := assets.NewAssetManager(dir, false)
	require.NoError(t, err)
	require.NoError(t, am.Initialize())
	t.Cleanup(func() { am.Shutdown() })
	return am
}

func newManager(t *testing.T, dir string, bus *core.EventBus) *SystemManager {
	t.Helper()
	r, _ := newRenderer(t)
	sm, err := NewSystemManager(testConfig(), r, newAssetManager(t, dir), bus)
	require.NoError(t, err)
	require.NoError(t, sm.Initialize())
	return sm
}

// drainJobs runs Update until every queued reload has been applied.
func drainJobs(t *testing.T, sm *SystemManager) {
	t.Helper()
	require.Eventually(t, func() bool {
		sm.Update()
		return sm.JobSystem().Pending() == 0
	}, 5*time.Second, 5*time.Millisecond)
}

// --- TextureSystem ---

func TestTextureReferenceCounting(t *testing.T) {
	r, _ := newRenderer(t)
	ts, err := NewTextureSystem(&TextureSystemConfig{MaxTextureCount: 8}, newAssetManager(t, seedAssets(t)), r)
	require.NoError(t, err)
	require.NoError(t, ts.Initialize())

	a, err := ts.Aquire("brick", true)
	require.NoError(t, err)
	b, err := ts.Aquire("brick", true)
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, uint64(2), ts.ReferenceCount("brick"))
	assert.Equal(t, uint32(8), a.Description.Width)
	assert.Equal(t, uint32(4), a.Description.MipLevels)
	assert.Equal(t, metadata.ResourceStateCopyDestination, a.CurrentState())

	ts.Release("brick")
	assert.False(t, a.IsDestroyed())
	ts.Release("brick")
	assert.True(t, a.IsDestroyed())
	_, ok := ts.Get("brick")
	assert.False(t, ok)

	def, err := ts.Aquire(metadata.DEFAULT_TEXTURE_NAME, true)
	require.NoError(t, err)
	assert.Same(t, ts.GetDefaultTexture(), def)

	_, err = ts.Aquire("missing", true)
	assert.ErrorIs(t, err, core.ErrAssetNotFound)
	require.NoError(t, ts.Shutdown())
	assert.True(t, def.IsDestroyed())
}

func TestTextureWriteableAndLimits(t *testing.T) {
	r, _ := newRenderer(t)
	ts, err := NewTextureSystem(&TextureSystemConfig{MaxTextureCount: 1}, nil, r)
	require.NoError(t, err)

	depth, err := ts.AquireWriteable("shadow", 512, 512, metadata.FormatD32Float)
	require.NoError(t, err)
	assert.Equal(t, metadata.ResourceStateDepthWrite, depth.CurrentState())

	// Writeable textures survive their last release.
	ts.Release("shadow")
	assert.False(t, depth.IsDestroyed())

	_, err = ts.Aquire("brick", true)
	assert.Error(t, err)

	_, err = NewTextureSystem(&TextureSystemConfig{}, nil, r)
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
}

func TestTextureReload(t *testing.T) {
	r, _ := newRenderer(t)
	ts, err := NewTextureSystem(&TextureSystemConfig{MaxTextureCount: 8}, newAssetManager(t, seedAssets(t)), r)
	require.NoError(t, err)

	old, err := ts.Aquire("brick", true)
	require.NoError(t, err)
	require.NoError(t, ts.Reload("brick", &metadata.TextureHeader{Name: "brick", Format: metadata.FormatRGBA8Unorm, Width: 32, Height: 32, MipLevels: 6}))

	cur, ok := ts.Get("brick")
	require.True(t, ok)
	assert.NotSame(t, old, cur)
	assert.True(t, old.IsDestroyed())
	assert.Equal(t, uint32(32), cur.Description.Width)
	assert.Equal(t, uint64(1), ts.ReferenceCount("brick"))

	// Unknown names are ignored.
	assert.NoError(t, ts.Reload("nope", &metadata.TextureHeader{Name: "nope", Width: 1, Height: 1}))
}

// --- JobSystem ---

func TestJobCallbacksRunOnUpdate(t *testing.T) {
	js, err := NewJobSystem(2, 4)
	require.NoError(t, err)

	var results []interface{}
	var failures []error
	require.NoError(t, js.Submit(metadata.JobTask{
		InputParams: 21,
		OnStart:     func(p interface{}) (interface{}, error) { return p.(int) * 2, nil },
		OnComplete:  func(r interface{}) { results = append(results, r) },
	}))
	require.NoError(t, js.Submit(metadata.JobTask{
		OnStart:   func(interface{}) (interface{}, error) { return nil, errors.New("disk on fire") },
		OnFailure: func(err error) { failures = append(failures, err) },
	}))

	require.Eventually(t, func() bool {
		js.Update()
		return js.Pending() == 0
	}, 5*time.Second, 5*time.Millisecond)

	assert.Equal(t, []interface{}{42}, results)
	require.Len(t, failures, 1)
	assert.EqualError(t, failures[0], "disk on fire")

	require.NoError(t, js.Shutdown())
	assert.ErrorIs(t, js.Shutdown(), ErrJobSystemClosed)
	assert.ErrorIs(t, js.Submit(metadata.JobTask{OnStart: func(interface{}) (interface{}, error) { return nil, nil }}), ErrJobSystemClosed)
}

func TestJobShutdownDispatchesQueuedWork(t *testing.T) {
	js, err := NewJobSystem(1, 8)
	require.NoError(t, err)
	done := 0
	for i := 0; i < 5; i++ {
		require.NoError(t, js.Submit(metadata.JobTask{
			OnStart:    func(interface{}) (interface{}, error) { return nil, nil },
			OnComplete: func(interface{}) { done++ },
		}))
	}
	require.NoError(t, js.Shutdown())
	assert.Equal(t, 5, done)
}

func TestJobSystemArguments(t *testing.T) {
	_, err := NewJobSystem(0, 1)
	assert.ErrorIs(t, err, ErrNoWorkers)
	_, err = NewJobSystem(1, -1)
	assert.ErrorIs(t, err, ErrNegativeChannelSize)

	js, err := NewJobSystem(1, 0)
	require.NoError(t, err)
	assert.Error(t, js.Submit(metadata.JobTask{}))
	require.NoError(t, js.Shutdown())
}

// --- SystemManager ---

func TestAcquireMaterialByName(t *testing.T) {
	sm := newManager(t, seedAssets(t), nil)

	m, err := sm.AcquireMaterial("brick")
	require.NoError(t, err)
	again, err := sm.AcquireMaterial("brick")
	require.NoError(t, err)
	assert.Same(t, m, again)

	p, err := sm.AcquirePipeline("lit")
	require.NoError(t, err)
	assert.Same(t, p, m.Pipeline)
	assert.Equal(t, "lit.vert", p.Description.VertexShader.Name)

	stone, err := sm.AcquireMaterial("stone")
	require.NoError(t, err)
	assert.Same(t, m.Textures[0].Texture, stone.Textures[0].Texture)
	assert.Equal(t, uint64(2), sm.TextureSystem().ReferenceCount("brick"))

	// The same description resolved directly hits the cache.
	direct, err := sm.ResolveMaterial(&MaterialDescription{
		Pipeline:      p,
		DiffuseColour: m.DiffuseColour,
		Shininess:     m.Shininess,
		Textures:      m.Textures,
	})
	require.NoError(t, err)
	assert.Same(t, m, direct)

	_, err = sm.AcquireMaterial("missing")
	assert.ErrorIs(t, err, core.ErrAssetNotFound)

	require.NoError(t, sm.Shutdown())
	assert.True(t, m.Textures[0].Texture.IsDestroyed())
	assert.True(t, m.IsReleased())
	assert.True(t, p.IsReleased())
}

func TestMaterialWithMissingTextureReleasesTheOthers(t *testing.T) {
	dir := seedAssets(t)
	writeAsset(t, dir, "materials/broken.material.toml", []byte(`
name = "broken"
pipeline = "lit"
[[maps]]
texture = "brick"
[[maps]]
texture = "nowhere"
`))
	sm := newManager(t, dir, nil)

	_, err := sm.AcquireMaterial("broken")
	assert.ErrorIs(t, err, core.ErrAssetNotFound)
	assert.Zero(t, sm.TextureSystem().ReferenceCount("brick"))
}

func TestPipelineReloadRebuildsMaterials(t *testing.T) {
	dir := seedAssets(t)
	bus := core.NewEventBus()
	var changed []string
	bus.Register(core.EVENT_CODE_ASSET_CHANGED, t, func(code core.SystemEventCode, sender, listener interface{}, data core.EventContext) bool {
		changed = append(changed, data.Name)
		return true
	})
	sm := newManager(t, dir, bus)

	m, err := sm.AcquireMaterial("brick")
	require.NoError(t, err)
	tex := m.Textures[0].Texture

	path := writeAsset(t, dir, "materials/lit.pipeline.toml", []byte(`
name = "lit"
vertex_shader = "lit.vert"
pixel_shader = "lit.frag"
depth_format = "d24_unorm_s8_uint"
`))
	sm.handleAssetChange(assets.AssetChange{Name: "lit", Path: path, Type: metadata.ResourceTypePipeline})
	drainJobs(t, sm)
	assert.Equal(t, []string{path}, changed)

	m2, err := sm.AcquireMaterial("brick")
	require.NoError(t, err)
	assert.NotSame(t, m, m2)
	assert.Equal(t, metadata.FormatD24UnormS8Uint, m2.Pipeline.Description.DepthFormat)
	// The texture was held across the rebuild.
	assert.Same(t, tex, m2.Textures[0].Texture)
	assert.False(t, tex.IsDestroyed())
	assert.Equal(t, uint64(1), sm.TextureSystem().ReferenceCount("brick"))
}

func TestUnchangedShaderReloadKeepsThePipeline(t *testing.T) {
	dir := seedAssets(t)
	sm := newManager(t, dir, nil)

	m, err := sm.AcquireMaterial("brick")
	require.NoError(t, err)
	path := filepath.Join(dir, "shaders", "lit.vert.spv")
	sm.handleAssetChange(assets.AssetChange{Name: "lit.vert", Path: path, Type: metadata.ResourceTypeShader})
	drainJobs(t, sm)

	again, err := sm.AcquireMaterial("brick")
	require.NoError(t, err)
	assert.Same(t, m, again, "same content resolves to the same objects")
	assert.Equal(t, uint64(1), sm.PipelineStateSystem().Stats().Misses)
}

func TestFailedReloadKeepsTheLoadedVersion(t *testing.T) {
	dir := seedAssets(t)
	sm := newManager(t, dir, nil)

	m, err := sm.AcquireMaterial("brick")
	require.NoError(t, err)
	path := writeAsset(t, dir, "materials/brick.material.toml", []byte("name = \"brick\"\n"))
	sm.handleAssetChange(assets.AssetChange{Name: "brick", Path: path, Type: metadata.ResourceTypeMaterial})
	drainJobs(t, sm)

	again, err := sm.AcquireMaterial("brick")
	require.NoError(t, err)
	assert.Same(t, m, again)

	sm.handleAssetChange(assets.AssetChange{Name: "brick", Path: path, Type: metadata.ResourceTypeMaterial, Removed: true})
	assert.Zero(t, sm.JobSystem().Pending())
}

func TestTextureReloadRebuildsMaterials(t *testing.T) {
	dir := seedAssets(t)
	sm := newManager(t, dir, nil)

	m, err := sm.AcquireMaterial("brick")
	require.NoError(t, err)
	path := writeAsset(t, dir, "textures/brick.png", pngBytes(t, 16, 16))
	sm.handleAssetChange(assets.AssetChange{Name: "brick", Path: path, Type: metadata.ResourceTypeImage})
	drainJobs(t, sm)

	m2, err := sm.AcquireMaterial("brick")
	require.NoError(t, err)
	assert.NotSame(t, m, m2)
	assert.Equal(t, uint32(16), m2.Textures[0].Texture.Description.Width)
	assert.True(t, m.Textures[0].Texture.IsDestroyed())
}
