package assets

import (
	"bytes"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const materialSrc = `
name = "brick"
pipeline = "lit"
[[maps]]
texture = "brick"
use = "diffuse"
`

const pipelineSrc = `
name = "lit"
vertex_shader = "lit.vert"
pixel_shader = "lit.frag"
`

func seedAssets(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "materials"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "shaders"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "textures"), 0o755))

	var img bytes.Buffer
	require.NoError(t, png.Encode(&img, image.NewRGBA(image.Rect(0, 0, 8, 8))))

	files := map[string][]byte{
		"materials/brick.material.toml": []byte(materialSrc),
		"materials/lit.pipeline.toml":   []byte(pipelineSrc),
		"shaders/lit.vert.spv":          {0x03, 0x02, 0x23, 0x07},
		"shaders/lit.frag.spv":          {0x03, 0x02, 0x23, 0x07},
		"textures/brick.png":            img.Bytes(),
		"README.md":                     []byte("ignored"),
	}
	for name, data := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o644))
	}
	return dir
}

func TestDetermineAssetType(t *testing.T) {
	cases := []struct {
		path string
		t    metadata.ResourceType
		name string
		ok   bool
	}{
		{"a/brick.material.toml", metadata.ResourceTypeMaterial, "brick", true},
		{"a/Lit.Pipeline.TOML", metadata.ResourceTypePipeline, "Lit", true},
		{"basic.vert.spv", metadata.ResourceTypeShader, "basic.vert", true},
		{"x/wall.JPG", metadata.ResourceTypeImage, "wall", true},
		{"x/wall.webp", metadata.ResourceTypeImage, "wall", true},
		{"config.toml", 0, "", false},
		{"notes.txt", 0, "", false},
	}
	for _, c := range cases {
		typ, name, ok := determineAssetType(c.path)
		assert.Equal(t, c.ok, ok, c.path)
		if c.ok {
			assert.Equal(t, c.t, typ, c.path)
			assert.Equal(t, c.name, name, c.path)
		}
	}
}

func TestIndexAndLoad(t *testing.T) {
	am, err := NewAssetManager(seedAssets(t), false)
	require.NoError(t, err)
	require.NoError(t, am.Initialize())
	defer am.Shutdown()

	assert.Equal(t, 5, am.Len())
	shaders := am.Assets(metadata.ResourceTypeShader)
	require.Len(t, shaders, 2)
	assert.Equal(t, "lit.frag", shaders[0].Name)
	assert.Equal(t, "lit.vert", shaders[1].Name)

	res, err := am.LoadAsset("brick", metadata.ResourceTypeMaterial, nil)
	require.NoError(t, err)
	mat := res.Data.(*metadata.MaterialConfig)
	assert.Equal(t, "lit", mat.Pipeline)

	res, err = am.LoadAsset("lit", metadata.ResourceTypePipeline, nil)
	require.NoError(t, err)
	assert.Equal(t, "lit.frag", res.Data.(*metadata.PipelineConfig).PixelShader)

	res, err = am.LoadAsset("brick", metadata.ResourceTypeImage, nil)
	require.NoError(t, err)
	assert.Equal(t, uint32(8), res.Data.(*metadata.TextureHeader).Width)
	assert.NoError(t, am.UnloadAsset(res))

	_, err = am.LoadAsset("nope", metadata.ResourceTypeMaterial, nil)
	assert.ErrorIs(t, err, core.ErrAssetNotFound)
}

func TestLoadWithoutLoader(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "x.spv"), []byte{0x03, 0x02, 0x23, 0x07}, 0o644))
	am, err := NewAssetManager(dir, false)
	require.NoError(t, err)
	require.NoError(t, am.watchRecursive(dir))

	_, err = am.LoadAsset("x", metadata.ResourceTypeShader, nil)
	assert.ErrorIs(t, err, core.ErrNoLoader)
}

func TestNewAssetManagerNeedsDirectory(t *testing.T) {
	_, err := NewAssetManager(filepath.Join(t.TempDir(), "missing"), false)
	assert.Error(t, err)

	f := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(f, nil, 0o644))
	_, err = NewAssetManager(f, false)
	assert.Error(t, err)
}

func TestShutdownTwice(t *testing.T) {
	am, err := NewAssetManager(t.TempDir(), false)
	require.NoError(t, err)
	require.NoError(t, am.Initialize())
	require.NoError(t, am.Shutdown())
	assert.Error(t, am.Shutdown())
}

func TestDrainChangesCoalesces(t *testing.T) {
	am, err := NewAssetManager(t.TempDir(), false)
	require.NoError(t, err)

	am.notify(AssetChange{Name: "a", Type: metadata.ResourceTypeMaterial})
	am.notify(AssetChange{Name: "b", Type: metadata.ResourceTypeMaterial})
	am.notify(AssetChange{Name: "a", Type: metadata.ResourceTypeMaterial, Removed: true})
	am.notify(AssetChange{Name: "a", Type: metadata.ResourceTypeShader})

	changes := am.DrainChanges()
	require.Len(t, changes, 3)
	assert.Equal(t, "a", changes[0].Name)
	assert.True(t, changes[0].Removed)
	assert.Equal(t, "b", changes[1].Name)
	assert.Equal(t, metadata.ResourceTypeShader, changes[2].Type)
	assert.Empty(t, am.DrainChanges())
}

func TestWatchReportsChanges(t *testing.T) {
	dir := seedAssets(t)
	am, err := NewAssetManager(dir, true)
	require.NoError(t, err)
	require.NoError(t, am.Initialize())
	defer am.Shutdown()

	path := filepath.Join(dir, "materials", "stone.material.toml")
	require.NoError(t, os.WriteFile(path, []byte("name = \"stone\"\npipeline = \"lit\"\n"), 0o644))

	var seen []AssetChange
	require.Eventually(t, func() bool {
		seen = append(seen, am.DrainChanges()...)
		for _, c := range seen {
			if c.Name == "stone" && !c.Removed {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)

	_, ok := am.Lookup("stone", metadata.ResourceTypeMaterial)
	assert.True(t, ok)

	require.NoError(t, os.Remove(path))
	require.Eventually(t, func() bool {
		_, ok := am.Lookup("stone", metadata.ResourceTypeMaterial)
		return !ok
	}, 5*time.Second, 10*time.Millisecond)
}
