package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-rhi/engine/core"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, BackendHeadless, cfg.Renderer.Backend)
	assert.Equal(t, uint64(256), cfg.Constants.Alignment)
	assert.Equal(t, OverrunPolicyOverwrite, cfg.Constants.OverrunPolicy)
	assert.Zero(t, cfg.Caches.MaterialCapacity)
	assert.Equal(t, time.Second, cfg.FenceTimeout())
}

func TestParseOverridesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
[log]
level = "debug"

[renderer]
frames_in_flight = 3
max_frames = 10

[descriptors.page_capacity]
shader_resource = 2

[descriptors.frame_reserved]
shader_resource = 4

[constants]
ring_size = 1024
overrun_policy = "wait"

[caches]
material_capacity = 8
`))
	require.NoError(t, err)

	assert.Equal(t, core.LogLevelDebug, cfg.LogLevel())
	assert.Equal(t, uint32(3), cfg.Renderer.FramesInFlight)
	assert.Equal(t, uint64(10), cfg.Renderer.MaxFrames)
	assert.Equal(t, [4]uint32{2, 256, 256, 256}, cfg.Descriptors.PageCapacity.Array())
	assert.Equal(t, uint32(4), cfg.Descriptors.FrameReserved.ShaderResource)
	assert.Equal(t, uint32(1024), cfg.Descriptors.FrameReserved.UnorderedAccess)
	assert.Equal(t, uint64(1024), cfg.Constants.RingSize)
	assert.Equal(t, OverrunPolicyWait, cfg.Constants.OverrunPolicy)
	assert.Equal(t, 8, cfg.Caches.MaterialCapacity)
}

func TestParseRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"unknown key":          "[renderer]\nwidth = 3\n",
		"zero frames":          "[renderer]\nframes_in_flight = 0\n",
		"too many frames":      "[renderer]\nframes_in_flight = 4\n",
		"unknown backend":      "[renderer]\nbackend = \"metal\"\n",
		"zero page capacity":   "[descriptors.page_capacity]\ndepth_stencil = 0\n",
		"alignment":            "[constants]\nalignment = 100\n",
		"ring below alignment": "[constants]\nring_size = 128\n",
		"policy":               "[constants]\noverrun_policy = \"block\"\n",
		"log level":            "[log]\nlevel = \"loud\"\n",
		"negative cache":       "[caches]\npipeline_capacity = -1\n",
		"not toml":             "renderer = [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.ErrorIs(t, err, core.ErrInvalidConfig)
		})
	}
}

func TestLoadAndMarshal(t *testing.T) {
	cfg := Default()
	cfg.Renderer.MaxFrames = 42
	data, err := cfg.Marshal()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "anima.toml")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)

	_, err = Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}
