package engine

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-rhi/engine/config"
	"github.com/spaghettifunk/anima-rhi/engine/core"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Log.Level = string(core.LogLevelWarn)
	cfg.Assets.Dir = t.TempDir()
	return cfg
}

func newEngine(t *testing.T, g *Game) *Engine {
	t.Helper()
	e, err := New(g)
	require.NoError(t, err)
	require.NoError(t, e.Initialize())
	t.Cleanup(func() { _ = e.Shutdown() })
	return e
}

func TestRunStopsAfterMaxFrames(t *testing.T) {
	cfg := testConfig(t)
	cfg.Renderer.MaxFrames = 3

	var updates, renders int
	g := &Game{ApplicationConfig: &ApplicationConfig{Name: "test", Config: cfg}}
	g.FnUpdate = func(float64) error {
		updates++
		return nil
	}
	g.FnRender = func(float64) error {
		renders++
		// Recording is open between BeginFrame and EndFrame.
		_, err := g.Renderer.WriteConstants([]byte{1, 2, 3, 4})
		return err
	}

	e := newEngine(t, g)
	require.NotNil(t, g.SystemManager)
	require.NoError(t, e.Run())

	assert.Equal(t, 3, updates)
	assert.Equal(t, 3, renders)
	assert.Equal(t, uint64(3), g.Renderer.FrameNumber())
	assert.Equal(t, uint64(3), e.FrameMetrics().TotalFrames())
	assert.False(t, g.Renderer.IsRecording())
}

func TestQuitEventStopsTheLoop(t *testing.T) {
	cfg := testConfig(t)
	cfg.Renderer.MaxFrames = 100

	var frames int
	g := &Game{ApplicationConfig: &ApplicationConfig{Name: "test", Config: cfg}}
	g.FnUpdate = func(float64) error {
		frames++
		if frames == 2 {
			g.EventBus.Fire(core.EVENT_CODE_APPLICATION_QUIT, g, core.EventContext{})
		}
		return nil
	}

	e := newEngine(t, g)
	require.NoError(t, e.Run())
	assert.Equal(t, 2, frames)
	assert.Equal(t, uint64(2), g.Renderer.FrameNumber())
}

func TestInitializeInitializesTheGame(t *testing.T) {
	initialized := false
	shutdown := false
	g := &Game{ApplicationConfig: &ApplicationConfig{Name: "test", Config: testConfig(t)}}
	g.FnInitialize = func() error {
		initialized = true
		assert.NotNil(t, g.Renderer)
		assert.NotNil(t, g.SystemManager.TextureSystem().GetDefaultTexture())
		return nil
	}
	g.FnShutdown = func() error {
		shutdown = true
		return nil
	}

	e, err := New(g)
	require.NoError(t, err)
	require.NoError(t, e.Initialize())
	assert.True(t, initialized)
	assert.Error(t, e.Initialize())

	require.NoError(t, e.Shutdown())
	assert.True(t, shutdown)
}

func TestMissingAssetDirectory(t *testing.T) {
	cfg := testConfig(t)
	cfg.Assets.Dir = filepath.Join(t.TempDir(), "missing")
	cfg.Renderer.MaxFrames = 1

	g := &Game{ApplicationConfig: &ApplicationConfig{Name: "test", Config: cfg}}
	e := newEngine(t, g)
	require.NoError(t, e.Run())

	_, err := g.SystemManager.AcquireMaterial("brick")
	assert.ErrorIs(t, err, core.ErrAssetNotFound)
}

func TestInvalidConfigIsRejected(t *testing.T) {
	cfg := testConfig(t)
	cfg.Renderer.FramesInFlight = 0
	_, err := New(&Game{ApplicationConfig: &ApplicationConfig{Name: "test", Config: cfg}})
	assert.ErrorIs(t, err, core.ErrInvalidConfig)

	_, err = New(&Game{})
	assert.Error(t, err)
}

func TestRunNeedsInitialize(t *testing.T) {
	e, err := New(&Game{ApplicationConfig: &ApplicationConfig{Name: "test", Config: testConfig(t)}})
	require.NoError(t, err)
	assert.Error(t, e.Run())
}
