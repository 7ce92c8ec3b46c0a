package engine

import (
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/spaghettifunk/anima-rhi/engine/assets"
	"github.com/spaghettifunk/anima-rhi/engine/config"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-rhi/engine/systems"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently booting up
	EngineStageBooting
	// Engine completed boot process and is ready to be initialized
	EngineStageBootComplete
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
)

const statsInterval = 5 * time.Second

type Engine struct {
	currentStage  Stage
	gameInstance  *Game
	config        *config.Config
	bus           *core.EventBus
	device        metadata.Device
	renderer      *renderer.Renderer
	assetManager  *assets.AssetManager
	systemManager *systems.SystemManager
	clock         *core.Clock
	metrics       *core.FrameMetrics
	lastTime      time.Duration
	lastStats     time.Duration

	isRunning atomic.Bool
}

func New(g *Game) (*Engine, error) {
	if g == nil || g.ApplicationConfig == nil {
		return nil, fmt.Errorf("engine needs a game with an application config")
	}
	e := &Engine{
		currentStage: EngineStageBooting,
		gameInstance: g,
		bus:          core.NewEventBus(),
		clock:        core.NewClock(),
		metrics:      core.NewFrameMetrics(),
	}
	cfg, err := g.ApplicationConfig.load()
	if err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	e.config = cfg
	core.LogSetLevel(cfg.LogLevel())

	e.currentStage = EngineStageBootComplete
	return e, nil
}

// Initialize brings up the device, the renderer, the asset manager and the
// systems, in this order, and then initializes the game.
func (e *Engine) Initialize() error {
	if e.currentStage != EngineStageBootComplete {
		return fmt.Errorf("engine cannot be initialized in stage %d", e.currentStage)
	}
	e.currentStage = EngineStageInitializing
	g := e.gameInstance

	device, err := renderer.NewDevice(g.ApplicationConfig.Name, e.config)
	if err != nil {
		return err
	}
	e.device = device

	r, err := renderer.New(e.config, device)
	if err != nil {
		_ = device.Shutdown()
		return err
	}
	e.renderer = r

	// Without an asset directory only descriptions built in code can be used.
	if _, err := os.Stat(e.config.Assets.Dir); err == nil {
		am, err := assets.NewAssetManager(e.config.Assets.Dir, e.config.Assets.Watch)
		if err != nil {
			return err
		}
		if err := am.Initialize(); err != nil {
			return err
		}
		e.assetManager = am
	} else {
		core.LogWarn("asset directory %q not found, loading by name is disabled", e.config.Assets.Dir)
	}

	sm, err := systems.NewSystemManager(e.config, r, e.assetManager, e.bus)
	if err != nil {
		return err
	}
	if err := sm.Initialize(); err != nil {
		return err
	}
	e.systemManager = sm

	e.bus.Register(core.EVENT_CODE_APPLICATION_QUIT, e, e.onEvent)
	e.bus.Register(core.EVENT_CODE_FRAME_ABANDONED, e, e.onEvent)

	g.SystemManager = sm
	g.Renderer = r
	g.EventBus = e.bus
	if g.FnInitialize != nil {
		if err := g.FnInitialize(); err != nil {
			return err
		}
	}

	e.currentStage = EngineStageInitialized
	return nil
}

// Run drives frames until Stop is called, the application quit event fires,
// the configured frame count is reached or the device is lost.
func (e *Engine) Run() error {
	if e.currentStage != EngineStageInitialized {
		return fmt.Errorf("engine cannot run in stage %d", e.currentStage)
	}
	e.currentStage = EngineStageRunning
	e.isRunning.Store(true)

	e.clock.Start()
	e.clock.Update()
	e.lastTime = e.clock.Elapsed()

	maxFrames := e.config.Renderer.MaxFrames
	g := e.gameInstance

	for e.isRunning.Load() {
		frameStart := time.Now()

		e.clock.Update()
		currentTime := e.clock.Elapsed()
		delta := (currentTime - e.lastTime).Seconds()

		// Reloads finished on the workers are applied before recording starts.
		e.systemManager.Update()

		if err := e.renderer.BeginFrame(); err != nil {
			if e.frameFailed(err) {
				return err
			}
			continue
		}

		if g.FnUpdate != nil {
			if err := g.FnUpdate(delta); err != nil {
				core.LogError("game update failed, shutting down: %s", err)
				return err
			}
		}
		if g.FnRender != nil {
			if err := g.FnRender(delta); err != nil {
				core.LogError("game render failed, shutting down: %s", err)
				return err
			}
		}

		if err := e.renderer.EndFrame(); err != nil {
			if e.frameFailed(err) {
				return err
			}
		}

		e.metrics.Update(time.Since(frameStart))
		e.lastTime = currentTime
		if currentTime-e.lastStats >= statsInterval {
			e.logStats()
			e.lastStats = currentTime
		}

		if maxFrames > 0 && e.renderer.FrameNumber() >= maxFrames {
			core.LogInfo("reached %d frames, stopping", maxFrames)
			e.Stop()
		}
	}
	e.logStats()
	return nil
}

// frameFailed reports whether err is fatal to the frame loop.
func (e *Engine) frameFailed(err error) bool {
	if errors.Is(err, core.ErrDeviceLost) {
		core.LogError("device lost at frame %d: %s", e.renderer.FrameNumber(), err)
		return true
	}
	if errors.Is(err, core.ErrFrameAbandoned) {
		e.bus.Fire(core.EVENT_CODE_FRAME_ABANDONED, e, core.EventContext{
			U64: [2]uint64{e.renderer.FrameNumber()},
			Err: err,
		})
		return false
	}
	core.LogError("frame %d failed: %s", e.renderer.FrameNumber(), err)
	return true
}

func (e *Engine) logStats() {
	s := e.renderer.Stats()
	fps, frameMS := e.metrics.Frame()
	core.LogInfo("frame %d: %.1f fps (%.2f ms), %d abandoned, frame heap srv %d/uav %d, ring %d bytes, %d deferred",
		s.FrameNumber, fps, frameMS, s.FramesAbandoned,
		s.FrameHeapUsed[metadata.DescriptorCategoryShaderResource],
		s.FrameHeapUsed[metadata.DescriptorCategoryUnorderedAccess],
		s.Constants.BytesWritten, s.DeferredPending)

	ps := e.systemManager.PipelineStateSystem().Stats()
	ms := e.systemManager.MaterialSystem().Stats()
	core.LogDebug("pipelines %d (hits %d, misses %d), materials %d (hits %d, misses %d, evictions %d)",
		e.systemManager.PipelineStateSystem().Len(), ps.Hits, ps.Misses,
		e.systemManager.MaterialSystem().Len(), ms.Hits, ms.Misses, ms.Evictions)
}

// Stop ends the frame loop after the current frame. Safe to call from any
// goroutine.
func (e *Engine) Stop() {
	e.isRunning.Store(false)
}

// Shutdown tears down in reverse order of Initialize.
func (e *Engine) Shutdown() error {
	e.Stop()
	e.currentStage = EngineStageShuttingDown

	var errs []error
	if g := e.gameInstance; g.FnShutdown != nil {
		errs = append(errs, g.FnShutdown())
	}
	if e.systemManager != nil {
		errs = append(errs, e.systemManager.Shutdown())
	}
	if e.assetManager != nil {
		errs = append(errs, e.assetManager.Shutdown())
	}
	if e.renderer != nil {
		errs = append(errs, e.renderer.Shutdown())
	} else if e.device != nil {
		errs = append(errs, e.device.Shutdown())
	}
	e.bus.Shutdown()

	e.currentStage = EngineStageUninitialized
	return errors.Join(errs...)
}

func (e *Engine) Config() *config.Config {
	return e.config
}

func (e *Engine) FrameMetrics() *core.FrameMetrics {
	return e.metrics
}

func (e *Engine) onEvent(code core.SystemEventCode, sender interface{}, listenerInst interface{}, data core.EventContext) bool {
	switch code {
	case core.EVENT_CODE_APPLICATION_QUIT:
		core.LogInfo("EVENT_CODE_APPLICATION_QUIT received, shutting down.")
		e.Stop()
		return true
	case core.EVENT_CODE_FRAME_ABANDONED:
		core.LogWarn("frame %d abandoned: %s", data.U64[0], data.Err)
	}
	return false
}
