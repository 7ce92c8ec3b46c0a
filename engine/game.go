package engine

import (
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer"
	"github.com/spaghettifunk/anima-rhi/engine/systems"
)

// Game is what an application plugs into the engine. The engine fills in
// the systems before FnInitialize is called.
type Game struct {
	ApplicationConfig *ApplicationConfig
	SystemManager     *systems.SystemManager
	Renderer          *renderer.Renderer
	EventBus          *core.EventBus
	State             interface{}
	FnInitialize      Initialize
	FnUpdate          Update
	FnRender          Render
	FnShutdown        Shutdown
}

type Initialize func() error

// Update runs inside the frame, after BeginFrame.
type Update func(deltaTime float64) error

// Render records the frame. It runs after Update and before EndFrame.
type Render func(deltaTime float64) error
type Shutdown func() error
