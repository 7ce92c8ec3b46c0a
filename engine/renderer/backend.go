package renderer

import (
	"fmt"

	"github.com/spaghettifunk/anima-rhi/engine/config"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/headless"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/vulkan"
)

type RendererType uint8

const (
	Headless RendererType = iota
	Vulkan
)

func ParseRendererType(name string) (RendererType, error) {
	switch name {
	case config.BackendHeadless:
		return Headless, nil
	case config.BackendVulkan:
		return Vulkan, nil
	}
	return 0, fmt.Errorf("unknown renderer backend %q: %w", name, core.ErrInvalidConfig)
}

// NewDevice creates the device the configuration asks for.
func NewDevice(appName string, cfg *config.Config) (metadata.Device, error) {
	t, err := ParseRendererType(cfg.Renderer.Backend)
	if err != nil {
		return nil, err
	}
	switch t {
	case Vulkan:
		return vulkan.New(appName, cfg.Renderer.FramesInFlight, vulkan.WithValidation(cfg.Log.Level == "debug"))
	default:
		return headless.New(), nil
	}
}
