package engine

import (
	"github.com/spaghettifunk/anima-rhi/engine/config"
)

type ApplicationConfig struct {
	// The application name, passed to the device.
	Name string
	// TOML file read over the defaults. Ignored when Config is set.
	ConfigPath string
	// Configuration to use as is, mostly for tests.
	Config *config.Config
}

// load resolves the engine configuration.
func (a *ApplicationConfig) load() (*config.Config, error) {
	if a.Config != nil {
		if err := a.Config.Validate(); err != nil {
			return nil, err
		}
		return a.Config, nil
	}
	if a.ConfigPath != "" {
		return config.Load(a.ConfigPath)
	}
	return config.Default(), nil
}
