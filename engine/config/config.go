package config

import (
	"bytes"
	"fmt"
	"math/bits"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/spaghettifunk/anima-rhi/engine/core"
)

const (
	BackendHeadless = "headless"
	BackendVulkan   = "vulkan"

	OverrunPolicyOverwrite = "overwrite"
	OverrunPolicyWait      = "wait"

	MaxFramesInFlight = 3
)

type Config struct {
	Log         LogConfig         `toml:"log"`
	Renderer    RendererConfig    `toml:"renderer"`
	Descriptors DescriptorsConfig `toml:"descriptors"`
	Constants   ConstantsConfig   `toml:"constants"`
	Caches      CachesConfig      `toml:"caches"`
	Assets      AssetsConfig      `toml:"assets"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

type RendererConfig struct {
	// Device implementation, "headless" or "vulkan".
	Backend        string `toml:"backend"`
	FramesInFlight uint32 `toml:"frames_in_flight"`
	FenceTimeoutMS uint32 `toml:"fence_timeout_ms"`
	// Stop after this many frames, 0 runs until stopped.
	MaxFrames uint64 `toml:"max_frames"`
}

// PerCategory holds one value per descriptor category.
type PerCategory struct {
	ShaderResource  uint32 `toml:"shader_resource"`
	RenderTarget    uint32 `toml:"render_target"`
	DepthStencil    uint32 `toml:"depth_stencil"`
	UnorderedAccess uint32 `toml:"unordered_access"`
}

// Array returns the values in descriptor category order.
func (p PerCategory) Array() [4]uint32 {
	return [4]uint32{p.ShaderResource, p.RenderTarget, p.DepthStencil, p.UnorderedAccess}
}

type DescriptorsConfig struct {
	PageCapacity  PerCategory `toml:"page_capacity"`
	FrameReserved PerCategory `toml:"frame_reserved"`
}

type ConstantsConfig struct {
	RingSize      uint64 `toml:"ring_size"`
	Alignment     uint64 `toml:"alignment"`
	OverrunPolicy string `toml:"overrun_policy"`
}

type CachesConfig struct {
	// 0 keeps the cache unbounded.
	MaterialCapacity int `toml:"material_capacity"`
	PipelineCapacity int `toml:"pipeline_capacity"`
}

type AssetsConfig struct {
	Dir   string `toml:"dir"`
	Watch bool   `toml:"watch"`
}

func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level: string(core.LogLevelInfo),
		},
		Renderer: RendererConfig{
			Backend:        BackendHeadless,
			FramesInFlight: 2,
			FenceTimeoutMS: 1000,
		},
		Descriptors: DescriptorsConfig{
			PageCapacity: PerCategory{
				ShaderResource:  1024,
				RenderTarget:    256,
				DepthStencil:    256,
				UnorderedAccess: 256,
			},
			FrameReserved: PerCategory{
				ShaderResource:  4096,
				RenderTarget:    64,
				DepthStencil:    16,
				UnorderedAccess: 1024,
			},
		},
		Constants: ConstantsConfig{
			RingSize:      4 << 20,
			Alignment:     256,
			OverrunPolicy: OverrunPolicyOverwrite,
		},
		Assets: AssetsConfig{
			Dir: "assets",
		},
	}
}

// Load reads a TOML file over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes TOML over the defaults and validates the result. Unknown keys
// are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %v: %w", err, core.ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Marshal encodes the configuration as TOML.
func (c *Config) Marshal() ([]byte, error) {
	return toml.Marshal(c)
}

func (c *Config) Validate() error {
	if _, err := core.ParseLogLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Renderer.Backend {
	case BackendHeadless, BackendVulkan:
	default:
		return invalid("unknown renderer backend %q", c.Renderer.Backend)
	}
	if c.Renderer.FramesInFlight == 0 || c.Renderer.FramesInFlight > MaxFramesInFlight {
		return invalid("frames_in_flight must be between 1 and %d, got %d", MaxFramesInFlight, c.Renderer.FramesInFlight)
	}
	if c.Renderer.FenceTimeoutMS == 0 {
		return invalid("fence_timeout_ms must be positive")
	}

	names := [4]string{"shader_resource", "render_target", "depth_stencil", "unordered_access"}
	for i, v := range c.Descriptors.PageCapacity.Array() {
		if v == 0 {
			return invalid("descriptors.page_capacity.%s must be positive", names[i])
		}
	}

	if c.Constants.Alignment == 0 || bits.OnesCount64(c.Constants.Alignment) != 1 {
		return invalid("constants.alignment must be a power of two, got %d", c.Constants.Alignment)
	}
	if c.Constants.RingSize < c.Constants.Alignment {
		return invalid("constants.ring_size %d is smaller than the alignment %d", c.Constants.RingSize, c.Constants.Alignment)
	}
	switch c.Constants.OverrunPolicy {
	case OverrunPolicyOverwrite, OverrunPolicyWait:
	default:
		return invalid("unknown constants.overrun_policy %q", c.Constants.OverrunPolicy)
	}

	if c.Caches.MaterialCapacity < 0 || c.Caches.PipelineCapacity < 0 {
		return invalid("cache capacities cannot be negative")
	}
	return nil
}

func (c *Config) LogLevel() core.LogLevel {
	l, err := core.ParseLogLevel(c.Log.Level)
	if err != nil {
		return core.LogLevelInfo
	}
	return l
}

func (c *Config) FenceTimeout() time.Duration {
	return time.Duration(c.Renderer.FenceTimeoutMS) * time.Millisecond
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), core.ErrInvalidConfig)
}
