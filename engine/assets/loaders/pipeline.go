package loaders

import (
	"bytes"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

type PipelineLoader struct{}

func (pl *PipelineLoader) Load(path string, assetType metadata.ResourceType, params interface{}) (*metadata.Resource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pCfg, err := ParsePipeline(data)
	if err != nil {
		core.LogError("pipeline %s: %s", path, err.Error())
		return nil, err
	}
	return &metadata.Resource{
		ResourceType: metadata.ResourceTypePipeline,
		Name:         pCfg.Name,
		FullPath:     path,
		DataSize:     uint64(len(data)),
		Data:         pCfg,
	}, nil
}

func (pl *PipelineLoader) Unload(*metadata.Resource) error {
	return nil
}

// ParsePipeline decodes a pipeline description. Omitted fields take the
// opaque, back-face culled, depth tested defaults.
func ParsePipeline(data []byte) (*metadata.PipelineConfig, error) {
	cfg := &metadata.PipelineConfig{
		EntryPoint: "main",
		Blend: metadata.BlendConfig{
			SrcColor: metadata.BlendFactorOne,
			DstColor: metadata.BlendFactorZero,
			SrcAlpha: metadata.BlendFactorOne,
			DstAlpha: metadata.BlendFactorZero,
		},
		Rasterizer:          metadata.RasterizerConfig{CullMode: metadata.FaceCullModeBack},
		DepthStencil:        metadata.DepthStencilConfig{DepthTest: true, DepthWrite: true, Compare: metadata.CompareFuncLess},
		Topology:            metadata.PrimitiveTopologyTriangleList,
		RenderTargetFormats: []metadata.Format{metadata.FormatBGRA8Unorm},
		DepthFormat:         metadata.FormatD32Float,
	}
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("%w: %s", core.ErrInvalidAsset, err.Error())
	}
	if cfg.Name == "" {
		return nil, fmt.Errorf("%w: pipeline name is required", core.ErrInvalidAsset)
	}
	if cfg.VertexShader == "" {
		return nil, fmt.Errorf("%w: pipeline %s has no vertex shader", core.ErrInvalidAsset, cfg.Name)
	}
	if len(cfg.RenderTargetFormats) > 8 {
		return nil, fmt.Errorf("%w: pipeline %s has %d render targets, at most 8 are supported", core.ErrInvalidAsset, cfg.Name, len(cfg.RenderTargetFormats))
	}
	for _, f := range cfg.RenderTargetFormats {
		if f.IsDepth() {
			return nil, fmt.Errorf("%w: pipeline %s uses depth format %s as a render target", core.ErrInvalidAsset, cfg.Name, f)
		}
	}
	if cfg.DepthFormat != metadata.FormatUnknown && !cfg.DepthFormat.IsDepth() {
		return nil, fmt.Errorf("%w: pipeline %s depth format %s is not a depth format", core.ErrInvalidAsset, cfg.Name, cfg.DepthFormat)
	}
	return cfg, nil
}
