package metadata

/** @brief Colour blending for every render target of a pipeline. */
type BlendState struct {
	Enabled   bool
	SrcColor  BlendFactor
	DstColor  BlendFactor
	ColorOp   BlendOp
	SrcAlpha  BlendFactor
	DstAlpha  BlendFactor
	AlphaOp   BlendOp
	WriteMask uint8
}

type RasterizerState struct {
	CullMode              FaceCullMode
	Wireframe             bool
	FrontCounterClockwise bool
	DepthBias             int32
}

type DepthStencilState struct {
	DepthTest  bool
	DepthWrite bool
	Compare    CompareFunc
}

type VertexAttribute struct {
	Semantic string `toml:"semantic"`
	Format   Format `toml:"format"`
	Offset   uint32 `toml:"offset"`
}

/**
 * @brief Everything a pipeline object is built from. Name is a debug label and
 * is not part of the content key.
 */
type PipelineStateDescription struct {
	Name                string
	VertexShader        ShaderBytecode
	PixelShader         ShaderBytecode
	Blend               BlendState
	Rasterizer          RasterizerState
	DepthStencil        DepthStencilState
	Topology            PrimitiveTopology
	RenderTargetFormats []Format
	DepthFormat         Format
	VertexStride        uint32
	Attributes          []VertexAttribute
}

/** @brief Appends the canonical encoding of the hashed fields to k. */
func (d *PipelineStateDescription) AppendKey(k *KeyBuilder) {
	d.VertexShader.appendKey(k)
	d.PixelShader.appendKey(k)

	b := d.Blend
	k.Bool(b.Enabled).
		Uint8(uint8(b.SrcColor)).Uint8(uint8(b.DstColor)).Uint8(uint8(b.ColorOp)).
		Uint8(uint8(b.SrcAlpha)).Uint8(uint8(b.DstAlpha)).Uint8(uint8(b.AlphaOp)).
		Uint8(b.WriteMask)

	r := d.Rasterizer
	k.Uint8(uint8(r.CullMode)).Bool(r.Wireframe).Bool(r.FrontCounterClockwise).Uint32(uint32(r.DepthBias))

	ds := d.DepthStencil
	k.Bool(ds.DepthTest).Bool(ds.DepthWrite).Uint8(uint8(ds.Compare))

	k.Uint8(uint8(d.Topology))
	k.Uint32(uint32(len(d.RenderTargetFormats)))
	for _, f := range d.RenderTargetFormats {
		k.Uint8(uint8(f))
	}
	k.Uint8(uint8(d.DepthFormat))
	k.Uint32(d.VertexStride)
	k.Uint32(uint32(len(d.Attributes)))
	for _, a := range d.Attributes {
		k.String(a.Semantic).Uint8(uint8(a.Format)).Uint32(a.Offset)
	}
}

/** @brief A device pipeline object. */
type PipelineObject struct {
	ID uint32
	/** @brief Content key of the description it was built from. */
	Hash         uint64
	InternalData interface{}
}

/**
 * @brief Pipeline description as stored in a .pipeline.toml file. Shaders are
 * referenced by asset name and resolved into byte code when the pipeline is
 * acquired.
 */
type PipelineConfig struct {
	Name                string             `toml:"name"`
	VertexShader        string             `toml:"vertex_shader"`
	PixelShader         string             `toml:"pixel_shader"`
	EntryPoint          string             `toml:"entry_point"`
	Blend               BlendConfig        `toml:"blend"`
	Rasterizer          RasterizerConfig   `toml:"rasterizer"`
	DepthStencil        DepthStencilConfig `toml:"depth_stencil"`
	Topology            PrimitiveTopology  `toml:"topology"`
	RenderTargetFormats []Format           `toml:"render_target_formats"`
	DepthFormat         Format             `toml:"depth_format"`
	VertexStride        uint32             `toml:"vertex_stride"`
	Attributes          []VertexAttribute  `toml:"attributes"`
}

type BlendConfig struct {
	Enabled  bool        `toml:"enabled"`
	SrcColor BlendFactor `toml:"src_color"`
	DstColor BlendFactor `toml:"dst_color"`
	ColorOp  BlendOp     `toml:"color_op"`
	SrcAlpha BlendFactor `toml:"src_alpha"`
	DstAlpha BlendFactor `toml:"dst_alpha"`
	AlphaOp  BlendOp     `toml:"alpha_op"`
}

type RasterizerConfig struct {
	CullMode              FaceCullMode `toml:"cull_mode"`
	Wireframe             bool         `toml:"wireframe"`
	FrontCounterClockwise bool         `toml:"front_counter_clockwise"`
	DepthBias             int32        `toml:"depth_bias"`
}

type DepthStencilConfig struct {
	DepthTest  bool        `toml:"depth_test"`
	DepthWrite bool        `toml:"depth_write"`
	Compare    CompareFunc `toml:"compare"`
}

// Description builds the pipeline description from the config and the
// byte code of its shaders.
func (c *PipelineConfig) Description(vertex, pixel []byte) *PipelineStateDescription {
	entry := c.EntryPoint
	if entry == "" {
		entry = "main"
	}
	return &PipelineStateDescription{
		Name:         c.Name,
		VertexShader: ShaderBytecode{Name: c.VertexShader, Stage: ShaderStageVertex, EntryPoint: entry, Code: vertex},
		PixelShader:  ShaderBytecode{Name: c.PixelShader, Stage: ShaderStagePixel, EntryPoint: entry, Code: pixel},
		Blend: BlendState{
			Enabled:   c.Blend.Enabled,
			SrcColor:  c.Blend.SrcColor,
			DstColor:  c.Blend.DstColor,
			ColorOp:   c.Blend.ColorOp,
			SrcAlpha:  c.Blend.SrcAlpha,
			DstAlpha:  c.Blend.DstAlpha,
			AlphaOp:   c.Blend.AlphaOp,
			WriteMask: 0xf,
		},
		Rasterizer:          RasterizerState(c.Rasterizer),
		DepthStencil:        DepthStencilState(c.DepthStencil),
		Topology:            c.Topology,
		RenderTargetFormats: append([]Format(nil), c.RenderTargetFormats...),
		DepthFormat:         c.DepthFormat,
		VertexStride:        c.VertexStride,
		Attributes:          append([]VertexAttribute(nil), c.Attributes...),
	}
}
