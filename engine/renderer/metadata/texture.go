package metadata

const (
	/** @brief The default texture name. */
	DEFAULT_TEXTURE_NAME string = "default"
	/** @brief The default diffuse texture name. */
	DEFAULT_DIFFUSE_TEXTURE_NAME string = "default_DIFF"
	/** @brief The default specular texture name. */
	DEFAULT_SPECULAR_TEXTURE_NAME string = "default_SPEC"
	/** @brief The default normal texture name. */
	DEFAULT_NORMAL_TEXTURE_NAME string = "default_NORM"
)

/** @brief A collection of texture uses */
type TextureUse uint8

const (
	/** @brief An unknown use. This is default, but should never actually be used. */
	TextureUseUnknown TextureUse = 0x00
	/** @brief The texture is used as a diffuse map. */
	TextureUseMapDiffuse TextureUse = 0x01
	/** @brief The texture is used as a specular map. */
	TextureUseMapSpecular TextureUse = 0x02
	/** @brief The texture is used as a normal map. */
	TextureUseMapNormal TextureUse = 0x03
	/** @brief The texture is used as a cube map. */
	TextureUseMapCubemap TextureUse = 0x04
)

var textureUseNames = []string{"unknown", "diffuse", "specular", "normal", "cubemap"}

func (u *TextureUse) UnmarshalText(text []byte) (err error) {
	*u, err = parseName[TextureUse]("texture use", textureUseNames, text)
	return err
}

/** @brief Represents supported texture filtering modes. */
type TextureFilter uint8

const (
	/** @brief Nearest-neighbor filtering. */
	TextureFilterModeNearest TextureFilter = 0x0
	/** @brief Linear (i.e. bilinear) filtering.*/
	TextureFilterModeLinear TextureFilter = 0x1
)

var textureFilterNames = []string{"nearest", "linear"}

func (f *TextureFilter) UnmarshalText(text []byte) (err error) {
	*f, err = parseName[TextureFilter]("texture filter", textureFilterNames, text)
	return err
}

type TextureRepeat uint8

const (
	TextureRepeatRepeat         TextureRepeat = 0x0
	TextureRepeatMirroredRepeat TextureRepeat = 0x1
	TextureRepeatClampToEdge    TextureRepeat = 0x2
	TextureRepeatClampToBorder  TextureRepeat = 0x3
)

var textureRepeatNames = []string{"repeat", "mirrored_repeat", "clamp_to_edge", "clamp_to_border"}

func (r *TextureRepeat) UnmarshalText(text []byte) (err error) {
	*r, err = parseName[TextureRepeat]("texture repeat", textureRepeatNames, text)
	return err
}

/**
 * @brief Header of an image asset, enough to create the texture resource
 * without decoding pixels.
 */
type TextureHeader struct {
	Name   string
	Format Format
	Width  uint32
	Height uint32
	/** @brief Full mip chain length for the dimensions. */
	MipLevels uint32
	/** @brief The container format reported by the decoder, e.g. "png". */
	Codec string
}

func (h *TextureHeader) Description() *ResourceDescription {
	return &ResourceDescription{
		Name:             h.Name,
		Dimension:        ResourceDimensionTexture2D,
		Format:           h.Format,
		Width:            h.Width,
		Height:           h.Height,
		DepthOrArraySize: 1,
		MipLevels:        h.MipLevels,
	}
}

// MipCount returns the length of a full mip chain for the given dimensions.
func MipCount(width, height uint32) uint32 {
	n := uint32(1)
	for width > 1 || height > 1 {
		width >>= 1
		height >>= 1
		n++
	}
	return n
}
