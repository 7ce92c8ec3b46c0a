package loaders

import (
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

// TextureLoader reads only the image header. Pixel upload is the device's job.
type TextureLoader struct{}

func (tl *TextureLoader) Load(path string, assetType metadata.ResourceType, params interface{}) (*metadata.Resource, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, err
	}

	cfg, codec, err := image.DecodeConfig(file)
	if err != nil {
		return nil, fmt.Errorf("%w: texture %s: %s", core.ErrInvalidAsset, path, err.Error())
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: texture %s has no pixels", core.ErrInvalidAsset, path)
	}

	header := &metadata.TextureHeader{
		Name:      assetName(path),
		Format:    formatForModel(cfg.ColorModel),
		Width:     uint32(cfg.Width),
		Height:    uint32(cfg.Height),
		MipLevels: metadata.MipCount(uint32(cfg.Width), uint32(cfg.Height)),
		Codec:     codec,
	}
	return &metadata.Resource{
		ResourceType: metadata.ResourceTypeImage,
		Name:         header.Name,
		FullPath:     path,
		DataSize:     uint64(info.Size()),
		Data:         header,
	}, nil
}

func (tl *TextureLoader) Unload(*metadata.Resource) error {
	return nil
}

func formatForModel(m color.Model) metadata.Format {
	switch m {
	case color.GrayModel:
		return metadata.FormatR8Unorm
	case color.RGBA64Model, color.NRGBA64Model, color.Gray16Model:
		return metadata.FormatRGBA16Float
	default:
		return metadata.FormatRGBA8UnormSRGB
	}
}

// assetName strips the directory and every extension: "tex/wall.diff.png"
// becomes "wall.diff" and "shaders/basic.vert.spv" becomes "basic.vert".
func assetName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
