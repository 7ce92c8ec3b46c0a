package loaders

import (
	"fmt"
	"os"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

const spirvMagic uint32 = 0x07230203

type ShaderLoader struct{}

func (sl *ShaderLoader) Load(path string, assetType metadata.ResourceType, params interface{}) (*metadata.Resource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 || len(data)%4 != 0 {
		return nil, fmt.Errorf("%w: shader %s is %d bytes, expected a non-empty multiple of 4", core.ErrInvalidAsset, path, len(data))
	}
	if words := bytesToBytecode(data[:4]); words[0] != spirvMagic {
		// Other intermediate formats are passed through untouched.
		core.LogWarn("shader %s does not start with the SPIR-V magic number (got 0x%08x)", path, words[0])
	}
	return &metadata.Resource{
		ResourceType: metadata.ResourceTypeShader,
		Name:         assetName(path),
		FullPath:     path,
		DataSize:     uint64(len(data)),
		Data:         data,
	}, nil
}

func (sl *ShaderLoader) Unload(*metadata.Resource) error {
	return nil
}

func bytesToBytecode(b []byte) []uint32 {
	byteCode := make([]uint32, len(b)/4)
	for i := 0; i < len(byteCode); i++ {
		byteIndex := i * 4
		byteCode[i] |= uint32(b[byteIndex])
		byteCode[i] |= uint32(b[byteIndex+1]) << 8
		byteCode[i] |= uint32(b[byteIndex+2]) << 16
		byteCode[i] |= uint32(b[byteIndex+3]) << 24
	}
	return byteCode
}
