package loaders

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

type MaterialLoader struct{}

func (ml *MaterialLoader) Load(path string, assetType metadata.ResourceType, params interface{}) (*metadata.Resource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	mCfg, err := ParseMaterial(data)
	if err != nil {
		core.LogError("material %s: %s", path, err.Error())
		return nil, err
	}
	return &metadata.Resource{
		ResourceType: metadata.ResourceTypeMaterial,
		Name:         mCfg.Name,
		FullPath:     path,
		DataSize:     uint64(len(data)),
		Data:         mCfg,
	}, nil
}

func (ml *MaterialLoader) Unload(*metadata.Resource) error {
	return nil
}

// ParseMaterial decodes and validates a material description.
func ParseMaterial(data []byte) (*metadata.MaterialConfig, error) {
	materialConfig := &metadata.MaterialConfig{
		DiffuseColour: [4]float32{1, 1, 1, 1},
	}
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(materialConfig); err != nil {
		return nil, fmt.Errorf("%w: %s", core.ErrInvalidAsset, err.Error())
	}
	if err := validateMaterial(materialConfig); err != nil {
		return nil, err
	}
	return materialConfig, nil
}

func validateMaterial(material *metadata.MaterialConfig) error {
	if material.Name == "" {
		return fmt.Errorf("%w: material name is required", core.ErrInvalidAsset)
	}

	if material.Pipeline == "" {
		return fmt.Errorf("%w: pipeline name is required", core.ErrInvalidAsset)
	}

	// Check that DiffuseColour values are within [0.0, 1.0] range
	for _, c := range material.DiffuseColour {
		if !inRange(c) {
			return fmt.Errorf("%w: diffuse_colour values must be between 0.0 and 1.0", core.ErrInvalidAsset)
		}
	}

	if material.Shininess < 0 {
		return fmt.Errorf("%w: shininess must be a non-negative value", core.ErrInvalidAsset)
	}

	for i, m := range material.Maps {
		if !isValidTextureName(m.Texture) {
			return fmt.Errorf("%w: invalid texture name in map %d: %q", core.ErrInvalidAsset, i, m.Texture)
		}
	}

	return nil
}

func inRange(value float32) bool {
	return value >= 0.0 && value <= 1.0
}

func isValidTextureName(name string) bool {
	return strings.TrimSpace(name) != "" && !strings.ContainsAny(name, `/\`)
}
