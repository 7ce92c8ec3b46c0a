package metadata

import (
	"fmt"
	"strings"
)

/** @brief The usage a GPU resource is currently prepared for. */
type ResourceState uint8

const (
	ResourceStateGenericRead ResourceState = iota
	ResourceStateCopyDestination
	ResourceStateRenderTarget
	ResourceStateDepthWrite
	ResourceStateShaderResource
	ResourceStateUnorderedAccess
	ResourceStatePresent
	resourceStateCount
)

var resourceStateNames = [resourceStateCount]string{
	"generic_read",
	"copy_destination",
	"render_target",
	"depth_write",
	"shader_resource",
	"unordered_access",
	"present",
}

func (s ResourceState) String() string {
	if s >= resourceStateCount {
		return fmt.Sprintf("resource_state(%d)", uint8(s))
	}
	return resourceStateNames[s]
}

func (s ResourceState) IsValid() bool {
	return s < resourceStateCount
}

func (s *ResourceState) UnmarshalText(text []byte) error {
	v := strings.ToLower(string(text))
	for i, name := range resourceStateNames {
		if name == v {
			*s = ResourceState(i)
			return nil
		}
	}
	return fmt.Errorf("unknown resource state %q", string(text))
}

/** @brief Pixel formats understood by the devices. */
type Format uint8

const (
	FormatUnknown Format = iota
	FormatRGBA8Unorm
	FormatRGBA8UnormSRGB
	FormatBGRA8Unorm
	FormatR8Unorm
	FormatRGBA16Float
	FormatRGBA32Float
	FormatD32Float
	FormatD24UnormS8Uint
	formatCount
)

var formatNames = [formatCount]string{
	"unknown",
	"rgba8_unorm",
	"rgba8_unorm_srgb",
	"bgra8_unorm",
	"r8_unorm",
	"rgba16_float",
	"rgba32_float",
	"d32_float",
	"d24_unorm_s8_uint",
}

func (f Format) String() string {
	if f >= formatCount {
		return fmt.Sprintf("format(%d)", uint8(f))
	}
	return formatNames[f]
}

func (f Format) IsDepth() bool {
	return f == FormatD32Float || f == FormatD24UnormS8Uint
}

func (f *Format) UnmarshalText(text []byte) error {
	v := strings.ToLower(string(text))
	for i, name := range formatNames {
		if name == v {
			*f = Format(i)
			return nil
		}
	}
	return fmt.Errorf("unknown format %q", string(text))
}

func (f Format) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

type ResourceDimension uint8

const (
	ResourceDimensionBuffer ResourceDimension = iota
	ResourceDimensionTexture2D
	ResourceDimensionTextureCube
	ResourceDimensionTexture3D
)

/**
 * @brief Immutable description of a device-backed resource, fixed at creation.
 */
type ResourceDescription struct {
	/** @brief Debug name. */
	Name             string
	Dimension        ResourceDimension
	Format           Format
	Width            uint32
	Height           uint32
	DepthOrArraySize uint32
	MipLevels        uint32
	/** @brief Size in bytes, for buffers. */
	SizeBytes uint64
	/** @brief Backend object the descriptors view, e.g. a vk.Image. May be nil on headless devices. */
	Native interface{}
}

/** @brief A single usage transition to record before the operation needing After. */
type Barrier struct {
	ResourceID uint32
	Resource   *ResourceDescription
	Before     ResourceState
	After      ResourceState
}

func (b Barrier) String() string {
	return fmt.Sprintf("resource %d: %s -> %s", b.ResourceID, b.Before, b.After)
}

type ResourceType int

/** @brief Pre-defined asset types. */
const (
	/** @brief Text resource type. */
	ResourceTypeText ResourceType = iota
	/** @brief Binary resource type. */
	ResourceTypeBinary
	/** @brief Image resource type. Only the header is read. */
	ResourceTypeImage
	/** @brief Material description. */
	ResourceTypeMaterial
	/** @brief Pipeline state description. */
	ResourceTypePipeline
	/** @brief Shader byte code. */
	ResourceTypeShader
	/** @brief Custom resource type. Used by loaders outside the core engine. */
	ResourceTypeCustom
)

func (t ResourceType) String() string {
	switch t {
	case ResourceTypeText:
		return "text"
	case ResourceTypeBinary:
		return "binary"
	case ResourceTypeImage:
		return "image"
	case ResourceTypeMaterial:
		return "material"
	case ResourceTypePipeline:
		return "pipeline"
	case ResourceTypeShader:
		return "shader"
	default:
		return "custom"
	}
}

/**
 * @brief A generic structure for a resource. All resource loaders
 * load data into these.
 */
type Resource struct {
	/** @brief The type of the loader which handles this resource. */
	ResourceType ResourceType
	/** @brief The name of the resource. */
	Name string
	/** @brief The full file path of the resource. */
	FullPath string
	/** @brief The size of the resource data in bytes. */
	DataSize uint64
	/** @brief The resource data. */
	Data interface{}
}
