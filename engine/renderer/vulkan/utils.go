package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

func VulkanResultString(result vk.Result, getExtended bool) string {
	// From: https://www.khronos.org/registry/vulkan/specs/1.3-extensions/man/html/VkResult.html
	switch result {
	case vk.Success:
		return ConditionalOperator(!getExtended, "VK_SUCCESS", "VK_SUCCESS Command successfully completed")
	case vk.NotReady:
		return ConditionalOperator(!getExtended, "VK_NOT_READY", "VK_NOT_READY A fence or query has not yet completed")
	case vk.Timeout:
		return ConditionalOperator(!getExtended, "VK_TIMEOUT", "VK_TIMEOUT A wait operation has not completed in the specified time")
	case vk.Incomplete:
		return ConditionalOperator(!getExtended, "VK_INCOMPLETE", "VK_INCOMPLETE A return array was too small for the result")
	case vk.ErrorOutOfHostMemory:
		return ConditionalOperator(!getExtended, "VK_ERROR_OUT_OF_HOST_MEMORY", "VK_ERROR_OUT_OF_HOST_MEMORY A host memory allocation has failed.")
	case vk.ErrorOutOfDeviceMemory:
		return ConditionalOperator(!getExtended, "VK_ERROR_OUT_OF_DEVICE_MEMORY", "VK_ERROR_OUT_OF_DEVICE_MEMORY A device memory allocation has failed.")
	case vk.ErrorInitializationFailed:
		return ConditionalOperator(!getExtended, "VK_ERROR_INITIALIZATION_FAILED", "VK_ERROR_INITIALIZATION_FAILED Initialization of an object could not be completed for implementation-specific reasons.")
	case vk.ErrorDeviceLost:
		return ConditionalOperator(!getExtended, "VK_ERROR_DEVICE_LOST", "VK_ERROR_DEVICE_LOST The logical or physical device has been lost.")
	case vk.ErrorMemoryMapFailed:
		return ConditionalOperator(!getExtended, "VK_ERROR_MEMORY_MAP_FAILED", "VK_ERROR_MEMORY_MAP_FAILED Mapping of a memory object has failed.")
	case vk.ErrorLayerNotPresent:
		return ConditionalOperator(!getExtended, "VK_ERROR_LAYER_NOT_PRESENT", "VK_ERROR_LAYER_NOT_PRESENT A requested layer is not present or could not be loaded.")
	case vk.ErrorExtensionNotPresent:
		return ConditionalOperator(!getExtended, "VK_ERROR_EXTENSION_NOT_PRESENT", "VK_ERROR_EXTENSION_NOT_PRESENT A requested extension is not supported.")
	case vk.ErrorFeatureNotPresent:
		return ConditionalOperator(!getExtended, "VK_ERROR_FEATURE_NOT_PRESENT", "VK_ERROR_FEATURE_NOT_PRESENT A requested feature is not supported.")
	case vk.ErrorIncompatibleDriver:
		return ConditionalOperator(!getExtended, "VK_ERROR_INCOMPATIBLE_DRIVER", "VK_ERROR_INCOMPATIBLE_DRIVER The requested version of Vulkan is not supported by the driver.")
	case vk.ErrorTooManyObjects:
		return ConditionalOperator(!getExtended, "VK_ERROR_TOO_MANY_OBJECTS", "VK_ERROR_TOO_MANY_OBJECTS Too many objects of the type have already been created.")
	case vk.ErrorFormatNotSupported:
		return ConditionalOperator(!getExtended, "VK_ERROR_FORMAT_NOT_SUPPORTED", "VK_ERROR_FORMAT_NOT_SUPPORTED A requested format is not supported on this device.")
	case vk.ErrorFragmentedPool:
		return ConditionalOperator(!getExtended, "VK_ERROR_FRAGMENTED_POOL", "VK_ERROR_FRAGMENTED_POOL A pool allocation has failed due to fragmentation of the pool's memory.")
	case vk.ErrorOutOfPoolMemory:
		return ConditionalOperator(!getExtended, "VK_ERROR_OUT_OF_POOL_MEMORY", "VK_ERROR_OUT_OF_POOL_MEMORY A pool memory allocation has failed.")
	case vk.ErrorInvalidShaderNv:
		return ConditionalOperator(!getExtended, "VK_ERROR_INVALID_SHADER_NV", "VK_ERROR_INVALID_SHADER_NV One or more shaders failed to compile or link.")
	case vk.ErrorUnknown:
		return ConditionalOperator(!getExtended, "VK_ERROR_UNKNOWN", "VK_ERROR_UNKNOWN An unknown error has occurred.")
	default:
		return fmt.Sprintf("VkResult(%d)", int32(result))
	}
}

func VulkanResultIsSuccess(result vk.Result) bool {
	switch result {
	case vk.Success, vk.NotReady, vk.Timeout, vk.EventSet, vk.EventReset,
		vk.Incomplete, vk.Suboptimal, vk.PipelineCompileRequired:
		return true
	default:
		return false
	}
}

// vulkanError turns a failed result into an error. Device loss and timeouts
// wrap the engine sentinels so callers can tell them apart.
func vulkanError(op string, result vk.Result) error {
	switch result {
	case vk.ErrorDeviceLost:
		return fmt.Errorf("%s: %w", op, core.ErrDeviceLost)
	case vk.Timeout:
		return fmt.Errorf("%s: %w", op, core.ErrFenceTimeout)
	}
	return fmt.Errorf("%s failed with %s", op, VulkanResultString(result, true))
}

func ConditionalOperator(condition bool, res1, res2 string) string {
	if condition {
		return res1
	}
	return res2
}

var end = "\x00"
var endChar byte = '\x00'

func VulkanSafeString(s string) string {
	if len(s) == 0 {
		return end
	}
	if s[len(s)-1] != endChar {
		return s + end
	}
	return s
}

func VulkanSafeStrings(list []string) []string {
	out := make([]string, len(list))
	for i := range list {
		out[i] = VulkanSafeString(list[i])
	}
	return out
}

func FindFirstZeroInByteArray(arr []byte) int {
	for i, b := range arr {
		if b == 0 {
			return i
		}
	}
	return len(arr)
}

func vulkanFormat(f metadata.Format) vk.Format {
	switch f {
	case metadata.FormatRGBA8Unorm:
		return vk.FormatR8g8b8a8Unorm
	case metadata.FormatRGBA8UnormSRGB:
		return vk.FormatR8g8b8a8Srgb
	case metadata.FormatBGRA8Unorm:
		return vk.FormatB8g8r8a8Unorm
	case metadata.FormatR8Unorm:
		return vk.FormatR8Unorm
	case metadata.FormatRGBA16Float:
		return vk.FormatR16g16b16a16Sfloat
	case metadata.FormatRGBA32Float:
		return vk.FormatR32g32b32a32Sfloat
	case metadata.FormatD32Float:
		return vk.FormatD32Sfloat
	case metadata.FormatD24UnormS8Uint:
		return vk.FormatD24UnormS8Uint
	}
	return vk.FormatUndefined
}

// stateUsage is how a resource state maps onto layouts, access masks and
// pipeline stages.
type stateUsage struct {
	layout vk.ImageLayout
	access vk.AccessFlags
	stages vk.PipelineStageFlags
}

func resourceStateUsage(s metadata.ResourceState) stateUsage {
	switch s {
	case metadata.ResourceStateCopyDestination:
		return stateUsage{
			layout: vk.ImageLayoutTransferDstOptimal,
			access: vk.AccessFlags(vk.AccessTransferWriteBit),
			stages: vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		}
	case metadata.ResourceStateRenderTarget:
		return stateUsage{
			layout: vk.ImageLayoutColorAttachmentOptimal,
			access: vk.AccessFlags(vk.AccessColorAttachmentReadBit | vk.AccessColorAttachmentWriteBit),
			stages: vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		}
	case metadata.ResourceStateDepthWrite:
		return stateUsage{
			layout: vk.ImageLayoutDepthStencilAttachmentOptimal,
			access: vk.AccessFlags(vk.AccessDepthStencilAttachmentReadBit | vk.AccessDepthStencilAttachmentWriteBit),
			stages: vk.PipelineStageFlags(vk.PipelineStageEarlyFragmentTestsBit | vk.PipelineStageLateFragmentTestsBit),
		}
	case metadata.ResourceStateShaderResource:
		return stateUsage{
			layout: vk.ImageLayoutShaderReadOnlyOptimal,
			access: vk.AccessFlags(vk.AccessShaderReadBit),
			stages: vk.PipelineStageFlags(vk.PipelineStageVertexShaderBit | vk.PipelineStageFragmentShaderBit),
		}
	case metadata.ResourceStateUnorderedAccess:
		return stateUsage{
			layout: vk.ImageLayoutGeneral,
			access: vk.AccessFlags(vk.AccessShaderReadBit | vk.AccessShaderWriteBit),
			stages: vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit | vk.PipelineStageFragmentShaderBit),
		}
	case metadata.ResourceStatePresent:
		return stateUsage{
			layout: vk.ImageLayoutPresentSrc,
			stages: vk.PipelineStageFlags(vk.PipelineStageBottomOfPipeBit),
		}
	default:
		return stateUsage{
			layout: vk.ImageLayoutGeneral,
			access: vk.AccessFlags(vk.AccessShaderReadBit | vk.AccessTransferReadBit),
			stages: vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit),
		}
	}
}

func imageAspect(f metadata.Format) vk.ImageAspectFlags {
	switch f {
	case metadata.FormatD32Float:
		return vk.ImageAspectFlags(vk.ImageAspectDepthBit)
	case metadata.FormatD24UnormS8Uint:
		return vk.ImageAspectFlags(vk.ImageAspectDepthBit | vk.ImageAspectStencilBit)
	}
	return vk.ImageAspectFlags(vk.ImageAspectColorBit)
}

func vulkanCompareOp(c metadata.CompareFunc) vk.CompareOp {
	switch c {
	case metadata.CompareFuncNever:
		return vk.CompareOpNever
	case metadata.CompareFuncEqual:
		return vk.CompareOpEqual
	case metadata.CompareFuncLessEqual:
		return vk.CompareOpLessOrEqual
	case metadata.CompareFuncGreater:
		return vk.CompareOpGreater
	case metadata.CompareFuncNotEqual:
		return vk.CompareOpNotEqual
	case metadata.CompareFuncGreaterEqual:
		return vk.CompareOpGreaterOrEqual
	case metadata.CompareFuncAlways:
		return vk.CompareOpAlways
	}
	return vk.CompareOpLess
}

func vulkanBlendFactor(b metadata.BlendFactor) vk.BlendFactor {
	switch b {
	case metadata.BlendFactorZero:
		return vk.BlendFactorZero
	case metadata.BlendFactorSrcAlpha:
		return vk.BlendFactorSrcAlpha
	case metadata.BlendFactorOneMinusSrcAlpha:
		return vk.BlendFactorOneMinusSrcAlpha
	case metadata.BlendFactorDstColor:
		return vk.BlendFactorDstColor
	case metadata.BlendFactorOneMinusDstColor:
		return vk.BlendFactorOneMinusDstColor
	}
	return vk.BlendFactorOne
}

func vulkanBlendOp(b metadata.BlendOp) vk.BlendOp {
	switch b {
	case metadata.BlendOpSubtract:
		return vk.BlendOpSubtract
	case metadata.BlendOpMin:
		return vk.BlendOpMin
	case metadata.BlendOpMax:
		return vk.BlendOpMax
	}
	return vk.BlendOpAdd
}

func vulkanTopology(t metadata.PrimitiveTopology) vk.PrimitiveTopology {
	switch t {
	case metadata.PrimitiveTopologyTriangleStrip:
		return vk.PrimitiveTopologyTriangleStrip
	case metadata.PrimitiveTopologyLineList:
		return vk.PrimitiveTopologyLineList
	case metadata.PrimitiveTopologyPointList:
		return vk.PrimitiveTopologyPointList
	}
	return vk.PrimitiveTopologyTriangleList
}

func vulkanCullMode(m metadata.FaceCullMode) vk.CullModeFlags {
	switch m {
	case metadata.FaceCullModeNone:
		return vk.CullModeFlags(vk.CullModeNone)
	case metadata.FaceCullModeFront:
		return vk.CullModeFlags(vk.CullModeFrontBit)
	case metadata.FaceCullModeFrontAndBack:
		return vk.CullModeFlags(vk.CullModeFrontAndBack)
	}
	return vk.CullModeFlags(vk.CullModeBackBit)
}

func vulkanBool(b bool) vk.Bool32 {
	if b {
		return vk.True
	}
	return vk.False
}
