package vulkan

import (
	"encoding/binary"
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

/**
 * @brief Represents a single shader stage.
 */
type VulkanShaderStage struct {
	/** @brief The internal shader module Handle. */
	Handle vk.ShaderModule
	/** @brief The pipeline shader stage creation info. */
	ShaderStageCreateInfo vk.PipelineShaderStageCreateInfo
}

func shaderStageFlag(stage metadata.ShaderStage) vk.ShaderStageFlagBits {
	switch stage {
	case metadata.ShaderStagePixel:
		return vk.ShaderStageFragmentBit
	case metadata.ShaderStageCompute:
		return vk.ShaderStageComputeBit
	}
	return vk.ShaderStageVertexBit
}

func NewShaderStage(context *VulkanContext, shader *metadata.ShaderBytecode) (*VulkanShaderStage, error) {
	if len(shader.Code) == 0 || len(shader.Code)%4 != 0 {
		return nil, fmt.Errorf("shader %q: byte code size %d is not a positive multiple of 4", shader.Name, len(shader.Code))
	}
	words := make([]uint32, len(shader.Code)/4)
	for i := range words {
		words[i] = binary.NativeEndian.Uint32(shader.Code[i*4:])
	}

	createInfo := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint64(len(shader.Code)),
		PCode:    words,
	}

	stage := &VulkanShaderStage{}
	if res := vk.CreateShaderModule(context.Device.LogicalDevice, &createInfo, context.Allocator, &stage.Handle); res != vk.Success {
		return nil, fmt.Errorf("shader %q: %w", shader.Name, vulkanError("vkCreateShaderModule", res))
	}

	entry := shader.EntryPoint
	if entry == "" {
		entry = "main"
	}
	stage.ShaderStageCreateInfo = vk.PipelineShaderStageCreateInfo{
		SType:  vk.StructureTypePipelineShaderStageCreateInfo,
		Stage:  shaderStageFlag(shader.Stage),
		Module: stage.Handle,
		PName:  VulkanSafeString(entry),
	}
	return stage, nil
}

func (s *VulkanShaderStage) Destroy(context *VulkanContext) {
	if s.Handle != nil {
		vk.DestroyShaderModule(context.Device.LogicalDevice, s.Handle, context.Allocator)
		s.Handle = nil
	}
}
