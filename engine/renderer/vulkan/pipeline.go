package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

/**
 * @brief Holds a Vulkan pipeline, its layout and the render pass it was
 * built against.
 */
type VulkanPipeline struct {
	/** @brief The internal pipeline handle. */
	Handle vk.Pipeline
	/** @brief The pipeline layout. */
	PipelineLayout vk.PipelineLayout
	Renderpass     *VulkanRenderpass
}

type VulkanPipelineConfig struct {
	/** @brief A pointer to the renderpass to associate with the pipeline. */
	Renderpass *VulkanRenderpass
	/** @brief The stride of the vertex data to be used. */
	Stride uint32
	/** @brief An array of attributes. */
	Attributes []vk.VertexInputAttributeDescription
	/** @brief An array of descriptor set layouts. */
	DescriptorSetLayouts []vk.DescriptorSetLayout
	/** @brief An array of stages. */
	Stages []vk.PipelineShaderStageCreateInfo
	Topology     vk.PrimitiveTopology
	Rasterizer   metadata.RasterizerState
	DepthStencil metadata.DepthStencilState
	Blend        metadata.BlendState
}

func pipelineConfigFromDescription(desc *metadata.PipelineStateDescription) (*VulkanPipelineConfig, error) {
	if len(desc.RenderTargetFormats) > VULKAN_MAX_COLOR_ATTACHMENTS {
		return nil, fmt.Errorf("pipeline %q: %d render targets, at most %d are supported",
			desc.Name, len(desc.RenderTargetFormats), VULKAN_MAX_COLOR_ATTACHMENTS)
	}
	config := &VulkanPipelineConfig{
		Stride:       desc.VertexStride,
		Topology:     vulkanTopology(desc.Topology),
		Rasterizer:   desc.Rasterizer,
		DepthStencil: desc.DepthStencil,
		Blend:        desc.Blend,
	}
	for i, a := range desc.Attributes {
		format := vulkanFormat(a.Format)
		if format == vk.FormatUndefined {
			return nil, fmt.Errorf("pipeline %q: attribute %q has unsupported format %s", desc.Name, a.Semantic, a.Format)
		}
		config.Attributes = append(config.Attributes, vk.VertexInputAttributeDescription{
			Location: uint32(i),
			Binding:  0,
			Format:   format,
			Offset:   a.Offset,
		})
	}
	return config, nil
}

func NewGraphicsPipeline(context *VulkanContext, locks *VulkanLockPool, config *VulkanPipelineConfig) (*VulkanPipeline, error) {
	outPipeline := &VulkanPipeline{Renderpass: config.Renderpass}

	// Viewport and scissor are dynamic.
	viewportState := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		ScissorCount:  1,
	}

	rasterizerCreateInfo := vk.PipelineRasterizationStateCreateInfo{
		SType:                   vk.StructureTypePipelineRasterizationStateCreateInfo,
		DepthClampEnable:        vk.False,
		RasterizerDiscardEnable: vk.False,
		PolygonMode:             vk.PolygonModeFill,
		LineWidth:               1.0,
		CullMode:                vulkanCullMode(config.Rasterizer.CullMode),
		FrontFace:               vk.FrontFaceClockwise,
		DepthBiasEnable:         vulkanBool(config.Rasterizer.DepthBias != 0),
		DepthBiasConstantFactor: float32(config.Rasterizer.DepthBias),
	}
	if config.Rasterizer.Wireframe {
		rasterizerCreateInfo.PolygonMode = vk.PolygonModeLine
	}
	if config.Rasterizer.FrontCounterClockwise {
		rasterizerCreateInfo.FrontFace = vk.FrontFaceCounterClockwise
	}

	multisamplingCreateInfo := vk.PipelineMultisampleStateCreateInfo{
		SType:                 vk.StructureTypePipelineMultisampleStateCreateInfo,
		SampleShadingEnable:   vk.False,
		RasterizationSamples:  vk.SampleCount1Bit,
		MinSampleShading:      1.0,
		AlphaToCoverageEnable: vk.False,
		AlphaToOneEnable:      vk.False,
	}

	depthStencil := vk.PipelineDepthStencilStateCreateInfo{
		SType:             vk.StructureTypePipelineDepthStencilStateCreateInfo,
		DepthTestEnable:   vulkanBool(config.DepthStencil.DepthTest),
		DepthWriteEnable:  vulkanBool(config.DepthStencil.DepthWrite),
		DepthCompareOp:    vulkanCompareOp(config.DepthStencil.Compare),
		StencilTestEnable: vk.False,
	}

	b := config.Blend
	colorBlendAttachmentState := vk.PipelineColorBlendAttachmentState{
		BlendEnable:         vulkanBool(b.Enabled),
		SrcColorBlendFactor: vulkanBlendFactor(b.SrcColor),
		DstColorBlendFactor: vulkanBlendFactor(b.DstColor),
		ColorBlendOp:        vulkanBlendOp(b.ColorOp),
		SrcAlphaBlendFactor: vulkanBlendFactor(b.SrcAlpha),
		DstAlphaBlendFactor: vulkanBlendFactor(b.DstAlpha),
		AlphaBlendOp:        vulkanBlendOp(b.AlphaOp),
		// R, G, B and A share bit positions with the write mask.
		ColorWriteMask: vk.ColorComponentFlags(b.WriteMask),
	}
	attachments := make([]vk.PipelineColorBlendAttachmentState, len(config.Renderpass.ColorFormats))
	for i := range attachments {
		attachments[i] = colorBlendAttachmentState
	}

	colorBlendStateCreateInfo := vk.PipelineColorBlendStateCreateInfo{
		SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
		LogicOpEnable:   vk.False,
		LogicOp:         vk.LogicOpCopy,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
	}

	dynamicStates := []vk.DynamicState{
		vk.DynamicStateViewport,
		vk.DynamicStateScissor,
	}
	dynamicStateCreateInfo := vk.PipelineDynamicStateCreateInfo{
		SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
		DynamicStateCount: uint32(len(dynamicStates)),
		PDynamicStates:    dynamicStates,
	}

	vertexInputInfo := vk.PipelineVertexInputStateCreateInfo{
		SType: vk.StructureTypePipelineVertexInputStateCreateInfo,
	}
	if config.Stride > 0 {
		vertexInputInfo.VertexBindingDescriptionCount = 1
		vertexInputInfo.PVertexBindingDescriptions = []vk.VertexInputBindingDescription{{
			Binding:   0,
			Stride:    config.Stride,
			InputRate: vk.VertexInputRateVertex,
		}}
		vertexInputInfo.VertexAttributeDescriptionCount = uint32(len(config.Attributes))
		vertexInputInfo.PVertexAttributeDescriptions = config.Attributes
	}

	inputAssembly := vk.PipelineInputAssemblyStateCreateInfo{
		SType:                  vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology:               config.Topology,
		PrimitiveRestartEnable: vk.False,
	}

	pipelineLayoutCreateInfo := vk.PipelineLayoutCreateInfo{
		SType:          vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount: uint32(len(config.DescriptorSetLayouts)),
		PSetLayouts:    config.DescriptorSetLayouts,
	}

	if err := locks.SafeCall(PipelineManagement, func() error {
		var pPipelineLayout vk.PipelineLayout
		result := vk.CreatePipelineLayout(
			context.Device.LogicalDevice,
			&pipelineLayoutCreateInfo,
			context.Allocator,
			&pPipelineLayout)
		if !VulkanResultIsSuccess(result) {
			return vulkanError("vkCreatePipelineLayout", result)
		}
		outPipeline.PipelineLayout = pPipelineLayout
		return nil
	}); err != nil {
		return nil, err
	}

	pipelineCreateInfo := vk.GraphicsPipelineCreateInfo{
		SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(config.Stages)),
		PStages:             config.Stages,
		PVertexInputState:   &vertexInputInfo,
		PInputAssemblyState: &inputAssembly,
		PViewportState:      &viewportState,
		PRasterizationState: &rasterizerCreateInfo,
		PMultisampleState:   &multisamplingCreateInfo,
		PDepthStencilState:  &depthStencil,
		PColorBlendState:    &colorBlendStateCreateInfo,
		PDynamicState:       &dynamicStateCreateInfo,
		Layout:              outPipeline.PipelineLayout,
		RenderPass:          config.Renderpass.Handle,
		Subpass:             0,
		BasePipelineIndex:   -1,
	}

	pPipelines := make([]vk.Pipeline, 1)
	if err := locks.SafeCall(PipelineManagement, func() error {
		result := vk.CreateGraphicsPipelines(
			context.Device.LogicalDevice,
			vk.NullPipelineCache,
			1,
			[]vk.GraphicsPipelineCreateInfo{pipelineCreateInfo},
			context.Allocator,
			pPipelines)
		if !VulkanResultIsSuccess(result) {
			return vulkanError("vkCreateGraphicsPipelines", result)
		}
		return nil
	}); err != nil {
		vk.DestroyPipelineLayout(context.Device.LogicalDevice, outPipeline.PipelineLayout, context.Allocator)
		return nil, err
	}
	if pPipelines[0] == nil {
		vk.DestroyPipelineLayout(context.Device.LogicalDevice, outPipeline.PipelineLayout, context.Allocator)
		return nil, fmt.Errorf("vulkan pipeline handle is nil")
	}
	outPipeline.Handle = pPipelines[0]

	core.LogDebug("Graphics pipeline created!")
	return outPipeline, nil
}

func (pipeline *VulkanPipeline) Destroy(context *VulkanContext, locks *VulkanLockPool) {
	_ = locks.SafeCall(PipelineManagement, func() error {
		if pipeline.Handle != nil {
			vk.DestroyPipeline(context.Device.LogicalDevice, pipeline.Handle, context.Allocator)
			pipeline.Handle = nil
		}
		if pipeline.PipelineLayout != nil {
			vk.DestroyPipelineLayout(context.Device.LogicalDevice, pipeline.PipelineLayout, context.Allocator)
			pipeline.PipelineLayout = nil
		}
		return nil
	})
	if pipeline.Renderpass != nil {
		pipeline.Renderpass.RenderpassDestroy(context)
		pipeline.Renderpass = nil
	}
}
