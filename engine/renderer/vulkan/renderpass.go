package vulkan

import (
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-rhi/engine/core"
)

// VulkanRenderpass describes the attachments a pipeline renders into. It is
// created with the pipeline and only used for compatibility.
type VulkanRenderpass struct {
	Handle       vk.RenderPass
	ColorFormats []vk.Format
	DepthFormat  vk.Format
}

func RenderpassCreate(context *VulkanContext, colorFormats []vk.Format, depthFormat vk.Format) (*VulkanRenderpass, error) {
	outRenderpass := &VulkanRenderpass{
		ColorFormats: colorFormats,
		DepthFormat:  depthFormat,
	}

	subpass := vk.SubpassDescription{
		PipelineBindPoint: vk.PipelineBindPointGraphics,
	}

	var attachmentDescriptions []vk.AttachmentDescription
	var colorAttachmentReferences []vk.AttachmentReference
	for _, format := range colorFormats {
		colorAttachmentReferences = append(colorAttachmentReferences, vk.AttachmentReference{
			Attachment: uint32(len(attachmentDescriptions)),
			Layout:     vk.ImageLayoutColorAttachmentOptimal,
		})
		attachmentDescriptions = append(attachmentDescriptions, vk.AttachmentDescription{
			Format:         format,
			Samples:        vk.SampleCount1Bit,
			LoadOp:         vk.AttachmentLoadOpLoad,
			StoreOp:        vk.AttachmentStoreOpStore,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  vk.ImageLayoutColorAttachmentOptimal,
			FinalLayout:    vk.ImageLayoutColorAttachmentOptimal,
		})
	}
	subpass.ColorAttachmentCount = uint32(len(colorAttachmentReferences))
	subpass.PColorAttachments = colorAttachmentReferences

	// Depth attachment, if there is one
	if depthFormat != vk.FormatUndefined {
		depthAttachmentReference := vk.AttachmentReference{
			Attachment: uint32(len(attachmentDescriptions)),
			Layout:     vk.ImageLayoutDepthStencilAttachmentOptimal,
		}
		attachmentDescriptions = append(attachmentDescriptions, vk.AttachmentDescription{
			Format:         depthFormat,
			Samples:        vk.SampleCount1Bit,
			LoadOp:         vk.AttachmentLoadOpLoad,
			StoreOp:        vk.AttachmentStoreOpStore,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  vk.ImageLayoutDepthStencilAttachmentOptimal,
			FinalLayout:    vk.ImageLayoutDepthStencilAttachmentOptimal,
		})
		subpass.PDepthStencilAttachment = &depthAttachmentReference
	}

	dependency := vk.SubpassDependency{
		SrcSubpass:    vk.SubpassExternal,
		DstSubpass:    0,
		SrcStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		SrcAccessMask: 0,
		DstStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		DstAccessMask: vk.AccessFlags(vk.AccessColorAttachmentReadBit) | vk.AccessFlags(vk.AccessColorAttachmentWriteBit),
	}

	renderpassCreateInfo := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachmentDescriptions)),
		PAttachments:    attachmentDescriptions,
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
		DependencyCount: 1,
		PDependencies:   []vk.SubpassDependency{dependency},
	}

	var pRenderPass vk.RenderPass
	if res := vk.CreateRenderPass(context.Device.LogicalDevice, &renderpassCreateInfo, context.Allocator, &pRenderPass); res != vk.Success {
		err := vulkanError("vkCreateRenderPass", res)
		core.LogError(err.Error())
		return nil, err
	}
	outRenderpass.Handle = pRenderPass
	return outRenderpass, nil
}

func (vr *VulkanRenderpass) RenderpassDestroy(context *VulkanContext) {
	if vr.Handle != nil {
		vk.DestroyRenderPass(context.Device.LogicalDevice, vr.Handle, context.Allocator)
		vr.Handle = nil
	}
}
