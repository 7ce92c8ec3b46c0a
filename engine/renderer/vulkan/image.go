package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

// VulkanImageView is the view a descriptor entry holds for an image resource.
type VulkanImageView struct {
	Handle vk.ImageView
	Image  vk.Image
	Format vk.Format
	Width  uint32
	Height uint32
}

func newImageView(context *VulkanContext, image vk.Image, res *metadata.ResourceDescription) (*VulkanImageView, error) {
	format := vulkanFormat(res.Format)
	if format == vk.FormatUndefined {
		return nil, fmt.Errorf("resource %q: format %s has no Vulkan equivalent", res.Name, res.Format)
	}

	viewType := vk.ImageViewType2d
	layers := uint32(1)
	switch res.Dimension {
	case metadata.ResourceDimensionTextureCube:
		viewType = vk.ImageViewTypeCube
		layers = 6
	case metadata.ResourceDimensionTexture3D:
		viewType = vk.ImageViewType3d
	case metadata.ResourceDimensionTexture2D:
		if res.DepthOrArraySize > 1 {
			viewType = vk.ImageViewType2dArray
			layers = res.DepthOrArraySize
		}
	}
	mips := res.MipLevels
	if mips == 0 {
		mips = 1
	}

	viewCreateInfo := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    image,
		ViewType: viewType,
		Format:   format,
		Components: vk.ComponentMapping{
			R: vk.ComponentSwizzleIdentity,
			G: vk.ComponentSwizzleIdentity,
			B: vk.ComponentSwizzleIdentity,
			A: vk.ComponentSwizzleIdentity,
		},
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: imageAspect(res.Format),
			LevelCount: mips,
			LayerCount: layers,
		},
	}

	var view vk.ImageView
	if result := vk.CreateImageView(context.Device.LogicalDevice, &viewCreateInfo, context.Allocator, &view); result != vk.Success {
		return nil, vulkanError("vkCreateImageView", result)
	}
	return &VulkanImageView{
		Handle: view,
		Image:  image,
		Format: format,
		Width:  res.Width,
		Height: res.Height,
	}, nil
}

func (v *VulkanImageView) Destroy(context *VulkanContext) {
	if v.Handle != nil {
		vk.DestroyImageView(context.Device.LogicalDevice, v.Handle, context.Allocator)
		v.Handle = nil
	}
}
