package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-rhi/engine/core"
)

// VulkanBuffer is a host visible, coherent buffer mapped for its whole
// lifetime.
type VulkanBuffer struct {
	Handle vk.Buffer
	Memory vk.DeviceMemory
	Size   uint64
	mapped unsafe.Pointer
}

func newMappedBuffer(context *VulkanContext, size uint64) (*VulkanBuffer, error) {
	b := &VulkanBuffer{Size: size}

	bufferInfo := vk.BufferCreateInfo{
		SType: vk.StructureTypeBufferCreateInfo,
		Size:  vk.DeviceSize(size),
		Usage: vk.BufferUsageFlags(vk.BufferUsageUniformBufferBit |
			vk.BufferUsageStorageBufferBit |
			vk.BufferUsageTransferSrcBit),
		SharingMode: vk.SharingModeExclusive,
	}
	if res := vk.CreateBuffer(context.Device.LogicalDevice, &bufferInfo, context.Allocator, &b.Handle); res != vk.Success {
		return nil, vulkanError("vkCreateBuffer", res)
	}

	var memReqs vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(context.Device.LogicalDevice, b.Handle, &memReqs)
	memReqs.Deref()

	memoryIndex := context.FindMemoryIndex(memReqs.MemoryTypeBits,
		vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit))
	if memoryIndex < 0 {
		b.destroy(context)
		return nil, fmt.Errorf("no host visible coherent memory type for a %d byte buffer", size)
	}

	allocInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  memReqs.Size,
		MemoryTypeIndex: uint32(memoryIndex),
	}
	if res := vk.AllocateMemory(context.Device.LogicalDevice, &allocInfo, context.Allocator, &b.Memory); res != vk.Success {
		b.destroy(context)
		return nil, vulkanError("vkAllocateMemory", res)
	}
	if res := vk.BindBufferMemory(context.Device.LogicalDevice, b.Handle, b.Memory, 0); res != vk.Success {
		b.destroy(context)
		return nil, vulkanError("vkBindBufferMemory", res)
	}

	var data unsafe.Pointer
	if res := vk.MapMemory(context.Device.LogicalDevice, b.Memory, 0, vk.DeviceSize(size), 0, &data); res != vk.Success {
		b.destroy(context)
		return nil, vulkanError("vkMapMemory", res)
	}
	b.mapped = data
	core.LogDebug("mapped buffer of %d bytes created", size)
	return b, nil
}

// Bytes returns the mapped memory.
func (b *VulkanBuffer) Bytes() []byte {
	if b.mapped == nil {
		return nil
	}
	return unsafe.Slice((*byte)(b.mapped), b.Size)
}

func (b *VulkanBuffer) destroy(context *VulkanContext) {
	if b.mapped != nil {
		vk.UnmapMemory(context.Device.LogicalDevice, b.Memory)
		b.mapped = nil
	}
	if b.Handle != nil {
		vk.DestroyBuffer(context.Device.LogicalDevice, b.Handle, context.Allocator)
		b.Handle = nil
	}
	if b.Memory != nil {
		vk.FreeMemory(context.Device.LogicalDevice, b.Memory, context.Allocator)
		b.Memory = nil
	}
}
