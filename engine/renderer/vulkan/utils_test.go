package vulkan

import (
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

func TestFormatMapping(t *testing.T) {
	assert.Equal(t, vk.FormatR8g8b8a8Unorm, vulkanFormat(metadata.FormatRGBA8Unorm))
	assert.Equal(t, vk.FormatD32Sfloat, vulkanFormat(metadata.FormatD32Float))
	assert.Equal(t, vk.FormatUndefined, vulkanFormat(metadata.FormatUnknown))

	assert.Equal(t, vk.ImageAspectFlags(vk.ImageAspectColorBit), imageAspect(metadata.FormatRGBA16Float))
	assert.Equal(t, vk.ImageAspectFlags(vk.ImageAspectDepthBit|vk.ImageAspectStencilBit), imageAspect(metadata.FormatD24UnormS8Uint))
}

func TestResourceStateUsage(t *testing.T) {
	rt := resourceStateUsage(metadata.ResourceStateRenderTarget)
	assert.Equal(t, vk.ImageLayoutColorAttachmentOptimal, rt.layout)
	assert.NotZero(t, rt.access&vk.AccessFlags(vk.AccessColorAttachmentWriteBit))

	srv := resourceStateUsage(metadata.ResourceStateShaderResource)
	assert.Equal(t, vk.ImageLayoutShaderReadOnlyOptimal, srv.layout)
	assert.Equal(t, vk.AccessFlags(vk.AccessShaderReadBit), srv.access)

	uav := resourceStateUsage(metadata.ResourceStateUnorderedAccess)
	assert.Equal(t, vk.ImageLayoutGeneral, uav.layout)
}

func TestBindingOfHeapEntries(t *testing.T) {
	dh := &VulkanDescriptorHeap{
		Heap: &metadata.DescriptorHeap{
			ID: 3,
			Config: metadata.DescriptorHeapConfig{
				Name: "frame",
				Ranges: []metadata.DescriptorRange{
					{Category: metadata.DescriptorCategoryShaderResource, Count: 4},
					{Category: metadata.DescriptorCategoryUnorderedAccess, Count: 2},
					{Category: metadata.DescriptorCategoryShaderResource, Count: 2},
				},
				ShaderVisible: true,
			},
		},
	}
	dh.Entries = make([]VulkanDescriptorState, dh.Heap.Capacity())

	binding, element, ok := dh.binding(2)
	require.True(t, ok)
	assert.Equal(t, VULKAN_BINDING_SAMPLED, binding)
	assert.Equal(t, uint32(2), element)

	binding, element, ok = dh.binding(5)
	require.True(t, ok)
	assert.Equal(t, VULKAN_BINDING_STORAGE, binding)
	assert.Equal(t, uint32(1), element)

	// The second shader resource range continues after the first one.
	binding, element, ok = dh.binding(6)
	require.True(t, ok)
	assert.Equal(t, VULKAN_BINDING_SAMPLED, binding)
	assert.Equal(t, uint32(4), element)

	_, _, ok = dh.binding(8)
	assert.False(t, ok)

	assert.NoError(t, dh.checkRange(6, 2))
	assert.ErrorIs(t, dh.checkRange(7, 2), core.ErrDescriptorSlotOutOfRange)

	// No set, nothing to flush.
	assert.Empty(t, dh.writeSet(0, 8))
}

func TestPipelineConfigFromDescription(t *testing.T) {
	desc := &metadata.PipelineStateDescription{
		Name:                "mesh",
		RenderTargetFormats: []metadata.Format{metadata.FormatRGBA8Unorm},
		VertexStride:        32,
		Attributes: []metadata.VertexAttribute{
			{Semantic: "POSITION", Format: metadata.FormatRGBA32Float, Offset: 0},
			{Semantic: "COLOR", Format: metadata.FormatRGBA8Unorm, Offset: 16},
		},
	}
	config, err := pipelineConfigFromDescription(desc)
	require.NoError(t, err)
	require.Len(t, config.Attributes, 2)
	assert.Equal(t, uint32(1), config.Attributes[1].Location)
	assert.Equal(t, uint32(16), config.Attributes[1].Offset)
	assert.Equal(t, uint32(32), config.Stride)

	desc.Attributes = append(desc.Attributes, metadata.VertexAttribute{Semantic: "BAD"})
	_, err = pipelineConfigFromDescription(desc)
	assert.Error(t, err)

	desc.Attributes = nil
	desc.RenderTargetFormats = make([]metadata.Format, VULKAN_MAX_COLOR_ATTACHMENTS+1)
	_, err = pipelineConfigFromDescription(desc)
	assert.Error(t, err)
}

func TestSafeStrings(t *testing.T) {
	assert.Equal(t, "main\x00", VulkanSafeString("main"))
	assert.Equal(t, "main\x00", VulkanSafeString("main\x00"))
	assert.Equal(t, 2, FindFirstZeroInByteArray([]byte{'a', 'b', 0, 'c'}))
	assert.Equal(t, 2, FindFirstZeroInByteArray([]byte{'a', 'b'}))
}

func TestQueueFamilyNeedsASelectedDevice(t *testing.T) {
	_, err := (&VulkanDevice{GraphicsQueueIndex: -1}).QueueFamily()
	assert.Error(t, err)

	var missing *VulkanDevice
	_, err = missing.QueueFamily()
	assert.Error(t, err)

	family, err := (&VulkanDevice{GraphicsQueueIndex: 2}).QueueFamily()
	require.NoError(t, err)
	assert.Equal(t, uint32(2), family)

	locks := NewVulkanLockPool()
	locks.SetQueueFamily(family)
	called := false
	require.NoError(t, locks.SafeQueueCall(family, func() error {
		called = true
		return nil
	}))
	assert.True(t, called)
}

func TestBindlessBindingsAreUpdatedAfterBind(t *testing.T) {
	flags := bindlessBindingFlags()
	require.Len(t, flags, 2)
	require.Greater(t, uint32(len(flags)), uint32(VULKAN_BINDING_STORAGE))
	for _, f := range flags {
		assert.NotZero(t, f&vk.DescriptorBindingFlags(vk.DescriptorBindingUpdateAfterBindBit))
		assert.NotZero(t, f&vk.DescriptorBindingFlags(vk.DescriptorBindingPartiallyBoundBit))
		assert.NotZero(t, f&vk.DescriptorBindingFlags(vk.DescriptorBindingUpdateUnusedWhilePendingBit))
	}
}
