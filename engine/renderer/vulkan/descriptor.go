package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

/**
 * @brief One entry of a descriptor heap. Vulkan has no CPU descriptor heaps,
 * so the entry keeps what a view was created from and the view itself.
 */
type VulkanDescriptorState struct {
	Category metadata.DescriptorCategory
	Name     string
	View     *VulkanImageView
	Buffer   vk.Buffer
	Size     uint64
	/** @brief Set when the view was created for this entry, clear when it was copied in. */
	Owned   bool
	Written bool
}

/**
 * @brief A descriptor heap page. Shader visible heaps also own a descriptor
 * pool and the single bindless set copies are flushed into.
 */
type VulkanDescriptorHeap struct {
	Heap    *metadata.DescriptorHeap
	Entries []VulkanDescriptorState
	Pool    vk.DescriptorPool
	Set     vk.DescriptorSet
}

// bindlessBindingFlags holds one entry per binding of the bindless layout.
// Frame heap copies are flushed into a set that submitted frames may still
// reference, and most slots are never written.
func bindlessBindingFlags() []vk.DescriptorBindingFlags {
	flags := vk.DescriptorBindingFlags(vk.DescriptorBindingPartiallyBoundBit |
		vk.DescriptorBindingUpdateAfterBindBit |
		vk.DescriptorBindingUpdateUnusedWhilePendingBit)
	return []vk.DescriptorBindingFlags{flags, flags}
}

// newBindlessLayout creates the set layout every shader visible heap and
// pipeline shares: sampled images at binding 0, storage images at binding 1.
func newBindlessLayout(context *VulkanContext) (vk.DescriptorSetLayout, error) {
	stages := vk.ShaderStageFlags(vk.ShaderStageAll)
	bindings := []vk.DescriptorSetLayoutBinding{
		{
			Binding:         VULKAN_BINDING_SAMPLED,
			DescriptorType:  vk.DescriptorTypeSampledImage,
			DescriptorCount: VULKAN_MAX_SAMPLED_DESCRIPTORS,
			StageFlags:      stages,
		},
		{
			Binding:         VULKAN_BINDING_STORAGE,
			DescriptorType:  vk.DescriptorTypeStorageImage,
			DescriptorCount: VULKAN_MAX_STORAGE_DESCRIPTORS,
			StageFlags:      stages,
		},
	}
	bindingFlags := bindlessBindingFlags()
	var layout vk.DescriptorSetLayout
	if res := vk.CreateDescriptorSetLayout(context.Device.LogicalDevice, &vk.DescriptorSetLayoutCreateInfo{
		SType: vk.StructureTypeDescriptorSetLayoutCreateInfo,
		PNext: unsafe.Pointer(&vk.DescriptorSetLayoutBindingFlagsCreateInfo{
			SType:         vk.StructureTypeDescriptorSetLayoutBindingFlagsCreateInfo,
			BindingCount:  uint32(len(bindingFlags)),
			PBindingFlags: bindingFlags,
		}),
		Flags:        vk.DescriptorSetLayoutCreateFlags(vk.DescriptorSetLayoutCreateUpdateAfterBindPoolBit),
		BindingCount: uint32(len(bindings)),
		PBindings:    bindings,
	}, context.Allocator, &layout); res != vk.Success {
		return nil, vulkanError("vkCreateDescriptorSetLayout", res)
	}
	return layout, nil
}

func newDescriptorHeap(context *VulkanContext, locks *VulkanLockPool, layout vk.DescriptorSetLayout, heap *metadata.DescriptorHeap) (*VulkanDescriptorHeap, error) {
	dh := &VulkanDescriptorHeap{
		Heap:    heap,
		Entries: make([]VulkanDescriptorState, heap.Capacity()),
	}
	if !heap.Config.ShaderVisible {
		return dh, nil
	}

	var counts [metadata.DescriptorCategoryCount]uint32
	for _, r := range heap.Config.Ranges {
		if !r.Category.IsShaderVisible() {
			return nil, fmt.Errorf("descriptor heap %q: %s range cannot be shader visible", heap.Config.Name, r.Category)
		}
		counts[r.Category] += r.Count
	}
	if n := counts[metadata.DescriptorCategoryShaderResource]; n > VULKAN_MAX_SAMPLED_DESCRIPTORS {
		return nil, fmt.Errorf("descriptor heap %q: %d shader resource descriptors, at most %d can be bound: %w",
			heap.Config.Name, n, VULKAN_MAX_SAMPLED_DESCRIPTORS, core.ErrInvalidConfig)
	}
	if n := counts[metadata.DescriptorCategoryUnorderedAccess]; n > VULKAN_MAX_STORAGE_DESCRIPTORS {
		return nil, fmt.Errorf("descriptor heap %q: %d unordered access descriptors, at most %d can be bound: %w",
			heap.Config.Name, n, VULKAN_MAX_STORAGE_DESCRIPTORS, core.ErrInvalidConfig)
	}

	// The set is allocated with the full bindless layout, so the pool must
	// hold every binding at its maximum count.
	poolSizes := []vk.DescriptorPoolSize{
		{Type: vk.DescriptorTypeSampledImage, DescriptorCount: VULKAN_MAX_SAMPLED_DESCRIPTORS},
		{Type: vk.DescriptorTypeStorageImage, DescriptorCount: VULKAN_MAX_STORAGE_DESCRIPTORS},
	}
	err := locks.SafeCall(DescriptorManagement, func() error {
		if res := vk.CreateDescriptorPool(context.Device.LogicalDevice, &vk.DescriptorPoolCreateInfo{
			SType:         vk.StructureTypeDescriptorPoolCreateInfo,
			Flags:         vk.DescriptorPoolCreateFlags(vk.DescriptorPoolCreateUpdateAfterBindBit),
			MaxSets:       1,
			PoolSizeCount: uint32(len(poolSizes)),
			PPoolSizes:    poolSizes,
		}, context.Allocator, &dh.Pool); res != vk.Success {
			return vulkanError("vkCreateDescriptorPool", res)
		}
		if res := vk.AllocateDescriptorSets(context.Device.LogicalDevice, &vk.DescriptorSetAllocateInfo{
			SType:              vk.StructureTypeDescriptorSetAllocateInfo,
			DescriptorPool:     dh.Pool,
			DescriptorSetCount: 1,
			PSetLayouts:        []vk.DescriptorSetLayout{layout},
		}, &dh.Set); res != vk.Success {
			vk.DestroyDescriptorPool(context.Device.LogicalDevice, dh.Pool, context.Allocator)
			dh.Pool = nil
			return vulkanError("vkAllocateDescriptorSets", res)
		}
		return nil
	})
	if err != nil {
		core.LogError("descriptor heap %q: %s", heap.Config.Name, err)
		return nil, err
	}
	return dh, nil
}

func (dh *VulkanDescriptorHeap) checkRange(index, count uint32) error {
	if uint64(index)+uint64(count) > uint64(len(dh.Entries)) {
		return fmt.Errorf("descriptor range [%d, %d) outside heap %d of %d entries: %w",
			index, uint64(index)+uint64(count), dh.Heap.ID, len(dh.Entries), core.ErrDescriptorSlotOutOfRange)
	}
	return nil
}

// binding returns the binding and array element entry index lands on in the
// bindless set.
func (dh *VulkanDescriptorHeap) binding(index uint32) (uint32, uint32, bool) {
	var start uint32
	var before [metadata.DescriptorCategoryCount]uint32
	for _, r := range dh.Heap.Config.Ranges {
		if index < start+r.Count {
			element := before[r.Category] + index - start
			switch r.Category {
			case metadata.DescriptorCategoryShaderResource:
				return VULKAN_BINDING_SAMPLED, element, true
			case metadata.DescriptorCategoryUnorderedAccess:
				return VULKAN_BINDING_STORAGE, element, true
			}
			return 0, 0, false
		}
		start += r.Count
		before[r.Category] += r.Count
	}
	return 0, 0, false
}

// writeSet builds the set update for the entries in [index, index+count).
// Entries without an image view are left untouched in the set.
func (dh *VulkanDescriptorHeap) writeSet(index, count uint32) []vk.WriteDescriptorSet {
	if dh.Set == nil {
		return nil
	}
	var writes []vk.WriteDescriptorSet
	for i := index; i < index+count; i++ {
		e := &dh.Entries[i]
		if e.View == nil || e.View.Handle == nil {
			continue
		}
		binding, element, ok := dh.binding(i)
		if !ok {
			continue
		}
		descriptorType := vk.DescriptorTypeSampledImage
		layout := vk.ImageLayoutShaderReadOnlyOptimal
		if binding == VULKAN_BINDING_STORAGE {
			descriptorType = vk.DescriptorTypeStorageImage
			layout = vk.ImageLayoutGeneral
		}
		writes = append(writes, vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          dh.Set,
			DstBinding:      binding,
			DstArrayElement: element,
			DescriptorCount: 1,
			DescriptorType:  descriptorType,
			PImageInfo: []vk.DescriptorImageInfo{{
				ImageView:   e.View.Handle,
				ImageLayout: layout,
			}},
		})
	}
	return writes
}

func (dh *VulkanDescriptorHeap) destroy(context *VulkanContext, retire func(*VulkanImageView)) {
	for i := range dh.Entries {
		if dh.Entries[i].Owned && dh.Entries[i].View != nil {
			retire(dh.Entries[i].View)
		}
		dh.Entries[i] = VulkanDescriptorState{}
	}
	if dh.Pool != nil {
		// Destroying the pool frees the set.
		vk.DestroyDescriptorPool(context.Device.LogicalDevice, dh.Pool, context.Allocator)
		dh.Pool = nil
		dh.Set = nil
	}
}
