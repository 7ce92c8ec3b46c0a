package metadata

import (
	"fmt"
	"strings"
)

/** @brief The kind of view a descriptor describes. */
type DescriptorCategory uint8

const (
	/** @brief Read-only view sampled by shaders. */
	DescriptorCategoryShaderResource DescriptorCategory = iota
	/** @brief Colour attachment view. */
	DescriptorCategoryRenderTarget
	/** @brief Depth/stencil attachment view. */
	DescriptorCategoryDepthStencil
	/** @brief Read/write storage view. */
	DescriptorCategoryUnorderedAccess
	/** @brief Number of categories, not a category. */
	DescriptorCategoryCount
)

var descriptorCategoryNames = [DescriptorCategoryCount]string{
	"shader_resource",
	"render_target",
	"depth_stencil",
	"unordered_access",
}

func (c DescriptorCategory) String() string {
	if !c.IsValid() {
		return fmt.Sprintf("descriptor_category(%d)", uint8(c))
	}
	return descriptorCategoryNames[c]
}

func (c DescriptorCategory) IsValid() bool {
	return c < DescriptorCategoryCount
}

/** @brief Shader-resource and unordered-access views can be bound as shader tables. */
func (c DescriptorCategory) IsShaderVisible() bool {
	return c == DescriptorCategoryShaderResource || c == DescriptorCategoryUnorderedAccess
}

func (c *DescriptorCategory) UnmarshalText(text []byte) error {
	s := strings.ToLower(string(text))
	for i, name := range descriptorCategoryNames {
		if name == s {
			*c = DescriptorCategory(i)
			return nil
		}
	}
	return fmt.Errorf("unknown descriptor category %q", string(text))
}

func (c DescriptorCategory) MarshalText() ([]byte, error) {
	if !c.IsValid() {
		return nil, fmt.Errorf("invalid descriptor category %d", uint8(c))
	}
	return []byte(c.String()), nil
}

/** @brief Identifies a heap created by a Device. */
type DescriptorHeapID uint32

const InvalidDescriptorHeapID = DescriptorHeapID(InvalidID)

/**
 * @brief CPU side location of a descriptor: the heap plus the index of the
 * entry within it. Used as source and destination of writes and copies.
 */
type CPUDescriptorHandle struct {
	Heap  DescriptorHeapID
	Index uint32
}

var InvalidCPUDescriptorHandle = CPUDescriptorHandle{Heap: InvalidDescriptorHeapID, Index: InvalidID}

func (h CPUDescriptorHandle) IsValid() bool {
	return h.Heap != InvalidDescriptorHeapID && h.Index != InvalidID
}

/** @brief Returns the handle n entries further in the same heap. */
func (h CPUDescriptorHandle) Offset(n uint32) CPUDescriptorHandle {
	return CPUDescriptorHandle{Heap: h.Heap, Index: h.Index + n}
}

/** @brief Shader visible location of a descriptor, bound to draws. */
type GPUDescriptorHandle struct {
	Heap  DescriptorHeapID
	Index uint32
}

var InvalidGPUDescriptorHandle = GPUDescriptorHandle{Heap: InvalidDescriptorHeapID, Index: InvalidID}

func (h GPUDescriptorHandle) IsValid() bool {
	return h.Heap != InvalidDescriptorHeapID && h.Index != InvalidID
}

/** @brief A contiguous run of entries of one category within a heap. */
type DescriptorRange struct {
	Category DescriptorCategory
	Count    uint32
}

/**
 * @brief Describes a heap to create. Ranges are laid out in order, so the
 * first entry of range i is at the sum of the counts of ranges 0..i-1.
 */
type DescriptorHeapConfig struct {
	/** @brief Debug name. */
	Name string
	/** @brief Ordered ranges making up the heap. */
	Ranges []DescriptorRange
	/** @brief Whether the heap can be bound to draws. Only shader-resource and unordered-access ranges may be. */
	ShaderVisible bool
}

func (c *DescriptorHeapConfig) Capacity() uint32 {
	var n uint32
	for _, r := range c.Ranges {
		n += r.Count
	}
	return n
}

/** @brief Returns the first entry of the range holding the category, or false if there is none. */
func (c *DescriptorHeapConfig) RangeStart(category DescriptorCategory) (uint32, bool) {
	var start uint32
	for _, r := range c.Ranges {
		if r.Category == category {
			return start, true
		}
		start += r.Count
	}
	return 0, false
}

/** @brief A block of descriptor storage created by a Device. */
type DescriptorHeap struct {
	ID     DescriptorHeapID
	Config DescriptorHeapConfig
	/** @brief Backend specific data. */
	InternalData interface{}
}

func (h *DescriptorHeap) Capacity() uint32 {
	return h.Config.Capacity()
}

func (h *DescriptorHeap) CPUHandle(index uint32) CPUDescriptorHandle {
	return CPUDescriptorHandle{Heap: h.ID, Index: index}
}

func (h *DescriptorHeap) GPUHandle(index uint32) GPUDescriptorHandle {
	if !h.Config.ShaderVisible {
		return InvalidGPUDescriptorHandle
	}
	return GPUDescriptorHandle{Heap: h.ID, Index: index}
}
