package descriptors

import "github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"

// DescriptorSlot is a persistent descriptor handle: page*pageCapacity + slot
// for the category it was allocated from.
type DescriptorSlot uint32

const InvalidDescriptorSlot = DescriptorSlot(metadata.InvalidID)

func NewDescriptorSlot(page, slot, pageCapacity uint32) DescriptorSlot {
	return DescriptorSlot(page*pageCapacity + slot)
}

func (s DescriptorSlot) IsValid() bool {
	return s != InvalidDescriptorSlot
}

func (s DescriptorSlot) Page(pageCapacity uint32) uint32 {
	return uint32(s) / pageCapacity
}

func (s DescriptorSlot) Slot(pageCapacity uint32) uint32 {
	return uint32(s) % pageCapacity
}
