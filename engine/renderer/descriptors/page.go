package descriptors

import (
	"fmt"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

// DescriptorPage is a fixed-capacity slot allocator over one device heap of a
// single descriptor category.
type DescriptorPage struct {
	device    metadata.Device
	category  metadata.DescriptorCategory
	heap      *metadata.DescriptorHeap
	taken     []bool
	freeCount uint32
}

func NewDescriptorPage(device metadata.Device, category metadata.DescriptorCategory, capacity uint32, name string) (*DescriptorPage, error) {
	if !category.IsValid() {
		return nil, fmt.Errorf("descriptor page %q: %w", name, core.ErrInvalidDescriptorCategory)
	}
	if capacity == 0 {
		return nil, fmt.Errorf("descriptor page %q: capacity must be positive", name)
	}
	heap, err := device.CreateDescriptorHeapPage(&metadata.DescriptorHeapConfig{
		Name:   name,
		Ranges: []metadata.DescriptorRange{{Category: category, Count: capacity}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create descriptor page %q: %w", name, err)
	}
	return &DescriptorPage{
		device:    device,
		category:  category,
		heap:      heap,
		taken:     make([]bool, capacity),
		freeCount: capacity,
	}, nil
}

// Allocate takes the first free slot.
func (p *DescriptorPage) Allocate() (uint32, error) {
	if p.freeCount == 0 {
		return metadata.InvalidID, core.ErrDescriptorPageExhausted
	}
	for i := range p.taken {
		if !p.taken[i] {
			p.taken[i] = true
			p.freeCount--
			return uint32(i), nil
		}
	}
	// freeCount says there is room but every slot is taken.
	core.LogError("%s descriptor page %d: free count %d does not match its slots", p.category, p.heap.ID, p.freeCount)
	return metadata.InvalidID, fmt.Errorf("descriptor page free count out of sync: %w", core.ErrUnknown)
}

// Free releases a taken slot. Freeing a free slot is a bookkeeping error and
// leaves the page unchanged.
func (p *DescriptorPage) Free(slot uint32) error {
	if slot >= uint32(len(p.taken)) {
		core.LogError("%s descriptor page %d: free of slot %d outside capacity %d", p.category, p.heap.ID, slot, len(p.taken))
		return fmt.Errorf("free slot %d: %w", slot, core.ErrDescriptorSlotOutOfRange)
	}
	if !p.taken[slot] {
		core.LogError("%s descriptor page %d: double free of slot %d", p.category, p.heap.ID, slot)
		return fmt.Errorf("free slot %d: %w", slot, core.ErrDescriptorDoubleFree)
	}
	p.taken[slot] = false
	p.freeCount++
	return nil
}

// DescriptorHandle returns the device location of slot. A free slot still
// yields its handle, with a warning.
func (p *DescriptorPage) DescriptorHandle(slot uint32) (metadata.CPUDescriptorHandle, error) {
	if slot >= uint32(len(p.taken)) {
		core.LogError("%s descriptor page %d: slot %d outside capacity %d", p.category, p.heap.ID, slot, len(p.taken))
		return metadata.InvalidCPUDescriptorHandle, fmt.Errorf("slot %d: %w", slot, core.ErrDescriptorSlotOutOfRange)
	}
	if !p.taken[slot] {
		core.LogWarn("%s descriptor page %d: handle requested for free slot %d", p.category, p.heap.ID, slot)
	}
	return p.heap.CPUHandle(slot), nil
}

func (p *DescriptorPage) IsTaken(slot uint32) bool {
	return slot < uint32(len(p.taken)) && p.taken[slot]
}

func (p *DescriptorPage) IsFull() bool {
	return p.freeCount == 0
}

func (p *DescriptorPage) IsEmpty() bool {
	return p.freeCount == uint32(len(p.taken))
}

func (p *DescriptorPage) FreeCount() uint32 {
	return p.freeCount
}

func (p *DescriptorPage) Capacity() uint32 {
	return uint32(len(p.taken))
}

func (p *DescriptorPage) Category() metadata.DescriptorCategory {
	return p.category
}

func (p *DescriptorPage) Heap() *metadata.DescriptorHeap {
	return p.heap
}

func (p *DescriptorPage) Destroy() {
	if p.heap != nil {
		p.device.DestroyDescriptorHeap(p.heap)
		p.heap = nil
	}
}
