package descriptors

import (
	"fmt"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

// PersistentDescriptorHeap keeps, per category, an append-only list of pages.
// Handles stay valid until freed because pages are never reordered or removed.
type PersistentDescriptorHeap struct {
	device       metadata.Device
	pageCapacity [metadata.DescriptorCategoryCount]uint32
	pages        [metadata.DescriptorCategoryCount][]*DescriptorPage
}

func NewPersistentDescriptorHeap(device metadata.Device, pageCapacity [metadata.DescriptorCategoryCount]uint32) (*PersistentDescriptorHeap, error) {
	for c, n := range pageCapacity {
		if n == 0 {
			return nil, fmt.Errorf("%s page capacity must be positive: %w", metadata.DescriptorCategory(c), core.ErrInvalidConfig)
		}
	}
	return &PersistentDescriptorHeap{
		device:       device,
		pageCapacity: pageCapacity,
	}, nil
}

// Allocate takes the first free slot across the category's pages in creation
// order, appending a page when all of them are full.
func (h *PersistentDescriptorHeap) Allocate(category metadata.DescriptorCategory) (DescriptorSlot, error) {
	if !category.IsValid() {
		return InvalidDescriptorSlot, core.ErrInvalidDescriptorCategory
	}
	capacity := h.pageCapacity[category]
	for i, page := range h.pages[category] {
		if page.IsFull() {
			continue
		}
		slot, err := page.Allocate()
		if err != nil {
			return InvalidDescriptorSlot, err
		}
		return NewDescriptorSlot(uint32(i), slot, capacity), nil
	}

	index := uint32(len(h.pages[category]))
	page, err := NewDescriptorPage(h.device, category, capacity, fmt.Sprintf("persistent_%s_%d", category, index))
	if err != nil {
		core.LogError("failed to grow the %s persistent heap: %s", category, err)
		return InvalidDescriptorSlot, err
	}
	h.pages[category] = append(h.pages[category], page)
	core.LogDebug("%s persistent heap grew to %d pages", category, len(h.pages[category]))

	slot, err := page.Allocate()
	if err != nil {
		return InvalidDescriptorSlot, err
	}
	return NewDescriptorSlot(index, slot, capacity), nil
}

func (h *PersistentDescriptorHeap) page(category metadata.DescriptorCategory, handle DescriptorSlot) (*DescriptorPage, uint32, error) {
	if !category.IsValid() {
		return nil, 0, core.ErrInvalidDescriptorCategory
	}
	capacity := h.pageCapacity[category]
	p := handle.Page(capacity)
	if !handle.IsValid() || p >= uint32(len(h.pages[category])) {
		core.LogError("%s descriptor %d does not belong to any page", category, handle)
		return nil, 0, fmt.Errorf("%s descriptor %d: %w", category, handle, core.ErrDescriptorSlotOutOfRange)
	}
	return h.pages[category][p], handle.Slot(capacity), nil
}

func (h *PersistentDescriptorHeap) Free(category metadata.DescriptorCategory, handle DescriptorSlot) error {
	page, slot, err := h.page(category, handle)
	if err != nil {
		return err
	}
	return page.Free(slot)
}

// GetHandle resolves a persistent handle to its device location.
func (h *PersistentDescriptorHeap) GetHandle(category metadata.DescriptorCategory, handle DescriptorSlot) (metadata.CPUDescriptorHandle, error) {
	page, slot, err := h.page(category, handle)
	if err != nil {
		return metadata.InvalidCPUDescriptorHandle, err
	}
	return page.DescriptorHandle(slot)
}

// Write creates the view of res at handle.
func (h *PersistentDescriptorHeap) Write(category metadata.DescriptorCategory, handle DescriptorSlot, res *metadata.ResourceDescription) error {
	dst, err := h.GetHandle(category, handle)
	if err != nil {
		return err
	}
	if err := h.device.WriteDescriptor(dst, category, res); err != nil {
		return fmt.Errorf("failed to write %s descriptor %d: %w", category, handle, err)
	}
	return nil
}

func (h *PersistentDescriptorHeap) IsAllocated(category metadata.DescriptorCategory, handle DescriptorSlot) bool {
	if !category.IsValid() || !handle.IsValid() {
		return false
	}
	capacity := h.pageCapacity[category]
	p := handle.Page(capacity)
	if p >= uint32(len(h.pages[category])) {
		return false
	}
	return h.pages[category][p].IsTaken(handle.Slot(capacity))
}

func (h *PersistentDescriptorHeap) PageCount(category metadata.DescriptorCategory) int {
	return len(h.pages[category])
}

func (h *PersistentDescriptorHeap) PageCapacity(category metadata.DescriptorCategory) uint32 {
	return h.pageCapacity[category]
}

// Allocated returns the number of taken slots of a category.
func (h *PersistentDescriptorHeap) Allocated(category metadata.DescriptorCategory) uint32 {
	var n uint32
	for _, p := range h.pages[category] {
		n += p.Capacity() - p.FreeCount()
	}
	return n
}

func (h *PersistentDescriptorHeap) Destroy() {
	for c := range h.pages {
		for _, p := range h.pages[c] {
			p.Destroy()
		}
		h.pages[c] = nil
	}
}
