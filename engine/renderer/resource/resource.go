package resource

import (
	"github.com/spaghettifunk/anima-rhi/engine/renderer/descriptors"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

// GPUResource is a device-backed resource with its current usage state and
// the persistent descriptors allocated for it, at most one per category.
type GPUResource struct {
	ID          uint32
	Name        string
	Description metadata.ResourceDescription

	currentState metadata.ResourceState
	descriptors  [metadata.DescriptorCategoryCount]descriptors.DescriptorSlot
	destroyed    bool
}

func newGPUResource(id uint32, desc metadata.ResourceDescription, initial metadata.ResourceState) *GPUResource {
	r := &GPUResource{
		ID:           id,
		Name:         desc.Name,
		Description:  desc,
		currentState: initial,
	}
	for i := range r.descriptors {
		r.descriptors[i] = descriptors.InvalidDescriptorSlot
	}
	return r
}

// Transition moves the resource to newState. It returns the barrier to record
// before the operation needing newState, or false when the resource is
// already in that state. The state is updated immediately.
func (r *GPUResource) Transition(newState metadata.ResourceState) (metadata.Barrier, bool) {
	if newState == r.currentState {
		return metadata.Barrier{}, false
	}
	b := metadata.Barrier{
		ResourceID: r.ID,
		Resource:   &r.Description,
		Before:     r.currentState,
		After:      newState,
	}
	r.currentState = newState
	return b, true
}

func (r *GPUResource) CurrentState() metadata.ResourceState {
	return r.currentState
}

// Descriptor returns the persistent descriptor of category, or
// InvalidDescriptorSlot if none was allocated yet.
func (r *GPUResource) Descriptor(category metadata.DescriptorCategory) descriptors.DescriptorSlot {
	if !category.IsValid() {
		return descriptors.InvalidDescriptorSlot
	}
	return r.descriptors[category]
}

func (r *GPUResource) SetDescriptor(category metadata.DescriptorCategory, slot descriptors.DescriptorSlot) {
	r.descriptors[category] = slot
}

func (r *GPUResource) IsDestroyed() bool {
	return r.destroyed
}
