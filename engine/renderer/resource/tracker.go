package resource

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/descriptors"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

type Stats struct {
	Live        int
	Transitions uint64
	// Requests for the state a resource was already in.
	Redundant uint64
	Flushes   uint64
}

// Tracker owns the live resources and batches the barriers their transitions
// produce until the renderer flushes them into the command stream. It
// assumes a single recording thread.
type Tracker struct {
	ids       *core.IdentifierPool
	resources map[uint32]*GPUResource
	pending   []metadata.Barrier
	stats     Stats
}

func NewTracker() *Tracker {
	return &Tracker{
		ids:       core.NewIdentifierPool(64),
		resources: make(map[uint32]*GPUResource),
	}
}

// Create registers a resource. Resources without a name get a random one.
func (t *Tracker) Create(desc metadata.ResourceDescription, initial metadata.ResourceState) (*GPUResource, error) {
	if !initial.IsValid() {
		return nil, fmt.Errorf("invalid initial state %s", initial)
	}
	if desc.Name == "" {
		desc.Name = fmt.Sprintf("resource-%s", uuid.NewString())
	}
	r := newGPUResource(0, desc, initial)
	r.ID = t.ids.AquireNewID(r)
	t.resources[r.ID] = r
	core.LogDebug("resource %d %q created in state %s", r.ID, r.Name, initial)
	return r, nil
}

func (t *Tracker) Get(id uint32) (*GPUResource, bool) {
	r, ok := t.resources[id]
	return r, ok
}

// Destroy unregisters the resource and returns the descriptors it still held
// so the caller can release them once the device is done with them.
func (t *Tracker) Destroy(r *GPUResource) ([metadata.DescriptorCategoryCount]descriptors.DescriptorSlot, error) {
	var held [metadata.DescriptorCategoryCount]descriptors.DescriptorSlot
	if r == nil || r.destroyed {
		return held, fmt.Errorf("resource already destroyed")
	}
	if err := t.ids.ReleaseID(r.ID); err != nil {
		return held, err
	}
	delete(t.resources, r.ID)
	held = r.descriptors
	for i := range r.descriptors {
		r.descriptors[i] = descriptors.InvalidDescriptorSlot
	}
	r.destroyed = true
	return held, nil
}

// Transition queues the barrier for r if its state changes.
func (t *Tracker) Transition(r *GPUResource, newState metadata.ResourceState) (metadata.Barrier, bool) {
	if r.destroyed {
		core.LogError("transition of destroyed resource %d %q", r.ID, r.Name)
		return metadata.Barrier{}, false
	}
	b, ok := r.Transition(newState)
	if !ok {
		t.stats.Redundant++
		return b, false
	}
	t.stats.Transitions++
	t.pending = append(t.pending, b)
	return b, true
}

// Pending returns the barriers queued since the last flush, in issue order.
func (t *Tracker) Pending() []metadata.Barrier {
	return t.pending
}

// FlushBarriers records the queued barriers on device and returns how many
// there were.
func (t *Tracker) FlushBarriers(device metadata.Device) int {
	n := len(t.pending)
	if n == 0 {
		return 0
	}
	device.ResourceBarrier(t.pending)
	t.pending = nil
	t.stats.Flushes++
	return n
}

func (t *Tracker) Len() int {
	return len(t.resources)
}

func (t *Tracker) Stats() Stats {
	s := t.stats
	s.Live = len(t.resources)
	return s
}
