package renderer

import (
	"errors"
	"fmt"
	"time"

	"github.com/spaghettifunk/anima-rhi/engine/config"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/constants"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/descriptors"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/resource"
)

// FrameListener is told when recording of a frame starts.
type FrameListener interface {
	StartFrame(frameIndex uint32)
}

type deferredRelease struct {
	// Zero until the frame that queued the release is submitted.
	fence    uint64
	assigned bool
	release  func()
}

type descriptorKey struct {
	category metadata.DescriptorCategory
	slot     descriptors.DescriptorSlot
}

type Stats struct {
	FrameNumber       uint64
	FramesAbandoned   uint64
	PersistentPages   [metadata.DescriptorCategoryCount]int
	PersistentInUse   [metadata.DescriptorCategoryCount]uint32
	FrameHeapUsed     [metadata.DescriptorCategoryCount]uint32
	FrameHeapOverflow uint64
	DeferredPending   int
	DeferredReleased  uint64
	Constants         constants.Stats
	Resources         resource.Stats
}

// Renderer owns the descriptor heaps, the constant ring and the resource
// tracker, and paces frames over the device. Everything is called from the
// render thread.
type Renderer struct {
	device       metadata.Device
	persistent   *descriptors.PersistentDescriptorHeap
	frameHeap    *descriptors.FrameDescriptorHeap
	constants    *constants.ConstantRingHeap
	tracker      *resource.Tracker
	fenceTimeout time.Duration

	framesInFlight uint32
	frameNumber    uint64
	frameIndex     uint32
	recording      bool
	slotFences     []uint64
	lastSubmitted  uint64

	deferred        []deferredRelease
	pendingFree     map[descriptorKey]struct{}
	listeners       []FrameListener
	abandoned       uint64
	releasedCounter uint64
}

func New(cfg *config.Config, device metadata.Device) (*Renderer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	persistent, err := descriptors.NewPersistentDescriptorHeap(device, cfg.Descriptors.PageCapacity.Array())
	if err != nil {
		return nil, err
	}
	frameHeap, err := descriptors.NewFrameDescriptorHeap(device, persistent, cfg.Renderer.FramesInFlight, cfg.Descriptors.FrameReserved.Array())
	if err != nil {
		persistent.Destroy()
		return nil, err
	}
	policy, err := constants.ParseOverrunPolicy(cfg.Constants.OverrunPolicy)
	if err != nil {
		frameHeap.Destroy()
		persistent.Destroy()
		return nil, err
	}
	ring, err := constants.NewConstantRingHeap(device, cfg.Constants.RingSize, cfg.Constants.Alignment, policy, cfg.FenceTimeout())
	if err != nil {
		frameHeap.Destroy()
		persistent.Destroy()
		return nil, err
	}

	core.LogInfo("renderer ready: %d frames in flight, %d byte constant ring (%s on overrun)",
		cfg.Renderer.FramesInFlight, cfg.Constants.RingSize, policy)

	return &Renderer{
		device:         device,
		persistent:     persistent,
		frameHeap:      frameHeap,
		constants:      ring,
		tracker:        resource.NewTracker(),
		fenceTimeout:   cfg.FenceTimeout(),
		framesInFlight: cfg.Renderer.FramesInFlight,
		slotFences:     make([]uint64, cfg.Renderer.FramesInFlight),
		pendingFree:    make(map[descriptorKey]struct{}),
	}, nil
}

func (r *Renderer) AddFrameListener(l FrameListener) {
	r.listeners = append(r.listeners, l)
}

func (r *Renderer) AllocatePersistentDescriptor(category metadata.DescriptorCategory) (descriptors.DescriptorSlot, error) {
	return r.persistent.Allocate(category)
}

// WriteDescriptor creates the view of res at a persistent descriptor.
func (r *Renderer) WriteDescriptor(category metadata.DescriptorCategory, slot descriptors.DescriptorSlot, res *metadata.ResourceDescription) error {
	return r.persistent.Write(category, slot, res)
}

// FreeDescriptor releases a persistent descriptor once every frame that may
// reference it has completed on the device.
func (r *Renderer) FreeDescriptor(category metadata.DescriptorCategory, slot descriptors.DescriptorSlot) error {
	key := descriptorKey{category: category, slot: slot}
	if _, ok := r.pendingFree[key]; ok || !r.persistent.IsAllocated(category, slot) {
		core.LogError("%s descriptor %d freed twice", category, slot)
		return fmt.Errorf("%s descriptor %d: %w", category, slot, core.ErrDescriptorDoubleFree)
	}
	r.pendingFree[key] = struct{}{}
	r.DeferRelease(func() {
		delete(r.pendingFree, key)
		if err := r.persistent.Free(category, slot); err != nil {
			core.LogError("deferred free of %s descriptor %d: %s", category, slot, err)
		}
	})
	return nil
}

// DeferRelease runs release once the device has finished every frame
// submitted so far, including the one being recorded.
func (r *Renderer) DeferRelease(release func()) {
	d := deferredRelease{release: release}
	if !r.recording {
		d.fence = r.lastSubmitted
		d.assigned = true
	}
	r.deferred = append(r.deferred, d)
}

func (r *Renderer) processDeferred() {
	if len(r.deferred) == 0 {
		return
	}
	completed := r.device.CompletedFenceValue()
	kept := r.deferred[:0]
	for _, d := range r.deferred {
		if d.assigned && d.fence <= completed {
			d.release()
			r.releasedCounter++
			continue
		}
		kept = append(kept, d)
	}
	for i := len(kept); i < len(r.deferred); i++ {
		r.deferred[i] = deferredRelease{}
	}
	r.deferred = kept
}

// StartFrame resets the per-frame state of frameIndex. BeginFrame calls it
// after the frame's previous fence has been waited on.
func (r *Renderer) StartFrame(frameIndex uint32) error {
	if err := r.frameHeap.StartFrame(frameIndex); err != nil {
		return err
	}
	r.frameIndex = frameIndex
	for _, l := range r.listeners {
		l.StartFrame(frameIndex)
	}
	return nil
}

// BeginFrame waits until the device is done with the resources of the next
// frame in flight and starts recording into them. This is the only call that
// blocks.
func (r *Renderer) BeginFrame() error {
	if r.recording {
		return fmt.Errorf("frame %d is already being recorded", r.frameNumber)
	}
	slot := uint32(r.frameNumber % uint64(r.framesInFlight))
	if fence := r.slotFences[slot]; fence != 0 {
		if err := r.device.WaitForFence(fence, r.fenceTimeout); err != nil {
			r.abandoned++
			core.LogError("frame %d abandoned, fence %d of slot %d failed: %s", r.frameNumber, fence, slot, err)
			return fmt.Errorf("frame %d: %w: %w", r.frameNumber, core.ErrFrameAbandoned, err)
		}
	}
	r.processDeferred()

	if err := r.StartFrame(slot); err != nil {
		return err
	}
	r.recording = true
	return nil
}

// EndFrame flushes pending barriers and submits the frame.
func (r *Renderer) EndFrame() error {
	if !r.recording {
		return core.ErrNotRecording
	}
	r.tracker.FlushBarriers(r.device)
	r.frameHeap.EndFrame()
	r.recording = false

	slot := r.frameIndex
	number := r.frameNumber
	r.frameNumber++

	fence, err := r.device.SubmitFrame(slot)
	if err != nil {
		r.abandoned++
		core.LogError("frame %d submit failed: %s", number, err)
		return fmt.Errorf("frame %d: %w: %w", number, core.ErrFrameAbandoned, err)
	}
	r.slotFences[slot] = fence
	r.lastSubmitted = fence
	r.constants.FinishFrame(fence)
	for i := range r.deferred {
		if !r.deferred[i].assigned {
			r.deferred[i].fence = fence
			r.deferred[i].assigned = true
		}
	}
	r.processDeferred()
	return nil
}

// CopyIntoFrameHeap copies a persistent descriptor into the frame being
// recorded and returns the handles to bind.
func (r *Renderer) CopyIntoFrameHeap(category metadata.DescriptorCategory, slot descriptors.DescriptorSlot) (metadata.CPUDescriptorHandle, metadata.GPUDescriptorHandle, error) {
	if !r.recording {
		return metadata.InvalidCPUDescriptorHandle, metadata.InvalidGPUDescriptorHandle, core.ErrNotRecording
	}
	return r.frameHeap.CopyDescriptor(category, slot)
}

// CopyTableIntoFrameHeap copies slots into consecutive entries of the frame
// being recorded.
func (r *Renderer) CopyTableIntoFrameHeap(category metadata.DescriptorCategory, slots []descriptors.DescriptorSlot) (metadata.GPUDescriptorHandle, error) {
	if !r.recording {
		return metadata.InvalidGPUDescriptorHandle, core.ErrNotRecording
	}
	_, gpu, err := r.frameHeap.CopyDescriptors(category, slots)
	return gpu, err
}

// WriteConstants streams data through the ring and returns its GPU address.
func (r *Renderer) WriteConstants(data []byte) (uint64, error) {
	if !r.recording {
		return 0, core.ErrNotRecording
	}
	offset, err := r.constants.Write(data)
	if err != nil {
		return 0, err
	}
	return r.constants.GPUAddress(offset), nil
}

// Transition queues the barrier moving res to state. It reports false when
// res is already in that state.
func (r *Renderer) Transition(res *resource.GPUResource, state metadata.ResourceState) (metadata.Barrier, bool, error) {
	if !r.recording {
		return metadata.Barrier{}, false, core.ErrNotRecording
	}
	b, ok := r.tracker.Transition(res, state)
	return b, ok, nil
}

func (r *Renderer) CreateResource(desc metadata.ResourceDescription, initial metadata.ResourceState) (*resource.GPUResource, error) {
	return r.tracker.Create(desc, initial)
}

// DestroyResource unregisters res and frees its descriptors once the device
// no longer reads them.
func (r *Renderer) DestroyResource(res *resource.GPUResource) error {
	held, err := r.tracker.Destroy(res)
	if err != nil {
		return err
	}
	var errs []error
	for c, slot := range held {
		if slot.IsValid() {
			errs = append(errs, r.FreeDescriptor(metadata.DescriptorCategory(c), slot))
		}
	}
	return errors.Join(errs...)
}

// ResourceDescriptor returns the persistent descriptor of res for category,
// allocating and writing it on first use.
func (r *Renderer) ResourceDescriptor(res *resource.GPUResource, category metadata.DescriptorCategory) (descriptors.DescriptorSlot, error) {
	if res.IsDestroyed() {
		return descriptors.InvalidDescriptorSlot, fmt.Errorf("resource %q is destroyed", res.Name)
	}
	if slot := res.Descriptor(category); slot.IsValid() {
		return slot, nil
	}
	slot, err := r.persistent.Allocate(category)
	if err != nil {
		return descriptors.InvalidDescriptorSlot, err
	}
	if err := r.persistent.Write(category, slot, &res.Description); err != nil {
		if ferr := r.persistent.Free(category, slot); ferr != nil {
			core.LogError("resource %q: releasing %s descriptor %d after a failed write: %s", res.Name, category, slot, ferr)
		}
		return descriptors.InvalidDescriptorSlot, err
	}
	res.SetDescriptor(category, slot)
	return slot, nil
}

func (r *Renderer) Device() metadata.Device {
	return r.device
}

func (r *Renderer) PersistentHeap() *descriptors.PersistentDescriptorHeap {
	return r.persistent
}

func (r *Renderer) FrameHeap() *descriptors.FrameDescriptorHeap {
	return r.frameHeap
}

func (r *Renderer) Constants() *constants.ConstantRingHeap {
	return r.constants
}

func (r *Renderer) Tracker() *resource.Tracker {
	return r.tracker
}

func (r *Renderer) FrameIndex() uint32 {
	return r.frameIndex
}

func (r *Renderer) FrameNumber() uint64 {
	return r.frameNumber
}

func (r *Renderer) FramesInFlight() uint32 {
	return r.framesInFlight
}

func (r *Renderer) IsRecording() bool {
	return r.recording
}

func (r *Renderer) Stats() Stats {
	s := Stats{
		FrameNumber:       r.frameNumber,
		FramesAbandoned:   r.abandoned,
		FrameHeapOverflow: r.frameHeap.Overflows(),
		DeferredPending:   len(r.deferred),
		DeferredReleased:  r.releasedCounter,
		Constants:         r.constants.Stats(),
		Resources:         r.tracker.Stats(),
	}
	for c := metadata.DescriptorCategory(0); c < metadata.DescriptorCategoryCount; c++ {
		s.PersistentPages[c] = r.persistent.PageCount(c)
		s.PersistentInUse[c] = r.persistent.Allocated(c)
		s.FrameHeapUsed[c] = r.frameHeap.Used(c)
	}
	return s
}

// Shutdown waits for the device to go idle, runs every deferred release and
// destroys the heaps and the device.
func (r *Renderer) Shutdown() error {
	if r.recording {
		core.LogWarn("renderer shut down while recording frame %d", r.frameNumber)
		r.frameHeap.EndFrame()
		r.recording = false
	}
	var waitErr error
	if r.lastSubmitted > 0 {
		if err := r.device.WaitForFence(r.lastSubmitted, r.fenceTimeout); err != nil {
			core.LogError("failed to wait for the device to go idle: %s", err)
			waitErr = err
		}
	}
	for _, d := range r.deferred {
		d.release()
	}
	r.deferred = nil

	r.constants.Destroy()
	r.frameHeap.Destroy()
	r.persistent.Destroy()
	return errors.Join(waitErr, r.device.Shutdown())
}
