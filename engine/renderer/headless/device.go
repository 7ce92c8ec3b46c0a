package headless

import (
	"fmt"
	"time"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

// DescriptorEntry is what a headless heap stores in one slot.
type DescriptorEntry struct {
	Category metadata.DescriptorCategory
	Resource string
	Format   metadata.Format
	// Number of times this slot has been written or copied into.
	Generation uint64
}

type heap struct {
	heap    *metadata.DescriptorHeap
	entries []DescriptorEntry
	written []bool
}

const baseGPUAddress uint64 = 0x1000_0000

var _ metadata.Device = (*Device)(nil)

// Device is an in-memory metadata.Device. Descriptor heaps are plain slices so
// their contents can be read back, fences complete after a configurable number
// of submissions, and failures can be injected.
type Device struct {
	heaps          map[metadata.DescriptorHeapID]*heap
	nextHeapID     metadata.DescriptorHeapID
	buffers        map[*metadata.MappedBuffer]struct{}
	nextAddress    uint64
	pipelines      map[uint32]*metadata.PipelineObject
	nextPipelineID uint32

	recording []metadata.Barrier
	submitted [][]metadata.Barrier

	submittedFence uint64
	completedFence uint64
	latency        uint64
	stalled        bool
	lost           bool

	pipelineFailure func(desc *metadata.PipelineStateDescription) error
	writeFailure    func(res *metadata.ResourceDescription) error

	Stats Stats
}

// WithWriteFailure makes WriteDescriptor fail when fn returns an error.
func WithWriteFailure(fn func(res *metadata.ResourceDescription) error) Option {
	return func(d *Device) {
		d.writeFailure = fn
	}
}

type Stats struct {
	Writes            uint64
	Copies            uint64
	CopiedDescriptors uint64
	PipelinesCreated  uint64
	Submits           uint64
	Waits             uint64
}

type Option func(*Device)

// WithFenceLatency keeps the completed fence n submissions behind the last
// submitted one until it is waited on.
func WithFenceLatency(n uint64) Option {
	return func(d *Device) {
		d.latency = n
	}
}

// WithPipelineFailure makes CreatePipelineObject fail when fn returns an error.
func WithPipelineFailure(fn func(desc *metadata.PipelineStateDescription) error) Option {
	return func(d *Device) {
		d.pipelineFailure = fn
	}
}

func New(opts ...Option) *Device {
	d := &Device{
		heaps:       make(map[metadata.DescriptorHeapID]*heap),
		buffers:     make(map[*metadata.MappedBuffer]struct{}),
		pipelines:   make(map[uint32]*metadata.PipelineObject),
		nextAddress: baseGPUAddress,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Device) CreateDescriptorHeapPage(config *metadata.DescriptorHeapConfig) (*metadata.DescriptorHeap, error) {
	if config.Capacity() == 0 {
		return nil, fmt.Errorf("descriptor heap %q has no capacity", config.Name)
	}
	if config.ShaderVisible {
		for _, r := range config.Ranges {
			if !r.Category.IsShaderVisible() {
				return nil, fmt.Errorf("descriptor heap %q: %s range cannot be shader visible", config.Name, r.Category)
			}
		}
	}
	cfg := *config
	cfg.Ranges = append([]metadata.DescriptorRange(nil), config.Ranges...)
	h := &metadata.DescriptorHeap{
		ID:     d.nextHeapID,
		Config: cfg,
	}
	d.nextHeapID++
	d.heaps[h.ID] = &heap{
		heap:    h,
		entries: make([]DescriptorEntry, cfg.Capacity()),
		written: make([]bool, cfg.Capacity()),
	}
	return h, nil
}

func (d *Device) DestroyDescriptorHeap(h *metadata.DescriptorHeap) {
	if h == nil {
		return
	}
	delete(d.heaps, h.ID)
}

func (d *Device) lookup(handle metadata.CPUDescriptorHandle, count uint32) (*heap, error) {
	h, ok := d.heaps[handle.Heap]
	if !ok {
		return nil, fmt.Errorf("unknown descriptor heap %d", handle.Heap)
	}
	if uint64(handle.Index)+uint64(count) > uint64(len(h.entries)) {
		return nil, fmt.Errorf("descriptor range [%d, %d) outside heap %d of %d entries: %w",
			handle.Index, uint64(handle.Index)+uint64(count), handle.Heap, len(h.entries), core.ErrDescriptorSlotOutOfRange)
	}
	return h, nil
}

func (d *Device) WriteDescriptor(dst metadata.CPUDescriptorHandle, category metadata.DescriptorCategory, res *metadata.ResourceDescription) error {
	h, err := d.lookup(dst, 1)
	if err != nil {
		return err
	}
	if res == nil {
		return fmt.Errorf("write descriptor: nil resource")
	}
	if d.writeFailure != nil {
		if err := d.writeFailure(res); err != nil {
			return err
		}
	}
	e := &h.entries[dst.Index]
	e.Category = category
	e.Resource = res.Name
	e.Format = res.Format
	e.Generation++
	h.written[dst.Index] = true
	d.Stats.Writes++
	return nil
}

func (d *Device) CopyDescriptorRange(dst, src metadata.CPUDescriptorHandle, count uint32) {
	dh, err := d.lookup(dst, count)
	if err != nil {
		core.LogError("copy descriptors: destination: %s", err)
		return
	}
	sh, err := d.lookup(src, count)
	if err != nil {
		core.LogError("copy descriptors: source: %s", err)
		return
	}
	for i := uint32(0); i < count; i++ {
		gen := dh.entries[dst.Index+i].Generation
		dh.entries[dst.Index+i] = sh.entries[src.Index+i]
		dh.entries[dst.Index+i].Generation = gen + 1
		dh.written[dst.Index+i] = sh.written[src.Index+i]
	}
	d.Stats.Copies++
	d.Stats.CopiedDescriptors += uint64(count)
}

// ReadDescriptor returns the entry at handle and whether anything was ever
// written there.
func (d *Device) ReadDescriptor(handle metadata.CPUDescriptorHandle) (DescriptorEntry, bool) {
	h, err := d.lookup(handle, 1)
	if err != nil {
		return DescriptorEntry{}, false
	}
	return h.entries[handle.Index], h.written[handle.Index]
}

func (d *Device) HeapCount() int {
	return len(d.heaps)
}

func (d *Device) CreateMappedBuffer(sizeBytes uint64) (*metadata.MappedBuffer, error) {
	if sizeBytes == 0 {
		return nil, fmt.Errorf("mapped buffer size must be positive")
	}
	b := &metadata.MappedBuffer{
		Size:       sizeBytes,
		Data:       make([]byte, sizeBytes),
		GPUAddress: d.nextAddress,
	}
	d.nextAddress += metadata.GetAligned(sizeBytes, 1<<16)
	d.buffers[b] = struct{}{}
	return b, nil
}

func (d *Device) DestroyMappedBuffer(b *metadata.MappedBuffer) {
	delete(d.buffers, b)
}

func (d *Device) CreatePipelineObject(desc *metadata.PipelineStateDescription) (*metadata.PipelineObject, error) {
	if d.pipelineFailure != nil {
		if err := d.pipelineFailure(desc); err != nil {
			return nil, err
		}
	}
	if desc.VertexShader.IsEmpty() {
		return nil, fmt.Errorf("pipeline %q has no vertex shader", desc.Name)
	}
	p := &metadata.PipelineObject{
		ID:           d.nextPipelineID,
		InternalData: desc.Name,
	}
	d.nextPipelineID++
	d.pipelines[p.ID] = p
	d.Stats.PipelinesCreated++
	return p, nil
}

func (d *Device) DestroyPipelineObject(p *metadata.PipelineObject) {
	if p == nil {
		return
	}
	delete(d.pipelines, p.ID)
}

func (d *Device) LivePipelines() int {
	return len(d.pipelines)
}

func (d *Device) ResourceBarrier(barriers []metadata.Barrier) {
	d.recording = append(d.recording, barriers...)
}

// SubmittedBarriers returns the barriers of every submitted frame, in order.
func (d *Device) SubmittedBarriers() [][]metadata.Barrier {
	return d.submitted
}

func (d *Device) SubmitFrame(frameIndex uint32) (uint64, error) {
	if d.lost {
		return 0, core.ErrDeviceLost
	}
	d.submitted = append(d.submitted, d.recording)
	d.recording = nil
	d.submittedFence++
	if d.submittedFence > d.latency && d.submittedFence-d.latency > d.completedFence {
		d.completedFence = d.submittedFence - d.latency
	}
	d.Stats.Submits++
	return d.submittedFence, nil
}

func (d *Device) WaitForFence(value uint64, timeout time.Duration) error {
	d.Stats.Waits++
	if d.lost {
		return core.ErrDeviceLost
	}
	if value <= d.completedFence {
		return nil
	}
	if d.stalled || value > d.submittedFence {
		return fmt.Errorf("fence %d after %s: %w", value, timeout, core.ErrFenceTimeout)
	}
	d.completedFence = value
	return nil
}

func (d *Device) CompletedFenceValue() uint64 {
	return d.completedFence
}

func (d *Device) SubmittedFenceValue() uint64 {
	return d.submittedFence
}

// Stall makes fence waits time out until cleared.
func (d *Device) Stall(stalled bool) {
	d.stalled = stalled
}

// Lose puts the device in the lost state; every later submit and wait fails.
func (d *Device) Lose() {
	d.lost = true
}

func (d *Device) Shutdown() error {
	if n := len(d.pipelines); n > 0 {
		core.LogWarn("headless device shut down with %d live pipeline objects", n)
	}
	d.heaps = make(map[metadata.DescriptorHeapID]*heap)
	d.buffers = make(map[*metadata.MappedBuffer]struct{})
	d.pipelines = make(map[uint32]*metadata.PipelineObject)
	return nil
}
