package descriptors

import (
	"fmt"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

// One frame in flight worth of heaps. Shader-resource and unordered-access
// descriptors share the shader visible heap, shader-resource range first.
type frameHeaps struct {
	shaderVisible *metadata.DescriptorHeap
	renderTarget  *metadata.DescriptorHeap
	depthStencil  *metadata.DescriptorHeap
}

func (f *frameHeaps) heap(category metadata.DescriptorCategory) *metadata.DescriptorHeap {
	switch category {
	case metadata.DescriptorCategoryShaderResource, metadata.DescriptorCategoryUnorderedAccess:
		return f.shaderVisible
	case metadata.DescriptorCategoryRenderTarget:
		return f.renderTarget
	case metadata.DescriptorCategoryDepthStencil:
		return f.depthStencil
	}
	return nil
}

// FrameDescriptorHeap holds a device visible copy of the descriptors each
// frame in flight references. StartFrame resets the bump cursors of the frame
// being recorded; the heaps of the other frames are left untouched.
type FrameDescriptorHeap struct {
	device     metadata.Device
	persistent *PersistentDescriptorHeap
	reserved   [metadata.DescriptorCategoryCount]uint32
	start      [metadata.DescriptorCategoryCount]uint32
	cursor     [metadata.DescriptorCategoryCount]uint32
	frames     []frameHeaps
	current    uint32
	started    bool

	overflowed [metadata.DescriptorCategoryCount]bool
	overflows  uint64
}

func NewFrameDescriptorHeap(device metadata.Device, persistent *PersistentDescriptorHeap, framesInFlight uint32, reserved [metadata.DescriptorCategoryCount]uint32) (*FrameDescriptorHeap, error) {
	if framesInFlight == 0 {
		return nil, fmt.Errorf("frame descriptor heap needs at least one frame: %w", core.ErrInvalidConfig)
	}
	fh := &FrameDescriptorHeap{
		device:     device,
		persistent: persistent,
		reserved:   reserved,
		frames:     make([]frameHeaps, framesInFlight),
	}
	fh.start[metadata.DescriptorCategoryUnorderedAccess] = reserved[metadata.DescriptorCategoryShaderResource]

	for i := range fh.frames {
		if err := fh.createFrame(uint32(i)); err != nil {
			fh.Destroy()
			return nil, err
		}
	}
	return fh, nil
}

func (fh *FrameDescriptorHeap) createFrame(index uint32) error {
	f := &fh.frames[index]
	var err error

	srv := fh.reserved[metadata.DescriptorCategoryShaderResource]
	uav := fh.reserved[metadata.DescriptorCategoryUnorderedAccess]
	if srv+uav > 0 {
		// Empty ranges are left out; the unordered access range always starts
		// at reserved[shader_resource].
		var ranges []metadata.DescriptorRange
		if srv > 0 {
			ranges = append(ranges, metadata.DescriptorRange{Category: metadata.DescriptorCategoryShaderResource, Count: srv})
		}
		if uav > 0 {
			ranges = append(ranges, metadata.DescriptorRange{Category: metadata.DescriptorCategoryUnorderedAccess, Count: uav})
		}
		f.shaderVisible, err = fh.device.CreateDescriptorHeapPage(&metadata.DescriptorHeapConfig{
			Name:          fmt.Sprintf("frame_%d_shader_visible", index),
			Ranges:        ranges,
			ShaderVisible: true,
		})
		if err != nil {
			return fmt.Errorf("failed to create frame %d shader visible heap: %w", index, err)
		}
	}
	if n := fh.reserved[metadata.DescriptorCategoryRenderTarget]; n > 0 {
		f.renderTarget, err = fh.device.CreateDescriptorHeapPage(&metadata.DescriptorHeapConfig{
			Name:   fmt.Sprintf("frame_%d_render_target", index),
			Ranges: []metadata.DescriptorRange{{Category: metadata.DescriptorCategoryRenderTarget, Count: n}},
		})
		if err != nil {
			return fmt.Errorf("failed to create frame %d render target heap: %w", index, err)
		}
	}
	if n := fh.reserved[metadata.DescriptorCategoryDepthStencil]; n > 0 {
		f.depthStencil, err = fh.device.CreateDescriptorHeapPage(&metadata.DescriptorHeapConfig{
			Name:   fmt.Sprintf("frame_%d_depth_stencil", index),
			Ranges: []metadata.DescriptorRange{{Category: metadata.DescriptorCategoryDepthStencil, Count: n}},
		})
		if err != nil {
			return fmt.Errorf("failed to create frame %d depth stencil heap: %w", index, err)
		}
	}
	return nil
}

// StartFrame selects the heaps of frameIndex and resets every cursor to the
// start of its category range.
func (fh *FrameDescriptorHeap) StartFrame(frameIndex uint32) error {
	if frameIndex >= uint32(len(fh.frames)) {
		return fmt.Errorf("frame index %d outside %d frames in flight", frameIndex, len(fh.frames))
	}
	fh.current = frameIndex
	fh.cursor = fh.start
	fh.overflowed = [metadata.DescriptorCategoryCount]bool{}
	fh.started = true
	return nil
}

func (fh *FrameDescriptorHeap) reserve(category metadata.DescriptorCategory, count uint32) (*metadata.DescriptorHeap, uint32, error) {
	if !fh.started {
		return nil, 0, core.ErrNotRecording
	}
	if !category.IsValid() {
		return nil, 0, core.ErrInvalidDescriptorCategory
	}
	used := fh.cursor[category] - fh.start[category]
	if uint64(used)+uint64(count) > uint64(fh.reserved[category]) {
		fh.overflows++
		if !fh.overflowed[category] {
			fh.overflowed[category] = true
			core.LogError("frame %d %s descriptor heap overflow: %d used, %d requested, %d reserved",
				fh.current, category, used, count, fh.reserved[category])
		} else {
			core.LogDebug("frame %d %s descriptor heap still overflowing", fh.current, category)
		}
		return nil, 0, fmt.Errorf("frame %d %s: %w", fh.current, category, core.ErrFrameHeapOverflow)
	}
	index := fh.cursor[category]
	fh.cursor[category] += count
	return fh.frames[fh.current].heap(category), index, nil
}

// CopyDescriptor copies one persistent descriptor into the current frame's
// heap. The persistent descriptor stays valid. On overflow the handles are
// invalid and nothing already copied this frame is touched.
func (fh *FrameDescriptorHeap) CopyDescriptor(category metadata.DescriptorCategory, handle DescriptorSlot) (metadata.CPUDescriptorHandle, metadata.GPUDescriptorHandle, error) {
	src, err := fh.persistent.GetHandle(category, handle)
	if err != nil {
		return metadata.InvalidCPUDescriptorHandle, metadata.InvalidGPUDescriptorHandle, err
	}
	heap, index, err := fh.reserve(category, 1)
	if err != nil {
		return metadata.InvalidCPUDescriptorHandle, metadata.InvalidGPUDescriptorHandle, err
	}
	dst := heap.CPUHandle(index)
	fh.device.CopyDescriptorRange(dst, src, 1)
	return dst, heap.GPUHandle(index), nil
}

// CopyDescriptors copies handles into consecutive entries and returns the
// first, so they can be bound as one table. Either all are copied or none.
func (fh *FrameDescriptorHeap) CopyDescriptors(category metadata.DescriptorCategory, handles []DescriptorSlot) (metadata.CPUDescriptorHandle, metadata.GPUDescriptorHandle, error) {
	if len(handles) == 0 {
		return metadata.InvalidCPUDescriptorHandle, metadata.InvalidGPUDescriptorHandle, nil
	}
	srcs := make([]metadata.CPUDescriptorHandle, len(handles))
	for i, h := range handles {
		src, err := fh.persistent.GetHandle(category, h)
		if err != nil {
			return metadata.InvalidCPUDescriptorHandle, metadata.InvalidGPUDescriptorHandle, err
		}
		srcs[i] = src
	}
	heap, index, err := fh.reserve(category, uint32(len(handles)))
	if err != nil {
		return metadata.InvalidCPUDescriptorHandle, metadata.InvalidGPUDescriptorHandle, err
	}
	base := heap.CPUHandle(index)
	for i, src := range srcs {
		fh.device.CopyDescriptorRange(base.Offset(uint32(i)), src, 1)
	}
	return base, heap.GPUHandle(index), nil
}

// Used returns how many descriptors of category were copied this frame.
func (fh *FrameDescriptorHeap) Used(category metadata.DescriptorCategory) uint32 {
	return fh.cursor[category] - fh.start[category]
}

func (fh *FrameDescriptorHeap) Reserved(category metadata.DescriptorCategory) uint32 {
	return fh.reserved[category]
}

// Overflows counts every rejected copy since creation.
func (fh *FrameDescriptorHeap) Overflows() uint64 {
	return fh.overflows
}

func (fh *FrameDescriptorHeap) FrameCount() uint32 {
	return uint32(len(fh.frames))
}

func (fh *FrameDescriptorHeap) CurrentFrame() uint32 {
	return fh.current
}

// ShaderVisibleHeap is the heap to bind for draws recorded this frame.
func (fh *FrameDescriptorHeap) ShaderVisibleHeap() *metadata.DescriptorHeap {
	return fh.frames[fh.current].shaderVisible
}

// Heap returns the heap holding category for the given frame.
func (fh *FrameDescriptorHeap) Heap(frameIndex uint32, category metadata.DescriptorCategory) *metadata.DescriptorHeap {
	if frameIndex >= uint32(len(fh.frames)) {
		return nil
	}
	return fh.frames[frameIndex].heap(category)
}

// EndFrame stops accepting copies until the next StartFrame.
func (fh *FrameDescriptorHeap) EndFrame() {
	fh.started = false
}

func (fh *FrameDescriptorHeap) Destroy() {
	for i := range fh.frames {
		f := &fh.frames[i]
		for _, h := range []*metadata.DescriptorHeap{f.shaderVisible, f.renderTarget, f.depthStencil} {
			if h != nil {
				fh.device.DestroyDescriptorHeap(h)
			}
		}
		*f = frameHeaps{}
	}
	fh.started = false
}
