package constants

import (
	"fmt"
	"time"

	"github.com/spaghettifunk/anima-rhi/engine/containers"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

// OverrunPolicy decides what a write does when the ring still holds bytes the
// device has not consumed.
type OverrunPolicy uint8

const (
	// Log and write over the oldest unconsumed bytes.
	OverrunPolicyOverwrite OverrunPolicy = iota
	// Block on the fence of the oldest frame until the write fits.
	OverrunPolicyWait
)

func ParseOverrunPolicy(s string) (OverrunPolicy, error) {
	switch s {
	case "overwrite", "":
		return OverrunPolicyOverwrite, nil
	case "wait":
		return OverrunPolicyWait, nil
	}
	return 0, fmt.Errorf("unknown overrun policy %q: %w", s, core.ErrInvalidConfig)
}

func (p OverrunPolicy) String() string {
	if p == OverrunPolicyWait {
		return "wait"
	}
	return "overwrite"
}

// Bytes one submitted frame wrote, padding included, and the fence that
// signals the device is done reading them.
type region struct {
	fence uint64
	bytes uint64
}

// Frames whose regions are tracked before older ones are folded together.
const maxTrackedRegions = 8

type Stats struct {
	Writes       uint64
	BytesWritten uint64
	Wraps        uint64
	Overruns     uint64
	Waits        uint64
}

// ConstantRingHeap streams transient constant data through one persistently
// mapped buffer. Writes are aligned and wrap to offset 0 when they would run
// past the end.
type ConstantRingHeap struct {
	device       metadata.Device
	buffer       *metadata.MappedBuffer
	size         uint64
	alignment    uint64
	policy       OverrunPolicy
	fenceTimeout time.Duration

	head    uint64
	used    uint64
	pending uint64
	regions *containers.RingQueue[region]

	stats Stats
}

func NewConstantRingHeap(device metadata.Device, sizeBytes, alignment uint64, policy OverrunPolicy, fenceTimeout time.Duration) (*ConstantRingHeap, error) {
	if alignment == 0 || alignment&(alignment-1) != 0 {
		return nil, fmt.Errorf("ring alignment %d is not a power of two: %w", alignment, core.ErrInvalidConfig)
	}
	if sizeBytes < alignment {
		return nil, fmt.Errorf("ring size %d smaller than alignment %d: %w", sizeBytes, alignment, core.ErrInvalidConfig)
	}
	buffer, err := device.CreateMappedBuffer(sizeBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to create constant ring buffer: %w", err)
	}
	return &ConstantRingHeap{
		device:       device,
		buffer:       buffer,
		size:         sizeBytes,
		alignment:    alignment,
		policy:       policy,
		fenceTimeout: fenceTimeout,
		regions:      containers.NewRingQueue[region](maxTrackedRegions),
	}, nil
}

// retire releases the regions whose fence has completed.
func (r *ConstantRingHeap) retire() {
	completed := r.device.CompletedFenceValue()
	for !r.regions.IsEmpty() {
		front, _ := r.regions.Peek()
		if front.fence > completed {
			return
		}
		_, _ = r.regions.Dequeue()
		r.used -= front.bytes
	}
}

// Write copies data into the ring and returns its byte offset.
func (r *ConstantRingHeap) Write(data []byte) (uint64, error) {
	size := metadata.GetAligned(uint64(len(data)), r.alignment)
	if size == 0 {
		size = r.alignment
	}
	if size > r.size {
		core.LogError("constant write of %d bytes does not fit a %d byte ring", len(data), r.size)
		return metadata.InvalidIDUint64, fmt.Errorf("write of %d bytes: %w", len(data), core.ErrRingHeapTooSmall)
	}

	r.retire()

	offset := r.head
	var padding uint64
	if offset+size > r.size {
		padding = r.size - offset
		offset = 0
	}
	need := padding + size
	if r.used == 0 && need > r.size {
		// Nothing in flight, the skipped tail is free space.
		need = size
	}

	selfOverrun := false
	if need > r.size-r.used {
		var err error
		if selfOverrun, err = r.makeRoom(need); err != nil {
			return metadata.InvalidIDUint64, err
		}
	}
	if padding > 0 {
		r.stats.Wraps++
		core.LogDebug("constant ring wrapped after %d bytes", r.head)
	}

	copy(r.buffer.Data[offset:offset+size], data)
	r.head = offset + size
	if r.head == r.size {
		r.head = 0
	}
	if selfOverrun {
		// The frame wrote over its own data; the whole ring now belongs to
		// it until its fence completes.
		r.used = r.size
		r.pending = r.size
	} else {
		r.used += need
		r.pending += need
	}
	r.stats.Writes++
	r.stats.BytesWritten += uint64(len(data))
	return offset, nil
}

// makeRoom frees ring space for need bytes. It reports true when the frame
// being recorded has to write over its own bytes.
func (r *ConstantRingHeap) makeRoom(need uint64) (bool, error) {
	if r.policy == OverrunPolicyWait {
		for need > r.size-r.used && !r.regions.IsEmpty() {
			front, _ := r.regions.Peek()
			r.stats.Waits++
			if err := r.device.WaitForFence(front.fence, r.fenceTimeout); err != nil {
				core.LogError("constant ring wait on fence %d failed: %s", front.fence, err)
				return false, fmt.Errorf("constant ring wait: %w", err)
			}
			r.retire()
		}
		if need <= r.size-r.used {
			return false, nil
		}
	}

	// Overwrite, or the frame being recorded alone fills the ring.
	r.stats.Overruns++
	core.LogWarn("constant ring overrun: %d bytes needed, %d of %d still in flight", need, r.used, r.size)
	for need > r.size-r.used && !r.regions.IsEmpty() {
		front, _ := r.regions.Dequeue()
		r.used -= front.bytes
	}
	return need > r.size-r.used, nil
}

// FinishFrame hands the bytes written since the last call to the fence that
// completes once the device has consumed them.
func (r *ConstantRingHeap) FinishFrame(fence uint64) {
	if r.pending == 0 {
		return
	}
	reg := region{fence: fence, bytes: r.pending}
	r.pending = 0
	if r.regions.IsFull() {
		// The oldest frame is still unfinished; account for it under the
		// newer fence so its bytes stay reserved.
		oldest, _ := r.regions.Dequeue()
		reg.bytes += oldest.bytes
	}
	_ = r.regions.Enqueue(reg)
}

func (r *ConstantRingHeap) GPUAddress(offset uint64) uint64 {
	return r.buffer.GPUAddress + offset
}

func (r *ConstantRingHeap) BaseAddress() uint64 {
	return r.buffer.GPUAddress
}

// Mapped returns the mapped memory of the ring.
func (r *ConstantRingHeap) Mapped() []byte {
	return r.buffer.Data
}

func (r *ConstantRingHeap) Size() uint64 {
	return r.size
}

func (r *ConstantRingHeap) Alignment() uint64 {
	return r.alignment
}

// InFlight is the number of bytes, padding included, not yet consumed.
func (r *ConstantRingHeap) InFlight() uint64 {
	return r.used
}

func (r *ConstantRingHeap) Policy() OverrunPolicy {
	return r.policy
}

func (r *ConstantRingHeap) Stats() Stats {
	return r.stats
}

func (r *ConstantRingHeap) Destroy() {
	if r.buffer != nil {
		r.device.DestroyMappedBuffer(r.buffer)
		r.buffer = nil
	}
	r.regions.Clear()
}
