package descriptors

import (
	"bytes"
	"fmt"
	"math/rand"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/headless"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

const srv = metadata.DescriptorCategoryShaderResource

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	core.LogSetOutput(&buf)
	core.LogSetLevel(core.LogLevelDebug)
	t.Cleanup(func() { core.LogSetOutput(os.Stderr) })
	return &buf
}

func capacities(n uint32) [metadata.DescriptorCategoryCount]uint32 {
	return [metadata.DescriptorCategoryCount]uint32{n, n, n, n}
}

func TestPageFreeCountMatchesTakenSlots(t *testing.T) {
	const capacity = 16
	page, err := NewDescriptorPage(headless.New(), srv, capacity, "p")
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(7))
	live := map[uint32]bool{}
	for i := 0; i < 2000; i++ {
		if rng.Intn(2) == 0 {
			slot, err := page.Allocate()
			if len(live) == capacity {
				assert.ErrorIs(t, err, core.ErrDescriptorPageExhausted)
				continue
			}
			require.NoError(t, err)
			require.False(t, live[slot], "slot %d handed out twice", slot)
			live[slot] = true
		} else if len(live) > 0 {
			for slot := range live {
				require.NoError(t, page.Free(slot))
				delete(live, slot)
				break
			}
		}

		taken := uint32(0)
		for s := uint32(0); s < capacity; s++ {
			if page.IsTaken(s) {
				taken++
			}
		}
		require.Equal(t, uint32(capacity)-taken, page.FreeCount())
		require.Equal(t, len(live), int(taken))
	}
}

func TestPageFirstFitAndMisuse(t *testing.T) {
	buf := captureLog(t)
	page, err := NewDescriptorPage(headless.New(), srv, 3, "p")
	require.NoError(t, err)
	assert.True(t, page.IsEmpty())

	for want := uint32(0); want < 3; want++ {
		got, err := page.Allocate()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	assert.True(t, page.IsFull())

	require.NoError(t, page.Free(1))
	assert.ErrorIs(t, page.Free(1), core.ErrDescriptorDoubleFree)
	assert.Contains(t, buf.String(), "double free of slot 1")
	assert.Equal(t, uint32(1), page.FreeCount())
	assert.ErrorIs(t, page.Free(9), core.ErrDescriptorSlotOutOfRange)

	h, err := page.DescriptorHandle(1)
	require.NoError(t, err)
	assert.Equal(t, page.Heap().ID, h.Heap)
	assert.Equal(t, uint32(1), h.Index)
	assert.Contains(t, buf.String(), "handle requested for free slot 1")

	got, err := page.Allocate()
	require.NoError(t, err)
	assert.Equal(t, uint32(1), got)
}

func TestPersistentHeapGrowsAndReusesFirstFit(t *testing.T) {
	dev := headless.New()
	heap, err := NewPersistentDescriptorHeap(dev, capacities(2))
	require.NoError(t, err)

	var handles []DescriptorSlot
	for i := 0; i < 3; i++ {
		h, err := heap.Allocate(srv)
		require.NoError(t, err)
		handles = append(handles, h)
	}
	assert.Equal(t, []DescriptorSlot{0, 1, 2}, handles)
	assert.Equal(t, 2, heap.PageCount(srv))

	require.NoError(t, heap.Free(srv, 1))
	h, err := heap.Allocate(srv)
	require.NoError(t, err)
	assert.Equal(t, DescriptorSlot(1), h)
	assert.Equal(t, 2, heap.PageCount(srv))
	assert.Equal(t, uint32(3), heap.Allocated(srv))
}

func TestPersistentHandlesAreStable(t *testing.T) {
	dev := headless.New()
	heap, err := NewPersistentDescriptorHeap(dev, [metadata.DescriptorCategoryCount]uint32{4, 2, 2, 3})
	require.NoError(t, err)

	first, err := heap.Allocate(srv)
	require.NoError(t, err)
	before, err := heap.GetHandle(srv, first)
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		for c := metadata.DescriptorCategory(0); c < metadata.DescriptorCategoryCount; c++ {
			_, err := heap.Allocate(c)
			require.NoError(t, err)
		}
	}
	after, err := heap.GetHandle(srv, first)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, 25, heap.PageCount(metadata.DescriptorCategoryRenderTarget))

	// Categories do not share pages.
	rt, err := heap.GetHandle(metadata.DescriptorCategoryRenderTarget, 0)
	require.NoError(t, err)
	assert.NotEqual(t, before.Heap, rt.Heap)
}

func TestPersistentHeapRejectsBadHandles(t *testing.T) {
	heap, err := NewPersistentDescriptorHeap(headless.New(), capacities(2))
	require.NoError(t, err)

	_, err = heap.GetHandle(srv, 5)
	assert.ErrorIs(t, err, core.ErrDescriptorSlotOutOfRange)
	assert.ErrorIs(t, heap.Free(srv, InvalidDescriptorSlot), core.ErrDescriptorSlotOutOfRange)
	_, err = heap.Allocate(metadata.DescriptorCategoryCount)
	assert.ErrorIs(t, err, core.ErrInvalidDescriptorCategory)

	_, err = NewPersistentDescriptorHeap(headless.New(), [metadata.DescriptorCategoryCount]uint32{1, 0, 1, 1})
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
}

func newFrameHeap(t *testing.T, dev *headless.Device, frames uint32, reserved [metadata.DescriptorCategoryCount]uint32) (*PersistentDescriptorHeap, *FrameDescriptorHeap) {
	t.Helper()
	persistent, err := NewPersistentDescriptorHeap(dev, capacities(8))
	require.NoError(t, err)
	fh, err := NewFrameDescriptorHeap(dev, persistent, frames, reserved)
	require.NoError(t, err)
	return persistent, fh
}

func TestFrameHeapsAreIsolated(t *testing.T) {
	dev := headless.New()
	persistent, fh := newFrameHeap(t, dev, 3, capacities(4))

	slot, err := persistent.Allocate(srv)
	require.NoError(t, err)

	copyFrame := func(frame uint32, sentinel string) metadata.CPUDescriptorHandle {
		require.NoError(t, fh.StartFrame(frame))
		require.NoError(t, persistent.Write(srv, slot, &metadata.ResourceDescription{Name: sentinel}))
		cpu, gpu, err := fh.CopyDescriptor(srv, slot)
		require.NoError(t, err)
		assert.True(t, gpu.IsValid())
		return cpu
	}

	var handles []metadata.CPUDescriptorHandle
	for f := uint32(0); f < 3; f++ {
		handles = append(handles, copyFrame(f, fmt.Sprintf("frame%d", f)))
	}
	// Second cycle rewrites frame 0 only.
	copyFrame(0, "frame0-again")

	e, _ := dev.ReadDescriptor(handles[0])
	assert.Equal(t, "frame0-again", e.Resource)
	for f := 1; f < 3; f++ {
		e, ok := dev.ReadDescriptor(handles[f])
		require.True(t, ok)
		assert.Equal(t, fmt.Sprintf("frame%d", f), e.Resource)
	}
}

func TestFrameHeapOverflowKeepsEarlierEntries(t *testing.T) {
	buf := captureLog(t)
	dev := headless.New()
	persistent, fh := newFrameHeap(t, dev, 2, [metadata.DescriptorCategoryCount]uint32{4, 1, 1, 1})
	require.NoError(t, fh.StartFrame(0))

	var cpus []metadata.CPUDescriptorHandle
	for i := 0; i < 5; i++ {
		slot, err := persistent.Allocate(srv)
		require.NoError(t, err)
		require.NoError(t, persistent.Write(srv, slot, &metadata.ResourceDescription{Name: fmt.Sprintf("tex%d", i)}))

		cpu, gpu, err := fh.CopyDescriptor(srv, slot)
		if i < 4 {
			require.NoError(t, err)
			cpus = append(cpus, cpu)
			continue
		}
		assert.ErrorIs(t, err, core.ErrFrameHeapOverflow)
		assert.False(t, cpu.IsValid())
		assert.False(t, gpu.IsValid())
	}
	assert.Contains(t, buf.String(), "descriptor heap overflow")
	assert.Equal(t, uint64(1), fh.Overflows())
	assert.Equal(t, uint32(4), fh.Used(srv))

	for i, cpu := range cpus {
		e, ok := dev.ReadDescriptor(cpu)
		require.True(t, ok)
		assert.Equal(t, fmt.Sprintf("tex%d", i), e.Resource)
	}
	// The unordered access range that follows is untouched.
	_, written := dev.ReadDescriptor(fh.ShaderVisibleHeap().CPUHandle(4))
	assert.False(t, written)

	// The next frame starts from an empty cursor.
	require.NoError(t, fh.StartFrame(1))
	assert.Zero(t, fh.Used(srv))
}

func TestFrameHeapSharesShaderVisibleHeap(t *testing.T) {
	dev := headless.New()
	persistent, fh := newFrameHeap(t, dev, 2, [metadata.DescriptorCategoryCount]uint32{4, 2, 2, 2})
	require.NoError(t, fh.StartFrame(1))

	uav, err := persistent.Allocate(metadata.DescriptorCategoryUnorderedAccess)
	require.NoError(t, err)
	_, gpu, err := fh.CopyDescriptor(metadata.DescriptorCategoryUnorderedAccess, uav)
	require.NoError(t, err)
	assert.Equal(t, fh.ShaderVisibleHeap().ID, gpu.Heap)
	assert.Equal(t, uint32(4), gpu.Index)

	rtv, err := persistent.Allocate(metadata.DescriptorCategoryRenderTarget)
	require.NoError(t, err)
	cpu, gpu, err := fh.CopyDescriptor(metadata.DescriptorCategoryRenderTarget, rtv)
	require.NoError(t, err)
	assert.False(t, gpu.IsValid())
	assert.Equal(t, fh.Heap(1, metadata.DescriptorCategoryRenderTarget).ID, cpu.Heap)
	assert.NotEqual(t, fh.Heap(0, metadata.DescriptorCategoryRenderTarget).ID, cpu.Heap)
}

func TestCopyDescriptorsIsAllOrNothing(t *testing.T) {
	dev := headless.New()
	persistent, fh := newFrameHeap(t, dev, 1, capacities(3))
	require.NoError(t, fh.StartFrame(0))

	var slots []DescriptorSlot
	for i := 0; i < 4; i++ {
		s, err := persistent.Allocate(srv)
		require.NoError(t, err)
		require.NoError(t, persistent.Write(srv, s, &metadata.ResourceDescription{Name: fmt.Sprintf("t%d", i)}))
		slots = append(slots, s)
	}

	cpu, gpu, err := fh.CopyDescriptors(srv, slots[:2])
	require.NoError(t, err)
	assert.Equal(t, uint32(0), gpu.Index)
	e, _ := dev.ReadDescriptor(cpu.Offset(1))
	assert.Equal(t, "t1", e.Resource)

	_, _, err = fh.CopyDescriptors(srv, slots[2:])
	assert.ErrorIs(t, err, core.ErrFrameHeapOverflow)
	assert.Equal(t, uint32(2), fh.Used(srv))
}

func TestFrameHeapRequiresStartFrame(t *testing.T) {
	dev := headless.New()
	persistent, fh := newFrameHeap(t, dev, 2, capacities(2))
	slot, err := persistent.Allocate(srv)
	require.NoError(t, err)

	_, _, err = fh.CopyDescriptor(srv, slot)
	assert.ErrorIs(t, err, core.ErrNotRecording)
	assert.Error(t, fh.StartFrame(2))

	require.NoError(t, fh.StartFrame(0))
	fh.EndFrame()
	_, _, err = fh.CopyDescriptor(srv, slot)
	assert.ErrorIs(t, err, core.ErrNotRecording)

	heaps := dev.HeapCount()
	fh.Destroy()
	assert.Equal(t, heaps-6, dev.HeapCount())
}
