package constants

import (
	"bytes"
	"math/rand"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/headless"
)

func newRing(t *testing.T, dev *headless.Device, size uint64, policy OverrunPolicy) *ConstantRingHeap {
	t.Helper()
	r, err := NewConstantRingHeap(dev, size, 256, policy, time.Second)
	require.NoError(t, err)
	t.Cleanup(r.Destroy)
	return r
}

func submit(t *testing.T, dev *headless.Device, r *ConstantRingHeap) uint64 {
	t.Helper()
	fence, err := dev.SubmitFrame(0)
	require.NoError(t, err)
	r.FinishFrame(fence)
	return fence
}

func TestWriteOffsetsStayInsideTheRing(t *testing.T) {
	dev := headless.New()
	r := newRing(t, dev, 4096, OverrunPolicyOverwrite)

	rng := rand.New(rand.NewSource(3))
	var total uint64
	for i := 0; i < 500; i++ {
		n := 1 + rng.Intn(700)
		data := bytes.Repeat([]byte{byte(i)}, n)
		offset, err := r.Write(data)
		require.NoError(t, err)

		aligned := (uint64(n) + 255) &^ 255
		require.Zero(t, offset%256)
		require.LessOrEqual(t, offset+aligned, r.Size())
		require.Equal(t, data, r.Mapped()[offset:offset+uint64(n)])
		total += uint64(n)

		// One write per frame, completed immediately.
		submit(t, dev, r)
	}
	assert.Greater(t, total, r.Size())
	assert.NotZero(t, r.Stats().Wraps)
	assert.Zero(t, r.Stats().Overruns)
}

func TestWriteWrapsWhenTheTailIsTooShort(t *testing.T) {
	dev := headless.New()
	r := newRing(t, dev, 1024, OverrunPolicyOverwrite)

	offset, err := r.Write(make([]byte, 600))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), offset)
	submit(t, dev, r)

	offset, err = r.Write(make([]byte, 300))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), offset)
	assert.Equal(t, uint64(1), r.Stats().Wraps)
	assert.Equal(t, r.BaseAddress(), r.GPUAddress(offset))
}

func TestOverwriteLogsOverrun(t *testing.T) {
	var buf bytes.Buffer
	core.LogSetOutput(&buf)
	defer core.LogSetOutput(os.Stderr)

	dev := headless.New(headless.WithFenceLatency(10))
	r := newRing(t, dev, 1024, OverrunPolicyOverwrite)

	for i := 0; i < 2; i++ {
		_, err := r.Write(make([]byte, 512))
		require.NoError(t, err)
		submit(t, dev, r)
	}
	assert.Equal(t, uint64(1024), r.InFlight())

	offset, err := r.Write(make([]byte, 256))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), offset)
	assert.Equal(t, uint64(1), r.Stats().Overruns)
	assert.Contains(t, buf.String(), "constant ring overrun")
}

func TestWaitPolicyBlocksOnOldestFence(t *testing.T) {
	dev := headless.New(headless.WithFenceLatency(10))
	r := newRing(t, dev, 1024, OverrunPolicyWait)

	var fences []uint64
	for i := 0; i < 2; i++ {
		_, err := r.Write(make([]byte, 512))
		require.NoError(t, err)
		fences = append(fences, submit(t, dev, r))
	}

	offset, err := r.Write(make([]byte, 256))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), offset)
	assert.Equal(t, uint64(1), r.Stats().Waits)
	assert.Zero(t, r.Stats().Overruns)
	assert.Equal(t, fences[0], dev.CompletedFenceValue())
	assert.Equal(t, uint64(512+256), r.InFlight())
}

func TestWaitPolicySurfacesDeviceLoss(t *testing.T) {
	dev := headless.New(headless.WithFenceLatency(10))
	r := newRing(t, dev, 512, OverrunPolicyWait)

	_, err := r.Write(make([]byte, 512))
	require.NoError(t, err)
	submit(t, dev, r)

	dev.Lose()
	_, err = r.Write(make([]byte, 16))
	assert.ErrorIs(t, err, core.ErrDeviceLost)
}

func TestWriteLargerThanRing(t *testing.T) {
	r := newRing(t, headless.New(), 512, OverrunPolicyOverwrite)
	_, err := r.Write(make([]byte, 513))
	assert.ErrorIs(t, err, core.ErrRingHeapTooSmall)

	offset, err := r.Write(nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), offset)
	assert.Equal(t, uint64(256), r.InFlight())
}

func TestRingConstruction(t *testing.T) {
	_, err := NewConstantRingHeap(headless.New(), 1024, 100, OverrunPolicyWait, time.Second)
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
	_, err = NewConstantRingHeap(headless.New(), 128, 256, OverrunPolicyWait, time.Second)
	assert.ErrorIs(t, err, core.ErrInvalidConfig)

	p, err := ParseOverrunPolicy("wait")
	require.NoError(t, err)
	assert.Equal(t, OverrunPolicyWait, p)
	_, err = ParseOverrunPolicy("block")
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
}

func TestFrameFillingTheRingKeepsItsBytesReserved(t *testing.T) {
	var buf bytes.Buffer
	core.LogSetOutput(&buf)
	defer core.LogSetOutput(os.Stderr)

	dev := headless.New(headless.WithFenceLatency(10))
	r := newRing(t, dev, 1024, OverrunPolicyOverwrite)

	// One frame writes more than the ring holds.
	for i := 0; i < 5; i++ {
		_, err := r.Write(make([]byte, 256))
		require.NoError(t, err)
	}
	assert.Equal(t, uint64(1), r.Stats().Overruns)
	assert.Equal(t, r.Size(), r.InFlight())
	submit(t, dev, r)

	// Its fence has not completed, so the next frame overruns again.
	offset, err := r.Write(make([]byte, 256))
	require.NoError(t, err)
	assert.Equal(t, uint64(256), offset)
	assert.Equal(t, uint64(2), r.Stats().Overruns)
	assert.Equal(t, 2, strings.Count(buf.String(), "constant ring overrun"))
}

func TestWaitPolicyWaitsForAFrameThatFilledTheRing(t *testing.T) {
	dev := headless.New(headless.WithFenceLatency(10))
	r := newRing(t, dev, 1024, OverrunPolicyWait)

	for i := 0; i < 5; i++ {
		_, err := r.Write(make([]byte, 256))
		require.NoError(t, err)
	}
	fence := submit(t, dev, r)

	_, err := r.Write(make([]byte, 256))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), r.Stats().Overruns)
	assert.Equal(t, uint64(1), r.Stats().Waits)
	assert.Equal(t, fence, dev.CompletedFenceValue())
	assert.Equal(t, uint64(256), r.InFlight())
}

func TestLargeWriteIntoAnEmptyRingIsNotAnOverrun(t *testing.T) {
	dev := headless.New()
	r := newRing(t, dev, 1024, OverrunPolicyOverwrite)

	_, err := r.Write(make([]byte, 256))
	require.NoError(t, err)
	submit(t, dev, r)

	offset, err := r.Write(make([]byte, 1024))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), offset)
	assert.Zero(t, r.Stats().Overruns)
	assert.Equal(t, uint64(1), r.Stats().Wraps)
	assert.Equal(t, r.Size(), r.InFlight())
}

func TestWriteEndingAtTheBufferEndDoesNotWrap(t *testing.T) {
	dev := headless.New()
	r := newRing(t, dev, 1024, OverrunPolicyOverwrite)

	offset, err := r.Write(make([]byte, 768))
	require.NoError(t, err)
	assert.Zero(t, offset)
	submit(t, dev, r)

	// 768 + 256 == 1024 fits exactly.
	offset, err = r.Write(make([]byte, 256))
	require.NoError(t, err)
	assert.Equal(t, r.Size()-256, offset)
	assert.Zero(t, r.Stats().Wraps)
	submit(t, dev, r)

	// The head is back at 0 without skipping any tail.
	offset, err = r.Write(make([]byte, 1))
	require.NoError(t, err)
	assert.Zero(t, offset)
	assert.Zero(t, r.Stats().Wraps)
}
