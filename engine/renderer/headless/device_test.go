package headless

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

func srvHeap(t *testing.T, d *Device, n uint32) *metadata.DescriptorHeap {
	t.Helper()
	h, err := d.CreateDescriptorHeapPage(&metadata.DescriptorHeapConfig{
		Name:   "srv",
		Ranges: []metadata.DescriptorRange{{Category: metadata.DescriptorCategoryShaderResource, Count: n}},
	})
	require.NoError(t, err)
	return h
}

func TestWriteAndCopyDescriptors(t *testing.T) {
	d := New()
	src := srvHeap(t, d, 4)
	dst := srvHeap(t, d, 4)

	res := &metadata.ResourceDescription{Name: "albedo", Format: metadata.FormatRGBA8Unorm}
	require.NoError(t, d.WriteDescriptor(src.CPUHandle(2), metadata.DescriptorCategoryShaderResource, res))
	assert.ErrorIs(t, d.WriteDescriptor(src.CPUHandle(4), metadata.DescriptorCategoryShaderResource, res), core.ErrDescriptorSlotOutOfRange)

	d.CopyDescriptorRange(dst.CPUHandle(0), src.CPUHandle(2), 1)
	e, ok := d.ReadDescriptor(dst.CPUHandle(0))
	require.True(t, ok)
	assert.Equal(t, "albedo", e.Resource)
	assert.Equal(t, metadata.DescriptorCategoryShaderResource, e.Category)

	_, ok = d.ReadDescriptor(dst.CPUHandle(1))
	assert.False(t, ok)

	// Out of range copies are dropped.
	d.CopyDescriptorRange(dst.CPUHandle(3), src.CPUHandle(0), 2)
	assert.Equal(t, uint64(1), d.Stats.Copies)
}

func TestShaderVisibleHeapRejectsAttachments(t *testing.T) {
	d := New()
	_, err := d.CreateDescriptorHeapPage(&metadata.DescriptorHeapConfig{
		Ranges:        []metadata.DescriptorRange{{Category: metadata.DescriptorCategoryRenderTarget, Count: 1}},
		ShaderVisible: true,
	})
	assert.Error(t, err)
}

func TestFenceLatency(t *testing.T) {
	d := New(WithFenceLatency(2))
	for i := 0; i < 3; i++ {
		_, err := d.SubmitFrame(uint32(i % 2))
		require.NoError(t, err)
	}
	assert.Equal(t, uint64(3), d.SubmittedFenceValue())
	assert.Equal(t, uint64(1), d.CompletedFenceValue())

	require.NoError(t, d.WaitForFence(3, time.Second))
	assert.Equal(t, uint64(3), d.CompletedFenceValue())

	assert.ErrorIs(t, d.WaitForFence(4, time.Millisecond), core.ErrFenceTimeout)

	_, err := d.SubmitFrame(0)
	require.NoError(t, err)
	d.Stall(true)
	assert.ErrorIs(t, d.WaitForFence(4, time.Millisecond), core.ErrFenceTimeout)

	d.Lose()
	assert.ErrorIs(t, d.WaitForFence(4, time.Millisecond), core.ErrDeviceLost)
	_, err = d.SubmitFrame(1)
	assert.ErrorIs(t, err, core.ErrDeviceLost)
}

func TestBarriersAreGroupedPerSubmit(t *testing.T) {
	d := New()
	d.ResourceBarrier([]metadata.Barrier{{ResourceID: 1, After: metadata.ResourceStateRenderTarget}})
	d.ResourceBarrier([]metadata.Barrier{{ResourceID: 2, After: metadata.ResourceStateShaderResource}})
	_, err := d.SubmitFrame(0)
	require.NoError(t, err)
	_, err = d.SubmitFrame(1)
	require.NoError(t, err)

	frames := d.SubmittedBarriers()
	require.Len(t, frames, 2)
	assert.Len(t, frames[0], 2)
	assert.Empty(t, frames[1])
}

func TestPipelineFailureInjection(t *testing.T) {
	boom := errors.New("boom")
	d := New(WithPipelineFailure(func(desc *metadata.PipelineStateDescription) error {
		if desc.Name == "bad" {
			return boom
		}
		return nil
	}))
	vs := metadata.ShaderBytecode{Code: []byte{1}}

	_, err := d.CreatePipelineObject(&metadata.PipelineStateDescription{Name: "bad", VertexShader: vs})
	assert.ErrorIs(t, err, boom)

	p, err := d.CreatePipelineObject(&metadata.PipelineStateDescription{Name: "good", VertexShader: vs})
	require.NoError(t, err)
	assert.Equal(t, 1, d.LivePipelines())
	d.DestroyPipelineObject(p)
	assert.Zero(t, d.LivePipelines())
}

func TestMappedBuffersDoNotOverlap(t *testing.T) {
	d := New()
	a, err := d.CreateMappedBuffer(100)
	require.NoError(t, err)
	b, err := d.CreateMappedBuffer(100)
	require.NoError(t, err)
	assert.Len(t, a.Data, 100)
	assert.GreaterOrEqual(t, b.GPUAddress, a.GPUAddress+a.Size)
}
