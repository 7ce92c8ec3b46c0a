package vulkan

import (
	"errors"
	"fmt"
	"math"
	"time"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

var _ metadata.Device = (*Device)(nil)

type frameSlot struct {
	commandBuffer *VulkanCommandBuffer
	fence         *VulkanFence
}

type retiredView struct {
	view  *VulkanImageView
	fence uint64
}

// Device is the offscreen Vulkan implementation of metadata.Device. There is
// no swapchain: frames are recorded into one primary command buffer per frame
// slot and submitted to the graphics queue.
type Device struct {
	context     *VulkanContext
	locks       *VulkanLockPool
	queueFamily uint32

	frames     []frameSlot
	recordSlot uint32

	bindlessLayout vk.DescriptorSetLayout
	heaps          map[metadata.DescriptorHeapID]*VulkanDescriptorHeap
	nextHeapID     metadata.DescriptorHeapID

	buffers     map[*metadata.MappedBuffer]*VulkanBuffer
	nextAddress uint64

	pipelines      map[uint32]*VulkanPipeline
	nextPipelineID uint32

	submitted uint64
	completed uint64
	retired   []retiredView

	lost bool
	shut bool
}

type options struct {
	validation bool
}

type Option func(*options)

// WithValidation enables VK_LAYER_KHRONOS_validation when it is installed.
func WithValidation(enabled bool) Option {
	return func(o *options) {
		o.validation = enabled
	}
}

func New(appName string, framesInFlight uint32, opts ...Option) (*Device, error) {
	if framesInFlight == 0 {
		return nil, fmt.Errorf("vulkan device needs at least one frame in flight: %w", core.ErrInvalidConfig)
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	context, err := newContext(appName, o.validation)
	if err != nil {
		return nil, err
	}

	d := &Device{
		context:     context,
		locks:       NewVulkanLockPool(),
		heaps:       make(map[metadata.DescriptorHeapID]*VulkanDescriptorHeap),
		buffers:     make(map[*metadata.MappedBuffer]*VulkanBuffer),
		pipelines:   make(map[uint32]*VulkanPipeline),
		nextAddress: vulkanBaseAddress,
	}

	if err := DeviceCreate(context); err != nil {
		context.destroy()
		return nil, err
	}
	family, err := context.Device.QueueFamily()
	if err != nil {
		d.Shutdown()
		return nil, err
	}
	d.queueFamily = family
	d.locks.SetQueueFamily(family)

	if d.bindlessLayout, err = newBindlessLayout(context); err != nil {
		d.Shutdown()
		return nil, err
	}

	d.frames = make([]frameSlot, framesInFlight)
	for i := range d.frames {
		cb, err := NewVulkanCommandBuffer(context, context.Device.GraphicsCommandPool, true)
		if err != nil {
			d.Shutdown()
			return nil, err
		}
		d.frames[i].commandBuffer = cb
		// Signaled so the first recording into the slot does not wait.
		fence, err := NewFence(context, true)
		if err != nil {
			d.Shutdown()
			return nil, err
		}
		d.frames[i].fence = fence
	}

	core.LogInfo("Vulkan device created with %d frames in flight", framesInFlight)
	return d, nil
}

func (d *Device) CreateDescriptorHeapPage(config *metadata.DescriptorHeapConfig) (*metadata.DescriptorHeap, error) {
	if config.Capacity() == 0 {
		return nil, fmt.Errorf("descriptor heap %q has no capacity", config.Name)
	}
	cfg := *config
	cfg.Ranges = append([]metadata.DescriptorRange(nil), config.Ranges...)
	h := &metadata.DescriptorHeap{
		ID:     d.nextHeapID,
		Config: cfg,
	}
	dh, err := newDescriptorHeap(d.context, d.locks, d.bindlessLayout, h)
	if err != nil {
		return nil, err
	}
	d.nextHeapID++
	d.heaps[h.ID] = dh
	core.LogDebug("descriptor heap %d (%q) created with %d entries", h.ID, cfg.Name, cfg.Capacity())
	return h, nil
}

func (d *Device) DestroyDescriptorHeap(h *metadata.DescriptorHeap) {
	if h == nil {
		return
	}
	dh, ok := d.heaps[h.ID]
	if !ok {
		return
	}
	_ = d.locks.SafeCall(DescriptorManagement, func() error {
		dh.destroy(d.context, d.retire)
		return nil
	})
	delete(d.heaps, h.ID)
}

func (d *Device) lookup(handle metadata.CPUDescriptorHandle, count uint32) (*VulkanDescriptorHeap, error) {
	dh, ok := d.heaps[handle.Heap]
	if !ok {
		return nil, fmt.Errorf("unknown descriptor heap %d", handle.Heap)
	}
	if err := dh.checkRange(handle.Index, count); err != nil {
		return nil, err
	}
	return dh, nil
}

func (d *Device) WriteDescriptor(dst metadata.CPUDescriptorHandle, category metadata.DescriptorCategory, res *metadata.ResourceDescription) error {
	dh, err := d.lookup(dst, 1)
	if err != nil {
		return err
	}
	if res == nil {
		return fmt.Errorf("write descriptor: nil resource")
	}

	entry := VulkanDescriptorState{
		Category: category,
		Name:     res.Name,
		Written:  true,
	}
	switch native := res.Native.(type) {
	case vk.Image:
		view, err := newImageView(d.context, native, res)
		if err != nil {
			return fmt.Errorf("write descriptor %d:%d: %w", dst.Heap, dst.Index, err)
		}
		entry.View = view
		entry.Owned = true
	case vk.Buffer:
		entry.Buffer = native
		entry.Size = res.SizeBytes
	case nil:
		// Nothing to view yet; the slot only records what was written.
	default:
		return fmt.Errorf("write descriptor %q: unsupported native object %T", res.Name, res.Native)
	}

	d.replaceEntry(dh, dst.Index, entry)
	return d.flush(dh, dst.Index, 1)
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
		entry := sh.Entries[src.Index+i]
		entry.Owned = false
		d.replaceEntry(dh, dst.Index+i, entry)
	}
	if err := d.flush(dh, dst.Index, count); err != nil {
		core.LogError("copy descriptors: %s", err)
	}
}

// replaceEntry stores entry at index, retiring the view the slot owned.
func (d *Device) replaceEntry(dh *VulkanDescriptorHeap, index uint32, entry VulkanDescriptorState) {
	old := &dh.Entries[index]
	if old.Owned && old.View != nil {
		d.retire(old.View)
	}
	*old = entry
}

// flush pushes the entries of a shader visible heap into its bindless set.
func (d *Device) flush(dh *VulkanDescriptorHeap, index, count uint32) error {
	writes := dh.writeSet(index, count)
	if len(writes) == 0 {
		return nil
	}
	return d.locks.SafeCall(DescriptorManagement, func() error {
		vk.UpdateDescriptorSets(d.context.Device.LogicalDevice, uint32(len(writes)), writes, 0, nil)
		return nil
	})
}

// retire keeps view alive until the frame being recorded has completed.
func (d *Device) retire(view *VulkanImageView) {
	d.retired = append(d.retired, retiredView{view: view, fence: d.submitted + 1})
}

func (d *Device) collectRetired() {
	completed := d.CompletedFenceValue()
	kept := d.retired[:0]
	for _, r := range d.retired {
		if r.fence <= completed {
			r.view.Destroy(d.context)
			continue
		}
		kept = append(kept, r)
	}
	for i := len(kept); i < len(d.retired); i++ {
		d.retired[i] = retiredView{}
	}
	d.retired = kept
}

func (d *Device) CreateMappedBuffer(sizeBytes uint64) (*metadata.MappedBuffer, error) {
	if sizeBytes == 0 {
		return nil, fmt.Errorf("mapped buffer size must be positive")
	}
	var b *VulkanBuffer
	if err := d.locks.SafeCall(MemoryManagement, func() error {
		var err error
		b, err = newMappedBuffer(d.context, sizeBytes)
		return err
	}); err != nil {
		return nil, err
	}
	mb := &metadata.MappedBuffer{
		Size:         sizeBytes,
		Data:         b.Bytes(),
		GPUAddress:   d.nextAddress,
		InternalData: b,
	}
	d.nextAddress += metadata.GetAligned(sizeBytes, 1<<16)
	d.buffers[mb] = b
	return mb, nil
}

func (d *Device) DestroyMappedBuffer(mb *metadata.MappedBuffer) {
	b, ok := d.buffers[mb]
	if !ok {
		return
	}
	_ = d.locks.SafeCall(MemoryManagement, func() error {
		b.destroy(d.context)
		return nil
	})
	mb.Data = nil
	delete(d.buffers, mb)
}

func (d *Device) CreatePipelineObject(desc *metadata.PipelineStateDescription) (*metadata.PipelineObject, error) {
	if desc.VertexShader.IsEmpty() {
		return nil, fmt.Errorf("pipeline %q has no vertex shader", desc.Name)
	}
	config, err := pipelineConfigFromDescription(desc)
	if err != nil {
		return nil, err
	}

	var stages []*VulkanShaderStage
	defer func() {
		for _, s := range stages {
			s.Destroy(d.context)
		}
	}()
	for _, shader := range []*metadata.ShaderBytecode{&desc.VertexShader, &desc.PixelShader} {
		if shader.IsEmpty() {
			continue
		}
		stage, err := NewShaderStage(d.context, shader)
		if err != nil {
			return nil, fmt.Errorf("pipeline %q: %w", desc.Name, err)
		}
		stages = append(stages, stage)
		config.Stages = append(config.Stages, stage.ShaderStageCreateInfo)
	}

	colorFormats := make([]vk.Format, len(desc.RenderTargetFormats))
	for i, f := range desc.RenderTargetFormats {
		colorFormats[i] = vulkanFormat(f)
	}
	depthFormat := vk.FormatUndefined
	if desc.DepthFormat.IsDepth() {
		depthFormat = vulkanFormat(desc.DepthFormat)
	}
	renderpass, err := RenderpassCreate(d.context, colorFormats, depthFormat)
	if err != nil {
		return nil, fmt.Errorf("pipeline %q: %w", desc.Name, err)
	}
	config.Renderpass = renderpass
	config.DescriptorSetLayouts = []vk.DescriptorSetLayout{d.bindlessLayout}

	pipeline, err := NewGraphicsPipeline(d.context, d.locks, config)
	if err != nil {
		renderpass.RenderpassDestroy(d.context)
		return nil, fmt.Errorf("pipeline %q: %w", desc.Name, err)
	}

	p := &metadata.PipelineObject{
		ID:           d.nextPipelineID,
		InternalData: pipeline,
	}
	d.nextPipelineID++
	d.pipelines[p.ID] = pipeline
	return p, nil
}

func (d *Device) DestroyPipelineObject(p *metadata.PipelineObject) {
	if p == nil {
		return
	}
	pipeline, ok := d.pipelines[p.ID]
	if !ok {
		return
	}
	pipeline.Destroy(d.context, d.locks)
	delete(d.pipelines, p.ID)
}

// beginRecording opens the command buffer of the slot being recorded.
func (d *Device) beginRecording() (*VulkanCommandBuffer, error) {
	slot := &d.frames[d.recordSlot]
	if slot.commandBuffer.IsRecording() {
		return slot.commandBuffer, nil
	}
	// The command buffer cannot be reset while the slot's last submission runs.
	if err := slot.fence.Wait(d.context, time.Duration(math.MaxInt64)); err != nil {
		return nil, err
	}
	slot.commandBuffer.Reset()
	if err := slot.commandBuffer.Begin(true, false, false); err != nil {
		return nil, err
	}
	return slot.commandBuffer, nil
}

func (d *Device) ResourceBarrier(barriers []metadata.Barrier) {
	if len(barriers) == 0 {
		return
	}
	cb, err := d.beginRecording()
	if err != nil {
		core.LogError("resource barrier: %s", err)
		return
	}

	var (
		srcStages, dstStages vk.PipelineStageFlags
		memoryBarriers       []vk.MemoryBarrier
		bufferBarriers       []vk.BufferMemoryBarrier
		imageBarriers        []vk.ImageMemoryBarrier
	)
	for _, b := range barriers {
		before := resourceStateUsage(b.Before)
		after := resourceStateUsage(b.After)
		srcStages |= before.stages
		dstStages |= after.stages

		var native interface{}
		if b.Resource != nil {
			native = b.Resource.Native
		}
		switch n := native.(type) {
		case vk.Image:
			imageBarriers = append(imageBarriers, vk.ImageMemoryBarrier{
				SType:               vk.StructureTypeImageMemoryBarrier,
				SrcAccessMask:       before.access,
				DstAccessMask:       after.access,
				OldLayout:           before.layout,
				NewLayout:           after.layout,
				SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
				DstQueueFamilyIndex: vk.QueueFamilyIgnored,
				Image:               n,
				SubresourceRange: vk.ImageSubresourceRange{
					AspectMask: imageAspect(b.Resource.Format),
					LevelCount: vk.RemainingMipLevels,
					LayerCount: vk.RemainingArrayLayers,
				},
			})
		case vk.Buffer:
			bufferBarriers = append(bufferBarriers, vk.BufferMemoryBarrier{
				SType:               vk.StructureTypeBufferMemoryBarrier,
				SrcAccessMask:       before.access,
				DstAccessMask:       after.access,
				SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
				DstQueueFamilyIndex: vk.QueueFamilyIgnored,
				Buffer:              n,
				Size:                vk.DeviceSize(vk.WholeSize),
			})
		default:
			memoryBarriers = append(memoryBarriers, vk.MemoryBarrier{
				SType:         vk.StructureTypeMemoryBarrier,
				SrcAccessMask: before.access,
				DstAccessMask: after.access,
			})
		}
	}

	vk.CmdPipelineBarrier(cb.Handle, srcStages, dstStages, vk.DependencyFlags(0),
		uint32(len(memoryBarriers)), memoryBarriers,
		uint32(len(bufferBarriers)), bufferBarriers,
		uint32(len(imageBarriers)), imageBarriers)
}

func (d *Device) SubmitFrame(frameIndex uint32) (uint64, error) {
	if d.lost {
		return 0, core.ErrDeviceLost
	}
	if frameIndex != d.recordSlot {
		core.LogWarn("submitting frame %d while slot %d was recorded", frameIndex, d.recordSlot)
	}
	cb, err := d.beginRecording()
	if err != nil {
		return 0, d.checkLost(err)
	}
	if err := cb.End(); err != nil {
		return 0, d.checkLost(err)
	}

	slot := &d.frames[d.recordSlot]
	if err := slot.fence.Reset(d.context); err != nil {
		return 0, d.checkLost(err)
	}

	value := d.submitted + 1
	err = d.locks.SafeQueueCall(d.queueFamily, func() error {
		submitInfo := vk.SubmitInfo{
			SType:              vk.StructureTypeSubmitInfo,
			CommandBufferCount: 1,
			PCommandBuffers:    []vk.CommandBuffer{cb.Handle},
		}
		if res := vk.QueueSubmit(d.context.Device.GraphicsQueue, 1, []vk.SubmitInfo{submitInfo}, slot.fence.Handle); res != vk.Success {
			return vulkanError("vkQueueSubmit", res)
		}
		return nil
	})
	if err != nil {
		core.LogError(err.Error())
		return 0, d.checkLost(err)
	}
	cb.UpdateSubmitted()
	slot.fence.Value = value
	d.submitted = value
	d.recordSlot = (frameIndex + 1) % uint32(len(d.frames))

	d.collectRetired()
	return value, nil
}

func (d *Device) checkLost(err error) error {
	if errors.Is(err, core.ErrDeviceLost) {
		d.lost = true
	}
	return err
}

// CompletedFenceValue is the highest value whose frame slot has signaled.
func (d *Device) CompletedFenceValue() uint64 {
	for i := range d.frames {
		f := d.frames[i].fence
		if f == nil || f.Value <= d.completed {
			continue
		}
		signaled, err := f.Poll(d.context)
		if err != nil {
			d.checkLost(err)
			continue
		}
		if signaled {
			d.completed = f.Value
		}
	}
	return d.completed
}

func (d *Device) WaitForFence(value uint64, timeout time.Duration) error {
	if d.lost {
		return core.ErrDeviceLost
	}
	if value <= d.CompletedFenceValue() {
		return nil
	}
	if value > d.submitted {
		return fmt.Errorf("fence %d after %s: %w", value, timeout, core.ErrFenceTimeout)
	}

	// Slots complete in submission order, so waiting on the earliest slot
	// holding a value >= value is enough.
	var target *VulkanFence
	for i := range d.frames {
		f := d.frames[i].fence
		if f.Value >= value && (target == nil || f.Value < target.Value) {
			target = f
		}
	}
	if target == nil {
		return fmt.Errorf("fence %d after %s: %w", value, timeout, core.ErrFenceTimeout)
	}
	if err := target.Wait(d.context, timeout); err != nil {
		return d.checkLost(err)
	}
	if target.Value > d.completed {
		d.completed = target.Value
	}
	d.collectRetired()
	return nil
}

func (d *Device) Shutdown() error {
	if d.shut {
		return nil
	}
	d.shut = true

	if d.context.Device != nil && d.context.Device.LogicalDevice != nil {
		if res := vk.DeviceWaitIdle(d.context.Device.LogicalDevice); res != vk.Success {
			core.LogWarn("vkDeviceWaitIdle failed: %s", VulkanResultString(res, true))
		}

		if n := len(d.pipelines); n > 0 {
			core.LogWarn("vulkan device shut down with %d live pipeline objects", n)
		}
		for id, p := range d.pipelines {
			p.Destroy(d.context, d.locks)
			delete(d.pipelines, id)
		}
		for mb, b := range d.buffers {
			b.destroy(d.context)
			mb.Data = nil
			delete(d.buffers, mb)
		}
		for id, dh := range d.heaps {
			dh.destroy(d.context, d.retire)
			delete(d.heaps, id)
		}
		for _, r := range d.retired {
			r.view.Destroy(d.context)
		}
		d.retired = nil

		for i := range d.frames {
			if cb := d.frames[i].commandBuffer; cb != nil {
				cb.Free(d.context, d.context.Device.GraphicsCommandPool)
			}
			if f := d.frames[i].fence; f != nil {
				f.Destroy(d.context)
			}
		}
		d.frames = nil

		if d.bindlessLayout != nil {
			vk.DestroyDescriptorSetLayout(d.context.Device.LogicalDevice, d.bindlessLayout, d.context.Allocator)
			d.bindlessLayout = nil
		}
	}

	d.context.destroy()
	core.LogInfo("Vulkan device shut down")
	return nil
}
