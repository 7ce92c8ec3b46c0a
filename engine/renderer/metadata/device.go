package metadata

import "time"

/**
 * @brief The device collaborator the descriptor and resource subsystem is built
 * on. Implementations create the native objects; the subsystem decides when,
 * where, and for how long they live. Calls are made from the render thread.
 */
type Device interface {
	/** @brief Creates one page of descriptor storage. */
	CreateDescriptorHeapPage(config *DescriptorHeapConfig) (*DescriptorHeap, error)
	DestroyDescriptorHeap(heap *DescriptorHeap)
	/** @brief Creates a view of res of the given category at dst. */
	WriteDescriptor(dst CPUDescriptorHandle, category DescriptorCategory, res *ResourceDescription) error
	/** @brief Copies count descriptors starting at src to dst. */
	CopyDescriptorRange(dst, src CPUDescriptorHandle, count uint32)

	CreateMappedBuffer(sizeBytes uint64) (*MappedBuffer, error)
	DestroyMappedBuffer(buffer *MappedBuffer)

	CreatePipelineObject(desc *PipelineStateDescription) (*PipelineObject, error)
	DestroyPipelineObject(pipeline *PipelineObject)

	/** @brief Records transitions into the command stream of the frame being recorded. */
	ResourceBarrier(barriers []Barrier)

	/** @brief Submits the recorded frame and returns the fence value signalled on completion. */
	SubmitFrame(frameIndex uint32) (uint64, error)
	/** @brief Blocks until the fence reaches value. */
	WaitForFence(value uint64, timeout time.Duration) error
	CompletedFenceValue() uint64

	Shutdown() error
}
