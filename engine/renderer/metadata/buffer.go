package metadata

/**
 * @brief A CPU-writable, GPU-readable buffer that stays mapped for its whole
 * lifetime.
 */
type MappedBuffer struct {
	Size uint64
	/** @brief The mapped memory, len(Data) == Size. */
	Data []byte
	/** @brief Device address of the first byte. */
	GPUAddress   uint64
	InternalData interface{}
}
