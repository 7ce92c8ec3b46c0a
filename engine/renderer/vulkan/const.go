package vulkan

/**
 * @brief Max number of shader-resource descriptors a shader visible heap
 * can hold. Bound as binding 0 of the bindless set.
 */
const VULKAN_MAX_SAMPLED_DESCRIPTORS uint32 = 8192

/**
 * @brief Max number of unordered-access descriptors a shader visible heap
 * can hold. Bound as binding 1 of the bindless set.
 */
const VULKAN_MAX_STORAGE_DESCRIPTORS uint32 = 2048

/** @brief Binding index of each shader visible category in the bindless set. */
const (
	VULKAN_BINDING_SAMPLED uint32 = 0
	VULKAN_BINDING_STORAGE uint32 = 1
)

/**
 * @brief Max colour attachments of a pipeline.
 * @todo TODO: query maxColorAttachments instead.
 */
const VULKAN_MAX_COLOR_ATTACHMENTS = 8

/** @brief Virtual address every mapped buffer range starts above. */
const vulkanBaseAddress uint64 = 0x1000_0000
