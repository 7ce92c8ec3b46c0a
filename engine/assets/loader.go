package assets

import "github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"

// Loader turns a file into a resource. Data holds a loader specific type, e.g.
// *metadata.MaterialConfig or *metadata.TextureHeader.
type Loader interface {
	Load(path string, assetType metadata.ResourceType, params interface{}) (*metadata.Resource, error)
	Unload(*metadata.Resource) error
}
