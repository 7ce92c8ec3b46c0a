package assets

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spaghettifunk/anima-rhi/engine/assets/loaders"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

const changeQueueSize = 256

type AssetInfo struct {
	Name    string
	Path    string
	Type    metadata.ResourceType
	ModTime time.Time
}

// AssetChange reports a file that was created, rewritten or removed while the
// manager was watching.
type AssetChange struct {
	Name    string
	Path    string
	Type    metadata.ResourceType
	Removed bool
}

type assetKey struct {
	t    metadata.ResourceType
	name string
}

type AssetManager struct {
	dir   string
	watch bool

	assets  map[assetKey]AssetInfo
	loaders map[metadata.ResourceType]Loader

	mutex sync.RWMutex

	done     chan struct{}
	wg       sync.WaitGroup
	fsnotify *fsnotify.Watcher
	isClosed bool
	changes  chan AssetChange
}

func NewAssetManager(dir string, watch bool) (*AssetManager, error) {
	s, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !s.IsDir() {
		return nil, fmt.Errorf("asset path %s is not a directory", dir)
	}
	return &AssetManager{
		dir:     dir,
		watch:   watch,
		assets:  make(map[assetKey]AssetInfo),
		loaders: make(map[metadata.ResourceType]Loader),
		changes: make(chan AssetChange, changeQueueSize),
		done:    make(chan struct{}),
	}, nil
}

// Initialize registers the built-in loaders, indexes the asset directory and,
// when watching, starts the file watcher.
func (am *AssetManager) Initialize() error {
	am.RegisterLoader(metadata.ResourceTypeMaterial, &loaders.MaterialLoader{})
	am.RegisterLoader(metadata.ResourceTypePipeline, &loaders.PipelineLoader{})
	am.RegisterLoader(metadata.ResourceTypeShader, &loaders.ShaderLoader{})
	am.RegisterLoader(metadata.ResourceTypeImage, &loaders.TextureLoader{})

	if am.watch {
		fsWatch, err := fsnotify.NewWatcher()
		if err != nil {
			return err
		}
		am.fsnotify = fsWatch
		am.wg.Add(1)
		go am.start()
	}

	if err := am.watchRecursive(am.dir); err != nil {
		return err
	}
	core.LogInfo("indexed %d assets under %s (watch=%t)", am.Len(), am.dir, am.watch)
	return nil
}

// RegisterLoader replaces the loader for assetType.
func (am *AssetManager) RegisterLoader(assetType metadata.ResourceType, loader Loader) {
	am.mutex.Lock()
	defer am.mutex.Unlock()
	am.loaders[assetType] = loader
}

// LoadAsset reads the named asset from disk every time it is called.
func (am *AssetManager) LoadAsset(name string, resourceType metadata.ResourceType, params interface{}) (*metadata.Resource, error) {
	am.mutex.RLock()
	asset, exists := am.assets[assetKey{resourceType, name}]
	loader, loaderExists := am.loaders[resourceType]
	am.mutex.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %s %q", core.ErrAssetNotFound, resourceType, name)
	}
	if !loaderExists {
		return nil, fmt.Errorf("%w: %s", core.ErrNoLoader, resourceType)
	}

	res, err := loader.Load(asset.Path, resourceType, params)
	if err != nil {
		return nil, err
	}
	res.ResourceType = resourceType
	return res, nil
}

func (am *AssetManager) UnloadAsset(asset *metadata.Resource) error {
	am.mutex.RLock()
	loader, ok := am.loaders[asset.ResourceType]
	am.mutex.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrNoLoader, asset.ResourceType)
	}
	return loader.Unload(asset)
}

func (am *AssetManager) Lookup(name string, resourceType metadata.ResourceType) (AssetInfo, bool) {
	am.mutex.RLock()
	defer am.mutex.RUnlock()
	a, ok := am.assets[assetKey{resourceType, name}]
	return a, ok
}

// Assets lists the indexed assets of one type ordered by name.
func (am *AssetManager) Assets(resourceType metadata.ResourceType) []AssetInfo {
	am.mutex.RLock()
	out := make([]AssetInfo, 0, len(am.assets))
	for k, a := range am.assets {
		if k.t == resourceType {
			out = append(out, a)
		}
	}
	am.mutex.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (am *AssetManager) Len() int {
	am.mutex.RLock()
	defer am.mutex.RUnlock()
	return len(am.assets)
}

// DrainChanges returns the changes observed since the last call, one entry per
// asset, without blocking. It is meant to be polled from the frame loop.
func (am *AssetManager) DrainChanges() []AssetChange {
	var out []AssetChange
	index := make(map[assetKey]int)
	for {
		select {
		case c := <-am.changes:
			k := assetKey{c.Type, c.Name}
			if i, ok := index[k]; ok {
				out[i] = c
				continue
			}
			index[k] = len(out)
			out = append(out, c)
		default:
			return out
		}
	}
}

func (am *AssetManager) Shutdown() error {
	am.mutex.Lock()
	if am.isClosed {
		am.mutex.Unlock()
		return errors.New("asset manager already shut down")
	}
	am.isClosed = true
	am.mutex.Unlock()

	close(am.done)
	am.wg.Wait()
	return nil
}

func (am *AssetManager) start() {
	defer am.wg.Done()
	for {
		select {
		case e, ok := <-am.fsnotify.Events:
			if !ok {
				return
			}
			am.handleWatchEvent(e)

		case e, ok := <-am.fsnotify.Errors:
			if !ok {
				return
			}
			core.LogError("asset watcher: %s", e.Error())

		case <-am.done:
			am.fsnotify.Close()
			return
		}
	}
}

func (am *AssetManager) handleWatchEvent(e fsnotify.Event) {
	s, err := os.Stat(e.Name)
	if err == nil && s.IsDir() {
		if e.Op&fsnotify.Create != 0 {
			if err := am.watchRecursive(e.Name); err != nil {
				core.LogWarn("failed to watch %s: %s", e.Name, err.Error())
			}
		}
		return
	}
	if e.Op&(fsnotify.Create|fsnotify.Write) != 0 && err == nil {
		if info, ok := am.handleFileEvent(e.Name, s.ModTime()); ok {
			am.notify(AssetChange{Name: info.Name, Path: info.Path, Type: info.Type})
		}
	}
	// A deleted path cannot be stat'ed, so directories and files look alike here.
	if e.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		if info, ok := am.removeAsset(e.Name); ok {
			am.notify(AssetChange{Name: info.Name, Path: info.Path, Type: info.Type, Removed: true})
		}
		_ = am.fsnotify.Remove(e.Name)
	}
}

func (am *AssetManager) notify(c AssetChange) {
	select {
	case am.changes <- c:
	default:
		core.LogWarn("asset change queue full, dropping change for %s", c.Path)
	}
}

// watchRecursive indexes every file under path and, when watching, adds each
// directory to the watch list.
func (am *AssetManager) watchRecursive(path string) error {
	return filepath.Walk(path, func(walkPath string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			if am.fsnotify != nil {
				return am.fsnotify.Add(walkPath)
			}
			return nil
		}
		am.handleFileEvent(walkPath, fi.ModTime())
		return nil
	})
}

func (am *AssetManager) handleFileEvent(path string, mod time.Time) (AssetInfo, bool) {
	assetType, name, ok := determineAssetType(path)
	if !ok {
		return AssetInfo{}, false
	}
	info := AssetInfo{Name: name, Path: path, Type: assetType, ModTime: mod}

	am.mutex.Lock()
	defer am.mutex.Unlock()
	k := assetKey{assetType, name}
	if prev, exists := am.assets[k]; exists && prev.Path != path {
		core.LogWarn("%s asset %q at %s shadows %s", assetType, name, path, prev.Path)
	}
	am.assets[k] = info
	return info, true
}

func (am *AssetManager) removeAsset(path string) (AssetInfo, bool) {
	assetType, name, ok := determineAssetType(path)
	if !ok {
		return AssetInfo{}, false
	}
	am.mutex.Lock()
	defer am.mutex.Unlock()
	k := assetKey{assetType, name}
	info, exists := am.assets[k]
	if !exists || info.Path != path {
		return AssetInfo{}, false
	}
	delete(am.assets, k)
	return info, true
}

// determineAssetType maps a file name to its asset type and asset name.
func determineAssetType(path string) (metadata.ResourceType, string, bool) {
	base := filepath.Base(path)
	lower := strings.ToLower(base)
	switch {
	case strings.HasSuffix(lower, ".material.toml"):
		return metadata.ResourceTypeMaterial, base[:len(base)-len(".material.toml")], true
	case strings.HasSuffix(lower, ".pipeline.toml"):
		return metadata.ResourceTypePipeline, base[:len(base)-len(".pipeline.toml")], true
	}
	ext := filepath.Ext(lower)
	name := base[:len(base)-len(ext)]
	switch ext {
	case ".spv":
		return metadata.ResourceTypeShader, name, true
	case ".png", ".jpg", ".jpeg", ".bmp", ".tif", ".tiff", ".webp":
		return metadata.ResourceTypeImage, name, true
	default:
		return 0, "", false
	}
}
