package hoster

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// FolderCacheEntry caches one remote folder per (provider, name). The
// cache is rebuildable convenience state only; the provider listing is
// the source of truth.
type FolderCacheEntry struct {
	ID       string
	ParentID string
	Children []string
}

// FolderResolver resolves a folder name to a provider folder id,
// creating the folder if absent. Lookups for the same (provider, name)
// from concurrent jobs collapse into a single flight so a folder is
// never created twice.
type FolderResolver struct {
	logger *zap.Logger
	group  singleflight.Group

	mu    sync.RWMutex
	cache map[string]*FolderCacheEntry
}

func NewFolderResolver(logger *zap.Logger) *FolderResolver {
	return &FolderResolver{
		logger: logger,
		cache:  make(map[string]*FolderCacheEntry),
	}
}

// GetOrCreate returns the remote folder id for name on the given
// provider. Created folders are verified against a follow-up listing;
// providers are eventually consistent, so a folder that has not shown
// up after one re-list is logged and its create-reported id is trusted
// rather than failing the whole job over listing lag.
func (r *FolderResolver) GetOrCreate(ctx context.Context, h FolderHoster, provider, name string) (string, error) {
	key := provider + "/" + name

	r.mu.RLock()
	cached, ok := r.cache[key]
	r.mu.RUnlock()
	if ok {
		return cached.ID, nil
	}

	id, err, _ := r.group.Do(key, func() (interface{}, error) {
		return r.resolve(ctx, h, provider, name)
	})
	if err != nil {
		return "", err
	}
	return id.(string), nil
}

func (r *FolderResolver) resolve(ctx context.Context, h FolderHoster, provider, name string) (string, error) {
	folders, err := h.ListFolders(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to list folders: %w", err)
	}

	if f := findFolder(folders, name); f != nil {
		r.store(provider, name, f, folders)
		return f.ID, nil
	}

	createdID, err := h.CreateFolder(ctx, name, "")
	if err != nil {
		return "", fmt.Errorf("failed to create folder %s: %w", name, err)
	}

	// A create call's returned id is not trusted until confirmed
	// present in a subsequent listing; bounded to one verification
	// retry.
	for attempt := 0; attempt < 2; attempt++ {
		folders, err = h.ListFolders(ctx)
		if err != nil {
			break
		}
		if f := findFolder(folders, name); f != nil {
			r.store(provider, name, f, folders)
			return f.ID, nil
		}
	}

	r.logger.Warn("Created folder not visible in listing yet, trusting create response",
		zap.String("provider", provider),
		zap.String("folder", name),
		zap.String("folder_id", createdID))

	r.store(provider, name, &Folder{ID: createdID, Name: name}, nil)
	return createdID, nil
}

func (r *FolderResolver) store(provider, name string, f *Folder, siblings []Folder) {
	entry := &FolderCacheEntry{ID: f.ID, ParentID: f.ParentID}
	for _, s := range siblings {
		if s.ParentID == f.ID {
			entry.Children = append(entry.Children, s.ID)
		}
	}

	r.mu.Lock()
	r.cache[provider+"/"+name] = entry
	r.mu.Unlock()
}

// Invalidate drops the cached entry for (provider, name); the next
// lookup rebuilds it from a fresh listing.
func (r *FolderResolver) Invalidate(provider, name string) {
	r.mu.Lock()
	delete(r.cache, provider+"/"+name)
	r.mu.Unlock()
}

func findFolder(folders []Folder, name string) *Folder {
	for i := range folders {
		if folders[i].Name == name {
			return &folders[i]
		}
	}
	return nil
}
