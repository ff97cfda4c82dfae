package hoster

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/mirra-dev/mirra/internal/models"
)

// UploadRequest describes one upload to one provider.
type UploadRequest struct {
	AssetPath string
	Title     string
	// FolderID is the provider-side folder identifier, already resolved
	// by the FolderResolver; empty for providers without folder support
	// or for root uploads.
	FolderID string
}

// Hoster is the unified contract for all providers. Adapters translate
// each provider's auth shape and response envelope into the normalized
// HostResult; they perform network calls only and never touch the
// catalog store.
type Hoster interface {
	Name() string
	Upload(ctx context.Context, req UploadRequest) *models.HostResult
}

// StatusResolver is implemented by providers whose processing is
// asynchronous: Upload returns a provisional file code and a later
// status call yields the final playable URLs.
type StatusResolver interface {
	ResolveStatus(ctx context.Context, fileCode string) *models.HostResult
}

// FolderHoster is implemented by providers that organize uploads into
// named remote folders.
type FolderHoster interface {
	ListFolders(ctx context.Context) ([]Folder, error)
	CreateFolder(ctx context.Context, name, parentID string) (string, error)
}

// Folder is one remote folder from a provider listing. Listings are
// flat; ParentID carries the implicit tree.
type Folder struct {
	ID       string
	Name     string
	ParentID string
}

// ValidateAsset checks that the asset exists and is non-empty before
// any network call is attempted.
func ValidateAsset(provider, path string) *Error {
	info, err := os.Stat(path)
	if err != nil {
		return NewError(provider, KindInvalidInput, fmt.Sprintf("asset not readable: %v", err), err)
	}
	if info.IsDir() || info.Size() == 0 {
		return NewError(provider, KindInvalidInput, fmt.Sprintf("asset %s is empty or not a file", path), nil)
	}
	return nil
}

// SuccessResult builds the normalized success outcome for a provider
// call started at the given time.
func SuccessResult(provider string, entry *models.HostingEntry, started time.Time) *models.HostResult {
	elapsed := time.Since(started)
	if entry != nil {
		if entry.UploadedAt.IsZero() {
			entry.UploadedAt = time.Now().UTC()
		}
		if entry.UploadDurationSeconds == 0 {
			entry.UploadDurationSeconds = elapsed.Seconds()
		}
	}
	return &models.HostResult{
		Provider:        provider,
		Success:         true,
		Entry:           entry,
		DurationSeconds: elapsed.Seconds(),
	}
}

// FailureResult builds the normalized failure outcome for a provider
// call. The hosting entry is never populated on failure.
func FailureResult(provider string, err error, started time.Time) *models.HostResult {
	return &models.HostResult{
		Provider:        provider,
		Success:         false,
		ErrorKind:       string(KindOf(err)),
		ErrorMessage:    err.Error(),
		DurationSeconds: time.Since(started).Seconds(),
	}
}
