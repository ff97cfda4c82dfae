package streamtape

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/mirra-dev/mirra/internal/models"
	"github.com/mirra-dev/mirra/internal/service/hoster"
	"github.com/mirra-dev/mirra/pkg/canon"
	"github.com/mirra-dev/mirra/pkg/retry"
)

const Name = "streamtape"

const (
	defaultAPIBase  = "https://api.streamtape.com"
	defaultLinkBase = "https://streamtape.com"
)

// Config carries the credentials and endpoints for one Streamtape
// account. Auth shape: api login plus api key on every call.
type Config struct {
	Login       string
	Key         string
	APIBase     string
	LinkBase    string
	MaxAttempts int
}

// Hoster uploads clips to Streamtape. Uploads are synchronous: the
// final link is known as soon as the multipart POST returns.
type Hoster struct {
	logger *zap.Logger
	client *http.Client
	cfg    Config
}

// envelope is Streamtape's uniform response wrapper; the interesting
// payload shape varies per endpoint inside result.
type envelope struct {
	Status int             `json:"status"`
	Msg    string          `json:"msg"`
	Result json.RawMessage `json:"result"`
}

func New(logger *zap.Logger, cfg Config) *Hoster {
	if cfg.APIBase == "" {
		cfg.APIBase = defaultAPIBase
	}
	if cfg.LinkBase == "" {
		cfg.LinkBase = defaultLinkBase
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = retry.DefaultMaxAttempts
	}
	return &Hoster{
		logger: logger,
		client: &http.Client{Timeout: 5 * time.Minute},
		cfg:    cfg,
	}
}

func (h *Hoster) Name() string { return Name }

func (h *Hoster) Upload(ctx context.Context, req hoster.UploadRequest) *models.HostResult {
	started := time.Now()

	if err := hoster.ValidateAsset(Name, req.AssetPath); err != nil {
		return hoster.FailureResult(Name, err, started)
	}

	var entry *models.HostingEntry
	err := retry.Do(ctx, func(ctx context.Context) error {
		var err error
		entry, err = h.upload(ctx, req)
		return err
	}, &retry.Options{MaxAttempts: h.cfg.MaxAttempts})
	if err != nil {
		return hoster.FailureResult(Name, err, started)
	}

	return hoster.SuccessResult(Name, entry, started)
}

func (h *Hoster) upload(ctx context.Context, req hoster.UploadRequest) (*models.HostingEntry, error) {
	uploadURL, err := h.uploadServer(ctx, req.FolderID)
	if err != nil {
		return nil, err
	}

	status, body, err := hoster.PostFile(ctx, h.client, uploadURL, "file1", req.AssetPath, nil)
	if err != nil {
		return nil, hoster.ClassifyTransport(Name, err)
	}
	if status != http.StatusOK {
		return nil, hoster.ClassifyHTTP(Name, status, string(body))
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, hoster.NewError(Name, hoster.KindUnknown, fmt.Sprintf("malformed upload response: %s", body), err)
	}
	if env.Status != http.StatusOK {
		return nil, hoster.ClassifyHTTP(Name, env.Status, env.Msg)
	}

	var result struct {
		ID   string `json:"id"`
		URL  string `json:"url"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(env.Result, &result); err != nil || result.ID == "" {
		return nil, hoster.NewError(Name, hoster.KindUnknown, fmt.Sprintf("upload result missing file id: %s", env.Result), err)
	}

	watchURL := fmt.Sprintf("%s/v/%s", h.cfg.LinkBase, result.ID)
	// The API sometimes echoes a link that differs only in incidental
	// ways (scheme, slug suffix); prefer the provider's own link when
	// it points at the same resource.
	if result.URL != "" && canon.NormalizeURL(result.URL) != canon.NormalizeURL(watchURL) {
		watchURL = result.URL
	}

	return &models.HostingEntry{
		FileCode: result.ID,
		WatchURL: watchURL,
		EmbedURL: fmt.Sprintf("%s/e/%s", h.cfg.LinkBase, result.ID),
		APIURL:   fmt.Sprintf("%s/file/info?file=%s", h.cfg.APIBase, result.ID),
	}, nil
}

// uploadServer asks the API for a one-shot upload URL, scoped to the
// target folder when one was resolved.
func (h *Hoster) uploadServer(ctx context.Context, folderID string) (string, error) {
	q := url.Values{}
	q.Set("login", h.cfg.Login)
	q.Set("key", h.cfg.Key)
	if folderID != "" {
		q.Set("folder", folderID)
	}

	status, body, err := hoster.GetJSON(ctx, h.client, fmt.Sprintf("%s/file/ul?%s", h.cfg.APIBase, q.Encode()))
	if err != nil {
		return "", hoster.ClassifyTransport(Name, err)
	}
	if status != http.StatusOK {
		return "", hoster.ClassifyHTTP(Name, status, string(body))
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return "", hoster.NewError(Name, hoster.KindUnknown, fmt.Sprintf("malformed upload-server response: %s", body), err)
	}
	if env.Status != http.StatusOK {
		return "", hoster.ClassifyHTTP(Name, env.Status, env.Msg)
	}

	var result struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(env.Result, &result); err != nil || result.URL == "" {
		return "", hoster.NewError(Name, hoster.KindUnknown, "upload-server result missing url", err)
	}
	return result.URL, nil
}

func (h *Hoster) ListFolders(ctx context.Context) ([]hoster.Folder, error) {
	q := url.Values{}
	q.Set("login", h.cfg.Login)
	q.Set("key", h.cfg.Key)

	status, body, err := hoster.GetJSON(ctx, h.client, fmt.Sprintf("%s/file/listfolder?%s", h.cfg.APIBase, q.Encode()))
	if err != nil {
		return nil, hoster.ClassifyTransport(Name, err)
	}
	if status != http.StatusOK {
		return nil, hoster.ClassifyHTTP(Name, status, string(body))
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, hoster.NewError(Name, hoster.KindUnknown, fmt.Sprintf("malformed folder listing: %s", body), err)
	}
	if env.Status != http.StatusOK {
		return nil, hoster.ClassifyHTTP(Name, env.Status, env.Msg)
	}

	var result struct {
		Folders []struct {
			ID       string `json:"id"`
			Name     string `json:"name"`
			ParentID string `json:"parent_id"`
		} `json:"folders"`
	}
	if err := json.Unmarshal(env.Result, &result); err != nil {
		return nil, hoster.NewError(Name, hoster.KindUnknown, "malformed folder listing result", err)
	}

	folders := make([]hoster.Folder, 0, len(result.Folders))
	for _, f := range result.Folders {
		folders = append(folders, hoster.Folder{ID: f.ID, Name: f.Name, ParentID: f.ParentID})
	}
	return folders, nil
}

func (h *Hoster) CreateFolder(ctx context.Context, name, parentID string) (string, error) {
	q := url.Values{}
	q.Set("login", h.cfg.Login)
	q.Set("key", h.cfg.Key)
	q.Set("name", name)
	if parentID != "" {
		q.Set("pid", parentID)
	}

	status, body, err := hoster.GetJSON(ctx, h.client, fmt.Sprintf("%s/file/createfolder?%s", h.cfg.APIBase, q.Encode()))
	if err != nil {
		return "", hoster.ClassifyTransport(Name, err)
	}
	if status != http.StatusOK {
		return "", hoster.ClassifyHTTP(Name, status, string(body))
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return "", hoster.NewError(Name, hoster.KindUnknown, fmt.Sprintf("malformed create-folder response: %s", body), err)
	}
	if env.Status != http.StatusOK {
		return "", hoster.ClassifyHTTP(Name, env.Status, env.Msg)
	}

	var result struct {
		FolderID string `json:"folderid"`
	}
	if err := json.Unmarshal(env.Result, &result); err != nil || result.FolderID == "" {
		return "", hoster.NewError(Name, hoster.KindUnknown, "create-folder result missing folder id", err)
	}
	return result.FolderID, nil
}
