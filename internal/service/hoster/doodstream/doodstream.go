package doodstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mirra-dev/mirra/internal/models"
	"github.com/mirra-dev/mirra/internal/service/hoster"
	"github.com/mirra-dev/mirra/pkg/retry"
)

const Name = "doodstream"

const (
	defaultAPIBase  = "https://doodapi.com"
	defaultLinkBase = "https://dood.la"
)

// Config carries the credentials and endpoints for one DoodStream
// account. Auth shape: a single API key.
type Config struct {
	Key         string
	APIBase     string
	LinkBase    string
	MaxAttempts int
}

// Hoster uploads clips to DoodStream. Every job first discovers a
// regional upload server, then posts the file to it.
type Hoster struct {
	logger *zap.Logger
	client *http.Client
	cfg    Config
}

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
	server, err := h.uploadServer(ctx)
	if err != nil {
		return nil, err
	}

	fields := map[string]string{}
	if req.FolderID != "" {
		fields["fld_id"] = req.FolderID
	}

	uploadURL := fmt.Sprintf("%s?%s", server, url.Values{"key": {h.cfg.Key}}.Encode())
	status, body, err := hoster.PostFile(ctx, h.client, uploadURL, "file", req.AssetPath, fields)
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
		return nil, classifyAPI(env.Status, env.Msg)
	}

	var files []struct {
		FileCode       string `json:"filecode"`
		DownloadURL    string `json:"download_url"`
		ProtectedEmbed string `json:"protected_embed"`
		ProtectedDL    string `json:"protected_dl"`
	}
	if err := json.Unmarshal(env.Result, &files); err != nil || len(files) == 0 || files[0].FileCode == "" {
		return nil, hoster.NewError(Name, hoster.KindUnknown, fmt.Sprintf("upload result missing file code: %s", env.Result), err)
	}

	f := files[0]
	entry := &models.HostingEntry{
		FileCode:    f.FileCode,
		EmbedURL:    h.absolute(f.ProtectedEmbed, fmt.Sprintf("/e/%s", f.FileCode)),
		WatchURL:    fmt.Sprintf("%s/d/%s", h.cfg.LinkBase, f.FileCode),
		DownloadURL: h.absolute(f.ProtectedDL, ""),
		APIURL:      fmt.Sprintf("%s/api/file/info?file_code=%s", h.cfg.APIBase, f.FileCode),
	}
	if entry.DownloadURL == "" && f.DownloadURL != "" {
		entry.DownloadURL = f.DownloadURL
	}
	return entry, nil
}

// absolute resolves DoodStream's sometimes-relative protected links
// against the public link base, falling back to the given path.
func (h *Hoster) absolute(link, fallbackPath string) string {
	switch {
	case link == "" && fallbackPath == "":
		return ""
	case link == "":
		return h.cfg.LinkBase + fallbackPath
	case strings.HasPrefix(link, "/"):
		return h.cfg.LinkBase + link
	default:
		return link
	}
}

func (h *Hoster) uploadServer(ctx context.Context) (string, error) {
	u := fmt.Sprintf("%s/api/upload/server?%s", h.cfg.APIBase, url.Values{"key": {h.cfg.Key}}.Encode())

	status, body, err := hoster.GetJSON(ctx, h.client, u)
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
		return "", classifyAPI(env.Status, env.Msg)
	}

	var server string
	if err := json.Unmarshal(env.Result, &server); err != nil || server == "" {
		return "", hoster.NewError(Name, hoster.KindUnknown, "upload-server result missing url", err)
	}
	return server, nil
}

func (h *Hoster) ListFolders(ctx context.Context) ([]hoster.Folder, error) {
	q := url.Values{"key": {h.cfg.Key}, "only_folders": {"1"}}

	status, body, err := hoster.GetJSON(ctx, h.client, fmt.Sprintf("%s/api/folder/list?%s", h.cfg.APIBase, q.Encode()))
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
		return nil, classifyAPI(env.Status, env.Msg)
	}

	var result struct {
		Folders []struct {
			FldID    string `json:"fld_id"`
			Name     string `json:"name"`
			ParentID string `json:"parent_id"`
		} `json:"folders"`
	}
	if err := json.Unmarshal(env.Result, &result); err != nil {
		return nil, hoster.NewError(Name, hoster.KindUnknown, "malformed folder listing result", err)
	}

	folders := make([]hoster.Folder, 0, len(result.Folders))
	for _, f := range result.Folders {
		folders = append(folders, hoster.Folder{ID: f.FldID, Name: f.Name, ParentID: f.ParentID})
	}
	return folders, nil
}

func (h *Hoster) CreateFolder(ctx context.Context, name, parentID string) (string, error) {
	q := url.Values{"key": {h.cfg.Key}, "name": {name}}
	if parentID != "" {
		q.Set("parent_id", parentID)
	}

	status, body, err := hoster.GetJSON(ctx, h.client, fmt.Sprintf("%s/api/folder/create?%s", h.cfg.APIBase, q.Encode()))
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
		return "", classifyAPI(env.Status, env.Msg)
	}

	var result struct {
		FldID json.Number `json:"fld_id"`
	}
	if err := json.Unmarshal(env.Result, &result); err != nil || result.FldID.String() == "" {
		return "", hoster.NewError(Name, hoster.KindUnknown, "create-folder result missing folder id", err)
	}
	return result.FldID.String(), nil
}

// classifyAPI maps DoodStream's in-envelope status codes, which mirror
// HTTP semantics but arrive with HTTP 200.
func classifyAPI(status int, msg string) *hoster.Error {
	if strings.Contains(strings.ToLower(msg), "invalid key") {
		return hoster.NewError(Name, hoster.KindAuthError, msg, nil)
	}
	return hoster.ClassifyHTTP(Name, status, msg)
}
