package filemoon

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

const Name = "filemoon"

const (
	defaultAPIBase  = "https://filemoonapi.com"
	defaultLinkBase = "https://filemoon.sx"

	// statusPollAttempts bounds how long an upload waits for the
	// provider to finish transcoding before settling with whatever
	// links are known.
	statusPollAttempts = 5
)

// Config carries the credentials and endpoints for one Filemoon
// account. Auth shape: a single API key.
type Config struct {
	Key         string
	APIBase     string
	LinkBase    string
	MaxAttempts int
}

// Hoster uploads clips to Filemoon. Processing is asynchronous: the
// upload POST returns a provisional file code and the adapter polls the
// file-info endpoint, on the shared backoff schedule, until the file
// leaves processing.
type Hoster struct {
	logger *zap.Logger
	client *http.Client
	cfg    Config
	sleep  func(ctx context.Context, d time.Duration) error
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
		sleep:  sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (h *Hoster) Name() string { return Name }

func (h *Hoster) Upload(ctx context.Context, req hoster.UploadRequest) *models.HostResult {
	started := time.Now()

	if err := hoster.ValidateAsset(Name, req.AssetPath); err != nil {
		return hoster.FailureResult(Name, err, started)
	}

	var fileCode string
	err := retry.Do(ctx, func(ctx context.Context) error {
		var err error
		fileCode, err = h.upload(ctx, req)
		return err
	}, &retry.Options{MaxAttempts: h.cfg.MaxAttempts})
	if err != nil {
		return hoster.FailureResult(Name, err, started)
	}

	entry, err := h.awaitReady(ctx, fileCode)
	if err != nil {
		return hoster.FailureResult(Name, err, started)
	}

	return hoster.SuccessResult(Name, entry, started)
}

// ResolveStatus looks up the current processing state of a previously
// uploaded file and returns its links once playable.
func (h *Hoster) ResolveStatus(ctx context.Context, fileCode string) *models.HostResult {
	started := time.Now()

	info, err := h.fileInfo(ctx, fileCode)
	if err != nil {
		return hoster.FailureResult(Name, err, started)
	}
	if info.processing {
		return hoster.FailureResult(Name,
			hoster.NewError(Name, hoster.KindTransientNetwork, fmt.Sprintf("file %s still processing", fileCode), nil),
			started)
	}
	return hoster.SuccessResult(Name, h.entryFor(fileCode), started)
}

func (h *Hoster) upload(ctx context.Context, req hoster.UploadRequest) (string, error) {
	server, err := h.uploadServer(ctx)
	if err != nil {
		return "", err
	}

	fields := map[string]string{"key": h.cfg.Key}
	if req.FolderID != "" {
		fields["fld_id"] = req.FolderID
	}

	status, body, err := hoster.PostFile(ctx, h.client, server, "file", req.AssetPath, fields)
	if err != nil {
		return "", hoster.ClassifyTransport(Name, err)
	}
	if status != http.StatusOK {
		return "", hoster.ClassifyHTTP(Name, status, string(body))
	}

	var resp struct {
		Status int    `json:"status"`
		Msg    string `json:"msg"`
		Files  []struct {
			FileCode string `json:"filecode"`
			Status   string `json:"status"`
		} `json:"files"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", hoster.NewError(Name, hoster.KindUnknown, fmt.Sprintf("malformed upload response: %s", body), err)
	}
	if resp.Status != http.StatusOK {
		return "", hoster.ClassifyHTTP(Name, resp.Status, resp.Msg)
	}
	if len(resp.Files) == 0 || resp.Files[0].FileCode == "" {
		return "", hoster.NewError(Name, hoster.KindUnknown, fmt.Sprintf("upload response missing file code: %s", body), nil)
	}
	return resp.Files[0].FileCode, nil
}

// awaitReady polls file info on the shared backoff schedule until the
// provider reports the file out of processing. Transcoding that outlasts
// the poll budget is not an error: the links are already stable, so the
// entry is returned as-is.
func (h *Hoster) awaitReady(ctx context.Context, fileCode string) (*models.HostingEntry, error) {
	for attempt := 1; attempt <= statusPollAttempts; attempt++ {
		info, err := h.fileInfo(ctx, fileCode)
		if err != nil {
			if hoster.KindOf(err) == hoster.KindAuthError {
				return nil, err
			}
			h.logger.Warn("File info poll failed",
				zap.String("file_code", fileCode),
				zap.Int("attempt", attempt),
				zap.Error(err))
		} else if !info.processing {
			return h.entryFor(fileCode), nil
		}

		if attempt < statusPollAttempts {
			if err := h.sleep(ctx, retry.Delay(attempt)); err != nil {
				return nil, hoster.ClassifyTransport(Name, err)
			}
		}
	}

	h.logger.Warn("File still processing after poll budget, returning provisional links",
		zap.String("file_code", fileCode))
	return h.entryFor(fileCode), nil
}

func (h *Hoster) uploadServer(ctx context.Context) (string, error) {
	q := url.Values{"key": {h.cfg.Key}}

	status, body, err := hoster.GetJSON(ctx, h.client, fmt.Sprintf("%s/api/upload/server?%s", h.cfg.APIBase, q.Encode()))
	if err != nil {
		return "", hoster.ClassifyTransport(Name, err)
	}
	if status != http.StatusOK {
		return "", hoster.ClassifyHTTP(Name, status, string(body))
	}

	var resp struct {
		Status int    `json:"status"`
		Msg    string `json:"msg"`
		Result string `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", hoster.NewError(Name, hoster.KindUnknown, fmt.Sprintf("malformed upload-server response: %s", body), err)
	}
	if resp.Status != http.StatusOK {
		return "", hoster.ClassifyHTTP(Name, resp.Status, resp.Msg)
	}
	if resp.Result == "" {
		return "", hoster.NewError(Name, hoster.KindUnknown, "upload-server result missing url", nil)
	}
	return resp.Result, nil
}

type fileState struct {
	processing bool
}

func (h *Hoster) fileInfo(ctx context.Context, fileCode string) (*fileState, error) {
	q := url.Values{"key": {h.cfg.Key}, "file_code": {fileCode}}

	status, body, err := hoster.GetJSON(ctx, h.client, fmt.Sprintf("%s/api/file/info?%s", h.cfg.APIBase, q.Encode()))
	if err != nil {
		return nil, hoster.ClassifyTransport(Name, err)
	}
	if status != http.StatusOK {
		return nil, hoster.ClassifyHTTP(Name, status, string(body))
	}

	var resp struct {
		Status int    `json:"status"`
		Msg    string `json:"msg"`
		Result []struct {
			FileCode string `json:"file_code"`
			Status   string `json:"status"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, hoster.NewError(Name, hoster.KindUnknown, fmt.Sprintf("malformed file-info response: %s", body), err)
	}
	if resp.Status != http.StatusOK {
		return nil, hoster.ClassifyHTTP(Name, resp.Status, resp.Msg)
	}
	if len(resp.Result) == 0 {
		return nil, hoster.NewError(Name, hoster.KindUnknown, fmt.Sprintf("file %s not in file-info result", fileCode), nil)
	}

	state := strings.ToLower(resp.Result[0].Status)
	return &fileState{processing: state == "processing" || state == "pending" || state == "encoding"}, nil
}

func (h *Hoster) entryFor(fileCode string) *models.HostingEntry {
	return &models.HostingEntry{
		FileCode: fileCode,
		EmbedURL: fmt.Sprintf("%s/e/%s", h.cfg.LinkBase, fileCode),
		WatchURL: fmt.Sprintf("%s/d/%s", h.cfg.LinkBase, fileCode),
		APIURL:   fmt.Sprintf("%s/api/file/info?file_code=%s", h.cfg.APIBase, fileCode),
	}
}
