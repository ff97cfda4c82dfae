package hoster

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
)

// GetJSON performs a GET against a provider endpoint and returns the
// status code and raw body. Transport errors come back unclassified;
// adapters run them through ClassifyTransport.
func GetJSON(ctx context.Context, client *http.Client, url string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

// PostFile streams the asset to uploadURL as a multipart form under
// fieldName, with any extra provider fields alongside it.
func PostFile(ctx context.Context, client *http.Client, uploadURL, fieldName, assetPath string, fields map[string]string) (int, []byte, error) {
	file, err := os.Open(assetPath)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to open asset: %w", err)
	}
	defer file.Close()

	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)

	go func() {
		var werr error
		defer func() { pw.CloseWithError(werr) }()

		for k, v := range fields {
			if werr = writer.WriteField(k, v); werr != nil {
				return
			}
		}

		part, err := writer.CreateFormFile(fieldName, filepath.Base(assetPath))
		if err != nil {
			werr = err
			return
		}
		if _, werr = io.Copy(part, file); werr != nil {
			return
		}
		werr = writer.Close()
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, pr)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to send upload request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read upload response: %w", err)
	}
	return resp.StatusCode, body, nil
}
