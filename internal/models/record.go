package models

import "time"

// ContentRecord is one catalog entry, keyed by its canonical code. The
// JSON shape is the on-disk catalog format that external readers (the
// catalog API, enrichment scrapers) depend on; changing tags here is a
// breaking change for them.
type ContentRecord struct {
	Code         string                   `json:"code"`
	Title        string                   `json:"title,omitempty"`
	Description  string                   `json:"description,omitempty"`
	SourceURL    string                   `json:"source_url,omitempty"`
	ThumbnailURL string                   `json:"thumbnail_url,omitempty"`
	Tags         []string                 `json:"tags,omitempty"`
	Hosting      map[string]*HostingEntry `json:"hosting,omitempty"`
	ScrapedAt    *time.Time               `json:"scraped_at,omitempty"`
	ProcessedAt  *time.Time               `json:"processed_at,omitempty"`
}

// HostingEntry records one successful upload of the record's clip to one
// provider. An entry exists only for uploads the provider reported as
// successful.
type HostingEntry struct {
	EmbedURL              string    `json:"embed_url,omitempty"`
	WatchURL              string    `json:"watch_url,omitempty"`
	DownloadURL           string    `json:"download_url,omitempty"`
	DirectURL             string    `json:"direct_url,omitempty"`
	APIURL                string    `json:"api_url,omitempty"`
	FileCode              string    `json:"file_code,omitempty"`
	UploadedAt            time.Time `json:"uploaded_at"`
	UploadDurationSeconds float64   `json:"upload_duration_seconds,omitempty"`
}

// Playable reports whether the entry carries at least one URL a viewer
// can actually use.
func (e *HostingEntry) Playable() bool {
	return e != nil && (e.EmbedURL != "" || e.WatchURL != "" || e.DirectURL != "")
}
