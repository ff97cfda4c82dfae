package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mirra-dev/mirra/internal/models"
)

// Store is the durable catalog of content records, persisted as a JSON
// array at a fixed path. It is the single source of truth for the rest
// of the system; every read and write of the backing file goes through
// it. Commits are single-writer: snapshot, marshal, temp file in the
// same directory, fsync, atomic rename.
type Store struct {
	logger  *zap.Logger
	path    string
	backups *BackupManager

	mu sync.RWMutex
	// records preserves file order, duplicates included; index points
	// each code at its authoritative record (see pickBest).
	records []*models.ContentRecord
	index   map[string]int
	// legacyCount tracks records whose hosting shape needed rewriting
	// during load; MigrateSchema persists the rewrite.
	legacyCount int
}

// New loads the catalog from path, creating an empty store when the
// file does not exist yet. Individual malformed records are logged and
// skipped; only an unreadable file is fatal.
func New(logger *zap.Logger, path string, backups *BackupManager) (*Store, error) {
	s := &Store{
		logger:  logger,
		path:    path,
		backups: backups,
		index:   make(map[string]int),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read catalog %s: %w", s.path, err)
	}
	if len(data) == 0 {
		return nil
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to parse catalog %s: %w", s.path, err)
	}

	for i, item := range raw {
		rec, legacy, err := decodeRecord(item)
		if err != nil {
			s.logger.Warn("Skipping corrupt catalog record",
				zap.Int("position", i),
				zap.Error(err))
			continue
		}
		if legacy {
			s.legacyCount++
		}
		s.append(rec)
	}

	s.logger.Info("Catalog loaded",
		zap.String("path", s.path),
		zap.Int("records", len(s.records)),
		zap.Int("legacy_hosting", s.legacyCount))
	return nil
}

// append adds rec and keeps index pointing at the best record for its
// code when duplicates exist.
func (s *Store) append(rec *models.ContentRecord) {
	s.records = append(s.records, rec)
	pos := len(s.records) - 1

	prev, dup := s.index[rec.Code]
	if !dup || pickBest(s.records[prev], rec) == rec {
		s.index[rec.Code] = pos
	}
}

// pickBest chooses the survivor between two records sharing a code: the
// one with more hosting entries, newest processedAt as tie-break.
func pickBest(a, b *models.ContentRecord) *models.ContentRecord {
	if len(b.Hosting) != len(a.Hosting) {
		if len(b.Hosting) > len(a.Hosting) {
			return b
		}
		return a
	}
	at, bt := time.Time{}, time.Time{}
	if a.ProcessedAt != nil {
		at = *a.ProcessedAt
	}
	if b.ProcessedAt != nil {
		bt = *b.ProcessedAt
	}
	if bt.After(at) {
		return b
	}
	return a
}

// legacyHosting is the pre-migration hosting shape: a single flat
// object with the provider name in a "service" field.
type legacyHosting struct {
	Service string `json:"service"`
	models.HostingEntry
}

// decodeRecord tolerates both hosting shapes so a catalog written by
// older tooling loads without a prior migration run. The legacy flag
// reports whether a rewrite is pending.
func decodeRecord(data json.RawMessage) (*models.ContentRecord, bool, error) {
	var shell struct {
		models.ContentRecord
		Hosting json.RawMessage `json:"hosting"`
	}
	if err := json.Unmarshal(data, &shell); err != nil {
		return nil, false, fmt.Errorf("unparseable record: %w", err)
	}
	if shell.Code == "" {
		return nil, false, fmt.Errorf("record missing code")
	}

	rec := shell.ContentRecord
	rec.Hosting = nil

	if len(shell.Hosting) == 0 || string(shell.Hosting) == "null" {
		return &rec, false, nil
	}

	var hosting map[string]*models.HostingEntry
	if err := json.Unmarshal(shell.Hosting, &hosting); err == nil {
		rec.Hosting = hosting
		return &rec, false, nil
	}

	var legacy legacyHosting
	if err := json.Unmarshal(shell.Hosting, &legacy); err != nil || legacy.Service == "" {
		return nil, false, fmt.Errorf("record %s has unrecognized hosting shape", rec.Code)
	}

	entry := legacy.HostingEntry
	rec.Hosting = map[string]*models.HostingEntry{legacy.Service: &entry}
	return &rec, true, nil
}

// MigrateSchema persists the rewrite of any legacy hosting shapes found
// at load time. Running it against an already-migrated catalog is a
// no-op; external readers rely on the legacy shape never reappearing.
func (s *Store) MigrateSchema() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.legacyCount == 0 {
		return 0, nil
	}

	migrated := s.legacyCount
	if err := s.commit(); err != nil {
		return 0, err
	}
	s.legacyCount = 0

	s.logger.Info("Catalog schema migrated", zap.Int("records", migrated))
	return migrated, nil
}

// Upsert merges patch into the record for code, creating it if absent.
// Scalar fields overwrite when set; hosting entries add or replace the
// entry for their own provider only, never dropping entries for other
// providers. The merged state is committed atomically.
func (s *Store) Upsert(code string, patch *models.ContentRecord) error {
	if code == "" {
		return fmt.Errorf("cannot upsert record without code")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.index[code]
	if !ok {
		s.append(&models.ContentRecord{Code: code})
		pos = s.index[code]
	}
	rec := s.records[pos]

	if patch != nil {
		mergeScalars(rec, patch)
		if len(patch.Hosting) > 0 {
			if rec.Hosting == nil {
				rec.Hosting = make(map[string]*models.HostingEntry, len(patch.Hosting))
			}
			for provider, entry := range patch.Hosting {
				rec.Hosting[provider] = entry
			}
		}
	}

	return s.commit()
}

func mergeScalars(dst, src *models.ContentRecord) {
	if src.Title != "" {
		dst.Title = src.Title
	}
	if src.Description != "" {
		dst.Description = src.Description
	}
	if src.SourceURL != "" {
		dst.SourceURL = src.SourceURL
	}
	if src.ThumbnailURL != "" {
		dst.ThumbnailURL = src.ThumbnailURL
	}
	if len(src.Tags) > 0 {
		dst.Tags = src.Tags
	}
	if src.ScrapedAt != nil {
		dst.ScrapedAt = src.ScrapedAt
	}
	if src.ProcessedAt != nil {
		dst.ProcessedAt = src.ProcessedAt
	}
}

// Get returns a copy of the record for code; mutations to the copy do
// not leak back into the store.
func (s *Store) Get(code string) (*models.ContentRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pos, ok := s.index[code]
	if !ok {
		return nil, false
	}
	return copyRecord(s.records[pos]), true
}

// List returns one page of records in file order plus the total count.
// Shadowed duplicates are skipped so every code shows up once, as the
// same record Get resolves to.
func (s *Store) List(page, pageSize int) ([]*models.ContentRecord, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 50
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	total := len(s.index)
	start := (page - 1) * pageSize
	if start >= total {
		return nil, total
	}
	end := start + pageSize
	if end > total {
		end = total
	}

	out := make([]*models.ContentRecord, 0, end-start)
	seen := 0
	for pos, rec := range s.records {
		if s.index[rec.Code] != pos {
			continue
		}
		if seen >= end {
			break
		}
		if seen >= start {
			out = append(out, copyRecord(rec))
		}
		seen++
	}
	return out, total
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// FindDuplicates returns the codes that appear more than once in the
// backing file, with their occurrence counts. Maintenance tooling only;
// the publish path never consults it.
func (s *Store) FindDuplicates() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int)
	for _, rec := range s.records {
		counts[rec.Code]++
	}
	dups := make(map[string]int)
	for code, n := range counts {
		if n > 1 {
			dups[code] = n
		}
	}
	return dups
}

// Dedup collapses duplicate codes down to their authoritative record
// and commits the cleaned catalog. Returns the number of records
// removed.
func (s *Store) Dedup() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := make([]*models.ContentRecord, 0, len(s.records))
	removed := 0
	for pos, rec := range s.records {
		if s.index[rec.Code] == pos {
			kept = append(kept, rec)
		} else {
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}

	s.records = kept
	s.index = make(map[string]int, len(kept))
	for pos, rec := range kept {
		s.index[rec.Code] = pos
	}

	if err := s.commit(); err != nil {
		return 0, err
	}
	s.logger.Info("Catalog deduplicated", zap.Int("removed", removed))
	return removed, nil
}

// commit persists the catalog: backup snapshot, then write-temp-then-
// rename so a crash mid-write never corrupts the committed state.
// Callers must hold the write lock.
func (s *Store) commit() error {
	if s.backups != nil {
		if err := s.backups.Snapshot(); err != nil {
			return err
		}
	}

	data, err := json.MarshalIndent(s.records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal catalog: %w", err)
	}
	if s.records == nil {
		data = []byte("[]")
	}

	return atomicWrite(s.path, data)
}

func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	cleanup := func(err error) error {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}

	if _, err := tmp.Write(data); err != nil {
		return cleanup(fmt.Errorf("failed to write temp file: %w", err))
	}
	if err := tmp.Sync(); err != nil {
		return cleanup(fmt.Errorf("failed to sync temp file: %w", err))
	}
	if err := tmp.Close(); err != nil {
		return cleanup(fmt.Errorf("failed to close temp file: %w", err))
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return cleanup(fmt.Errorf("failed to chmod temp file: %w", err))
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return cleanup(fmt.Errorf("failed to commit %s: %w", path, err))
	}
	return nil
}

func copyRecord(rec *models.ContentRecord) *models.ContentRecord {
	out := *rec
	if rec.Tags != nil {
		out.Tags = append([]string(nil), rec.Tags...)
	}
	if rec.Hosting != nil {
		out.Hosting = make(map[string]*models.HostingEntry, len(rec.Hosting))
		for provider, entry := range rec.Hosting {
			e := *entry
			out.Hosting[provider] = &e
		}
	}
	return &out
}
