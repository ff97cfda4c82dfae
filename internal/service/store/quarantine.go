package store

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mirra-dev/mirra/internal/models"
)

// Quarantine holds the codes that have no successful hosting entry yet.
// Entries only ever leave through Reconcile: an upload claiming success
// is not believed until the catalog itself shows a hosting entry.
type Quarantine struct {
	logger *zap.Logger
	path   string

	mu      sync.Mutex
	entries map[string]*models.QuarantineEntry
}

// NewQuarantine loads the quarantine file from path; a missing file
// yields an empty quarantine. Malformed entries are logged and skipped.
func NewQuarantine(logger *zap.Logger, path string) (*Quarantine, error) {
	q := &Quarantine{
		logger:  logger,
		path:    path,
		entries: make(map[string]*models.QuarantineEntry),
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return q, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read quarantine %s: %w", path, err)
	}
	if len(data) == 0 {
		return q, nil
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse quarantine %s: %w", path, err)
	}

	for i, item := range raw {
		var entry models.QuarantineEntry
		if err := json.Unmarshal(item, &entry); err != nil || entry.Code == "" {
			logger.Warn("Skipping corrupt quarantine entry",
				zap.Int("position", i),
				zap.Error(err))
			continue
		}
		q.entries[entry.Code] = &entry
	}

	return q, nil
}

// RecordFailure creates or bumps the quarantine entry for code after a
// publish attempt ended with zero successful hosts.
func (q *Quarantine) RecordFailure(code, lastError string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry, exists := q.entries[code]
	if !exists {
		entry = &models.QuarantineEntry{Code: code}
		q.entries[code] = entry
	} else {
		entry.RetryCount++
	}
	entry.LastError = lastError
	entry.LastAttemptAt = time.Now().UTC()

	return q.commit()
}

// Reconcile removes every entry whose code now has at least one hosting
// entry in the catalog and returns the removed codes. This is the sole
// removal path.
func (q *Quarantine) Reconcile(s *Store) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var removed []string
	for code := range q.entries {
		rec, ok := s.Get(code)
		if ok && len(rec.Hosting) > 0 {
			delete(q.entries, code)
			removed = append(removed, code)
		}
	}
	if len(removed) == 0 {
		return nil, nil
	}
	sort.Strings(removed)

	if err := q.commit(); err != nil {
		return nil, err
	}

	q.logger.Info("Quarantine reconciled",
		zap.Int("released", len(removed)),
		zap.Strings("codes", removed))
	return removed, nil
}

// Entries returns a snapshot of the quarantine sorted by code.
func (q *Quarantine) Entries() []models.QuarantineEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]models.QuarantineEntry, 0, len(q.entries))
	for _, entry := range q.entries {
		out = append(out, *entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

func (q *Quarantine) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// commit writes the quarantine with the same temp-then-rename
// discipline as the catalog. Callers must hold the lock.
func (q *Quarantine) commit() error {
	list := make([]*models.QuarantineEntry, 0, len(q.entries))
	for _, entry := range q.entries {
		list = append(list, entry)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Code < list[j].Code })

	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal quarantine: %w", err)
	}
	return atomicWrite(q.path, data)
}
