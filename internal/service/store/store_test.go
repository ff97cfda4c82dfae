package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mirra-dev/mirra/internal/models"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.json")
	s, err := New(zap.NewNop(), path, nil)
	require.NoError(t, err)
	return s, path
}

func writeCatalog(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestUpsertCreatesRecord(t *testing.T) {
	s, path := newTestStore(t)

	now := time.Now().UTC()
	require.NoError(t, s.Upsert("ABCD-1234", &models.ContentRecord{
		Title:     "First clip",
		ScrapedAt: &now,
	}))

	rec, ok := s.Get("ABCD-1234")
	require.True(t, ok)
	assert.Equal(t, "First clip", rec.Title)

	// Committed to disk, not just memory.
	reloaded, err := New(zap.NewNop(), path, nil)
	require.NoError(t, err)
	rec2, ok := reloaded.Get("ABCD-1234")
	require.True(t, ok)
	assert.Equal(t, "First clip", rec2.Title)
}

func TestUpsertHostingMergePreservesOtherProviders(t *testing.T) {
	s, _ := newTestStore(t)

	entryA := &models.HostingEntry{
		EmbedURL:   "https://alpha.example/e/a1",
		WatchURL:   "https://alpha.example/v/a1",
		FileCode:   "a1",
		UploadedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	require.NoError(t, s.Upsert("ABCD-1234", &models.ContentRecord{
		Hosting: map[string]*models.HostingEntry{"alpha": entryA},
	}))

	before, ok := s.Get("ABCD-1234")
	require.True(t, ok)
	wantA, err := json.Marshal(before.Hosting["alpha"])
	require.NoError(t, err)

	// A later job that only targeted beta must not disturb alpha.
	require.NoError(t, s.Upsert("ABCD-1234", &models.ContentRecord{
		Hosting: map[string]*models.HostingEntry{
			"beta": {EmbedURL: "https://beta.example/e/b1", FileCode: "b1"},
		},
	}))

	after, ok := s.Get("ABCD-1234")
	require.True(t, ok)
	require.Len(t, after.Hosting, 2)

	gotA, err := json.Marshal(after.Hosting["alpha"])
	require.NoError(t, err)
	assert.Equal(t, string(wantA), string(gotA))
	assert.Equal(t, "b1", after.Hosting["beta"].FileCode)
}

func TestUpsertReplacesOwnProviderEntry(t *testing.T) {
	s, _ := newTestStore(t)

	require.NoError(t, s.Upsert("ABCD-1234", &models.ContentRecord{
		Hosting: map[string]*models.HostingEntry{"alpha": {FileCode: "old"}},
	}))
	require.NoError(t, s.Upsert("ABCD-1234", &models.ContentRecord{
		Hosting: map[string]*models.HostingEntry{"alpha": {FileCode: "new"}},
	}))

	rec, ok := s.Get("ABCD-1234")
	require.True(t, ok)
	require.Len(t, rec.Hosting, 1)
	assert.Equal(t, "new", rec.Hosting["alpha"].FileCode)
}

func TestLoadMigratesLegacyHostingShape(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	writeCatalog(t, path, `[
	  {
	    "code": "ABCD-1234",
	    "title": "Legacy record",
	    "hosting": {
	      "service": "alpha",
	      "embed_url": "https://alpha.example/e/a1",
	      "uploaded_at": "2024-06-01T00:00:00Z"
	    }
	  }
	]`)

	s, err := New(zap.NewNop(), path, nil)
	require.NoError(t, err)

	rec, ok := s.Get("ABCD-1234")
	require.True(t, ok)
	require.Len(t, rec.Hosting, 1)
	assert.Equal(t, "https://alpha.example/e/a1", rec.Hosting["alpha"].EmbedURL)
}

func TestMigrateSchemaIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	writeCatalog(t, path, `[
	  {"code": "AAAA-0001", "hosting": {"service": "alpha", "embed_url": "https://alpha.example/e/1"}},
	  {"code": "AAAA-0002", "hosting": {"alpha": {"embed_url": "https://alpha.example/e/2", "uploaded_at": "2024-06-01T00:00:00Z"}}}
	]`)

	s, err := New(zap.NewNop(), path, nil)
	require.NoError(t, err)

	migrated, err := s.MigrateSchema()
	require.NoError(t, err)
	assert.Equal(t, 1, migrated)

	afterFirst, err := os.ReadFile(path)
	require.NoError(t, err)

	// Second run on already-migrated data is a no-op.
	s2, err := New(zap.NewNop(), path, nil)
	require.NoError(t, err)
	migrated, err = s2.MigrateSchema()
	require.NoError(t, err)
	assert.Equal(t, 0, migrated)

	afterSecond, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, string(afterFirst), string(afterSecond))
}

func TestLoadSkipsCorruptRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	writeCatalog(t, path, `[
	  {"code": "AAAA-0001", "title": "good"},
	  {"title": "no code"},
	  42,
	  {"code": "AAAA-0002", "hosting": "not an object"}
	]`)

	s, err := New(zap.NewNop(), path, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, s.Len())
	_, ok := s.Get("AAAA-0001")
	assert.True(t, ok)
}

func TestFindDuplicatesAndDedup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	writeCatalog(t, path, `[
	  {"code": "AAAA-0001", "title": "sparse"},
	  {"code": "AAAA-0001", "title": "rich", "hosting": {"alpha": {"embed_url": "https://alpha.example/e/1", "uploaded_at": "2024-06-01T00:00:00Z"}}},
	  {"code": "AAAA-0002"}
	]`)

	s, err := New(zap.NewNop(), path, nil)
	require.NoError(t, err)

	dups := s.FindDuplicates()
	assert.Equal(t, map[string]int{"AAAA-0001": 2}, dups)

	// Reads already resolve to the record with more hosting entries.
	rec, ok := s.Get("AAAA-0001")
	require.True(t, ok)
	assert.Equal(t, "rich", rec.Title)

	removed, err := s.Dedup()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 2, s.Len())
	assert.Empty(t, s.FindDuplicates())

	rec, ok = s.Get("AAAA-0001")
	require.True(t, ok)
	assert.Equal(t, "rich", rec.Title)
}

func TestListPagination(t *testing.T) {
	s, _ := newTestStore(t)
	for _, code := range []string{"AAAA-0001", "AAAA-0002", "AAAA-0003"} {
		require.NoError(t, s.Upsert(code, nil))
	}

	page1, total := s.List(1, 2)
	assert.Equal(t, 3, total)
	require.Len(t, page1, 2)

	page2, _ := s.List(2, 2)
	require.Len(t, page2, 1)

	empty, _ := s.List(3, 2)
	assert.Empty(t, empty)
}

func TestListResolvesDuplicatesLikeGet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	writeCatalog(t, path, `[
	  {"code": "AAAA-0001", "title": "sparse"},
	  {"code": "AAAA-0001", "title": "rich", "hosting": {"alpha": {"embed_url": "https://alpha.example/e/1", "uploaded_at": "2024-06-01T00:00:00Z"}}},
	  {"code": "AAAA-0002", "title": "other"}
	]`)

	s, err := New(zap.NewNop(), path, nil)
	require.NoError(t, err)

	records, total := s.List(1, 50)
	assert.Equal(t, 2, total)
	require.Len(t, records, 2)

	// Each code shows up once, as the same record Get resolves to.
	byCode := make(map[string]*models.ContentRecord, len(records))
	for _, rec := range records {
		require.NotContains(t, byCode, rec.Code)
		byCode[rec.Code] = rec
	}
	assert.Equal(t, "rich", byCode["AAAA-0001"].Title)
	assert.Equal(t, "other", byCode["AAAA-0002"].Title)
}

func TestGetReturnsCopy(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.Upsert("ABCD-1234", &models.ContentRecord{
		Hosting: map[string]*models.HostingEntry{"alpha": {FileCode: "a1"}},
	}))

	rec, _ := s.Get("ABCD-1234")
	rec.Hosting["alpha"].FileCode = "tampered"
	rec.Title = "tampered"

	fresh, _ := s.Get("ABCD-1234")
	assert.Equal(t, "a1", fresh.Hosting["alpha"].FileCode)
	assert.Empty(t, fresh.Title)
}
