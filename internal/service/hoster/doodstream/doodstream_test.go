package doodstream

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mirra-dev/mirra/internal/service/hoster"
)

func writeAsset(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(path, []byte("not really a video"), 0o644))
	return path
}

func TestUploadSuccess(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/api/upload/server", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sekrit", r.URL.Query().Get("key"))
		fmt.Fprintf(w, `{"status":200,"msg":"OK","result":"%s/upload/01"}`, srv.URL)
	})
	mux.HandleFunc("/upload/01", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "fld7", r.FormValue("fld_id"))
		_, _, err := r.FormFile("file")
		require.NoError(t, err)
		fmt.Fprint(w, `{"status":200,"msg":"OK","result":[{"filecode":"dood123","download_url":"https://dl.example/dood123","protected_embed":"/e/dood123","protected_dl":""}]}`)
	})

	h := New(zap.NewNop(), Config{Key: "sekrit", APIBase: srv.URL, LinkBase: "https://dood.example"})
	res := h.Upload(context.Background(), hoster.UploadRequest{
		AssetPath: writeAsset(t),
		FolderID:  "fld7",
	})

	require.True(t, res.Success, "upload failed: %s", res.ErrorMessage)
	require.NotNil(t, res.Entry)
	assert.Equal(t, "dood123", res.Entry.FileCode)
	assert.Equal(t, "https://dood.example/e/dood123", res.Entry.EmbedURL)
	assert.Equal(t, "https://dood.example/d/dood123", res.Entry.WatchURL)
	assert.Equal(t, "https://dl.example/dood123", res.Entry.DownloadURL)
	assert.Contains(t, res.Entry.APIURL, "file_code=dood123")
}

func TestUploadInvalidKeyIsAuthError(t *testing.T) {
	var calls atomic.Int32

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/api/upload/server", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		// DoodStream reports auth failures inside a 200 envelope.
		fmt.Fprint(w, `{"status":400,"msg":"Invalid key","result":null}`)
	})

	h := New(zap.NewNop(), Config{Key: "bad", APIBase: srv.URL})
	res := h.Upload(context.Background(), hoster.UploadRequest{AssetPath: writeAsset(t)})

	require.False(t, res.Success)
	assert.Equal(t, string(hoster.KindAuthError), res.ErrorKind)
	assert.Equal(t, int32(1), calls.Load())
}

func TestUploadRetriesTransientServerError(t *testing.T) {
	var calls atomic.Int32

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/api/upload/server", func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprintf(w, `{"status":200,"msg":"OK","result":"%s/upload/01"}`, srv.URL)
	})
	mux.HandleFunc("/upload/01", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":200,"msg":"OK","result":[{"filecode":"dood456"}]}`)
	})

	h := New(zap.NewNop(), Config{Key: "k", APIBase: srv.URL, LinkBase: "https://dood.example", MaxAttempts: 3})
	res := h.Upload(context.Background(), hoster.UploadRequest{AssetPath: writeAsset(t)})

	require.True(t, res.Success, "upload failed: %s", res.ErrorMessage)
	assert.Equal(t, "dood456", res.Entry.FileCode)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCreateFolderAcceptsNumericID(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/api/folder/create", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "previews", r.URL.Query().Get("name"))
		fmt.Fprint(w, `{"status":200,"msg":"OK","result":{"fld_id":12345}}`)
	})

	h := New(zap.NewNop(), Config{Key: "k", APIBase: srv.URL})
	id, err := h.CreateFolder(context.Background(), "previews", "")
	require.NoError(t, err)
	assert.Equal(t, "12345", id)
}
