package utils

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchMediaLocalFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4"), 0o644))

	data, name, err := FetchMedia(context.Background(), nil, path, 0)
	require.NoError(t, err)
	assert.Equal(t, "doc.pdf", name)
	assert.Equal(t, "%PDF-1.4", string(data))
}

func TestFetchMediaURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.png" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("image bytes"))
	}))
	defer srv.Close()

	data, name, err := FetchMedia(context.Background(), srv.Client(), srv.URL+"/photos/cat.png?sig=abc", 0)
	require.NoError(t, err)
	assert.Equal(t, "cat.png", name)
	assert.Equal(t, "image bytes", string(data))

	_, _, err = FetchMedia(context.Background(), srv.Client(), srv.URL+"/missing.png", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestFetchMediaLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.bin")
	require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("x", 11)), 0o644))

	_, _, err := FetchMedia(context.Background(), nil, path, 10)
	assert.ErrorIs(t, err, ErrMediaTooLarge)

	data, _, err := FetchMedia(context.Background(), nil, path, 11)
	require.NoError(t, err)
	assert.Len(t, data, 11)
}

func TestFileNameFromURL(t *testing.T) {
	assert.Equal(t, "file_1.jpg", fileNameFromURL("https://api.telegram.org/file/bot123/photos/file_1.jpg"))
	assert.Equal(t, "report.pdf", fileNameFromURL("https://example.com/report.pdf#page=2"))
}
