package utils

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/storacha-rag/ragbot/pkg/config"
)

// MaxMediaSize caps downloads and local reads of user media.
const MaxMediaSize int64 = 20 << 20

// ErrMediaTooLarge is returned when media exceeds the size limit.
var ErrMediaTooLarge = errors.New("media exceeds size limit")

// FetchMedia reads a local file or downloads an http(s) URL, returning the
// bytes and a file name. At most limit bytes are accepted; limit <= 0 means
// MaxMediaSize.
func FetchMedia(ctx context.Context, client *http.Client, pathOrURL string, limit int64) ([]byte, string, error) {
	if limit <= 0 {
		limit = MaxMediaSize
	}
	rc, name, err := openMedia(ctx, client, pathOrURL)
	if err != nil {
		return nil, "", err
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, limit+1))
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", name, err)
	}
	if int64(len(data)) > limit {
		return nil, "", fmt.Errorf("%s: %w (%d bytes)", name, ErrMediaTooLarge, limit)
	}
	return data, name, nil
}

func openMedia(ctx context.Context, client *http.Client, pathOrURL string) (io.ReadCloser, string, error) {
	if strings.HasPrefix(pathOrURL, "http://") || strings.HasPrefix(pathOrURL, "https://") {
		if client == nil {
			client = http.DefaultClient
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, pathOrURL, nil)
		if err != nil {
			return nil, "", err
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, "", err
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, "", fmt.Errorf("failed to download media: %s", resp.Status)
		}
		return resp.Body, fileNameFromURL(pathOrURL), nil
	}

	f, err := os.Open(config.ExpandPath(pathOrURL))
	if err != nil {
		return nil, "", err
	}
	return f, filepath.Base(pathOrURL), nil
}

func fileNameFromURL(u string) string {
	if idx := strings.IndexAny(u, "?#"); idx != -1 {
		u = u[:idx]
	}
	name := filepath.Base(u)
	if name == "" || name == "." || name == "/" || strings.Contains(name, ":") {
		return "downloaded_media"
	}
	return name
}
