package media

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fluffyriot/channelgrab/internal/ingest"
)

// Downloader fetches media bytes from a URL (t.me CDN photos, avatars,
// video thumbnails). A missing resource is (nil, nil), not an error.
type Downloader struct {
	httpClient http.Client
}

func NewDownloader(timeout time.Duration) *Downloader {
	return &Downloader{
		httpClient: http.Client{
			Timeout: timeout,
		},
	}
}

func (d *Downloader) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &ingest.TransportError{Op: "media fetch", Err: err}
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; channelgrab/1.0)")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, &ingest.TransportError{Op: "media fetch", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &ingest.TransportError{Op: "media fetch", Err: fmt.Errorf("unexpected HTTP status %d", resp.StatusCode)}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ingest.TransportError{Op: "media fetch", Err: err}
	}
	return data, nil
}
