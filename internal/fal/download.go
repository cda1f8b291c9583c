package fal

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Downloader fetches generated media to local files
type Downloader struct {
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewDownloader creates a downloader whose requests time out after timeout.
func NewDownloader(timeout time.Duration, logger zerolog.Logger) *Downloader {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Downloader{
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With().Str("component", "download").Logger(),
	}
}

// Download streams url into dest. A failed download leaves no file behind.
func (d *Downloader) Download(ctx context.Context, url, dest string) (err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("download %s: %w", url, &APIError{Status: resp.StatusCode, Body: string(body)})
	}

	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", dest, cerr)
		}
		if err != nil {
			os.Remove(dest)
		}
	}()

	n, err := io.Copy(f, resp.Body)
	if err != nil {
		return fmt.Errorf("write %s: %w", dest, err)
	}

	d.logger.Debug().Str("url", url).Str("dest", dest).Int64("bytes", n).Msg("downloaded")
	return nil
}
