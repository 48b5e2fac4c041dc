package inputs

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// maxDownloadBytes caps the size of a downloaded document.
const maxDownloadBytes = 100 << 20

// HTTPClient is the subset of http.Client the downloader needs.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

var defaultClient HTTPClient = &http.Client{Timeout: 2 * time.Minute}

// downloadAll fetches every URL entry concurrently and fills in its local
// path. Downloaded copies are numbered in source order so reruns produce the
// same file names.
func downloadAll(ctx context.Context, entries []entry, opts Options, log zerolog.Logger) error {
	var urls []int
	for i, e := range entries {
		if e.url {
			urls = append(urls, i)
		}
	}
	if len(urls) == 0 {
		return nil
	}
	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return fmt.Errorf("output directory: %w", err)
	}

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(opts.DownloadConcurrency)
	for n, i := range urls {
		name := fmt.Sprintf("%s-%d", opts.Basename, n+1)
		eg.Go(func() error {
			path, err := fetchOne(gctx, opts.Client, entries[i].source, opts.OutputDir, name)
			if err != nil {
				return err
			}
			entries[i].path = path
			log.Info().
				Str("url", entries[i].source).
				Str("path", path).
				Msg("Downloaded document")
			return nil
		})
	}
	return eg.Wait()
}

// fetchOne downloads one URL, converts the image to PNG, and writes it to
// the output directory next to a sidecar file recording where it came from.
func fetchOne(ctx context.Context, client HTTPClient, url, dir, name string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", &DownloadError{URL: url, Err: err}
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", &DownloadError{URL: url, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", &DownloadError{URL: url, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes+1))
	if err != nil {
		return "", &DownloadError{URL: url, Err: err}
	}
	if len(data) > maxDownloadBytes {
		return "", &DownloadError{URL: url, Err: fmt.Errorf("response larger than %d bytes", maxDownloadBytes)}
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", &DownloadError{URL: url, Err: fmt.Errorf("%w (%v)", ErrNotImage, err)}
	}

	path := filepath.Join(dir, name+".png")
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("save %s: %w", url, err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return "", fmt.Errorf("save %s: %w", url, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("save %s: %w", url, err)
	}

	sidecar := filepath.Join(dir, name+".url")
	if err := os.WriteFile(sidecar, []byte(url+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("save %s: %w", url, err)
	}
	return path, nil
}
