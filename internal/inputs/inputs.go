// Package inputs resolves the mixed sources a run can name (image files,
// directories, URLs and list files) into the documents the pipeline
// analyzes.
//
// Local files are probed for dimensions and content hash. Directories are
// walked recursively and contribute their image files, with everything else
// ignored. URL sources are downloaded up front with bounded concurrency,
// normalized to PNG for maximum compatibility, and written into the output
// directory with a sidecar file recording the source URL. Documents whose
// content hash was already seen in the batch are reported once.
package inputs

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/caltechlibrary/documentarist/internal/document"
	"github.com/caltechlibrary/documentarist/internal/logger"
)

const (
	// DefaultBasename names downloaded URL copies: <basename>-N.png.
	DefaultBasename = "document"

	// DefaultDownloadConcurrency bounds parallel URL downloads.
	DefaultDownloadConcurrency = 4
)

// imageExtensions are the file types a directory walk picks up, matching the
// registered image decoders.
var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".tif":  true,
	".tiff": true,
	".bmp":  true,
	".webp": true,
}

// ErrNotImage is returned for an explicitly named file that cannot be
// decoded as an image.
var ErrNotImage = fmt.Errorf("not a supported image")

// DownloadError reports a failure retrieving a URL source.
type DownloadError struct {
	URL string
	Err error
}

// Error implements the error interface.
func (e *DownloadError) Error() string {
	return fmt.Sprintf("download %s: %v", e.URL, e.Err)
}

// Unwrap returns the underlying error.
func (e *DownloadError) Unwrap() error { return e.Err }

// Options configures input resolution.
type Options struct {
	// OutputDir receives downloaded copies of URL sources and their
	// sidecar files.
	OutputDir string

	// Basename names downloaded URL copies; DefaultBasename when empty.
	Basename string

	// DownloadConcurrency bounds parallel URL downloads;
	// DefaultDownloadConcurrency when zero.
	DownloadConcurrency int

	// Client performs URL downloads; a default client is used when nil.
	Client HTTPClient
}

func (o Options) withDefaults() Options {
	if o.Basename == "" {
		o.Basename = DefaultBasename
	}
	if o.DownloadConcurrency <= 0 {
		o.DownloadConcurrency = DefaultDownloadConcurrency
	}
	if o.Client == nil {
		o.Client = defaultClient
	}
	return o
}

// entry is one expanded source before probing: local entries carry their
// path from the start, URL entries get one after download.
type entry struct {
	source string
	path   string
	url    bool
}

// Resolve expands, downloads and probes the given sources into pipeline
// inputs, in source order.
func Resolve(ctx context.Context, sources []string, opts Options) ([]document.Input, error) {
	opts = opts.withDefaults()
	log := logger.WithComponent("inputs")

	entries, err := expand(sources)
	if err != nil {
		return nil, err
	}
	if err := downloadAll(ctx, entries, opts, log); err != nil {
		return nil, err
	}

	inputs := make([]document.Input, 0, len(entries))
	seenHash := make(map[string]string)
	seenID := make(map[string]int)
	for _, e := range entries {
		in, err := probe(e)
		if err != nil {
			return nil, err
		}
		if firstID, ok := seenHash[in.SHA256]; ok {
			log.Info().
				Str("source", e.source).
				Str("duplicate_of", firstID).
				Msg("Duplicate content, reporting once")
			continue
		}
		in.ID = uniqueID(in.ID, seenID)
		seenHash[in.SHA256] = in.ID
		inputs = append(inputs, in)
	}

	log.Info().
		Int("sources", len(sources)).
		Int("documents", len(inputs)).
		Msg("Inputs resolved")
	return inputs, nil
}

// expand turns the source list into per-document entries: URLs stay single
// entries, directories contribute their image files recursively, files pass
// through.
func expand(sources []string) ([]entry, error) {
	var entries []entry
	for _, src := range sources {
		if IsURL(src) {
			entries = append(entries, entry{source: src, url: true})
			continue
		}

		info, err := os.Stat(src)
		if err != nil {
			return nil, fmt.Errorf("input %s: %w", src, err)
		}
		if !info.IsDir() {
			entries = append(entries, entry{source: src, path: src})
			continue
		}

		err = filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			name := d.Name()
			if strings.HasPrefix(name, ".") {
				if d.IsDir() && path != src {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() {
				return nil
			}
			if !imageExtensions[strings.ToLower(filepath.Ext(name))] {
				return nil
			}
			entries = append(entries, entry{source: path, path: path})
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", src, err)
		}
	}
	return entries, nil
}

// IsURL reports whether a source names a remote document.
func IsURL(src string) bool {
	return strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://")
}

// probe reads a local image file and fills in the document identity: content
// hash, pixel dimensions, and an ID derived from the file name.
func probe(e entry) (document.Input, error) {
	f, err := os.Open(e.path)
	if err != nil {
		return document.Input{}, fmt.Errorf("input %s: %w", e.source, err)
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return document.Input{}, fmt.Errorf("input %s: %w (%v)", e.source, ErrNotImage, err)
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return document.Input{}, fmt.Errorf("input %s: %w", e.source, err)
	}
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return document.Input{}, fmt.Errorf("input %s: %w", e.source, err)
	}

	base := filepath.Base(e.path)
	return document.Input{
		ID:     strings.TrimSuffix(base, filepath.Ext(base)),
		Source: e.source,
		Path:   e.path,
		SHA256: hex.EncodeToString(h.Sum(nil)),
		Width:  cfg.Width,
		Height: cfg.Height,
	}, nil
}

// uniqueID disambiguates repeated file stems across directories by
// appending a counter to later occurrences.
func uniqueID(id string, seen map[string]int) string {
	seen[id]++
	if n := seen[id]; n > 1 {
		return fmt.Sprintf("%s-%d", id, n)
	}
	return id
}

// ReadList reads a source list file: one file, directory or URL per line,
// with blank lines and #-comments ignored.
func ReadList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("list file: %w", err)
	}
	defer f.Close()

	var sources []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		sources = append(sources, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("list file %s: %w", path, err)
	}
	return sources, nil
}
