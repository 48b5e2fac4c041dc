// Package writer renders finalized document records into output files: an
// hOCR rendition of the recognized text and layout, and a JSON rendition of
// the complete record.
package writer

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/caltechlibrary/documentarist/internal/document"
	"github.com/caltechlibrary/documentarist/internal/logger"
)

// Format identifies an output rendering.
type Format string

const (
	// FormatHOCR is the hOCR (XHTML) rendition of text and layout.
	FormatHOCR Format = "hocr"

	// FormatJSON is the JSON rendition of the full record.
	FormatJSON Format = "json"
)

// DefaultFormats is what a run produces when no formats are selected.
var DefaultFormats = []Format{FormatHOCR, FormatJSON}

// ParseFormats parses a comma-separated format list such as "hocr,json".
// An empty list selects the defaults.
func ParseFormats(s string) ([]Format, error) {
	if strings.TrimSpace(s) == "" {
		return append([]Format(nil), DefaultFormats...), nil
	}
	var formats []Format
	seen := make(map[Format]bool)
	for _, part := range strings.Split(s, ",") {
		f := Format(strings.ToLower(strings.TrimSpace(part)))
		switch f {
		case FormatHOCR, FormatJSON:
		case "":
			continue
		default:
			return nil, fmt.Errorf("unknown output format %q (supported: hocr, json)", part)
		}
		if seen[f] {
			continue
		}
		seen[f] = true
		formats = append(formats, f)
	}
	if len(formats) == 0 {
		return nil, fmt.Errorf("no output formats selected")
	}
	return formats, nil
}

// Renderer renders one finalized record to a stream.
type Renderer interface {
	// Format names the rendering this renderer produces.
	Format() Format

	// Render writes the rendition of the record.
	Render(w io.Writer, rec *document.Record) error
}

// rendererFor returns the renderer for a parsed format.
func rendererFor(f Format) (Renderer, error) {
	switch f {
	case FormatHOCR:
		return HOCR{}, nil
	case FormatJSON:
		return JSON{}, nil
	default:
		return nil, fmt.Errorf("unknown output format %q", f)
	}
}

// Files writes the selected renditions of each record into a directory,
// named <document id>.<format> so the outputs for one document sit next to
// each other.
type Files struct {
	dir       string
	renderers []Renderer
	log       zerolog.Logger
}

// NewFiles creates a file writer for the given directory and formats,
// creating the directory if needed.
func NewFiles(dir string, formats []Format) (*Files, error) {
	if len(formats) == 0 {
		formats = DefaultFormats
	}
	renderers := make([]Renderer, 0, len(formats))
	for _, f := range formats {
		r, err := rendererFor(f)
		if err != nil {
			return nil, err
		}
		renderers = append(renderers, r)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	return &Files{
		dir:       dir,
		renderers: renderers,
		log:       logger.WithComponent("writer"),
	}, nil
}

// Write renders the record in every selected format and returns the paths
// written.
func (f *Files) Write(rec *document.Record) ([]string, error) {
	base := rec.Input.ID
	paths := make([]string, 0, len(f.renderers))
	for _, r := range f.renderers {
		path := filepath.Join(f.dir, base+"."+string(r.Format()))
		if err := f.writeOne(r, path, rec); err != nil {
			return paths, fmt.Errorf("write %s: %w", path, err)
		}
		paths = append(paths, path)
	}
	f.log.Debug().
		Str("document", rec.Input.ID).
		Strs("paths", paths).
		Msg("Wrote document outputs")
	return paths, nil
}

func (f *Files) writeOne(r Renderer, path string, rec *document.Record) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := r.Render(out, rec); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
