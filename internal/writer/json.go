package writer

import (
	"encoding/json"
	"io"

	"github.com/caltechlibrary/documentarist/internal/document"
)

// JSON renders the complete record: input identity and dimensions, run
// identifier, the per-stage provenance, the merged payload, and the overall
// outcome.
type JSON struct{}

// Format implements Renderer.
func (JSON) Format() Format { return FormatJSON }

// Render implements Renderer.
func (JSON) Render(w io.Writer, rec *document.Record) error {
	out := struct {
		*document.Record
		Outcome document.Outcome `json:"outcome"`
	}{rec, rec.Outcome()}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}
