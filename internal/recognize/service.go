// Package recognize provides the external recognition collaborators used by
// the analysis stages: Google Cloud Vision for text recognition and object
// localization, and Google Document AI as an alternative text recognizer.
//
// Required Environment Variables:
//   - GOOGLE_APPLICATION_CREDENTIALS: Path to service account JSON file, OR
//   - GOOGLE_CREDENTIALS: Inline JSON credentials string
//   - GOOGLE_CLOUD_PROJECT: Google Cloud project ID (Document AI only)
//
// Service Limitations:
//   - Maximum image size: 20MB per request
//   - Document AI requires a provisioned OCR processor in the project
//
// Results are service-neutral and JSON-serializable, so they can be stored
// in the service call cache and replayed without contacting the service
// again. All geometry in a result is in the pixel coordinates of the image
// that was sent; callers analyzing a cropped image must translate boxes back
// into the original frame themselves.
package recognize

import (
	"context"

	"github.com/caltechlibrary/documentarist/internal/document"
)

// MaxImageSizeBytes is the maximum image size accepted per request (20MB).
const MaxImageSizeBytes = 20 * 1024 * 1024

// TextAnnotator recognizes the text of a document image.
type TextAnnotator interface {
	// Name identifies the provider, e.g. "vision" or "documentai". It is
	// stable across runs and used in cache keys.
	Name() string

	// AnnotateText recognizes text in the given image bytes.
	AnnotateText(ctx context.Context, image []byte) (*TextResult, error)
}

// ObjectAnnotator localizes figures (photographs, drawings, stamps) in a
// document image.
type ObjectAnnotator interface {
	// Name identifies the provider. Stable across runs, used in cache keys.
	Name() string

	// AnnotateObjects localizes objects in the given image bytes.
	AnnotateObjects(ctx context.Context, image []byte) (*ObjectResult, error)
}

// TextResult is the outcome of one text recognition request.
type TextResult struct {
	// Provider is the Name of the annotator that produced the result.
	Provider string `json:"provider"`

	// Width and Height are the pixel dimensions of the analyzed image.
	Width  int `json:"width"`
	Height int `json:"height"`

	// Content is the recognized text with layout geometry, boxes in the
	// coordinates of the analyzed image.
	Content document.TextContent `json:"content"`
}

// ObjectResult is the outcome of one object localization request.
type ObjectResult struct {
	// Provider is the Name of the annotator that produced the result.
	Provider string `json:"provider"`

	// Width and Height are the pixel dimensions of the analyzed image.
	Width  int `json:"width"`
	Height int `json:"height"`

	// Objects lists the localized figures, boxes in the coordinates of the
	// analyzed image.
	Objects []document.Figure `json:"objects,omitempty"`
}
