// Package document defines the data model shared by the analysis pipeline:
// document identities, stage tags and statuses, stage result fragments, and
// the accumulator that merges fragments into per-document records.
//
// Ownership rules:
//   - Input values are immutable once created by input resolution.
//   - A stage's Payload fragment is handed to the Accumulator on merge and
//     must not be retained or modified by the stage afterwards.
//   - Records are owned by the Accumulator until finalized; a finalized
//     record is a read-only snapshot safe to hand to writers.
package document

import (
	"errors"
	"fmt"
)

// Tag identifies an analysis stage. Stage implementations register under a
// unique tag; results are merged per tag into the document record.
type Tag string

// Built-in stage tags.
const (
	// TagCrop locates the content region of the page image.
	TagCrop Tag = "crop"

	// TagText recognizes the text of the document.
	TagText Tag = "text"

	// TagFigures localizes photographs, drawings and other figures.
	TagFigures Tag = "figures"

	// TagContent summarizes what the document is about.
	TagContent Tag = "content"

	// TagDates extracts calendar dates mentioned in the text.
	TagDates Tag = "dates"
)

// Status is the outcome of one stage applied to one document.
type Status string

const (
	// StatusSuccess means the stage produced a usable fragment.
	StatusSuccess Status = "success"

	// StatusFailed means the stage was attempted and did not succeed.
	StatusFailed Status = "failed"

	// StatusSkipped means the stage was never attempted, typically because a
	// prerequisite stage failed or the run was canceled first.
	StatusSkipped Status = "skipped"
)

// Input identifies one document image to analyze.
type Input struct {
	// ID is a stable identifier derived from the source, unique within a run.
	ID string `json:"id"`

	// Source is the path or URL the document came from, as given by the user.
	Source string `json:"source"`

	// Path is the local file that is actually read. For URL sources this is
	// the downloaded, PNG-normalized copy.
	Path string `json:"path"`

	// SHA256 is the hex content hash of the file at Path.
	SHA256 string `json:"sha256"`

	// Width and Height are the pixel dimensions of the image at Path.
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Box is a pixel rectangle in image coordinates, with (X0,Y0) the top-left
// corner and (X1,Y1) the exclusive bottom-right corner. All boxes stored in
// document records are in the coordinate system of the original image, not
// of any cropped intermediate.
type Box struct {
	X0 int `json:"x0"`
	Y0 int `json:"y0"`
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
}

// Translate returns the box shifted by (dx, dy).
func (b Box) Translate(dx, dy int) Box {
	return Box{X0: b.X0 + dx, Y0: b.Y0 + dy, X1: b.X1 + dx, Y1: b.Y1 + dy}
}

// Width returns the horizontal extent of the box.
func (b Box) Width() int { return b.X1 - b.X0 }

// Height returns the vertical extent of the box.
func (b Box) Height() int { return b.Y1 - b.Y0 }

// Empty reports whether the box covers no pixels.
func (b Box) Empty() bool { return b.X1 <= b.X0 || b.Y1 <= b.Y0 }

// String renders the box as "x0,y0,x1,y1".
func (b Box) String() string {
	return fmt.Sprintf("%d,%d,%d,%d", b.X0, b.Y0, b.X1, b.Y1)
}

// Accumulation errors.
var (
	// ErrDuplicateStage is returned when a second result for the same stage
	// tag is merged into one document record.
	ErrDuplicateStage = errors.New("duplicate stage result for document")

	// ErrFinalized is returned when a result is merged into a record that
	// has already been finalized.
	ErrFinalized = errors.New("document record already finalized")

	// ErrUnknownDocument is returned when finalizing a document that never
	// received any stage result.
	ErrUnknownDocument = errors.New("no record for document")
)
