// Package stages provides the built-in analysis stages: content-region
// cropping, text recognition, figure localization, content description, and
// date extraction.
//
// Stage prerequisites form a small graph: text and figure recognition run on
// the cropped image the cropper produced, and the content and date stages
// work from the recognized text. Every box a stage records is in the
// coordinate system of the original image; stages that analyze a cropped
// intermediate translate the returned geometry back by the crop origin
// before handing it over.
//
// Stages backed by paid services (text, figures, content) resolve their calls
// through the service call cache, so re-running a batch re-contacts a service
// only for documents it has not seen.
package stages

import (
	"errors"
	"fmt"
	"os"

	"github.com/caltechlibrary/documentarist/internal/cache"
	"github.com/caltechlibrary/documentarist/internal/document"
	"github.com/caltechlibrary/documentarist/internal/pipeline"
	"github.com/caltechlibrary/documentarist/internal/recognize"
)

// sourcePath picks the image a recognition stage should send: the cropped
// file when the crop stage wrote one, otherwise the original. The returned
// offsets are the crop origin, to be added to every box the service returns.
func sourcePath(task pipeline.Task) (string, int, int) {
	if frag := task.Fragment(document.TagCrop); frag != nil && frag.Crop.Applied() {
		return frag.Crop.Path, frag.Crop.Bounds.X0, frag.Crop.Bounds.Y0
	}
	return task.Input.Path, 0, 0
}

// sourceBytes reads the image a recognition stage should send, along with
// the crop origin offsets.
func sourceBytes(task pipeline.Task) ([]byte, int, int, error) {
	path, dx, dy := sourcePath(task)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("read image %s: %w", path, err)
	}
	return data, dx, dy, nil
}

// classifyServiceError maps recognition and cache failures onto the retry
// classes the pipeline understands. Cache inconsistencies pass through
// unwrapped so the orchestrator can recognize them and abort the run.
func classifyServiceError(err error) error {
	if errors.Is(err, cache.ErrInconsistent) {
		return err
	}
	if recognize.Transient(err) {
		return pipeline.MarkTransient(err)
	}
	return pipeline.MarkPermanent(err)
}
