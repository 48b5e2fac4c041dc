package stages

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	_ "image/gif"
	_ "image/jpeg"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/caltechlibrary/documentarist/internal/document"
	"github.com/caltechlibrary/documentarist/internal/logger"
	"github.com/caltechlibrary/documentarist/internal/pipeline"
)

const (
	// DefaultCropPadding is the margin in pixels kept around the detected
	// content region.
	DefaultCropPadding = 16

	// DefaultCropThreshold is the minimum luminance difference from the page
	// background for a pixel to count as content, on a 0-255 scale.
	DefaultCropThreshold = 48
)

// Cropper locates the content region of a page image and writes a cropped
// copy into the run's working directory for the recognition stages to send
// instead of the full scan. Pages whose content reaches the frame edges, and
// blank pages, yield full-frame bounds and no cropped file.
type Cropper struct {
	padding   int
	threshold int
	log       zerolog.Logger
}

// NewCropper creates a cropper with the default padding and threshold.
func NewCropper() *Cropper {
	return &Cropper{
		padding:   DefaultCropPadding,
		threshold: DefaultCropThreshold,
		log:       logger.WithStage("stages", string(document.TagCrop)),
	}
}

// Tag implements pipeline.Stage.
func (c *Cropper) Tag() document.Tag { return document.TagCrop }

// Requires implements pipeline.Stage.
func (c *Cropper) Requires() []document.Tag { return nil }

// Apply implements pipeline.Stage.
func (c *Cropper) Apply(ctx context.Context, task pipeline.Task) (*document.Payload, error) {
	f, err := os.Open(task.Input.Path)
	if err != nil {
		return nil, pipeline.MarkPermanent(fmt.Errorf("open image: %w", err))
	}
	img, _, err := image.Decode(f)
	f.Close()
	if err != nil {
		return nil, pipeline.MarkPermanent(fmt.Errorf("decode image %s: %w", task.Input.Path, err))
	}

	full := img.Bounds()
	content, found := contentBounds(img, c.threshold)
	if !found {
		c.log.Debug().
			Str("document", task.Input.ID).
			Msg("No content detected, keeping full frame")
		return fullFrame(full), nil
	}

	content = padRect(content, c.padding).Intersect(full)
	if content == full {
		return fullFrame(full), nil
	}

	cropped := image.NewRGBA(image.Rect(0, 0, content.Dx(), content.Dy()))
	draw.Draw(cropped, cropped.Bounds(), img, content.Min, draw.Src)

	path := filepath.Join(task.WorkDir, task.Input.ID+"-cropped.png")
	out, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create cropped image: %w", err)
	}
	if err := png.Encode(out, cropped); err != nil {
		out.Close()
		return nil, fmt.Errorf("encode cropped image: %w", err)
	}
	if err := out.Close(); err != nil {
		return nil, fmt.Errorf("write cropped image: %w", err)
	}

	bounds := boxFromRect(content)
	c.log.Debug().
		Str("document", task.Input.ID).
		Str("bounds", bounds.String()).
		Int("original_width", full.Dx()).
		Int("original_height", full.Dy()).
		Msg("Wrote cropped content region")

	return &document.Payload{Crop: &document.CropInfo{
		Bounds: bounds,
		Width:  content.Dx(),
		Height: content.Dy(),
		Path:   path,
	}}, nil
}

// contentBounds scans for pixels whose luminance differs from the page
// background by more than threshold and returns their bounding rectangle.
// The background level is estimated from the border pixels, so the scan works
// for dark ink on light paper as well as light pages on a dark scanner bed.
func contentBounds(img image.Image, threshold int) (image.Rectangle, bool) {
	b := img.Bounds()
	bg := borderLuminance(img)

	minX, minY := b.Max.X, b.Max.Y
	maxX, maxY := b.Min.X-1, b.Min.Y-1
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			d := luminance(img.At(x, y)) - bg
			if d < 0 {
				d = -d
			}
			if d <= threshold {
				continue
			}
			if x < minX {
				minX = x
			}
			if x > maxX {
				maxX = x
			}
			if y < minY {
				minY = y
			}
			if y > maxY {
				maxY = y
			}
		}
	}
	if maxX < minX {
		return image.Rectangle{}, false
	}
	return image.Rect(minX, minY, maxX+1, maxY+1), true
}

// borderLuminance estimates the page background as the mean luminance of the
// outermost pixel ring.
func borderLuminance(img image.Image) int {
	b := img.Bounds()
	if b.Empty() {
		return 255
	}
	var sum, n int
	for x := b.Min.X; x < b.Max.X; x++ {
		sum += luminance(img.At(x, b.Min.Y))
		sum += luminance(img.At(x, b.Max.Y-1))
		n += 2
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		sum += luminance(img.At(b.Min.X, y))
		sum += luminance(img.At(b.Max.X-1, y))
		n += 2
	}
	return sum / n
}

// luminance is the Rec. 601 luma of a pixel on a 0-255 scale.
func luminance(c color.Color) int {
	r, g, b, _ := c.RGBA()
	return int((299*(r>>8) + 587*(g>>8) + 114*(b>>8)) / 1000)
}

func padRect(r image.Rectangle, margin int) image.Rectangle {
	return image.Rect(r.Min.X-margin, r.Min.Y-margin, r.Max.X+margin, r.Max.Y+margin)
}

func boxFromRect(r image.Rectangle) document.Box {
	return document.Box{X0: r.Min.X, Y0: r.Min.Y, X1: r.Max.X, Y1: r.Max.Y}
}

func fullFrame(b image.Rectangle) *document.Payload {
	return &document.Payload{Crop: &document.CropInfo{
		Bounds: boxFromRect(b),
		Width:  b.Dx(),
		Height: b.Dy(),
	}}
}
