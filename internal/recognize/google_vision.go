package recognize

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"sort"
	"strings"

	vision "cloud.google.com/go/vision/v2/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"github.com/caltechlibrary/documentarist/internal/document"
	"github.com/caltechlibrary/documentarist/internal/logger"
)

// GoogleVision implements TextAnnotator and ObjectAnnotator using the Google
// Cloud Vision API.
type GoogleVision struct {
	client *vision.ImageAnnotatorClient
	hints  []string
	log    zerolog.Logger
}

// NewGoogleVision creates a Vision service with credentials from environment.
// It expects either GOOGLE_APPLICATION_CREDENTIALS path or GOOGLE_CREDENTIALS
// JSON in env, falling back to application default credentials. Language
// hints, when given, bias text recognition toward the expected languages.
func NewGoogleVision(ctx context.Context, languageHints []string) (*GoogleVision, error) {
	const op = "NewGoogleVision"

	var client *vision.ImageAnnotatorClient
	var err error

	// Check for inline credentials first
	if credJSON := os.Getenv("GOOGLE_CREDENTIALS"); credJSON != "" {
		client, err = vision.NewImageAnnotatorClient(ctx, option.WithCredentialsJSON([]byte(credJSON)))
		if err != nil {
			return nil, WrapRecognitionError(op, err, "failed to create client with GOOGLE_CREDENTIALS")
		}
	} else if credFile := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); credFile != "" {
		client, err = vision.NewImageAnnotatorClient(ctx, option.WithCredentialsFile(credFile))
		if err != nil {
			return nil, WrapRecognitionError(op, err, "failed to create client with GOOGLE_APPLICATION_CREDENTIALS")
		}
	} else {
		// Try default credentials as fallback
		client, err = vision.NewImageAnnotatorClient(ctx)
		if err != nil {
			return nil, WrapRecognitionError(op, ErrMissingCredentials, "no credentials found in environment")
		}
	}

	return &GoogleVision{
		client: client,
		hints:  languageHints,
		log:    logger.WithComponent("vision"),
	}, nil
}

// NewGoogleVisionWithClient creates a Vision service with an explicit client
// (for testing).
func NewGoogleVisionWithClient(client *vision.ImageAnnotatorClient, languageHints []string) *GoogleVision {
	return &GoogleVision{
		client: client,
		hints:  languageHints,
		log:    logger.WithComponent("vision"),
	}
}

// Name identifies this provider in cache keys and logs.
func (g *GoogleVision) Name() string { return "vision" }

// AnnotateText recognizes the text of a document image.
func (g *GoogleVision) AnnotateText(ctx context.Context, img []byte) (*TextResult, error) {
	const op = "AnnotateText"

	width, height, err := validateImage(op, img)
	if err != nil {
		return nil, err
	}

	resp, err := g.annotate(ctx, op, img, visionpb.Feature_DOCUMENT_TEXT_DETECTION)
	if err != nil {
		return nil, err
	}

	result := &TextResult{Provider: g.Name(), Width: width, Height: height}
	if resp.FullTextAnnotation == nil {
		// Blank page: legitimate for archival scans, not an error.
		g.log.Debug().Int("width", width).Int("height", height).Msg("No text detected")
		return result, nil
	}

	result.Content = parseTextAnnotation(resp.FullTextAnnotation)
	if len(resp.FullTextAnnotation.Pages) > 0 {
		page := resp.FullTextAnnotation.Pages[0]
		if page.Width > 0 && page.Height > 0 {
			result.Width = int(page.Width)
			result.Height = int(page.Height)
		}
	}

	g.log.Debug().
		Int("characters", len(result.Content.Full)).
		Int("blocks", len(result.Content.Blocks)).
		Float32("confidence", result.Content.Confidence).
		Msg("Text recognition completed")

	return result, nil
}

// AnnotateObjects localizes figures in a document image.
func (g *GoogleVision) AnnotateObjects(ctx context.Context, img []byte) (*ObjectResult, error) {
	const op = "AnnotateObjects"

	width, height, err := validateImage(op, img)
	if err != nil {
		return nil, err
	}

	resp, err := g.annotate(ctx, op, img, visionpb.Feature_OBJECT_LOCALIZATION)
	if err != nil {
		return nil, err
	}

	result := &ObjectResult{
		Provider: g.Name(),
		Width:    width,
		Height:   height,
		Objects:  parseLocalizedObjects(resp.LocalizedObjectAnnotations, width, height),
	}

	g.log.Debug().Int("objects", len(result.Objects)).Msg("Object localization completed")
	return result, nil
}

// annotate performs one Vision API request with a single feature.
func (g *GoogleVision) annotate(ctx context.Context, op string, img []byte, feature visionpb.Feature_Type) (*visionpb.AnnotateImageResponse, error) {
	req := &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{
			{
				Image: &visionpb.Image{Content: img},
				Features: []*visionpb.Feature{
					{Type: feature},
				},
			},
		},
	}
	if len(g.hints) > 0 && feature == visionpb.Feature_DOCUMENT_TEXT_DETECTION {
		req.Requests[0].ImageContext = &visionpb.ImageContext{LanguageHints: g.hints}
	}

	resp, err := g.client.BatchAnnotateImages(ctx, req)
	if err != nil {
		return nil, handleServiceError(op, err)
	}
	if len(resp.Responses) == 0 {
		return nil, WrapRecognitionError(op, ErrRecognitionFailed, "no response from Vision API")
	}

	imgResp := resp.Responses[0]
	if imgResp.Error != nil {
		return nil, handleServiceError(op, fmt.Errorf("Vision API error: %s", imgResp.Error.Message))
	}
	return imgResp, nil
}

// Close closes the underlying Vision client.
func (g *GoogleVision) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

// validateImage checks size limits and decodability, returning pixel dims.
func validateImage(op string, img []byte) (int, int, error) {
	if len(img) == 0 {
		return 0, 0, WrapRecognitionError(op, ErrInvalidImage, "empty image data")
	}
	if len(img) > MaxImageSizeBytes {
		return 0, 0, WrapRecognitionError(op, ErrImageTooLarge, fmt.Sprintf("image size: %d bytes", len(img)))
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(img))
	if err != nil {
		return 0, 0, WrapRecognitionError(op, ErrInvalidImage, fmt.Sprintf("undecodable image: %v", err))
	}
	return cfg.Width, cfg.Height, nil
}

// parseTextAnnotation converts a Vision full text annotation into the
// document layout hierarchy.
func parseTextAnnotation(ta *visionpb.TextAnnotation) document.TextContent {
	content := document.TextContent{Full: ta.Text}

	var confidenceSum float32
	var confidenceCount int
	langs := make(map[string]float32)

	for _, page := range ta.Pages {
		if page.Property != nil {
			for _, lang := range page.Property.DetectedLanguages {
				if lang.LanguageCode != "" && lang.Confidence > langs[lang.LanguageCode] {
					langs[lang.LanguageCode] = lang.Confidence
				}
			}
		}
		for _, block := range page.Blocks {
			tb := document.TextBlock{Box: vertexBox(block.BoundingBox)}
			for _, par := range block.Paragraphs {
				tp := document.TextParagraph{Box: vertexBox(par.BoundingBox)}
				tp.Lines = paragraphLines(par)
				for _, line := range tp.Lines {
					for _, word := range line.Words {
						if word.Confidence > 0 {
							confidenceSum += word.Confidence
							confidenceCount++
						}
					}
				}
				tb.Paragraphs = append(tb.Paragraphs, tp)
			}
			content.Blocks = append(content.Blocks, tb)
		}
	}

	if confidenceCount > 0 {
		content.Confidence = confidenceSum / float32(confidenceCount)
	}
	content.Languages = sortedLanguages(langs)
	return content
}

// paragraphLines splits a Vision paragraph into lines at detected breaks.
func paragraphLines(par *visionpb.Paragraph) []document.TextLine {
	var lines []document.TextLine
	var current document.TextLine

	flush := func() {
		if len(current.Words) == 0 {
			return
		}
		texts := make([]string, len(current.Words))
		box := current.Words[0].Box
		for i, w := range current.Words {
			texts[i] = w.Text
			box = unionBox(box, w.Box)
		}
		current.Text = strings.Join(texts, " ")
		current.Box = box
		lines = append(lines, current)
		current = document.TextLine{}
	}

	for _, word := range par.Words {
		var sb strings.Builder
		endOfLine := false
		for _, sym := range word.Symbols {
			sb.WriteString(sym.Text)
			if sym.Property != nil && sym.Property.DetectedBreak != nil {
				switch sym.Property.DetectedBreak.Type {
				case visionpb.TextAnnotation_DetectedBreak_LINE_BREAK,
					visionpb.TextAnnotation_DetectedBreak_EOL_SURE_SPACE,
					visionpb.TextAnnotation_DetectedBreak_HYPHEN:
					endOfLine = true
				}
			}
		}
		current.Words = append(current.Words, document.TextWord{
			Box:        vertexBox(word.BoundingBox),
			Text:       sb.String(),
			Confidence: word.Confidence,
		})
		if endOfLine {
			flush()
		}
	}
	flush()
	return lines
}

// parseLocalizedObjects converts normalized object boxes to pixel figures.
func parseLocalizedObjects(objs []*visionpb.LocalizedObjectAnnotation, width, height int) []document.Figure {
	var figures []document.Figure
	for _, obj := range objs {
		if obj == nil || obj.BoundingPoly == nil {
			continue
		}
		figures = append(figures, document.Figure{
			Name:  obj.Name,
			Score: obj.Score,
			Box:   normalizedBox(obj.BoundingPoly, width, height),
		})
	}
	return figures
}

// vertexBox computes the bounding rectangle of a pixel-vertex polygon.
func vertexBox(poly *visionpb.BoundingPoly) document.Box {
	if poly == nil || len(poly.Vertices) == 0 {
		return document.Box{}
	}
	box := document.Box{
		X0: int(poly.Vertices[0].X), Y0: int(poly.Vertices[0].Y),
		X1: int(poly.Vertices[0].X), Y1: int(poly.Vertices[0].Y),
	}
	for _, v := range poly.Vertices[1:] {
		if int(v.X) < box.X0 {
			box.X0 = int(v.X)
		}
		if int(v.Y) < box.Y0 {
			box.Y0 = int(v.Y)
		}
		if int(v.X) > box.X1 {
			box.X1 = int(v.X)
		}
		if int(v.Y) > box.Y1 {
			box.Y1 = int(v.Y)
		}
	}
	return box
}

// normalizedBox scales a normalized-vertex polygon to pixel coordinates.
func normalizedBox(poly *visionpb.BoundingPoly, width, height int) document.Box {
	if poly == nil || len(poly.NormalizedVertices) == 0 {
		return document.Box{}
	}
	minX, minY := poly.NormalizedVertices[0].X, poly.NormalizedVertices[0].Y
	maxX, maxY := minX, minY
	for _, v := range poly.NormalizedVertices[1:] {
		if v.X < minX {
			minX = v.X
		}
		if v.Y < minY {
			minY = v.Y
		}
		if v.X > maxX {
			maxX = v.X
		}
		if v.Y > maxY {
			maxY = v.Y
		}
	}
	return document.Box{
		X0: int(minX * float32(width)),
		Y0: int(minY * float32(height)),
		X1: int(maxX * float32(width)),
		Y1: int(maxY * float32(height)),
	}
}

// unionBox returns the smallest box covering a and b.
func unionBox(a, b document.Box) document.Box {
	if a.Empty() {
		return b
	}
	if b.Empty() {
		return a
	}
	if b.X0 < a.X0 {
		a.X0 = b.X0
	}
	if b.Y0 < a.Y0 {
		a.Y0 = b.Y0
	}
	if b.X1 > a.X1 {
		a.X1 = b.X1
	}
	if b.Y1 > a.Y1 {
		a.Y1 = b.Y1
	}
	return a
}

// sortedLanguages orders detected language codes by descending confidence.
func sortedLanguages(langs map[string]float32) []string {
	if len(langs) == 0 {
		return nil
	}
	codes := make([]string, 0, len(langs))
	for code := range langs {
		codes = append(codes, code)
	}
	sort.Slice(codes, func(i, j int) bool {
		if langs[codes[i]] != langs[codes[j]] {
			return langs[codes[i]] > langs[codes[j]]
		}
		return codes[i] < codes[j]
	})
	return codes
}

// handleServiceError converts raw Google API errors into classified
// recognition errors.
func handleServiceError(op string, err error) error {
	errStr := err.Error()

	switch {
	case strings.Contains(errStr, "PERMISSION_DENIED"):
		return WrapRecognitionError(op, ErrPermissionDenied, "insufficient permissions for recognition service")
	case strings.Contains(errStr, "RESOURCE_EXHAUSTED") || strings.Contains(errStr, "QUOTA_EXCEEDED") || strings.Contains(errStr, "quota"):
		return WrapRecognitionError(op, ErrQuotaExceeded, "recognition API quota exceeded")
	case strings.Contains(errStr, "UNAVAILABLE"):
		return WrapRecognitionError(op, ErrServiceUnavailable, "recognition service temporarily unavailable")
	case strings.Contains(errStr, "NOT_FOUND"):
		return WrapRecognitionError(op, ErrProcessorNotFound, "recognition resource not found")
	case strings.Contains(errStr, "INVALID_ARGUMENT"):
		return WrapRecognitionError(op, ErrInvalidImage, "image format not supported or corrupted")
	case strings.Contains(errStr, "DeadlineExceeded") || strings.Contains(errStr, "context deadline exceeded"):
		return WrapRecognitionError(op, context.DeadlineExceeded, "recognition timeout")
	case strings.Contains(errStr, "Canceled") || strings.Contains(errStr, "context canceled"):
		return WrapRecognitionError(op, ErrContextCanceled, "recognition was canceled")
	default:
		return WrapRecognitionError(op, ErrRecognitionFailed, fmt.Sprintf("service error: %v", err))
	}
}
