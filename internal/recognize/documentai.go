package recognize

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"github.com/caltechlibrary/documentarist/internal/document"
	"github.com/caltechlibrary/documentarist/internal/logger"
)

// DocumentAIConfig holds the settings for the Document AI text annotator.
type DocumentAIConfig struct {
	// ProjectID is the Google Cloud project ID.
	ProjectID string

	// Location is the processor location (e.g., "us" or "eu").
	Location string

	// ProcessorID is the ID of a provisioned OCR processor.
	ProcessorID string

	// ProcessorVersion optionally pins a specific processor version.
	ProcessorVersion string

	// Timeout is the per-request processing timeout.
	Timeout time.Duration
}

// DocumentAI implements TextAnnotator using a Google Document AI OCR
// processor. It is the alternative to Vision for text recognition, selected
// with TEXT_PROVIDER=documentai.
type DocumentAI struct {
	client *documentai.DocumentProcessorClient
	config DocumentAIConfig
	log    zerolog.Logger
}

// NewDocumentAI creates an annotator with credentials from environment.
// Expects: GOOGLE_APPLICATION_CREDENTIALS or GOOGLE_CREDENTIALS
// Requires: GOOGLE_PROJECT_ID, GOOGLE_PROCESSOR_ID (an OCR processor)
// Optional: GOOGLE_LOCATION (e.g., "us" or "eu", default "us")
func NewDocumentAI(ctx context.Context) (*DocumentAI, error) {
	const op = "NewDocumentAI"

	config := DocumentAIConfig{
		ProjectID:   getEnvVar("GOOGLE_PROJECT_ID", "GOOGLE_CLOUD_PROJECT"),
		Location:    getEnvVar("GOOGLE_LOCATION", "GOOGLE_CLOUD_LOCATION"),
		ProcessorID: getEnvVar("GOOGLE_PROCESSOR_ID", "DOCUMENT_AI_PROCESSOR_ID"),
		Timeout:     60 * time.Second,
	}

	if config.ProjectID == "" {
		return nil, WrapRecognitionError(op, ErrInvalidConfiguration, "GOOGLE_PROJECT_ID or GOOGLE_CLOUD_PROJECT is required")
	}
	if config.ProcessorID == "" {
		return nil, WrapRecognitionError(op, ErrInvalidConfiguration, "GOOGLE_PROCESSOR_ID or DOCUMENT_AI_PROCESSOR_ID is required")
	}
	if config.Location == "" {
		config.Location = "us" // Default location
	}

	var clientOptions []option.ClientOption

	// Set regional endpoint if not us-central1
	if config.Location != "" && config.Location != "us" {
		endpoint := fmt.Sprintf("%s-documentai.googleapis.com:443", config.Location)
		clientOptions = append(clientOptions, option.WithEndpoint(endpoint))
	}

	if credJSON := os.Getenv("GOOGLE_CREDENTIALS"); credJSON != "" {
		clientOptions = append(clientOptions, option.WithCredentialsJSON([]byte(credJSON)))
	} else if credFile := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); credFile != "" {
		clientOptions = append(clientOptions, option.WithCredentialsFile(credFile))
	}

	client, err := documentai.NewDocumentProcessorClient(ctx, clientOptions...)
	if err != nil {
		if len(clientOptions) == 0 {
			return nil, WrapRecognitionError(op, ErrMissingCredentials, "no credentials found in environment")
		}
		return nil, WrapRecognitionError(op, err, fmt.Sprintf("failed to create Document AI client for location: %s", config.Location))
	}

	return &DocumentAI{
		client: client,
		config: config,
		log:    logger.WithComponent("document-ai"),
	}, nil
}

// NewDocumentAIWithConfig creates an annotator with explicit config and
// client (for testing).
func NewDocumentAIWithConfig(config DocumentAIConfig, client *documentai.DocumentProcessorClient) *DocumentAI {
	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}
	return &DocumentAI{
		client: client,
		config: config,
		log:    logger.WithComponent("document-ai"),
	}
}

// Name identifies this provider in cache keys and logs.
func (p *DocumentAI) Name() string { return "documentai" }

// AnnotateText recognizes the text of a document image through the
// configured OCR processor.
func (p *DocumentAI) AnnotateText(ctx context.Context, img []byte) (*TextResult, error) {
	const op = "AnnotateText"

	width, height, err := validateImage(op, img)
	if err != nil {
		return nil, err
	}

	processCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	req := &documentaipb.ProcessRequest{
		Name: p.processorName(),
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{
				Content:  img,
				MimeType: sniffImageMIME(img),
			},
		},
	}

	resp, err := p.client.ProcessDocument(processCtx, req)
	if err != nil {
		return nil, handleServiceError(op, err)
	}
	if resp.Document == nil {
		return nil, WrapRecognitionError(op, ErrRecognitionFailed, "no document in response")
	}

	result := &TextResult{
		Provider: p.Name(),
		Width:    width,
		Height:   height,
		Content:  parseDocumentLayout(resp.Document, width, height),
	}

	p.log.Debug().
		Int("characters", len(result.Content.Full)).
		Int("blocks", len(result.Content.Blocks)).
		Float32("confidence", result.Content.Confidence).
		Msg("Document AI recognition completed")

	return result, nil
}

// processorName constructs the full processor name for the Document AI API.
func (p *DocumentAI) processorName() string {
	if p.config.ProcessorVersion != "" {
		return fmt.Sprintf("projects/%s/locations/%s/processors/%s/processorVersions/%s",
			p.config.ProjectID, p.config.Location, p.config.ProcessorID, p.config.ProcessorVersion)
	}
	return fmt.Sprintf("projects/%s/locations/%s/processors/%s",
		p.config.ProjectID, p.config.Location, p.config.ProcessorID)
}

// Close closes the underlying Document AI client.
func (p *DocumentAI) Close() error {
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}

// parseDocumentLayout converts the flat Document AI page structure (blocks,
// paragraphs, lines and tokens as parallel lists tied together by text
// anchors) into the nested document layout hierarchy.
func parseDocumentLayout(doc *documentaipb.Document, width, height int) document.TextContent {
	content := document.TextContent{Full: doc.Text}

	var confidenceSum float32
	var confidenceCount int
	langs := make(map[string]float32)

	for _, page := range doc.Pages {
		for _, lang := range page.DetectedLanguages {
			if lang.LanguageCode != "" && lang.Confidence > langs[lang.LanguageCode] {
				langs[lang.LanguageCode] = lang.Confidence
			}
		}

		for _, block := range page.Blocks {
			blockStart, blockEnd, ok := anchorSpan(block.Layout)
			if !ok {
				continue
			}
			tb := document.TextBlock{Box: layoutBox(block.Layout, width, height)}

			for _, par := range page.Paragraphs {
				parStart, parEnd, ok := anchorSpan(par.Layout)
				if !ok || parStart < blockStart || parEnd > blockEnd {
					continue
				}
				tp := document.TextParagraph{Box: layoutBox(par.Layout, width, height)}

				for _, line := range page.Lines {
					lineStart, lineEnd, ok := anchorSpan(line.Layout)
					if !ok || lineStart < parStart || lineEnd > parEnd {
						continue
					}
					tl := document.TextLine{
						Box:  layoutBox(line.Layout, width, height),
						Text: strings.TrimSpace(anchorText(doc.Text, line.Layout.TextAnchor)),
					}

					for _, token := range page.Tokens {
						tokStart, tokEnd, ok := anchorSpan(token.Layout)
						if !ok || tokStart < lineStart || tokEnd > lineEnd {
							continue
						}
						word := strings.TrimSpace(anchorText(doc.Text, token.Layout.TextAnchor))
						if word == "" {
							continue
						}
						conf := token.Layout.Confidence
						tl.Words = append(tl.Words, document.TextWord{
							Box:        layoutBox(token.Layout, width, height),
							Text:       word,
							Confidence: conf,
						})
						if conf > 0 {
							confidenceSum += conf
							confidenceCount++
						}
					}
					tp.Lines = append(tp.Lines, tl)
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

// anchorSpan returns the text range covered by a layout's anchor.
func anchorSpan(layout *documentaipb.Document_Page_Layout) (start, end int64, ok bool) {
	if layout == nil || layout.TextAnchor == nil || len(layout.TextAnchor.TextSegments) == 0 {
		return 0, 0, false
	}
	segs := layout.TextAnchor.TextSegments
	start = segs[0].StartIndex
	end = segs[len(segs)-1].EndIndex
	return start, end, end > start
}

// anchorText extracts the text covered by an anchor from the full document text.
func anchorText(full string, anchor *documentaipb.Document_TextAnchor) string {
	if anchor == nil {
		return ""
	}
	if anchor.Content != "" {
		return anchor.Content
	}
	var sb strings.Builder
	for _, seg := range anchor.TextSegments {
		start, end := int(seg.StartIndex), int(seg.EndIndex)
		if start < 0 || end < start || end > len(full) {
			continue
		}
		sb.WriteString(full[start:end])
	}
	return sb.String()
}

// layoutBox converts a layout bounding polygon to a pixel box, handling both
// pixel and normalized vertices.
func layoutBox(layout *documentaipb.Document_Page_Layout, width, height int) document.Box {
	if layout == nil || layout.BoundingPoly == nil {
		return document.Box{}
	}
	poly := layout.BoundingPoly

	if len(poly.Vertices) > 0 {
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

	if len(poly.NormalizedVertices) > 0 {
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
	return document.Box{}
}

// sniffImageMIME determines the MIME type Document AI should be told about.
func sniffImageMIME(img []byte) string {
	switch {
	case len(img) >= 8 && bytes.Equal(img[:8], []byte("\x89PNG\r\n\x1a\n")):
		return "image/png"
	case len(img) >= 3 && bytes.Equal(img[:3], []byte("\xff\xd8\xff")):
		return "image/jpeg"
	case len(img) >= 6 && (bytes.Equal(img[:6], []byte("GIF87a")) || bytes.Equal(img[:6], []byte("GIF89a"))):
		return "image/gif"
	case len(img) >= 4 && (bytes.Equal(img[:4], []byte("II*\x00")) || bytes.Equal(img[:4], []byte("MM\x00*"))):
		return "image/tiff"
	case len(img) >= 2 && bytes.Equal(img[:2], []byte("BM")):
		return "image/bmp"
	case len(img) >= 12 && bytes.Equal(img[:4], []byte("RIFF")) && bytes.Equal(img[8:12], []byte("WEBP")):
		return "image/webp"
	default:
		return "image/png"
	}
}

// getEnvVar tries multiple environment variable names and returns the first
// non-empty value.
func getEnvVar(names ...string) string {
	for _, name := range names {
		if value := os.Getenv(name); value != "" {
			return value
		}
	}
	return ""
}
