package document

import "fmt"

// Payload is the union of fragment types a stage can contribute. A stage
// fills exactly the sections it owns; the accumulator folds fragments from
// distinct stages into one merged payload per document.
type Payload struct {
	// Crop describes the detected content region of the page.
	Crop *CropInfo `json:"crop,omitempty"`

	// Text is the recognized text with its layout geometry.
	Text *TextContent `json:"text,omitempty"`

	// Figures lists photographs, drawings and similar objects found on the
	// page.
	Figures []Figure `json:"figures,omitempty"`

	// Content summarizes the document's subject matter.
	Content *ContentSummary `json:"content,omitempty"`

	// Dates lists calendar dates mentioned in the recognized text.
	Dates []DateMention `json:"dates,omitempty"`

	// Extra carries free-form key/value output from stage variants that do
	// not map onto the typed sections.
	Extra map[string]string `json:"extra,omitempty"`
}

// CropInfo records the content region located on the page.
type CropInfo struct {
	// Bounds is the content region in original image coordinates.
	Bounds Box `json:"bounds"`

	// Width and Height are the dimensions of the cropped image.
	Width  int `json:"width"`
	Height int `json:"height"`

	// Path is the cropped image written for downstream stages. Empty when
	// the content region covers the whole page and no file was written.
	Path string `json:"path,omitempty"`
}

// Applied reports whether cropping actually narrowed the image.
func (c *CropInfo) Applied() bool { return c != nil && c.Path != "" }

// TextContent is the recognized text of a document, with layout geometry
// down to the word level. All boxes are in original image coordinates.
type TextContent struct {
	// Full is the complete recognized text in reading order.
	Full string `json:"full"`

	// Languages lists detected language codes, most prominent first.
	Languages []string `json:"languages,omitempty"`

	// Confidence is the mean recognition confidence across words (0.0-1.0).
	Confidence float32 `json:"confidence"`

	// Blocks is the layout hierarchy: blocks contain paragraphs, paragraphs
	// contain lines, lines contain words.
	Blocks []TextBlock `json:"blocks,omitempty"`
}

// TextBlock is a visually distinct region of text on the page.
type TextBlock struct {
	Box        Box             `json:"box"`
	Paragraphs []TextParagraph `json:"paragraphs,omitempty"`
}

// TextParagraph is a paragraph within a block.
type TextParagraph struct {
	Box   Box        `json:"box"`
	Lines []TextLine `json:"lines,omitempty"`
}

// TextLine is a single line of text.
type TextLine struct {
	Box   Box        `json:"box"`
	Text  string     `json:"text"`
	Words []TextWord `json:"words,omitempty"`
}

// TextWord is a single recognized word.
type TextWord struct {
	Box        Box     `json:"box"`
	Text       string  `json:"text"`
	Confidence float32 `json:"confidence"`
}

// Figure is a localized non-text object on the page.
type Figure struct {
	// Name is the object class reported by the recognition service.
	Name string `json:"name"`

	// Score is the detection confidence (0.0-1.0).
	Score float32 `json:"score"`

	// Box is the object's location in original image coordinates.
	Box Box `json:"box"`
}

// ContentSummary describes what a document is about.
type ContentSummary struct {
	// Description is a short prose summary of the document.
	Description string `json:"description"`

	// Subjects lists topical keywords.
	Subjects []string `json:"subjects,omitempty"`

	// DocType is the kind of document (letter, telegram, photograph, form).
	DocType string `json:"doc_type,omitempty"`

	// Language is the primary language of the document.
	Language string `json:"language,omitempty"`
}

// DateMention is a calendar date found in the recognized text.
type DateMention struct {
	// Raw is the date text exactly as written in the document.
	Raw string `json:"raw"`

	// Normalized is the date in YYYY-MM-DD form.
	Normalized string `json:"normalized"`

	// Box locates the line containing the date, when known.
	Box *Box `json:"box,omitempty"`
}

// merge folds the non-empty sections of from into p. Sections are owned by
// single stages, so a section set on both sides indicates two stages claimed
// the same output and is reported as a duplicate.
func (p *Payload) merge(from *Payload) error {
	if from == nil {
		return nil
	}
	if from.Crop != nil {
		if p.Crop != nil {
			return fmt.Errorf("crop section: %w", ErrDuplicateStage)
		}
		p.Crop = from.Crop
	}
	if from.Text != nil {
		if p.Text != nil {
			return fmt.Errorf("text section: %w", ErrDuplicateStage)
		}
		p.Text = from.Text
	}
	if from.Figures != nil {
		if p.Figures != nil {
			return fmt.Errorf("figures section: %w", ErrDuplicateStage)
		}
		p.Figures = from.Figures
	}
	if from.Content != nil {
		if p.Content != nil {
			return fmt.Errorf("content section: %w", ErrDuplicateStage)
		}
		p.Content = from.Content
	}
	if from.Dates != nil {
		if p.Dates != nil {
			return fmt.Errorf("dates section: %w", ErrDuplicateStage)
		}
		p.Dates = from.Dates
	}
	for k, v := range from.Extra {
		if p.Extra == nil {
			p.Extra = make(map[string]string)
		}
		if _, ok := p.Extra[k]; ok {
			return fmt.Errorf("extra key %q: %w", k, ErrDuplicateStage)
		}
		p.Extra[k] = v
	}
	return nil
}
