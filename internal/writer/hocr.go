package writer

import (
	"fmt"
	"html"
	"io"
	"math"
	"strings"

	"github.com/caltechlibrary/documentarist/internal/document"
)

// HOCR renders a record as an hOCR document: the page as ocr_page, text
// blocks as ocr_carea, paragraphs as ocr_par, lines as ocr_line with
// ocrx_word children carrying bbox and x_wconf properties, and localized
// figures as ocr_photo divs. All coordinates are in the original image
// frame.
type HOCR struct{}

// Format implements Renderer.
func (HOCR) Format() Format { return FormatHOCR }

// Render implements Renderer.
func (HOCR) Render(w io.Writer, rec *document.Record) error {
	var b strings.Builder

	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	b.WriteString(`<!DOCTYPE html PUBLIC "-//W3C//DTD XHTML 1.0 Transitional//EN" "http://www.w3.org/TR/xhtml1/DTD/xhtml1-transitional.dtd">` + "\n")
	b.WriteString(`<html xmlns="http://www.w3.org/1999/xhtml">` + "\n")
	b.WriteString(" <head>\n")
	fmt.Fprintf(&b, "  <title>%s</title>\n", html.EscapeString(rec.Input.ID))
	b.WriteString(`  <meta http-equiv="Content-Type" content="text/html;charset=utf-8"/>` + "\n")
	b.WriteString(`  <meta name="ocr-system" content="documentarist"/>` + "\n")
	b.WriteString(`  <meta name="ocr-capabilities" content="ocr_page ocr_carea ocr_par ocr_line ocrx_word ocr_photo"/>` + "\n")
	b.WriteString(" </head>\n")
	b.WriteString(" <body>\n")

	fmt.Fprintf(&b, `  <div class="ocr_page" id="page_1" title="image %s; bbox 0 0 %d %d">`+"\n",
		html.EscapeString(fmt.Sprintf("%q", rec.Input.Source)), rec.Input.Width, rec.Input.Height)

	if text := rec.Payload.Text; text != nil {
		writeBlocks(&b, text.Blocks)
	}
	for fi, fig := range rec.Payload.Figures {
		fmt.Fprintf(&b, `   <div class="ocr_photo" id="photo_1_%d" title="bbox %s; x_wconf %d"></div>`+"\n",
			fi+1, bboxProp(fig.Box), wconf(fig.Score))
	}

	b.WriteString("  </div>\n")
	b.WriteString(" </body>\n")
	b.WriteString("</html>\n")

	_, err := io.WriteString(w, b.String())
	return err
}

func writeBlocks(b *strings.Builder, blocks []document.TextBlock) {
	line, word := 0, 0
	for bi, blk := range blocks {
		fmt.Fprintf(b, `   <div class="ocr_carea" id="block_1_%d" title="bbox %s">`+"\n", bi+1, bboxProp(blk.Box))
		for pi, par := range blk.Paragraphs {
			fmt.Fprintf(b, `    <p class="ocr_par" id="par_1_%d_%d" title="bbox %s">`+"\n", bi+1, pi+1, bboxProp(par.Box))
			for _, ln := range par.Lines {
				line++
				fmt.Fprintf(b, `     <span class="ocr_line" id="line_1_%d" title="bbox %s">`, line, bboxProp(ln.Box))
				if len(ln.Words) == 0 {
					b.WriteString(html.EscapeString(ln.Text))
				} else {
					for wi, wd := range ln.Words {
						word++
						if wi > 0 {
							b.WriteString(" ")
						}
						fmt.Fprintf(b, `<span class="ocrx_word" id="word_1_%d" title="bbox %s; x_wconf %d">%s</span>`,
							word, bboxProp(wd.Box), wconf(wd.Confidence), html.EscapeString(wd.Text))
					}
				}
				b.WriteString("</span>\n")
			}
			b.WriteString("    </p>\n")
		}
		b.WriteString("   </div>\n")
	}
}

// bboxProp renders a box as the hOCR bbox property value.
func bboxProp(box document.Box) string {
	return fmt.Sprintf("%d %d %d %d", box.X0, box.Y0, box.X1, box.Y1)
}

// wconf converts a 0.0-1.0 confidence to the 0-100 scale x_wconf uses.
func wconf(c float32) int {
	return int(math.Round(float64(c) * 100))
}
