package stages

import (
	"context"
	"errors"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/caltechlibrary/documentarist/internal/document"
	"github.com/caltechlibrary/documentarist/internal/logger"
	"github.com/caltechlibrary/documentarist/internal/pipeline"
)

// DateSpotter finds calendar dates mentioned in the recognized text. It runs
// entirely locally: candidates come from pattern matching over the
// recognized lines and are normalized through time.Parse, and each mention
// keeps the box of the line it came from.
type DateSpotter struct {
	log zerolog.Logger
}

// NewDateSpotter creates the stage.
func NewDateSpotter() *DateSpotter {
	return &DateSpotter{log: logger.WithStage("stages", string(document.TagDates))}
}

// Tag implements pipeline.Stage.
func (s *DateSpotter) Tag() document.Tag { return document.TagDates }

// Requires implements pipeline.Stage.
func (s *DateSpotter) Requires() []document.Tag { return []document.Tag{document.TagText} }

// Apply implements pipeline.Stage.
func (s *DateSpotter) Apply(ctx context.Context, task pipeline.Task) (*document.Payload, error) {
	frag := task.Fragment(document.TagText)
	if frag == nil || frag.Text == nil {
		return nil, pipeline.MarkPermanent(errors.New("recognized text unavailable"))
	}

	var dates []document.DateMention
	if len(frag.Text.Blocks) > 0 {
		for _, blk := range frag.Text.Blocks {
			for _, par := range blk.Paragraphs {
				for _, line := range par.Lines {
					box := line.Box
					for _, m := range spotDates(line.Text) {
						m.Box = &box
						dates = append(dates, m)
					}
				}
			}
		}
	} else {
		// No line geometry, so scan the full text without boxes.
		for _, line := range strings.Split(frag.Text.Full, "\n") {
			dates = append(dates, spotDates(line)...)
		}
	}

	s.log.Debug().
		Str("document", task.Input.ID).
		Int("dates", len(dates)).
		Msg("Date scan finished")

	return &document.Payload{Dates: dates}, nil
}

const monthNames = `Jan(?:uary)?|Feb(?:ruary)?|Mar(?:ch)?|Apr(?:il)?|May|Jun(?:e)?|Jul(?:y)?|Aug(?:ust)?|Sep(?:t(?:ember)?)?|Oct(?:ober)?|Nov(?:ember)?|Dec(?:ember)?`

// datePatterns lists candidate matchers in priority order. Spans claimed by
// an earlier pattern are not reconsidered by a later one, so a written-out
// date is not re-reported by the looser numeric patterns.
var datePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(?:` + monthNames + `)\.?\s+\d{1,2}(?:st|nd|rd|th)?(?:,\s*|\s+)\d{4}\b`),
	regexp.MustCompile(`(?i)\b\d{1,2}(?:st|nd|rd|th)?\s+(?:` + monthNames + `)\.?(?:,\s*|\s+)\d{4}\b`),
	regexp.MustCompile(`\b\d{4}[-/.]\d{1,2}[-/.]\d{1,2}\b`),
	regexp.MustCompile(`\b\d{1,2}[-/.]\d{1,2}[-/.]\d{4}\b`),
}

// dateLayouts lists the accepted written forms, tried in order. Numeric
// layouts use non-padded reference values so both "5.6.1944" and
// "05.06.1944" parse. Ambiguous all-numeric dates resolve to the first
// layout that accepts them: slashed dates read month first in the American
// manner, dotted and dashed dates day first, and either falls through to the
// other order when the first is impossible.
var dateLayouts = []string{
	"2006-1-2",
	"2006/1/2",
	"2006.1.2",
	"1/2/2006",
	"2/1/2006",
	"2.1.2006",
	"1.2.2006",
	"2-1-2006",
	"1-2-2006",
	"January 2, 2006",
	"January 2 2006",
	"2 January 2006",
	"2 January, 2006",
	"Jan 2, 2006",
	"Jan. 2, 2006",
	"Jan 2 2006",
	"2 Jan 2006",
	"2 Jan. 2006",
}

var ordinalSuffix = regexp.MustCompile(`(\d)(?i:st|nd|rd|th)\b`)

// spotDates scans one line of text for date mentions, in reading order.
func spotDates(text string) []document.DateMention {
	type spotted struct {
		start   int
		mention document.DateMention
	}
	var spots []spotted
	var claimed [][2]int
	for _, pat := range datePatterns {
		for _, span := range pat.FindAllStringIndex(text, -1) {
			if overlapsClaimed(claimed, span[0], span[1]) {
				continue
			}
			raw := text[span[0]:span[1]]
			normalized, ok := normalizeDate(raw)
			if !ok {
				continue
			}
			claimed = append(claimed, [2]int{span[0], span[1]})
			spots = append(spots, spotted{
				start:   span[0],
				mention: document.DateMention{Raw: raw, Normalized: normalized},
			})
		}
	}
	if len(spots) == 0 {
		return nil
	}
	sort.Slice(spots, func(i, j int) bool { return spots[i].start < spots[j].start })
	mentions := make([]document.DateMention, len(spots))
	for i, sp := range spots {
		mentions[i] = sp.mention
	}
	return mentions
}

func overlapsClaimed(claimed [][2]int, start, end int) bool {
	for _, c := range claimed {
		if start < c[1] && end > c[0] {
			return true
		}
	}
	return false
}

// normalizeDate converts a written date into YYYY-MM-DD form, reporting
// false for candidates no layout accepts (month 13, February 30 and the
// like). time.Parse is strict about casing and spacing, so ordinal suffixes
// are stripped, month names title-cased, and comma spacing canonicalized
// first.
func normalizeDate(raw string) (string, bool) {
	cleaned := ordinalSuffix.ReplaceAllString(raw, "$1")
	cleaned = strings.ReplaceAll(cleaned, ",", ", ")
	fields := strings.Fields(cleaned)
	for i, f := range fields {
		r := []rune(f)
		if !unicode.IsLetter(r[0]) {
			continue
		}
		fields[i] = strings.ToUpper(string(r[0])) + strings.ToLower(string(r[1:]))
		// Go's reference abbreviation is three letters, so "Sept." must
		// read as "Sep." before parsing.
		if strings.HasPrefix(fields[i], "Sept") && !strings.HasPrefix(fields[i], "Septe") {
			fields[i] = "Sep" + fields[i][4:]
		}
	}
	cleaned = strings.Join(fields, " ")

	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, cleaned)
		if err != nil {
			continue
		}
		return t.Format("2006-01-02"), true
	}
	return "", false
}
