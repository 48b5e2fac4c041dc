package stages

import (
	"context"
	"reflect"
	"testing"

	"github.com/caltechlibrary/documentarist/internal/document"
	"github.com/caltechlibrary/documentarist/internal/pipeline"
)

func TestSpotDates(t *testing.T) {
	tests := []struct {
		name string
		line string
		want []document.DateMention
	}{
		{
			name: "written month day year",
			line: "Pasadena, California, June 5, 1944",
			want: []document.DateMention{{Raw: "June 5, 1944", Normalized: "1944-06-05"}},
		},
		{
			name: "day before month",
			line: "London, 5 June 1944",
			want: []document.DateMention{{Raw: "5 June 1944", Normalized: "1944-06-05"}},
		},
		{
			name: "iso",
			line: "received 1921-03-07 by post",
			want: []document.DateMention{{Raw: "1921-03-07", Normalized: "1921-03-07"}},
		},
		{
			name: "dotted day first",
			line: "dated 07.03.1921",
			want: []document.DateMention{{Raw: "07.03.1921", Normalized: "1921-03-07"}},
		},
		{
			name: "slashed month first",
			line: "on 03/07/1921 we sailed",
			want: []document.DateMention{{Raw: "03/07/1921", Normalized: "1921-03-07"}},
		},
		{
			name: "slashed day first fallback",
			line: "arrival 13/02/1936",
			want: []document.DateMention{{Raw: "13/02/1936", Normalized: "1936-02-13"}},
		},
		{
			name: "abbreviated month with ordinal",
			line: "Sept. 3rd, 1921",
			want: []document.DateMention{{Raw: "Sept. 3rd, 1921", Normalized: "1921-09-03"}},
		},
		{
			name: "ordinal day before month",
			line: "the 3rd September 1921",
			want: []document.DateMention{{Raw: "3rd September 1921", Normalized: "1921-09-03"}},
		},
		{
			name: "uppercase",
			line: "JUNE 5, 1944",
			want: []document.DateMention{{Raw: "JUNE 5, 1944", Normalized: "1944-06-05"}},
		},
		{
			name: "missing space after comma",
			line: "June 5,1944",
			want: []document.DateMention{{Raw: "June 5,1944", Normalized: "1944-06-05"}},
		},
		{
			name: "two dates in order",
			line: "between 01/02/1936 and 11/12/1936",
			want: []document.DateMention{
				{Raw: "01/02/1936", Normalized: "1936-01-02"},
				{Raw: "11/12/1936", Normalized: "1936-11-12"},
			},
		},
		{
			name: "telephone number ignored",
			line: "telephone 555-1234",
			want: nil,
		},
		{
			name: "serial number ignored",
			line: "serial 12-34-5678",
			want: nil,
		},
		{
			name: "impossible date ignored",
			line: "February 30, 1921",
			want: nil,
		},
		{
			name: "no text",
			line: "",
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := spotDates(tt.line)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("spotDates(%q) = %v, want %v", tt.line, got, tt.want)
			}
		})
	}
}

func TestDateSpotterAttachesLineBoxes(t *testing.T) {
	dateBox := document.Box{X0: 10, Y0: 20, X1: 300, Y1: 40}
	text := &document.TextContent{
		Full: "Pasadena, June 5, 1944\nDear Dr. Hale,",
		Blocks: []document.TextBlock{{
			Box: document.Box{X0: 0, Y0: 0, X1: 400, Y1: 100},
			Paragraphs: []document.TextParagraph{{
				Box: document.Box{X0: 0, Y0: 0, X1: 400, Y1: 100},
				Lines: []document.TextLine{
					{Box: dateBox, Text: "Pasadena, June 5, 1944"},
					{Box: document.Box{X0: 10, Y0: 50, X1: 200, Y1: 70}, Text: "Dear Dr. Hale,"},
				},
			}},
		}},
	}

	task := pipeline.Task{
		Input: document.Input{ID: "doc1"},
		Prior: make(map[document.Tag]*document.StageResult),
	}
	payload, err := NewDateSpotter().Apply(context.Background(), withText(task, text))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	dates := payload.Dates
	if len(dates) != 1 {
		t.Fatalf("got %d dates, want 1: %v", len(dates), dates)
	}
	if dates[0].Normalized != "1944-06-05" {
		t.Errorf("normalized = %q", dates[0].Normalized)
	}
	if dates[0].Box == nil || *dates[0].Box != dateBox {
		t.Errorf("box = %v, want %v", dates[0].Box, dateBox)
	}
}

func TestDateSpotterFullTextFallback(t *testing.T) {
	text := &document.TextContent{Full: "letter of 1944-06-05\nand its reply of 8 July 1944"}

	task := pipeline.Task{
		Input: document.Input{ID: "doc1"},
		Prior: make(map[document.Tag]*document.StageResult),
	}
	payload, err := NewDateSpotter().Apply(context.Background(), withText(task, text))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	dates := payload.Dates
	if len(dates) != 2 {
		t.Fatalf("got %d dates, want 2: %v", len(dates), dates)
	}
	if dates[0].Normalized != "1944-06-05" || dates[1].Normalized != "1944-07-08" {
		t.Errorf("normalized = %q, %q", dates[0].Normalized, dates[1].Normalized)
	}
	for i, d := range dates {
		if d.Box != nil {
			t.Errorf("date %d has a box without line geometry: %v", i, d.Box)
		}
	}
}

func TestDateSpotterMissingTextFragment(t *testing.T) {
	task := pipeline.Task{
		Input: document.Input{ID: "doc1"},
		Prior: make(map[document.Tag]*document.StageResult),
	}
	_, err := NewDateSpotter().Apply(context.Background(), task)
	if err == nil {
		t.Fatal("expected an error without a text fragment")
	}
	if pipeline.IsTransient(err) {
		t.Errorf("missing prerequisite output should be permanent: %v", err)
	}
}
