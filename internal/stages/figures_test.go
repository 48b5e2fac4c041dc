package stages

import (
	"bytes"
	"context"
	"testing"

	"github.com/caltechlibrary/documentarist/internal/document"
	"github.com/caltechlibrary/documentarist/internal/recognize"
)

func TestFigureDescriberTranslatesBoxes(t *testing.T) {
	dir := t.TempDir()
	origPath := writeFile(t, dir, "orig.png", []byte("original image bytes"))
	cropPath := writeFile(t, dir, "crop.png", []byte("cropped image bytes"))

	fake := &fakeObjectAnnotator{result: recognize.ObjectResult{
		Provider: "fake",
		Width:    600,
		Height:   800,
		Objects: []document.Figure{
			{Name: "Photograph", Score: 0.91, Box: document.Box{X0: 20, Y0: 30, X1: 120, Y1: 180}},
			{Name: "Picture frame", Score: 0.54, Box: document.Box{X0: 300, Y0: 400, X1: 500, Y1: 700}},
		},
	}}
	stage := NewFigureDescriber(fake, memResolver(), "")

	task := withCrop(imageTask("doc1", origPath), &document.CropInfo{
		Bounds: document.Box{X0: 200, Y0: 100, X1: 800, Y1: 900},
		Width:  600,
		Height: 800,
		Path:   cropPath,
	})

	payload, err := stage.Apply(context.Background(), task)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !bytes.Equal(fake.lastIn, []byte("cropped image bytes")) {
		t.Error("stage sent the original image instead of the cropped one")
	}

	figures := payload.Figures
	if len(figures) != 2 {
		t.Fatalf("got %d figures, want 2", len(figures))
	}
	if want := (document.Box{X0: 220, Y0: 130, X1: 320, Y1: 280}); figures[0].Box != want {
		t.Errorf("figure 0 box = %v, want %v", figures[0].Box, want)
	}
	if want := (document.Box{X0: 500, Y0: 500, X1: 700, Y1: 800}); figures[1].Box != want {
		t.Errorf("figure 1 box = %v, want %v", figures[1].Box, want)
	}
	if figures[0].Name != "Photograph" || figures[0].Score != 0.91 {
		t.Errorf("figure 0 = %+v, lost name or score", figures[0])
	}
}

func TestFigureDescriberReplaysFromCache(t *testing.T) {
	dir := t.TempDir()
	origPath := writeFile(t, dir, "orig.png", []byte("image bytes"))

	fake := &fakeObjectAnnotator{result: recognize.ObjectResult{
		Provider: "fake",
		Objects:  []document.Figure{{Name: "Photograph", Score: 0.8, Box: document.Box{X0: 1, Y0: 2, X1: 3, Y1: 4}}},
	}}
	stage := NewFigureDescriber(fake, memResolver(), "")

	task := withCrop(imageTask("doc1", origPath), &document.CropInfo{
		Bounds: document.Box{X0: 0, Y0: 0, X1: 10, Y1: 10},
	})

	if _, err := stage.Apply(context.Background(), task); err != nil {
		t.Fatalf("first Apply: %v", err)
	}
	if _, err := stage.Apply(context.Background(), task); err != nil {
		t.Fatalf("second Apply: %v", err)
	}
	if fake.calls != 1 {
		t.Errorf("service called %d times, want 1", fake.calls)
	}
}

func TestFigureDescriberNoObjects(t *testing.T) {
	dir := t.TempDir()
	origPath := writeFile(t, dir, "orig.png", []byte("image bytes"))

	fake := &fakeObjectAnnotator{result: recognize.ObjectResult{Provider: "fake"}}
	stage := NewFigureDescriber(fake, memResolver(), "")

	task := withCrop(imageTask("doc1", origPath), &document.CropInfo{
		Bounds: document.Box{X0: 0, Y0: 0, X1: 10, Y1: 10},
	})

	payload, err := stage.Apply(context.Background(), task)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(payload.Figures) != 0 {
		t.Errorf("got %d figures on a page without objects", len(payload.Figures))
	}
}
