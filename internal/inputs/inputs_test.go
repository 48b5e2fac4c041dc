package inputs

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeImage(t *testing.T, path string, w, h int, c color.Color) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	var err error
	switch filepath.Ext(path) {
	case ".jpg", ".jpeg":
		err = jpeg.Encode(&buf, img, nil)
	default:
		err = png.Encode(&buf, img)
	}
	if err != nil {
		t.Fatalf("encode %s: %v", path, err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestResolveLocalFiles(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "letter-001.png")
	second := filepath.Join(dir, "letter-002.png")
	writeImage(t, first, 40, 30, color.White)
	writeImage(t, second, 60, 20, color.Black)

	inputs, err := Resolve(context.Background(), []string{first, second}, Options{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(inputs) != 2 {
		t.Fatalf("got %d inputs, want 2", len(inputs))
	}
	if inputs[0].ID != "letter-001" || inputs[1].ID != "letter-002" {
		t.Errorf("ids = %q, %q", inputs[0].ID, inputs[1].ID)
	}
	if inputs[0].Width != 40 || inputs[0].Height != 30 {
		t.Errorf("dimensions = %dx%d, want 40x30", inputs[0].Width, inputs[0].Height)
	}
	if inputs[0].SHA256 == "" || inputs[0].SHA256 == inputs[1].SHA256 {
		t.Errorf("content hashes not distinct: %q vs %q", inputs[0].SHA256, inputs[1].SHA256)
	}
	if inputs[0].Source != first || inputs[0].Path != first {
		t.Errorf("source/path = %q/%q, want %q", inputs[0].Source, inputs[0].Path, first)
	}
}

func TestResolveDirectory(t *testing.T) {
	dir := t.TempDir()
	writeImage(t, filepath.Join(dir, "a.png"), 10, 10, color.White)
	writeImage(t, filepath.Join(dir, "b.jpg"), 12, 12, color.Black)
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not an image"), 0o644); err != nil {
		t.Fatal(err)
	}
	writeImage(t, filepath.Join(dir, ".hidden.png"), 8, 8, color.White)
	sub := filepath.Join(dir, "sub")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	writeImage(t, filepath.Join(sub, "c.png"), 14, 14, color.Gray{Y: 128})

	inputs, err := Resolve(context.Background(), []string{dir}, Options{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	var ids []string
	for _, in := range inputs {
		ids = append(ids, in.ID)
	}
	want := []string{"a", "b", "c"}
	if len(ids) != len(want) {
		t.Fatalf("ids = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("ids = %v, want %v", ids, want)
			break
		}
	}
}

func TestResolveDuplicateContent(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "original.png")
	second := filepath.Join(dir, "copy.png")
	writeImage(t, first, 20, 20, color.White)
	data, err := os.ReadFile(first)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(second, data, 0o644); err != nil {
		t.Fatal(err)
	}

	inputs, err := Resolve(context.Background(), []string{first, second}, Options{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(inputs) != 1 {
		t.Fatalf("got %d inputs, want 1", len(inputs))
	}
	if inputs[0].ID != "original" {
		t.Errorf("kept %q, want the first occurrence", inputs[0].ID)
	}
}

func TestResolveDuplicateStems(t *testing.T) {
	root := t.TempDir()
	box1 := filepath.Join(root, "box1")
	box2 := filepath.Join(root, "box2")
	for _, d := range []string{box1, box2} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	writeImage(t, filepath.Join(box1, "scan.png"), 10, 10, color.White)
	writeImage(t, filepath.Join(box2, "scan.png"), 10, 10, color.Black)

	inputs, err := Resolve(context.Background(), []string{box1, box2}, Options{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(inputs) != 2 {
		t.Fatalf("got %d inputs, want 2", len(inputs))
	}
	if inputs[0].ID != "scan" || inputs[1].ID != "scan-2" {
		t.Errorf("ids = %q, %q, want scan, scan-2", inputs[0].ID, inputs[1].ID)
	}
}

func TestResolveMissingFile(t *testing.T) {
	_, err := Resolve(context.Background(), []string{filepath.Join(t.TempDir(), "absent.png")}, Options{})
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("err = %v, want wrapped fs.ErrNotExist", err)
	}
}

func TestResolveNotImage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bogus.png")
	if err := os.WriteFile(path, []byte("this is not a png"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Resolve(context.Background(), []string{path}, Options{})
	if !errors.Is(err, ErrNotImage) {
		t.Fatalf("err = %v, want wrapped ErrNotImage", err)
	}
}

func TestResolveDownloadsURL(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 32, 24))
	for y := 0; y < 24; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, color.White)
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(buf.Bytes())
	}))
	defer srv.Close()

	local := filepath.Join(t.TempDir(), "page.png")
	writeImage(t, local, 10, 10, color.Black)
	outDir := filepath.Join(t.TempDir(), "out")

	url := srv.URL + "/scan.jpg"
	inputs, err := Resolve(context.Background(), []string{local, url}, Options{OutputDir: outDir})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(inputs) != 2 {
		t.Fatalf("got %d inputs, want 2", len(inputs))
	}
	got := inputs[1]
	if got.ID != "document-1" {
		t.Errorf("ID = %q, want document-1", got.ID)
	}
	if got.Source != url {
		t.Errorf("Source = %q, want %q", got.Source, url)
	}
	wantPath := filepath.Join(outDir, "document-1.png")
	if got.Path != wantPath {
		t.Errorf("Path = %q, want %q", got.Path, wantPath)
	}
	if got.Width != 32 || got.Height != 24 {
		t.Errorf("dimensions = %dx%d, want 32x24", got.Width, got.Height)
	}

	f, err := os.Open(wantPath)
	if err != nil {
		t.Fatalf("downloaded copy: %v", err)
	}
	defer f.Close()
	if _, format, err := image.DecodeConfig(f); err != nil || format != "png" {
		t.Errorf("downloaded copy format = %q (%v), want png", format, err)
	}

	sidecar, err := os.ReadFile(filepath.Join(outDir, "document-1.url"))
	if err != nil {
		t.Fatalf("sidecar: %v", err)
	}
	if strings.TrimSpace(string(sidecar)) != url {
		t.Errorf("sidecar = %q, want %q", sidecar, url)
	}
}

func TestResolveDownloadFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := Resolve(context.Background(), []string{srv.URL + "/gone.png"}, Options{OutputDir: t.TempDir()})
	var de *DownloadError
	if !errors.As(err, &de) {
		t.Fatalf("err = %v, want DownloadError", err)
	}
	if de.URL != srv.URL+"/gone.png" {
		t.Errorf("DownloadError.URL = %q", de.URL)
	}
}

func TestReadList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sources.txt")
	content := "# batch from box 7\n\nscans/letter-001.png\nhttps://example.org/scan.jpg\n  scans/letter-002.png  \n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	sources, err := ReadList(path)
	if err != nil {
		t.Fatalf("ReadList: %v", err)
	}
	want := []string{"scans/letter-001.png", "https://example.org/scan.jpg", "scans/letter-002.png"}
	if len(sources) != len(want) {
		t.Fatalf("sources = %v, want %v", sources, want)
	}
	for i := range want {
		if sources[i] != want[i] {
			t.Errorf("sources = %v, want %v", sources, want)
			break
		}
	}
}

func TestIsURL(t *testing.T) {
	for src, want := range map[string]bool{
		"https://example.org/a.png": true,
		"http://example.org/a.png":  true,
		"scans/a.png":               false,
		"ftp://example.org/a.png":   false,
	} {
		if got := IsURL(src); got != want {
			t.Errorf("IsURL(%q) = %v, want %v", src, got, want)
		}
	}
}
