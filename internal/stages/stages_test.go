package stages

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/caltechlibrary/documentarist/internal/cache"
	"github.com/caltechlibrary/documentarist/internal/document"
	"github.com/caltechlibrary/documentarist/internal/pipeline"
	"github.com/caltechlibrary/documentarist/internal/recognize"
)

// fakeTextAnnotator records the bytes it was asked to analyze and replays a
// canned result.
type fakeTextAnnotator struct {
	calls  int
	lastIn []byte
	result recognize.TextResult
	err    error
}

func (f *fakeTextAnnotator) Name() string { return "fake" }

func (f *fakeTextAnnotator) AnnotateText(ctx context.Context, image []byte) (*recognize.TextResult, error) {
	f.calls++
	f.lastIn = append([]byte(nil), image...)
	if f.err != nil {
		return nil, f.err
	}
	res := f.result
	return &res, nil
}

// fakeObjectAnnotator is the object localization counterpart.
type fakeObjectAnnotator struct {
	calls  int
	lastIn []byte
	result recognize.ObjectResult
	err    error
}

func (f *fakeObjectAnnotator) Name() string { return "fake" }

func (f *fakeObjectAnnotator) AnnotateObjects(ctx context.Context, image []byte) (*recognize.ObjectResult, error) {
	f.calls++
	f.lastIn = append([]byte(nil), image...)
	if f.err != nil {
		return nil, f.err
	}
	res := f.result
	return &res, nil
}

func memResolver() *cache.Resolver {
	return cache.NewResolver(cache.NewMemory(), false)
}

// writeFile drops content into dir under name and returns the full path.
func writeFile(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

// imageTask builds a task for a document whose image lives at path.
func imageTask(id, path string) pipeline.Task {
	return pipeline.Task{
		Input: document.Input{ID: id, Source: path, Path: path},
		Prior: make(map[document.Tag]*document.StageResult),
	}
}

// withCrop attaches a successful crop result to the task.
func withCrop(task pipeline.Task, crop *document.CropInfo) pipeline.Task {
	task.Prior[document.TagCrop] = &document.StageResult{
		Stage:  document.TagCrop,
		Status: document.StatusSuccess,
		Fields: &document.Payload{Crop: crop},
	}
	return task
}

// withText attaches a successful text result to the task.
func withText(task pipeline.Task, text *document.TextContent) pipeline.Task {
	task.Prior[document.TagText] = &document.StageResult{
		Stage:  document.TagText,
		Status: document.StatusSuccess,
		Fields: &document.Payload{Text: text},
	}
	return task
}

// failingStore implements cache.Store with a failing lookup, standing in for
// a store whose integrity check tripped.
type failingStore struct {
	err error
}

func (s *failingStore) Lookup(ctx context.Context, key cache.Key) (cache.Entry, bool, error) {
	return cache.Entry{}, false, s.err
}

func (s *failingStore) Store(ctx context.Context, key cache.Key, entry cache.Entry) error {
	return nil
}

func (s *failingStore) Close() error { return nil }
