// Package pipeline orchestrates the analysis of document batches: it
// validates the stage dependency graph, fans documents out to a bounded
// worker pool, runs each document's stages in dependency order with retries
// for transient failures, and accumulates stage fragments into per-document
// records.
//
// Stages are pluggable: anything implementing Stage can be added to a run.
// A stage declares the tags of the stages whose output it needs; the runner
// refuses configurations whose dependencies do not form an acyclic graph.
package pipeline

import (
	"context"

	"github.com/caltechlibrary/documentarist/internal/document"
)

// Task is the unit of work handed to a stage: one document plus the results
// of the stages that already ran for it.
type Task struct {
	// Input is the document under analysis.
	Input document.Input

	// Prior holds the results of previously executed stages for this
	// document, keyed by stage tag. Stages must treat it as read-only.
	Prior map[document.Tag]*document.StageResult

	// WorkDir is a run-scoped scratch directory for intermediate artifacts
	// such as cropped images.
	WorkDir string
}

// Fragment returns the payload produced by a prior successful stage, or nil
// if the stage did not run or did not succeed.
func (t Task) Fragment(tag document.Tag) *document.Payload {
	res, ok := t.Prior[tag]
	if !ok || res.Status != document.StatusSuccess {
		return nil
	}
	return res.Fields
}

// Stage is one pluggable analysis step.
//
// Apply must be idempotent: called twice with the same document and the same
// prior results it yields equivalent fragments, so retries and cache replays
// are safe. Apply classifies its failures by wrapping them with
// MarkTransient or MarkPermanent; unclassified errors are treated as
// permanent.
type Stage interface {
	// Tag is the unique identifier of the stage within a run.
	Tag() document.Tag

	// Requires lists the tags whose results must be available (and
	// successful) before this stage runs.
	Requires() []document.Tag

	// Apply analyzes one document and returns the stage's fragment.
	Apply(ctx context.Context, task Task) (*document.Payload, error)
}

// StageFunc adapts a function to the Stage interface, mainly for tests and
// small in-process stage variants.
type StageFunc struct {
	// StageTag is the stage's unique tag.
	StageTag document.Tag

	// Deps lists required prior stages.
	Deps []document.Tag

	// Func performs the analysis.
	Func func(ctx context.Context, task Task) (*document.Payload, error)
}

// Tag implements Stage.
func (s StageFunc) Tag() document.Tag { return s.StageTag }

// Requires implements Stage.
func (s StageFunc) Requires() []document.Tag { return s.Deps }

// Apply implements Stage.
func (s StageFunc) Apply(ctx context.Context, task Task) (*document.Payload, error) {
	return s.Func(ctx, task)
}
