package pipeline

import (
	"time"

	"github.com/caltechlibrary/documentarist/internal/document"
)

// EventKind names a pipeline progress event.
type EventKind string

const (
	// EventDocumentStarted fires when a worker picks up a document.
	EventDocumentStarted EventKind = "document_started"

	// EventDocumentFinished fires when all stages of a document have been
	// executed or skipped.
	EventDocumentFinished EventKind = "document_finished"

	// EventStageStarted fires before each stage attempt.
	EventStageStarted EventKind = "stage_started"

	// EventStageFinished fires after a stage's final attempt, with its
	// recorded status.
	EventStageFinished EventKind = "stage_finished"
)

// Event is a progress notification from a run. Events for one document are
// ordered; events for different documents interleave.
type Event struct {
	Kind     EventKind
	RunID    string
	Document string
	Stage    document.Tag
	Status   document.Status
	Outcome  document.Outcome
	Attempt  int
	Err      error
	Time     time.Time
}
