package document

import (
	"sort"
	"time"
)

// StageResult is one stage's contribution to a document record: the outcome,
// timing and attempt provenance, and the produced fragment.
type StageResult struct {
	// Stage is the tag of the stage that produced this result.
	Stage Tag `json:"stage"`

	// Status is the outcome of the stage for this document.
	Status Status `json:"status"`

	// Attempts is how many times the stage was tried, including the final
	// one. Zero for skipped stages.
	Attempts int `json:"attempts"`

	// StartedAt and FinishedAt bound the stage's execution. Zero for
	// skipped stages.
	StartedAt  time.Time `json:"started_at,omitzero"`
	FinishedAt time.Time `json:"finished_at,omitzero"`

	// Reason explains a failed or skipped status.
	Reason string `json:"reason,omitempty"`

	// Fields is the fragment produced on success, nil otherwise.
	Fields *Payload `json:"-"`
}

// Outcome classifies how completely a document was processed.
type Outcome string

const (
	// OutcomeProcessed means every stage succeeded.
	OutcomeProcessed Outcome = "processed"

	// OutcomePartial means some stages succeeded and some did not.
	OutcomePartial Outcome = "partial"

	// OutcomeUnprocessed means no stage succeeded.
	OutcomeUnprocessed Outcome = "unprocessed"
)

// Record is the accumulated analysis of one document: its identity, the
// per-stage provenance, and the merged payload. Records are built by an
// Accumulator and become immutable once finalized.
type Record struct {
	// Input is the document this record describes.
	Input Input `json:"input"`

	// RunID identifies the pipeline run that produced the record.
	RunID string `json:"run_id,omitempty"`

	// Provenance lists one entry per stage applied to (or skipped for) the
	// document, in canonical stage order.
	Provenance []StageResult `json:"provenance"`

	// Payload is the merged output of all successful stages.
	Payload Payload `json:"payload"`

	finalized bool
}

// StageStatus returns the recorded status for a stage tag.
func (r *Record) StageStatus(tag Tag) (Status, bool) {
	for _, sr := range r.Provenance {
		if sr.Stage == tag {
			return sr.Status, true
		}
	}
	return "", false
}

// Outcome classifies the record for the run summary.
func (r *Record) Outcome() Outcome {
	if len(r.Provenance) == 0 {
		return OutcomeUnprocessed
	}
	succeeded := 0
	for _, sr := range r.Provenance {
		if sr.Status == StatusSuccess {
			succeeded++
		}
	}
	switch succeeded {
	case 0:
		return OutcomeUnprocessed
	case len(r.Provenance):
		return OutcomeProcessed
	default:
		return OutcomePartial
	}
}

// tagRank orders provenance entries canonically so that a finalized record
// does not depend on the order in which stage fragments arrived. Built-in
// tags sort in pipeline order, unknown tags after them alphabetically.
func tagRank(t Tag) int {
	switch t {
	case TagCrop:
		return 0
	case TagText:
		return 1
	case TagFigures:
		return 2
	case TagContent:
		return 3
	case TagDates:
		return 4
	default:
		return 5
	}
}

func sortProvenance(prov []StageResult) {
	sort.SliceStable(prov, func(i, j int) bool {
		ri, rj := tagRank(prov[i].Stage), tagRank(prov[j].Stage)
		if ri != rj {
			return ri < rj
		}
		return prov[i].Stage < prov[j].Stage
	})
}
