package document

import (
	"fmt"
	"sync"
)

// Accumulator merges stage result fragments into per-document records. It is
// safe for concurrent use; fragments for distinct stages of one document may
// be merged in any order and produce the same finalized record.
type Accumulator struct {
	mu      sync.Mutex
	runID   string
	records map[string]*Record
}

// NewAccumulator creates an empty accumulator for one pipeline run.
func NewAccumulator(runID string) *Accumulator {
	return &Accumulator{
		runID:   runID,
		records: make(map[string]*Record),
	}
}

// Merge folds one stage result into the record for in. The first merge for a
// document creates its record. Merging a second result for the same stage
// tag, or merging into a finalized record, is an error.
func (a *Accumulator) Merge(in Input, res StageResult) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	rec, ok := a.records[in.ID]
	if !ok {
		rec = &Record{Input: in, RunID: a.runID}
		a.records[in.ID] = rec
	}
	if rec.finalized {
		return fmt.Errorf("document %s: %w", in.ID, ErrFinalized)
	}
	for _, sr := range rec.Provenance {
		if sr.Stage == res.Stage {
			return fmt.Errorf("document %s, stage %s: %w", in.ID, res.Stage, ErrDuplicateStage)
		}
	}
	if res.Status == StatusSuccess {
		if err := rec.Payload.merge(res.Fields); err != nil {
			return fmt.Errorf("document %s, stage %s: %w", in.ID, res.Stage, err)
		}
	}
	rec.Provenance = append(rec.Provenance, res)
	return nil
}

// Finalize snapshots the record for the given document ID and marks it
// immutable. Further merges for the document fail with ErrFinalized.
func (a *Accumulator) Finalize(id string) (*Record, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	rec, ok := a.records[id]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", id, ErrUnknownDocument)
	}
	rec.finalized = true
	return snapshot(rec), nil
}

// snapshot copies the record with provenance in canonical order. Fragment
// pointers are shared; stages relinquish ownership of fragments on merge, so
// nothing mutates them after this point.
func snapshot(rec *Record) *Record {
	cp := &Record{
		Input:      rec.Input,
		RunID:      rec.RunID,
		Payload:    rec.Payload,
		finalized:  true,
		Provenance: make([]StageResult, len(rec.Provenance)),
	}
	copy(cp.Provenance, rec.Provenance)
	sortProvenance(cp.Provenance)
	return cp
}
