package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/caltechlibrary/documentarist/internal/cache"
	"github.com/caltechlibrary/documentarist/internal/document"
	"github.com/caltechlibrary/documentarist/internal/logger"
)

// DefaultWorkers is the worker pool size when Options.Workers is unset.
const DefaultWorkers = 4

// Options configures a Runner.
type Options struct {
	// Workers bounds how many documents are analyzed concurrently.
	Workers int

	// Retry bounds re-attempts of transiently failing stages.
	Retry RetryPolicy

	// WorkDir is a scratch directory for intermediate artifacts.
	WorkDir string

	// OnEvent, when set, observes run progress. Callbacks may arrive from
	// multiple goroutines and must be fast.
	OnEvent func(Event)
}

// Runner executes the configured stages over document batches.
type Runner struct {
	stages []Stage
	opts   Options
	log    zerolog.Logger
}

// New validates the stage set and builds a Runner. Graph problems are
// reported as *ConfigurationError before any document is touched.
func New(stages []Stage, opts Options) (*Runner, error) {
	if len(stages) == 0 {
		return nil, &ConfigurationError{Reason: "no stages configured"}
	}
	ordered, err := sortStages(stages)
	if err != nil {
		return nil, err
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	opts.Retry = opts.Retry.withDefaults()

	return &Runner{
		stages: ordered,
		opts:   opts,
		log:    logger.WithComponent("pipeline"),
	}, nil
}

// Report is the outcome of one run.
type Report struct {
	// RunID identifies the run.
	RunID string `json:"run_id"`

	// StartedAt and FinishedAt bound the run.
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	// Records holds one finalized record per input, in input order.
	Records []*document.Record `json:"records"`

	// Processed, Partial and Unprocessed count records by outcome.
	Processed   int `json:"processed"`
	Partial     int `json:"partial"`
	Unprocessed int `json:"unprocessed"`
}

// Record returns the record for a document ID, or nil.
func (rp *Report) Record(id string) *document.Record {
	for _, rec := range rp.Records {
		if rec.Input.ID == id {
			return rec
		}
	}
	return nil
}

type workerJob struct {
	input document.Input
	index int
}

// Run analyzes the batch. Documents are distributed over the worker pool;
// each document's stages run sequentially in dependency order. Per-document
// failures are recorded in that document's provenance and never abort the
// batch. A canceled context stops new stages from starting while in-flight
// stage calls finish; queued documents drain with all stages skipped.
//
// The only fatal errors are a poisoned service call cache (the report so far
// is returned together with the error) and cancellation, which returns the
// context error alongside the finalized records.
func (r *Runner) Run(ctx context.Context, inputs []document.Input) (*Report, error) {
	runID := uuid.NewString()
	report := &Report{RunID: runID, StartedAt: time.Now().UTC()}

	r.log.Info().
		Str("run_id", runID).
		Int("documents", len(inputs)).
		Int("stages", len(r.stages)).
		Int("workers", r.opts.Workers).
		Msg("Starting pipeline run")

	if len(inputs) == 0 {
		report.FinishedAt = time.Now().UTC()
		return report, nil
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	acc := document.NewAccumulator(runID)

	var fatalOnce sync.Once
	var fatalErr error
	abort := func(err error) {
		fatalOnce.Do(func() {
			fatalErr = err
			r.log.Error().Err(err).Str("run_id", runID).Msg("Fatal error, aborting run")
			cancelRun()
		})
	}

	jobs := make(chan workerJob, len(inputs))
	var processed int
	var mu sync.Mutex

	var wg sync.WaitGroup
	for w := 0; w < r.opts.Workers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()

			for job := range jobs {
				r.log.Debug().
					Int("worker", workerID).
					Str("document", job.input.ID).
					Int("index", job.index+1).
					Msg("Worker picked up document")

				r.processDocument(runCtx, runID, job.input, acc, abort)

				mu.Lock()
				processed++
				current := processed
				mu.Unlock()

				r.log.Info().
					Str("run_id", runID).
					Str("document", job.input.ID).
					Int("processed", current).
					Int("total", len(inputs)).
					Msg("Document finished")
			}
		}(w)
	}

	for i, in := range inputs {
		jobs <- workerJob{input: in, index: i}
	}
	close(jobs)
	wg.Wait()

	for _, in := range inputs {
		rec, err := acc.Finalize(in.ID)
		if err != nil {
			r.log.Error().Err(err).Str("document", in.ID).Msg("No accumulated record for document")
			continue
		}
		report.Records = append(report.Records, rec)
		switch rec.Outcome() {
		case document.OutcomeProcessed:
			report.Processed++
		case document.OutcomePartial:
			report.Partial++
		default:
			report.Unprocessed++
		}
	}
	report.FinishedAt = time.Now().UTC()

	r.log.Info().
		Str("run_id", runID).
		Int("fully_processed", report.Processed).
		Int("partially_processed", report.Partial).
		Int("not_processed", report.Unprocessed).
		Dur("duration", report.FinishedAt.Sub(report.StartedAt)).
		Msg("Pipeline run finished")

	if fatalErr != nil {
		return report, fatalErr
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

// processDocument runs every stage for one document, merging the results
// into the accumulator.
func (r *Runner) processDocument(ctx context.Context, runID string, in document.Input, acc *document.Accumulator, abort func(error)) {
	r.emit(Event{Kind: EventDocumentStarted, RunID: runID, Document: in.ID, Time: time.Now().UTC()})

	prior := make(map[document.Tag]*document.StageResult, len(r.stages))
	for _, stage := range r.stages {
		res, stageErr := r.runStage(ctx, runID, stage, in, prior)
		if stageErr != nil && errors.Is(stageErr, cache.ErrInconsistent) {
			abort(fmt.Errorf("stage %s on document %s: %w", stage.Tag(), in.ID, stageErr))
		}
		if err := acc.Merge(in, res); err != nil {
			r.log.Error().Err(err).
				Str("document", in.ID).
				Str("stage", string(res.Stage)).
				Msg("Failed to merge stage result")
		}
		prior[stage.Tag()] = &res
		r.emit(Event{
			Kind:     EventStageFinished,
			RunID:    runID,
			Document: in.ID,
			Stage:    stage.Tag(),
			Status:   res.Status,
			Attempt:  res.Attempts,
			Err:      stageErr,
			Time:     time.Now().UTC(),
		})
	}

	var total, succeeded int
	for _, res := range prior {
		total++
		if res.Status == document.StatusSuccess {
			succeeded++
		}
	}
	outcome := document.OutcomePartial
	switch succeeded {
	case total:
		outcome = document.OutcomeProcessed
	case 0:
		outcome = document.OutcomeUnprocessed
	}
	r.emit(Event{
		Kind:     EventDocumentFinished,
		RunID:    runID,
		Document: in.ID,
		Outcome:  outcome,
		Time:     time.Now().UTC(),
	})
}

// runStage executes one stage for one document, with prerequisite checks and
// bounded retries for transient failures. The returned error is the final
// attempt's error, nil for success and skips.
func (r *Runner) runStage(ctx context.Context, runID string, stage Stage, in document.Input, prior map[document.Tag]*document.StageResult) (document.StageResult, error) {
	tag := stage.Tag()

	if ctx.Err() != nil {
		return document.StageResult{Stage: tag, Status: document.StatusSkipped, Reason: "run canceled"}, nil
	}

	for _, dep := range stage.Requires() {
		depRes, ok := prior[dep]
		if !ok {
			return document.StageResult{
				Stage:  tag,
				Status: document.StatusSkipped,
				Reason: fmt.Sprintf("prerequisite %s did not run", dep),
			}, nil
		}
		if depRes.Status != document.StatusSuccess {
			return document.StageResult{
				Stage:  tag,
				Status: document.StatusSkipped,
				Reason: fmt.Sprintf("prerequisite %s %s", dep, depRes.Status),
			}, nil
		}
	}

	task := Task{Input: in, Prior: prior, WorkDir: r.opts.WorkDir}
	res := document.StageResult{Stage: tag, StartedAt: time.Now().UTC()}

	var lastErr error
	for attempt := 1; attempt <= r.opts.Retry.MaxAttempts; attempt++ {
		res.Attempts = attempt
		r.emit(Event{
			Kind:     EventStageStarted,
			RunID:    runID,
			Document: in.ID,
			Stage:    tag,
			Attempt:  attempt,
			Time:     time.Now().UTC(),
		})

		fields, err := stage.Apply(ctx, task)
		if err == nil {
			res.Status = document.StatusSuccess
			res.Fields = fields
			res.FinishedAt = time.Now().UTC()
			return res, nil
		}
		lastErr = err

		if errors.Is(err, cache.ErrInconsistent) || ctx.Err() != nil {
			break
		}
		if !IsTransient(err) {
			r.log.Warn().Err(err).
				Str("document", in.ID).
				Str("stage", string(tag)).
				Int("attempt", attempt).
				Msg("Stage failed permanently")
			break
		}
		if attempt == r.opts.Retry.MaxAttempts {
			r.log.Warn().Err(err).
				Str("document", in.ID).
				Str("stage", string(tag)).
				Int("attempts", attempt).
				Msg("Stage failed after final attempt")
			break
		}

		r.log.Warn().Err(err).
			Str("document", in.ID).
			Str("stage", string(tag)).
			Int("attempt", attempt).
			Dur("backoff", r.opts.Retry.delay(attempt+1)).
			Msg("Transient stage failure, backing off")
		if waitErr := r.opts.Retry.wait(ctx, attempt+1); waitErr != nil {
			lastErr = fmt.Errorf("canceled during retry backoff: %w", waitErr)
			break
		}
	}

	res.Status = document.StatusFailed
	res.Reason = lastErr.Error()
	res.FinishedAt = time.Now().UTC()
	return res, lastErr
}

func (r *Runner) emit(ev Event) {
	if r.opts.OnEvent != nil {
		r.opts.OnEvent(ev)
	}
}
