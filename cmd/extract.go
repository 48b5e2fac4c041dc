package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"
	"github.com/spf13/cobra"

	"github.com/caltechlibrary/documentarist/internal/cache"
	"github.com/caltechlibrary/documentarist/internal/config"
	"github.com/caltechlibrary/documentarist/internal/document"
	"github.com/caltechlibrary/documentarist/internal/inputs"
	"github.com/caltechlibrary/documentarist/internal/logger"
	"github.com/caltechlibrary/documentarist/internal/pipeline"
	"github.com/caltechlibrary/documentarist/internal/recognize"
	"github.com/caltechlibrary/documentarist/internal/stages"
	"github.com/caltechlibrary/documentarist/internal/writer"
)

var extractCmd = &cobra.Command{
	Use:   "extract [sources...]",
	Short: "Analyze document images and write hOCR and JSON results",
	Long: `Analyze batches of scanned document images through the configured stages.

Sources can be image files, directories (searched recursively for images),
http(s) URLs, or a list file given with --from-file. Each document runs
through the selected stages: crop finds the content region, text recognizes
the writing, figures localizes photographs and illustrations, content
summarizes what the document is about, and dates spots calendar dates in
the recognized text. Prerequisites of selected stages are included
automatically.

Every call to a paid recognition service is cached, so re-running a batch
reuses earlier answers unless --refresh is given.

Required environment variables (depending on selected stages):
  GOOGLE_APPLICATION_CREDENTIALS - Path to service account JSON file, OR
  GOOGLE_CREDENTIALS - Inline JSON credentials string
  GOOGLE_CLOUD_PROJECT + GOOGLE_PROCESSOR_ID - For TEXT_PROVIDER=documentai
  OPENAI_API_KEY - For the content stage`,
	Example: `  # Analyze one scan with every stage
  dm extract scans/letter-001.png

  # A whole directory, eight documents at a time
  dm extract scans/ --workers 8

  # Only recognized text and dates, JSON output only
  dm extract scans/ --stages text,dates --formats json

  # Ask the services again even for cached documents
  dm extract scans/ --refresh

  # Sources listed in a file, results elsewhere
  dm extract -f batch.txt --output-dir results/`,
	Args: cobra.ArbitraryArgs,
	RunE: runExtract,
}

func init() {
	rootCmd.AddCommand(extractCmd)

	addRunFlags(extractCmd)
	extractCmd.Flags().String("stages", "", "Comma-separated stages to run: crop, text, figures, content, dates (default: all)")
}

// addRunFlags registers the flags shared by extract and label.
func addRunFlags(c *cobra.Command) {
	c.Flags().StringP("from-file", "f", "", "File listing additional sources, one per line")
	c.Flags().StringP("output-dir", "o", "", "Directory for result files (default: OUTPUT_DIR or current directory)")
	c.Flags().String("basename", "", "Base name for numbering documents fetched from URLs")
	c.Flags().Int("workers", 0, "Number of documents analyzed in parallel (default: WORKERS)")
	c.Flags().Bool("refresh", false, "Query recognition services again even when cached results exist")
	c.Flags().String("formats", "", "Comma-separated output formats: hocr, json (default: both)")
	c.Flags().Int("timeout", 1800, "Run timeout in seconds")
	c.Flags().Bool("dry-run", false, "Resolve inputs and show the plan without analyzing anything")
}

func runExtract(cmd *cobra.Command, args []string) error {
	stagesSpec, _ := cmd.Flags().GetString("stages")
	return runAnalysis(cmd, args, stagesSpec, "extract")
}

// stagePrereqs mirrors each stage's prerequisites so a selection can be
// closed over them before any provider client is constructed.
var stagePrereqs = map[document.Tag][]document.Tag{
	document.TagCrop:    nil,
	document.TagText:    {document.TagCrop},
	document.TagFigures: {document.TagCrop},
	document.TagContent: {document.TagText},
	document.TagDates:   {document.TagText},
}

// stageOrder is the canonical order for display and selection.
var stageOrder = []document.Tag{
	document.TagCrop,
	document.TagText,
	document.TagFigures,
	document.TagContent,
	document.TagDates,
}

// runAnalysis is the shared body of extract and label.
func runAnalysis(cmd *cobra.Command, args []string, stagesSpec, component string) error {
	log := logger.WithComponent(component)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Get flags
	fromFile, _ := cmd.Flags().GetString("from-file")
	outputDir, _ := cmd.Flags().GetString("output-dir")
	basename, _ := cmd.Flags().GetString("basename")
	workers, _ := cmd.Flags().GetInt("workers")
	refresh, _ := cmd.Flags().GetBool("refresh")
	formatsSpec, _ := cmd.Flags().GetString("formats")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	if outputDir == "" {
		outputDir = cfg.OutputDir
	}
	if basename == "" {
		basename = cfg.Basename
	}
	if workers <= 0 {
		workers = cfg.Workers
	}

	formats, err := writer.ParseFormats(formatsSpec)
	if err != nil {
		return usageError{err.Error()}
	}
	selected, err := parseStageTags(stagesSpec)
	if err != nil {
		return err
	}
	selected = withPrerequisites(selected)

	sources := append([]string(nil), args...)
	if fromFile != "" {
		listed, err := inputs.ReadList(fromFile)
		if err != nil {
			return err
		}
		sources = append(sources, listed...)
	}
	if len(sources) == 0 {
		return usageError{"no sources given: name image files, directories or URLs, or use --from-file"}
	}

	log.Info().
		Int("sources", len(sources)).
		Str("stages", tagList(selected)).
		Str("output_dir", outputDir).
		Int("workers", workers).
		Bool("refresh", refresh).
		Int("timeout", timeoutSecs).
		Bool("dry_run", dryRun).
		Msg("Starting document analysis")

	// Create context with timeout and signal handling
	ctx, cancel := createContextWithTimeout(timeoutSecs, log)
	defer cancel()

	docs, err := inputs.Resolve(ctx, sources, inputs.Options{
		OutputDir: outputDir,
		Basename:  basename,
	})
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		fmt.Println("No document images found in the given sources.")
		return nil
	}

	if dryRun {
		printPlan(docs, selected, formats, cfg.CachePath, refresh)
		return nil
	}

	store, err := cache.OpenSQLite(cfg.CachePath)
	if err != nil {
		log.Error().Err(err).Str("path", cfg.CachePath).Msg("Failed to open cache database")
		return err
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			log.Warn().Err(closeErr).Msg("Failed to close cache store")
		}
	}()
	resolver := cache.NewResolver(store, refresh)

	stageSet, err := buildStages(ctx, cfg, resolver, selected, log)
	if err != nil {
		return err
	}

	workDir, err := os.MkdirTemp("", "documentarist-*")
	if err != nil {
		return fmt.Errorf("create work directory: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(workDir); rmErr != nil {
			log.Warn().Err(rmErr).Str("dir", workDir).Msg("Failed to clean up work directory")
		}
	}()

	files, err := writer.NewFiles(outputDir, formats)
	if err != nil {
		return err
	}

	// Live per-document progress in input order of completion
	var mu sync.Mutex
	var finished int
	onEvent := func(ev pipeline.Event) {
		if ev.Kind != pipeline.EventDocumentFinished {
			return
		}
		mu.Lock()
		finished++
		fmt.Printf("[%d/%d] %s - %s\n", finished, len(docs), ev.Document, getOutcomeEmoji(ev.Outcome))
		mu.Unlock()
	}

	runner, err := pipeline.New(stageSet, pipeline.Options{
		Workers: workers,
		Retry: pipeline.RetryPolicy{
			MaxAttempts: cfg.MaxAttempts,
			BaseDelay:   cfg.RetryBaseDelay,
			MaxDelay:    cfg.RetryMaxDelay,
		},
		WorkDir: workDir,
		OnEvent: onEvent,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Analyzing %d documents with %d parallel workers...\n", len(docs), workers)
	fmt.Println()

	startTime := time.Now()
	report, runErr := runner.Run(ctx, docs)

	// Write whatever was finalized, even for canceled or aborted runs.
	written := 0
	var writeErr error
	for _, rec := range report.Records {
		if _, err := files.Write(rec); err != nil {
			if writeErr == nil {
				writeErr = fmt.Errorf("write results for %s: %w", rec.Input.ID, err)
			}
			log.Error().Err(err).Str("document", rec.Input.ID).Msg("Failed to write result files")
			continue
		}
		written++
	}

	printRunSummary(report, outputDir, written)

	log.Info().
		Str("run_id", report.RunID).
		Int("documents", len(docs)).
		Int("fully_processed", report.Processed).
		Int("partially_processed", report.Partial).
		Int("not_processed", report.Unprocessed).
		Dur("duration", time.Since(startTime)).
		Msg("Document analysis completed")

	if runErr != nil {
		return handleRunError(runErr, timeoutSecs, log)
	}
	return writeErr
}

// parseStageTags parses a --stages value. Empty means every stage.
func parseStageTags(spec string) ([]document.Tag, error) {
	if strings.TrimSpace(spec) == "" {
		return append([]document.Tag(nil), stageOrder...), nil
	}

	seen := make(map[document.Tag]bool)
	var selected []document.Tag
	for _, part := range strings.Split(spec, ",") {
		name := strings.ToLower(strings.TrimSpace(part))
		if name == "" {
			continue
		}
		tag := document.Tag(name)
		if _, ok := stagePrereqs[tag]; !ok {
			return nil, usageError{fmt.Sprintf("unknown stage %q (available: %s)", name, tagList(stageOrder))}
		}
		if !seen[tag] {
			seen[tag] = true
			selected = append(selected, tag)
		}
	}
	if len(selected) == 0 {
		return nil, usageError{"no stages selected"}
	}
	return selected, nil
}

// withPrerequisites closes a selection over stage prerequisites and returns
// it in canonical order.
func withPrerequisites(selected []document.Tag) []document.Tag {
	include := make(map[document.Tag]bool)
	var add func(document.Tag)
	add = func(tag document.Tag) {
		if include[tag] {
			return
		}
		include[tag] = true
		for _, dep := range stagePrereqs[tag] {
			add(dep)
		}
	}
	for _, tag := range selected {
		add(tag)
	}

	var out []document.Tag
	for _, tag := range stageOrder {
		if include[tag] {
			out = append(out, tag)
		}
	}
	return out
}

// buildStages constructs the selected stages and the provider clients they
// need. Client construction is deferred until a stage actually requires it,
// so a text-only run never asks for an OpenAI key.
func buildStages(ctx context.Context, cfg *config.Config, resolver *cache.Resolver, selected []document.Tag, log zerolog.Logger) ([]pipeline.Stage, error) {
	include := make(map[document.Tag]bool, len(selected))
	for _, tag := range selected {
		include[tag] = true
	}

	if include[document.TagText] || include[document.TagFigures] {
		if err := ensureGoogleCredentials(log); err != nil {
			return nil, err
		}
	}

	var vision *recognize.GoogleVision
	googleVision := func() (*recognize.GoogleVision, error) {
		if vision != nil {
			return vision, nil
		}
		v, err := recognize.NewGoogleVision(ctx, cfg.LanguageHints)
		if err != nil {
			log.Error().Err(err).Msg("Failed to create Google Vision client")
			return nil, err
		}
		vision = v
		return vision, nil
	}

	var built []pipeline.Stage
	for _, tag := range stageOrder {
		if !include[tag] {
			continue
		}
		switch tag {
		case document.TagCrop:
			built = append(built, stages.NewCropper())
		case document.TagText:
			var annotator recognize.TextAnnotator
			if cfg.TextProvider == config.ProviderDocumentAI {
				d, err := recognize.NewDocumentAI(ctx)
				if err != nil {
					log.Error().Err(err).Msg("Failed to create Document AI client")
					return nil, err
				}
				annotator = d
			} else {
				v, err := googleVision()
				if err != nil {
					return nil, err
				}
				annotator = v
			}
			built = append(built, stages.NewTextDescriber(annotator, resolver, strings.Join(cfg.LanguageHints, ",")))
		case document.TagFigures:
			v, err := googleVision()
			if err != nil {
				return nil, err
			}
			built = append(built, stages.NewFigureDescriber(v, resolver, ""))
		case document.TagContent:
			if cfg.OpenAIAPIKey == "" {
				return nil, usageError{"OPENAI_API_KEY is required for the content stage"}
			}
			client := openai.NewClient(cfg.OpenAIAPIKey)
			built = append(built, stages.NewContentDescriber(client, resolver, cfg.OpenAIModel))
		case document.TagDates:
			built = append(built, stages.NewDateSpotter())
		}
	}
	return built, nil
}

// ensureGoogleCredentials checks the credential environment up front so a
// misconfigured run fails before any document is touched.
func ensureGoogleCredentials(log zerolog.Logger) error {
	if os.Getenv("GOOGLE_APPLICATION_CREDENTIALS") != "" || os.Getenv("GOOGLE_CREDENTIALS") != "" {
		return nil
	}
	log.Error().Msg("Google Cloud credentials not configured")
	return fmt.Errorf("Google Cloud credentials not configured. Please set one of:\n\n" +
		"1. Export GOOGLE_APPLICATION_CREDENTIALS with path to service account JSON:\n" +
		"   export GOOGLE_APPLICATION_CREDENTIALS=/path/to/service-account-key.json\n\n" +
		"2. Export GOOGLE_CREDENTIALS with inline JSON:\n" +
		"   export GOOGLE_CREDENTIALS='{\"type\":\"service_account\",\"project_id\":\"your-project\",...}'\n\n" +
		"3. Check that your .env file contains the credentials variables")
}

// createContextWithTimeout creates the run context with timeout and signal
// handling for graceful shutdown.
func createContextWithTimeout(timeoutSecs int, log zerolog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeoutSecs)*time.Second)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			log.Info().
				Str("signal", sig.String()).
				Msg("Received interrupt signal, canceling run")
			cancel()
		case <-ctx.Done():
			// Context completed normally
		}
	}()

	return ctx, cancel
}

// handleRunError provides user-friendly messages for run failures.
func handleRunError(err error, timeoutSecs int, log zerolog.Logger) error {
	log.Error().Err(err).Msg("Document analysis failed")

	errStr := err.Error()
	switch {
	case errors.Is(err, cache.ErrInconsistent):
		return fmt.Errorf("the service call cache contradicts itself; clear it with 'dm cache clear' and run again: %w", err)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("analysis timed out after %d seconds. Try increasing --timeout or analyzing a smaller batch: %w", timeoutSecs, err)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("analysis was canceled: %w", err)
	case strings.Contains(errStr, "Unauthenticated") ||
		strings.Contains(errStr, "invalid_grant") ||
		strings.Contains(errStr, "auth:") ||
		strings.Contains(errStr, "transport: per-RPC creds failed"):
		return fmt.Errorf("Google Cloud authentication failed. Check GOOGLE_APPLICATION_CREDENTIALS or "+
			"GOOGLE_CREDENTIALS and the service account roles: %w", err)
	case strings.Contains(errStr, "PERMISSION_DENIED") ||
		strings.Contains(errStr, "forbidden"):
		return fmt.Errorf("permission denied by a recognition service. Ensure the service account has the "+
			"Cloud Vision and Document AI roles: %w", err)
	case strings.Contains(errStr, "QUOTA_EXCEEDED") ||
		strings.Contains(errStr, "quota"):
		return fmt.Errorf("recognition service quota exceeded. Check the project quotas and retry later: %w", err)
	default:
		return fmt.Errorf("document analysis failed: %w", err)
	}
}

// printPlan shows what a run would do without starting it.
func printPlan(docs []document.Input, selected []document.Tag, formats []writer.Format, cachePath string, refresh bool) {
	fmt.Println(strings.Repeat("=", 80))
	fmt.Println("                         DOCUMENT ANALYSIS PLAN")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Documents: %d\n", len(docs))
	for i, in := range docs {
		fmt.Printf("  %2d. %s  %s  (%dx%d)\n", i+1, in.ID, in.Source, in.Width, in.Height)
	}
	fmt.Printf("Stages: %s\n", tagList(selected))
	fmt.Printf("Formats: %s\n", formatList(formats))
	cacheMode := "reuse cached service responses"
	if refresh {
		cacheMode = "query services again"
	}
	fmt.Printf("Cache: %s (%s)\n", cachePath, cacheMode)
	fmt.Println(strings.Repeat("=", 80))
}

// printRunSummary prints the closing result block.
func printRunSummary(report *pipeline.Report, outputDir string, written int) {
	fmt.Println()
	fmt.Println(strings.Repeat("=", 50))
	fmt.Println("                 RESULTS")
	fmt.Println(strings.Repeat("=", 50))
	fmt.Printf("Fully processed: %d\n", report.Processed)
	if report.Partial > 0 {
		fmt.Printf("Partially processed: %d\n", report.Partial)
	}
	if report.Unprocessed > 0 {
		fmt.Printf("Not processed: %d\n", report.Unprocessed)
	}
	fmt.Printf("Result files: %d written to %s\n", written, outputDir)
	fmt.Println(strings.Repeat("=", 50))
}

// getOutcomeEmoji returns an emoji for a document outcome.
func getOutcomeEmoji(outcome document.Outcome) string {
	switch outcome {
	case document.OutcomeProcessed:
		return "✅"
	case document.OutcomePartial:
		return "⚠️"
	case document.OutcomeUnprocessed:
		return "❌"
	default:
		return "❓"
	}
}

func tagList(tags []document.Tag) string {
	parts := make([]string, len(tags))
	for i, tag := range tags {
		parts[i] = string(tag)
	}
	return strings.Join(parts, ", ")
}

func formatList(formats []writer.Format) string {
	parts := make([]string, len(formats))
	for i, f := range formats {
		parts[i] = string(f)
	}
	return strings.Join(parts, ", ")
}
