// Package analyzer composes content extraction and the analysis pipeline
// into a single job execution, and provides the adapters that run that
// execution inline or on behalf of the queue worker.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/finsight/docanalyzer/internal/extract"
	"github.com/finsight/docanalyzer/internal/pipeline"
)

// Input identifies one execution: which record it belongs to, what to ask,
// and where the artifact lives.
type Input struct {
	AnalysisID   string
	Query        string
	ArtifactPath string
}

// PipelineFactory builds a fresh Analyzer for a single execution. A new
// instance per run guarantees no state from a prior job leaks into the
// next one.
type PipelineFactory func() (pipeline.Analyzer, error)

// Orchestrator drives one job execution: extract the document text exactly
// once, invoke the pipeline exactly once, and convert every failure into an
// error the caller persists. It holds no state across runs; concurrent Run
// calls for different jobs are safe.
type Orchestrator struct {
	extractor   extract.Extractor
	newPipeline PipelineFactory
	logger      *slog.Logger
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(extractor extract.Extractor, factory PipelineFactory, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		extractor:   extractor,
		newPipeline: factory,
		logger:      logger,
	}
}

// Run executes one analysis attempt. Exactly one of (result, err) is
// populated. A failure here never escapes as a panic: this is the boundary
// that turns internal failures into the record's error field.
func (o *Orchestrator) Run(ctx context.Context, in Input) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("Analysis run panicked",
				slog.String("analysis_id", in.AnalysisID),
				slog.Any("panic", r),
			)
			result = ""
			err = fmt.Errorf("analysis aborted unexpectedly: %v", r)
		}
	}()

	o.logger.Info("Starting analysis run",
		slog.String("analysis_id", in.AnalysisID),
		slog.String("query", in.Query),
		slog.String("artifact", in.ArtifactPath),
	)

	// The artifact is read once here; the pipeline stages all receive this
	// text and never touch the file themselves.
	content, err := o.extractor.Extract(ctx, in.ArtifactPath)
	if err != nil {
		return "", fmt.Errorf("content extraction failed: %w", err)
	}

	pl, err := o.newPipeline()
	if err != nil {
		return "", fmt.Errorf("failed to construct pipeline: %w", err)
	}

	report, err := pl.Analyze(ctx, in.Query, content)
	if err != nil {
		return "", fmt.Errorf("analysis failed: %w", err)
	}

	o.logger.Info("Analysis run completed",
		slog.String("analysis_id", in.AnalysisID),
		slog.Int("report_chars", len(report)),
	)

	return report, nil
}

// Retriable reports whether a failed attempt is worth repeating. Extraction
// failures are final because the artifact will not change; everything else
// (pipeline and unexpected failures) is treated as transient.
func Retriable(err error) bool {
	var extractionErr *extract.ExtractionError
	return !errors.As(err, &extractionErr)
}
