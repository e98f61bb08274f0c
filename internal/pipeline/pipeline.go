// Package pipeline is the boundary to the multi-stage analysis capability.
// The orchestrator treats it as opaque: query and document text in, report
// out, with every failure surfaced uniformly as *pipeline.Error.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// Analyzer runs the full analysis sequence against pre-extracted document
// text. Invocations are blocking and may take seconds to minutes. An
// Analyzer holds no state the caller may rely on across invocations.
type Analyzer interface {
	Analyze(ctx context.Context, query, content string) (string, error)
}

// Error is the uniform failure the pipeline reports. The orchestration core
// treats all pipeline failures as transient and applies the same bounded
// retry policy regardless of which stage failed.
type Error struct {
	Stage string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("pipeline stage %q failed: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Config holds the model settings for an LLM-backed pipeline.
type Config struct {
	APIKey      string
	Model       string
	BaseURL     string
	Temperature float64
}

// LLMPipeline is the production Analyzer: four specialist stages run
// sequentially against one chat model, each stage seeing the same
// pre-extracted document text.
type LLMPipeline struct {
	llm         llms.Model
	temperature float64
	logger      *slog.Logger
}

// New constructs an LLM-backed pipeline. Callers construct one per
// execution so no conversational or client state leaks between jobs.
func New(cfg Config, logger *slog.Logger) (*LLMPipeline, error) {
	opts := []openai.Option{
		openai.WithToken(cfg.APIKey),
		openai.WithModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline model client: %w", err)
	}

	return &LLMPipeline{
		llm:         llm,
		temperature: cfg.Temperature,
		logger:      logger,
	}, nil
}

// Analyze runs every stage in order and assembles their outputs into a
// single report. The first stage failure aborts the run.
func (p *LLMPipeline) Analyze(ctx context.Context, query, content string) (string, error) {
	var sections []string

	for _, stage := range stages {
		p.logger.Info("Running analysis stage",
			slog.String("stage", stage.Name),
		)

		output, err := llms.GenerateFromSinglePrompt(
			ctx,
			p.llm,
			stage.Prompt(query, content),
			llms.WithTemperature(p.temperature),
		)
		if err != nil {
			return "", &Error{Stage: stage.Name, Err: err}
		}

		p.logger.Debug("Analysis stage completed",
			slog.String("stage", stage.Name),
			slog.Int("output_chars", len(output)),
		)

		sections = append(sections, "## "+stage.Title+"\n\n"+strings.TrimSpace(output))
	}

	return strings.Join(sections, "\n\n"), nil
}
