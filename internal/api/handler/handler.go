package handler

import (
	"context"
	"log/slog"
	"time"

	"github.com/finsight/docanalyzer/internal/analysis"
	"github.com/finsight/docanalyzer/internal/analyzer"
)

// Store is the slice of the record store the handlers use. Satisfied by
// *storage.Storage.
type Store interface {
	Create(ctx context.Context, rec *analysis.Record) error
	GetByID(ctx context.Context, id string) (*analysis.Record, error)
	List(ctx context.Context, offset, limit int) ([]analysis.Record, error)
	MarkFailed(ctx context.Context, id, errMsg string, completedAt time.Time) error
}

// Publisher enqueues analysis requests for the worker.
type Publisher interface {
	Publish(ctx context.Context, body []byte) error
}

// InlineRunner executes one analysis synchronously. Satisfied by
// *analyzer.InlineExecutor.
type InlineRunner interface {
	Execute(ctx context.Context, in analyzer.Input) (string, error)
}

// Dependencies holds everything the analysis handlers need.
type Dependencies struct {
	Logger    *slog.Logger
	Storage   Store
	Publisher Publisher
	Inline    InlineRunner

	DataDir      string
	MaxUploadMB  int64
	DefaultQuery string
}

// AnalysisHandler handles analysis HTTP requests.
type AnalysisHandler struct {
	logger    *slog.Logger
	storage   Store
	publisher Publisher
	inline    InlineRunner

	dataDir      string
	maxUploadMB  int64
	defaultQuery string
}

// NewAnalysisHandler creates an AnalysisHandler.
func NewAnalysisHandler(deps *Dependencies) *AnalysisHandler {
	return &AnalysisHandler{
		logger:       deps.Logger,
		storage:      deps.Storage,
		publisher:    deps.Publisher,
		inline:       deps.Inline,
		dataDir:      deps.DataDir,
		maxUploadMB:  deps.MaxUploadMB,
		defaultQuery: deps.DefaultQuery,
	}
}
