// Package dto defines the JSON shapes of the analysis API.
package dto

import (
	"time"

	"github.com/finsight/docanalyzer/internal/analysis"
)

// ListAnalysesRequest carries the pagination query parameters.
type ListAnalysesRequest struct {
	Offset int `form:"offset"`
	Limit  int `form:"limit"`
}

// ListAnalysesResponse is the paginated list payload.
type ListAnalysesResponse struct {
	Analyses []AnalysisDTO `json:"analyses"`
	Offset   int           `json:"offset"`
	Limit    int           `json:"limit"`
}

// AnalysisDTO is one analysis record as the API presents it. Result and
// Error are null unless the record reached the corresponding terminal
// state.
type AnalysisDTO struct {
	AnalysisID  string  `json:"analysis_id"`
	SourceName  string  `json:"source_name"`
	Query       string  `json:"query"`
	Status      string  `json:"status"`
	Result      *string `json:"result"`
	Error       *string `json:"error"`
	CreatedAt   string  `json:"created_at"`
	CompletedAt *string `json:"completed_at"`
}

// FromRecord converts a store record into its API shape.
func FromRecord(rec *analysis.Record) AnalysisDTO {
	dto := AnalysisDTO{
		AnalysisID: rec.ID,
		SourceName: rec.SourceName,
		Query:      rec.Query,
		Status:     string(rec.Status),
		CreatedAt:  rec.CreatedAt.Format(time.RFC3339),
	}

	if rec.Result.Valid {
		dto.Result = &rec.Result.String
	}
	if rec.Error.Valid {
		dto.Error = &rec.Error.String
	}
	if rec.CompletedAt.Valid {
		completed := rec.CompletedAt.Time.Format(time.RFC3339)
		dto.CompletedAt = &completed
	}

	return dto
}
