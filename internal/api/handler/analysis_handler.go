package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/finsight/docanalyzer/internal/analysis"
	"github.com/finsight/docanalyzer/internal/analyzer"
	"github.com/finsight/docanalyzer/internal/api/dto"
)

// CreateAnalysis handles POST /api/v1/analyses.
// Accepts a PDF upload and runs the analysis before responding: the caller
// waits for the outcome. The inline executor owns the uploaded artifact
// and removes it when the attempt reaches its terminal state, so a caller
// that disconnects mid-run cannot race the still-running analysis.
func (h *AnalysisHandler) CreateAnalysis(c *gin.Context) {
	rec, artifactPath, ok := h.acceptUpload(c)
	if !ok {
		return
	}

	result, err := h.inline.Execute(c.Request.Context(), analyzer.Input{
		AnalysisID:   rec.ID,
		Query:        rec.Query,
		ArtifactPath: artifactPath,
	})
	if err != nil {
		h.logger.Error("Inline analysis failed",
			slog.String("analysis_id", rec.ID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"analysis_id": rec.ID,
			"status":      analysis.StatusFailed,
			"error":       err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"analysis_id": rec.ID,
		"source_name": rec.SourceName,
		"query":       rec.Query,
		"status":      analysis.StatusCompleted,
		"result":      result,
	})
}

// CreateAnalysisAsync handles POST /api/v1/analyses/async.
// Accepts a PDF upload, enqueues the analysis, and responds immediately
// with the id to poll. The artifact stays on disk for the worker, which
// owns its cleanup.
func (h *AnalysisHandler) CreateAnalysisAsync(c *gin.Context) {
	rec, artifactPath, ok := h.acceptUpload(c)
	if !ok {
		return
	}

	req := analysis.Request{
		AnalysisID:   rec.ID,
		Query:        rec.Query,
		ArtifactPath: artifactPath,
		Attempt:      0,
	}

	body, err := json.Marshal(req)
	if err != nil {
		h.failEnqueue(c, rec.ID, artifactPath, err)
		return
	}

	if err := h.publisher.Publish(c.Request.Context(), body); err != nil {
		h.failEnqueue(c, rec.ID, artifactPath, err)
		return
	}

	h.logger.Info("Analysis request enqueued",
		slog.String("analysis_id", rec.ID),
		slog.String("source_name", rec.SourceName),
	)

	c.JSON(http.StatusAccepted, gin.H{
		"analysis_id": rec.ID,
		"source_name": rec.SourceName,
		"query":       rec.Query,
		"status":      analysis.StatusPending,
	})
}

// GetAnalysis handles GET /api/v1/analyses/:analysis_id.
func (h *AnalysisHandler) GetAnalysis(c *gin.Context) {
	analysisID := c.Param("analysis_id")

	if _, err := uuid.Parse(analysisID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "analysis_id must be a valid UUID",
		})
		return
	}

	rec, err := h.storage.GetByID(c.Request.Context(), analysisID)
	if err != nil {
		if errors.Is(err, analysis.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "analysis not found",
			})
			return
		}
		h.logger.Error("Failed to get analysis",
			slog.String("analysis_id", analysisID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to get analysis",
		})
		return
	}

	c.JSON(http.StatusOK, dto.FromRecord(rec))
}

// ListAnalyses handles GET /api/v1/analyses with offset/limit pagination.
func (h *AnalysisHandler) ListAnalyses(c *gin.Context) {
	var req dto.ListAnalysesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "invalid query parameters",
		})
		return
	}

	if req.Offset < 0 {
		req.Offset = 0
	}
	if req.Limit <= 0 {
		req.Limit = 20
	}
	if req.Limit > 100 {
		req.Limit = 100
	}

	recs, err := h.storage.List(c.Request.Context(), req.Offset, req.Limit)
	if err != nil {
		h.logger.Error("Failed to list analyses",
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to list analyses",
		})
		return
	}

	out := make([]dto.AnalysisDTO, len(recs))
	for i := range recs {
		out[i] = dto.FromRecord(&recs[i])
	}

	c.JSON(http.StatusOK, dto.ListAnalysesResponse{
		Analyses: out,
		Offset:   req.Offset,
		Limit:    req.Limit,
	})
}

// acceptUpload validates the multipart upload, saves the artifact, and
// creates the PENDING record. On failure it writes the error response and
// returns ok=false.
func (h *AnalysisHandler) acceptUpload(c *gin.Context) (rec *analysis.Record, artifactPath string, ok bool) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "a PDF file upload is required",
		})
		return nil, "", false
	}

	if !strings.EqualFold(filepath.Ext(file.Filename), ".pdf") {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "only PDF documents are supported",
		})
		return nil, "", false
	}

	maxBytes := h.maxUploadMB * 1024 * 1024
	if file.Size > maxBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"error": fmt.Sprintf("file exceeds the %dMB upload limit", h.maxUploadMB),
		})
		return nil, "", false
	}

	query := strings.TrimSpace(c.PostForm("query"))
	if query == "" {
		query = h.defaultQuery
	}

	analysisID := uuid.New().String()
	artifactPath = filepath.Join(h.dataDir, fmt.Sprintf("financial_document_%s.pdf", analysisID))

	if err := h.saveUpload(c, file, artifactPath); err != nil {
		h.logger.Error("Failed to save uploaded document",
			slog.String("analysis_id", analysisID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to store uploaded document",
		})
		return nil, "", false
	}

	rec = &analysis.Record{
		ID:         analysisID,
		SourceName: filepath.Base(file.Filename),
		Query:      query,
		Status:     analysis.StatusPending,
		CreatedAt:  time.Now().UTC(),
	}

	if err := h.storage.Create(c.Request.Context(), rec); err != nil {
		h.logger.Error("Failed to create analysis record",
			slog.String("analysis_id", analysisID),
			slog.String("error", err.Error()),
		)
		h.removeArtifact(artifactPath)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to create analysis",
		})
		return nil, "", false
	}

	h.logger.Info("Analysis created",
		slog.String("analysis_id", analysisID),
		slog.String("source_name", rec.SourceName),
	)

	return rec, artifactPath, true
}

func (h *AnalysisHandler) saveUpload(c *gin.Context, file *multipart.FileHeader, path string) error {
	if err := os.MkdirAll(h.dataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	return c.SaveUploadedFile(file, path)
}

// failEnqueue marks the record FAILED and removes the artifact when the
// request never reached the queue: nothing will pick it up, so leaving it
// PENDING would strand it forever.
func (h *AnalysisHandler) failEnqueue(c *gin.Context, analysisID, artifactPath string, err error) {
	h.logger.Error("Failed to enqueue analysis request",
		slog.String("analysis_id", analysisID),
		slog.String("error", err.Error()),
	)

	if markErr := h.storage.MarkFailed(c.Request.Context(), analysisID, "failed to enqueue analysis request", time.Now().UTC()); markErr != nil {
		h.logger.Error("Failed to mark analysis failed",
			slog.String("analysis_id", analysisID),
			slog.String("error", markErr.Error()),
		)
	}
	h.removeArtifact(artifactPath)

	c.JSON(http.StatusInternalServerError, gin.H{
		"error": "failed to enqueue analysis",
	})
}

func (h *AnalysisHandler) removeArtifact(path string) {
	if err := os.Remove(path); err != nil {
		h.logger.Warn("Failed to remove artifact",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
}
