package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDFExtractor reads a PDF artifact and returns its pages concatenated in
// order as a single text blob.
type PDFExtractor struct {
	logger *slog.Logger
}

// NewPDFExtractor creates a PDF content extractor.
func NewPDFExtractor(logger *slog.Logger) *PDFExtractor {
	return &PDFExtractor{logger: logger}
}

// Extract reads the artifact fully and produces its text representation.
// The artifact is only read, never mutated.
func (e *PDFExtractor) Extract(ctx context.Context, path string) (string, error) {
	if ext := strings.ToLower(filepath.Ext(path)); ext != ".pdf" {
		return "", &ExtractionError{Path: path, Err: fmt.Errorf("unsupported artifact format %q", ext)}
	}

	if _, err := os.Stat(path); err != nil {
		return "", &ExtractionError{Path: path, Err: err}
	}

	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", &ExtractionError{Path: path, Err: fmt.Errorf("failed to open PDF: %w", err)}
	}
	defer f.Close()

	var sb strings.Builder
	pageCount := reader.NumPage()
	for i := 1; i <= pageCount; i++ {
		if err := ctx.Err(); err != nil {
			return "", &ExtractionError{Path: path, Err: err}
		}

		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			return "", &ExtractionError{Path: path, Err: fmt.Errorf("failed to read page %d: %w", i, err)}
		}
		sb.WriteString(collapseBlankRuns(text))
		sb.WriteString("\n")
	}

	content := strings.TrimSpace(sb.String())
	if content == "" {
		return "", &ExtractionError{Path: path, Err: errors.New("document contains no extractable text")}
	}

	e.logger.Info("Artifact extracted",
		slog.String("path", path),
		slog.Int("pages", pageCount),
		slog.Int("chars", len(content)),
	)

	return content, nil
}

// collapseBlankRuns squeezes runs of three or more newlines down to two so
// paragraph splitting downstream stays stable across PDF producers.
func collapseBlankRuns(text string) string {
	for strings.Contains(text, "\n\n\n") {
		text = strings.ReplaceAll(text, "\n\n\n", "\n\n")
	}
	return text
}
