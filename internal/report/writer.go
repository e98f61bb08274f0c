// Package report persists completed analysis reports as formatted text
// files alongside the database record.
package report

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const maxNameLen = 50

// Writer writes one text file per completed analysis into OutDir.
type Writer struct {
	outDir string
	logger *slog.Logger
}

// NewWriter creates a report writer rooted at outDir.
func NewWriter(outDir string, logger *slog.Logger) *Writer {
	return &Writer{outDir: outDir, logger: logger}
}

// Write saves the report under "<sanitized-source>_<id-prefix>.txt" and
// returns the written path. The file carries a small header block so a
// report is self-describing outside the database.
func (w *Writer) Write(analysisID, sourceName, query, result string) (string, error) {
	if err := os.MkdirAll(w.outDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	path := filepath.Join(w.outDir, fmt.Sprintf("%s_%s.txt", sanitizeName(sourceName), idPrefix(analysisID)))

	var sb strings.Builder
	sb.WriteString("Financial Document Analysis Report\n")
	sb.WriteString("Analysis ID : " + analysisID + "\n")
	sb.WriteString("Source File : " + sourceName + "\n")
	sb.WriteString("Query       : " + query + "\n")
	sb.WriteString("Generated   : " + time.Now().UTC().Format(time.RFC3339) + "\n")
	sb.WriteString("\n\n")
	sb.WriteString(result)

	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		return "", fmt.Errorf("failed to write report file: %w", err)
	}

	w.logger.Info("Report saved",
		slog.String("analysis_id", analysisID),
		slog.String("path", path),
	)

	return path, nil
}

// sanitizeName strips the extension, replaces spaces, and caps length so
// arbitrary upload names produce safe, short file names.
func sanitizeName(sourceName string) string {
	base := filepath.Base(sourceName)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = strings.ReplaceAll(base, " ", "_")
	if base == "" {
		base = "document"
	}
	if len(base) > maxNameLen {
		base = base[:maxNameLen]
	}
	return base
}

func idPrefix(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
