// Package signals provides stateless text-analysis helpers consumed by the
// pipeline stages. Both extractors are deterministic, side-effect-free, and
// operate only on the text passed in.
package signals

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	moneyPattern   = regexp.MustCompile(`(?i)\$[\d,]+\.?\d*\s*(?:million|billion|M|B|K)?`)
	percentPattern = regexp.MustCompile(`[\d]+\.?\d*\s*%`)
)

var metricKeywords = []string{
	"revenue", "net income", "gross profit", "operating income",
	"ebitda", "eps", "earnings per share", "free cash flow",
	"operating cash flow", "total assets", "total liabilities",
	"shareholders equity", "debt", "margin", "growth",
	"year-over-year", "quarter", "guidance", "outlook",
	"dividend", "buyback", "repurchase",
}

const (
	maxAmounts        = 20
	maxPercentages    = 15
	maxMetricSections = 10
	sectionSnippetLen = 600
)

// ExtractFinancialFigures scans document text for monetary and percentage
// figures and for paragraphs that combine metric keywords with at least one
// figure. The returned summary is fed into the investment recommendation
// stage so its reasoning is grounded in actual numbers.
func ExtractFinancialFigures(text string) string {
	if strings.TrimSpace(text) == "" {
		return "No financial data provided for analysis."
	}

	paragraphs := splitParagraphs(text, 30)

	out := []string{"=== Financial Metrics Extraction ===", ""}

	if amounts := moneyPattern.FindAllString(text, -1); len(amounts) > 0 {
		out = append(out, fmt.Sprintf("Monetary figures found (%d total):", len(amounts)))
		for _, amt := range dedupe(amounts, maxAmounts) {
			out = append(out, "  - "+strings.TrimSpace(amt))
		}
		out = append(out, "")
	}

	if pcts := percentPattern.FindAllString(text, -1); len(pcts) > 0 {
		out = append(out, fmt.Sprintf("Percentage figures found (%d total):", len(pcts)))
		for _, pct := range dedupe(pcts, maxPercentages) {
			out = append(out, "  - "+strings.TrimSpace(pct))
		}
		out = append(out, "")
	}

	type section struct {
		snippet  string
		keywords []string
	}
	var sections []section
	for _, para := range paragraphs {
		lower := strings.ToLower(para)
		var matched []string
		for _, kw := range metricKeywords {
			if strings.Contains(lower, kw) {
				matched = append(matched, kw)
			}
		}
		if len(matched) > 0 && (moneyPattern.MatchString(para) || percentPattern.MatchString(para)) {
			sections = append(sections, section{snippet: truncate(para, sectionSnippetLen), keywords: matched})
		}
	}

	if len(sections) > 0 {
		out = append(out, fmt.Sprintf("Key financial sections (%d found):", len(sections)))
		for i, s := range sections {
			if i >= maxMetricSections {
				break
			}
			out = append(out, "  Keywords: "+strings.Join(s.keywords, ", "))
			out = append(out, fmt.Sprintf("  Text: %q", s.snippet))
			out = append(out, "")
		}
	}

	if len(out) <= 2 {
		out = append(out,
			"No structured financial figures detected.",
			"Review the full document text directly.",
		)
	}

	return strings.Join(out, "\n")
}

// splitParagraphs partitions text on blank lines; when that yields too few
// paragraphs (single-column PDFs often collapse to one block), it falls back
// to line splitting, keeping lines longer than minLineLen.
func splitParagraphs(text string, minLineLen int) []string {
	var paragraphs []string
	for _, p := range strings.Split(text, "\n\n") {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			paragraphs = append(paragraphs, trimmed)
		}
	}
	if len(paragraphs) >= 5 {
		return paragraphs
	}

	paragraphs = paragraphs[:0]
	for _, line := range strings.Split(text, "\n") {
		if trimmed := strings.TrimSpace(line); len(trimmed) > minLineLen {
			paragraphs = append(paragraphs, trimmed)
		}
	}
	return paragraphs
}

// dedupe returns up to limit entries, preserving first-seen order.
func dedupe(values []string, limit int) []string {
	seen := make(map[string]struct{}, len(values))
	var unique []string
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		unique = append(unique, v)
		if len(unique) == limit {
			break
		}
	}
	return unique
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
