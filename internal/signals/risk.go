package signals

import (
	"fmt"
	"strings"
)

// riskCategory pairs a named risk bucket with the keywords that place a
// paragraph inside it. Order is fixed so output stays deterministic.
type riskCategory struct {
	Name     string
	Keywords []string
}

var riskCategories = []riskCategory{
	{
		Name: "Credit & Debt Risk",
		Keywords: []string{
			"debt", "default", "credit", "leverage", "borrowing",
			"interest expense", "covenant", "downgrade",
		},
	},
	{
		Name: "Market & Volatility Risk",
		Keywords: []string{
			"volatility", "market risk", "currency", "exchange rate",
			"interest rate", "commodity", "inflation",
		},
	},
	{
		Name: "Legal & Regulatory Risk",
		Keywords: []string{
			"litigation", "regulatory", "compliance", "lawsuit",
			"investigation", "penalty", "sanction", "sec",
		},
	},
	{
		Name: "Operational Risk",
		Keywords: []string{
			"restructuring", "impairment", "write-off", "supply chain",
			"cybersecurity", "disruption", "workforce",
		},
	},
	{
		Name: "Financial Health Concerns",
		Keywords: []string{
			"decline", "loss", "adverse", "uncertainty", "contingent",
			"liability", "going concern", "liquidity risk",
		},
	},
}

const (
	maxSectionsPerCategory = 5
	riskSnippetLen         = 500
)

// AssessRiskFactors partitions document text into paragraphs and groups the
// ones containing risk-indicator keywords under a fixed set of named risk
// categories. The result primes the risk assessment stage.
func AssessRiskFactors(text string) string {
	if strings.TrimSpace(text) == "" {
		return "No financial data provided for risk assessment."
	}

	paragraphs := splitParagraphs(text, 50)

	out := []string{"=== Risk-Relevant Sections Extracted for Analysis ===\n"}
	totalExtracts := 0

	for _, category := range riskCategories {
		type match struct {
			snippet string
			terms   []string
		}
		var relevant []match
		for _, para := range paragraphs {
			lower := strings.ToLower(para)
			var terms []string
			for _, kw := range category.Keywords {
				if strings.Contains(lower, kw) {
					terms = append(terms, kw)
				}
			}
			if len(terms) > 0 {
				relevant = append(relevant, match{snippet: truncate(para, riskSnippetLen), terms: terms})
			}
		}

		if len(relevant) == 0 {
			continue
		}

		out = append(out, fmt.Sprintf("\n-- %s (%d section(s)) --", category.Name, len(relevant)))
		for i, m := range relevant {
			if i >= maxSectionsPerCategory {
				break
			}
			out = append(out, "  Indicators: "+strings.Join(m.terms, ", "))
			out = append(out, fmt.Sprintf("  Text: %q", m.snippet))
			out = append(out, "")
		}
		totalExtracts += len(relevant)
	}

	if totalExtracts == 0 {
		out = append(out,
			"No explicit risk-related sections detected in the document.",
			"Review the full document for implicit risks.",
		)
	} else {
		out = append(out, fmt.Sprintf("\nTotal: %d risk-relevant sections found across %d categories.", totalExtracts, len(riskCategories)))
	}

	return strings.Join(out, "\n")
}
