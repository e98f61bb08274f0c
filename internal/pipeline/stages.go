package pipeline

import (
	"fmt"
	"strings"

	"github.com/finsight/docanalyzer/internal/signals"
)

// stage is one specialist step of the analysis sequence. Prompt builds the
// full instruction for the model from the user query and the document text
// that was extracted once upstream.
type stage struct {
	Name   string
	Title  string
	Prompt func(query, content string) string
}

var stages = []stage{
	{
		Name:  "verification",
		Title: "Document Verification",
		Prompt: func(query, content string) string {
			return join(
				"You are a financial document verification specialist with a decade of",
				"compliance experience. Verify the document below.",
				"",
				"1. Check whether it contains standard financial statement components",
				"   (income statement, balance sheet, cash-flow statement, notes).",
				"2. Flag structural issues, missing sections, or signs that this is not",
				"   a legitimate financial document.",
				"3. Identify the document type (10-K, 10-Q, annual report, earnings release).",
				"4. Conclude with a PASS or FAIL verdict and reasoning.",
				"",
				documentBlock(content),
			)
		},
	},
	{
		Name:  "financial_analysis",
		Title: "Financial Analysis",
		Prompt: func(query, content string) string {
			return join(
				"You are a senior financial analyst. Perform a comprehensive analysis",
				"in response to the user's query: "+query,
				"",
				"1. Extract and analyze key metrics: revenue, net income, operating",
				"   margins, EPS, debt levels, cash-flow figures.",
				"2. Identify year-over-year or quarter-over-quarter trends.",
				"3. Answer the user's specific query with figures cited from the document,",
				"   clearly separating facts from interpretation.",
				"",
				documentBlock(content),
			)
		},
	},
	{
		Name:  "risk_assessment",
		Title: "Risk Assessment",
		Prompt: func(query, content string) string {
			return join(
				"You are a financial risk assessment analyst. Conduct a thorough risk",
				"assessment of the document below. User context: "+query,
				"",
				"1. Evaluate credit, market, liquidity, and operational risk.",
				"2. Rate each category Low / Medium / High with supporting data.",
				"3. Ground your ratings in measurable indicators (debt-to-equity,",
				"   current ratio, interest coverage).",
				"",
				"Pre-extracted risk indicators:",
				signals.AssessRiskFactors(content),
				"",
				documentBlock(content),
			)
		},
	},
	{
		Name:  "investment_recommendation",
		Title: "Investment Recommendation",
		Prompt: func(query, content string) string {
			return join(
				"You are a certified investment advisor. Based on the document below,",
				"provide a well-reasoned recommendation. User query: "+query,
				"",
				"1. Formulate a clear investment thesis (Buy / Hold / Sell or equivalent).",
				"2. Cover valuation, growth prospects, bull and bear cases.",
				"3. Include risk disclaimers; note this is AI-generated analysis,",
				"   not personalized financial advice.",
				"",
				"Pre-extracted financial figures:",
				signals.ExtractFinancialFigures(content),
				"",
				documentBlock(content),
			)
		},
	},
}

func documentBlock(content string) string {
	return fmt.Sprintf("--- START OF DOCUMENT ---\n%s\n--- END OF DOCUMENT ---", content)
}

func join(lines ...string) string {
	return strings.Join(lines, "\n")
}
