package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

// fakeModel returns canned responses per call and records every prompt.
type fakeModel struct {
	prompts  []string
	response string
	failOn   int // 1-based call index that fails; 0 means never
	calls    int
}

func (f *fakeModel) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	f.calls++

	var prompt string
	for _, msg := range messages {
		for _, part := range msg.Parts {
			if text, ok := part.(llms.TextContent); ok {
				prompt += text.Text
			}
		}
	}
	f.prompts = append(f.prompts, prompt)

	if f.failOn != 0 && f.calls == f.failOn {
		return nil, errors.New("model unavailable")
	}
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: f.response}},
	}, nil
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	resp, err := f.GenerateContent(ctx, []llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, prompt)}, options...)
	if err != nil {
		return "", err
	}
	return resp.Choices[0].Content, nil
}

func newTestPipeline(model llms.Model) *LLMPipeline {
	return &LLMPipeline{
		llm:    model,
		logger: slog.New(slog.DiscardHandler),
	}
}

func TestLLMPipeline_Analyze(t *testing.T) {
	model := &fakeModel{response: "stage output"}
	p := newTestPipeline(model)

	report, err := p.Analyze(context.Background(), "How is revenue trending?", "Revenue was $10 million, up 5%.")

	require.NoError(t, err)
	assert.Equal(t, len(stages), model.calls)

	// Every stage sees the same pre-extracted text; none re-extracts.
	for _, prompt := range model.prompts {
		assert.Contains(t, prompt, "--- START OF DOCUMENT ---")
		assert.Contains(t, prompt, "Revenue was $10 million")
	}

	// The query reaches the stages that take it.
	assert.Contains(t, model.prompts[1], "How is revenue trending?")

	// The report assembles all stage sections in order.
	assert.Contains(t, report, "## Document Verification")
	assert.Contains(t, report, "## Financial Analysis")
	assert.Contains(t, report, "## Risk Assessment")
	assert.Contains(t, report, "## Investment Recommendation")
}

func TestLLMPipeline_Analyze_StageFailureAborts(t *testing.T) {
	tests := []struct {
		name      string
		failOn    int
		wantStage string
		wantCalls int
	}{
		{
			name:      "first stage fails",
			failOn:    1,
			wantStage: "verification",
			wantCalls: 1,
		},
		{
			name:      "third stage fails",
			failOn:    3,
			wantStage: "risk_assessment",
			wantCalls: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model := &fakeModel{response: "ok", failOn: tt.failOn}
			p := newTestPipeline(model)

			report, err := p.Analyze(context.Background(), "q", "content")

			require.Error(t, err)
			assert.Empty(t, report)
			assert.Equal(t, tt.wantCalls, model.calls)

			var pipelineErr *Error
			require.ErrorAs(t, err, &pipelineErr)
			assert.Equal(t, tt.wantStage, pipelineErr.Stage)
		})
	}
}

func TestLLMPipeline_Analyze_SignalsReachPrompts(t *testing.T) {
	model := &fakeModel{response: "ok"}
	p := newTestPipeline(model)

	content := "Total debt increased materially due to new borrowing under the revolving credit facility.\n\nRevenue was $5 million."
	_, err := p.Analyze(context.Background(), "q", content)

	require.NoError(t, err)
	// Risk stage prompt carries the grouped risk sections.
	assert.Contains(t, model.prompts[2], "Credit & Debt Risk")
	// Investment stage prompt carries the extracted figures.
	assert.Contains(t, model.prompts[3], "$5 million")
	assert.Contains(t, model.prompts[3], "Financial Metrics Extraction")
}
