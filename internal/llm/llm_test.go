package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/research-agent/internal/cost"
	"github.com/sells-group/research-agent/internal/model"
	"github.com/sells-group/research-agent/internal/resilience"
	"github.com/sells-group/research-agent/pkg/anthropic"
	anthropicmocks "github.com/sells-group/research-agent/pkg/anthropic/mocks"
	"github.com/sells-group/research-agent/pkg/gemini"
	geminimocks "github.com/sells-group/research-agent/pkg/gemini/mocks"
)

var transcript = []model.Turn{
	{Role: model.RoleUser, Content: "Does Acme qualify?"},
	{Role: model.RoleAssistant, Content: `<tool name="search">acme owner</tool>`},
	{Role: model.RoleUser, Content: "Here are the results"},
}

func TestAnthropic_Complete(t *testing.T) {
	client := anthropicmocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return req.Model == "claude-sonnet-4-5" &&
			req.MaxTokens == defaultMaxTokens &&
			len(req.Messages) == 3 &&
			req.Messages[1].Role == "assistant" &&
			len(req.System) == 1 && req.System[0].CacheControl != nil
	})).Return(&anthropic.MessageResponse{
		Model:      "claude-sonnet-4-5",
		StopReason: "end_turn",
		Content:    []anthropic.ContentBlock{{Type: "text", Text: "Final Answer: YES"}},
		Usage:      anthropic.TokenUsage{InputTokens: 100, OutputTokens: 20, CacheReadInputTokens: 50},
	}, nil)

	m := NewAnthropic(client, "claude-sonnet-4-5", "5m")
	assert.Equal(t, cost.ProviderAnthropic, m.Provider())
	assert.Equal(t, "claude-sonnet-4-5", m.Name())

	resp, err := m.Complete(context.Background(), Request{System: "sys", Turns: transcript})
	require.NoError(t, err)
	assert.Equal(t, "Final Answer: YES", resp.Text)
	assert.Equal(t, model.TokenUsage{InputTokens: 100, OutputTokens: 20, CacheReadTokens: 50, ModelCalls: 1}, resp.Usage)
}

func TestAnthropic_EmptyTranscript(t *testing.T) {
	m := NewAnthropic(anthropicmocks.NewMockClient(t), "claude-sonnet-4-5", "")
	_, err := m.Complete(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrEmptyTranscript)
}

func TestAnthropic_FatalError(t *testing.T) {
	client := anthropicmocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(nil, errors.New("anthropic: create message: 400 Bad Request: Your credit balance is too low"))

	_, err := NewAnthropic(client, "claude-sonnet-4-5", "").Complete(context.Background(), Request{Turns: transcript})
	require.Error(t, err)
	assert.True(t, resilience.IsFatalProvider(err))
	assert.False(t, resilience.IsTransient(err))
}

func TestGemini_Complete(t *testing.T) {
	client := geminimocks.NewMockClient(t)
	temp := 0.2
	client.On("Generate", mock.Anything, mock.MatchedBy(func(req gemini.Request) bool {
		return req.Model == "gemini-2.5-flash" &&
			req.System == "sys" &&
			len(req.Messages) == 3 &&
			req.Temperature != nil && *req.Temperature == float32(0.2)
	})).Return(&gemini.Response{
		Model: "gemini-2.5-flash",
		Text:  "Final Answer: NO",
		Usage: gemini.Usage{PromptTokens: 300, CandidatesTokens: 12},
	}, nil)

	m := NewGemini(client, "gemini-2.5-flash")
	assert.Equal(t, cost.ProviderGemini, m.Provider())

	resp, err := m.Complete(context.Background(), Request{System: "sys", Turns: transcript, Temperature: &temp})
	require.NoError(t, err)
	assert.Equal(t, "Final Answer: NO", resp.Text)
	assert.Equal(t, 300, resp.Usage.InputTokens)
	assert.Equal(t, 1, resp.Usage.ModelCalls)
}

func TestClassify(t *testing.T) {
	base := errors.New("boom")

	err := classify("anthropic", 401, base)
	assert.True(t, resilience.IsFatalProvider(err))

	err = classify("anthropic", 529, errors.New("overloaded_error"))
	assert.True(t, resilience.IsTransient(err))

	err = classify("gemini", 429, errors.New("RESOURCE_EXHAUSTED: quota exceeded"))
	assert.True(t, resilience.IsFatalProvider(err))

	err = classify("gemini", 400, base)
	assert.False(t, resilience.IsFatalProvider(err))
	assert.False(t, resilience.IsTransient(err))
}
