package llm

import (
	"context"

	"github.com/sells-group/research-agent/internal/cost"
	"github.com/sells-group/research-agent/internal/model"
	"github.com/sells-group/research-agent/pkg/anthropic"
)

const defaultMaxTokens = 2048

// Anthropic adapts an anthropic.Client to Model.
type Anthropic struct {
	client   anthropic.Client
	model    string
	cacheTTL string
}

// NewAnthropic creates a Claude-backed model. cacheTTL ("5m" or "1h") sets
// the prompt-cache breakpoint on the system prompt; empty disables caching.
func NewAnthropic(client anthropic.Client, modelName, cacheTTL string) *Anthropic {
	return &Anthropic{client: client, model: modelName, cacheTTL: cacheTTL}
}

// Provider implements Model.
func (a *Anthropic) Provider() string { return cost.ProviderAnthropic }

// Name implements Model.
func (a *Anthropic) Name() string { return a.model }

// Complete implements Model.
func (a *Anthropic) Complete(ctx context.Context, req Request) (*Response, error) {
	if len(req.Turns) == 0 {
		return nil, ErrEmptyTranscript
	}

	msgReq := anthropic.MessageRequest{
		Model:       a.model,
		MaxTokens:   int64(maxTokens(req.MaxTokens)),
		Messages:    make([]anthropic.Message, 0, len(req.Turns)),
		Temperature: req.Temperature,
	}
	if req.System != "" {
		if a.cacheTTL != "" {
			msgReq.System = anthropic.BuildCachedSystemBlocks(req.System, a.cacheTTL)
		} else {
			msgReq.System = []anthropic.SystemBlock{{Text: req.System}}
		}
	}
	for _, t := range req.Turns {
		msgReq.Messages = append(msgReq.Messages, anthropic.Message{Role: string(t.Role), Content: t.Content})
	}

	resp, err := a.client.CreateMessage(ctx, msgReq)
	if err != nil {
		return nil, classify("anthropic", anthropic.StatusCode(err), err)
	}

	return &Response{
		Text:       resp.Text(),
		StopReason: resp.StopReason,
		Model:      resp.Model,
		Usage: model.TokenUsage{
			InputTokens:         int(resp.Usage.InputTokens),
			OutputTokens:        int(resp.Usage.OutputTokens),
			CacheCreationTokens: int(resp.Usage.CacheCreationInputTokens),
			CacheReadTokens:     int(resp.Usage.CacheReadInputTokens),
			ModelCalls:          1,
		},
	}, nil
}

func maxTokens(n int) int {
	if n <= 0 {
		return defaultMaxTokens
	}
	return n
}
