package llm

import (
	"context"

	"github.com/sells-group/research-agent/internal/cost"
	"github.com/sells-group/research-agent/internal/model"
	"github.com/sells-group/research-agent/pkg/gemini"
)

// Gemini adapts a gemini.Client to Model.
type Gemini struct {
	client gemini.Client
	model  string
}

// NewGemini creates a Gemini-backed model.
func NewGemini(client gemini.Client, modelName string) *Gemini {
	return &Gemini{client: client, model: modelName}
}

// Provider implements Model.
func (g *Gemini) Provider() string { return cost.ProviderGemini }

// Name implements Model.
func (g *Gemini) Name() string { return g.model }

// Complete implements Model.
func (g *Gemini) Complete(ctx context.Context, req Request) (*Response, error) {
	if len(req.Turns) == 0 {
		return nil, ErrEmptyTranscript
	}

	genReq := gemini.Request{
		Model:     g.model,
		System:    req.System,
		Messages:  make([]gemini.Message, 0, len(req.Turns)),
		MaxTokens: int32(maxTokens(req.MaxTokens)),
	}
	if req.Temperature != nil {
		t := float32(*req.Temperature)
		genReq.Temperature = &t
	}
	for _, t := range req.Turns {
		genReq.Messages = append(genReq.Messages, gemini.Message{Role: string(t.Role), Content: t.Content})
	}

	resp, err := g.client.Generate(ctx, genReq)
	if err != nil {
		return nil, classify("gemini", gemini.StatusCode(err), err)
	}

	return &Response{
		Text:       resp.Text,
		StopReason: resp.FinishReason,
		Model:      resp.Model,
		Usage: model.TokenUsage{
			InputTokens:     int(resp.Usage.PromptTokens),
			OutputTokens:    int(resp.Usage.CandidatesTokens),
			CacheReadTokens: int(resp.Usage.CachedTokens),
			ModelCalls:      1,
		},
	}, nil
}
