package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/sells-group/research-agent/internal/cost"
	"github.com/sells-group/research-agent/internal/model"
	"github.com/sells-group/research-agent/pkg/perplexity"
)

const searchSystemPrompt = `You are a web research assistant. Answer the query with specific facts from current web sources. Name people, companies and dates exactly as the sources give them. If the sources do not answer the query, say so.`

// Search answers a query with Perplexity's online models and appends the
// cited sources.
type Search struct {
	client perplexity.Client
	calc   *cost.Calculator
	model  string
}

// NewSearch creates the search tool. model may be empty to use the client
// default.
func NewSearch(client perplexity.Client, calc *cost.Calculator, model string) *Search {
	return &Search{client: client, calc: calc, model: model}
}

// Name implements Tool.
func (s *Search) Name() string { return cost.ToolSearch }

// Description implements Tool.
func (s *Search) Description() string {
	return "Search the web and get a summarized answer with numbered sources. Best for questions about ownership, leadership and company history."
}

// Execute implements Tool.
func (s *Search) Execute(ctx context.Context, query string) (model.ToolResult, error) {
	resp, err := s.client.ChatCompletion(ctx, perplexity.ChatCompletionRequest{
		Model: s.model,
		Messages: []perplexity.Message{
			{Role: "system", Content: searchSystemPrompt},
			{Role: "user", Content: query},
		},
	})
	if err != nil {
		return model.ToolResult{}, classify("perplexity", err)
	}

	links := resp.Links()
	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(resp.Content()))
	if len(links) > 0 {
		sb.WriteString("\n\nSources:\n")
		for i, l := range links {
			sb.WriteString(fmt.Sprintf("%d. %s\n", i+1, l))
		}
	}

	return model.ToolResult{
		Content: strings.TrimSpace(sb.String()),
		Links:   links,
		Cost:    s.calc.Tool(cost.ToolSearch, resp.Usage.PromptTokens, resp.Usage.CompletionTokens),
	}, nil
}
