package tools

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/sells-group/research-agent/internal/cost"
	"github.com/sells-group/research-agent/internal/model"
	"github.com/sells-group/research-agent/pkg/jina"
)

const (
	jinaMaxResults = 5
	jinaSnippetLen = 500
)

// JinaSearch lists raw web results for a query.
type JinaSearch struct {
	client jina.Client
	calc   *cost.Calculator
}

// NewJinaSearch creates the jina_search tool.
func NewJinaSearch(client jina.Client, calc *cost.Calculator) *JinaSearch {
	return &JinaSearch{client: client, calc: calc}
}

// Name implements Tool.
func (j *JinaSearch) Name() string { return cost.ToolJinaSearch }

// Description implements Tool.
func (j *JinaSearch) Description() string {
	return "List the top web results (title, URL, snippet) for a query. Use it to find pages worth reading with fetch_page."
}

// Execute implements Tool.
func (j *JinaSearch) Execute(ctx context.Context, query string) (model.ToolResult, error) {
	resp, err := j.client.Search(ctx, query)
	if err != nil {
		return model.ToolResult{}, classify("jina", err)
	}

	res := model.ToolResult{Cost: j.calc.Tool(cost.ToolJinaSearch, resp.Meta.Usage.Tokens, 0)}
	if len(resp.Data) == 0 {
		res.Content = "No results found."
		return res, nil
	}

	var sb strings.Builder
	for i, r := range resp.Data {
		if i == jinaMaxResults {
			break
		}
		snippet := r.Description
		if snippet == "" {
			snippet = r.Content
		}
		sb.WriteString(fmt.Sprintf("%d. %s\n%s\n%s\n\n", i+1, r.Title, r.URL, truncate(strings.TrimSpace(snippet), jinaSnippetLen)))
		res.Links = append(res.Links, r.URL)
	}
	res.Content = strings.TrimSpace(sb.String())
	return res, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := s[:n]
	for !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut + "..."
}
