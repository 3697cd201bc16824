package tools

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"

	"github.com/sells-group/research-agent/internal/cost"
	"github.com/sells-group/research-agent/internal/model"
)

const (
	fetchMaxBytes = 1 << 20
	fetchMaxChars = 8000
	fetchUA       = "Mozilla/5.0 (compatible; research-agent/1.0)"
)

// FetchPage downloads a web page and extracts its readable text.
type FetchPage struct {
	http     *http.Client
	maxChars int
}

// NewFetchPage creates the fetch_page tool. hc may be nil.
func NewFetchPage(hc *http.Client) *FetchPage {
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &FetchPage{http: hc, maxChars: fetchMaxChars}
}

// Name implements Tool.
func (f *FetchPage) Name() string { return cost.ToolFetchPage }

// Description implements Tool.
func (f *FetchPage) Description() string {
	return "Read the main text of a web page. The query must be a full http(s) URL."
}

// Execute implements Tool. Site-side failures are soft errors: the page is
// unavailable, not the tool.
func (f *FetchPage) Execute(ctx context.Context, query string) (model.ToolResult, error) {
	target := strings.TrimSpace(query)
	u, err := url.Parse(target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errorResult(fmt.Sprintf("fetch_page needs a full http(s) URL, got %q", target)), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return errorResult("invalid URL: " + err.Error()), nil
	}
	req.Header.Set("User-Agent", fetchUA)

	resp, err := f.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return model.ToolResult{}, ctx.Err()
		}
		return errorResult("could not reach " + u.Host), nil
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, fetchMaxBytes))
	if err != nil {
		return errorResult("could not read page body"), nil
	}
	if reason := blockReason(resp, body); reason != "" {
		return errorResult(fmt.Sprintf("%s is behind a %s wall; use search instead", u.Host, reason)), nil
	}
	if resp.StatusCode >= 400 {
		return errorResult(fmt.Sprintf("page returned status %d", resp.StatusCode)), nil
	}

	article, err := readability.FromReader(bytes.NewReader(body), u)
	if err != nil || strings.TrimSpace(article.TextContent) == "" {
		return errorResult("no readable text found on the page"), nil
	}

	text := collapseBlankLines(strings.TrimSpace(article.TextContent))
	if len(text) > f.maxChars {
		text = truncate(text, f.maxChars) + "\n(truncated)"
	}
	if article.Title != "" {
		text = article.Title + "\n\n" + text
	}

	return model.ToolResult{Content: text, Links: []string{target}}, nil
}

func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l == "" {
			if !blank {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, l)
	}
	return strings.Join(out, "\n")
}
