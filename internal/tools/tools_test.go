package tools

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/research-agent/internal/control"
	"github.com/sells-group/research-agent/internal/cost"
	"github.com/sells-group/research-agent/internal/model"
	"github.com/sells-group/research-agent/internal/resilience"
	"github.com/sells-group/research-agent/pkg/jina"
	jinamocks "github.com/sells-group/research-agent/pkg/jina/mocks"
	"github.com/sells-group/research-agent/pkg/perplexity"
	pplxmocks "github.com/sells-group/research-agent/pkg/perplexity/mocks"
)

type stubTool struct {
	name  string
	calls atomic.Int32
	fn    func(query string) (model.ToolResult, error)
}

func (s *stubTool) Name() string        { return s.name }
func (s *stubTool) Description() string { return "stub " + s.name }
func (s *stubTool) Execute(_ context.Context, query string) (model.ToolResult, error) {
	s.calls.Add(1)
	return s.fn(query)
}

func okTool(name string) *stubTool {
	return &stubTool{name: name, fn: func(q string) (model.ToolResult, error) {
		return model.ToolResult{Content: "answer for " + q, Cost: 0.01}, nil
	}}
}

func fastExecutor(t *testing.T, ctl *control.Control, tools ...Tool) *Executor {
	t.Helper()
	reg, err := NewRegistry(tools...)
	require.NoError(t, err)
	return NewExecutor(reg, ctl, ExecutorConfig{
		RateLimit: 1000,
		Retry: resilience.RetryConfig{
			MaxAttempts:    2,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     time.Millisecond,
		},
	})
}

func testCalc() *cost.Calculator {
	return cost.NewCalculator(cost.Rates{
		Jina:       cost.JinaRate{PerMTok: 0.02, PerSearch: 0.01},
		Perplexity: cost.PerplexityRate{PerQuery: 0.005, InputPerMTok: 3, OutputPerMTok: 15},
	})
}

func TestRegistry(t *testing.T) {
	reg, err := NewRegistry(okTool("search"), okTool("fetch_page"))
	require.NoError(t, err)

	assert.Equal(t, 2, reg.Len())
	assert.Equal(t, []string{"search", "fetch_page"}, reg.Names())
	assert.Equal(t, []string{"fetch_page", "search"}, reg.SortedNames())

	specs := reg.Specs()
	require.Len(t, specs, 2)
	assert.Equal(t, "search", specs[0].Name)
	assert.Equal(t, "stub search", specs[0].Description)

	_, ok := reg.Get("missing")
	assert.False(t, ok)

	_, err = NewRegistry(okTool("search"), okTool("search"))
	assert.Error(t, err)
}

func TestCacheKey_Normalizes(t *testing.T) {
	assert.Equal(t, CacheKey("search", "Acme Plumbing  owner"), CacheKey("SEARCH", "  acme plumbing owner "))
	assert.NotEqual(t, CacheKey("search", "acme"), CacheKey("jina_search", "acme"))
}

func TestCache_TTL(t *testing.T) {
	now := time.Now()
	c := NewCache(time.Minute)
	c.now = func() time.Time { return now }

	c.Put("search", "q", model.ToolResult{Content: "a"})
	c.Put("search", "bad", model.ToolResult{IsError: true})

	got, ok := c.Get("search", "Q")
	require.True(t, ok)
	assert.Equal(t, "a", got.Content)

	_, ok = c.Get("search", "bad")
	assert.False(t, ok, "error results are never cached")

	now = now.Add(2 * time.Minute)
	_, ok = c.Get("search", "q")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestCache_Sweep(t *testing.T) {
	now := time.Now()
	c := NewCache(time.Minute)
	c.now = func() time.Time { return now }

	c.Put("search", "one", model.ToolResult{Content: "1"})
	now = now.Add(30 * time.Second)
	c.Put("search", "two", model.ToolResult{Content: "2"})
	now = now.Add(45 * time.Second)

	assert.Equal(t, 1, c.Sweep())
	assert.Equal(t, 1, c.Len())
}

func TestExecutor_CachesIdenticalQueries(t *testing.T) {
	tool := okTool("search")
	e := fastExecutor(t, nil, tool)

	first := e.Execute(context.Background(), "search", "Acme owner")
	second := e.Execute(context.Background(), "search", "  acme OWNER")

	assert.Equal(t, int32(1), tool.calls.Load())
	assert.False(t, first.Cached)
	assert.Equal(t, 0.01, first.Cost)
	assert.True(t, second.Cached)
	assert.Zero(t, second.Cost)
	assert.Equal(t, first.Content, second.Content)
}

func TestExecutor_RefetchesAfterTTL(t *testing.T) {
	tool := okTool("search")
	e := fastExecutor(t, nil, tool)
	now := time.Now()
	e.cache.now = func() time.Time { return now }

	e.Execute(context.Background(), "search", "q")
	now = now.Add(DefaultCacheTTL + time.Second)
	res := e.Execute(context.Background(), "search", "q")

	assert.Equal(t, int32(2), tool.calls.Load())
	assert.False(t, res.Cached)
}

func TestExecutor_UnknownTool(t *testing.T) {
	e := fastExecutor(t, nil, okTool("search"))
	res := e.Execute(context.Background(), "browse", "x")
	assert.True(t, res.IsError)
	assert.Contains(t, res.Error, `unknown tool "browse"`)
	assert.Contains(t, res.Content, "search")
}

func TestExecutor_ErrorsNotCached(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	tool := &stubTool{name: "search", fn: func(string) (model.ToolResult, error) {
		if fail.Load() {
			return model.ToolResult{}, errors.New("bad query")
		}
		return model.ToolResult{Content: "ok"}, nil
	}}
	e := fastExecutor(t, nil, tool)

	res := e.Execute(context.Background(), "search", "q")
	assert.True(t, res.IsError)
	assert.Equal(t, "search failed: bad query", res.Error)

	fail.Store(false)
	res = e.Execute(context.Background(), "search", "q")
	assert.False(t, res.IsError)
	assert.Equal(t, int32(2), tool.calls.Load())
}

func TestExecutor_SoftErrorPassesThrough(t *testing.T) {
	ctl := control.New()
	tool := &stubTool{name: "fetch_page", fn: func(string) (model.ToolResult, error) {
		return errorResult("page returned status 403"), nil
	}}
	e := fastExecutor(t, ctl, tool)

	res := e.Execute(context.Background(), "fetch_page", "https://example.com")
	assert.True(t, res.IsError)
	assert.False(t, res.Fatal)
	assert.NoError(t, ctl.Fatal())
	assert.Equal(t, 0, e.Cache().Len())
}

func TestExecutor_RetriesTransient(t *testing.T) {
	tool := &stubTool{name: "search"}
	tool.fn = func(string) (model.ToolResult, error) {
		if tool.calls.Load() == 1 {
			return model.ToolResult{}, resilience.NewTransientError(errors.New("overloaded"), 503)
		}
		return model.ToolResult{Content: "ok"}, nil
	}
	e := fastExecutor(t, nil, tool)

	res := e.Execute(context.Background(), "search", "q")
	assert.False(t, res.IsError)
	assert.Equal(t, int32(2), tool.calls.Load())
}

func TestExecutor_FatalLatches(t *testing.T) {
	ctl := control.New()
	search := &stubTool{name: "search", fn: func(string) (model.ToolResult, error) {
		return model.ToolResult{}, resilience.NewFatalError("perplexity", errors.New("401 unauthorized"))
	}}
	other := okTool("jina_search")
	e := fastExecutor(t, ctl, search, other)

	res := e.Execute(context.Background(), "search", "q")
	assert.True(t, res.Fatal)
	assert.True(t, res.IsError)
	assert.Equal(t, int32(1), search.calls.Load(), "fatal errors are not retried")
	require.Error(t, ctl.Fatal())
	assert.Equal(t, control.Fatal, ctl.Check(context.Background()))

	res = e.Execute(context.Background(), "jina_search", "q")
	assert.True(t, res.Fatal)
	assert.Zero(t, other.calls.Load(), "no provider calls after a fatal latch")
}

func TestExecutor_BreakerOpens(t *testing.T) {
	tool := &stubTool{name: "search", fn: func(string) (model.ToolResult, error) {
		return model.ToolResult{}, resilience.NewTransientError(errors.New("timeout"), 504)
	}}
	reg, err := NewRegistry(tool)
	require.NoError(t, err)
	e := NewExecutor(reg, nil, ExecutorConfig{
		RateLimit:        1000,
		Retry:            resilience.RetryConfig{MaxAttempts: 1},
		BreakerThreshold: 2,
		BreakerCooldown:  time.Hour,
	})

	e.Execute(context.Background(), "search", "a")
	e.Execute(context.Background(), "search", "b")
	res := e.Execute(context.Background(), "search", "c")

	assert.True(t, res.IsError)
	assert.Contains(t, res.Error, "temporarily unavailable")
	assert.Equal(t, int32(2), tool.calls.Load())
}

func TestSearch_Execute(t *testing.T) {
	client := pplxmocks.NewMockClient(t)
	client.On("ChatCompletion", mock.Anything, mock.MatchedBy(func(req perplexity.ChatCompletionRequest) bool {
		return len(req.Messages) == 2 && req.Messages[1].Content == "who owns acme"
	})).Return(&perplexity.ChatCompletionResponse{
		Choices:   []perplexity.Choice{{Message: perplexity.Message{Role: "assistant", Content: "Jane Doe owns Acme."}}},
		Citations: []string{"https://acme.com/about", "https://news.example/acme"},
		Usage:     perplexity.Usage{PromptTokens: 1000, CompletionTokens: 1000},
	}, nil)

	s := NewSearch(client, testCalc(), "")
	res, err := s.Execute(context.Background(), "who owns acme")
	require.NoError(t, err)

	assert.Equal(t, "search", s.Name())
	assert.Contains(t, res.Content, "Jane Doe owns Acme.")
	assert.Contains(t, res.Content, "Sources:\n1. https://acme.com/about\n2. https://news.example/acme")
	assert.Equal(t, []string{"https://acme.com/about", "https://news.example/acme"}, res.Links)
	assert.InDelta(t, 0.005+0.003+0.015, res.Cost, 1e-9)
}

func TestSearch_ClassifiesErrors(t *testing.T) {
	tests := []struct {
		status    int
		fatal     bool
		transient bool
	}{
		{401, true, false},
		{402, true, false},
		{429, false, true},
		{503, false, true},
		{400, false, false},
	}
	for _, tt := range tests {
		client := pplxmocks.NewMockClient(t)
		client.On("ChatCompletion", mock.Anything, mock.Anything).
			Return(nil, &perplexity.APIError{StatusCode: tt.status, Body: "{}"})

		_, err := NewSearch(client, testCalc(), "").Execute(context.Background(), "q")
		require.Error(t, err)
		assert.Equal(t, tt.fatal, resilience.IsFatalProvider(err), "status %d", tt.status)
		assert.Equal(t, tt.transient, resilience.IsTransient(err), "status %d", tt.status)
	}
}

func TestJinaSearch_Execute(t *testing.T) {
	client := jinamocks.NewMockClient(t)
	data := make([]jina.SearchResult, 0, 7)
	for i := 0; i < 7; i++ {
		data = append(data, jina.SearchResult{
			Title:       "Result",
			URL:         "https://example.com/" + string(rune('a'+i)),
			Description: "snippet",
		})
	}
	client.On("Search", mock.Anything, "acme owner").Return(&jina.SearchResponse{
		Code: 200,
		Data: data,
		Meta: jina.SearchMeta{Usage: jina.Usage{Tokens: 1000}},
	}, nil)

	j := NewJinaSearch(client, testCalc())
	res, err := j.Execute(context.Background(), "acme owner")
	require.NoError(t, err)

	assert.Len(t, res.Links, 5)
	assert.Contains(t, res.Content, "1. Result\nhttps://example.com/a\nsnippet")
	assert.NotContains(t, res.Content, "https://example.com/f")
	assert.InDelta(t, 0.01+0.00002, res.Cost, 1e-9)
}

func TestJinaSearch_NoResults(t *testing.T) {
	client := jinamocks.NewMockClient(t)
	client.On("Search", mock.Anything, "nothing").Return(&jina.SearchResponse{Code: 422}, nil)

	res, err := NewJinaSearch(client, testCalc()).Execute(context.Background(), "nothing")
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, "No results found.", res.Content)
}

func TestJinaSearch_FatalStatus(t *testing.T) {
	client := jinamocks.NewMockClient(t)
	client.On("Search", mock.Anything, "q").Return(nil, &jina.APIError{StatusCode: 402, Body: "payment required"})

	_, err := NewJinaSearch(client, testCalc()).Execute(context.Background(), "q")
	assert.True(t, resilience.IsFatalProvider(err))
}

func TestFetchPage_Execute(t *testing.T) {
	body := `<html><head><title>About Acme</title></head><body>
<nav>Home | Contact</nav>
<article><h1>About Acme</h1>
<p>Acme Plumbing was founded in 1987 by Jane Doe in Springfield, Illinois. The company has served homeowners for more than thirty years.</p>
<p>Today Jane Doe remains the owner and president, and her son John Doe runs daily operations for the business across the region.</p>
<p>Acme employs forty licensed plumbers and operates a fleet of service vans covering three counties around Springfield.</p>
</article></body></html>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(body)) //nolint:errcheck
	}))
	defer srv.Close()

	f := NewFetchPage(srv.Client())
	res, err := f.Execute(context.Background(), srv.URL+"/about")
	require.NoError(t, err)

	assert.False(t, res.IsError)
	assert.Contains(t, res.Content, "founded in 1987 by Jane Doe")
	assert.Equal(t, []string{srv.URL + "/about"}, res.Links)
}

func TestFetchPage_SoftFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	f := NewFetchPage(srv.Client())

	res, err := f.Execute(context.Background(), srv.URL)
	require.NoError(t, err, "site errors are not provider errors")
	assert.True(t, res.IsError)
	assert.Contains(t, res.Error, "status 403")

	res, err = f.Execute(context.Background(), "acme.com/about")
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, res.Error, "http(s) URL")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab...", truncate("abcdef", 2))
	got := truncate("héllo", 2)
	assert.True(t, strings.HasPrefix(got, "h"))
	assert.NotContains(t, got, "\xc3")
}
