// Package notion reads the criteria and entity databases from Notion and
// writes research status back to entity pages.
package notion

import (
	"context"
	"net/http"
	"time"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Client is the subset of the Notion API the registry and CRM sync use.
type Client interface {
	QueryDatabase(ctx context.Context, dbID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error)
	UpdatePage(ctx context.Context, pageID string, req *notionapi.PageUpdateRequest) (*notionapi.Page, error)
}

// Notion allows an average of three requests per second per integration.
const defaultRPS = 3

type options struct {
	rps  float64
	http *http.Client
}

// ClientOption configures NewClient.
type ClientOption func(*options)

// WithRateLimit sets the request rate. Zero or a negative value disables
// throttling.
func WithRateLimit(rps float64) ClientOption {
	return func(o *options) { o.rps = rps }
}

// WithHTTPClient sends requests through hc.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(o *options) { o.http = hc }
}

type notionClient struct {
	api     *notionapi.Client
	limiter *rate.Limiter
}

// NewClient creates a throttled client for an integration token.
func NewClient(token string, opts ...ClientOption) Client {
	o := options{rps: defaultRPS}
	for _, opt := range opts {
		opt(&o)
	}

	var apiOpts []notionapi.ClientOption
	if o.http != nil {
		apiOpts = append(apiOpts, notionapi.WithHTTPClient(o.http))
	}
	c := &notionClient{api: notionapi.NewClient(notionapi.Token(token), apiOpts...)}
	if o.rps > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(o.rps), max(int(o.rps), 1))
	}
	return c
}

func (c *notionClient) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return eris.Wrap(c.limiter.Wait(ctx), "notion: rate limit")
}

// call waits for a request slot, runs fn and wraps its error with op.
func call[T any](ctx context.Context, c *notionClient, op string, fn func() (T, error)) (T, error) {
	var zero T
	if err := c.wait(ctx); err != nil {
		return zero, err
	}
	start := time.Now()
	v, err := fn()
	zap.L().Debug("notion: request",
		zap.String("op", op),
		zap.Duration("elapsed", time.Since(start)),
		zap.Bool("ok", err == nil),
	)
	if err != nil {
		return zero, eris.Wrapf(err, "notion: %s", op)
	}
	return v, nil
}

func (c *notionClient) QueryDatabase(ctx context.Context, dbID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	return call(ctx, c, "query database "+dbID, func() (*notionapi.DatabaseQueryResponse, error) {
		return c.api.Database.Query(ctx, notionapi.DatabaseID(dbID), req)
	})
}

func (c *notionClient) UpdatePage(ctx context.Context, pageID string, req *notionapi.PageUpdateRequest) (*notionapi.Page, error) {
	return call(ctx, c, "update page "+pageID, func() (*notionapi.Page, error) {
		return c.api.Page.Update(ctx, notionapi.PageID(pageID), req)
	})
}
