package tools

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/research-agent/internal/control"
	"github.com/sells-group/research-agent/internal/metrics"
	"github.com/sells-group/research-agent/internal/model"
	"github.com/sells-group/research-agent/internal/resilience"
)

// ExecutorConfig tunes the executor. Zero values select defaults.
type ExecutorConfig struct {
	CacheTTL time.Duration
	// RateLimit is the per-tool request rate in requests per second.
	RateLimit float64
	Retry     resilience.RetryConfig
	// BreakerThreshold is the number of consecutive transient failures
	// after which a tool is short-circuited.
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

// Executor runs tool requests. It never returns an error: failures come
// back as error payloads the model can read. Fatal provider failures are
// latched into the shared Control.
type Executor struct {
	registry *Registry
	cache    *Cache
	ctl      *control.Control
	retry    resilience.RetryConfig
	limiters map[string]*rate.Limiter
	breakers map[string]*resilience.Breaker
}

// NewExecutor creates an executor over the registry.
func NewExecutor(reg *Registry, ctl *control.Control, cfg ExecutorConfig) *Executor {
	if ctl == nil {
		ctl = control.New()
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 2
	}
	retry := cfg.Retry
	if retry.MaxAttempts == 0 {
		retry = resilience.DefaultRetryConfig()
		retry.MaxAttempts = 2
	}

	e := &Executor{
		registry: reg,
		cache:    NewCache(cfg.CacheTTL),
		ctl:      ctl,
		retry:    retry,
		limiters: make(map[string]*rate.Limiter),
		breakers: make(map[string]*resilience.Breaker),
	}
	for _, name := range reg.Names() {
		e.limiters[name] = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
		e.breakers[name] = resilience.NewBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown)
	}
	return e
}

// Registry returns the tool registry.
func (e *Executor) Registry() *Registry { return e.registry }

// Control returns the control object fatal errors are latched into.
func (e *Executor) Control() *control.Control { return e.ctl }

// Cache returns the result cache.
func (e *Executor) Cache() *Cache { return e.cache }

// Sweep evicts expired cache entries.
func (e *Executor) Sweep() int { return e.cache.Sweep() }

// Execute runs one tool request.
func (e *Executor) Execute(ctx context.Context, name, query string) model.ToolResult {
	tool, ok := e.registry.Get(name)
	if !ok {
		return errorResult(fmt.Sprintf("unknown tool %q; available tools: %v", name, e.registry.Names()))
	}

	if res, ok := e.cache.Get(name, query); ok {
		res.Cached = true
		res.Cost = 0
		metrics.ToolCalls.WithLabelValues(name, "cached").Inc()
		zap.L().Debug("tools: cache hit", zap.String("tool", name), zap.String("query", query))
		return res
	}

	if err := e.ctl.Fatal(); err != nil {
		return fatalResult(err)
	}

	breaker := e.breakers[name]
	if err := breaker.Allow(); err != nil {
		metrics.ToolCalls.WithLabelValues(name, "error").Inc()
		return errorResult(fmt.Sprintf("%s is temporarily unavailable after repeated failures; try again later or use another tool", name))
	}

	if err := e.limiters[name].Wait(ctx); err != nil {
		return errorResult(fmt.Sprintf("%s call cancelled: %v", name, err))
	}

	start := time.Now()
	res, err := resilience.DoVal(ctx, e.retryFor(name), func(ctx context.Context) (model.ToolResult, error) {
		return tool.Execute(ctx, query)
	})
	breaker.Record(err)
	metrics.ToolLatency.WithLabelValues(name).Observe(time.Since(start).Seconds())

	if err != nil {
		if resilience.IsFatalProvider(err) {
			e.ctl.LatchFatal(err)
			metrics.ToolCalls.WithLabelValues(name, "fatal").Inc()
			return fatalResult(err)
		}
		metrics.ToolCalls.WithLabelValues(name, "error").Inc()
		zap.L().Warn("tools: provider error",
			zap.String("tool", name),
			zap.String("query", query),
			zap.Error(err),
		)
		return errorResult(fmt.Sprintf("%s failed: %s", name, rootMessage(err)))
	}

	if res.IsError {
		metrics.ToolCalls.WithLabelValues(name, "error").Inc()
		return res
	}

	metrics.ToolCalls.WithLabelValues(name, "ok").Inc()
	e.cache.Put(name, query, res)
	return res
}

func (e *Executor) retryFor(name string) resilience.RetryConfig {
	cfg := e.retry
	cfg.OnRetry = resilience.RetryLogger(name, "execute")
	return cfg
}

func errorResult(msg string) model.ToolResult {
	return model.ToolResult{IsError: true, Error: msg, Content: "Error: " + msg}
}

func fatalResult(err error) model.ToolResult {
	res := errorResult("provider unavailable: " + rootMessage(err))
	res.Fatal = true
	return res
}

// rootMessage drops eris wrapping prefixes so the model sees the provider's
// own message.
func rootMessage(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		err = next
	}
}
