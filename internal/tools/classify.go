package tools

import (
	"errors"

	"github.com/sells-group/research-agent/internal/resilience"
	"github.com/sells-group/research-agent/pkg/jina"
	"github.com/sells-group/research-agent/pkg/perplexity"
)

// classify tags provider HTTP errors as fatal or transient so the executor
// can retry or latch them.
func classify(provider string, err error) error {
	if err == nil {
		return nil
	}
	status := 0
	var pErr *perplexity.APIError
	var jErr *jina.APIError
	switch {
	case errors.As(err, &pErr):
		status = pErr.StatusCode
	case errors.As(err, &jErr):
		status = jErr.StatusCode
	}

	switch {
	case resilience.IsFatalHTTPStatus(status), resilience.IsFatalProvider(err):
		return resilience.NewFatalError(provider, err)
	case resilience.IsTransientHTTPStatus(status):
		return resilience.NewTransientError(err, status)
	default:
		return err
	}
}
