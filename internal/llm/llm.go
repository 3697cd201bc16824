// Package llm is the provider-neutral model surface of the research loop.
// Adapters translate transcripts into provider calls and classify provider
// failures as transient or fatal.
package llm

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/research-agent/internal/model"
	"github.com/sells-group/research-agent/internal/resilience"
)

// Model completes a conversation.
type Model interface {
	Complete(ctx context.Context, req Request) (*Response, error)
	// Provider names the pricing table for this model (see cost.Provider*).
	Provider() string
	// Name is the model identifier used for pricing and logs.
	Name() string
}

// Request is one model call over the full transcript.
type Request struct {
	System      string
	Turns       []model.Turn
	MaxTokens   int
	Temperature *float64
}

// Response is the model's reply.
type Response struct {
	Text       string
	StopReason string
	Model      string
	Usage      model.TokenUsage
}

// ErrEmptyTranscript is returned when a request has no turns.
var ErrEmptyTranscript = eris.New("llm: transcript is empty")

// classify maps an HTTP status and error text onto the resilience error
// types so callers can retry or latch them.
func classify(provider string, status int, err error) error {
	switch {
	case resilience.IsFatalHTTPStatus(status):
		return resilience.NewFatalError(provider, err)
	case resilience.IsTransientHTTPStatus(status) || status == 529:
		if resilience.IsFatalMessage(err.Error()) {
			return resilience.NewFatalError(provider, err)
		}
		return resilience.NewTransientError(err, status)
	case resilience.IsFatalProvider(err):
		return resilience.NewFatalError(provider, err)
	default:
		return err
	}
}
