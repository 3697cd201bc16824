// Package resilience classifies provider failures and retries transient ones.
package resilience

import (
	"errors"
	"net"
	"regexp"
	"strings"
	"syscall"
)

// TransientError wraps an error that is safe to retry (429, 5xx, timeouts).
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps an error as transient with an optional HTTP status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// FatalError marks a provider failure that no retry can fix: quota,
// billing, or credential problems.
type FatalError struct {
	Provider string
	Err      error
}

func (e *FatalError) Error() string {
	if e.Provider == "" {
		return e.Err.Error()
	}
	return e.Provider + ": " + e.Err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// NewFatalError wraps err as a fatal provider failure.
func NewFatalError(provider string, err error) *FatalError {
	return &FatalError{Provider: provider, Err: err}
}

var transientPatterns = []string{
	"connection reset by peer",
	"broken pipe",
	"temporary failure in name resolution",
	"no such host",
	"tls handshake timeout",
	"i/o timeout",
	"server closed idle connection",
	"transport connection broken",
	"overloaded",
	"rate limit",
}

// fatalPatterns identify quota, billing and authorization failures. Matched
// case-insensitively against the whole error chain text.
var fatalPatterns = []string{
	"quota",
	"billing",
	"credit balance",
	"insufficient funds",
	"payment required",
	"unauthorized",
	"authentication",
	"invalid api key",
	"invalid x-api-key",
	"forbidden",
}

// fatalStatusRe matches credential and billing status codes as whole words
// so request IDs and byte counts do not trip it.
var fatalStatusRe = regexp.MustCompile(`\b40[123]\b`)

// IsTransient returns true if the error (or any error in its chain) is a
// TransientError, or if it matches common transient error patterns. Fatal
// provider errors are never transient.
func IsTransient(err error) bool {
	if err == nil || IsFatalProvider(err) {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	return containsAny(strings.ToLower(err.Error()), transientPatterns)
}

// IsFatalProvider reports whether err is a quota, billing or authorization
// failure. The first such error observed must stop the whole batch.
func IsFatalProvider(err error) bool {
	if err == nil {
		return false
	}
	var fe *FatalError
	if errors.As(err, &fe) {
		return true
	}
	return IsFatalMessage(err.Error())
}

// IsFatalMessage applies the fatal substring set to free text, such as an
// error payload returned in a response body.
func IsFatalMessage(msg string) bool {
	return containsAny(strings.ToLower(msg), fatalPatterns) || fatalStatusRe.MatchString(msg)
}

// IsTransientHTTPStatus returns true if the HTTP status code indicates a
// transient server-side issue that is safe to retry.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// IsFatalHTTPStatus returns true for credential and billing status codes.
func IsFatalHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 401, 402, 403:
		return true
	default:
		return false
	}
}

func containsAny(msg string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
