// Package control carries the pause and fatal-provider signals checked by
// the iteration loop before every external call.
package control

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Signal is the outcome of a checkpoint.
type Signal int

const (
	// Continue means the loop may make its next external call.
	Continue Signal = iota
	// Paused means the caller asked to stop at the next checkpoint.
	Paused
	// Fatal means a provider reported a quota, billing or auth failure.
	Fatal
	// Cancelled means the context is done.
	Cancelled
)

func (s Signal) String() string {
	switch s {
	case Continue:
		return "continue"
	case Paused:
		return "paused"
	case Fatal:
		return "fatal"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Control is shared by the runner, controller and tool executor for one
// batch. Pause is resumable; the fatal latch is never cleared.
type Control struct {
	paused atomic.Bool

	mu      sync.Mutex
	fatal   error
	pauseCh chan struct{}
}

// New returns a Control with no signals raised.
func New() *Control {
	return &Control{pauseCh: make(chan struct{})}
}

// Pause requests a stop at the next checkpoint and wakes anything waiting
// on PauseRequested.
func (c *Control) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused.Load() {
		return
	}
	c.paused.Store(true)
	close(c.pauseChLocked())
	zap.L().Info("control: pause requested")
}

// Unpause clears a pending pause so a resumed batch can proceed.
func (c *Control) Unpause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused.Swap(false) {
		c.pauseCh = make(chan struct{})
	}
}

// IsPaused reports whether a pause is pending.
func (c *Control) IsPaused() bool {
	return c.paused.Load()
}

// PauseRequested returns a channel closed once a pause is requested. Waits
// that are not external calls, like an operator approval, select on it.
func (c *Control) PauseRequested() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pauseChLocked()
}

func (c *Control) pauseChLocked() chan struct{} {
	if c.pauseCh == nil {
		c.pauseCh = make(chan struct{})
	}
	return c.pauseCh
}

// LatchFatal records err as the batch-ending provider failure. Only the
// first call has any effect; it returns true when it set the latch.
func (c *Control) LatchFatal(err error) bool {
	if err == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fatal != nil {
		return false
	}
	c.fatal = err
	zap.L().Error("control: fatal provider error latched", zap.Error(err))
	return true
}

// Fatal returns the latched fatal error, or nil.
func (c *Control) Fatal() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fatal
}

// Check evaluates the checkpoint. Fatal takes precedence over
// cancellation, which takes precedence over pause.
func (c *Control) Check(ctx context.Context) Signal {
	if c.Fatal() != nil {
		return Fatal
	}
	if ctx.Err() != nil {
		return Cancelled
	}
	if c.IsPaused() {
		return Paused
	}
	return Continue
}
