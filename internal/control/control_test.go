package control

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckContinue(t *testing.T) {
	t.Parallel()

	c := New()
	assert.Equal(t, Continue, c.Check(context.Background()))
}

func TestPauseAndUnpause(t *testing.T) {
	t.Parallel()

	c := New()
	c.Pause()
	c.Pause()
	assert.True(t, c.IsPaused())
	assert.Equal(t, Paused, c.Check(context.Background()))

	c.Unpause()
	assert.Equal(t, Continue, c.Check(context.Background()))
}

func TestPauseRequestedChannel(t *testing.T) {
	t.Parallel()

	c := New()
	ch := c.PauseRequested()
	select {
	case <-ch:
		t.Fatal("channel closed before pause")
	default:
	}

	c.Pause()
	select {
	case <-ch:
	default:
		t.Fatal("pause did not close the channel")
	}

	c.Unpause()
	select {
	case <-c.PauseRequested():
		t.Fatal("unpause should hand out a fresh channel")
	default:
	}

	var zero Control
	zero.Pause()
	<-zero.PauseRequested()
}

func TestFatalIsSticky(t *testing.T) {
	t.Parallel()

	c := New()
	first := errors.New("credit balance is too low")
	assert.True(t, c.LatchFatal(first))
	assert.False(t, c.LatchFatal(errors.New("quota exceeded")))
	assert.False(t, c.LatchFatal(nil))

	assert.Equal(t, first, c.Fatal())
	c.Unpause()
	assert.Equal(t, Fatal, c.Check(context.Background()))
}

func TestCheckPrecedence(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := New()
	c.Pause()
	assert.Equal(t, Cancelled, c.Check(ctx))

	c.LatchFatal(errors.New("401 unauthorized"))
	assert.Equal(t, Fatal, c.Check(ctx))
}

func TestSignalString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "continue", Continue.String())
	assert.Equal(t, "paused", Paused.String())
	assert.Equal(t, "fatal", Fatal.String())
	assert.Equal(t, "cancelled", Cancelled.String())
	assert.Equal(t, "unknown", Signal(42).String())
}
