// Package conversation holds the bounded transcript of one investigation.
package conversation

import (
	"go.uber.org/zap"

	"github.com/sells-group/research-agent/internal/model"
)

// DefaultMaxChars bounds the transcript size when no limit is configured.
const DefaultMaxChars = 120_000

// Context is the ordered transcript plus system preamble for one
// (entity, criterion) investigation. It is not safe for concurrent use.
type Context struct {
	system   string
	turns    []model.Turn
	maxChars int
	dropped  int
}

// New creates an empty transcript. maxChars <= 0 selects DefaultMaxChars.
func New(system string, maxChars int) *Context {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	return &Context{system: system, maxChars: maxChars}
}

// Restore rebuilds a transcript from turns committed before a pause.
func Restore(system string, maxChars int, turns []model.Turn) *Context {
	c := New(system, maxChars)
	c.turns = append(c.turns, turns...)
	c.trim()
	return c
}

// System returns the system preamble.
func (c *Context) System() string { return c.system }

// AppendUser adds a user turn.
func (c *Context) AppendUser(content string) {
	c.append(model.RoleUser, content)
}

// AppendAssistant adds a model turn.
func (c *Context) AppendAssistant(content string) {
	c.append(model.RoleAssistant, content)
}

func (c *Context) append(role model.Role, content string) {
	c.turns = append(c.turns, model.Turn{Role: role, Content: content})
	c.trim()
}

// Turns returns a copy of the transcript.
func (c *Context) Turns() []model.Turn {
	out := make([]model.Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

// Last returns the most recent turn, or false when empty.
func (c *Context) Last() (model.Turn, bool) {
	if len(c.turns) == 0 {
		return model.Turn{}, false
	}
	return c.turns[len(c.turns)-1], true
}

// LastAssistant returns the content of the most recent model turn.
func (c *Context) LastAssistant() string {
	for i := len(c.turns) - 1; i >= 0; i-- {
		if c.turns[i].Role == model.RoleAssistant {
			return c.turns[i].Content
		}
	}
	return ""
}

// Len returns the number of turns.
func (c *Context) Len() int { return len(c.turns) }

// Dropped returns how many turns were evicted to respect the size bound.
func (c *Context) Dropped() int { return c.dropped }

// Size returns the total characters of system preamble plus turns.
func (c *Context) Size() int {
	n := len(c.system)
	for _, t := range c.turns {
		n += len(t.Content)
	}
	return n
}

// trim drops the oldest turns after the first, two at a time so that user
// and assistant turns keep alternating. The first turn holds the task and
// the last turn is the one the model must answer; neither is dropped.
func (c *Context) trim() {
	for c.Size() > c.maxChars && len(c.turns) > 3 {
		c.turns = append(c.turns[:1], c.turns[3:]...)
		c.dropped += 2
		zap.L().Debug("conversation: dropped oldest turns",
			zap.Int("remaining", len(c.turns)),
			zap.Int("size", c.Size()),
		)
	}
}
