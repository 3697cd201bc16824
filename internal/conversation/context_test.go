package conversation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/research-agent/internal/model"
)

func TestAppendAndTurns(t *testing.T) {
	t.Parallel()

	c := New("system", 0)
	c.AppendUser("task")
	c.AppendAssistant("thinking")

	turns := c.Turns()
	require.Len(t, turns, 2)
	assert.Equal(t, model.RoleUser, turns[0].Role)
	assert.Equal(t, model.RoleAssistant, turns[1].Role)
	assert.Equal(t, "system", c.System())
	assert.Equal(t, len("system")+len("task")+len("thinking"), c.Size())

	turns[0].Content = "mutated"
	assert.Equal(t, "task", c.Turns()[0].Content)

	last, ok := c.Last()
	require.True(t, ok)
	assert.Equal(t, "thinking", last.Content)
	assert.Equal(t, "thinking", c.LastAssistant())
}

func TestEmpty(t *testing.T) {
	t.Parallel()

	c := New("", 10)
	_, ok := c.Last()
	assert.False(t, ok)
	assert.Empty(t, c.LastAssistant())
	assert.Zero(t, c.Len())
}

func TestTrimKeepsFirstAndLast(t *testing.T) {
	t.Parallel()

	chunk := strings.Repeat("x", 100)
	c := New("", 350)
	c.AppendUser("task")
	for i := 0; i < 6; i++ {
		c.AppendAssistant(chunk)
		c.AppendUser(chunk)
	}
	c.AppendAssistant("final answer: YES")

	turns := c.Turns()
	assert.Equal(t, "task", turns[0].Content)
	assert.Equal(t, "final answer: YES", turns[len(turns)-1].Content)
	assert.LessOrEqual(t, c.Size(), 350)
	assert.Positive(t, c.Dropped())
	assert.Equal(t, 0, c.Dropped()%2)

	for i := 1; i < len(turns); i++ {
		assert.NotEqual(t, turns[i-1].Role, turns[i].Role, "roles must alternate at %d", i)
	}
}

func TestTrimNeverDropsBelowThreeTurns(t *testing.T) {
	t.Parallel()

	c := New("", 10)
	c.AppendUser(strings.Repeat("a", 50))
	c.AppendAssistant(strings.Repeat("b", 50))
	c.AppendUser(strings.Repeat("c", 50))
	assert.Equal(t, 3, c.Len())
}

func TestRestore(t *testing.T) {
	t.Parallel()

	turns := []model.Turn{
		{Role: model.RoleUser, Content: "task"},
		{Role: model.RoleAssistant, Content: `<tool name="search">acme owner</tool>`},
		{Role: model.RoleUser, Content: "results"},
	}
	c := Restore("sys", 0, turns)
	assert.Equal(t, 3, c.Len())
	turns[0].Content = "changed"
	assert.Equal(t, "task", c.Turns()[0].Content)
}
