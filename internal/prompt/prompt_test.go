package prompt

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/research-agent/internal/model"
)

func testEntity() model.Entity {
	return model.Entity{ID: "e1", Name: "Acme Plumbing", Website: "acme.com", City: "Austin", State: "TX"}
}

func TestSystem(t *testing.T) {
	t.Parallel()

	got := System(SystemOptions{
		Tools: []ToolSpec{
			{Name: "search", Description: "web search"},
			{Name: "fetch_page", Description: "read a web page"},
		},
		MaxToolCalls: 3,
	})

	assert.Contains(t, got, `<tool name="search">your query</tool>`)
	assert.Contains(t, got, "- fetch_page: read a web page")
	assert.Contains(t, got, "at most 3 tool calls")
	assert.Contains(t, got, "Final Answer:")
	assert.Contains(t, got, "Confidence: HIGH, MEDIUM or LOW")
	assert.Contains(t, got, "Evidence:")
	assert.Contains(t, got, "Sources:")
}

func TestSystemWithoutTools(t *testing.T) {
	t.Parallel()

	got := System(SystemOptions{})
	assert.NotContains(t, got, "<tool")
	assert.Contains(t, got, "Final Answer:")
}

func TestInitialYesNo(t *testing.T) {
	t.Parallel()

	c := model.Criterion{
		ID:         "family",
		Question:   "Is the company family owned?",
		Guidance:   "Franchises do not count.",
		FirstQuery: "{entity_name} {city} family owned",
	}
	got := Initial(testEntity(), c, nil)

	assert.Contains(t, got, "- Name: Acme Plumbing")
	assert.Contains(t, got, "- Website: acme.com")
	assert.Contains(t, got, "- Location: Austin, TX")
	assert.Contains(t, got, "Question: Is the company family owned?")
	assert.Contains(t, got, "Guidance: Franchises do not count.")
	assert.Contains(t, got, `Answer "YES"`)
	assert.Contains(t, got, "Suggested first search: Acme Plumbing Austin family owned")
	assert.NotContains(t, got, "already know")
}

func TestInitialNamedWithFindings(t *testing.T) {
	t.Parallel()

	c := model.Criterion{
		ID:            "age",
		Question:      "How old is the owner?",
		PositiveToken: "NAME",
		Role:          "CEO",
		FirstQuery:    "{owner_name} {entity_name} age",
	}
	got := Initial(testEntity(), c, map[string]string{"owner_name": "Jane Doe"})

	assert.Contains(t, got, "full name of the CEO")
	assert.Contains(t, got, "- owner_name: Jane Doe")
	assert.Contains(t, got, "Suggested first search: Jane Doe Acme Plumbing age")
}

func TestRenderQuery(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		template string
		findings map[string]string
		want     string
	}{
		{"empty template", "", nil, ""},
		{"entity placeholders", "{company_name} {state} owner", nil, "Acme Plumbing TX owner"},
		{"unknown placeholder blank", "{entity_name}   {nope} owner", nil, "Acme Plumbing owner"},
		{"finding overrides", "{owner_name} age", map[string]string{"owner_name": "Jane Doe"}, "Jane Doe age"},
		{"location", "{location}", nil, "Austin, TX"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, RenderQuery(tt.template, testEntity(), tt.findings))
		})
	}
}

func TestToolOutput(t *testing.T) {
	t.Parallel()

	req := model.ToolRequest{Tool: "search", Query: "acme owner"}

	ok := ToolOutput(req, model.ToolResult{Content: "Jane Doe owns Acme."}, 2)
	assert.Contains(t, ok, "Here are the results for 'acme owner':")
	assert.Contains(t, ok, "Jane Doe owns Acme.")
	assert.Contains(t, ok, "2 tool calls left")

	failed := ToolOutput(req, model.ToolResult{IsError: true, Error: "timeout"}, 0)
	assert.Contains(t, failed, "The search tool failed for 'acme owner': timeout")
	assert.Contains(t, failed, "used all your tool calls")
}

func TestReminderAndFinalize(t *testing.T) {
	t.Parallel()

	assert.Contains(t, Reminder([]ToolSpec{{Name: "jina_search"}}), `<tool name="jina_search">your query</tool>`)
	assert.Contains(t, Reminder(nil), `<tool name="search">`)
	assert.Contains(t, Finalize(), "Final Answer:")
}
