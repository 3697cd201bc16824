// Package prompt renders the system preamble and user turns of an
// investigation.
package prompt

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/sells-group/research-agent/internal/model"
	"github.com/sells-group/research-agent/internal/toolcall"
)

// ToolSpec describes a tool offered to the model.
type ToolSpec struct {
	Name        string
	Description string
}

// SystemOptions configures the system preamble.
type SystemOptions struct {
	Tools        []ToolSpec
	MaxToolCalls int
}

const preamble = `You are a meticulous business research analyst. You investigate one company at a time and answer one research question about it using public information.

Rules:
- Base your answer on evidence you found, not on assumptions
- Prefer the company's own website, state business filings, and reputable news
- If sources disagree, say so and lower your confidence
- Never invent names, dates, or sources`

// System renders the system preamble: role, tool grammar, tool budget,
// terminal marker and the verdict layout.
func System(opts SystemOptions) string {
	var sb strings.Builder
	sb.WriteString(preamble)

	if len(opts.Tools) > 0 {
		sb.WriteString("\n\nTools:\n")
		for _, t := range opts.Tools {
			sb.WriteString(fmt.Sprintf("- %s: %s\n", t.Name, t.Description))
		}
		sb.WriteString("\nTo use a tool, reply with exactly one block and nothing after it:\n")
		sb.WriteString(toolcall.Format(opts.Tools[0].Name, "your query"))
		sb.WriteString("\nWait for the results before continuing. Only the first block in a reply is run.")
		sb.WriteString(fmt.Sprintf("\nYou may use at most %d tool calls for this question.", opts.MaxToolCalls))
	}

	sb.WriteString(fmt.Sprintf(`

When you are ready to answer, reply in this layout:
%s <answer token>
<short answer>
<explanation, a few sentences>
Evidence: <quotes or facts that support the answer>
Sources: <URLs you relied on>
Confidence: HIGH, MEDIUM or LOW

Use "%s" only when you are giving your final answer.`, toolcall.TerminalMarker, toolcall.TerminalMarker))

	return sb.String()
}

// Initial renders the first user turn for an (entity, criterion) pair.
func Initial(entity model.Entity, criterion model.Criterion, findings map[string]string) string {
	var sb strings.Builder

	sb.WriteString("Company:\n")
	sb.WriteString(fmt.Sprintf("- Name: %s\n", entity.Name))
	if entity.Website != "" {
		sb.WriteString(fmt.Sprintf("- Website: %s\n", entity.Website))
	}
	if place := entity.Place(); place != "" {
		sb.WriteString(fmt.Sprintf("- Location: %s\n", place))
	}

	sb.WriteString(fmt.Sprintf("\nQuestion: %s\n", criterion.Question))
	if criterion.Guidance != "" {
		sb.WriteString(fmt.Sprintf("\nGuidance: %s\n", criterion.Guidance))
	}

	sb.WriteString("\n")
	sb.WriteString(answerShape(criterion))

	if len(findings) > 0 {
		sb.WriteString("\n\nWhat we already know about this company:\n")
		keys := make([]string, 0, len(findings))
		for k := range findings {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			sb.WriteString(fmt.Sprintf("- %s: %s\n", k, findings[k]))
		}
	}

	if q := RenderQuery(criterion.FirstQuery, entity, findings); q != "" {
		sb.WriteString(fmt.Sprintf("\n\nSuggested first search: %s", q))
	}

	return strings.TrimRight(sb.String(), "\n")
}

func answerShape(c model.Criterion) string {
	if c.Kind() == model.KindNamedEntity {
		return fmt.Sprintf(`Answer with the full name of the %s after "%s", or "unknown" if you cannot identify them with reasonable confidence.`,
			c.RoleOrDefault(), toolcall.TerminalMarker)
	}
	return fmt.Sprintf(`Answer "%s" after "%s" if the answer is yes, or "NO" if it is not.`,
		c.Positive(), toolcall.TerminalMarker)
}

var placeholderRe = regexp.MustCompile(`\{(\w+)\}`)

// RenderQuery fills a first-query template from entity attributes and
// findings. Unknown placeholders become empty and whitespace is collapsed.
func RenderQuery(template string, entity model.Entity, findings map[string]string) string {
	if strings.TrimSpace(template) == "" {
		return ""
	}
	vars := entity.Placeholders()
	for k, v := range findings {
		vars[k] = v
	}
	out := placeholderRe.ReplaceAllStringFunc(template, func(m string) string {
		return vars[m[1:len(m)-1]]
	})
	return strings.Join(strings.Fields(out), " ")
}

// ToolOutput renders a tool result as the next user turn.
func ToolOutput(req model.ToolRequest, res model.ToolResult, remaining int) string {
	var sb strings.Builder
	if res.IsError {
		sb.WriteString(fmt.Sprintf("The %s tool failed for '%s': %s\n", req.Tool, req.Query, res.Error))
	} else {
		sb.WriteString(fmt.Sprintf("Here are the results for '%s':\n\n%s\n", req.Query, strings.TrimSpace(res.Content)))
	}

	if remaining > 0 {
		sb.WriteString(fmt.Sprintf("\nWhat did you learn about the question from these results? You have %d tool calls left.", remaining))
	} else {
		sb.WriteString("\nWhat did you learn about the question from these results? " + Finalize())
	}
	return sb.String()
}

// Reminder is the one-line syntax correction sent after a malformed
// tool attempt.
func Reminder(tools []ToolSpec) string {
	name := "search"
	if len(tools) > 0 {
		name = tools[0].Name
	}
	return fmt.Sprintf("Your tool request was not recognized. Use exactly %s, or reply with %s if you are done.",
		toolcall.Format(name, "your query"), toolcall.TerminalMarker)
}

// Finalize asks for a verdict once the tool budget is spent. It closes the
// last tool output turn.
func Finalize() string {
	return fmt.Sprintf("You have used all your tool calls. Give your best answer now, starting with %s", toolcall.TerminalMarker)
}
