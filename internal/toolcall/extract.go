// Package toolcall parses model output for tool invocations and the
// terminal marker.
//
// The grammar is an ordered list; the first rule that matches decides:
//
//  1. Terminal marker "final answer:" anywhere, case-insensitive.
//  2. Delimited block <tool name="NAME">QUERY</tool>. Only the first block
//     in the text is considered.
//  3. Legacy line "NAME: QUERY" at the start of a line.
//  4. Malformed attempt: an unclosed <tool opener, a <NAME> tag for a
//     registered tool, or search-intent phrasing.
//  5. Plain text.
package toolcall

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/sells-group/research-agent/internal/model"
)

// TerminalMarker is the phrase the model is told to use for its verdict.
const TerminalMarker = "Final Answer:"

// Kind classifies one model response.
type Kind int

const (
	Text Kind = iota
	Final
	ToolCall
	Malformed
)

func (k Kind) String() string {
	switch k {
	case Text:
		return "text"
	case Final:
		return "final"
	case ToolCall:
		return "tool_call"
	case Malformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Parse is the result of Extract.
type Parse struct {
	Kind    Kind
	Request model.ToolRequest
	// Marker is the matched text for Final, or the offending fragment for
	// Malformed.
	Marker string
	// Legacy is set when the request came from the single-line fallback.
	Legacy bool
	// Blocks counts the delimited blocks seen; only the first is honored.
	Blocks int
}

var (
	terminalRe = regexp.MustCompile(`(?i)final\s+answer\s*:`)
	blockRe    = regexp.MustCompile(`(?is)<tool\s+name\s*=\s*["']?([\w\-]+)["']?\s*>(.*?)</tool\s*>`)
	legacyRe   = regexp.MustCompile(`(?im)^[ \t]*([\w\-]+)[ \t]*:[ \t]*(\S.*)$`)
	openerRe   = regexp.MustCompile(`(?i)<tool\b`)
)

var intentPhrases = []string{
	"let me search",
	"i will search",
	"i'll search",
	"search query:",
	"searching for",
}

// Format renders a request in the delimited grammar.
func Format(tool, query string) string {
	return fmt.Sprintf(`<tool name="%s">%s</tool>`, tool, query)
}

// Extractor recognizes requests for a fixed set of tool names.
type Extractor struct {
	tools  map[string]struct{}
	tagRes []*regexp.Regexp
}

// New creates an Extractor for the registered tool names.
func New(toolNames ...string) *Extractor {
	e := &Extractor{tools: make(map[string]struct{}, len(toolNames))}
	for _, n := range toolNames {
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "" {
			continue
		}
		e.tools[n] = struct{}{}
		e.tagRes = append(e.tagRes, regexp.MustCompile(`(?i)</?`+regexp.QuoteMeta(n)+`\s*>`))
	}
	return e
}

func (e *Extractor) registered(name string) bool {
	_, ok := e.tools[strings.ToLower(name)]
	return ok
}

// Extract classifies text according to the grammar.
func (e *Extractor) Extract(text string) Parse {
	if m := terminalRe.FindString(text); m != "" {
		return Parse{Kind: Final, Marker: m}
	}

	blocks := blockRe.FindAllStringSubmatch(text, -1)
	if len(blocks) > 0 {
		first := blocks[0]
		name := strings.ToLower(first[1])
		query := normalizeQuery(first[2])
		if !e.registered(name) || query == "" {
			return Parse{Kind: Malformed, Marker: first[0], Blocks: len(blocks)}
		}
		return Parse{
			Kind:    ToolCall,
			Request: model.ToolRequest{Tool: name, Query: query},
			Blocks:  len(blocks),
		}
	}

	for _, m := range legacyRe.FindAllStringSubmatch(text, -1) {
		if !e.registered(m[1]) {
			continue
		}
		if query := normalizeQuery(m[2]); query != "" {
			return Parse{
				Kind:    ToolCall,
				Request: model.ToolRequest{Tool: strings.ToLower(m[1]), Query: query},
				Legacy:  true,
			}
		}
	}

	if frag := e.malformed(text); frag != "" {
		return Parse{Kind: Malformed, Marker: frag}
	}
	return Parse{Kind: Text}
}

func (e *Extractor) malformed(text string) string {
	if m := openerRe.FindString(text); m != "" {
		return m
	}
	for _, re := range e.tagRes {
		if m := re.FindString(text); m != "" {
			return m
		}
	}
	lower := strings.ToLower(text)
	for _, p := range intentPhrases {
		if strings.Contains(lower, p) {
			return p
		}
	}
	return ""
}

func normalizeQuery(q string) string {
	q = strings.TrimSpace(q)
	q = strings.Trim(q, `"'`)
	return strings.Join(strings.Fields(q), " ")
}
