// Package verdict turns a final free-text model response into a structured
// answer. Yes/no and named-entity criteria use separate policies.
package verdict

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/sells-group/research-agent/internal/model"
)

// Verdict is the structured reading of a model response.
type Verdict struct {
	Answer      string
	Explanation string
	Evidence    string
	Sources     string
	Confidence  model.Confidence
	// Marked is true when the response carried the terminal marker.
	Marked bool
	// Finding is set for named-entity answers so dependent criteria can
	// reuse the name.
	Finding *Finding
}

// Finding is a fact carried from one criterion into later prompts.
type Finding struct {
	Key   string
	Value string
}

// Policy extracts a verdict for one criterion kind.
type Policy interface {
	Kind() model.CriterionKind
	Extract(text string, c model.Criterion) Verdict
}

// For selects the policy for a criterion.
func For(c model.Criterion) Policy {
	if c.Kind() == model.KindNamedEntity {
		return NamedEntity{}
	}
	return YesNo{}
}

// Extract applies the criterion's policy to text.
func Extract(text string, c model.Criterion) Verdict {
	return For(c).Extract(text, c)
}

var (
	markerRe     = regexp.MustCompile(`(?i)final\s+answer\s*:`)
	confidenceRe = regexp.MustCompile(`(?i)confidence(?:\s+level)?\s*\**\s*[:=]\s*\**\s*(high|medium|low|[1-3])\b`)
	labelLineRe  = regexp.MustCompile(`(?i)^\s*\**\s*(evidence|sources?|confidence|explanation)\s*\**\s*:`)
)

var unknownTokens = map[string]bool{
	"unknown":         true,
	"not found":       true,
	"n/a":             true,
	"na":              true,
	"none":            true,
	"not_exact_match": true,
	"not exact match": true,
}

// response is the shared parse of the verdict layout.
type response struct {
	marked      bool
	short       string
	segment     string
	explanation string
}

// parseResponse splits text into the short answer (the rest of the marker
// line, or the next non-empty line when that is only a type token) and the
// explanation lines after it.
func parseResponse(text string, typeTokens ...string) response {
	loc := markerRe.FindStringIndex(text)
	if loc == nil {
		return response{explanation: explanationFrom(strings.Split(text, "\n"))}
	}

	segment := text[loc[1]:]
	lines := strings.Split(segment, "\n")
	short := cleanLine(lines[0])
	rest := lines[1:]

	if short == "" || isTypeToken(short, typeTokens) {
		for i, l := range rest {
			if c := cleanLine(l); c != "" && !labelLineRe.MatchString(l) {
				short = c
				rest = rest[i+1:]
				break
			}
		}
	}

	return response{
		marked:      true,
		short:       short,
		segment:     segment,
		explanation: explanationFrom(rest),
	}
}

func isTypeToken(s string, tokens []string) bool {
	for _, t := range tokens {
		if t != "" && strings.EqualFold(s, t) {
			return true
		}
	}
	return false
}

func explanationFrom(lines []string) string {
	kept := make([]string, 0, len(lines))
	skipping := false
	for _, l := range lines {
		if labelLineRe.MatchString(l) {
			skipping = true
			continue
		}
		if skipping {
			if strings.TrimSpace(l) == "" {
				skipping = false
			}
			continue
		}
		kept = append(kept, l)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

// cleanLine strips markdown emphasis, bullets and surrounding punctuation.
func cleanLine(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimLeft(s, "-*# ")
	s = strings.ReplaceAll(s, "**", "")
	s = strings.Trim(s, " \t\"'`.")
	return s
}

// ParseConfidence reads the last confidence cue in text. Missing cues
// yield LOW.
func ParseConfidence(text string) model.Confidence {
	matches := confidenceRe.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return model.ConfidenceLow
	}
	return model.ParseConfidence(matches[len(matches)-1][1])
}

// Label returns the text following "label:" up to the next blank line or an
// unindented line that starts with a capital letter.
func Label(text, label string) string {
	re := regexp.MustCompile(`(?i)^\s*\**\s*` + regexp.QuoteMeta(label) + `\s*\**\s*:\s*(.*)$`)
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		m := re.FindStringSubmatch(l)
		if m == nil {
			continue
		}
		parts := []string{strings.TrimSpace(m[1])}
		for _, next := range lines[i+1:] {
			trimmed := strings.TrimSpace(next)
			if trimmed == "" || startsUpper(next) {
				break
			}
			parts = append(parts, trimmed)
		}
		return strings.TrimSpace(strings.Join(parts, "\n"))
	}
	return ""
}

func isUnknownToken(s string) bool {
	return unknownTokens[strings.ToLower(strings.TrimSpace(s))]
}

// shared fills the fields common to both policies.
func shared(text string, r response) Verdict {
	return Verdict{
		Explanation: r.explanation,
		Evidence:    Label(text, "Evidence"),
		Sources:     firstNonEmpty(Label(text, "Sources"), Label(text, "Source")),
		Confidence:  ParseConfidence(text),
		Marked:      r.marked,
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func startsUpper(s string) bool {
	r, _ := utf8.DecodeRuneInString(s)
	return unicode.IsUpper(r)
}
