package verdict

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/sells-group/research-agent/internal/model"
)

const nameShape = `([A-Z][\w.'\-]*(?:[ \t]+(?:(?:van|von|de|der|del|da|di|du|la|le)[ \t]+)?[A-Z][\w.'\-]*){0,3})`

var notNames = map[string]bool{
	"The": true, "A": true, "An": true, "Unknown": true, "Not": true,
	"None": true, "No": true, "Yes": true, "It": true, "This": true,
	"That": true, "There": true, "They": true, "He": true, "She": true,
	"I": true, "We": true, "Our": true, "Unable": true, "Based": true,
	"According": true, "Unclear": true, "Undetermined": true,
	"Undisclosed": true, "Cannot": true, "Could": true, "Insufficient": true,
}

var nameParticles = map[string]bool{
	"van": true, "von": true, "de": true, "der": true, "den": true,
	"del": true, "della": true, "da": true, "di": true, "du": true,
	"la": true, "le": true, "bin": true, "al": true,
}

var negativeCues = []string{"could not find", "unclear", "not identified", "unknown"}

// NamedEntity extracts a proper name for open-ended "who is" criteria.
type NamedEntity struct{}

// Kind implements Policy.
func (NamedEntity) Kind() model.CriterionKind { return model.KindNamedEntity }

// Extract implements Policy. An explicit final-answer line wins when it is
// shaped like a name; otherwise the role patterns are tried in order.
func (NamedEntity) Extract(text string, c model.Criterion) Verdict {
	r := parseResponse(text, model.PositiveTokenName, c.Positive())
	v := shared(text, r)

	if r.marked {
		switch {
		case isUnknownToken(r.short):
			v.Answer = model.AnswerUnknown
			return v
		case nameLike(r.short):
			v.Answer = cleanName(r.short)
			v.Finding = &Finding{Key: c.FindingKey(), Value: v.Answer}
			return v
		}
	}

	if name := matchRolePatterns(text, c.RoleOrDefault()); name != "" {
		v.Answer = name
		v.Finding = &Finding{Key: c.FindingKey(), Value: name}
		return v
	}

	v.Answer = model.AnswerUnknown
	if cue := negativeCue(text); cue != "" && v.Explanation == "" {
		v.Explanation = "Model reported: " + cue
	}
	return v
}

// nameLike accepts a short capitalized phrase that is not a bare
// yes/no/unknown token.
func nameLike(s string) bool {
	s = cleanName(s)
	if s == "" || isUnknownToken(s) {
		return false
	}
	switch strings.ToLower(s) {
	case "yes", "no", "name":
		return false
	}
	first, _ := utf8.DecodeRuneInString(s)
	if !unicode.IsUpper(first) {
		return false
	}
	words := strings.Fields(s)
	if len(words) > 5 || notNames[words[0]] {
		return false
	}
	for _, w := range words[1:] {
		r, _ := utf8.DecodeRuneInString(w)
		if !unicode.IsUpper(r) && !nameParticles[w] {
			return false
		}
	}
	return true
}

// cleanName trims role suffixes such as "John Smith (CEO)" or
// "John Smith, owner".
func cleanName(s string) string {
	s = cleanLine(s)
	for _, sep := range []string{" (", ", ", " - ", " – ", ";"} {
		if i := strings.Index(s, sep); i > 0 {
			s = s[:i]
		}
	}
	return strings.TrimRight(strings.TrimSpace(s), ".,;:")
}

func rolePatterns(role string) []*regexp.Regexp {
	r := regexp.QuoteMeta(strings.ToLower(role))
	return []*regexp.Regexp{
		regexp.MustCompile(`(?i:\b` + r + `\s+is\s+)` + nameShape),
		regexp.MustCompile(nameShape + `(?i:\s+is\s+the\s+(?:[a-z\-]+\s+)?` + r + `\b)`),
		regexp.MustCompile(`(?i:\bname\s*:\s*)` + nameShape),
		regexp.MustCompile(`(?i:\bfound\s*:\s*)` + nameShape),
	}
}

func matchRolePatterns(text, role string) string {
	for _, re := range rolePatterns(role) {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			name := trimLeadingNonNames(m[1])
			if name != "" {
				return name
			}
		}
	}
	return ""
}

// trimLeadingNonNames drops leading capitalized words such as "The" so a
// match like "The Owner Jane Doe" keeps only plausible name words.
func trimLeadingNonNames(s string) string {
	words := strings.Fields(s)
	for len(words) > 0 && notNames[words[0]] {
		words = words[1:]
	}
	return strings.TrimRight(strings.Join(words, " "), ".,;:")
}

func negativeCue(text string) string {
	lower := strings.ToLower(text)
	for _, c := range negativeCues {
		if strings.Contains(lower, c) {
			return c
		}
	}
	return ""
}
