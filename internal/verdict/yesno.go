package verdict

import (
	"regexp"
	"strings"

	"github.com/sells-group/research-agent/internal/model"
)

var (
	affirmativeRe = regexp.MustCompile(`(?i)\b(yes|positive|affirmative)\b`)
	negativeRe    = regexp.MustCompile(`(?i)\b(no|not|negative)\b`)
)

// YesNo maps affirmative cues to the criterion's positive token and
// everything else to NO.
type YesNo struct{}

// Kind implements Policy.
func (YesNo) Kind() model.CriterionKind { return model.KindYesNo }

// Extract implements Policy. The short answer line is read first, then the
// rest of the answer segment, then the whole text for affirmative cues.
func (YesNo) Extract(text string, c model.Criterion) Verdict {
	positive := c.Positive()
	r := parseResponse(text)
	v := shared(text, r)

	switch {
	case r.marked && isUnknownToken(r.short):
		v.Answer = model.AnswerUnknown
	default:
		if affirmative(text, r, positive) {
			v.Answer = positive
		} else {
			v.Answer = model.AnswerNo
		}
	}
	return v
}

func affirmative(text string, r response, positive string) bool {
	if r.marked {
		if decided, yes := decide(r.short, positive); decided {
			return yes
		}
		if decided, yes := decide(r.segment, positive); decided {
			return yes
		}
	}
	return affirmativeRe.MatchString(text) || containsToken(text, positive)
}

// decide reports whether s carries a polarity cue, and which one. The
// earliest cue wins.
func decide(s, positive string) (decided, yes bool) {
	pos := firstIndex(affirmativeRe, s)
	if p := tokenIndex(s, positive); p >= 0 && (pos < 0 || p < pos) {
		pos = p
	}
	neg := firstIndex(negativeRe, s)
	switch {
	case pos < 0 && neg < 0:
		return false, false
	case neg < 0:
		return true, true
	case pos < 0:
		return true, false
	default:
		return true, pos < neg
	}
}

func firstIndex(re *regexp.Regexp, s string) int {
	loc := re.FindStringIndex(s)
	if loc == nil {
		return -1
	}
	return loc[0]
}

// tokenIndex finds a custom positive token such as QUALIFIED as a whole
// word. YES is already covered by affirmativeRe.
func tokenIndex(s, token string) int {
	if token == "" || strings.EqualFold(token, model.AnswerYes) {
		return -1
	}
	re := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(token) + `\b`)
	return firstIndex(re, s)
}

func containsToken(s, token string) bool {
	return tokenIndex(s, token) >= 0
}

// Polarity reports the polarity of text only when it is unambiguous: one
// kind of cue present and not the other.
func Polarity(text, positive string) (decided, yes bool) {
	pos := affirmativeRe.MatchString(text) || containsToken(text, positive)
	neg := negativeRe.MatchString(text)
	switch {
	case pos && !neg:
		return true, true
	case neg && !pos:
		return true, false
	default:
		return false, false
	}
}
