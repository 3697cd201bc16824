package verify

import (
	"math"
	"strings"

	"github.com/sells-group/research-agent/internal/model"
	"github.com/sells-group/research-agent/internal/verdict"
)

var (
	confirmPhrases = []string{
		"confirmed", "confirms", "verified", "is indeed", "is correct",
		"accurate", "official records", "according to the company",
	}
	multiSourcePhrases = []string{
		"according to", "reported by", "sources confirm", "multiple sources",
	}
	contradictPhrases = []string{
		"not the", "no longer", "former", "incorrect",
	}
)

// Signal weights.
const (
	weightConfirm     = 0.3
	weightRoleName    = 0.2
	weightMultiSource = 0.2
	weightNameEntity  = 0.2
	weightContradict  = -0.4
)

// Score rates how strongly text supports answer, clamped to [0,1].
func Score(text string, entity model.Entity, c model.Criterion, answer string) float64 {
	lower := strings.ToLower(text)
	score := 0.0

	if containsAny(lower, confirmPhrases) {
		score += weightConfirm
	}

	entityNamed := entity.Name != "" && strings.Contains(lower, strings.ToLower(entity.Name))
	if c.Kind() == model.KindNamedEntity {
		nameNamed := answer != "" && strings.Contains(lower, strings.ToLower(answer))
		if nameNamed && strings.Contains(lower, strings.ToLower(c.RoleOrDefault())) {
			score += weightRoleName
		}
		if nameNamed && entityNamed {
			score += weightNameEntity
		}
	} else {
		// For yes/no answers the claim is the polarity and the subject is
		// the entity.
		decided, yes := verdict.Polarity(text, c.Positive())
		if decided && yes == (answer == c.Positive()) {
			score += weightRoleName
		}
		if entityNamed {
			score += weightNameEntity
		}
	}

	if countAll(lower, multiSourcePhrases) >= 2 {
		score += weightMultiSource
	}
	if containsAny(lower, contradictPhrases) {
		score += weightContradict
	}

	// Weights are tenths; rounding keeps threshold comparisons exact.
	score = math.Round(score*100) / 100
	switch {
	case score < 0:
		return 0
	case score > 1:
		return 1
	default:
		return score
	}
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// countAll counts every occurrence of every phrase, so a phrase repeated
// for two sources counts twice.
func countAll(s string, phrases []string) int {
	n := 0
	for _, p := range phrases {
		n += strings.Count(s, p)
	}
	return n
}
