package registry

import (
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/research-agent/internal/model"
)

// Validate checks a criteria set before a batch is planned over it:
// IDs are present and unique, every criterion asks a question, positive
// tokens are single words distinct from the negative answers, only yes/no
// criteria disqualify, and DependsOn names an earlier named-entity criterion.
func Validate(criteria []model.Criterion) error {
	byID := make(map[string]model.Criterion, len(criteria))
	for _, c := range criteria {
		if c.ID == "" {
			return eris.Errorf("registry: criterion %q has no id", c.Name)
		}
		if _, dup := byID[c.ID]; dup {
			return eris.Errorf("registry: duplicate criterion id %q", c.ID)
		}
		byID[c.ID] = c

		if strings.TrimSpace(c.Question) == "" {
			return eris.Errorf("registry: criterion %q has no question", c.ID)
		}

		tok := c.Positive()
		if strings.ContainsAny(tok, " \t\n") {
			return eris.Errorf("registry: criterion %q positive token %q must be one word", c.ID, tok)
		}
		if strings.EqualFold(tok, model.AnswerNo) || strings.EqualFold(tok, model.AnswerUnknown) {
			return eris.Errorf("registry: criterion %q positive token %q collides with a negative answer", c.ID, tok)
		}
		if c.Disqualifying && c.Kind() == model.KindNamedEntity {
			return eris.Errorf("registry: named-entity criterion %q cannot disqualify", c.ID)
		}
	}

	for _, c := range criteria {
		if c.DependsOn == "" {
			continue
		}
		dep, ok := byID[c.DependsOn]
		if !ok {
			return eris.Errorf("registry: criterion %q depends on unknown %q", c.ID, c.DependsOn)
		}
		if dep.Kind() != model.KindNamedEntity {
			return eris.Errorf("registry: criterion %q depends on %q, which does not produce a name", c.ID, dep.ID)
		}
		if dep.Order >= c.Order {
			return eris.Errorf("registry: criterion %q must run after %q", c.ID, dep.ID)
		}
	}
	return nil
}
