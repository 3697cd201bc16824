package model

import (
	"sort"
	"strings"
)

// PositiveTokenName marks a criterion whose answer is an open-ended proper
// name rather than a yes/no verdict.
const PositiveTokenName = "NAME"

// CriterionKind selects the verdict extraction policy for a criterion.
type CriterionKind string

const (
	KindYesNo       CriterionKind = "yes_no"
	KindNamedEntity CriterionKind = "named_entity"
)

// Criterion is a single research question asked of every entity.
type Criterion struct {
	ID              string `json:"id" yaml:"id"`
	Name            string `json:"name" yaml:"name"`
	Question        string `json:"question" yaml:"question"`
	PositiveToken   string `json:"positive_token" yaml:"positive_token"`
	Guidance        string `json:"guidance,omitempty" yaml:"guidance,omitempty"`
	FirstQuery      string `json:"first_query,omitempty" yaml:"first_query,omitempty"`
	Disqualifying   bool   `json:"disqualifying" yaml:"disqualifying"`
	Order           int    `json:"order" yaml:"order"`
	Role            string `json:"role,omitempty" yaml:"role,omitempty"`
	DependsOn       string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	SalesforceField string `json:"salesforce_field,omitempty" yaml:"salesforce_field,omitempty"`
}

// Kind reports which extraction policy applies to the criterion.
func (c Criterion) Kind() CriterionKind {
	if strings.EqualFold(strings.TrimSpace(c.PositiveToken), PositiveTokenName) {
		return KindNamedEntity
	}
	return KindYesNo
}

// Positive returns the token recorded for an affirmative verdict. Yes/no
// criteria without an explicit token default to YES.
func (c Criterion) Positive() string {
	tok := strings.TrimSpace(c.PositiveToken)
	if tok == "" {
		return AnswerYes
	}
	return tok
}

// RoleOrDefault returns the role word used by named-entity patterns.
func (c Criterion) RoleOrDefault() string {
	if c.Role != "" {
		return c.Role
	}
	return "owner"
}

// FindingKey is the key under which a named-entity answer is carried into
// dependent criteria, e.g. "owner_name".
func (c Criterion) FindingKey() string {
	return strings.ReplaceAll(strings.ToLower(c.RoleOrDefault()), " ", "_") + "_name"
}

// SortCriteria orders criteria by Order, then ID, in place.
func SortCriteria(criteria []Criterion) {
	sort.SliceStable(criteria, func(i, j int) bool {
		if criteria[i].Order != criteria[j].Order {
			return criteria[i].Order < criteria[j].Order
		}
		return criteria[i].ID < criteria[j].ID
	})
}
