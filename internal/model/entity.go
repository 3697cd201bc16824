package model

import "strings"

// Entity is a business under investigation.
type Entity struct {
	ID           string            `json:"id" yaml:"id"`
	Name         string            `json:"name" yaml:"name"`
	Website      string            `json:"website,omitempty" yaml:"website,omitempty"`
	City         string            `json:"city,omitempty" yaml:"city,omitempty"`
	State        string            `json:"state,omitempty" yaml:"state,omitempty"`
	Location     string            `json:"location,omitempty" yaml:"location,omitempty"`
	SalesforceID string            `json:"salesforce_id,omitempty" yaml:"salesforce_id,omitempty"`
	NotionPageID string            `json:"notion_page_id,omitempty" yaml:"notion_page_id,omitempty"`
	Results      map[string]Result `json:"results,omitempty" yaml:"-"`
}

// SetResult records the latest result for a criterion, replacing any
// earlier one.
func (e *Entity) SetResult(r Result) {
	if e.Results == nil {
		e.Results = make(map[string]Result)
	}
	e.Results[r.CriterionID] = r
}

// Place returns the most specific location string available.
func (e Entity) Place() string {
	if e.Location != "" {
		return e.Location
	}
	parts := make([]string, 0, 2)
	if e.City != "" {
		parts = append(parts, e.City)
	}
	if e.State != "" {
		parts = append(parts, e.State)
	}
	return strings.Join(parts, ", ")
}

// Placeholders returns the template variables for first-query rendering.
func (e Entity) Placeholders() map[string]string {
	return map[string]string{
		"entity_name":  e.Name,
		"company_name": e.Name,
		"city":         e.City,
		"state":        e.State,
		"website":      e.Website,
		"location":     e.Place(),
	}
}
