// Package events defines the progress events emitted while investigations
// run and a bus that fans them out to subscribers.
package events

import (
	"time"

	"github.com/sells-group/research-agent/internal/model"
)

// Type names an event kind. Consumers must ignore kinds they do not know.
type Type string

const (
	TypeCriterionStart      Type = "criterion_start"
	TypeEntityStart         Type = "entity_start"
	TypeCompanyStart        Type = "company_start"
	TypeCompanySkipped      Type = "company_skipped"
	TypeCompanyDisqualified Type = "company_disqualified"
	TypeToolRequest         Type = "tool_request"
	TypeToolApprovalNeeded  Type = "tool_approval_needed"
	TypeToolResult          Type = "tool_result"
	TypeModelResponse       Type = "model_response"
	TypeFinalResult         Type = "final_result"
	TypeResearchError       Type = "research_error"
	TypePaused              Type = "paused"
	TypeComplete            Type = "investigation_complete"
)

// Event is a flat progress record. Only the fields relevant to Type are set.
type Event struct {
	Type            Type          `json:"type"`
	InvestigationID string        `json:"investigationId,omitempty"`
	EntityID        string        `json:"entityId,omitempty"`
	EntityName      string        `json:"entityName,omitempty"`
	CriterionID     string        `json:"criterionId,omitempty"`
	CriterionName   string        `json:"criterionName,omitempty"`
	Tool            string        `json:"tool,omitempty"`
	Query           string        `json:"query,omitempty"`
	Content         string        `json:"content,omitempty"`
	Links           []string      `json:"links,omitempty"`
	Cached          bool          `json:"cached,omitempty"`
	Iteration       int           `json:"iteration,omitempty"`
	Remaining       int           `json:"remaining,omitempty"`
	Reason          string        `json:"reason,omitempty"`
	Error           string        `json:"error,omitempty"`
	Result          *model.Result `json:"result,omitempty"`
	Progress        *Progress     `json:"progress,omitempty"`
	Timestamp       time.Time     `json:"timestamp"`
}

// Progress locates an event within a batch.
type Progress struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
}

// Sink receives events.
type Sink interface {
	Emit(e Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(e Event)

// Emit implements Sink.
func (f SinkFunc) Emit(e Event) { f(e) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

// Multi fans an event out to several sinks in order.
func Multi(sinks ...Sink) Sink {
	return SinkFunc(func(e Event) {
		for _, s := range sinks {
			if s != nil {
				s.Emit(e)
			}
		}
	})
}
