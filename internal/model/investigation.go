package model

import "time"

// Role identifies the speaker of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in an investigation transcript.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ToolRequest is a tool invocation parsed from a model turn.
type ToolRequest struct {
	Tool  string `json:"tool"`
	Query string `json:"query"`
}

// ToolResult is the payload returned by a tool, or the structured error
// that replaced it.
type ToolResult struct {
	Content string   `json:"content"`
	Links   []string `json:"links,omitempty"`
	IsError bool     `json:"isError"`
	Error   string   `json:"error,omitempty"`
	Fatal   bool     `json:"fatal,omitempty"`
	Cached  bool     `json:"cached,omitempty"`
	Cost    float64  `json:"cost,omitempty"`
}

// Mode is the execution mode of an investigation batch.
type Mode string

const (
	ModeSingle Mode = "single"
	ModeColumn Mode = "column"
	ModeSweep  Mode = "sweep"
)

// RunStatus is the lifecycle status of an InvestigationState.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunPaused    RunStatus = "paused"
	RunComplete  RunStatus = "complete"
	RunCancelled RunStatus = "cancelled"
	RunFailed    RunStatus = "failed"
)

// Cursor points at the next (entity, criterion) pair to run.
type Cursor struct {
	EntityIndex    int `json:"entityIndex"`
	CriterionIndex int `json:"criterionIndex"`
}

// PairCheckpoint captures the committed work of a paused pair so resume
// continues without re-running tool calls.
type PairCheckpoint struct {
	EntityID    string           `json:"entityId"`
	CriterionID string           `json:"criterionId"`
	Turns       []Turn           `json:"turns"`
	ToolCalls   []ToolCallRecord `json:"toolCalls"`
	Iterations  int              `json:"iterations"`
	Usage       TokenUsage       `json:"usage"`
	Cost        CostBreakdown    `json:"cost"`
	Reminders   int              `json:"reminders"`
}

// InvestigationState is the resumable unit of a batch.
type InvestigationState struct {
	ID           string                       `json:"id"`
	Mode         Mode                         `json:"mode"`
	EntityIDs    []string                     `json:"entityIds"`
	CriterionIDs []string                     `json:"criterionIds"`
	Cursor       Cursor                       `json:"cursor"`
	Paused       bool                         `json:"paused"`
	Findings     map[string]map[string]string `json:"findings,omitempty"`
	Disqualified map[string]string            `json:"disqualified,omitempty"`
	Pending      *PairCheckpoint              `json:"pending,omitempty"`
	Status       RunStatus                    `json:"status"`
	Error        string                       `json:"error,omitempty"`
	Cost         CostBreakdown                `json:"cost"`
	CreatedAt    time.Time                    `json:"createdAt"`
	UpdatedAt    time.Time                    `json:"updatedAt"`
}

// Total returns the number of pairs in the batch.
func (s *InvestigationState) Total() int {
	return len(s.EntityIDs) * len(s.CriterionIDs)
}

// Done reports whether the cursor has moved past the last pair.
func (s *InvestigationState) Done() bool {
	if len(s.EntityIDs) == 0 || len(s.CriterionIDs) == 0 {
		return true
	}
	if s.Mode == ModeSweep {
		return s.Cursor.CriterionIndex >= len(s.CriterionIDs)
	}
	return s.Cursor.EntityIndex >= len(s.EntityIDs)
}

// Advance moves the cursor to the next pair. Sweep mode is criterion-major:
// each criterion runs over all entities before the next criterion starts.
func (s *InvestigationState) Advance() {
	if s.Mode == ModeSweep {
		s.Cursor.EntityIndex++
		if s.Cursor.EntityIndex >= len(s.EntityIDs) {
			s.Cursor.EntityIndex = 0
			s.Cursor.CriterionIndex++
		}
		return
	}
	s.Cursor.CriterionIndex++
	if s.Cursor.CriterionIndex >= len(s.CriterionIDs) {
		s.Cursor.CriterionIndex = 0
		s.Cursor.EntityIndex++
	}
}

// Current returns the IDs at the cursor. ok is false when done.
func (s *InvestigationState) Current() (entityID, criterionID string, ok bool) {
	if s.Done() {
		return "", "", false
	}
	return s.EntityIDs[s.Cursor.EntityIndex], s.CriterionIDs[s.Cursor.CriterionIndex], true
}

// Completed returns the number of pairs behind the cursor.
func (s *InvestigationState) Completed() int {
	if s.Done() {
		return s.Total()
	}
	if s.Mode == ModeSweep {
		return s.Cursor.CriterionIndex*len(s.EntityIDs) + s.Cursor.EntityIndex
	}
	return s.Cursor.EntityIndex*len(s.CriterionIDs) + s.Cursor.CriterionIndex
}

// AddFinding records a finding carried into dependent criteria.
func (s *InvestigationState) AddFinding(entityID, key, value string) {
	if s.Findings == nil {
		s.Findings = make(map[string]map[string]string)
	}
	if s.Findings[entityID] == nil {
		s.Findings[entityID] = make(map[string]string)
	}
	s.Findings[entityID][key] = value
}

// FindingsFor returns a copy of the findings for an entity.
func (s *InvestigationState) FindingsFor(entityID string) map[string]string {
	out := make(map[string]string, len(s.Findings[entityID]))
	for k, v := range s.Findings[entityID] {
		out[k] = v
	}
	return out
}

// Disqualify marks an entity as excluded from remaining criteria.
func (s *InvestigationState) Disqualify(entityID, criterionID string) {
	if s.Disqualified == nil {
		s.Disqualified = make(map[string]string)
	}
	s.Disqualified[entityID] = criterionID
}

// IsDisqualified reports whether an entity was disqualified earlier.
func (s *InvestigationState) IsDisqualified(entityID string) bool {
	_, ok := s.Disqualified[entityID]
	return ok
}
