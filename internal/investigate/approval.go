package investigate

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
)

// ApprovalRequest describes a tool call waiting for the operator.
type ApprovalRequest struct {
	InvestigationID string `json:"investigationId"`
	EntityID        string `json:"entityId"`
	EntityName      string `json:"entityName"`
	CriterionID     string `json:"criterionId"`
	Tool            string `json:"tool"`
	Query           string `json:"query"`
	Iteration       int    `json:"iteration"`
}

// Decision is the operator's answer. A non-empty Query replaces the
// model's query.
type Decision struct {
	Approved bool   `json:"approved"`
	Query    string `json:"query,omitempty"`
}

// Approver decides whether a tool call may run. Approve blocks until a
// decision is made or ctx is done.
type Approver interface {
	Approve(ctx context.Context, req ApprovalRequest) (Decision, error)
}

// ApproverFunc adapts a function to Approver.
type ApproverFunc func(ctx context.Context, req ApprovalRequest) (Decision, error)

// Approve implements Approver.
func (f ApproverFunc) Approve(ctx context.Context, req ApprovalRequest) (Decision, error) {
	return f(ctx, req)
}

// AutoApprove approves every request unchanged.
var AutoApprove Approver = ApproverFunc(func(context.Context, ApprovalRequest) (Decision, error) {
	return Decision{Approved: true}, nil
})

// ErrNoPendingApproval is returned when resolving an approval nobody is
// waiting on.
var ErrNoPendingApproval = eris.New("investigate: no pending approval")

// Gate is an Approver that parks each request until Resolve is called,
// for operators answering over the HTTP API. One request per investigation
// can be pending at a time.
type Gate struct {
	mu      sync.Mutex
	pending map[string]*gateEntry
}

type gateEntry struct {
	req ApprovalRequest
	ch  chan Decision
}

// NewGate creates an empty gate.
func NewGate() *Gate {
	return &Gate{pending: make(map[string]*gateEntry)}
}

// Approve implements Approver.
func (g *Gate) Approve(ctx context.Context, req ApprovalRequest) (Decision, error) {
	entry := &gateEntry{req: req, ch: make(chan Decision, 1)}
	g.mu.Lock()
	g.pending[req.InvestigationID] = entry
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		if g.pending[req.InvestigationID] == entry {
			delete(g.pending, req.InvestigationID)
		}
		g.mu.Unlock()
	}()

	select {
	case d := <-entry.ch:
		return d, nil
	case <-ctx.Done():
		return Decision{}, ctx.Err()
	}
}

// Resolve delivers a decision to the waiting request of an investigation.
func (g *Gate) Resolve(investigationID string, d Decision) error {
	g.mu.Lock()
	entry, ok := g.pending[investigationID]
	if ok {
		delete(g.pending, investigationID)
	}
	g.mu.Unlock()

	if !ok {
		return eris.Wrapf(ErrNoPendingApproval, "investigation %s", investigationID)
	}
	entry.ch <- d
	return nil
}

// Pending lists the requests waiting for a decision.
func (g *Gate) Pending() []ApprovalRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]ApprovalRequest, 0, len(g.pending))
	for _, e := range g.pending {
		out = append(out, e.req)
	}
	return out
}
