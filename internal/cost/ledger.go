package cost

import (
	"sync"

	"github.com/sells-group/research-agent/internal/model"
)

// Ledger aggregates cost per investigation and for the whole session.
// Safe for concurrent use.
type Ledger struct {
	mu       sync.Mutex
	session  model.CostBreakdown
	byRunID  map[string]model.CostBreakdown
	byEntity map[string]model.CostBreakdown
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		byRunID:  make(map[string]model.CostBreakdown),
		byEntity: make(map[string]model.CostBreakdown),
	}
}

// Record adds one pair's cost under its investigation and entity.
func (l *Ledger) Record(runID, entityID string, b model.CostBreakdown) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.session.Add(b)

	run := l.byRunID[runID]
	run.Add(b)
	l.byRunID[runID] = run

	ent := l.byEntity[entityID]
	ent.Add(b)
	l.byEntity[entityID] = ent
}

// Investigation returns the accumulated cost of one investigation.
func (l *Ledger) Investigation(runID string) model.CostBreakdown {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.byRunID[runID]
}

// Entity returns the accumulated cost spent on one entity.
func (l *Ledger) Entity(entityID string) model.CostBreakdown {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.byEntity[entityID]
}

// Session returns the cumulative cost since the ledger was created.
func (l *Ledger) Session() model.CostBreakdown {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.session
}
