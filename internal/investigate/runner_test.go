package investigate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/research-agent/internal/events"
	"github.com/sells-group/research-agent/internal/llm"
	"github.com/sells-group/research-agent/internal/model"
	"github.com/sells-group/research-agent/internal/resilience"
)

type memStore struct {
	mu      sync.Mutex
	results map[string]model.Result
	states  map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{results: make(map[string]model.Result), states: make(map[string][]byte)}
}

func (s *memStore) SaveResult(_ context.Context, entityID string, r model.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[entityID+"/"+r.CriterionID] = r
	return nil
}

func (s *memStore) SaveState(_ context.Context, st *model.InvestigationState) error {
	b, err := json.Marshal(st)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[st.ID] = b
	return nil
}

func (s *memStore) GetState(_ context.Context, id string) (*model.InvestigationState, error) {
	s.mu.Lock()
	b, ok := s.states[id]
	s.mu.Unlock()
	if !ok {
		return nil, eris.New("not found")
	}
	var st model.InvestigationState
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *memStore) Results() map[string]model.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]model.Result, len(s.results))
	for k, v := range s.results {
		out[k] = v
	}
	return out
}

func companies(n int) []model.Entity {
	out := make([]model.Entity, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, model.Entity{ID: fmt.Sprintf("e%02d", i), Name: fmt.Sprintf("Company %02d", i), City: "Austin"})
	}
	return out
}

func entityIDs(entities []model.Entity) []string {
	ids := make([]string, 0, len(entities))
	for _, e := range entities {
		ids = append(ids, e.ID)
	}
	return ids
}

func firstTurn(req llm.Request) string {
	if len(req.Turns) == 0 {
		return ""
	}
	return req.Turns[0].Content
}

func newRunner(h *harness, store Store, entities []model.Entity, criteria []model.Criterion) *Runner {
	return NewRunner(h.ctrl, NewCatalog(entities, criteria), store, nil, h.sink)
}

func TestRunner_SweepCarriesFindings(t *testing.T) {
	respond := func(_ int, req llm.Request) (string, error) {
		if strings.Contains(firstTurn(req), "Who owns") {
			return "Final Answer: NAME\nJohn Smith\nConfidence: HIGH", nil
		}
		return finalYes, nil
	}
	h := newHarness(t, respond, Options{}, nil)
	store := newMemStore()
	entities := companies(2)
	r := newRunner(h, store, entities, []model.Criterion{familyOwned, ownerName})

	st, err := r.Start(context.Background(), Plan{
		Mode:         model.ModeSweep,
		EntityIDs:    entityIDs(entities),
		CriterionIDs: []string{familyOwned.ID, ownerName.ID},
	})
	require.NoError(t, err)

	assert.Equal(t, model.RunComplete, st.Status)
	assert.Equal(t, []string{ownerName.ID, familyOwned.ID}, st.CriterionIDs, "criteria run by Order")
	assert.Len(t, store.Results(), 4)
	assert.Equal(t, "John Smith", st.Findings["e01"]["owner_name"])
	assert.Equal(t, "John Smith", st.Findings["e01"][ownerName.ID])

	// Criterion-major: both owner prompts before any family prompt.
	require.Equal(t, 4, h.model.Calls())
	assert.Contains(t, firstTurn(h.model.requests[0]), "Company 01")
	assert.Contains(t, firstTurn(h.model.requests[1]), "Company 02")
	assert.Contains(t, firstTurn(h.model.requests[2]), "owner_name: John Smith")

	types := h.sink.Types()
	require.NotEmpty(t, types)
	assert.Equal(t, events.TypeCriterionStart, types[0])
	assert.Equal(t, events.TypeEntityStart, types[1])
	assert.Equal(t, events.TypeCompanyStart, types[2])
	assert.Equal(t, events.TypeComplete, types[len(types)-1])
	assert.Equal(t, 2, h.sink.Count(events.TypeCriterionStart))

	assert.InDelta(t, st.Cost.Total, r.Ledger().Investigation(st.ID).Total, 1e-9)
	assert.Greater(t, st.Cost.Total, 0.0)
}

func TestRunner_DisqualifiedEntitiesSkipped(t *testing.T) {
	gate := model.Criterion{ID: "in_business", Name: "In business", Question: "Is the company still operating?", Disqualifying: true, Order: 0}
	respond := func(_ int, req llm.Request) (string, error) {
		if strings.Contains(firstTurn(req), "Company 01") && strings.Contains(firstTurn(req), "still operating") {
			return "Final Answer: NO\nNo, it closed in 2019.\nConfidence: HIGH", nil
		}
		return finalYes, nil
	}
	h := newHarness(t, respond, Options{}, nil)
	store := newMemStore()
	entities := companies(2)
	r := newRunner(h, store, entities, []model.Criterion{gate, familyOwned})

	st, err := r.Start(context.Background(), Plan{
		Mode:         model.ModeSweep,
		EntityIDs:    entityIDs(entities),
		CriterionIDs: []string{gate.ID, familyOwned.ID},
	})
	require.NoError(t, err)

	assert.Equal(t, model.RunComplete, st.Status)
	assert.True(t, st.IsDisqualified("e01"))
	assert.Equal(t, 3, h.model.Calls())
	results := store.Results()
	assert.Len(t, results, 3)
	_, ok := results["e01/"+familyOwned.ID]
	assert.False(t, ok)
	assert.Equal(t, 1, h.sink.Count(events.TypeCompanyDisqualified))
	assert.Equal(t, 1, h.sink.Count(events.TypeCompanySkipped))
}

func TestRunner_FatalHaltsRemainingEntities(t *testing.T) {
	respond := func(_ int, req llm.Request) (string, error) {
		if len(req.Turns) == 1 {
			name := strings.TrimPrefix(strings.SplitN(firstTurn(req), "\n", 3)[1], "- Name: ")
			return fmt.Sprintf(`<tool name="search">%s owner</tool>`, name), nil
		}
		return finalYes, nil
	}
	h := newHarness(t, respond, Options{}, nil)
	h.search.exec = func(_ context.Context, query string) (model.ToolResult, error) {
		if strings.Contains(query, "Company 03") {
			return model.ToolResult{}, resilience.NewFatalError("perplexity", errors.New("402 payment required"))
		}
		return model.ToolResult{Content: "Family owned since 1990."}, nil
	}
	store := newMemStore()
	entities := companies(10)
	r := newRunner(h, store, entities, []model.Criterion{familyOwned})

	st, err := r.Start(context.Background(), Plan{
		Mode:         model.ModeColumn,
		EntityIDs:    entityIDs(entities),
		CriterionIDs: []string{familyOwned.ID},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFatalProvider))

	assert.Equal(t, model.RunCancelled, st.Status)
	assert.Equal(t, 2, st.Cursor.EntityIndex)
	assert.Len(t, store.Results(), 2)
	assert.Equal(t, int32(3), h.search.calls.Load())
	assert.Equal(t, 5, h.model.Calls(), "entities 4-10 make no external calls")

	saved, err := store.GetState(context.Background(), st.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunCancelled, saved.Status)
	assert.Contains(t, saved.Error, "payment required")
}

func TestRunner_PauseAndResume(t *testing.T) {
	var h *harness
	respond := func(n int, _ llm.Request) (string, error) {
		if n == 2 {
			h.ctl.Pause()
		}
		return finalYes, nil
	}
	h = newHarness(t, respond, Options{}, nil)
	store := newMemStore()
	entities := companies(3)
	r := newRunner(h, store, entities, []model.Criterion{familyOwned})

	st, err := r.Start(context.Background(), Plan{
		Mode:         model.ModeColumn,
		EntityIDs:    entityIDs(entities),
		CriterionIDs: []string{familyOwned.ID},
	})
	require.NoError(t, err)
	assert.Equal(t, model.RunPaused, st.Status)
	assert.True(t, st.Paused)
	assert.Equal(t, 2, st.Completed())
	require.NotNil(t, st.Pending)
	assert.Equal(t, "e03", st.Pending.EntityID)
	assert.Equal(t, 1, h.sink.Count(events.TypePaused))
	assert.Equal(t, 2, h.model.Calls())

	st, err = r.Resume(context.Background(), st.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunComplete, st.Status)
	assert.Nil(t, st.Pending)
	assert.Len(t, store.Results(), 3)
	assert.Equal(t, 3, h.model.Calls())

	st, err = r.Resume(context.Background(), st.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunComplete, st.Status)
	assert.Equal(t, 3, h.model.Calls(), "resuming a finished batch is a no-op")
}

func TestRunner_ValidatePlan(t *testing.T) {
	h := newHarness(t, replies(finalYes), Options{}, nil)
	entities := companies(2)
	r := newRunner(h, newMemStore(), entities, []model.Criterion{familyOwned})

	tests := []struct {
		name string
		plan Plan
	}{
		{"no entities", Plan{CriterionIDs: []string{familyOwned.ID}}},
		{"no criteria", Plan{EntityIDs: []string{"e01"}}},
		{"unknown entity", Plan{EntityIDs: []string{"nope"}, CriterionIDs: []string{familyOwned.ID}}},
		{"unknown criterion", Plan{EntityIDs: []string{"e01"}, CriterionIDs: []string{"nope"}}},
		{"single takes one pair", Plan{Mode: model.ModeSingle, EntityIDs: entityIDs(entities), CriterionIDs: []string{familyOwned.ID}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Create(context.Background(), tt.plan)
			assert.Error(t, err)
		})
	}
}

func TestCatalog(t *testing.T) {
	c := NewCatalog(companies(2), []model.Criterion{familyOwned, ownerName})

	assert.Equal(t, []string{"e01", "e02"}, c.EntityIDs())
	crits := c.Criteria()
	require.Len(t, crits, 2)
	assert.Equal(t, ownerName.ID, crits[0].ID)
	_, ok := c.Entity("e03")
	assert.False(t, ok)
}
