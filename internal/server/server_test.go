package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/research-agent/internal/events"
	"github.com/sells-group/research-agent/internal/investigate"
	"github.com/sells-group/research-agent/internal/model"
	"github.com/sells-group/research-agent/internal/store"
)

type fakeRunner struct {
	catalog *investigate.Catalog
	store   store.Store

	mu       sync.Mutex
	running  string
	paused   int
	resumed  []string
	resumeCh chan string
}

func (f *fakeRunner) Catalog() *investigate.Catalog { return f.catalog }

func (f *fakeRunner) Running() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeRunner) setRunning(id string) {
	f.mu.Lock()
	f.running = id
	f.mu.Unlock()
}

func (f *fakeRunner) Pause() {
	f.mu.Lock()
	f.paused++
	f.mu.Unlock()
}

func (f *fakeRunner) Create(ctx context.Context, plan investigate.Plan) (*model.InvestigationState, error) {
	if len(plan.EntityIDs) == 0 {
		return nil, eris.New("investigate: plan has no entities")
	}
	st := &model.InvestigationState{
		ID:           "inv-" + plan.EntityIDs[0],
		Mode:         plan.Mode,
		EntityIDs:    plan.EntityIDs,
		CriterionIDs: plan.CriterionIDs,
		Status:       model.RunPending,
		CreatedAt:    time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	return st, f.store.SaveState(ctx, st)
}

func (f *fakeRunner) Resume(ctx context.Context, id string) (*model.InvestigationState, error) {
	f.mu.Lock()
	f.resumed = append(f.resumed, id)
	f.mu.Unlock()
	if f.resumeCh != nil {
		f.resumeCh <- id
	}
	return f.store.GetState(ctx, id)
}

type harness struct {
	srv    *Server
	runner *fakeRunner
	store  store.Store
	gate   *investigate.Gate
	bus    *events.Bus
	router http.Handler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "server.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	catalog := investigate.NewCatalog(
		[]model.Entity{{ID: "acme", Name: "Acme Corp"}, {ID: "beta", Name: "Beta LLC"}},
		[]model.Criterion{
			{ID: "family_owned", Name: "Family owned", Question: "Is it family owned?", Order: 2},
			{ID: "owner", Name: "Owner", Question: "Who owns it?", Order: 1},
		},
	)
	runner := &fakeRunner{catalog: catalog, store: st, resumeCh: make(chan string, 4)}
	gate := investigate.NewGate()
	bus := events.NewBus(50)
	srv := New(Config{Port: 0}, runner, st, gate, bus)
	return &harness{srv: srv, runner: runner, store: st, gate: gate, bus: bus, router: srv.Router()}
}

func (h *harness) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCriteriaSortedByOrder(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodGet, "/api/criteria", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got []model.Criterion
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "owner", got[0].ID)
	assert.Equal(t, "family_owned", got[1].ID)
}

func TestEntities(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodGet, "/api/entities", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got []model.Entity
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "Acme Corp", got[0].Name)
}

func TestCreateInvestigation_StartsInBackground(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodPost, "/api/investigations", map[string]any{
		"mode":         "sweep",
		"entityIds":    []string{"acme"},
		"criterionIds": []string{"owner"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp investigationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "inv-acme", resp.State.ID)
	assert.Equal(t, 1, resp.Total)

	select {
	case id := <-h.runner.resumeCh:
		assert.Equal(t, "inv-acme", id)
	case <-time.After(2 * time.Second):
		t.Fatal("investigation was not resumed")
	}
	h.srv.Wait()
}

func TestCreateInvestigation_NoStart(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodPost, "/api/investigations", map[string]any{
		"entityIds":    []string{"beta"},
		"criterionIds": []string{"owner"},
		"start":        false,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	h.srv.Wait()
	assert.Empty(t, h.runner.resumed)
}

func TestCreateInvestigation_Busy(t *testing.T) {
	h := newHarness(t)
	h.runner.setRunning("other")

	rec := h.do(t, http.MethodPost, "/api/investigations", map[string]any{
		"entityIds":    []string{"acme"},
		"criterionIds": []string{"owner"},
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCreateInvestigation_BadRequest(t *testing.T) {
	h := newHarness(t)

	req := httptest.NewRequest(http.MethodPost, "/api/investigations", bytes.NewBufferString("{"))
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodPost, "/api/investigations", map[string]any{"criterionIds": []string{"owner"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "no entities")
}

func TestGetInvestigation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	st := &model.InvestigationState{
		ID:           "inv-1",
		Mode:         model.ModeSweep,
		EntityIDs:    []string{"acme", "beta"},
		CriterionIDs: []string{"owner"},
		Cursor:       model.Cursor{EntityIndex: 1},
		Status:       model.RunPaused,
	}
	require.NoError(t, h.store.SaveState(ctx, st))

	rec := h.do(t, http.MethodGet, "/api/investigations/inv-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp investigationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, model.RunPaused, resp.State.Status)
	assert.False(t, resp.Running)
	assert.Equal(t, 2, resp.Total)

	rec = h.do(t, http.MethodGet, "/api/investigations/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListInvestigations(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b"} {
		require.NoError(t, h.store.SaveState(ctx, &model.InvestigationState{
			ID: id, Mode: model.ModeSweep, EntityIDs: []string{"acme"}, CriterionIDs: []string{"owner"}, Status: model.RunPaused,
		}))
	}

	rec := h.do(t, http.MethodGet, "/api/investigations?status=paused", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got []model.InvestigationState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Len(t, got, 2)

	rec = h.do(t, http.MethodGet, "/api/investigations?status=complete", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestPause(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/api/investigations/inv-1/pause", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	h.runner.setRunning("inv-1")
	rec = h.do(t, http.MethodPost, "/api/investigations/inv-1/pause", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, h.runner.paused)
}

func TestResume(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.store.SaveState(ctx, &model.InvestigationState{
		ID: "inv-1", Mode: model.ModeSweep, EntityIDs: []string{"acme"}, CriterionIDs: []string{"owner"}, Status: model.RunPaused,
	}))

	rec := h.do(t, http.MethodPost, "/api/investigations/inv-1/resume", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	select {
	case id := <-h.runner.resumeCh:
		assert.Equal(t, "inv-1", id)
	case <-time.After(2 * time.Second):
		t.Fatal("investigation was not resumed")
	}
	h.srv.Wait()

	rec = h.do(t, http.MethodPost, "/api/investigations/missing/resume", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	h.runner.setRunning("other")
	rec = h.do(t, http.MethodPost, "/api/investigations/inv-1/resume", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestResume_CompleteIsNoop(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.SaveState(context.Background(), &model.InvestigationState{
		ID: "done", Mode: model.ModeSweep, EntityIDs: []string{"acme"}, CriterionIDs: []string{"owner"}, Status: model.RunComplete,
	}))

	rec := h.do(t, http.MethodPost, "/api/investigations/done/resume", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	h.srv.Wait()
	assert.Empty(t, h.runner.resumed)
}

func TestResults(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.store.SaveResult(ctx, "acme", model.Result{
		CriterionID: "owner", Answer: "Jane Doe", Confidence: model.ConfidenceHigh, Status: model.StatusComplete,
	}))
	require.NoError(t, h.store.SaveResult(ctx, "beta", model.Result{
		CriterionID: "owner", Answer: model.AnswerUnknown, Confidence: model.ConfidenceLow, Status: model.StatusBestEffort,
	}))

	rec := h.do(t, http.MethodGet, "/api/results?entity=acme", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got []model.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "Jane Doe", got[0].Answer)

	rec = h.do(t, http.MethodGet, "/api/results?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestApprovals(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/api/approvals", approvalRequest{InvestigationID: "inv-1", Approved: true})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	decided := make(chan investigate.Decision, 1)
	go func() {
		d, err := h.gate.Approve(context.Background(), investigate.ApprovalRequest{
			InvestigationID: "inv-1", Tool: "search", Query: "acme owner",
		})
		if err == nil {
			decided <- d
		}
	}()
	require.Eventually(t, func() bool { return len(h.gate.Pending()) == 1 }, 2*time.Second, 10*time.Millisecond)

	rec = h.do(t, http.MethodGet, "/api/approvals", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "acme owner")

	rec = h.do(t, http.MethodPost, "/api/approvals", approvalRequest{
		InvestigationID: "inv-1", Approved: true, Query: "acme corp founder",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	select {
	case d := <-decided:
		assert.True(t, d.Approved)
		assert.Equal(t, "acme corp founder", d.Query)
	case <-time.After(2 * time.Second):
		t.Fatal("approval not delivered")
	}
}

func TestApprovals_Validation(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodPost, "/api/approvals", approvalRequest{Approved: true})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	noGate := New(Config{}, h.runner, h.store, nil, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/approvals", bytes.NewBufferString(`{"investigationId":"x"}`))
	rr := httptest.NewRecorder()
	noGate.Router().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestCORSPreflight(t *testing.T) {
	h := newHarness(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/criteria", nil)
	req.Header.Set("Origin", "https://ops.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)

	assert.Contains(t, []string{"*", "https://ops.example.com"}, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRun_ShutdownOnCancel(t *testing.T) {
	h := newHarness(t)
	h.runner.setRunning("inv-1")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.srv.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
	assert.Equal(t, 1, h.runner.paused)
}
