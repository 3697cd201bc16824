package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/research-agent/internal/investigate"
	"github.com/sells-group/research-agent/internal/model"
	"github.com/sells-group/research-agent/internal/store"
)

type errorResponse struct {
	Error string `json:"error"`
}

type createRequest struct {
	investigate.Plan
	// Start defaults to true; false only persists the pending batch.
	Start *bool `json:"start,omitempty"`
}

type approvalRequest struct {
	InvestigationID string `json:"investigationId"`
	Approved        bool   `json:"approved"`
	Query           string `json:"query,omitempty"`
}

type investigationResponse struct {
	State     *model.InvestigationState `json:"state"`
	Running   bool                      `json:"running"`
	Completed int                       `json:"completed"`
	Total     int                       `json:"total"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("server: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "store": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCriteria(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.runner.Catalog().Criteria())
}

func (s *Server) handleEntities(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.runner.Catalog().Entities())
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.ResultFilter{
		EntityID:    q.Get("entity"),
		CriterionID: q.Get("criterion"),
		Answer:      q.Get("answer"),
		Status:      model.ResultStatus(q.Get("status")),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
			return
		}
		filter.Offset = n
	}

	results, err := s.store.ListResults(r.Context(), filter)
	if err != nil {
		zap.L().Error("server: list results", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list results")
		return
	}
	if results == nil {
		results = []model.Result{}
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleListInvestigations(w http.ResponseWriter, r *http.Request) {
	states, err := s.store.ListStates(r.Context(), model.RunStatus(r.URL.Query().Get("status")))
	if err != nil {
		zap.L().Error("server: list investigations", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list investigations")
		return
	}
	if states == nil {
		states = []model.InvestigationState{}
	}
	writeJSON(w, http.StatusOK, states)
}

func (s *Server) handleCreateInvestigation(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	start := req.Start == nil || *req.Start
	if start && s.runner.Running() != "" {
		writeError(w, http.StatusConflict, "another investigation is running")
		return
	}

	st, err := s.runner.Create(r.Context(), req.Plan)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if start {
		s.runBackground(st.ID)
	}
	writeJSON(w, http.StatusCreated, s.describe(st))
}

func (s *Server) handleGetInvestigation(w http.ResponseWriter, r *http.Request) {
	st, ok := s.loadState(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.describe(st))
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.runner.Running() != id {
		writeError(w, http.StatusConflict, "investigation is not running")
		return
	}
	s.runner.Pause()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "pausing", "id": id})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	st, ok := s.loadState(w, r)
	if !ok {
		return
	}
	if running := s.runner.Running(); running != "" {
		writeError(w, http.StatusConflict, "another investigation is running")
		return
	}
	if st.Status == model.RunComplete || st.Done() {
		writeJSON(w, http.StatusOK, s.describe(st))
		return
	}
	s.runBackground(st.ID)
	writeJSON(w, http.StatusAccepted, s.describe(st))
}

func (s *Server) handleListApprovals(w http.ResponseWriter, _ *http.Request) {
	if s.gate == nil {
		writeJSON(w, http.StatusOK, []investigate.ApprovalRequest{})
		return
	}
	writeJSON(w, http.StatusOK, s.gate.Pending())
}

func (s *Server) handleApproval(w http.ResponseWriter, r *http.Request) {
	if s.gate == nil {
		writeError(w, http.StatusNotFound, "approvals are not enabled")
		return
	}
	var req approvalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.InvestigationID == "" {
		writeError(w, http.StatusBadRequest, "investigationId is required")
		return
	}

	err := s.gate.Resolve(req.InvestigationID, investigate.Decision{Approved: req.Approved, Query: req.Query})
	if errors.Is(err, investigate.ErrNoPendingApproval) {
		writeError(w, http.StatusNotFound, "no pending approval")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"investigationId": req.InvestigationID, "approved": req.Approved})
}

func (s *Server) loadState(w http.ResponseWriter, r *http.Request) (*model.InvestigationState, bool) {
	id := chi.URLParam(r, "id")
	st, err := s.store.GetState(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "investigation not found")
		return nil, false
	}
	if err != nil {
		zap.L().Error("server: get investigation", zap.String("investigation_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load investigation")
		return nil, false
	}
	return st, true
}

func (s *Server) describe(st *model.InvestigationState) investigationResponse {
	return investigationResponse{
		State:     st,
		Running:   s.runner.Running() == st.ID,
		Completed: st.Completed(),
		Total:     st.Total(),
	}
}
