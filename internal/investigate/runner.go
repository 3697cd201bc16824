package investigate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/research-agent/internal/cost"
	"github.com/sells-group/research-agent/internal/events"
	"github.com/sells-group/research-agent/internal/metrics"
	"github.com/sells-group/research-agent/internal/model"
)

// ErrBusy is returned when a batch is started while another one runs.
var ErrBusy = eris.New("investigate: another investigation is running")

// Store persists results and batch state. store.Store satisfies it.
type Store interface {
	SaveResult(ctx context.Context, entityID string, r model.Result) error
	SaveState(ctx context.Context, s *model.InvestigationState) error
	GetState(ctx context.Context, id string) (*model.InvestigationState, error)
}

// Catalog resolves entity and criterion IDs.
type Catalog struct {
	entities map[string]model.Entity
	criteria map[string]model.Criterion
	order    []string
}

// NewCatalog indexes entities and criteria by ID.
func NewCatalog(entities []model.Entity, criteria []model.Criterion) *Catalog {
	c := &Catalog{
		entities: make(map[string]model.Entity, len(entities)),
		criteria: make(map[string]model.Criterion, len(criteria)),
	}
	for _, e := range entities {
		c.entities[e.ID] = e
		c.order = append(c.order, e.ID)
	}
	for _, cr := range criteria {
		c.criteria[cr.ID] = cr
	}
	return c
}

// Entity looks up an entity.
func (c *Catalog) Entity(id string) (model.Entity, bool) {
	e, ok := c.entities[id]
	return e, ok
}

// Criterion looks up a criterion.
func (c *Catalog) Criterion(id string) (model.Criterion, bool) {
	cr, ok := c.criteria[id]
	return cr, ok
}

// EntityIDs returns entity IDs in load order.
func (c *Catalog) EntityIDs() []string {
	return append([]string(nil), c.order...)
}

// Criteria returns all criteria sorted by Order.
func (c *Catalog) Criteria() []model.Criterion {
	out := make([]model.Criterion, 0, len(c.criteria))
	for _, cr := range c.criteria {
		out = append(out, cr)
	}
	model.SortCriteria(out)
	return out
}

// Entities returns all entities in load order.
func (c *Catalog) Entities() []model.Entity {
	out := make([]model.Entity, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.entities[id])
	}
	return out
}

// Plan selects the pairs of a new batch.
type Plan struct {
	Mode         model.Mode `json:"mode"`
	EntityIDs    []string   `json:"entityIds"`
	CriterionIDs []string   `json:"criterionIds"`
}

// Runner executes batches one pair at a time and persists progress after
// every pair.
type Runner struct {
	ctrl    *Controller
	catalog *Catalog
	store   Store
	ledger  *cost.Ledger
	sink    events.Sink

	mu      sync.Mutex
	running string
}

// NewRunner creates a runner. ledger and sink may be nil.
func NewRunner(ctrl *Controller, catalog *Catalog, store Store, ledger *cost.Ledger, sink events.Sink) *Runner {
	if ledger == nil {
		ledger = cost.NewLedger()
	}
	if sink == nil {
		sink = events.Discard
	}
	return &Runner{
		ctrl:    ctrl,
		catalog: catalog,
		store:   store,
		ledger:  ledger,
		sink:    sink,
	}
}

// Catalog returns the runner's catalog.
func (r *Runner) Catalog() *Catalog { return r.catalog }

// Ledger returns the cost ledger.
func (r *Runner) Ledger() *cost.Ledger { return r.ledger }

// Running returns the ID of the batch in progress, or "".
func (r *Runner) Running() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Pause asks the running batch to stop at its next checkpoint.
func (r *Runner) Pause() {
	r.ctrl.Control().Pause()
}

// Create validates a plan and persists a pending batch without running it.
func (r *Runner) Create(ctx context.Context, plan Plan) (*model.InvestigationState, error) {
	if err := r.validate(&plan); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	st := &model.InvestigationState{
		ID:           uuid.NewString(),
		Mode:         plan.Mode,
		EntityIDs:    plan.EntityIDs,
		CriterionIDs: plan.CriterionIDs,
		Status:       model.RunPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := r.store.SaveState(ctx, st); err != nil {
		return nil, eris.Wrap(err, "investigate: save new state")
	}
	return st, nil
}

// Start creates a batch and runs it to completion, pause or fatal stop.
func (r *Runner) Start(ctx context.Context, plan Plan) (*model.InvestigationState, error) {
	st, err := r.Create(ctx, plan)
	if err != nil {
		return nil, err
	}
	return r.Resume(ctx, st.ID)
}

// Resume re-enters a stored batch at its cursor. Resuming a complete
// batch returns it unchanged.
func (r *Runner) Resume(ctx context.Context, id string) (*model.InvestigationState, error) {
	st, err := r.store.GetState(ctx, id)
	if err != nil {
		return nil, eris.Wrapf(err, "investigate: load state %s", id)
	}
	if st.Status == model.RunComplete || st.Done() {
		return st, nil
	}

	r.mu.Lock()
	if r.running != "" {
		r.mu.Unlock()
		return st, eris.Wrapf(ErrBusy, "running %s", r.running)
	}
	r.running = st.ID
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.running = ""
		r.mu.Unlock()
	}()

	r.ctrl.Control().Unpause()
	return r.run(ctx, st)
}

func (r *Runner) validate(plan *Plan) error {
	if plan.Mode == "" {
		plan.Mode = model.ModeSweep
	}
	if len(plan.EntityIDs) == 0 {
		return eris.New("investigate: plan has no entities")
	}
	if len(plan.CriterionIDs) == 0 {
		return eris.New("investigate: plan has no criteria")
	}
	if plan.Mode == model.ModeSingle && (len(plan.EntityIDs) != 1 || len(plan.CriterionIDs) != 1) {
		return eris.New("investigate: single mode takes one entity and one criterion")
	}
	if plan.Mode == model.ModeColumn && len(plan.CriterionIDs) != 1 {
		return eris.New("investigate: column mode takes one criterion")
	}

	for _, id := range plan.EntityIDs {
		if _, ok := r.catalog.Entity(id); !ok {
			return eris.Errorf("investigate: unknown entity %q", id)
		}
	}
	crits := make([]model.Criterion, 0, len(plan.CriterionIDs))
	for _, id := range plan.CriterionIDs {
		c, ok := r.catalog.Criterion(id)
		if !ok {
			return eris.Errorf("investigate: unknown criterion %q", id)
		}
		crits = append(crits, c)
	}
	model.SortCriteria(crits)
	plan.CriterionIDs = make([]string, 0, len(crits))
	for _, c := range crits {
		plan.CriterionIDs = append(plan.CriterionIDs, c.ID)
	}
	return nil
}

func (r *Runner) run(ctx context.Context, st *model.InvestigationState) (*model.InvestigationState, error) {
	log := zap.L().With(zap.String("investigation", st.ID), zap.String("mode", string(st.Mode)))
	log.Info("investigate: batch starting",
		zap.Int("entities", len(st.EntityIDs)),
		zap.Int("criteria", len(st.CriterionIDs)),
		zap.Int("completed", st.Completed()),
	)

	st.Status = model.RunRunning
	st.Paused = false
	st.Error = ""
	if err := r.saveState(ctx, st); err != nil {
		return st, err
	}

	var lastEntity, lastCriterion string
	for {
		entityID, criterionID, ok := st.Current()
		if !ok {
			break
		}
		entity, eok := r.catalog.Entity(entityID)
		crit, cok := r.catalog.Criterion(criterionID)
		if !eok || !cok {
			return r.fail(ctx, st, eris.Errorf("investigate: pair %s/%s no longer in catalog", entityID, criterionID))
		}

		if criterionID != lastCriterion {
			lastCriterion = criterionID
			r.emit(st, events.Event{Type: events.TypeCriterionStart, CriterionID: crit.ID, CriterionName: crit.Name})
		}
		if entityID != lastEntity {
			lastEntity = entityID
			r.emit(st, events.Event{Type: events.TypeEntityStart, EntityID: entity.ID, EntityName: entity.Name})
			r.emit(st, events.Event{Type: events.TypeCompanyStart, EntityID: entity.ID, EntityName: entity.Name})
		}

		if st.IsDisqualified(entityID) {
			r.emit(st, events.Event{
				Type:        events.TypeCompanySkipped,
				EntityID:    entity.ID,
				EntityName:  entity.Name,
				CriterionID: crit.ID,
				Reason:      fmt.Sprintf("disqualified by %s", st.Disqualified[entityID]),
			})
			st.Advance()
			if err := r.saveState(ctx, st); err != nil {
				return st, err
			}
			continue
		}

		var resume *model.PairCheckpoint
		if p := st.Pending; p != nil && p.EntityID == entityID && p.CriterionID == criterionID {
			resume = p
		}

		out, err := r.ctrl.Run(ctx, Pair{
			InvestigationID: st.ID,
			Entity:          entity,
			Criterion:       crit,
			Findings:        st.FindingsFor(entityID),
			Resume:          resume,
		})

		switch {
		case out.State == StatePaused:
			return r.pause(ctx, st, out.Checkpoint, "pause requested")

		case out.State == StateCancelled && errors.Is(err, ErrFatalProvider):
			r.record(st, entityID, out.Result)
			st.Pending = nil
			st.Status = model.RunCancelled
			st.Error = err.Error()
			_ = r.saveState(ctx, st)
			metrics.Investigations.WithLabelValues(string(model.StatusCancelled)).Inc()
			r.emit(st, events.Event{
				Type:        events.TypeResearchError,
				EntityID:    entity.ID,
				EntityName:  entity.Name,
				CriterionID: crit.ID,
				Error:       err.Error(),
			})
			log.Error("investigate: fatal provider error, batch halted",
				zap.String("entity", entity.Name),
				zap.String("criterion", crit.ID),
				zap.Int("completed", st.Completed()),
				zap.Int("total", st.Total()),
				zap.Error(err),
			)
			return st, err

		case out.State == StateCancelled:
			// Cancellation keeps the batch resumable.
			ps, _ := r.pause(context.WithoutCancel(ctx), st, out.Checkpoint, "cancelled")
			return ps, err

		case err != nil:
			return r.fail(ctx, st, err)
		}

		res := out.Result
		st.Pending = nil
		if err := r.store.SaveResult(ctx, entityID, res); err != nil {
			return r.fail(ctx, st, eris.Wrap(err, "investigate: save result"))
		}
		r.record(st, entityID, res)
		metrics.Investigations.WithLabelValues(string(res.Status)).Inc()

		if out.Finding != nil {
			st.AddFinding(entityID, crit.ID, out.Finding.Value)
			st.AddFinding(entityID, out.Finding.Key, out.Finding.Value)
		}
		if crit.Disqualifying && crit.Kind() == model.KindYesNo && res.Answer == model.AnswerNo {
			st.Disqualify(entityID, crit.ID)
			r.emit(st, events.Event{
				Type:        events.TypeCompanyDisqualified,
				EntityID:    entity.ID,
				EntityName:  entity.Name,
				CriterionID: crit.ID,
				Reason:      fmt.Sprintf("%s answered %s", crit.Name, res.Answer),
			})
			log.Info("investigate: entity disqualified",
				zap.String("entity", entity.Name),
				zap.String("criterion", crit.ID),
			)
		}

		st.Advance()
		if err := r.saveState(ctx, st); err != nil {
			return st, err
		}
	}

	st.Status = model.RunComplete
	if err := r.saveState(ctx, st); err != nil {
		return st, err
	}
	total := r.ledger.Investigation(st.ID)
	r.emit(st, events.Event{Type: events.TypeComplete})
	log.Info("investigate: batch complete",
		zap.Int("pairs", st.Total()),
		zap.Int("disqualified", len(st.Disqualified)),
		zap.Float64("cost_usd", total.Total),
	)
	return st, nil
}

func (r *Runner) pause(ctx context.Context, st *model.InvestigationState, cp *model.PairCheckpoint, reason string) (*model.InvestigationState, error) {
	st.Pending = cp
	st.Paused = true
	st.Status = model.RunPaused
	if err := r.saveState(ctx, st); err != nil {
		return st, err
	}
	metrics.Investigations.WithLabelValues(string(model.StatusPaused)).Inc()
	r.emit(st, events.Event{Type: events.TypePaused, Reason: reason})
	zap.L().Info("investigate: batch paused",
		zap.String("investigation", st.ID),
		zap.Int("completed", st.Completed()),
		zap.Int("total", st.Total()),
	)
	return st, nil
}

func (r *Runner) fail(ctx context.Context, st *model.InvestigationState, err error) (*model.InvestigationState, error) {
	st.Status = model.RunFailed
	st.Error = err.Error()
	_ = r.saveState(context.WithoutCancel(ctx), st)
	r.emit(st, events.Event{Type: events.TypeResearchError, Error: err.Error()})
	return st, err
}

// record adds a pair's cost to the batch and the ledger.
func (r *Runner) record(st *model.InvestigationState, entityID string, res model.Result) {
	st.Cost.Add(res.CostBreakdown)
	r.ledger.Record(st.ID, entityID, res.CostBreakdown)
}

func (r *Runner) saveState(ctx context.Context, st *model.InvestigationState) error {
	st.UpdatedAt = time.Now().UTC()
	if err := r.store.SaveState(ctx, st); err != nil {
		return eris.Wrap(err, "investigate: save state")
	}
	return nil
}

func (r *Runner) emit(st *model.InvestigationState, e events.Event) {
	e.InvestigationID = st.ID
	e.Progress = &events.Progress{Completed: st.Completed(), Total: st.Total()}
	e.Timestamp = time.Now().UTC()
	r.sink.Emit(e)
}

// SortedFindings returns an entity's findings as "key: value" lines.
func SortedFindings(st *model.InvestigationState, entityID string) []string {
	f := st.FindingsFor(entityID)
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+": "+f[k])
	}
	return out
}
