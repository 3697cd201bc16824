package store

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/research-agent/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = eris.New("store: not found")

// ResultFilter specifies criteria for listing results.
type ResultFilter struct {
	EntityID    string             `json:"entityId,omitempty"`
	CriterionID string             `json:"criterionId,omitempty"`
	Answer      string             `json:"answer,omitempty"`
	Status      model.ResultStatus `json:"status,omitempty"`
	Limit       int                `json:"limit,omitempty"`
	Offset      int                `json:"offset,omitempty"`
}

// Store defines the persistence interface for investigation results and
// resumable batch state.
type Store interface {
	// Results are keyed by (entity, criterion); a later save replaces the
	// earlier result.
	SaveResult(ctx context.Context, entityID string, r model.Result) error
	GetResults(ctx context.Context, entityID string) ([]model.Result, error)
	ListResults(ctx context.Context, filter ResultFilter) ([]model.Result, error)

	// Investigation state
	SaveState(ctx context.Context, s *model.InvestigationState) error
	GetState(ctx context.Context, id string) (*model.InvestigationState, error)
	ListStates(ctx context.Context, status model.RunStatus) ([]model.InvestigationState, error)
	DeleteState(ctx context.Context, id string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// Open selects a backend from the driver name. "postgres" needs a
// connection string; anything else opens SQLite at dsn.
func Open(ctx context.Context, driver, dsn string, poolCfg *PoolConfig) (Store, error) {
	switch strings.ToLower(driver) {
	case "postgres", "postgresql", "pgx":
		pg, err := NewPostgres(ctx, dsn, poolCfg)
		if err != nil {
			return nil, err
		}
		return pg, nil
	case "", "sqlite", "sqlite3":
		if dsn == "" {
			dsn = "research.db"
		}
		lite, err := NewSQLite(dsn)
		if err != nil {
			return nil, err
		}
		return lite, nil
	default:
		return nil, eris.Errorf("store: unknown driver %q", driver)
	}
}

// ApplyResults attaches stored results to entities in place.
func ApplyResults(ctx context.Context, s Store, entities []model.Entity) error {
	for i := range entities {
		results, err := s.GetResults(ctx, entities[i].ID)
		if err != nil {
			return err
		}
		for _, r := range results {
			entities[i].SetResult(r)
		}
	}
	return nil
}

func resultKey(entityID string, r model.Result) (model.Result, []byte, error) {
	if entityID == "" || r.CriterionID == "" {
		return r, nil, eris.New("store: result needs entity and criterion IDs")
	}
	r.EntityID = entityID
	data, err := json.Marshal(r)
	if err != nil {
		return r, nil, eris.Wrap(err, "store: marshal result")
	}
	return r, data, nil
}

func decodeResult(data []byte) (model.Result, error) {
	var r model.Result
	if err := json.Unmarshal(data, &r); err != nil {
		return r, eris.Wrap(err, "store: unmarshal result")
	}
	return r, nil
}

func decodeState(data []byte) (*model.InvestigationState, error) {
	var s model.InvestigationState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal state")
	}
	return &s, nil
}

func listLimit(n int) int {
	if n <= 0 {
		return 500
	}
	return n
}
