package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/research-agent/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses. pgxmock satisfies it.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries prepared on each new connection.
var preparedStatements = map[string]string{
	"save_result": upsertResultSQL,
	"get_results": `SELECT data FROM results WHERE entity_id = $1 ORDER BY criterion_id`,
	"save_state":  upsertStateSQL,
	"get_state":   `SELECT data FROM investigations WHERE id = $1`,
}

const upsertResultSQL = `INSERT INTO results (entity_id, criterion_id, answer, confidence, status, data, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (entity_id, criterion_id) DO UPDATE SET
  answer = EXCLUDED.answer, confidence = EXCLUDED.confidence, status = EXCLUDED.status,
  data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`

const upsertStateSQL = `INSERT INTO investigations (id, mode, status, data, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE SET
  status = EXCLUDED.status, data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(4)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				// Tables may not exist before the first migrate.
				var pgErr *pgconn.PgError
				if errors.As(err, &pgErr) && pgErr.Code == "42P01" {
					continue
				}
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS results (
	entity_id    TEXT NOT NULL,
	criterion_id TEXT NOT NULL,
	answer       TEXT NOT NULL,
	confidence   TEXT NOT NULL,
	status       TEXT NOT NULL,
	data         JSONB NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (entity_id, criterion_id)
);

CREATE TABLE IF NOT EXISTS investigations (
	id         TEXT PRIMARY KEY,
	mode       TEXT NOT NULL,
	status     TEXT NOT NULL,
	data       JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_results_criterion ON results(criterion_id);
CREATE INDEX IF NOT EXISTS idx_results_status ON results(status);
CREATE INDEX IF NOT EXISTS idx_investigations_status ON investigations(status);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) SaveResult(ctx context.Context, entityID string, r model.Result) error {
	r, data, err := resultKey(entityID, r)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, upsertResultSQL,
		entityID, r.CriterionID, r.Answer, string(r.Confidence), string(r.Status), data, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: save result %s/%s", entityID, r.CriterionID)
}

func (s *PostgresStore) GetResults(ctx context.Context, entityID string) ([]model.Result, error) {
	return s.queryResults(ctx,
		`SELECT data FROM results WHERE entity_id = $1 ORDER BY criterion_id`, entityID)
}

func (s *PostgresStore) ListResults(ctx context.Context, filter ResultFilter) ([]model.Result, error) {
	query := `SELECT data FROM results WHERE true`
	args := []any{}
	argIdx := 1

	add := func(clause string, v any) {
		query += fmt.Sprintf(clause, argIdx)
		args = append(args, v)
		argIdx++
	}
	if filter.EntityID != "" {
		add(` AND entity_id = $%d`, filter.EntityID)
	}
	if filter.CriterionID != "" {
		add(` AND criterion_id = $%d`, filter.CriterionID)
	}
	if filter.Answer != "" {
		add(` AND answer = $%d`, filter.Answer)
	}
	if filter.Status != "" {
		add(` AND status = $%d`, string(filter.Status))
	}
	query += ` ORDER BY entity_id, criterion_id`
	add(` LIMIT $%d`, listLimit(filter.Limit))
	if filter.Offset > 0 {
		add(` OFFSET $%d`, filter.Offset)
	}
	return s.queryResults(ctx, query, args...)
}

func (s *PostgresStore) queryResults(ctx context.Context, query string, args ...any) ([]model.Result, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query results")
	}
	defer rows.Close()

	var out []model.Result
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "postgres: scan result")
		}
		r, err := decodeResult(data)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate results")
}

func (s *PostgresStore) SaveState(ctx context.Context, st *model.InvestigationState) error {
	if st == nil || st.ID == "" {
		return eris.New("postgres: state needs an ID")
	}
	data, err := json.Marshal(st)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal state")
	}
	_, err = s.pool.Exec(ctx, upsertStateSQL,
		st.ID, string(st.Mode), string(st.Status), data, st.CreatedAt.UTC(), time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: save state %s", st.ID)
}

func (s *PostgresStore) GetState(ctx context.Context, id string) (*model.InvestigationState, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM investigations WHERE id = $1`, id).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "investigation %s", id)
		}
		return nil, eris.Wrapf(err, "postgres: get state %s", id)
	}
	return decodeState(data)
}

func (s *PostgresStore) ListStates(ctx context.Context, status model.RunStatus) ([]model.InvestigationState, error) {
	query := `SELECT data FROM investigations`
	var args []any
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(status))
	}
	query += ` ORDER BY updated_at DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list states")
	}
	defer rows.Close()

	var out []model.InvestigationState
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "postgres: scan state")
		}
		st, err := decodeState(data)
		if err != nil {
			return nil, err
		}
		out = append(out, *st)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate states")
}

func (s *PostgresStore) DeleteState(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM investigations WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete state %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "investigation %s", id)
	}
	return nil
}
