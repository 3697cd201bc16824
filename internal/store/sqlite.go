package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/research-agent/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS results (
	entity_id    TEXT NOT NULL,
	criterion_id TEXT NOT NULL,
	answer       TEXT NOT NULL,
	confidence   TEXT NOT NULL,
	status       TEXT NOT NULL,
	data         TEXT NOT NULL,
	updated_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (entity_id, criterion_id)
);

CREATE TABLE IF NOT EXISTS investigations (
	id         TEXT PRIMARY KEY,
	mode       TEXT NOT NULL,
	status     TEXT NOT NULL,
	data       TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_results_criterion ON results(criterion_id);
CREATE INDEX IF NOT EXISTS idx_results_status ON results(status);
CREATE INDEX IF NOT EXISTS idx_investigations_status ON investigations(status);
`

// Migrate creates the schema.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Ping checks the connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveResult(ctx context.Context, entityID string, r model.Result) error {
	r, data, err := resultKey(entityID, r)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO results (entity_id, criterion_id, answer, confidence, status, data, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (entity_id, criterion_id) DO UPDATE SET
		   answer = excluded.answer, confidence = excluded.confidence, status = excluded.status,
		   data = excluded.data, updated_at = excluded.updated_at`,
		entityID, r.CriterionID, r.Answer, string(r.Confidence), string(r.Status), string(data), time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: save result %s/%s", entityID, r.CriterionID)
}

func (s *SQLiteStore) GetResults(ctx context.Context, entityID string) ([]model.Result, error) {
	return s.queryResults(ctx,
		`SELECT data FROM results WHERE entity_id = ? ORDER BY criterion_id`, entityID)
}

func (s *SQLiteStore) ListResults(ctx context.Context, filter ResultFilter) ([]model.Result, error) {
	query := `SELECT data FROM results WHERE 1=1`
	var args []any

	if filter.EntityID != "" {
		query += ` AND entity_id = ?`
		args = append(args, filter.EntityID)
	}
	if filter.CriterionID != "" {
		query += ` AND criterion_id = ?`
		args = append(args, filter.CriterionID)
	}
	if filter.Answer != "" {
		query += ` AND answer = ?`
		args = append(args, filter.Answer)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY entity_id, criterion_id LIMIT ?`
	args = append(args, listLimit(filter.Limit))

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}
	return s.queryResults(ctx, query, args...)
}

func (s *SQLiteStore) queryResults(ctx context.Context, query string, args ...any) ([]model.Result, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query results")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Result
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan result")
		}
		r, err := decodeResult([]byte(data))
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate results")
}

func (s *SQLiteStore) SaveState(ctx context.Context, st *model.InvestigationState) error {
	if st == nil || st.ID == "" {
		return eris.New("sqlite: state needs an ID")
	}
	data, err := json.Marshal(st)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal state")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO investigations (id, mode, status, data, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   status = excluded.status, data = excluded.data, updated_at = excluded.updated_at`,
		st.ID, string(st.Mode), string(st.Status), string(data), st.CreatedAt.UTC(), time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: save state %s", st.ID)
}

func (s *SQLiteStore) GetState(ctx context.Context, id string) (*model.InvestigationState, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM investigations WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "investigation %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get state %s", id)
	}
	return decodeState([]byte(data))
}

func (s *SQLiteStore) ListStates(ctx context.Context, status model.RunStatus) ([]model.InvestigationState, error) {
	query := `SELECT data FROM investigations`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY updated_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list states")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.InvestigationState
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan state")
		}
		st, err := decodeState([]byte(data))
		if err != nil {
			return nil, err
		}
		out = append(out, *st)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate states")
}

func (s *SQLiteStore) DeleteState(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM investigations WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete state %s", id)
	}
	return checkRowsAffected(res, "investigation", id)
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}
