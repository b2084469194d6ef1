package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"timedsend/internal/domain"
)

// EnsureSchema creates tables if they don't exist.
func EnsureSchema(db *sql.DB) error {
	schema := `
PRAGMA journal_mode=WAL;
CREATE TABLE IF NOT EXISTS schedules (
  id TEXT PRIMARY KEY,
  position INTEGER NOT NULL,
  type TEXT NOT NULL CHECK(type IN ('message','poll')),
  contact TEXT NOT NULL,
  status TEXT NOT NULL CHECK(status IN ('pending','completed','failed')) DEFAULT 'pending',
  next_run TEXT NOT NULL,
  body BLOB NOT NULL,
  updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_schedules_position ON schedules(position);
CREATE INDEX IF NOT EXISTS idx_schedules_due ON schedules(status, next_run);
`
	_, err := db.Exec(schema)
	return err
}

// SQLite stores the sequence in one database file. Update runs as a single
// immediate transaction, so the whole read-modify-write is atomic across
// processes.
type SQLite struct{ db *sql.DB }

func OpenSQLite(path string) (*SQLite, error) {
	if path == "" {
		return nil, errors.New("store path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?mode=rwc&_pragma=journal_mode(WAL)&_pragma=busy_timeout(10000)&_txlock=immediate", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite single writer
	if err := EnsureSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// DB returns the underlying database connection.
func (r *SQLite) DB() *sql.DB { return r.db }

func (r *SQLite) Close() error { return r.db.Close() }

func (r *SQLite) Load(ctx context.Context) ([]domain.Schedule, error) {
	return r.list(ctx, r.db)
}

func (r *SQLite) Save(ctx context.Context, schedules []domain.Schedule) error {
	return r.Update(ctx, func([]domain.Schedule) ([]domain.Schedule, error) {
		return schedules, nil
	})
}

func (r *SQLite) Update(ctx context.Context, fn func([]domain.Schedule) ([]domain.Schedule, error)) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	current, err := r.list(ctx, tx)
	if err != nil {
		return err
	}
	next, err := fn(current)
	if err != nil {
		return err
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM schedules`); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO schedules (id,position,type,contact,status,next_run,body,updated_at)
VALUES (?,?,?,?,?,?,?,CURRENT_TIMESTAMP)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, s := range next {
		if s.ID == "" {
			s.ID = domain.NewID()
		}
		var body []byte
		body, err = json.Marshal(s)
		if err != nil {
			return fmt.Errorf("encode schedule %s: %w", s.ID, err)
		}
		if _, err = stmt.ExecContext(ctx, s.ID, i, s.Kind, s.Contact, s.Status, s.RunAt(), body); err != nil {
			return fmt.Errorf("insert schedule %s: %w", s.ID, err)
		}
	}
	return tx.Commit()
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (r *SQLite) list(ctx context.Context, q querier) ([]domain.Schedule, error) {
	rows, err := q.QueryContext(ctx, `SELECT id, body FROM schedules ORDER BY position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	schedules := []domain.Schedule{}
	for rows.Next() {
		var id string
		var body []byte
		if err := rows.Scan(&id, &body); err != nil {
			return nil, err
		}
		var s domain.Schedule
		if err := json.Unmarshal(body, &s); err != nil {
			return nil, fmt.Errorf("decode schedule %s: %w", id, err)
		}
		s.ID = id
		schedules = append(schedules, s)
	}
	return schedules, rows.Err()
}
