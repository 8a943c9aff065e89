// Package history keeps verification attempts in SQLite so learners and
// instructors can look back at earlier wiring results.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"pintrainer/internal/domain"
)

// SQLiteStore implements domain.HistoryStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ domain.HistoryStore = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the database at dbPath and runs the
// schema migration. ":memory:" is accepted for tests.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
			return nil, storeError("open", fmt.Errorf("create history dir: %w", err))
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, storeError("open", err)
	}
	if dbPath == ":memory:" {
		// Each pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, storeError("open", fmt.Errorf("set WAL mode: %w", err))
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, storeError("migrate", err)
	}
	return &SQLiteStore{db: db}, nil
}

func storeError(op string, err error) error {
	return domain.NewSubSystemError("history", "history."+op, domain.ErrHistoryStore, err.Error())
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS attempts (
			id          TEXT PRIMARY KEY,
			session_id  TEXT NOT NULL,
			sensor      TEXT NOT NULL,
			iface       TEXT NOT NULL DEFAULT '',
			all_correct INTEGER NOT NULL,
			connected   INTEGER NOT NULL,
			total       INTEGER NOT NULL,
			errors      TEXT NOT NULL DEFAULT '[]',
			connections TEXT NOT NULL DEFAULT '[]',
			created_at  TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS attempts_sensor_created ON attempts (sensor, created_at);
	`)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Record stores one attempt.
func (s *SQLiteStore) Record(ctx context.Context, a domain.Attempt) error {
	if a.ID == "" {
		return domain.NewDomainError("history.Record", domain.ErrInvalidInput, "attempt without id")
	}
	errsJSON, err := json.Marshal(nonNil(a.Errors))
	if err != nil {
		return fmt.Errorf("marshal attempt errors: %w", err)
	}
	connJSON, err := json.Marshal(a.Connections)
	if err != nil {
		return fmt.Errorf("marshal attempt connections: %w", err)
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO attempts (id, session_id, sensor, iface, all_correct, connected, total, errors, connections, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.SessionID, a.Sensor, a.Interface, boolToInt(a.AllCorrect), a.Connected, a.Total,
		string(errsJSON), string(connJSON), a.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return domain.NewSubSystemError("history", "history.Record", domain.ErrDuplicate, a.ID)
		}
		return storeError("record", err)
	}
	return nil
}

// timeLayout has fixed-width fractions so created_at sorts as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const selectAttempt = `SELECT id, session_id, sensor, iface, all_correct, connected, total, errors, connections, created_at FROM attempts`

// Get returns one attempt by id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*domain.Attempt, error) {
	row := s.db.QueryRowContext(ctx, selectAttempt+" WHERE id = ?", id)
	a, err := scanAttempt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewSubSystemError("history", "history.Get", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// List returns attempts newest first, optionally narrowed to one sensor.
// A non-positive limit returns everything.
func (s *SQLiteStore) List(ctx context.Context, f domain.HistoryFilter) ([]domain.Attempt, error) {
	query := selectAttempt
	var args []any
	if f.Sensor != "" {
		query += " WHERE sensor = ?"
		args = append(args, f.Sensor)
	}
	query += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeError("list", err)
	}
	defer rows.Close()

	var out []domain.Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// Prune deletes attempts created before the cutoff and reports how many.
func (s *SQLiteStore) Prune(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM attempts WHERE created_at < ?", before.UTC().Format(timeLayout))
	if err != nil {
		return 0, storeError("prune", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Ping checks that the database answers.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAttempt(sc scanner) (*domain.Attempt, error) {
	var (
		a                           domain.Attempt
		allCorrect                  int
		errsStr, connStr, createdAt string
	)
	if err := sc.Scan(&a.ID, &a.SessionID, &a.Sensor, &a.Interface, &allCorrect, &a.Connected, &a.Total,
		&errsStr, &connStr, &createdAt); err != nil {
		return nil, err
	}
	a.AllCorrect = allCorrect != 0
	if err := json.Unmarshal([]byte(errsStr), &a.Errors); err != nil {
		return nil, fmt.Errorf("unmarshal attempt errors: %w", err)
	}
	if err := json.Unmarshal([]byte(connStr), &a.Connections); err != nil {
		return nil, fmt.Errorf("unmarshal attempt connections: %w", err)
	}
	t, err := time.Parse(timeLayout, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	a.CreatedAt = t
	return &a, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
