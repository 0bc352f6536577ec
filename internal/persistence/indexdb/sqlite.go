// Package indexdb keeps a queryable sqlite index of saved networks and
// finished runs next to the network files themselves.
package indexdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"duel_ai/internal/brain"
)

type SQLiteIndex struct {
	db *sql.DB
}

var _ brain.Recorder = (*SQLiteIndex)(nil)

type NetworkRow struct {
	Name    string
	Family  string
	Inputs  int
	Outputs int
	Samples int
	Path    string
	SavedAt time.Time
}

type RunRow struct {
	ID        int64
	StartedAt time.Time
	EndedAt   time.Time
	Snapshots int
	Orders    int
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteIndex{db: db}, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS networks (
			name TEXT PRIMARY KEY,
			family TEXT NOT NULL,
			inputs INTEGER NOT NULL,
			outputs INTEGER NOT NULL,
			samples INTEGER NOT NULL,
			path TEXT NOT NULL,
			saved_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS networks_family ON networks(family);`,
		`CREATE TABLE IF NOT EXISTS runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			started_at TEXT NOT NULL,
			ended_at TEXT NOT NULL,
			snapshots INTEGER NOT NULL,
			orders INTEGER NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record upserts the row for one saved network.
func (s *SQLiteIndex) Record(n brain.SavedNetwork) error {
	_, err := s.db.Exec(`INSERT INTO networks (name, family, inputs, outputs, samples, path, saved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			family=excluded.family,
			inputs=excluded.inputs,
			outputs=excluded.outputs,
			samples=excluded.samples,
			path=excluded.path,
			saved_at=excluded.saved_at`,
		n.Name, n.Family, n.Inputs, n.Outputs, n.Samples, n.Path, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("record network %s: %w", n.Name, err)
	}
	return nil
}

func (s *SQLiteIndex) RecordRun(r brain.RunSummary) error {
	_, err := s.db.Exec(`INSERT INTO runs (started_at, ended_at, snapshots, orders) VALUES (?, ?, ?, ?)`,
		r.StartedAt.UTC().Format(time.RFC3339Nano), r.EndedAt.UTC().Format(time.RFC3339Nano), r.Snapshots, r.Orders)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

// Networks lists indexed networks, most trained first.
func (s *SQLiteIndex) Networks(ctx context.Context) ([]NetworkRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, family, inputs, outputs, samples, path, saved_at FROM networks ORDER BY samples DESC, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []NetworkRow
	for rows.Next() {
		var r NetworkRow
		var saved string
		if err := rows.Scan(&r.Name, &r.Family, &r.Inputs, &r.Outputs, &r.Samples, &r.Path, &saved); err != nil {
			return nil, err
		}
		r.SavedAt, _ = time.Parse(time.RFC3339Nano, saved)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Runs lists recorded runs, newest first.
func (s *SQLiteIndex) Runs(ctx context.Context, limit int) ([]RunRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, ended_at, snapshots, orders FROM runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRow
	for rows.Next() {
		var r RunRow
		var start, end string
		if err := rows.Scan(&r.ID, &start, &end, &r.Snapshots, &r.Orders); err != nil {
			return nil, err
		}
		r.StartedAt, _ = time.Parse(time.RFC3339Nano, start)
		r.EndedAt, _ = time.Parse(time.RFC3339Nano, end)
		out = append(out, r)
	}
	return out, rows.Err()
}
