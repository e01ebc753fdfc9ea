// Package history journals executor completion reports in a SQLite database.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"keyflow/internal/events"
	"keyflow/internal/model"
)

const schemaVersion = 1

const schemaV1 = `
CREATE TABLE IF NOT EXISTS schema_meta (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
	id             TEXT PRIMARY KEY,
	workflow_ids   TEXT NOT NULL,
	started_at     TEXT NOT NULL,
	finished_at    TEXT NOT NULL,
	error          TEXT NOT NULL DEFAULT '',
	failed_command TEXT NOT NULL DEFAULT '',
	suppressed     INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS run_commands (
	run_id     TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	position   INTEGER NOT NULL,
	command_id TEXT NOT NULL,
	kind       TEXT NOT NULL,
	name       TEXT NOT NULL,
	PRIMARY KEY (run_id, position)
);

CREATE INDEX IF NOT EXISTS idx_runs_finished_at ON runs(finished_at);
`

// Run is one recorded executor drain.
type Run struct {
	ID            string              `json:"id"`
	WorkflowIDs   []string            `json:"workflow_ids"`
	StartedAt     time.Time           `json:"started_at"`
	FinishedAt    time.Time           `json:"finished_at"`
	Error         string              `json:"error,omitempty"`
	FailedCommand string              `json:"failed_command,omitempty"`
	Suppressed    int                 `json:"suppressed"`
	Commands      []events.CommandRef `json:"commands"`
}

// Store is the history database. It is safe for concurrent use.
type Store struct {
	db   *sql.DB
	keep int
}

// Open opens (or creates) the database at path and ensures the schema.
// keep bounds the number of retained runs; 0 keeps everything.
func Open(path string, keep int) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	// One connection serializes writers and keeps ":memory:" databases alive.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 2000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	ver, err := currentSchemaVersion(db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("check schema version: %w", err)
	}
	if ver < schemaVersion {
		if err := migrateSchema(db); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrate schema: %w", err)
		}
	}
	return &Store{db: db, keep: keep}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func currentSchemaVersion(db *sql.DB) (int, error) {
	var count int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM sqlite_master
		WHERE type='table' AND name='schema_meta'
	`).Scan(&count)
	if err != nil {
		return 0, err
	}
	if count == 0 {
		return 0, nil
	}

	var ver int
	err = db.QueryRow("SELECT version FROM schema_meta LIMIT 1").Scan(&ver)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return ver, err
}

// migrateSchema recreates the tables. History is disposable, so older
// layouts are dropped rather than converted.
func migrateSchema(db *sql.DB) error {
	for _, stmt := range []string{
		"DROP TABLE IF EXISTS run_commands",
		"DROP TABLE IF EXISTS runs",
		"DROP TABLE IF EXISTS schema_meta",
	} {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("drop table: %w", err)
		}
	}
	if _, err := db.Exec(schemaV1); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := db.Exec("INSERT INTO schema_meta (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("insert schema version: %w", err)
	}
	return nil
}

// Record stores a completion and prunes the oldest runs beyond the limit.
func (s *Store) Record(ctx context.Context, ev events.CompletionEvent) error {
	if ev.RunID == "" {
		return errors.New("record history: run id is empty")
	}
	workflowIDs, err := json.Marshal(ev.WorkflowIDs)
	if err != nil {
		return fmt.Errorf("record history: encode workflow ids: %w", err)
	}
	failed := ""
	if ev.Failed != nil {
		failed = ev.Failed.Name
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record history: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO runs (id, workflow_ids, started_at, finished_at, error, failed_command, suppressed)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, ev.RunID, string(workflowIDs), formatTime(ev.StartedAt), formatTime(ev.FinishedAt), ev.Error, failed, len(ev.Suppressed)); err != nil {
		return fmt.Errorf("record history: insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO run_commands (run_id, position, command_id, kind, name)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("record history: prepare: %w", err)
	}
	defer stmt.Close()
	for i, ref := range ev.Finished {
		if _, err := stmt.ExecContext(ctx, ev.RunID, i, ref.ID, string(ref.Kind), ref.Name); err != nil {
			return fmt.Errorf("record history: insert command %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("record history: commit: %w", err)
	}

	if s.keep > 0 {
		if _, err := s.Prune(ctx, s.keep); err != nil {
			return err
		}
	}
	return nil
}

// Recent returns up to limit runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		return []Run{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workflow_ids, started_at, finished_at, error, failed_command, suppressed
		FROM runs
		ORDER BY finished_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}

	runs := make([]Run, 0, limit)
	for rows.Next() {
		var r Run
		var workflowIDs, started, finished string
		if err := rows.Scan(&r.ID, &workflowIDs, &started, &finished, &r.Error, &r.FailedCommand, &r.Suppressed); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan history: %w", err)
		}
		if err := json.Unmarshal([]byte(workflowIDs), &r.WorkflowIDs); err != nil {
			slog.Warn("[WARN-HISTORY] malformed workflow ids", "run", r.ID, "error", err)
		}
		r.StartedAt = parseTime(started)
		r.FinishedAt = parseTime(finished)
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	rows.Close()

	// Commands are loaded after the runs cursor is closed: the store holds a
	// single connection.
	for i := range runs {
		cmds, err := s.commands(ctx, runs[i].ID)
		if err != nil {
			return nil, err
		}
		runs[i].Commands = cmds
	}
	return runs, nil
}

func (s *Store) commands(ctx context.Context, runID string) ([]events.CommandRef, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT command_id, kind, name FROM run_commands
		WHERE run_id = ? ORDER BY position
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query run commands: %w", err)
	}
	defer rows.Close()

	cmds := []events.CommandRef{}
	for rows.Next() {
		var ref events.CommandRef
		var kind string
		if err := rows.Scan(&ref.ID, &kind, &ref.Name); err != nil {
			return nil, fmt.Errorf("scan run command: %w", err)
		}
		ref.Kind = model.Kind(kind)
		cmds = append(cmds, ref)
	}
	return cmds, rows.Err()
}

// Prune keeps the newest keep runs and returns how many were removed.
func (s *Store) Prune(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM runs WHERE id NOT IN (
			SELECT id FROM runs ORDER BY finished_at DESC, rowid DESC LIMIT ?
		)
	`, keep)
	if err != nil {
		return 0, fmt.Errorf("prune history: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune history: %w", err)
	}
	if n > 0 {
		slog.Debug("[DEBUG-HISTORY] pruned runs", "removed", n, "keep", keep)
	}
	return n, nil
}

// Observer returns a bus subscriber recording completion events.
func (s *Store) Observer(ctx context.Context) func(events.Event) {
	return events.Observer(func(ev events.CompletionEvent) {
		if err := s.Record(ctx, ev); err != nil {
			slog.Warn("[WARN-HISTORY] failed to record run", "run", ev.RunID, "error", err)
		}
	})
}

// Times are stored as fixed-width UTC text so lexical order is chronological.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(raw string) time.Time {
	t, err := time.Parse(timeLayout, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}
