// Package journal records every engine invocation in a small sqlite
// database next to the artifacts: which mode ran, what it found, and which
// files it rewrote. The journal is an operator convenience; failures to
// record are logged by callers and never fail an otherwise-successful run.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"labnet/internal/domain"

	_ "modernc.org/sqlite"
)

// Run is one recorded invocation
type Run struct {
	ID         int64            `json:"id"`
	Mode       string           `json:"mode"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Findings   []domain.Finding `json:"findings,omitempty"`
	Rewritten  []string         `json:"rewritten,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// Journal persists runs to sqlite
type Journal struct {
	db *sql.DB
}

func dsn(path string) string {
	if strings.Contains(path, "_pragma=") {
		return path
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
}

// Open creates or opens the journal database at path
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	j := &Journal{db: db}
	if err := j.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	return j, nil
}

func (j *Journal) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		mode TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		finished_at DATETIME NOT NULL,
		findings JSON NOT NULL DEFAULT '[]',
		rewritten JSON NOT NULL DEFAULT '[]',
		error TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	`
	_, err := j.db.Exec(schema)
	return err
}

// Close releases the database
func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	return j.db.Close()
}

// Record writes one run. Safe to call on a nil journal, so disabled
// journaling needs no branching at the call sites.
func (j *Journal) Record(ctx context.Context, run Run) error {
	if j == nil {
		return nil
	}

	findings, err := json.Marshal(run.Findings)
	if err != nil {
		return fmt.Errorf("marshal findings: %w", err)
	}
	rewritten, err := json.Marshal(run.Rewritten)
	if err != nil {
		return fmt.Errorf("marshal rewritten files: %w", err)
	}

	_, err = j.db.ExecContext(ctx, `
		INSERT INTO runs (mode, started_at, finished_at, findings, rewritten, error)
		VALUES (?, ?, ?, ?, ?, ?)
	`, run.Mode, run.StartedAt.UTC(), run.FinishedAt.UTC(), string(findings), string(rewritten), run.Error)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

// Recent returns the latest runs, newest first
func (j *Journal) Recent(ctx context.Context, limit int) ([]Run, error) {
	if j == nil {
		return nil, nil
	}

	rows, err := j.db.QueryContext(ctx, `
		SELECT id, mode, started_at, finished_at, findings, rewritten, error
		FROM runs ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			run                 Run
			findings, rewritten string
		)
		if err := rows.Scan(&run.ID, &run.Mode, &run.StartedAt, &run.FinishedAt, &findings, &rewritten, &run.Error); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if err := json.Unmarshal([]byte(findings), &run.Findings); err != nil {
			return nil, fmt.Errorf("unmarshal findings: %w", err)
		}
		if err := json.Unmarshal([]byte(rewritten), &run.Rewritten); err != nil {
			return nil, fmt.Errorf("unmarshal rewritten files: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
