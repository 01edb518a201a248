package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"teamflow/internal/engine"

	_ "modernc.org/sqlite"
)

//go:embed migrations/001_executions.sql
var migrationV1 string

// fixed width so that text ordering matches time ordering
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore persists execution records in a SQLite database
type SQLiteStore struct {
	path string
	db   *sql.DB

	maxRetries    int
	baseRetryWait time.Duration
}

// NewSQLiteStore opens (and migrates) the database at path
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteStore{
		path:          path,
		db:            db,
		maxRetries:    5,
		baseRetryWait: 50 * time.Millisecond,
	}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL
	)`); err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}

	var current int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("checking schema version: %w", err)
	}

	for i, migration := range []string{migrationV1} {
		version := i + 1
		if version <= current {
			continue
		}
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning migration transaction: %w", err)
		}
		for _, stmt := range splitStatements(migration) {
			if _, err := tx.Exec(stmt); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("executing migration v%d: %w", version, err)
			}
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
			version, time.Now().UTC().Format(time.RFC3339)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("recording migration v%d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration v%d: %w", version, err)
		}
	}
	return nil
}

// splitStatements splits a SQL script on semicolons and drops comment lines
func splitStatements(script string) []string {
	var out []string
	for _, stmt := range strings.Split(script, ";") {
		var lines []string
		for _, line := range strings.Split(stmt, "\n") {
			trimmed := strings.TrimSpace(line)
			if trimmed != "" && !strings.HasPrefix(trimmed, "--") {
				lines = append(lines, line)
			}
		}
		if len(lines) > 0 {
			out = append(out, strings.Join(lines, "\n"))
		}
	}
	return out
}

// SaveResult inserts or replaces the record of a run. The archived flag of
// an existing row is kept.
func (s *SQLiteStore) SaveResult(ctx context.Context, result *engine.WorkflowResult) error {
	if err := checkResult(result); err != nil {
		return err
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}

	return s.retryWrite(ctx, "save result", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO executions (execution_id, workflow_id, state, success, tokens_used, started_at, finished_at, result)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(execution_id) DO UPDATE SET
				workflow_id = excluded.workflow_id,
				state = excluded.state,
				success = excluded.success,
				tokens_used = excluded.tokens_used,
				started_at = excluded.started_at,
				finished_at = excluded.finished_at,
				result = excluded.result`,
			result.ExecutionID,
			result.WorkflowID,
			string(result.State),
			result.Success,
			result.Metadata.TokensUsed,
			formatTime(result.Metadata.StartedAt),
			formatTime(result.Metadata.FinishedAt),
			string(data))
		return err
	})
}

// Load returns the stored result of a run
func (s *SQLiteStore) Load(ctx context.Context, executionID string) (*engine.WorkflowResult, error) {
	var data string
	err := s.db.QueryRowContext(ctx, "SELECT result FROM executions WHERE execution_id = ?", executionID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, executionID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading execution %s: %w", executionID, err)
	}

	var result engine.WorkflowResult
	if err := json.Unmarshal([]byte(data), &result); err != nil {
		return nil, fmt.Errorf("decoding execution %s: %w", executionID, err)
	}
	return &result, nil
}

// List returns summaries, newest first
func (s *SQLiteStore) List(ctx context.Context, opts ListOptions) ([]Summary, error) {
	query := `SELECT execution_id, workflow_id, state, success, tokens_used, started_at, finished_at, archived
		FROM executions WHERE 1=1`
	var args []any
	if !opts.IncludeArchived {
		query += " AND archived = 0"
	}
	if opts.WorkflowID != "" {
		query += " AND workflow_id = ?"
		args = append(args, opts.WorkflowID)
	}
	query += " ORDER BY started_at DESC, execution_id DESC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing executions: %w", err)
	}
	defer rows.Close()

	out := []Summary{}
	for rows.Next() {
		var (
			sum                 Summary
			state               string
			started, finished   string
			success, isArchived bool
		)
		if err := rows.Scan(&sum.ExecutionID, &sum.WorkflowID, &state, &success, &sum.TokensUsed, &started, &finished, &isArchived); err != nil {
			return nil, fmt.Errorf("scanning execution: %w", err)
		}
		sum.State = engine.State(state)
		sum.Success = success
		sum.Archived = isArchived
		sum.StartedAt = parseTime(started)
		sum.FinishedAt = parseTime(finished)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Archive marks a record as archived
func (s *SQLiteStore) Archive(ctx context.Context, executionID string) error {
	return s.retryWrite(ctx, "archive", func() error {
		res, err := s.db.ExecContext(ctx, "UPDATE executions SET archived = 1 WHERE execution_id = ?", executionID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, executionID)
		}
		return nil
	})
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// retryWrite retries fn while SQLite reports the database as busy
func (s *SQLiteStore) retryWrite(ctx context.Context, operation string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !isBusy(err) {
			return err
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.baseRetryWait * time.Duration(1<<attempt)):
		}
	}
	return fmt.Errorf("%s failed after %d retries: %w", operation, s.maxRetries, lastErr)
}

func isBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "SQLITE_LOCKED")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
