// Package store keeps execution records: the final WorkflowResult of every
// run, queryable by execution id and workflow.
package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"teamflow/internal/engine"
)

// Supported drivers
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// ErrNotFound is returned for unknown execution ids
var ErrNotFound = errors.New("execution record not found")

// Summary is the list view of an execution record
type Summary struct {
	ExecutionID string       `json:"execution_id"`
	WorkflowID  string       `json:"workflow_id"`
	State       engine.State `json:"state"`
	Success     bool         `json:"success"`
	TokensUsed  int          `json:"tokens_used"`
	StartedAt   time.Time    `json:"started_at"`
	FinishedAt  time.Time    `json:"finished_at"`
	Archived    bool         `json:"archived"`
}

// ListOptions filters List
type ListOptions struct {
	WorkflowID      string
	IncludeArchived bool
	// Limit caps the number of summaries; zero means no limit
	Limit int
}

// Store is an execution record repository. It satisfies engine.ResultStore so
// the engine hands every finished run to it.
type Store interface {
	SaveResult(ctx context.Context, result *engine.WorkflowResult) error
	Load(ctx context.Context, executionID string) (*engine.WorkflowResult, error)
	List(ctx context.Context, opts ListOptions) ([]Summary, error)
	// Archive hides a record from List unless IncludeArchived is set
	Archive(ctx context.Context, executionID string) error
	Close() error
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)

// New opens a store for the given driver. path is only used by sqlite.
func New(driver, path string) (Store, error) {
	switch strings.ToLower(driver) {
	case "", DriverMemory:
		return NewMemoryStore(), nil
	case DriverSQLite:
		if path == "" {
			return nil, fmt.Errorf("sqlite store requires a path")
		}
		if filepath.Ext(path) == "" {
			path += ".db"
		}
		return NewSQLiteStore(path)
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

func summarize(r *engine.WorkflowResult, archived bool) Summary {
	return Summary{
		ExecutionID: r.ExecutionID,
		WorkflowID:  r.WorkflowID,
		State:       r.State,
		Success:     r.Success,
		TokensUsed:  r.Metadata.TokensUsed,
		StartedAt:   r.Metadata.StartedAt,
		FinishedAt:  r.Metadata.FinishedAt,
		Archived:    archived,
	}
}

func checkResult(r *engine.WorkflowResult) error {
	if r == nil {
		return fmt.Errorf("result is nil")
	}
	if r.ExecutionID == "" {
		return fmt.Errorf("result has no execution id")
	}
	return nil
}
