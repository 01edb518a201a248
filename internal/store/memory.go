package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"teamflow/internal/engine"
)

type memoryRecord struct {
	result   *engine.WorkflowResult
	archived bool
}

// MemoryStore keeps records in a map; everything is lost on exit
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*memoryRecord
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*memoryRecord)}
}

// SaveResult stores or replaces the record of a run
func (s *MemoryStore) SaveResult(_ context.Context, result *engine.WorkflowResult) error {
	if err := checkResult(result); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	archived := false
	if existing, ok := s.records[result.ExecutionID]; ok {
		archived = existing.archived
	}
	s.records[result.ExecutionID] = &memoryRecord{result: result, archived: archived}
	return nil
}

// Load returns the stored result of a run
func (s *MemoryStore) Load(_ context.Context, executionID string) (*engine.WorkflowResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[executionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, executionID)
	}
	return rec.result, nil
}

// List returns summaries, newest first
func (s *MemoryStore) List(_ context.Context, opts ListOptions) ([]Summary, error) {
	s.mu.RLock()
	out := make([]Summary, 0, len(s.records))
	for _, rec := range s.records {
		if rec.archived && !opts.IncludeArchived {
			continue
		}
		if opts.WorkflowID != "" && rec.result.WorkflowID != opts.WorkflowID {
			continue
		}
		out = append(out, summarize(rec.result, rec.archived))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ExecutionID > out[j].ExecutionID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// Archive marks a record as archived
func (s *MemoryStore) Archive(_ context.Context, executionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[executionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, executionID)
	}
	rec.archived = true
	return nil
}

// Close is a no-op
func (s *MemoryStore) Close() error { return nil }
