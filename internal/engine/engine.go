// Package engine runs workflows: it levels the stage graph into batches,
// dispatches agent tasks in sequential, parallel or adaptive mode, keeps the
// shared context, and aggregates everything into a WorkflowResult.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"teamflow/internal/agent"
	"teamflow/internal/events"
	"teamflow/internal/extract"
	"teamflow/internal/logger"
	"teamflow/internal/workflow"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Defaults used when Options leaves a field empty
const (
	DefaultTaskTimeout = 5 * time.Minute
	DefaultMaxBackoff  = 30 * time.Second
)

// AgentProvider resolves agent ids; *agent.Registry implements it
type AgentProvider interface {
	GetAgentByID(id string) (agent.Config, bool)
	Get(id string) (agent.Agent, error)
}

// ResultStore receives the final result of every run
type ResultStore interface {
	SaveResult(ctx context.Context, result *WorkflowResult) error
}

// Notifier delivers the completion notices a workflow asks for in
// configuration.notifications
type Notifier interface {
	Notify(ctx context.Context, notifications workflow.Notifications, result *WorkflowResult) error
}

// Options configures an Engine
type Options struct {
	Agents    AgentProvider
	Store     ResultStore
	Sink      events.Sink
	Extractor extract.Extractor
	Notifier  Notifier

	// DefaultTaskTimeout applies to tasks whose task and stage set no timeout
	DefaultTaskTimeout time.Duration

	// MaxParallel bounds concurrent dispatch when the workflow sets no limit;
	// zero means unbounded
	MaxParallel int

	// MaxBackoff caps the exponential retry backoff
	MaxBackoff time.Duration

	// DefaultMode applies when neither the request nor the workflow names one
	DefaultMode workflow.ExecutionMode

	Now   func() time.Time
	NewID func() string
}

// Engine executes workflows. It holds no global state; create one per
// configuration.
type Engine struct {
	opts Options

	mu   sync.RWMutex
	runs map[string]*Run
}

// New creates an engine
func New(opts Options) (*Engine, error) {
	if opts.Agents == nil {
		return nil, fmt.Errorf("agent provider is required")
	}
	if opts.Sink == nil {
		opts.Sink = events.Nop
	}
	if opts.Extractor == nil {
		opts.Extractor = extract.TextExtractor{}
	}
	if opts.DefaultTaskTimeout <= 0 {
		opts.DefaultTaskTimeout = DefaultTaskTimeout
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = DefaultMaxBackoff
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Engine{opts: opts, runs: make(map[string]*Run)}, nil
}

// Start begins a run in the background and returns immediately. Cancelling
// ctx cancels the run. When the run finishes the metadata of req.Workflow is
// updated, so callers must not touch the workflow until the run is done.
func (e *Engine) Start(ctx context.Context, req Request) (*Run, error) {
	if req.Workflow == nil {
		return nil, fmt.Errorf("workflow is required")
	}

	id := req.ExecutionID
	if id == "" {
		id = e.opts.NewID()
	}

	runCtx, cancel := context.WithCancel(ctx)
	run := newRun(id, req.Workflow.ID, e.opts.Now(), e.opts.Sink, cancel)

	e.mu.Lock()
	if _, exists := e.runs[id]; exists {
		e.mu.Unlock()
		cancel()
		return nil, fmt.Errorf("execution %s already exists", id)
	}
	e.runs[id] = run
	e.mu.Unlock()

	wf := req.Workflow.Clone()

	go func() {
		defer cancel()
		ctx := runCtx
		if d := wf.MaxExecutionDuration(); d > 0 {
			var cancelTimeout context.CancelFunc
			ctx, cancelTimeout = context.WithTimeout(ctx, d)
			defer cancelTimeout()
		}
		x := newExecution(e, run, req, wf)
		errInfo := x.execute(ctx)
		x.finalize(ctx, errInfo)
	}()

	return run, nil
}

// Execute runs a workflow to completion. It never returns nil: every failure
// is reported through WorkflowResult.Error.
func (e *Engine) Execute(ctx context.Context, req Request) *WorkflowResult {
	run, err := e.Start(ctx, req)
	if err != nil {
		now := e.opts.Now()
		res := &WorkflowResult{
			ExecutionID: req.ExecutionID,
			State:       StateFailed,
			Results:     map[string]*TaskResult{},
			Metadata:    ResultMetadata{StartedAt: now, FinishedAt: now, AgentsUsed: []string{}},
			Error:       newError(CodeInvalidWorkflow, "%v", err),
		}
		if req.Workflow != nil {
			res.WorkflowID = req.Workflow.ID
		}
		logger.FromContext(ctx).Error("Failed to start workflow execution", zap.Error(err))
		return res
	}
	<-run.Done()
	return run.Result()
}

// Get returns a run by execution id
func (e *Engine) Get(id string) (*Run, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	run, ok := e.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return run, nil
}

// Runs returns every known run, oldest first
func (e *Engine) Runs() []*Run {
	e.mu.RLock()
	out := make([]*Run, 0, len(e.runs))
	for _, r := range e.runs {
		out = append(out, r)
	}
	e.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].startedAt.Equal(out[j].startedAt) {
			return out[i].id < out[j].id
		}
		return out[i].startedAt.Before(out[j].startedAt)
	})
	return out
}

// Forget drops a finished run from memory
func (e *Engine) Forget(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	run, ok := e.runs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if !run.State().Terminal() {
		return fmt.Errorf("%w: run %s is still %s", ErrInvalidTransition, id, run.State())
	}
	delete(e.runs, id)
	return nil
}

func (e *Engine) emit(t events.Type, executionID, taskID string, payload any) {
	e.opts.Sink.Emit(events.New(t, executionID, taskID, payload))
}

// IsControlError reports whether err comes from a control call on a run in
// the wrong state or an unknown run
func IsControlError(err error) bool {
	return errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrRunNotFound)
}
