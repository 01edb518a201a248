package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"teamflow/internal/events"
)

var (
	// ErrRunNotFound is returned when an execution id is unknown
	ErrRunNotFound = errors.New("execution not found")
	// ErrInvalidTransition is returned when a control call does not fit the run state
	ErrInvalidTransition = errors.New("invalid state transition")
)

var transitions = map[State][]State{
	StatePending:   {StatePlanning, StateRunning, StateFailed, StateCancelled},
	StatePlanning:  {StateConfirmed, StateRunning, StateFailed, StateCancelled},
	StateConfirmed: {StateRunning, StateFailed, StateCancelled},
	StateRunning:   {StatePaused, StateCompleted, StateFailed, StateCancelled},
	StatePaused:    {StateRunning, StateCompleted, StateFailed, StateCancelled},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Snapshot is a point-in-time view of a run
type Snapshot struct {
	ExecutionID    string         `json:"execution_id"`
	WorkflowID     string         `json:"workflow_id"`
	State          State          `json:"state"`
	StartedAt      time.Time      `json:"started_at"`
	CompletedTasks []string       `json:"completed_tasks"`
	NextBatch      []string       `json:"next_batch,omitempty"`
	SharedContext  map[string]any `json:"shared_context"`
}

type confirmation struct {
	approved bool
	reason   string
}

// Run is one execution of a workflow. Control methods are safe to call from
// any goroutine.
type Run struct {
	id         string
	workflowID string
	startedAt  time.Time
	sink       events.Sink

	mu              sync.Mutex
	state           State
	awaitingConfirm bool
	confirmCh       chan confirmation
	resumeCh        chan struct{}
	cancel          context.CancelFunc
	results         map[string]*TaskResult
	completed       []string
	nextBatch       []string
	shared          *SharedContext
	final           *WorkflowResult
	done            chan struct{}
	cancelRequested bool
	agentsUsed      map[string]bool
	overheadTokens  int
}

func newRun(id, workflowID string, startedAt time.Time, sink events.Sink, cancel context.CancelFunc) *Run {
	return &Run{
		id:         id,
		workflowID: workflowID,
		startedAt:  startedAt,
		sink:       sink,
		state:      StatePending,
		confirmCh:  make(chan confirmation, 1),
		cancel:     cancel,
		results:    make(map[string]*TaskResult),
		shared:     NewSharedContext(),
		done:       make(chan struct{}),
		agentsUsed: make(map[string]bool),
	}
}

// ID returns the execution id
func (r *Run) ID() string { return r.id }

// WorkflowID returns the id of the workflow being executed
func (r *Run) WorkflowID() string { return r.workflowID }

// StartedAt returns when the run was created
func (r *Run) StartedAt() time.Time { return r.startedAt }

// State returns the current state
func (r *Run) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Done is closed when the run reaches a terminal state
func (r *Run) Done() <-chan struct{} { return r.done }

func (r *Run) transition(to State) error {
	r.mu.Lock()
	from := r.state
	if !canTransition(from, to) {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	r.state = to
	r.mu.Unlock()

	r.sink.Emit(events.New(events.StateChanged, r.id, "", map[string]any{"from": from, "to": to}))
	return nil
}

// Confirm approves the plan of a run waiting for confirmation
func (r *Run) Confirm() error {
	return r.answer(confirmation{approved: true})
}

// Reject declines the plan of a run waiting for confirmation; the run ends
// as cancelled with EXECUTION_REJECTED.
func (r *Run) Reject(reason string) error {
	return r.answer(confirmation{approved: false, reason: reason})
}

func (r *Run) answer(c confirmation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.awaitingConfirm {
		return fmt.Errorf("%w: run %s is not awaiting confirmation (state %s)", ErrInvalidTransition, r.id, r.state)
	}
	r.awaitingConfirm = false
	r.confirmCh <- c
	return nil
}

// awaitConfirmation blocks the driver until Confirm, Reject or cancellation
func (r *Run) awaitConfirmation(ctx context.Context) (confirmation, error) {
	r.mu.Lock()
	r.awaitingConfirm = true
	r.mu.Unlock()

	select {
	case c := <-r.confirmCh:
		return c, nil
	case <-ctx.Done():
		r.mu.Lock()
		r.awaitingConfirm = false
		r.mu.Unlock()
		return confirmation{}, ctx.Err()
	}
}

// Pause stops dispatching after the in-flight batch settles
func (r *Run) Pause() error {
	r.mu.Lock()
	if r.state != StateRunning {
		state := r.state
		r.mu.Unlock()
		return fmt.Errorf("%w: cannot pause run in state %s", ErrInvalidTransition, state)
	}
	r.resumeCh = make(chan struct{})
	r.mu.Unlock()

	if err := r.transition(StatePaused); err != nil {
		return err
	}
	r.sink.Emit(events.New(events.ExecutionPaused, r.id, "", nil))
	return nil
}

// Resume continues a paused run
func (r *Run) Resume() error {
	r.mu.Lock()
	if r.state != StatePaused {
		state := r.state
		r.mu.Unlock()
		return fmt.Errorf("%w: cannot resume run in state %s", ErrInvalidTransition, state)
	}
	ch := r.resumeCh
	r.resumeCh = nil
	r.mu.Unlock()

	if err := r.transition(StateRunning); err != nil {
		return err
	}
	if ch != nil {
		close(ch)
	}
	r.sink.Emit(events.New(events.ExecutionResumed, r.id, "", nil))
	return nil
}

// waitIfPaused blocks at a batch boundary while the run is paused
func (r *Run) waitIfPaused(ctx context.Context) error {
	r.mu.Lock()
	ch := r.resumeCh
	paused := r.state == StatePaused
	r.mu.Unlock()
	if !paused || ch == nil {
		return nil
	}

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel stops dispatching and aborts in-flight agent calls. Completed tasks
// stay recorded.
func (r *Run) Cancel() error {
	r.mu.Lock()
	if r.state.Terminal() {
		state := r.state
		r.mu.Unlock()
		return fmt.Errorf("%w: run already %s", ErrInvalidTransition, state)
	}
	r.cancelRequested = true
	cancel := r.cancel
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return nil
}

func (r *Run) wasCancelled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelRequested
}

// Wait blocks until the run finishes or ctx is done
func (r *Run) Wait(ctx context.Context) (*WorkflowResult, error) {
	select {
	case <-r.done:
		return r.Result(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Result returns the final result, nil while the run is active
func (r *Run) Result() *WorkflowResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.final
}

// Snapshot returns the current progress of the run
func (r *Run) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{
		ExecutionID:    r.id,
		WorkflowID:     r.workflowID,
		State:          r.state,
		StartedAt:      r.startedAt,
		CompletedTasks: append([]string(nil), r.completed...),
		NextBatch:      append([]string(nil), r.nextBatch...),
		SharedContext:  r.shared.Snapshot(),
	}
}

func (r *Run) setNextBatch(ids []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextBatch = ids
}

// record stores a settled task result and writes it to the shared context
func (r *Run) record(res *TaskResult) {
	r.mu.Lock()
	r.results[res.TaskID] = res
	r.completed = append(r.completed, res.TaskID)
	r.mu.Unlock()

	r.shared.Record(res)
}

func (r *Run) result(taskID string) (*TaskResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.results[taskID]
	return res, ok
}

// orderedResults returns the recorded results in completion order
func (r *Run) orderedResults() []*TaskResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*TaskResult, 0, len(r.completed))
	for _, id := range r.completed {
		out = append(out, r.results[id])
	}
	return out
}

// useAgent marks an agent as used; tokens counts coordinator calls that do
// not produce a task result
func (r *Run) useAgent(id string, tokens int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agentsUsed[id] = true
	r.overheadTokens += tokens
}

func (r *Run) agentsUsedList() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.agentsUsed))
	for id := range r.agentsUsed {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (r *Run) finish(res *WorkflowResult) {
	r.mu.Lock()
	r.final = res
	r.nextBatch = nil
	r.mu.Unlock()
	close(r.done)
}
