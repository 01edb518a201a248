// Package events defines the progress events emitted by a workflow run and the
// sinks that deliver them (subscriber bus, log, fan-out).
package events

import (
	"time"
)

// Type identifies an event kind
type Type string

// Event types
const (
	ExecutionStarted  Type = "execution_started"
	PlanReady         Type = "plan_ready"
	StateChanged      Type = "state_changed"
	TaskStarted       Type = "task_started"
	Progress          Type = "progress"
	TaskComplete      Type = "task_complete"
	TaskRetry         Type = "task_retry"
	ExecutionPaused   Type = "execution_paused"
	ExecutionResumed  Type = "execution_resumed"
	ExecutionComplete Type = "execution_complete"
	ExecutionError    Type = "execution_error"
)

// Terminal reports whether no further events follow for the execution
func (t Type) Terminal() bool {
	return t == ExecutionComplete || t == ExecutionError
}

// Event is one notification from a running execution
type Event struct {
	Type        Type      `json:"type"`
	ExecutionID string    `json:"execution_id"`
	TaskID      string    `json:"task_id,omitempty"`
	Time        time.Time `json:"timestamp"`
	Payload     any       `json:"payload,omitempty"`
}

// New creates an event stamped with the current time
func New(t Type, executionID, taskID string, payload any) Event {
	return Event{
		Type:        t,
		ExecutionID: executionID,
		TaskID:      taskID,
		Time:        time.Now(),
		Payload:     payload,
	}
}

// Sink receives events. Emit must not block for long and may be called from
// several goroutines at once while tasks of a batch run concurrently.
type Sink interface {
	Emit(e Event)
}

// SinkFunc adapts a function to the Sink interface
type SinkFunc func(e Event)

// Emit calls f(e)
func (f SinkFunc) Emit(e Event) { f(e) }

// Nop discards every event
var Nop Sink = SinkFunc(func(Event) {})

// Multi fans an event out to several sinks in order
type Multi []Sink

// Emit implements Sink
func (m Multi) Emit(e Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(e)
		}
	}
}
