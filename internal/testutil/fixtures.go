package testutil

import (
	"context"
	"fmt"
	"sync"

	"teamflow/internal/agent"
	"teamflow/internal/workflow"
)

// Stage returns a stage with one task per agent id. Task ids are
// "<stage>-1", "<stage>-2", ...
func Stage(id string, timeoutMs int, agentIDs ...string) workflow.Stage {
	s := workflow.Stage{ID: id, Name: id, Type: workflow.StageSequential, TimeoutMs: timeoutMs}
	for i, a := range agentIDs {
		s.Tasks = append(s.Tasks, workflow.Task{
			ID:          fmt.Sprintf("%s-%d", id, i+1),
			AgentID:     a,
			TaskType:    workflow.TaskTypeSubExecution,
			Description: fmt.Sprintf("work on %s", id),
		})
	}
	return s
}

// Edge builds a success dependency
func Edge(from, to string) workflow.StageDependency {
	return workflow.StageDependency{FromStage: from, ToStage: to}
}

// NewWorkflow assembles a workflow with a "coordinator" main agent plus the
// given specialists
func NewWorkflow(id string, stages []workflow.Stage, edges []workflow.StageDependency, specialists ...string) *workflow.WorkflowConfig {
	return &workflow.WorkflowConfig{
		ID:          id,
		Name:        id,
		AgentIDs:    append([]string{"coordinator"}, specialists...),
		MainAgentID: "coordinator",
		ExecutionFlow: workflow.ExecutionFlow{
			Stages:       stages,
			Dependencies: edges,
		},
	}
}

// LinearWorkflow is A -> B -> C, one task per stage, 1000ms each
func LinearWorkflow() *workflow.WorkflowConfig {
	return NewWorkflow("linear",
		[]workflow.Stage{
			Stage("A", 1000, "worker"),
			Stage("B", 1000, "worker"),
			Stage("C", 1000, "worker"),
		},
		[]workflow.StageDependency{Edge("A", "B"), Edge("B", "C")},
		"worker")
}

// DiamondWorkflow is A -> {B, C} -> D
func DiamondWorkflow() *workflow.WorkflowConfig {
	return NewWorkflow("diamond",
		[]workflow.Stage{
			Stage("A", 1000, "worker"),
			Stage("B", 2000, "worker"),
			Stage("C", 1000, "worker"),
			Stage("D", 1000, "worker"),
		},
		[]workflow.StageDependency{Edge("A", "B"), Edge("A", "C"), Edge("B", "D"), Edge("C", "D")},
		"worker")
}

// Call is one recorded invocation of a FuncAgent
type Call struct {
	Prompt string
}

// FuncAgent is a scripted agent.Agent: every call goes to Fn and is recorded
type FuncAgent struct {
	AgentID string
	Fn      func(ctx context.Context, prompt string) (*agent.Result, error)

	mu    sync.Mutex
	calls []Call
}

// Reply returns a FuncAgent that always succeeds with output
func Reply(id, output string) *FuncAgent {
	return &FuncAgent{AgentID: id, Fn: func(context.Context, string) (*agent.Result, error) {
		return &agent.Result{Success: true, Output: output, Metadata: agent.Metadata{TokensUsed: 10}}, nil
	}}
}

// ID implements agent.Agent
func (f *FuncAgent) ID() string { return f.AgentID }

// Name implements agent.Agent
func (f *FuncAgent) Name() string { return f.AgentID }

// Type implements agent.Agent
func (f *FuncAgent) Type() string { return "func" }

// Execute implements agent.Agent
func (f *FuncAgent) Execute(ctx context.Context, prompt string, _ agent.ExecuteOptions) (*agent.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, Call{Prompt: prompt})
	f.mu.Unlock()
	return f.Fn(ctx, prompt)
}

// IsAvailable implements agent.Agent
func (f *FuncAgent) IsAvailable(context.Context) bool { return true }

// Calls returns the recorded calls
func (f *FuncAgent) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Registry builds an agent registry holding the given handles
func Registry(agents ...agent.Agent) *agent.Registry {
	r, err := agent.NewRegistry(nil)
	if err != nil {
		panic(err)
	}
	for _, a := range agents {
		r.Add(a)
	}
	return r
}
