package engine

import (
	"fmt"
	"strings"

	"teamflow/internal/graph"
	"teamflow/internal/workflow"
)

// DefaultTaskEstimateMinutes is the estimate of every task of a default plan
const DefaultTaskEstimateMinutes = 30

// PlannedTask is one entry of a coordinator plan
type PlannedTask struct {
	ID               string   `json:"id"`
	AgentID          string   `json:"agent_id"`
	Description      string   `json:"description"`
	Dependencies     []string `json:"dependencies,omitempty"`
	EstimatedMinutes int      `json:"estimated_minutes,omitempty"`
}

// TaskPlan is the task breakdown produced by the coordinator for a request
type TaskPlan struct {
	Summary  string        `json:"summary,omitempty"`
	Tasks    []PlannedTask `json:"tasks"`
	Fallback bool          `json:"fallback,omitempty"`
}

// DefaultPlan builds one task per specialist, chained in roster order. With no
// specialists the coordinator gets the single task.
func DefaultPlan(wf *workflow.WorkflowConfig, request string) *TaskPlan {
	assignees := wf.Specialists()
	if len(assignees) == 0 && wf.MainAgentID != "" {
		assignees = []string{wf.MainAgentID}
	}

	plan := &TaskPlan{
		Summary:  "Default plan: each specialist handles the request in turn",
		Fallback: true,
		Tasks:    make([]PlannedTask, 0, len(assignees)),
	}
	prev := ""
	for i, agentID := range assignees {
		t := PlannedTask{
			ID:               fmt.Sprintf("task-%d", i+1),
			AgentID:          agentID,
			Description:      defaultTaskDescription(agentID, request),
			EstimatedMinutes: DefaultTaskEstimateMinutes,
		}
		if prev != "" {
			t.Dependencies = []string{prev}
		}
		plan.Tasks = append(plan.Tasks, t)
		prev = t.ID
	}
	return plan
}

func defaultTaskDescription(agentID, request string) string {
	if strings.TrimSpace(request) == "" {
		return fmt.Sprintf("Contribute your expertise as %s to the workflow.", agentID)
	}
	return fmt.Sprintf("Contribute your expertise as %s to the request: %s", agentID, request)
}

// checkPlan rejects plans the engine cannot run
func checkPlan(plan *TaskPlan, wf *workflow.WorkflowConfig) error {
	if plan == nil || len(plan.Tasks) == 0 {
		return fmt.Errorf("plan has no tasks")
	}
	seen := make(map[string]bool, len(plan.Tasks))
	for _, t := range plan.Tasks {
		if t.ID == "" {
			return fmt.Errorf("plan task without id")
		}
		if seen[t.ID] {
			return fmt.Errorf("duplicate plan task %s", t.ID)
		}
		seen[t.ID] = true
		if len(wf.AgentIDs) > 0 && !wf.HasAgent(t.AgentID) {
			return fmt.Errorf("plan task %s assigned to %q outside the team", t.ID, t.AgentID)
		}
	}
	for _, t := range plan.Tasks {
		for _, d := range t.Dependencies {
			if !seen[d] {
				return fmt.Errorf("plan task %s depends on unknown task %s", t.ID, d)
			}
		}
	}
	return nil
}

// ApplyPlan turns a task plan into an execution flow with one stage per task
// and an edge for every task dependency, so the regular graph machinery
// levels and validates it.
func ApplyPlan(wf *workflow.WorkflowConfig, plan *TaskPlan) error {
	if err := checkPlan(plan, wf); err != nil {
		return err
	}

	flow := workflow.ExecutionFlow{
		Stages:       make([]workflow.Stage, 0, len(plan.Tasks)),
		Dependencies: []workflow.StageDependency{},
	}
	for _, t := range plan.Tasks {
		minutes := t.EstimatedMinutes
		if minutes <= 0 {
			minutes = DefaultTaskEstimateMinutes
		}
		taskType := workflow.TaskTypeSubExecution
		if t.AgentID == wf.MainAgentID {
			taskType = workflow.TaskTypeMainPlanning
		}
		flow.Stages = append(flow.Stages, workflow.Stage{
			ID:        t.ID,
			Name:      t.ID,
			Type:      workflow.StageSequential,
			TimeoutMs: minutes * 60 * 1000,
			Tasks: []workflow.Task{{
				ID:           t.ID,
				AgentID:      t.AgentID,
				TaskType:     taskType,
				Description:  t.Description,
				Dependencies: append([]string(nil), t.Dependencies...),
			}},
		})
		for _, d := range t.Dependencies {
			flow.Dependencies = append(flow.Dependencies, workflow.StageDependency{FromStage: d, ToStage: t.ID})
		}
	}

	candidate := wf.Clone()
	candidate.ExecutionFlow = flow
	if vr := graph.ValidateDependencies(candidate); !vr.IsValid {
		return fmt.Errorf("plan has an invalid dependency graph: %w", vr)
	}
	wf.ExecutionFlow = flow
	return nil
}
