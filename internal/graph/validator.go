package graph

import (
	"fmt"
	"strings"

	"teamflow/internal/workflow"
)

// Issue codes produced by ValidateDependencies
const (
	CodeInvalidFromStage   = "INVALID_FROM_STAGE"
	CodeInvalidToStage     = "INVALID_TO_STAGE"
	CodeSelfLoop           = "SELF_LOOP"
	CodeCircularDependency = "CIRCULAR_DEPENDENCY"
	CodeOrphanedStage      = "ORPHANED_STAGE"
)

// Issue is one validation finding
type Issue struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	StageID   string `json:"stage_id,omitempty"`
	EdgeIndex *int   `json:"edge_index,omitempty"`
}

// ValidationResult classifies a dependency graph. Execution is blocked when
// IsValid is false; warnings never block.
type ValidationResult struct {
	IsValid  bool    `json:"is_valid"`
	Errors   []Issue `json:"errors"`
	Warnings []Issue `json:"warnings"`
}

// HasCode reports whether any error carries code
func (r ValidationResult) HasCode(code string) bool {
	for _, e := range r.Errors {
		if e.Code == code {
			return true
		}
	}
	return false
}

// Error flattens the error messages
func (r ValidationResult) Error() string {
	msgs := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		msgs = append(msgs, e.Message)
	}
	return strings.Join(msgs, "; ")
}

// ValidateDependencies checks edge references, self loops, cycles and orphaned
// stages, in that order. It never mutates the workflow.
func ValidateDependencies(wf *workflow.WorkflowConfig) ValidationResult {
	result := ValidationResult{Errors: []Issue{}, Warnings: []Issue{}}

	stageIDs := make(map[string]bool, len(wf.ExecutionFlow.Stages))
	for _, s := range wf.ExecutionFlow.Stages {
		stageIDs[s.ID] = true
	}

	usable := make([]workflow.StageDependency, 0, len(wf.ExecutionFlow.Dependencies))
	for i, dep := range wf.ExecutionFlow.Dependencies {
		idx := i
		ok := true
		if !stageIDs[dep.FromStage] {
			result.Errors = append(result.Errors, Issue{
				Code:      CodeInvalidFromStage,
				Message:   fmt.Sprintf("dependency %d references unknown source stage %q", i, dep.FromStage),
				StageID:   dep.FromStage,
				EdgeIndex: &idx,
			})
			ok = false
		}
		if !stageIDs[dep.ToStage] {
			result.Errors = append(result.Errors, Issue{
				Code:      CodeInvalidToStage,
				Message:   fmt.Sprintf("dependency %d references unknown target stage %q", i, dep.ToStage),
				StageID:   dep.ToStage,
				EdgeIndex: &idx,
			})
			ok = false
		}
		if !ok {
			continue
		}
		if dep.FromStage == dep.ToStage {
			result.Errors = append(result.Errors, Issue{
				Code:      CodeSelfLoop,
				Message:   fmt.Sprintf("stage %q depends on itself (dependency %d)", dep.FromStage, i),
				StageID:   dep.FromStage,
				EdgeIndex: &idx,
			})
			continue
		}
		usable = append(usable, dep)
	}

	for _, cycle := range findCycles(wf.StageIDs(), usable) {
		result.Errors = append(result.Errors, Issue{
			Code:    CodeCircularDependency,
			Message: fmt.Sprintf("circular dependency: %s", strings.Join(cycle, " -> ")),
			StageID: cycle[0],
		})
	}

	if len(wf.ExecutionFlow.Stages) > 1 {
		// edges with unknown ends connect nothing
		touched := make(map[string]bool)
		for _, dep := range usable {
			touched[dep.FromStage] = true
			touched[dep.ToStage] = true
		}
		for _, s := range wf.ExecutionFlow.Stages {
			if !touched[s.ID] {
				result.Warnings = append(result.Warnings, Issue{
					Code:    CodeOrphanedStage,
					Message: fmt.Sprintf("stage %q is not connected to any other stage", s.ID),
					StageID: s.ID,
				})
			}
		}
	}

	result.IsValid = len(result.Errors) == 0
	return result
}

// findCycles runs a DFS with a recursion stack and returns one path per back edge
func findCycles(nodes []string, edges []workflow.StageDependency) [][]string {
	adj := make(map[string][]string, len(nodes))
	for _, e := range edges {
		adj[e.FromStage] = append(adj[e.FromStage], e.ToStage)
	}

	visited := make(map[string]bool, len(nodes))
	onStack := make(map[string]bool, len(nodes))
	var stack []string
	var cycles [][]string

	var visit func(id string)
	visit = func(id string) {
		visited[id] = true
		onStack[id] = true
		stack = append(stack, id)

		for _, next := range adj[id] {
			if onStack[next] {
				start := 0
				for i, s := range stack {
					if s == next {
						start = i
						break
					}
				}
				path := append([]string(nil), stack[start:]...)
				cycles = append(cycles, append(path, next))
				continue
			}
			if !visited[next] {
				visit(next)
			}
		}

		stack = stack[:len(stack)-1]
		onStack[id] = false
	}

	for _, id := range nodes {
		if !visited[id] {
			visit(id)
		}
	}
	return cycles
}
