package graph

import (
	"fmt"

	"teamflow/internal/workflow"
)

// OptimizationResult carries the optimized copy of a workflow and the notes
// explaining what changed or could change.
type OptimizationResult struct {
	Workflow     *workflow.WorkflowConfig   `json:"workflow"`
	RemovedEdges []workflow.StageDependency `json:"removed_edges"`
	Suggestions  []string                   `json:"suggestions"`
	Notes        []string                   `json:"notes"`
}

// Optimize removes transitively implied success and completion edges and suggests stages that might run
// in parallel. The input workflow is not modified.
func Optimize(wf *workflow.WorkflowConfig) *OptimizationResult {
	out := wf.Clone()
	result := &OptimizationResult{
		Workflow:     out,
		RemovedEdges: []workflow.StageDependency{},
		Suggestions:  []string{},
		Notes:        []string{},
	}

	kept := make([]workflow.StageDependency, 0, len(out.ExecutionFlow.Dependencies))
	remaining := append([]workflow.StageDependency(nil), out.ExecutionFlow.Dependencies...)
	for i := 0; i < len(remaining); i++ {
		edge := remaining[i]
		others := make([]workflow.StageDependency, 0, len(remaining)-1)
		others = append(others, kept...)
		others = append(others, remaining[i+1:]...)

		if edge.FromStage != edge.ToStage && hasIndirectPath(edge.FromStage, edge.ToStage, others) {
			if !unconditional(edge) {
				result.Notes = append(result.Notes, fmt.Sprintf(
					"kept dependency %s: implied through other stages but its %s condition changes execution",
					edge, edge.ConditionType()))
				kept = append(kept, edge)
				continue
			}
			result.RemovedEdges = append(result.RemovedEdges, edge)
			result.Notes = append(result.Notes, fmt.Sprintf(
				"removed redundant dependency %s: already implied through other stages", edge))
			continue
		}
		kept = append(kept, edge)
	}
	out.ExecutionFlow.Dependencies = kept

	g := Build(out.ExecutionFlow)
	if g.Cyclic {
		return result
	}
	for i := 0; i+1 < len(g.Levels); i++ {
		cur, next := g.Levels[i], g.Levels[i+1]
		if len(cur) != 1 || len(next) != 1 {
			continue
		}
		if !hasDirectEdge(cur[0], next[0], kept) {
			msg := fmt.Sprintf("stages %q and %q have no direct dependency and might run in parallel", cur[0], next[0])
			result.Suggestions = append(result.Suggestions, msg)
			result.Notes = append(result.Notes, msg)
		}
	}

	for _, e := range kept {
		if e.ConditionType() != workflow.ConditionSuccess {
			continue
		}
		from, okFrom := out.StageByID(e.FromStage)
		to, okTo := out.StageByID(e.ToStage)
		if !okFrom || !okTo || len(from.Tasks) == 0 || len(to.Tasks) == 0 {
			continue
		}
		if !consumesOutputs(to, from) {
			result.Suggestions = append(result.Suggestions, fmt.Sprintf(
				"no task in stage %q declares a dependency on stage %q; dropping %s would let them run in parallel",
				e.ToStage, e.FromStage, e))
		}
	}

	return result
}

// unconditional edges only order stages, so an implied one can go
func unconditional(e workflow.StageDependency) bool {
	switch e.ConditionType() {
	case workflow.ConditionSuccess, workflow.ConditionCompletion:
		return true
	}
	return false
}

func consumesOutputs(consumer, producer *workflow.Stage) bool {
	produced := make(map[string]bool, len(producer.Tasks))
	for _, t := range producer.Tasks {
		produced[t.ID] = true
	}
	for _, t := range consumer.Tasks {
		for _, dep := range t.Dependencies {
			if produced[dep] {
				return true
			}
		}
	}
	return false
}

// hasIndirectPath reports whether to is reachable from from through at least
// one intermediate stage.
func hasIndirectPath(from, to string, edges []workflow.StageDependency) bool {
	adj := make(map[string][]string)
	for _, e := range edges {
		adj[e.FromStage] = append(adj[e.FromStage], e.ToStage)
	}

	visited := map[string]bool{from: true}
	var dfs func(id string, depth int) bool
	dfs = func(id string, depth int) bool {
		for _, next := range adj[id] {
			if next == to {
				if depth > 0 {
					return true
				}
				continue
			}
			if visited[next] {
				continue
			}
			visited[next] = true
			if dfs(next, depth+1) {
				return true
			}
		}
		return false
	}
	return dfs(from, 0)
}

func hasDirectEdge(a, b string, edges []workflow.StageDependency) bool {
	for _, e := range edges {
		if (e.FromStage == a && e.ToStage == b) || (e.FromStage == b && e.ToStage == a) {
			return true
		}
	}
	return false
}
