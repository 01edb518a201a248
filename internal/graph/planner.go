package graph

import (
	"errors"
	"fmt"

	"teamflow/internal/workflow"
)

// ErrCyclicGraph is returned when a plan is requested for a graph with a cycle
var ErrCyclicGraph = errors.New("dependency graph contains a cycle")

// Thresholds for the advisory plan warnings
const (
	maxSerialLevels        = 5
	maxParallelStages      = 5
	dominantLevelThreshold = 0.5
)

// ExecutionLevel is one group of stages that may start together
type ExecutionLevel struct {
	Level             int      `json:"level"`
	Stages            []string `json:"stages"`
	CanRunInParallel  bool     `json:"can_run_in_parallel"`
	EstimatedDuration int      `json:"estimated_duration"`
	Dependencies      []string `json:"dependencies"`
}

// ExecutionPlan is a read-only planning artifact derived from a workflow
type ExecutionPlan struct {
	TotalStages       int              `json:"total_stages"`
	EstimatedDuration int              `json:"estimated_duration"`
	ExecutionLevels   []ExecutionLevel `json:"execution_levels"`
	CriticalPath      []string         `json:"critical_path"`
	Warnings          []string         `json:"warnings"`
}

// GeneratePlan derives levels, durations, the critical path and warnings. g may
// be nil, in which case it is built from the workflow.
func GeneratePlan(wf *workflow.WorkflowConfig, g *DependencyGraph) (*ExecutionPlan, error) {
	if g == nil {
		g = Build(wf.ExecutionFlow)
	}
	if g.Cyclic {
		return nil, ErrCyclicGraph
	}

	timeouts := make(map[string]int, len(wf.ExecutionFlow.Stages))
	for _, s := range wf.ExecutionFlow.Stages {
		timeouts[s.ID] = s.TimeoutMs
	}

	plan := &ExecutionPlan{
		TotalStages:     len(g.Nodes),
		ExecutionLevels: make([]ExecutionLevel, 0, len(g.Levels)),
		CriticalPath:    []string{},
		Warnings:        []string{},
	}

	for i, members := range g.Levels {
		level := ExecutionLevel{
			Level:            i + 1,
			Stages:           append([]string(nil), members...),
			CanRunInParallel: len(members) > 1,
			Dependencies:     []string{},
		}

		seen := make(map[string]bool)
		for _, id := range members {
			if timeouts[id] > level.EstimatedDuration {
				level.EstimatedDuration = timeouts[id]
			}
			for _, pred := range g.Predecessors(id) {
				if !seen[pred] {
					seen[pred] = true
					level.Dependencies = append(level.Dependencies, pred)
				}
			}
		}

		plan.EstimatedDuration += level.EstimatedDuration
		plan.ExecutionLevels = append(plan.ExecutionLevels, level)
	}

	plan.CriticalPath = criticalPath(g, timeouts)
	plan.Warnings = planWarnings(plan)
	return plan, nil
}

// criticalPath finds the longest chain by cumulative stage timeout. A stage adds
// its own timeout to the distance of its successors; the last strict improvement
// wins among equal candidates.
func criticalPath(g *DependencyGraph, timeouts map[string]int) []string {
	if len(g.Nodes) == 0 {
		return []string{}
	}

	dist := make(map[string]int, len(g.Nodes))
	prev := make(map[string]string, len(g.Nodes))

	for _, level := range g.Levels {
		for _, id := range level {
			for _, next := range g.Successors(id) {
				if candidate := dist[id] + timeouts[id]; candidate > dist[next] {
					dist[next] = candidate
					prev[next] = id
				}
			}
		}
	}

	end := ""
	best := -1
	for _, level := range g.Levels {
		for _, id := range level {
			if total := dist[id] + timeouts[id]; total > best {
				best = total
				end = id
			}
		}
	}

	var path []string
	for id := end; id != ""; id = prev[id] {
		path = append([]string{id}, path...)
	}
	return path
}

func planWarnings(plan *ExecutionPlan) []string {
	warnings := []string{}

	serial := 0
	for _, level := range plan.ExecutionLevels {
		if !level.CanRunInParallel {
			serial++
		}
	}
	if serial > maxSerialLevels {
		warnings = append(warnings, fmt.Sprintf(
			"too many serial stages: %d levels run one stage at a time, consider parallelizing independent work", serial))
	}

	for _, level := range plan.ExecutionLevels {
		if len(level.Stages) > maxParallelStages {
			warnings = append(warnings, fmt.Sprintf(
				"level %d runs %d stages in parallel, possible performance bottleneck", level.Level, len(level.Stages)))
		}
	}

	if plan.EstimatedDuration > 0 {
		for _, level := range plan.ExecutionLevels {
			share := float64(level.EstimatedDuration) / float64(plan.EstimatedDuration)
			if share > dominantLevelThreshold {
				warnings = append(warnings, fmt.Sprintf(
					"level %d takes %.0f%% of the estimated duration, stage too long, consider splitting", level.Level, share*100))
			}
		}
	}

	return warnings
}
