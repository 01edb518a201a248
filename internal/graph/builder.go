// Package graph turns the stage list and dependency edges of a workflow into a
// leveled DAG and derives plans, validation results and optimizations from it.
package graph

import (
	"teamflow/internal/workflow"
)

// DependencyGraph is the leveled DAG derived from an execution flow. It is
// rebuilt whenever stages or edges change and never persisted.
type DependencyGraph struct {
	Nodes  []string                   `json:"nodes"`
	Edges  []workflow.StageDependency `json:"edges"`
	Levels [][]string                 `json:"levels"`
	// Cyclic is set when leveling stopped early; the last level then holds
	// every stage that sits on or behind a cycle.
	Cyclic bool `json:"cyclic"`

	successors   map[string][]string
	predecessors map[string][]string
	levelOf      map[string]int
}

// Build levels the stages with Kahn's algorithm. Stages that become ready
// together share a level and keep their declaration order. Edges that refer
// to unknown stages are ignored here and reported by the validator.
func Build(flow workflow.ExecutionFlow) *DependencyGraph {
	g := &DependencyGraph{
		Nodes:        make([]string, 0, len(flow.Stages)),
		Edges:        flow.Dependencies,
		successors:   make(map[string][]string),
		predecessors: make(map[string][]string),
		levelOf:      make(map[string]int),
	}

	inDegree := make(map[string]int, len(flow.Stages))
	for _, s := range flow.Stages {
		if _, dup := inDegree[s.ID]; dup {
			continue
		}
		g.Nodes = append(g.Nodes, s.ID)
		inDegree[s.ID] = 0
	}

	for _, e := range flow.Dependencies {
		_, fromOK := inDegree[e.FromStage]
		_, toOK := inDegree[e.ToStage]
		if !fromOK || !toOK {
			continue
		}
		g.successors[e.FromStage] = append(g.successors[e.FromStage], e.ToStage)
		g.predecessors[e.ToStage] = append(g.predecessors[e.ToStage], e.FromStage)
		inDegree[e.ToStage]++
	}

	processed := make(map[string]bool, len(g.Nodes))
	for len(processed) < len(g.Nodes) {
		var level []string
		for _, id := range g.Nodes {
			if !processed[id] && inDegree[id] == 0 {
				level = append(level, id)
			}
		}

		if len(level) == 0 {
			// Every remaining node waits on a cycle.
			for _, id := range g.Nodes {
				if !processed[id] {
					level = append(level, id)
				}
			}
			g.Cyclic = true
			g.addLevel(level)
			break
		}

		for _, id := range level {
			processed[id] = true
			for _, next := range g.successors[id] {
				inDegree[next]--
			}
		}
		g.addLevel(level)
	}

	return g
}

func (g *DependencyGraph) addLevel(level []string) {
	idx := len(g.Levels)
	g.Levels = append(g.Levels, level)
	for _, id := range level {
		g.levelOf[id] = idx
	}
}

// Successors returns the direct downstream stages of id
func (g *DependencyGraph) Successors(id string) []string {
	return g.successors[id]
}

// Predecessors returns the direct upstream stages of id
func (g *DependencyGraph) Predecessors(id string) []string {
	return g.predecessors[id]
}

// LevelOf returns the zero-based level index of a stage
func (g *DependencyGraph) LevelOf(id string) (int, bool) {
	lvl, ok := g.levelOf[id]
	return lvl, ok
}

// IncomingEdges returns the edges that end at id
func (g *DependencyGraph) IncomingEdges(id string) []workflow.StageDependency {
	var out []workflow.StageDependency
	for _, e := range g.Edges {
		if e.ToStage == id {
			out = append(out, e)
		}
	}
	return out
}
