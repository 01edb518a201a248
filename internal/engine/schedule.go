package engine

import (
	"teamflow/internal/graph"
	"teamflow/internal/workflow"
)

// scheduledTask is one task with the stage and level it belongs to
type scheduledTask struct {
	Task  workflow.Task
	Stage *workflow.Stage
	Level int
}

// batch is a group of tasks dispatched together. No task in a batch sees the
// result of another member.
type batch struct {
	Level int
	Tasks []scheduledTask
}

func (b batch) taskIDs() []string {
	ids := make([]string, len(b.Tasks))
	for i, st := range b.Tasks {
		ids[i] = st.Task.ID
	}
	return ids
}

// buildSchedule expands the graph levels into dispatch batches.
//
// In parallel mode every task of a parallel stage joins the first batch of its
// level while task i of a sequential stage goes to batch i. A task that
// declares a dependency on a batch-mate is pushed to the following batch. In
// the other modes every task is its own batch, in level, stage, task order.
func buildSchedule(wf *workflow.WorkflowConfig, g *graph.DependencyGraph, mode workflow.ExecutionMode) []batch {
	var out []batch
	for levelIdx, members := range g.Levels {
		if mode != workflow.ModeParallel {
			for _, stageID := range members {
				stage, ok := wf.StageByID(stageID)
				if !ok {
					continue
				}
				for _, t := range stage.Tasks {
					out = append(out, batch{Level: levelIdx, Tasks: []scheduledTask{{Task: t, Stage: stage, Level: levelIdx}}})
				}
			}
			continue
		}

		var groups [][]scheduledTask
		place := func(i int, st scheduledTask) {
			for len(groups) <= i {
				groups = append(groups, nil)
			}
			groups[i] = append(groups[i], st)
		}
		for _, stageID := range members {
			stage, ok := wf.StageByID(stageID)
			if !ok {
				continue
			}
			for i, t := range stage.Tasks {
				st := scheduledTask{Task: t, Stage: stage, Level: levelIdx}
				if stage.Type == workflow.StageParallel {
					place(0, st)
				} else {
					place(i, st)
				}
			}
		}
		for _, tasks := range separateBatchMates(groups) {
			if len(tasks) > 0 {
				out = append(out, batch{Level: levelIdx, Tasks: tasks})
			}
		}
	}
	return out
}

// separateBatchMates moves tasks that depend on a member of their own batch
// into the next batch until no batch holds such a pair.
func separateBatchMates(groups [][]scheduledTask) [][]scheduledTask {
	for i := 0; i < len(groups); i++ {
		ids := make(map[string]bool, len(groups[i]))
		for _, st := range groups[i] {
			ids[st.Task.ID] = true
		}
		var keep, moved []scheduledTask
		for _, st := range groups[i] {
			if dependsOnAny(st.Task, ids) {
				moved = append(moved, st)
			} else {
				keep = append(keep, st)
			}
		}
		if len(moved) == 0 {
			continue
		}
		if len(keep) == 0 {
			// every member depends on another one: a task-level cycle, run them in order
			keep, moved = moved[:1], moved[1:]
		}
		groups[i] = keep
		if i+1 == len(groups) {
			groups = append(groups, nil)
		}
		groups[i+1] = append(moved, groups[i+1]...)
	}
	return groups
}

func dependsOnAny(t workflow.Task, ids map[string]bool) bool {
	for _, d := range t.Dependencies {
		if d != t.ID && ids[d] {
			return true
		}
	}
	return false
}
