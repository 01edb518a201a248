package engine

import (
	"testing"

	"teamflow/internal/graph"
	"teamflow/internal/testutil"
	"teamflow/internal/workflow"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func batchIDs(batches []batch) [][]string {
	out := make([][]string, len(batches))
	for i, b := range batches {
		out[i] = b.taskIDs()
	}
	return out
}

func mixedLevelWorkflow() *workflow.WorkflowConfig {
	par := testutil.Stage("P", 0, "worker", "worker")
	par.Type = workflow.StageParallel
	seq := testutil.Stage("S", 0, "worker", "worker")
	return testutil.NewWorkflow("mixed", []workflow.Stage{par, seq, testutil.Stage("Z", 0, "worker")},
		[]workflow.StageDependency{testutil.Edge("P", "Z"), testutil.Edge("S", "Z")}, "worker")
}

func TestBuildSchedule(t *testing.T) {
	tests := []struct {
		name string
		mode workflow.ExecutionMode
		want [][]string
	}{
		{
			name: "parallel mode groups a level",
			mode: workflow.ModeParallel,
			want: [][]string{{"P-1", "P-2", "S-1"}, {"S-2"}, {"Z-1"}},
		},
		{
			name: "sequential mode runs one task at a time",
			mode: workflow.ModeSequential,
			want: [][]string{{"P-1"}, {"P-2"}, {"S-1"}, {"S-2"}, {"Z-1"}},
		},
		{
			name: "adaptive mode runs one task at a time",
			mode: workflow.ModeAdaptive,
			want: [][]string{{"P-1"}, {"P-2"}, {"S-1"}, {"S-2"}, {"Z-1"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wf := mixedLevelWorkflow()
			batches := buildSchedule(wf, graph.Build(wf.ExecutionFlow), tt.mode)
			assert.Equal(t, tt.want, batchIDs(batches))
		})
	}
}

func TestBuildScheduleSeparatesBatchMates(t *testing.T) {
	wf := testutil.NewWorkflow("mates", []workflow.Stage{{
		ID:   "P",
		Name: "P",
		Type: workflow.StageParallel,
		Tasks: []workflow.Task{
			{ID: "a", AgentID: "worker"},
			{ID: "b", AgentID: "worker", Dependencies: []string{"a"}},
			{ID: "c", AgentID: "worker"},
		},
	}}, nil, "worker")

	batches := buildSchedule(wf, graph.Build(wf.ExecutionFlow), workflow.ModeParallel)

	require.Len(t, batches, 2)
	assert.Equal(t, [][]string{{"a", "c"}, {"b"}}, batchIDs(batches))
	assert.Equal(t, 0, batches[1].Level)
}

func TestBuildScheduleTaskCycleStillRuns(t *testing.T) {
	wf := testutil.NewWorkflow("loop", []workflow.Stage{{
		ID:   "P",
		Name: "P",
		Type: workflow.StageParallel,
		Tasks: []workflow.Task{
			{ID: "a", AgentID: "worker", Dependencies: []string{"b"}},
			{ID: "b", AgentID: "worker", Dependencies: []string{"a"}},
		},
	}}, nil, "worker")

	batches := buildSchedule(wf, graph.Build(wf.ExecutionFlow), workflow.ModeParallel)
	assert.Equal(t, [][]string{{"a"}, {"b"}}, batchIDs(batches))
}

func TestBuildScheduleLevelsFollowEdges(t *testing.T) {
	wf := testutil.DiamondWorkflow()
	batches := buildSchedule(wf, graph.Build(wf.ExecutionFlow), workflow.ModeParallel)

	assert.Equal(t, [][]string{{"A-1"}, {"B-1", "C-1"}, {"D-1"}}, batchIDs(batches))
	for i, b := range batches {
		assert.Equal(t, i, b.Level)
	}
}
