package engine

import (
	"context"
	"testing"

	"teamflow/internal/workflow"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateCustomCondition(t *testing.T) {
	ok := &TaskResult{TaskID: "a", Success: true, Output: "status: urgent"}
	bad := &TaskResult{TaskID: "b", Success: false, Error: &ErrorInfo{Code: CodeTaskExecutionError, Message: "x"}}

	tests := []struct {
		name     string
		expr     string
		upstream []*TaskResult
		want     bool
		wantErr  bool
	}{
		{name: "bare success", expr: ".success", upstream: []*TaskResult{ok}, want: true},
		{name: "bare success with failure", expr: ".success", upstream: []*TaskResult{ok, bad}, want: false},
		{name: "failed flag", expr: "{{ .failed }}", upstream: []*TaskResult{bad}, want: true},
		{name: "sprig on output", expr: `{{ contains "urgent" .output }}`, upstream: []*TaskResult{ok}, want: true},
		{name: "per task output", expr: `{{ hasPrefix "status" (index .outputs "a") }}`, upstream: []*TaskResult{ok}, want: true},
		{name: "literal text", expr: "{{ if .success }}yes{{ end }}", upstream: []*TaskResult{ok}, want: false},
		{name: "no upstream results", expr: ".success", want: false},
		{name: "empty expression", expr: "  ", wantErr: true},
		{name: "broken template", expr: "{{ .success", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := evaluateCustomCondition(tt.expr, conditionData{upstream: tt.upstream})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEdgeSatisfied(t *testing.T) {
	ok := []*TaskResult{{TaskID: "a", Success: true}}
	failed := []*TaskResult{{TaskID: "a", Success: false}}
	ctx := context.Background()

	edge := func(ct workflow.ConditionType, expr string) workflow.StageDependency {
		return workflow.StageDependency{
			FromStage: "A",
			ToStage:   "B",
			Condition: &workflow.Condition{Type: ct, CustomExpression: expr},
		}
	}

	assert.True(t, edgeSatisfied(ctx, workflow.StageDependency{FromStage: "A", ToStage: "B"}, failed))
	assert.True(t, edgeSatisfied(ctx, edge(workflow.ConditionCompletion, ""), failed))
	assert.True(t, edgeSatisfied(ctx, edge(workflow.ConditionFailure, ""), failed))
	assert.False(t, edgeSatisfied(ctx, edge(workflow.ConditionFailure, ""), ok))
	assert.True(t, edgeSatisfied(ctx, edge(workflow.ConditionCustom, ".success"), ok))
	assert.False(t, edgeSatisfied(ctx, edge(workflow.ConditionCustom, ".success"), failed))
	assert.False(t, edgeSatisfied(ctx, edge(workflow.ConditionCustom, "{{"), ok))
}
