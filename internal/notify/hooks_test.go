package notify

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"teamflow/internal/engine"
	"teamflow/internal/testutil"
	"teamflow/internal/workflow"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func finished(success bool) *engine.WorkflowResult {
	r := &engine.WorkflowResult{
		Success:     success,
		ExecutionID: "exec-1",
		WorkflowID:  "linear",
		State:       engine.StateCompleted,
		Results:     map[string]*engine.TaskResult{},
	}
	if !success {
		r.State = engine.StateFailed
		r.Error = &engine.ErrorInfo{Code: "ABORTED", Message: "stopped"}
	}
	return r
}

func TestNotifyRunsHooks(t *testing.T) {
	dir := testutil.CreateTempDir(t)

	n := New(map[string][]Hook{
		"ops": {
			{Command: "sh", Args: []string{"-c", "echo $TEAMFLOW_EXECUTION_ID $TEAMFLOW_STATE > env.txt"}, WorkingDir: dir},
			{Command: "sh", Args: []string{"-c", "cat > result.json"}, WorkingDir: dir},
			{Command: "sh", Args: []string{"-c", `printf '%s' "$1" > args.txt`, "sh", "${TEAMFLOW_WORKFLOW_ID}-${TEAMFLOW_SUCCESS}"}, WorkingDir: dir},
		},
	})

	err := n.Notify(context.Background(), workflow.Notifications{OnComplete: true, Channels: []string{"ops"}}, finished(true))
	require.NoError(t, err)

	assert.Equal(t, "exec-1 completed", strings.TrimSpace(testutil.ReadFile(t, filepath.Join(dir, "env.txt"))))
	assert.Equal(t, "linear-true", strings.TrimSpace(testutil.ReadFile(t, filepath.Join(dir, "args.txt"))))

	var got engine.WorkflowResult
	require.NoError(t, json.Unmarshal([]byte(testutil.ReadFile(t, filepath.Join(dir, "result.json"))), &got))
	assert.Equal(t, "exec-1", got.ExecutionID)
	assert.True(t, got.Success)
}

func TestNotifyErrorEnv(t *testing.T) {
	dir := testutil.CreateTempDir(t)
	n := New(map[string][]Hook{
		"ops": {{Command: "sh", Args: []string{"-c", "echo $TEAMFLOW_ERROR_CODE > code.txt"}, WorkingDir: dir}},
	})

	require.NoError(t, n.Notify(context.Background(), workflow.Notifications{OnError: true, Channels: []string{"ops"}}, finished(false)))
	assert.Equal(t, "ABORTED", strings.TrimSpace(testutil.ReadFile(t, filepath.Join(dir, "code.txt"))))
}

func TestNotifyContinueOn(t *testing.T) {
	tests := []struct {
		name       string
		continueOn string
		wantSecond bool
	}{
		{"default continues", "", true},
		{"always continues", ContinueOnAlways, true},
		{"success stops", ContinueOnSuccess, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := testutil.CreateTempDir(t)
			n := New(map[string][]Hook{
				"ops": {
					{Command: "sh", Args: []string{"-c", "exit 3"}, ContinueOn: tt.continueOn, Description: "fails"},
					{Command: "sh", Args: []string{"-c", "touch second"}, WorkingDir: dir},
				},
			})

			err := n.Notify(context.Background(), workflow.Notifications{Channels: []string{"ops"}}, finished(true))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "fails")
			assert.Equal(t, tt.wantSecond, testutil.FileExists(filepath.Join(dir, "second")))
		})
	}
}

func TestNotifyChannels(t *testing.T) {
	dir := testutil.CreateTempDir(t)
	n := New(map[string][]Hook{
		"ops": {{Command: "sh", Args: []string{"-c", "touch ran"}, WorkingDir: dir}},
	})

	// log is built in and needs no hooks
	require.NoError(t, n.Notify(context.Background(), workflow.Notifications{}, finished(true)))
	require.NoError(t, n.Notify(context.Background(), workflow.Notifications{Channels: []string{ChannelLog}}, finished(false)))

	err := n.Notify(context.Background(), workflow.Notifications{Channels: []string{"pager", "ops"}}, finished(true))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown notification channel "pager"`)
	assert.True(t, testutil.FileExists(filepath.Join(dir, "ran")), "known channels still run")
}

func TestNotifyHookTimeout(t *testing.T) {
	n := New(map[string][]Hook{
		"slow": {{Command: "sleep", Args: []string{"5"}, Timeout: 1}},
	})
	err := n.Notify(context.Background(), workflow.Notifications{Channels: []string{"slow"}}, finished(true))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(nil))
	assert.NoError(t, Validate(map[string][]Hook{"ops": {{Command: "true"}}}))

	tests := map[string]map[string][]Hook{
		"reserved name":    {ChannelLog: {{Command: "true"}}},
		"missing command":  {"ops": {{Args: []string{"x"}}}},
		"bad continue_on":  {"ops": {{Command: "true", ContinueOn: "sometimes"}}},
		"negative timeout": {"ops": {{Command: "true", Timeout: -1}}},
	}
	for name, channels := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, Validate(channels))
		})
	}
}
