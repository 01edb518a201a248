package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"teamflow/internal/config"
	"teamflow/internal/testutil"
	"teamflow/internal/workflow"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// runApp runs the CLI in dir and returns what it printed
func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &out
	err := app.Run(context.Background(), append([]string{"teamflow", "--log-level", "error"}, args...))
	return out.String(), err
}

func TestInitValidatePlan(t *testing.T) {
	t.Chdir(t.TempDir())

	_, err := runApp(t, "init")
	require.NoError(t, err)
	assert.FileExists(t, config.DefaultConfigFile)
	assert.FileExists(t, config.SampleWorkflowFile)

	_, err = runApp(t, "init")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	_, err = runApp(t, "init", "--force")
	require.NoError(t, err)

	out, err := runApp(t, "validate", config.SampleWorkflowFile)
	require.NoError(t, err)
	var report struct {
		IsValid bool `json:"is_valid"`
		Score   int  `json:"score"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.True(t, report.IsValid)
	assert.Positive(t, report.Score)

	out, err = runApp(t, "plan", config.SampleWorkflowFile)
	require.NoError(t, err)
	var plan struct {
		TotalStages  int      `json:"total_stages"`
		CriticalPath []string `json:"critical_path"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &plan))
	assert.Equal(t, 4, plan.TotalStages)
	assert.Equal(t, []string{"plan", "research", "draft", "review"}, plan.CriticalPath)
}

func TestValidateRejectsCycle(t *testing.T) {
	t.Chdir(t.TempDir())

	wf := testutil.LinearWorkflow()
	wf.ExecutionFlow.Dependencies = append(wf.ExecutionFlow.Dependencies, testutil.Edge("C", "A"))
	path := testutil.WriteWorkflow(t, ".", "cycle.yaml", wf)

	_, err := runApp(t, "validate", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid")

	_, err = runApp(t, "plan", path)
	require.Error(t, err)
}

func TestWorkflowArgumentRequired(t *testing.T) {
	t.Chdir(t.TempDir())

	_, err := runApp(t, "plan")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "workflow file is required")
}

func TestOptimizeWrite(t *testing.T) {
	t.Chdir(t.TempDir())

	wf := testutil.LinearWorkflow()
	wf.ExecutionFlow.Dependencies = append(wf.ExecutionFlow.Dependencies, testutil.Edge("A", "C"))
	require.NoError(t, workflow.SaveToFile(wf, "linear.yaml"))

	out, err := runApp(t, "--output", "yaml", "optimize", "--write", "linear.yaml")
	require.NoError(t, err)

	var result map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &result))
	assert.Len(t, result["removed_edges"], 1)

	saved, err := workflow.LoadFromFile("linear.yaml")
	require.NoError(t, err)
	assert.Len(t, saved.ExecutionFlow.Dependencies, 2)
}

func TestRunWithDebugAgents(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	path := testutil.WriteWorkflow(t, dir, "linear.json", testutil.LinearWorkflow())

	out, err := runApp(t, "run", "--debug-agents", "--record", "--prompt", "ship it", path)
	require.NoError(t, err)

	var res struct {
		Success bool           `json:"success"`
		State   string         `json:"state"`
		Results map[string]any `json:"results"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.Success)
	assert.Equal(t, "completed", res.State)
	assert.Contains(t, res.Results, "A-1")

	saved, err := workflow.LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, saved.Metadata.ExecutionCount)
}

func TestRunUnknownAgentFails(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	path := testutil.WriteWorkflow(t, dir, "linear.yaml", testutil.LinearWorkflow())

	_, err := runApp(t, "run", path)
	require.Error(t, err)
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, config.DefaultPort, cfg.Server.Port)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("server: {port: 0x1FFFFF}\n"), 0o644))
	_, err = loadConfig(bad)
	require.Error(t, err)
}
