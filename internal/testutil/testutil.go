package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"teamflow/internal/workflow"
)

// CreateTempDir returns a directory removed when the test ends
func CreateTempDir(t *testing.T) string {
	t.Helper()
	return t.TempDir()
}

// CreateTempFile writes content to dir/filename and returns the path
func CreateTempFile(t *testing.T, dir, filename, content string) string {
	t.Helper()

	path := filepath.Join(dir, filename)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to create temp file %s: %v", path, err)
	}
	return path
}

// WriteWorkflow saves wf to dir/filename. The extension picks YAML or JSON.
func WriteWorkflow(t *testing.T, dir, filename string, wf *workflow.WorkflowConfig) string {
	t.Helper()

	path := filepath.Join(dir, filename)
	if err := workflow.SaveToFile(wf, path); err != nil {
		t.Fatalf("failed to write workflow %s: %v", path, err)
	}
	return path
}

// FileExists reports whether path exists
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// ReadFile returns the content of path or fails the test
func ReadFile(t *testing.T, path string) string {
	t.Helper()

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read file %s: %v", path, err)
	}
	return string(content)
}
