package workflow

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flow.yaml")
	require.NoError(t, os.WriteFile(path, []byte("id: first\n"), 0600))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loaded := make(chan string, 10)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, 20*time.Millisecond, func(wf *WorkflowConfig, err error) {
			if err != nil {
				loaded <- "error"
				return
			}
			loaded <- wf.ID
		})
	}()

	// give the watcher time to register the directory
	time.Sleep(100 * time.Millisecond)

	// unrelated files are ignored
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("id: other\n"), 0600))
	require.NoError(t, os.WriteFile(path, []byte("id: second\n"), 0600))

	select {
	case id := <-loaded:
		assert.Equal(t, "second", id)
	case <-time.After(3 * time.Second):
		t.Fatal("workflow was not reloaded")
	}

	require.NoError(t, os.WriteFile(path, []byte("name: no id\n"), 0600))
	select {
	case id := <-loaded:
		assert.Equal(t, "error", id)
	case <-time.After(3 * time.Second):
		t.Fatal("broken workflow was not reported")
	}

	cancel()
	assert.NoError(t, <-done)
}
