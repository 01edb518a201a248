package workflow

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"teamflow/internal/logger"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce coalesces the burst of events an editor save produces
const DefaultDebounce = 200 * time.Millisecond

// Watch reloads the workflow at path whenever it changes and passes the result
// (or the load error) to onChange. The parent directory is watched because
// editors often replace files instead of writing them in place. Watch blocks
// until ctx is done.
func Watch(ctx context.Context, path string, debounce time.Duration, onChange func(*WorkflowConfig, error)) error {
	lgr := logger.FromContext(ctx)
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	reload := func() {
		wf, err := LoadFromFile(abs)
		onChange(wf, err)
	}
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	lgr.Info("Watching workflow file", zap.String("path", abs))

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			lgr.Debug("Workflow file changed", zap.String("op", event.Op.String()))

			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, reload)
			mu.Unlock()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			lgr.Warn("File watcher error", zap.Error(err))
		}
	}
}
