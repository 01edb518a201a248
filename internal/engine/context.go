package engine

import (
	"sort"
	"strings"
	"sync"
)

const outputSuffix = "_output"

// SharedContext is the run-scoped key/value store that carries task results
// to later prompts. The engine writes it only after a batch settles.
type SharedContext struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewSharedContext creates an empty shared context
func NewSharedContext() *SharedContext {
	return &SharedContext{values: make(map[string]any)}
}

// Record stores a task result under its id and the output under "<id>_output"
func (c *SharedContext) Record(r *TaskResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[r.TaskID] = r
	c.values[r.TaskID+outputSuffix] = r.Output
}

// Set stores an arbitrary value
func (c *SharedContext) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
}

// Get returns the value stored under key
func (c *SharedContext) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[key]
	return v, ok
}

// Output returns the recorded output of a task
func (c *SharedContext) Output(taskID string) (string, bool) {
	v, ok := c.Get(taskID + outputSuffix)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Len returns the number of stored keys
func (c *SharedContext) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.values)
}

// Snapshot returns a shallow copy of the context
func (c *SharedContext) Snapshot() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]any, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

// contextEntry is one line of the shared context section of a prompt
type contextEntry struct {
	Key   string
	Value string
}

// entries lists the scalar entries (outputs and custom values) sorted by key.
// Whole TaskResults are left out; their outputs are already present.
func (c *SharedContext) entries() []contextEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]contextEntry, 0, len(c.values))
	for k, v := range c.values {
		switch val := v.(type) {
		case *TaskResult:
			continue
		case string:
			out = append(out, contextEntry{Key: k, Value: val})
		default:
			out = append(out, contextEntry{Key: k, Value: strings.TrimSpace(toJSON(val))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
