package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSharedContext(t *testing.T) {
	c := NewSharedContext()
	c.Record(&TaskResult{TaskID: "a", Success: true, Output: "alpha"})
	c.Set("budget", map[string]int{"tokens": 100})
	c.Set("note", "keep it short")

	out, ok := c.Output("a")
	require.True(t, ok)
	assert.Equal(t, "alpha", out)

	_, ok = c.Output("missing")
	assert.False(t, ok)

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.IsType(t, &TaskResult{}, v)
	assert.Equal(t, 4, c.Len())

	snap := c.Snapshot()
	snap["extra"] = "x"
	assert.Equal(t, 4, c.Len())

	assert.Equal(t, []contextEntry{
		{Key: "a_output", Value: "alpha"},
		{Key: "budget", Value: `{"tokens":100}`},
		{Key: "note", Value: "keep it short"},
	}, c.entries())
}
