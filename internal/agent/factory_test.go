package agent

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAgent(t *testing.T) {
	tests := []struct {
		name        string
		config      Config
		expectError bool
		expectType  string
		expectBin   string
	}{
		{
			name:       "create claude agent",
			config:     Config{ID: "c", Type: AgentTypeClaudeCode, Model: "sonnet"},
			expectType: AgentTypeClaudeCode,
			expectBin:  "claude",
		},
		{
			name:       "create debug agent",
			config:     Config{ID: "d", Type: AgentTypeDebug},
			expectType: AgentTypeDebug,
		},
		{
			name:       "create qwen agent",
			config:     Config{ID: "q", Type: AgentTypeQwenCode},
			expectType: AgentTypeQwenCode,
			expectBin:  "qwen",
		},
		{
			name:       "create gemini agent with custom binary",
			config:     Config{ID: "g", Type: AgentTypeGeminiCli, Command: "/opt/bin/gemini"},
			expectType: AgentTypeGeminiCli,
			expectBin:  "/opt/bin/gemini",
		},
		{
			name:       "create command agent",
			config:     Config{ID: "x", Type: AgentTypeCommand, Command: "cat"},
			expectType: AgentTypeCommand,
			expectBin:  "cat",
		},
		{
			name:        "command agent needs a command",
			config:      Config{ID: "x", Type: AgentTypeCommand},
			expectError: true,
		},
		{
			name:        "unsupported type",
			config:      Config{ID: "u", Type: "unknown"},
			expectError: true,
		},
		{
			name:        "missing id",
			config:      Config{Type: AgentTypeDebug},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := CreateAgent(tt.config)
			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, a)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expectType, a.Type())
			assert.Equal(t, tt.config.ID, a.ID())
			if tt.expectBin != "" {
				cmd, ok := a.(*CommandAgent)
				require.True(t, ok)
				assert.Equal(t, tt.expectBin, cmd.binaryPath)
			}
		})
	}
}

func TestCreateAgentPresetArgs(t *testing.T) {
	a, err := CreateAgent(Config{ID: "c", Type: AgentTypeClaudeCode, Model: "opus", Args: []string{"--verbose"}})
	require.NoError(t, err)
	cmd := a.(*CommandAgent)
	assert.Equal(t, []string{"--print", "--output-format", "text", "--verbose", "--model", "opus"}, cmd.args)
}

func TestDebugAgent(t *testing.T) {
	ctx := context.Background()

	t.Run("responds", func(t *testing.T) {
		a := NewDebugAgent(Config{ID: "dbg", Name: "Debugger"})
		var progress []string
		res, err := a.Execute(ctx, "write a poem\nabout go", ExecuteOptions{
			OnProgress: func(p Progress) { progress = append(progress, p.Message) },
		})
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Equal(t, "Debug agent 'dbg' handled: write a poem", res.Output)
		assert.Positive(t, res.Metadata.TokensUsed)
		assert.Equal(t, []string{"thinking", "done"}, progress)
		assert.Equal(t, "Debugger", a.Name())
		assert.True(t, a.IsAvailable(ctx))
	})

	t.Run("fixed response", func(t *testing.T) {
		a := NewDebugAgent(Config{ID: "dbg", Env: map[string]string{"DEBUG_RESPONSE": `{"execute": false}`}})
		res, err := a.Execute(ctx, "anything", ExecuteOptions{})
		require.NoError(t, err)
		assert.Equal(t, `{"execute": false}`, res.Output)
	})

	t.Run("fails on marker", func(t *testing.T) {
		a := NewDebugAgent(Config{ID: "dbg", Env: map[string]string{"DEBUG_FAIL_ON": "boom"}})
		res, err := a.Execute(ctx, "go boom", ExecuteOptions{})
		assert.Error(t, err)
		require.NotNil(t, res)
		assert.False(t, res.Success)
	})

	t.Run("respects timeout", func(t *testing.T) {
		a := NewDebugAgent(Config{ID: "dbg", Env: map[string]string{"DEBUG_DELAY_MS": "5000"}})
		start := time.Now()
		_, err := a.Execute(ctx, "slow", ExecuteOptions{Timeout: 20 * time.Millisecond})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Less(t, time.Since(start), 2*time.Second)
	})
}

func TestCommandAgentRunsBinary(t *testing.T) {
	a := NewCommandAgent(Config{ID: "echo", Type: AgentTypeCommand, SystemPrompt: "system"}, "cat", nil)
	if !a.IsAvailable(context.Background()) {
		t.Skip("cat does not support --version on this platform")
	}
	res, err := a.Execute(context.Background(), "hello", ExecuteOptions{})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, strings.HasSuffix(res.Output, "hello"))
	assert.True(t, strings.HasPrefix(res.Output, "system"))
}

func TestCommandAgentMissingBinary(t *testing.T) {
	a := NewCommandAgent(Config{ID: "nope", Type: AgentTypeCommand}, "definitely-not-a-real-binary-xyz", nil)
	assert.False(t, a.IsAvailable(context.Background()))
	_, err := a.Execute(context.Background(), "hi", ExecuteOptions{})
	assert.Error(t, err)
}

func TestRegistry(t *testing.T) {
	created := 0
	factory := func(cfg Config) (Agent, error) {
		created++
		return NewDebugAgent(cfg), nil
	}

	r, err := NewRegistry(factory, Config{ID: "b", Type: AgentTypeDebug}, Config{ID: "a", Type: AgentTypeDebug})
	require.NoError(t, err)

	cfg, ok := r.GetAgentByID("a")
	require.True(t, ok)
	assert.Equal(t, "a", cfg.ID)

	_, ok = r.GetAgentByID("zzz")
	assert.False(t, ok)

	h1, err := r.Get("a")
	require.NoError(t, err)
	h2, err := r.Get("a")
	require.NoError(t, err)
	assert.Same(t, h1, h2)
	assert.Equal(t, 1, created)

	_, err = r.Get("zzz")
	assert.ErrorIs(t, err, ErrAgentNotFound)

	assert.Error(t, r.Register(Config{ID: "a"}))
	assert.Error(t, r.Register(Config{}))

	r.Add(NewDebugAgent(Config{ID: "c", Name: "Cee"}))
	cfg, ok = r.GetAgentByID("c")
	require.True(t, ok)
	assert.Equal(t, "Cee", cfg.Name)

	ids := []string{}
	for _, c := range r.Configs() {
		ids = append(ids, c.ID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens())
	assert.Equal(t, 1, EstimateTokens("abc"))
	assert.Equal(t, 2, EstimateTokens("abcd", "e"))
}
