package agent

import (
	"context"
	"time"
)

// Metadata describes the cost of one agent invocation
type Metadata struct {
	TokensUsed    int           `json:"tokens_used"`
	ExecutionTime time.Duration `json:"execution_time"`
	ToolsUsed     []string      `json:"tools_used,omitempty"`
}

// Result is what an agent returns for one prompt
type Result struct {
	Success  bool     `json:"success"`
	Output   string   `json:"output"`
	Metadata Metadata `json:"metadata"`
	Error    string   `json:"error,omitempty"`
}

// Progress is an intermediate status update from a running agent
type Progress struct {
	Message string  `json:"message"`
	Percent float64 `json:"percent,omitempty"`
}

// ExecuteOptions contains options for one agent invocation
type ExecuteOptions struct {
	// Timeout bounds the invocation; zero means no extra deadline
	Timeout time.Duration

	// OnProgress receives intermediate updates, may be nil
	OnProgress func(Progress)
}

// Agent is an LLM-backed worker that processes prompts. Implementations may
// call a provider API, run a CLI, or be a test double; the engine does not care.
type Agent interface {
	// ID returns the registry id of the agent
	ID() string

	// Name returns the display name of the agent
	Name() string

	// Type returns the type identifier of the agent
	Type() string

	// Execute runs the agent with the given prompt
	Execute(ctx context.Context, prompt string, options ExecuteOptions) (*Result, error)

	// IsAvailable checks if the agent is available and ready to use
	IsAvailable(ctx context.Context) bool
}

func reportProgress(options ExecuteOptions, msg string, pct float64) {
	if options.OnProgress != nil {
		options.OnProgress(Progress{Message: msg, Percent: pct})
	}
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// EstimateTokens approximates token usage for agents that do not report it
func EstimateTokens(texts ...string) int {
	n := 0
	for _, t := range texts {
		n += len(t)
	}
	return (n + 3) / 4
}
