package agent

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DebugAgent implements the Agent interface without calling any model. It
// answers after an optional delay and can be told to fail on a marker.
//
// Env keys: DEBUG_DELAY_MS (response delay), DEBUG_FAIL_ON (fail when the
// prompt contains this text), DEBUG_RESPONSE (fixed response body).
type DebugAgent struct {
	config Config
	delay  time.Duration
	failOn string
	reply  string
}

// NewDebugAgent creates a new Debug agent instance
func NewDebugAgent(cfg Config) *DebugAgent {
	d := &DebugAgent{config: cfg}
	if ms, err := strconv.Atoi(cfg.Env["DEBUG_DELAY_MS"]); err == nil && ms > 0 {
		d.delay = time.Duration(ms) * time.Millisecond
	}
	d.failOn = cfg.Env["DEBUG_FAIL_ON"]
	d.reply = cfg.Env["DEBUG_RESPONSE"]
	return d
}

// ID returns the registry id
func (d *DebugAgent) ID() string {
	return d.config.ID
}

// Name returns the agent name
func (d *DebugAgent) Name() string {
	return d.config.DisplayName()
}

// Type returns the agent type
func (d *DebugAgent) Type() string {
	return AgentTypeDebug
}

// Execute answers the prompt with a short canned response
func (d *DebugAgent) Execute(ctx context.Context, prompt string, options ExecuteOptions) (*Result, error) {
	ctx, cancel := withTimeout(ctx, options.Timeout)
	defer cancel()

	start := time.Now()
	reportProgress(options, "thinking", 0)

	if d.delay > 0 {
		select {
		case <-time.After(d.delay):
		case <-ctx.Done():
			return nil, fmt.Errorf("debug agent cancelled: %w", ctx.Err())
		}
	}

	if d.failOn != "" && strings.Contains(prompt, d.failOn) {
		return &Result{
			Success:  false,
			Error:    "simulated failure",
			Metadata: Metadata{ExecutionTime: time.Since(start)},
		}, fmt.Errorf("debug agent %s simulated failure", d.config.ID)
	}

	output := d.reply
	if output == "" {
		output = fmt.Sprintf("Debug agent '%s' handled: %s", d.config.ID, firstLine(prompt))
	}

	reportProgress(options, "done", 100)
	return &Result{
		Success: true,
		Output:  output,
		Metadata: Metadata{
			TokensUsed:    EstimateTokens(prompt, output),
			ExecutionTime: time.Since(start),
		},
	}, nil
}

// IsAvailable checks if the debug agent is available (always true for debug)
func (d *DebugAgent) IsAvailable(ctx context.Context) bool {
	return true
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 120 {
		s = s[:120] + "..."
	}
	return s
}
