package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"teamflow/internal/logger"

	"go.uber.org/zap"
)

// CommandAgent runs a CLI (claude, gemini, qwen or any custom command) with the
// prompt on stdin and treats stdout as the answer.
type CommandAgent struct {
	config     Config
	binaryPath string
	args       []string
}

// NewCommandAgent creates a CLI backed agent
func NewCommandAgent(cfg Config, binaryPath string, args []string) *CommandAgent {
	return &CommandAgent{
		config:     cfg,
		binaryPath: binaryPath,
		args:       args,
	}
}

// ID returns the registry id
func (c *CommandAgent) ID() string {
	return c.config.ID
}

// Name returns the agent name
func (c *CommandAgent) Name() string {
	return c.config.DisplayName()
}

// Type returns the agent type
func (c *CommandAgent) Type() string {
	return c.config.Type
}

// Execute runs the command with the prompt and options
func (c *CommandAgent) Execute(ctx context.Context, prompt string, options ExecuteOptions) (*Result, error) {
	lgr := logger.FromContext(ctx)

	ctx, cancel := withTimeout(ctx, options.Timeout)
	defer cancel()

	input := prompt
	if c.config.SystemPrompt != "" {
		input = c.config.SystemPrompt + "\n\n" + prompt
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.binaryPath, c.args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Stdin = strings.NewReader(input)

	cmd.Env = os.Environ()
	for k, v := range c.config.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	lgr.Debug("Executing agent command",
		zap.String("agent", c.config.ID),
		zap.String("binary", c.binaryPath),
		zap.Strings("args", c.args),
		zap.Int("prompt_length", len(input)))

	reportProgress(options, "started", 0)
	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	output := strings.TrimSpace(stdout.String())
	result := &Result{
		Success: runErr == nil,
		Output:  output,
		Metadata: Metadata{
			TokensUsed:    EstimateTokens(input, output),
			ExecutionTime: elapsed,
		},
	}

	if runErr != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return result, fmt.Errorf("%s timed out after %s: %w", c.binaryPath, elapsed.Round(time.Millisecond), ctx.Err())
		}
		result.Error = strings.TrimSpace(stderr.String())
		return result, fmt.Errorf("%s execution failed: %w", c.binaryPath, runErr)
	}

	reportProgress(options, "completed", 100)
	return result, nil
}

// IsAvailable checks if the binary can be executed
func (c *CommandAgent) IsAvailable(ctx context.Context) bool {
	if _, err := exec.LookPath(c.binaryPath); err != nil {
		return false
	}
	return exec.CommandContext(ctx, c.binaryPath, "--version").Run() == nil
}
