// Package notify delivers run completion notices to the channels a workflow
// lists under configuration.notifications.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"teamflow/internal/engine"
	"teamflow/internal/logger"
	"teamflow/internal/workflow"

	"go.uber.org/zap"
)

// ChannelLog is built in and writes a summary line to the logger
const ChannelLog = "log"

// DefaultHookTimeout bounds a hook that sets no timeout
const DefaultHookTimeout = 30 * time.Second

// continue_on values
const (
	ContinueOnError   = "error"
	ContinueOnAlways  = "always"
	ContinueOnSuccess = "success"
)

// Hook is a command run when a channel is notified. The finished result is
// written to its stdin as JSON and ${TEAMFLOW_*} references in Args and Env
// are replaced with the run's values.
type Hook struct {
	Command     string            `yaml:"command"`
	Args        []string          `yaml:"args,omitempty"`
	Env         map[string]string `yaml:"env,omitempty"`
	WorkingDir  string            `yaml:"working_dir,omitempty"`
	Timeout     int               `yaml:"timeout,omitempty"`     // seconds
	ContinueOn  string            `yaml:"continue_on,omitempty"` // "error" (default), "always", "success"
	Description string            `yaml:"description,omitempty"`
}

// Notifier implements engine.Notifier over named hook channels
type Notifier struct {
	channels map[string][]Hook
}

var _ engine.Notifier = (*Notifier)(nil)

// New creates a notifier. channels maps a channel name to the hooks run for
// it, in order.
func New(channels map[string][]Hook) *Notifier {
	return &Notifier{channels: channels}
}

// Validate reports hooks that cannot run
func Validate(channels map[string][]Hook) error {
	for name, hooks := range channels {
		if name == ChannelLog {
			return fmt.Errorf("notification channel %q is reserved", ChannelLog)
		}
		for i, h := range hooks {
			if h.Command == "" {
				return fmt.Errorf("notification channel %s hook %d: command is required", name, i+1)
			}
			switch h.ContinueOn {
			case "", ContinueOnError, ContinueOnAlways, ContinueOnSuccess:
			default:
				return fmt.Errorf("notification channel %s hook %d: invalid continue_on %q", name, i+1, h.ContinueOn)
			}
			if h.Timeout < 0 {
				return fmt.Errorf("notification channel %s hook %d: timeout must not be negative", name, i+1)
			}
		}
	}
	return nil
}

// Notify runs every channel in notifications.Channels, or the log channel
// when none are listed. A failing channel does not stop the others.
func (n *Notifier) Notify(ctx context.Context, notifications workflow.Notifications, result *engine.WorkflowResult) error {
	lgr := logger.FromContext(ctx).With(zap.String("execution_id", result.ExecutionID))

	channels := notifications.Channels
	if len(channels) == 0 {
		channels = []string{ChannelLog}
	}

	var errs []error
	for _, name := range channels {
		if name == ChannelLog {
			logResult(lgr, result)
			continue
		}
		hooks, ok := n.channels[name]
		if !ok {
			errs = append(errs, fmt.Errorf("unknown notification channel %q", name))
			continue
		}
		if err := n.runChannel(logger.WithLogger(ctx, lgr), name, hooks, result); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (n *Notifier) runChannel(ctx context.Context, name string, hooks []Hook, result *engine.WorkflowResult) error {
	lgr := logger.FromContext(ctx)
	lgr.Debug("Notifying channel", zap.String("channel", name), zap.Int("hook_count", len(hooks)))

	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}

	var failed error
	for i, hook := range hooks {
		if err := runHook(ctx, name, i+1, hook, resultEnv(result), payload); err != nil {
			failed = errors.Join(failed, err)

			if hook.ContinueOn == ContinueOnSuccess {
				return fmt.Errorf("channel %s: hook %d failed and continue_on is 'success': %w", name, i+1, err)
			}
			lgr.Info("Continuing after hook failure", zap.String("channel", name), zap.Int("hook_index", i+1))
		}
	}
	if failed != nil {
		return fmt.Errorf("channel %s: %w", name, failed)
	}
	return nil
}

// runHook executes a single hook command
func runHook(ctx context.Context, channel string, index int, hook Hook, env map[string]string, stdin []byte) error {
	lgr := logger.FromContext(ctx)

	description := hook.Description
	if description == "" {
		description = fmt.Sprintf("Hook %d", index)
	}

	timeout := DefaultHookTimeout
	if hook.Timeout > 0 {
		timeout = time.Duration(hook.Timeout) * time.Second
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// only run variables are replaced so shell parameters like $1 survive
	expand := func(s string) string {
		return os.Expand(s, func(key string) string {
			if v, ok := env[key]; ok {
				return v
			}
			return "$" + key
		})
	}
	args := make([]string, len(hook.Args))
	for i, a := range hook.Args {
		args[i] = expand(a)
	}

	lgr.Debug("Executing notification hook",
		zap.String("channel", channel),
		zap.String("description", description),
		zap.String("command", hook.Command),
		zap.Strings("args", args))

	cmd := exec.CommandContext(timeoutCtx, hook.Command, args...)
	cmd.Dir = hook.WorkingDir
	cmd.Stdin = bytes.NewReader(stdin)
	cmd.Env = os.Environ()
	for key, value := range env {
		cmd.Env = append(cmd.Env, key+"="+value)
	}
	for key, value := range hook.Env {
		cmd.Env = append(cmd.Env, key+"="+expand(value))
	}

	output, err := cmd.CombinedOutput()
	if err != nil {
		lgr.Error("Notification hook failed",
			zap.String("channel", channel),
			zap.Int("index", index),
			zap.String("command", hook.Command),
			zap.String("output", strings.TrimSpace(string(output))),
			zap.Error(err))
		return fmt.Errorf("hook %q failed: %w", description, err)
	}

	if len(output) > 0 {
		lgr.Debug("Notification hook output",
			zap.String("channel", channel),
			zap.Int("index", index),
			zap.String("output", strings.TrimSpace(string(output))))
	}
	return nil
}

var runVariables = map[string]bool{
	"TEAMFLOW_EXECUTION_ID": true,
	"TEAMFLOW_WORKFLOW_ID":  true,
	"TEAMFLOW_STATE":        true,
	"TEAMFLOW_SUCCESS":      true,
	"TEAMFLOW_DURATION_MS":  true,
	"TEAMFLOW_ERROR_CODE":   true,
	"TEAMFLOW_ERROR":        true,
}

// IsRunVariable reports whether key is filled in per run for hooks
func IsRunVariable(key string) bool {
	return runVariables[key]
}

// resultEnv is exposed to hooks as environment and to args as ${VAR}
func resultEnv(r *engine.WorkflowResult) map[string]string {
	env := map[string]string{
		"TEAMFLOW_EXECUTION_ID": r.ExecutionID,
		"TEAMFLOW_WORKFLOW_ID":  r.WorkflowID,
		"TEAMFLOW_STATE":        string(r.State),
		"TEAMFLOW_SUCCESS":      strconv.FormatBool(r.Success),
		"TEAMFLOW_DURATION_MS":  strconv.FormatInt(r.Metadata.ExecutionTime.Milliseconds(), 10),
	}
	if r.Error != nil {
		env["TEAMFLOW_ERROR_CODE"] = r.Error.Code
		env["TEAMFLOW_ERROR"] = r.Error.Message
	}
	return env
}

func logResult(lgr *zap.Logger, r *engine.WorkflowResult) {
	fields := []zap.Field{
		zap.String("workflow_id", r.WorkflowID),
		zap.String("state", string(r.State)),
		zap.Int("succeeded", r.Metadata.TasksSucceeded),
		zap.Int("failed", r.Metadata.TasksFailed),
		zap.Duration("duration", r.Metadata.ExecutionTime),
	}
	if r.Error != nil {
		lgr.Warn("Workflow run finished with error", append(fields, zap.String("code", r.Error.Code), zap.String("error", r.Error.Message))...)
		return
	}
	lgr.Info("Workflow run finished", fields...)
}
