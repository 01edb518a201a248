package agent

import (
	"fmt"
)

// Agent type constants
const (
	AgentTypeDebug      = "debug"
	AgentTypeCommand    = "command"
	AgentTypeClaudeCode = "claude"
	AgentTypeQwenCode   = "qwen"
	AgentTypeGeminiCli  = "gemini"
)

// Factory creates an agent handle from its configuration
type Factory func(cfg Config) (Agent, error)

// commandPresets holds the binary and default args of the supported CLIs.
// The prompt is always written to stdin.
var commandPresets = map[string]struct {
	binary string
	args   []string
}{
	AgentTypeClaudeCode: {binary: "claude", args: []string{"--print", "--output-format", "text"}},
	AgentTypeQwenCode:   {binary: "qwen", args: []string{}},
	AgentTypeGeminiCli:  {binary: "gemini", args: []string{}},
}

// CreateAgent creates an agent based on configuration
func CreateAgent(cfg Config) (Agent, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("agent id is required")
	}

	switch cfg.Type {
	case AgentTypeDebug:
		return NewDebugAgent(cfg), nil
	case AgentTypeCommand:
		if cfg.Command == "" {
			return nil, fmt.Errorf("agent %s: command is required for type %q", cfg.ID, cfg.Type)
		}
		return NewCommandAgent(cfg, cfg.Command, cfg.Args), nil
	case AgentTypeClaudeCode, AgentTypeQwenCode, AgentTypeGeminiCli:
		preset := commandPresets[cfg.Type]
		binary := preset.binary
		if cfg.Command != "" {
			binary = cfg.Command
		}
		args := append(append([]string(nil), preset.args...), cfg.Args...)
		if cfg.Model != "" {
			args = append(args, "--model", cfg.Model)
		}
		return NewCommandAgent(cfg, binary, args), nil
	default:
		return nil, fmt.Errorf("unsupported agent type: %s", cfg.Type)
	}
}
