package config

import (
	"fmt"
	"os"
	"strings"
	"time"
	"unicode"

	"teamflow/internal/agent"
	"teamflow/internal/logger"
	"teamflow/internal/notify"
	"teamflow/internal/store"
	"teamflow/internal/workflow"

	"gopkg.in/yaml.v3"
)

// Config is the service configuration (teamflow.yaml)
type Config struct {
	LogLevel  string         `yaml:"log_level,omitempty"`
	LogFormat string         `yaml:"log_format,omitempty"`
	Server    Server         `yaml:"server"`
	Store     Store          `yaml:"store"`
	Engine    Engine         `yaml:"engine"`
	Agents    []agent.Config `yaml:"agents"`

	// Notifications maps a channel name to the hooks run when a workflow
	// lists that channel
	Notifications map[string][]notify.Hook `yaml:"notifications,omitempty"`
}

// Server configures the HTTP API and the gRPC health endpoint
type Server struct {
	Port     int `yaml:"port"`
	GRPCPort int `yaml:"grpc_port,omitempty"`
	// APIKey protects every route except /health and /metrics when set
	APIKey      string   `yaml:"api_key,omitempty"`
	RateLimit   float64  `yaml:"rate_limit,omitempty"`
	CORSOrigins []string `yaml:"cors_origins,omitempty"`
}

// Store selects the execution record repository
type Store struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path,omitempty"`
}

// Engine holds the engine defaults
type Engine struct {
	DefaultMode          string `yaml:"default_mode,omitempty"`
	MaxParallel          int    `yaml:"max_parallel,omitempty"`
	DefaultTaskTimeoutMs int    `yaml:"default_task_timeout_ms,omitempty"`
	MaxBackoffMs         int    `yaml:"max_backoff_ms,omitempty"`
	EventBufferSize      int    `yaml:"event_buffer_size,omitempty"`
}

// LoadConfig reads, expands, defaults and validates a config file.
// ${VAR} references are replaced from the environment, so secrets can live in
// .env files. Per-run hook variables are left for the notifier.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses config YAML
func ParseConfig(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal([]byte(expandEnv(string(data))), &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	setDefaults(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &config, nil
}

// expandEnv replaces ${VAR} and $VAR from the environment. Hook run variables
// and shell parameters such as $1 are kept as written.
func expandEnv(s string) string {
	return os.Expand(s, func(key string) string {
		switch {
		case notify.IsRunVariable(key):
			return "${" + key + "}"
		case key == "" || !(key[0] == '_' || unicode.IsLetter(rune(key[0]))):
			return "$" + key
		}
		return os.Getenv(key)
	})
}

// Default returns a config with every default applied and no agents
func Default() *Config {
	var config Config
	setDefaults(&config)
	return &config
}

func validateConfig(config *Config) error {
	if _, err := logger.ParseLogLevel(config.LogLevel); err != nil {
		return err
	}
	if _, err := logger.ParseFormat(config.LogFormat); err != nil {
		return err
	}

	if config.Server.Port < 1 || config.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", config.Server.Port)
	}
	if config.Server.GRPCPort < 0 || config.Server.GRPCPort > 65535 {
		return fmt.Errorf("server.grpc_port must be between 0 and 65535, got %d", config.Server.GRPCPort)
	}
	if config.Server.GRPCPort != 0 && config.Server.GRPCPort == config.Server.Port {
		return fmt.Errorf("server.grpc_port must differ from server.port")
	}

	switch config.Store.Driver {
	case store.DriverMemory:
	case store.DriverSQLite:
		if config.Store.Path == "" {
			return fmt.Errorf("store.path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("store.driver must be %q or %q, got %q", store.DriverMemory, store.DriverSQLite, config.Store.Driver)
	}

	if _, err := workflow.ParseExecutionMode(config.Engine.DefaultMode); err != nil {
		return fmt.Errorf("engine.default_mode: %w", err)
	}
	if config.Engine.MaxParallel < 0 {
		return fmt.Errorf("engine.max_parallel must not be negative")
	}

	seen := make(map[string]bool, len(config.Agents))
	for i, a := range config.Agents {
		if a.ID == "" {
			return fmt.Errorf("agent[%d].id is required", i)
		}
		if seen[a.ID] {
			return fmt.Errorf("agent[%d].id %q is duplicated", i, a.ID)
		}
		seen[a.ID] = true
		if a.Type == "" {
			return fmt.Errorf("agent[%d].type is required", i)
		}
	}

	if err := notify.Validate(config.Notifications); err != nil {
		return err
	}

	return nil
}

func setDefaults(config *Config) {
	if config.LogLevel == "" {
		config.LogLevel = DefaultLogLevel
	}
	if config.LogFormat == "" {
		config.LogFormat = DefaultLogFormat
	}
	if config.Server.Port == 0 {
		config.Server.Port = DefaultPort
	}
	if config.Server.RateLimit == 0 {
		config.Server.RateLimit = DefaultRateLimit
	}
	if config.Store.Driver == "" {
		config.Store.Driver = DefaultStoreDriver
	}
	config.Store.Driver = strings.ToLower(config.Store.Driver)
	if config.Store.Driver == store.DriverSQLite && config.Store.Path == "" {
		config.Store.Path = DefaultStorePath
	}
	if config.Engine.DefaultMode == "" {
		config.Engine.DefaultMode = DefaultMode
	}
	if config.Engine.DefaultTaskTimeoutMs == 0 {
		config.Engine.DefaultTaskTimeoutMs = DefaultTaskTimeoutMs
	}
	if config.Engine.MaxBackoffMs == 0 {
		config.Engine.MaxBackoffMs = DefaultMaxBackoffMs
	}
	if config.Engine.EventBufferSize == 0 {
		config.Engine.EventBufferSize = DefaultEventBufferSize
	}
}

// TaskTimeout returns the engine default task timeout
func (c *Config) TaskTimeout() time.Duration {
	return time.Duration(c.Engine.DefaultTaskTimeoutMs) * time.Millisecond
}

// MaxBackoff returns the retry backoff ceiling
func (c *Config) MaxBackoff() time.Duration {
	return time.Duration(c.Engine.MaxBackoffMs) * time.Millisecond
}

// Mode returns the default execution mode
func (c *Config) Mode() workflow.ExecutionMode {
	mode, err := workflow.ParseExecutionMode(c.Engine.DefaultMode)
	if err != nil {
		return workflow.ModeSequential
	}
	return mode
}

// AgentRegistry builds a registry holding every configured agent
func (c *Config) AgentRegistry() (*agent.Registry, error) {
	return agent.NewRegistry(nil, c.Agents...)
}

// CreateSampleConfig writes a starter teamflow.yaml
func CreateSampleConfig(filename string) error {
	sampleConfig := Config{
		LogLevel:  DefaultLogLevel,
		LogFormat: DefaultLogFormat,
		Server: Server{
			Port:      DefaultPort,
			RateLimit: DefaultRateLimit,
			APIKey:    "${TEAMFLOW_API_KEY}",
		},
		Store: Store{
			Driver: store.DriverSQLite,
			Path:   DefaultStorePath,
		},
		Engine: Engine{
			DefaultMode:          DefaultMode,
			MaxParallel:          4,
			DefaultTaskTimeoutMs: DefaultTaskTimeoutMs,
		},
		Agents: []agent.Config{
			{
				ID:           "coordinator",
				Name:         "Coordinator",
				Role:         "Plans the work, decides what runs and writes the final summary",
				Type:         agent.AgentTypeClaudeCode,
				Capabilities: []string{"planning", "review"},
			},
			{
				ID:           "researcher",
				Name:         "Researcher",
				Role:         "Collects and condenses source material",
				Type:         agent.AgentTypeGeminiCli,
				Capabilities: []string{"research"},
			},
			{
				ID:           "analyst",
				Name:         "Analyst",
				Role:         "Finds figures and trends that back the research",
				Type:         agent.AgentTypeQwenCode,
				Capabilities: []string{"analysis"},
			},
			{
				ID:           "writer",
				Name:         "Writer",
				Role:         "Turns research into a finished document",
				Type:         agent.AgentTypeDebug,
				Env:          map[string]string{"DEBUG_DELAY_MS": "200"},
				Capabilities: []string{"writing"},
			},
		},
		Notifications: map[string][]notify.Hook{
			"journal": {
				{
					Command:     "sh",
					Args: []string{
						"-c", `echo "$(date -u +%FT%TZ) $1 $2 $3" >> ` + DataDir + `/notifications.log`, "sh",
						"${TEAMFLOW_WORKFLOW_ID}", "${TEAMFLOW_EXECUTION_ID}", "${TEAMFLOW_STATE}",
					},
					Description: "Append the run outcome to the local journal",
				},
			},
		},
	}

	data, err := yaml.Marshal(&sampleConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal sample config: %w", err)
	}

	if err := os.WriteFile(filename, data, FilePerm); err != nil {
		return fmt.Errorf("failed to write sample config: %w", err)
	}

	return nil
}
