package config

// Files and directories
const (
	// DefaultConfigFile is the service configuration file looked up in the working directory
	DefaultConfigFile = "teamflow.yaml"

	// DataDir holds local state such as the execution database
	DataDir = ".teamflow"

	// DefaultStorePath is the SQLite database used when store.path is empty
	DefaultStorePath = DataDir + "/executions.db"

	// SampleWorkflowFile is written by `teamflow init`
	SampleWorkflowFile = "workflow.yaml"
)

// Service defaults
const (
	DefaultPort                = 8080
	DefaultLogLevel            = "info"
	DefaultLogFormat           = "console"
	DefaultStoreDriver         = "memory"
	DefaultMode                = "sequential"
	DefaultTaskTimeoutMs       = 5 * 60 * 1000
	DefaultMaxBackoffMs        = 30 * 1000
	DefaultRateLimit           = 20.0
	DefaultEventBufferSize     = 100
	DefaultShutdownTimeoutSecs = 10
)

// File permissions
const (
	// DirPerm is the default permission for directories
	DirPerm = 0755

	// FilePerm is the default permission for generated files
	FilePerm = 0644
)
