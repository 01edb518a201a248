package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"teamflow/internal/config"
	"teamflow/internal/workflow"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"
)

// Build-time variables (set by ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	// Load .env file if it exists (ignore errors for optional file)
	_ = godotenv.Load()

	if err := newApp().Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:    "teamflow",
		Usage:   "Plan, validate and run multi-agent workflows",
		Version: fmt.Sprintf("%s (built %s, commit %s)", Version, BuildTime, GitCommit),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Service configuration file",
				Value:   config.DefaultConfigFile,
				Sources: cli.EnvVars("CONFIG_FILE"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set log level (debug, info, warn, error); overrides the config file",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log encoding (console, json); overrides the config file",
				Sources: cli.EnvVars("LOG_FORMAT"),
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Result encoding (json, yaml)",
				Value:   "json",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "init",
				Usage:  "Create a sample teamflow.yaml and workflow.yaml",
				Action: initCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "force", Usage: "Overwrite existing files"},
				},
			},
			{
				Name:      "validate",
				Usage:     "Validate a workflow and print the scored report",
				ArgsUsage: "<workflow>",
				Action:    validateCommand,
			},
			{
				Name:      "plan",
				Usage:     "Print the execution plan of a workflow",
				ArgsUsage: "<workflow>",
				Action:    planCommand,
			},
			{
				Name:      "optimize",
				Usage:     "Remove redundant dependencies from a workflow",
				ArgsUsage: "<workflow>",
				Action:    optimizeCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "write", Aliases: []string{"w"}, Usage: "Write the optimized workflow back to the file"},
				},
			},
			{
				Name:      "run",
				Usage:     "Execute a workflow and print the result",
				ArgsUsage: "<workflow>",
				Action:    runCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "prompt", Aliases: []string{"p"}, Usage: "Request given to the coordinator"},
					&cli.StringFlag{Name: "mode", Aliases: []string{"m"}, Usage: "Execution mode override (sequential, parallel, adaptive)"},
					&cli.DurationFlag{Name: "timeout", Usage: "Abort the run after this duration"},
					&cli.BoolFlag{Name: "debug-agents", Usage: "Back every agent missing from the config with a debug agent"},
					&cli.BoolFlag{Name: "record", Usage: "Write the updated execution metadata back to the workflow file"},
				},
			},
			{
				Name:   "serve",
				Usage:  "Start the HTTP API",
				Action: serveCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "port",
						Usage:   "HTTP server port (overrides config file)",
						Sources: cli.EnvVars("TEAMFLOW_PORT"),
					},
					&cli.IntFlag{
						Name:    "grpc-port",
						Usage:   "gRPC health port (overrides config file)",
						Sources: cli.EnvVars("TEAMFLOW_GRPC_PORT"),
					},
					&cli.StringFlag{
						Name:    "api-key",
						Usage:   "HTTP API key for authentication (overrides config file)",
						Sources: cli.EnvVars("TEAMFLOW_API_KEY"),
					},
				},
			},
			{
				Name:      "watch",
				Usage:     "Re-validate and re-plan a workflow whenever the file changes",
				ArgsUsage: "<workflow>",
				Action:    watchCommand,
				Flags: []cli.Flag{
					&cli.DurationFlag{Name: "debounce", Usage: "Quiet period before reloading", Value: workflow.DefaultDebounce},
				},
			},
		},
	}
}
