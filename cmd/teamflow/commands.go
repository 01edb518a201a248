package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"teamflow/internal/agent"
	"teamflow/internal/config"
	"teamflow/internal/engine"
	"teamflow/internal/events"
	"teamflow/internal/graph"
	"teamflow/internal/logger"
	"teamflow/internal/metrics"
	"teamflow/internal/notify"
	"teamflow/internal/server"
	"teamflow/internal/store"
	"teamflow/internal/validate"
	"teamflow/internal/workflow"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

func initCommand(ctx context.Context, cmd *cli.Command) error {
	force := cmd.Bool("force")
	configFile := cmd.String("config")

	for _, path := range []string{configFile, config.SampleWorkflowFile} {
		if _, err := os.Stat(path); err == nil && !force {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}

	if err := config.CreateSampleConfig(configFile); err != nil {
		return fmt.Errorf("failed to create sample config: %w", err)
	}
	if err := workflow.SaveToFile(workflow.SampleWorkflow(), config.SampleWorkflowFile); err != nil {
		return fmt.Errorf("failed to create sample workflow: %w", err)
	}

	fmt.Fprintf(writer(cmd), "Created sample %s and %s\n", configFile, config.SampleWorkflowFile)
	return nil
}

func validateCommand(ctx context.Context, cmd *cli.Command) error {
	_, cfg, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	wf, _, err := loadWorkflow(cmd)
	if err != nil {
		return err
	}

	var lookup validate.AgentLookup
	if len(cfg.Agents) > 0 {
		reg, err := cfg.AgentRegistry()
		if err != nil {
			return fmt.Errorf("failed to build agent registry: %w", err)
		}
		lookup = reg
	}

	report := validate.New(lookup).Validate(wf)
	if err := printResult(cmd, report); err != nil {
		return err
	}
	if !report.IsValid {
		return fmt.Errorf("workflow %s is invalid: %d errors, score %d", wf.ID, len(report.Errors), report.Score)
	}
	return nil
}

func planCommand(ctx context.Context, cmd *cli.Command) error {
	if _, _, err := setup(ctx, cmd); err != nil {
		return err
	}
	wf, _, err := loadWorkflow(cmd)
	if err != nil {
		return err
	}

	if deps := graph.ValidateDependencies(wf); !deps.IsValid {
		_ = printResult(cmd, deps)
		return fmt.Errorf("workflow %s has invalid dependencies: %s", wf.ID, deps.Error())
	}

	plan, err := graph.GeneratePlan(wf, nil)
	if err != nil {
		return fmt.Errorf("failed to generate plan: %w", err)
	}
	return printResult(cmd, plan)
}

func optimizeCommand(ctx context.Context, cmd *cli.Command) error {
	ctx, _, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	wf, path, err := loadWorkflow(cmd)
	if err != nil {
		return err
	}

	result := graph.Optimize(wf)
	if cmd.Bool("write") && len(result.RemovedEdges) > 0 {
		if err := workflow.SaveToFile(result.Workflow, path); err != nil {
			return err
		}
		logger.FromContext(ctx).Info("Optimized workflow written",
			zap.String("path", path),
			zap.Int("removed_edges", len(result.RemovedEdges)))
	}
	return printResult(cmd, result)
}

func runCommand(ctx context.Context, cmd *cli.Command) error {
	ctx, cfg, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	lgr := logger.FromContext(ctx)

	wf, path, err := loadWorkflow(cmd)
	if err != nil {
		return err
	}

	var mode workflow.ExecutionMode
	if m := cmd.String("mode"); m != "" {
		if mode, err = workflow.ParseExecutionMode(m); err != nil {
			return err
		}
	}

	reg, err := cfg.AgentRegistry()
	if err != nil {
		return fmt.Errorf("failed to build agent registry: %w", err)
	}
	if cmd.Bool("debug-agents") {
		for _, id := range addDebugAgents(reg, wf) {
			lgr.Info("Using debug agent", zap.String("agent_id", id))
		}
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	eng, err := engine.New(engineOptions(cfg, reg, st, events.LogSink{Logger: lgr}))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if timeout := cmd.Duration("timeout"); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	res := eng.Execute(ctx, engine.Request{
		Workflow: wf,
		Prompt:   cmd.String("prompt"),
		Mode:     mode,
	})

	if cmd.Bool("record") {
		if err := workflow.SaveToFile(wf, path); err != nil {
			lgr.Warn("Failed to record execution metadata", zap.Error(err))
		}
	}

	if err := printResult(cmd, res); err != nil {
		return err
	}
	if !res.Success {
		msg := string(res.State)
		if res.Error != nil {
			msg = res.Error.Error()
		}
		return fmt.Errorf("execution %s failed: %s", res.ExecutionID, msg)
	}
	return nil
}

func serveCommand(ctx context.Context, cmd *cli.Command) error {
	ctx, cfg, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	lgr := logger.FromContext(ctx)

	lgr.Info("Starting teamflow",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit))

	if port := cmd.Int("port"); port != 0 {
		cfg.Server.Port = port
	}
	if port := cmd.Int("grpc-port"); port != 0 {
		cfg.Server.GRPCPort = port
	}
	if key := cmd.String("api-key"); key != "" {
		cfg.Server.APIKey = key
	}

	reg, err := cfg.AgentRegistry()
	if err != nil {
		return fmt.Errorf("failed to build agent registry: %w", err)
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	bus := events.NewBus(cfg.Engine.EventBufferSize)
	defer bus.Close()
	collector := metrics.NewCollector("", lgr)

	eng, err := engine.New(engineOptions(cfg, reg, st, events.Multi{bus, collector, events.LogSink{Logger: lgr}}))
	if err != nil {
		return err
	}

	srv, err := server.NewServer(server.Backend{
		Engine:  eng,
		Agents:  reg,
		Store:   st,
		Bus:     bus,
		Metrics: collector,
	}, server.Config{
		Port:        cfg.Server.Port,
		GRPCPort:    cfg.Server.GRPCPort,
		APIKey:      cfg.Server.APIKey,
		RateLimit:   cfg.Server.RateLimit,
		CORSOrigins: cfg.Server.CORSOrigins,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	<-ctx.Done()
	lgr.Info("Shutting down gracefully")

	return srv.Stop(ctx, time.Duration(config.DefaultShutdownTimeoutSecs)*time.Second)
}

func watchCommand(ctx context.Context, cmd *cli.Command) error {
	ctx, cfg, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	lgr := logger.FromContext(ctx)

	path, err := workflowPath(cmd)
	if err != nil {
		return err
	}

	var lookup validate.AgentLookup
	if len(cfg.Agents) > 0 {
		reg, err := cfg.AgentRegistry()
		if err != nil {
			return fmt.Errorf("failed to build agent registry: %w", err)
		}
		lookup = reg
	}
	validator := validate.New(lookup)

	check := func(wf *workflow.WorkflowConfig, err error) {
		if err != nil {
			lgr.Error("Workflow failed to load", zap.Error(err))
			return
		}
		report := validator.Validate(wf)
		fields := []zap.Field{
			zap.String("workflow_id", wf.ID),
			zap.Bool("valid", report.IsValid),
			zap.Int("score", report.Score),
			zap.Int("errors", len(report.Errors)),
			zap.Int("warnings", len(report.Warnings)),
		}
		if plan, err := graph.GeneratePlan(wf, nil); err == nil {
			fields = append(fields,
				zap.Int("levels", len(plan.ExecutionLevels)),
				zap.Int("estimated_duration_ms", plan.EstimatedDuration),
				zap.Strings("critical_path", plan.CriticalPath))
		}
		for _, issue := range report.Errors {
			lgr.Warn(issue.Message, zap.String("code", issue.Code), zap.String("stage_id", issue.StageID))
		}
		lgr.Info("Workflow checked", fields...)
	}

	// report once before waiting for changes
	check(workflow.LoadFromFile(path))

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return workflow.Watch(ctx, path, cmd.Duration("debounce"), check)
}

// setup loads the service config and installs the logger in ctx. A missing
// config file is not an error: defaults are used.
func setup(ctx context.Context, cmd *cli.Command) (context.Context, *config.Config, error) {
	cfg, err := loadConfig(cmd.String("config"))
	if err != nil {
		return ctx, nil, err
	}

	level := cfg.LogLevel
	if l := cmd.String("log-level"); l != "" {
		level = l
	}
	format := cfg.LogFormat
	if f := cmd.String("log-format"); f != "" {
		format = f
	}

	logLevel, err := logger.ParseLogLevel(level)
	if err != nil {
		return ctx, nil, fmt.Errorf("invalid log level: %w", err)
	}
	logFormat, err := logger.ParseFormat(format)
	if err != nil {
		return ctx, nil, fmt.Errorf("invalid log format: %w", err)
	}

	ctx, err = logger.SetupContext(ctx, logLevel, logFormat)
	if err != nil {
		return ctx, nil, fmt.Errorf("failed to setup logger: %w", err)
	}
	return ctx, cfg, nil
}

func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return config.Default(), nil
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func workflowPath(cmd *cli.Command) (string, error) {
	path := cmd.Args().First()
	if path == "" {
		return "", fmt.Errorf("workflow file is required")
	}
	return path, nil
}

func loadWorkflow(cmd *cli.Command) (*workflow.WorkflowConfig, string, error) {
	path, err := workflowPath(cmd)
	if err != nil {
		return nil, "", err
	}
	wf, err := workflow.LoadFromFile(path)
	if err != nil {
		return nil, "", err
	}
	return wf, path, nil
}

func openStore(cfg *config.Config) (store.Store, error) {
	if cfg.Store.Driver == store.DriverSQLite {
		if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), config.DirPerm); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}
	st, err := store.New(cfg.Store.Driver, cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open execution store: %w", err)
	}
	return st, nil
}

func engineOptions(cfg *config.Config, reg *agent.Registry, st store.Store, sink events.Sink) engine.Options {
	return engine.Options{
		Agents:             reg,
		Store:              st,
		Sink:               sink,
		Notifier:           notify.New(cfg.Notifications),
		DefaultTaskTimeout: cfg.TaskTimeout(),
		MaxParallel:        cfg.Engine.MaxParallel,
		MaxBackoff:         cfg.MaxBackoff(),
		DefaultMode:        cfg.Mode(),
	}
}

// addDebugAgents registers a debug agent for every agent the workflow names
// that the registry does not know, and returns their ids
func addDebugAgents(reg *agent.Registry, wf *workflow.WorkflowConfig) []string {
	ids := append([]string(nil), wf.AgentIDs...)
	if wf.MainAgentID != "" {
		ids = append(ids, wf.MainAgentID)
	}
	for _, s := range wf.ExecutionFlow.Stages {
		for _, t := range s.Tasks {
			ids = append(ids, t.AgentID)
		}
	}

	var added []string
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := reg.GetAgentByID(id); ok {
			continue
		}
		if err := reg.Register(agent.Config{ID: id, Type: agent.AgentTypeDebug}); err == nil {
			added = append(added, id)
		}
	}
	return added
}

func writer(cmd *cli.Command) io.Writer {
	if w := cmd.Root().Writer; w != nil {
		return w
	}
	return os.Stdout
}

// printResult writes v as indented JSON, or as YAML with --output yaml
func printResult(cmd *cli.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}

	if strings.EqualFold(cmd.String("output"), "yaml") {
		var generic any
		if err := yaml.Unmarshal(data, &generic); err != nil {
			return fmt.Errorf("failed to convert result: %w", err)
		}
		if data, err = yaml.Marshal(generic); err != nil {
			return fmt.Errorf("failed to encode result: %w", err)
		}
	}

	_, err = fmt.Fprintln(writer(cmd), strings.TrimRight(string(data), "\n"))
	return err
}
