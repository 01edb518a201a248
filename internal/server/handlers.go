package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"teamflow/internal/agent"
	"teamflow/internal/engine"
	"teamflow/internal/events"
	"teamflow/internal/graph"
	"teamflow/internal/logger"
	"teamflow/internal/store"
	"teamflow/internal/validate"
	"teamflow/internal/workflow"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const defaultListLimit = 50

// Handlers implements ServerInterface
type Handlers struct {
	engine    *engine.Engine
	agents    *agent.Registry
	store     store.Store
	bus       *events.Bus
	metrics   http.Handler
	startTime time.Time

	// runCtx parents every run started over HTTP so runs outlive requests
	runCtx context.Context
}

var _ ServerInterface = (*Handlers)(nil)

// NewHandlers creates the API handlers
func NewHandlers(backend Backend, startTime time.Time) *Handlers {
	h := &Handlers{
		engine:    backend.Engine,
		agents:    backend.Agents,
		store:     backend.Store,
		bus:       backend.Bus,
		startTime: startTime,
		runCtx:    context.Background(),
	}
	if backend.Metrics != nil {
		h.metrics = backend.Metrics.Handler()
	}
	return h
}

// GetHealth handles GET /health
func (h *Handlers) GetHealth(c echo.Context) error {
	ctx := c.Request().Context()
	checks := make(map[string]HealthCheck)

	if _, err := h.store.List(ctx, store.ListOptions{Limit: 1}); err != nil {
		checks["store"] = HealthCheck{
			Status:  HealthCheckFail,
			Message: fmt.Sprintf("Execution store not readable: %v", err),
		}
	} else {
		checks["store"] = HealthCheck{
			Status:  HealthCheckPass,
			Message: "Execution store readable",
		}
	}

	if h.agents != nil && len(h.agents.Configs()) > 0 {
		checks["agents"] = HealthCheck{Status: HealthCheckPass, Message: "Agents configured"}
	} else {
		checks["agents"] = HealthCheck{Status: HealthCheckFail, Message: "No agents configured"}
	}

	status := HealthStatusHealthy
	for _, check := range checks {
		if check.Status == HealthCheckFail {
			status = HealthStatusUnhealthy
			break
		}
	}

	return c.JSON(http.StatusOK, HealthResponse{
		Status:    status,
		Timestamp: time.Now(),
		Checks:    checks,
	})
}

// GetStatus handles GET /status
func (h *Handlers) GetStatus(c echo.Context) error {
	runs := h.engine.Runs()
	active := 0
	for _, r := range runs {
		if !r.State().Terminal() {
			active++
		}
	}

	agentIDs := []string{}
	if h.agents != nil {
		for _, cfg := range h.agents.Configs() {
			agentIDs = append(agentIDs, cfg.ID)
		}
	}

	var dropped int64
	if h.bus != nil {
		dropped = h.bus.Dropped()
	}

	return c.JSON(http.StatusOK, StatusResponse{
		Uptime:           time.Since(h.startTime).Round(time.Second).String(),
		Timestamp:        time.Now(),
		ActiveExecutions: active,
		TotalExecutions:  len(runs),
		Agents:           agentIDs,
		EventsDropped:    dropped,
	})
}

// GetMetrics handles GET /metrics
func (h *Handlers) GetMetrics(c echo.Context) error {
	if h.metrics == nil {
		return echo.NewHTTPError(http.StatusNotFound, "metrics are disabled")
	}
	h.metrics.ServeHTTP(c.Response(), c.Request())
	return nil
}

// GetOpenAPISpec handles GET /openapi.yaml
func (h *Handlers) GetOpenAPISpec(c echo.Context) error {
	return c.Blob(http.StatusOK, "application/yaml", openAPISpec)
}

// ValidateWorkflow handles POST /workflows/validate
func (h *Handlers) ValidateWorkflow(c echo.Context) error {
	wf, err := readWorkflow(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	var lookup validate.AgentLookup
	if h.agents != nil {
		lookup = h.agents
	}
	return c.JSON(http.StatusOK, validate.New(lookup).Validate(wf))
}

// AnalyzeDependencies handles POST /workflows/dependencies
func (h *Handlers) AnalyzeDependencies(c echo.Context) error {
	wf, err := readWorkflow(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	return c.JSON(http.StatusOK, DependencyResponse{
		Validation: graph.ValidateDependencies(wf),
		Graph:      graph.Build(wf.ExecutionFlow),
	})
}

// PlanWorkflow handles POST /workflows/plan
func (h *Handlers) PlanWorkflow(c echo.Context) error {
	wf, err := readWorkflow(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	plan, err := graph.GeneratePlan(wf, nil)
	if err != nil {
		if errors.Is(err, graph.ErrCyclicGraph) {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, plan)
}

// OptimizeWorkflow handles POST /workflows/optimize
func (h *Handlers) OptimizeWorkflow(c echo.Context) error {
	wf, err := readWorkflow(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, graph.Optimize(wf))
}

// ListExecutions handles GET /executions
func (h *Handlers) ListExecutions(c echo.Context, params ListExecutionsParams) error {
	opts := store.ListOptions{Limit: defaultListLimit}
	if params.WorkflowID != nil {
		opts.WorkflowID = *params.WorkflowID
	}
	if params.IncludeArchived != nil {
		opts.IncludeArchived = *params.IncludeArchived
	}
	if params.Limit != nil {
		opts.Limit = *params.Limit
	}

	summaries, err := h.store.List(c.Request().Context(), opts)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if summaries == nil {
		summaries = []store.Summary{}
	}

	return c.JSON(http.StatusOK, ExecutionListResponse{
		Executions: summaries,
		Total:      len(summaries),
	})
}

// StartExecution handles POST /executions
func (h *Handlers) StartExecution(c echo.Context) error {
	lgr := logger.FromContext(c.Request().Context())

	var body ExecutionRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
	}
	wf, err := workflow.Parse(body.Workflow, workflow.FormatJSON)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	runCtx := logger.WithLogger(h.runCtx, lgr)
	run, err := h.engine.Start(runCtx, engine.Request{
		Workflow:            wf,
		Prompt:              body.Prompt,
		Mode:                body.Mode,
		RequireConfirmation: body.RequireConfirmation,
		ExecutionID:         body.ExecutionID,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}

	lgr.Info("Execution accepted",
		zap.String("execution_id", run.ID()),
		zap.String("workflow_id", wf.ID),
		zap.Bool("wait", body.Wait))

	if !body.Wait {
		snap := run.Snapshot()
		return c.JSON(http.StatusAccepted, ExecutionResponse{Snapshot: &snap})
	}

	res, err := run.Wait(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ExecutionResponse{Result: res})
}

// GetExecution handles GET /executions/{id}
func (h *Handlers) GetExecution(c echo.Context, id string) error {
	if run, err := h.engine.Get(id); err == nil {
		if res := run.Result(); res != nil {
			return c.JSON(http.StatusOK, ExecutionResponse{Result: res})
		}
		snap := run.Snapshot()
		return c.JSON(http.StatusOK, ExecutionResponse{Snapshot: &snap})
	}

	res, err := h.store.Load(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("Execution not found: %s", id))
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, ExecutionResponse{Result: res})
}

// ArchiveExecution handles DELETE /executions/{id}
func (h *Handlers) ArchiveExecution(c echo.Context, id string) error {
	if run, err := h.engine.Get(id); err == nil && !run.State().Terminal() {
		return echo.NewHTTPError(http.StatusConflict, fmt.Sprintf("Execution %s is still %s", id, run.State()))
	}

	if err := h.store.Archive(c.Request().Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("Execution not found: %s", id))
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	// the record lives on in the store
	_ = h.engine.Forget(id)
	return c.NoContent(http.StatusNoContent)
}

// ControlExecution handles POST /executions/{id}/{action}
func (h *Handlers) ControlExecution(c echo.Context, id string, action ControlAction) error {
	run, err := h.engine.Get(id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("Execution not found: %s", id))
	}

	var body ControlRequest
	if c.Request().ContentLength > 0 {
		if err := json.NewDecoder(c.Request().Body).Decode(&body); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		}
	}

	switch action {
	case ActionConfirm:
		err = run.Confirm()
	case ActionReject:
		err = run.Reject(body.Reason)
	case ActionPause:
		err = run.Pause()
	case ActionResume:
		err = run.Resume()
	case ActionCancel:
		err = run.Cancel()
	default:
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unknown action: %s", action))
	}
	if err != nil {
		if engine.IsControlError(err) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	logger.FromContext(c.Request().Context()).Info("Execution control",
		zap.String("execution_id", id),
		zap.String("action", string(action)))

	snap := run.Snapshot()
	return c.JSON(http.StatusOK, ExecutionResponse{Snapshot: &snap})
}

// readWorkflow decodes a JSON workflow body and applies defaults
func readWorkflow(r io.Reader) (*workflow.WorkflowConfig, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	return workflow.Parse(data, workflow.FormatJSON)
}
