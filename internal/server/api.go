package server

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/oapi-codegen/runtime"
)

// ServerInterface lists one method per operation of openapi.yaml
type ServerInterface interface {
	GetHealth(ctx echo.Context) error
	GetStatus(ctx echo.Context) error
	GetMetrics(ctx echo.Context) error
	GetOpenAPISpec(ctx echo.Context) error
	ValidateWorkflow(ctx echo.Context) error
	AnalyzeDependencies(ctx echo.Context) error
	PlanWorkflow(ctx echo.Context) error
	OptimizeWorkflow(ctx echo.Context) error
	ListExecutions(ctx echo.Context, params ListExecutionsParams) error
	StartExecution(ctx echo.Context) error
	GetExecution(ctx echo.Context, id string) error
	ArchiveExecution(ctx echo.Context, id string) error
	StreamExecutionEvents(ctx echo.Context, id string) error
	ControlExecution(ctx echo.Context, id string, action ControlAction) error
}

// ServerInterfaceWrapper converts echo contexts to parameters
type ServerInterfaceWrapper struct {
	Handler ServerInterface
}

// EchoRouter is satisfied by *echo.Echo and *echo.Group
type EchoRouter interface {
	GET(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	POST(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	DELETE(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
}

// RegisterHandlers adds every route to router
func RegisterHandlers(router EchoRouter, si ServerInterface) {
	w := &ServerInterfaceWrapper{Handler: si}

	router.GET("/health", w.GetHealth)
	router.GET("/status", w.GetStatus)
	router.GET("/metrics", w.GetMetrics)
	router.GET("/openapi.yaml", w.GetOpenAPISpec)
	router.POST("/workflows/validate", w.ValidateWorkflow)
	router.POST("/workflows/dependencies", w.AnalyzeDependencies)
	router.POST("/workflows/plan", w.PlanWorkflow)
	router.POST("/workflows/optimize", w.OptimizeWorkflow)
	router.GET("/executions", w.ListExecutions)
	router.POST("/executions", w.StartExecution)
	router.GET("/executions/:id", w.GetExecution)
	router.DELETE("/executions/:id", w.ArchiveExecution)
	router.GET("/executions/:id/events", w.StreamExecutionEvents)
	router.POST("/executions/:id/:action", w.ControlExecution)
}

func (w *ServerInterfaceWrapper) GetHealth(ctx echo.Context) error {
	return w.Handler.GetHealth(ctx)
}

func (w *ServerInterfaceWrapper) GetStatus(ctx echo.Context) error {
	return w.Handler.GetStatus(ctx)
}

func (w *ServerInterfaceWrapper) GetMetrics(ctx echo.Context) error {
	return w.Handler.GetMetrics(ctx)
}

func (w *ServerInterfaceWrapper) GetOpenAPISpec(ctx echo.Context) error {
	return w.Handler.GetOpenAPISpec(ctx)
}

func (w *ServerInterfaceWrapper) ValidateWorkflow(ctx echo.Context) error {
	return w.Handler.ValidateWorkflow(ctx)
}

func (w *ServerInterfaceWrapper) AnalyzeDependencies(ctx echo.Context) error {
	return w.Handler.AnalyzeDependencies(ctx)
}

func (w *ServerInterfaceWrapper) PlanWorkflow(ctx echo.Context) error {
	return w.Handler.PlanWorkflow(ctx)
}

func (w *ServerInterfaceWrapper) OptimizeWorkflow(ctx echo.Context) error {
	return w.Handler.OptimizeWorkflow(ctx)
}

func (w *ServerInterfaceWrapper) ListExecutions(ctx echo.Context) error {
	var params ListExecutionsParams

	if err := runtime.BindQueryParameter("form", true, false, "workflow_id", ctx.QueryParams(), &params.WorkflowID); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid format for parameter workflow_id: %s", err))
	}
	if err := runtime.BindQueryParameter("form", true, false, "include_archived", ctx.QueryParams(), &params.IncludeArchived); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid format for parameter include_archived: %s", err))
	}
	if err := runtime.BindQueryParameter("form", true, false, "limit", ctx.QueryParams(), &params.Limit); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid format for parameter limit: %s", err))
	}

	return w.Handler.ListExecutions(ctx, params)
}

func (w *ServerInterfaceWrapper) StartExecution(ctx echo.Context) error {
	return w.Handler.StartExecution(ctx)
}

func (w *ServerInterfaceWrapper) GetExecution(ctx echo.Context) error {
	id, err := bindExecutionID(ctx)
	if err != nil {
		return err
	}
	return w.Handler.GetExecution(ctx, id)
}

func (w *ServerInterfaceWrapper) ArchiveExecution(ctx echo.Context) error {
	id, err := bindExecutionID(ctx)
	if err != nil {
		return err
	}
	return w.Handler.ArchiveExecution(ctx, id)
}

func (w *ServerInterfaceWrapper) StreamExecutionEvents(ctx echo.Context) error {
	id, err := bindExecutionID(ctx)
	if err != nil {
		return err
	}
	return w.Handler.StreamExecutionEvents(ctx, id)
}

func (w *ServerInterfaceWrapper) ControlExecution(ctx echo.Context) error {
	id, err := bindExecutionID(ctx)
	if err != nil {
		return err
	}

	var action ControlAction
	err = runtime.BindStyledParameterWithOptions("simple", "action", ctx.Param("action"), &action,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid format for parameter action: %s", err))
	}

	return w.Handler.ControlExecution(ctx, id, action)
}

func bindExecutionID(ctx echo.Context) (string, error) {
	var id string
	err := runtime.BindStyledParameterWithOptions("simple", "id", ctx.Param("id"), &id,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		return "", echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid format for parameter id: %s", err))
	}
	return id, nil
}
