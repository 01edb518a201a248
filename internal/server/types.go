package server

import (
	"encoding/json"
	"time"

	"teamflow/internal/engine"
	"teamflow/internal/graph"
	"teamflow/internal/store"
	"teamflow/internal/workflow"
)

// Health statuses
const (
	HealthStatusHealthy   = "healthy"
	HealthStatusUnhealthy = "unhealthy"
	HealthCheckPass       = "pass"
	HealthCheckFail       = "fail"
)

// ControlAction is the verb of POST /executions/{id}/{action}
type ControlAction string

// Control actions
const (
	ActionConfirm ControlAction = "confirm"
	ActionReject  ControlAction = "reject"
	ActionPause   ControlAction = "pause"
	ActionResume  ControlAction = "resume"
	ActionCancel  ControlAction = "cancel"
)

// HealthResponse represents service health status
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]HealthCheck `json:"checks,omitempty"`
}

// HealthCheck represents individual health check result
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// StatusResponse represents engine status
type StatusResponse struct {
	Uptime           string    `json:"uptime"`
	Timestamp        time.Time `json:"timestamp"`
	ActiveExecutions int       `json:"active_executions"`
	TotalExecutions  int       `json:"total_executions"`
	Agents           []string  `json:"agents"`
	EventsDropped    int64     `json:"events_dropped"`
}

// ErrorResponse is the body of every error reply
type ErrorResponse struct {
	Message string `json:"message"`
}

// ExecutionRequest starts a run
type ExecutionRequest struct {
	Workflow            json.RawMessage        `json:"workflow"`
	Prompt              string                 `json:"prompt,omitempty"`
	Mode                workflow.ExecutionMode `json:"mode,omitempty"`
	RequireConfirmation bool                   `json:"require_confirmation,omitempty"`
	ExecutionID         string                 `json:"execution_id,omitempty"`
	// Wait blocks the request until the run finishes
	Wait bool `json:"wait,omitempty"`
}

// ControlRequest is the optional body of a control call
type ControlRequest struct {
	Reason string `json:"reason,omitempty"`
}

// ExecutionResponse is either a live snapshot or a finished result
type ExecutionResponse struct {
	Snapshot *engine.Snapshot       `json:"snapshot,omitempty"`
	Result   *engine.WorkflowResult `json:"result,omitempty"`
}

// ExecutionListResponse lists stored execution records
type ExecutionListResponse struct {
	Executions []store.Summary `json:"executions"`
	Total      int             `json:"total"`
}

// DependencyResponse is the dependency analysis of a workflow
type DependencyResponse struct {
	Validation graph.ValidationResult `json:"validation"`
	Graph      *graph.DependencyGraph `json:"graph"`
}

// ListExecutionsParams are the query parameters of GET /executions
type ListExecutionsParams struct {
	WorkflowID      *string `form:"workflow_id,omitempty" json:"workflow_id,omitempty"`
	IncludeArchived *bool   `form:"include_archived,omitempty" json:"include_archived,omitempty"`
	Limit           *int    `form:"limit,omitempty" json:"limit,omitempty"`
}
