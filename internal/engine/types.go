package engine

import (
	"fmt"
	"time"

	"teamflow/internal/graph"
	"teamflow/internal/workflow"
)

// Error codes carried in ErrorInfo
const (
	CodeInvalidWorkflow     = "INVALID_WORKFLOW"
	CodeAgentNotFound       = "AGENT_NOT_FOUND"
	CodeCoordinatorNotFound = "COORDINATOR_NOT_FOUND"
	CodeTaskExecutionError  = "TASK_EXECUTION_ERROR"
	CodeTaskTimeout         = "TASK_TIMEOUT"
	CodeDependencyFailed    = "DEPENDENCY_FAILED"
	CodeConditionNotMet     = "CONDITION_NOT_MET"
	CodeCancelled           = "CANCELLED"
	CodeAborted             = "ABORTED"
	CodeExecutionRejected   = "EXECUTION_REJECTED"
)

// SynthesisKey is the reserved results key holding the executive summary
const SynthesisKey = "_synthesis"

// ErrorInfo is the error envelope of a task or a run
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ErrorInfo) Error() string {
	return e.Code + ": " + e.Message
}

func newError(code, format string, args ...any) *ErrorInfo {
	return &ErrorInfo{Code: code, Message: fmt.Sprintf(format, args...)}
}

// TaskMetadata describes the cost of one task
type TaskMetadata struct {
	ExecutionTime time.Duration `json:"execution_time"`
	TokensUsed    int           `json:"tokens_used"`
	ToolsUsed     []string      `json:"tools_used,omitempty"`
	Attempts      int           `json:"attempts,omitempty"`
}

// TaskResult is the recorded outcome of one dispatched task
type TaskResult struct {
	TaskID    string            `json:"task_id"`
	StageID   string            `json:"stage_id,omitempty"`
	AgentID   string            `json:"agent_id,omitempty"`
	Success   bool              `json:"success"`
	Output    string            `json:"output"`
	Artifacts map[string]string `json:"artifacts,omitempty"`
	Metadata  TaskMetadata      `json:"metadata"`
	Error     *ErrorInfo        `json:"error,omitempty"`
	Skipped   bool              `json:"skipped,omitempty"`
	Reason    string            `json:"reason,omitempty"`
}

// ResultMetadata is the engine level metadata of a run
type ResultMetadata struct {
	ExecutionTime  time.Duration          `json:"execution_time"`
	TokensUsed     int                    `json:"tokens_used"`
	AgentsUsed     []string               `json:"agents_used"`
	Mode           workflow.ExecutionMode `json:"mode"`
	TasksSucceeded int                    `json:"tasks_succeeded"`
	TasksFailed    int                    `json:"tasks_failed"`
	TasksSkipped   int                    `json:"tasks_skipped"`
	StartedAt      time.Time              `json:"started_at"`
	FinishedAt     time.Time              `json:"finished_at"`
}

// WorkflowResult is the output of one engine invocation. It is never
// modified after the run finishes.
type WorkflowResult struct {
	Success     bool                   `json:"success"`
	ExecutionID string                 `json:"execution_id"`
	WorkflowID  string                 `json:"workflow_id"`
	State       State                  `json:"state"`
	Plan        *graph.ExecutionPlan   `json:"plan,omitempty"`
	TaskPlan    *TaskPlan              `json:"task_plan,omitempty"`
	Results     map[string]*TaskResult `json:"results"`
	Metadata    ResultMetadata         `json:"metadata"`
	Error       *ErrorInfo             `json:"error,omitempty"`
}

// Request starts one run of a workflow
type Request struct {
	Workflow *workflow.WorkflowConfig

	// Prompt is the natural-language request given to the coordinator when
	// the workflow has no stages and for synthesis.
	Prompt string

	// Mode overrides the workflow's configured mode when set
	Mode workflow.ExecutionMode

	// RequireConfirmation holds the run after planning until Confirm or Reject
	RequireConfirmation bool

	// ExecutionID is generated when empty
	ExecutionID string
}

// State is the lifecycle state of a run
type State string

// Run states
const (
	StatePending   State = "pending"
	StatePlanning  State = "planning"
	StateConfirmed State = "confirmed"
	StateRunning   State = "running"
	StatePaused    State = "paused"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether the state is final
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}
