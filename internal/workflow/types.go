package workflow

import (
	"fmt"
	"strings"
	"time"
)

// ExecutionType governs how the tasks of one stage run relative to each other
type ExecutionType string

const (
	StageSequential ExecutionType = "sequential"
	StageParallel   ExecutionType = "parallel"
)

// TaskType classifies a task for grouping; it never affects scheduling
type TaskType string

const (
	TaskTypeMainPlanning TaskType = "main_planning"
	TaskTypeSubExecution TaskType = "sub_execution"
	TaskTypeSynthesis    TaskType = "synthesis"
)

// TaskTypes lists every task type in display order
var TaskTypes = []TaskType{TaskTypeMainPlanning, TaskTypeSubExecution, TaskTypeSynthesis}

// ParseTaskType converts a string into a TaskType, rejecting unknown values
func ParseTaskType(s string) (TaskType, error) {
	switch TaskType(strings.ToLower(strings.TrimSpace(s))) {
	case TaskTypeMainPlanning:
		return TaskTypeMainPlanning, nil
	case TaskTypeSubExecution, "":
		return TaskTypeSubExecution, nil
	case TaskTypeSynthesis:
		return TaskTypeSynthesis, nil
	default:
		return "", fmt.Errorf("unknown task type: %q", s)
	}
}

// UnmarshalText validates task types read from YAML or JSON
func (t *TaskType) UnmarshalText(text []byte) error {
	parsed, err := ParseTaskType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ConditionType selects when a stage dependency is satisfied
type ConditionType string

const (
	ConditionSuccess    ConditionType = "success"
	ConditionFailure    ConditionType = "failure"
	ConditionCompletion ConditionType = "completion"
	ConditionCustom     ConditionType = "custom"
)

// ExecutionMode is the engine mode for a whole run
type ExecutionMode string

const (
	ModeSequential ExecutionMode = "sequential"
	ModeParallel   ExecutionMode = "parallel"
	ModeAdaptive   ExecutionMode = "adaptive"
)

// ParseExecutionMode converts a string into an ExecutionMode
func ParseExecutionMode(s string) (ExecutionMode, error) {
	switch ExecutionMode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeSequential, "":
		return ModeSequential, nil
	case ModeParallel:
		return ModeParallel, nil
	case ModeAdaptive:
		return ModeAdaptive, nil
	default:
		return "", fmt.Errorf("unknown execution mode: %q", s)
	}
}

// FailurePolicy decides what happens to a task whose dependency failed
type FailurePolicy string

const (
	FailureContinue FailurePolicy = "continue"
	FailureSkip     FailurePolicy = "skip"
	FailureAbort    FailurePolicy = "abort"
)

// RetryPolicy is the declared retry behavior of a stage
type RetryPolicy struct {
	MaxRetries int `yaml:"max_retries" json:"max_retries"`
	BackoffMs  int `yaml:"backoff_ms" json:"backoff_ms"`
}

// Task is one agent invocation within a stage
type Task struct {
	ID           string         `yaml:"id" json:"id"`
	AgentID      string         `yaml:"agent_id" json:"agent_id"`
	TaskType     TaskType       `yaml:"task_type,omitempty" json:"task_type,omitempty"`
	Description  string         `yaml:"description,omitempty" json:"description,omitempty"`
	Inputs       map[string]any `yaml:"inputs,omitempty" json:"inputs,omitempty"`
	Dependencies []string       `yaml:"dependencies,omitempty" json:"dependencies,omitempty"`
	Timeout      int            `yaml:"timeout,omitempty" json:"timeout,omitempty"` // milliseconds
	Priority     *int           `yaml:"priority,omitempty" json:"priority,omitempty"`
}

// Stage is a unit of scheduling
type Stage struct {
	ID          string        `yaml:"id" json:"id"`
	Name        string        `yaml:"name,omitempty" json:"name,omitempty"`
	Type        ExecutionType `yaml:"type,omitempty" json:"type,omitempty"`
	Tasks       []Task        `yaml:"tasks" json:"tasks"`
	TimeoutMs   int           `yaml:"timeout_ms,omitempty" json:"timeout_ms,omitempty"`
	RetryPolicy RetryPolicy   `yaml:"retry_policy,omitempty" json:"retry_policy,omitempty"`
}

// Condition gates a stage dependency
type Condition struct {
	Type             ConditionType `yaml:"type" json:"type"`
	CustomExpression string        `yaml:"custom_expression,omitempty" json:"custom_expression,omitempty"`
}

// StageDependency is a directed edge FromStage -> ToStage
type StageDependency struct {
	FromStage string     `yaml:"from_stage" json:"from_stage"`
	ToStage   string     `yaml:"to_stage" json:"to_stage"`
	Condition *Condition `yaml:"condition,omitempty" json:"condition,omitempty"`
}

// ConditionType returns the edge condition, defaulting to success
func (d StageDependency) ConditionType() ConditionType {
	if d.Condition == nil || d.Condition.Type == "" {
		return ConditionSuccess
	}
	return d.Condition.Type
}

// String renders the edge for messages
func (d StageDependency) String() string {
	return fmt.Sprintf("%s -> %s", d.FromStage, d.ToStage)
}

// ExecutionFlow holds the stage graph of a workflow
type ExecutionFlow struct {
	Stages       []Stage           `yaml:"stages" json:"stages"`
	Dependencies []StageDependency `yaml:"dependencies,omitempty" json:"dependencies,omitempty"`
}

// Notifications configures run completion notices
type Notifications struct {
	OnComplete bool     `yaml:"on_complete,omitempty" json:"on_complete,omitempty"`
	OnError    bool     `yaml:"on_error,omitempty" json:"on_error,omitempty"`
	Channels   []string `yaml:"channels,omitempty" json:"channels,omitempty"`
}

// ExecutionSettings are the engine settings for one workflow
type ExecutionSettings struct {
	Mode                ExecutionMode `yaml:"mode,omitempty" json:"mode,omitempty"`
	SharedContext       bool          `yaml:"shared_context,omitempty" json:"shared_context,omitempty"`
	ResultSynthesis     bool          `yaml:"result_synthesis,omitempty" json:"result_synthesis,omitempty"`
	OnDependencyFailure FailurePolicy `yaml:"on_dependency_failure,omitempty" json:"on_dependency_failure,omitempty"`
	MaxParallel         int           `yaml:"max_parallel,omitempty" json:"max_parallel,omitempty"`
}

// Configuration is the run configuration of a workflow
type Configuration struct {
	MaxExecutionTime int               `yaml:"max_execution_time,omitempty" json:"max_execution_time,omitempty"` // milliseconds
	AutoRetry        bool              `yaml:"auto_retry,omitempty" json:"auto_retry,omitempty"`
	Notifications    Notifications     `yaml:"notifications,omitempty" json:"notifications,omitempty"`
	Execution        ExecutionSettings `yaml:"execution,omitempty" json:"execution,omitempty"`
}

// Metadata tracks versioning and run bookkeeping
type Metadata struct {
	Version        string     `yaml:"version,omitempty" json:"version,omitempty"`
	CreatedAt      time.Time  `yaml:"created_at,omitempty" json:"created_at,omitempty"`
	UpdatedAt      time.Time  `yaml:"updated_at,omitempty" json:"updated_at,omitempty"`
	LastExecuted   *time.Time `yaml:"last_executed,omitempty" json:"last_executed,omitempty"`
	ExecutionCount int        `yaml:"execution_count" json:"execution_count"`
}

// WorkflowConfig is the top-level workflow aggregate
type WorkflowConfig struct {
	ID            string        `yaml:"id" json:"id"`
	Name          string        `yaml:"name" json:"name"`
	Description   string        `yaml:"description,omitempty" json:"description,omitempty"`
	AgentIDs      []string      `yaml:"agent_ids" json:"agent_ids"`
	MainAgentID   string        `yaml:"main_agent_id,omitempty" json:"main_agent_id,omitempty"`
	ExecutionFlow ExecutionFlow `yaml:"execution_flow" json:"execution_flow"`
	Configuration Configuration `yaml:"configuration,omitempty" json:"configuration,omitempty"`
	Metadata      Metadata      `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// StageByID returns the stage with the given id
func (w *WorkflowConfig) StageByID(id string) (*Stage, bool) {
	for i := range w.ExecutionFlow.Stages {
		if w.ExecutionFlow.Stages[i].ID == id {
			return &w.ExecutionFlow.Stages[i], true
		}
	}
	return nil, false
}

// StageIDs returns stage ids in declaration order
func (w *WorkflowConfig) StageIDs() []string {
	ids := make([]string, 0, len(w.ExecutionFlow.Stages))
	for _, s := range w.ExecutionFlow.Stages {
		ids = append(ids, s.ID)
	}
	return ids
}

// CheckUniqueIDs reports the first stage id or task id used more than once.
// Task ids are unique across the whole workflow.
func (w *WorkflowConfig) CheckUniqueIDs() error {
	stages := make(map[string]bool, len(w.ExecutionFlow.Stages))
	tasks := make(map[string]string)
	for _, s := range w.ExecutionFlow.Stages {
		if stages[s.ID] {
			return fmt.Errorf("%w: %s", ErrDuplicateStage, s.ID)
		}
		stages[s.ID] = true
		for _, t := range s.Tasks {
			if owner, ok := tasks[t.ID]; ok {
				return fmt.Errorf("%w: %s in stages %s and %s", ErrDuplicateTask, t.ID, owner, s.ID)
			}
			tasks[t.ID] = s.ID
		}
	}
	return nil
}

// TaskCount returns the number of tasks across all stages
func (w *WorkflowConfig) TaskCount() int {
	n := 0
	for _, s := range w.ExecutionFlow.Stages {
		n += len(s.Tasks)
	}
	return n
}

// HasAgent reports whether id is on the team roster
func (w *WorkflowConfig) HasAgent(id string) bool {
	for _, a := range w.AgentIDs {
		if a == id {
			return true
		}
	}
	return false
}

// Specialists returns the roster without the main agent
func (w *WorkflowConfig) Specialists() []string {
	var out []string
	for _, a := range w.AgentIDs {
		if a != w.MainAgentID {
			out = append(out, a)
		}
	}
	return out
}

// Mode returns the configured execution mode, defaulting to sequential
func (w *WorkflowConfig) Mode() ExecutionMode {
	if w.Configuration.Execution.Mode == "" {
		return ModeSequential
	}
	return w.Configuration.Execution.Mode
}

// FailurePolicy returns the dependency failure policy, defaulting to continue
func (w *WorkflowConfig) FailurePolicy() FailurePolicy {
	if w.Configuration.Execution.OnDependencyFailure == "" {
		return FailureContinue
	}
	return w.Configuration.Execution.OnDependencyFailure
}

// MaxExecutionDuration returns the per-run ceiling, zero when unset
func (w *WorkflowConfig) MaxExecutionDuration() time.Duration {
	return time.Duration(w.Configuration.MaxExecutionTime) * time.Millisecond
}

// GroupTasksByType buckets every task by its TaskType
func (w *WorkflowConfig) GroupTasksByType() map[TaskType][]Task {
	groups := make(map[TaskType][]Task, len(TaskTypes))
	for _, s := range w.ExecutionFlow.Stages {
		for _, t := range s.Tasks {
			switch t.TaskType {
			case TaskTypeMainPlanning:
				groups[TaskTypeMainPlanning] = append(groups[TaskTypeMainPlanning], t)
			case TaskTypeSynthesis:
				groups[TaskTypeSynthesis] = append(groups[TaskTypeSynthesis], t)
			case TaskTypeSubExecution, "":
				groups[TaskTypeSubExecution] = append(groups[TaskTypeSubExecution], t)
			}
		}
	}
	return groups
}

// Clone returns a deep copy of the workflow
func (w *WorkflowConfig) Clone() *WorkflowConfig {
	if w == nil {
		return nil
	}
	out := *w
	out.AgentIDs = append([]string(nil), w.AgentIDs...)
	out.Configuration.Notifications.Channels = append([]string(nil), w.Configuration.Notifications.Channels...)
	if w.Metadata.LastExecuted != nil {
		t := *w.Metadata.LastExecuted
		out.Metadata.LastExecuted = &t
	}

	out.ExecutionFlow.Stages = make([]Stage, len(w.ExecutionFlow.Stages))
	for i, s := range w.ExecutionFlow.Stages {
		out.ExecutionFlow.Stages[i] = s.clone()
	}

	out.ExecutionFlow.Dependencies = make([]StageDependency, len(w.ExecutionFlow.Dependencies))
	for i, d := range w.ExecutionFlow.Dependencies {
		if d.Condition != nil {
			c := *d.Condition
			d.Condition = &c
		}
		out.ExecutionFlow.Dependencies[i] = d
	}
	return &out
}

func (s Stage) clone() Stage {
	out := s
	out.Tasks = make([]Task, len(s.Tasks))
	for i, t := range s.Tasks {
		ct := t
		ct.Dependencies = append([]string(nil), t.Dependencies...)
		if t.Inputs != nil {
			ct.Inputs = make(map[string]any, len(t.Inputs))
			for k, v := range t.Inputs {
				ct.Inputs[k] = v
			}
		}
		if t.Priority != nil {
			p := *t.Priority
			ct.Priority = &p
		}
		out.Tasks[i] = ct
	}
	return out
}
