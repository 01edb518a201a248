// Package validate produces a scored report on a workflow definition. It goes
// beyond the dependency graph checks: team composition, stage content,
// timeouts, retry policies and resource usage.
package validate

import (
	"fmt"
	"sort"

	"teamflow/internal/agent"
	"teamflow/internal/graph"
	"teamflow/internal/workflow"
)

// Category groups issues in the report
type Category string

const (
	CategoryTeam         Category = "team"
	CategoryStages       Category = "stages"
	CategoryDependencies Category = "dependencies"
	CategoryTimeouts     Category = "timeouts"
	CategoryRetry        Category = "retry"
	CategoryResources    Category = "resources"
)

// Categories lists every category in report order
var Categories = []Category{CategoryTeam, CategoryStages, CategoryDependencies, CategoryTimeouts, CategoryRetry, CategoryResources}

// Severity of an issue
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Score penalties per issue
const (
	MaxScore       = 100
	ErrorPenalty   = 20
	WarningPenalty = 5
	InfoPenalty    = 1
)

// Thresholds used by the timeout, retry and resource checks
const (
	MinTimeoutMs         = 1000
	MaxRecommendedRetry  = 5
	MaxRecommendedWidth  = 5
	MaxRecommendedTasks  = 50
	MaxRecommendedStages = 20
)

// Issue is one finding
type Issue struct {
	Category Category `json:"category"`
	Severity Severity `json:"severity"`
	Code     string   `json:"code"`
	Message  string   `json:"message"`
	StageID  string   `json:"stage_id,omitempty"`
	TaskID   string   `json:"task_id,omitempty"`
}

// Report is the result of Validate
type Report struct {
	IsValid  bool             `json:"is_valid"`
	Score    int              `json:"score"`
	Errors   []Issue          `json:"errors"`
	Warnings []Issue          `json:"warnings"`
	Infos    []Issue          `json:"infos"`
	Summary  map[Category]int `json:"summary"`
}

// Issues returns every issue, errors first
func (r Report) Issues() []Issue {
	out := make([]Issue, 0, len(r.Errors)+len(r.Warnings)+len(r.Infos))
	out = append(out, r.Errors...)
	out = append(out, r.Warnings...)
	return append(out, r.Infos...)
}

// AgentLookup resolves agent ids; *agent.Registry implements it
type AgentLookup interface {
	GetAgentByID(id string) (agent.Config, bool)
}

// Validator checks workflows. Agents is optional; without it agent ids are
// only checked against the workflow roster.
type Validator struct {
	Agents AgentLookup
}

// New creates a validator
func New(agents AgentLookup) *Validator {
	return &Validator{Agents: agents}
}

type checker struct {
	wf     *workflow.WorkflowConfig
	agents AgentLookup
	report Report
}

func (c *checker) add(cat Category, sev Severity, code, stageID, taskID, format string, args ...any) {
	issue := Issue{
		Category: cat,
		Severity: sev,
		Code:     code,
		Message:  fmt.Sprintf(format, args...),
		StageID:  stageID,
		TaskID:   taskID,
	}
	switch sev {
	case SeverityError:
		c.report.Errors = append(c.report.Errors, issue)
	case SeverityWarning:
		c.report.Warnings = append(c.report.Warnings, issue)
	default:
		c.report.Infos = append(c.report.Infos, issue)
	}
	c.report.Summary[cat]++
}

// Validate runs every check and scores the workflow
func (v *Validator) Validate(wf *workflow.WorkflowConfig) Report {
	c := &checker{
		wf:     wf,
		agents: v.Agents,
		report: Report{
			Errors:   []Issue{},
			Warnings: []Issue{},
			Infos:    []Issue{},
			Summary:  make(map[Category]int, len(Categories)),
		},
	}
	for _, cat := range Categories {
		c.report.Summary[cat] = 0
	}

	c.checkTeam()
	c.checkStages()
	c.checkDependencies()
	c.checkTimeouts()
	c.checkRetry()
	c.checkResources()

	r := c.report
	r.IsValid = len(r.Errors) == 0
	r.Score = score(len(r.Errors), len(r.Warnings), len(r.Infos))
	return r
}

func score(errors, warnings, infos int) int {
	s := MaxScore - errors*ErrorPenalty - warnings*WarningPenalty - infos*InfoPenalty
	if s < 0 {
		return 0
	}
	return s
}

func (c *checker) checkTeam() {
	wf := c.wf
	if len(wf.AgentIDs) == 0 {
		c.add(CategoryTeam, SeverityError, "TEAM_EMPTY", "", "", "workflow has no agents")
	}

	seen := make(map[string]bool, len(wf.AgentIDs))
	for _, id := range wf.AgentIDs {
		if seen[id] {
			c.add(CategoryTeam, SeverityWarning, "DUPLICATE_AGENT", "", "", "agent %s is listed more than once", id)
			continue
		}
		seen[id] = true
		if c.agents != nil {
			if _, ok := c.agents.GetAgentByID(id); !ok {
				c.add(CategoryTeam, SeverityError, "UNKNOWN_AGENT", "", "", "agent %s is not configured", id)
			}
		}
	}

	switch {
	case wf.MainAgentID == "":
		needsCoordinator := wf.Mode() == workflow.ModeAdaptive || wf.Configuration.Execution.ResultSynthesis || wf.TaskCount() == 0
		if needsCoordinator {
			c.add(CategoryTeam, SeverityError, "COORDINATOR_REQUIRED", "", "",
				"a main agent is required for adaptive mode, result synthesis or request planning")
		} else if len(wf.AgentIDs) > 1 {
			c.add(CategoryTeam, SeverityWarning, "NO_MAIN_AGENT", "", "", "team has no main agent")
		}
	case !wf.HasAgent(wf.MainAgentID):
		c.add(CategoryTeam, SeverityError, "MAIN_AGENT_NOT_IN_TEAM", "", "", "main agent %s is not on the team", wf.MainAgentID)
	}

	assigned := make(map[string]bool)
	for _, s := range wf.ExecutionFlow.Stages {
		for _, t := range s.Tasks {
			assigned[t.AgentID] = true
		}
	}
	if wf.TaskCount() > 0 {
		for _, id := range wf.Specialists() {
			if !assigned[id] {
				c.add(CategoryTeam, SeverityInfo, "UNUSED_AGENT", "", "", "agent %s has no tasks", id)
			}
		}
	}
}

func (c *checker) checkStages() {
	wf := c.wf
	if len(wf.ExecutionFlow.Stages) == 0 {
		if wf.MainAgentID != "" {
			c.add(CategoryStages, SeverityInfo, "NO_STAGES", "", "", "workflow has no stages; the main agent will plan tasks from the request")
		} else {
			c.add(CategoryStages, SeverityError, "NO_STAGES", "", "", "workflow has no stages and no main agent to plan them")
		}
		return
	}

	stageIDs := make(map[string]bool)
	taskIDs := make(map[string]bool)
	for _, s := range wf.ExecutionFlow.Stages {
		for _, t := range s.Tasks {
			taskIDs[t.ID] = true
		}
	}

	seenTasks := make(map[string]bool)
	for _, s := range wf.ExecutionFlow.Stages {
		switch {
		case s.ID == "":
			c.add(CategoryStages, SeverityError, "STAGE_NO_ID", "", "", "stage %q has no id", s.Name)
		case stageIDs[s.ID]:
			c.add(CategoryStages, SeverityError, "DUPLICATE_STAGE", s.ID, "", "stage id %s is used more than once", s.ID)
		}
		stageIDs[s.ID] = true

		if s.Type != "" && s.Type != workflow.StageSequential && s.Type != workflow.StageParallel {
			c.add(CategoryStages, SeverityError, "INVALID_STAGE_TYPE", s.ID, "", "stage %s has unknown type %q", s.ID, s.Type)
		}
		if len(s.Tasks) == 0 {
			c.add(CategoryStages, SeverityWarning, "EMPTY_STAGE", s.ID, "", "stage %s has no tasks", s.ID)
		}
		if s.Type == workflow.StageParallel && len(s.Tasks) == 1 {
			c.add(CategoryStages, SeverityInfo, "SINGLE_TASK_PARALLEL", s.ID, "", "parallel stage %s has a single task", s.ID)
		}

		for _, t := range s.Tasks {
			if t.ID == "" {
				c.add(CategoryStages, SeverityError, "TASK_NO_ID", s.ID, "", "stage %s has a task without id", s.ID)
				continue
			}
			if seenTasks[t.ID] {
				c.add(CategoryStages, SeverityError, "DUPLICATE_TASK", s.ID, t.ID, "task id %s is used more than once", t.ID)
			}
			seenTasks[t.ID] = true

			switch {
			case t.AgentID == "":
				c.add(CategoryStages, SeverityError, "TASK_NO_AGENT", s.ID, t.ID, "task %s has no agent", t.ID)
			case !wf.HasAgent(t.AgentID):
				c.add(CategoryStages, SeverityError, "TASK_AGENT_NOT_IN_TEAM", s.ID, t.ID, "task %s uses agent %s which is not on the team", t.ID, t.AgentID)
			}
			if t.Description == "" {
				c.add(CategoryStages, SeverityInfo, "TASK_NO_DESCRIPTION", s.ID, t.ID, "task %s has no description", t.ID)
			}
			for _, d := range t.Dependencies {
				switch {
				case d == t.ID:
					c.add(CategoryStages, SeverityError, "TASK_SELF_DEPENDENCY", s.ID, t.ID, "task %s depends on itself", t.ID)
				case !taskIDs[d]:
					c.add(CategoryStages, SeverityError, "UNKNOWN_TASK_DEPENDENCY", s.ID, t.ID, "task %s depends on unknown task %s", t.ID, d)
				}
			}
		}
	}
}

func (c *checker) checkDependencies() {
	vr := graph.ValidateDependencies(c.wf)
	for _, e := range vr.Errors {
		c.add(CategoryDependencies, SeverityError, e.Code, e.StageID, "", "%s", e.Message)
	}
	for _, w := range vr.Warnings {
		c.add(CategoryDependencies, SeverityWarning, w.Code, w.StageID, "", "%s", w.Message)
	}

	for _, dep := range c.wf.ExecutionFlow.Dependencies {
		switch dep.ConditionType() {
		case workflow.ConditionSuccess, workflow.ConditionFailure, workflow.ConditionCompletion:
		case workflow.ConditionCustom:
			if dep.Condition.CustomExpression == "" {
				c.add(CategoryDependencies, SeverityError, "CUSTOM_CONDITION_EMPTY", dep.ToStage, "",
					"custom condition on %s has no expression", dep)
			}
		default:
			c.add(CategoryDependencies, SeverityError, "INVALID_CONDITION", dep.ToStage, "",
				"dependency %s has unknown condition %q", dep, dep.ConditionType())
		}
	}

	switch c.wf.FailurePolicy() {
	case workflow.FailureContinue, workflow.FailureSkip, workflow.FailureAbort:
	default:
		c.add(CategoryDependencies, SeverityError, "INVALID_FAILURE_POLICY", "", "",
			"unknown dependency failure policy %q", c.wf.FailurePolicy())
	}
}

func (c *checker) checkTimeouts() {
	wf := c.wf
	if wf.Configuration.MaxExecutionTime < 0 {
		c.add(CategoryTimeouts, SeverityError, "NEGATIVE_TIMEOUT", "", "", "max_execution_time is negative")
	}

	anyTimeout := false
	for _, s := range wf.ExecutionFlow.Stages {
		if s.TimeoutMs < 0 {
			c.add(CategoryTimeouts, SeverityError, "NEGATIVE_TIMEOUT", s.ID, "", "stage %s has a negative timeout", s.ID)
		} else if s.TimeoutMs > 0 {
			anyTimeout = true
			if s.TimeoutMs < MinTimeoutMs {
				c.add(CategoryTimeouts, SeverityWarning, "TIMEOUT_TOO_SHORT", s.ID, "", "stage %s timeout of %dms is very short", s.ID, s.TimeoutMs)
			}
		}
		for _, t := range s.Tasks {
			switch {
			case t.Timeout < 0:
				c.add(CategoryTimeouts, SeverityError, "NEGATIVE_TIMEOUT", s.ID, t.ID, "task %s has a negative timeout", t.ID)
			case t.Timeout > 0:
				anyTimeout = true
				if s.TimeoutMs > 0 && t.Timeout > s.TimeoutMs {
					c.add(CategoryTimeouts, SeverityWarning, "TASK_TIMEOUT_EXCEEDS_STAGE", s.ID, t.ID,
						"task %s timeout (%dms) exceeds its stage timeout (%dms)", t.ID, t.Timeout, s.TimeoutMs)
				}
			}
		}
	}
	if !anyTimeout && len(wf.ExecutionFlow.Stages) > 0 {
		c.add(CategoryTimeouts, SeverityInfo, "NO_TIMEOUTS", "", "", "no stage or task sets a timeout; the engine default applies")
	}

	if limit := wf.Configuration.MaxExecutionTime; limit > 0 {
		g := graph.Build(wf.ExecutionFlow)
		if g.Cyclic {
			return
		}
		plan, err := graph.GeneratePlan(wf, g)
		if err == nil && plan.EstimatedDuration > limit {
			c.add(CategoryTimeouts, SeverityWarning, "MAX_EXECUTION_TIME_TOO_SHORT", "", "",
				"max_execution_time (%dms) is below the estimated duration (%dms)", limit, plan.EstimatedDuration)
		}
	}
}

func (c *checker) checkRetry() {
	wf := c.wf
	withPolicy := 0
	for _, s := range wf.ExecutionFlow.Stages {
		rp := s.RetryPolicy
		if rp.MaxRetries < 0 {
			c.add(CategoryRetry, SeverityError, "NEGATIVE_RETRIES", s.ID, "", "stage %s has negative max_retries", s.ID)
		}
		if rp.BackoffMs < 0 {
			c.add(CategoryRetry, SeverityError, "NEGATIVE_BACKOFF", s.ID, "", "stage %s has negative backoff_ms", s.ID)
		}
		if rp.MaxRetries > MaxRecommendedRetry {
			c.add(CategoryRetry, SeverityWarning, "EXCESSIVE_RETRIES", s.ID, "", "stage %s retries up to %d times", s.ID, rp.MaxRetries)
		}
		if rp.MaxRetries > 0 {
			withPolicy++
			if rp.BackoffMs == 0 {
				c.add(CategoryRetry, SeverityInfo, "NO_BACKOFF", s.ID, "", "stage %s retries without backoff", s.ID)
			}
		}
	}

	switch {
	case withPolicy > 0 && !wf.Configuration.AutoRetry:
		c.add(CategoryRetry, SeverityInfo, "RETRY_DISABLED", "", "", "%d stage(s) declare a retry policy but auto_retry is off", withPolicy)
	case withPolicy == 0 && wf.Configuration.AutoRetry && len(wf.ExecutionFlow.Stages) > 0:
		c.add(CategoryRetry, SeverityInfo, "NO_RETRY_POLICY", "", "", "auto_retry is on but no stage declares max_retries")
	}
}

func (c *checker) checkResources() {
	wf := c.wf
	if _, err := workflow.ParseExecutionMode(string(wf.Configuration.Execution.Mode)); err != nil {
		c.add(CategoryResources, SeverityError, "INVALID_MODE", "", "", "%v", err)
	}
	if wf.Configuration.Execution.MaxParallel < 0 {
		c.add(CategoryResources, SeverityError, "NEGATIVE_MAX_PARALLEL", "", "", "max_parallel is negative")
	}

	if n := wf.TaskCount(); n > MaxRecommendedTasks {
		c.add(CategoryResources, SeverityWarning, "LARGE_WORKFLOW", "", "", "workflow has %d tasks", n)
	}
	if n := len(wf.ExecutionFlow.Stages); n > MaxRecommendedStages {
		c.add(CategoryResources, SeverityWarning, "MANY_STAGES", "", "", "workflow has %d stages", n)
	}

	if wf.Mode() != workflow.ModeParallel {
		return
	}
	g := graph.Build(wf.ExecutionFlow)
	if g.Cyclic {
		return
	}
	for i, level := range g.Levels {
		width := 0
		perAgent := make(map[string]int)
		for _, id := range level {
			s, ok := wf.StageByID(id)
			if !ok {
				continue
			}
			width += len(s.Tasks)
			for _, t := range s.Tasks {
				perAgent[t.AgentID]++
			}
		}
		if width > MaxRecommendedWidth && wf.Configuration.Execution.MaxParallel == 0 {
			c.add(CategoryResources, SeverityWarning, "HIGH_PARALLELISM", "", "",
				"level %d runs up to %d tasks at once; consider max_parallel", i+1, width)
		}

		agents := make([]string, 0, len(perAgent))
		for id, n := range perAgent {
			if n > 1 {
				agents = append(agents, id)
			}
		}
		sort.Strings(agents)
		for _, id := range agents {
			c.add(CategoryResources, SeverityInfo, "AGENT_CONTENTION", "", "",
				"agent %s has %d concurrent tasks in level %d", id, perAgent[id], i+1)
		}
	}
}
