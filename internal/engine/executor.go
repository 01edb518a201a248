package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"teamflow/internal/agent"
	"teamflow/internal/events"
	"teamflow/internal/extract"
	"teamflow/internal/graph"
	"teamflow/internal/logger"
	"teamflow/internal/workflow"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// decision is the coordinator's answer in adaptive mode
type decision struct {
	Execute bool   `json:"execute"`
	Reason  string `json:"reason"`
}

// execution holds the state of one run while the driver goroutine works on it
type execution struct {
	engine  *Engine
	run     *Run
	req     Request
	wf      *workflow.WorkflowConfig
	mode    workflow.ExecutionMode
	request string

	graph       *graph.DependencyGraph
	plan        *graph.ExecutionPlan
	taskPlan    *TaskPlan
	agents      map[string]agent.Agent
	coordinator agent.Agent
	synthesis   *TaskResult
}

func newExecution(e *Engine, run *Run, req Request, wf *workflow.WorkflowConfig) *execution {
	mode := req.Mode
	if mode == "" {
		mode = wf.Configuration.Execution.Mode
	}
	if mode == "" {
		mode = e.opts.DefaultMode
	}
	if mode == "" {
		mode = workflow.ModeSequential
	}
	return &execution{
		engine:  e,
		run:     run,
		req:     req,
		wf:      wf,
		mode:    mode,
		request: req.Prompt,
		agents:  make(map[string]agent.Agent),
	}
}

func (x *execution) emit(t events.Type, taskID string, payload any) {
	x.engine.emit(t, x.run.id, taskID, payload)
}

// execute drives the run until it finishes; a nil return means completed
func (x *execution) execute(ctx context.Context) *ErrorInfo {
	lgr := logger.FromContext(ctx).With(
		zap.String("execution_id", x.run.id),
		zap.String("workflow_id", x.wf.ID),
		zap.String("mode", string(x.mode)))
	ctx = logger.WithLogger(ctx, lgr)

	lgr.Info("Starting workflow execution", zap.Int("stages", len(x.wf.ExecutionFlow.Stages)))
	x.emit(events.ExecutionStarted, "", map[string]any{"workflow_id": x.wf.ID, "mode": x.mode})

	if _, err := workflow.ParseExecutionMode(string(x.mode)); err != nil {
		return newError(CodeInvalidWorkflow, "%v", err)
	}
	if err := x.wf.CheckUniqueIDs(); err != nil {
		return newError(CodeInvalidWorkflow, "%v", err)
	}
	if vr := graph.ValidateDependencies(x.wf); !vr.IsValid {
		return newError(CodeInvalidWorkflow, "invalid dependency graph: %s", vr.Error())
	}
	if err := x.run.transition(StatePlanning); err != nil {
		return x.interrupted(ctx)
	}

	if x.wf.MainAgentID != "" {
		if a, err := x.engine.opts.Agents.Get(x.wf.MainAgentID); err == nil {
			x.coordinator = a
		}
	}

	if x.wf.TaskCount() == 0 {
		if errInfo := x.planTasks(ctx); errInfo != nil {
			return errInfo
		}
	}

	x.graph = graph.Build(x.wf.ExecutionFlow)
	plan, err := graph.GeneratePlan(x.wf, x.graph)
	if err != nil {
		return newError(CodeInvalidWorkflow, "%v", err)
	}
	x.plan = plan
	x.emit(events.PlanReady, "", map[string]any{"plan": plan, "task_plan": x.taskPlan})

	if errInfo := x.resolveAgents(); errInfo != nil {
		return errInfo
	}
	if x.coordinator == nil && (x.mode == workflow.ModeAdaptive || x.wf.Configuration.Execution.ResultSynthesis) {
		return newError(CodeCoordinatorNotFound, "coordinator agent %q is required for %s mode or result synthesis", x.wf.MainAgentID, x.mode)
	}

	if x.req.RequireConfirmation {
		lgr.Info("Waiting for plan confirmation")
		c, err := x.run.awaitConfirmation(ctx)
		if err != nil {
			return x.interrupted(ctx)
		}
		if !c.approved {
			reason := c.reason
			if reason == "" {
				reason = "plan rejected"
			}
			return newError(CodeExecutionRejected, "%s", reason)
		}
		if err := x.run.transition(StateConfirmed); err != nil {
			return x.interrupted(ctx)
		}
	}

	if err := x.run.transition(StateRunning); err != nil {
		return x.interrupted(ctx)
	}

	schedule := buildSchedule(x.wf, x.graph, x.mode)
	lgr.Debug("Execution schedule built", zap.Int("batches", len(schedule)), zap.Int("levels", len(x.graph.Levels)))

	for i, b := range schedule {
		x.run.setNextBatch(b.taskIDs())
		if err := x.run.waitIfPaused(ctx); err != nil {
			return x.interrupted(ctx)
		}
		if ctx.Err() != nil {
			return x.interrupted(ctx)
		}

		lgr.Debug("Executing batch",
			zap.Int("batch", i+1),
			zap.Int("total_batches", len(schedule)),
			zap.Int("level", b.Level+1),
			zap.Strings("tasks", b.taskIDs()))

		if errInfo := x.runBatch(ctx, b); errInfo != nil {
			return errInfo
		}
	}
	x.run.setNextBatch(nil)

	if err := x.run.waitIfPaused(ctx); err != nil {
		return x.interrupted(ctx)
	}
	if ctx.Err() != nil {
		return x.interrupted(ctx)
	}

	if x.wf.Configuration.Execution.ResultSynthesis {
		x.synthesize(ctx)
	}
	return nil
}

// interrupted classifies why the run context ended
func (x *execution) interrupted(ctx context.Context) *ErrorInfo {
	if x.run.wasCancelled() || errors.Is(ctx.Err(), context.Canceled) {
		return newError(CodeCancelled, "execution cancelled")
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return newError(CodeAborted, "maximum execution time of %s exceeded", x.wf.MaxExecutionDuration())
	}
	return newError(CodeAborted, "execution stopped in state %s", x.run.State())
}

// resolveAgents looks up a handle for every task agent up front; any missing
// agent aborts the run before a task is dispatched
func (x *execution) resolveAgents() *ErrorInfo {
	var missing []string
	for _, s := range x.wf.ExecutionFlow.Stages {
		for _, t := range s.Tasks {
			if _, ok := x.agents[t.AgentID]; ok {
				continue
			}
			a, err := x.engine.opts.Agents.Get(t.AgentID)
			if err != nil {
				missing = appendUnique(missing, t.AgentID)
				continue
			}
			x.agents[t.AgentID] = a
		}
	}
	if len(missing) > 0 {
		return newError(CodeAgentNotFound, "agent not found: %s", strings.Join(missing, ", "))
	}
	return nil
}

// planTasks asks the coordinator for a task breakdown of the request and
// falls back to the default plan when the reply cannot be used
func (x *execution) planTasks(ctx context.Context) *ErrorInfo {
	lgr := logger.FromContext(ctx)
	if x.coordinator == nil {
		return newError(CodeCoordinatorNotFound, "workflow has no tasks and coordinator agent %q is not available", x.wf.MainAgentID)
	}

	team := make([]agent.Config, 0, len(x.wf.AgentIDs))
	for _, id := range x.wf.AgentIDs {
		cfg, ok := x.engine.opts.Agents.GetAgentByID(id)
		if !ok {
			cfg = agent.Config{ID: id}
		}
		team = append(team, cfg)
	}

	var plan *TaskPlan
	prompt, err := applyTemplate(planningPrompt, planningPromptData{Request: x.request, Team: team})
	if err == nil {
		var out *agent.Result
		out, err = x.callCoordinator(ctx, prompt)
		if err == nil {
			var candidate TaskPlan
			err = extract.Strict(x.engine.opts.Extractor, "tasks").Extract(out.Output, &candidate)
			if err == nil {
				err = ApplyPlan(x.wf, &candidate)
			}
			if err == nil {
				plan = &candidate
			}
		}
	}

	if plan == nil {
		lgr.Info("Falling back to default plan", zap.Error(err))
		plan = DefaultPlan(x.wf, x.request)
		if applyErr := ApplyPlan(x.wf, plan); applyErr != nil {
			return newError(CodeInvalidWorkflow, "default plan: %v", applyErr)
		}
	}

	x.taskPlan = plan
	lgr.Info("Task plan ready", zap.Int("tasks", len(plan.Tasks)), zap.Bool("fallback", plan.Fallback))
	return nil
}

// runBatch decides the fate of every task in the batch, dispatches the ones
// that should run, waits for all of them, and only then records the results
func (x *execution) runBatch(ctx context.Context, b batch) *ErrorInfo {
	lgr := logger.FromContext(ctx)

	type job struct {
		st     scheduledTask
		prompt string
		result *TaskResult
	}

	jobs := make([]*job, 0, len(b.Tasks))
	for _, st := range b.Tasks {
		j := &job{st: st}
		jobs = append(jobs, j)

		if r := x.checkConditions(ctx, st); r != nil {
			j.result = r
			continue
		}

		if failed := x.failedDependencies(st); len(failed) > 0 {
			switch x.wf.FailurePolicy() {
			case workflow.FailureAbort:
				lgr.Warn("Dependency failed, aborting execution",
					zap.String("task_id", st.Task.ID),
					zap.Strings("failed_dependencies", failed))
				return newError(CodeAborted, "task %s: dependencies failed: %s", st.Task.ID, strings.Join(failed, ", "))
			case workflow.FailureSkip:
				j.result = x.skipped(st, newError(CodeDependencyFailed, "dependencies failed: %s", strings.Join(failed, ", ")))
				continue
			default:
				lgr.Debug("Dependency failed, continuing",
					zap.String("task_id", st.Task.ID),
					zap.Strings("failed_dependencies", failed))
			}
		}

		if x.mode == workflow.ModeAdaptive {
			if d := x.decide(ctx, st); !d.Execute {
				j.result = &TaskResult{
					TaskID:  st.Task.ID,
					StageID: st.Stage.ID,
					AgentID: st.Task.AgentID,
					Success: true,
					Skipped: true,
					Reason:  d.Reason,
				}
				continue
			}
		}

		j.prompt = x.buildPrompt(ctx, st)
	}

	var pending []*job
	for _, j := range jobs {
		if j.result == nil {
			pending = append(pending, j)
		}
	}

	switch len(pending) {
	case 0:
	case 1:
		pending[0].result = x.runTask(ctx, pending[0].st, pending[0].prompt)
	default:
		g := new(errgroup.Group)
		g.SetLimit(x.parallelLimit())
		for _, j := range pending {
			g.Go(func() error {
				j.result = x.runTask(ctx, j.st, j.prompt)
				return nil
			})
		}
		_ = g.Wait()
	}

	for _, j := range jobs {
		x.run.record(j.result)
		x.emit(events.TaskComplete, j.result.TaskID, j.result)
		if j.result.Success {
			lgr.Info("Task completed",
				zap.String("task_id", j.result.TaskID),
				zap.String("stage_id", j.result.StageID),
				zap.Bool("skipped", j.result.Skipped))
		} else {
			lgr.Warn("Task did not succeed",
				zap.String("task_id", j.result.TaskID),
				zap.String("stage_id", j.result.StageID),
				zap.String("code", j.result.Error.Code),
				zap.String("error", j.result.Error.Message))
		}
	}
	return nil
}

func (x *execution) parallelLimit() int {
	if n := x.wf.Configuration.Execution.MaxParallel; n > 0 {
		return n
	}
	if n := x.engine.opts.MaxParallel; n > 0 {
		return n
	}
	return -1
}

func (x *execution) skipped(st scheduledTask, errInfo *ErrorInfo) *TaskResult {
	return &TaskResult{
		TaskID:  st.Task.ID,
		StageID: st.Stage.ID,
		AgentID: st.Task.AgentID,
		Success: false,
		Skipped: true,
		Reason:  errInfo.Message,
		Error:   errInfo,
	}
}

// checkConditions evaluates the failure and custom edges into the task's
// stage and returns a skip result when one is not satisfied
func (x *execution) checkConditions(ctx context.Context, st scheduledTask) *TaskResult {
	for _, dep := range x.graph.IncomingEdges(st.Stage.ID) {
		ct := dep.ConditionType()
		if ct == workflow.ConditionSuccess || ct == workflow.ConditionCompletion {
			continue
		}
		if !edgeSatisfied(ctx, dep, x.stageResults(dep.FromStage)) {
			return x.skipped(st, newError(CodeConditionNotMet, "%s condition on %s not met", ct, dep))
		}
	}
	return nil
}

func (x *execution) stageResults(stageID string) []*TaskResult {
	stage, ok := x.wf.StageByID(stageID)
	if !ok {
		return nil
	}
	out := make([]*TaskResult, 0, len(stage.Tasks))
	for _, t := range stage.Tasks {
		if r, ok := x.run.result(t.ID); ok {
			out = append(out, r)
		}
	}
	return out
}

// dependencyIDs returns the declared task dependencies followed by the tasks
// of upstream stages. With successOnly, only success edges count.
func (x *execution) dependencyIDs(st scheduledTask, successOnly bool) []string {
	var ids []string
	for _, d := range st.Task.Dependencies {
		if d != st.Task.ID {
			ids = appendUnique(ids, d)
		}
	}
	for _, dep := range x.graph.IncomingEdges(st.Stage.ID) {
		if successOnly && dep.ConditionType() != workflow.ConditionSuccess {
			continue
		}
		if stage, ok := x.wf.StageByID(dep.FromStage); ok {
			for _, t := range stage.Tasks {
				ids = appendUnique(ids, t.ID)
			}
		}
	}
	return ids
}

func (x *execution) failedDependencies(st scheduledTask) []string {
	var failed []string
	for _, id := range x.dependencyIDs(st, true) {
		if r, ok := x.run.result(id); ok && !r.Success {
			failed = append(failed, id)
		}
	}
	return failed
}

// buildPrompt renders the contextual prompt of a task from results recorded
// before its batch started
func (x *execution) buildPrompt(ctx context.Context, st scheduledTask) string {
	data := taskPromptData{
		Task:      st.Task,
		StageName: st.Stage.Name,
		Request:   x.request,
	}

	shown := make(map[string]bool)
	for _, id := range x.dependencyIDs(st, false) {
		if r, ok := x.run.result(id); ok {
			data.Dependencies = append(data.Dependencies, r)
			shown[id+outputSuffix] = true
		}
	}

	if x.wf.Configuration.Execution.SharedContext {
		for _, entry := range x.run.shared.entries() {
			if !shown[entry.Key] {
				data.Shared = append(data.Shared, entry)
			}
		}
	}

	prompt, err := applyTemplate(taskPrompt, data)
	if err != nil {
		logger.FromContext(ctx).Warn("Prompt template failed, using task description",
			zap.String("task_id", st.Task.ID),
			zap.Error(err))
		return st.Task.Description
	}
	return prompt
}

// decide asks the coordinator whether a task should run; any failure to get
// a usable answer means execute
func (x *execution) decide(ctx context.Context, st scheduledTask) decision {
	lgr := logger.FromContext(ctx)
	fallback := decision{Execute: true, Reason: "no usable decision from coordinator"}

	prompt, err := applyTemplate(decisionPrompt, decisionPromptData{
		Task:      st.Task,
		Request:   x.request,
		Completed: x.run.orderedResults(),
	})
	if err != nil {
		lgr.Warn("Decision prompt failed", zap.String("task_id", st.Task.ID), zap.Error(err))
		return fallback
	}

	out, err := x.callCoordinator(ctx, prompt)
	if err != nil {
		lgr.Warn("Coordinator decision failed, executing task", zap.String("task_id", st.Task.ID), zap.Error(err))
		return fallback
	}

	d, ok := extract.OrDefault(extract.Strict(x.engine.opts.Extractor, "execute"), out.Output, fallback)
	if !ok {
		lgr.Debug("Could not parse coordinator decision, executing task", zap.String("task_id", st.Task.ID))
	}
	lgr.Debug("Adaptive decision",
		zap.String("task_id", st.Task.ID),
		zap.Bool("execute", d.Execute),
		zap.String("reason", d.Reason))
	return d
}

// synthesize asks the coordinator for an executive summary. Failures leave
// the individual results as they are.
func (x *execution) synthesize(ctx context.Context) {
	lgr := logger.FromContext(ctx)

	prompt, err := applyTemplate(synthesisPrompt, synthesisPromptData{
		Request: x.request,
		Results: x.run.orderedResults(),
	})
	if err != nil {
		lgr.Warn("Synthesis prompt failed", zap.Error(err))
		return
	}

	start := time.Now()
	out, err := x.callCoordinator(ctx, prompt)
	if err != nil {
		lgr.Warn("Result synthesis failed, returning individual results", zap.Error(err))
		return
	}

	x.synthesis = &TaskResult{
		TaskID:  SynthesisKey,
		AgentID: x.coordinator.ID(),
		Success: true,
		Output:  out.Output,
		Metadata: TaskMetadata{
			ExecutionTime: time.Since(start),
			TokensUsed:    out.Metadata.TokensUsed,
		},
	}
	x.run.shared.Set(SynthesisKey, out.Output)
}

func (x *execution) callCoordinator(ctx context.Context, prompt string) (*agent.Result, error) {
	timeout := x.engine.opts.DefaultTaskTimeout
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := callAgent(callCtx, x.coordinator, prompt, agent.ExecuteOptions{Timeout: timeout})
	tokens := 0
	if out != nil {
		tokens = out.Metadata.TokensUsed
	}
	x.run.useAgent(x.coordinator.ID(), tokens)

	if err != nil {
		return nil, err
	}
	if out == nil || !out.Success {
		return nil, fmt.Errorf("coordinator %s reported failure: %s", x.coordinator.ID(), resultError(out))
	}
	return out, nil
}

// taskTimeout picks the task timeout, then the stage timeout, then the default
func (x *execution) taskTimeout(st scheduledTask) time.Duration {
	if st.Task.Timeout > 0 {
		return time.Duration(st.Task.Timeout) * time.Millisecond
	}
	if st.Stage.TimeoutMs > 0 {
		return time.Duration(st.Stage.TimeoutMs) * time.Millisecond
	}
	return x.engine.opts.DefaultTaskTimeout
}

// runTask invokes the task's agent, retrying failed attempts when auto retry
// is enabled for the workflow
func (x *execution) runTask(ctx context.Context, st scheduledTask, prompt string) *TaskResult {
	lgr := logger.FromContext(ctx).With(zap.String("task_id", st.Task.ID), zap.String("stage_id", st.Stage.ID))
	a := x.agents[st.Task.AgentID]
	timeout := x.taskTimeout(st)

	attempts := 1
	if x.wf.Configuration.AutoRetry && st.Stage.RetryPolicy.MaxRetries > 0 {
		attempts += st.Stage.RetryPolicy.MaxRetries
	}

	x.run.useAgent(st.Task.AgentID, 0)
	x.emit(events.TaskStarted, st.Task.ID, map[string]any{
		"stage_id": st.Stage.ID,
		"agent_id": st.Task.AgentID,
	})
	lgr.Debug("Executing task", zap.String("agent_id", st.Task.AgentID), zap.Duration("timeout", timeout))

	var res *TaskResult
	tokens := 0
	var elapsed time.Duration
	for attempt := 1; attempt <= attempts; attempt++ {
		res = x.invoke(ctx, a, st, prompt, timeout)
		tokens += res.Metadata.TokensUsed
		elapsed += res.Metadata.ExecutionTime
		res.Metadata.Attempts = attempt
		if res.Success || attempt == attempts || ctx.Err() != nil {
			break
		}

		backoff := x.backoff(st.Stage.RetryPolicy.BackoffMs, attempt)
		lgr.Warn("Task failed, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
			zap.Duration("backoff", backoff),
			zap.String("error", res.Error.Message))
		x.emit(events.TaskRetry, st.Task.ID, map[string]any{
			"attempt":    attempt,
			"backoff_ms": backoff.Milliseconds(),
			"error":      res.Error,
		})
		if err := sleepContext(ctx, backoff); err != nil {
			break
		}
	}
	res.Metadata.TokensUsed = tokens
	res.Metadata.ExecutionTime = elapsed
	return res
}

// backoff returns base * 2^(attempt-1), capped
func (x *execution) backoff(baseMs, attempt int) time.Duration {
	limit := x.engine.opts.MaxBackoff
	d := time.Duration(baseMs) * time.Millisecond
	if d <= 0 {
		return 0
	}
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= limit {
			return limit
		}
	}
	if d > limit {
		return limit
	}
	return d
}

// invoke runs one attempt and converts its outcome into a TaskResult
func (x *execution) invoke(ctx context.Context, a agent.Agent, st scheduledTask, prompt string, timeout time.Duration) *TaskResult {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	out, err := callAgent(callCtx, a, prompt, agent.ExecuteOptions{
		Timeout: timeout,
		OnProgress: func(p agent.Progress) {
			x.emit(events.Progress, st.Task.ID, p)
		},
	})

	res := &TaskResult{
		TaskID:   st.Task.ID,
		StageID:  st.Stage.ID,
		AgentID:  st.Task.AgentID,
		Metadata: TaskMetadata{ExecutionTime: time.Since(start)},
	}
	if out != nil {
		res.Output = out.Output
		res.Metadata.TokensUsed = out.Metadata.TokensUsed
		res.Metadata.ToolsUsed = out.Metadata.ToolsUsed
	}

	switch {
	case err == nil && out != nil && out.Success:
		res.Success = true
	case ctx.Err() != nil:
		res.Error = newError(CodeCancelled, "task %s interrupted: %v", st.Task.ID, ctx.Err())
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded):
		res.Error = newError(CodeTaskTimeout, "task %s timed out after %s", st.Task.ID, timeout)
	case err != nil:
		res.Error = newError(CodeTaskExecutionError, "%v", err)
	default:
		res.Error = newError(CodeTaskExecutionError, "%s", resultError(out))
	}
	return res
}

// callAgent runs Execute in its own goroutine so that a call ignoring its
// context still honors the deadline, and turns a panic into an error
func callAgent(ctx context.Context, a agent.Agent, prompt string, opts agent.ExecuteOptions) (*agent.Result, error) {
	type outcome struct {
		res *agent.Result
		err error
	}
	ch := make(chan outcome, 1)

	go func() {
		defer func() {
			if p := recover(); p != nil {
				ch <- outcome{err: fmt.Errorf("agent %s panicked: %v", a.ID(), p)}
			}
		}()
		res, err := a.Execute(ctx, prompt, opts)
		ch <- outcome{res: res, err: err}
	}()

	select {
	case o := <-ch:
		return o.res, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func resultError(out *agent.Result) string {
	if out == nil {
		return "agent returned no result"
	}
	if out.Error != "" {
		return out.Error
	}
	return "agent reported failure"
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}

// finalize assembles the WorkflowResult, moves the run to its terminal
// state, updates the workflow metadata and hands the result to the store
func (x *execution) finalize(ctx context.Context, errInfo *ErrorInfo) {
	lgr := logger.FromContext(ctx).With(zap.String("execution_id", x.run.id), zap.String("workflow_id", x.wf.ID))
	now := x.engine.opts.Now()

	res := &WorkflowResult{
		ExecutionID: x.run.id,
		WorkflowID:  x.wf.ID,
		Plan:        x.plan,
		TaskPlan:    x.taskPlan,
		Results:     make(map[string]*TaskResult),
		Metadata: ResultMetadata{
			Mode:       x.mode,
			StartedAt:  x.run.startedAt,
			FinishedAt: now,
		},
		Error: errInfo,
	}

	tokens := 0
	for _, r := range x.run.orderedResults() {
		res.Results[r.TaskID] = r
		tokens += r.Metadata.TokensUsed
		switch {
		case r.Skipped:
			res.Metadata.TasksSkipped++
		case r.Success:
			res.Metadata.TasksSucceeded++
		default:
			res.Metadata.TasksFailed++
		}
	}
	if x.synthesis != nil {
		res.Results[SynthesisKey] = x.synthesis
	}

	x.run.mu.Lock()
	tokens += x.run.overheadTokens
	x.run.mu.Unlock()
	res.Metadata.TokensUsed = tokens
	res.Metadata.AgentsUsed = x.run.agentsUsedList()
	res.Metadata.ExecutionTime = now.Sub(x.run.startedAt)

	state := StateCompleted
	switch {
	case errInfo == nil:
		res.Success = true
	case errInfo.Code == CodeCancelled || errInfo.Code == CodeExecutionRejected:
		state = StateCancelled
	default:
		state = StateFailed
	}
	if err := x.run.transition(state); err != nil {
		lgr.Warn("Unexpected terminal transition", zap.Error(err))
	}
	res.State = state

	x.req.Workflow.RecordExecution(now)

	if store := x.engine.opts.Store; store != nil {
		if err := store.SaveResult(context.WithoutCancel(ctx), res); err != nil {
			lgr.Warn("Failed to persist execution result", zap.Error(err))
		}
	}

	notices := x.wf.Configuration.Notifications
	if n := x.engine.opts.Notifier; n != nil && ((res.Success && notices.OnComplete) || (!res.Success && notices.OnError)) {
		if err := n.Notify(context.WithoutCancel(ctx), notices, res); err != nil {
			lgr.Warn("Failed to deliver notifications", zap.Error(err))
		}
	}

	if errInfo == nil {
		lgr.Info("Workflow execution completed",
			zap.Int("succeeded", res.Metadata.TasksSucceeded),
			zap.Int("failed", res.Metadata.TasksFailed),
			zap.Int("skipped", res.Metadata.TasksSkipped),
			zap.Duration("duration", res.Metadata.ExecutionTime))
		x.emit(events.ExecutionComplete, "", res)
	} else {
		lgr.Error("Workflow execution failed",
			zap.String("code", errInfo.Code),
			zap.String("error", errInfo.Message))
		x.emit(events.ExecutionError, "", res)
	}

	x.run.finish(res)
}
