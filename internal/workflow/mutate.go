package workflow

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrAgentNotFound        = errors.New("agent not found")
	ErrDuplicateAgent       = errors.New("agent already on team")
	ErrStageNotFound        = errors.New("stage not found")
	ErrDuplicateStage       = errors.New("stage id already exists")
	ErrDuplicateTask        = errors.New("task id already exists")
	ErrDependencyNotFound   = errors.New("dependency not found")
	ErrDuplicateDependency  = errors.New("dependency already exists")
	ErrSelfDependency       = errors.New("stage cannot depend on itself")
	ErrInvalidStageIdentity = errors.New("stage id is required")
)

// nowFunc is swapped in tests
var nowFunc = time.Now

func (w *WorkflowConfig) touch() {
	w.Metadata.UpdatedAt = nowFunc()
}

// AddAgent puts an agent on the team roster
func (w *WorkflowConfig) AddAgent(agentID string) error {
	if w.HasAgent(agentID) {
		return fmt.Errorf("%w: %s", ErrDuplicateAgent, agentID)
	}
	w.AgentIDs = append(w.AgentIDs, agentID)
	if w.MainAgentID == "" {
		w.MainAgentID = agentID
	}
	w.touch()
	return nil
}

// RemoveAgent takes an agent off the roster. Removing the main agent clears it.
func (w *WorkflowConfig) RemoveAgent(agentID string) error {
	idx := -1
	for i, a := range w.AgentIDs {
		if a == agentID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
	}
	w.AgentIDs = append(w.AgentIDs[:idx], w.AgentIDs[idx+1:]...)
	if w.MainAgentID == agentID {
		w.MainAgentID = ""
	}
	w.touch()
	return nil
}

// SetMainAgent selects the coordinating agent
func (w *WorkflowConfig) SetMainAgent(agentID string) error {
	if !w.HasAgent(agentID) {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
	}
	w.MainAgentID = agentID
	w.touch()
	return nil
}

// AddStage appends a stage
func (w *WorkflowConfig) AddStage(stage Stage) error {
	if stage.ID == "" {
		return ErrInvalidStageIdentity
	}
	if _, ok := w.StageByID(stage.ID); ok {
		return fmt.Errorf("%w: %s", ErrDuplicateStage, stage.ID)
	}
	if stage.Type == "" {
		stage.Type = StageSequential
	}
	w.ExecutionFlow.Stages = append(w.ExecutionFlow.Stages, stage)
	w.touch()
	return nil
}

// UpdateStage replaces the stage that has the same id
func (w *WorkflowConfig) UpdateStage(stage Stage) error {
	existing, ok := w.StageByID(stage.ID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrStageNotFound, stage.ID)
	}
	*existing = stage
	w.touch()
	return nil
}

// RemoveStage deletes a stage and every edge touching it
func (w *WorkflowConfig) RemoveStage(stageID string) error {
	stages := w.ExecutionFlow.Stages[:0]
	found := false
	for _, s := range w.ExecutionFlow.Stages {
		if s.ID == stageID {
			found = true
			continue
		}
		stages = append(stages, s)
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrStageNotFound, stageID)
	}
	w.ExecutionFlow.Stages = stages

	deps := w.ExecutionFlow.Dependencies[:0]
	for _, d := range w.ExecutionFlow.Dependencies {
		if d.FromStage == stageID || d.ToStage == stageID {
			continue
		}
		deps = append(deps, d)
	}
	w.ExecutionFlow.Dependencies = deps
	w.touch()
	return nil
}

func (w *WorkflowConfig) dependencyIndex(from, to string) int {
	for i, d := range w.ExecutionFlow.Dependencies {
		if d.FromStage == from && d.ToStage == to {
			return i
		}
	}
	return -1
}

func (w *WorkflowConfig) checkEdge(dep StageDependency) error {
	if dep.FromStage == dep.ToStage {
		return fmt.Errorf("%w: %s", ErrSelfDependency, dep.FromStage)
	}
	if _, ok := w.StageByID(dep.FromStage); !ok {
		return fmt.Errorf("%w: %s", ErrStageNotFound, dep.FromStage)
	}
	if _, ok := w.StageByID(dep.ToStage); !ok {
		return fmt.Errorf("%w: %s", ErrStageNotFound, dep.ToStage)
	}
	return nil
}

// AddDependency adds an edge between two existing stages
func (w *WorkflowConfig) AddDependency(dep StageDependency) error {
	if err := w.checkEdge(dep); err != nil {
		return err
	}
	if w.dependencyIndex(dep.FromStage, dep.ToStage) >= 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateDependency, dep)
	}
	w.ExecutionFlow.Dependencies = append(w.ExecutionFlow.Dependencies, dep)
	w.touch()
	return nil
}

// UpdateDependency changes the condition of an existing edge
func (w *WorkflowConfig) UpdateDependency(dep StageDependency) error {
	idx := w.dependencyIndex(dep.FromStage, dep.ToStage)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrDependencyNotFound, dep)
	}
	w.ExecutionFlow.Dependencies[idx] = dep
	w.touch()
	return nil
}

// RemoveDependency deletes an edge
func (w *WorkflowConfig) RemoveDependency(from, to string) error {
	idx := w.dependencyIndex(from, to)
	if idx < 0 {
		return fmt.Errorf("%w: %s -> %s", ErrDependencyNotFound, from, to)
	}
	deps := w.ExecutionFlow.Dependencies
	w.ExecutionFlow.Dependencies = append(deps[:idx], deps[idx+1:]...)
	w.touch()
	return nil
}

// RecordExecution updates run bookkeeping after the engine finishes a run
func (w *WorkflowConfig) RecordExecution(at time.Time) {
	w.Metadata.ExecutionCount++
	w.Metadata.LastExecuted = &at
}
