package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format is the on-disk encoding of a workflow definition
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatFromPath picks the encoding from a file extension
func FormatFromPath(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return FormatJSON
	}
	return FormatYAML
}

// LoadFromFile reads a workflow definition from a YAML or JSON file
func LoadFromFile(path string) (*WorkflowConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow file: %w", err)
	}

	wf, err := Parse(data, FormatFromPath(path))
	if err != nil {
		return nil, fmt.Errorf("failed to parse workflow file %s: %w", path, err)
	}
	return wf, nil
}

// Parse decodes a workflow definition and applies defaults
func Parse(data []byte, format Format) (*WorkflowConfig, error) {
	var wf WorkflowConfig
	switch format {
	case FormatJSON:
		if err := json.Unmarshal(data, &wf); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &wf); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	}

	if err := checkRequired(&wf); err != nil {
		return nil, fmt.Errorf("invalid workflow: %w", err)
	}

	ApplyDefaults(&wf)
	return &wf, nil
}

// SaveToFile writes the workflow in the encoding implied by the extension
func SaveToFile(wf *WorkflowConfig, path string) error {
	var (
		data []byte
		err  error
	)
	if FormatFromPath(path) == FormatJSON {
		data, err = json.MarshalIndent(wf, "", "  ")
	} else {
		data, err = yaml.Marshal(wf)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal workflow: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write workflow file: %w", err)
	}
	return nil
}

// checkRequired rejects structurally unusable definitions. Semantic problems are
// left to the validators so they can be reported together.
func checkRequired(wf *WorkflowConfig) error {
	if wf.ID == "" {
		return fmt.Errorf("id is required")
	}
	for i, s := range wf.ExecutionFlow.Stages {
		if s.ID == "" {
			return fmt.Errorf("execution_flow.stages[%d].id is required", i)
		}
		for j, t := range s.Tasks {
			if t.ID == "" {
				return fmt.Errorf("execution_flow.stages[%d].tasks[%d].id is required", i, j)
			}
		}
	}
	return nil
}

// ApplyDefaults fills in optional fields
func ApplyDefaults(wf *WorkflowConfig) {
	if wf.Name == "" {
		wf.Name = wf.ID
	}
	if wf.MainAgentID == "" && len(wf.AgentIDs) > 0 {
		wf.MainAgentID = wf.AgentIDs[0]
	}
	for i := range wf.ExecutionFlow.Stages {
		s := &wf.ExecutionFlow.Stages[i]
		if s.Name == "" {
			s.Name = s.ID
		}
		if s.Type == "" {
			s.Type = StageSequential
		}
		for j := range s.Tasks {
			if s.Tasks[j].TaskType == "" {
				s.Tasks[j].TaskType = TaskTypeSubExecution
			}
		}
	}
	if wf.Configuration.Execution.OnDependencyFailure == "" {
		wf.Configuration.Execution.OnDependencyFailure = FailureContinue
	}
	if wf.Metadata.Version == "" {
		wf.Metadata.Version = "1.0.0"
	}
	if wf.Metadata.CreatedAt.IsZero() {
		wf.Metadata.CreatedAt = nowFunc()
	}
	if wf.Metadata.UpdatedAt.IsZero() {
		wf.Metadata.UpdatedAt = wf.Metadata.CreatedAt
	}
}
