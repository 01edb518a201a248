package workflow

// SampleWorkflow returns a small research team workflow used by `teamflow init`
func SampleWorkflow() *WorkflowConfig {
	wf := &WorkflowConfig{
		ID:          "research-report",
		Name:        "Research Report",
		Description: "Plan, research in parallel, draft and review a short report.",
		AgentIDs:    []string{"coordinator", "researcher", "analyst", "writer"},
		MainAgentID: "coordinator",
		ExecutionFlow: ExecutionFlow{
			Stages: []Stage{
				{
					ID:        "plan",
					Name:      "Planning",
					Type:      StageSequential,
					TimeoutMs: 60000,
					Tasks: []Task{
						{ID: "outline", AgentID: "coordinator", TaskType: TaskTypeMainPlanning, Description: "Outline the report and the research questions.", Timeout: 60000},
					},
				},
				{
					ID:          "research",
					Name:        "Research",
					Type:        StageParallel,
					TimeoutMs:   120000,
					RetryPolicy: RetryPolicy{MaxRetries: 2, BackoffMs: 1000},
					Tasks: []Task{
						{ID: "sources", AgentID: "researcher", Description: "Collect primary sources for the outline.", Dependencies: []string{"outline"}, Timeout: 120000},
						{ID: "figures", AgentID: "analyst", Description: "Gather key figures and trends.", Dependencies: []string{"outline"}, Timeout: 120000},
					},
				},
				{
					ID:        "draft",
					Name:      "Drafting",
					Type:      StageSequential,
					TimeoutMs: 90000,
					Tasks: []Task{
						{ID: "write", AgentID: "writer", Description: "Write the report from the research.", Dependencies: []string{"sources", "figures"}, Timeout: 90000},
					},
				},
				{
					ID:        "review",
					Name:      "Review",
					Type:      StageSequential,
					TimeoutMs: 60000,
					Tasks: []Task{
						{ID: "final", AgentID: "coordinator", TaskType: TaskTypeSynthesis, Description: "Review the draft and produce the final version.", Dependencies: []string{"write"}, Timeout: 60000},
					},
				},
			},
			Dependencies: []StageDependency{
				{FromStage: "plan", ToStage: "research"},
				{FromStage: "research", ToStage: "draft"},
				{FromStage: "draft", ToStage: "review", Condition: &Condition{Type: ConditionCompletion}},
			},
		},
		Configuration: Configuration{
			MaxExecutionTime: 600000,
			AutoRetry:        true,
			Execution: ExecutionSettings{
				Mode:                ModeParallel,
				SharedContext:       true,
				ResultSynthesis:     true,
				OnDependencyFailure: FailureContinue,
			},
		},
	}
	ApplyDefaults(wf)
	return wf
}
