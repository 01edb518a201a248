package engine

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"teamflow/internal/agent"
	"teamflow/internal/workflow"

	"github.com/Masterminds/sprig/v3"
)

const taskPromptTemplate = `{{ if .Task.Description }}{{ .Task.Description }}{{ else }}Complete task "{{ .Task.ID }}" of stage "{{ .StageName }}".{{ end }}
{{- if .Request }}

## Request
{{ .Request }}
{{- end }}
{{- if .Task.Inputs }}

## Inputs
{{- range $k, $v := .Task.Inputs }}
- {{ $k }}: {{ toJson $v }}
{{- end }}
{{- end }}
{{- if .Dependencies }}

## Results from previous tasks
{{- range .Dependencies }}

### {{ .TaskID }}{{ if .Skipped }} (skipped){{ else if not .Success }} (failed){{ end }}
{{ if .Success }}{{ .Output }}{{ else if .Error }}Error: {{ .Error.Message }}{{ else }}{{ .Reason }}{{ end }}
{{- end }}
{{- end }}
{{- if .Shared }}

## Shared context
{{- range .Shared }}
- {{ .Key }}: {{ .Value | trunc 2000 }}
{{- end }}
{{- end }}
`

const planningPromptTemplate = `You are the coordinator of an agent team. Break the request below into tasks and assign each task to one team member.

## Request
{{ .Request }}

## Team
{{- range .Team }}
- {{ .ID }}{{ if .Name }} ({{ .Name }}){{ end }}{{ if .Role }}: {{ .Role }}{{ end }}{{ if .Capabilities }} [{{ join ", " .Capabilities }}]{{ end }}
{{- end }}

Respond with JSON only, in this shape:
{"summary": "...", "tasks": [{"id": "task-1", "agent_id": "<team member id>", "description": "...", "dependencies": ["<task id>"], "estimated_minutes": 30}]}
`

const decisionPromptTemplate = `You are coordinating a workflow run. Decide whether the next task should execute.

## Task
- id: {{ .Task.ID }}
- agent: {{ .Task.AgentID }}
- description: {{ default "(none)" .Task.Description }}
{{- if .Request }}

## Request
{{ .Request }}
{{- end }}
{{- if .Completed }}

## Completed so far
{{- range .Completed }}
- {{ .TaskID }}: {{ if .Skipped }}skipped{{ else if .Success }}succeeded{{ else }}failed{{ end }}{{ if .Output }} - {{ .Output | trunc 300 }}{{ end }}
{{- end }}
{{- end }}

Should this task execute, and why? Respond with JSON only: {"execute": true, "reason": "..."}
`

const synthesisPromptTemplate = `Write an executive summary of the workflow run below.
{{- if .Request }}

## Request
{{ .Request }}
{{- end }}

## Task results
{{- range .Results }}

### {{ .TaskID }} ({{ if .Skipped }}skipped{{ else if .Success }}succeeded{{ else }}failed{{ end }})
{{ if .Success }}{{ .Output }}{{ else if .Error }}Error: {{ .Error.Message }}{{ end }}
{{- end }}
`

var (
	taskPrompt      = mustTemplate("task", taskPromptTemplate)
	planningPrompt  = mustTemplate("planning", planningPromptTemplate)
	decisionPrompt  = mustTemplate("decision", decisionPromptTemplate)
	synthesisPrompt = mustTemplate("synthesis", synthesisPromptTemplate)
)

func mustTemplate(name, text string) *template.Template {
	return template.Must(template.New(name).Funcs(sprig.TxtFuncMap()).Parse(text))
}

// applyTemplate renders a parsed template to a string
func applyTemplate(tmpl *template.Template, data any) (string, error) {
	var buf strings.Builder
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("template execution failed: %w", err)
	}
	return buf.String(), nil
}

type taskPromptData struct {
	Task         workflow.Task
	StageName    string
	Request      string
	Dependencies []*TaskResult
	Shared       []contextEntry
}

type planningPromptData struct {
	Request string
	Team    []agent.Config
}

type decisionPromptData struct {
	Task      workflow.Task
	Request   string
	Completed []*TaskResult
}

type synthesisPromptData struct {
	Request string
	Results []*TaskResult
}

func toJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
