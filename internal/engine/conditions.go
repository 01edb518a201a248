package engine

import (
	"context"
	"fmt"
	"strings"
	"text/template"

	"teamflow/internal/logger"
	"teamflow/internal/workflow"

	"github.com/Masterminds/sprig/v3"
	"go.uber.org/zap"
)

// conditionData is what a custom edge expression is rendered against
type conditionData struct {
	upstream []*TaskResult
}

func (d conditionData) anyFailed() bool {
	for _, r := range d.upstream {
		if !r.Success {
			return true
		}
	}
	return false
}

func (d conditionData) templateData() map[string]any {
	outputs := make(map[string]string, len(d.upstream))
	results := make(map[string]*TaskResult, len(d.upstream))
	var joined []string
	for _, r := range d.upstream {
		outputs[r.TaskID] = r.Output
		results[r.TaskID] = r
		if r.Output != "" {
			joined = append(joined, r.Output)
		}
	}
	return map[string]any{
		"success": len(d.upstream) > 0 && !d.anyFailed(),
		"failed":  d.anyFailed(),
		"output":  strings.Join(joined, "\n\n"),
		"outputs": outputs,
		"results": results,
	}
}

// evaluateCustomCondition renders the expression as a sprig template. Bare
// expressions such as `.success` are wrapped in {{ }} first. The condition
// holds when the rendered text is "true".
func evaluateCustomCondition(expression string, data conditionData) (bool, error) {
	expr := strings.TrimSpace(expression)
	if expr == "" {
		return false, fmt.Errorf("custom condition has no expression")
	}
	if !strings.Contains(expr, "{{") {
		expr = "{{ " + expr + " }}"
	}
	tmpl, err := template.New("condition").Funcs(sprig.TxtFuncMap()).Option("missingkey=zero").Parse(expr)
	if err != nil {
		return false, fmt.Errorf("template parsing failed: %w", err)
	}
	rendered, err := applyTemplate(tmpl, data.templateData())
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(rendered) == "true", nil
}

// edgeSatisfied reports whether a failure, completion or custom edge lets the
// downstream stage run. Success edges are handled by the dependency failure
// policy and always report true here.
func edgeSatisfied(ctx context.Context, dep workflow.StageDependency, upstream []*TaskResult) bool {
	data := conditionData{upstream: upstream}
	switch dep.ConditionType() {
	case workflow.ConditionFailure:
		return data.anyFailed()
	case workflow.ConditionCustom:
		expr := ""
		if dep.Condition != nil {
			expr = dep.Condition.CustomExpression
		}
		ok, err := evaluateCustomCondition(expr, data)
		if err != nil {
			logger.FromContext(ctx).Warn("Custom condition evaluation failed, treating edge as unsatisfied",
				zap.String("edge", dep.String()),
				zap.String("expression", expr),
				zap.Error(err))
			return false
		}
		return ok
	default:
		return true
	}
}
