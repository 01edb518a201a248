package events

import (
	"go.uber.org/zap"
)

// LogSink writes events to a zap logger. Progress events go to debug level.
type LogSink struct {
	Logger *zap.Logger
}

// Emit implements Sink
func (s LogSink) Emit(e Event) {
	if s.Logger == nil {
		return
	}
	fields := []zap.Field{
		zap.String("event", string(e.Type)),
		zap.String("execution_id", e.ExecutionID),
	}
	if e.TaskID != "" {
		fields = append(fields, zap.String("task_id", e.TaskID))
	}
	if e.Payload != nil {
		fields = append(fields, zap.Any("payload", e.Payload))
	}

	switch e.Type {
	case Progress, TaskStarted, StateChanged:
		s.Logger.Debug("Workflow event", fields...)
	case ExecutionError:
		s.Logger.Error("Workflow event", fields...)
	case TaskRetry:
		s.Logger.Warn("Workflow event", fields...)
	default:
		s.Logger.Info("Workflow event", fields...)
	}
}
