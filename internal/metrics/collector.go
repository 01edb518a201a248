// Package metrics exposes Prometheus metrics for workflow runs and the HTTP
// API. The Collector is an events.Sink, so the engine feeds it through the
// same event stream the API and logs use.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"teamflow/internal/engine"
	"teamflow/internal/events"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// DefaultNamespace prefixes every metric name
const DefaultNamespace = "teamflow"

// Collector records engine events and HTTP requests
type Collector struct {
	registry *prometheus.Registry

	executionsTotal   *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec
	activeExecutions  prometheus.Gauge

	tasksTotal   *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec
	tokensUsed   *prometheus.CounterVec
	taskRetries  *prometheus.CounterVec

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector creates a collector with its own registry, so several
// collectors can live in one process (tests, embedded engines).
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		logger:   logger.With(zap.String("component", "metrics")),

		executionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "executions_total",
				Help:      "Total number of finished workflow executions",
			},
			[]string{"state", "mode"},
		),
		executionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "execution_duration_seconds",
				Help:      "Workflow execution duration in seconds",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
			},
			[]string{"state"},
		),
		activeExecutions: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_executions",
				Help:      "Number of workflow executions in progress",
			},
		),
		tasksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_total",
				Help:      "Total number of settled tasks",
			},
			[]string{"agent", "status"},
		),
		taskDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "task_duration_seconds",
				Help:      "Agent task duration in seconds, all attempts included",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"agent"},
		),
		tokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tokens_used_total",
				Help:      "Total number of tokens reported by agents",
			},
			[]string{"agent"},
		),
		taskRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "task_retries_total",
				Help:      "Total number of task retry attempts",
			},
			[]string{"task"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}
}

// Registry returns the registry the metrics are registered with
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the metrics in the Prometheus text format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Emit implements events.Sink
func (c *Collector) Emit(e events.Event) {
	switch e.Type {
	case events.ExecutionStarted:
		c.activeExecutions.Inc()
	case events.TaskComplete:
		if r, ok := e.Payload.(*engine.TaskResult); ok {
			c.recordTask(r)
		}
	case events.TaskRetry:
		c.taskRetries.WithLabelValues(e.TaskID).Inc()
	case events.ExecutionComplete, events.ExecutionError:
		c.activeExecutions.Dec()
		if r, ok := e.Payload.(*engine.WorkflowResult); ok {
			c.recordExecution(r)
		}
	}
}

func (c *Collector) recordTask(r *engine.TaskResult) {
	status := "succeeded"
	switch {
	case r.Skipped:
		status = "skipped"
	case !r.Success:
		status = "failed"
	}
	c.tasksTotal.WithLabelValues(r.AgentID, status).Inc()
	if r.Skipped {
		return
	}
	c.taskDuration.WithLabelValues(r.AgentID).Observe(r.Metadata.ExecutionTime.Seconds())
	if r.Metadata.TokensUsed > 0 {
		c.tokensUsed.WithLabelValues(r.AgentID).Add(float64(r.Metadata.TokensUsed))
	}
}

func (c *Collector) recordExecution(r *engine.WorkflowResult) {
	state := string(r.State)
	c.executionsTotal.WithLabelValues(state, string(r.Metadata.Mode)).Inc()
	c.executionDuration.WithLabelValues(state).Observe(r.Metadata.ExecutionTime.Seconds())

	if s, ok := r.Results[engine.SynthesisKey]; ok && s.Metadata.TokensUsed > 0 {
		c.tokensUsed.WithLabelValues(s.AgentID).Add(float64(s.Metadata.TokensUsed))
	}
	c.logger.Debug("Recorded execution metrics",
		zap.String("execution_id", r.ExecutionID),
		zap.String("state", state))
}

// RecordHTTPRequest records one served request
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}
