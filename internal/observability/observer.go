package observability

import (
	"context"
	"fmt"
	"log/slog"
)

// Metric names emitted by agent observers.
const (
	MetricOperationsStarted   = "agent.operations.started"
	MetricOperationsCompleted = "agent.operations.completed"
	MetricOperationsErrors    = "agent.operations.errors"
	MetricResponseTime        = "agent.response_time"
)

// AgentObserver scopes tracing, metrics and logging to a single agent. Every
// span it starts and every metric it records carries the agent id.
type AgentObserver struct {
	agentID string
	tracer  *Tracer
	metrics *MetricsCollector
	logger  *slog.Logger
}

func newAgentObserver(agentID string, tracer *Tracer, metrics *MetricsCollector, logger *slog.Logger) *AgentObserver {
	return &AgentObserver{
		agentID: agentID,
		tracer:  tracer,
		metrics: metrics,
		logger:  logger.With(TagAgentID, agentID),
	}
}

func (o *AgentObserver) AgentID() string {
	return o.agentID
}

// Logger returns the agent-scoped logger.
func (o *AgentObserver) Logger() *slog.Logger {
	return o.logger
}

// Log writes a record carrying the agent id and, when one is active, the
// trace and span ids of the current span.
func (o *AgentObserver) Log(ctx context.Context, level slog.Level, msg string, args ...any) {
	if span := o.currentSpan(ctx); span != nil {
		args = append(args, "trace_id", span.TraceID, "span_id", span.SpanID)
	}
	o.logger.Log(ctx, level, msg, args...)
}

func (o *AgentObserver) currentSpan(ctx context.Context) *Span {
	if span := SpanFromContext(ctx); span != nil {
		return span
	}
	return o.tracer.GetActiveSpan(ctx)
}

// StartOperation opens a span named "<agent id>.<operation>" and counts the
// operation as started.
func (o *AgentObserver) StartOperation(ctx context.Context, operation string, tags map[string]any) (context.Context, *Span) {
	merged := make(map[string]any, len(tags)+2)
	for k, v := range tags {
		merged[k] = v
	}
	merged[TagAgentID] = o.agentID
	merged["operation"] = operation

	ctx, span := o.tracer.StartSpan(ctx, o.agentID+"."+operation, WithTags(merged))
	o.metrics.Counter(MetricOperationsStarted, 1, o.labels(operation))
	return ctx, span
}

// FinishOperation closes span, records its duration as the agent response
// time and counts completion or failure.
func (o *AgentObserver) FinishOperation(span *Span, err error) {
	if span == nil {
		return
	}
	operation, _ := span.Tag("operation")
	labels := o.labels(fmt.Sprint(operation))

	if err != nil {
		span.RecordError(err)
		o.metrics.Counter(MetricOperationsErrors, 1, labels)
	} else {
		span.SetTag("success", true)
		o.metrics.Counter(MetricOperationsCompleted, 1, labels)
	}
	o.tracer.FinishSpan(span)
	o.metrics.Timer(MetricResponseTime, span.Duration().Seconds(), labels)
}

// Operation runs fn inside StartOperation/FinishOperation. A panic is
// recorded as a failure and re-raised.
func (o *AgentObserver) Operation(ctx context.Context, operation string, tags map[string]any, fn func(ctx context.Context) error) (err error) {
	ctx, span := o.StartOperation(ctx, operation, tags)
	defer func() {
		if r := recover(); r != nil {
			o.FinishOperation(span, fmt.Errorf("panic: %v", r))
			panic(r)
		}
		o.FinishOperation(span, err)
		if err != nil {
			o.Log(ctx, slog.LevelError, "Agent operation failed", "operation", operation, "error", err)
		}
	}()
	return fn(ctx)
}

// RecordMetric records a sample labeled with the agent id.
func (o *AgentObserver) RecordMetric(kind Kind, name string, value float64, labels Labels) {
	merged := make(Labels, len(labels)+1)
	for k, v := range labels {
		merged[k] = v
	}
	merged[TagAgentID] = o.agentID
	o.metrics.Record(kind, name, value, merged)
}

func (o *AgentObserver) labels(operation string) Labels {
	return Labels{TagAgentID: o.agentID, "operation": operation}
}
