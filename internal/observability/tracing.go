package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const rootExecutionID = "root"

type execKey struct{}

type spanKey struct{}

// WithExecutionContext returns a context with its own execution identity.
// Spans started from it (and its children) get their own active-span slot,
// so concurrent goroutines do not overwrite each other's current span.
func WithExecutionContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, execKey{}, uuid.NewString())
}

func executionID(ctx context.Context) string {
	if ctx != nil {
		if id, ok := ctx.Value(execKey{}).(string); ok && id != "" {
			return id
		}
	}
	return rootExecutionID
}

// ContextWithSpan returns a copy of ctx carrying span.
func ContextWithSpan(ctx context.Context, span *Span) context.Context {
	ctx = context.WithValue(ctx, spanKey{}, span)
	if span != nil && span.otel != nil {
		ctx = trace.ContextWithSpan(ctx, span.otel)
	}
	return ctx
}

// SpanFromContext returns the span carried by ctx, if any.
func SpanFromContext(ctx context.Context) *Span {
	if ctx == nil {
		return nil
	}
	span, _ := ctx.Value(spanKey{}).(*Span)
	return span
}

type spanConfig struct {
	parent  *Span
	traceID string
	tags    map[string]any
}

// SpanOption configures StartSpan.
type SpanOption func(*spanConfig)

// WithParent links the new span to parent and inherits its trace id.
func WithParent(parent *Span) SpanOption {
	return func(c *spanConfig) { c.parent = parent }
}

// WithTraceID starts the span in an existing trace.
func WithTraceID(traceID string) SpanOption {
	return func(c *spanConfig) { c.traceID = traceID }
}

// WithTags sets initial span tags.
func WithTags(tags map[string]any) SpanOption {
	return func(c *spanConfig) { c.tags = tags }
}

// Tracer creates spans, groups them into traces and tracks the active span
// of every execution context. Spans are mirrored to an OpenTelemetry tracer.
type Tracer struct {
	otel   trace.Tracer
	logger *slog.Logger

	mu     sync.RWMutex
	spans  map[string]*Span
	traces map[string][]string

	active sync.Map // execution id -> span id
}

// NewTracer creates a Tracer. A nil otelTracer disables the mirror.
func NewTracer(otelTracer trace.Tracer, logger *slog.Logger) *Tracer {
	if otelTracer == nil {
		otelTracer = noop.NewTracerProvider().Tracer("agentcore")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracer{
		otel:   otelTracer,
		logger: logger,
		spans:  make(map[string]*Span),
		traces: make(map[string][]string),
	}
}

// StartSpan creates a span and registers it as active for the execution
// context of ctx. An explicit parent wins over an explicit trace id, which
// wins over a span already carried by ctx; otherwise a new trace begins.
func (t *Tracer) StartSpan(ctx context.Context, operationName string, opts ...SpanOption) (context.Context, *Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := spanConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	parent := cfg.parent
	if parent == nil && cfg.traceID == "" {
		parent = SpanFromContext(ctx)
	}

	traceID := cfg.traceID
	parentID := ""
	otelCtx := ctx
	var startOpts []trace.SpanStartOption
	if parent != nil {
		traceID = parent.TraceID
		parentID = parent.SpanID
		if parent.otel != nil {
			otelCtx = trace.ContextWithSpan(ctx, parent.otel)
		}
	} else if traceID != "" {
		// our trace id is carried as an attribute on a fresh otel root
		startOpts = append(startOpts, trace.WithNewRoot())
	}
	if traceID == "" {
		traceID = uuid.NewString()
	}

	otelCtx, otelSpan := t.otel.Start(otelCtx, operationName, startOpts...)
	execID := executionID(ctx)
	span := newSpan(uuid.NewString(), traceID, parentID, operationName, execID, otelSpan)
	otelSpan.SetAttributes(
		toAttribute("agentcore.trace_id", traceID),
		toAttribute("agentcore.span_id", span.SpanID),
	)
	span.SetTags(cfg.tags)

	t.mu.Lock()
	t.spans[span.SpanID] = span
	t.traces[traceID] = append(t.traces[traceID], span.SpanID)
	t.mu.Unlock()

	t.active.Store(execID, span.SpanID)

	return ContextWithSpan(otelCtx, span), span
}

// FinishSpan finishes span and clears the active marker of its execution
// context when that marker still points at span.
func (t *Tracer) FinishSpan(span *Span) {
	if span == nil {
		return
	}
	span.Finish()
	t.active.CompareAndDelete(span.execID, span.SpanID)
}

// GetActiveSpan returns the active span of the execution context of ctx.
func (t *Tracer) GetActiveSpan(ctx context.Context) *Span {
	v, ok := t.active.Load(executionID(ctx))
	if !ok {
		return nil
	}
	return t.Span(v.(string))
}

// Span looks a span up by id.
func (t *Tracer) Span(spanID string) *Span {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.spans[spanID]
}

// Trace runs fn inside a span. The span is finished on every exit path. A
// returned error or a panic is recorded on the span and logged, then
// returned or re-panicked unchanged.
func (t *Tracer) Trace(ctx context.Context, operationName string, tags map[string]any, fn func(ctx context.Context, span *Span) error) (err error) {
	spanCtx, span := t.StartSpan(ctx, operationName, WithTags(tags))
	defer t.FinishSpan(span)

	defer func() {
		if r := recover(); r != nil {
			perr := fmt.Errorf("panic: %v", r)
			span.RecordError(perr)
			t.logger.ErrorContext(spanCtx, "Traced operation panicked",
				"operation", operationName,
				"error", perr,
			)
			panic(r)
		}
	}()

	err = fn(spanCtx, span)
	if err != nil {
		span.RecordError(err)
		t.logger.ErrorContext(spanCtx, "Traced operation failed",
			"operation", operationName,
			"error", err,
		)
	}
	return err
}

// GetTrace returns the spans of a trace in discovery order.
func (t *Tracer) GetTrace(traceID string) []*Span {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ids := t.traces[traceID]
	spans := make([]*Span, 0, len(ids))
	for _, id := range ids {
		if span, ok := t.spans[id]; ok {
			spans = append(spans, span)
		}
	}
	return spans
}

func (t *Tracer) TraceCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.traces)
}

func (t *Tracer) SpanCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.spans)
}
