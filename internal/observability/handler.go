package observability

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

// MetricLogsTotal counts log records by level.
const MetricLogsTotal = "logs.total"

// Handler decorates an inner slog.Handler with the trace and span ids of
// the current span, the service name, and a per-level record counter.
type Handler struct {
	inner   slog.Handler
	service string
	tracer  *Tracer
	metrics *MetricsCollector
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithHandlerTracer lets the handler fall back to the active span of the
// record's execution context when the context carries no span.
func WithHandlerTracer(t *Tracer) HandlerOption {
	return func(h *Handler) { h.tracer = t }
}

// WithHandlerMetrics counts every handled record.
func WithHandlerMetrics(c *MetricsCollector) HandlerOption {
	return func(h *Handler) { h.metrics = c }
}

func NewHandler(inner slog.Handler, service string, opts ...HandlerOption) *Handler {
	h := &Handler{inner: inner, service: service}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	hasTrace := false
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == "trace_id" {
			hasTrace = true
			return false
		}
		return true
	})

	out := r.Clone()
	if !hasTrace {
		if traceID, spanID, ok := h.spanIDs(ctx); ok {
			out.AddAttrs(
				slog.String("trace_id", traceID),
				slog.String("span_id", spanID),
			)
		}
	}
	if h.service != "" {
		out.AddAttrs(slog.String("service", h.service))
	}

	if h.metrics != nil {
		h.metrics.Counter(MetricLogsTotal, 1, Labels{"level": r.Level.String()})
	}
	return h.inner.Handle(ctx, out)
}

func (h *Handler) spanIDs(ctx context.Context) (string, string, bool) {
	if ctx == nil {
		return "", "", false
	}
	if span := SpanFromContext(ctx); span != nil {
		return span.TraceID, span.SpanID, true
	}
	if h.tracer != nil {
		if span := h.tracer.GetActiveSpan(ctx); span != nil {
			return span.TraceID, span.SpanID, true
		}
	}
	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		return sc.TraceID().String(), sc.SpanID().String(), true
	}
	return "", "", false
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.inner = h.inner.WithAttrs(attrs)
	return &clone
}

func (h *Handler) WithGroup(name string) slog.Handler {
	clone := *h
	clone.inner = h.inner.WithGroup(name)
	return &clone
}

// ParseLevel maps debug, info, warn and error (any case) to a slog level.
// Anything else is info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds a JSON logger wrapped by Handler.
func NewLogger(w io.Writer, level slog.Level, service string, opts ...HandlerOption) *slog.Logger {
	inner := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(NewHandler(inner, service, opts...))
}
