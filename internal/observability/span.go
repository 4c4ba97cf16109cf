package observability

import (
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SpanStatus is the lifecycle status of a span.
type SpanStatus string

const (
	SpanActive   SpanStatus = "active"
	SpanFinished SpanStatus = "finished"
)

// Well-known tag keys.
const (
	TagError        = "error"
	TagErrorMessage = "error.message"
	TagAgentID      = "agent_id"
)

// LogEntry is a timestamped annotation recorded on a span.
type LogEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Span is a single timed, tagged operation within a trace. It is mutable
// while active and immutable once finished.
type Span struct {
	SpanID        string
	TraceID       string
	ParentSpanID  string
	OperationName string
	StartTime     time.Time

	execID string
	otel   trace.Span

	mu      sync.RWMutex
	endTime time.Time
	status  SpanStatus
	tags    map[string]any
	logs    []LogEntry
}

func newSpan(spanID, traceID, parentID, name, execID string, otelSpan trace.Span) *Span {
	return &Span{
		SpanID:        spanID,
		TraceID:       traceID,
		ParentSpanID:  parentID,
		OperationName: name,
		StartTime:     time.Now(),
		execID:        execID,
		otel:          otelSpan,
		status:        SpanActive,
		tags:          make(map[string]any),
	}
}

// SetTag records a tag. Tags set after Finish are ignored.
func (s *Span) SetTag(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == SpanFinished {
		return
	}
	s.tags[key] = value
	if s.otel != nil {
		s.otel.SetAttributes(toAttribute(key, value))
	}
}

// SetTags records every entry of tags.
func (s *Span) SetTags(tags map[string]any) {
	for k, v := range tags {
		s.SetTag(k, v)
	}
}

// Log appends a timestamped entry. fields is a list of alternating keys and
// values, like slog.
func (s *Span) Log(message string, fields ...any) {
	entry := LogEntry{
		Timestamp: time.Now(),
		Message:   message,
		Fields:    fieldsToMap(fields),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == SpanFinished {
		return
	}
	s.logs = append(s.logs, entry)
	if s.otel != nil {
		attrs := make([]attribute.KeyValue, 0, len(entry.Fields))
		for k, v := range entry.Fields {
			attrs = append(attrs, toAttribute(k, v))
		}
		s.otel.AddEvent(message, trace.WithAttributes(attrs...))
	}
}

// RecordError tags the span as failed.
func (s *Span) RecordError(err error) {
	if err == nil {
		return
	}
	s.SetTag(TagError, true)
	s.SetTag(TagErrorMessage, err.Error())
	s.Log("Exception occurred", "error", err.Error())
	if s.otel != nil {
		s.otel.RecordError(err)
		s.otel.SetStatus(codes.Error, err.Error())
	}
}

// Finish sets the end time. It reports false if the span was already
// finished, in which case nothing changes.
func (s *Span) Finish() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == SpanFinished {
		return false
	}
	end := time.Now()
	if end.Before(s.StartTime) {
		end = s.StartTime
	}
	s.endTime = end
	s.status = SpanFinished
	if s.otel != nil {
		s.otel.End(trace.WithTimestamp(end))
	}
	return true
}

// Duration is the elapsed time so far for an active span and the fixed
// span length once finished.
func (s *Span) Duration() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.status == SpanFinished {
		return s.endTime.Sub(s.StartTime)
	}
	return time.Since(s.StartTime)
}

// EndTime returns the end time and whether the span is finished.
func (s *Span) EndTime() (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.endTime, s.status == SpanFinished
}

func (s *Span) Status() SpanStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Tag returns a single tag value.
func (s *Span) Tag(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.tags[key]
	return v, ok
}

// Tags returns a copy of the span tags.
func (s *Span) Tags() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]any, len(s.tags))
	for k, v := range s.tags {
		out[k] = v
	}
	return out
}

// Logs returns a copy of the span log entries in insertion order.
func (s *Span) Logs() []LogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]LogEntry, len(s.logs))
	copy(out, s.logs)
	return out
}

// HasError reports whether the span carries a truthy error tag.
func (s *Span) HasError() bool {
	v, ok := s.Tag(TagError)
	if !ok {
		return false
	}
	b, isBool := v.(bool)
	return !isBool || b
}

// toAttribute converts a tag value to an OpenTelemetry attribute.
func toAttribute(key string, value any) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case bool:
		return attribute.Bool(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	case []string:
		return attribute.StringSlice(key, v)
	case time.Duration:
		return attribute.Float64(key, v.Seconds())
	case fmt.Stringer:
		return attribute.String(key, v.String())
	default:
		return attribute.String(key, fmt.Sprintf("%v", v))
	}
}

func fieldsToMap(fields []any) map[string]any {
	if len(fields) == 0 {
		return nil
	}
	out := make(map[string]any, len(fields)/2)
	for i := 0; i < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", fields[i])
		}
		if i+1 < len(fields) {
			out[key] = fields[i+1]
		} else {
			out[key] = nil
		}
	}
	return out
}

// SpanView is a point-in-time copy of a span, safe to serialize.
type SpanView struct {
	SpanID        string         `json:"span_id"`
	TraceID       string         `json:"trace_id"`
	ParentSpanID  string         `json:"parent_span_id,omitempty"`
	OperationName string         `json:"operation_name"`
	StartTime     time.Time      `json:"start_time"`
	EndTime       *time.Time     `json:"end_time,omitempty"`
	Duration      float64        `json:"duration"`
	Status        SpanStatus     `json:"status"`
	Tags          map[string]any `json:"tags"`
	Logs          []LogEntry     `json:"logs"`
}

// View returns a snapshot of the span. Duration is in seconds.
func (s *Span) View() SpanView {
	v := SpanView{
		SpanID:        s.SpanID,
		TraceID:       s.TraceID,
		ParentSpanID:  s.ParentSpanID,
		OperationName: s.OperationName,
		StartTime:     s.StartTime,
		Duration:      s.Duration().Seconds(),
		Status:        s.Status(),
		Tags:          s.Tags(),
		Logs:          s.Logs(),
	}
	if end, ok := s.EndTime(); ok {
		v.EndTime = &end
	}
	return v
}
