package observability

import (
	"sort"
	"time"
)

// SpanNode is a span and its children within a trace tree.
type SpanNode struct {
	Span     SpanView    `json:"span"`
	Children []*SpanNode `json:"children"`
}

// TimelineEntry places a span on the trace timeline.
type TimelineEntry struct {
	SpanID        string    `json:"span_id"`
	OperationName string    `json:"operation_name"`
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
	Duration      float64   `json:"duration"`
}

// TraceAnalysis is the reconstructed tree and aggregate statistics of a
// trace. Durations are in seconds.
type TraceAnalysis struct {
	TraceID       string          `json:"trace_id"`
	TotalDuration float64         `json:"total_duration"`
	TotalSpans    int             `json:"total_spans"`
	ErrorSpans    int             `json:"error_spans"`
	SuccessRate   float64         `json:"success_rate"`
	Tree          []*SpanNode     `json:"trace_tree"`
	Timeline      []TimelineEntry `json:"timeline"`
}

// TraceAnalysis reports false when the trace is unknown. Spans whose parent
// is not part of the trace are treated as roots.
func (m *Manager) TraceAnalysis(traceID string) (*TraceAnalysis, bool) {
	spans := m.tracer.GetTrace(traceID)
	if len(spans) == 0 {
		return nil, false
	}

	views := make([]SpanView, len(spans))
	present := make(map[string]bool, len(spans))
	for i, span := range spans {
		views[i] = span.View()
		present[span.SpanID] = true
	}

	children := make(map[string][]SpanView)
	var roots []SpanView
	for _, v := range views {
		if v.ParentSpanID == "" || !present[v.ParentSpanID] {
			roots = append(roots, v)
			continue
		}
		children[v.ParentSpanID] = append(children[v.ParentSpanID], v)
	}

	var build func(v SpanView) *SpanNode
	build = func(v SpanView) *SpanNode {
		node := &SpanNode{Span: v, Children: []*SpanNode{}}
		for _, child := range children[v.SpanID] {
			node.Children = append(node.Children, build(child))
		}
		return node
	}

	a := &TraceAnalysis{
		TraceID:    traceID,
		TotalSpans: len(views),
		Tree:       make([]*SpanNode, 0, len(roots)),
		Timeline:   make([]TimelineEntry, 0, len(views)),
	}
	for _, root := range roots {
		a.Tree = append(a.Tree, build(root))
	}

	for i, v := range views {
		if spans[i].HasError() {
			a.ErrorSpans++
		}
		a.TotalDuration = max(a.TotalDuration, v.Duration)

		end := v.StartTime
		if v.EndTime != nil {
			end = *v.EndTime
		}
		a.Timeline = append(a.Timeline, TimelineEntry{
			SpanID:        v.SpanID,
			OperationName: v.OperationName,
			StartTime:     v.StartTime,
			EndTime:       end,
			Duration:      v.Duration,
		})
	}
	sort.SliceStable(a.Timeline, func(i, j int) bool {
		return a.Timeline[i].StartTime.Before(a.Timeline[j].StartTime)
	})
	a.SuccessRate = float64(a.TotalSpans-a.ErrorSpans) / float64(a.TotalSpans)

	return a, true
}
