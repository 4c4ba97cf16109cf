package observability

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestObserverIsCached(t *testing.T) {
	m := NewManager()

	a := m.Observer("agent-a")
	assert.Same(t, a, m.Observer("agent-a"))
	assert.NotSame(t, a, m.Observer("agent-b"))
	assert.Equal(t, 2, m.ObserverCount())
}

func TestObserverOperationMetrics(t *testing.T) {
	m := NewManager()
	o := m.Observer("agent-a")

	require.NoError(t, o.Operation(context.Background(), "process", nil, func(ctx context.Context) error {
		span := SpanFromContext(ctx)
		require.NotNil(t, span)
		assert.Equal(t, "agent-a.process", span.OperationName)
		agentID, _ := span.Tag(TagAgentID)
		assert.Equal(t, "agent-a", agentID)
		return nil
	}))

	boom := errors.New("boom")
	err := o.Operation(context.Background(), "process", nil, func(ctx context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)

	labels := Labels{TagAgentID: "agent-a", "operation": "process"}
	started, _ := m.Metrics().Value(MetricOperationsStarted, labels)
	completed, _ := m.Metrics().Value(MetricOperationsCompleted, labels)
	failed, _ := m.Metrics().Value(MetricOperationsErrors, labels)
	assert.Equal(t, 2.0, started)
	assert.Equal(t, 1.0, completed)
	assert.Equal(t, 1.0, failed)

	rt, ok := m.Metrics().Summary(MetricResponseTime)
	require.True(t, ok)
	assert.Equal(t, 2, rt.Count)

	o.RecordMetric(KindGauge, "agent.queue_depth", 3, nil)
	depth, ok := m.Metrics().Value("agent.queue_depth", Labels{TagAgentID: "agent-a"})
	require.True(t, ok)
	assert.Equal(t, 3.0, depth)
}

func TestSamplePublishesSystemGauges(t *testing.T) {
	m := NewManager()
	m.Observer("a")
	m.Tracer().StartSpan(context.Background(), "op")

	m.Sample(context.Background())

	for _, name := range []string{MetricActiveAgents, MetricActiveTraces, MetricTotalSpans, MetricGoroutines, MetricMemoryAlloc} {
		_, ok := m.Metrics().Summary(name)
		assert.True(t, ok, name)
	}
	agents, _ := m.Metrics().Value(MetricActiveAgents, nil)
	assert.Equal(t, 1.0, agents)
	spans, _ := m.Metrics().Value(MetricTotalSpans, nil)
	assert.Equal(t, 1.0, spans)
}

func TestAlertCooldown(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	m := NewManager(WithClock(clock.Now))

	var fired int
	require.NoError(t, m.AddAlertRule("always", func(map[string]Summary) bool { return true }, func() { fired++ }))

	m.CheckAlerts(context.Background())
	m.CheckAlerts(context.Background())
	assert.Equal(t, 1, fired)

	clock.Advance(30 * time.Second)
	m.CheckAlerts(context.Background())
	assert.Equal(t, 1, fired)

	clock.Advance(31 * time.Second)
	m.CheckAlerts(context.Background())
	assert.Equal(t, 2, fired)
}

func TestAlertRuleSeesSummaries(t *testing.T) {
	m := NewManager()
	m.Metrics().Counter("errors", 5, nil)

	var fired bool
	require.NoError(t, m.AddAlertRule("many errors", func(s map[string]Summary) bool {
		return s["errors"].Latest > 3
	}, func() { fired = true }))

	m.CheckAlerts(context.Background())
	assert.True(t, fired)
}

func TestPanickingRuleDoesNotStopOthers(t *testing.T) {
	m := NewManager()

	require.NoError(t, m.AddAlertRule("bad", func(map[string]Summary) bool { panic("bad rule") }, func() {}))
	var fired bool
	require.NoError(t, m.AddAlertRule("good", func(map[string]Summary) bool { return true }, func() { fired = true }))

	assert.NotPanics(t, func() { m.Sample(context.Background()) })
	assert.True(t, fired)
}

func TestAddAlertRuleValidation(t *testing.T) {
	m := NewManager()
	assert.ErrorIs(t, m.AddAlertRule("", func(map[string]Summary) bool { return true }, func() {}), ErrEmptyAlertName)
	assert.Error(t, m.AddAlertRule("nil", nil, nil))
}

func TestSamplerLifecycle(t *testing.T) {
	m := NewManager(WithSampleInterval(5 * time.Millisecond))

	var ticks atomic.Int32
	require.NoError(t, m.AddAlertRule("tick", func(map[string]Summary) bool {
		ticks.Add(1)
		return false
	}, func() {}))

	require.NoError(t, m.Start(context.Background()))
	assert.ErrorIs(t, m.Start(context.Background()), ErrAlreadyStarted)

	assert.Eventually(t, func() bool { return ticks.Load() >= 2 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))
	require.NoError(t, m.Shutdown(ctx))

	// the sampler can be started again after shutdown
	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, m.Shutdown(ctx))
}

func TestExportPrometheus(t *testing.T) {
	m := NewManager()
	for i := 0; i < 3; i++ {
		m.Metrics().Counter("agent.operations.started", 1, nil)
	}
	for _, v := range []float64{10, 20, 30, 40} {
		m.Metrics().Histogram("latency", v, nil)
	}
	m.Metrics().Gauge("system.goroutines", 7, nil)

	out, err := m.Export(FormatPrometheus)
	require.NoError(t, err)

	assert.Contains(t, out, "# TYPE agent_operations_started counter")
	assert.Contains(t, out, "agent_operations_started 3")
	assert.Contains(t, out, "# TYPE latency summary")
	assert.Contains(t, out, "latency_sum 100")
	assert.Contains(t, out, "latency_count 4")
	assert.Contains(t, out, `latency{quantile="0.5"} 30`)
	assert.Contains(t, out, "system_goroutines 7")
}

func TestExportJSON(t *testing.T) {
	m := NewManager()
	m.Metrics().Counter("x", 2, nil)

	out, err := m.Export(FormatJSON)
	require.NoError(t, err)

	var decoded map[string]map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, 2.0, decoded["x"]["latest"])
	assert.Equal(t, "counter", decoded["x"]["type"])
}

func TestExportUnsupportedFormat(t *testing.T) {
	_, err := NewManager().Export("xml")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestPrometheusName(t *testing.T) {
	assert.Equal(t, "agent_response_time", PrometheusName("agent.response_time"))
	assert.Equal(t, "a2a_messages", PrometheusName("a2a-messages"))
	assert.Equal(t, "_1x", PrometheusName("1x"))
}

func TestTraceAnalysis(t *testing.T) {
	m := NewManager()
	tracer := m.Tracer()

	ctx, root := tracer.StartSpan(context.Background(), "dispatch")
	_, ok1 := tracer.StartSpan(ctx, "agent-a.process")
	_, failed := tracer.StartSpan(ctx, "agent-b.process")
	failed.RecordError(errors.New("backend down"))
	tracer.FinishSpan(failed)
	tracer.FinishSpan(ok1)
	tracer.FinishSpan(root)

	a, ok := m.TraceAnalysis(root.TraceID)
	require.True(t, ok)
	assert.Equal(t, 3, a.TotalSpans)
	assert.Equal(t, 1, a.ErrorSpans)
	assert.InDelta(t, 2.0/3.0, a.SuccessRate, 1e-9)

	require.Len(t, a.Tree, 1)
	assert.Equal(t, root.SpanID, a.Tree[0].Span.SpanID)
	assert.Len(t, a.Tree[0].Children, 2)

	require.Len(t, a.Timeline, 3)
	for i := 1; i < len(a.Timeline); i++ {
		assert.False(t, a.Timeline[i].StartTime.Before(a.Timeline[i-1].StartTime))
	}
	assert.GreaterOrEqual(t, a.TotalDuration, a.Timeline[1].Duration)

	_, ok = m.TraceAnalysis("unknown")
	assert.False(t, ok)
}

func TestDashboards(t *testing.T) {
	m := NewManager()
	m.Metrics().Counter("a", 1, nil)

	assert.ErrorIs(t, m.CreateDashboard("", nil, nil), ErrEmptyDashboardName)
	require.NoError(t, m.CreateDashboard("ops", []string{"a", "missing"}, nil))

	data, ok := m.DashboardData("ops")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"type": "grid", "columns": 2}, data.Dashboard.Layout)
	assert.Contains(t, data.Data, "a")
	assert.NotContains(t, data.Data, "missing")
	assert.Equal(t, []string{"ops"}, m.Dashboards())

	_, ok = m.DashboardData("nope")
	assert.False(t, ok)
}

func TestHealthScore(t *testing.T) {
	m := NewManager()
	assert.Equal(t, HealthStatusHealthy, m.Health().Status)
	assert.Equal(t, 100.0, m.Health().Score)

	m.Metrics().Counter(MetricOperationsStarted, 4, nil)
	m.Metrics().Counter(MetricOperationsErrors, 1, nil)
	report := m.Health()
	assert.Equal(t, 0.25, report.ErrorRate)
	assert.Equal(t, 87.5, report.Score)
	assert.Equal(t, HealthStatusHealthy, report.Status)

	m.Metrics().Timer(MetricResponseTime, 300, nil)
	report = m.Health()
	assert.Equal(t, 57.5, report.Score)
	assert.Equal(t, HealthStatusDegraded, report.Status)

	m.Metrics().Timer(MetricResponseTime, 700, nil)
	report = m.Health()
	assert.Equal(t, 37.5, report.Score)
	assert.Equal(t, HealthStatusUnhealthy, report.Status)
	check := m.Check(context.Background())
	assert.Equal(t, "observability", check.Name)
	assert.Equal(t, HealthStatusUnhealthy, check.Status)
	assert.Equal(t, "unhealthy, score 37.5", check.Message)
}
