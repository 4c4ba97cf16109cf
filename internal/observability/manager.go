package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"
)

// DefaultSampleInterval is the period of the background sampler.
const DefaultSampleInterval = 10 * time.Second

// System gauge names published by the sampler.
const (
	MetricActiveAgents = "system.active_agents"
	MetricActiveTraces = "system.active_traces"
	MetricTotalSpans   = "system.total_spans"
	MetricGoroutines   = "system.goroutines"
	MetricMemoryAlloc  = "system.memory_alloc_bytes"
)

var (
	ErrAlreadyStarted     = errors.New("observability manager already started")
	ErrUnsupportedFormat  = errors.New("unsupported export format")
	ErrEmptyDashboardName = errors.New("dashboard name is required")
	ErrEmptyAlertName     = errors.New("alert rule name is required")
)

// Manager composes a Tracer and a MetricsCollector, owns the per-agent
// observers and runs the periodic sampler and alert rules.
type Manager struct {
	tracer   *Tracer
	metrics  *MetricsCollector
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time

	mu        sync.RWMutex
	observers map[string]*AgentObserver

	alertMu sync.Mutex
	alerts  []*alertRule

	dashMu     sync.RWMutex
	dashboards map[string]Dashboard

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

func WithManagerTracer(t *Tracer) ManagerOption {
	return func(m *Manager) { m.tracer = t }
}

func WithManagerMetrics(c *MetricsCollector) ManagerOption {
	return func(m *Manager) { m.metrics = c }
}

func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = logger }
}

// WithSampleInterval sets the sampler period. Non-positive values keep the
// default.
func WithSampleInterval(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithClock replaces the wall clock used for alert cooldowns.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		logger:     slog.Default(),
		interval:   DefaultSampleInterval,
		now:        time.Now,
		observers:  make(map[string]*AgentObserver),
		dashboards: make(map[string]Dashboard),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.tracer == nil {
		m.tracer = NewTracer(nil, m.logger)
	}
	if m.metrics == nil {
		m.metrics = NewMetricsCollector(WithCollectorLogger(m.logger))
	}
	return m
}

func (m *Manager) Tracer() *Tracer {
	return m.tracer
}

func (m *Manager) Metrics() *MetricsCollector {
	return m.metrics
}

func (m *Manager) Logger() *slog.Logger {
	return m.logger
}

// Observer returns the cached observer of agentID, creating it on first use.
func (m *Manager) Observer(agentID string) *AgentObserver {
	m.mu.RLock()
	o, ok := m.observers[agentID]
	m.mu.RUnlock()
	if ok {
		return o
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.observers[agentID]; ok {
		return o
	}
	o = newAgentObserver(agentID, m.tracer, m.metrics, m.logger)
	m.observers[agentID] = o
	return o
}

// ObserverCount is the number of agents observed so far.
func (m *Manager) ObserverCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.observers)
}

// Start launches the background sampler. It runs until ctx is done or
// Shutdown is called.
func (m *Manager) Start(ctx context.Context) error {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if m.done != nil {
		return ErrAlreadyStarted
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	go m.run(ctx, m.done)

	m.logger.InfoContext(ctx, "Observability sampler started", "interval", m.interval)
	return nil
}

func (m *Manager) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sample(ctx)
		}
	}
}

// Shutdown stops the sampler and waits for it to exit or for ctx to end.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.runMu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.runMu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		m.logger.InfoContext(ctx, "Observability sampler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sample publishes the system gauges and evaluates the alert rules once.
func (m *Manager) Sample(ctx context.Context) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	m.metrics.Gauge(MetricActiveAgents, float64(m.ObserverCount()), nil)
	m.metrics.Gauge(MetricActiveTraces, float64(m.tracer.TraceCount()), nil)
	m.metrics.Gauge(MetricTotalSpans, float64(m.tracer.SpanCount()), nil)
	m.metrics.Gauge(MetricGoroutines, float64(runtime.NumGoroutine()), nil)
	m.metrics.Gauge(MetricMemoryAlloc, float64(mem.Alloc), nil)

	m.CheckAlerts(ctx)
}

// HealthReport is the overall health derived from agent error rate and
// response time.
type HealthReport struct {
	Score            float64      `json:"health_score"`
	Status           HealthStatus `json:"status"`
	ErrorRate        float64      `json:"error_rate"`
	AvgResponseTime  float64      `json:"avg_response_time"`
	ActiveAgents     int          `json:"active_agents"`
	TotalTraces      int          `json:"total_traces"`
	MetricsCollected int          `json:"metrics_collected"`
	Timestamp        time.Time    `json:"timestamp"`
}

// Health scores the system as 100 - 50*error_rate - min(avg_response/10, 50),
// floored at zero. Scores above 80 are healthy, above 50 degraded.
func (m *Manager) Health() HealthReport {
	started := m.metrics.Total(MetricOperationsStarted)
	errs := m.metrics.Total(MetricOperationsErrors)

	report := HealthReport{
		ActiveAgents:     m.ObserverCount(),
		TotalTraces:      m.tracer.TraceCount(),
		MetricsCollected: len(m.metrics.Names()),
		Timestamp:        m.now(),
	}
	if errs > 0 {
		report.ErrorRate = errs / max(started, 1)
	}
	if s, ok := m.metrics.Summary(MetricResponseTime); ok && s.Distribution != nil {
		report.AvgResponseTime = s.Avg
	}

	score := 100 - report.ErrorRate*50 - min(report.AvgResponseTime/10, 50)
	report.Score = max(score, 0)

	switch {
	case report.Score > 80:
		report.Status = HealthStatusHealthy
	case report.Score > 50:
		report.Status = HealthStatusDegraded
	default:
		report.Status = HealthStatusUnhealthy
	}
	return report
}

// Check implements HealthChecker.
func (m *Manager) Check(ctx context.Context) HealthCheck {
	start := time.Now()
	report := m.Health()
	status := report.Status
	if status == HealthStatusDegraded {
		status = HealthStatusHealthy
	}
	return HealthCheck{
		Name:        "observability",
		Status:      status,
		Message:     fmt.Sprintf("%s, score %.1f", report.Status, report.Score),
		LastChecked: start,
		Duration:    time.Since(start).String(),
	}
}
