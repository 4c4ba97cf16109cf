package observability

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// Kind is the type of a metric.
type Kind string

const (
	KindCounter   Kind = "counter"
	KindGauge     Kind = "gauge"
	KindHistogram Kind = "histogram"
	KindTimer     Kind = "timer"
)

// IsDistribution reports whether summaries of this kind carry statistics.
func (k Kind) IsDistribution() bool {
	return k == KindHistogram || k == KindTimer
}

// Labels is a set of metric labels.
type Labels map[string]string

const (
	// SummaryWindow is the number of most recent samples a summary covers.
	SummaryWindow = 100
	// DefaultRetention is the number of samples kept per metric name.
	DefaultRetention = 1000
)

// Sample is a single recorded metric value.
type Sample struct {
	Name      string    `json:"name"`
	Kind      Kind      `json:"type"`
	Value     float64   `json:"value"`
	Labels    Labels    `json:"labels,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Distribution holds the statistics of histogram and timer summaries.
type Distribution struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

// Summary aggregates the most recent samples of a metric name across all
// label combinations. Distribution is only set for histograms and timers.
type Summary struct {
	Name      string    `json:"name"`
	Type      Kind      `json:"type"`
	Count     int       `json:"count"`
	Latest    float64   `json:"latest"`
	Timestamp time.Time `json:"timestamp"`
	*Distribution
}

// Sum is the total of the summarized window for distributions.
func (s Summary) Sum() float64 {
	if s.Distribution == nil {
		return 0
	}
	return s.Avg * float64(s.Count)
}

// MetricsCollector records counters, gauges, histograms and timers keyed by
// name and label set, and computes summaries over recent samples.
type MetricsCollector struct {
	logger      *slog.Logger
	instruments *Instruments
	retention   int

	mu       sync.Mutex
	names    []string
	kinds    map[string]Kind
	samples  map[string][]Sample
	counters map[string]float64
	gauges   map[string]float64
	values   map[string][]float64
}

// CollectorOption configures a MetricsCollector.
type CollectorOption func(*MetricsCollector)

// WithRetention bounds the samples kept per metric name. Values below the
// summary window are raised to it.
func WithRetention(n int) CollectorOption {
	return func(m *MetricsCollector) {
		if n < SummaryWindow {
			n = SummaryWindow
		}
		m.retention = n
	}
}

// WithInstruments mirrors every sample into OpenTelemetry instruments.
func WithInstruments(instruments *Instruments) CollectorOption {
	return func(m *MetricsCollector) { m.instruments = instruments }
}

// WithCollectorLogger sets the logger used to report rejected samples.
func WithCollectorLogger(logger *slog.Logger) CollectorOption {
	return func(m *MetricsCollector) { m.logger = logger }
}

func NewMetricsCollector(opts ...CollectorOption) *MetricsCollector {
	m := &MetricsCollector{
		logger:    slog.Default(),
		retention: DefaultRetention,
		kinds:     make(map[string]Kind),
		samples:   make(map[string][]Sample),
		counters:  make(map[string]float64),
		gauges:    make(map[string]float64),
		values:    make(map[string][]float64),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Counter adds amount to the running total of (name, labels).
func (m *MetricsCollector) Counter(name string, amount float64, labels Labels) {
	m.record(name, KindCounter, amount, labels)
}

// Gauge sets the value of (name, labels).
func (m *MetricsCollector) Gauge(name string, value float64, labels Labels) {
	m.record(name, KindGauge, value, labels)
}

// Histogram appends a raw value to (name, labels).
func (m *MetricsCollector) Histogram(name string, value float64, labels Labels) {
	m.record(name, KindHistogram, value, labels)
}

// Timer appends a duration in seconds to (name, labels).
func (m *MetricsCollector) Timer(name string, seconds float64, labels Labels) {
	m.record(name, KindTimer, seconds, labels)
}

// Record dispatches to the method matching kind.
func (m *MetricsCollector) Record(kind Kind, name string, value float64, labels Labels) {
	m.record(name, kind, value, labels)
}

// StartTimer returns a function that records the elapsed time as a timer
// sample when called.
func (m *MetricsCollector) StartTimer(name string, labels Labels) func() {
	start := time.Now()
	return func() {
		m.Timer(name, time.Since(start).Seconds(), labels)
	}
}

// TimeOperation runs fn and records its duration whether or not it fails.
func (m *MetricsCollector) TimeOperation(name string, labels Labels, fn func() error) error {
	stop := m.StartTimer(name, labels)
	defer stop()
	return fn()
}

func (m *MetricsCollector) record(name string, kind Kind, value float64, labels Labels) {
	labels = copyLabels(labels)
	key := seriesKey(name, labels)
	now := time.Now()

	m.mu.Lock()
	if declared, ok := m.kinds[name]; ok && declared != kind {
		m.mu.Unlock()
		m.logger.Warn("Rejected metric sample with mismatched kind",
			"metric", name,
			"declared", string(declared),
			"recorded", string(kind),
		)
		return
	} else if !ok {
		m.kinds[name] = kind
		m.names = append(m.names, name)
	}

	sampleValue := value
	switch kind {
	case KindCounter:
		m.counters[key] += value
		sampleValue = m.counters[key]
	case KindGauge:
		m.gauges[key] = value
	case KindHistogram, KindTimer:
		m.values[key] = appendBounded(m.values[key], value, m.retention)
	}

	sample := Sample{Name: name, Kind: kind, Value: sampleValue, Labels: labels, Timestamp: now}
	samples := append(m.samples[name], sample)
	if len(samples) > m.retention {
		samples = append([]Sample(nil), samples[len(samples)-m.retention:]...)
	}
	m.samples[name] = samples
	m.mu.Unlock()

	if m.instruments != nil {
		m.instruments.Record(context.Background(), name, kind, value, labels)
	}
}

// Value returns the current value of a counter or gauge series.
func (m *MetricsCollector) Value(name string, labels Labels) (float64, bool) {
	key := seriesKey(name, labels)

	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.kinds[name] {
	case KindCounter:
		v, ok := m.counters[key]
		return v, ok
	case KindGauge:
		v, ok := m.gauges[key]
		return v, ok
	}
	return 0, false
}

// Total sums a counter or gauge over every label combination of name.
func (m *MetricsCollector) Total(name string) float64 {
	prefix := name + ":{"

	m.mu.Lock()
	defer m.mu.Unlock()

	var series map[string]float64
	switch m.kinds[name] {
	case KindCounter:
		series = m.counters
	case KindGauge:
		series = m.gauges
	default:
		return 0
	}
	var total float64
	for key, v := range series {
		if strings.HasPrefix(key, prefix) {
			total += v
		}
	}
	return total
}

// Values returns a copy of the raw values of a histogram or timer series.
func (m *MetricsCollector) Values(name string, labels Labels) []float64 {
	key := seriesKey(name, labels)

	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]float64(nil), m.values[key]...)
}

// Kind returns the declared kind of a metric name.
func (m *MetricsCollector) Kind(name string) (Kind, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.kinds[name]
	return k, ok
}

// Names returns every metric name in discovery order.
func (m *MetricsCollector) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.names...)
}

// Summary aggregates the last SummaryWindow samples recorded under name.
func (m *MetricsCollector) Summary(name string) (Summary, bool) {
	m.mu.Lock()
	samples := m.samples[name]
	if len(samples) > SummaryWindow {
		samples = samples[len(samples)-SummaryWindow:]
	}
	window := append([]Sample(nil), samples...)
	m.mu.Unlock()

	if len(window) == 0 {
		return Summary{}, false
	}
	return summarize(name, window), true
}

// All returns the summary of every metric name.
func (m *MetricsCollector) All() map[string]Summary {
	out := make(map[string]Summary)
	for _, name := range m.Names() {
		if s, ok := m.Summary(name); ok {
			out[name] = s
		}
	}
	return out
}

func summarize(name string, window []Sample) Summary {
	last := window[len(window)-1]
	s := Summary{
		Name:      name,
		Type:      last.Kind,
		Count:     len(window),
		Latest:    last.Value,
		Timestamp: last.Timestamp,
	}
	if !last.Kind.IsDistribution() {
		return s
	}

	values := make([]float64, len(window))
	for i, sample := range window {
		values[i] = sample.Value
	}
	s.Distribution = distribution(values)
	return s
}

func distribution(values []float64) *Distribution {
	d := &Distribution{}
	if len(values) == 0 {
		return d
	}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	var total float64
	for _, v := range sorted {
		total += v
	}
	d.Min = sorted[0]
	d.Max = sorted[len(sorted)-1]
	d.Avg = total / float64(len(sorted))
	d.P50 = percentile(sorted, 50)
	d.P95 = percentile(sorted, 95)
	d.P99 = percentile(sorted, 99)
	return d
}

// percentile indexes a sorted slice at floor(p/100*n), clamped to the last
// index.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p / 100 * float64(len(sorted)))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// seriesKey identifies a (name, labels) series. encoding/json sorts map
// keys, so equal label sets always produce the same key.
func seriesKey(name string, labels Labels) string {
	if len(labels) == 0 {
		return name + ":{}"
	}
	b, err := json.Marshal(labels)
	if err != nil {
		return name + ":{}"
	}
	return name + ":" + string(b)
}

func copyLabels(labels Labels) Labels {
	if len(labels) == 0 {
		return nil
	}
	out := make(Labels, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}

func appendBounded(values []float64, v float64, limit int) []float64 {
	values = append(values, v)
	if len(values) > limit {
		values = append([]float64(nil), values[len(values)-limit:]...)
	}
	return values
}
