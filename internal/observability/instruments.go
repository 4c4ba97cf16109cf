package observability

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Instruments mirrors collector samples into OpenTelemetry instruments,
// created lazily the first time a metric name is seen.
type Instruments struct {
	meter  metric.Meter
	logger *slog.Logger

	mu         sync.Mutex
	counters   map[string]metric.Float64Counter
	gauges     map[string]metric.Float64Gauge
	histograms map[string]metric.Float64Histogram
}

// NewInstruments creates an instrument mirror on meter. A nil meter yields a
// no-op mirror.
func NewInstruments(meter metric.Meter, logger *slog.Logger) *Instruments {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter("agentcore")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Instruments{
		meter:      meter,
		logger:     logger,
		counters:   make(map[string]metric.Float64Counter),
		gauges:     make(map[string]metric.Float64Gauge),
		histograms: make(map[string]metric.Float64Histogram),
	}
}

// Record forwards a single sample. Instrument creation failures are logged
// outside the lock and the sample is dropped from the mirror only.
func (i *Instruments) Record(ctx context.Context, name string, kind Kind, value float64, labels Labels) {
	opt := metric.WithAttributes(labelAttributes(labels)...)

	var err error
	switch kind {
	case KindCounter:
		var c metric.Float64Counter
		if c, err = i.counter(name); err == nil {
			c.Add(ctx, value, opt)
		}
	case KindGauge:
		var g metric.Float64Gauge
		if g, err = i.gauge(name); err == nil {
			g.Record(ctx, value, opt)
		}
	case KindHistogram, KindTimer:
		var h metric.Float64Histogram
		if h, err = i.histogram(name, kind); err == nil {
			h.Record(ctx, value, opt)
		}
	}
	if err != nil {
		i.logger.Warn("Failed to create instrument", "metric", name, "kind", string(kind), "error", err)
	}
}

func (i *Instruments) counter(name string) (metric.Float64Counter, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if c, ok := i.counters[name]; ok {
		return c, nil
	}
	c, err := i.meter.Float64Counter(instrumentName(name),
		metric.WithDescription("agentcore counter "+name),
	)
	if err != nil {
		return nil, err
	}
	i.counters[name] = c
	return c, nil
}

func (i *Instruments) gauge(name string) (metric.Float64Gauge, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if g, ok := i.gauges[name]; ok {
		return g, nil
	}
	g, err := i.meter.Float64Gauge(instrumentName(name),
		metric.WithDescription("agentcore gauge "+name),
	)
	if err != nil {
		return nil, err
	}
	i.gauges[name] = g
	return g, nil
}

func (i *Instruments) histogram(name string, kind Kind) (metric.Float64Histogram, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if h, ok := i.histograms[name]; ok {
		return h, nil
	}
	opts := []metric.Float64HistogramOption{
		metric.WithDescription("agentcore " + string(kind) + " " + name),
	}
	if kind == KindTimer {
		opts = append(opts, metric.WithUnit("s"))
	}
	h, err := i.meter.Float64Histogram(instrumentName(name), opts...)
	if err != nil {
		return nil, err
	}
	i.histograms[name] = h
	return h, nil
}

func labelAttributes(labels Labels) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(labels))
	for k, v := range labels {
		attrs = append(attrs, attribute.String(k, v))
	}
	return attrs
}

// instrumentName maps a metric name onto the OpenTelemetry instrument name
// grammar: a leading letter followed by letters, digits, '_', '.', '-', '/'.
func instrumentName(name string) string {
	var b strings.Builder
	for idx, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case idx > 0 && (r >= '0' && r <= '9' || r == '_' || r == '.' || r == '-' || r == '/'):
			b.WriteRune(r)
		case idx == 0:
			b.WriteString("m_")
			if r >= '0' && r <= '9' {
				b.WriteRune(r)
			}
		default:
			b.WriteRune('_')
		}
	}
	out := b.String()
	if out == "" {
		return "unnamed"
	}
	if len(out) > 255 {
		out = out[:255]
	}
	return out
}
