package observability

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// Export formats.
const (
	FormatPrometheus = "prometheus"
	FormatJSON       = "json"
)

// Export renders every metric summary. Histograms and timers are exported as
// Prometheus summaries, which carry the _count and _sum series.
func (m *Manager) Export(format string) (string, error) {
	switch format {
	case FormatPrometheus:
		return m.exportPrometheus()
	case FormatJSON:
		b, err := json.MarshalIndent(m.metrics.All(), "", "  ")
		if err != nil {
			return "", fmt.Errorf("encode metrics: %w", err)
		}
		return string(b), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

func (m *Manager) exportPrometheus() (string, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(m.Collector()); err != nil {
		return "", fmt.Errorf("register summary collector: %w", err)
	}
	families, err := reg.Gather()
	if err != nil {
		return "", fmt.Errorf("gather metrics: %w", err)
	}

	var buf bytes.Buffer
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(&buf, mf); err != nil {
			return "", fmt.Errorf("encode %s: %w", mf.GetName(), err)
		}
	}
	return buf.String(), nil
}

// Collector exposes the metric summaries as a Prometheus collector.
func (m *Manager) Collector() prometheus.Collector {
	return &summaryCollector{metrics: m.metrics}
}

type summaryCollector struct {
	metrics *MetricsCollector
}

// Describe sends nothing, which registers the collector as unchecked: the
// metric set grows as new names are recorded.
func (c *summaryCollector) Describe(chan<- *prometheus.Desc) {}

func (c *summaryCollector) Collect(ch chan<- prometheus.Metric) {
	summaries := c.metrics.All()
	names := make([]string, 0, len(summaries))
	for name := range summaries {
		names = append(names, name)
	}
	sort.Strings(names)

	seen := make(map[string]bool, len(names))
	for _, name := range names {
		s := summaries[name]
		promName := PrometheusName(name)
		if promName == "" || seen[promName] {
			continue
		}
		seen[promName] = true

		desc := prometheus.NewDesc(promName, fmt.Sprintf("%s %s metric", name, s.Type), nil, nil)

		var (
			metric prometheus.Metric
			err    error
		)
		switch {
		case s.Type == KindCounter:
			metric, err = prometheus.NewConstMetric(desc, prometheus.CounterValue, s.Latest)
		case s.Type.IsDistribution() && s.Distribution != nil:
			metric, err = prometheus.NewConstSummary(desc, uint64(s.Count), s.Sum(), map[float64]float64{
				0.5:  s.P50,
				0.95: s.P95,
				0.99: s.P99,
			})
		default:
			metric, err = prometheus.NewConstMetric(desc, prometheus.GaugeValue, s.Latest)
		}
		if err != nil {
			ch <- prometheus.NewInvalidMetric(desc, err)
			continue
		}
		ch <- metric
	}
}

// PrometheusName maps a metric name onto the Prometheus name grammar.
func PrometheusName(name string) string {
	var b strings.Builder
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_', r == ':':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				b.WriteRune('_')
			}
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
