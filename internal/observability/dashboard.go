package observability

import "time"

// Dashboard is a named selection of metrics with a free-form layout.
type Dashboard struct {
	Name      string         `json:"name"`
	Metrics   []string       `json:"metrics"`
	Layout    map[string]any `json:"layout"`
	CreatedAt time.Time      `json:"created_at"`
}

// DashboardData holds the current summaries of a dashboard's metrics.
// Metrics with no samples yet are absent from Data.
type DashboardData struct {
	Dashboard Dashboard          `json:"dashboard"`
	Data      map[string]Summary `json:"data"`
	Timestamp time.Time          `json:"timestamp"`
}

func defaultLayout() map[string]any {
	return map[string]any{"type": "grid", "columns": 2}
}

// CreateDashboard defines or replaces a dashboard.
func (m *Manager) CreateDashboard(name string, metricNames []string, layout map[string]any) error {
	if name == "" {
		return ErrEmptyDashboardName
	}
	if layout == nil {
		layout = defaultLayout()
	}

	m.dashMu.Lock()
	defer m.dashMu.Unlock()
	m.dashboards[name] = Dashboard{
		Name:      name,
		Metrics:   append([]string(nil), metricNames...),
		Layout:    layout,
		CreatedAt: m.now(),
	}
	return nil
}

// DashboardData reports false for an unknown dashboard.
func (m *Manager) DashboardData(name string) (*DashboardData, bool) {
	m.dashMu.RLock()
	d, ok := m.dashboards[name]
	m.dashMu.RUnlock()
	if !ok {
		return nil, false
	}

	data := &DashboardData{
		Dashboard: d,
		Data:      make(map[string]Summary, len(d.Metrics)),
		Timestamp: m.now(),
	}
	for _, metricName := range d.Metrics {
		if s, ok := m.metrics.Summary(metricName); ok {
			data.Data[metricName] = s
		}
	}
	return data, true
}

// Dashboards lists the dashboard names.
func (m *Manager) Dashboards() []string {
	m.dashMu.RLock()
	defer m.dashMu.RUnlock()

	names := make([]string, 0, len(m.dashboards))
	for name := range m.dashboards {
		names = append(names, name)
	}
	return names
}
