package observability

import (
	"context"
	"fmt"
	"time"
)

// AlertCooldown is the minimum time between two triggers of the same rule.
const AlertCooldown = 60 * time.Second

// AlertCondition is a side-effect-free predicate over the current metric
// summaries.
type AlertCondition func(summaries map[string]Summary) bool

type alertRule struct {
	name      string
	condition AlertCondition
	action    func()
	lastFired time.Time
}

// AddAlertRule registers a rule evaluated after every sample.
func (m *Manager) AddAlertRule(name string, condition AlertCondition, action func()) error {
	if name == "" {
		return ErrEmptyAlertName
	}
	if condition == nil || action == nil {
		return fmt.Errorf("alert rule %q: condition and action are required", name)
	}

	m.alertMu.Lock()
	defer m.alertMu.Unlock()
	m.alerts = append(m.alerts, &alertRule{name: name, condition: condition, action: action})
	return nil
}

// CheckAlerts evaluates every rule against the current summaries. A rule
// fires at most once per AlertCooldown. A panicking rule is logged and the
// remaining rules still run.
func (m *Manager) CheckAlerts(ctx context.Context) {
	summaries := m.metrics.All()

	m.alertMu.Lock()
	rules := append([]*alertRule(nil), m.alerts...)
	m.alertMu.Unlock()

	for _, rule := range rules {
		m.evaluate(ctx, rule, summaries)
	}
}

func (m *Manager) evaluate(ctx context.Context, rule *alertRule, summaries map[string]Summary) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.ErrorContext(ctx, "Alert rule error", "rule", rule.name, "error", fmt.Sprint(r))
		}
	}()

	if !rule.condition(summaries) {
		return
	}

	now := m.now()
	m.alertMu.Lock()
	if !rule.lastFired.IsZero() && now.Sub(rule.lastFired) <= AlertCooldown {
		m.alertMu.Unlock()
		return
	}
	rule.lastFired = now
	m.alertMu.Unlock()

	rule.action()
	m.logger.WarnContext(ctx, "Alert triggered", "rule", rule.name)
}
