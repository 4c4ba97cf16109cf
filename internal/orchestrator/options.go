package orchestrator

import (
	"log/slog"

	"github.com/owulveryck/agentcore/internal/observability"
)

const (
	DefaultConvergenceToken = "CONVERGED"
	DefaultMaxIterations    = 5
)

type settings struct {
	failFast      bool
	convergence   string
	maxIterations int
	concurrency   int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithObservability wraps every agent run in an observer operation.
func WithObservability(m *observability.Manager) Option {
	return func(o *Orchestrator) { o.manager = m }
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithFailFast makes unknown agent ids an error instead of skipping them.
func WithFailFast(enabled bool) Option {
	return func(o *Orchestrator) { o.defaults.failFast = enabled }
}

// WithConvergenceToken sets the marker that ends a loop early.
func WithConvergenceToken(token string) Option {
	return func(o *Orchestrator) {
		if token != "" {
			o.defaults.convergence = token
		}
	}
}

// WithMaxIterations bounds loop passes. Non-positive values keep the default.
func WithMaxIterations(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.defaults.maxIterations = n
		}
	}
}

// WithConcurrencyLimit bounds parallel fan-out. Zero means unbounded.
func WithConcurrencyLimit(n int) Option {
	return func(o *Orchestrator) {
		if n >= 0 {
			o.defaults.concurrency = n
		}
	}
}
