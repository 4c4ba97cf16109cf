// Package orchestrator runs registered agents under the single, parallel,
// sequential and loop topologies.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/owulveryck/agentcore/internal/agent"
	"github.com/owulveryck/agentcore/internal/observability"
)

// Runner answers a message. The error is reserved for failures that leave
// no answer at all, such as cancellation.
type Runner interface {
	ID() string
	Run(ctx context.Context, msg agent.Message) (agent.Message, error)
}

// executor is implemented by runners that report typed failures, such as
// *agent.Agent. Their failures are counted as operation errors.
type executor interface {
	Execute(ctx context.Context, msg agent.Message) agent.Result
}

// Orchestrator holds the runner registry. Unknown ids are skipped unless
// fail-fast is enabled.
type Orchestrator struct {
	manager  *observability.Manager
	logger   *slog.Logger
	defaults settings

	mu      sync.RWMutex
	runners map[string]Runner
	order   []string
}

func New(opts ...Option) *Orchestrator {
	o := &Orchestrator{
		logger: slog.Default(),
		defaults: settings{
			convergence:   DefaultConvergenceToken,
			maxIterations: DefaultMaxIterations,
		},
		runners: make(map[string]Runner),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Register adds r, replacing a runner with the same id in place.
func (o *Orchestrator) Register(r Runner) error {
	if r == nil || r.ID() == "" {
		return ErrInvalidAgent
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.runners[r.ID()]; !ok {
		o.order = append(o.order, r.ID())
	}
	o.runners[r.ID()] = r
	o.logger.Info("Registered agent", "agent_id", r.ID())
	return nil
}

func (o *Orchestrator) Runner(id string) (Runner, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	r, ok := o.runners[id]
	return r, ok
}

// IDs returns the registered ids in registration order.
func (o *Orchestrator) IDs() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]string(nil), o.order...)
}

func (o *Orchestrator) resolve(ids []string) ([]Runner, error) {
	runners := make([]Runner, 0, len(ids))
	for _, id := range ids {
		r, ok := o.Runner(id)
		if !ok {
			if o.defaults.failFast {
				return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, id)
			}
			o.logger.Debug("Skipping unknown agent", "agent_id", id)
			continue
		}
		runners = append(runners, r)
	}
	return runners, nil
}

// run executes r, inside an observer operation when observability is on.
func (o *Orchestrator) run(ctx context.Context, r Runner, msg agent.Message) (agent.Message, error) {
	if o.manager == nil {
		return invoke(ctx, r, msg)
	}

	var (
		out    agent.Message
		runErr error
	)
	observer := o.manager.Observer(r.ID())
	_ = observer.Operation(ctx, "process", map[string]any{"message_id": msg.ID}, func(ctx context.Context) error {
		if ex, ok := r.(executor); ok {
			res := ex.Execute(ctx, msg)
			out = res.Message
			if res.Failure != nil {
				if res.Failure.Reason == agent.ReasonCanceled {
					runErr = res.Failure
				}
				return res.Failure
			}
			return nil
		}
		out, runErr = r.Run(ctx, msg)
		return runErr
	})
	return out, runErr
}

func invoke(ctx context.Context, r Runner, msg agent.Message) (agent.Message, error) {
	if ex, ok := r.(executor); ok {
		res := ex.Execute(ctx, msg)
		if res.Failure != nil && res.Failure.Reason == agent.ReasonCanceled {
			return res.Message, res.Failure
		}
		return res.Message, nil
	}
	return r.Run(ctx, msg)
}

// Single delivers msg to one agent. It returns nil without error when the id
// is unknown and fail-fast is off.
func (o *Orchestrator) Single(ctx context.Context, id string, msg agent.Message) (*agent.Message, error) {
	runners, err := o.resolve([]string{id})
	if err != nil || len(runners) == 0 {
		return nil, err
	}
	out, err := o.run(ctx, runners[0], msg)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Parallel delivers msg to every agent concurrently and waits for all. A
// runner that fails or panics is left out; the others are returned in the
// order of ids.
func (o *Orchestrator) Parallel(ctx context.Context, ids []string, msg agent.Message) ([]agent.Message, error) {
	runners, err := o.resolve(ids)
	if err != nil {
		return nil, err
	}

	results := make([]*agent.Message, len(runners))
	var g errgroup.Group
	if o.defaults.concurrency > 0 {
		g.SetLimit(o.defaults.concurrency)
	}

	for i, r := range runners {
		g.Go(func() error {
			defer func() {
				if rec := recover(); rec != nil {
					o.logger.ErrorContext(ctx, "Agent panicked in parallel run",
						"agent_id", r.ID(),
						"panic", fmt.Sprint(rec),
					)
				}
			}()

			out, err := o.run(observability.WithExecutionContext(ctx), r, msg)
			if err != nil {
				o.logger.WarnContext(ctx, "Agent dropped from parallel run",
					"agent_id", r.ID(),
					"error", err,
				)
				return nil
			}
			results[i] = &out
			return nil
		})
	}
	_ = g.Wait()

	collected := make([]agent.Message, 0, len(results))
	for _, m := range results {
		if m != nil {
			collected = append(collected, *m)
		}
	}
	return collected, nil
}

// Sequential feeds each agent's answer to the next one and returns the last
// answer, or msg when no agent ran.
func (o *Orchestrator) Sequential(ctx context.Context, ids []string, msg agent.Message) (agent.Message, error) {
	runners, err := o.resolve(ids)
	if err != nil {
		return agent.Message{}, err
	}

	current := msg
	for _, r := range runners {
		current, err = o.run(ctx, r, current)
		if err != nil {
			return current, fmt.Errorf("agent %s: %w", r.ID(), err)
		}
	}
	return current, nil
}

// Loop repeats sequential passes, collecting every answer, until the last
// answer of a pass contains the convergence token or maxIterations passes
// have run. A non-positive maxIterations uses the orchestrator default.
func (o *Orchestrator) Loop(ctx context.Context, ids []string, msg agent.Message, maxIterations int) ([]agent.Message, int, error) {
	if maxIterations <= 0 {
		maxIterations = o.defaults.maxIterations
	}
	runners, err := o.resolve(ids)
	if err != nil {
		return nil, 0, err
	}
	if len(runners) == 0 {
		return nil, 0, nil
	}

	var (
		results    []agent.Message
		iterations int
	)
	current := msg
	for iterations < maxIterations {
		iterations++
		for _, r := range runners {
			current, err = o.run(ctx, r, current)
			if err != nil {
				return results, iterations, fmt.Errorf("agent %s: %w", r.ID(), err)
			}
			results = append(results, current)
		}
		if strings.Contains(current.Content, o.defaults.convergence) {
			o.logger.DebugContext(ctx, "Loop converged", "iterations", iterations)
			break
		}
	}
	return results, iterations, nil
}
