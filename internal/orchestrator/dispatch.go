package orchestrator

import (
	"context"
	"strings"

	"github.com/owulveryck/agentcore/internal/agent"
	"github.com/owulveryck/agentcore/internal/observability"
)

// Request selects a topology, the agents and the message to run. An empty
// AgentIDs means every registered agent; single mode uses the first one.
type Request struct {
	Mode          Mode
	AgentIDs      []string
	Message       agent.Message
	MaxIterations int
}

// Result holds the answers of a dispatch. Single and sequential produce at
// most one message.
type Result struct {
	Mode       Mode
	Messages   []agent.Message
	Iterations int
}

// Last returns the final answer, false when there is none.
func (r *Result) Last() (agent.Message, bool) {
	if r == nil || len(r.Messages) == 0 {
		return agent.Message{}, false
	}
	return r.Messages[len(r.Messages)-1], true
}

const metricDispatches = "orchestrator.dispatches"

// Dispatch runs req under its topology, inside a traced span when
// observability is on.
func (o *Orchestrator) Dispatch(ctx context.Context, req Request) (*Result, error) {
	mode := ModeSingle
	if req.Mode != "" {
		parsed, err := ParseMode(string(req.Mode))
		if err != nil {
			return nil, err
		}
		mode = parsed
	}

	ids := req.AgentIDs
	if len(ids) == 0 {
		ids = o.IDs()
	}
	if len(ids) == 0 {
		return nil, ErrNoAgents
	}

	if o.manager == nil {
		return o.dispatch(ctx, mode, ids, req)
	}

	o.manager.Metrics().Counter(metricDispatches, 1, observability.Labels{"mode": string(mode)})

	var result *Result
	tags := map[string]any{
		"mode":   string(mode),
		"agents": strings.Join(ids, ","),
	}
	err := o.manager.Tracer().Trace(ctx, "orchestrator.dispatch", tags, func(ctx context.Context, span *observability.Span) error {
		var err error
		result, err = o.dispatch(ctx, mode, ids, req)
		if result != nil {
			span.SetTag("responses", len(result.Messages))
		}
		return err
	})
	return result, err
}

func (o *Orchestrator) dispatch(ctx context.Context, mode Mode, ids []string, req Request) (*Result, error) {
	res := &Result{Mode: mode}

	switch mode {
	case ModeParallel:
		msgs, err := o.Parallel(ctx, ids, req.Message)
		if err != nil {
			return nil, err
		}
		res.Messages = msgs
		res.Iterations = 1
	case ModeSequential:
		runners, err := o.resolve(ids)
		if err != nil {
			return nil, err
		}
		if len(runners) == 0 {
			return res, nil
		}
		msg, err := o.Sequential(ctx, ids, req.Message)
		if err != nil {
			return nil, err
		}
		res.Messages = []agent.Message{msg}
		res.Iterations = 1
	case ModeLoop:
		msgs, iterations, err := o.Loop(ctx, ids, req.Message, req.MaxIterations)
		if err != nil {
			return nil, err
		}
		res.Messages = msgs
		res.Iterations = iterations
	default:
		msg, err := o.Single(ctx, ids[0], req.Message)
		if err != nil {
			return nil, err
		}
		if msg != nil {
			res.Messages = []agent.Message{*msg}
			res.Iterations = 1
		}
	}
	return res, nil
}
