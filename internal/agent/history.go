package agent

import (
	"context"
	"slices"

	"github.com/owulveryck/agentcore/internal/llm"
)

type historyKey struct{}

// WithHistory returns a context carrying the conversation that precedes the
// message an agent is about to answer. Agents send it to the model ahead of
// the message.
func WithHistory(ctx context.Context, turns []llm.Turn) context.Context {
	if len(turns) == 0 {
		return ctx
	}
	return context.WithValue(ctx, historyKey{}, slices.Clone(turns))
}

// HistoryFrom returns the turns set by WithHistory, nil when there are none.
func HistoryFrom(ctx context.Context) []llm.Turn {
	turns, _ := ctx.Value(historyKey{}).([]llm.Turn)
	return turns
}
