package system

import (
	"cmp"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/owulveryck/agentcore/internal/agent"
)

var ErrNotExecuted = errors.New("agent has not executed any message")

// Evaluation scores an agent. Score is the success rate as a percentage.
type Evaluation struct {
	AgentID         string        `json:"agent_id"`
	Score           float64       `json:"score"`
	SuccessRate     float64       `json:"success_rate"`
	ErrorRate       float64       `json:"error_rate"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	TotalExecutions int           `json:"total_executions"`
}

// Evaluator keeps the latest evaluation of each agent.
type Evaluator struct {
	mu      sync.RWMutex
	results map[string]Evaluation
}

func NewEvaluator() *Evaluator {
	return &Evaluator{results: make(map[string]Evaluation)}
}

func (e *Evaluator) Evaluate(m agent.Metrics) Evaluation {
	ev := Evaluation{
		AgentID:         m.AgentID,
		SuccessRate:     m.SuccessRate(),
		ErrorRate:       m.ErrorRate(),
		TotalExecutions: m.ExecutionCount,
	}
	ev.Score = ev.SuccessRate * 100
	if m.ExecutionCount > 0 {
		ev.AvgResponseTime = m.Duration() / time.Duration(m.ExecutionCount)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.results[m.AgentID] = ev
	return ev
}

// Leaderboard lists evaluations by descending score, then agent id.
func (e *Evaluator) Leaderboard() []Evaluation {
	e.mu.RLock()
	board := make([]Evaluation, 0, len(e.results))
	for _, ev := range e.results {
		board = append(board, ev)
	}
	e.mu.RUnlock()

	slices.SortFunc(board, func(a, b Evaluation) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.AgentID, b.AgentID)
	})
	return board
}
