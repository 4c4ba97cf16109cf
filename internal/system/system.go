// Package system owns the agent, tool and session registries and runs
// dispatches against them.
package system

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/owulveryck/agentcore/internal/a2a"
	"github.com/owulveryck/agentcore/internal/agent"
	"github.com/owulveryck/agentcore/internal/llm"
	"github.com/owulveryck/agentcore/internal/observability"
	"github.com/owulveryck/agentcore/internal/orchestrator"
	"github.com/owulveryck/agentcore/internal/session"
)

var (
	ErrUnknownAgent = errors.New("unknown agent")
	ErrUnknownTool  = errors.New("unknown tool")
	ErrEmptyTopic   = errors.New("topic is required")
)

// NoAgentsContent answers a dispatch when no agent is registered.
const NoAgentsContent = "No agents available"

const systemSender = "system"

// System is the entry point of a running agent deployment.
type System struct {
	manager      *observability.Manager
	logger       *slog.Logger
	orchestrator *orchestrator.Orchestrator
	sessions     *session.InMemoryStore
	channel      *a2a.Channel
	evaluator    *Evaluator

	mu     sync.RWMutex
	agents map[string]*agent.Agent
	order  []string
	tools  map[string]agent.Capability
}

type Option func(*options)

type options struct {
	manager  *observability.Manager
	logger   *slog.Logger
	store    *session.InMemoryStore
	orchOpts []orchestrator.Option
}

// WithObservability traces and measures every agent run with m.
func WithObservability(m *observability.Manager) Option {
	return func(o *options) { o.manager = m }
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

func WithStore(store *session.InMemoryStore) Option {
	return func(o *options) { o.store = store }
}

// WithOrchestratorOptions forwards options to the orchestrator.
func WithOrchestratorOptions(opts ...orchestrator.Option) Option {
	return func(o *options) { o.orchOpts = append(o.orchOpts, opts...) }
}

// New builds a System with the built-in tools registered.
func New(opts ...Option) *System {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.store == nil {
		o.store = session.NewInMemoryStore()
	}

	orchOpts := []orchestrator.Option{orchestrator.WithLogger(o.logger)}
	channelOpts := []a2a.Option{a2a.WithLogger(o.logger)}
	if o.manager != nil {
		orchOpts = append(orchOpts, orchestrator.WithObservability(o.manager))
		channelOpts = append(channelOpts, a2a.WithMetrics(o.manager.Metrics()))
	}
	orchOpts = append(orchOpts, o.orchOpts...)

	s := &System{
		manager:      o.manager,
		logger:       o.logger,
		orchestrator: orchestrator.New(orchOpts...),
		sessions:     o.store,
		channel:      a2a.NewChannel(channelOpts...),
		evaluator:    NewEvaluator(),
		agents:       make(map[string]*agent.Agent),
		tools:        make(map[string]agent.Capability),
	}
	s.tools["google_search"] = agent.NewSearchCapability()
	return s
}

func (s *System) Orchestrator() *orchestrator.Orchestrator { return s.orchestrator }
func (s *System) Sessions() *session.InMemoryStore         { return s.sessions }
func (s *System) Channel() *a2a.Channel                    { return s.channel }
func (s *System) Manager() *observability.Manager          { return s.manager }
func (s *System) Evaluator() *Evaluator                    { return s.evaluator }

// RegisterAgent adds a, replacing an agent with the same id.
func (s *System) RegisterAgent(a *agent.Agent) error {
	if a == nil {
		return orchestrator.ErrInvalidAgent
	}
	if err := s.orchestrator.Register(a); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[a.ID()]; !ok {
		s.order = append(s.order, a.ID())
	}
	s.agents[a.ID()] = a
	return nil
}

func (s *System) Agent(id string) (*agent.Agent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[id]
	return a, ok
}

// RegisterTool makes c available to AddToolToAgent, replacing a tool of the
// same name.
func (s *System) RegisterTool(c agent.Capability) error {
	if c == nil || c.Name() == "" {
		return agent.ErrMissingCapability
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tools[c.Name()] = c
	return nil
}

// AddToolToAgent gives a registered tool to a registered agent.
func (s *System) AddToolToAgent(agentID, toolName string) error {
	s.mu.RLock()
	a, agentOK := s.agents[agentID]
	tool, toolOK := s.tools[toolName]
	s.mu.RUnlock()

	switch {
	case !agentOK:
		return fmt.Errorf("%w: %s", ErrUnknownAgent, agentID)
	case !toolOK:
		return fmt.Errorf("%w: %s", ErrUnknownTool, toolName)
	}
	return a.AddCapability(tool)
}

// DispatchOption narrows a dispatch.
type DispatchOption func(*orchestrator.Request)

// WithAgents restricts the dispatch to ids, in that order.
func WithAgents(ids ...string) DispatchOption {
	return func(r *orchestrator.Request) { r.AgentIDs = ids }
}

// WithMaxIterations bounds a loop dispatch.
func WithMaxIterations(n int) DispatchOption {
	return func(r *orchestrator.Request) { r.MaxIterations = n }
}

// Dispatch records msg in the session, runs it under mode and records every
// answer as an agent_response episode. Agents see the earlier messages of
// the session as conversation history. Without agents it answers with a
// system message.
func (s *System) Dispatch(ctx context.Context, sessionID string, msg agent.Message, mode orchestrator.Mode, opts ...DispatchOption) (*orchestrator.Result, error) {
	mode, err := orchestrator.ParseMode(string(mode))
	if err != nil {
		return nil, err
	}
	bank, err := s.sessions.MemoryBank(sessionID)
	if err != nil {
		return nil, err
	}
	prior, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if err := s.appendMessages(sessionID, msg); err != nil {
		return nil, err
	}
	bank.AddEpisode(session.Episode{
		Type:      session.EpisodeUserMessage,
		Content:   msg.Content,
		SessionID: sessionID,
	})

	req := orchestrator.Request{Mode: mode, Message: msg}
	for _, opt := range opts {
		opt(&req)
	}

	ctx = agent.WithHistory(ctx, s.history(prior.Messages))
	res, err := s.orchestrator.Dispatch(ctx, req)
	if errors.Is(err, orchestrator.ErrNoAgents) {
		res = &orchestrator.Result{
			Mode:     req.Mode,
			Messages: []agent.Message{agent.NewMessage(NoAgentsContent, systemSender, msg.Sender)},
		}
		err = nil
	}
	if err != nil {
		return nil, err
	}

	for _, m := range res.Messages {
		bank.AddEpisode(session.Episode{
			Type:      session.EpisodeAgentResponse,
			Content:   m.Content,
			AgentID:   m.Sender,
			SessionID: sessionID,
		})
	}
	if err := s.appendMessages(sessionID, res.Messages...); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "Dispatch completed",
		"session_id", sessionID,
		"mode", string(res.Mode),
		"responses", len(res.Messages),
	)
	return res, nil
}

// history maps a session log onto conversation turns: answers of registered
// agents are model turns, system notices are dropped and everything else is
// a user turn.
func (s *System) history(msgs []agent.Message) []llm.Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()

	turns := make([]llm.Turn, 0, len(msgs))
	for _, m := range msgs {
		if m.Sender == systemSender {
			continue
		}
		role := llm.RoleUser
		if _, ok := s.agents[m.Sender]; ok {
			role = llm.RoleModel
		}
		turns = append(turns, llm.Turn{Role: role, Text: m.Content})
	}
	return turns
}

// ClearHistory empties the message log of the session. Its memory bank is
// kept.
func (s *System) ClearHistory(sessionID string) error {
	err := s.sessions.WithLock(sessionID, func(sess *session.Session) error {
		sess.Messages = nil
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Info("Session history cleared", "session_id", sessionID)
	return nil
}

// Subscribe registers a registered agent on an A2A topic.
func (s *System) Subscribe(agentID, topic string) error {
	if _, ok := s.Agent(agentID); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAgent, agentID)
	}
	if topic == "" {
		return ErrEmptyTopic
	}
	s.channel.Subscribe(agentID, topic)
	return nil
}

// Publish delivers msg to the subscribers of topic and returns how many
// mailboxes received it.
func (s *System) Publish(ctx context.Context, topic string, msg agent.Message) (int, error) {
	if topic == "" {
		return 0, ErrEmptyTopic
	}
	return s.channel.Publish(ctx, topic, msg), nil
}

// Messages drains the A2A mailbox of the agent.
func (s *System) Messages(agentID string) []agent.Message {
	return s.channel.Messages(agentID)
}

func (s *System) appendMessages(sessionID string, msgs ...agent.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	return s.sessions.WithLock(sessionID, func(sess *session.Session) error {
		sess.Messages = append(sess.Messages, msgs...)
		return nil
	})
}

// AgentReport is the execution summary of one agent.
type AgentReport struct {
	AgentID        string        `json:"agent_id"`
	State          agent.State   `json:"state"`
	ExecutionCount int           `json:"execution_count"`
	SuccessCount   int           `json:"success_count"`
	ErrorCount     int           `json:"error_count"`
	TotalTokens    int           `json:"total_tokens"`
	Duration       time.Duration `json:"duration"`
}

// AgentReport returns false when the agent is unknown or has not run yet.
func (s *System) AgentReport(id string) (AgentReport, bool) {
	a, ok := s.Agent(id)
	if !ok {
		return AgentReport{}, false
	}
	m, ok := a.Metrics()
	if !ok {
		return AgentReport{}, false
	}
	return AgentReport{
		AgentID:        id,
		State:          a.State(),
		ExecutionCount: m.ExecutionCount,
		SuccessCount:   m.SuccessCount,
		ErrorCount:     m.ErrorCount,
		TotalTokens:    m.TotalTokens,
		Duration:       m.Duration(),
	}, true
}

// Status is a snapshot of the registries.
type Status struct {
	TotalAgents    int                    `json:"total_agents"`
	ActiveSessions int                    `json:"active_sessions"`
	TotalTools     int                    `json:"total_tools"`
	AgentStates    map[string]agent.State `json:"agent_states"`
}

func (s *System) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	states := make(map[string]agent.State, len(s.agents))
	for id, a := range s.agents {
		states[id] = a.State()
	}
	return Status{
		TotalAgents:    len(s.agents),
		ActiveSessions: s.sessions.Count(),
		TotalTools:     len(s.tools),
		AgentStates:    states,
	}
}

// Evaluate scores the agent from its execution metrics.
func (s *System) Evaluate(id string) (Evaluation, error) {
	a, ok := s.Agent(id)
	if !ok {
		return Evaluation{}, fmt.Errorf("%w: %s", ErrUnknownAgent, id)
	}
	m, ok := a.Metrics()
	if !ok {
		return Evaluation{}, fmt.Errorf("%w: %s", ErrNotExecuted, id)
	}
	return s.evaluator.Evaluate(m), nil
}

// EvaluateAll scores every agent that has run and returns the leaderboard.
func (s *System) EvaluateAll() []Evaluation {
	s.mu.RLock()
	ids := append([]string(nil), s.order...)
	s.mu.RUnlock()

	for _, id := range ids {
		if _, err := s.Evaluate(id); err != nil {
			s.logger.Debug("Agent not evaluated", "agent_id", id, "error", err)
		}
	}
	return s.evaluator.Leaderboard()
}

// Shutdown closes the tools holding a connection and stops the
// observability sampler when one is attached.
func (s *System) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	var errs []error
	for name, tool := range s.tools {
		if c, ok := tool.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("tool %s: %w", name, err))
			}
		}
	}
	s.mu.RUnlock()

	if s.manager != nil {
		errs = append(errs, s.manager.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
