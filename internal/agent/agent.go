package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/owulveryck/agentcore/internal/llm"
)

// FailureReason classifies why a message could not be answered.
type FailureReason string

const (
	ReasonBackend  FailureReason = "backend"
	ReasonCanceled FailureReason = "canceled"
	ReasonPanic    FailureReason = "panic"
)

// Failure is the typed failure carried by a Result.
type Failure struct {
	Reason FailureReason
	Err    error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %v", f.Reason, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Result is the outcome of Execute. Message is always set; on failure its
// content describes the error and Failure holds the cause.
type Result struct {
	Message Message
	Failure *Failure
}

func (r Result) OK() bool {
	return r.Failure == nil
}

// Agent answers messages with a language model, one message at a time. It
// can be paused: a message arriving while paused waits until Resume.
type Agent struct {
	id           string
	name         string
	instructions string
	brain        llm.Brain
	logger       *slog.Logger
	tools        *Registry
	initial      []Capability

	runMu sync.Mutex

	mu       sync.Mutex
	state    State
	prePause State
	resume   chan struct{}
	metrics  *Metrics
}

// Option configures an Agent.
type Option func(*Agent)

func WithLogger(logger *slog.Logger) Option {
	return func(a *Agent) { a.logger = logger }
}

// WithCapabilities registers capabilities at construction. New fails on a
// nil or unnamed capability.
func WithCapabilities(caps ...Capability) Option {
	return func(a *Agent) { a.initial = append(a.initial, caps...) }
}

func New(config Config, brain llm.Brain, opts ...Option) (*Agent, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if brain == nil {
		return nil, ErrMissingBrain
	}
	config = config.WithDefaults()

	a := &Agent{
		id:           config.ID,
		name:         config.Name,
		instructions: config.Instructions,
		brain:        brain,
		logger:       slog.Default(),
		tools:        NewRegistry(),
		state:        StateIdle,
	}
	for _, opt := range opts {
		opt(a)
	}
	for _, c := range a.initial {
		if err := a.tools.Add(c); err != nil {
			return nil, fmt.Errorf("agent %s: %w", a.id, err)
		}
	}
	a.initial = nil
	a.logger = a.logger.With("agent_id", a.id)
	return a, nil
}

func (a *Agent) ID() string           { return a.id }
func (a *Agent) Name() string         { return a.name }
func (a *Agent) Instructions() string { return a.instructions }

// AddCapability registers c, replacing a capability of the same name.
func (a *Agent) AddCapability(c Capability) error {
	return a.tools.Add(c)
}

// Capabilities lists the registered capabilities.
func (a *Agent) Capabilities() []Capability {
	return a.tools.List()
}

func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Agent) IsPaused() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.resume != nil
}

// Metrics returns a snapshot, false before the first message.
func (a *Agent) Metrics() (Metrics, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.metrics == nil {
		return Metrics{}, false
	}
	return *a.metrics, true
}

// Pause holds incoming messages until Resume. A message already past the
// gate finishes normally.
func (a *Agent) Pause() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.resume != nil {
		return
	}
	a.resume = make(chan struct{})
	a.prePause = a.state
	a.state = StatePaused
	a.logger.Info("Agent paused")
}

// Resume releases waiting messages and restores the state held before Pause.
func (a *Agent) Resume() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.resume == nil {
		return
	}
	close(a.resume)
	a.resume = nil
	a.state = a.prePause
	a.logger.Info("Agent resumed")
}

func (a *Agent) waitUnpaused(ctx context.Context) error {
	for {
		a.mu.Lock()
		gate := a.resume
		a.mu.Unlock()

		if gate == nil {
			return nil
		}
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Execute answers msg. Failures are reported in the Result, never as a
// panic or error return. A panicking backend fails the message.
func (a *Agent) Execute(ctx context.Context, msg Message) (res Result) {
	a.runMu.Lock()
	defer a.runMu.Unlock()

	if err := a.waitUnpaused(ctx); err != nil {
		a.begin()
		return a.fail(ctx, msg, ReasonCanceled, err)
	}
	a.begin()
	defer func() {
		if rec := recover(); rec != nil {
			res = a.fail(ctx, msg, ReasonPanic, fmt.Errorf("panic: %v", rec))
		}
	}()

	resp, err := a.brain.Respond(ctx, a.request(ctx, msg))
	if err != nil {
		reason := ReasonBackend
		if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			reason = ReasonCanceled
		}
		return a.fail(ctx, msg, reason, err)
	}

	content := resp.Text
	if HasDirective(content) {
		content = a.applyDirectives(ctx, content)
	}

	out := NewMessage(content, a.id, msg.Sender)
	out.Metadata["model"] = resp.Model
	out.Metadata["tokens"] = map[string]int{
		"prompt_tokens":     resp.Usage.PromptTokens,
		"completion_tokens": resp.Usage.CompletionTokens,
		"total_tokens":      resp.Usage.TotalTokens,
	}

	a.finish(StateCompleted, func(m *Metrics) {
		m.SuccessCount++
		m.TotalTokens += resp.Usage.TotalTokens
	})

	a.logger.DebugContext(ctx, "Agent answered message",
		"message_id", msg.ID,
		"response_id", out.ID,
		"tokens", resp.Usage.TotalTokens,
	)
	return Result{Message: out}
}

// Process answers msg and returns the response message only.
func (a *Agent) Process(ctx context.Context, msg Message) Message {
	return a.Execute(ctx, msg).Message
}

// Run answers msg. The error is non-nil only when ctx ended before an
// answer was produced.
func (a *Agent) Run(ctx context.Context, msg Message) (Message, error) {
	res := a.Execute(ctx, msg)
	if res.Failure != nil && res.Failure.Reason == ReasonCanceled {
		return res.Message, res.Failure
	}
	return res.Message, nil
}

func (a *Agent) begin() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.metrics == nil {
		a.metrics = &Metrics{AgentID: a.id, StartTime: time.Now()}
	}
	a.setState(StateRunning)
}

func (a *Agent) finish(state State, update func(m *Metrics)) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.metrics.ExecutionCount++
	a.metrics.EndTime = time.Now()
	update(a.metrics)
	a.setState(state)
}

// setState keeps the agent paused if Pause was called mid-execution; the
// state is then applied on Resume. Callers hold a.mu.
func (a *Agent) setState(s State) {
	if a.resume != nil {
		a.prePause = s
		return
	}
	a.state = s
}

func (a *Agent) fail(ctx context.Context, msg Message, reason FailureReason, err error) Result {
	a.finish(StateFailed, func(m *Metrics) { m.ErrorCount++ })

	a.logger.ErrorContext(ctx, "Agent failed",
		"message_id", msg.ID,
		"reason", string(reason),
		"error", err,
	)
	return Result{
		Message: NewMessage("Error: "+err.Error(), a.id, msg.Sender),
		Failure: &Failure{Reason: reason, Err: err},
	}
}

func (a *Agent) request(ctx context.Context, msg Message) llm.Request {
	instructions := a.instructions
	if a.tools.Len() > 0 {
		instructions += "\n\nAvailable tools:\n" + a.tools.Describe()
	}
	history := HistoryFrom(ctx)
	conversation := make([]llm.Turn, 0, len(history)+1)
	conversation = append(conversation, history...)
	conversation = append(conversation, llm.Turn{Role: llm.RoleUser, Text: msg.Content})
	return llm.Request{
		Instructions: instructions,
		Conversation: conversation,
	}
}

// applyDirectives replaces every directive line by the capability outcome.
func (a *Agent) applyDirectives(ctx context.Context, content string) string {
	directives := ParseDirectives(content)
	lines := make([]string, 0, len(directives))
	for _, d := range directives {
		lines = append(lines, a.resolve(ctx, d))
	}
	return strings.Join(lines, "\n")
}

func (a *Agent) resolve(ctx context.Context, d Directive) string {
	switch d.Kind {
	case DirectiveParseError:
		return "Tool directive parse error: " + d.Err.Error()
	case DirectiveInvoke:
		c, ok := a.tools.Get(d.Name)
		if !ok {
			return fmt.Sprintf("Tool '%s' not found", d.Name)
		}
		result, err := invokeCapability(ctx, c, d.Params)
		if err != nil {
			a.logger.WarnContext(ctx, "Capability failed", "capability", d.Name, "error", err)
			return "Tool execution error: " + err.Error()
		}
		encoded, err := json.Marshal(result)
		if err != nil {
			return "Tool execution error: " + err.Error()
		}
		return "Tool result: " + string(encoded)
	default:
		return d.Text
	}
}

func invokeCapability(ctx context.Context, c Capability, params map[string]any) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return c.Execute(ctx, params)
}
