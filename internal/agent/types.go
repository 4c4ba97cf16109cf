package agent

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Common errors
var (
	ErrMissingID           = errors.New("agent ID is required")
	ErrMissingBrain        = errors.New("agent brain is required")
	ErrMissingCapability   = errors.New("capability name is required")
	ErrMissingParam        = errors.New("missing capability parameter")
	ErrDuplicateCapability = errors.New("capability with this name already registered")
)

// State is the lifecycle state of an agent.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StatePaused    State = "paused"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Message is exchanged between callers and agents. Messages are values; a
// response is always a new Message.
type Message struct {
	ID        string         `json:"id"`
	Content   string         `json:"content"`
	Sender    string         `json:"sender"`
	Recipient string         `json:"recipient"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// NewMessage creates a message with a fresh id and the current time.
func NewMessage(content, sender, recipient string) Message {
	return Message{
		ID:        uuid.NewString(),
		Content:   content,
		Sender:    sender,
		Recipient: recipient,
		Timestamp: time.Now(),
		Metadata:  map[string]any{},
	}
}

// WithMetadata returns a copy of m carrying key=value. m is unchanged.
func (m Message) WithMetadata(key string, value any) Message {
	md := make(map[string]any, len(m.Metadata)+1)
	for k, v := range m.Metadata {
		md[k] = v
	}
	md[key] = value
	m.Metadata = md
	return m
}

// Config holds the configuration of an Agent.
type Config struct {
	// ID is the unique identifier of the agent
	ID string

	// Name is the display name (optional, defaults to ID)
	Name string

	// Instructions is the system prompt sent with every request
	Instructions string
}

// WithDefaults returns a copy with optional fields filled.
func (c Config) WithDefaults() Config {
	if c.Name == "" {
		c.Name = c.ID
	}
	return c
}

func (c Config) Validate() error {
	if c.ID == "" {
		return ErrMissingID
	}
	return nil
}

// Metrics are the execution counters of an agent, initialised on its first
// message.
type Metrics struct {
	AgentID        string    `json:"agent_id"`
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time,omitempty"`
	ExecutionCount int       `json:"execution_count"`
	SuccessCount   int       `json:"success_count"`
	ErrorCount     int       `json:"error_count"`
	TotalTokens    int       `json:"total_tokens"`
}

// Duration is the time between the first message and the end of the most
// recent one, or now while nothing has finished.
func (m Metrics) Duration() time.Duration {
	end := m.EndTime
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(m.StartTime)
}

// SuccessRate is successes over executions, zero before any execution.
func (m Metrics) SuccessRate() float64 {
	return ratio(m.SuccessCount, m.ExecutionCount)
}

// ErrorRate is errors over executions, zero before any execution.
func (m Metrics) ErrorRate() float64 {
	return ratio(m.ErrorCount, m.ExecutionCount)
}

func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}
