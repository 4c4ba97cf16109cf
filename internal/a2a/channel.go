// Package a2a implements the topic based mailbox agents use to talk to each
// other outside of an orchestrated dispatch.
package a2a

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/owulveryck/agentcore/internal/agent"
	"github.com/owulveryck/agentcore/internal/observability"
)

const (
	MetricPublished   = "a2a.messages.published"
	MetricUndelivered = "a2a.messages.undelivered"
)

// Channel fans published messages out to the mailbox of every agent
// subscribed to the topic. A mailbox is drained by Messages; a single reader
// per agent id is assumed.
type Channel struct {
	logger  *slog.Logger
	metrics *observability.MetricsCollector

	mu          sync.Mutex
	subscribers map[string][]string
	mailboxes   map[string][]agent.Message
}

type Option func(*Channel)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Channel) { c.logger = logger }
}

// WithMetrics counts published and undelivered messages per topic.
func WithMetrics(metrics *observability.MetricsCollector) Option {
	return func(c *Channel) { c.metrics = metrics }
}

func NewChannel(opts ...Option) *Channel {
	c := &Channel{
		logger:      slog.Default(),
		subscribers: make(map[string][]string),
		mailboxes:   make(map[string][]agent.Message),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Subscribe registers agentID on topic. Subscribing twice has no effect.
func (c *Channel) Subscribe(agentID, topic string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if slices.Contains(c.subscribers[topic], agentID) {
		return
	}
	c.subscribers[topic] = append(c.subscribers[topic], agentID)
	c.logger.Debug("Agent subscribed", "agent_id", agentID, "topic", topic)
}

// Unsubscribe removes agentID from topic. Messages already in its mailbox
// are kept.
func (c *Channel) Unsubscribe(agentID, topic string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	subs := slices.DeleteFunc(c.subscribers[topic], func(id string) bool { return id == agentID })
	if len(subs) == 0 {
		delete(c.subscribers, topic)
		return
	}
	c.subscribers[topic] = subs
}

// Publish appends msg to the mailbox of every subscriber of topic and
// returns the number of mailboxes it reached.
func (c *Channel) Publish(ctx context.Context, topic string, msg agent.Message) int {
	c.mu.Lock()
	subs := c.subscribers[topic]
	for _, id := range subs {
		c.mailboxes[id] = append(c.mailboxes[id], msg)
	}
	delivered := len(subs)
	c.mu.Unlock()

	labels := observability.Labels{"topic": topic}
	if c.metrics != nil {
		c.metrics.Counter(MetricPublished, 1, labels)
	}
	if delivered == 0 {
		if c.metrics != nil {
			c.metrics.Counter(MetricUndelivered, 1, labels)
		}
		c.logger.InfoContext(ctx, "No subscribers for topic",
			"topic", topic,
			"message_id", msg.ID,
		)
		return 0
	}

	c.logger.DebugContext(ctx, "Message published",
		"topic", topic,
		"message_id", msg.ID,
		"subscribers", delivered,
	)
	return delivered
}

// Messages returns and clears the mailbox of agentID.
func (c *Channel) Messages(agentID string) []agent.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	msgs := c.mailboxes[agentID]
	delete(c.mailboxes, agentID)
	if msgs == nil {
		return []agent.Message{}
	}
	return msgs
}

// Pending reports how many messages wait in the mailbox of agentID.
func (c *Channel) Pending(agentID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.mailboxes[agentID])
}

func (c *Channel) Subscribers(topic string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.subscribers[topic])
}
