package session

import (
	"encoding/json"
	"fmt"
	"maps"
	"sync"
	"time"
)

// DefaultCompactSize is the number of episodes CompactContext keeps when
// called with a non-positive size.
const DefaultCompactSize = 1000

// Episode types recorded by the system around a dispatch.
const (
	EpisodeUserMessage   = "user_message"
	EpisodeAgentResponse = "agent_response"
)

// Episode is one entry of the episodic memory. Timestamp is set when the
// episode is added.
type Episode struct {
	Type      string         `json:"type"`
	Content   string         `json:"content"`
	AgentID   string         `json:"agent_id,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// MemoryBank holds the long-term, episodic and semantic memory of one
// session. It is safe for concurrent use.
type MemoryBank struct {
	now func() time.Time

	mu        sync.RWMutex
	longTerm  map[string]any
	episodes  []Episode
	semantics map[string]any
}

func NewMemoryBank() *MemoryBank {
	return newMemoryBank(time.Now)
}

func newMemoryBank(now func() time.Time) *MemoryBank {
	return &MemoryBank{
		now:       now,
		longTerm:  make(map[string]any),
		semantics: make(map[string]any),
	}
}

// StoreLongTerm sets key, overwriting any previous value.
func (b *MemoryBank) StoreLongTerm(key string, value any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.longTerm[key] = value
}

func (b *MemoryBank) RetrieveLongTerm(key string) (any, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.longTerm[key]
	return v, ok
}

// AddEpisode stamps e with the current time and appends it.
func (b *MemoryBank) AddEpisode(e Episode) Episode {
	b.mu.Lock()
	defer b.mu.Unlock()

	e.Timestamp = b.now()
	e.Data = maps.Clone(e.Data)
	b.episodes = append(b.episodes, e)
	return e
}

// Episodes returns the episodes in insertion order.
func (b *MemoryBank) Episodes() []Episode {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]Episode(nil), b.episodes...)
}

func (b *MemoryBank) StoreSemantic(key string, value any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.semantics[key] = value
}

func (b *MemoryBank) RetrieveSemantic(key string) (any, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.semantics[key]
	return v, ok
}

// CompactContext serializes the maxEpisodes most recent episodes to JSON.
func (b *MemoryBank) CompactContext(maxEpisodes int) (string, error) {
	if maxEpisodes <= 0 {
		maxEpisodes = DefaultCompactSize
	}

	b.mu.RLock()
	recent := b.episodes[max(0, len(b.episodes)-maxEpisodes):]
	if recent == nil {
		recent = []Episode{}
	}
	data, err := json.Marshal(recent)
	b.mu.RUnlock()

	if err != nil {
		return "", fmt.Errorf("failed to compact context: %w", err)
	}
	return string(data), nil
}
