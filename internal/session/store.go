// Package session keeps the per-session message log and memory bank.
package session

import (
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/owulveryck/agentcore/internal/agent"
)

var ErrEmptyID = errors.New("session id cannot be empty")

// Session is the conversation of one session id.
type Session struct {
	ID        string
	CreatedAt time.Time
	UpdatedAt time.Time
	Messages  []agent.Message
	State     map[string]any
}

// Store persists sessions. A session is created on first reference.
type Store interface {
	// Get returns a copy of the session.
	Get(id string) (*Session, error)

	// WithLock runs fn with exclusive access to the session and saves the
	// session when fn succeeds.
	WithLock(id string, fn func(*Session) error) error

	// Delete removes the session and its memory bank.
	Delete(id string) error

	// MemoryBank returns the memory bank owned by the session.
	MemoryBank(id string) (*MemoryBank, error)
}

type entry struct {
	session *Session
	bank    *MemoryBank
}

// InMemoryStore is a Store backed by process memory.
type InMemoryStore struct {
	now func() time.Time

	mu       sync.RWMutex
	sessions map[string]*entry
	locks    sync.Map // session id → *sync.Mutex
}

type Option func(*InMemoryStore)

// WithClock sets the time source for session and episode timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *InMemoryStore) { s.now = now }
}

func NewInMemoryStore(opts ...Option) *InMemoryStore {
	s := &InMemoryStore{
		now:      time.Now,
		sessions: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *InMemoryStore) lookup(id string) (*entry, error) {
	if id == "" {
		return nil, ErrEmptyID
	}

	s.mu.RLock()
	e, ok := s.sessions[id]
	s.mu.RUnlock()
	if ok {
		return e, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.sessions[id]; ok {
		return e, nil
	}
	now := s.now()
	e = &entry{
		session: &Session{
			ID:        id,
			CreatedAt: now,
			UpdatedAt: now,
			State:     make(map[string]any),
		},
		bank: newMemoryBank(s.now),
	}
	s.sessions[id] = e
	return e, nil
}

func (s *InMemoryStore) Get(id string) (*Session, error) {
	e, err := s.lookup(id)
	if err != nil {
		return nil, &StoreError{Op: "get", Err: err}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copySession(e.session), nil
}

func (s *InMemoryStore) WithLock(id string, fn func(*Session) error) error {
	if id == "" {
		return &StoreError{Op: "withlock", Err: ErrEmptyID}
	}

	l, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	lock := l.(*sync.Mutex)
	lock.Lock()
	defer lock.Unlock()

	session, err := s.Get(id)
	if err != nil {
		return err
	}
	if err := fn(session); err != nil {
		return err
	}
	session.ID = id
	session.UpdatedAt = s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[id]
	if !ok {
		// deleted while fn ran
		return &StoreError{Op: "withlock", Err: fmt.Errorf("session %s was deleted", id)}
	}
	e.session = copySession(session)
	return nil
}

func (s *InMemoryStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	s.locks.Delete(id)
	return nil
}

// Prune deletes the sessions not updated since before and returns how many
// were removed.
func (s *InMemoryStore) Prune(before time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, e := range s.sessions {
		if e.session.UpdatedAt.Before(before) {
			delete(s.sessions, id)
			s.locks.Delete(id)
			removed++
		}
	}
	return removed
}

func (s *InMemoryStore) MemoryBank(id string) (*MemoryBank, error) {
	e, err := s.lookup(id)
	if err != nil {
		return nil, &StoreError{Op: "memorybank", Err: err}
	}
	return e.bank, nil
}

func (s *InMemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// StoreError reports the store operation that failed.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("session %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Messages are immutable, so the log is copied shallowly.
func copySession(s *Session) *Session {
	state := maps.Clone(s.State)
	if state == nil {
		state = make(map[string]any)
	}
	return &Session{
		ID:        s.ID,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
		Messages:  append([]agent.Message(nil), s.Messages...),
		State:     state,
	}
}
