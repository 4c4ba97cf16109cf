package llm

import (
	"context"
	"sync"
)

// MockBrain is a Brain for tests. RespondFunc decides the reply; when nil the
// mock echoes the last turn.
type MockBrain struct {
	RespondFunc func(ctx context.Context, req Request) (*Response, error)

	mu        sync.Mutex
	calls     int
	lastInput Request
}

func NewMockBrain() *MockBrain {
	return &MockBrain{}
}

// NewMockBrainWithFunc creates a mock answering with fn.
func NewMockBrainWithFunc(fn func(ctx context.Context, req Request) (*Response, error)) *MockBrain {
	return &MockBrain{RespondFunc: fn}
}

func (m *MockBrain) Respond(ctx context.Context, req Request) (*Response, error) {
	m.mu.Lock()
	m.calls++
	m.lastInput = req
	fn := m.RespondFunc
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if fn != nil {
		return fn(ctx, req)
	}
	return EchoResponder()(ctx, req)
}

// CallCount is the number of Respond calls so far.
func (m *MockBrain) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// LastRequest is the most recent request received.
func (m *MockBrain) LastRequest() Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastInput
}

// EchoResponder replies "Echo: <last turn>" and counts one token per byte.
func EchoResponder() func(context.Context, Request) (*Response, error) {
	return func(ctx context.Context, req Request) (*Response, error) {
		text := "Echo: " + req.LastText()
		return &Response{
			Text:  text,
			Model: "mock",
			Usage: Usage{
				PromptTokens:     len(req.LastText()),
				CompletionTokens: len(text),
				TotalTokens:      len(req.LastText()) + len(text),
			},
		}, nil
	}
}

// TextResponder replies with whatever fn returns for the last turn.
func TextResponder(fn func(input string) string) func(context.Context, Request) (*Response, error) {
	return func(ctx context.Context, req Request) (*Response, error) {
		return &Response{Text: fn(req.LastText()), Model: "mock"}, nil
	}
}
