// Package llm defines the opaque language-model capability agents call to
// produce a reply, plus a scriptable mock used in tests and offline runs.
package llm

import (
	"context"
	"fmt"
)

// Role of a conversation turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Turn is a single entry of the conversation sent to the model.
type Turn struct {
	Role Role
	Text string
}

// Request carries the system instructions and the conversation so far. The
// last turn is the message being answered.
type Request struct {
	Instructions string
	Conversation []Turn
}

// LastText returns the text of the final turn.
func (r Request) LastText() string {
	if len(r.Conversation) == 0 {
		return ""
	}
	return r.Conversation[len(r.Conversation)-1].Text
}

// Usage reports token consumption.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Response is the model reply.
type Response struct {
	Text  string
	Usage Usage
	Model string
}

// Brain is the language-model backend.
type Brain interface {
	Respond(ctx context.Context, req Request) (*Response, error)
}

// StatusError is returned when the backend answers with a non-success
// status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("llm backend returned status %d: %s", e.Code, e.Body)
}
