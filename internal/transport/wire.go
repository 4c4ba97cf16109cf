package transport

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/owulveryck/agentcore/internal/agent"
)

const (
	ServiceName     = "agentcore.v1.Orchestrator"
	DispatchMethod  = "/" + ServiceName + "/Dispatch"
	ClearMethod     = "/" + ServiceName + "/Clear"
	SubscribeMethod = "/" + ServiceName + "/Subscribe"
	PublishMethod   = "/" + ServiceName + "/Publish"
	MessagesMethod  = "/" + ServiceName + "/Messages"
)

// DispatchRequest is the payload of a Dispatch call. An empty SessionID
// starts a new session; an empty Mode uses the server default.
type DispatchRequest struct {
	SessionID     string   `json:"session_id,omitempty"`
	Content       string   `json:"content"`
	Sender        string   `json:"sender,omitempty"`
	Mode          string   `json:"mode,omitempty"`
	AgentIDs      []string `json:"agent_ids,omitempty"`
	MaxIterations int      `json:"max_iterations,omitempty"`
}

// DispatchResponse carries the answers in the order the topology produced
// them.
type DispatchResponse struct {
	SessionID  string          `json:"session_id"`
	Mode       string          `json:"mode"`
	Iterations int             `json:"iterations"`
	Messages   []agent.Message `json:"messages"`
}

// Last returns the final answer, false when there is none.
func (r *DispatchResponse) Last() (agent.Message, bool) {
	if r == nil || len(r.Messages) == 0 {
		return agent.Message{}, false
	}
	return r.Messages[len(r.Messages)-1], true
}

// ClearRequest empties the message log of a session.
type ClearRequest struct {
	SessionID string `json:"session_id"`
}

type ClearResponse struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

// SubscribeRequest subscribes an agent to an A2A topic.
type SubscribeRequest struct {
	AgentID string `json:"agent_id"`
	Topic   string `json:"topic"`
}

type SubscribeResponse struct {
	AgentID string `json:"agent_id"`
	Topic   string `json:"topic"`
}

// PublishRequest posts a message on an A2A topic. Sender is the publishing
// agent id.
type PublishRequest struct {
	Topic   string `json:"topic"`
	Content string `json:"content"`
	Sender  string `json:"sender,omitempty"`
}

type PublishResponse struct {
	Topic     string `json:"topic"`
	MessageID string `json:"message_id"`
	Delivered int    `json:"delivered"`
}

// MessagesRequest drains the A2A mailbox of an agent.
type MessagesRequest struct {
	AgentID string `json:"agent_id"`
}

type MessagesResponse struct {
	AgentID  string          `json:"agent_id"`
	Messages []agent.Message `json:"messages"`
}

// toStruct maps v through its JSON form onto a structpb.Struct.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return s, nil
}

func fromStruct(s *structpb.Struct, v any) error {
	data, err := s.MarshalJSON()
	if err != nil {
		return fmt.Errorf("failed to decode payload: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode payload: %w", err)
	}
	return nil
}
