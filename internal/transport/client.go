package transport

import (
	"context"
	"fmt"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/owulveryck/agentcore/internal/agent"
)

// Client calls a remote Orchestrator service.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to addr without TLS. Extra options are appended.
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	}, opts...)

	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Dispatch(ctx context.Context, req DispatchRequest) (*DispatchResponse, error) {
	var resp DispatchResponse
	if err := c.invoke(ctx, DispatchMethod, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Clear empties the message log of a session.
func (c *Client) Clear(ctx context.Context, sessionID string) error {
	var resp ClearResponse
	return c.invoke(ctx, ClearMethod, ClearRequest{SessionID: sessionID}, &resp)
}

func (c *Client) Subscribe(ctx context.Context, agentID, topic string) error {
	var resp SubscribeResponse
	return c.invoke(ctx, SubscribeMethod, SubscribeRequest{AgentID: agentID, Topic: topic}, &resp)
}

func (c *Client) Publish(ctx context.Context, req PublishRequest) (*PublishResponse, error) {
	var resp PublishResponse
	if err := c.invoke(ctx, PublishMethod, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Messages drains the A2A mailbox of agentID.
func (c *Client) Messages(ctx context.Context, agentID string) ([]agent.Message, error) {
	var resp MessagesResponse
	if err := c.invoke(ctx, MessagesMethod, MessagesRequest{AgentID: agentID}, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

func (c *Client) invoke(ctx context.Context, method string, req, resp any) error {
	in, err := toStruct(req)
	if err != nil {
		return err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, method, in, out); err != nil {
		return err
	}
	return fromStruct(out, resp)
}

func (c *Client) Close() error {
	return c.conn.Close()
}
