package transport

import (
	"context"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/owulveryck/agentcore/internal/agent"
	"github.com/owulveryck/agentcore/internal/llm"
	"github.com/owulveryck/agentcore/internal/orchestrator"
	"github.com/owulveryck/agentcore/internal/system"
)

func startServer(t *testing.T, sys *system.System, opts ...ServerOption) *Client {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := NewServer(sys, opts...)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(func() { srv.Shutdown(context.Background()) })

	client, err := Dial("passthrough:///bufnet", grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func newSystem(t *testing.T) *system.System {
	t.Helper()
	sys := system.New()
	for id, fn := range map[string]func(string) string{
		"upper": strings.ToUpper,
		"bang":  func(s string) string { return s + "!" },
	} {
		a, err := agent.New(agent.Config{ID: id}, llm.NewMockBrainWithFunc(llm.TextResponder(fn)))
		require.NoError(t, err)
		require.NoError(t, sys.RegisterAgent(a))
	}
	return sys
}

func TestDispatchOverGRPC(t *testing.T) {
	sys := newSystem(t)
	client := startServer(t, sys)

	resp, err := client.Dispatch(context.Background(), DispatchRequest{
		SessionID: "s1",
		Content:   "hi",
		Mode:      "sequential",
		AgentIDs:  []string{"upper", "bang"},
	})
	require.NoError(t, err)
	assert.Equal(t, "s1", resp.SessionID)
	assert.Equal(t, "sequential", resp.Mode)
	last, ok := resp.Last()
	require.True(t, ok)
	assert.Equal(t, "HI!", last.Content)
	assert.Equal(t, "bang", last.Sender)
	assert.Equal(t, "mock", last.Metadata["model"])

	sess, err := sys.Sessions().Get("s1")
	require.NoError(t, err)
	assert.Len(t, sess.Messages, 2)
}

func TestDispatchDefaultsOverGRPC(t *testing.T) {
	client := startServer(t, newSystem(t), WithDefaultMode(orchestrator.ModeParallel))

	resp, err := client.Dispatch(context.Background(), DispatchRequest{Content: "hi", AgentIDs: []string{"bang", "upper"}})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.SessionID)
	assert.Equal(t, "parallel", resp.Mode)
	require.Len(t, resp.Messages, 2)
	assert.Equal(t, "hi!", resp.Messages[0].Content)
	assert.Equal(t, "HI", resp.Messages[1].Content)
	assert.Equal(t, "user", resp.Messages[0].Recipient)
}

func TestDispatchLoopOverGRPC(t *testing.T) {
	client := startServer(t, newSystem(t))

	resp, err := client.Dispatch(context.Background(), DispatchRequest{
		Content:       "x",
		Mode:          "LOOP",
		AgentIDs:      []string{"bang"},
		MaxIterations: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, resp.Iterations)
	last, _ := resp.Last()
	assert.Equal(t, "x!!!", last.Content)
}

func TestDispatchErrorsOverGRPC(t *testing.T) {
	client := startServer(t, newSystem(t))

	tests := []struct {
		name string
		req  DispatchRequest
		code codes.Code
	}{
		{"missing content", DispatchRequest{Mode: "single"}, codes.InvalidArgument},
		{"unknown mode", DispatchRequest{Content: "hi", Mode: "broadcast"}, codes.InvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.Dispatch(context.Background(), tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.code, status.Code(err))
		})
	}
}

func TestUnknownAgentIsNotFoundWithFailFast(t *testing.T) {
	sys := system.New(system.WithOrchestratorOptions(orchestrator.WithFailFast(true)))
	client := startServer(t, sys)

	_, err := client.Dispatch(context.Background(), DispatchRequest{Content: "hi", AgentIDs: []string{"ghost"}})
	require.Error(t, err)
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestStatusFromError(t *testing.T) {
	assert.Equal(t, codes.Canceled, status.Code(statusFromError(context.Canceled)))
	assert.Equal(t, codes.DeadlineExceeded, status.Code(statusFromError(context.DeadlineExceeded)))
	assert.Equal(t, codes.Internal, status.Code(statusFromError(assert.AnError)))
}

func TestClearOverGRPC(t *testing.T) {
	sys := newSystem(t)
	client := startServer(t, sys)
	ctx := context.Background()

	_, err := client.Dispatch(ctx, DispatchRequest{SessionID: "s1", Content: "hi", AgentIDs: []string{"upper"}})
	require.NoError(t, err)

	require.NoError(t, client.Clear(ctx, "s1"))
	sess, err := sys.Sessions().Get("s1")
	require.NoError(t, err)
	assert.Empty(t, sess.Messages)

	err = client.Clear(ctx, "")
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestAgentToAgentOverGRPC(t *testing.T) {
	client := startServer(t, newSystem(t))
	ctx := context.Background()

	require.NoError(t, client.Subscribe(ctx, "bang", "news"))

	resp, err := client.Publish(ctx, PublishRequest{Topic: "news", Content: "update", Sender: "upper"})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Delivered)
	assert.NotEmpty(t, resp.MessageID)

	msgs, err := client.Messages(ctx, "bang")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "update", msgs[0].Content)
	assert.Equal(t, "upper", msgs[0].Sender)
	assert.Equal(t, resp.MessageID, msgs[0].ID)

	msgs, err = client.Messages(ctx, "bang")
	require.NoError(t, err)
	assert.Empty(t, msgs)

	tests := []struct {
		name string
		call func() error
		code codes.Code
	}{
		{"unknown subscriber", func() error { return client.Subscribe(ctx, "ghost", "news") }, codes.NotFound},
		{"empty topic", func() error { return client.Subscribe(ctx, "bang", "") }, codes.InvalidArgument},
		{"publish without content", func() error {
			_, err := client.Publish(ctx, PublishRequest{Topic: "news"})
			return err
		}, codes.InvalidArgument},
		{"publish without topic", func() error {
			_, err := client.Publish(ctx, PublishRequest{Content: "x"})
			return err
		}, codes.InvalidArgument},
		{"messages without agent", func() error {
			_, err := client.Messages(ctx, "")
			return err
		}, codes.InvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			require.Error(t, err)
			assert.Equal(t, tt.code, status.Code(err))
		})
	}
}
