// Package transport exposes dispatch, session history and the A2A channel
// over gRPC. The service is declared by hand and carries
// google.protobuf.Struct payloads, so no generated code is needed.
package transport

import (
	"context"
	"errors"
	"log/slog"
	"net"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/owulveryck/agentcore/internal/agent"
	"github.com/owulveryck/agentcore/internal/orchestrator"
	"github.com/owulveryck/agentcore/internal/session"
	"github.com/owulveryck/agentcore/internal/system"
)

// Backend serves the calls of the service. *system.System implements it.
type Backend interface {
	Dispatch(ctx context.Context, sessionID string, msg agent.Message, mode orchestrator.Mode, opts ...system.DispatchOption) (*orchestrator.Result, error)
	ClearHistory(sessionID string) error
	Subscribe(agentID, topic string) error
	Publish(ctx context.Context, topic string, msg agent.Message) (int, error)
	Messages(agentID string) []agent.Message
}

// OrchestratorServer is the server side of agentcore.v1.Orchestrator.
type OrchestratorServer interface {
	Dispatch(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Clear(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Subscribe(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Publish(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Messages(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(srv OrchestratorServer, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*OrchestratorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Dispatch", Handler: unaryHandler(DispatchMethod, OrchestratorServer.Dispatch)},
		{MethodName: "Clear", Handler: unaryHandler(ClearMethod, OrchestratorServer.Clear)},
		{MethodName: "Subscribe", Handler: unaryHandler(SubscribeMethod, OrchestratorServer.Subscribe)},
		{MethodName: "Publish", Handler: unaryHandler(PublishMethod, OrchestratorServer.Publish)},
		{MethodName: "Messages", Handler: unaryHandler(MessagesMethod, OrchestratorServer.Messages)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "agentcore/v1/orchestrator.proto",
}

func unaryHandler(fullMethod string, call unaryCall) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(OrchestratorServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(OrchestratorServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// RegisterOrchestratorServer registers srv on s.
func RegisterOrchestratorServer(s grpc.ServiceRegistrar, srv OrchestratorServer) {
	s.RegisterService(&serviceDesc, srv)
}

// Server serves the Orchestrator service over gRPC with OpenTelemetry
// instrumentation.
type Server struct {
	backend     Backend
	logger      *slog.Logger
	defaultMode orchestrator.Mode
	grpc        *grpc.Server
}

type ServerOption func(*Server)

func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = logger }
}

// WithDefaultMode sets the mode used when a request names none.
func WithDefaultMode(mode orchestrator.Mode) ServerOption {
	return func(s *Server) { s.defaultMode = mode }
}

func NewServer(b Backend, opts ...ServerOption) *Server {
	s := &Server{
		backend:     b,
		logger:      slog.Default(),
		defaultMode: orchestrator.ModeSingle,
		grpc:        grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler())),
	}
	for _, opt := range opts {
		opt(s)
	}
	RegisterOrchestratorServer(s.grpc, s)
	return s
}

// Serve blocks until the listener fails or Shutdown is called.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("Dispatch server listening", "address", lis.Addr().String())
	if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Shutdown stops gracefully, or immediately once ctx ends.
func (s *Server) Shutdown(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.WarnContext(ctx, "Graceful stop timed out, forcing")
		s.grpc.Stop()
	}
}

func (s *Server) Dispatch(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req DispatchRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if req.Content == "" {
		return nil, status.Error(codes.InvalidArgument, "content is required")
	}

	mode := s.defaultMode
	if req.Mode != "" {
		parsed, err := orchestrator.ParseMode(req.Mode)
		if err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		mode = parsed
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	if req.Sender == "" {
		req.Sender = "user"
	}

	var opts []system.DispatchOption
	if len(req.AgentIDs) > 0 {
		opts = append(opts, system.WithAgents(req.AgentIDs...))
	}
	if req.MaxIterations > 0 {
		opts = append(opts, system.WithMaxIterations(req.MaxIterations))
	}

	res, err := s.backend.Dispatch(ctx, req.SessionID, agent.NewMessage(req.Content, req.Sender, ""), mode, opts...)
	if err != nil {
		s.logger.ErrorContext(ctx, "Dispatch failed",
			"session_id", req.SessionID,
			"mode", string(mode),
			"error", err,
		)
		return nil, statusFromError(err)
	}

	return encode(DispatchResponse{
		SessionID:  req.SessionID,
		Mode:       string(res.Mode),
		Iterations: res.Iterations,
		Messages:   res.Messages,
	})
}

func (s *Server) Clear(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req ClearRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if err := s.backend.ClearHistory(req.SessionID); err != nil {
		return nil, statusFromError(err)
	}
	return encode(ClearResponse{SessionID: req.SessionID, Status: "cleared"})
}

func (s *Server) Subscribe(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req SubscribeRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if err := s.backend.Subscribe(req.AgentID, req.Topic); err != nil {
		return nil, statusFromError(err)
	}
	return encode(SubscribeResponse(req))
}

func (s *Server) Publish(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req PublishRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if req.Content == "" {
		return nil, status.Error(codes.InvalidArgument, "content is required")
	}
	if req.Sender == "" {
		req.Sender = "user"
	}

	msg := agent.NewMessage(req.Content, req.Sender, "")
	delivered, err := s.backend.Publish(ctx, req.Topic, msg)
	if err != nil {
		return nil, statusFromError(err)
	}
	return encode(PublishResponse{Topic: req.Topic, MessageID: msg.ID, Delivered: delivered})
}

func (s *Server) Messages(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req MessagesRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if req.AgentID == "" {
		return nil, status.Error(codes.InvalidArgument, "agent_id is required")
	}
	return encode(MessagesResponse{AgentID: req.AgentID, Messages: s.backend.Messages(req.AgentID)})
}

func encode(v any) (*structpb.Struct, error) {
	out, err := toStruct(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func statusFromError(err error) error {
	code := codes.Internal
	switch {
	case errors.Is(err, orchestrator.ErrUnknownMode), errors.Is(err, session.ErrEmptyID), errors.Is(err, system.ErrEmptyTopic):
		code = codes.InvalidArgument
	case errors.Is(err, orchestrator.ErrUnknownAgent), errors.Is(err, system.ErrUnknownAgent):
		code = codes.NotFound
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	}
	return status.Error(code, err.Error())
}
