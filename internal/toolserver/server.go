// ABOUTME: gRPC server side of the coven.toolserver.v1.ToolServer service.
// ABOUTME: Hand-rolled service descriptor over structpb, mirroring the client transport.

package toolserver

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ToolFunc executes one tool invocation.
type ToolFunc func(args map[string]any) (output string, isError bool)

// Tool is one capability the server exposes.
type Tool struct {
	Name        string
	Description string
	Handler     ToolFunc
}

// Server implements the ToolServer service. Used by the fake tool server
// binary and by transport tests.
type Server struct {
	logger *slog.Logger

	mu    sync.Mutex
	tools map[string]Tool
	order []string

	invocations atomic.Int64
	failNext    atomic.Int64
}

// NewServer creates an empty server; register tools before serving.
func NewServer(logger *slog.Logger) *Server {
	return &Server{
		logger: logger,
		tools:  make(map[string]Tool),
	}
}

// Register adds a tool. Registering the same name again replaces it.
func (s *Server) Register(t Tool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tools[t.Name]; !ok {
		s.order = append(s.order, t.Name)
	}
	s.tools[t.Name] = t
}

// FailNext makes the next n InvokeTool RPCs fail with Unavailable, for
// exercising breaker and discard paths against a real server.
func (s *Server) FailNext(n int64) {
	s.failNext.Store(n)
}

// Invocations returns how many InvokeTool RPCs reached a tool handler.
func (s *Server) Invocations() int64 {
	return s.invocations.Load()
}

// Attach registers the service on a gRPC server.
func (s *Server) Attach(reg grpc.ServiceRegistrar) {
	reg.RegisterService(&serviceDesc, s)
}

// ListTools returns the registered tools as {"tools": [...]}.
func (s *Server) ListTools(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var entries []any
	for _, name := range s.order {
		t := s.tools[name]
		entries = append(entries, map[string]any{
			"name":        t.Name,
			"description": t.Description,
		})
	}
	out, err := structpb.NewStruct(map[string]any{"tools": entries})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encoding tool list: %v", err)
	}
	return out, nil
}

// InvokeTool dispatches {"tool": ..., "arguments": {...}} to the named tool.
func (s *Server) InvokeTool(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if n := s.failNext.Load(); n > 0 && s.failNext.CompareAndSwap(n, n-1) {
		return nil, status.Error(codes.Unavailable, "scripted failure")
	}

	fields := in.GetFields()
	name := fields["tool"].GetStringValue()
	args := fields["arguments"].GetStructValue().AsMap()

	s.mu.Lock()
	t, ok := s.tools[name]
	s.mu.Unlock()
	if !ok {
		return nil, status.Errorf(codes.NotFound, "unknown tool %q", name)
	}

	s.invocations.Add(1)
	if s.logger != nil {
		s.logger.Debug("invoking tool", "tool", name, "args", fmt.Sprint(args))
	}
	output, isError := t.Handler(args)

	out, err := structpb.NewStruct(map[string]any{
		"output":   output,
		"is_error": isError,
	})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encoding result: %v", err)
	}
	return out, nil
}

type toolServerService interface {
	ListTools(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	InvokeTool(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

func listToolsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(toolServerService).ListTools(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/coven.toolserver.v1.ToolServer/ListTools",
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(toolServerService).ListTools(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func invokeToolHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(toolServerService).InvokeTool(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/coven.toolserver.v1.ToolServer/InvokeTool",
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(toolServerService).InvokeTool(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: "coven.toolserver.v1.ToolServer",
	HandlerType: (*toolServerService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListTools", Handler: listToolsHandler},
		{MethodName: "InvokeTool", Handler: invokeToolHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "coven/toolserver/v1/toolserver.proto",
}
