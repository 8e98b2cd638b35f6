// ABOUTME: Tests for the gRPC transport against an in-process tool server.

package transport_test

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"

	"github.com/2389/coven-toolpool/internal/toolserver"
	"github.com/2389/coven-toolpool/internal/transport"
)

func startToolServer(t *testing.T) (*toolserver.Server, string) {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := toolserver.NewServer(nil)
	srv.Register(toolserver.Tool{
		Name:        "echo",
		Description: "echoes its text argument",
		Handler: func(args map[string]any) (string, bool) {
			text, _ := args["text"].(string)
			return fmt.Sprintf("echo: %s", text), false
		},
	})

	gs := grpc.NewServer()
	srv.Attach(gs)
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)

	return srv, lis.Addr().String()
}

func TestGRPC_Open_InvokeAndList(t *testing.T) {
	srv, addr := startToolServer(t)

	h, err := transport.GRPC{}.Open(context.Background(), transport.Descriptor{
		Kind:    "grpc",
		Address: addr,
	})
	require.NoError(t, err)
	defer h.Close()

	caps, err := h.ListCapabilities(context.Background())
	require.NoError(t, err)
	require.Len(t, caps, 1)
	assert.Equal(t, "echo", caps[0].Name)

	res, err := h.Invoke(context.Background(), "echo", map[string]any{"text": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "echo: hi", res.Output)
	assert.False(t, res.IsError)
	assert.Equal(t, int64(1), srv.Invocations())
}

func TestGRPC_Open_NoAddress(t *testing.T) {
	_, err := transport.GRPC{}.Open(context.Background(), transport.Descriptor{Kind: "grpc"})
	require.ErrorIs(t, err, transport.ErrConnect)
}

func TestGRPC_Open_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err := transport.GRPC{}.Open(ctx, transport.Descriptor{
		Kind:    "grpc",
		Address: "127.0.0.1:1", // nothing listens here
	})
	require.ErrorIs(t, err, transport.ErrConnect)
}

func TestGRPC_Invoke_ServerFailure(t *testing.T) {
	srv, addr := startToolServer(t)

	h, err := transport.GRPC{}.Open(context.Background(), transport.Descriptor{
		Kind:    "grpc",
		Address: addr,
	})
	require.NoError(t, err)
	defer h.Close()

	srv.FailNext(1)
	_, err = h.Invoke(context.Background(), "echo", nil)
	require.ErrorIs(t, err, transport.ErrInvocation)

	_, err = h.Invoke(context.Background(), "unknown-tool", nil)
	require.ErrorIs(t, err, transport.ErrInvocation)
}
