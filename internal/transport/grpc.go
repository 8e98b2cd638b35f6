// ABOUTME: gRPC transport for tool servers speaking the coven.toolserver.v1 protocol.
// ABOUTME: Invokes the fixed methods generically with structpb payloads, no generated stubs.

package transport

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// Full method names of the coven.toolserver.v1.ToolServer service. Both
// take and return a google.protobuf.Struct, which lets us call them through
// ClientConn.Invoke without generated client code.
const (
	ListToolsMethod  = "/coven.toolserver.v1.ToolServer/ListTools"
	InvokeToolMethod = "/coven.toolserver.v1.ToolServer/InvokeTool"
)

// GRPC connects to tool servers over gRPC. Descriptor.Address is the dial
// target.
type GRPC struct{}

// Open dials the target and verifies it with a ListTools round trip, since
// grpc.NewClient itself connects lazily.
func (GRPC) Open(ctx context.Context, desc Descriptor) (Handle, error) {
	if desc.Address == "" {
		return nil, fmt.Errorf("%w: grpc descriptor has no address", ErrConnect)
	}

	conn, err := grpc.NewClient(desc.Address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("%w: dialing %s: %v", ErrConnect, desc.Address, err)
	}

	h := &grpcHandle{conn: conn, address: desc.Address}
	if _, err := h.ListCapabilities(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrConnect, desc.Address, err)
	}
	return h, nil
}

type grpcHandle struct {
	conn    *grpc.ClientConn
	address string
}

func (h *grpcHandle) Invoke(ctx context.Context, tool string, args map[string]any) (*Result, error) {
	if args == nil {
		args = map[string]any{}
	}
	in, err := structpb.NewStruct(map[string]any{
		"tool":      tool,
		"arguments": args,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: encoding arguments for %s: %v", ErrInvocation, tool, err)
	}

	out := &structpb.Struct{}
	if err := h.conn.Invoke(ctx, InvokeToolMethod, in, out); err != nil {
		return nil, fmt.Errorf("%w: %s on %s: %v", ErrInvocation, tool, h.address, err)
	}

	fields := out.GetFields()
	return &Result{
		Output:  fields["output"].GetStringValue(),
		IsError: fields["is_error"].GetBoolValue(),
		Raw:     out.AsMap(),
	}, nil
}

func (h *grpcHandle) ListCapabilities(ctx context.Context) ([]Capability, error) {
	in := &structpb.Struct{}
	out := &structpb.Struct{}
	if err := h.conn.Invoke(ctx, ListToolsMethod, in, out); err != nil {
		return nil, fmt.Errorf("%w: list tools on %s: %v", ErrInvocation, h.address, err)
	}

	var caps []Capability
	for _, v := range out.GetFields()["tools"].GetListValue().GetValues() {
		entry := v.GetStructValue().GetFields()
		c := Capability{
			Name:        entry["name"].GetStringValue(),
			Description: entry["description"].GetStringValue(),
		}
		if schema := entry["input_schema"].GetStructValue(); schema != nil {
			raw, err := schema.MarshalJSON()
			if err == nil {
				c.InputSchema = raw
			}
		}
		caps = append(caps, c)
	}
	return caps, nil
}

func (h *grpcHandle) Close() error {
	return h.conn.Close()
}
