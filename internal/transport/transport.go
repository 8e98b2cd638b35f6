// ABOUTME: Transport boundary for remote tool servers: open, invoke, list, close.
// ABOUTME: Defines the Handle/Transport interfaces and the kind-dispatching registry.

package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrConnect indicates a transport failed to establish a connection.
var ErrConnect = errors.New("transport connect failed")

// ErrInvocation indicates a live connection failed during use. The
// connection that produced it must be considered broken.
var ErrInvocation = errors.New("transport invocation failed")

// ErrUnknownKind indicates a Descriptor names a transport kind that has no
// registered implementation.
var ErrUnknownKind = errors.New("unknown transport kind")

// Capability describes one remote tool exposed by a tool server.
type Capability struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// Result is the outcome of a single tool invocation. Raw carries the full
// decoded result payload for callers that need more than the output text.
type Result struct {
	Output  string
	IsError bool
	Raw     map[string]any
}

// Descriptor identifies how to reach one tool server. Kind selects the
// transport; the remaining fields are interpreted by that transport.
type Descriptor struct {
	Kind    string   // "grpc", "stdio", or "memory"
	Address string   // gRPC target address
	Command string   // stdio executable path
	Args    []string // stdio arguments
	Env     []string // extra environment for stdio subprocesses
}

// Handle is one live connection to a tool server. A Handle is not safe for
// concurrent use; the pool guarantees exclusive access while checked out.
type Handle interface {
	// Invoke executes a remote tool. Errors wrap ErrInvocation and mean
	// the handle is broken.
	Invoke(ctx context.Context, tool string, args map[string]any) (*Result, error)

	// ListCapabilities returns the tools the server exposes. Also used as
	// the lightweight health probe. Errors wrap ErrInvocation.
	ListCapabilities(ctx context.Context) ([]Capability, error)

	// Close releases the underlying connection. Safe to call more than once.
	Close() error
}

// Transport opens connections to tool servers. Implementations must be safe
// for concurrent Open calls.
type Transport interface {
	// Open establishes a new connection. Errors wrap ErrConnect.
	Open(ctx context.Context, desc Descriptor) (Handle, error)
}

// Registry dispatches Open calls to a Transport by Descriptor.Kind.
type Registry map[string]Transport

// DefaultRegistry returns a Registry with the production transports wired.
func DefaultRegistry() Registry {
	return Registry{
		"grpc":  GRPC{},
		"stdio": Stdio{},
	}
}

// Open implements Transport by delegating to the registered kind.
func (r Registry) Open(ctx context.Context, desc Descriptor) (Handle, error) {
	tr, ok := r[desc.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, desc.Kind)
	}
	return tr.Open(ctx, desc)
}
