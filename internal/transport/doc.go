// Package transport abstracts the wire protocol used to reach tool servers.
//
// # Interfaces
//
// A Transport opens connections; a Handle is one live connection exposing
// the four capabilities the pool layer needs: invoke a tool, list the
// server's tools, and close. Handles are protocol-agnostic and are never
// shared concurrently: the pool checks a handle out to one caller at a
// time.
//
// # Implementations
//
//   - GRPC: dials a tool server speaking coven.toolserver.v1 and invokes
//     its methods generically with google.protobuf.Struct payloads.
//   - Stdio: launches the tool server as a subprocess and exchanges
//     newline-delimited JSON-RPC 2.0 messages over stdin/stdout.
//   - Memory: an in-process double with scriptable failures and latency,
//     used by unit tests and the local demo.
//
// The Registry dispatches by Descriptor.Kind so the pool manager can serve
// a mixed catalog of targets through a single Transport value.
//
// # Errors
//
// Open failures wrap ErrConnect; failures on a live handle wrap
// ErrInvocation and mean the handle must be discarded. Callers classify
// with errors.Is.
package transport
