// Package toolserver implements the server side of the
// coven.toolserver.v1.ToolServer gRPC service with in-process tool
// handlers. It backs the fake-toolserver binary and the gRPC transport
// tests.
package toolserver
