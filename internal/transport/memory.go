// ABOUTME: In-memory transport used as a deterministic test double and local demo backend.
// ABOUTME: Scriptable connect/invoke failures and connect latency, with handle accounting.

package transport

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Memory is an in-process Transport. Tests script failure and latency
// behavior; handles echo invocations back as output. All methods are safe
// for concurrent use.
type Memory struct {
	tools []Capability

	mu         sync.Mutex
	failOpens  int
	failCalls  int
	failLists  int
	openDelay  time.Duration
	opens      int
	openErrors int
	live       int
}

// NewMemory creates a Memory transport exposing the given capabilities.
func NewMemory(tools ...Capability) *Memory {
	if len(tools) == 0 {
		tools = []Capability{{Name: "echo", Description: "echoes its arguments"}}
	}
	return &Memory{tools: tools}
}

// FailOpens scripts the next n Open calls to fail.
func (m *Memory) FailOpens(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failOpens = n
}

// FailInvokes scripts the next n Invoke calls (across all handles) to fail.
func (m *Memory) FailInvokes(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failCalls = n
}

// FailLists scripts the next n ListCapabilities calls to fail.
func (m *Memory) FailLists(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failLists = n
}

// SetOpenDelay makes every subsequent Open block for d before returning.
func (m *Memory) SetOpenDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openDelay = d
}

// OpenCount returns how many Open calls succeeded.
func (m *Memory) OpenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens
}

// OpenErrorCount returns how many Open calls failed.
func (m *Memory) OpenErrorCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.openErrors
}

// LiveHandles returns the number of handles opened and not yet closed.
func (m *Memory) LiveHandles() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live
}

// Open returns a new in-memory handle, honoring scripted failures and delay.
func (m *Memory) Open(ctx context.Context, desc Descriptor) (Handle, error) {
	m.mu.Lock()
	delay := m.openDelay
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			m.mu.Lock()
			m.openErrors++
			m.mu.Unlock()
			return nil, fmt.Errorf("%w: %v", ErrConnect, ctx.Err())
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOpens > 0 {
		m.failOpens--
		m.openErrors++
		return nil, fmt.Errorf("%w: scripted open failure", ErrConnect)
	}
	m.opens++
	m.live++
	return &memoryHandle{parent: m}, nil
}

type memoryHandle struct {
	parent *Memory

	mu     sync.Mutex
	closed bool
}

func (h *memoryHandle) Invoke(ctx context.Context, tool string, args map[string]any) (*Result, error) {
	if err := h.check(ctx); err != nil {
		return nil, err
	}

	h.parent.mu.Lock()
	if h.parent.failCalls > 0 {
		h.parent.failCalls--
		h.parent.mu.Unlock()
		return nil, fmt.Errorf("%w: scripted invoke failure", ErrInvocation)
	}
	h.parent.mu.Unlock()

	output := fmt.Sprintf("%s(%v)", tool, args)
	return &Result{Output: output, Raw: map[string]any{"output": output}}, nil
}

func (h *memoryHandle) ListCapabilities(ctx context.Context) ([]Capability, error) {
	if err := h.check(ctx); err != nil {
		return nil, err
	}

	h.parent.mu.Lock()
	if h.parent.failLists > 0 {
		h.parent.failLists--
		h.parent.mu.Unlock()
		return nil, fmt.Errorf("%w: scripted list failure", ErrInvocation)
	}
	h.parent.mu.Unlock()

	return h.parent.tools, nil
}

func (h *memoryHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true

	h.parent.mu.Lock()
	h.parent.live--
	h.parent.mu.Unlock()
	return nil
}

func (h *memoryHandle) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvocation, err)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return fmt.Errorf("%w: handle closed", ErrInvocation)
	}
	return nil
}
