// ABOUTME: Tests for the transport registry and the in-memory test double.

package transport

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Open_DispatchesByKind(t *testing.T) {
	mem := NewMemory()
	reg := Registry{"memory": mem}

	h, err := reg.Open(context.Background(), Descriptor{Kind: "memory"})
	require.NoError(t, err)
	defer h.Close()
	assert.Equal(t, 1, mem.OpenCount())
}

func TestRegistry_Open_UnknownKind(t *testing.T) {
	reg := DefaultRegistry()

	_, err := reg.Open(context.Background(), Descriptor{Kind: "smoke-signals"})
	require.ErrorIs(t, err, ErrUnknownKind)
}

func TestMemory_InvokeEchoesArguments(t *testing.T) {
	mem := NewMemory()
	h, err := mem.Open(context.Background(), Descriptor{Kind: "memory"})
	require.NoError(t, err)
	defer h.Close()

	res, err := h.Invoke(context.Background(), "echo", map[string]any{"text": "hi"})
	require.NoError(t, err)
	assert.Contains(t, res.Output, "echo")
	assert.False(t, res.IsError)

	caps, err := h.ListCapabilities(context.Background())
	require.NoError(t, err)
	require.Len(t, caps, 1)
	assert.Equal(t, "echo", caps[0].Name)
}

func TestMemory_ScriptedFailures(t *testing.T) {
	mem := NewMemory()
	mem.FailOpens(1)

	_, err := mem.Open(context.Background(), Descriptor{Kind: "memory"})
	require.ErrorIs(t, err, ErrConnect)
	assert.Equal(t, 1, mem.OpenErrorCount())

	h, err := mem.Open(context.Background(), Descriptor{Kind: "memory"})
	require.NoError(t, err)
	defer h.Close()

	mem.FailInvokes(1)
	_, err = h.Invoke(context.Background(), "echo", nil)
	require.ErrorIs(t, err, ErrInvocation)

	// Next invocation works again.
	_, err = h.Invoke(context.Background(), "echo", nil)
	require.NoError(t, err)
}

func TestMemory_UseAfterClose(t *testing.T) {
	mem := NewMemory()
	h, err := mem.Open(context.Background(), Descriptor{Kind: "memory"})
	require.NoError(t, err)
	require.NoError(t, h.Close())
	require.NoError(t, h.Close(), "Close must be idempotent")

	_, err = h.Invoke(context.Background(), "echo", nil)
	require.ErrorIs(t, err, ErrInvocation)
	assert.Equal(t, 0, mem.LiveHandles())
}
