// ABOUTME: Tests for the stdio transport against a shell-script tool server.

package transport

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServerScript speaks just enough JSON-RPC for the handle: it echoes
// the request id back and answers by method.
const fakeServerScript = `#!/bin/sh
while IFS= read -r line; do
  id=$(printf '%s' "$line" | sed -n 's/.*"id":\([0-9][0-9]*\).*/\1/p')
  case "$line" in
    *'"boom"'*)
      printf '{"jsonrpc":"2.0","id":%s,"error":{"code":-32000,"message":"boom failed"}}\n' "$id" ;;
    *'tools/call'*)
      printf '{"jsonrpc":"2.0","id":%s,"result":{"output":"hello from script","is_error":false}}\n' "$id" ;;
    *'tools/list'*)
      printf '{"jsonrpc":"2.0","id":%s,"result":{"tools":[{"name":"echo","description":"echoes input"}]}}\n' "$id" ;;
    *)
      printf '{"jsonrpc":"2.0","id":%s,"error":{"code":-32601,"message":"unknown method"}}\n' "$id" ;;
  esac
done
`

func writeScript(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "server.sh")
	require.NoError(t, os.WriteFile(path, []byte(content), 0755))
	return path
}

func openScript(t *testing.T, content string) Handle {
	t.Helper()
	h, err := Stdio{}.Open(context.Background(), Descriptor{
		Kind:    "stdio",
		Command: "/bin/sh",
		Args:    []string{writeScript(t, content)},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func TestStdio_Open_MissingCommand(t *testing.T) {
	_, err := Stdio{}.Open(context.Background(), Descriptor{Kind: "stdio"})
	require.ErrorIs(t, err, ErrConnect)
}

func TestStdio_InvokeAndList(t *testing.T) {
	h := openScript(t, fakeServerScript)

	res, err := h.Invoke(context.Background(), "echo", map[string]any{"text": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hello from script", res.Output)
	assert.False(t, res.IsError)

	caps, err := h.ListCapabilities(context.Background())
	require.NoError(t, err)
	require.Len(t, caps, 1)
	assert.Equal(t, "echo", caps[0].Name)

	// A second round trip confirms the id counter lines up.
	res, err = h.Invoke(context.Background(), "echo", nil)
	require.NoError(t, err)
	assert.Equal(t, "hello from script", res.Output)
}

func TestStdio_Invoke_ServerError(t *testing.T) {
	h := openScript(t, fakeServerScript)

	_, err := h.Invoke(context.Background(), "boom", nil)
	require.ErrorIs(t, err, ErrInvocation)
	assert.Contains(t, err.Error(), "boom failed")
}

func TestStdio_Invoke_SubprocessExited(t *testing.T) {
	h := openScript(t, "#!/bin/sh\nexit 0\n")

	// Give the subprocess a moment to exit and close its stdout.
	time.Sleep(50 * time.Millisecond)

	_, err := h.Invoke(context.Background(), "echo", nil)
	require.ErrorIs(t, err, ErrInvocation)
}

func TestStdio_Invoke_ContextTimeout(t *testing.T) {
	// A server that never answers.
	h := openScript(t, "#!/bin/sh\nwhile IFS= read -r line; do :; done\n")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := h.Invoke(ctx, "echo", nil)
	require.ErrorIs(t, err, ErrInvocation)
}
