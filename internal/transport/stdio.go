// ABOUTME: Stdio transport for tool servers launched as subprocesses.
// ABOUTME: Speaks newline-delimited JSON-RPC 2.0 over the child's stdin/stdout.

package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	jsoniter "github.com/json-iterator/go"
)

var jsonrpc = jsoniter.ConfigCompatibleWithStandardLibrary

// maxLineSize bounds a single JSON-RPC response line from the subprocess.
const maxLineSize = 4 << 20

// Stdio launches tool servers as child processes and talks JSON-RPC 2.0
// over their stdin/stdout, one message per line. Descriptor.Command is the
// executable, Args and Env are passed through.
type Stdio struct{}

// Open starts the subprocess. A subprocess that exits or goes silent shows
// up as an invocation failure on first use, not here.
func (Stdio) Open(ctx context.Context, desc Descriptor) (Handle, error) {
	if desc.Command == "" {
		return nil, fmt.Errorf("%w: stdio descriptor has no command", ErrConnect)
	}

	cmd := exec.Command(desc.Command, desc.Args...)
	cmd.Env = append(os.Environ(), desc.Env...)
	cmd.Stderr = io.Discard

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConnect, desc.Command, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConnect, desc.Command, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: starting %s: %v", ErrConnect, desc.Command, err)
	}

	h := &stdioHandle{
		command: desc.Command,
		cmd:     cmd,
		stdin:   stdin,
		lines:   make(chan []byte, 1),
	}
	go h.readLines(stdout)
	return h, nil
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string              `json:"jsonrpc"`
	ID      uint64              `json:"id"`
	Result  jsoniter.RawMessage `json:"result,omitempty"`
	Error   *rpcError           `json:"error,omitempty"`
}

type stdioHandle struct {
	command string
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	lines   chan []byte

	// mu serializes request/response pairs. The pool hands a Handle to one
	// caller at a time, but health probes share the same discipline.
	mu     sync.Mutex
	nextID uint64

	closeOnce sync.Once
	closeErr  error
}

// readLines pumps stdout lines into the lines channel until EOF.
func (h *stdioHandle) readLines(stdout io.Reader) {
	defer close(h.lines)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := make([]byte, len(scanner.Bytes()))
		copy(line, scanner.Bytes())
		h.lines <- line
	}
}

// call performs one JSON-RPC round trip.
func (h *stdioHandle) call(ctx context.Context, method string, params any) (jsoniter.RawMessage, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	id := h.nextID

	payload, err := jsonrpc.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: encoding %s: %v", ErrInvocation, method, err)
	}
	payload = append(payload, '\n')

	if _, err := h.stdin.Write(payload); err != nil {
		return nil, fmt.Errorf("%w: writing to %s: %v", ErrInvocation, h.command, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s on %s: %v", ErrInvocation, method, h.command, ctx.Err())
		case line, ok := <-h.lines:
			if !ok {
				return nil, fmt.Errorf("%w: %s exited", ErrInvocation, h.command)
			}
			var resp rpcResponse
			if err := jsonrpc.Unmarshal(line, &resp); err != nil {
				return nil, fmt.Errorf("%w: bad response from %s: %v", ErrInvocation, h.command, err)
			}
			if resp.ID != id {
				// Stale response from an earlier abandoned call.
				continue
			}
			if resp.Error != nil {
				return nil, fmt.Errorf("%w: %s: %s (code %d)", ErrInvocation, method, resp.Error.Message, resp.Error.Code)
			}
			return resp.Result, nil
		}
	}
}

func (h *stdioHandle) Invoke(ctx context.Context, tool string, args map[string]any) (*Result, error) {
	raw, err := h.call(ctx, "tools/call", map[string]any{
		"name":      tool,
		"arguments": args,
	})
	if err != nil {
		return nil, err
	}

	var body struct {
		Output  string `json:"output"`
		IsError bool   `json:"is_error"`
	}
	if err := jsonrpc.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("%w: decoding result for %s: %v", ErrInvocation, tool, err)
	}

	var rawMap map[string]any
	_ = jsonrpc.Unmarshal(raw, &rawMap)
	return &Result{Output: body.Output, IsError: body.IsError, Raw: rawMap}, nil
}

func (h *stdioHandle) ListCapabilities(ctx context.Context) ([]Capability, error) {
	raw, err := h.call(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}

	var body struct {
		Tools []Capability `json:"tools"`
	}
	if err := jsonrpc.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("%w: decoding tool list: %v", ErrInvocation, err)
	}
	return body.Tools, nil
}

// Close signals EOF on stdin, kills the subprocess if it lingers, and reaps it.
func (h *stdioHandle) Close() error {
	h.closeOnce.Do(func() {
		h.closeErr = h.stdin.Close()
		if h.cmd.Process != nil {
			_ = h.cmd.Process.Kill()
		}
		_ = h.cmd.Wait()
	})
	return h.closeErr
}
