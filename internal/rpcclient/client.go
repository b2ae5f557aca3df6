// Package rpcclient is the wafer-thin JSON-RPC client cmd/hibossctl drives:
// dial the daemon's Unix socket, send one newline-delimited frame, read one
// back, and map the result onto the CLI exit-code convention of spec §6.
package rpcclient

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/hiboss/hiboss/internal/rpc"
)

// ExitCode is the numeric process exit code convention of spec §6.
type ExitCode int

const (
	ExitOK           ExitCode = 0
	ExitFailure      ExitCode = 1
	ExitInvalidArgs  ExitCode = 2
	ExitUnauthorized ExitCode = 3
	ExitUnreachable  ExitCode = 4
)

// CallError carries the exit code a failed Call should produce alongside
// the human-readable cause.
type CallError struct {
	Code ExitCode
	Err  error
}

func (e *CallError) Error() string { return e.Err.Error() }
func (e *CallError) Unwrap() error { return e.Err }

// Client is a one-shot JSON-RPC caller: each Call opens its own
// connection, matching hibossctl's process-per-invocation lifetime.
type Client struct {
	SocketPath string
	Token      string
	Timeout    time.Duration
}

// New constructs a Client with spec §4.8's default per-call timeout.
func New(socketPath, token string) *Client {
	return &Client{SocketPath: socketPath, Token: token, Timeout: 10 * time.Second}
}

// Call sends one JSON-RPC request for method, merging the client's token
// into params, and returns the decoded result on success. Any failure —
// dial, write, malformed response, or a JSON-RPC error object — is
// returned as a *CallError carrying the mapped exit code.
func (c *Client) Call(ctx context.Context, method string, params map[string]any) (any, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "unix", c.SocketPath)
	if err != nil {
		return nil, &CallError{Code: ExitUnreachable, Err: fmt.Errorf("connect to daemon at %s: %w", c.SocketPath, err)}
	}
	defer conn.Close()

	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	} else {
		_ = conn.SetDeadline(time.Now().Add(c.Timeout))
	}

	if params == nil {
		params = map[string]any{}
	}
	params["token"] = c.Token

	rawParams, err := json.Marshal(params)
	if err != nil {
		return nil, &CallError{Code: ExitInvalidArgs, Err: fmt.Errorf("encode params: %w", err)}
	}
	req := rpc.Request{JSONRPC: "2.0", ID: json.RawMessage("1"), Method: method, Params: rawParams}
	line, err := json.Marshal(req)
	if err != nil {
		return nil, &CallError{Code: ExitFailure, Err: fmt.Errorf("encode request: %w", err)}
	}
	if _, err := conn.Write(append(line, '\n')); err != nil {
		return nil, &CallError{Code: ExitUnreachable, Err: fmt.Errorf("write request: %w", err)}
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, &CallError{Code: ExitUnreachable, Err: fmt.Errorf("read response: %w", err)}
		}
		return nil, &CallError{Code: ExitUnreachable, Err: fmt.Errorf("daemon closed the connection without responding")}
	}

	var resp rpc.Response
	if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
		return nil, &CallError{Code: ExitFailure, Err: fmt.Errorf("parse response: %w", err)}
	}
	if resp.Error != nil {
		return nil, &CallError{Code: exitCodeFor(resp.Error.Code), Err: fmt.Errorf("%s", resp.Error.Message)}
	}
	return resp.Result, nil
}

func exitCodeFor(code int) ExitCode {
	switch code {
	case rpc.CodeUnauthorized:
		return ExitUnauthorized
	case rpc.CodeInvalidParams, rpc.CodeInvalidRequest, rpc.CodeMethodNotFound, rpc.CodeParseError:
		return ExitInvalidArgs
	default:
		return ExitFailure
	}
}
