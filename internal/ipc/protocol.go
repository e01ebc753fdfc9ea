// Package ipc is the daemon's local control channel: one newline-delimited
// JSON request and one response per connection, over a named pipe on Windows
// and a unix socket elsewhere.
package ipc

import (
	"encoding/json"
	"log/slog"
	"os"
	"strings"

	"keyflow/internal/userutil"
)

// EnvEndpoint overrides the control endpoint. Values that do not look like a
// keyflow endpoint are ignored.
const EnvEndpoint = "KEYFLOW_PIPE"

// Control commands understood by the daemon.
const (
	CmdStatus  = "status"
	CmdReload  = "reload"
	CmdCancel  = "cancel"
	CmdPress   = "press"
	CmdRun     = "run"
	CmdHistory = "history"
)

// Request is a single control command.
type Request struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
}

// Response answers a Request. Data carries the structured result of
// commands such as status and history; Stdout is its human-readable form.
type Response struct {
	ExitCode int             `json:"exit_code"`
	Stdout   string          `json:"stdout,omitempty"`
	Stderr   string          `json:"stderr,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// Failure builds an exit-code-1 response.
func Failure(msg string) Response {
	if !strings.HasSuffix(msg, "\n") {
		msg += "\n"
	}
	return Response{ExitCode: 1, Stderr: msg}
}

// CommandExecutor handles a control request and returns a response.
type CommandExecutor interface {
	Execute(req Request) Response
}

// CommandExecutorFunc adapts a function to CommandExecutor.
type CommandExecutorFunc func(Request) Response

func (f CommandExecutorFunc) Execute(req Request) Response { return f(req) }

// DefaultEndpoint returns the endpoint to use. A trusted KEYFLOW_PIPE value
// wins; otherwise a per-user default is built from the current username.
func DefaultEndpoint() string {
	if v, ok := trustedEndpointFromEnv(); ok {
		return v
	}

	return defaultEndpoint(userutil.CurrentUsername())
}

func trustedEndpointFromEnv() (string, bool) {
	value := strings.TrimSpace(os.Getenv(EnvEndpoint))
	if value == "" {
		return "", false
	}
	if !validEndpoint(value) {
		slog.Warn("[ipc] KEYFLOW_PIPE rejected: value does not match allowed pattern", "value", value)
		return "", false
	}
	return value, true
}

func encodeRequest(req Request) ([]byte, error) {
	return json.Marshal(req)
}

func decodeRequest(raw []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return Request{}, err
	}
	req.Command = strings.ToLower(strings.TrimSpace(req.Command))
	if req.Args == nil {
		req.Args = []string{}
	}
	return req, nil
}

func encodeResponse(resp Response) ([]byte, error) {
	return json.Marshal(resp)
}

func decodeResponse(raw []byte) (Response, error) {
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Response{}, err
	}
	return resp, nil
}
