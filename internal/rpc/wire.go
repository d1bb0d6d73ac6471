// ABOUTME: Encoding of request lines and decoding of provider output lines.
// ABOUTME: Built on sourcegraph/jsonrpc2 message types; one JSON object per line.

package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/sourcegraph/jsonrpc2"

	"github.com/2389/mcp-hub/internal/fault"
)

// newID returns a fresh request id.
func newID() jsonrpc2.ID {
	return jsonrpc2.ID{Str: uuid.NewString(), IsString: true}
}

// encodeRequest serializes a request (or a notification when notif is set)
// as a single newline-terminated line. Nil params are sent as an empty object.
func encodeRequest(id jsonrpc2.ID, method string, params any, notif bool) ([]byte, error) {
	req := &jsonrpc2.Request{Method: method, ID: id, Notif: notif}
	if params == nil {
		params = struct{}{}
	}
	if err := req.SetParams(params); err != nil {
		return nil, fmt.Errorf("encoding params for %s: %w", method, err)
	}
	line, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding %s request: %w", method, err)
	}
	return append(line, '\n'), nil
}

// message is any line a provider may write: a response, a notification or a
// request of its own.
type message struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Result json.RawMessage `json:"result"`
	Error  json.RawMessage `json:"error"`
}

func decodeMessage(line []byte) (*message, error) {
	if trimmed := bytes.TrimSpace(line); len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fault.New(fault.MalformedResponse, "expected a JSON object: %s", truncate(line, 200))
	}
	var m message
	if err := json.Unmarshal(line, &m); err != nil {
		return nil, fault.Wrap(fault.MalformedResponse, err, "invalid JSON line: %s", truncate(line, 200))
	}
	return &m, nil
}

// isResponse reports whether the message answers a request. Lines with a
// method and no result or error are notifications or provider requests.
func (m *message) isResponse() bool {
	if m.Method == "" {
		return true
	}
	return !isNull(m.Result) || !isNull(m.Error)
}

// id returns the response id and whether one was present and decodable.
func (m *message) id() (jsonrpc2.ID, bool) {
	var id jsonrpc2.ID
	if isNull(m.ID) {
		return id, false
	}
	if err := json.Unmarshal(m.ID, &id); err != nil {
		return id, false
	}
	return id, true
}

// outcome converts a response into the call's result or a RemoteError.
func (m *message) outcome() (json.RawMessage, error) {
	if !isNull(m.Error) {
		return nil, remoteError(m.Error)
	}
	if isNull(m.Result) {
		return json.RawMessage("null"), nil
	}
	return m.Result, nil
}

func remoteError(raw json.RawMessage) error {
	var rerr jsonrpc2.Error
	if err := json.Unmarshal(raw, &rerr); err != nil || (rerr.Code == 0 && rerr.Message == "") {
		return fault.New(fault.RemoteError, "%s", truncate(raw, 500))
	}
	detail := fmt.Sprintf("code %d: %s", rerr.Code, rerr.Message)
	if rerr.Data != nil && !isNull(*rerr.Data) {
		detail += " (" + string(truncate(*rerr.Data, 300)) + ")"
	}
	return fault.Wrap(fault.RemoteError, &rerr, "%s", detail)
}

func isNull(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	out := make([]byte, 0, n+3)
	out = append(out, b[:n]...)
	return append(out, "..."...)
}
