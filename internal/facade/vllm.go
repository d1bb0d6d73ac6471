// ABOUTME: vLLM facade: OpenAI-style tool definitions and tool call execution.
// ABOUTME: Arguments may arrive as an object or a JSON string; tool call ids are replayed from cache.

package facade

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/2389/mcp-hub/internal/hub"
)

const facadeVLLM = "vllm"

// VLLMExecuteRequest is the JSON body for POST /vllm/execute. Either the
// flat Name/Arguments pair or the OpenAI tool call Function object is used.
type VLLMExecuteRequest struct {
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Function  *struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function,omitempty"`
}

// VLLMExecuteResponse is the tool execution contract plus the echoed id.
type VLLMExecuteResponse struct {
	hub.ToolResult
	ToolCallID string `json:"tool_call_id,omitempty"`
	Replayed   bool   `json:"replayed,omitempty"`
}

func (h *Handler) handleVLLMTools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.functionDefinitions())
}

func (h *Handler) handleVLLMExecute(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)

	var req VLLMExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	call, err := req.toolCall()
	if err != nil {
		sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	key := replayKey(call.Name, req.ID)
	if h.replay != nil && key != "" {
		if res, ok := h.replay.Get(key); ok {
			h.logger.Debug("replaying tool call", "tool_call_id", req.ID, "tool_name", call.Name)
			writeJSON(w, http.StatusOK, VLLMExecuteResponse{ToolResult: res, ToolCallID: req.ID, Replayed: true})
			return
		}
	}

	res := h.execute(r.Context(), facadeVLLM, call)
	if h.replay != nil && key != "" {
		h.replay.Put(key, res)
	}
	writeJSON(w, http.StatusOK, VLLMExecuteResponse{ToolResult: res, ToolCallID: req.ID})
}

func replayKey(tool, id string) string {
	if id == "" {
		return ""
	}
	return facadeVLLM + ":" + tool + ":" + id
}

func (req VLLMExecuteRequest) toolCall() (hub.ToolCall, error) {
	name, raw := req.Name, req.Arguments
	if name == "" && req.Function != nil {
		name, raw = req.Function.Name, req.Function.Arguments
	}
	if name == "" {
		return hub.ToolCall{}, errors.New("name is required")
	}
	args, err := decodeArguments(raw)
	if err != nil {
		return hub.ToolCall{}, err
	}
	return hub.ToolCall{Name: name, Arguments: args}, nil
}

// decodeArguments accepts an object, a JSON string holding an object, or
// nothing at all.
func decodeArguments(raw json.RawMessage) (map[string]any, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return map[string]any{}, nil
	}
	if raw[0] == '"' {
		var encoded string
		if err := json.Unmarshal(raw, &encoded); err != nil {
			return nil, fmt.Errorf("invalid arguments: %w", err)
		}
		raw = bytes.TrimSpace([]byte(encoded))
		if len(raw) == 0 {
			return map[string]any{}, nil
		}
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, errors.New("arguments must be a JSON object or a string containing one")
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}
