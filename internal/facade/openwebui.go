// ABOUTME: OpenWebUI facade: function definitions and direct tool execution.
// ABOUTME: Execute bodies are {"name", "arguments"} and answers follow the tool execution contract.

package facade

import (
	"encoding/json"
	"net/http"

	"github.com/2389/mcp-hub/internal/hub"
)

const facadeOpenWebUI = "openwebui"

func (h *Handler) handleOpenWebUIFunctions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.functionDefinitions())
}

func (h *Handler) handleOpenWebUIExecute(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)

	var call hub.ToolCall
	if err := json.NewDecoder(r.Body).Decode(&call); err != nil {
		sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if call.Name == "" {
		sendJSONError(w, http.StatusBadRequest, "name is required")
		return
	}

	writeJSON(w, http.StatusOK, h.execute(r.Context(), facadeOpenWebUI, call))
}
