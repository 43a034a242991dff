package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/horizonbay/support-agent/internal/chat"
)

// maxChatBodyBytes bounds chat request bodies.
const maxChatBodyBytes = 64 * 1024

// ChatExecutor runs one conversation turn. Satisfied by *chat.Agent.
type ChatExecutor interface {
	Execute(ctx context.Context, sessionKey, input string) *chat.Response
}

// chatRequest is the POST /api/chat body.
type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
}

// chatResponse is the POST /api/chat reply.
type chatResponse struct {
	Response  string `json:"response"`
	SessionID string `json:"sessionId"`
}

type chatHandler struct {
	agent  ChatExecutor
	logger *slog.Logger
}

// send handles POST /api/chat. The agent converts internal failures into a
// fixed apology, so this handler only rejects malformed requests.
func (h *chatHandler) send(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxChatBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}

	if strings.TrimSpace(req.SessionID) == "" {
		writeError(w, http.StatusBadRequest, "missing_session_id", "sessionId is required")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "missing_message", "message is required")
		return
	}

	resp := h.agent.Execute(r.Context(), req.SessionID, req.Message)
	h.logger.Debug("chat turn served",
		"session_id", req.SessionID,
		"response_len", len(resp.FinalText),
	)

	writeJSON(w, http.StatusOK, chatResponse{
		Response:  resp.FinalText,
		SessionID: req.SessionID,
	})
}
