package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/shoplens/stylist/internal/identity"
	"github.com/shoplens/stylist/internal/orchestrator"
	"github.com/shoplens/stylist/internal/poll"
)

type sendRequest struct {
	Message  string `json:"message"`
	ImageURL string `json:"image_url,omitempty"`
}

// HandleSend handles POST /api/assistant/send. It blocks until the turn
// reaches its terminal response, polling pending operations underneath, and
// returns the projected result together with the resulting state snapshot.
func (h *Handler) HandleSend(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())

	if !h.limiter.Allow(userID) {
		h.Error(w, http.StatusTooManyRequests, "rate limit exceeded, please slow down")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.SSE.MaxRequestBodySize)
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" && req.ImageURL == "" {
		h.Error(w, http.StatusBadRequest, "message or image_url is required")
		return
	}

	conv := h.mgr.Get(r.Context(), userID, sessionID)

	result, err := conv.Orchestrator.Send(r.Context(), req.Message, req.ImageURL)
	if err != nil {
		switch {
		case errors.Is(err, orchestrator.ErrOperationActive):
			h.Error(w, http.StatusConflict, "an operation is already in progress")
		case errors.Is(err, poll.ErrTimeout):
			h.Error(w, http.StatusGatewayTimeout, "the request took too long, please try again")
		case errors.Is(err, poll.ErrCancelled), errors.Is(err, context.Canceled):
			// Client went away or the conversation was reset mid-turn.
			h.Error(w, http.StatusRequestTimeout, "request cancelled")
		default:
			slog.Error("assistant turn failed", "user_id", userID, "error", err)
			h.Error(w, http.StatusBadGateway, "the assistant is unavailable, please try again")
		}
		return
	}

	h.mgr.Touch(r.Context(), conv, 1)

	h.JSON(w, http.StatusOK, map[string]any{
		"result": result,
		"state":  conv.Controller.Snapshot(),
	})
}

// HandleReset handles POST /api/assistant/reset. The next turn starts a fresh
// agent session; responses from superseded turns are discarded, never applied.
func (h *Handler) HandleReset(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())

	h.mgr.Reset(r.Context(), userID, sessionID)
	slog.Info("conversation reset", "user_id", userID, "client_session_id", sessionID)

	h.JSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// HandleState handles GET /api/assistant/state.
func (h *Handler) HandleState(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())

	conv := h.mgr.Get(r.Context(), userID, sessionID)

	h.JSON(w, http.StatusOK, map[string]any{
		"state":      conv.Controller.Snapshot(),
		"session_id": conv.Orchestrator.SessionID(),
		"pending":    conv.Orchestrator.Pending(),
	})
}
