package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/shoplens/stylist/internal/identity"
	"github.com/shoplens/stylist/internal/orchestrator"
	"github.com/shoplens/stylist/internal/poll"
)

type analysisRequest struct {
	ImageURL string `json:"image_url"`
	Message  string `json:"message,omitempty"`
}

// HandleAnalyze handles POST /api/assistant/analyze, the image-first entry
// point. It is a conversation turn like any chat message: the agent answers
// with an analysis_pending marker, the orchestrator polls it out, and similar
// products arrive as candidates in the resulting state snapshot.
func (h *Handler) HandleAnalyze(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())

	if !h.limiter.Allow(userID) {
		h.Error(w, http.StatusTooManyRequests, "rate limit exceeded, please slow down")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.SSE.MaxRequestBodySize)
	var req analysisRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ImageURL == "" {
		h.Error(w, http.StatusBadRequest, "image_url is required")
		return
	}

	conv := h.mgr.Get(r.Context(), userID, sessionID)

	result, err := conv.Orchestrator.Send(r.Context(), req.Message, req.ImageURL)
	if err != nil {
		switch {
		case errors.Is(err, orchestrator.ErrOperationActive):
			h.Error(w, http.StatusConflict, "an operation is already in progress")
		case errors.Is(err, poll.ErrTimeout):
			h.Error(w, http.StatusGatewayTimeout, "analysis took too long, please try again")
		case errors.Is(err, poll.ErrCancelled):
			h.Error(w, http.StatusRequestTimeout, "request cancelled")
		default:
			slog.Error("analysis turn failed", "user_id", userID, "error", err)
			h.Error(w, http.StatusBadGateway, "analysis is unavailable, please try again")
		}
		return
	}

	h.mgr.Touch(r.Context(), conv, 1)

	h.JSON(w, http.StatusOK, map[string]any{
		"result": result,
		"state":  conv.Controller.Snapshot(),
	})
}
