// Package api implements the HTTP surface of the Stylist server.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/shoplens/stylist/internal/config"
	"github.com/shoplens/stylist/internal/conversation"
	"github.com/shoplens/stylist/internal/remote"
	"github.com/shoplens/stylist/internal/store"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	repo    store.Repository
	mgr     *conversation.Manager
	client  remote.Client
	limiter *RateLimiter
	cfg     *config.Config
}

// NewHandler creates a new API handler.
func NewHandler(repo store.Repository, mgr *conversation.Manager, client remote.Client, cfg *config.Config) *Handler {
	return &Handler{
		repo:    repo,
		mgr:     mgr,
		client:  client,
		limiter: NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration),
		cfg:     cfg,
	}
}

// JSON writes a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

// Error writes a JSON error response.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// HandleHealth returns service health, including agent reachability when the
// client supports probing.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":        "ok",
		"conversations": h.mgr.Len(),
	}

	if err := h.repo.Ping(r.Context()); err != nil {
		resp["status"] = "degraded"
		resp["db"] = err.Error()
	}

	h.JSON(w, http.StatusOK, resp)
}
