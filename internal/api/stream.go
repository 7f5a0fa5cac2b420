package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/shoplens/stylist/internal/identity"
	"github.com/shoplens/stylist/internal/state"
)

// HandleStateStream handles GET /api/assistant/stream, a server-sent events
// stream of state snapshots. The client re-renders from each snapshot; events
// are snapshots rather than deltas so a dropped event is harmless.
func (h *Handler) HandleStateStream(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	fmt.Fprintf(w, "retry: %d\n\n", h.cfg.SSE.RetryDelay.Milliseconds())
	flusher.Flush()

	conv := h.mgr.Get(r.Context(), userID, sessionID)

	// Snapshots are dropped, not queued, when the client cannot keep up;
	// the next snapshot carries the full state anyway.
	snapshots := make(chan state.Snapshot, 8)
	cancel := conv.Controller.Subscribe(func(snap state.Snapshot) {
		select {
		case snapshots <- snap:
		default:
		}
	})
	defer cancel()

	eventID := 0
	writeSSEWithID(w, flusher, &eventID, "state", conv.Controller.Snapshot())

	keepalive := time.NewTicker(h.cfg.SSE.KeepaliveInterval)
	defer keepalive.Stop()

	slog.Debug("state stream opened", "user_id", userID, "client_session_id", sessionID)

	for {
		select {
		case <-r.Context().Done():
			slog.Debug("state stream closed", "user_id", userID)
			return
		case snap := <-snapshots:
			writeSSEWithID(w, flusher, &eventID, "state", snap)
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

func writeSSEWithID(w http.ResponseWriter, flusher http.Flusher, eventID *int, event string, data any) {
	*eventID++
	fmt.Fprintf(w, "id: %d\n", *eventID)
	writeSSE(w, flusher, event, data)
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		slog.Error("failed to encode SSE payload", "event", event, "error", err)
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
	flusher.Flush()
}
