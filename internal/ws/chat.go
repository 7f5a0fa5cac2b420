// Package ws implements the WebSocket chat surface. It carries the same
// conversation semantics as the HTTP endpoints: turns go through the
// orchestrator, state snapshots stream back as they change.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/shoplens/stylist/internal/conversation"
	"github.com/shoplens/stylist/internal/identity"
	"github.com/shoplens/stylist/internal/orchestrator"
	"github.com/shoplens/stylist/internal/state"
	"github.com/shoplens/stylist/internal/store"
)

// ChatHandler handles WebSocket-based chat sessions.
type ChatHandler struct {
	repo          store.Repository
	mgr           *conversation.Manager
	allowedOrigin string
	isDev         bool
}

// NewChatHandler creates a new WebSocket chat handler.
func NewChatHandler(repo store.Repository, mgr *conversation.Manager, allowedOrigin string, isDev bool) *ChatHandler {
	return &ChatHandler{
		repo:          repo,
		mgr:           mgr,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// wsMessage represents an inbound WebSocket message.
type wsMessage struct {
	Type     string `json:"type"`
	Message  string `json:"message,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// wsFrame represents an outbound WebSocket message.
type wsFrame struct {
	Type   string               `json:"type"`
	State  *state.Snapshot      `json:"state,omitempty"`
	Result *orchestrator.Result `json:"result,omitempty"`
	Error  string               `json:"error,omitempty"`
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	slog.Info("chat connection request", "user_id", userID, "session_id", sessionID, "ip", r.RemoteAddr)

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("failed to accept websocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conv := h.mgr.Get(ctx, userID, sessionID)

	// Stream every state change as a frame. Snapshots are full state, so a
	// frame lost to a slow reader is recovered by the next one.
	unsubscribe := conv.Controller.Subscribe(func(snap state.Snapshot) {
		if err := h.writeFrame(ctx, ws, wsFrame{Type: "state", State: &snap}); err != nil {
			slog.Debug("failed to push state frame", "error", err, "user_id", userID)
		}
	})
	defer unsubscribe()

	snap := conv.Controller.Snapshot()
	if err := h.writeFrame(ctx, ws, wsFrame{Type: "state", State: &snap}); err != nil {
		slog.Debug("failed to send initial state", "error", err, "user_id", userID)
		return
	}

	h.readLoop(ctx, ws, conv, userID, sessionID)
	slog.Info("chat session ended", "user_id", userID)
}

func (h *ChatHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("chat origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *ChatHandler) readLoop(ctx context.Context, ws *websocket.Conn, conv *conversation.Conversation, userID, sessionID string) {
	for {
		_, message, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("websocket closed by client", "user_id", userID)
			} else if !errors.Is(err, context.Canceled) {
				slog.Warn("websocket read error", "error", err, "user_id", userID)
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			if writeErr := h.writeFrame(ctx, ws, wsFrame{Type: "error", Error: "invalid message"}); writeErr != nil {
				slog.Debug("failed to send error frame", "error", writeErr)
			}
			continue
		}

		switch msg.Type {
		case "chat":
			msg.Message = strings.TrimSpace(msg.Message)
			if msg.Message == "" && msg.ImageURL == "" {
				if err := h.writeFrame(ctx, ws, wsFrame{Type: "error", Error: "message or image_url is required"}); err != nil {
					slog.Debug("failed to send error frame", "error", err)
				}
				continue
			}
			// Turns run off the read loop so the client can reset or
			// disconnect while one is in flight. Progress arrives via
			// state frames; the terminal result gets its own frame.
			go h.runTurn(ctx, ws, conv, msg, userID)

		case "reset":
			h.mgr.Reset(ctx, userID, sessionID)

		case "ping":
			if err := h.writeFrame(ctx, ws, wsFrame{Type: "pong"}); err != nil {
				slog.Debug("failed to send pong", "error", err)
			}
		}

		go func() {
			updateCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := h.repo.UpdateLastSeen(updateCtx, userID, time.Now()); err != nil {
				slog.Warn("failed to update last seen", "error", err)
			}
		}()
	}
}

func (h *ChatHandler) runTurn(ctx context.Context, ws *websocket.Conn, conv *conversation.Conversation, msg wsMessage, userID string) {
	result, err := conv.Orchestrator.Send(ctx, msg.Message, msg.ImageURL)
	if err != nil {
		if errors.Is(err, orchestrator.ErrOperationActive) {
			if writeErr := h.writeFrame(ctx, ws, wsFrame{Type: "error", Error: "an operation is already in progress"}); writeErr != nil {
				slog.Debug("failed to send error frame", "error", writeErr)
			}
		}
		// Other failures already surfaced through the state stream as an
		// error snapshot.
		return
	}

	h.mgr.Touch(ctx, conv, 1)

	if err := h.writeFrame(ctx, ws, wsFrame{Type: "result", Result: result}); err != nil {
		slog.Debug("failed to send result frame", "error", err, "user_id", userID)
	}
}

func (h *ChatHandler) writeFrame(ctx context.Context, ws *websocket.Conn, frame wsFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return ws.Write(ctx, websocket.MessageText, data)
}
