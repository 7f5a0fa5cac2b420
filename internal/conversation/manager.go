// Package conversation manages live conversation instances, one per
// device/tab pair, and retires the idle ones.
package conversation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shoplens/stylist/internal/domain"
	"github.com/shoplens/stylist/internal/orchestrator"
	"github.com/shoplens/stylist/internal/remote"
	"github.com/shoplens/stylist/internal/state"
	"github.com/shoplens/stylist/internal/store"
)

// Conversation bundles the single writer of conversation state (the
// orchestrator) with its read-side projection (the controller).
type Conversation struct {
	UserID          string
	ClientSessionID string
	Orchestrator    *orchestrator.Orchestrator
	Controller      *state.Controller
}

// Manager keys live conversations by user and client session id, creating
// them on first use and rehydrating the agent session id from the registry.
type Manager struct {
	client          remote.Client
	repo            store.Repository
	orchOpts        orchestrator.Options
	captionInterval time.Duration

	mu    sync.RWMutex
	conns map[string]*Conversation
}

// NewManager creates a conversation manager.
func NewManager(client remote.Client, repo store.Repository, orchOpts orchestrator.Options, captionInterval time.Duration) *Manager {
	return &Manager{
		client:          client,
		repo:            repo,
		orchOpts:        orchOpts,
		captionInterval: captionInterval,
		conns:           make(map[string]*Conversation),
	}
}

func conversationKey(userID, clientSessionID string) string {
	return userID + ":" + clientSessionID
}

// Get returns the live conversation for a device/tab pair, creating it when
// absent. A previously issued agent session id is adopted from the registry
// so the remote agent keeps its context across reconnects.
func (m *Manager) Get(ctx context.Context, userID, clientSessionID string) *Conversation {
	key := conversationKey(userID, clientSessionID)

	m.mu.RLock()
	conv, ok := m.conns[key]
	m.mu.RUnlock()
	if ok {
		return conv
	}

	m.mu.Lock()
	if conv, ok = m.conns[key]; ok {
		m.mu.Unlock()
		return conv
	}

	orch := orchestrator.New(m.client, m.orchOpts)
	ctrl := state.NewController(m.captionInterval)
	orch.Subscribe(ctrl.Apply)

	conv = &Conversation{
		UserID:          userID,
		ClientSessionID: clientSessionID,
		Orchestrator:    orch,
		Controller:      ctrl,
	}
	m.conns[key] = conv
	m.mu.Unlock()

	if row, err := m.repo.GetConversation(ctx, userID, clientSessionID); err != nil {
		slog.Warn("failed to load conversation registry row",
			"user_id", userID,
			"client_session_id", clientSessionID,
			"error", err)
	} else if row != nil && row.AgentSessionID != "" {
		orch.AdoptSession(row.AgentSessionID)
		slog.Info("conversation rehydrated",
			"user_id", userID,
			"client_session_id", clientSessionID)
	}

	return conv
}

// Touch persists the conversation's current agent session id and bumps its
// last-seen timestamp. Called after each completed turn.
func (m *Manager) Touch(ctx context.Context, conv *Conversation, turnDelta int) {
	row, err := m.repo.GetConversation(ctx, conv.UserID, conv.ClientSessionID)
	if err != nil {
		slog.Warn("failed to read conversation registry row", "error", err)
		row = nil
	}

	now := time.Now()
	next := &domain.Conversation{
		UserID:          conv.UserID,
		ClientSessionID: conv.ClientSessionID,
		AgentSessionID:  conv.Orchestrator.SessionID(),
		TurnCount:       turnDelta,
		LastSeenAt:      now,
	}
	if row != nil {
		next.TurnCount = row.TurnCount + turnDelta
		next.CreatedAt = row.CreatedAt
	}

	if err := m.repo.UpsertConversation(ctx, next); err != nil {
		slog.Warn("failed to persist conversation registry row",
			"user_id", conv.UserID,
			"client_session_id", conv.ClientSessionID,
			"error", err)
	}
}

// Reset clears a conversation's agent-side state and removes its registry
// row. The live instance stays available for the next turn.
func (m *Manager) Reset(ctx context.Context, userID, clientSessionID string) {
	key := conversationKey(userID, clientSessionID)

	m.mu.RLock()
	conv, ok := m.conns[key]
	m.mu.RUnlock()
	if ok {
		conv.Orchestrator.Reset()
	}

	if err := m.repo.DeleteConversation(ctx, userID, clientSessionID); err != nil {
		slog.Warn("failed to delete conversation registry row",
			"user_id", userID,
			"client_session_id", clientSessionID,
			"error", err)
	}
}

// Drop tears a live conversation down entirely, cancelling in-flight polls
// and stopping its caption ticker. Used by the reaper and on shutdown.
func (m *Manager) Drop(userID, clientSessionID string) {
	key := conversationKey(userID, clientSessionID)

	m.mu.Lock()
	conv, ok := m.conns[key]
	if ok {
		delete(m.conns, key)
	}
	m.mu.Unlock()

	if ok {
		conv.Orchestrator.Close()
		conv.Controller.Close()
	}
}

// Len reports the number of live conversations.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

// CloseAll tears down every live conversation.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	conns := m.conns
	m.conns = make(map[string]*Conversation)
	m.mu.Unlock()

	for _, conv := range conns {
		conv.Orchestrator.Close()
		conv.Controller.Close()
	}
}
