// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/shoplens/stylist/internal/domain"
)

// Repository persists user identities and the conversation registry. Only
// identity bookkeeping is stored; conversation content never is.
type Repository interface {
	// GetUser retrieves a user by their user ID. Returns nil when absent.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates or updates a user record.
	UpsertUser(ctx context.Context, user *domain.User) error

	// UpdateLastSeen updates the last_seen_at timestamp for a user.
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error

	// GetConversation retrieves the registry row for a device/tab pair.
	// Returns nil when absent.
	GetConversation(ctx context.Context, userID, clientSessionID string) (*domain.Conversation, error)

	// UpsertConversation creates or updates a conversation registry row.
	UpsertConversation(ctx context.Context, conv *domain.Conversation) error

	// DeleteConversation removes a conversation registry row.
	DeleteConversation(ctx context.Context, userID, clientSessionID string) error

	// GetExpiredConversations retrieves conversations idle for longer
	// than ttl.
	GetExpiredConversations(ctx context.Context, ttl time.Duration) ([]*domain.Conversation, error)

	// CleanupExpiredConversations removes conversations idle for longer
	// than ttl and reports how many were removed.
	CleanupExpiredConversations(ctx context.Context, ttl time.Duration) (int64, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
