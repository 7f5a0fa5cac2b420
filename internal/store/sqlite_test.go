package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shoplens/stylist/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) Repository {
	t.Helper()

	repo, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := repo.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})
	return repo
}

func TestUserRoundTrip(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	got, err := repo.GetUser(ctx, "anon_missing")
	require.NoError(t, err)
	assert.Nil(t, got)

	now := time.Now().Truncate(time.Second)
	user := &domain.User{
		UserID:     "anon_abc123",
		Username:   "shopper-abc123",
		LastSeenAt: now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	require.NoError(t, repo.UpsertUser(ctx, user))

	got, err = repo.GetUser(ctx, "anon_abc123")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "shopper-abc123", got.Username)
	assert.Equal(t, now.Unix(), got.LastSeenAt.Unix())
}

func TestUpdateLastSeen(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	created := time.Now().Add(-time.Hour)
	require.NoError(t, repo.UpsertUser(ctx, &domain.User{
		UserID:     "anon_abc123",
		Username:   "shopper",
		LastSeenAt: created,
		CreatedAt:  created,
		UpdatedAt:  created,
	}))

	seen := time.Now()
	require.NoError(t, repo.UpdateLastSeen(ctx, "anon_abc123", seen))

	got, err := repo.GetUser(ctx, "anon_abc123")
	require.NoError(t, err)
	assert.Equal(t, seen.Unix(), got.LastSeenAt.Unix())
}

func TestConversationRoundTrip(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	got, err := repo.GetConversation(ctx, "anon_abc123", "tab-1")
	require.NoError(t, err)
	assert.Nil(t, got)

	now := time.Now()
	require.NoError(t, repo.UpsertConversation(ctx, &domain.Conversation{
		UserID:          "anon_abc123",
		ClientSessionID: "tab-1",
		AgentSessionID:  "sess-1",
		TurnCount:       1,
		LastSeenAt:      now,
	}))

	got, err = repo.GetConversation(ctx, "anon_abc123", "tab-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "sess-1", got.AgentSessionID)
	assert.Equal(t, 1, got.TurnCount)
}

func TestConversationUpsertKeepsSessionID(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, repo.UpsertConversation(ctx, &domain.Conversation{
		UserID:          "anon_abc123",
		ClientSessionID: "tab-1",
		AgentSessionID:  "sess-1",
		TurnCount:       1,
		LastSeenAt:      now,
	}))

	// An update without a session id must not erase the stored one.
	require.NoError(t, repo.UpsertConversation(ctx, &domain.Conversation{
		UserID:          "anon_abc123",
		ClientSessionID: "tab-1",
		TurnCount:       2,
		LastSeenAt:      now.Add(time.Minute),
	}))

	got, err := repo.GetConversation(ctx, "anon_abc123", "tab-1")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", got.AgentSessionID)
	assert.Equal(t, 2, got.TurnCount)
}

func TestDeleteConversation(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, repo.UpsertConversation(ctx, &domain.Conversation{
		UserID:          "anon_abc123",
		ClientSessionID: "tab-1",
		LastSeenAt:      time.Now(),
	}))
	require.NoError(t, repo.DeleteConversation(ctx, "anon_abc123", "tab-1"))

	got, err := repo.GetConversation(ctx, "anon_abc123", "tab-1")
	require.NoError(t, err)
	assert.Nil(t, got)

	// Deleting an absent row is not an error.
	require.NoError(t, repo.DeleteConversation(ctx, "anon_abc123", "tab-1"))
}

func TestExpiredConversations(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	stale := time.Now().Add(-2 * time.Hour)
	fresh := time.Now()

	require.NoError(t, repo.UpsertConversation(ctx, &domain.Conversation{
		UserID: "anon_old", ClientSessionID: "tab-1", LastSeenAt: stale,
	}))
	require.NoError(t, repo.UpsertConversation(ctx, &domain.Conversation{
		UserID: "anon_new", ClientSessionID: "tab-1", LastSeenAt: fresh,
	}))

	expired, err := repo.GetExpiredConversations(ctx, time.Hour)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "anon_old", expired[0].UserID)

	deleted, err := repo.CleanupExpiredConversations(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	remaining, err := repo.GetConversation(ctx, "anon_new", "tab-1")
	require.NoError(t, err)
	assert.NotNil(t, remaining)
}

func TestPing(t *testing.T) {
	repo := newTestStore(t)
	assert.NoError(t, repo.Ping(context.Background()))
}
