package conversation

import (
	"context"
	"log/slog"
	"time"

	"github.com/shoplens/stylist/internal/store"
)

const reaperInterval = 5 * time.Minute

// StartReaper runs a background goroutine that periodically retires
// conversations idle for longer than ttl: their live instances are dropped
// (cancelling any in-flight poll) and their registry rows removed.
func StartReaper(ctx context.Context, repo store.Repository, mgr *Manager, ttl time.Duration) {
	ticker := time.NewTicker(reaperInterval)
	go func() {
		defer ticker.Stop()
		slog.Info("conversation reaper started", "interval", reaperInterval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				reapIdleConversations(ctx, repo, mgr, ttl)
			case <-ctx.Done():
				slog.Info("conversation reaper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func reapIdleConversations(ctx context.Context, repo store.Repository, mgr *Manager, ttl time.Duration) {
	expired, err := repo.GetExpiredConversations(ctx, ttl)
	if err != nil {
		slog.Error("reaper failed to get expired conversations", "error", err)
		return
	}

	if len(expired) == 0 {
		return
	}

	slog.Info("reaper found idle conversations", "count", len(expired))

	for _, conv := range expired {
		mgr.Drop(conv.UserID, conv.ClientSessionID)

		if err := repo.DeleteConversation(ctx, conv.UserID, conv.ClientSessionID); err != nil {
			slog.Warn("reaper failed to delete conversation row",
				"error", err,
				"user_id", conv.UserID,
				"client_session_id", conv.ClientSessionID)
		}
	}

	slog.Info("reaper cleanup completed", "reaped", len(expired))

	// Rows recreated mid-sweep are missed by the per-row pass; the coarse
	// cleanup catches them on a later pass.
	if deleted, err := repo.CleanupExpiredConversations(ctx, 7*24*time.Hour); err != nil {
		slog.Error("reaper failed to cleanup orphaned conversation rows", "error", err)
	} else if deleted > 0 {
		slog.Info("reaper cleaned up orphaned conversation rows", "count", deleted)
	}
}
