package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/shoplens/stylist/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
	// Serializes conversation writes to prevent SQLITE_BUSY under the
	// reaper/handler overlap.
	convMu sync.Mutex
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_users_last_seen ON users(last_seen_at);

	CREATE TABLE IF NOT EXISTS conversations (
		user_id TEXT NOT NULL,
		client_session_id TEXT NOT NULL,
		agent_session_id TEXT,
		turn_count INTEGER NOT NULL DEFAULT 0,
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (user_id, client_session_id)
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_last_seen ON conversations(last_seen_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetUser retrieves a user by their user ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := `
		SELECT user_id, username, last_seen_at, created_at, updated_at
		FROM users WHERE user_id = ?`

	row := s.db.QueryRowContext(ctx, query, userID)

	var user domain.User
	var lastSeen, createdAt, updatedAt int64

	err := row.Scan(&user.UserID, &user.Username, &lastSeen, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}

	user.LastSeenAt = time.Unix(lastSeen, 0)
	user.CreatedAt = time.Unix(createdAt, 0)
	user.UpdatedAt = time.Unix(updatedAt, 0)

	return &user, nil
}

// UpsertUser creates or updates a user record.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *domain.User) error {
	query := `
	INSERT INTO users (user_id, username, last_seen_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		username = excluded.username,
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		user.UserID, user.Username,
		user.LastSeenAt.Unix(), user.CreatedAt.Unix(), user.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// UpdateLastSeen updates the last_seen_at timestamp for a user.
func (s *SQLiteStore) UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error {
	query := `UPDATE users SET last_seen_at = ?, updated_at = ? WHERE user_id = ?`
	result, err := s.db.ExecContext(ctx, query, lastSeen.Unix(), time.Now().Unix(), userID)
	if err != nil {
		return fmt.Errorf("update last_seen: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateLastSeen affected 0 rows", "user_id", userID)
	}

	return nil
}

// GetConversation retrieves the registry row for a device/tab pair.
func (s *SQLiteStore) GetConversation(ctx context.Context, userID, clientSessionID string) (*domain.Conversation, error) {
	s.convMu.Lock()
	defer s.convMu.Unlock()

	query := `
		SELECT user_id, client_session_id, agent_session_id, turn_count,
		       last_seen_at, created_at, updated_at
		FROM conversations WHERE user_id = ? AND client_session_id = ?`

	row := s.db.QueryRowContext(ctx, query, userID, clientSessionID)

	var conv domain.Conversation
	var agentSessionID sql.NullString
	var lastSeen, createdAt, updatedAt int64

	err := row.Scan(
		&conv.UserID, &conv.ClientSessionID, &agentSessionID, &conv.TurnCount,
		&lastSeen, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation row: %w", err)
	}

	conv.AgentSessionID = agentSessionID.String
	conv.LastSeenAt = time.Unix(lastSeen, 0)
	conv.CreatedAt = time.Unix(createdAt, 0)
	conv.UpdatedAt = time.Unix(updatedAt, 0)

	return &conv, nil
}

// UpsertConversation creates or updates a conversation registry row.
func (s *SQLiteStore) UpsertConversation(ctx context.Context, conv *domain.Conversation) error {
	s.convMu.Lock()
	defer s.convMu.Unlock()

	query := `
		INSERT INTO conversations (
			user_id, client_session_id, agent_session_id, turn_count,
			last_seen_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, client_session_id) DO UPDATE SET
			agent_session_id = COALESCE(excluded.agent_session_id, conversations.agent_session_id),
			turn_count = excluded.turn_count,
			last_seen_at = excluded.last_seen_at,
			updated_at = excluded.updated_at`

	var agentSessionID interface{}
	if conv.AgentSessionID != "" {
		agentSessionID = conv.AgentSessionID
	}

	createdAt := conv.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, query,
		conv.UserID, conv.ClientSessionID, agentSessionID, conv.TurnCount,
		conv.LastSeenAt.Unix(), createdAt.Unix(), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert conversation: %w", err)
	}
	return nil
}

// DeleteConversation removes a conversation registry row. Retries with
// exponential backoff to handle SQLITE_BUSY from overlapping reaper sweeps.
func (s *SQLiteStore) DeleteConversation(ctx context.Context, userID, clientSessionID string) error {
	maxRetries := 3
	baseDelay := 100 * time.Millisecond

	for i := 0; i < maxRetries; i++ {
		err := s.deleteConversationOnce(ctx, userID, clientSessionID)
		if err == nil {
			return nil
		}

		if isSQLiteConflict(err) && i < maxRetries-1 {
			delay := baseDelay * time.Duration(1<<i)
			slog.Debug("DeleteConversation hit SQLITE_BUSY, retrying",
				"user_id", userID,
				"client_session_id", clientSessionID,
				"attempt", i+1,
				"delay", delay)
			time.Sleep(delay)
			continue
		}

		return fmt.Errorf("delete conversation %s/%s after %d attempts: %w", userID, clientSessionID, i+1, err)
	}

	return nil
}

func (s *SQLiteStore) deleteConversationOnce(ctx context.Context, userID, clientSessionID string) error {
	s.convMu.Lock()
	defer s.convMu.Unlock()

	query := `DELETE FROM conversations WHERE user_id = ? AND client_session_id = ?`
	if _, err := s.db.ExecContext(ctx, query, userID, clientSessionID); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return nil
}

// GetExpiredConversations retrieves conversations idle for longer than ttl.
func (s *SQLiteStore) GetExpiredConversations(ctx context.Context, ttl time.Duration) ([]*domain.Conversation, error) {
	threshold := time.Now().Add(-ttl).Unix()
	query := `
		SELECT user_id, client_session_id, agent_session_id, turn_count,
		       last_seen_at, created_at, updated_at
		FROM conversations WHERE last_seen_at < ?`

	rows, err := s.db.QueryContext(ctx, query, threshold)
	if err != nil {
		return nil, fmt.Errorf("query expired conversations: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close expired conversations rows", "error", closeErr)
		}
	}()

	var convs []*domain.Conversation
	for rows.Next() {
		var conv domain.Conversation
		var agentSessionID sql.NullString
		var lastSeen, createdAt, updatedAt int64

		if err := rows.Scan(
			&conv.UserID, &conv.ClientSessionID, &agentSessionID, &conv.TurnCount,
			&lastSeen, &createdAt, &updatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan expired conversation row: %w", err)
		}

		conv.AgentSessionID = agentSessionID.String
		conv.LastSeenAt = time.Unix(lastSeen, 0)
		conv.CreatedAt = time.Unix(createdAt, 0)
		conv.UpdatedAt = time.Unix(updatedAt, 0)
		convs = append(convs, &conv)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired conversations: %w", err)
	}

	return convs, nil
}

// CleanupExpiredConversations removes conversations idle for longer than ttl.
func (s *SQLiteStore) CleanupExpiredConversations(ctx context.Context, ttl time.Duration) (int64, error) {
	s.convMu.Lock()
	defer s.convMu.Unlock()

	threshold := time.Now().Add(-ttl).Unix()
	result, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE last_seen_at < ?`, threshold)
	if err != nil {
		return 0, fmt.Errorf("cleanup expired conversations: %w", err)
	}
	return result.RowsAffected()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// isSQLiteConflict reports whether err is a SQLITE_BUSY / "database is
// locked" concurrency error that warrants a retry.
func isSQLiteConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}
