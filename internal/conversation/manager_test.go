package conversation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shoplens/stylist/internal/domain"
	"github.com/shoplens/stylist/internal/orchestrator"
	"github.com/shoplens/stylist/internal/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRepo struct {
	mu    sync.Mutex
	convs map[string]*domain.Conversation
}

func newStubRepo() *stubRepo {
	return &stubRepo{convs: make(map[string]*domain.Conversation)}
}

func (r *stubRepo) GetUser(ctx context.Context, userID string) (*domain.User, error) { return nil, nil }
func (r *stubRepo) UpsertUser(ctx context.Context, user *domain.User) error          { return nil }
func (r *stubRepo) UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error {
	return nil
}

func (r *stubRepo) GetConversation(ctx context.Context, userID, clientSessionID string) (*domain.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.convs[userID+":"+clientSessionID], nil
}

func (r *stubRepo) UpsertConversation(ctx context.Context, conv *domain.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.convs[conv.UserID+":"+conv.ClientSessionID] = conv
	return nil
}

func (r *stubRepo) DeleteConversation(ctx context.Context, userID, clientSessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.convs, userID+":"+clientSessionID)
	return nil
}

func (r *stubRepo) GetExpiredConversations(ctx context.Context, ttl time.Duration) ([]*domain.Conversation, error) {
	return nil, nil
}

func (r *stubRepo) CleanupExpiredConversations(ctx context.Context, ttl time.Duration) (int64, error) {
	return 0, nil
}

func (r *stubRepo) Ping(ctx context.Context) error { return nil }
func (r *stubRepo) Close() error                   { return nil }

type stubClient struct{}

func (stubClient) SendTurn(ctx context.Context, message, sessionID, imageURL string) (*remote.TurnResponse, error) {
	return &remote.TurnResponse{
		SessionID: "sess-live",
		Response:  remote.AgentMessage{Type: remote.TypeText, Text: "네"},
	}, nil
}

func (stubClient) CheckStatus(ctx context.Context, kind domain.OperationKind, id int64, sessionID string) (*remote.AgentMessage, error) {
	return nil, nil
}

func (stubClient) RequestFitting(ctx context.Context, productID int64, userImageURL string) (*remote.FittingJob, error) {
	return nil, nil
}

func (stubClient) FittingStatus(ctx context.Context, fittingID int64) (*remote.FittingStatus, error) {
	return nil, nil
}

func (stubClient) FittingResult(ctx context.Context, fittingID int64) (*remote.FittingResult, error) {
	return nil, nil
}

func (stubClient) Close() {}

func newTestManager(t *testing.T, repo *stubRepo) *Manager {
	t.Helper()
	mgr := NewManager(stubClient{}, repo, orchestrator.Options{
		PollInterval:    time.Millisecond,
		PollMaxAttempts: 3,
	}, time.Hour)
	t.Cleanup(mgr.CloseAll)
	return mgr
}

func TestGetCreatesOncePerPair(t *testing.T) {
	mgr := newTestManager(t, newStubRepo())
	ctx := context.Background()

	a := mgr.Get(ctx, "anon_1", "tab-1")
	b := mgr.Get(ctx, "anon_1", "tab-1")
	assert.Same(t, a, b, "same device/tab pair shares one conversation")

	c := mgr.Get(ctx, "anon_1", "tab-2")
	assert.NotSame(t, a, c, "a second tab is its own conversation")

	d := mgr.Get(ctx, "anon_2", "tab-1")
	assert.NotSame(t, a, d)

	assert.Equal(t, 3, mgr.Len())
}

func TestGetRehydratesAgentSession(t *testing.T) {
	repo := newStubRepo()
	repo.convs["anon_1:tab-1"] = &domain.Conversation{
		UserID:          "anon_1",
		ClientSessionID: "tab-1",
		AgentSessionID:  "sess-persisted",
	}

	mgr := newTestManager(t, repo)
	conv := mgr.Get(context.Background(), "anon_1", "tab-1")
	assert.Equal(t, "sess-persisted", conv.Orchestrator.SessionID())
}

func TestTouchPersistsSessionAndTurns(t *testing.T) {
	repo := newStubRepo()
	mgr := newTestManager(t, repo)
	ctx := context.Background()

	conv := mgr.Get(ctx, "anon_1", "tab-1")
	_, err := conv.Orchestrator.Send(ctx, "안녕", "")
	require.NoError(t, err)

	mgr.Touch(ctx, conv, 1)
	mgr.Touch(ctx, conv, 1)

	row, err := repo.GetConversation(ctx, "anon_1", "tab-1")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "sess-live", row.AgentSessionID)
	assert.Equal(t, 2, row.TurnCount, "turn count accumulates across touches")
}

func TestResetClearsStateAndRow(t *testing.T) {
	repo := newStubRepo()
	mgr := newTestManager(t, repo)
	ctx := context.Background()

	conv := mgr.Get(ctx, "anon_1", "tab-1")
	_, err := conv.Orchestrator.Send(ctx, "안녕", "")
	require.NoError(t, err)
	mgr.Touch(ctx, conv, 1)

	mgr.Reset(ctx, "anon_1", "tab-1")

	assert.Empty(t, conv.Orchestrator.SessionID())
	row, err := repo.GetConversation(ctx, "anon_1", "tab-1")
	require.NoError(t, err)
	assert.Nil(t, row)
	assert.Equal(t, 1, mgr.Len(), "the live instance survives a reset")
}

func TestDropRemovesInstance(t *testing.T) {
	mgr := newTestManager(t, newStubRepo())
	ctx := context.Background()

	mgr.Get(ctx, "anon_1", "tab-1")
	require.Equal(t, 1, mgr.Len())

	mgr.Drop("anon_1", "tab-1")
	assert.Equal(t, 0, mgr.Len())

	// Dropping an absent conversation is a no-op.
	mgr.Drop("anon_1", "tab-1")
}
