// Package orchestrator owns conversation identity and turns user actions into
// tracked remote operations. Every Send yields exactly one non-pending
// logical response, whether or not polling happened underneath.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shoplens/stylist/internal/domain"
	"github.com/shoplens/stylist/internal/poll"
	"github.com/shoplens/stylist/internal/project"
	"github.com/shoplens/stylist/internal/remote"
)

// ErrOperationActive is returned when a Send would start a tracked operation
// while a blocking one is already in flight. Chat-style sends never block;
// they supersede the older turn via the generation counter instead.
var ErrOperationActive = errors.New("orchestrator: a blocking operation is already in flight")

// defaultFallbackMessage is shown when a terminal answer carries no text.
const defaultFallbackMessage = "요청하신 작업을 완료했어요."

// EventType labels orchestrator lifecycle events.
type EventType int

const (
	// EventDispatched fires when a turn has been handed to the agent.
	EventDispatched EventType = iota
	// EventResolved fires when a turn yielded its terminal response.
	EventResolved
	// EventFailed fires when a turn failed (transport, job failure, or
	// poll timeout). Cancellations never fire it.
	EventFailed
	// EventReset fires when the conversation was cleared.
	EventReset
)

// Event is one observable orchestrator state change. Generation identifies
// the turn that produced it; events from superseded generations are never
// delivered.
type Event struct {
	Type       EventType
	Kind       domain.RequestKind
	Result     *Result
	Err        error
	Generation uint64
}

// Result is the projected outcome of one conversation turn.
type Result struct {
	Type       string                    `json:"type"`
	Message    string                    `json:"message"`
	RawText    string                    `json:"raw_text,omitempty"`
	Candidates []domain.DisplayCandidate `json:"candidates,omitempty"`
	ResultURL  string                    `json:"result_url,omitempty"`
}

// Listener observes orchestrator events. Listeners are invoked synchronously
// on the goroutine that produced the event and must not block.
type Listener func(Event)

// Options configures an Orchestrator.
type Options struct {
	// PollInterval between status checks for pending operations.
	PollInterval time.Duration
	// PollMaxAttempts bounds status checks per pending operation.
	PollMaxAttempts int
	// FallbackMessage is shown when the agent answer has no text.
	FallbackMessage string
	Logger          *slog.Logger
}

// Orchestrator drives one conversation with the remote agent. It is the only
// writer of conversation state; UI layers read snapshots and issue Send/Reset.
type Orchestrator struct {
	client remote.Client
	opts   Options
	log    *slog.Logger

	mu         sync.Mutex
	sessionID  string
	pending    *domain.PendingOperation
	last       *Result
	generation uint64
	// ctx is the conversation lifetime; Reset cancels and replaces it so
	// in-flight polls stop scheduling within one tick.
	ctx    context.Context
	cancel context.CancelFunc

	// emitMu serializes event delivery; without it two overlapping turns
	// could deliver their dispatch events out of generation order.
	emitMu sync.Mutex

	listenerMu sync.Mutex
	listeners  []Listener
}

// New creates an orchestrator for one conversation.
func New(client remote.Client, opts Options) *Orchestrator {
	if opts.PollInterval <= 0 {
		opts.PollInterval = poll.DefaultInterval
	}
	if opts.PollMaxAttempts <= 0 {
		opts.PollMaxAttempts = poll.DefaultMaxAttempts
	}
	if opts.FallbackMessage == "" {
		opts.FallbackMessage = defaultFallbackMessage
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		client: client,
		opts:   opts,
		log:    opts.Logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Subscribe registers a listener for orchestrator events.
func (o *Orchestrator) Subscribe(fn Listener) {
	o.listenerMu.Lock()
	defer o.listenerMu.Unlock()
	o.listeners = append(o.listeners, fn)
}

// SessionID returns the current agent session id, or "" before the first turn.
func (o *Orchestrator) SessionID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sessionID
}

// AdoptSession seeds the agent session id from the registry when a
// conversation is rehydrated. A live session id is never overwritten; the
// server remains the source of truth once a turn has happened.
func (o *Orchestrator) AdoptSession(sessionID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.sessionID == "" {
		o.sessionID = sessionID
	}
}

// Last returns the most recent terminal result, or nil.
func (o *Orchestrator) Last() *Result {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.last
}

// Pending reports whether a tracked operation is currently in flight.
func (o *Orchestrator) Pending() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pending != nil
}

// Send submits one conversation turn and blocks until its terminal response
// is available, polling any pending operation the agent reports underneath.
// State changes are observable through subscribed listeners; completions that
// lost to a newer Send or a Reset are discarded, never applied.
func (o *Orchestrator) Send(ctx context.Context, message, imageURL string) (*Result, error) {
	kind := ClassifyRequest(message, imageURL != "")

	o.mu.Lock()
	if o.pending != nil && o.pending.Blocking {
		o.mu.Unlock()
		return nil, ErrOperationActive
	}
	o.generation++
	gen := o.generation
	sessionID := o.sessionID
	lifetime := o.ctx
	o.mu.Unlock()

	o.emitCurrent(gen, Event{Type: EventDispatched, Kind: kind})

	// Tie the turn to both the caller's context and the conversation
	// lifetime, so Reset cancels in-flight work even when the HTTP request
	// context outlives it.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(lifetime, cancel)
	defer stop()

	turn, err := o.client.SendTurn(ctx, message, sessionID, imageURL)
	if err != nil {
		o.fail(gen, kind, fmt.Errorf("send turn: %w", err))
		return nil, err
	}

	o.mu.Lock()
	if gen == o.generation {
		o.sessionID = turn.SessionID
	}
	o.mu.Unlock()

	msg := turn.Response
	if opKind, opID, ok := msg.PendingOperation(); ok {
		resolved, pollErr := o.trackOperation(ctx, gen, opKind, opID, turn.SessionID)
		if pollErr != nil {
			o.fail(gen, kind, pollErr)
			return nil, pollErr
		}
		// Replace the pending marker with the terminal response, so
		// callers only ever see one logical answer.
		msg = *resolved
	}

	result := o.projectResult(msg)

	o.mu.Lock()
	stale := gen != o.generation
	if !stale {
		o.last = result
		o.pending = nil
	}
	o.mu.Unlock()

	if stale {
		o.log.Debug("discarding stale turn completion", "generation", gen)
		return result, nil
	}
	o.emitCurrent(gen, Event{Type: EventResolved, Kind: kind, Result: result})
	return result, nil
}

// trackOperation registers the pending operation and polls it to a terminal
// answer.
func (o *Orchestrator) trackOperation(ctx context.Context, gen uint64, kind domain.OperationKind, id int64, sessionID string) (*remote.AgentMessage, error) {
	op := &domain.PendingOperation{
		Kind:        kind,
		OperationID: id,
		SessionID:   sessionID,
		// Fittings hold a garment render slot on the agent side, so a second
		// turn must wait. Searches just supersede each other.
		Blocking:  kind == domain.OperationFitting,
		StartedAt: time.Now(),
	}

	o.mu.Lock()
	if gen == o.generation {
		o.pending = op
	}
	o.mu.Unlock()

	o.log.Info("tracking pending operation",
		"kind", kind,
		"operation_id", id,
		"session_id", sessionID,
	)

	resolved, err := poll.Poll(ctx, func(ctx context.Context) (poll.Tick[*remote.AgentMessage], error) {
		m, fetchErr := o.client.CheckStatus(ctx, kind, id, sessionID)
		if fetchErr != nil {
			return poll.Tick[*remote.AgentMessage]{}, fetchErr
		}
		return poll.Tick[*remote.AgentMessage]{Status: m.Data.Status, Payload: m}, nil
	}, poll.Options[*remote.AgentMessage]{
		Interval:    o.opts.PollInterval,
		MaxAttempts: o.opts.PollMaxAttempts,
		IsTerminal:  domain.IsTerminalStatus,
		IsSuccess:   domain.IsSuccessStatus,
	})

	o.mu.Lock()
	if gen == o.generation {
		o.pending = nil
	}
	o.mu.Unlock()

	if err != nil {
		return nil, fmt.Errorf("poll %s operation %d: %w", kind, id, err)
	}
	return resolved, nil
}

// projectResult reduces a terminal agent message to its display projection.
func (o *Orchestrator) projectResult(msg remote.AgentMessage) *Result {
	candidates := make([]domain.DisplayCandidate, 0, len(msg.Data.Products))
	for i, rec := range msg.Data.Products {
		candidates = append(candidates, project.ToDisplayCandidate(rec, i))
	}

	return &Result{
		Type:       msg.Type,
		Message:    project.SimplifyMessage(msg.Text, msg.Type, o.opts.FallbackMessage),
		RawText:    msg.Text,
		Candidates: candidates,
		ResultURL:  msg.Data.ResultURL,
	}
}

// fail reports a turn failure, unless it lost to a newer generation or was a
// cancellation (a Reset is not an error; no caption is shown for it).
func (o *Orchestrator) fail(gen uint64, kind domain.RequestKind, err error) {
	if errors.Is(err, poll.ErrCancelled) || errors.Is(err, context.Canceled) {
		o.log.Debug("turn cancelled", "generation", gen)
		return
	}

	o.mu.Lock()
	stale := gen != o.generation
	if !stale {
		o.pending = nil
	}
	o.mu.Unlock()
	if stale {
		o.log.Debug("discarding stale turn failure", "generation", gen, "error", err)
		return
	}

	o.log.Warn("turn failed", "kind", kind, "error", err)
	o.emitCurrent(gen, Event{Type: EventFailed, Kind: kind, Err: err})
}

// Reset clears the conversation: session id, pending operation and last
// result are dropped, the current generation is invalidated, and any
// in-flight poll is cancelled. Stale completions arriving afterwards are
// discarded.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	o.generation++
	gen := o.generation
	o.sessionID = ""
	o.pending = nil
	o.last = nil
	cancel := o.cancel
	o.ctx, o.cancel = context.WithCancel(context.Background())
	o.mu.Unlock()

	cancel()
	o.emitCurrent(gen, Event{Type: EventReset})
}

// Close tears the conversation down without emitting events.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.generation++
	cancel := o.cancel
	o.mu.Unlock()
	cancel()
}

// emitCurrent delivers ev to listeners, tagged with gen, unless gen has been
// superseded in the meantime. The check and the delivery happen under emitMu,
// so listeners observe events in generation order.
func (o *Orchestrator) emitCurrent(gen uint64, ev Event) {
	o.emitMu.Lock()
	defer o.emitMu.Unlock()

	o.mu.Lock()
	live := gen == o.generation
	o.mu.Unlock()
	if !live {
		o.log.Debug("suppressing event from superseded turn", "generation", gen, "type", ev.Type)
		return
	}

	ev.Generation = gen

	o.listenerMu.Lock()
	listeners := make([]Listener, len(o.listeners))
	copy(listeners, o.listeners)
	o.listenerMu.Unlock()

	for _, fn := range listeners {
		fn(ev)
	}
}
