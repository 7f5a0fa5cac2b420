// Package state derives the user-visible agent state from orchestrator
// events. The controller is a reader-facing projection: UI layers subscribe
// to snapshots and never mutate conversation state directly.
package state

import (
	"sync"
	"time"

	"github.com/shoplens/stylist/internal/domain"
	"github.com/shoplens/stylist/internal/orchestrator"
)

// DefaultCaptionInterval is how often the progress caption advances while a
// request is outstanding. Purely cosmetic, independent of the poll cadence.
const DefaultCaptionInterval = 5 * time.Second

// Snapshot is the read-only view exposed to UI layers.
type Snapshot struct {
	State      domain.AgentState         `json:"state"`
	Message    string                    `json:"message"`
	Busy       bool                      `json:"busy"`
	Candidates []domain.DisplayCandidate `json:"candidates"`
	LastError  string                    `json:"last_error,omitempty"`
}

// Controller is the agent state machine: idle → thinking/searching →
// presenting/success/error, with idle reachable again only via reset.
type Controller struct {
	mu         sync.Mutex
	state      domain.AgentState
	message    string
	candidates []domain.DisplayCandidate
	lastErr    string
	captions   []string
	captionIdx int

	subMu  sync.Mutex
	subs   map[int]func(Snapshot)
	nextID int

	interval  time.Duration
	done      chan struct{}
	closeOnce sync.Once
}

// NewController creates a controller in the idle state and starts the caption
// cycle ticker. Close must be called to release it.
func NewController(interval time.Duration) *Controller {
	if interval <= 0 {
		interval = DefaultCaptionInterval
	}
	c := &Controller{
		state:    domain.StateIdle,
		subs:     make(map[int]func(Snapshot)),
		interval: interval,
		done:     make(chan struct{}),
	}
	go c.cycleLoop()
	return c
}

// Subscribe registers a snapshot listener and returns its cancel function.
// The listener is called after every state change, including caption cycles.
func (c *Controller) Subscribe(fn func(Snapshot)) (cancel func()) {
	c.subMu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = fn
	c.subMu.Unlock()

	return func() {
		c.subMu.Lock()
		delete(c.subs, id)
		c.subMu.Unlock()
	}
}

// Snapshot returns the current view.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Apply folds one orchestrator event into the state machine.
func (c *Controller) Apply(ev orchestrator.Event) {
	c.mu.Lock()
	switch ev.Type {
	case orchestrator.EventDispatched:
		c.state = busyStateFor(ev.Kind)
		c.captions = captionsFor(ev.Kind)
		c.captionIdx = 0
		c.message = c.captions[0]
		c.candidates = nil
		c.lastErr = ""

	case orchestrator.EventResolved:
		c.applyResolvedLocked(ev.Result)

	case orchestrator.EventFailed:
		c.state = domain.StateError
		c.message = errorCaption
		c.candidates = nil
		if ev.Err != nil {
			c.lastErr = ev.Err.Error()
		}

	case orchestrator.EventReset:
		c.state = domain.StateIdle
		c.message = ""
		c.candidates = nil
		c.lastErr = ""
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.notify(snap)
}

// applyResolvedLocked implements the terminal-state convention: presenting
// when candidates are non-empty, success for confirmation-style answers with
// text but no candidate list, error for degenerate empty results.
func (c *Controller) applyResolvedLocked(res *orchestrator.Result) {
	if res == nil {
		c.state = domain.StateError
		c.message = errorCaption
		c.candidates = nil
		return
	}

	switch {
	case len(res.Candidates) > 0:
		c.state = domain.StatePresenting
		c.message = res.Message
		c.candidates = res.Candidates
		c.lastErr = ""
	case res.Message != "" || res.ResultURL != "":
		c.state = domain.StateSuccess
		c.message = res.Message
		c.candidates = nil
		c.lastErr = ""
	default:
		c.state = domain.StateError
		c.message = errorCaption
		c.candidates = nil
	}
}

// Close stops the caption ticker. Idempotent.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// cycleLoop advances the progress caption while a request is outstanding.
func (c *Controller) cycleLoop() {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.Lock()
			if !c.state.Busy() || len(c.captions) == 0 {
				c.mu.Unlock()
				continue
			}
			c.captionIdx = (c.captionIdx + 1) % len(c.captions)
			c.message = c.captions[c.captionIdx]
			snap := c.snapshotLocked()
			c.mu.Unlock()

			c.notify(snap)
		}
	}
}

func (c *Controller) snapshotLocked() Snapshot {
	candidates := make([]domain.DisplayCandidate, len(c.candidates))
	copy(candidates, c.candidates)

	return Snapshot{
		State:      c.state,
		Message:    c.message,
		Busy:       c.state.Busy(),
		Candidates: candidates,
		LastError:  c.lastErr,
	}
}

func (c *Controller) notify(snap Snapshot) {
	c.subMu.Lock()
	subs := make([]func(Snapshot), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.subMu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
}
