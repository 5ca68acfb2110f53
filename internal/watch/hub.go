// Package watch delivers committed mutations to long-polling watchers.
//
// The hub assigns every published event a monotonically increasing
// sequence number and keeps the recent tail in a ring buffer. Watchers
// hold a cursor into that sequence; a poll returns everything at or past
// the cursor that passes the watcher's filter, then advances the cursor.
// A cancelled poll advances nothing, so the same events are delivered on
// the next attempt.
package watch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/untoldecay/ContextKeeper/internal/storage"
	"github.com/untoldecay/ContextKeeper/internal/types"
)

const (
	// DefaultBuffer is the ring capacity when the config does not say.
	DefaultBuffer = 1024

	// DefaultIdleTTL is how long a watcher may go unpolled before the
	// sweeper drops it.
	DefaultIdleTTL = 30 * time.Minute

	// DefaultPollWait bounds a long poll when the caller does not.
	DefaultPollWait = 30 * time.Second
)

// Watcher is one registered event consumer.
type Watcher struct {
	ID        string            `json:"id"`
	SessionID string            `json:"session_id"`
	Filter    types.WatchFilter `json:"filter"`
	CreatedAt time.Time         `json:"created_at"`

	next     uint64
	lastPoll time.Time
}

// PollResult is one long-poll delivery.
type PollResult struct {
	Events []*types.MutationEvent `json:"events"`

	// NextSequence is the cursor after this delivery; a reconnecting
	// client can recreate its watcher from here.
	NextSequence uint64 `json:"nextSequence"`

	// Missed counts events that aged out of the buffer before this
	// watcher polled them.
	Missed uint64 `json:"missed,omitempty"`
}

// Hub fans committed mutations out to watchers.
type Hub struct {
	mu       sync.Mutex
	seq      uint64
	ring     []*types.MutationEvent
	capacity int
	watchers map[string]*Watcher
	idleTTL  time.Duration
	notify   chan struct{}
	closed   bool
}

// Option tunes a Hub.
type Option func(*Hub)

// WithBuffer sets the ring capacity.
func WithBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.capacity = n
		}
	}
}

// WithIdleTTL sets how long an unpolled watcher survives.
func WithIdleTTL(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.idleTTL = d
		}
	}
}

func NewHub(opts ...Option) *Hub {
	h := &Hub{
		capacity: DefaultBuffer,
		idleTTL:  DefaultIdleTTL,
		watchers: make(map[string]*Watcher),
		notify:   make(chan struct{}),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Publish records one committed mutation and wakes every blocked poll.
// Callers publish after commit, in commit order; the assigned sequence
// therefore reflects commit order.
func (h *Hub) Publish(ev *types.MutationEvent) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.publishLocked(ev)
}

// PublishAll records a group of mutations under one lock hold, so the
// group's sequences stay adjacent even with concurrent publishers.
// Returns the last assigned sequence.
func (h *Hub) PublishAll(events []*types.MutationEvent) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	var last uint64
	for _, ev := range events {
		last = h.publishLocked(ev)
	}
	return last
}

func (h *Hub) publishLocked(ev *types.MutationEvent) uint64 {
	if h.closed {
		return 0
	}

	h.seq++
	ev.Sequence = h.seq
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	h.ring = append(h.ring, ev)
	if len(h.ring) > h.capacity {
		h.ring = h.ring[len(h.ring)-h.capacity:]
	}

	close(h.notify)
	h.notify = make(chan struct{})
	return ev.Sequence
}

// CreateWatcher registers a watcher owned by sessionID. startFrom picks
// the first sequence it wants; 0 means "only new events from now on".
func (h *Hub) CreateWatcher(sessionID string, filter types.WatchFilter, startFrom uint64) (*Watcher, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, fmt.Errorf("watch hub is shut down: %w", storage.ErrFailedPrecondition)
	}

	w := &Watcher{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Filter:    filter,
		CreatedAt: time.Now().UTC(),
		next:      h.seq + 1,
		lastPoll:  time.Now(),
	}
	if startFrom > 0 {
		w.next = startFrom
	}
	h.watchers[w.ID] = w
	return w, nil
}

// CancelWatcher removes a watcher. Unknown ids are not an error; the
// sweeper may have won the race.
func (h *Hub) CancelWatcher(id string) {
	h.mu.Lock()
	delete(h.watchers, id)
	h.mu.Unlock()
}

// Watchers lists the registered watchers, for the status surface.
func (h *Hub) Watchers() []*Watcher {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*Watcher, 0, len(h.watchers))
	for _, w := range h.watchers {
		out = append(out, w)
	}
	return out
}

// Sequence returns the last assigned sequence number.
func (h *Hub) Sequence() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.seq
}

// Poll returns buffered events past the watcher's cursor, blocking up to
// wait when none are ready. max bounds the delivery size (0 means all).
//
// The cursor advances only on successful delivery. When ctx is cancelled
// mid-wait the poll returns the context error and the cursor stays put,
// so no event is lost between retries.
func (h *Hub) Poll(ctx context.Context, watcherID string, max int, wait time.Duration) (*PollResult, error) {
	if wait <= 0 {
		wait = DefaultPollWait
	}
	deadline := time.NewTimer(wait)
	defer deadline.Stop()

	for {
		h.mu.Lock()
		w, ok := h.watchers[watcherID]
		if !ok {
			h.mu.Unlock()
			return nil, fmt.Errorf("watcher %s: %w", watcherID, storage.ErrNotFound)
		}
		w.lastPoll = time.Now()

		events, nextSeq, missed := h.collectLocked(w, max)
		if len(events) > 0 {
			w.next = nextSeq
			h.mu.Unlock()
			return &PollResult{Events: events, NextSequence: nextSeq, Missed: missed}, nil
		}
		notify := h.notify
		h.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return &PollResult{Events: []*types.MutationEvent{}, NextSequence: nextSeq, Missed: missed}, nil
		case <-notify:
		}
	}
}

// collectLocked gathers deliverable events for w. Caller holds h.mu.
func (h *Hub) collectLocked(w *Watcher, max int) (events []*types.MutationEvent, nextSeq uint64, missed uint64) {
	nextSeq = w.next

	if len(h.ring) > 0 {
		oldest := h.ring[0].Sequence
		if w.next < oldest {
			missed = oldest - w.next
			nextSeq = oldest
		}
	}

	for _, ev := range h.ring {
		if ev.Sequence < nextSeq {
			continue
		}
		nextSeq = ev.Sequence + 1
		if !w.Filter.Matches(ev, w.SessionID) {
			continue
		}
		events = append(events, ev)
		if max > 0 && len(events) >= max {
			break
		}
	}
	return events, nextSeq, missed
}

// Sweep drops watchers that have not polled within the idle TTL and
// returns how many were removed.
func (h *Hub) Sweep() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	cutoff := time.Now().Add(-h.idleTTL)
	removed := 0
	for id, w := range h.watchers {
		if w.lastPoll.Before(cutoff) {
			delete(h.watchers, id)
			removed++
		}
	}
	return removed
}

// Run sweeps idle watchers periodically until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Sweep()
		}
	}
}

// Close wakes every blocked poll and refuses new watchers.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	h.watchers = make(map[string]*Watcher)
	close(h.notify)
	h.notify = make(chan struct{})
}
