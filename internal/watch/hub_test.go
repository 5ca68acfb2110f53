package watch

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/untoldecay/ContextKeeper/internal/types"
)

func event(key, sessionID string, private bool) *types.MutationEvent {
	return &types.MutationEvent{
		Type:      types.EventCreated,
		SessionID: sessionID,
		Key:       key,
		Channel:   "general",
		Priority:  types.PriorityNormal,
		IsPrivate: private,
	}
}

func TestPublishAssignsMonotonicSequences(t *testing.T) {
	h := NewHub()
	var last uint64
	for i := 0; i < 5; i++ {
		seq := h.Publish(event("k", "s1", false))
		if seq <= last {
			t.Fatalf("sequence not monotonic: %d after %d", seq, last)
		}
		last = seq
	}
	if h.Sequence() != 5 {
		t.Errorf("expected sequence 5, got %d", h.Sequence())
	}
}

func TestPollDeliversBufferedEvents(t *testing.T) {
	h := NewHub()
	w, err := h.CreateWatcher("s1", types.WatchFilter{}, 0)
	if err != nil {
		t.Fatalf("CreateWatcher failed: %v", err)
	}

	h.Publish(event("a", "s1", false))
	h.Publish(event("b", "s1", false))

	res, err := h.Poll(context.Background(), w.ID, 0, time.Second)
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if len(res.Events) != 2 || res.Events[0].Key != "a" || res.Events[1].Key != "b" {
		t.Fatalf("expected a then b, got %+v", res.Events)
	}
	if res.NextSequence != 3 {
		t.Errorf("expected cursor 3, got %d", res.NextSequence)
	}

	// Cursor advanced: a second poll sees nothing and times out empty.
	res, err = h.Poll(context.Background(), w.ID, 0, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if len(res.Events) != 0 {
		t.Errorf("events delivered twice: %+v", res.Events)
	}
}

func TestPollWakesOnPublish(t *testing.T) {
	h := NewHub()
	w, err := h.CreateWatcher("s1", types.WatchFilter{}, 0)
	if err != nil {
		t.Fatalf("CreateWatcher failed: %v", err)
	}

	done := make(chan *PollResult, 1)
	go func() {
		res, err := h.Poll(context.Background(), w.ID, 0, 5*time.Second)
		if err != nil {
			t.Errorf("Poll failed: %v", err)
		}
		done <- res
	}()

	time.Sleep(20 * time.Millisecond)
	h.Publish(event("late", "s1", false))

	select {
	case res := <-done:
		if len(res.Events) != 1 || res.Events[0].Key != "late" {
			t.Errorf("expected the published event, got %+v", res.Events)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("poll did not wake on publish")
	}
}

func TestCancelledPollKeepsCursor(t *testing.T) {
	h := NewHub()
	w, err := h.CreateWatcher("s1", types.WatchFilter{}, 0)
	if err != nil {
		t.Fatalf("CreateWatcher failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := h.Poll(ctx, w.ID, 0, 5*time.Second)
		errc <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	// Events published around the cancellation are still delivered later.
	h.Publish(event("survivor", "s1", false))
	res, err := h.Poll(context.Background(), w.ID, 0, time.Second)
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if len(res.Events) != 1 || res.Events[0].Key != "survivor" {
		t.Errorf("cancelled poll lost an event: %+v", res.Events)
	}
}

func TestFilterAndPrivacy(t *testing.T) {
	h := NewHub()
	w, err := h.CreateWatcher("viewer", types.WatchFilter{
		Categories: []types.Category{types.CategoryTask},
	}, 0)
	if err != nil {
		t.Fatalf("CreateWatcher failed: %v", err)
	}

	task := event("own-task", "viewer", false)
	task.Category = types.CategoryTask
	h.Publish(task)

	note := event("note", "viewer", false)
	note.Category = types.CategoryNote
	h.Publish(note)

	foreignPrivate := event("secret-task", "other", true)
	foreignPrivate.Category = types.CategoryTask
	h.Publish(foreignPrivate)

	ownPrivate := event("private-task", "viewer", true)
	ownPrivate.Category = types.CategoryTask
	h.Publish(ownPrivate)

	res, err := h.Poll(context.Background(), w.ID, 0, time.Second)
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if len(res.Events) != 2 {
		t.Fatalf("expected 2 deliverable events, got %+v", res.Events)
	}
	if res.Events[0].Key != "own-task" || res.Events[1].Key != "private-task" {
		t.Errorf("wrong events delivered: %+v", res.Events)
	}
}

func TestRingOverflowReportsMissed(t *testing.T) {
	h := NewHub(WithBuffer(3))
	w, err := h.CreateWatcher("s1", types.WatchFilter{}, 0)
	if err != nil {
		t.Fatalf("CreateWatcher failed: %v", err)
	}

	for i := 0; i < 5; i++ {
		h.Publish(event("k", "s1", false))
	}

	res, err := h.Poll(context.Background(), w.ID, 0, time.Second)
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if res.Missed != 2 {
		t.Errorf("expected 2 missed, got %d", res.Missed)
	}
	if len(res.Events) != 3 {
		t.Errorf("expected the surviving 3 events, got %d", len(res.Events))
	}
}

func TestSweepDropsIdleWatchers(t *testing.T) {
	h := NewHub(WithIdleTTL(10 * time.Millisecond))
	w, err := h.CreateWatcher("s1", types.WatchFilter{}, 0)
	if err != nil {
		t.Fatalf("CreateWatcher failed: %v", err)
	}

	time.Sleep(30 * time.Millisecond)
	if removed := h.Sweep(); removed != 1 {
		t.Fatalf("expected 1 swept, got %d", removed)
	}
	if _, err := h.Poll(context.Background(), w.ID, 0, 10*time.Millisecond); err == nil {
		t.Error("expected poll on swept watcher to fail")
	}

	// A freshly polled watcher survives.
	w2, _ := h.CreateWatcher("s1", types.WatchFilter{}, 0)
	if removed := h.Sweep(); removed != 0 {
		t.Errorf("fresh watcher swept: %d", removed)
	}
	h.CancelWatcher(w2.ID)
}

func TestStartFromReplaysBuffer(t *testing.T) {
	h := NewHub()
	h.Publish(event("first", "s1", false))
	h.Publish(event("second", "s1", false))

	w, err := h.CreateWatcher("s1", types.WatchFilter{}, 1)
	if err != nil {
		t.Fatalf("CreateWatcher failed: %v", err)
	}
	res, err := h.Poll(context.Background(), w.ID, 0, time.Second)
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if len(res.Events) != 2 || res.Events[0].Key != "first" {
		t.Errorf("startFrom replay wrong: %+v", res.Events)
	}

	// Default cursor only sees events published after creation.
	w2, _ := h.CreateWatcher("s1", types.WatchFilter{}, 0)
	res, err = h.Poll(context.Background(), w2.ID, 0, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if len(res.Events) != 0 {
		t.Errorf("new watcher should not replay history: %+v", res.Events)
	}
}

func TestPublishAllKeepsSequencesAdjacent(t *testing.T) {
	h := NewHub()

	group := make([]*types.MutationEvent, 20)
	for i := range group {
		group[i] = event(fmt.Sprintf("grouped.%d", i), "s1", false)
	}

	// A rival publisher races single events against the grouped publish.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			h.Publish(event("rival", "s2", false))
		}
	}()
	h.PublishAll(group)
	<-done

	for i := 1; i < len(group); i++ {
		if group[i].Sequence != group[i-1].Sequence+1 {
			t.Fatalf("group interleaved at %d: sequence %d after %d",
				i, group[i].Sequence, group[i-1].Sequence)
		}
	}
	if h.Sequence() != 70 {
		t.Errorf("expected sequence 70 after 70 events, got %d", h.Sequence())
	}
}
