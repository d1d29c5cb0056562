package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/notepid/twilight_chat/internal/message"
	"github.com/notepid/twilight_chat/internal/user"
)

func startCoordinator(t *testing.T, store MessageReader, dir Profiles) (*Coordinator, chan message.Event) {
	t.Helper()
	return startLaggingCoordinator(t, store, dir, nil)
}

func startLaggingCoordinator(t *testing.T, store MessageReader, dir Profiles, lagged chan struct{}) (*Coordinator, chan message.Event) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	coord := NewCoordinator(store, dir, CoordinatorOptions{Scope: "S", PageSize: 10, Workers: 2, Log: zerolog.Nop()})
	events := make(chan message.Event, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		coord.Run(ctx, events, lagged)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return coord, events
}

func senderName(v *View, id string) string {
	m, ok := v.Get(id)
	if !ok || m.Sender == nil {
		return ""
	}
	return m.Sender.DisplayName
}

func TestCoordinatorEnrichesRawCreate(t *testing.T) {
	enriched := msg("M", sam.ID, 0)
	enriched.Sender = &sam
	store := newFakeStore(enriched)
	coord, events := startCoordinator(t, store, newDirectory(newStubSource()))

	raw := msg("M", sam.ID, 0)
	events <- message.CreatedRaw{Message: raw}

	waitFor(t, "enriched merge", func() bool { return senderName(coord.View(), "M") == sam.DisplayName })
	if gets, _ := store.counts(); gets != 1 {
		t.Fatalf("expected one fallback lookup, got %d", gets)
	}
}

func TestCoordinatorFallbackThenBackfill(t *testing.T) {
	store := newFakeStore()
	store.getErr = errors.New("connection reset")
	src := newStubSource(carol)
	src.gate = make(chan struct{})
	coord, events := startCoordinator(t, store, newDirectory(src))

	events <- message.CreatedRaw{Message: msg("a", carol.ID, 0)}
	events <- message.CreatedRaw{Message: msg("b", carol.ID, time.Second)}

	waitFor(t, "placeholder merge", func() bool {
		return coord.View().Len() == 2 && senderName(coord.View(), "a") == user.UnknownName
	})

	close(src.gate)
	waitFor(t, "backfill", func() bool {
		return senderName(coord.View(), "a") == "Carol" && senderName(coord.View(), "b") == "Carol"
	})
	if n := src.callCount(); n != 1 {
		t.Fatalf("expected a single directory fetch, got %d", n)
	}
}

func TestCoordinatorDuplicateCreateYieldsOneEntry(t *testing.T) {
	coord, events := startCoordinator(t, newFakeStore(), newDirectory(newStubSource(sam)))

	m := msg("M", sam.ID, 0)
	m.Sender = &sam
	events <- message.CreatedEnriched{Message: m}
	events <- message.CreatedEnriched{Message: m}
	events <- message.Updated{Message: m}

	waitFor(t, "merge", func() bool { return coord.View().Len() >= 1 })
	time.Sleep(20 * time.Millisecond)
	if n := coord.View().Len(); n != 1 {
		t.Fatalf("expected one entry, got %d", n)
	}
}

func TestCoordinatorLoadAndPushShareUpsert(t *testing.T) {
	a := msg("a", sam.ID, 0)
	b := msg("b", bob.ID, time.Second)
	store := newFakeStore(a, b)
	coord, events := startCoordinator(t, store, newDirectory(newStubSource(sam, bob)))

	if err := coord.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if n := coord.View().Len(); n != 2 {
		t.Fatalf("expected 2 loaded, got %d", n)
	}

	bEnriched := b.Clone()
	bEnriched.Sender = &bob
	events <- message.CreatedEnriched{Message: bEnriched}
	events <- message.CreatedEnriched{Message: msg("c", carol.ID, -time.Second)}

	waitFor(t, "push merge", func() bool { return coord.View().Len() == 3 })
	got := ids(coord.View().All())
	if got[0] != "c" || got[1] != "a" || got[2] != "b" {
		t.Fatalf("expected order [c a b], got %v", got)
	}
	waitFor(t, "senders resolved", func() bool {
		return senderName(coord.View(), "a") == sam.DisplayName && senderName(coord.View(), "b") == bob.DisplayName
	})
}

func TestCoordinatorSignalsUpdates(t *testing.T) {
	coord, events := startCoordinator(t, newFakeStore(), newDirectory(newStubSource(sam)))

	events <- message.Updated{Message: msg("M", sam.ID, 0)}
	select {
	case <-coord.Updates():
	case <-time.After(2 * time.Second):
		t.Fatalf("expected an update signal")
	}
}

func TestCoordinatorReloadsAfterLag(t *testing.T) {
	a := msg("a", sam.ID, 0)
	store := newFakeStore(a)
	lagged := make(chan struct{}, 1)
	coord, events := startLaggingCoordinator(t, store, newDirectory(newStubSource(sam, bob)), lagged)

	if err := coord.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}

	// b and c were written while the subscriber's buffer was full, and a
	// receipt on a was lost with them.
	store.mu.Lock()
	store.messages["b"] = msg("b", bob.ID, time.Second)
	store.messages["c"] = msg("c", sam.ID, 2*time.Second)
	store.messages["a"].ReadBy = []int{bob.ID}
	store.mu.Unlock()

	events <- message.CreatedEnriched{Message: msg("d", sam.ID, 3*time.Second)}
	lagged <- struct{}{}

	waitFor(t, "reload after lag", func() bool { return coord.View().Len() == 4 })
	got := ids(coord.View().All())
	if got[0] != "a" || got[1] != "b" || got[2] != "c" || got[3] != "d" {
		t.Fatalf("expected order [a b c d], got %v", got)
	}
	waitFor(t, "missed receipt", func() bool {
		m, ok := coord.View().Get("a")
		return ok && m.ReadByViewer(bob.ID)
	})
}
