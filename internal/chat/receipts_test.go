package chat

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

func TestReceiptsSkipSenderAndExistingReaders(t *testing.T) {
	m := msg("M", sam.ID, 0)
	m.ReadBy = []int{bob.ID}
	store := newFakeStore(m)
	r := NewReceipts(store, zerolog.Nop())

	if r.MarkRead(context.Background(), m, sam.ID) {
		t.Fatalf("expected no receipt for the sender")
	}
	if r.MarkRead(context.Background(), m, bob.ID) {
		t.Fatalf("expected no receipt for an existing reader")
	}
	r.Wait()
	if _, reads := store.counts(); reads != 0 {
		t.Fatalf("expected no writes, got %d", reads)
	}
}

func TestReceiptsDeduplicateInFlight(t *testing.T) {
	m := msg("M", sam.ID, 0)
	store := newFakeStore(m)
	store.readGate = make(chan struct{})
	r := NewReceipts(store, zerolog.Nop())

	if !r.MarkRead(context.Background(), m, carol.ID) {
		t.Fatalf("expected first call to start a write")
	}
	for i := 0; i < 5; i++ {
		if r.MarkRead(context.Background(), m, carol.ID) {
			t.Fatalf("expected repeated render to be a no-op while in flight")
		}
	}
	if !r.InFlight("M", carol.ID) {
		t.Fatalf("expected pair in flight")
	}

	close(store.readGate)
	r.Wait()

	if r.MarkRead(context.Background(), m, carol.ID) {
		t.Fatalf("expected no rewrite after success")
	}
	if _, reads := store.counts(); reads != 1 {
		t.Fatalf("expected exactly one write, got %d", reads)
	}
}

func TestReceiptsFailureAllowsRetry(t *testing.T) {
	m := msg("M", sam.ID, 0)
	store := newFakeStore(m)
	store.readErr = errors.New("timeout")
	r := NewReceipts(store, zerolog.Nop())

	r.MarkRead(context.Background(), m, carol.ID)
	r.Wait()
	if r.InFlight("M", carol.ID) {
		t.Fatalf("expected in-flight marker cleared after failure")
	}

	store.mu.Lock()
	store.readErr = nil
	store.mu.Unlock()

	if !r.MarkRead(context.Background(), m, carol.ID) {
		t.Fatalf("expected retry after failure")
	}
	r.Wait()

	got, _ := store.Get(context.Background(), "M")
	if !got.ReadByViewer(carol.ID) {
		t.Fatalf("expected carol recorded after retry, got %v", got.ReadBy)
	}
}

func TestReceiptsConcurrentClientsConverge(t *testing.T) {
	m := msg("M", sam.ID, 0)
	store := newFakeStore(m)

	// Two tabs of the same viewer each have their own tracker.
	tabs := []*Receipts{NewReceipts(store, zerolog.Nop()), NewReceipts(store, zerolog.Nop())}

	var wg sync.WaitGroup
	for _, r := range tabs {
		wg.Add(1)
		go func(r *Receipts) {
			defer wg.Done()
			r.MarkRead(context.Background(), m, bob.ID)
		}(r)
	}
	wg.Wait()
	for _, r := range tabs {
		r.Wait()
	}

	got, _ := store.Get(context.Background(), "M")
	if len(got.ReadBy) != 1 || got.ReadBy[0] != bob.ID {
		t.Fatalf("expected bob exactly once, got %v", got.ReadBy)
	}
}
