package presence

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"

	"github.com/notepid/twilight_chat/internal/clock"
)

func newRedisTransport(t *testing.T, mr *miniredis.Miniredis, clk clock.Clock) *RedisTransport {
	t.Helper()
	rt, err := NewRedisTransport(context.Background(), "redis://"+mr.Addr(), 75*time.Second, clk, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewRedisTransport: %v", err)
	}
	t.Cleanup(func() { rt.Close() })
	return rt
}

func nextSync(t *testing.T, syncs <-chan Sync, what string, cond func(Sync) bool) Sync {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case s, ok := <-syncs:
			if !ok {
				t.Fatalf("subscription closed waiting for %s", what)
			}
			if cond(s) {
				return s
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", what)
		}
	}
}

func TestRedisSubscriberSeesOtherProcess(t *testing.T) {
	mr := miniredis.RunT(t)
	fake := clock.NewFake(t0)
	local := newRedisTransport(t, mr, fake)
	remote := newRedisTransport(t, mr, fake)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	syncs, err := local.Subscribe(ctx, "X")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if first := <-syncs; len(first.Members) != 0 {
		t.Fatalf("expected empty first snapshot, got %+v", first.Members)
	}

	if err := remote.Track(ctx, "X", Member{ParticipantID: 1, ConnID: "tab-a"}); err != nil {
		t.Fatalf("Track: %v", err)
	}
	if err := remote.Track(ctx, "X", Member{ParticipantID: 1, ConnID: "tab-b"}); err != nil {
		t.Fatalf("Track: %v", err)
	}
	snap := nextSync(t, syncs, "both tabs", func(s Sync) bool { return len(s.Members) == 2 })
	if !slices.Equal(snap.IDs(), []int{1}) {
		t.Fatalf("expected one participant across two tabs, got %v", snap.IDs())
	}

	if err := remote.Untrack(ctx, "X", "tab-a"); err != nil {
		t.Fatalf("Untrack: %v", err)
	}
	snap = nextSync(t, syncs, "tab a gone", func(s Sync) bool { return len(s.Members) == 1 })
	if snap.Members[0].ConnID != "tab-b" || !slices.Equal(snap.IDs(), []int{1}) {
		t.Fatalf("expected tab b to keep 1 online, got %+v", snap.Members)
	}
}

func TestRedisTrackKeepsJoinedAt(t *testing.T) {
	mr := miniredis.RunT(t)
	fake := clock.NewFake(t0)
	rt := newRedisTransport(t, mr, fake)
	ctx := context.Background()

	rt.Track(ctx, "X", Member{ParticipantID: 1, ConnID: "c"})
	fake.Advance(10 * time.Second)
	rt.Track(ctx, "X", Member{ParticipantID: 1, ConnID: "c", Away: true})

	snap, err := rt.snapshot(ctx, "X")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	m := snap.Members[0]
	if !m.JoinedAt.Equal(t0) || !m.LastSeen.Equal(t0.Add(10*time.Second)) || !m.Away {
		t.Fatalf("unexpected member %+v", m)
	}
}

func TestRedisDropsStaleMembers(t *testing.T) {
	mr := miniredis.RunT(t)
	fake := clock.NewFake(t0)
	rt := newRedisTransport(t, mr, fake)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt.Track(ctx, "X", Member{ParticipantID: 1, ConnID: "old"})
	fake.Advance(50 * time.Second)
	rt.Track(ctx, "X", Member{ParticipantID: 2, ConnID: "fresh"})

	syncs, err := rt.Subscribe(ctx, "X")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if first := <-syncs; !slices.Equal(first.IDs(), []int{1, 2}) {
		t.Fatalf("expected both members live, got %v", first.IDs())
	}

	// the subscription's re-read ticker
	fake.WaitForTimers(1)
	fake.Advance(40 * time.Second)

	snap := nextSync(t, syncs, "stale member pruned", func(s Sync) bool { return len(s.Members) == 1 })
	if !slices.Equal(snap.IDs(), []int{2}) {
		t.Fatalf("expected only the fresh member, got %v", snap.IDs())
	}
	if keys, _ := mr.HKeys(membersKey("X")); !slices.Equal(keys, []string{"fresh"}) {
		t.Fatalf("expected the stale hash field removed, got %v", keys)
	}
	if mr.Exists(seenKey("X")) {
		if seen, _ := mr.ZMembers(seenKey("X")); !slices.Equal(seen, []string{"fresh"}) {
			t.Fatalf("expected the stale score removed, got %v", seen)
		}
	}
}

func TestRedisTrackersSeeEachOther(t *testing.T) {
	mr := miniredis.RunT(t)
	a := NewTracker(newRedisTransport(t, mr, clock.Real()), 1, Options{Log: zerolog.Nop()})
	b := NewTracker(newRedisTransport(t, mr, clock.Real()), 2, Options{Log: zerolog.Nop()})
	defer a.Close(context.Background())

	a.Join("X")
	b.Join("X")
	waitFor(t, "a sees both", func() bool { return slices.Equal(a.Online("X"), []int{1, 2}) })

	b.SetVisible(context.Background(), false)
	waitFor(t, "a sees b away", func() bool { return slices.Equal(a.Away("X"), []int{2}) })

	b.Close(context.Background())
	waitFor(t, "a sees b leave", func() bool { return slices.Equal(a.Online("X"), []int{1}) })
}

func TestNewRedisTransportRejectsBadURL(t *testing.T) {
	if _, err := NewRedisTransport(context.Background(), "not a url", time.Minute, nil, zerolog.Nop()); err == nil {
		t.Fatalf("expected a parse error")
	}
}
