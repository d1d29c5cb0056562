package user

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/notepid/twilight_chat/internal/clock"
)

type stubSource struct {
	calls   atomic.Int32
	release chan struct{}
	err     error
	roster  []Profile
}

func (s *stubSource) GetProfile(ctx context.Context, id int) (Profile, error) {
	s.calls.Add(1)
	if s.release != nil {
		<-s.release
	}
	if s.err != nil {
		return Profile{}, s.err
	}
	return Profile{ID: id, DisplayName: "Bob Jones", ShortID: "bob", Role: RoleMember}, nil
}

func (s *stubSource) ListActiveDirectory(ctx context.Context) ([]Profile, error) {
	return s.roster, nil
}

func TestDirectoryFetchDeduplicatesInFlight(t *testing.T) {
	src := &stubSource{release: make(chan struct{})}
	dir := NewDirectory(src, zerolog.Nop(), DirectoryOptions{})

	var wg sync.WaitGroup
	results := make(chan Profile, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := dir.Fetch(context.Background(), 7)
			if err != nil {
				t.Errorf("Fetch: %v", err)
			}
			results <- p
		}()
	}

	// Let the goroutines pile up on the in-flight lookup.
	deadline := time.Now().Add(2 * time.Second)
	for src.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	close(src.release)
	wg.Wait()
	close(results)

	if got := src.calls.Load(); got != 1 {
		t.Fatalf("expected exactly one source lookup, got %d", got)
	}
	for p := range results {
		if p.DisplayName != "Bob Jones" {
			t.Fatalf("expected resolved profile, got %+v", p)
		}
	}
	if _, ok := dir.Lookup(7); !ok {
		t.Fatalf("expected profile to be cached after fetch")
	}
}

func TestDirectoryGivesUpAfterMaxAttempts(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	src := &stubSource{err: errors.New("directory offline")}
	dir := NewDirectory(src, zerolog.Nop(), DirectoryOptions{MaxAttempts: 2, Backoff: time.Second, Clock: fake})
	ctx := context.Background()

	if _, err := dir.Fetch(ctx, 3); err == nil {
		t.Fatalf("expected first fetch to fail")
	}

	// Inside the backoff window no lookup is issued.
	if _, err := dir.Fetch(ctx, 3); !errors.Is(err, ErrDirectoryBackoff) {
		t.Fatalf("expected ErrDirectoryBackoff, got %v", err)
	}
	if got := src.calls.Load(); got != 1 {
		t.Fatalf("expected 1 lookup during backoff, got %d", got)
	}

	fake.Advance(time.Second)
	if _, err := dir.Fetch(ctx, 3); err == nil {
		t.Fatalf("expected second fetch to fail")
	}

	fake.Advance(time.Hour)
	p, err := dir.Fetch(ctx, 3)
	if !errors.Is(err, ErrDirectoryGaveUp) {
		t.Fatalf("expected ErrDirectoryGaveUp, got %v", err)
	}
	if !p.Placeholder || p.DisplayName != UnknownName {
		t.Fatalf("expected placeholder profile, got %+v", p)
	}
	if got := src.calls.Load(); got != 2 {
		t.Fatalf("expected lookups to stop at 2, got %d", got)
	}
}

func TestDirectorySeedAndRoster(t *testing.T) {
	src := &stubSource{roster: []Profile{
		{ID: 2, DisplayName: "carol", ShortID: "c"},
		{ID: 1, DisplayName: "Alice", ShortID: "a"},
	}}
	dir := NewDirectory(src, zerolog.Nop(), DirectoryOptions{})
	if err := dir.Seed(context.Background()); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	roster := dir.Roster()
	if len(roster) != 2 || roster[0].ID != 1 || roster[1].ID != 2 {
		t.Fatalf("expected roster ordered by name, got %+v", roster)
	}
	if got := dir.Resolve(99); !got.Placeholder {
		t.Fatalf("expected placeholder for unknown id, got %+v", got)
	}
}
