package chat

import (
	"context"
	"slices"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/notepid/twilight_chat/internal/message"
	"github.com/notepid/twilight_chat/internal/user"
)

type fakeStore struct {
	mu       sync.Mutex
	messages map[string]*message.Message
	getErr   error
	gets     int
	readErr  error
	reads    int
	readGate chan struct{}
}

func newFakeStore(msgs ...*message.Message) *fakeStore {
	s := &fakeStore{messages: make(map[string]*message.Message)}
	for _, m := range msgs {
		s.messages[m.ID] = m.Clone()
	}
	return s
}

func (s *fakeStore) Get(ctx context.Context, id string) (*message.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	if s.getErr != nil {
		return nil, s.getErr
	}
	m, ok := s.messages[id]
	if !ok || m.Deleted() {
		return nil, message.ErrNotFound
	}
	return m.Clone(), nil
}

func (s *fakeStore) List(ctx context.Context, f message.Filter) ([]*message.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*message.Message
	for _, m := range s.messages {
		if m.ScopeID == f.Scope && (f.IncludeDeleted || !m.Deleted()) {
			out = append(out, m.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out, nil
}

func (s *fakeStore) MarkRead(ctx context.Context, id string, viewer int) error {
	if s.readGate != nil {
		<-s.readGate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	if s.readErr != nil {
		return s.readErr
	}
	m, ok := s.messages[id]
	if !ok {
		return message.ErrNotFound
	}
	if viewer != m.SenderID && !slices.Contains(m.ReadBy, viewer) {
		m.ReadBy = append(m.ReadBy, viewer)
	}
	return nil
}

func (s *fakeStore) counts() (gets, reads int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets, s.reads
}

type stubSource struct {
	mu       sync.Mutex
	profiles map[int]user.Profile
	calls    int
	gate     chan struct{}
}

func newStubSource(profiles ...user.Profile) *stubSource {
	s := &stubSource{profiles: make(map[int]user.Profile)}
	for _, p := range profiles {
		s.profiles[p.ID] = p
	}
	return s
}

func (s *stubSource) GetProfile(ctx context.Context, id int) (user.Profile, error) {
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	p, ok := s.profiles[id]
	if !ok {
		return user.Profile{}, user.ErrNotFound
	}
	return p, nil
}

func (s *stubSource) ListActiveDirectory(ctx context.Context) ([]user.Profile, error) {
	return nil, nil
}

func (s *stubSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newDirectory(src user.ProfileSource) *user.Directory {
	return user.NewDirectory(src, zerolog.Nop(), user.DirectoryOptions{MaxAttempts: 3})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
