package presence

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/notepid/twilight_chat/internal/clock"
)

// Hub is an in-process Transport. Members that stop refreshing are swept
// after the TTL.
type Hub struct {
	mu     sync.Mutex
	scopes map[string]*hubScope
	nextID int

	clock clock.Clock
	ttl   time.Duration
	log   zerolog.Logger
}

type hubScope struct {
	members map[string]Member
	subs    map[int]chan Sync
}

// NewHub creates an empty hub.
func NewHub(clk clock.Clock, ttl time.Duration, log zerolog.Logger) *Hub {
	if clk == nil {
		clk = clock.Real()
	}
	return &Hub{
		scopes: make(map[string]*hubScope),
		nextID: 1,
		clock:  clk,
		ttl:    ttl,
		log:    log.With().Str("component", "presence-hub").Logger(),
	}
}

func (h *Hub) scopeLocked(scope string) *hubScope {
	s, ok := h.scopes[scope]
	if !ok {
		s = &hubScope{members: make(map[string]Member), subs: make(map[int]chan Sync)}
		h.scopes[scope] = s
	}
	return s
}

// Track adds or refreshes m. JoinedAt is kept from the first Track.
func (h *Hub) Track(ctx context.Context, scope string, m Member) error {
	if err := ctx.Err(); err != nil {
		return &TransportError{Scope: scope, Op: "track", Err: err}
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	s := h.scopeLocked(scope)
	if prev, ok := s.members[m.key()]; ok {
		m.JoinedAt = prev.JoinedAt
	} else if m.JoinedAt.IsZero() {
		m.JoinedAt = h.clock.Now()
	}
	m.LastSeen = h.clock.Now()
	s.members[m.key()] = m
	h.broadcastLocked(scope, s)
	return nil
}

// Untrack removes one connection.
func (h *Hub) Untrack(ctx context.Context, scope string, connID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.scopes[scope]
	if !ok {
		return nil
	}
	if _, ok := s.members[connID]; !ok {
		return nil
	}
	delete(s.members, connID)
	h.broadcastLocked(scope, s)
	return nil
}

// Subscribe streams snapshots for scope until ctx is done. Only the latest
// snapshot is buffered.
func (h *Hub) Subscribe(ctx context.Context, scope string) (<-chan Sync, error) {
	h.mu.Lock()
	s := h.scopeLocked(scope)
	id := h.nextID
	h.nextID++
	ch := make(chan Sync, 1)
	s.subs[id] = ch
	ch <- snapshot(scope, s)
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		defer h.mu.Unlock()
		if s, ok := h.scopes[scope]; ok {
			delete(s.subs, id)
			if len(s.subs) == 0 && len(s.members) == 0 {
				delete(h.scopes, scope)
			}
		}
		close(ch)
	}()
	return ch, nil
}

// Sweep drops members whose last refresh is older than the TTL and returns
// how many were removed.
func (h *Hub) Sweep() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	cutoff := h.clock.Now().Add(-h.ttl)
	removed := 0
	for name, s := range h.scopes {
		changed := false
		for id, m := range s.members {
			if m.LastSeen.Before(cutoff) {
				delete(s.members, id)
				changed = true
				removed++
			}
		}
		if changed {
			h.log.Debug().Str("scope", name).Msg("swept stale members")
			h.broadcastLocked(name, s)
		}
	}
	return removed
}

// Run sweeps every half TTL until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	ticker := h.clock.NewTicker(h.ttl / 2)
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

// broadcastLocked replaces any undelivered snapshot with the current one.
// Callers hold h.mu, so the hub is the only sender on each channel.
func (h *Hub) broadcastLocked(scope string, s *hubScope) {
	snap := snapshot(scope, s)
	for _, ch := range s.subs {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

func snapshot(scope string, s *hubScope) Sync {
	members := make([]Member, 0, len(s.members))
	for _, m := range s.members {
		members = append(members, m)
	}
	slices.SortFunc(members, compareMembers)
	return Sync{Scope: scope, Members: members}
}
