package presence

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/notepid/twilight_chat/internal/clock"
	"github.com/notepid/twilight_chat/internal/metrics"
)

// State is the local participant's presence in one scope.
type State int

const (
	Offline State = iota
	Joining
	Online
)

func (s State) String() string {
	switch s {
	case Joining:
		return "joining"
	case Online:
		return "online"
	default:
		return "offline"
	}
}

// LastSeenRecorder receives best-effort last-seen hints on heartbeat.
type LastSeenRecorder interface {
	TouchLastSeen(ctx context.Context, participantID int, at time.Time) error
}

// Options tunes a Tracker. ConnID names this connection in the transport;
// a random one is used when empty.
type Options struct {
	ConnID     string
	Heartbeat  time.Duration
	Backoff    time.Duration
	MaxBackoff time.Duration
	Clock      clock.Clock
	LastSeen   LastSeenRecorder
	Log        zerolog.Logger
}

var errSubscriptionLost = errors.New("subscription lost")

// Tracker maintains the online sets of the scopes the local participant has
// joined. It never returns transport errors to readers: while a scope's
// subscription is down its online set is empty.
type Tracker struct {
	transport Transport
	self      int
	connID    string
	opts      Options
	log       zerolog.Logger

	mu     sync.RWMutex
	scopes map[string]*scopeState
	away   bool
	closed bool

	changes chan string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type scopeState struct {
	state    State
	joinedAt time.Time
	online   map[int]Member
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewTracker starts the heartbeat for participant self.
func NewTracker(transport Transport, self int, opts Options) *Tracker {
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 30 * time.Second
	}
	if opts.Backoff <= 0 {
		opts.Backoff = time.Second
	}
	if opts.MaxBackoff < opts.Backoff {
		opts.MaxBackoff = 30 * opts.Backoff
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.ConnID == "" {
		opts.ConnID = uuid.NewString()
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &Tracker{
		transport: transport,
		self:      self,
		connID:    opts.ConnID,
		opts:      opts,
		log:       opts.Log.With().Str("component", "presence").Int("participant", self).Str("conn", opts.ConnID).Logger(),
		scopes:    make(map[string]*scopeState),
		changes:   make(chan string, 16),
		ctx:       ctx,
		cancel:    cancel,
	}

	t.wg.Add(1)
	go t.heartbeat()
	return t
}

// Changes delivers the scope name whenever its online set changes. Slow
// readers miss notifications, never the state itself.
func (t *Tracker) Changes() <-chan string {
	return t.changes
}

// Join starts tracking scope. Joining an already joined scope is a no-op.
func (t *Tracker) Join(scope string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}
	if _, ok := t.scopes[scope]; ok {
		return
	}

	ctx, cancel := context.WithCancel(t.ctx)
	t.scopes[scope] = &scopeState{
		state:    Joining,
		joinedAt: t.opts.Clock.Now(),
		online:   make(map[int]Member),
		ctx:      ctx,
		cancel:   cancel,
	}

	t.wg.Add(1)
	go t.run(ctx, scope)
}

// Leave stops tracking scope and untracks the local participant.
func (t *Tracker) Leave(ctx context.Context, scope string) {
	t.mu.Lock()
	s, ok := t.scopes[scope]
	if ok {
		delete(t.scopes, scope)
		s.cancel()
	}
	t.mu.Unlock()

	if !ok {
		return
	}
	if err := t.transport.Untrack(ctx, scope, t.connID); err != nil {
		t.log.Debug().Err(err).Str("scope", scope).Msg("final untrack failed")
	}
	t.notify(scope)
}

// SetVisible records whether the client is foregrounded and re-announces
// every joined scope right away.
func (t *Tracker) SetVisible(ctx context.Context, visible bool) {
	t.mu.Lock()
	changed := t.away == visible
	t.away = !visible
	t.mu.Unlock()

	if changed {
		t.trackAll(ctx)
	}
}

// Close untracks every scope (best effort) and stops all goroutines.
func (t *Tracker) Close(ctx context.Context) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	scopes := make([]string, 0, len(t.scopes))
	for name, s := range t.scopes {
		scopes = append(scopes, name)
		s.cancel()
	}
	t.scopes = make(map[string]*scopeState)
	t.mu.Unlock()

	for _, scope := range scopes {
		if err := t.transport.Untrack(ctx, scope, t.connID); err != nil {
			t.log.Debug().Err(err).Str("scope", scope).Msg("final untrack failed")
		}
	}
	t.cancel()
	t.wg.Wait()
}

// State returns the local participant's state in scope.
func (t *Tracker) State(scope string) State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if s, ok := t.scopes[scope]; ok {
		return s.state
	}
	return Offline
}

// Online returns the sorted ids currently online in scope.
func (t *Tracker) Online(scope string) []int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s, ok := t.scopes[scope]
	if !ok {
		return []int{}
	}
	ids := make([]int, 0, len(s.online))
	for id := range s.online {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// ConnID returns the connection id this tracker announces.
func (t *Tracker) ConnID() string {
	return t.connID
}

// Members returns one Member per participant in scope, sorted by id. A
// participant is away only when all of its connections are.
func (t *Tracker) Members(scope string) []Member {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s, ok := t.scopes[scope]
	if !ok {
		return nil
	}
	members := make([]Member, 0, len(s.online))
	for _, m := range s.online {
		members = append(members, m)
	}
	slices.SortFunc(members, func(a, b Member) int { return a.ParticipantID - b.ParticipantID })
	return members
}

// Away returns the sorted ids in scope whose every connection is away.
func (t *Tracker) Away(scope string) []int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s, ok := t.scopes[scope]
	if !ok {
		return []int{}
	}
	ids := []int{}
	for id, m := range s.online {
		if m.Away {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// IsOnline reports whether id is in scope's online set.
func (t *Tracker) IsOnline(scope string, id int) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if s, ok := t.scopes[scope]; ok {
		_, online := s.online[id]
		return online
	}
	return false
}

// Reconcile replaces the online set of snap.Scope with the snapshot.
// Snapshots for scopes that are not joined are ignored.
func (t *Tracker) Reconcile(snap Sync) {
	t.mu.Lock()
	s, ok := t.scopes[snap.Scope]
	if !ok {
		t.mu.Unlock()
		return
	}
	s.online = byParticipant(snap.Members)
	t.mu.Unlock()

	metrics.PresenceSyncs.Inc()
	t.notify(snap.Scope)
}

// run keeps the scope subscribed, re-establishing it with backoff.
func (t *Tracker) run(ctx context.Context, scope string) {
	defer t.wg.Done()

	backoff := t.opts.Backoff
	for {
		syncs, err := t.transport.Subscribe(ctx, scope)
		if err == nil {
			t.track(ctx, scope)
			backoff = t.opts.Backoff
			for s := range syncs {
				t.Reconcile(s)
			}
			err = errSubscriptionLost
		}
		if ctx.Err() != nil {
			return
		}

		t.log.Warn().Err(err).Str("scope", scope).Dur("retry_in", backoff).Msg("presence subscription down")
		t.disconnected(scope)

		select {
		case <-ctx.Done():
			return
		case <-t.opts.Clock.After(backoff):
		}
		backoff = min(backoff*2, t.opts.MaxBackoff)
	}
}

// disconnected clears the online set; peers are assumed offline until the
// next snapshot.
func (t *Tracker) disconnected(scope string) {
	t.mu.Lock()
	s, ok := t.scopes[scope]
	if ok {
		s.state = Joining
		s.online = make(map[int]Member)
	}
	t.mu.Unlock()

	if ok {
		t.notify(scope)
	}
}

func (t *Tracker) member(s *scopeState) Member {
	now := t.opts.Clock.Now()
	return Member{ParticipantID: t.self, ConnID: t.connID, JoinedAt: s.joinedAt, LastSeen: now, Away: t.away}
}

// track announces the local participant in scope and marks it online. The
// call is abandoned when the scope is left, and a Track that lands after a
// Leave is undone.
func (t *Tracker) track(ctx context.Context, scope string) {
	t.mu.RLock()
	s, ok := t.scopes[scope]
	var m Member
	if ok {
		m = t.member(s)
	}
	t.mu.RUnlock()
	if !ok {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	err := t.transport.Track(ctx, scope, m)
	if err != nil && s.ctx.Err() == nil {
		t.log.Warn().Err(err).Str("scope", scope).Msg("presence track failed")
		return
	}

	t.mu.Lock()
	cur, joined := t.scopes[scope]
	if joined && cur == s && err == nil {
		cur.state = Online
	}
	t.mu.Unlock()

	if !joined {
		untrackCtx, done := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer done()
		if err := t.transport.Untrack(untrackCtx, scope, t.connID); err != nil {
			t.log.Debug().Err(err).Str("scope", scope).Msg("late untrack failed")
		}
	}
}

func (t *Tracker) trackAll(ctx context.Context) {
	t.mu.RLock()
	scopes := make([]string, 0, len(t.scopes))
	for name := range t.scopes {
		scopes = append(scopes, name)
	}
	t.mu.RUnlock()

	for _, scope := range scopes {
		t.track(ctx, scope)
	}
}

func (t *Tracker) heartbeat() {
	defer t.wg.Done()

	ticker := t.opts.Clock.NewTicker(t.opts.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case at := <-ticker.C:
			t.trackAll(t.ctx)
			if t.opts.LastSeen != nil {
				if err := t.opts.LastSeen.TouchLastSeen(t.ctx, t.self, at); err != nil {
					t.log.Debug().Err(err).Msg("last seen update failed")
				}
			}
		}
	}
}

func (t *Tracker) notify(scope string) {
	select {
	case t.changes <- scope:
	default:
	}
}
