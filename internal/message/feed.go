package message

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/notepid/twilight_chat/internal/metrics"
)

// Subscription receives change-feed events on C.
type Subscription struct {
	ID    int
	Scope string
	C     chan Event

	all    bool
	lagged chan struct{}
}

// Lagged fires after the subscriber missed at least one event because its
// buffer was full. Signals coalesce; the subscriber is expected to reload
// from the store.
func (s *Subscription) Lagged() <-chan struct{} { return s.lagged }

// Feed fans store changes out to subscribed sessions. Delivery never blocks
// the writer: a subscriber whose buffer is full misses the event and is
// flagged lagged so it can reload what it missed.
type Feed struct {
	mu          sync.RWMutex
	subscribers map[int]*Subscription
	nextID      int
	log         zerolog.Logger
}

// NewFeed creates an empty change feed.
func NewFeed(log zerolog.Logger) *Feed {
	return &Feed{
		subscribers: make(map[int]*Subscription),
		nextID:      1,
		log:         log.With().Str("component", "feed").Logger(),
	}
}

// Subscribe registers for events in scope.
func (f *Feed) Subscribe(scope string, buffer int) *Subscription {
	return f.subscribe(scope, false, buffer)
}

// SubscribeAll registers for events in every scope.
func (f *Feed) SubscribeAll(buffer int) *Subscription {
	return f.subscribe("", true, buffer)
}

func (f *Feed) subscribe(scope string, all bool, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 64
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	sub := &Subscription{
		ID:     f.nextID,
		Scope:  scope,
		C:      make(chan Event, buffer),
		all:    all,
		lagged: make(chan struct{}, 1),
	}
	f.nextID++
	f.subscribers[sub.ID] = sub
	return sub
}

// Unsubscribe removes a subscription.
func (f *Feed) Unsubscribe(sub *Subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()

	// Don't close the channel here: publishers may have already snapshotted
	// subscribers and will send concurrently.
	delete(f.subscribers, sub.ID)
}

// Publish delivers ev to every subscriber of the message's scope.
func (f *Feed) Publish(ev Event) {
	scope := ev.Record().ScopeID

	f.mu.RLock()
	subs := make([]*Subscription, 0, len(f.subscribers))
	for _, sub := range f.subscribers {
		if sub.all || sub.Scope == scope {
			subs = append(subs, sub)
		}
	}
	f.mu.RUnlock()

	dropped := 0
	for _, sub := range subs {
		select {
		case sub.C <- ev:
		default:
			dropped++
			select {
			case sub.lagged <- struct{}{}:
			default:
			}
		}
	}
	if dropped > 0 {
		metrics.FeedDropped.Add(float64(dropped))
		f.log.Warn().Int("dropped", dropped).Str("scope", scope).
			Str("message_id", ev.Record().ID).Msg("dropped change events (slow subscribers)")
	}
}

// Subscribers returns the number of live subscriptions.
func (f *Feed) Subscribers() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subscribers)
}
