package chat

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/notepid/twilight_chat/internal/message"
	"github.com/notepid/twilight_chat/internal/metrics"
	"github.com/notepid/twilight_chat/internal/user"
)

// MessageReader is the read side of the message store.
type MessageReader interface {
	Get(ctx context.Context, id string) (*message.Message, error)
	List(ctx context.Context, f message.Filter) ([]*message.Message, error)
}

// Profiles is the session's directory cache.
type Profiles interface {
	Lookup(id int) (user.Profile, bool)
	Fetch(ctx context.Context, id int) (user.Profile, error)
	Put(p user.Profile)
}

// CoordinatorOptions configures a Coordinator.
type CoordinatorOptions struct {
	Scope    string
	PageSize int
	Workers  int
	Log      zerolog.Logger
}

// applyFunc runs on the Run goroutine with Run's context.
type applyFunc func(ctx context.Context)

// Coordinator merges the change feed of one scope into a View.
//
// Every merge runs on the Run goroutine. Lookups (enriching raw events and
// backfilling unknown senders) run concurrently on a bounded pool and hand
// their result back to Run as a closure, so slow lookups never hold up
// messages that are already known.
type Coordinator struct {
	store MessageReader
	dir   Profiles
	opts  CoordinatorOptions
	log   zerolog.Logger

	view    *View
	results chan applyFunc
	updates chan struct{}
	sem     *semaphore.Weighted
	wg      sync.WaitGroup

	// pending is touched only on the Run goroutine.
	pending map[int]bool
}

// NewCoordinator creates a coordinator for opts.Scope.
func NewCoordinator(store MessageReader, dir Profiles, opts CoordinatorOptions) *Coordinator {
	if opts.PageSize <= 0 {
		opts.PageSize = 50
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	return &Coordinator{
		store:   store,
		dir:     dir,
		opts:    opts,
		log:     opts.Log.With().Str("component", "coordinator").Str("scope", opts.Scope).Logger(),
		view:    NewView(),
		results: make(chan applyFunc, opts.Workers),
		updates: make(chan struct{}, 1),
		sem:     semaphore.NewWeighted(int64(opts.Workers)),
		pending: make(map[int]bool),
	}
}

// View returns the merged view.
func (c *Coordinator) View() *View { return c.view }

// Updates signals after merges that changed the view. Signals coalesce.
func (c *Coordinator) Updates() <-chan struct{} { return c.updates }

// Run merges events until ctx is done or events is closed, then waits for
// outstanding lookups to finish. A signal on lagged means events were
// missed; the scope is reloaded from the store and merged like any other
// event. lagged may be nil.
func (c *Coordinator) Run(ctx context.Context, events <-chan message.Event, lagged <-chan struct{}) {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		c.wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.handle(ctx, ev)
		case <-lagged:
			c.resync(ctx)
		case apply := <-c.results:
			apply(ctx)
		}
	}
}

// Load pulls the most recent page of the scope and merges it through the
// same upsert as live events. Run must be running.
func (c *Coordinator) Load(ctx context.Context) error {
	page, err := c.store.List(ctx, message.Filter{Scope: c.opts.Scope, Limit: c.opts.PageSize})
	if err != nil {
		return err
	}

	done := make(chan struct{})
	apply := func(ctx context.Context) {
		defer close(done)
		for _, m := range page {
			c.merge(ctx, m)
		}
		c.signal()
	}

	select {
	case c.results <- apply:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// resync reloads the newest page, at least as large as the current view,
// including deleted messages so missed deletions apply too.
func (c *Coordinator) resync(ctx context.Context) {
	limit := max(c.opts.PageSize, c.view.Len())
	c.log.Debug().Int("limit", limit).Msg("change feed lagged, reloading scope")

	c.spawn(ctx, func(ctx context.Context) applyFunc {
		page, err := c.store.List(ctx, message.Filter{Scope: c.opts.Scope, Limit: limit, IncludeDeleted: true})
		if err != nil {
			metrics.FeedResyncs.WithLabelValues("error").Inc()
			c.log.Warn().Err(err).Msg("reload after lag failed")
			return func(ctx context.Context) {}
		}
		metrics.FeedResyncs.WithLabelValues("ok").Inc()
		return func(ctx context.Context) {
			for _, m := range page {
				c.merge(ctx, m)
			}
			c.signal()
		}
	})
}

func (c *Coordinator) handle(ctx context.Context, ev message.Event) {
	switch e := ev.(type) {
	case message.CreatedEnriched:
		c.merge(ctx, e.Message)
		c.signal()
	case message.CreatedRaw:
		if prev, ok := c.view.Get(e.Message.ID); ok && hasSender(prev) {
			c.merge(ctx, e.Message)
			c.signal()
			return
		}
		c.enrich(ctx, e.Message)
	case message.Updated:
		c.merge(ctx, e.Message)
		c.signal()
	}
}

// enrich fetches the full record for a raw event. When the lookup fails the
// raw payload is merged with whatever sender metadata is at hand.
func (c *Coordinator) enrich(ctx context.Context, raw *message.Message) {
	c.spawn(ctx, func(ctx context.Context) applyFunc {
		full, err := c.store.Get(ctx, raw.ID)
		if err == nil {
			metrics.EnrichmentFallbacks.WithLabelValues("ok").Inc()
			return func(ctx context.Context) {
				c.merge(ctx, full)
				c.signal()
			}
		}

		metrics.EnrichmentFallbacks.WithLabelValues("error").Inc()
		c.log.Warn().Err(&EnrichmentFailure{MessageID: raw.ID, Err: err}).Msg("merging raw message")
		m := raw.Clone()
		return func(ctx context.Context) {
			c.merge(ctx, m)
			c.signal()
		}
	})
}

// merge upserts m and backfills its sender when the directory does not
// know it yet. Runs on the Run goroutine.
func (c *Coordinator) merge(ctx context.Context, m *message.Message) {
	if hasSender(m) {
		c.dir.Put(*m.Sender)
	} else if p, ok := c.dir.Lookup(m.SenderID); ok {
		m = m.Clone()
		m.Sender = &p
	} else {
		m = m.Clone()
		p := user.Unknown(m.SenderID)
		m.Sender = &p
		c.backfill(ctx, m.SenderID)
	}
	c.view.Upsert(m)
}

// backfill fetches an unknown sender once and patches every cached message
// from them. A failed fetch is retried on the next message from the same
// sender, within the directory's attempt limit.
func (c *Coordinator) backfill(ctx context.Context, id int) {
	if c.pending[id] {
		return
	}
	c.pending[id] = true

	c.spawn(ctx, func(ctx context.Context) applyFunc {
		p, err := c.dir.Fetch(ctx, id)
		return func(ctx context.Context) {
			delete(c.pending, id)
			if err != nil {
				c.log.Debug().Err(&EnrichmentFailure{ParticipantID: id, Err: err}).Msg("sender stays unknown")
				return
			}
			if c.view.PatchSender(p) > 0 {
				c.signal()
			}
		}
	})
}

// spawn runs fetch on the pool and hands its result to Run.
func (c *Coordinator) spawn(ctx context.Context, fetch func(context.Context) applyFunc) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.sem.Acquire(ctx, 1); err != nil {
			return
		}
		apply := fetch(ctx)
		c.sem.Release(1)

		select {
		case c.results <- apply:
		case <-ctx.Done():
		}
	}()
}

func (c *Coordinator) signal() {
	select {
	case c.updates <- struct{}{}:
	default:
	}
}
