package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/notepid/twilight_chat/internal/clock"
	"github.com/notepid/twilight_chat/internal/config"
	"github.com/notepid/twilight_chat/internal/mention"
	"github.com/notepid/twilight_chat/internal/message"
	"github.com/notepid/twilight_chat/internal/presence"
	"github.com/notepid/twilight_chat/internal/user"
)

// ErrForbidden is returned when a participant deletes someone else's
// message without an elevated role.
var ErrForbidden = errors.New("not allowed")

// ErrAlreadySubscribed is returned when a session subscribes to a scope
// twice.
var ErrAlreadySubscribed = errors.New("already subscribed to scope")

// ErrSessionClosed is returned by operations on a closed session.
var ErrSessionClosed = errors.New("session closed")

// MessageStore is what a session needs from the message log.
type MessageStore interface {
	MessageReader
	ReceiptWriter
	Append(ctx context.Context, m *message.Message) (string, error)
	SoftDelete(ctx context.Context, id string) error
}

// Notifier alerts mentioned participants about a sent message.
type Notifier interface {
	NotifyMentioned(ctx context.Context, mentioned []int, sender user.Profile, content string, private bool) error
}

// Options tunes a session.
type Options struct {
	PageSize         int
	FetchWorkers     int
	FeedBuffer       int
	Heartbeat        time.Duration
	BackfillAttempts int
	BackfillBackoff  time.Duration
	SuggestLimit     int
}

// OptionsFromConfig maps the chat and presence configuration onto Options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		PageSize:         cfg.Chat.PageSize,
		FetchWorkers:     cfg.Chat.FetchWorkers,
		FeedBuffer:       64,
		Heartbeat:        cfg.Presence.Heartbeat,
		BackfillAttempts: cfg.Chat.BackfillAttempts,
		BackfillBackoff:  cfg.Chat.BackfillBackoff,
		SuggestLimit:     8,
	}
}

// Deps are the collaborators shared by every session.
type Deps struct {
	Store    MessageStore
	Feed     *message.Feed
	Profiles user.ProfileSource
	Presence presence.Transport
	LastSeen presence.LastSeenRecorder
	Notifier Notifier
	Clock    clock.Clock
	Options  Options
	Log      zerolog.Logger

	// ConnID names the connection in presence. Empty picks a random id.
	ConnID string
}

// Snapshot is what a subscriber renders: the messages the participant may
// see, in order, who is online in the scope and which of them are away.
type Snapshot struct {
	Scope    string             `json:"scope"`
	Messages []*message.Message `json:"messages"`
	Online   []int              `json:"online"`
	Away     []int              `json:"away"`
}

// Session is one connected participant. It owns the participant's
// directory cache, draft, receipts and presence, and lives until Close.
type Session struct {
	self user.Profile
	deps Deps
	log  zerolog.Logger

	dir      *user.Directory
	receipts *Receipts
	tracker  *presence.Tracker

	mu       sync.Mutex
	draft    *mention.Draft
	scopes   map[string]*scopeSub
	closed   bool
	warnings chan string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type scopeSub struct {
	coord  *Coordinator
	poke   chan struct{}
	cancel context.CancelFunc
}

// NewSession creates a session for self and seeds its directory. A failed
// seed is logged; senders are then backfilled one by one.
func NewSession(ctx context.Context, self user.Profile, deps Deps) *Session {
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Options.SuggestLimit <= 0 {
		deps.Options.SuggestLimit = 8
	}

	log := deps.Log.With().Int("participant", self.ID).Logger()
	sctx, cancel := context.WithCancel(context.Background())

	s := &Session{
		self: self,
		deps: deps,
		log:  log,
		dir: user.NewDirectory(deps.Profiles, log, user.DirectoryOptions{
			MaxAttempts: deps.Options.BackfillAttempts,
			Backoff:     deps.Options.BackfillBackoff,
			Clock:       deps.Clock,
		}),
		receipts: NewReceipts(deps.Store, log),
		tracker: presence.NewTracker(deps.Presence, self.ID, presence.Options{
			ConnID:    deps.ConnID,
			Heartbeat: deps.Options.Heartbeat,
			Clock:     deps.Clock,
			LastSeen:  deps.LastSeen,
			Log:       log,
		}),
		draft:    mention.NewDraft(self.ID),
		scopes:   make(map[string]*scopeSub),
		warnings: make(chan string, 8),
		ctx:      sctx,
		cancel:   cancel,
	}
	s.dir.Put(self)

	if err := s.dir.Seed(ctx); err != nil {
		log.Warn().Err(err).Msg("directory seed failed")
	}

	s.wg.Add(1)
	go s.forwardPresence()
	return s
}

// Self returns the session's participant.
func (s *Session) Self() user.Profile { return s.self }

// Warnings delivers non-blocking notices for the composer, such as a
// notification that could not be queued.
func (s *Session) Warnings() <-chan string { return s.warnings }

// Subscribe loads scope and streams snapshots until ctx is done. Only the
// latest snapshot is buffered.
func (s *Session) Subscribe(ctx context.Context, scope string) (<-chan Snapshot, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	if _, ok := s.scopes[scope]; ok {
		s.mu.Unlock()
		return nil, ErrAlreadySubscribed
	}
	ctx, cancel := context.WithCancel(ctx)
	coord := NewCoordinator(s.deps.Store, s.dir, CoordinatorOptions{
		Scope:    scope,
		PageSize: s.deps.Options.PageSize,
		Workers:  s.deps.Options.FetchWorkers,
		Log:      s.log,
	})
	sub := &scopeSub{coord: coord, poke: make(chan struct{}, 1), cancel: cancel}
	s.scopes[scope] = sub
	s.mu.Unlock()

	feed := s.deps.Feed.Subscribe(scope, s.deps.Options.FeedBuffer)

	if !s.spawn(func() { coord.Run(ctx, feed.C, feed.Lagged()) }) {
		cancel()
		s.deps.Feed.Unsubscribe(feed)
		s.forget(scope, sub)
		return nil, ErrSessionClosed
	}

	if err := coord.Load(ctx); err != nil {
		cancel()
		s.deps.Feed.Unsubscribe(feed)
		s.forget(scope, sub)
		return nil, fmt.Errorf("load scope %q: %w", scope, err)
	}

	s.tracker.Join(scope)

	out := make(chan Snapshot, 1)
	started := s.spawn(func() {
		defer close(out)
		defer s.forget(scope, sub)
		defer s.deps.Feed.Unsubscribe(feed)

		s.emit(scope, coord, out)
		for {
			select {
			case <-ctx.Done():
				leaveCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				s.tracker.Leave(leaveCtx, scope)
				cancel()
				return
			case <-coord.Updates():
			case <-sub.poke:
			}
			s.emit(scope, coord, out)
		}
	})
	if !started {
		cancel()
		s.deps.Feed.Unsubscribe(feed)
		s.forget(scope, sub)
		return nil, ErrSessionClosed
	}

	s.log.Info().Str("scope", scope).Int("loaded", coord.View().Len()).Msg("subscribed")
	return out, nil
}

// spawn runs fn on a goroutine that Close waits for. It refuses once the
// session is closed, so no goroutine starts after Close begins waiting.
func (s *Session) spawn(fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
	return true
}

func (s *Session) forget(scope string, sub *scopeSub) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scopes[scope] == sub {
		delete(s.scopes, scope)
	}
}

// emit renders the snapshot, records receipts for everything visible and
// replaces any snapshot the reader has not taken yet.
func (s *Session) emit(scope string, coord *Coordinator, out chan Snapshot) {
	visible := coord.View().Visible(s.self.ID, s.self.Role)
	for _, m := range visible {
		s.receipts.MarkRead(s.ctx, m, s.self.ID)
	}
	snap := Snapshot{
		Scope:    scope,
		Messages: visible,
		Online:   s.tracker.Online(scope),
		Away:     s.tracker.Away(scope),
	}

	select {
	case out <- snap:
	default:
		select {
		case <-out:
		default:
		}
		out <- snap
	}
}

func (s *Session) forwardPresence() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case scope := <-s.tracker.Changes():
			s.mu.Lock()
			sub, ok := s.scopes[scope]
			s.mu.Unlock()
			if !ok {
				continue
			}
			select {
			case sub.poke <- struct{}{}:
			default:
			}
		}
	}
}

// Send composes text with the current draft's mentions and appends it to
// scope. Validation failures come back as *ValidationError; mention
// notifications go out in the background.
func (s *Session) Send(ctx context.Context, text, scope string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", &ValidationError{Err: message.ErrEmptyContent}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrSessionClosed
	}
	mentions := s.draft.Mentions()
	private := mention.Classify(text, s.draft.Tokens())
	s.mu.Unlock()

	id, err := s.deps.Store.Append(ctx, &message.Message{
		ScopeID:   scope,
		SenderID:  s.self.ID,
		Content:   text,
		Mentions:  mentions,
		IsPrivate: private,
	})
	if errors.Is(err, message.ErrEmptyContent) || errors.Is(err, message.ErrSelfMention) {
		return "", &ValidationError{Err: err}
	}
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}

	s.mu.Lock()
	s.draft.Reset()
	s.mu.Unlock()

	s.log.Info().Str("scope", scope).Str("message_id", id).Bool("private", private).
		Int("mentions", len(mentions)).Msg("message sent")

	if len(mentions) > 0 && s.deps.Notifier != nil {
		s.spawn(func() {
			if err := s.deps.Notifier.NotifyMentioned(context.WithoutCancel(ctx), mentions, s.self, text, private); err != nil {
				s.log.Warn().Err(err).Str("message_id", id).Msg("mention notifications incomplete")
				s.warn("some mentioned participants could not be notified")
			}
		})
	}
	return id, nil
}

// DraftMentionState reports the mention being typed at cursor, if any.
func (s *Session) DraftMentionState(text string, cursor int) (mention.State, bool) {
	return mention.DraftState(text, cursor)
}

// ConfirmMention completes the mention at cursor with a participant. A self
// mention is rejected, surfaced as a warning and leaves the draft as it was.
func (s *Session) ConfirmMention(ctx context.Context, text string, cursor int, participantID int) (string, int, error) {
	p, ok := s.dir.Lookup(participantID)
	if !ok {
		var err error
		if p, err = s.dir.Fetch(ctx, participantID); err != nil {
			return text, cursor, fmt.Errorf("resolve participant %d: %w", participantID, err)
		}
	}

	s.mu.Lock()
	newText, newCursor, err := s.draft.Confirm(text, cursor, p)
	s.mu.Unlock()

	if errors.Is(err, mention.ErrSelfMention) {
		s.warn(err.Error())
		return text, cursor, &ValidationError{Err: err}
	}
	if err != nil {
		return text, cursor, err
	}
	return newText, newCursor, nil
}

// Suggest lists participants whose names match fragment.
func (s *Session) Suggest(fragment string) []user.Profile {
	return mention.Suggest(fragment, s.dir.Roster(), s.self.ID, s.deps.Options.SuggestLimit)
}

// ResetDraft forgets the mentions collected so far.
func (s *Session) ResetDraft() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draft.Reset()
}

// SetVisible marks the client foregrounded or backgrounded.
func (s *Session) SetVisible(ctx context.Context, visible bool) {
	s.tracker.SetVisible(ctx, visible)
}

// Delete soft-deletes a message. Participants may delete their own
// messages; elevated roles may delete any.
func (s *Session) Delete(ctx context.Context, id string) error {
	m, err := s.deps.Store.Get(ctx, id)
	if err != nil {
		return err
	}
	if m.SenderID != s.self.ID && !s.self.Role.Elevated() {
		return fmt.Errorf("delete message %s: %w", id, ErrForbidden)
	}
	if err := s.deps.Store.SoftDelete(ctx, id); err != nil {
		return err
	}
	s.log.Info().Str("message_id", id).Msg("message deleted")
	return nil
}

// Online returns who is online in scope.
func (s *Session) Online(scope string) []int {
	return s.tracker.Online(scope)
}

func (s *Session) warn(msg string) {
	select {
	case s.warnings <- msg:
	default:
	}
}

// Close leaves every scope, stops background work and drops the session's
// directory cache.
func (s *Session) Close(ctx context.Context) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for _, sub := range s.scopes {
		sub.cancel()
	}
	s.mu.Unlock()

	s.tracker.Close(ctx)
	s.cancel()
	s.wg.Wait()
	s.receipts.Wait()
	s.dir.Close()
}
