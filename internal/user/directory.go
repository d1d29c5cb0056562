package user

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/notepid/twilight_chat/internal/clock"
	"github.com/notepid/twilight_chat/internal/metrics"
)

// ErrDirectoryGaveUp is returned once a profile has failed MaxAttempts times
// in this session. The session stops asking for it.
var ErrDirectoryGaveUp = errors.New("directory lookup abandoned")

// ErrDirectoryBackoff is returned when a retry is requested before the
// backoff window for a failed id has elapsed.
var ErrDirectoryBackoff = errors.New("directory lookup backing off")

// ProfileSource is the external directory the cache fronts.
type ProfileSource interface {
	GetProfile(ctx context.Context, id int) (Profile, error)
	ListActiveDirectory(ctx context.Context) ([]Profile, error)
}

// DirectoryOptions bounds retries for ids that keep failing.
type DirectoryOptions struct {
	MaxAttempts int
	Backoff     time.Duration
	Clock       clock.Clock
}

// Directory is a session-lifetime cache of participant profiles. Concurrent
// fetches for the same id share a single underlying lookup.
type Directory struct {
	src   ProfileSource
	log   zerolog.Logger
	clock clock.Clock

	maxAttempts int
	backoff     time.Duration

	group singleflight.Group

	mu       sync.RWMutex
	profiles map[int]Profile
	failures map[int]*lookupFailure
}

type lookupFailure struct {
	attempts int
	retryAt  time.Time
}

// NewDirectory creates an empty directory cache over src.
func NewDirectory(src ProfileSource, log zerolog.Logger, opts DirectoryOptions) *Directory {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	return &Directory{
		src:         src,
		log:         log.With().Str("component", "directory").Logger(),
		clock:       opts.Clock,
		maxAttempts: opts.MaxAttempts,
		backoff:     opts.Backoff,
		profiles:    make(map[int]Profile),
		failures:    make(map[int]*lookupFailure),
	}
}

// Seed loads the full active roster.
func (d *Directory) Seed(ctx context.Context) error {
	profiles, err := d.src.ListActiveDirectory(ctx)
	if err != nil {
		return fmt.Errorf("seed directory: %w", err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range profiles {
		d.profiles[p.ID] = p
	}
	return nil
}

// Lookup returns the cached profile for id.
func (d *Directory) Lookup(id int) (Profile, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.profiles[id]
	return p, ok
}

// Resolve returns the cached profile for id, or the Unknown placeholder.
func (d *Directory) Resolve(id int) Profile {
	if p, ok := d.Lookup(id); ok {
		return p
	}
	return Unknown(id)
}

// Put stores p, replacing any cached entry.
func (d *Directory) Put(p Profile) {
	if p.Placeholder {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.profiles[p.ID] = p
	delete(d.failures, p.ID)
}

// Roster returns every cached profile ordered by display name.
func (d *Directory) Roster() []Profile {
	d.mu.RLock()
	roster := make([]Profile, 0, len(d.profiles))
	for _, p := range d.profiles {
		roster = append(roster, p)
	}
	d.mu.RUnlock()

	sort.Slice(roster, func(i, j int) bool {
		a, b := strings.ToLower(roster[i].DisplayName), strings.ToLower(roster[j].DisplayName)
		if a != b {
			return a < b
		}
		return roster[i].ID < roster[j].ID
	})
	return roster
}

// Fetch returns the profile for id, consulting the source when it is not
// cached. Only one lookup per id is ever in flight; callers arriving while
// one runs wait for its result. Ids that keep failing back off and are
// abandoned after MaxAttempts.
func (d *Directory) Fetch(ctx context.Context, id int) (Profile, error) {
	if p, ok := d.Lookup(id); ok {
		return p, nil
	}
	if err := d.admit(id); err != nil {
		return Unknown(id), err
	}

	v, err, _ := d.group.Do(strconv.Itoa(id), func() (any, error) {
		if p, ok := d.Lookup(id); ok {
			return p, nil
		}
		p, err := d.src.GetProfile(ctx, id)
		if err != nil {
			d.recordFailure(id)
			metrics.DirectoryBackfills.WithLabelValues("error").Inc()
			return nil, err
		}
		d.Put(p)
		metrics.DirectoryBackfills.WithLabelValues("ok").Inc()
		return p, nil
	})
	if err != nil {
		d.log.Warn().Err(err).Int("participant", id).Msg("profile lookup failed")
		return Unknown(id), fmt.Errorf("fetch profile %d: %w", id, err)
	}
	return v.(Profile), nil
}

func (d *Directory) admit(id int) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	f, ok := d.failures[id]
	if !ok {
		return nil
	}
	if f.attempts >= d.maxAttempts {
		return fmt.Errorf("fetch profile %d: %w", id, ErrDirectoryGaveUp)
	}
	if d.clock.Now().Before(f.retryAt) {
		return fmt.Errorf("fetch profile %d: %w", id, ErrDirectoryBackoff)
	}
	return nil
}

func (d *Directory) recordFailure(id int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, ok := d.failures[id]
	if !ok {
		f = &lookupFailure{}
		d.failures[id] = f
	}
	f.attempts++
	// Exponential: backoff, 2*backoff, 4*backoff...
	f.retryAt = d.clock.Now().Add(d.backoff << (f.attempts - 1))
	if f.attempts >= d.maxAttempts {
		d.log.Warn().Int("participant", id).Int("attempts", f.attempts).Msg("giving up on profile lookup for this session")
	}
}

// Close drops every cached profile and failure record.
func (d *Directory) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.profiles = make(map[int]Profile)
	d.failures = make(map[int]*lookupFailure)
}
