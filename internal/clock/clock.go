// Package clock abstracts time so heartbeat and backoff logic can be driven
// deterministically in tests.
package clock

import (
	"sort"
	"sync"
	"time"
)

// Clock is the subset of the time package the chat core depends on.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
	NewTicker(d time.Duration) *Ticker
}

// Ticker delivers ticks on C until Stop is called. C has capacity 1; ticks
// are dropped when the reader falls behind.
type Ticker struct {
	C <-chan time.Time

	stop func()
}

// Stop turns off the ticker. It does not close C.
func (t *Ticker) Stop() { t.stop() }

// Real returns a Clock backed by the standard time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (realClock) NewTicker(d time.Duration) *Ticker {
	t := time.NewTicker(d)
	return &Ticker{C: t.C, stop: t.Stop}
}

// Fake is a Clock whose time only moves when Advance is called.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	waiters []*waiter
	changed *sync.Cond
}

type waiter struct {
	deadline time.Time
	interval time.Duration
	ch       chan time.Time
	stopped  bool
}

// NewFake returns a Fake clock starting at initial.
func NewFake(initial time.Time) *Fake {
	f := &Fake{now: initial}
	f.changed = sync.NewCond(&f.mu)
	return f
}

// Now returns the fake current time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// After returns a channel that fires once the clock has advanced by d.
func (f *Fake) After(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- f.now
		return ch
	}
	f.waiters = append(f.waiters, &waiter{deadline: f.now.Add(d), ch: ch})
	f.changed.Broadcast()
	return ch
}

// NewTicker returns a ticker firing every d of fake time.
func (f *Fake) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive ticker interval")
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	w := &waiter{deadline: f.now.Add(d), interval: d, ch: make(chan time.Time, 1)}
	f.waiters = append(f.waiters, w)
	f.changed.Broadcast()
	return &Ticker{
		C: w.ch,
		stop: func() {
			f.mu.Lock()
			w.stopped = true
			f.mu.Unlock()
		},
	}
}

// Advance moves time forward by d and fires every waiter whose deadline has
// passed, in deadline order. A ticker fires at most once per Advance.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	target := f.now

	var due, remaining []*waiter
	for _, w := range f.waiters {
		if w.stopped {
			continue
		}
		if !w.deadline.After(target) {
			due = append(due, w)
			if w.interval > 0 {
				for !w.deadline.After(target) {
					w.deadline = w.deadline.Add(w.interval)
				}
				remaining = append(remaining, w)
			}
			continue
		}
		remaining = append(remaining, w)
	}
	f.waiters = remaining
	f.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].deadline.Before(due[j].deadline) })
	for _, w := range due {
		select {
		case w.ch <- target:
		default:
		}
	}
}

// WaitForTimers blocks until at least n timers or tickers are pending. It
// closes the race between a goroutine registering a ticker and the test
// advancing the clock.
func (f *Fake) WaitForTimers(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for f.pendingLocked() < n {
		f.changed.Wait()
	}
}

func (f *Fake) pendingLocked() int {
	n := 0
	for _, w := range f.waiters {
		if !w.stopped {
			n++
		}
	}
	return n
}
