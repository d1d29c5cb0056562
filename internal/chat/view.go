package chat

import (
	"slices"
	"sort"
	"sync"

	"github.com/notepid/twilight_chat/internal/message"
	"github.com/notepid/twilight_chat/internal/user"
)

// View is a scope's merged, ordered message list. It holds every message
// delivered so far, including ones the viewer may not see; visibility is
// decided when the view is enumerated.
type View struct {
	mu       sync.RWMutex
	messages []*message.Message
	index    map[string]int
}

// NewView creates an empty view.
func NewView() *View {
	return &View{index: make(map[string]int)}
}

// Upsert inserts m or replaces the entry with the same id, then re-sorts by
// CreatedAt. It reports whether m was new.
//
// Receipts and deletion never regress: a stale payload arriving late keeps
// the readers and deletion already merged. Known sender metadata survives a
// payload that carries none.
func (v *View) Upsert(m *message.Message) bool {
	m = m.Clone()

	v.mu.Lock()
	defer v.mu.Unlock()

	i, ok := v.index[m.ID]
	if ok {
		prev := v.messages[i]
		if !hasSender(m) && prev.Sender != nil {
			m.Sender = prev.Sender
		}
		m.ReadBy = union(prev.ReadBy, m.ReadBy)
		m.Mentions = union(prev.Mentions, m.Mentions)
		if m.DeletedAt == nil {
			m.DeletedAt = prev.DeletedAt
		}
		v.messages[i] = m
	} else {
		v.messages = append(v.messages, m)
	}

	sort.SliceStable(v.messages, func(a, b int) bool {
		return v.messages[a].CreatedAt.Before(v.messages[b].CreatedAt)
	})
	for i, msg := range v.messages {
		v.index[msg.ID] = i
	}
	return !ok
}

// PatchSender replaces the sender metadata of every message from p.ID and
// returns how many were patched.
func (v *View) PatchSender(p user.Profile) int {
	v.mu.Lock()
	defer v.mu.Unlock()

	n := 0
	for _, m := range v.messages {
		if m.SenderID == p.ID {
			profile := p
			m.Sender = &profile
			n++
		}
	}
	return n
}

// Get returns a copy of the message with id.
func (v *View) Get(id string) (*message.Message, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	i, ok := v.index[id]
	if !ok {
		return nil, false
	}
	return v.messages[i].Clone(), true
}

// Len returns the number of merged messages.
func (v *View) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.messages)
}

// All returns copies of every merged message in order, deleted ones
// included.
func (v *View) All() []*message.Message {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]*message.Message, len(v.messages))
	for i, m := range v.messages {
		out[i] = m.Clone()
	}
	return out
}

// Visible returns copies of the messages viewer may see, in order.
func (v *View) Visible(viewer int, role user.Role) []*message.Message {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]*message.Message, 0, len(v.messages))
	for _, m := range v.messages {
		if m.Deleted() || !message.CanView(m, viewer, role) {
			continue
		}
		out = append(out, m.Clone())
	}
	return out
}

func hasSender(m *message.Message) bool {
	return m.Sender != nil && !m.Sender.Placeholder
}

func union(a, b []int) []int {
	out := slices.Clone(a)
	for _, id := range b {
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}
