// Package presence tracks which participants are connected to each scope.
//
// A Transport carries membership between processes. Every Sync it delivers
// is a full snapshot of a scope's members, and the Tracker replaces its
// online set with it wholesale.
package presence

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Member is one connection's live presence in a scope. A participant with
// several connections has one Member per connection.
type Member struct {
	ParticipantID int       `json:"participant_id"`
	ConnID        string    `json:"conn_id"`
	JoinedAt      time.Time `json:"joined_at"`
	LastSeen      time.Time `json:"last_seen"`
	Away          bool      `json:"away"`
}

func (m Member) key() string {
	if m.ConnID != "" {
		return m.ConnID
	}
	return strconv.Itoa(m.ParticipantID)
}

func compareMembers(a, b Member) int {
	if c := cmp.Compare(a.ParticipantID, b.ParticipantID); c != 0 {
		return c
	}
	return strings.Compare(a.ConnID, b.ConnID)
}

// byParticipant folds connections into one Member per participant. The
// participant is away only when every connection is away.
func byParticipant(members []Member) map[int]Member {
	out := make(map[int]Member, len(members))
	for _, m := range members {
		prev, ok := out[m.ParticipantID]
		if !ok {
			m.ConnID = ""
			out[m.ParticipantID] = m
			continue
		}
		if m.JoinedAt.Before(prev.JoinedAt) {
			prev.JoinedAt = m.JoinedAt
		}
		if m.LastSeen.After(prev.LastSeen) {
			prev.LastSeen = m.LastSeen
		}
		prev.Away = prev.Away && m.Away
		out[m.ParticipantID] = prev
	}
	return out
}

// Sync is a full membership snapshot for a scope.
type Sync struct {
	Scope   string
	Members []Member
}

// IDs returns the distinct sorted participant ids in the snapshot.
func (s Sync) IDs() []int {
	ids := make([]int, 0, len(s.Members))
	for _, m := range s.Members {
		ids = append(ids, m.ParticipantID)
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}

// Transport is the membership-sync primitive.
type Transport interface {
	// Track announces or refreshes a member in scope.
	Track(ctx context.Context, scope string, m Member) error
	// Untrack removes one connection from scope.
	Untrack(ctx context.Context, scope string, connID string) error
	// Subscribe streams full snapshots for scope. The first snapshot is the
	// current membership. The channel is closed when ctx is done or the
	// subscription is lost.
	Subscribe(ctx context.Context, scope string) (<-chan Sync, error)
}

// TransportError wraps a failed transport call with its scope.
type TransportError struct {
	Scope string
	Op    string
	Err   error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("presence %s %q: %v", e.Op, e.Scope, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
