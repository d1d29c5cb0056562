package message

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/notepid/twilight_chat/internal/user"
)

func TestCanView(t *testing.T) {
	private := &Message{SenderID: alice, IsPrivate: true, Mentions: []int{bob}}
	public := &Message{SenderID: alice, Mentions: []int{bob}}

	cases := []struct {
		name   string
		m      *Message
		viewer int
		role   user.Role
		want   bool
	}{
		{"sender sees own private", private, alice, user.RoleMember, true},
		{"mentioned sees private", private, bob, user.RoleMember, true},
		{"bystander blocked", private, carol, user.RoleMember, false},
		{"coordinator blocked", private, carol, user.RoleCoordinator, false},
		{"admin sees private", private, carol, user.RoleAdmin, true},
		{"superadmin sees private", private, carol, user.RoleSuperAdmin, true},
		{"public visible to all", public, carol, user.RoleMember, true},
	}

	for _, tc := range cases {
		if got := CanView(tc.m, tc.viewer, tc.role); got != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestCloneDoesNotShareSlices(t *testing.T) {
	m := &Message{ID: "m1", Mentions: []int{bob}, ReadBy: []int{carol}, Sender: &user.Profile{ID: alice}}
	c := m.Clone()
	c.ReadBy[0] = 42
	c.Sender.DisplayName = "changed"

	if m.ReadBy[0] != carol || m.Sender.DisplayName != "" {
		t.Fatalf("clone mutated original: %+v", m)
	}
}

func TestNewCreatedPicksVariant(t *testing.T) {
	raw := &Message{ID: "a"}
	if _, ok := NewCreated(raw).(CreatedRaw); !ok {
		t.Fatalf("expected CreatedRaw without sender")
	}

	placeholder := user.Unknown(alice)
	if _, ok := NewCreated(&Message{ID: "b", Sender: &placeholder}).(CreatedRaw); !ok {
		t.Fatalf("expected CreatedRaw for placeholder sender")
	}

	if _, ok := NewCreated(&Message{ID: "c", Sender: &user.Profile{ID: alice, DisplayName: "Alice"}}).(CreatedEnriched); !ok {
		t.Fatalf("expected CreatedEnriched with sender")
	}
}

func TestFeedDropsForSlowSubscriber(t *testing.T) {
	feed := NewFeed(zerolog.Nop())
	slow := feed.Subscribe("S", 1)
	all := feed.SubscribeAll(4)

	feed.Publish(Updated{Message: &Message{ID: "1", ScopeID: "S"}})
	feed.Publish(Updated{Message: &Message{ID: "2", ScopeID: "S"}})

	if len(slow.C) != 1 {
		t.Fatalf("expected slow subscriber to hold one event, got %d", len(slow.C))
	}
	if len(all.C) != 2 {
		t.Fatalf("expected all-scope subscriber to get both events, got %d", len(all.C))
	}

	select {
	case <-slow.Lagged():
	default:
		t.Fatalf("expected slow subscriber flagged lagged")
	}
	select {
	case <-all.Lagged():
		t.Fatalf("expected subscriber with room not flagged")
	default:
	}

	feed.Unsubscribe(slow)
	if feed.Subscribers() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", feed.Subscribers())
	}
}
