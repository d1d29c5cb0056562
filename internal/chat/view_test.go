package chat

import (
	"testing"
	"time"

	"github.com/notepid/twilight_chat/internal/message"
	"github.com/notepid/twilight_chat/internal/user"
)

var (
	t0    = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	sam   = user.Profile{ID: 1, DisplayName: "Sam Sender", ShortID: "sam", Role: user.RoleMember}
	bob   = user.Profile{ID: 2, DisplayName: "Bob Jones", ShortID: "bob", Role: user.RoleMember}
	carol = user.Profile{ID: 3, DisplayName: "Carol", ShortID: "carol", Role: user.RoleMember}
	admin = user.Profile{ID: 4, DisplayName: "Ada Admin", ShortID: "ada", Role: user.RoleAdmin}
)

func msg(id string, sender int, offset time.Duration) *message.Message {
	return &message.Message{
		ID:        id,
		ScopeID:   "S",
		SenderID:  sender,
		Content:   "content " + id,
		Mentions:  []int{},
		ReadBy:    []int{},
		CreatedAt: t0.Add(offset),
	}
}

func ids(msgs []*message.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func TestUpsertIsIdempotent(t *testing.T) {
	v := NewView()
	m := msg("M", sam.ID, 0)

	if !v.Upsert(m) {
		t.Fatalf("expected first upsert to insert")
	}
	if v.Upsert(m) {
		t.Fatalf("expected redelivery to replace")
	}
	if v.Len() != 1 {
		t.Fatalf("expected exactly one entry, got %d", v.Len())
	}
}

func TestUpsertKeepsOrderUnderOutOfOrderArrival(t *testing.T) {
	v := NewView()
	v.Upsert(msg("c", sam.ID, 3*time.Second))
	v.Upsert(msg("a", sam.ID, 1*time.Second))
	v.Upsert(msg("d", sam.ID, 4*time.Second))
	v.Upsert(msg("b", sam.ID, 2*time.Second))

	got := ids(v.All())
	want := []string{"a", "b", "c", "d"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, got)
		}
	}
}

func TestUpsertPreservesKnownSender(t *testing.T) {
	v := NewView()
	enriched := msg("M", sam.ID, 0)
	enriched.Sender = &sam
	v.Upsert(enriched)

	update := msg("M", sam.ID, 0)
	update.ReadBy = []int{bob.ID}
	v.Upsert(update)

	got, _ := v.Get("M")
	if got.Sender == nil || got.Sender.DisplayName != sam.DisplayName {
		t.Fatalf("expected sender metadata kept, got %+v", got.Sender)
	}
	if !got.ReadByViewer(bob.ID) {
		t.Fatalf("expected update to apply read_by")
	}
}

func TestUpsertReceiptsNeverShrink(t *testing.T) {
	v := NewView()
	newer := msg("M", sam.ID, 0)
	newer.ReadBy = []int{bob.ID, carol.ID}
	v.Upsert(newer)

	stale := msg("M", sam.ID, 0)
	stale.ReadBy = []int{bob.ID}
	v.Upsert(stale)

	got, _ := v.Get("M")
	if len(got.ReadBy) != 2 {
		t.Fatalf("expected read_by to keep both readers, got %v", got.ReadBy)
	}
}

func TestPatchSender(t *testing.T) {
	v := NewView()
	unknown := user.Unknown(carol.ID)
	for _, id := range []string{"a", "b"} {
		m := msg(id, carol.ID, 0)
		m.Sender = &unknown
		v.Upsert(m)
	}
	v.Upsert(msg("c", sam.ID, time.Second))

	if n := v.PatchSender(carol); n != 2 {
		t.Fatalf("expected 2 patched, got %d", n)
	}
	for _, m := range v.All() {
		if m.SenderID == carol.ID && (m.Sender == nil || m.Sender.DisplayName != "Carol") {
			t.Fatalf("expected patched sender on %s, got %+v", m.ID, m.Sender)
		}
	}
}

func TestVisibleScenarioPrivateMention(t *testing.T) {
	v := NewView()
	private := msg("P", sam.ID, 0)
	private.Content = "Hello @@Bob re: budget"
	private.Mentions = []int{bob.ID}
	private.IsPrivate = true
	v.Upsert(private)
	v.Upsert(msg("Q", carol.ID, time.Second))

	if got := ids(v.Visible(carol.ID, carol.Role)); len(got) != 1 || got[0] != "Q" {
		t.Fatalf("expected carol to see only Q, got %v", got)
	}
	if got := v.Visible(bob.ID, bob.Role); len(got) != 2 {
		t.Fatalf("expected bob to see both, got %v", ids(got))
	}
	if got := v.Visible(sam.ID, sam.Role); len(got) != 2 {
		t.Fatalf("expected sender to see both, got %v", ids(got))
	}
	if got := v.Visible(admin.ID, admin.Role); len(got) != 2 {
		t.Fatalf("expected admin to see both, got %v", ids(got))
	}
}

func TestVisibleSkipsDeleted(t *testing.T) {
	v := NewView()
	v.Upsert(msg("a", sam.ID, 0))
	deleted := msg("a", sam.ID, 0)
	at := t0.Add(time.Minute)
	deleted.DeletedAt = &at
	v.Upsert(deleted)

	if len(v.Visible(sam.ID, sam.Role)) != 0 {
		t.Fatalf("expected deleted message hidden")
	}
	if v.Len() != 1 {
		t.Fatalf("expected deleted message kept in view")
	}

	// A late copy without deleted_at does not resurrect it.
	v.Upsert(msg("a", sam.ID, 0))
	if len(v.Visible(sam.ID, sam.Role)) != 0 {
		t.Fatalf("expected deletion to stick")
	}
}
