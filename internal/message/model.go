package message

import (
	"errors"
	"slices"
	"time"

	"github.com/notepid/twilight_chat/internal/user"
)

// GlobalScope is the scope id of messages posted outside any program or
// topic channel.
const GlobalScope = ""

var (
	// ErrNotFound is returned for unknown or soft-deleted messages.
	ErrNotFound = errors.New("message not found")
	// ErrEmptyContent rejects messages with nothing but whitespace.
	ErrEmptyContent = errors.New("message content is empty")
	// ErrSelfMention rejects messages whose mentions include the sender.
	ErrSelfMention = errors.New("message mentions its own sender")
)

// Message is one chat message in a scope.
type Message struct {
	ID       string `json:"id"`
	ScopeID  string `json:"scope_id"`
	SenderID int    `json:"sender_id"`
	// Sender is nil when the record came off the change feed without
	// denormalised sender metadata.
	Sender    *user.Profile `json:"sender,omitempty"`
	Content   string        `json:"content"`
	Mentions  []int         `json:"mentions"`
	IsPrivate bool          `json:"is_private"`
	ReadBy    []int         `json:"read_by"`
	CreatedAt time.Time     `json:"created_at"`
	DeletedAt *time.Time    `json:"deleted_at,omitempty"`
}

// Clone returns a deep copy so views can hand messages out without sharing
// slices with the merge goroutine.
func (m *Message) Clone() *Message {
	c := *m
	c.Mentions = slices.Clone(m.Mentions)
	c.ReadBy = slices.Clone(m.ReadBy)
	if m.Sender != nil {
		s := *m.Sender
		c.Sender = &s
	}
	if m.DeletedAt != nil {
		d := *m.DeletedAt
		c.DeletedAt = &d
	}
	return &c
}

// Mentioned reports whether id is in the mention set.
func (m *Message) Mentioned(id int) bool {
	return slices.Contains(m.Mentions, id)
}

// ReadByViewer reports whether id has a read receipt on the message.
func (m *Message) ReadByViewer(id int) bool {
	return slices.Contains(m.ReadBy, id)
}

// Deleted reports whether the message has been soft-deleted.
func (m *Message) Deleted() bool {
	return m.DeletedAt != nil
}

// Visibility labels the message for metrics and logs.
func (m *Message) Visibility() string {
	if m.IsPrivate {
		return "private"
	}
	return "public"
}

// CanView decides whether a viewer may see m. It is applied every time a view
// is enumerated; storage never filters by viewer.
func CanView(m *Message, viewerID int, role user.Role) bool {
	switch {
	case role.Elevated():
		return true
	case m.SenderID == viewerID:
		return true
	case !m.IsPrivate:
		return true
	default:
		return m.Mentioned(viewerID)
	}
}
