package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/notepid/twilight_chat/internal/chat"
	"github.com/notepid/twilight_chat/internal/mention"
	"github.com/notepid/twilight_chat/internal/message"
	"github.com/notepid/twilight_chat/internal/user"
)

// Inbound frame types.
const (
	FrameSend       = "send"
	FrameDraft      = "draft"
	FrameMention    = "mention"
	FrameVisibility = "visibility"
	FrameDelete     = "delete"
	FramePing       = "ping"
)

// Outbound frame types.
const (
	FrameSnapshot = "snapshot"
	FrameSent     = "sent"
	FrameError    = "error"
	FrameWarning  = "warning"
	FrameNotice   = "notice"
	FramePong     = "pong"
)

// Inbound is a frame received from the client.
type Inbound struct {
	Type          string `json:"type"`
	Text          string `json:"text,omitempty"`
	Cursor        int    `json:"cursor,omitempty"`
	ParticipantID int    `json:"participant_id,omitempty"`
	Visible       bool   `json:"visible,omitempty"`
	MessageID     string `json:"message_id,omitempty"`
}

// DraftReply describes the mention being typed and who matches it.
type DraftReply struct {
	Active      bool           `json:"active"`
	Trigger     string         `json:"trigger,omitempty"`
	Fragment    string         `json:"fragment,omitempty"`
	Suggestions []user.Profile `json:"suggestions,omitempty"`
}

// MentionReply carries the draft after a confirmed mention.
type MentionReply struct {
	Text   string `json:"text"`
	Cursor int    `json:"cursor"`
}

// Outbound is a frame sent to the client.
type Outbound struct {
	Type      string         `json:"type"`
	Snapshot  *chat.Snapshot `json:"snapshot,omitempty"`
	MessageID string         `json:"message_id,omitempty"`
	Draft     *DraftReply    `json:"draft,omitempty"`
	Mention   *MentionReply  `json:"mention,omitempty"`
	Message   string         `json:"message,omitempty"`
}

// ChatSession is the part of a chat session the frame handler drives.
type ChatSession interface {
	Send(ctx context.Context, text, scope string) (string, error)
	DraftMentionState(text string, cursor int) (mention.State, bool)
	Suggest(fragment string) []user.Profile
	ConfirmMention(ctx context.Context, text string, cursor int, participantID int) (string, int, error)
	SetVisible(ctx context.Context, visible bool)
	Delete(ctx context.Context, id string) error
}

// HandleFrame applies one inbound frame to sess and returns the reply.
// Frames that need no reply return ok=false.
func HandleFrame(ctx context.Context, sess ChatSession, scope string, in Inbound) (Outbound, bool) {
	switch in.Type {
	case FrameSend:
		id, err := sess.Send(ctx, in.Text, scope)
		if err != nil {
			return errorFrame(err), true
		}
		return Outbound{Type: FrameSent, MessageID: id}, true

	case FrameDraft:
		state, ok := sess.DraftMentionState(in.Text, in.Cursor)
		if !ok {
			return Outbound{Type: FrameDraft, Draft: &DraftReply{}}, true
		}
		return Outbound{Type: FrameDraft, Draft: &DraftReply{
			Active:      true,
			Trigger:     state.Trigger.String(),
			Fragment:    state.Fragment,
			Suggestions: sess.Suggest(state.Fragment),
		}}, true

	case FrameMention:
		text, cursor, err := sess.ConfirmMention(ctx, in.Text, in.Cursor, in.ParticipantID)
		if err != nil {
			return errorFrame(err), true
		}
		return Outbound{Type: FrameMention, Mention: &MentionReply{Text: text, Cursor: cursor}}, true

	case FrameVisibility:
		sess.SetVisible(ctx, in.Visible)
		return Outbound{}, false

	case FrameDelete:
		if err := sess.Delete(ctx, in.MessageID); err != nil {
			return errorFrame(err), true
		}
		return Outbound{}, false

	case FramePing:
		return Outbound{Type: FramePong}, true
	}
	return Outbound{Type: FrameError, Message: fmt.Sprintf("unknown frame type %q", in.Type)}, true
}

// errorFrame maps err to a message safe to show the client.
func errorFrame(err error) Outbound {
	var verr *chat.ValidationError
	switch {
	case errors.As(err, &verr):
		return Outbound{Type: FrameError, Message: verr.Err.Error()}
	case errors.Is(err, chat.ErrForbidden):
		return Outbound{Type: FrameError, Message: "you can only delete your own messages"}
	case errors.Is(err, message.ErrNotFound):
		return Outbound{Type: FrameError, Message: "message not found"}
	case errors.Is(err, mention.ErrNoActiveMention):
		return Outbound{Type: FrameError, Message: err.Error()}
	}
	return Outbound{Type: FrameError, Message: "request failed, try again"}
}
