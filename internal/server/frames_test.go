package server

import (
	"context"
	"fmt"
	"testing"

	"github.com/notepid/twilight_chat/internal/chat"
	"github.com/notepid/twilight_chat/internal/mention"
	"github.com/notepid/twilight_chat/internal/message"
	"github.com/notepid/twilight_chat/internal/user"
)

type fakeSession struct {
	sent    []string
	visible *bool
	sendErr error
	delErr  error
	roster  []user.Profile
}

func (f *fakeSession) Send(ctx context.Context, text, scope string) (string, error) {
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.sent = append(f.sent, scope+":"+text)
	return fmt.Sprintf("M%d", len(f.sent)), nil
}

func (f *fakeSession) DraftMentionState(text string, cursor int) (mention.State, bool) {
	return mention.DraftState(text, cursor)
}

func (f *fakeSession) Suggest(fragment string) []user.Profile {
	return mention.Suggest(fragment, f.roster, 0, 5)
}

func (f *fakeSession) ConfirmMention(ctx context.Context, text string, cursor int, participantID int) (string, int, error) {
	if participantID == 1 {
		return text, cursor, &chat.ValidationError{Err: mention.ErrSelfMention}
	}
	return "Hello @@Bob Jones ", 18, nil
}

func (f *fakeSession) SetVisible(ctx context.Context, visible bool) {
	f.visible = &visible
}

func (f *fakeSession) Delete(ctx context.Context, id string) error {
	return f.delErr
}

func TestHandleFrameSend(t *testing.T) {
	sess := &fakeSession{}
	out, ok := HandleFrame(context.Background(), sess, "S", Inbound{Type: FrameSend, Text: "hi"})
	if !ok || out.Type != FrameSent || out.MessageID != "M1" {
		t.Fatalf("expected sent frame, got %+v", out)
	}
	if len(sess.sent) != 1 || sess.sent[0] != "S:hi" {
		t.Fatalf("expected message sent to scope S, got %v", sess.sent)
	}

	sess.sendErr = &chat.ValidationError{Err: message.ErrEmptyContent}
	out, _ = HandleFrame(context.Background(), sess, "S", Inbound{Type: FrameSend})
	if out.Type != FrameError || out.Message != message.ErrEmptyContent.Error() {
		t.Fatalf("expected validation message, got %+v", out)
	}

	sess.sendErr = fmt.Errorf("send message: %w", context.DeadlineExceeded)
	out, _ = HandleFrame(context.Background(), sess, "S", Inbound{Type: FrameSend, Text: "hi"})
	if out.Type != FrameError || out.Message != "request failed, try again" {
		t.Fatalf("expected generic error, got %+v", out)
	}
}

func TestHandleFrameDraft(t *testing.T) {
	sess := &fakeSession{roster: []user.Profile{
		{ID: 2, DisplayName: "Bob Jones"},
		{ID: 3, DisplayName: "Carol"},
	}}

	out, _ := HandleFrame(context.Background(), sess, "S", Inbound{Type: FrameDraft, Text: "Hello @@Bo", Cursor: 10})
	if out.Draft == nil || !out.Draft.Active || out.Draft.Trigger != "private" || out.Draft.Fragment != "Bo" {
		t.Fatalf("unexpected draft reply %+v", out.Draft)
	}
	if len(out.Draft.Suggestions) != 1 || out.Draft.Suggestions[0].ID != 2 {
		t.Fatalf("expected Bob suggested, got %+v", out.Draft.Suggestions)
	}

	out, _ = HandleFrame(context.Background(), sess, "S", Inbound{Type: FrameDraft, Text: "plain", Cursor: 5})
	if out.Draft == nil || out.Draft.Active {
		t.Fatalf("expected inactive draft, got %+v", out.Draft)
	}
}

func TestHandleFrameMention(t *testing.T) {
	sess := &fakeSession{}
	out, _ := HandleFrame(context.Background(), sess, "S", Inbound{Type: FrameMention, Text: "Hello @@Bo", Cursor: 10, ParticipantID: 2})
	if out.Type != FrameMention || out.Mention == nil || out.Mention.Cursor != 18 {
		t.Fatalf("unexpected mention reply %+v", out)
	}

	out, _ = HandleFrame(context.Background(), sess, "S", Inbound{Type: FrameMention, Text: "@@Sa", Cursor: 4, ParticipantID: 1})
	if out.Type != FrameError || out.Message != mention.ErrSelfMention.Error() {
		t.Fatalf("expected self mention error, got %+v", out)
	}
}

func TestHandleFrameVisibilityAndDelete(t *testing.T) {
	sess := &fakeSession{}
	if _, ok := HandleFrame(context.Background(), sess, "S", Inbound{Type: FrameVisibility, Visible: false}); ok {
		t.Fatalf("expected no reply to visibility")
	}
	if sess.visible == nil || *sess.visible {
		t.Fatalf("expected session backgrounded")
	}

	sess.delErr = fmt.Errorf("delete message M: %w", chat.ErrForbidden)
	out, ok := HandleFrame(context.Background(), sess, "S", Inbound{Type: FrameDelete, MessageID: "M"})
	if !ok || out.Message != "you can only delete your own messages" {
		t.Fatalf("expected forbidden error, got %+v", out)
	}

	sess.delErr = nil
	if _, ok := HandleFrame(context.Background(), sess, "S", Inbound{Type: FrameDelete, MessageID: "M"}); ok {
		t.Fatalf("expected no reply to a successful delete")
	}
}

func TestHandleFrameUnknown(t *testing.T) {
	out, ok := HandleFrame(context.Background(), &fakeSession{}, "S", Inbound{Type: "bogus"})
	if !ok || out.Type != FrameError {
		t.Fatalf("expected error frame, got %+v", out)
	}
	out, _ = HandleFrame(context.Background(), &fakeSession{}, "S", Inbound{Type: FramePing})
	if out.Type != FramePong {
		t.Fatalf("expected pong, got %+v", out)
	}
}
