// Package notify turns mentions into per-recipient notification requests.
// Delivery (push, SMS, email) happens downstream of the queue.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/notepid/twilight_chat/internal/metrics"
	"github.com/notepid/twilight_chat/internal/user"
)

// Request is one notification for one recipient.
type Request struct {
	RecipientID int    `json:"recipient_id"`
	Title       string `json:"title"`
	Body        string `json:"body"`
	ChannelHint string `json:"channel_hint"`
}

// Enqueuer hands a request to the delivery pipeline.
type Enqueuer interface {
	Enqueue(ctx context.Context, req Request) error
}

const maxBodyRunes = 140

// FanOut emits one request per mentioned participant, so each recipient's
// channel preference can be honoured downstream.
type FanOut struct {
	enq  Enqueuer
	hint string
	log  zerolog.Logger
}

// NewFanOut creates a fan-out over enq tagging requests with channelHint.
func NewFanOut(enq Enqueuer, channelHint string, log zerolog.Logger) *FanOut {
	return &FanOut{enq: enq, hint: channelHint, log: log.With().Str("component", "notify").Logger()}
}

// NotifyMentioned enqueues a request for every distinct mentioned id other
// than the sender. Failures are logged and returned joined; they never
// affect the message itself.
func (f *FanOut) NotifyMentioned(ctx context.Context, mentioned []int, sender user.Profile, content string, private bool) error {
	title := fmt.Sprintf("%s mentioned you", sender.DisplayName)
	if private {
		title = fmt.Sprintf("Private message from %s", sender.DisplayName)
	}
	body := truncate(content, maxBodyRunes)

	seen := make(map[int]bool, len(mentioned))
	var errs []error
	for _, id := range mentioned {
		if id == sender.ID || seen[id] {
			continue
		}
		seen[id] = true

		err := f.enq.Enqueue(ctx, Request{RecipientID: id, Title: title, Body: body, ChannelHint: f.hint})
		if err != nil {
			metrics.NotificationsEnqueued.WithLabelValues("error").Inc()
			f.log.Warn().Err(err).Int("recipient", id).Msg("notification not queued")
			errs = append(errs, fmt.Errorf("notify %d: %w", id, err))
			continue
		}
		metrics.NotificationsEnqueued.WithLabelValues("ok").Inc()
	}
	return errors.Join(errs...)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
