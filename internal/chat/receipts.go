package chat

import (
	"context"
	"strconv"
	"sync"

	"github.com/rs/zerolog"

	"github.com/notepid/twilight_chat/internal/message"
	"github.com/notepid/twilight_chat/internal/metrics"
)

// ReceiptWriter records read receipts.
type ReceiptWriter interface {
	MarkRead(ctx context.Context, id string, viewer int) error
}

// Receipts converges read state for the messages a session renders. Each
// (message, viewer) pair is written at most once at a time; a failed write
// is forgotten so the next render retries it.
type Receipts struct {
	w   ReceiptWriter
	log zerolog.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
	written  map[string]struct{}
	wg       sync.WaitGroup
}

// NewReceipts creates a receipt tracker over w.
func NewReceipts(w ReceiptWriter, log zerolog.Logger) *Receipts {
	return &Receipts{
		w:        w,
		log:      log.With().Str("component", "receipts").Logger(),
		inflight: make(map[string]struct{}),
		written:  make(map[string]struct{}),
	}
}

func receiptKey(id string, viewer int) string {
	return id + "/" + strconv.Itoa(viewer)
}

// MarkRead starts a background write recording that viewer has seen m and
// reports whether one was started. It is a no-op for the sender, for viewers
// already in ReadBy and for pairs already written or in flight.
func (r *Receipts) MarkRead(ctx context.Context, m *message.Message, viewer int) bool {
	if m.SenderID == viewer || m.ReadByViewer(viewer) || m.Deleted() {
		return false
	}

	key := receiptKey(m.ID, viewer)
	r.mu.Lock()
	if _, ok := r.inflight[key]; ok {
		r.mu.Unlock()
		return false
	}
	if _, ok := r.written[key]; ok {
		r.mu.Unlock()
		return false
	}
	r.inflight[key] = struct{}{}
	r.mu.Unlock()

	id := m.ID
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		err := r.w.MarkRead(ctx, id, viewer)

		r.mu.Lock()
		delete(r.inflight, key)
		if err == nil {
			r.written[key] = struct{}{}
		}
		r.mu.Unlock()

		if err != nil {
			metrics.ReadReceipts.WithLabelValues("error").Inc()
			r.log.Warn().Err(&ReceiptWriteFailure{MessageID: id, ParticipantID: viewer, Err: err}).Msg("read receipt not recorded")
			return
		}
		metrics.ReadReceipts.WithLabelValues("ok").Inc()
	}()
	return true
}

// InFlight reports whether a write for the pair is running.
func (r *Receipts) InFlight(id string, viewer int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.inflight[receiptKey(id, viewer)]
	return ok
}

// Wait blocks until every started write has finished.
func (r *Receipts) Wait() {
	r.wg.Wait()
}
