package notify

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Entry is a queued notification in the outbox.
type Entry struct {
	ID          int
	Request     Request
	CreatedAt   time.Time
	DeliveredAt *time.Time
}

// Outbox stores notification requests in SQLite for a downstream delivery
// process to drain.
type Outbox struct {
	db  *sql.DB
	now func() time.Time
}

// NewOutbox creates an outbox over db.
func NewOutbox(db *sql.DB) *Outbox {
	return &Outbox{db: db, now: time.Now}
}

// Enqueue appends req to the outbox.
func (o *Outbox) Enqueue(ctx context.Context, req Request) error {
	_, err := o.db.ExecContext(ctx, `
		INSERT INTO notification_outbox (recipient_id, title, body, channel_hint, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, req.RecipientID, req.Title, req.Body, req.ChannelHint, o.now().UnixNano())
	if err != nil {
		return fmt.Errorf("enqueue notification for %d: %w", req.RecipientID, err)
	}
	return nil
}

// Pending returns undelivered entries, oldest first.
func (o *Outbox) Pending(ctx context.Context, limit int) ([]Entry, error) {
	return o.query(ctx, `WHERE delivered_at IS NULL ORDER BY id ASC LIMIT ?`, limit)
}

// Recent returns the newest entries, delivered or not.
func (o *Outbox) Recent(ctx context.Context, limit int) ([]Entry, error) {
	return o.query(ctx, `ORDER BY id DESC LIMIT ?`, limit)
}

func (o *Outbox) query(ctx context.Context, clause string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := o.db.QueryContext(ctx, `
		SELECT id, recipient_id, title, body, channel_hint, created_at, delivered_at
		FROM notification_outbox `+clause, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var created int64
		var delivered sql.NullInt64
		if err := rows.Scan(&e.ID, &e.Request.RecipientID, &e.Request.Title, &e.Request.Body,
			&e.Request.ChannelHint, &created, &delivered); err != nil {
			return nil, err
		}
		e.CreatedAt = time.Unix(0, created).UTC()
		if delivered.Valid {
			t := time.Unix(0, delivered.Int64).UTC()
			e.DeliveredAt = &t
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// MarkDelivered records that an entry was handed off for delivery.
func (o *Outbox) MarkDelivered(ctx context.Context, id int) error {
	_, err := o.db.ExecContext(ctx, `
		UPDATE notification_outbox SET delivered_at = ? WHERE id = ? AND delivered_at IS NULL
	`, o.now().UnixNano(), id)
	if err != nil {
		return fmt.Errorf("mark notification %d delivered: %w", id, err)
	}
	return nil
}
