package message

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/notepid/twilight_chat/internal/metrics"
	"github.com/notepid/twilight_chat/internal/user"
)

// Repo is the append-only message log. Every successful write is announced
// on the change feed.
type Repo struct {
	db   *sql.DB
	feed *Feed
	now  func() time.Time
}

// NewRepo creates a message repository publishing to feed. feed may be nil
// for read-only tools.
func NewRepo(db *sql.DB, feed *Feed) *Repo {
	return &Repo{db: db, feed: feed, now: time.Now}
}

// Filter selects a page of messages.
type Filter struct {
	Scope          string
	Limit          int
	IncludeDeleted bool
}

// ScopeSummary describes one scope that has messages.
type ScopeSummary struct {
	ScopeID      string
	Total        int
	Deleted      int
	LastActivity time.Time
}

const selectMessage = `
	SELECT m.id, m.scope_id, m.sender_id,
	       p.display_name, p.short_id, p.role,
	       m.content, m.is_private, m.created_at, m.deleted_at,
	       (SELECT group_concat(participant_id) FROM message_mentions WHERE message_id = m.id),
	       (SELECT group_concat(participant_id) FROM message_reads WHERE message_id = m.id)
	FROM messages m
	LEFT JOIN participants p ON p.id = m.sender_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*Message, error) {
	m := &Message{}
	var name, shortID, role sql.NullString
	var created int64
	var deleted sql.NullInt64
	var mentions, readBy sql.NullString

	if err := row.Scan(&m.ID, &m.ScopeID, &m.SenderID,
		&name, &shortID, &role,
		&m.Content, &m.IsPrivate, &created, &deleted,
		&mentions, &readBy); err != nil {
		return nil, err
	}

	if name.Valid {
		m.Sender = &user.Profile{
			ID:          m.SenderID,
			DisplayName: name.String,
			ShortID:     shortID.String,
			Role:        user.Role(role.String),
		}
	} else {
		p := user.Unknown(m.SenderID)
		m.Sender = &p
	}

	m.CreatedAt = time.Unix(0, created).UTC()
	if deleted.Valid {
		t := time.Unix(0, deleted.Int64).UTC()
		m.DeletedAt = &t
	}

	var err error
	if m.Mentions, err = parseIDList(mentions); err != nil {
		return nil, fmt.Errorf("message %s mentions: %w", m.ID, err)
	}
	if m.ReadBy, err = parseIDList(readBy); err != nil {
		return nil, fmt.Errorf("message %s receipts: %w", m.ID, err)
	}
	return m, nil
}

func parseIDList(s sql.NullString) ([]int, error) {
	if !s.Valid || s.String == "" {
		return []int{}, nil
	}
	parts := strings.Split(s.String, ",")
	ids := make([]int, 0, len(parts))
	for _, part := range parts {
		id, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

// Append stores a new message and returns its id. The id and created_at are
// assigned here; mentions are de-duplicated and must not include the sender.
func (r *Repo) Append(ctx context.Context, m *Message) (string, error) {
	if strings.TrimSpace(m.Content) == "" {
		return "", ErrEmptyContent
	}
	if m.SenderID == 0 {
		return "", fmt.Errorf("append message: sender is required")
	}

	mentions := make([]int, 0, len(m.Mentions))
	for _, id := range m.Mentions {
		if id == m.SenderID {
			return "", ErrSelfMention
		}
		if !slices.Contains(mentions, id) {
			mentions = append(mentions, id)
		}
	}

	stored := &Message{
		ID:        ulid.Make().String(),
		ScopeID:   m.ScopeID,
		SenderID:  m.SenderID,
		Content:   m.Content,
		Mentions:  mentions,
		IsPrivate: m.IsPrivate && len(mentions) > 0,
		ReadBy:    []int{},
		CreatedAt: r.now().UTC(),
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("append message: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, scope_id, sender_id, content, is_private, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, stored.ID, stored.ScopeID, stored.SenderID, stored.Content, stored.IsPrivate,
		stored.CreatedAt.UnixNano()); err != nil {
		return "", fmt.Errorf("append message: %w", err)
	}

	for _, id := range mentions {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO message_mentions (message_id, participant_id) VALUES (?, ?)
		`, stored.ID, id); err != nil {
			return "", fmt.Errorf("append message mention %d: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("append message: %w", err)
	}

	metrics.MessagesSent.WithLabelValues(stored.Visibility()).Inc()
	if r.feed != nil {
		r.feed.Publish(CreatedRaw{Message: stored})
	}
	return stored.ID, nil
}

// Get returns the enriched message, or ErrNotFound if it does not exist or
// has been soft-deleted.
func (r *Repo) Get(ctx context.Context, id string) (*Message, error) {
	return r.get(ctx, id, false)
}

func (r *Repo) get(ctx context.Context, id string, includeDeleted bool) (*Message, error) {
	query := selectMessage + ` WHERE m.id = ?`
	if !includeDeleted {
		query += ` AND m.deleted_at IS NULL`
	}
	m, err := scanMessage(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get message %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get message %s: %w", id, err)
	}
	return m, nil
}

// List returns the most recent Limit messages of a scope in ascending
// created_at order.
func (r *Repo) List(ctx context.Context, f Filter) ([]*Message, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	query := selectMessage + ` WHERE m.scope_id = ?`
	if !f.IncludeDeleted {
		query += ` AND m.deleted_at IS NULL`
	}
	query += ` ORDER BY m.created_at DESC, m.id DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, f.Scope, f.Limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	slices.Reverse(messages)
	return messages, nil
}

// MarkRead adds viewer to the message's readers. The write is a set union:
// repeated or concurrent calls for the same pair leave one receipt. The
// sender never gets a receipt.
func (r *Repo) MarkRead(ctx context.Context, id string, viewer int) error {
	result, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO message_reads (message_id, participant_id, read_at)
		SELECT id, ?, ? FROM messages
		WHERE id = ? AND sender_id != ? AND deleted_at IS NULL
	`, viewer, r.now().UnixNano(), id, viewer)
	if err != nil {
		return fmt.Errorf("mark read %s by %d: %w", id, viewer, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark read %s by %d: %w", id, viewer, err)
	}
	if n == 0 {
		// Already read, or viewer is the sender; either way a no-op, as long
		// as the message exists.
		if _, err := r.get(ctx, id, false); err != nil {
			return err
		}
		return nil
	}

	r.publishUpdate(ctx, id)
	return nil
}

// SoftDelete hides a message from every retrieval path.
func (r *Repo) SoftDelete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE messages SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL
	`, r.now().UnixNano(), id)
	if err != nil {
		return fmt.Errorf("delete message %s: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("delete message %s: %w", id, ErrNotFound)
	}

	r.publishUpdate(ctx, id)
	return nil
}

func (r *Repo) publishUpdate(ctx context.Context, id string) {
	if r.feed == nil {
		return
	}
	m, err := r.get(ctx, id, true)
	if err != nil {
		// The write is committed; subscribers converge on their next reload.
		return
	}
	r.feed.Publish(Updated{Message: m})
}

// ListScopes summarises every scope that has messages.
func (r *Repo) ListScopes(ctx context.Context) ([]ScopeSummary, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT scope_id, COUNT(*),
		       SUM(CASE WHEN deleted_at IS NULL THEN 0 ELSE 1 END),
		       MAX(created_at)
		FROM messages
		GROUP BY scope_id
		ORDER BY scope_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list scopes: %w", err)
	}
	defer rows.Close()

	var scopes []ScopeSummary
	for rows.Next() {
		var s ScopeSummary
		var last int64
		if err := rows.Scan(&s.ScopeID, &s.Total, &s.Deleted, &last); err != nil {
			return nil, err
		}
		s.LastActivity = time.Unix(0, last).UTC()
		scopes = append(scopes, s)
	}
	return scopes, rows.Err()
}
