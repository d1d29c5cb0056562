package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned when no participant matches a lookup.
var ErrNotFound = errors.New("participant not found")

// Repo handles database operations for participants.
type Repo struct {
	db *sql.DB
}

// NewRepo creates a new participant repository.
func NewRepo(db *sql.DB) *Repo {
	return &Repo{db: db}
}

// Create inserts a new participant with a hashed password.
func (r *Repo) Create(ctx context.Context, displayName, shortID, password string, role Role) (*Participant, error) {
	displayName = strings.TrimSpace(displayName)
	shortID = strings.TrimSpace(shortID)
	if displayName == "" || shortID == "" {
		return nil, fmt.Errorf("create participant: display name and short id are required")
	}
	if !role.Valid() {
		return nil, fmt.Errorf("create participant %s: invalid role %q", shortID, role)
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO participants (display_name, short_id, role, password_hash)
		VALUES (?, ?, ?, ?)
	`, displayName, shortID, string(role), hash)
	if err != nil {
		return nil, fmt.Errorf("create participant %s: %w", shortID, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get participant id: %w", err)
	}

	return r.GetByID(ctx, int(id))
}

// Authenticate checks short id and password and returns the participant.
// Inactive accounts are refused.
func (r *Repo) Authenticate(ctx context.Context, shortID, password string) (*Participant, error) {
	p, err := r.GetByShortID(ctx, shortID)
	if err != nil {
		return nil, fmt.Errorf("invalid credentials")
	}
	if !p.Active {
		return nil, fmt.Errorf("account disabled")
	}
	if !CheckPassword(password, p.PasswordHash) {
		return nil, fmt.Errorf("invalid credentials")
	}
	return p, nil
}

const participantColumns = `
	id, display_name, short_id, role, password_hash, active,
	last_seen_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanParticipant(row rowScanner) (*Participant, error) {
	p := &Participant{}
	var role string
	var lastSeen, created, updated sql.NullTime
	if err := row.Scan(&p.ID, &p.DisplayName, &p.ShortID, &role, &p.PasswordHash, &p.Active,
		&lastSeen, &created, &updated); err != nil {
		return nil, err
	}
	p.Role = Role(role)
	if lastSeen.Valid {
		t := lastSeen.Time
		p.LastSeenAt = &t
	}
	if created.Valid {
		p.CreatedAt = created.Time
	}
	if updated.Valid {
		p.UpdatedAt = updated.Time
	}
	return p, nil
}

// GetByID retrieves a participant by ID.
func (r *Repo) GetByID(ctx context.Context, id int) (*Participant, error) {
	p, err := scanParticipant(r.db.QueryRowContext(ctx,
		`SELECT `+participantColumns+` FROM participants WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get participant %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get participant %d: %w", id, err)
	}
	return p, nil
}

// GetByShortID retrieves a participant by short id (case-insensitive).
func (r *Repo) GetByShortID(ctx context.Context, shortID string) (*Participant, error) {
	p, err := scanParticipant(r.db.QueryRowContext(ctx,
		`SELECT `+participantColumns+` FROM participants WHERE short_id = ? COLLATE NOCASE`, shortID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get participant %s: %w", shortID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get participant %s: %w", shortID, err)
	}
	return p, nil
}

// GetProfile returns display metadata for a participant.
func (r *Repo) GetProfile(ctx context.Context, id int) (Profile, error) {
	p, err := r.GetByID(ctx, id)
	if err != nil {
		return Profile{}, err
	}
	return p.Profile, nil
}

// ListActiveDirectory returns every active participant's profile, ordered by
// display name. It seeds the roster independent of online status.
func (r *Repo) ListActiveDirectory(ctx context.Context) ([]Profile, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, display_name, short_id, role
		FROM participants WHERE active = 1
		ORDER BY display_name COLLATE NOCASE
	`)
	if err != nil {
		return nil, fmt.Errorf("list directory: %w", err)
	}
	defer rows.Close()

	var profiles []Profile
	for rows.Next() {
		var p Profile
		var role string
		if err := rows.Scan(&p.ID, &p.DisplayName, &p.ShortID, &role); err != nil {
			return nil, err
		}
		p.Role = Role(role)
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

// List returns all participants, active or not, ordered by display name.
func (r *Repo) List(ctx context.Context) ([]*Participant, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+participantColumns+` FROM participants ORDER BY display_name COLLATE NOCASE`)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	var participants []*Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		participants = append(participants, p)
	}
	return participants, rows.Err()
}

// Exists checks if a short id is already taken.
func (r *Repo) Exists(ctx context.Context, shortID string) bool {
	var count int
	r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM participants WHERE short_id = ? COLLATE NOCASE", shortID).Scan(&count)
	return count > 0
}

// UpdateProfile changes a participant's display name.
func (r *Repo) UpdateProfile(ctx context.Context, id int, displayName string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE participants SET display_name = ?, updated_at = ? WHERE id = ?
	`, strings.TrimSpace(displayName), time.Now(), id)
	return err
}

// UpdateRole changes a participant's role.
func (r *Repo) UpdateRole(ctx context.Context, id int, role Role) error {
	if !role.Valid() {
		return fmt.Errorf("update role: invalid role %q", role)
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE participants SET role = ?, updated_at = ? WHERE id = ?
	`, string(role), time.Now(), id)
	return err
}

// SetActive enables or disables an account.
func (r *Repo) SetActive(ctx context.Context, id int, active bool) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE participants SET active = ?, updated_at = ? WHERE id = ?
	`, active, time.Now(), id)
	return err
}

// UpdatePassword changes a participant's password.
func (r *Repo) UpdatePassword(ctx context.Context, id int, newPassword string) error {
	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		UPDATE participants SET password_hash = ?, updated_at = ? WHERE id = ?
	`, hash, time.Now(), id)
	return err
}

// TouchLastSeen records a best-effort last-seen hint. Nothing reads it for
// correctness.
func (r *Repo) TouchLastSeen(ctx context.Context, id int, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE participants SET last_seen_at = ? WHERE id = ?`, at, id)
	return err
}
