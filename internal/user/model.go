package user

import "time"

// Role is a participant's organisational role.
type Role string

const (
	RoleMember      Role = "member"
	RoleCoordinator Role = "coordinator"
	RoleAdmin       Role = "admin"
	RoleSuperAdmin  Role = "superadmin"
)

// Elevated reports whether the role sees every message regardless of
// private mentions.
func (r Role) Elevated() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleMember, RoleCoordinator, RoleAdmin, RoleSuperAdmin:
		return true
	}
	return false
}

// UnknownName is shown for senders the directory has not resolved yet.
const UnknownName = "Unknown"

// Profile is the display metadata the chat needs about a participant.
type Profile struct {
	ID          int    `json:"id"`
	DisplayName string `json:"display_name"`
	ShortID     string `json:"short_id"`
	Role        Role   `json:"role"`

	// Placeholder marks a stand-in profile for a sender whose metadata
	// could not be fetched yet.
	Placeholder bool `json:"placeholder,omitempty"`
}

// Unknown returns the placeholder profile for id.
func Unknown(id int) Profile {
	return Profile{ID: id, DisplayName: UnknownName, Role: RoleMember, Placeholder: true}
}

// Participant is a directory account.
type Participant struct {
	Profile
	PasswordHash string
	Active       bool
	LastSeenAt   *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
