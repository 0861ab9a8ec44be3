package membership

import (
	"time"

	"studyconnect/internal/user"
)

// Role is a member's standing within a group.
type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleMember || r == RoleAdmin
}

// Group is a study group. GroupNumber and InviteLink are each unique.
type Group struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description *string   `json:"description,omitempty"`
	GroupNumber int       `json:"group_number"`
	InviteLink  string    `json:"invite_link"`
	CreatedAt   time.Time `json:"created_at"`
}

// Membership links a user to a group with a role.
type Membership struct {
	UserID   string    `json:"user_id"`
	GroupID  int64     `json:"group_id"`
	Role     Role      `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
}

// Member is a group member together with their user record.
type Member struct {
	User     *user.User `json:"user"`
	Role     Role       `json:"role"`
	JoinedAt time.Time  `json:"joined_at"`
}

// GroupWithRole is a group as seen by one of its members.
type GroupWithRole struct {
	Group
	Role     Role      `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
}
