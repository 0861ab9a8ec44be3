package group

import "studyconnect/internal/membership"

// CreateInput carries the fields of a new group. An empty InviteLink is generated.
type CreateInput struct {
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
	GroupNumber int     `json:"group_number"`
	InviteLink  string  `json:"invite_link,omitempty"`
}

// CreateResult reports whether Create inserted a group or found an existing
// one holding the same number or invite link.
type CreateResult struct {
	Group   *membership.Group
	Created bool
}
