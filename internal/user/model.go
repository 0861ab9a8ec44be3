package user

import (
	"encoding/json"
	"time"
)

// DateLayout is the calendar-date format used for birthdays and task deadlines.
const DateLayout = "2006-01-02"

// User mirrors an identity-provider account. ID is the token subject and is
// never generated locally.
type User struct {
	ID        string     `json:"id"`
	Username  string     `json:"username"`
	Email     string     `json:"email"`
	Birthday  *time.Time `json:"-"`
	Faculty   *string    `json:"faculty,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// MarshalJSON renders the birthday as a plain date.
func (u User) MarshalJSON() ([]byte, error) {
	type plain User
	out := struct {
		plain
		Birthday *string `json:"birthday,omitempty"`
	}{plain: plain(u)}
	if u.Birthday != nil {
		s := u.Birthday.Format(DateLayout)
		out.Birthday = &s
	}
	return json.Marshal(out)
}

// RegisterInput is the profile supplied on explicit registration.
type RegisterInput struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Birthday string `json:"birthday,omitempty"` // YYYY-MM-DD
	Faculty  string `json:"faculty,omitempty"`
}

// ProfileInput is a partial profile update; nil fields are left unchanged.
type ProfileInput struct {
	Username *string `json:"username,omitempty"`
	Email    *string `json:"email,omitempty"`
	Birthday *string `json:"birthday,omitempty"`
	Faculty  *string `json:"faculty,omitempty"`
}
