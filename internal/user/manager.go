package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"studyconnect/internal/jwtauth"

	"go.uber.org/zap"
)

// Domain errors
var (
	ErrNotFound        = errors.New("user not found")
	ErrAlreadyExists   = errors.New("user already registered")
	ErrForbidden       = errors.New("users may only change their own profile")
	ErrInvalidIdentity = errors.New("identity claims carry no subject")
	ErrInvalidUsername = errors.New("username is required")
	ErrInvalidEmail    = errors.New("invalid email")
	ErrInvalidBirthday = errors.New("birthday must be a past date in YYYY-MM-DD format")
)

// Manager resolves token identities to local users and maintains profiles.
type Manager struct {
	ds  *Datastore
	log *zap.Logger
	now func() time.Time
}

// NewManager creates a new user manager.
func NewManager(ds *Datastore, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{ds: ds, log: logger, now: time.Now}
}

// ResolveOrCreate returns the local user for the token subject, creating it on
// first sight. Concurrent first logins converge on a single row.
func (m *Manager) ResolveOrCreate(ctx context.Context, claims *jwtauth.Claims) (*User, error) {
	if claims == nil || strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidIdentity
	}

	u, err := m.ds.GetByID(ctx, claims.Subject)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	username := strings.TrimSpace(claims.PreferredUsername)
	if username == "" {
		username = strings.TrimSpace(claims.Email)
	}
	if username == "" {
		username = claims.Subject
	}

	u = &User{
		ID:       claims.Subject,
		Username: username,
		Email:    strings.TrimSpace(claims.Email),
	}
	if err := m.ds.Insert(ctx, u); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("failed to create user: %w", err)
		}
		// Lost the race to a concurrent request for the same subject.
		return m.GetByID(ctx, claims.Subject)
	}

	m.log.Info("user mirrored from identity provider",
		zap.String("user_id", u.ID), zap.String("username", u.Username))
	return u, nil
}

// Register creates the local user for the token subject with an explicit profile.
func (m *Manager) Register(ctx context.Context, claims *jwtauth.Claims, in RegisterInput) (*User, error) {
	if claims == nil || strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidIdentity
	}

	u := &User{ID: claims.Subject}
	if err := m.applyProfile(u, ProfileInput{
		Username: &in.Username,
		Email:    &in.Email,
		Birthday: &in.Birthday,
		Faculty:  &in.Faculty,
	}); err != nil {
		return nil, err
	}

	if err := m.ds.Insert(ctx, u); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("failed to register user: %w", err)
	}

	m.log.Info("user registered", zap.String("user_id", u.ID), zap.String("username", u.Username))
	return u, nil
}

// GetByID retrieves a user by subject id.
func (m *Manager) GetByID(ctx context.Context, id string) (*User, error) {
	u, err := m.ds.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// UpdateProfile applies a partial profile update. Only the user themself may
// change their profile.
func (m *Manager) UpdateProfile(ctx context.Context, actorID, userID string, in ProfileInput) (*User, error) {
	if actorID != userID {
		return nil, ErrForbidden
	}

	u, err := m.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if err := m.applyProfile(u, in); err != nil {
		return nil, err
	}

	if err := m.ds.Update(ctx, u); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to update user: %w", err)
	}
	return u, nil
}

// applyProfile validates every supplied field before touching u.
func (m *Manager) applyProfile(u *User, in ProfileInput) error {
	var (
		username, email string
		birthday        *time.Time
		faculty         *string
	)

	if in.Username != nil {
		username = strings.TrimSpace(*in.Username)
		if username == "" {
			return ErrInvalidUsername
		}
	}

	if in.Email != nil {
		email = strings.TrimSpace(*in.Email)
		addr, err := mail.ParseAddress(email)
		if err != nil || addr.Address != email {
			return ErrInvalidEmail
		}
	}

	if in.Birthday != nil && *in.Birthday != "" {
		b, err := time.Parse(DateLayout, *in.Birthday)
		if err != nil || !b.Before(m.now().UTC()) {
			return ErrInvalidBirthday
		}
		birthday = &b
	}

	if in.Faculty != nil {
		if f := strings.TrimSpace(*in.Faculty); f != "" {
			faculty = &f
		}
	}

	if in.Username != nil {
		u.Username = username
	}
	if in.Email != nil {
		u.Email = email
	}
	if in.Birthday != nil {
		u.Birthday = birthday
	}
	if in.Faculty != nil {
		u.Faculty = faculty
	}
	return nil
}
