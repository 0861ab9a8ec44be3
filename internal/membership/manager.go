package membership

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"studyconnect/internal/database"
)

// ErrGroupNotFound is returned when the referenced group does not exist.
var ErrGroupNotFound = errors.New("group not found")

// Manager answers read-side membership questions.
type Manager struct {
	ds *Datastore
}

// NewManager creates a new membership manager.
func NewManager(db database.DBTX) *Manager {
	return &Manager{ds: NewDatastore(db)}
}

// IsGroupAdmin reports whether userID holds the admin role in groupID.
func (m *Manager) IsGroupAdmin(ctx context.Context, userID string, groupID int64) (bool, error) {
	ok, err := m.ds.HasRole(ctx, userID, groupID, RoleAdmin)
	if err != nil {
		return false, fmt.Errorf("failed to check admin role: %w", err)
	}
	return ok, nil
}

// IsMember reports whether userID belongs to groupID.
func (m *Manager) IsMember(ctx context.Context, userID string, groupID int64) (bool, error) {
	ok, err := m.ds.IsMember(ctx, userID, groupID)
	if err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}
	return ok, nil
}

// GroupsForUser lists the user's groups with their role in each. Unknown
// users simply have no groups.
func (m *Manager) GroupsForUser(ctx context.Context, userID string) ([]*GroupWithRole, error) {
	groups, err := m.ds.ListForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups for user: %w", err)
	}
	return groups, nil
}

// MembersOf lists a group's members ordered by join time.
func (m *Manager) MembersOf(ctx context.Context, groupID int64) ([]*Member, error) {
	exists, err := m.ds.GroupExists(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to get group: %w", err)
	}
	if !exists {
		return nil, ErrGroupNotFound
	}

	members, err := m.ds.ListMembers(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	return members, nil
}

// GetGroup retrieves a group by id.
func (m *Manager) GetGroup(ctx context.Context, id int64) (*Group, error) {
	g, err := m.ds.GetGroup(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrGroupNotFound
		}
		return nil, fmt.Errorf("failed to get group: %w", err)
	}
	return g, nil
}

// ListGroups retrieves groups with pagination.
func (m *Manager) ListGroups(ctx context.Context, limit, offset int) ([]*Group, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	groups, err := m.ds.ListGroups(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	return groups, nil
}
