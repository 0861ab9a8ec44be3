package membership

import (
	"context"

	"studyconnect/internal/database"
	"studyconnect/internal/user"
)

const groupColumns = `id, name, description, group_number, invite_link, created_at`

// Datastore handles persistence for groups and group memberships.
// It performs only database operations and returns raw errors.
type Datastore struct {
	db database.DBTX
}

// NewDatastore creates a new membership datastore. db may be a pool or a transaction.
func NewDatastore(db database.DBTX) *Datastore {
	return &Datastore{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGroup(row rowScanner) (*Group, error) {
	g := &Group{}
	if err := row.Scan(&g.ID, &g.Name, &g.Description, &g.GroupNumber, &g.InviteLink, &g.CreatedAt); err != nil {
		return nil, err
	}
	return g, nil
}

// --- Groups ---

// InsertGroup creates the group unless its number or invite link is taken.
// On collision nothing is inserted and the error is sql.ErrNoRows.
func (ds *Datastore) InsertGroup(ctx context.Context, g *Group) error {
	query := `
		INSERT INTO groups (name, description, group_number, invite_link, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT DO NOTHING
		RETURNING id, created_at`

	return ds.db.QueryRowContext(ctx, query,
		g.Name, g.Description, g.GroupNumber, g.InviteLink,
	).Scan(&g.ID, &g.CreatedAt)
}

// FindGroupByNumberOrLink returns the oldest group holding either identifier.
func (ds *Datastore) FindGroupByNumberOrLink(ctx context.Context, number int, inviteLink string) (*Group, error) {
	query := `
		SELECT ` + groupColumns + `
		FROM groups
		WHERE group_number = $1 OR invite_link = $2
		ORDER BY id
		LIMIT 1`

	return scanGroup(ds.db.QueryRowContext(ctx, query, number, inviteLink))
}

// GetGroup retrieves a group by id. Returns sql.ErrNoRows if not found.
func (ds *Datastore) GetGroup(ctx context.Context, id int64) (*Group, error) {
	return scanGroup(ds.db.QueryRowContext(ctx, `SELECT `+groupColumns+` FROM groups WHERE id = $1`, id))
}

// GetGroupByInviteLink retrieves a group by its invite link.
func (ds *Datastore) GetGroupByInviteLink(ctx context.Context, inviteLink string) (*Group, error) {
	return scanGroup(ds.db.QueryRowContext(ctx, `SELECT `+groupColumns+` FROM groups WHERE invite_link = $1`, inviteLink))
}

// LockGroup takes a row lock on the group. Concurrent joins block on it
// through the membership foreign key. Returns sql.ErrNoRows if not found.
func (ds *Datastore) LockGroup(ctx context.Context, id int64) error {
	var locked int64
	return ds.db.QueryRowContext(ctx, `SELECT id FROM groups WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
}

// GroupExists reports whether the group exists.
func (ds *Datastore) GroupExists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := ds.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM groups WHERE id = $1)`, id).Scan(&exists)
	return exists, err
}

// ListGroups returns groups ordered by id.
func (ds *Datastore) ListGroups(ctx context.Context, limit, offset int) ([]*Group, error) {
	query := `SELECT ` + groupColumns + ` FROM groups ORDER BY id LIMIT $1 OFFSET $2`

	rows, err := ds.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []*Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// DeleteGroup removes a group; memberships and group tasks cascade.
func (ds *Datastore) DeleteGroup(ctx context.Context, id int64) (int64, error) {
	result, err := ds.db.ExecContext(ctx, `DELETE FROM groups WHERE id = $1`, id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// --- Memberships ---

// AddMembership enrolls the user unless already a member. On conflict the
// existing row is untouched and the error is sql.ErrNoRows.
func (ds *Datastore) AddMembership(ctx context.Context, m *Membership) error {
	query := `
		INSERT INTO group_memberships (user_id, group_id, role, joined_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (user_id, group_id) DO NOTHING
		RETURNING joined_at`

	return ds.db.QueryRowContext(ctx, query, m.UserID, m.GroupID, m.Role).Scan(&m.JoinedAt)
}

// GetMembership retrieves a single membership. Returns sql.ErrNoRows if absent.
func (ds *Datastore) GetMembership(ctx context.Context, userID string, groupID int64) (*Membership, error) {
	query := `
		SELECT user_id, group_id, role, joined_at
		FROM group_memberships
		WHERE user_id = $1 AND group_id = $2`

	m := &Membership{}
	err := ds.db.QueryRowContext(ctx, query, userID, groupID).Scan(&m.UserID, &m.GroupID, &m.Role, &m.JoinedAt)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// LockMemberships returns the group's memberships in succession order
// (joined_at, then user id) with row locks held until the transaction ends.
func (ds *Datastore) LockMemberships(ctx context.Context, groupID int64) ([]*Membership, error) {
	query := `
		SELECT user_id, group_id, role, joined_at
		FROM group_memberships
		WHERE group_id = $1
		ORDER BY joined_at, user_id
		FOR UPDATE`

	rows, err := ds.db.QueryContext(ctx, query, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var memberships []*Membership
	for rows.Next() {
		m := &Membership{}
		if err := rows.Scan(&m.UserID, &m.GroupID, &m.Role, &m.JoinedAt); err != nil {
			return nil, err
		}
		memberships = append(memberships, m)
	}
	return memberships, rows.Err()
}

// RemoveMembership deletes a membership.
func (ds *Datastore) RemoveMembership(ctx context.Context, userID string, groupID int64) (int64, error) {
	result, err := ds.db.ExecContext(ctx,
		`DELETE FROM group_memberships WHERE user_id = $1 AND group_id = $2`, userID, groupID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// SetRole changes a member's role.
func (ds *Datastore) SetRole(ctx context.Context, userID string, groupID int64, role Role) (int64, error) {
	result, err := ds.db.ExecContext(ctx,
		`UPDATE group_memberships SET role = $3 WHERE user_id = $1 AND group_id = $2`, userID, groupID, role)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// HasRole reports whether the user is a member of the group with the given role.
func (ds *Datastore) HasRole(ctx context.Context, userID string, groupID int64, role Role) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM group_memberships WHERE user_id = $1 AND group_id = $2 AND role = $3)`
	var exists bool
	err := ds.db.QueryRowContext(ctx, query, userID, groupID, role).Scan(&exists)
	return exists, err
}

// IsMember reports whether the user belongs to the group with any role.
func (ds *Datastore) IsMember(ctx context.Context, userID string, groupID int64) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM group_memberships WHERE user_id = $1 AND group_id = $2)`
	var exists bool
	err := ds.db.QueryRowContext(ctx, query, userID, groupID).Scan(&exists)
	return exists, err
}

// ListForUser returns the user's groups with the user's role in each.
func (ds *Datastore) ListForUser(ctx context.Context, userID string) ([]*GroupWithRole, error) {
	query := `
		SELECT g.id, g.name, g.description, g.group_number, g.invite_link, g.created_at,
		       m.role, m.joined_at
		FROM groups g
		JOIN group_memberships m ON m.group_id = g.id
		WHERE m.user_id = $1
		ORDER BY g.id`

	rows, err := ds.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []*GroupWithRole
	for rows.Next() {
		g := &GroupWithRole{}
		if err := rows.Scan(
			&g.ID, &g.Name, &g.Description, &g.GroupNumber, &g.InviteLink, &g.CreatedAt,
			&g.Role, &g.JoinedAt,
		); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// ListMembers returns the group's members ordered by joined_at, then user id.
func (ds *Datastore) ListMembers(ctx context.Context, groupID int64) ([]*Member, error) {
	query := `
		SELECT u.id, u.username, u.email, u.birthday, u.faculty, u.created_at, u.updated_at,
		       m.role, m.joined_at
		FROM group_memberships m
		JOIN users u ON u.id = m.user_id
		WHERE m.group_id = $1
		ORDER BY m.joined_at, m.user_id`

	rows, err := ds.db.QueryContext(ctx, query, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []*Member
	for rows.Next() {
		mb := &Member{User: &user.User{}}
		u := mb.User
		if err := rows.Scan(
			&u.ID, &u.Username, &u.Email, &u.Birthday, &u.Faculty, &u.CreatedAt, &u.UpdatedAt,
			&mb.Role, &mb.JoinedAt,
		); err != nil {
			return nil, err
		}
		members = append(members, mb)
	}
	return members, rows.Err()
}
