// Package group implements the group lifecycle: creation, joining, leaving,
// kicking, promotion and deletion, including admin succession.
package group

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"

	"studyconnect/internal/database"
	"studyconnect/internal/membership"
	"studyconnect/internal/sanitize"
	"studyconnect/internal/user"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Domain errors
var (
	ErrInvalidName        = errors.New("group name is required")
	ErrInvalidGroupNumber = errors.New("group number must be a positive integer")
	ErrUserNotFound       = errors.New("user not found")
	ErrGroupNotFound      = membership.ErrGroupNotFound
	ErrForbidden          = errors.New("only group admins can do this")
	ErrNotMember          = errors.New("user is not a member of this group")
)

// Manager owns group and membership mutations. Every operation runs in one
// transaction; leave, kick and promote hold the group row and its membership
// rows locked for the whole read-decide-write sequence.
type Manager struct {
	db            database.TxBeginner
	log           *zap.Logger
	newInviteLink func() string
}

// NewManager creates a new group manager.
func NewManager(db database.TxBeginner, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{db: db, log: logger, newInviteLink: uuid.NewString}
}

// Create inserts the group and enrolls the creator as its first admin. When the
// group number or invite link is already taken the existing group is returned
// and no membership changes.
func (m *Manager) Create(ctx context.Context, creatorID string, in CreateInput) (*CreateResult, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, ErrInvalidName
	}
	if in.GroupNumber <= 0 || in.GroupNumber > math.MaxInt32 {
		return nil, ErrInvalidGroupNumber
	}

	g := &membership.Group{
		Name:        name,
		Description: sanitize.OptionalPlainText(in.Description),
		GroupNumber: in.GroupNumber,
		InviteLink:  strings.TrimSpace(in.InviteLink),
	}
	if g.InviteLink == "" {
		g.InviteLink = m.newInviteLink()
	}

	result := &CreateResult{}
	err := database.WithTx(ctx, m.db, func(tx *sql.Tx) error {
		ds := membership.NewDatastore(tx)

		exists, err := user.NewDatastore(tx).Exists(ctx, creatorID)
		if err != nil {
			return fmt.Errorf("failed to check creator: %w", err)
		}
		if !exists {
			return ErrUserNotFound
		}

		if err := ds.InsertGroup(ctx, g); err != nil {
			if !errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("failed to create group: %w", err)
			}
			existing, err := ds.FindGroupByNumberOrLink(ctx, g.GroupNumber, g.InviteLink)
			if err != nil {
				return fmt.Errorf("failed to look up existing group: %w", err)
			}
			result.Group = existing
			return nil
		}

		admin := &membership.Membership{UserID: creatorID, GroupID: g.ID, Role: membership.RoleAdmin}
		if err := ds.AddMembership(ctx, admin); err != nil {
			return fmt.Errorf("failed to enroll creator: %w", err)
		}

		result.Group, result.Created = g, true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Created {
		m.log.Info("group created",
			zap.Int64("group_id", result.Group.ID), zap.Int("group_number", result.Group.GroupNumber),
			zap.String("creator_id", creatorID))
	} else {
		m.log.Info("group create deduplicated",
			zap.Int64("group_id", result.Group.ID), zap.String("creator_id", creatorID))
	}
	return result, nil
}

// Join enrolls the user as a member. Joining a group one already belongs to
// leaves the membership untouched.
func (m *Manager) Join(ctx context.Context, userID string, groupID int64) (*membership.Group, error) {
	return m.join(ctx, userID, func(ds *membership.Datastore) (*membership.Group, error) {
		return ds.GetGroup(ctx, groupID)
	})
}

// JoinByInvite resolves an invite link and joins its group.
func (m *Manager) JoinByInvite(ctx context.Context, userID, inviteLink string) (*membership.Group, error) {
	inviteLink = strings.TrimSpace(inviteLink)
	if inviteLink == "" {
		return nil, ErrGroupNotFound
	}
	return m.join(ctx, userID, func(ds *membership.Datastore) (*membership.Group, error) {
		return ds.GetGroupByInviteLink(ctx, inviteLink)
	})
}

func (m *Manager) join(ctx context.Context, userID string, lookup func(*membership.Datastore) (*membership.Group, error)) (*membership.Group, error) {
	var (
		g      *membership.Group
		joined bool
	)
	err := database.WithTx(ctx, m.db, func(tx *sql.Tx) error {
		ds := membership.NewDatastore(tx)

		exists, err := user.NewDatastore(tx).Exists(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to check user: %w", err)
		}
		if !exists {
			return ErrUserNotFound
		}

		g, err = lookup(ds)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrGroupNotFound
			}
			return fmt.Errorf("failed to get group: %w", err)
		}

		err = ds.AddMembership(ctx, &membership.Membership{UserID: userID, GroupID: g.ID, Role: membership.RoleMember})
		switch {
		case err == nil:
			joined = true
		case errors.Is(err, sql.ErrNoRows):
			// already a member
		default:
			return fmt.Errorf("failed to add membership: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if joined {
		m.log.Info("member joined", zap.Int64("group_id", g.ID), zap.String("user_id", userID))
	}
	return g, nil
}

// lockMembers locks the group row and returns its memberships in succession
// order. A missing group yields sql.ErrNoRows.
func lockMembers(ctx context.Context, ds *membership.Datastore, groupID int64) ([]*membership.Membership, error) {
	if err := ds.LockGroup(ctx, groupID); err != nil {
		return nil, err
	}
	return ds.LockMemberships(ctx, groupID)
}

func find(ms []*membership.Membership, userID string) (int, *membership.Membership) {
	for i, mb := range ms {
		if mb.UserID == userID {
			return i, mb
		}
	}
	return -1, nil
}

// ensureAdmin promotes the earliest-joined remaining member (lowest user id on
// ties) when members remain but none of them is an admin. remaining must be in
// succession order.
func ensureAdmin(ctx context.Context, ds *membership.Datastore, remaining []*membership.Membership) (*membership.Membership, error) {
	if len(remaining) == 0 {
		return nil, nil
	}
	for _, mb := range remaining {
		if mb.Role == membership.RoleAdmin {
			return nil, nil
		}
	}

	successor := remaining[0]
	if _, err := ds.SetRole(ctx, successor.UserID, successor.GroupID, membership.RoleAdmin); err != nil {
		return nil, fmt.Errorf("failed to promote successor: %w", err)
	}
	successor.Role = membership.RoleAdmin
	return successor, nil
}

// removeMember deletes the membership at index i. Only the departure of an
// admin can trigger succession; it returns the promoted successor, if any.
func removeMember(ctx context.Context, ds *membership.Datastore, ms []*membership.Membership, i int) (*membership.Membership, error) {
	target := ms[i]
	if _, err := ds.RemoveMembership(ctx, target.UserID, target.GroupID); err != nil {
		return nil, fmt.Errorf("failed to remove membership: %w", err)
	}

	if target.Role != membership.RoleAdmin {
		return nil, nil
	}

	remaining := make([]*membership.Membership, 0, len(ms)-1)
	remaining = append(remaining, ms[:i]...)
	remaining = append(remaining, ms[i+1:]...)
	return ensureAdmin(ctx, ds, remaining)
}

// Leave removes the user's own membership.
func (m *Manager) Leave(ctx context.Context, userID string, groupID int64) error {
	var successor *membership.Membership
	err := database.WithTx(ctx, m.db, func(tx *sql.Tx) error {
		ds := membership.NewDatastore(tx)

		ms, err := lockMembers(ctx, ds, groupID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotMember
			}
			return fmt.Errorf("failed to lock memberships: %w", err)
		}

		i, _ := find(ms, userID)
		if i < 0 {
			return ErrNotMember
		}

		successor, err = removeMember(ctx, ds, ms, i)
		return err
	})
	if err != nil {
		return err
	}

	m.log.Info("member left", zap.Int64("group_id", groupID), zap.String("user_id", userID))
	m.logSuccession(groupID, successor)
	return nil
}

// Kick removes targetID from the group. Kicking a non-member is a no-op.
func (m *Manager) Kick(ctx context.Context, actorID, targetID string, groupID int64) error {
	var (
		kicked    bool
		successor *membership.Membership
	)
	err := database.WithTx(ctx, m.db, func(tx *sql.Tx) error {
		ds := membership.NewDatastore(tx)

		ms, err := lockMembers(ctx, ds, groupID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrForbidden
			}
			return fmt.Errorf("failed to lock memberships: %w", err)
		}

		if _, actor := find(ms, actorID); actor == nil || actor.Role != membership.RoleAdmin {
			return ErrForbidden
		}

		i, _ := find(ms, targetID)
		if i < 0 {
			return nil
		}

		successor, err = removeMember(ctx, ds, ms, i)
		kicked = err == nil
		return err
	})
	if err != nil {
		return err
	}

	if kicked {
		m.log.Info("member kicked",
			zap.Int64("group_id", groupID), zap.String("actor_id", actorID), zap.String("user_id", targetID))
		m.logSuccession(groupID, successor)
	}
	return nil
}

// Promote grants the admin role to an existing member.
func (m *Manager) Promote(ctx context.Context, actorID, targetID string, groupID int64) error {
	var promoted bool
	err := database.WithTx(ctx, m.db, func(tx *sql.Tx) error {
		ds := membership.NewDatastore(tx)

		ms, err := lockMembers(ctx, ds, groupID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrForbidden
			}
			return fmt.Errorf("failed to lock memberships: %w", err)
		}

		if _, actor := find(ms, actorID); actor == nil || actor.Role != membership.RoleAdmin {
			return ErrForbidden
		}

		_, target := find(ms, targetID)
		if target == nil {
			return ErrNotMember
		}
		if target.Role == membership.RoleAdmin {
			return nil
		}

		if _, err := ds.SetRole(ctx, targetID, groupID, membership.RoleAdmin); err != nil {
			return fmt.Errorf("failed to promote member: %w", err)
		}
		promoted = true
		return nil
	})
	if err != nil {
		return err
	}

	if promoted {
		m.log.Info("member promoted",
			zap.Int64("group_id", groupID), zap.String("actor_id", actorID), zap.String("user_id", targetID))
	}
	return nil
}

// Delete removes the group together with its memberships and tasks.
func (m *Manager) Delete(ctx context.Context, actorID string, groupID int64) error {
	err := database.WithTx(ctx, m.db, func(tx *sql.Tx) error {
		ds := membership.NewDatastore(tx)

		if err := ds.LockGroup(ctx, groupID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrGroupNotFound
			}
			return fmt.Errorf("failed to lock group: %w", err)
		}

		isAdmin, err := ds.HasRole(ctx, actorID, groupID, membership.RoleAdmin)
		if err != nil {
			return fmt.Errorf("failed to check admin role: %w", err)
		}
		if !isAdmin {
			return ErrForbidden
		}

		if _, err := ds.DeleteGroup(ctx, groupID); err != nil {
			return fmt.Errorf("failed to delete group: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	m.log.Info("group deleted", zap.Int64("group_id", groupID), zap.String("actor_id", actorID))
	return nil
}

func (m *Manager) logSuccession(groupID int64, successor *membership.Membership) {
	if successor == nil {
		return
	}
	m.log.Info("admin succession",
		zap.Int64("group_id", groupID), zap.String("user_id", successor.UserID))
}
