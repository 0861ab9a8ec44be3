package task

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"studyconnect/internal/database"
	"studyconnect/internal/membership"
	"studyconnect/internal/sanitize"
	"studyconnect/internal/user"

	"go.uber.org/zap"
)

// Domain errors
var (
	ErrNotFound          = errors.New("task not found")
	ErrForbidden         = errors.New("forbidden")
	ErrCreateNotAdmin    = fmt.Errorf("%w: only admins can create tasks for this group", ErrForbidden)
	ErrUpdateNotAdmin    = fmt.Errorf("%w: only admins can modify tasks for this group", ErrForbidden)
	ErrNotOwner          = fmt.Errorf("%w: only the owner can modify this task", ErrForbidden)
	ErrInvalidTitle      = errors.New("title is required")
	ErrInvalidDeadline   = errors.New("deadline must be a date in YYYY-MM-DD format and not in the past")
	ErrInvalidPriority   = errors.New("priority must be low, medium, or high")
	ErrInvalidProgress   = errors.New("progress must be between 0 and 100")
	ErrInvalidTransition = errors.New("status transition not allowed")
	ErrInvalidAssignee   = errors.New("assignee must be an existing user and a member of the task's group")
	ErrDuplicate         = errors.New("a task with the same title, deadline and scope already exists")
)

// Manager owns the task lifecycle. Every write runs in one transaction.
type Manager struct {
	db  database.TxBeginner
	log *zap.Logger
	now func() time.Time
}

// NewManager creates a new task manager.
func NewManager(db database.TxBeginner, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{db: db, log: logger, now: time.Now}
}

// today is the current calendar date in UTC.
func (m *Manager) today() time.Time {
	y, mo, d := m.now().UTC().Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, time.UTC)
}

// parseDeadline accepts YYYY-MM-DD no earlier than today.
func (m *Manager) parseDeadline(s string) (time.Time, error) {
	d, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil || d.Before(m.today()) {
		return time.Time{}, ErrInvalidDeadline
	}
	return d, nil
}

func validProgress(p int) bool {
	return p >= 0 && p <= 100
}

// Create stores a new task owned by requesterID, or returns the existing task
// with the same fingerprint unchanged.
func (m *Manager) Create(ctx context.Context, requesterID string, in CreateInput) (*CreateResult, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, ErrInvalidTitle
	}

	deadline, err := m.parseDeadline(in.Deadline)
	if err != nil {
		return nil, err
	}

	priority := Priority(strings.TrimSpace(in.Priority))
	if !priority.Valid() {
		return nil, ErrInvalidPriority
	}

	progress := 0
	if in.Progress != nil {
		if !validProgress(*in.Progress) {
			return nil, ErrInvalidProgress
		}
		progress = *in.Progress
	}

	owner := requesterID
	t := &Task{
		Title:    title,
		Deadline: deadline,
		Kind:     strings.TrimSpace(in.Kind),
		Priority: priority,
		Status:   StatusTodo,
		Progress: progress,
		Notes:    sanitize.OptionalPlainText(in.Notes),
		UserID:   &owner,
		GroupID:  in.GroupID,
	}
	if in.Assignee != nil && strings.TrimSpace(*in.Assignee) != "" {
		a := strings.TrimSpace(*in.Assignee)
		t.Assignee = &a
	}

	var (
		result       *Task
		deduplicated bool
	)
	err = database.WithTx(ctx, m.db, func(tx *sql.Tx) error {
		ds := NewDatastore(tx)
		members := membership.NewDatastore(tx)

		if t.GroupID != nil {
			isAdmin, err := members.HasRole(ctx, requesterID, *t.GroupID, membership.RoleAdmin)
			if err != nil {
				return fmt.Errorf("failed to check admin role: %w", err)
			}
			if !isAdmin {
				return ErrCreateNotAdmin
			}
		}

		if err := checkAssignee(ctx, tx, t.Assignee, t.GroupID); err != nil {
			return err
		}

		existing, err := ds.FindByFingerprint(ctx, t.Title, t.Deadline, t.UserID, t.GroupID)
		if err == nil {
			result, deduplicated = existing, true
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to look up task: %w", err)
		}

		if err := ds.Insert(ctx, t); err != nil {
			if !errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("failed to create task: %w", err)
			}
			// A concurrent create with the same fingerprint committed first.
			existing, err := ds.FindByFingerprint(ctx, t.Title, t.Deadline, t.UserID, t.GroupID)
			if err != nil {
				return fmt.Errorf("failed to look up task: %w", err)
			}
			result, deduplicated = existing, true
			return nil
		}

		result = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	if deduplicated {
		m.log.Info("task create deduplicated",
			zap.Int64("task_id", result.ID), zap.String("user_id", requesterID))
	} else {
		m.log.Info("task created",
			zap.Int64("task_id", result.ID), zap.String("user_id", requesterID), zap.Int64p("group_id", result.GroupID))
	}
	return &CreateResult{Task: result, Created: !deduplicated}, nil
}

// checkAssignee verifies that a non-nil assignee exists and, for a group
// task, belongs to the group.
func checkAssignee(ctx context.Context, tx database.DBTX, assignee *string, groupID *int64) error {
	if assignee == nil {
		return nil
	}

	exists, err := user.NewDatastore(tx).Exists(ctx, *assignee)
	if err != nil {
		return fmt.Errorf("failed to check assignee: %w", err)
	}
	if !exists {
		return ErrInvalidAssignee
	}

	if groupID == nil {
		return nil
	}
	isMember, err := membership.NewDatastore(tx).IsMember(ctx, *assignee, *groupID)
	if err != nil {
		return fmt.Errorf("failed to check assignee membership: %w", err)
	}
	if !isMember {
		return ErrInvalidAssignee
	}
	return nil
}

// Update applies a partial update on behalf of in.ActorID. All fields are
// validated before the single write; on any error nothing changes.
func (m *Manager) Update(ctx context.Context, taskID int64, in UpdateInput) (*Task, error) {
	var (
		updated    *Task
		fromStatus Status
	)
	err := database.WithTx(ctx, m.db, func(tx *sql.Tx) error {
		ds := NewDatastore(tx)
		members := membership.NewDatastore(tx)

		current, err := ds.GetForUpdate(ctx, taskID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("failed to get task: %w", err)
		}
		fromStatus = current.Status

		if current.GroupID != nil {
			isAdmin, err := members.HasRole(ctx, in.ActorID, *current.GroupID, membership.RoleAdmin)
			if err != nil {
				return fmt.Errorf("failed to check admin role: %w", err)
			}
			if !isAdmin {
				return ErrUpdateNotAdmin
			}
		} else if current.UserID == nil || *current.UserID != in.ActorID {
			return ErrNotOwner
		}

		next := *current

		if in.Title != nil {
			next.Title = strings.TrimSpace(*in.Title)
			if next.Title == "" {
				return ErrInvalidTitle
			}
		}

		if in.Status != nil {
			to := Status(strings.TrimSpace(*in.Status))
			if !to.Valid() || !CanTransition(current.Status, to) {
				return ErrInvalidTransition
			}
			next.Status = to
		}

		if in.Progress != nil {
			if !validProgress(*in.Progress) {
				return ErrInvalidProgress
			}
			next.Progress = *in.Progress
		}

		if in.Priority != nil {
			p := Priority(strings.TrimSpace(*in.Priority))
			if !p.Valid() {
				return ErrInvalidPriority
			}
			next.Priority = p
		}

		if in.Deadline != nil {
			d, err := m.parseDeadline(*in.Deadline)
			if err != nil {
				return err
			}
			next.Deadline = d
		}

		if in.Kind != nil {
			next.Kind = strings.TrimSpace(*in.Kind)
		}

		if in.Notes != nil {
			next.Notes = sanitize.OptionalPlainText(in.Notes)
		}

		groupChanged := false
		if in.GroupID != nil && (current.GroupID == nil || *current.GroupID != *in.GroupID) {
			isAdmin, err := members.HasRole(ctx, in.ActorID, *in.GroupID, membership.RoleAdmin)
			if err != nil {
				return fmt.Errorf("failed to check admin role: %w", err)
			}
			if !isAdmin {
				return ErrUpdateNotAdmin
			}
			gid := *in.GroupID
			next.GroupID = &gid
			groupChanged = true
		}

		assigneeChanged := false
		if in.Assignee != nil {
			if a := strings.TrimSpace(*in.Assignee); a == "" {
				next.Assignee = nil
			} else {
				next.Assignee = &a
				assigneeChanged = true
			}
		}
		if assigneeChanged || (groupChanged && next.Assignee != nil) {
			if err := checkAssignee(ctx, tx, next.Assignee, next.GroupID); err != nil {
				return err
			}
		}

		if err := ds.Update(ctx, &next); err != nil {
			if database.IsUniqueViolation(err) {
				return ErrDuplicate
			}
			return fmt.Errorf("failed to update task: %w", err)
		}
		updated = &next
		return nil
	})
	if err != nil {
		return nil, err
	}

	fields := []zap.Field{zap.Int64("task_id", updated.ID), zap.String("actor_id", in.ActorID)}
	if updated.Status != fromStatus {
		fields = append(fields, zap.String("from", string(fromStatus)), zap.String("to", string(updated.Status)))
	}
	m.log.Info("task updated", fields...)
	return updated, nil
}

// Get retrieves a task by id.
func (m *Manager) Get(ctx context.Context, taskID int64) (*Task, error) {
	t, err := NewDatastore(m.db).Get(ctx, taskID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return t, nil
}

// ListForUser returns the user's own tasks plus those of the user's groups.
// Unknown users get an empty list.
func (m *Manager) ListForUser(ctx context.Context, userID string) ([]*Task, error) {
	tasks, err := NewDatastore(m.db).ListForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	return tasks, nil
}

// ListForGroup returns the tasks scoped to a group.
func (m *Manager) ListForGroup(ctx context.Context, groupID int64) ([]*Task, error) {
	exists, err := membership.NewDatastore(m.db).GroupExists(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to get group: %w", err)
	}
	if !exists {
		return nil, membership.ErrGroupNotFound
	}

	tasks, err := NewDatastore(m.db).ListForGroup(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	return tasks, nil
}
