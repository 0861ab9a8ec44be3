package task

import (
	"context"
	"time"

	"studyconnect/internal/database"
)

const taskColumns = `id, title, deadline, kind, priority, status, progress, assignee, notes, user_id, group_id, created_at, updated_at`

// Datastore handles persistence for tasks. It returns raw errors.
type Datastore struct {
	db database.DBTX
}

// NewDatastore creates a new task datastore. db may be a pool or a transaction.
func NewDatastore(db database.DBTX) *Datastore {
	return &Datastore{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	t := &Task{}
	err := row.Scan(
		&t.ID, &t.Title, &t.Deadline, &t.Kind, &t.Priority, &t.Status, &t.Progress,
		&t.Assignee, &t.Notes, &t.UserID, &t.GroupID, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// FindByFingerprint returns the task with the given title, deadline, owner and
// group. NULL owner or group match NULL. Returns sql.ErrNoRows if none.
func (ds *Datastore) FindByFingerprint(ctx context.Context, title string, deadline time.Time, userID *string, groupID *int64) (*Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE title = $1
		  AND deadline = $2
		  AND user_id IS NOT DISTINCT FROM $3
		  AND group_id IS NOT DISTINCT FROM $4`

	return scanTask(ds.db.QueryRowContext(ctx, query, title, deadline, userID, groupID))
}

// Insert creates the task unless its fingerprint is taken. On conflict nothing
// is written and the error is sql.ErrNoRows.
func (ds *Datastore) Insert(ctx context.Context, t *Task) error {
	query := `
		INSERT INTO tasks (title, deadline, kind, priority, status, progress, assignee, notes, user_id, group_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
		ON CONFLICT DO NOTHING
		RETURNING id, created_at, updated_at`

	return ds.db.QueryRowContext(ctx, query,
		t.Title, t.Deadline, t.Kind, t.Priority, t.Status, t.Progress,
		t.Assignee, t.Notes, t.UserID, t.GroupID,
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
}

// Get retrieves a task by id. Returns sql.ErrNoRows if not found.
func (ds *Datastore) Get(ctx context.Context, id int64) (*Task, error) {
	return scanTask(ds.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
}

// GetForUpdate retrieves a task and locks its row until the transaction ends.
func (ds *Datastore) GetForUpdate(ctx context.Context, id int64) (*Task, error) {
	return scanTask(ds.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1 FOR UPDATE`, id))
}

// Update writes every mutable column of t.
func (ds *Datastore) Update(ctx context.Context, t *Task) error {
	query := `
		UPDATE tasks
		SET title = $2, deadline = $3, kind = $4, priority = $5, status = $6, progress = $7,
		    assignee = $8, notes = $9, group_id = $10, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`

	return ds.db.QueryRowContext(ctx, query,
		t.ID, t.Title, t.Deadline, t.Kind, t.Priority, t.Status, t.Progress,
		t.Assignee, t.Notes, t.GroupID,
	).Scan(&t.UpdatedAt)
}

// ListForUser returns tasks the user owns or that belong to one of the
// user's groups, ordered by deadline then id.
func (ds *Datastore) ListForUser(ctx context.Context, userID string) ([]*Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE user_id = $1
		   OR group_id IN (SELECT group_id FROM group_memberships WHERE user_id = $1)
		ORDER BY deadline, id`

	return ds.list(ctx, query, userID)
}

// ListForGroup returns the group's tasks ordered by deadline then id.
func (ds *Datastore) ListForGroup(ctx context.Context, groupID int64) ([]*Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE group_id = $1 ORDER BY deadline, id`
	return ds.list(ctx, query, groupID)
}

func (ds *Datastore) list(ctx context.Context, query string, arg any) ([]*Task, error) {
	rows, err := ds.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}
