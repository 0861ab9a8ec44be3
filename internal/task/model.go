package task

import (
	"encoding/json"
	"slices"
	"time"
)

// DateLayout is the wire and storage format of task deadlines.
const DateLayout = "2006-01-02"

// Status is a task's lifecycle state.
type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in_progress"
	StatusBlocked    Status = "blocked"
	StatusDone       Status = "done"
)

// transitions is exhaustive: a target missing from the list for the current
// status, including the current status itself, is rejected. done is terminal.
var transitions = map[Status][]Status{
	StatusTodo:       {StatusInProgress},
	StatusInProgress: {StatusDone, StatusBlocked},
	StatusBlocked:    {StatusInProgress},
	StatusDone:       nil,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether a task may move from one status to another.
func CanTransition(from, to Status) bool {
	return slices.Contains(transitions[from], to)
}

// Priority ranks a task.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Task is a unit of work owned by a user and optionally scoped to a group.
// (Title, Deadline, UserID, GroupID) is unique.
type Task struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Deadline  time.Time `json:"-"`
	Kind      string    `json:"kind"`
	Priority  Priority  `json:"priority"`
	Status    Status    `json:"status"`
	Progress  int       `json:"progress"`
	Assignee  *string   `json:"assignee,omitempty"`
	Notes     *string   `json:"notes,omitempty"`
	UserID    *string   `json:"user_id,omitempty"`
	GroupID   *int64    `json:"group_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MarshalJSON renders the deadline as a plain date.
func (t Task) MarshalJSON() ([]byte, error) {
	type plain Task
	return json.Marshal(struct {
		plain
		Deadline string `json:"deadline"`
	}{plain: plain(t), Deadline: t.Deadline.Format(DateLayout)})
}

// CreateInput carries the fields of a new task. The owner is the requesting user.
type CreateInput struct {
	Title    string  `json:"title"`
	Deadline string  `json:"deadline"` // YYYY-MM-DD
	Kind     string  `json:"kind"`
	Priority string  `json:"priority"`
	Progress *int    `json:"progress,omitempty"`
	Assignee *string `json:"assignee,omitempty"`
	Notes    *string `json:"notes,omitempty"`
	GroupID  *int64  `json:"group_id,omitempty"`
}

// CreateResult reports whether Create inserted a task or returned the existing
// one with the same fingerprint.
type CreateResult struct {
	Task    *Task
	Created bool
}

// UpdateInput is a partial update; nil fields are left unchanged. An empty
// Assignee clears the assignment. A GroupID moves the task into that group.
type UpdateInput struct {
	ActorID  string  `json:"-"`
	Title    *string `json:"title,omitempty"`
	Deadline *string `json:"deadline,omitempty"`
	Kind     *string `json:"kind,omitempty"`
	Priority *string `json:"priority,omitempty"`
	Status   *string `json:"status,omitempty"`
	Progress *int    `json:"progress,omitempty"`
	Assignee *string `json:"assignee,omitempty"`
	Notes    *string `json:"notes,omitempty"`
	GroupID  *int64  `json:"group_id,omitempty"`
}
