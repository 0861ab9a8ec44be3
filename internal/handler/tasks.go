package handler

import (
	"context"
	"net/http"

	"studyconnect/internal/task"
)

// ListTasks returns the caller's own tasks and those of the caller's groups.
// GET /api/tasks
func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.tasks.ListForUser(r.Context(), caller(r).ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if tasks == nil {
		tasks = []*task.Task{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

// CreateTask creates a personal or group-scoped task. A duplicate
// fingerprint returns the existing task with 200 instead of 201.
// POST /api/tasks
func (h *Handler) CreateTask(w http.ResponseWriter, r *http.Request) {
	var in task.CreateInput
	if err := decodeJSON(w, r, &in); err != nil {
		badRequest(w, err.Error())
		return
	}

	res, err := h.tasks.Create(r.Context(), caller(r).ID, in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, res.Task)
}

// GetTask returns a task visible to the caller.
// GET /api/tasks/{id}
func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	t, err := h.tasks.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	visible, err := h.canSee(r.Context(), caller(r).ID, t)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !visible {
		// Hide existence from outsiders.
		h.writeError(w, r, task.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// UpdateTask applies a partial update on behalf of the caller.
// PUT /api/tasks/{id}
func (h *Handler) UpdateTask(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	var in task.UpdateInput
	if err := decodeJSON(w, r, &in); err != nil {
		badRequest(w, err.Error())
		return
	}
	in.ActorID = caller(r).ID

	t, err := h.tasks.Update(r.Context(), id, in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handler) canSee(ctx context.Context, userID string, t *task.Task) (bool, error) {
	if t.UserID != nil && *t.UserID == userID {
		return true, nil
	}
	if t.Assignee != nil && *t.Assignee == userID {
		return true, nil
	}
	if t.GroupID != nil {
		return h.members.IsMember(ctx, userID, *t.GroupID)
	}
	return false, nil
}
