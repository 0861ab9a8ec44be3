package handler

import (
	"net/http"
	"strconv"
	"strings"

	"studyconnect/internal/auth"
	"studyconnect/internal/group"
	"studyconnect/internal/membership"
	"studyconnect/internal/task"
)

type joinRequest struct {
	GroupID    *int64 `json:"group_id,omitempty"`
	InviteLink string `json:"invite_link,omitempty"`
}

type targetRequest struct {
	UserID string `json:"user_id"`
}

// ListGroups pages through all groups.
// GET /api/groups?limit=&offset=
func (h *Handler) ListGroups(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		badRequest(w, "invalid limit")
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		badRequest(w, "invalid offset")
		return
	}

	groups, err := h.members.ListGroups(r.Context(), limit, offset)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if groups == nil {
		groups = []*membership.Group{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"groups": groups})
}

// CreateGroup creates a group with the caller as its admin. An existing group
// with the same number or invite link is returned with 200 instead of 201.
// POST /api/groups
func (h *Handler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var in group.CreateInput
	if err := decodeJSON(w, r, &in); err != nil {
		badRequest(w, err.Error())
		return
	}

	res, err := h.groups.Create(r.Context(), caller(r).ID, in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, res.Group)
}

// MyGroups lists the caller's groups with the caller's role in each.
// GET /api/groups/mine
func (h *Handler) MyGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.members.GroupsForUser(r.Context(), caller(r).ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if groups == nil {
		groups = []*membership.GroupWithRole{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"groups": groups})
}

// JoinGroup enrolls the caller by group id or invite link.
// POST /api/groups/join
func (h *Handler) JoinGroup(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	var (
		g   *membership.Group
		err error
	)
	switch {
	case req.GroupID != nil:
		g, err = h.groups.Join(r.Context(), caller(r).ID, *req.GroupID)
	case strings.TrimSpace(req.InviteLink) != "":
		g, err = h.groups.JoinByInvite(r.Context(), caller(r).ID, strings.TrimSpace(req.InviteLink))
	default:
		badRequest(w, "group_id or invite_link is required")
		return
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// GetGroup returns a group by id.
// GET /api/groups/{id}
func (h *Handler) GetGroup(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	g, err := h.members.GetGroup(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// DeleteGroup removes a group and everything scoped to it. Admin only.
// DELETE /api/groups/{id}
func (h *Handler) DeleteGroup(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	if err := h.groups.Delete(r.Context(), caller(r).ID, id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GroupMembers lists the members of a group the caller belongs to.
// GET /api/groups/{id}/members
func (h *Handler) GroupMembers(w http.ResponseWriter, r *http.Request) {
	id, ok := h.memberGroupID(w, r)
	if !ok {
		return
	}

	members, err := h.members.MembersOf(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if members == nil {
		members = []*membership.Member{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"members": members})
}

// GroupTasks lists the tasks of a group the caller belongs to.
// GET /api/groups/{id}/tasks
func (h *Handler) GroupTasks(w http.ResponseWriter, r *http.Request) {
	id, ok := h.memberGroupID(w, r)
	if !ok {
		return
	}

	tasks, err := h.tasks.ListForGroup(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if tasks == nil {
		tasks = []*task.Task{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

// KickMember removes another member. Admin only.
// POST /api/groups/{id}/kick
func (h *Handler) KickMember(w http.ResponseWriter, r *http.Request) {
	id, target, ok := h.targetParams(w, r)
	if !ok {
		return
	}

	if err := h.groups.Kick(r.Context(), caller(r).ID, target, id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PromoteMember makes a member an admin. Admin only.
// POST /api/groups/{id}/promote
func (h *Handler) PromoteMember(w http.ResponseWriter, r *http.Request) {
	id, target, ok := h.targetParams(w, r)
	if !ok {
		return
	}

	if err := h.groups.Promote(r.Context(), caller(r).ID, target, id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// LeaveGroup removes the caller from a group.
// POST /api/groups/{id}/leave
func (h *Handler) LeaveGroup(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	if err := h.groups.Leave(r.Context(), caller(r).ID, id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// memberGroupID parses {id} and checks that the group exists and the caller
// belongs to it. It writes the error response itself when ok is false.
func (h *Handler) memberGroupID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, err.Error())
		return 0, false
	}

	if _, err := h.members.GetGroup(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return 0, false
	}

	isMember, err := h.members.IsMember(r.Context(), caller(r).ID, id)
	if err != nil {
		h.writeError(w, r, err)
		return 0, false
	}
	if !isMember {
		auth.WriteForbidden(w, "only group members can do this")
		return 0, false
	}
	return id, true
}

func (h *Handler) targetParams(w http.ResponseWriter, r *http.Request) (int64, string, bool) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, err.Error())
		return 0, "", false
	}

	var req targetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, err.Error())
		return 0, "", false
	}
	target := strings.TrimSpace(req.UserID)
	if target == "" {
		badRequest(w, "user_id is required")
		return 0, "", false
	}
	return id, target, true
}

// queryInt returns 0 for an absent parameter.
func queryInt(r *http.Request, key string) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}
