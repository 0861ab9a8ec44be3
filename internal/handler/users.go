package handler

import (
	"net/http"

	"studyconnect/internal/auth"
	"studyconnect/internal/jwtauth"
	"studyconnect/internal/user"

	"github.com/go-chi/chi/v5"
)

// Register creates the local user for the token subject.
// POST /api/users/register
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	claims := jwtauth.GetClaims(r.Context())
	if claims == nil {
		auth.WriteUnauthorized(w)
		return
	}

	var in user.RegisterInput
	if err := decodeJSON(w, r, &in); err != nil {
		badRequest(w, err.Error())
		return
	}

	u, err := h.users.Register(r.Context(), claims, in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

// Me returns the resolved caller.
// GET /api/me
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, caller(r))
}

// GetUser returns a user by id.
// GET /api/users/{id}
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.users.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// UpdateUser applies a partial profile update. Callers may only edit themselves.
// PUT /api/users/{id}
func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	var in user.ProfileInput
	if err := decodeJSON(w, r, &in); err != nil {
		badRequest(w, err.Error())
		return
	}

	u, err := h.users.UpdateProfile(r.Context(), caller(r).ID, chi.URLParam(r, "id"), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}
