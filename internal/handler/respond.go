package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"studyconnect/internal/auth"
	"studyconnect/internal/group"
	"studyconnect/internal/membership"
	"studyconnect/internal/middleware"
	"studyconnect/internal/task"
	"studyconnect/internal/user"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// decodeJSON reads a size-limited JSON body into v. An empty body leaves v untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// pathID parses the {id} URL parameter as a positive int64.
func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid id")
	}
	return id, nil
}

// caller returns the resolved user. ResolveUser guarantees it on every
// route this is used from.
func caller(r *http.Request) *user.User {
	u, _ := middleware.GetUser(r.Context())
	return u
}

func badRequest(w http.ResponseWriter, message string) {
	auth.WriteJSONError(w, http.StatusBadRequest, message, auth.TypeInvalidRequest)
}

// writeError maps domain errors to HTTP statuses. Anything unrecognised is
// logged and reported as a generic 500.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, user.ErrNotFound),
		errors.Is(err, task.ErrNotFound),
		errors.Is(err, membership.ErrGroupNotFound),
		errors.Is(err, group.ErrUserNotFound):
		auth.WriteJSONError(w, http.StatusNotFound, err.Error(), auth.TypeNotFound)

	case errors.Is(err, task.ErrForbidden),
		errors.Is(err, group.ErrForbidden),
		errors.Is(err, user.ErrForbidden):
		auth.WriteForbidden(w, err.Error())

	case errors.Is(err, group.ErrNotMember),
		errors.Is(err, user.ErrAlreadyExists),
		errors.Is(err, task.ErrDuplicate):
		auth.WriteJSONError(w, http.StatusConflict, err.Error(), auth.TypeConflict)

	case errors.Is(err, user.ErrInvalidIdentity):
		auth.WriteUnauthorized(w)

	case errors.Is(err, user.ErrInvalidUsername),
		errors.Is(err, user.ErrInvalidEmail),
		errors.Is(err, user.ErrInvalidBirthday),
		errors.Is(err, task.ErrInvalidTitle),
		errors.Is(err, task.ErrInvalidDeadline),
		errors.Is(err, task.ErrInvalidPriority),
		errors.Is(err, task.ErrInvalidProgress),
		errors.Is(err, task.ErrInvalidTransition),
		errors.Is(err, task.ErrInvalidAssignee),
		errors.Is(err, group.ErrInvalidName),
		errors.Is(err, group.ErrInvalidGroupNumber):
		badRequest(w, err.Error())

	default:
		h.log.Error("request failed",
			zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Error(err))
		auth.WriteJSONError(w, http.StatusInternalServerError, "internal error", auth.TypeInternal)
	}
}
