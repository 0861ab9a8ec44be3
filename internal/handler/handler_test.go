package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"studyconnect/internal/auth"
	"studyconnect/internal/config"
	"studyconnect/internal/group"
	"studyconnect/internal/jwtauth"
	"studyconnect/internal/membership"
	"studyconnect/internal/task"
	"studyconnect/internal/user"

	"github.com/DATA-DOG/go-sqlmock"
	"go.uber.org/zap"
)

var (
	userCols = []string{"id", "username", "email", "birthday", "faculty", "created_at", "updated_at"}
	taskCols = []string{
		"id", "title", "deadline", "kind", "priority", "status", "progress",
		"assignee", "notes", "user_id", "group_id", "created_at", "updated_at",
	}
	groupCols = []string{"id", "name", "description", "group_number", "invite_link", "created_at"}
	stamp     = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
)

const (
	getUserQuery  = `SELECT .+ FROM users WHERE id = \$1`
	getTaskQuery  = `SELECT .+ FROM tasks WHERE id = \$1`
	getGroupQuery = `SELECT .+ FROM groups WHERE id = \$1`
	isMemberQuery = `SELECT EXISTS\(SELECT 1 FROM group_memberships WHERE user_id = \$1 AND group_id = \$2\)`
)

// fakeVerifier accepts tokens of the form "tok-<subject>".
type fakeVerifier struct{}

func (fakeVerifier) Verify(ctx context.Context, token string) (*jwtauth.Claims, error) {
	sub, ok := strings.CutPrefix(token, "tok-")
	if !ok {
		return nil, jwtauth.ErrInvalidToken
	}
	c := &jwtauth.Claims{PreferredUsername: sub, Email: sub + "@uni.test"}
	c.Subject = sub
	return c, nil
}

type fakeHealth struct{ err error }

func (f fakeHealth) Health(ctx context.Context) error { return f.err }

func newTestRouter(t *testing.T, health HealthChecker) (http.Handler, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		db.Close()
	})

	logger := zap.NewNop()
	router := NewRouter(Deps{
		Config:   &config.Config{Environment: "development"},
		DB:       health,
		Verifier: fakeVerifier{},
		Users:    user.NewManager(user.NewDatastore(db), logger),
		Members:  membership.NewManager(db),
		Tasks:    task.NewManager(db, logger),
		Groups:   group.NewManager(db, logger),
		Logger:   logger,
	})
	return router, mock
}

// expectCaller registers the user lookup ResolveUser performs for an existing user.
func expectCaller(mock sqlmock.Sqlmock, id string) {
	mock.ExpectQuery(getUserQuery).WithArgs(id).
		WillReturnRows(sqlmock.NewRows(userCols).AddRow(id, id, id+"@uni.test", nil, nil, stamp, stamp))
}

func do(t *testing.T, h http.Handler, method, path, subject, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if subject != "" {
		req.Header.Set("Authorization", "Bearer tok-"+subject)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) auth.APIError {
	t.Helper()
	var apiErr auth.APIError
	if err := json.NewDecoder(rec.Body).Decode(&apiErr); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	return apiErr
}

func TestHealth(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		router, _ := newTestRouter(t, fakeHealth{})
		rec := do(t, router, http.MethodGet, "/health", "", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		var body map[string]string
		json.NewDecoder(rec.Body).Decode(&body)
		if body["status"] != "healthy" {
			t.Errorf("expected healthy, got %q", body["status"])
		}
	})

	t.Run("database down", func(t *testing.T) {
		router, _ := newTestRouter(t, fakeHealth{err: errors.New("connection refused")})
		rec := do(t, router, http.MethodGet, "/health", "", "")
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected 503, got %d", rec.Code)
		}
	})
}

func TestStatus(t *testing.T) {
	router, _ := newTestRouter(t, fakeHealth{})
	rec := do(t, router, http.MethodGet, "/api/v1/status", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	json.NewDecoder(rec.Body).Decode(&body)
	if body["environment"] != "development" {
		t.Errorf("expected environment development, got %v", body["environment"])
	}
	if body["version"] != Version {
		t.Errorf("expected version %s, got %v", Version, body["version"])
	}
}

func TestUnknownRoute(t *testing.T) {
	router, _ := newTestRouter(t, fakeHealth{})
	rec := do(t, router, http.MethodGet, "/nope", "", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if got := decodeError(t, rec).Error.Type; got != auth.TypeNotFound {
		t.Errorf("expected type %s, got %s", auth.TypeNotFound, got)
	}
}

func TestAPI_RequiresToken(t *testing.T) {
	router, _ := newTestRouter(t, fakeHealth{})

	rec := do(t, router, http.MethodGet, "/api/me", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer forged")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unverifiable token, got %d", rec.Code)
	}
}

func TestMe(t *testing.T) {
	router, mock := newTestRouter(t, fakeHealth{})
	expectCaller(mock, "alice")

	rec := do(t, router, http.MethodGet, "/api/me", "alice", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	var u map[string]any
	json.NewDecoder(rec.Body).Decode(&u)
	if u["id"] != "alice" {
		t.Errorf("expected id alice, got %v", u["id"])
	}
}

func TestRegister(t *testing.T) {
	insert := `INSERT INTO users`

	t.Run("created", func(t *testing.T) {
		router, mock := newTestRouter(t, fakeHealth{})
		mock.ExpectQuery(insert).
			WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(stamp, stamp))

		rec := do(t, router, http.MethodPost, "/api/users/register", "bob",
			`{"username":"bob","email":"bob@uni.test","faculty":"CS"}`)
		if rec.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body)
		}
	})

	t.Run("already registered", func(t *testing.T) {
		router, mock := newTestRouter(t, fakeHealth{})
		mock.ExpectQuery(insert).WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}))

		rec := do(t, router, http.MethodPost, "/api/users/register", "bob",
			`{"username":"bob","email":"bob@uni.test"}`)
		if rec.Code != http.StatusConflict {
			t.Fatalf("expected 409, got %d", rec.Code)
		}
	})

	t.Run("invalid email", func(t *testing.T) {
		router, _ := newTestRouter(t, fakeHealth{})
		rec := do(t, router, http.MethodPost, "/api/users/register", "bob",
			`{"username":"bob","email":"not-an-email"}`)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("malformed body", func(t *testing.T) {
		router, _ := newTestRouter(t, fakeHealth{})
		rec := do(t, router, http.MethodPost, "/api/users/register", "bob", `{"username":`)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})
}

func TestGetUser_NotFound(t *testing.T) {
	router, mock := newTestRouter(t, fakeHealth{})
	expectCaller(mock, "alice")
	mock.ExpectQuery(getUserQuery).WithArgs("ghost").WillReturnRows(sqlmock.NewRows(userCols))

	rec := do(t, router, http.MethodGet, "/api/users/ghost", "alice", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestUpdateUser_OtherUserForbidden(t *testing.T) {
	router, mock := newTestRouter(t, fakeHealth{})
	expectCaller(mock, "alice")

	rec := do(t, router, http.MethodPut, "/api/users/bob", "alice", `{"faculty":"Law"}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", rec.Code, rec.Body)
	}
}

func TestCreateTask_Validation(t *testing.T) {
	router, mock := newTestRouter(t, fakeHealth{})
	expectCaller(mock, "alice")

	rec := do(t, router, http.MethodPost, "/api/tasks", "alice",
		`{"title":"  ","deadline":"2999-01-01","priority":"low"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if got := decodeError(t, rec).Error.Message; got != task.ErrInvalidTitle.Error() {
		t.Errorf("expected %q, got %q", task.ErrInvalidTitle.Error(), got)
	}
}

func TestCreateTask_StatusReflectsDedup(t *testing.T) {
	const body = `{"title":"Essay","deadline":"2999-01-01","priority":"low"}`
	findQuery := `SELECT .+ FROM tasks\s+WHERE title = \$1`
	deadline := time.Date(2999, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("new task", func(t *testing.T) {
		router, mock := newTestRouter(t, fakeHealth{})
		expectCaller(mock, "alice")
		mock.ExpectBegin()
		mock.ExpectQuery(findQuery).WillReturnRows(sqlmock.NewRows(taskCols))
		mock.ExpectQuery(`INSERT INTO tasks`).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(int64(21), stamp, stamp))
		mock.ExpectCommit()

		rec := do(t, router, http.MethodPost, "/api/tasks", "alice", body)
		if rec.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body)
		}
	})

	t.Run("duplicate returns existing", func(t *testing.T) {
		router, mock := newTestRouter(t, fakeHealth{})
		expectCaller(mock, "alice")
		mock.ExpectBegin()
		mock.ExpectQuery(findQuery).WillReturnRows(sqlmock.NewRows(taskCols).AddRow(
			int64(20), "Essay", deadline, "", "low", "in_progress", 40, nil, nil, "alice", nil, stamp, stamp))
		mock.ExpectCommit()

		rec := do(t, router, http.MethodPost, "/api/tasks", "alice", body)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
		}
		var got map[string]any
		json.NewDecoder(rec.Body).Decode(&got)
		if got["id"] != float64(20) || got["status"] != "in_progress" {
			t.Errorf("expected existing task 20 unchanged, got %v", got)
		}
	})
}

func TestGetTask(t *testing.T) {
	t.Run("invalid id", func(t *testing.T) {
		router, mock := newTestRouter(t, fakeHealth{})
		expectCaller(mock, "alice")
		rec := do(t, router, http.MethodGet, "/api/tasks/abc", "alice", "")
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("owner sees personal task", func(t *testing.T) {
		router, mock := newTestRouter(t, fakeHealth{})
		expectCaller(mock, "alice")
		mock.ExpectQuery(getTaskQuery).WithArgs(7).WillReturnRows(sqlmock.NewRows(taskCols).AddRow(
			int64(7), "Essay", stamp, "", "low", "todo", 0, nil, nil, "alice", nil, stamp, stamp))

		rec := do(t, router, http.MethodGet, "/api/tasks/7", "alice", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
		}
		var body map[string]any
		json.NewDecoder(rec.Body).Decode(&body)
		if body["deadline"] != "2025-06-15" {
			t.Errorf("expected date-only deadline, got %v", body["deadline"])
		}
	})

	t.Run("hidden from outsiders", func(t *testing.T) {
		router, mock := newTestRouter(t, fakeHealth{})
		expectCaller(mock, "mallory")
		mock.ExpectQuery(getTaskQuery).WithArgs(7).WillReturnRows(sqlmock.NewRows(taskCols).AddRow(
			int64(7), "Essay", stamp, "", "low", "todo", 0, nil, nil, "alice", nil, stamp, stamp))

		rec := do(t, router, http.MethodGet, "/api/tasks/7", "mallory", "")
		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", rec.Code)
		}
	})

	t.Run("group member sees group task", func(t *testing.T) {
		router, mock := newTestRouter(t, fakeHealth{})
		expectCaller(mock, "bob")
		mock.ExpectQuery(getTaskQuery).WithArgs(8).WillReturnRows(sqlmock.NewRows(taskCols).AddRow(
			int64(8), "Lab", stamp, "", "high", "todo", 0, nil, nil, "alice", int64(3), stamp, stamp))
		mock.ExpectQuery(isMemberQuery).WithArgs("bob", 3).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		rec := do(t, router, http.MethodGet, "/api/tasks/8", "bob", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
		}
	})
}

func TestListGroups(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		router, mock := newTestRouter(t, fakeHealth{})
		expectCaller(mock, "alice")
		mock.ExpectQuery(`SELECT .+ FROM groups ORDER BY id LIMIT \$1 OFFSET \$2`).WithArgs(20, 0).
			WillReturnRows(sqlmock.NewRows(groupCols).AddRow(int64(1), "Algebra", nil, 101, "inv-1", stamp))

		rec := do(t, router, http.MethodGet, "/api/groups", "alice", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
		}
		var body struct {
			Groups []membership.Group `json:"groups"`
		}
		json.NewDecoder(rec.Body).Decode(&body)
		if len(body.Groups) != 1 || body.Groups[0].GroupNumber != 101 {
			t.Errorf("unexpected groups: %+v", body.Groups)
		}
	})

	t.Run("invalid limit", func(t *testing.T) {
		router, mock := newTestRouter(t, fakeHealth{})
		expectCaller(mock, "alice")
		rec := do(t, router, http.MethodGet, "/api/groups?limit=many", "alice", "")
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})
}

func TestJoinGroup_RequiresTarget(t *testing.T) {
	router, mock := newTestRouter(t, fakeHealth{})
	expectCaller(mock, "alice")

	rec := do(t, router, http.MethodPost, "/api/groups/join", "alice", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestGroupTasks_NonMemberForbidden(t *testing.T) {
	router, mock := newTestRouter(t, fakeHealth{})
	expectCaller(mock, "mallory")
	mock.ExpectQuery(getGroupQuery).WithArgs(3).
		WillReturnRows(sqlmock.NewRows(groupCols).AddRow(int64(3), "Algebra", nil, 101, "inv-1", stamp))
	mock.ExpectQuery(isMemberQuery).WithArgs("mallory", 3).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	rec := do(t, router, http.MethodGet, "/api/groups/3/tasks", "mallory", "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestGroupMembers_UnknownGroup(t *testing.T) {
	router, mock := newTestRouter(t, fakeHealth{})
	expectCaller(mock, "alice")
	mock.ExpectQuery(getGroupQuery).WithArgs(99).WillReturnRows(sqlmock.NewRows(groupCols))

	rec := do(t, router, http.MethodGet, "/api/groups/99/members", "alice", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestLeaveGroup_NotMember(t *testing.T) {
	router, mock := newTestRouter(t, fakeHealth{})
	expectCaller(mock, "mallory")
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM groups WHERE id = \$1 FOR UPDATE`).WithArgs(3).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(3)))
	mock.ExpectQuery(`FROM group_memberships\s+WHERE group_id = \$1\s+ORDER BY joined_at, user_id`).WithArgs(3).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "group_id", "role", "joined_at"}).
			AddRow("alice", int64(3), "admin", stamp))
	mock.ExpectRollback()

	rec := do(t, router, http.MethodPost, "/api/groups/3/leave", "mallory", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body)
	}
}

func TestKickMember_RequiresUserID(t *testing.T) {
	router, mock := newTestRouter(t, fakeHealth{})
	expectCaller(mock, "alice")

	rec := do(t, router, http.MethodPost, "/api/groups/3/kick", "alice", `{"user_id":" "}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestWriteError(t *testing.T) {
	h := &Handler{log: zap.NewNop()}

	tests := []struct {
		err    error
		status int
		typ    string
	}{
		{user.ErrNotFound, http.StatusNotFound, auth.TypeNotFound},
		{task.ErrNotFound, http.StatusNotFound, auth.TypeNotFound},
		{membership.ErrGroupNotFound, http.StatusNotFound, auth.TypeNotFound},
		{group.ErrUserNotFound, http.StatusNotFound, auth.TypeNotFound},
		{task.ErrNotOwner, http.StatusForbidden, auth.TypePermission},
		{task.ErrCreateNotAdmin, http.StatusForbidden, auth.TypePermission},
		{group.ErrForbidden, http.StatusForbidden, auth.TypePermission},
		{user.ErrForbidden, http.StatusForbidden, auth.TypePermission},
		{group.ErrNotMember, http.StatusConflict, auth.TypeConflict},
		{task.ErrDuplicate, http.StatusConflict, auth.TypeConflict},
		{user.ErrAlreadyExists, http.StatusConflict, auth.TypeConflict},
		{task.ErrInvalidTransition, http.StatusBadRequest, auth.TypeInvalidRequest},
		{group.ErrInvalidGroupNumber, http.StatusBadRequest, auth.TypeInvalidRequest},
		{user.ErrInvalidIdentity, http.StatusUnauthorized, auth.TypeAuthentication},
		{fmt.Errorf("failed to get task: %w", errors.New("conn reset")), http.StatusInternalServerError, auth.TypeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.writeError(rec, httptest.NewRequest(http.MethodGet, "/", nil), tt.err)

			if rec.Code != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, rec.Code)
			}
			apiErr := decodeError(t, rec)
			if apiErr.Error.Type != tt.typ {
				t.Errorf("expected type %s, got %s", tt.typ, apiErr.Error.Type)
			}
			if tt.status == http.StatusInternalServerError && apiErr.Error.Message != "internal error" {
				t.Errorf("internal details leaked: %q", apiErr.Error.Message)
			}
		})
	}
}
