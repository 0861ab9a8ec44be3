package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"studyconnect/internal/auth"
	"studyconnect/internal/jwtauth"
	"studyconnect/internal/user"

	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// mockVerifier implements TokenVerifier for testing.
type mockVerifier struct {
	verifyFunc func(ctx context.Context, token string) (*jwtauth.Claims, error)
}

func (m *mockVerifier) Verify(ctx context.Context, token string) (*jwtauth.Claims, error) {
	if m.verifyFunc != nil {
		return m.verifyFunc(ctx, token)
	}
	return nil, jwtauth.ErrInvalidToken
}

// mockResolver implements UserResolver for testing.
type mockResolver struct {
	resolveFunc func(ctx context.Context, claims *jwtauth.Claims) (*user.User, error)
}

func (m *mockResolver) ResolveOrCreate(ctx context.Context, claims *jwtauth.Claims) (*user.User, error) {
	return m.resolveFunc(ctx, claims)
}

func validVerifier() *mockVerifier {
	return &mockVerifier{verifyFunc: func(ctx context.Context, token string) (*jwtauth.Claims, error) {
		if token != "good-token" {
			return nil, jwtauth.ErrInvalidToken
		}
		c := &jwtauth.Claims{PreferredUsername: "alice"}
		c.Subject = "sub-alice"
		return c, nil
	}}
}

// userEcho writes the resolved user id, or 500 if none is on the context.
func userEcho() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, ok := GetUser(r.Context())
		if !ok {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"user_id": u.ID})
	})
}

func chain(v TokenVerifier, res UserResolver) http.Handler {
	logger := zap.NewNop()
	return Authenticate(v, logger)(ResolveUser(res, logger)(userEcho()))
}

func okResolver() *mockResolver {
	return &mockResolver{resolveFunc: func(ctx context.Context, c *jwtauth.Claims) (*user.User, error) {
		return &user.User{ID: c.Subject, Username: c.PreferredUsername}, nil
	}}
}

func TestAuthenticate_RejectsBadCredentials(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{name: "missing header", header: ""},
		{name: "wrong scheme", header: "Basic dXNlcjpwYXNz"},
		{name: "empty token", header: "Bearer "},
		{name: "invalid token", header: "Bearer forged"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			chain(validVerifier(), okResolver()).ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("expected status 401, got %d", rec.Code)
			}
			var resp auth.APIError
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if resp.Error.Type != auth.TypeAuthentication {
				t.Errorf("expected authentication_error, got %q", resp.Error.Type)
			}
		})
	}
}

func TestAuthenticate_ValidToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	rec := httptest.NewRecorder()

	chain(validVerifier(), okResolver()).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["user_id"] != "sub-alice" {
		t.Errorf("expected user sub-alice, got %q", body["user_id"])
	}
}

func TestAuthenticate_ClaimsOnlyWithoutResolver(t *testing.T) {
	var got *jwtauth.Claims
	handler := Authenticate(validVerifier(), zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = jwtauth.GetClaims(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/users/register", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("expected status 204, got %d", rec.Code)
	}
	if got == nil || got.Subject != "sub-alice" {
		t.Errorf("expected claims for sub-alice, got %+v", got)
	}
}

func TestResolveUser_Errors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{name: "no subject", err: user.ErrInvalidIdentity, wantStatus: http.StatusUnauthorized},
		{name: "store failure", err: errors.New("failed to get user: connection refused"), wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := &mockResolver{resolveFunc: func(ctx context.Context, c *jwtauth.Claims) (*user.User, error) {
				return nil, tt.err
			}}

			req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
			req.Header.Set("Authorization", "Bearer good-token")
			rec := httptest.NewRecorder()

			chain(validVerifier(), res).ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
		})
	}
}

func TestResolveUser_WithoutClaims(t *testing.T) {
	handler := ResolveUser(okResolver(), zap.NewNop())(userEcho())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/me", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", rec.Code)
	}
}

func TestRequestLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	handler := chimw.RequestID(RequestLogger(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("short and stout"))
	})))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["status"] != int64(http.StatusTeapot) {
		t.Errorf("expected status field 418, got %v", fields["status"])
	}
	if fields["path"] != "/health" {
		t.Errorf("expected path /health, got %v", fields["path"])
	}
	if fields["request_id"] == nil {
		t.Error("expected request_id field")
	}
	if entries[0].Level != zap.WarnLevel {
		t.Errorf("expected warn level for 4xx, got %s", entries[0].Level)
	}
}
