// Package middleware provides the HTTP middleware for the StudyConnect API.
package middleware

import (
	"context"
	"errors"
	"net/http"

	"studyconnect/internal/auth"
	"studyconnect/internal/jwtauth"
	"studyconnect/internal/user"

	"go.uber.org/zap"
)

// TokenVerifier verifies a bearer token. Implemented by *jwtauth.Verifier.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*jwtauth.Claims, error)
}

// UserResolver maps verified claims to a local user. Implemented by *user.Manager.
type UserResolver interface {
	ResolveOrCreate(ctx context.Context, claims *jwtauth.Claims) (*user.User, error)
}

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

// UserContextKey is the context key for the resolved local user.
const UserContextKey contextKey = "user"

// GetUser retrieves the resolved caller from the request context.
func GetUser(ctx context.Context) (*user.User, bool) {
	u, ok := ctx.Value(UserContextKey).(*user.User)
	return u, ok && u != nil
}

// WithUser returns a copy of ctx carrying the resolved caller.
func WithUser(ctx context.Context, u *user.User) context.Context {
	return context.WithValue(ctx, UserContextKey, u)
}

// Authenticate verifies the bearer token and attaches its claims to the request.
//
// Error responses:
//   - 401 Unauthorized: missing or malformed Authorization header, or a token
//     that fails verification
func Authenticate(verifier TokenVerifier, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := auth.ExtractBearerToken(r)
			if err != nil {
				auth.WriteUnauthorized(w)
				return
			}

			claims, err := verifier.Verify(r.Context(), token)
			if err != nil {
				logger.Debug("token verification failed", zap.Error(err))
				auth.WriteUnauthorized(w)
				return
			}

			next.ServeHTTP(w, r.WithContext(jwtauth.WithClaims(r.Context(), claims)))
		})
	}
}

// ResolveUser loads (or mirrors on first sight) the local user for the
// verified claims. It must run after Authenticate.
//
// Error responses:
//   - 401 Unauthorized: no claims on the request, or claims without a subject
//   - 500 Internal Server Error: store failure
func ResolveUser(resolver UserResolver, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := jwtauth.GetClaims(r.Context())
			if claims == nil {
				auth.WriteUnauthorized(w)
				return
			}

			u, err := resolver.ResolveOrCreate(r.Context(), claims)
			if err != nil {
				if errors.Is(err, user.ErrInvalidIdentity) {
					auth.WriteUnauthorized(w)
					return
				}
				logger.Error("failed to resolve user", zap.String("subject", claims.Subject), zap.Error(err))
				auth.WriteJSONError(w, http.StatusInternalServerError, "internal error", auth.TypeInternal)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), u)))
		})
	}
}
