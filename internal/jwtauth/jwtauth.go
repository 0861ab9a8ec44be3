// Package jwtauth verifies Keycloak-issued access tokens against the realm's JWKS.
package jwtauth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

var (
	ErrMissingKeyID    = errors.New("missing kid in token header")
	ErrInvalidToken    = errors.New("invalid token")
	ErrInvalidAudience = errors.New("invalid audience")
)

// Claims represents the access token claims issued by Keycloak.
type Claims struct {
	jwt.RegisteredClaims
	PreferredUsername string      `json:"preferred_username,omitempty"`
	Email             string      `json:"email,omitempty"`
	EmailVerified     bool        `json:"email_verified,omitempty"`
	Name              string      `json:"name,omitempty"`
	AuthorizedParty   string      `json:"azp,omitempty"`
	RealmAccess       RealmAccess `json:"realm_access,omitempty"`
}

// RealmAccess carries the realm-level roles granted to the subject.
type RealmAccess struct {
	Roles []string `json:"roles,omitempty"`
}

// SubjectID returns the provider's stable identifier for the user.
func (c *Claims) SubjectID() string {
	return c.Subject
}

// HasRealmRole checks if the subject was granted a realm role.
func (c *Claims) HasRealmRole(role string) bool {
	return slices.Contains(c.RealmAccess.Roles, role)
}

// Config holds Keycloak JWT verification configuration.
type Config struct {
	IssuerURL string // e.g. "https://sso.example.com/realms/studyconnect"
	Audience  string // optional; matched against aud, then azp
}

// Verifier handles JWT verification for a single Keycloak realm.
type Verifier struct {
	issuer   string
	audience string
	jwks     *JWKSCache
	log      *zap.Logger
}

// NewVerifier creates a new JWT verifier. Keys are fetched lazily from the
// realm's certs endpoint.
func NewVerifier(cfg Config, logger *zap.Logger) (*Verifier, error) {
	if cfg.IssuerURL == "" {
		return nil, errors.New("issuer URL is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	issuer := strings.TrimSuffix(cfg.IssuerURL, "/")

	return &Verifier{
		issuer:   issuer,
		audience: cfg.Audience,
		jwks:     NewJWKSCache(issuer+"/protocol/openid-connect/certs", logger),
		log:      logger,
	}, nil
}

// Verify verifies a JWT token and returns the claims.
func (v *Verifier) Verify(ctx context.Context, tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok || kid == "" {
			return nil, ErrMissingKeyID
		}
		return v.jwks.GetKey(ctx, kid)
	},
		jwt.WithValidMethods([]string{"RS256", "RS384", "RS512"}),
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	if !v.verifyAudience(claims) {
		return nil, ErrInvalidAudience
	}

	return claims, nil
}

// Keycloak access tokens often carry aud "account" and name the client in azp,
// so either is accepted.
func (v *Verifier) verifyAudience(claims *Claims) bool {
	if v.audience == "" {
		return true
	}
	if slices.Contains(claims.Audience, v.audience) {
		return true
	}
	return claims.AuthorizedParty == v.audience
}

type contextKey string

const ClaimsContextKey contextKey = "jwtclaims"

// WithClaims returns a copy of ctx carrying the verified claims.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, ClaimsContextKey, claims)
}

// GetClaims retrieves JWT claims from the request context.
func GetClaims(ctx context.Context) *Claims {
	claims, _ := ctx.Value(ClaimsContextKey).(*Claims)
	return claims
}
