// Package auth issues and verifies the bearer tokens of the admin API.
// Tokens are HS256 JWTs carrying a scope: "read" tokens may inspect the
// router, "write" tokens may also change stored configurations.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"outbound-router/internal/common/errors"
)

// Issuer is the iss claim of every token.
const Issuer = "outbound-router"

// DefaultTTL is the lifetime of tokens issued without an explicit TTL.
const DefaultTTL = 24 * time.Hour

// Scopes.
const (
	ScopeRead  = "read"
	ScopeWrite = "write"
)

type Claims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// CanWrite reports whether the token may modify configurations.
func (c *Claims) CanWrite() bool {
	return c.Scope == ScopeWrite
}

type Auth struct {
	secret []byte
}

// New creates an Auth signing with secret.
func New(secret string) (*Auth, error) {
	if len(secret) < 32 {
		return nil, errors.ConfigError("JWT secret must be at least 32 characters long")
	}
	return &Auth{secret: []byte(secret)}, nil
}

// GenerateJWT issues a token for subject. A zero ttl means DefaultTTL.
func (a *Auth) GenerateJWT(subject, scope string, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", errors.ValidationError("token subject is required")
	}
	if scope != ScopeRead && scope != ScopeWrite {
		return "", errors.ValidationError(fmt.Sprintf("unknown scope %q", scope))
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	now := time.Now()
	claims := &Claims{
		Scope: scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", errors.InternalError("failed to sign token", err)
	}
	return signed, nil
}

// ValidateJWT verifies signature, issuer and expiry.
func (a *Auth) ValidateJWT(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !token.Valid {
		return nil, errors.AuthError("invalid or expired token").WithCause(err)
	}
	return claims, nil
}

type contextKey struct{}

// ClaimsFromContext returns the claims RequireAuth stored in ctx.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(contextKey{}).(*Claims)
	return claims, ok
}

// RequireAuth rejects requests without a valid bearer token.
func (a *Auth) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			unauthorized(w, http.StatusUnauthorized, "Authentication required")
			return
		}

		claims, err := a.ValidateJWT(token)
		if err != nil {
			unauthorized(w, http.StatusUnauthorized, "Invalid or expired token")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKey{}, claims)))
	})
}

// RequireWrite rejects requests whose token lacks the write scope. It must
// run inside RequireAuth.
func RequireWrite(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		if !ok || !claims.CanWrite() {
			unauthorized(w, http.StatusForbidden, "Write scope required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func unauthorized(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error": %q}`, msg)
}
