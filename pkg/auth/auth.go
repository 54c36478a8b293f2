// Package auth verifies bearer JWTs and carries the resulting identity
// through request context, the way hyperforge's pkg/auth.Verifier /
// pkg/api/middleware.AuthMiddleware split token verification from the HTTP
// plumbing that reads the Authorization header.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mevzuatgpt/mevzuatgpt-server/engine/domain"
)

// Claims is the identity this service trusts from a verified token.
type Claims struct {
	UserID string      `json:"sub"`
	Email  string      `json:"email"`
	Role   domain.Role `json:"role"`
	jwt.RegisteredClaims
}

// Verifier validates an access token and extracts its Claims.
type Verifier struct {
	secret []byte
}

// NewVerifier builds a Verifier around a shared HMAC signing secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

var errUnexpectedSigningMethod = errors.New("auth: unexpected signing method")

// Verify parses and validates tokenString, returning its Claims.
func (v *Verifier) Verify(ctx context.Context, tokenString string) (Claims, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errUnexpectedSigningMethod
		}
		return v.secret, nil
	})
	if err != nil {
		return Claims{}, err
	}
	if !token.Valid {
		return Claims{}, errors.New("auth: token is not valid")
	}
	if claims.UserID == "" {
		return Claims{}, errors.New("auth: token carries no subject")
	}
	return claims, nil
}

type contextKey string

const userContextKey contextKey = "auth.user"

// UserFromContext returns the identity a Middleware attached to the
// request, if any.
func UserFromContext(ctx context.Context) (domain.User, bool) {
	u, ok := ctx.Value(userContextKey).(domain.User)
	return u, ok
}

// Middleware verifies the Authorization: Bearer header and attaches the
// resulting domain.User to the request context. It never consults a
// balance, role permission, or the database: Handlers still call
// engine/ledger for balance and compare Role themselves for admin routes.
func Middleware(verifier *Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				http.Error(w, `{"error":"Unauthenticated"}`, http.StatusUnauthorized)
				return
			}
			claims, err := verifier.Verify(r.Context(), token)
			if err != nil {
				http.Error(w, `{"error":"Unauthenticated"}`, http.StatusUnauthorized)
				return
			}
			user := domain.User{ID: claims.UserID, Email: claims.Email, Role: claims.Role}
			ctx := context.WithValue(r.Context(), userContextKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin wraps a handler so only domain.RoleAdmin identities reach it.
// Middleware must run first so a domain.User is already in context.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := UserFromContext(r.Context())
		if !ok || !user.IsAdmin() {
			http.Error(w, `{"error":"Forbidden"}`, http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}
