package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mevzuatgpt/mevzuatgpt-server/engine/domain"
)

func signToken(t *testing.T, secret string, claims Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestVerify_ValidToken(t *testing.T) {
	v := NewVerifier("shh")
	claims := Claims{
		UserID: "u1", Email: "a@b.com", Role: domain.RoleUser,
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}
	tok := signToken(t, "shh", claims)

	got, err := v.Verify(httptest.NewRequest(http.MethodGet, "/", nil).Context(), tok)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.UserID != "u1" || got.Role != domain.RoleUser {
		t.Fatalf("unexpected claims: %+v", got)
	}
}

func TestVerify_WrongSecretRejected(t *testing.T) {
	v := NewVerifier("shh")
	claims := Claims{UserID: "u1", RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}}
	tok := signToken(t, "different", claims)

	_, err := v.Verify(httptest.NewRequest(http.MethodGet, "/", nil).Context(), tok)
	if err == nil {
		t.Fatal("expected verification to fail with a mismatched secret")
	}
}

func TestVerify_ExpiredTokenRejected(t *testing.T) {
	v := NewVerifier("shh")
	claims := Claims{UserID: "u1", RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour))}}
	tok := signToken(t, "shh", claims)

	_, err := v.Verify(httptest.NewRequest(http.MethodGet, "/", nil).Context(), tok)
	if err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestMiddleware_MissingHeaderIsUnauthenticated(t *testing.T) {
	v := NewVerifier("shh")
	h := Middleware(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run without a valid token")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestMiddleware_AttachesUserToContext(t *testing.T) {
	v := NewVerifier("shh")
	claims := Claims{UserID: "u1", Role: domain.RoleAdmin, RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}}
	tok := signToken(t, "shh", claims)

	var gotUser domain.User
	h := Middleware(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, _ = UserFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	h.ServeHTTP(httptest.NewRecorder(), req)

	if gotUser.ID != "u1" || gotUser.Role != domain.RoleAdmin {
		t.Fatalf("unexpected user in context: %+v", gotUser)
	}
}

func TestRequireAdmin_RejectsNonAdmin(t *testing.T) {
	h := RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run for a non-admin")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 with no user in context, got %d", rec.Code)
	}
}
