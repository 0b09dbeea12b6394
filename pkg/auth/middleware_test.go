package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/helm-recovery/pkg/identity"
	"github.com/Mindburn-Labs/helm-recovery/pkg/limiter"
)

func signToken(t *testing.T, ks identity.KeySet, sub string, exp time.Duration) string {
	t.Helper()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			Issuer:    "helm-recovery",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(exp)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	tok, err := ks.Sign(context.Background(), claims)
	require.NoError(t, err)
	return tok
}

func principalEcho() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := GetPrincipal(r.Context())
		if err != nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		_, _ = w.Write([]byte(p.Account()))
	})
}

func TestMiddleware_ValidToken(t *testing.T) {
	ks, err := identity.NewInMemoryKeySet()
	require.NoError(t, err)
	h := NewMiddleware(NewJWTValidator(ks, "helm-recovery"))(principalEcho())

	req := httptest.NewRequest(http.MethodGet, "/v1/guardians/alice", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, ks, "  alice ", time.Hour))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", rec.Body.String())
}

func TestMiddleware_Rejections(t *testing.T) {
	ks, err := identity.NewInMemoryKeySet()
	require.NoError(t, err)
	other, err := identity.NewInMemoryKeySet()
	require.NoError(t, err)
	v := NewJWTValidator(ks, "helm-recovery")

	cases := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"wrong scheme", "Basic abc"},
		{"garbage", "Bearer not-a-jwt"},
		{"expired", "Bearer " + signToken(t, ks, "alice", -time.Minute)},
		{"foreign key", "Bearer " + signToken(t, other, "alice", time.Hour)},
		{"empty subject", "Bearer " + signToken(t, ks, " ", time.Hour)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewMiddleware(v)(principalEcho())
			req := httptest.NewRequest(http.MethodPost, "/v1/recoveries", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
		})
	}
}

func TestMiddleware_WrongIssuer(t *testing.T) {
	ks, err := identity.NewInMemoryKeySet()
	require.NoError(t, err)
	h := NewMiddleware(NewJWTValidator(ks, "someone-else"))(principalEcho())

	req := httptest.NewRequest(http.MethodGet, "/v1/guardians/alice", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, ks, "alice", time.Hour))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddleware_PublicPaths(t *testing.T) {
	h := NewMiddleware(nil)(principalEcho())

	for _, path := range []string{"/health", "/readiness", "/internal/v1/recoveries/abc/result"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code, path)
	}
}

func TestMiddleware_NilValidatorFailsClosed(t *testing.T) {
	h := NewMiddleware(nil)(principalEcho())
	req := httptest.NewRequest(http.MethodGet, "/v1/guardians/alice", nil)
	req.Header.Set("Authorization", "Bearer x")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	h := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get("X-Request-ID"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "req-123", seen)
	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))

	for _, bad := range []string{"req\nforged=1", strings.Repeat("a", maxRequestIDLen+1), "id with spaces"} {
		req = httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set(RequestIDHeader, bad)
		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.NotEqual(t, bad, seen)
		assert.Len(t, seen, 36, "replaced with a generated id")
		assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))
	}
}

type failingStore struct{}

func (failingStore) Allow(context.Context, string, limiter.Policy, int) (bool, error) {
	return false, errors.New("redis down")
}

func TestRateLimitMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	policy := limiter.Policy{RPM: 60, Burst: 1}

	t.Run("per principal", func(t *testing.T) {
		h := RateLimitMiddleware(limiter.NewMemoryStore(), policy)(ok)
		call := func(account string) int {
			req := httptest.NewRequest(http.MethodGet, "/v1/recoveries/x", nil)
			req = req.WithContext(WithPrincipal(req.Context(), &BasePrincipal{ID: account}))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			return rec.Code
		}
		assert.Equal(t, http.StatusOK, call("alice"))
		assert.Equal(t, http.StatusTooManyRequests, call("alice"))
		assert.Equal(t, http.StatusOK, call("bob"))
	})

	t.Run("retry after header", func(t *testing.T) {
		h := RateLimitMiddleware(limiter.NewMemoryStore(), policy)(ok)
		var rec *httptest.ResponseRecorder
		for i := 0; i < 2; i++ {
			rec = httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		}
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	})

	t.Run("fails open", func(t *testing.T) {
		for _, store := range []limiter.Store{nil, failingStore{}} {
			h := RateLimitMiddleware(store, policy)(ok)
			for i := 0; i < 3; i++ {
				rec := httptest.NewRecorder()
				h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
				assert.Equal(t, http.StatusOK, rec.Code)
			}
		}
	})
}

func TestBasePrincipal(t *testing.T) {
	p := &BasePrincipal{ID: " bob ", Roles: []string{"operator"}}
	assert.Equal(t, identity.AccountRef("bob"), p.Account())
	assert.True(t, p.HasRole("operator"))
	assert.False(t, p.HasRole("admin"))

	_, err := GetPrincipal(context.Background())
	assert.ErrorIs(t, err, ErrNoPrincipal)
}
