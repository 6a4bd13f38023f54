package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casfos/registry/internal/auth/apikey"
)

type stubValidator map[string]*apikey.KeyInfo

func (s stubValidator) Validate(_ context.Context, raw string) (*apikey.KeyInfo, error) {
	switch raw {
	case "expired":
		return nil, apikey.ErrExpiredKey
	case "broken":
		return nil, errors.New("db down")
	}
	if info, ok := s[raw]; ok {
		return info, nil
	}
	return nil, apikey.ErrInvalidKey
}

var keys = stubValidator{
	"v-key": {ID: "1", Name: "desk", Roles: []apikey.Role{apikey.RoleVerifier}, RateLimit: 2},
	"h-key": {ID: "2", Name: "hoo", Roles: []apikey.Role{apikey.RoleHOO}, RateLimit: 100},
}

func echoKey() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if info := GetKeyInfo(r.Context()); info != nil {
			w.Write([]byte(info.Name))
		}
	})
}

func TestAuth(t *testing.T) {
	h := Auth(keys)(echoKey())
	tests := []struct {
		name   string
		setup  func(*http.Request)
		path   string
		status int
		body   string
	}{
		{"bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer v-key") }, "/api/v1/taxonomy", 200, "desk"},
		{"header", func(r *http.Request) { r.Header.Set("X-API-Key", "h-key") }, "/api/v1/taxonomy", 200, "hoo"},
		{"query", func(*http.Request) {}, "/api/v1/taxonomy?api_key=v-key", 200, "desk"},
		{"missing", func(*http.Request) {}, "/api/v1/taxonomy", 401, "missing api key"},
		{"invalid", func(r *http.Request) { r.Header.Set("X-API-Key", "nope") }, "/api/v1/taxonomy", 401, "invalid api key"},
		{"expired", func(r *http.Request) { r.Header.Set("X-API-Key", "expired") }, "/api/v1/taxonomy", 401, "expired api key"},
		{"store error", func(r *http.Request) { r.Header.Set("X-API-Key", "broken") }, "/api/v1/taxonomy", 500, "authentication error"},
		{"health exempt", func(*http.Request) {}, "/health/live", 200, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			tc.setup(req)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tc.status, rec.Code)
			assert.Contains(t, rec.Body.String(), tc.body)
		})
	}
}

func TestRequireRoles(t *testing.T) {
	h := Auth(keys)(RequireRoles(apikey.RoleHOO, apikey.RolePrincipal)(echoKey()))

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/faculty/f1", nil)
	req.Header.Set("X-API-Key", "v-key")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "hoo, principal")

	req.Header.Set("X-API-Key", "h-key")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

type countingLimiter struct{ used map[string]int }

func (c *countingLimiter) Allow(key string, limit int) bool {
	c.used[key]++
	return c.used[key] <= limit
}

func TestRateLimit(t *testing.T) {
	lim := &countingLimiter{used: map[string]int{}}
	h := Auth(keys)(RateLimit(lim, time.Minute)(echoKey()))

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/taxonomy", nil)
		req.Header.Set("X-API-Key", "v-key")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}
	require.Equal(t, http.StatusOK, send().Code)
	require.Equal(t, http.StatusOK, send().Code)
	rec := send()
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestCORS(t *testing.T) {
	cfg := DefaultCORSConfig()
	cfg.AllowOrigins = []string{"https://casfos.example"}
	called := false
	h := CORS(cfg)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/faculty/search", nil)
	req.Header.Set("Origin", "https://casfos.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://casfos.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.False(t, called)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/taxonomy", nil)
	req.Header.Set("Origin", "https://elsewhere.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.True(t, called)
}
