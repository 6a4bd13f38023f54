// Package middleware provides the directory's HTTP middleware: API key
// authentication, role checks, CORS and per-key rate limiting.
package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/casfos/registry/internal/auth/apikey"
	"github.com/casfos/registry/pkg/logger"
)

type contextKey string

const apiKeyInfoKey contextKey = "api_key_info"

// KeyValidator resolves a raw API key. apikey.Validator implements it.
type KeyValidator interface {
	Validate(ctx context.Context, rawKey string) (*apikey.KeyInfo, error)
}

// rejections maps validation failures to the 401 message the caller sees.
var rejections = []struct {
	kind    error
	message string
}{
	{apikey.ErrInvalidKey, "invalid api key"},
	{apikey.ErrExpiredKey, "expired api key"},
}

// Auth resolves the request's API key and stores its KeyInfo in the
// context. Health endpoints pass through without a key.
func Auth(validator KeyValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if exempt(r) {
				next.ServeHTTP(w, r)
				return
			}
			raw := extractAPIKey(r)
			if raw == "" {
				writeError(w, http.StatusUnauthorized, "missing api key")
				return
			}
			info, err := validator.Validate(r.Context(), raw)
			if err != nil {
				rejectKey(w, r, err)
				return
			}
			ctx := logger.WithAttrs(WithKeyInfo(r.Context(), info), "key_name", info.Name)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func rejectKey(w http.ResponseWriter, r *http.Request, err error) {
	for _, rej := range rejections {
		if errors.Is(err, rej.kind) {
			writeError(w, http.StatusUnauthorized, rej.message)
			return
		}
	}
	logger.FromContext(r.Context()).Error("api key lookup failed", "error", err)
	writeError(w, http.StatusInternalServerError, "authentication error")
}

// RequireRoles rejects requests whose key holds none of roles.
func RequireRoles(roles ...apikey.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !GetKeyInfo(r.Context()).Has(roles...) {
				writeError(w, http.StatusForbidden, "this action requires one of the roles: "+joinRoles(roles))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithKeyInfo stores validated key metadata in ctx.
func WithKeyInfo(ctx context.Context, info *apikey.KeyInfo) context.Context {
	return context.WithValue(ctx, apiKeyInfoKey, info)
}

// GetKeyInfo retrieves the validated KeyInfo from the request context.
func GetKeyInfo(ctx context.Context) *apikey.KeyInfo {
	info, _ := ctx.Value(apiKeyInfoKey).(*apikey.KeyInfo)
	return info
}

func exempt(r *http.Request) bool {
	return strings.HasPrefix(r.URL.Path, "/health")
}

// keySources are tried in order; the first non-empty value is the key.
var keySources = []func(*http.Request) string{
	func(r *http.Request) string {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok {
			return ""
		}
		return token
	},
	func(r *http.Request) string { return r.Header.Get("X-API-Key") },
	func(r *http.Request) string { return r.URL.Query().Get("api_key") },
}

func extractAPIKey(r *http.Request) string {
	for _, source := range keySources {
		if key := source(r); key != "" {
			return key
		}
	}
	return ""
}

func joinRoles(roles []apikey.Role) string {
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = string(r)
	}
	return strings.Join(names, ", ")
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
