package middleware

import (
	"net/http"
	"slices"
	"strconv"
	"strings"
)

// CORSConfig lists what browsers on other origins may do.
type CORSConfig struct {
	AllowOrigins []string
	AllowMethods []string
	AllowHeaders []string
	MaxAge       int // seconds
}

// DefaultCORSConfig lets any origin read and edit the registry with an API
// key header.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Content-Type", "Authorization", "X-API-Key", "X-Request-ID"},
		MaxAge:       86400,
	}
}

func (c CORSConfig) allows(origin string) bool {
	return origin != "" && (slices.Contains(c.AllowOrigins, "*") || slices.Contains(c.AllowOrigins, origin))
}

// CORS echoes an allowed Origin back with the configured policy and
// answers preflight OPTIONS requests with 204. Other origins get no CORS
// headers at all.
func CORS(cfg CORSConfig) func(http.Handler) http.Handler {
	policy := http.Header{}
	policy.Set("Access-Control-Allow-Methods", strings.Join(cfg.AllowMethods, ", "))
	policy.Set("Access-Control-Allow-Headers", strings.Join(cfg.AllowHeaders, ", "))
	policy.Set("Access-Control-Max-Age", strconv.Itoa(cfg.MaxAge))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if !cfg.allows(origin) {
				next.ServeHTTP(w, r)
				return
			}
			h := w.Header()
			for name, values := range policy {
				h[name] = slices.Clone(values)
			}
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")

			if r.Method != http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		})
	}
}
