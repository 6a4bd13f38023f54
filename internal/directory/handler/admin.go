package handler

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/casfos/registry/internal/auth/apikey"
)

const defaultKeyRateLimit = 100

// CacheStats reports record cache hits and misses.
func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.cache.Stats())
}

// CacheInvalidate drops cached lists of ?collection=, or all of them.
func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	collection := r.URL.Query().Get("collection")
	switch collection {
	case "", collectionFaculty, collectionAssets:
	default:
		h.writeError(w, http.StatusBadRequest, "collection must be faculty or assets")
		return
	}
	deleted, err := h.cache.Invalidate(r.Context(), collection, "manual")
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"status": "invalidated", "keys_deleted": deleted})
}

type keyRequest struct {
	Name      string   `json:"name" validate:"required,max=100"`
	Roles     []string `json:"roles" validate:"required,min=1"`
	RateLimit int      `json:"rate_limit" validate:"gte=0"`
	ExpiresIn string   `json:"expires_in,omitempty"`
}

var (
	keyRequestOnce      sync.Once
	keyRequestValidator *validator.Validate
)

// check validates the request and resolves its roles and expiry.
func (req *keyRequest) check(now time.Time) ([]apikey.Role, *time.Time, error) {
	keyRequestOnce.Do(func() { keyRequestValidator = validator.New() })
	if err := keyRequestValidator.Struct(req); err != nil {
		var fields validator.ValidationErrors
		if errors.As(err, &fields) && len(fields) > 0 {
			return nil, nil, fmt.Errorf("%s is invalid (%s)", fields[0].Field(), fields[0].Tag())
		}
		return nil, nil, err
	}

	roles := make([]apikey.Role, len(req.Roles))
	for i, name := range req.Roles {
		role, err := apikey.ParseRole(name)
		if err != nil {
			return nil, nil, err
		}
		roles[i] = role
	}

	if req.ExpiresIn == "" {
		return roles, nil, nil
	}
	ttl, err := time.ParseDuration(req.ExpiresIn)
	if err != nil || ttl <= 0 {
		return nil, nil, errors.New("invalid expires_in duration")
	}
	expiresAt := now.Add(ttl)
	return roles, &expiresAt, nil
}

// CreateAPIKey issues a key and returns the raw value. It is never shown
// again.
func (h *Handler) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	if h.keys == nil {
		h.writeError(w, http.StatusServiceUnavailable, "key administration is not configured")
		return
	}
	var req keyRequest
	if err := decode(r, &req); err != nil {
		h.writeErr(w, r, err)
		return
	}
	roles, expiresAt, err := req.check(time.Now())
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.RateLimit == 0 {
		req.RateLimit = defaultKeyRateLimit
	}

	key, err := h.keys.CreateKey(r.Context(), req.Name, roles, req.RateLimit, expiresAt)
	if err != nil {
		h.logger.Error("creating api key", "name", req.Name, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to create api key")
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]any{
		"api_key": key,
		"name":    req.Name,
		"roles":   roles,
		"message": "store this key now; it cannot be retrieved later",
	})
}

// ListAPIKeys returns the active keys' metadata.
func (h *Handler) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	if h.keys == nil {
		h.writeError(w, http.StatusServiceUnavailable, "key administration is not configured")
		return
	}
	keys, err := h.keys.ListKeys(r.Context())
	if err != nil {
		h.logger.Error("listing api keys", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list api keys")
		return
	}
	if keys == nil {
		keys = []apikey.KeyInfo{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"keys": keys, "count": len(keys)})
}
