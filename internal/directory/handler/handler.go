// Package handler implements the directory service's HTTP endpoints:
// taxonomy, faculty and asset search in local or remote mode, detail views,
// review actions and cache administration.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/casfos/registry/internal/audit"
	"github.com/casfos/registry/internal/auth/apikey"
	"github.com/casfos/registry/internal/backend"
	"github.com/casfos/registry/internal/detail"
	"github.com/casfos/registry/internal/directory/cache"
	"github.com/casfos/registry/internal/filter"
	"github.com/casfos/registry/internal/listing"
	"github.com/casfos/registry/internal/record"
	"github.com/casfos/registry/internal/remotefilter"
	"github.com/casfos/registry/internal/review"
	apperrors "github.com/casfos/registry/pkg/errors"
	"github.com/casfos/registry/pkg/logger"
	"github.com/casfos/registry/pkg/metrics"
)

// Backend is the part of the records backend the directory reads from.
type Backend interface {
	AllFaculties(ctx context.Context) ([]record.Doc, error)
	FilterFaculties(ctx context.Context, p remotefilter.Payload) remotefilter.Outcome
	Faculty(ctx context.Context, id string) (record.Doc, error)
	AllAssets(ctx context.Context) ([]record.Doc, error)
	ReturnedForConditionChange(ctx context.Context, assetType, approved string) ([]record.Doc, error)
	Items(ctx context.Context, stage backend.Stage, q backend.ItemQuery) ([]record.Doc, error)
	UploadFile(ctx context.Context, name string, content io.Reader) (string, error)
}

// KeyAdmin manages API keys. apikey.Validator implements it.
type KeyAdmin interface {
	CreateKey(ctx context.Context, name string, roles []apikey.Role, rateLimit int, expiresAt *time.Time) (string, error)
	ListKeys(ctx context.Context) ([]apikey.KeyInfo, error)
}

// Tracker queues events for publishing.
type Tracker interface {
	Track(key string, event any)
}

// Config holds the directory's search and detail-view settings.
type Config struct {
	DefaultMode    listing.Mode
	SortLocale     string
	DetailMaxDepth int
	UploadsBase    string
	MaxUploadBytes int64
}

// Handler implements the directory's HTTP endpoints.
type Handler struct {
	cfg     Config
	backend Backend
	cache   *cache.RecordCache
	reviews *review.Service
	keys    KeyAdmin
	filters Tracker
	metrics *metrics.Metrics
	detail  detail.Options
	faculty map[listing.Mode]listing.Source[filter.FacultyCriteria]
	assets  listing.Source[filter.AssetCriteria]
	logger  *slog.Logger
}

// Deps are the collaborators of a Handler. Keys and Filters may be nil.
type Deps struct {
	Backend Backend
	Cache   *cache.RecordCache
	Reviews *review.Service
	Keys    KeyAdmin
	Filters Tracker
	Metrics *metrics.Metrics
}

// New builds a Handler.
func New(cfg Config, deps Deps) (*Handler, error) {
	if deps.Backend == nil || deps.Reviews == nil {
		return nil, errors.New("handler: backend and review service are required")
	}
	sorter, err := filter.NewSorter(cfg.SortLocale)
	if err != nil {
		return nil, err
	}
	if cfg.DefaultMode == "" {
		cfg.DefaultMode = listing.ModeLocal
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 10 << 20
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNop()
	}
	if deps.Cache == nil {
		deps.Cache = cache.New(nil, 0, deps.Metrics)
	}

	opts := detail.DefaultOptions(cfg.UploadsBase)
	if cfg.DetailMaxDepth > 0 {
		opts.MaxDepth = cfg.DetailMaxDepth
	}

	loadFaculty := deps.Cache.Loader(cache.ListFaculty, deps.Backend.AllFaculties)
	loadAssets := deps.Cache.Loader(cache.ListAssets, deps.Backend.AllAssets)

	h := &Handler{
		cfg:     cfg,
		backend: deps.Backend,
		cache:   deps.Cache,
		reviews: deps.Reviews,
		keys:    deps.Keys,
		filters: deps.Filters,
		metrics: deps.Metrics,
		detail:  opts,
		faculty: map[listing.Mode]listing.Source[filter.FacultyCriteria]{
			listing.ModeLocal: listing.LocalSource[filter.FacultyCriteria]{
				Load: listing.Loader(loadFaculty), Sorter: sorter, SortKey: filter.FacultySortKey,
			},
			listing.ModeRemote: listing.RemoteSource{
				Backend: deps.Backend, Load: listing.Loader(loadFaculty), Sorter: sorter, SortKey: filter.FacultySortKey,
			},
		},
		assets: listing.LocalSource[filter.AssetCriteria]{
			Load: listing.Loader(loadAssets), Sorter: sorter, SortKey: filter.AssetSortKey,
		},
		logger: slog.Default().With("component", "directory-handler"),
	}
	return h, nil
}

// Register mounts every API route on mux. guard wraps the handlers of
// role-restricted routes with a check for the given roles.
func (h *Handler) Register(mux *http.ServeMux, guard func(http.HandlerFunc, ...apikey.Role) http.Handler) {
	mux.HandleFunc("GET /api/v1/taxonomy", h.Taxonomy)
	mux.HandleFunc("GET /api/v1/taxonomy/{major}/minors", h.Minors)

	mux.HandleFunc("POST /api/v1/faculty/search", h.SearchFaculty)
	mux.HandleFunc("GET /api/v1/faculty", h.QueryFaculty)
	mux.HandleFunc("GET /api/v1/faculty/{id}/detail", h.FacultyDetail)

	mux.Handle("POST /api/v1/faculty/{id}/verify", guard(h.Verify, review.RolesFor(audit.ActionVerify)...))
	mux.Handle("POST /api/v1/faculty/{id}/reject", guard(h.Reject, review.RolesFor(audit.ActionReject)...))
	mux.Handle("POST /api/v1/faculty/{id}/notify", guard(h.Notify, review.RolesFor(audit.ActionNotify)...))
	mux.Handle("DELETE /api/v1/faculty/{id}", guard(h.Delete, review.RolesFor(audit.ActionDelete)...))

	mux.HandleFunc("POST /api/v1/assets/search", h.SearchAssets)
	mux.HandleFunc("GET /api/v1/assets/returns", h.Returns)
	mux.Handle("POST /api/v1/assets/returns/{id}/condition", guard(h.UpdateCondition, review.RolesFor(audit.ActionConditionUpdate)...))
	mux.HandleFunc("GET /api/v1/assets/stock/{stage}", h.Stock)
	mux.Handle("PUT /api/v1/assets/{type}/{id}", guard(h.UpdateAsset, review.RolesFor(audit.ActionAssetUpdate)...))
	mux.Handle("POST /api/v1/uploads", guard(h.Upload, apikey.RoleDataEntry))

	mux.Handle("GET /api/v1/cache/stats", guard(h.CacheStats, apikey.RolePrincipal))
	mux.Handle("POST /api/v1/cache/invalidate", guard(h.CacheInvalidate, apikey.RolePrincipal))

	mux.Handle("POST /api/v1/admin/keys", guard(h.CreateAPIKey, apikey.RolePrincipal))
	mux.Handle("GET /api/v1/admin/keys", guard(h.ListAPIKeys, apikey.RolePrincipal))
}

// decode reads a JSON body into dst. An empty body leaves dst unchanged.
func decode(r *http.Request, dst any) error {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "invalid JSON body: %v", err)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// writeErr maps err onto a status code and user-facing message. Validation
// errors carry their per-field messages.
func (h *Handler) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	if status >= http.StatusInternalServerError {
		logger.FromContext(r.Context()).Error("request failed", "path", r.URL.Path, "error", err)
	}

	var verr *review.ValidationError
	if errors.As(err, &verr) {
		h.writeJSON(w, status, map[string]any{"error": "validation failed", "fields": verr.Fields})
		return
	}
	h.writeError(w, status, apperrors.Message(err, userMessage(err)))
}

func userMessage(err error) string {
	switch {
	case errors.Is(err, apperrors.ErrRecordNotFound):
		return "record not found"
	case errors.Is(err, apperrors.ErrUpstreamUnavailable), errors.Is(err, apperrors.ErrTimeout):
		return remotefilter.MessageRequestFailed
	case errors.Is(err, apperrors.ErrInvalidInput):
		return err.Error()
	default:
		return "internal error"
	}
}
