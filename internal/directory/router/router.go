// Package router wires up the directory routes and applies the middleware
// chain (RequestID → Metrics → CORS → Auth → RateLimit → Timeout).
package router

import (
	"net/http"
	"time"

	"github.com/casfos/registry/internal/auth/apikey"
	"github.com/casfos/registry/internal/directory/handler"
	dirmw "github.com/casfos/registry/internal/directory/middleware"
	"github.com/casfos/registry/pkg/health"
	"github.com/casfos/registry/pkg/metrics"
	pkgmw "github.com/casfos/registry/pkg/middleware"
)

// Options configures the middleware chain.
type Options struct {
	Validator      dirmw.KeyValidator
	Limiter        dirmw.Limiter
	RateWindow     time.Duration
	RequestTimeout time.Duration
	CORS           dirmw.CORSConfig
	Metrics        *metrics.Metrics
	Health         *health.Checker
}

// New builds the directory's HTTP handler.
//
// Route table (role in brackets where restricted):
//
//	GET    /health/live, /health/ready
//	GET    /api/v1/taxonomy
//	GET    /api/v1/taxonomy/{major}/minors
//	POST   /api/v1/faculty/search?mode=local|remote
//	GET    /api/v1/faculty?q=...&mode=...
//	GET    /api/v1/faculty/{id}/detail
//	POST   /api/v1/faculty/{id}/verify             [verifier]
//	POST   /api/v1/faculty/{id}/reject             [verifier]
//	POST   /api/v1/faculty/{id}/notify             [hoo, principal]
//	DELETE /api/v1/faculty/{id}                    [hoo, principal]
//	POST   /api/v1/assets/search
//	GET    /api/v1/assets/returns
//	POST   /api/v1/assets/returns/{id}/condition   [hoo, principal, dataentry]
//	GET    /api/v1/assets/stock/{stage}
//	POST   /api/v1/uploads                         [dataentry]
//	GET    /api/v1/cache/stats                     [principal]
//	POST   /api/v1/cache/invalidate                [principal]
//	GET    /api/v1/admin/keys, POST /api/v1/admin/keys [principal]
func New(h *handler.Handler, opts Options) http.Handler {
	mux := http.NewServeMux()

	if opts.Health != nil {
		mux.HandleFunc("GET /health/live", opts.Health.LiveHandler())
		mux.HandleFunc("GET /health/ready", opts.Health.ReadyHandler())
	}
	h.Register(mux, guard)

	var chain http.Handler = mux
	if opts.RequestTimeout > 0 {
		chain = pkgmw.Timeout(opts.RequestTimeout)(chain)
	}
	if opts.Limiter != nil {
		chain = dirmw.RateLimit(opts.Limiter, opts.RateWindow)(chain)
	}
	if opts.Validator != nil {
		chain = dirmw.Auth(opts.Validator)(chain)
	}
	chain = dirmw.CORS(opts.CORS)(chain)
	if opts.Metrics != nil {
		chain = pkgmw.Metrics(opts.Metrics)(chain)
	}
	chain = pkgmw.RequestID(chain)

	return chain
}

func guard(fn http.HandlerFunc, roles ...apikey.Role) http.Handler {
	return dirmw.RequireRoles(roles...)(fn)
}
