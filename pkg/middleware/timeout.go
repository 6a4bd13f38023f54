package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/casfos/registry/pkg/logger"
)

const timeoutBody = `{"error":"request timeout"}`

// Timeout gives each request a deadline. A handler that has not started its
// response by then loses the writer and the client gets 504; one that has
// started is left to finish against the cancelled context.
func Timeout(limit time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), limit)
			defer cancel()

			gw := &guardedWriter{ResponseWriter: w, header: http.Header{}}
			finished := make(chan struct{})
			go func() {
				defer close(finished)
				next.ServeHTTP(gw, r.WithContext(ctx))
			}()

			select {
			case <-finished:
				return
			case <-ctx.Done():
			}
			if !gw.expire() {
				<-finished
				return
			}
			logger.FromContext(r.Context()).Warn("request timed out", "method", r.Method, "path", r.URL.Path, "timeout", limit)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusGatewayTimeout)
			_, _ = w.Write([]byte(timeoutBody))
		})
	}
}

type writerState int

const (
	stateIdle writerState = iota
	stateWriting
	stateExpired
)

// guardedWriter hands the response to whichever of the handler and the
// deadline gets there first. The handler edits a private header map that is
// copied to the real writer only when the handler wins.
type guardedWriter struct {
	http.ResponseWriter
	header http.Header
	mu     sync.Mutex
	state  writerState
}

func (g *guardedWriter) Header() http.Header { return g.header }

// claim must be called with mu held. It reports whether the handler still
// owns the response.
func (g *guardedWriter) claim() bool {
	switch g.state {
	case stateExpired:
		return false
	case stateIdle:
		dst := g.ResponseWriter.Header()
		for name, values := range g.header {
			dst[name] = values
		}
		g.state = stateWriting
	}
	return true
}

// expire takes the writer away from the handler if it is still idle.
func (g *guardedWriter) expire() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != stateIdle {
		return false
	}
	g.state = stateExpired
	return true
}

func (g *guardedWriter) WriteHeader(code int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.claim() {
		g.ResponseWriter.WriteHeader(code)
	}
}

func (g *guardedWriter) Write(b []byte) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.claim() {
		return 0, http.ErrHandlerTimeout
	}
	return g.ResponseWriter.Write(b)
}
