package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/casfos/registry/pkg/metrics"
)

// Metrics counts requests by method, path template and status, observes
// latency and tracks requests in flight. Record ids in the path are folded
// to ":id" to bound label cardinality.
func Metrics(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m.HTTPRequestsInFlight.Inc()
			defer m.HTTPRequestsInFlight.Dec()

			start := time.Now()
			rw := &recordingWriter{ResponseWriter: w}
			next.ServeHTTP(rw, r)

			path := normalizePath(r.URL.Path)
			m.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.Status())).Inc()
			m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

// recordingWriter remembers the first status written.
type recordingWriter struct {
	http.ResponseWriter
	status int
}

func (rw *recordingWriter) WriteHeader(code int) {
	if rw.status == 0 {
		rw.status = code
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *recordingWriter) Write(b []byte) (int, error) {
	if rw.status == 0 {
		rw.status = http.StatusOK
	}
	return rw.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *recordingWriter) Unwrap() http.ResponseWriter { return rw.ResponseWriter }

// Status is the written status, 200 if the handler wrote nothing.
func (rw *recordingWriter) Status() int {
	if rw.status == 0 {
		return http.StatusOK
	}
	return rw.status
}

func normalizePath(path string) string {
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		if isRecordID(seg) {
			segments[i] = ":id"
		}
	}
	return strings.Join(segments, "/")
}

// isRecordID matches backend ObjectIDs (24 hex digits), UUIDs and plain
// numeric ids. Taxonomy names and route words never match.
func isRecordID(seg string) bool {
	switch {
	case seg == "":
		return false
	case len(seg) == 24 && isHex(seg):
		return true
	case len(seg) == 36 && strings.Count(seg, "-") == 4 && isHex(strings.ReplaceAll(seg, "-", "")):
		return true
	default:
		_, err := strconv.ParseUint(seg, 10, 64)
		return err == nil
	}
}

func isHex(s string) bool {
	for _, r := range s {
		if !strings.ContainsRune("0123456789abcdefABCDEF", r) {
			return false
		}
	}
	return true
}
