// Package backend is the HTTP client for the CASFOS records backend. Every
// call goes through a circuit breaker, is timed into Prometheus, and maps
// failures onto the sentinel errors of pkg/errors: unreachable backends and
// undecodable replies become ErrUpstreamUnavailable, replies carrying
// success:false become ErrUpstreamRejected.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/casfos/registry/pkg/config"
	apperrors "github.com/casfos/registry/pkg/errors"
	"github.com/casfos/registry/pkg/logger"
	"github.com/casfos/registry/pkg/metrics"
	"github.com/casfos/registry/pkg/resilience"
	"github.com/casfos/registry/pkg/tracing"
)

// ErrConnectivity marks failures where no connection to the backend could
// be made at all, as opposed to a request that failed once connected.
var ErrConnectivity = errors.New("cannot connect to records backend")

const maxResponseBytes = 32 << 20

// Client talks to the records backend.
type Client struct {
	base    string
	http    *http.Client
	breaker *resilience.CircuitBreaker
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(c *Client) { c.breaker = cb }
}

// New builds a Client for cfg.BaseURL(). m may be nil.
func New(cfg config.BackendConfig, m *metrics.Metrics, opts ...Option) *Client {
	if m == nil {
		m = metrics.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &Client{
		base:    strings.TrimRight(cfg.BaseURL(), "/"),
		http:    &http.Client{Timeout: timeout},
		metrics: m,
		logger:  slog.Default().With("component", "backend-client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.breaker == nil {
		c.breaker = resilience.NewCircuitBreaker("records-backend", resilience.CircuitBreakerConfig{
			FailureThreshold: 5,
			ResetTimeout:     15 * time.Second,
			OnStateChange: func(name string, to resilience.State) {
				m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			},
		})
	}
	return c
}

// BaseURL returns the backend root the client was built for.
func (c *Client) BaseURL() string { return c.base }

// Ping checks that the backend answers HTTP at all. Any status counts.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.base+"/", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return classifyTransport(err)
	}
	resp.Body.Close()
	return nil
}

type request struct {
	op          string
	method      string
	path        string
	query       url.Values
	body        any
	contentType string
	raw         io.Reader
}

// do runs one request and returns the response body of a 2xx reply.
func (c *Client) do(ctx context.Context, r request) ([]byte, error) {
	ctx, span := tracing.Start(ctx, "backend."+r.op)
	defer span.End()

	start := time.Now()
	var out []byte
	err := c.breaker.Execute(func() error {
		var err error
		out, err = c.roundTrip(ctx, r)
		return err
	}, countsAsFailure)
	if errors.Is(err, resilience.ErrCircuitOpen) {
		err = fmt.Errorf("%w: %w", apperrors.ErrUpstreamUnavailable, err)
	}

	c.metrics.UpstreamLatency.WithLabelValues(r.op).Observe(time.Since(start).Seconds())
	c.metrics.UpstreamRequestsTotal.WithLabelValues(r.op, outcomeLabel(err)).Inc()

	if err != nil {
		span.SetError(err)
		log := logger.FromContext(ctx).With("component", "backend-client")
		attrs := []any{
			"op", r.op,
			"method", r.method,
			"path", r.path,
			"connectivity", errors.Is(err, ErrConnectivity),
			"error", err,
		}
		if errors.Is(err, apperrors.ErrUpstreamUnavailable) || errors.Is(err, apperrors.ErrTimeout) {
			log.Error("backend request failed", attrs...)
		} else {
			log.Warn("backend request unsuccessful", attrs...)
		}
		return nil, err
	}
	return out, nil
}

func (c *Client) roundTrip(ctx context.Context, r request) ([]byte, error) {
	u := c.base + r.path
	if len(r.query) > 0 {
		u += "?" + r.query.Encode()
	}

	body := r.raw
	contentType := r.contentType
	if r.body != nil {
		data, err := json.Marshal(r.body)
		if err != nil {
			return nil, fmt.Errorf("encoding %s request: %w", r.op, err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, r.method, u, body)
	if err != nil {
		return nil, fmt.Errorf("building %s request: %w", r.op, err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if id := logger.RequestID(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyTransport(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s response: %w", apperrors.ErrUpstreamUnavailable, r.op, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, apperrors.New(apperrors.ErrRecordNotFound, http.StatusNotFound, messageOf(data, "record not found"))
	case resp.StatusCode >= 500:
		return nil, apperrors.Newf(apperrors.ErrUpstreamUnavailable, http.StatusBadGateway,
			"backend returned %d: %s", resp.StatusCode, messageOf(data, http.StatusText(resp.StatusCode)))
	case resp.StatusCode >= 400:
		return nil, apperrors.New(apperrors.ErrUpstreamRejected, http.StatusUnprocessableEntity,
			messageOf(data, http.StatusText(resp.StatusCode)))
	}
	return data, nil
}

// countsAsFailure limits breaker trips to backend health problems; a
// rejected request or a cancelled caller says nothing about the backend.
func countsAsFailure(err error) bool {
	return errors.Is(err, apperrors.ErrUpstreamUnavailable) || errors.Is(err, apperrors.ErrTimeout)
}

func classifyTransport(err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, context.DeadlineExceeded), isTimeout(err):
		return fmt.Errorf("%w: %w", apperrors.ErrTimeout, err)
	case isConnectivity(err):
		return fmt.Errorf("%w: %w: %w", apperrors.ErrUpstreamUnavailable, ErrConnectivity, err)
	default:
		return fmt.Errorf("%w: %w", apperrors.ErrUpstreamUnavailable, err)
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func isConnectivity(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EHOSTUNREACH) || errors.Is(err, syscall.ENETUNREACH) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrConnectivity):
		return "connectivity"
	case errors.Is(err, apperrors.ErrTimeout):
		return "timeout"
	case errors.Is(err, apperrors.ErrRecordNotFound):
		return "not_found"
	case errors.Is(err, apperrors.ErrUpstreamRejected):
		return "rejected"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}

// messageOf extracts a human message from a JSON error body.
func messageOf(data []byte, fallback string) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(data, &body) == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	return fallback
}

// checkAck inspects the reply of a mutating call. A body of the form
// {"success": false, "message": "..."} is a backend-reported failure.
func checkAck(data []byte) error {
	var ack struct {
		Success *bool  `json:"success"`
		Message string `json:"message"`
	}
	if len(bytes.TrimSpace(data)) == 0 || json.Unmarshal(data, &ack) != nil {
		return nil
	}
	if ack.Success != nil && !*ack.Success {
		return apperrors.New(apperrors.ErrUpstreamRejected, http.StatusUnprocessableEntity, messageOf(data, "request was not successful"))
	}
	return nil
}
