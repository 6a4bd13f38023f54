package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunAggregatesWorstStatus(t *testing.T) {
	c := NewChecker()
	c.RegisterPing("backend", true, func(ctx context.Context) error { return nil })
	c.RegisterPing("redis", false, func(ctx context.Context) error { return errors.New("connection refused") })

	report := c.Run(context.Background())
	assert.Equal(t, StatusDegraded, report.Status)
	assert.Equal(t, StatusUp, report.Components["backend"].Status)
	assert.Equal(t, "connection refused", report.Components["redis"].Message)

	c.RegisterPing("postgres", true, nil)
	report = c.Run(context.Background())
	assert.Equal(t, StatusDown, report.Status)
	assert.Equal(t, "not configured", report.Components["postgres"].Message)
}

func TestReadyHandler(t *testing.T) {
	c := NewChecker()
	c.RegisterPing("backend", true, func(ctx context.Context) error { return errors.New("dial tcp: refused") })

	rec := httptest.NewRecorder()
	c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var report Report
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&report))
	assert.Equal(t, StatusDown, report.Status)
}

func TestSlowCheckReportsDown(t *testing.T) {
	c := NewChecker()
	release := make(chan struct{})
	defer close(release)
	c.Register("postgres", func(ctx context.Context) ComponentHealth {
		<-release
		return ComponentHealth{Status: StatusUp}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	report := c.Run(ctx)
	assert.Equal(t, StatusDown, report.Status)
	assert.NotEmpty(t, report.Components["postgres"].Message)
}

func TestEmptyCheckerIsUp(t *testing.T) {
	rec := httptest.NewRecorder()
	NewChecker().ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
