package audit_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/casfos/registry/internal/audit"
	"github.com/casfos/registry/pkg/kafka"
	"github.com/casfos/registry/pkg/metrics"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestAggregatorStats(t *testing.T) {
	mock := clock.NewMock()
	agg := audit.NewAggregator(audit.WithAggregatorClock(mock))

	agg.RecordReview(audit.ReviewEvent{Action: audit.ActionVerify, Roles: []string{"verifier"}, Outcome: audit.OutcomeSuccess})
	agg.RecordReview(audit.ReviewEvent{Action: audit.ActionReject, Roles: []string{"verifier"}, Outcome: audit.OutcomeRejected})
	agg.RecordReview(audit.ReviewEvent{Action: audit.ActionDelete, Roles: []string{"hoo", "principal"}})

	for _, lat := range []int64{10, 20, 30, 40} {
		agg.RecordFilter(audit.FilterEvent{Collection: "faculty", Mode: "local", State: "results", Fields: []string{"name", "status"}, LatencyMs: lat})
	}
	agg.RecordFilter(audit.FilterEvent{Collection: "faculty", Mode: "remote", State: "no_results", Fields: []string{"status", "name"}, LatencyMs: 100})
	agg.RecordFilter(audit.FilterEvent{Collection: "faculty", Mode: "remote", State: "no_results"})

	mock.Add(2 * time.Minute)
	stats := agg.Stats()

	assert.EqualValues(t, 3, stats.TotalReviews)
	assert.EqualValues(t, 1, stats.ReviewFailures)
	assert.Equal(t, map[string]int64{"verify": 1, "reject": 1, "delete": 1}, stats.ReviewsByAction)
	assert.Equal(t, map[string]int64{"verifier": 2, "hoo": 1, "principal": 1}, stats.ReviewsByRole)

	assert.EqualValues(t, 6, stats.TotalFilters)
	assert.Equal(t, map[string]int64{"local": 4, "remote": 2}, stats.FiltersByMode)
	assert.EqualValues(t, 2, stats.ZeroResultCount)
	require.Len(t, stats.ZeroResultCriteria, 2)
	assert.Equal(t, audit.CriteriaCount{Criteria: "faculty:*", Count: 1}, stats.ZeroResultCriteria[0])
	assert.Equal(t, audit.CriteriaCount{Criteria: "faculty:name+status", Count: 5}, stats.TopCriteria[0])

	assert.EqualValues(t, 30, stats.P50LatencyMs)
	assert.EqualValues(t, 100, stats.P99LatencyMs)
	assert.InDelta(t, 3.0, stats.FiltersPerMinute, 0.001)
}

type recorder struct {
	got []audit.ReviewEvent
	err error
}

func (r *recorder) RecordReview(_ context.Context, e audit.ReviewEvent) error {
	r.got = append(r.got, e)
	return r.err
}

func TestHandleEventDispatchesOnType(t *testing.T) {
	m := metrics.NewNop()
	agg := audit.NewAggregator(audit.WithAggregatorMetrics(m))
	rec := &recorder{}
	handle := audit.HandleEvent(agg, rec)
	ctx := context.Background()

	review, _ := json.Marshal(audit.NewReviewEvent(audit.ActionVerify, "faculty", "f1"))
	filter, _ := json.Marshal(audit.FilterEvent{Type: audit.EventFilter, Mode: "local", State: "results"})
	change, _ := json.Marshal(audit.NewRecordChange("faculty", "f1", audit.ActionVerify))

	require.NoError(t, handle(ctx, nil, review))
	require.NoError(t, handle(ctx, nil, filter))
	require.NoError(t, handle(ctx, nil, change))
	require.ErrorIs(t, handle(ctx, nil, []byte("not json")), kafka.ErrMalformed, "undecodable messages are skipped")
	require.NoError(t, handle(ctx, nil, []byte(`{"type":"mystery"}`)))

	stats := agg.Stats()
	assert.EqualValues(t, 1, stats.TotalReviews)
	assert.EqualValues(t, 1, stats.TotalFilters)
	assert.EqualValues(t, 1, stats.RecordChanges)
	require.Len(t, rec.got, 1)
	assert.Equal(t, "f1", rec.got[0].RecordID)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuditEventsTotal.WithLabelValues("review")))

	rec.err = errors.New("db down")
	assert.Error(t, handle(ctx, nil, review), "persistence failures keep the message uncommitted")
}

type memPublisher struct {
	mu     sync.Mutex
	events []kafka.Event
	seen   chan struct{}
}

func (p *memPublisher) Publish(_ context.Context, e kafka.Event) error {
	p.mu.Lock()
	p.events = append(p.events, e)
	p.mu.Unlock()
	if p.seen != nil {
		p.seen <- struct{}{}
	}
	return nil
}

func (p *memPublisher) keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		out = append(out, e.Key)
	}
	return out
}

func TestCollectorPublishesInOrder(t *testing.T) {
	pub := &memPublisher{}
	c := audit.NewCollector(pub, 10, nil)
	c.Start(context.Background())

	c.Track("a", audit.NewReviewEvent(audit.ActionVerify, "faculty", "a"))
	c.Track("b", audit.NewReviewEvent(audit.ActionNotify, "faculty", "b"))
	c.Close()
	c.Track("c", "ignored after close")

	assert.Equal(t, []string{"a", "b"}, pub.keys())
}

func TestCollectorDropsWhenFull(t *testing.T) {
	pub := &memPublisher{seen: make(chan struct{})}
	m := metrics.NewNop()
	c := audit.NewCollector(pub, 1, m)
	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx)

	c.Track("first", 1)
	// The loop is now blocked handing "first" to the publisher.
	require.Eventually(t, func() bool {
		c.Track("second", 2)
		c.Track("third", 3)
		return testutil.ToFloat64(m.AuditEventsDroppedTotal) >= 1
	}, time.Second, time.Millisecond)

	go func() {
		for range pub.seen {
		}
	}()
	cancel()
	c.Close()
	close(pub.seen)
}

type memHistory struct{}

func (memHistory) Reviews(_ context.Context, recordID string, limit int) ([]audit.ReviewEvent, error) {
	return []audit.ReviewEvent{{RecordID: recordID, Action: audit.ActionVerify}}, nil
}

func (memHistory) ListSnapshots(_ context.Context, limit int) ([]audit.Stats, error) {
	return make([]audit.Stats, limit), nil
}

func TestHandler(t *testing.T) {
	agg := audit.NewAggregator()
	agg.RecordReview(audit.ReviewEvent{Action: audit.ActionVerify})
	mux := http.NewServeMux()
	audit.NewHandler(agg, memHistory{}).Register(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/audit/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var stats audit.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.EqualValues(t, 1, stats.TotalReviews)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/audit/reviews?record=f9", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"record_id":"f9"`)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/audit/snapshots?limit=3", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":3`)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/audit/snapshots?limit=0", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	noHistory := http.NewServeMux()
	audit.NewHandler(agg, nil).Register(noHistory)
	rec = httptest.NewRecorder()
	noHistory.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/audit/reviews", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
