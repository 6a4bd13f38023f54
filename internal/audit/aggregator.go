package audit

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/casfos/registry/internal/remotefilter"
	"github.com/casfos/registry/pkg/kafka"
	"github.com/casfos/registry/pkg/metrics"
)

// Stats is a point-in-time summary of everything the aggregator has seen.
type Stats struct {
	TotalReviews       int64            `json:"total_reviews"`
	ReviewsByAction    map[string]int64 `json:"reviews_by_action"`
	ReviewsByRole      map[string]int64 `json:"reviews_by_role"`
	ReviewFailures     int64            `json:"review_failures"`
	TotalFilters       int64            `json:"total_filters"`
	FiltersByMode      map[string]int64 `json:"filters_by_mode"`
	FiltersByState     map[string]int64 `json:"filters_by_state"`
	ZeroResultCount    int64            `json:"zero_result_count"`
	ZeroResultCriteria []CriteriaCount  `json:"zero_result_criteria"`
	TopCriteria        []CriteriaCount  `json:"top_criteria"`
	RecordChanges      int64            `json:"record_changes"`
	AvgLatencyMs       float64          `json:"avg_latency_ms"`
	P50LatencyMs       int64            `json:"p50_latency_ms"`
	P95LatencyMs       int64            `json:"p95_latency_ms"`
	P99LatencyMs       int64            `json:"p99_latency_ms"`
	FiltersPerMinute   float64          `json:"filters_per_minute"`
	CapturedAt         time.Time        `json:"captured_at"`
}

// CriteriaCount counts searches over one combination of criteria fields.
type CriteriaCount struct {
	Criteria string `json:"criteria"`
	Count    int64  `json:"count"`
}

// ReviewRecorder persists individual review events.
type ReviewRecorder interface {
	RecordReview(ctx context.Context, e ReviewEvent) error
}

// maxLatencySamples bounds the latency window used for percentiles.
const maxLatencySamples = 10000

type Aggregator struct {
	totalReviews  atomic.Int64
	reviewFails   atomic.Int64
	totalFilters  atomic.Int64
	zeroResults   atomic.Int64
	recordChanges atomic.Int64

	mu              sync.RWMutex
	reviewsByAction map[string]int64
	reviewsByRole   map[string]int64
	filtersByMode   map[string]int64
	filtersByState  map[string]int64
	criteriaCounts  map[string]int64
	zeroCriteria    map[string]int64
	latencies       []int64
	startTime       time.Time

	clock   clock.Clock
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// AggregatorOption configures an Aggregator.
type AggregatorOption func(*Aggregator)

// WithAggregatorClock replaces the wall clock used for rates and timestamps.
func WithAggregatorClock(c clock.Clock) AggregatorOption {
	return func(a *Aggregator) { a.clock = c }
}

// WithAggregatorMetrics counts consumed events by type.
func WithAggregatorMetrics(m *metrics.Metrics) AggregatorOption {
	return func(a *Aggregator) { a.metrics = m }
}

func NewAggregator(opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		reviewsByAction: make(map[string]int64),
		reviewsByRole:   make(map[string]int64),
		filtersByMode:   make(map[string]int64),
		filtersByState:  make(map[string]int64),
		criteriaCounts:  make(map[string]int64),
		zeroCriteria:    make(map[string]int64),
		latencies:       make([]int64, 0, 1024),
		clock:           clock.New(),
		metrics:         metrics.NewNop(),
		logger:          slog.Default().With("component", "audit-aggregator"),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.startTime = a.clock.Now()
	return a
}

// HandleEvent decodes one Kafka message and folds it into agg. Review events
// are also handed to rec when it is non-nil; a failure there is returned so
// the message is not committed. Undecodable messages match
// kafka.ErrMalformed and are skipped by the consumer.
func HandleEvent(agg *Aggregator, rec ReviewRecorder) kafka.MessageHandler {
	return func(ctx context.Context, _ []byte, value []byte) error {
		env, err := kafka.DecodeJSON[Envelope](value)
		if err != nil {
			return err
		}
		agg.metrics.AuditEventsTotal.WithLabelValues(string(env.Type)).Inc()

		switch env.Type {
		case EventReview:
			e, err := kafka.DecodeJSON[ReviewEvent](value)
			if err != nil {
				return err
			}
			agg.RecordReview(e)
			if rec != nil {
				return rec.RecordReview(ctx, e)
			}
		case EventFilter:
			e, err := kafka.DecodeJSON[FilterEvent](value)
			if err != nil {
				return err
			}
			agg.RecordFilter(e)
		case EventRecordChange:
			agg.recordChanges.Add(1)
		default:
			agg.logger.Warn("ignoring audit event of unknown type", "type", env.Type)
		}
		return nil
	}
}

// RecordReview folds a review event into the totals.
func (a *Aggregator) RecordReview(e ReviewEvent) {
	a.totalReviews.Add(1)
	if e.Outcome != "" && e.Outcome != OutcomeSuccess {
		a.reviewFails.Add(1)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.reviewsByAction[e.Action]++
	if len(e.Roles) == 0 {
		a.reviewsByRole["unknown"]++
	}
	for _, r := range e.Roles {
		a.reviewsByRole[r]++
	}
}

// RecordFilter folds a filter event into the totals.
func (a *Aggregator) RecordFilter(e FilterEvent) {
	a.totalFilters.Add(1)
	key := criteriaKey(e.Collection, e.Fields)
	zero := e.State == remotefilter.StateNoResults.String()
	if zero {
		a.zeroResults.Add(1)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.filtersByMode[e.Mode]++
	a.filtersByState[e.State]++
	a.criteriaCounts[key]++
	if zero {
		a.zeroCriteria[key]++
	}
	if len(a.latencies) >= maxLatencySamples {
		copy(a.latencies, a.latencies[1:])
		a.latencies = a.latencies[:len(a.latencies)-1]
	}
	a.latencies = append(a.latencies, e.LatencyMs)
}

// Stats returns a snapshot of the current totals.
func (a *Aggregator) Stats() Stats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	now := a.clock.Now()
	stats := Stats{
		TotalReviews:       a.totalReviews.Load(),
		ReviewsByAction:    copyCounts(a.reviewsByAction),
		ReviewsByRole:      copyCounts(a.reviewsByRole),
		ReviewFailures:     a.reviewFails.Load(),
		TotalFilters:       a.totalFilters.Load(),
		FiltersByMode:      copyCounts(a.filtersByMode),
		FiltersByState:     copyCounts(a.filtersByState),
		ZeroResultCount:    a.zeroResults.Load(),
		ZeroResultCriteria: topN(a.zeroCriteria, 10),
		TopCriteria:        topN(a.criteriaCounts, 10),
		RecordChanges:      a.recordChanges.Load(),
		CapturedAt:         now.UTC(),
	}
	if len(a.latencies) > 0 {
		sorted := make([]int64, len(a.latencies))
		copy(sorted, a.latencies)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		var sum int64
		for _, l := range sorted {
			sum += l
		}
		stats.AvgLatencyMs = float64(sum) / float64(len(sorted))
		stats.P50LatencyMs = percentile(sorted, 50)
		stats.P95LatencyMs = percentile(sorted, 95)
		stats.P99LatencyMs = percentile(sorted, 99)
	}
	if elapsed := now.Sub(a.startTime).Minutes(); elapsed > 0 {
		stats.FiltersPerMinute = float64(stats.TotalFilters) / elapsed
	}
	return stats
}

// criteriaKey names a combination of criteria fields, e.g.
// "faculty:majorDomains+name". A search with no criteria is "faculty:*".
func criteriaKey(collection string, fields []string) string {
	if len(fields) == 0 {
		return collection + ":*"
	}
	sorted := append([]string(nil), fields...)
	sort.Strings(sorted)
	return collection + ":" + strings.Join(sorted, "+")
}

func copyCounts(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func percentile(sorted []int64, pct int) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (pct * len(sorted)) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// topN returns the n largest counts, ties broken by name.
func topN(counts map[string]int64, n int) []CriteriaCount {
	result := make([]CriteriaCount, 0, len(counts))
	for criteria, count := range counts {
		result = append(result, CriteriaCount{Criteria: criteria, Count: count})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Criteria < result[j].Criteria
	})
	if len(result) > n {
		result = result[:n]
	}
	return result
}
