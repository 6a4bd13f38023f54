// Package cache keeps the backend's full record lists in Redis so local-mode
// searches do not refetch them on every keystroke.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/casfos/registry/internal/record"
	"github.com/casfos/registry/pkg/metrics"
	pkgredis "github.com/casfos/registry/pkg/redis"
)

const keyPrefix = "records:"

// sharedLoadLimit bounds a load that no single request owns.
const sharedLoadLimit = 30 * time.Second

// List names. A list's collection is the part before the first dot.
const (
	ListFaculty = "faculty"
	ListAssets  = "assets.all"
)

// Loader fetches a full list from the backend.
type Loader func(ctx context.Context) ([]record.Doc, error)

// Stats reports cache effectiveness since start.
type Stats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
	Enabled bool    `json:"enabled"`
}

// RecordCache stores record lists as JSON under records:<list>. With a nil
// Redis client it only collapses concurrent loads.
type RecordCache struct {
	client  *pkgredis.Client
	ttl     time.Duration
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

func New(client *pkgredis.Client, ttl time.Duration, m *metrics.Metrics) *RecordCache {
	if m == nil {
		m = metrics.NewNop()
	}
	return &RecordCache{
		client:  client,
		ttl:     ttl,
		metrics: m,
		logger:  slog.Default().With("component", "record-cache"),
	}
}

// Get returns the cached list, if any. Redis errors count as misses.
func (c *RecordCache) Get(ctx context.Context, list string) ([]record.Doc, bool) {
	if c.client == nil {
		c.miss()
		return nil, false
	}
	var docs []record.Doc
	found, err := c.client.GetJSON(ctx, key(list), &docs)
	if err != nil {
		c.logger.Error("cache get failed", "list", list, "error", err)
	}
	if !found || err != nil {
		c.miss()
		return nil, false
	}
	c.hits.Add(1)
	c.metrics.CacheHitsTotal.Inc()
	return docs, true
}

// Set stores docs for list. Failures are logged and otherwise ignored.
func (c *RecordCache) Set(ctx context.Context, list string, docs []record.Doc) {
	if c.client == nil {
		return
	}
	if err := c.client.SetJSON(ctx, key(list), docs, c.ttl); err != nil {
		c.logger.Error("cache set failed", "list", list, "error", err)
	}
}

// GetOrLoad returns the cached list or loads it once for all concurrent
// callers. hit reports whether the list came from Redis. The shared load is
// detached from any one caller's cancellation and bounded by sharedLoadLimit;
// a cancelled caller stops waiting without failing the others.
func (c *RecordCache) GetOrLoad(ctx context.Context, list string, load Loader) (docs []record.Doc, hit bool, err error) {
	if docs, ok := c.Get(ctx, list); ok {
		return docs, true, nil
	}
	flight := c.group.DoChan(list, func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedLoadLimit)
		defer cancel()
		docs, err := load(loadCtx)
		if err != nil {
			return nil, err
		}
		c.Set(loadCtx, list, docs)
		return docs, nil
	})
	select {
	case <-ctx.Done():
		return nil, false, context.Cause(ctx)
	case res := <-flight:
		if res.Err != nil {
			return nil, false, res.Err
		}
		return res.Val.([]record.Doc), false, nil
	}
}

// Loader wraps load so every call goes through GetOrLoad.
func (c *RecordCache) Loader(list string, load Loader) Loader {
	return func(ctx context.Context) ([]record.Doc, error) {
		docs, _, err := c.GetOrLoad(ctx, list, load)
		return docs, err
	}
}

// Invalidate drops every list of collection, or all lists when collection
// is empty. trigger labels the metric, e.g. "manual" or "change_event".
func (c *RecordCache) Invalidate(ctx context.Context, collection, trigger string) (int64, error) {
	c.metrics.CacheInvalidations.WithLabelValues(trigger).Inc()
	if c.client == nil {
		return 0, nil
	}
	deleted, err := c.client.FlushByPattern(ctx, keyPrefix+collection+"*")
	if err != nil {
		return deleted, fmt.Errorf("invalidating %q: %w", collection, err)
	}
	c.logger.Info("cache invalidate", "collection", collection, "trigger", trigger, "keys_deleted", deleted)
	return deleted, nil
}

// Stats returns hit and miss counts.
func (c *RecordCache) Stats() Stats {
	s := Stats{Hits: c.hits.Load(), Misses: c.misses.Load(), Enabled: c.client != nil}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}

func (c *RecordCache) miss() {
	c.misses.Add(1)
	c.metrics.CacheMissesTotal.Inc()
}

func key(list string) string {
	return keyPrefix + list
}
