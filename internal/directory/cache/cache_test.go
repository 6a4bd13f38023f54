package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casfos/registry/internal/audit"
	"github.com/casfos/registry/internal/record"
	"github.com/casfos/registry/pkg/kafka"
	pkgredis "github.com/casfos/registry/pkg/redis"
)

const ttl = time.Minute

var faculty = []record.Doc{{"_id": "f1", "name": "Asha"}}

func encoded(t *testing.T, docs []record.Doc) []byte {
	t.Helper()
	data, err := json.Marshal(docs)
	require.NoError(t, err)
	return data
}

func TestGetOrLoadMissThenHit(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := New(pkgredis.Wrap(db), ttl, nil)
	ctx := context.Background()

	mock.ExpectGet("records:faculty").RedisNil()
	mock.ExpectSet("records:faculty", encoded(t, faculty), ttl).SetVal("OK")

	loads := 0
	load := func(context.Context) ([]record.Doc, error) {
		loads++
		return faculty, nil
	}
	docs, hit, err := c.GetOrLoad(ctx, ListFaculty, load)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, faculty, docs)

	mock.ExpectGet("records:faculty").SetVal(string(encoded(t, faculty)))
	docs, hit, err = c.GetOrLoad(ctx, ListFaculty, load)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "Asha", docs[0]["name"])
	assert.Equal(t, 1, loads)

	assert.Equal(t, Stats{Hits: 1, Misses: 1, HitRate: 0.5, Enabled: true}, c.Stats())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisErrorFallsBackToLoad(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := New(pkgredis.Wrap(db), ttl, nil)

	mock.ExpectGet("records:faculty").SetErr(errors.New("connection refused"))
	mock.ExpectSet("records:faculty", encoded(t, faculty), ttl).SetErr(errors.New("connection refused"))

	docs, hit, err := c.GetOrLoad(context.Background(), ListFaculty, func(context.Context) ([]record.Doc, error) {
		return faculty, nil
	})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Len(t, docs, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadErrorIsNotCached(t *testing.T) {
	c := New(nil, ttl, nil)
	boom := errors.New("backend down")
	_, _, err := c.GetOrLoad(context.Background(), ListFaculty, func(context.Context) ([]record.Doc, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestConcurrentLoadsAreCollapsed(t *testing.T) {
	c := New(nil, ttl, nil)
	var loads atomic.Int32
	release := make(chan struct{})
	load := func(context.Context) ([]record.Doc, error) {
		loads.Add(1)
		<-release
		return faculty, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			docs, _, err := c.GetOrLoad(context.Background(), ListFaculty, load)
			assert.NoError(t, err)
			assert.Len(t, docs, 1)
		}()
	}
	require.Eventually(t, func() bool { return loads.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	close(release)
	wg.Wait()
	assert.EqualValues(t, 1, loads.Load())
}

func TestCancelledCallerDoesNotFailSharedLoad(t *testing.T) {
	c := New(nil, ttl, nil)
	started := make(chan struct{})
	var once sync.Once
	release := make(chan struct{})
	load := func(ctx context.Context) ([]record.Doc, error) {
		once.Do(func() { close(started) })
		select {
		case <-release:
			return faculty, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, _, err := c.GetOrLoad(firstCtx, ListFaculty, load)
		firstErr <- err
	}()
	<-started

	type result struct {
		docs []record.Doc
		err  error
	}
	second := make(chan result, 1)
	go func() {
		docs, _, err := c.GetOrLoad(context.Background(), ListFaculty, load)
		second <- result{docs, err}
	}()

	cancelFirst()
	require.ErrorIs(t, <-firstErr, context.Canceled)

	close(release)
	res := <-second
	require.NoError(t, res.err)
	assert.Equal(t, faculty, res.docs)
}

func TestInvalidateCollection(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := New(pkgredis.Wrap(db), ttl, nil)

	mock.ExpectScan(0, "records:assets*", 100).SetVal([]string{"records:assets.permanent", "records:assets.consumable"}, 0)
	mock.ExpectDel("records:assets.permanent", "records:assets.consumable").SetVal(2)

	n, err := c.Invalidate(context.Background(), "assets", "manual")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChangeListenerCoalesces(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := New(pkgredis.Wrap(db), ttl, nil)
	clk := clock.NewMock()
	l := NewChangeListener(c, 500*time.Millisecond, clk)
	defer l.Close()

	for _, id := range []string{"f1", "f2", "f3"} {
		value, err := json.Marshal(audit.NewRecordChange("faculty", id, audit.ActionVerify))
		require.NoError(t, err)
		require.NoError(t, l.Handle(context.Background(), nil, value))
		clk.Add(100 * time.Millisecond)
	}
	require.ErrorIs(t, l.Handle(context.Background(), nil, []byte("garbage")), kafka.ErrMalformed)
	assert.Equal(t, 1, l.Pending())

	mock.ExpectScan(0, "records:faculty*", 100).SetVal([]string{"records:faculty"}, 0)
	mock.ExpectDel("records:faculty").SetVal(1)
	clk.Add(500 * time.Millisecond)

	require.Eventually(t, func() bool { return l.Pending() == 0 && mock.ExpectationsWereMet() == nil },
		time.Second, 5*time.Millisecond)
}
