package collector

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/casfos/registry/pkg/kafka"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type batchRecorder struct {
	mu      sync.Mutex
	batches [][]kafka.Event
	fail    bool
	flushed chan int
}

func newBatchRecorder() *batchRecorder {
	return &batchRecorder{flushed: make(chan int, 16)}
}

func (r *batchRecorder) PublishBatch(_ context.Context, events []kafka.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		r.flushed <- 0
		return errors.New("broker unavailable")
	}
	r.batches = append(r.batches, events)
	r.flushed <- len(events)
	return nil
}

func (r *batchRecorder) setFail(v bool) {
	r.mu.Lock()
	r.fail = v
	r.mu.Unlock()
}

func waitFlush(t *testing.T, r *batchRecorder) int {
	t.Helper()
	select {
	case n := <-r.flushed:
		return n
	case <-time.After(time.Second):
		t.Fatal("no flush")
		return 0
	}
}

func TestFlushOnBatchSize(t *testing.T) {
	rec := newBatchRecorder()
	bc := NewBatchCollector(rec, 3, time.Hour, WithClock(clock.NewMock()))
	ctx, cancel := context.WithCancel(context.Background())
	bc.Start(ctx)

	bc.Track("a", 1)
	bc.Track("b", 2)
	assert.Equal(t, 2, bc.BufferLen())
	bc.Track("c", 3)
	assert.Equal(t, 3, waitFlush(t, rec))

	cancel()
	bc.Close()
}

func TestFlushOnInterval(t *testing.T) {
	mock := clock.NewMock()
	rec := newBatchRecorder()
	bc := NewBatchCollector(rec, 100, 5*time.Second, WithClock(mock))
	ctx, cancel := context.WithCancel(context.Background())
	bc.Start(ctx)

	bc.Track("a", 1)
	mock.Add(5 * time.Second)
	assert.Equal(t, 1, waitFlush(t, rec))
	assert.Equal(t, 0, bc.BufferLen())

	cancel()
	bc.Close()
}

func TestFinalFlushOnCancel(t *testing.T) {
	rec := newBatchRecorder()
	bc := NewBatchCollector(rec, 100, time.Hour, WithClock(clock.NewMock()))
	ctx, cancel := context.WithCancel(context.Background())
	bc.Start(ctx)

	bc.Track("a", 1)
	bc.Track("b", 2)
	cancel()
	bc.Close()
	assert.Equal(t, 2, waitFlush(t, rec))
}

func TestFailedBatchIsRequeuedAndBounded(t *testing.T) {
	rec := newBatchRecorder()
	rec.setFail(true)
	bc := NewBatchCollector(rec, 2, time.Hour, WithClock(clock.NewMock()))

	for i := 0; i < 8; i++ {
		bc.buffer = append(bc.buffer, kafka.Event{Key: "k", Value: i})
	}
	bc.flush(context.Background())
	require.Equal(t, 0, waitFlush(t, rec))
	require.Equal(t, 6, bc.BufferLen())
	assert.Equal(t, 2, bc.buffer[0].Value, "oldest events are dropped first")

	rec.setFail(false)
	bc.flush(context.Background())
	assert.Equal(t, 6, waitFlush(t, rec))
	assert.Equal(t, 0, bc.BufferLen())
}
