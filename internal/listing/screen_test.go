package listing_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/casfos/registry/internal/filter"
	"github.com/casfos/registry/internal/listing"
	"github.com/casfos/registry/internal/record"
	"github.com/casfos/registry/internal/remotefilter"
	"github.com/casfos/registry/pkg/metrics"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// gatedSource answers each search only when the test releases it.
type gatedSource struct {
	mu      sync.Mutex
	gates   map[string]chan remotefilter.Outcome
	started chan string
}

func newGatedSource() *gatedSource {
	return &gatedSource{gates: make(map[string]chan remotefilter.Outcome), started: make(chan string, 8)}
}

func (g *gatedSource) gate(name string) chan remotefilter.Outcome {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch, ok := g.gates[name]
	if !ok {
		ch = make(chan remotefilter.Outcome, 1)
		g.gates[name] = ch
	}
	return ch
}

func (g *gatedSource) Mode() listing.Mode { return listing.ModeRemote }

func (g *gatedSource) Search(_ context.Context, c filter.FacultyCriteria) remotefilter.Outcome {
	ch := g.gate(c.Name)
	g.started <- c.Name
	return <-ch
}

func outcomeNamed(name string) remotefilter.Outcome {
	return remotefilter.FromRecords([]record.Doc{{"name": name}})
}

func TestStaleResponseIsDiscarded(t *testing.T) {
	src := newGatedSource()
	m := metrics.NewNop()
	screen := listing.NewScreen[filter.FacultyCriteria](src, listing.WithMetrics(m), listing.WithCollection("faculty"))
	defer screen.Close()

	type refresh struct {
		res     listing.Result[filter.FacultyCriteria]
		applied bool
	}
	aDone := make(chan refresh, 1)
	bDone := make(chan refresh, 1)

	go func() {
		res, ok := screen.Refresh(context.Background(), filter.FacultyCriteria{Name: "A"})
		aDone <- refresh{res, ok}
	}()
	require.Equal(t, "A", <-src.started)

	go func() {
		res, ok := screen.Refresh(context.Background(), filter.FacultyCriteria{Name: "B"})
		bDone <- refresh{res, ok}
	}()
	require.Equal(t, "B", <-src.started)

	src.gate("B") <- outcomeNamed("from B")
	b := <-bDone
	require.True(t, b.applied)

	src.gate("A") <- outcomeNamed("from A")
	a := <-aDone
	assert.False(t, a.applied)

	cur := screen.Current()
	assert.Equal(t, "B", cur.Criteria.Name)
	require.Len(t, cur.Records, 1)
	assert.Equal(t, "from B", cur.Records[0]["name"])
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StaleResponsesTotal))
}

type ctxSource struct {
	started chan struct{}
}

func (s ctxSource) Mode() listing.Mode { return listing.ModeRemote }

func (s ctxSource) Search(ctx context.Context, _ filter.FacultyCriteria) remotefilter.Outcome {
	close(s.started)
	<-ctx.Done()
	return remotefilter.Failed(ctx.Err())
}

func TestSupersededRequestIsCancelled(t *testing.T) {
	first := ctxSource{started: make(chan struct{})}
	var calls int
	var mu sync.Mutex
	src := listing.SourceFunc[filter.FacultyCriteria](listing.ModeRemote, func(ctx context.Context, c filter.FacultyCriteria) remotefilter.Outcome {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			return first.Search(ctx, c)
		}
		return outcomeNamed("second")
	})
	screen := listing.NewScreen(src)
	defer screen.Close()

	done := make(chan bool, 1)
	go func() {
		_, applied := screen.Refresh(context.Background(), filter.FacultyCriteria{Name: "one"})
		done <- applied
	}()
	<-first.started

	_, applied := screen.Refresh(context.Background(), filter.FacultyCriteria{Name: "two"})
	require.True(t, applied)

	select {
	case applied := <-done:
		assert.False(t, applied)
	case <-time.After(time.Second):
		t.Fatal("superseded request was not cancelled")
	}
	assert.Equal(t, "two", screen.Current().Criteria.Name)
}

func fixture(t *testing.T) []record.Doc {
	t.Helper()
	var docs []record.Doc
	require.NoError(t, json.Unmarshal([]byte(`[
		{"name": "Ravi", "status": "serving", "majorDomains": ["Environment"]},
		{"name": "Asha", "status": "retired", "majorDomains": ["Environment", "Disaster Management"]},
		{"name": "Bala", "status": "serving"}
	]`), &docs))
	return docs
}

func localSource(t *testing.T, docs []record.Doc) listing.LocalSource[filter.FacultyCriteria] {
	t.Helper()
	sorter, err := filter.NewSorter("en")
	require.NoError(t, err)
	return listing.LocalSource[filter.FacultyCriteria]{
		Load:    func(context.Context) ([]record.Doc, error) { return docs, nil },
		Sorter:  sorter,
		SortKey: filter.FacultySortKey,
	}
}

func TestLocalSource(t *testing.T) {
	src := localSource(t, fixture(t))
	ctx := context.Background()

	out := src.Search(ctx, filter.FacultyCriteria{})
	assert.Equal(t, remotefilter.StateResults, out.State)
	assert.Equal(t, 3, out.Count)
	assert.Equal(t, "Asha", out.Records[0]["name"])

	out = src.Search(ctx, filter.FacultyCriteria{Status: "serving"})
	assert.Equal(t, 2, out.Count)

	out = src.Search(ctx, filter.FacultyCriteria{Name: "zed"})
	assert.Equal(t, remotefilter.StateNoResults, out.State)
	assert.Equal(t, remotefilter.MessageNoResults, out.Message)
}

func TestTypeIsDebounced(t *testing.T) {
	mock := clock.NewMock()
	results := make(chan listing.Result[filter.FacultyCriteria], 8)
	screen := listing.NewScreen[filter.FacultyCriteria](localSource(t, fixture(t)),
		listing.WithClock(mock),
		listing.WithDebounce(300*time.Millisecond),
		listing.OnChange(func(r listing.Result[filter.FacultyCriteria]) { results <- r }),
	)
	defer screen.Close()

	for _, prefix := range []string{"r", "ra", "rav"} {
		screen.Type(filter.FacultyCriteria{Name: prefix})
		mock.Add(100 * time.Millisecond)
	}
	select {
	case r := <-results:
		t.Fatalf("applied %q before the input settled", r.Criteria.Name)
	case <-time.After(20 * time.Millisecond):
	}

	mock.Add(200 * time.Millisecond)
	select {
	case r := <-results:
		assert.Equal(t, "rav", r.Criteria.Name)
		require.Equal(t, 1, r.Count)
		assert.Equal(t, "Ravi", r.Records[0]["name"])
	case <-time.After(time.Second):
		t.Fatal("debounced input was never applied")
	}

	select {
	case r := <-results:
		t.Fatalf("unexpected extra result %q", r.Criteria.Name)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestCloseDropsPendingInput(t *testing.T) {
	mock := clock.NewMock()
	results := make(chan listing.Result[filter.FacultyCriteria], 1)
	screen := listing.NewScreen[filter.FacultyCriteria](localSource(t, fixture(t)),
		listing.WithClock(mock),
		listing.OnChange(func(r listing.Result[filter.FacultyCriteria]) { results <- r }),
	)
	screen.Type(filter.FacultyCriteria{Name: "asha"})
	screen.Close()
	mock.Add(time.Second)

	select {
	case r := <-results:
		t.Fatalf("applied %q after Close", r.Criteria.Name)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestFlushAppliesImmediately(t *testing.T) {
	mock := clock.NewMock()
	screen := listing.NewScreen[filter.FacultyCriteria](localSource(t, fixture(t)), listing.WithClock(mock))
	defer screen.Close()

	screen.Type(filter.FacultyCriteria{MajorDomains: []string{"Environment", "Disaster Management"}})
	require.True(t, screen.Flush())
	cur := screen.Current()
	require.Equal(t, 1, cur.Count)
	assert.Equal(t, "Asha", cur.Records[0]["name"])
}

type stubFilterer struct {
	got remotefilter.Payload
	out remotefilter.Outcome
}

func (s *stubFilterer) FilterFaculties(_ context.Context, p remotefilter.Payload) remotefilter.Outcome {
	s.got = p
	return s.out
}

func TestRemoteSource(t *testing.T) {
	sorter, err := filter.NewSorter("en")
	require.NoError(t, err)
	stub := &stubFilterer{out: remotefilter.FromRecords([]record.Doc{{"name": "Ravi"}, {"name": "Asha"}})}
	loaded := false
	src := listing.RemoteSource{
		Backend: stub,
		Load: func(context.Context) ([]record.Doc, error) {
			loaded = true
			return []record.Doc{{"name": "Zoe"}, {"name": "Amy"}}, nil
		},
		Sorter:  sorter,
		SortKey: filter.FacultySortKey,
	}

	out := src.Search(context.Background(), filter.FacultyCriteria{Status: "serving"})
	assert.Equal(t, "serving", stub.got.Status)
	assert.Equal(t, "Asha", out.Records[0]["name"], "remote results are sorted")
	assert.False(t, loaded)

	out = src.Search(context.Background(), filter.FacultyCriteria{})
	assert.True(t, loaded, "empty criteria load the full list")
	assert.Equal(t, "Amy", out.Records[0]["name"])
}

func TestParseMode(t *testing.T) {
	m, err := listing.ParseMode("", listing.ModeRemote)
	require.NoError(t, err)
	assert.Equal(t, listing.ModeRemote, m)

	m, err = listing.ParseMode("local", listing.ModeRemote)
	require.NoError(t, err)
	assert.Equal(t, listing.ModeLocal, m)

	_, err = listing.ParseMode("hybrid", listing.ModeRemote)
	assert.Error(t, err)
}
