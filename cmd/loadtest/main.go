// Command loadtest replays faculty criteria against the directory search
// endpoint and reports throughput, latency percentiles and result states.
// With -typing, each worker instead sends every prefix of a name, the way an
// undebounced search box would.
//
// Usage:
//
//	go run ./cmd/loadtest -key <api-key> [-url http://localhost:8080] [-mode local] [-typing]
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"maps"
	"net/http"
	"os"
	"slices"
	"text/tabwriter"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/casfos/registry/internal/filter"
)

var criteriaMix = []filter.FacultyCriteria{
	{},
	{Status: "serving"},
	{Status: "retired"},
	{FacultyType: "internal"},
	{FacultyType: "external", Status: "serving"},
	{Name: "kumar"},
	{MajorDomains: []string{"Environment"}},
	{MajorDomains: []string{"Forest Management"}, MinorDomains: []string{"Silviculture"}},
	{MajorDomains: []string{"Environment", "Disaster Management"}},
	{Institution: "forest"},
	{YearOfAllotment: "2010"},
	{AreaOfExpertise: "wildlife", Status: "serving"},
	{ModulesHandled: "survey"},
	{Email: "@gov.in"},
}

var typedNames = []string{"Ravi Shankar", "Asha Menon", "Kumar", "Priyanka Deshpande"}

// workerStats is owned by one worker and merged after the run.
type workerStats struct {
	latencies []time.Duration
	failures  int
	statuses  map[int]int
	states    map[string]int
}

func newWorkerStats() *workerStats {
	return &workerStats{statuses: map[int]int{}, states: map[string]int{}}
}

func (w *workerStats) merge(o *workerStats) {
	w.latencies = append(w.latencies, o.latencies...)
	w.failures += o.failures
	for k, v := range o.statuses {
		w.statuses[k] += v
	}
	for k, v := range o.states {
		w.states[k] += v
	}
}

type target struct {
	url    string
	apiKey string
	client *http.Client
}

// search posts one criteria body and records the outcome in st.
func (t target) search(ctx context.Context, body []byte, st *workerStats) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		st.failures++
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if t.apiKey != "" {
		req.Header.Set("X-API-Key", t.apiKey)
	}

	start := time.Now()
	resp, err := t.client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		if ctx.Err() == nil {
			st.failures++
		}
		return
	}
	defer resp.Body.Close()

	var out struct {
		State string `json:"state"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	_, _ = io.Copy(io.Discard, resp.Body)

	st.latencies = append(st.latencies, elapsed)
	st.statuses[resp.StatusCode]++
	if out.State != "" {
		st.states[out.State]++
	}
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "base URL of the directory service")
	apiKey := flag.String("key", os.Getenv("CASFOS_API_KEY"), "API key sent as X-API-Key")
	mode := flag.String("mode", "local", "filter mode: local or remote")
	workers := flag.Int("concurrency", 10, "number of concurrent workers")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	typing := flag.Bool("typing", false, "send every prefix of a name instead of the criteria mix")
	flag.Parse()

	bodies, err := requestBodies(*typing)
	if err != nil {
		fmt.Fprintf(os.Stderr, "encoding criteria: %v\n", err)
		os.Exit(1)
	}

	t := target{
		url:    fmt.Sprintf("%s/api/v1/faculty/search?mode=%s", *baseURL, *mode),
		apiKey: *apiKey,
		client: &http.Client{
			Timeout:   10 * time.Second,
			Transport: &http.Transport{MaxIdleConnsPerHost: *workers * 2, IdleConnTimeout: 90 * time.Second},
		},
	}
	fmt.Printf("loadtest: %d workers for %s against %s (%d request bodies)\n", *workers, *duration, t.url, len(bodies))

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	perWorker := make([]*workerStats, *workers)
	var g errgroup.Group
	for w := range perWorker {
		st := newWorkerStats()
		perWorker[w] = st
		g.Go(func() error {
			for i := w; ctx.Err() == nil; i++ {
				t.search(ctx, bodies[i%len(bodies)], st)
			}
			return nil
		})
	}
	_ = g.Wait()

	total := newWorkerStats()
	for _, st := range perWorker {
		total.merge(st)
	}
	if report(os.Stdout, total, *duration) == 0 {
		fmt.Fprintln(os.Stderr, "no requests completed; is the directory running?")
		os.Exit(1)
	}
}

func requestBodies(typing bool) ([][]byte, error) {
	criteria := criteriaMix
	if typing {
		criteria = nil
		for _, name := range typedNames {
			for i := 1; i <= len(name); i++ {
				criteria = append(criteria, filter.FacultyCriteria{Name: name[:i]})
			}
		}
	}
	out := make([][]byte, len(criteria))
	for i, c := range criteria {
		b, err := json.Marshal(c)
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

// report prints the summary and returns the number of completed requests.
func report(out io.Writer, st *workerStats, duration time.Duration) int {
	completed := len(st.latencies)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintf(tw, "completed\t%d\n", completed)
	fmt.Fprintf(tw, "transport failures\t%d\n", st.failures)
	fmt.Fprintf(tw, "requests/sec\t%.1f\n", float64(completed)/duration.Seconds())
	if completed == 0 {
		return 0
	}

	lat := slices.Clone(st.latencies)
	slices.Sort(lat)
	var sum time.Duration
	for _, l := range lat {
		sum += l
	}
	fmt.Fprintf(tw, "latency min/avg/max\t%s / %s / %s\n", lat[0], sum/time.Duration(completed), lat[completed-1])
	for _, p := range []int{50, 90, 95, 99} {
		fmt.Fprintf(tw, "p%d\t%s\n", p, lat[(completed-1)*p/100])
	}
	for _, code := range slices.Sorted(maps.Keys(st.statuses)) {
		fmt.Fprintf(tw, "status %d\t%d\n", code, st.statuses[code])
	}
	for _, state := range slices.Sorted(maps.Keys(st.states)) {
		fmt.Fprintf(tw, "state %s\t%d\n", state, st.states[state])
	}
	return completed
}
