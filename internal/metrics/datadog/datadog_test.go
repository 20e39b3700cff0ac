package datadog

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"

	"salesetl/internal/metrics"
)

// fakeSubmitter captures payloads submitted by Backend.Flush.
type fakeSubmitter struct {
	mu       sync.Mutex
	payloads []datadogV2.MetricPayload
	err      error
}

func (f *fakeSubmitter) SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, body)
	return datadogV2.IntakePayloadAccepted{}, nil, f.err
}

func (f *fakeSubmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads)
}

func (f *fakeSubmitter) last() datadogV2.MetricPayload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.payloads[len(f.payloads)-1]
}

func idleTicker(time.Duration) *time.Ticker { return time.NewTicker(24 * time.Hour) }

func newTestBackend(t *testing.T, fs *fakeSubmitter) *Backend {
	t.Helper()
	t.Setenv("ENV", "test")
	b, err := NewBackend(context.Background(), Options{
		JobName:   "nightly",
		Tags:      []string{"team:bi"},
		submitter: fs,
		now:       func() time.Time { return time.Unix(1000, 0) },
		newTicker: idleTicker,
	})
	if err != nil {
		t.Fatalf("NewBackend() err=%v", err)
	}
	return b
}

func findSeries(p datadogV2.MetricPayload, metric string) []datadogV2.MetricSeries {
	var out []datadogV2.MetricSeries
	for _, s := range p.Series {
		if s.Metric == metric {
			out = append(out, s)
		}
	}
	return out
}

func TestResolveEnvTag(t *testing.T) {
	tests := []struct {
		name string
		env  string
		dd   string
		want string
	}{
		{name: "ENV_wins", env: "prod", dd: "stage", want: "env:prod"},
		{name: "DD_ENV_fallback", env: "", dd: "stage", want: "env:stage"},
		{name: "whitespace_ignored", env: "   ", dd: "\n\t", want: "env:unknown"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("ENV", tc.env)
			t.Setenv("DD_ENV", tc.dd)
			if got := resolveEnvTag(); got != tc.want {
				t.Fatalf("resolveEnvTag()=%q, want %q", got, tc.want)
			}
		})
	}
}

func TestWrapInitErr(t *testing.T) {
	if wrapInitErr(nil) != nil {
		t.Fatalf("wrapInitErr(nil) should be nil")
	}
	in := errors.New("boom")
	got := wrapInitErr(in)
	if !errors.Is(got, in) || !strings.HasPrefix(got.Error(), "datadog metrics init:") {
		t.Fatalf("wrapInitErr()=%v", got)
	}
}

func TestLabelTags_SortedAndDefaulted(t *testing.T) {
	got := labelTags(metrics.Labels{"status": "ok", "step": "extract", "kind": ""})
	if got != "kind:unknown,status:ok,step:extract" {
		t.Fatalf("labelTags()=%q", got)
	}
	if labelTags(nil) != "" {
		t.Fatalf("labelTags(nil) should be empty")
	}
}

func TestPercentileNearestRank(t *testing.T) {
	s := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	cases := map[float64]float64{0: 1, 0.5: 6, 0.9: 9, 1: 10}
	for p, want := range cases {
		if got := percentileNearestRank(s, p); got != want {
			t.Fatalf("p=%v got %v want %v", p, got, want)
		}
	}
	if percentileNearestRank(nil, 0.5) != 0 {
		t.Fatalf("empty input should yield 0")
	}
}

func TestAddPercentiles_DoesNotMutateInput(t *testing.T) {
	samples := []float64{3, 1, 2}
	var series []datadogV2.MetricSeries
	addPercentiles(&series, "m", samples, []string{"a:b"}, 10)

	if !reflect.DeepEqual(samples, []float64{3, 1, 2}) {
		t.Fatalf("samples mutated: %v", samples)
	}
	if len(series) != 6 {
		t.Fatalf("series=%d want 6", len(series))
	}
	if series[4].Metric != "m.max" || *series[4].Points[0].Value != 3 {
		t.Fatalf("unexpected max series: %+v", series[4])
	}
	if series[5].Metric != "m.samples" || *series[5].Points[0].Value != 3 {
		t.Fatalf("unexpected samples series: %+v", series[5])
	}
}

func TestFlush_SubmitsAndResets(t *testing.T) {
	fs := &fakeSubmitter{}
	b := newTestBackend(t, fs)
	defer func() { _ = b.Close() }()

	b.IncCounter(metrics.StepTotal, 1, metrics.Labels{"step": "extract", "status": "ok"})
	b.IncCounter(metrics.StepTotal, 2, metrics.Labels{"status": "ok", "step": "extract"})
	b.IncCounter(metrics.RowsDroppedTotal, 10, metrics.Labels{"reason": "unresolved_fk"})
	b.ObserveHistogram(metrics.StepDurationSeconds, 0.5, metrics.Labels{"step": "extract", "status": "ok"})
	b.ObserveHistogram(metrics.QualityScore, 80, nil)
	b.ObserveHistogram(metrics.QualityScore, 91, nil)

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush() err=%v", err)
	}
	p := fs.last()

	steps := findSeries(p, "salesetl.step.total")
	if len(steps) != 1 || *steps[0].Points[0].Value != 3 {
		t.Fatalf("step series=%+v", steps)
	}
	wantTags := []string{"env:test", "job:nightly", "team:bi", "status:ok", "step:extract"}
	if !reflect.DeepEqual(steps[0].Tags, wantTags) {
		t.Fatalf("tags=%v want %v", steps[0].Tags, wantTags)
	}
	if *steps[0].Points[0].Timestamp != 1000 {
		t.Fatalf("timestamp=%d", *steps[0].Points[0].Timestamp)
	}

	score := findSeries(p, "salesetl.quality.score")
	if len(score) != 1 || *score[0].Points[0].Value != 91 {
		t.Fatalf("score series=%+v", score)
	}
	if *score[0].Type != datadogV2.METRICINTAKETYPE_GAUGE {
		t.Fatalf("score should be a gauge")
	}
	if len(findSeries(p, "salesetl.step.duration_seconds.p99")) != 1 {
		t.Fatalf("missing duration percentile series")
	}

	// Buffers were reset, so a second flush submits nothing.
	if err := b.Flush(); err != nil {
		t.Fatalf("second Flush() err=%v", err)
	}
	if fs.count() != 1 {
		t.Fatalf("submit calls=%d want 1", fs.count())
	}
}

func TestIgnoredObservations(t *testing.T) {
	fs := &fakeSubmitter{}
	b := newTestBackend(t, fs)
	defer func() { _ = b.Close() }()

	b.IncCounter("etl_http_requests_total", 1, nil)
	b.IncCounter(metrics.BatchesTotal, 0, nil)
	b.IncCounter(metrics.BatchesTotal, -1, nil)
	b.ObserveHistogram(metrics.StepDurationSeconds, -0.1, nil)

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush() err=%v", err)
	}
	if fs.count() != 0 {
		t.Fatalf("expected no submission, got %d", fs.count())
	}
}

func TestFlush_PropagatesSubmitError(t *testing.T) {
	fs := &fakeSubmitter{err: errors.New("403")}
	b := newTestBackend(t, fs)
	defer func() { fs.err = nil; _ = b.Close() }()

	b.IncCounter(metrics.BatchesTotal, 1, nil)
	if err := b.Flush(); err == nil {
		t.Fatalf("expected submit error")
	}
}

func TestLoopAndClose(t *testing.T) {
	fs := &fakeSubmitter{}
	b, err := NewBackend(context.Background(), Options{
		FlushEvery: 5 * time.Millisecond,
		submitter:  fs,
		now:        func() time.Time { return time.Unix(2000, 0) },
	})
	if err != nil {
		t.Fatalf("NewBackend() err=%v", err)
	}

	b.IncCounter(metrics.BatchesTotal, 1, nil)
	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) && fs.count() < 1 {
		time.Sleep(2 * time.Millisecond)
	}
	if fs.count() < 1 {
		_ = b.Close()
		t.Fatalf("expected a background flush")
	}

	b.IncCounter(metrics.BatchesTotal, 1, nil)
	if err := b.Close(); err != nil {
		t.Fatalf("Close() err=%v", err)
	}
	if fs.count() < 2 {
		t.Fatalf("expected final flush on Close; submissions=%d", fs.count())
	}
}

func TestBackend_ConcurrentAccess(t *testing.T) {
	fs := &fakeSubmitter{}
	b := newTestBackend(t, fs)
	defer func() { _ = b.Close() }()

	workers := runtime.GOMAXPROCS(0) * 4
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				b.IncCounter(metrics.BatchesTotal, 1, nil)
				b.ObserveHistogram(metrics.StepDurationSeconds, 0.01, metrics.Labels{"step": "load_facts", "status": "ok"})
			}
		}()
	}
	wg.Wait()

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush() err=%v", err)
	}
	batches := findSeries(fs.last(), "salesetl.batches.total")
	if len(batches) != 1 || *batches[0].Points[0].Value != float64(workers*500) {
		t.Fatalf("batches series=%+v", batches)
	}
}

func TestParseTagsCSV(t *testing.T) {
	if ParseTagsCSV("") != nil {
		t.Fatalf("empty input should yield nil")
	}
	got := ParseTagsCSV(" env:prod, ,team:bi ")
	if !reflect.DeepEqual(got, []string{"env:prod", "team:bi"}) {
		t.Fatalf("ParseTagsCSV()=%v", got)
	}
}
