package prompush

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"salesetl/internal/metrics"
)

func TestNewBackend_RequiresURL(t *testing.T) {
	_, err := NewBackend("job", " ")
	require.Error(t, err)
}

func TestBackend_RecordsIntoRegistry(t *testing.T) {
	b, err := NewBackend("salesetl", "http://127.0.0.1:9091")
	require.NoError(t, err)

	b.IncCounter(metrics.StepTotal, 1, metrics.Labels{"step": "extract", "status": "ok"})
	b.IncCounter(metrics.StepTotal, 1, metrics.Labels{"step": "extract", "status": "ok"})
	b.IncCounter(metrics.RowsDroppedTotal, 10, metrics.Labels{"reason": "unresolved_fk"})
	b.IncCounter(metrics.BatchesTotal, 1, nil)
	b.IncCounter("unknown_metric", 1, nil)
	b.ObserveHistogram(metrics.QualityScore, 88, nil)

	assert.Equal(t, 2.0, gathered(t, b, metrics.StepTotal, "step", "extract"))
	assert.Equal(t, 10.0, gathered(t, b, metrics.RowsDroppedTotal, "reason", "unresolved_fk"))
	assert.Equal(t, 1.0, gathered(t, b, metrics.BatchesTotal))
	assert.Equal(t, 88.0, gathered(t, b, metrics.QualityScore))
}

// gathered returns the counter or gauge value of the first sample of name
// carrying the given label pair.
func gathered(t *testing.T, b *Backend, name string, label ...string) float64 {
	t.Helper()
	families, err := b.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if len(label) == 2 {
				match := false
				for _, lp := range m.GetLabel() {
					if lp.GetName() == label[0] && lp.GetValue() == label[1] {
						match = true
					}
				}
				if !match {
					continue
				}
			}
			if c := m.GetCounter(); c != nil {
				return c.GetValue()
			}
			return m.GetGauge().GetValue()
		}
	}
	t.Fatalf("metric %s not gathered", name)
	return 0
}

func TestBackend_FlushPushesToGateway(t *testing.T) {
	var (
		mu   sync.Mutex
		path string
		body string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		mu.Lock()
		path, body = r.URL.Path, string(raw)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	b, err := NewBackend("nightly", srv.URL)
	require.NoError(t, err)
	b.IncCounter(metrics.RecordsTotal, 5, metrics.Labels{"kind": "loaded_fact_sales"})

	require.NoError(t, b.Flush())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "/metrics/job/nightly", path)
	assert.True(t, strings.Contains(body, metrics.RecordsTotal), "pushed body should carry the records counter")
}
