// Package metrics is the process-wide metrics facade used by the pipeline.
//
// Core code records through the package functions; cmd/salesetl selects a
// concrete Backend (Datadog, Prometheus Pushgateway) with SetBackend. Until
// then every call is a no-op.
package metrics

import (
	"sync"
	"time"
)

// Metric names. Backends ignore names they do not know.
const (
	StepTotal           = "etl_step_total"
	StepDurationSeconds = "etl_step_duration_seconds"
	RecordsTotal        = "etl_records_total"
	RowsDroppedTotal    = "etl_rows_dropped_total"
	QualityScore        = "etl_quality_score"
	BatchesTotal        = "etl_batches_total"
)

// Labels are metric dimensions (step, status, kind, reason).
type Labels map[string]string

// Backend receives metric observations.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b as the process-wide backend. A nil b restores the no-op backend.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		backend = nopBackend{}
		return
	}
	backend = b
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// IncCounter forwards to the installed backend.
func IncCounter(name string, delta float64, labels Labels) {
	current().IncCounter(name, delta, labels)
}

// ObserveHistogram forwards to the installed backend.
func ObserveHistogram(name string, value float64, labels Labels) {
	current().ObserveHistogram(name, value, labels)
}

// Flush flushes the installed backend.
func Flush() error {
	return current().Flush()
}

// RecordStep counts one completed stage and observes its duration.
// status is "ok" when err is nil and "error" otherwise.
func RecordStep(step string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	l := Labels{"step": step, "status": status}
	IncCounter(StepTotal, 1, l)
	ObserveHistogram(StepDurationSeconds, time.Since(start).Seconds(), l)
}

// RecordRows counts n rows of the given kind (for example "extracted_sales"
// or "loaded_fact_sales").
func RecordRows(kind string, n int) {
	if n <= 0 {
		return
	}
	IncCounter(RecordsTotal, float64(n), Labels{"kind": kind})
}

// RecordDropped counts n rows removed for reason.
func RecordDropped(reason string, n int) {
	if n <= 0 {
		return
	}
	IncCounter(RowsDroppedTotal, float64(n), Labels{"reason": reason})
}

// RecordQualityScore observes the run's quality score.
func RecordQualityScore(score float64) {
	ObserveHistogram(QualityScore, score, nil)
}

// RecordBatch counts one written fact chunk.
func RecordBatch() {
	IncCounter(BatchesTotal, 1, nil)
}
