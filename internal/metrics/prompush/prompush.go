// Package prompush implements a Prometheus Pushgateway backend for internal/metrics.
//
// Metrics accumulate in a private registry for the lifetime of the process
// and are pushed on Flush, which suits batch jobs that exit before any
// scrape could happen.
package prompush

import (
	"context"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"salesetl/internal/metrics"
)

// Backend implements metrics.Backend on a Prometheus registry.
type Backend struct {
	registry *prometheus.Registry
	pusher   *push.Pusher

	steps     *prometheus.CounterVec
	durations *prometheus.HistogramVec
	records   *prometheus.CounterVec
	dropped   *prometheus.CounterVec
	batches   prometheus.Counter
	score     prometheus.Gauge
}

// NewBackend registers the pipeline collectors and targets gatewayURL under job.
//
// Errors:
//   - Returns an error when gatewayURL is empty or collectors fail to register.
func NewBackend(job, gatewayURL string) (*Backend, error) {
	if strings.TrimSpace(gatewayURL) == "" {
		return nil, fmt.Errorf("prompush: gateway url is required")
	}
	if job == "" {
		job = "salesetl"
	}

	b := &Backend{
		registry: prometheus.NewRegistry(),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.StepTotal,
			Help: "Pipeline stages completed, by step and status.",
		}, []string{"step", "status"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    metrics.StepDurationSeconds,
			Help:    "Pipeline stage duration in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"step", "status"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.RecordsTotal,
			Help: "Rows processed, by kind.",
		}, []string{"kind"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.RowsDroppedTotal,
			Help: "Rows removed by validation or integrity checks, by reason.",
		}, []string{"reason"}),
		batches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metrics.BatchesTotal,
			Help: "Fact chunks written.",
		}),
		score: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metrics.QualityScore,
			Help: "Data quality score of the last run (0-100).",
		}),
	}

	for _, c := range []prometheus.Collector{b.steps, b.durations, b.records, b.dropped, b.batches, b.score} {
		if err := b.registry.Register(c); err != nil {
			return nil, fmt.Errorf("prompush: register: %w", err)
		}
	}
	b.pusher = push.New(gatewayURL, job).Gatherer(b.registry)
	return b, nil
}

// IncCounter implements metrics.Backend.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}
	switch name {
	case metrics.StepTotal:
		b.steps.WithLabelValues(labels["step"], labels["status"]).Add(delta)
	case metrics.RecordsTotal:
		b.records.WithLabelValues(labels["kind"]).Add(delta)
	case metrics.RowsDroppedTotal:
		b.dropped.WithLabelValues(labels["reason"]).Add(delta)
	case metrics.BatchesTotal:
		b.batches.Add(delta)
	}
}

// ObserveHistogram implements metrics.Backend. The quality score is a gauge.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	switch name {
	case metrics.StepDurationSeconds:
		if value >= 0 {
			b.durations.WithLabelValues(labels["step"], labels["status"]).Observe(value)
		}
	case metrics.QualityScore:
		b.score.Set(value)
	}
}

// Flush pushes the registry, replacing the job's previous group.
func (b *Backend) Flush() error {
	return b.pusher.PushContext(context.Background())
}

// Registry exposes the underlying registry for inspection.
func (b *Backend) Registry() *prometheus.Registry { return b.registry }

var _ metrics.Backend = (*Backend)(nil)
