package main

import (
	"context"
	"fmt"
	"io"
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"salesetl/internal/config"
	"salesetl/internal/metrics"
	"salesetl/internal/metrics/datadog"
	"salesetl/internal/metrics/prompush"
)

const defaultPushgatewayURL = "http://localhost:9091"

// metricsBackend is a metrics.Backend that owns a flush loop.
type metricsBackend interface {
	metrics.Backend
	Close() error
}

// Seams for initMetrics. Tests replace them; they are not safe to swap while
// a run is in flight.
var (
	newDatadogBackend = func(ctx context.Context, opts datadog.Options) (metricsBackend, error) {
		return datadog.NewBackend(ctx, opts)
	}
	newPushBackend = func(job, url string) (metrics.Backend, error) {
		return prompush.NewBackend(job, url)
	}
	setMetricsBackend = metrics.SetBackend
	logPrintf         = log.Printf
)

// initMetrics installs the backend named by m.Backend and returns its cleanup.
//
// The returned cleanup is never nil and must be called exactly once. For
// datadog it stops the flush loop and submits a final batch; for pushgateway
// it pushes the registry once. Cleanup failures are logged, not returned.
//
// Errors:
//   - unknown backend names
//   - backend construction failures (missing Datadog credentials, bad URL)
func initMetrics(ctx context.Context, job string, m config.Metrics) (func(), error) {
	noop := func() {}

	switch m.Backend {
	case "", "none":
		return noop, nil

	case "datadog":
		b, err := newDatadogBackend(ctx, datadog.Options{
			JobName:    job,
			Tags:       datadog.ParseTagsCSV(m.Tags),
			FlushEvery: m.FlushEvery.Duration,
		})
		if err != nil {
			return noop, err
		}
		setMetricsBackend(b)
		return func() {
			if err := b.Close(); err != nil {
				logPrintf("metrics: datadog close error: %v", err)
			}
			setMetricsBackend(nil)
		}, nil

	case "pushgateway":
		url := m.PushgatewayURL
		if url == "" {
			url = defaultPushgatewayURL
		}
		b, err := newPushBackend(job, url)
		if err != nil {
			return noop, err
		}
		setMetricsBackend(b)
		return func() {
			if err := b.Flush(); err != nil {
				logPrintf("metrics: push error: %v", err)
			}
			setMetricsBackend(nil)
		}, nil
	}
	return noop, fmt.Errorf("unknown metrics backend %q (want none|datadog|pushgateway)", m.Backend)
}

// initTracing installs a global tracer provider for exporter. "stdout" writes
// each finished span to w; "" and "none" leave the no-op provider in place.
// The cleanup flushes and shuts the provider down.
func initTracing(_ context.Context, exporter string, w io.Writer) (func(), error) {
	switch exporter {
	case "", "none":
		return func() {}, nil
	case "stdout":
		exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			return func() {}, err
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
		otel.SetTracerProvider(tp)
		return func() {
			if err := tp.Shutdown(context.Background()); err != nil {
				logPrintf("tracing: shutdown error: %v", err)
			}
		}, nil
	}
	return func() {}, fmt.Errorf("unknown tracing exporter %q (want none|stdout)", exporter)
}
