// Package warehouse writes one run's star schema into the configured
// storage.Repository.
//
// A load is destructive: Clear empties every star table in one transaction,
// then LoadDimensions rewrites the four dimensions and LoadFacts writes
// fact_sales in fixed-size chunks, optionally in parallel.
package warehouse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"salesetl/internal/metrics"
	"salesetl/internal/storage"
	"salesetl/internal/table"
	"salesetl/internal/transformer"
)

// Logger is the minimal logging interface used by the loader.
// *log.Logger satisfies this interface.
type Logger interface {
	Printf(format string, v ...any)
}

// Load phases reported in LoadError.
const (
	PhaseSchema     = "schema"
	PhaseClear      = "clear"
	PhaseDimensions = "dimensions"
	PhaseFacts      = "facts"
)

// DefaultChunkSize is used when Loader.ChunkSize is not positive.
const DefaultChunkSize = 10000

// LoadError is a fatal warehouse failure. It is never retried.
type LoadError struct {
	Phase string
	Table string
	Err   error
}

func (e *LoadError) Error() string {
	if e.Table == "" {
		return fmt.Sprintf("load %s: %v", e.Phase, e.Err)
	}
	return fmt.Sprintf("load %s %s: %v", e.Phase, e.Table, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Timeout reports whether the failure was caused by the load timeout.
func (e *LoadError) Timeout() bool { return errors.Is(e.Err, context.DeadlineExceeded) }

// Stats counts rows written per table and fact chunks.
type Stats struct {
	Rows   map[string]int64
	Chunks int
}

// Loader writes a transformer.Star into Repo.
//
// When to use:
//   - Call Load for the full sequence, or the phase methods individually when
//     the caller tracks state between phases.
//
// Edge cases:
//   - ChunkSize <= 0 means DefaultChunkSize; Workers <= 0 means 1.
//   - Timeout > 0 bounds every individual write (clear, each dimension, each
//     fact chunk). Exceeding it is a LoadError whose Timeout reports true.
type Loader struct {
	Repo      storage.Repository
	Logger    Logger
	ChunkSize int
	Workers   int
	Timeout   time.Duration
}

// EnsureSchema creates the star schema tables when autoCreate is set.
func (l *Loader) EnsureSchema(ctx context.Context, autoCreate bool) error {
	if !autoCreate {
		return nil
	}
	start := time.Now()
	wctx, cancel := l.writeContext(ctx)
	defer cancel()
	if err := l.Repo.EnsureTables(wctx, StarSchema(true)); err != nil {
		return &LoadError{Phase: PhaseSchema, Err: err}
	}
	l.logger()("stage=ensure_schema ok tables=%d duration=%s", len(ClearOrder), durMS(start))
	return nil
}

// Clear empties every star table in ClearOrder within one transaction.
// Missing tables are skipped.
func (l *Loader) Clear(ctx context.Context) error {
	start := time.Now()
	wctx, cancel := l.writeContext(ctx)
	defer cancel()
	if err := l.Repo.ClearTables(wctx, ClearOrder); err != nil {
		return &LoadError{Phase: PhaseClear, Err: err}
	}
	l.logger()("stage=clear ok tables=%d duration=%s", len(ClearOrder), durMS(start))
	return nil
}

// LoadDimensions writes the four dimensions in order date, store, product, customer.
func (l *Loader) LoadDimensions(ctx context.Context, star transformer.Star, stats *Stats) error {
	logf := l.logger()
	for _, t := range star.Dimensions() {
		if t == nil {
			continue
		}
		start := time.Now()
		n, err := l.insert(ctx, t.Name, t.Columns, rowsOf(t.Rows))
		if err != nil {
			return &LoadError{Phase: PhaseDimensions, Table: t.Name, Err: err}
		}
		stats.add(t.Name, n)
		logf("stage=load_dimension ok table=%s rows=%d duration=%s", t.Name, n, durMS(start))
	}
	return nil
}

// LoadFacts writes fact_sales in chunks of ChunkSize rows using up to
// Workers concurrent writers. The first failing chunk cancels the rest.
func (l *Loader) LoadFacts(ctx context.Context, facts *table.Table, stats *Stats) error {
	if facts == nil || facts.Len() == 0 {
		stats.add(transformer.TableFactSales, 0)
		return nil
	}
	start := time.Now()
	chunks := chunk(rowsOf(facts.Rows), l.chunkSize())

	var written atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.workers())
	for _, c := range chunks {
		g.Go(func() error {
			n, err := l.insert(gctx, facts.Name, facts.Columns, c)
			if err != nil {
				return err
			}
			written.Add(n)
			metrics.RecordBatch()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return &LoadError{Phase: PhaseFacts, Table: facts.Name, Err: err}
	}

	stats.add(facts.Name, written.Load())
	stats.Chunks += len(chunks)
	l.logger()("stage=load_facts ok rows=%d chunks=%d workers=%d duration=%s",
		written.Load(), len(chunks), l.workers(), durMS(start))
	return nil
}

// Load runs Clear, LoadDimensions and LoadFacts in sequence.
func (l *Loader) Load(ctx context.Context, star transformer.Star) (Stats, error) {
	stats := Stats{Rows: map[string]int64{}}
	if err := l.Clear(ctx); err != nil {
		return stats, err
	}
	if err := l.LoadDimensions(ctx, star, &stats); err != nil {
		return stats, err
	}
	if err := l.LoadFacts(ctx, star.FactSales, &stats); err != nil {
		return stats, err
	}
	return stats, nil
}

func (l *Loader) insert(ctx context.Context, name string, columns []string, rows [][]any) (int64, error) {
	wctx, cancel := l.writeContext(ctx)
	defer cancel()
	return l.Repo.InsertRows(wctx, name, columns, rows)
}

func (l *Loader) writeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if l.Timeout > 0 {
		return context.WithTimeout(ctx, l.Timeout)
	}
	return context.WithCancel(ctx)
}

func (l *Loader) chunkSize() int {
	if l.ChunkSize <= 0 {
		return DefaultChunkSize
	}
	return l.ChunkSize
}

func (l *Loader) workers() int {
	if l.Workers <= 0 {
		return 1
	}
	return l.Workers
}

func (l *Loader) logger() func(format string, v ...any) {
	if l.Logger == nil {
		return log.New(io.Discard, "", 0).Printf
	}
	return l.Logger.Printf
}

func (s *Stats) add(table string, n int64) {
	if s.Rows == nil {
		s.Rows = map[string]int64{}
	}
	s.Rows[table] += n
}

func rowsOf(rows []table.Row) [][]any {
	out := make([][]any, len(rows))
	for i, r := range rows {
		out[i] = r
	}
	return out
}

func chunk(rows [][]any, size int) [][][]any {
	out := make([][][]any, 0, (len(rows)+size-1)/size)
	for start := 0; start < len(rows); start += size {
		out = append(out, rows[start:min(start+size, len(rows))])
	}
	return out
}

func durMS(start time.Time) time.Duration { return time.Since(start).Truncate(time.Millisecond) }
