// Package pipeline sequences one ETL run: extract, validate, transform,
// clear, load dimensions, load facts.
//
// Runs are single-flight. A Runner refuses to start while another run holds
// its mutex or, when runtime.lock_file is configured, the cross-process file
// lock.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"salesetl/internal/config"
	"salesetl/internal/metrics"
	"salesetl/internal/quality"
	"salesetl/internal/report"
	"salesetl/internal/source"
	"salesetl/internal/storage"
	"salesetl/internal/transformer"
	"salesetl/internal/warehouse"
)

// ErrRunInProgress is returned when a run is attempted while another holds the lock.
var ErrRunInProgress = errors.New("pipeline: run already in progress")

// Extractor loads the raw snapshot. *source.Reader satisfies it.
type Extractor interface {
	Extract(ctx context.Context, sources config.Sources) (source.Snapshot, error)
}

// Runner executes pipeline runs for one configuration.
//
// Zero-valued seams fall back to production defaults: a source.Reader,
// storage.New, a LogSink over Logger and the global OpenTelemetry tracer.
type Runner struct {
	Config config.Pipeline
	Logger Logger

	Extractor     Extractor
	NewRepository func(ctx context.Context, cfg storage.Config) (storage.Repository, error)
	Events        EventSink
	Report        report.Sink
	Tracer        trace.Tracer

	mu sync.Mutex

	stateMu sync.Mutex
	state   State

	now func() time.Time
}

// NewRunner returns a Runner with default seams.
func NewRunner(cfg config.Pipeline, logger Logger) *Runner {
	return &Runner{
		Config:        cfg,
		Logger:        logger,
		Extractor:     &source.Reader{Logger: logger},
		NewRepository: storage.New,
		Events:        LogSink{Logger: logger},
	}
}

// State returns the state of the current or last run.
func (r *Runner) State() State {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	if r.state == "" {
		return StateIdle
	}
	return r.state
}

// Run executes one run and returns its summary.
//
// Errors:
//   - ErrRunInProgress when another run holds the lock; no summary is produced.
//   - Otherwise the error of the failing stage. The summary is still returned
//     with Status failed, FailedStage and, for extract failures, FailedSource.
//     An extract failure never touches the warehouse.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	if !r.mu.TryLock() {
		return Summary{}, ErrRunInProgress
	}
	defer r.mu.Unlock()

	if path := r.Config.Runtime.LockFile; path != "" {
		fl := flock.New(path)
		ok, err := fl.TryLock()
		if err != nil {
			return Summary{}, fmt.Errorf("pipeline: lock %s: %w", path, err)
		}
		if !ok {
			return Summary{}, ErrRunInProgress
		}
		defer func() { _ = fl.Unlock() }()
	}

	now := r.clock()
	ru := &run{
		Runner: r,
		sum: Summary{
			RunID:     uuid.NewString(),
			Job:       r.Config.Job,
			StartedAt: now(),
			Extracted: map[string]int{},
			Validated: map[string]int{},
		},
	}

	ctx, span := r.tracer().Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("run.id", ru.sum.RunID),
		attribute.String("job", r.Config.Job),
	))
	defer span.End()

	err := ru.execute(ctx)

	sum := &ru.sum
	sum.FinishedAt = now()
	sum.DurationMS = sum.FinishedAt.Sub(sum.StartedAt).Milliseconds()
	if err != nil {
		sum.Status = StatusFailed
		sum.FailedStage = ru.failedAt
		sum.Error = err.Error()
		var ee *source.ExtractError
		if errors.As(err, &ee) {
			sum.FailedSource = ee.Source
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		ru.setState(StateFailed)
	} else {
		sum.Status = StatusDone
		ru.setState(StateDone)
	}
	ru.emit(Event{Kind: EventState, State: r.State()})
	metrics.RecordStep("run", sum.StartedAt, err)

	r.events().Emit(Event{
		RunID: sum.RunID, Time: now(), Kind: EventSummary, State: r.State(),
		Fields: map[string]any{"status": sum.Status, "duration_ms": sum.DurationMS},
	})
	r.logger()("stage=run %s run_id=%s facts=%d unresolved=%d duration=%s",
		sum.Status, sum.RunID, sum.Loaded[transformer.TableFactSales], sum.UnresolvedDrops,
		time.Duration(sum.DurationMS)*time.Millisecond)

	if r.Report != nil {
		if rerr := r.Report.Send(ctx, *sum); rerr != nil {
			r.logger()("stage=report error run_id=%s err=%v", sum.RunID, rerr)
		}
	}
	return *sum, err
}

// CreateSchema creates the star schema tables without running the pipeline.
func (r *Runner) CreateSchema(ctx context.Context) error {
	repo, err := r.openRepository(ctx)
	if err != nil {
		return err
	}
	defer repo.Close()
	return r.loader(repo).EnsureSchema(ctx, true)
}

// run carries the state of one execution.
type run struct {
	*Runner
	sum      Summary
	failedAt State
}

func (ru *run) execute(ctx context.Context) error {
	cfg := ru.Config

	var raw source.Snapshot
	if err := ru.step(ctx, StateExtracting, "extract", func(ctx context.Context) error {
		var err error
		raw, err = ru.extractor().Extract(ctx, cfg.Sources)
		return err
	}); err != nil {
		return err
	}
	ru.sum.Extracted = raw.Counts()
	for entity, n := range ru.sum.Extracted {
		metrics.RecordRows("extracted_"+entity, n)
	}

	var cleaned source.Snapshot
	if err := ru.step(ctx, StateValidating, "validate", func(ctx context.Context) error {
		v := &quality.Validator{DateLayouts: cfg.Runtime.DateLayouts, Logger: ru.Logger}
		var rep quality.Report
		cleaned, rep = v.Validate(raw)
		ru.sum.Quality = &rep
		return nil
	}); err != nil {
		return err
	}
	ru.sum.Validated = cleaned.Counts()
	ru.reportQuality(*ru.sum.Quality)

	var res transformer.Result
	if err := ru.step(ctx, StateTransforming, "transform", func(ctx context.Context) error {
		res = (&transformer.Transformer{Logger: ru.Logger}).Transform(cleaned)
		return nil
	}); err != nil {
		return err
	}
	ru.sum.UnresolvedDrops = res.UnresolvedDrops
	ru.sum.DropsByKey = res.DropsByKey
	ru.sum.Fingerprints = res.Star.Fingerprints()
	if res.UnresolvedDrops > 0 {
		fields := map[string]any{"count": res.UnresolvedDrops}
		for k, n := range res.DropsByKey {
			fields[k] = n
		}
		ru.emit(Event{Kind: EventDrop, Message: "sales dropped for unresolved foreign keys", Fields: fields})
		metrics.RecordDropped("unresolved_fk", res.UnresolvedDrops)
	}

	var (
		repo   storage.Repository
		loader *warehouse.Loader
		stats  = warehouse.Stats{Rows: map[string]int64{}}
	)
	defer func() {
		if repo != nil {
			repo.Close()
		}
	}()

	if err := ru.step(ctx, StateClearing, "clear", func(ctx context.Context) error {
		var err error
		if repo, err = ru.openRepository(ctx); err != nil {
			return err
		}
		loader = ru.loader(repo)
		if err := loader.EnsureSchema(ctx, cfg.Storage.AutoCreate); err != nil {
			return err
		}
		return loader.Clear(ctx)
	}); err != nil {
		return err
	}

	if err := ru.step(ctx, StateLoadingDimensions, "load_dimensions", func(ctx context.Context) error {
		return loader.LoadDimensions(ctx, res.Star, &stats)
	}); err != nil {
		return err
	}

	err := ru.step(ctx, StateLoadingFacts, "load_facts", func(ctx context.Context) error {
		return loader.LoadFacts(ctx, res.Star.FactSales, &stats)
	})
	ru.sum.Loaded = stats.Rows
	ru.sum.Chunks = stats.Chunks
	for name, n := range stats.Rows {
		metrics.RecordRows("loaded_"+name, int(n))
	}
	return err
}

// step moves the run to state, runs fn inside a span and records metrics.
func (ru *run) step(ctx context.Context, state State, name string, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		ru.failedAt = state
		return err
	}
	ru.setState(state)
	ru.emit(Event{Kind: EventState, State: state})

	ctx, span := ru.tracer().Start(ctx, "pipeline."+name)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	metrics.RecordStep(name, start, err)
	if err != nil {
		ru.failedAt = state
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		ru.logger()("stage=%s error run_id=%s err=%v", name, ru.sum.RunID, err)
	}
	return err
}

func (ru *run) reportQuality(rep quality.Report) {
	for _, w := range rep.Warnings {
		ru.emit(Event{
			Kind:    EventWarning,
			Message: w.Message,
			Fields:  map[string]any{"entity": w.Entity, "check": w.Check, "count": w.Count},
		})
	}
	metrics.RecordDropped("duplicate", rep.TotalDuplicates())
	metrics.RecordDropped("invalid_key", rep.TotalInvalidKeys())
	metrics.RecordDropped("invalid_date", rep.InvalidDates)
	metrics.RecordDropped("business_rule", rep.BusinessRules.Total())
	metrics.RecordQualityScore(rep.Score)
}

func (ru *run) emit(e Event) {
	e.RunID = ru.sum.RunID
	e.Time = ru.clock()()
	ru.events().Emit(e)
}

func (r *Runner) setState(s State) {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	r.state = s
}

func (r *Runner) openRepository(ctx context.Context) (storage.Repository, error) {
	newRepo := r.NewRepository
	if newRepo == nil {
		newRepo = storage.New
	}
	repo, err := newRepo(ctx, storage.Config{Kind: r.Config.Storage.Kind, DSN: r.Config.Storage.DSN})
	if err != nil {
		return nil, fmt.Errorf("open warehouse: %w", err)
	}
	return repo, nil
}

func (r *Runner) loader(repo storage.Repository) *warehouse.Loader {
	return &warehouse.Loader{
		Repo:      repo,
		Logger:    r.Logger,
		ChunkSize: r.Config.Runtime.FactChunkSize,
		Workers:   r.Config.Runtime.LoaderWorkers,
		Timeout:   r.Config.Runtime.LoadTimeout.Duration,
	}
}

func (r *Runner) extractor() Extractor {
	if r.Extractor == nil {
		return &source.Reader{Logger: r.Logger}
	}
	return r.Extractor
}

func (r *Runner) events() EventSink {
	if r.Events == nil {
		return nopSink{}
	}
	return r.Events
}

func (r *Runner) tracer() trace.Tracer {
	if r.Tracer == nil {
		return otel.Tracer("salesetl/pipeline")
	}
	return r.Tracer
}

func (r *Runner) clock() func() time.Time {
	if r.now == nil {
		return time.Now
	}
	return r.now
}

func (r *Runner) logger() func(format string, v ...any) {
	if r.Logger == nil {
		return log.New(io.Discard, "", 0).Printf
	}
	return r.Logger.Printf
}
