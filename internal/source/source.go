// Package source loads the four raw extracts (stores, products, customers,
// sales) into in-memory tables.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"salesetl/internal/config"
	"salesetl/internal/table"
)

// Logger is the minimal logging interface used by the reader.
// *log.Logger satisfies this interface.
type Logger interface {
	Printf(format string, v ...any)
}

// RequiredColumns lists the columns each entity must carry after header
// normalization. Extra columns are kept and ignored downstream.
var RequiredColumns = map[string][]string{
	config.EntityStores:    {"store_id", "store_name", "city", "region", "store_type", "opening_date"},
	config.EntityProducts:  {"product_id", "product_name", "category", "brand", "price", "cost"},
	config.EntityCustomers: {"customer_id", "customer_name", "gender", "age", "age_group", "city", "email"},
	config.EntitySales:     {"sale_id", "sale_date", "store_id", "product_id", "customer_id", "quantity", "revenue", "cost", "profit"},
}

// ErrMissingColumn is wrapped by ExtractError when a required column is absent.
var ErrMissingColumn = errors.New("missing required column")

// ExtractError reports the source that could not be read. It is fatal: no
// partial snapshot is ever returned alongside it.
type ExtractError struct {
	Source string
	Path   string
	Err    error
}

func (e *ExtractError) Error() string {
	return fmt.Sprintf("extract %s (%s): %v", e.Source, e.Path, e.Err)
}

func (e *ExtractError) Unwrap() error { return e.Err }

// Snapshot is the raw content of the four extracts for one run.
type Snapshot struct {
	Stores    *table.Table
	Products  *table.Table
	Customers *table.Table
	Sales     *table.Table
}

// Table returns the table for entity (nil for an unknown name).
func (s Snapshot) Table(entity string) *table.Table {
	switch entity {
	case config.EntityStores:
		return s.Stores
	case config.EntityProducts:
		return s.Products
	case config.EntityCustomers:
		return s.Customers
	case config.EntitySales:
		return s.Sales
	}
	return nil
}

// Counts returns row counts keyed by entity.
func (s Snapshot) Counts() map[string]int {
	out := make(map[string]int, len(config.Entities))
	for _, e := range config.Entities {
		out[e] = s.Table(e).Len()
	}
	return out
}

// Opener resolves a source address to a byte stream.
type Opener interface {
	Open(ctx context.Context, path string) (io.ReadCloser, error)
}

// Reader extracts the configured sources.
type Reader struct {
	// Opener resolves paths; nil means DefaultOpener.
	Opener Opener
	Logger Logger
}

// Extract reads all four sources with a default Reader.
func Extract(ctx context.Context, sources config.Sources) (Snapshot, error) {
	return (&Reader{}).Extract(ctx, sources)
}

// Extract reads stores, products, customers and sales, in that order.
//
// Errors:
//   - *ExtractError for the first source that cannot be opened, parsed, or
//     lacks a required column. The returned Snapshot is empty in that case.
//   - ctx cancellation is reported as an *ExtractError wrapping ctx.Err().
func (r *Reader) Extract(ctx context.Context, sources config.Sources) (Snapshot, error) {
	logf := r.logger()
	var snap Snapshot
	for _, entity := range config.Entities {
		src, _ := sources.ByEntity(entity)
		start := time.Now()
		t, err := r.readOne(ctx, entity, src)
		if err != nil {
			return Snapshot{}, &ExtractError{Source: entity, Path: src.Path, Err: err}
		}
		logf("stage=extract source=%s rows=%d columns=%d duration=%s",
			entity, t.Len(), len(t.Columns), time.Since(start).Truncate(time.Millisecond))
		switch entity {
		case config.EntityStores:
			snap.Stores = t
		case config.EntityProducts:
			snap.Products = t
		case config.EntityCustomers:
			snap.Customers = t
		case config.EntitySales:
			snap.Sales = t
		}
	}
	return snap, nil
}

func (r *Reader) readOne(ctx context.Context, entity string, src config.Source) (*table.Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(src.Path) == "" {
		return nil, errors.New("empty path")
	}
	format := strings.ToLower(src.Format)
	if format == "" {
		format = config.InferFormat(src.Path)
	}

	rc, err := r.opener().Open(ctx, src.Path)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	defer rc.Close()

	var t *table.Table
	switch format {
	case "csv":
		t, err = ReadCSV(ctx, entity, rc, src.Options)
	case "xlsx":
		t, err = ReadXLSX(ctx, entity, rc, src.Sheet, src.Options)
	default:
		return nil, fmt.Errorf("unsupported format %q", src.Format)
	}
	if err != nil {
		return nil, err
	}
	if err := checkRequired(entity, t); err != nil {
		return nil, err
	}
	return t, nil
}

func checkRequired(entity string, t *table.Table) error {
	var missing []string
	for _, c := range RequiredColumns[entity] {
		if !t.Has(c) {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingColumn, strings.Join(missing, ", "))
	}
	return nil
}

func (r *Reader) opener() Opener {
	if r.Opener == nil {
		return DefaultOpener
	}
	return r.Opener
}

func (r *Reader) logger() func(format string, v ...any) {
	if r.Logger == nil {
		return log.New(io.Discard, "", 0).Printf
	}
	return r.Logger.Printf
}
