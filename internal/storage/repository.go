// Package storage defines the warehouse repository contract and the backend
// registry. Backends (postgres, sqlite, mssql, mysql) register themselves from
// init(); import internal/storage/all to link every backend.
package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Config is the minimal configuration needed to create a Repository.
//
// Edge cases:
//   - Kind must be non-empty and must match a registered backend kind.
//   - DSN is passed through to the backend factory; validation is backend-specific.
type Config struct {
	Kind string
	DSN  string
}

// Repository is a backend-agnostic interface for loading the star schema.
//
// The interface is intentionally minimal: the loader owns ordering and
// chunking, and each backend implements these operations in its own idiomatic
// way (COPY for Postgres, multi-row VALUES for SQLite and MySQL, bulk copy
// for SQL Server).
type Repository interface {
	// Close releases backend resources. Call once.
	Close()

	// EnsureTables creates tables with AutoCreateTable set when they do not
	// exist. Existing tables are left untouched.
	EnsureTables(ctx context.Context, tables []TableSpec) error

	// ClearTables deletes every row of tables, in the given order, inside a
	// single transaction. Foreign-key enforcement is suspended only inside that
	// transaction and is restored before ClearTables returns. Tables that do
	// not exist are skipped. Either all tables are cleared or none is.
	ClearTables(ctx context.Context, tables []string) error

	// InsertRows appends rows to table. Every row has len(columns) values.
	// Returns the number of rows written.
	InsertRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error)

	// CountRows returns the number of rows in table.
	CountRows(ctx context.Context, table string) (int64, error)
}

// Factory builds a Repository for a Config.
type Factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register registers a backend under a kind (e.g. "postgres", "sqlite").
//
// When to use:
//   - Call Register from an init() function in a backend package.
//
// Panics:
//   - If kind is empty, f is nil, or kind is already registered.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}
	factories[kind] = f
}

// New constructs a Repository using the registered backend factory.
//
// Concurrency:
//   - Safe for concurrent use with Register.
//
// Errors:
//   - Returns an error if cfg.Kind is empty or unsupported.
//   - Returns whatever error the registered factory returns.
func New(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing storage.kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported storage.kind=%s (registered: %v)", cfg.Kind, Kinds())
	}
	return f(ctx, cfg)
}

// Kinds lists registered backend kinds, sorted.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
