package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"salesetl/internal/storage"
)

/*
Repo implements storage.Repository for Postgres.

It provides:
  - CREATE TABLE IF NOT EXISTS bootstrap
  - ClearTables as one multi-table TRUNCATE inside a transaction; truncating
    the fact table together with the dimensions it references satisfies the
    foreign keys without disabling them
  - InsertRows via the COPY protocol (pgx CopyFrom)
*/
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a Postgres-backed Repo and verifies connectivity.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Repo{pool: pool}, nil
}

// Close closes the connection pool.
func (r *Repo) Close() {
	r.pool.Close()
}

// EnsureTables creates missing tables. Tables are created in the given order,
// so referenced dimensions must precede the fact table.
func (r *Repo) EnsureTables(ctx context.Context, tables []storage.TableSpec) error {
	for _, t := range tables {
		if !t.AutoCreateTable {
			continue
		}
		ddl, err := buildCreateSQL(t)
		if err != nil {
			return err
		}
		if _, err := r.pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("postgres: create table %s: %w", t.Name, err)
		}
	}
	return nil
}

// ClearTables truncates the existing tables among tables in one statement.
func (r *Repo) ClearTables(ctx context.Context, tables []string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	existing := make([]string, 0, len(tables))
	for _, t := range tables {
		var ok bool
		if err := tx.QueryRow(ctx, `SELECT to_regclass($1) IS NOT NULL`, t).Scan(&ok); err != nil {
			return fmt.Errorf("postgres: lookup %s: %w", t, err)
		}
		if ok {
			existing = append(existing, t)
		}
	}

	if q := buildTruncateSQL(existing); q != "" {
		if _, err := tx.Exec(ctx, q); err != nil {
			return fmt.Errorf("postgres: truncate: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// InsertRows streams rows with COPY.
func (r *Repo) InsertRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	return r.pool.CopyFrom(ctx, identifier(table), columns, pgx.CopyFromRows(rows))
}

// CountRows returns SELECT COUNT(*) for table.
func (r *Repo) CountRows(ctx context.Context, table string) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+pgTableIdent(table)).Scan(&n)
	return n, err
}

// buildTruncateSQL returns one TRUNCATE for all tables, or "" when empty.
func buildTruncateSQL(tables []string) string {
	if len(tables) == 0 {
		return ""
	}
	parts := make([]string, len(tables))
	for i, t := range tables {
		parts[i] = pgTableIdent(t)
	}
	return "TRUNCATE TABLE " + strings.Join(parts, ", ") + ";"
}

// buildCreateSQL renders CREATE TABLE IF NOT EXISTS for t.
//
// Nullable semantics follow storage.ColumnSpec: nil means NULL allowed.
// Primary key columns are always NOT NULL.
func buildCreateSQL(t storage.TableSpec) (string, error) {
	if err := t.Validate(); err != nil {
		return "", err
	}
	pk := map[string]bool{}
	for _, c := range t.PrimaryKey {
		pk[c] = true
	}

	defs := make([]string, 0, len(t.Columns)+1)
	for _, c := range t.Columns {
		var b strings.Builder
		b.WriteString(pgIdent(c.Name))
		b.WriteString(" ")
		b.WriteString(pgType(c.Type))
		if pk[c.Name] || !c.IsNullable() {
			b.WriteString(" NOT NULL")
		}
		if ref := strings.TrimSpace(c.References); ref != "" {
			rt, rc, err := storage.SplitReference(ref)
			if err != nil {
				return "", fmt.Errorf("table %s: %w", t.Name, err)
			}
			b.WriteString(" REFERENCES ")
			b.WriteString(pgTableIdent(rt))
			b.WriteString(" (")
			b.WriteString(pgIdent(rc))
			b.WriteString(")")
		}
		defs = append(defs, b.String())
	}
	if len(t.PrimaryKey) > 0 {
		cols := make([]string, len(t.PrimaryKey))
		for i, c := range t.PrimaryKey {
			cols[i] = pgIdent(c)
		}
		defs = append(defs, "PRIMARY KEY ("+strings.Join(cols, ", ")+")")
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n);", pgTableIdent(t.Name), strings.Join(defs, ",\n  ")), nil
}

func pgType(logical string) string {
	switch logical {
	case storage.TypeInteger:
		return "INTEGER"
	case storage.TypeBigint:
		return "BIGINT"
	case storage.TypeDate:
		return "DATE"
	case storage.TypeDecimal:
		return "NUMERIC(14,2)"
	case storage.TypeBoolean:
		return "BOOLEAN"
	}
	return "TEXT"
}

// pgIdent quotes an identifier, escaping embedded quotes.
func pgIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

// pgTableIdent quotes each part of a possibly schema-qualified name.
//
// Example: "public.fact_sales" -> "public"."fact_sales"
func pgTableIdent(name string) string {
	parts := strings.Split(strings.TrimSpace(name), ".")
	for i := range parts {
		parts[i] = pgIdent(strings.TrimSpace(parts[i]))
	}
	return strings.Join(parts, ".")
}

func identifier(name string) pgx.Identifier {
	parts := strings.Split(strings.TrimSpace(name), ".")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return pgx.Identifier(parts)
}
