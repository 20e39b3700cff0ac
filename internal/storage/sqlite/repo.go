package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"salesetl/internal/storage"
)

// defaultMaxParams matches SQLITE_MAX_VARIABLE_NUMBER in modernc.org/sqlite.
const defaultMaxParams = 32766

// Repo implements storage.Repository for SQLite.
//
// Key differences vs Postgres:
//   - SQLite has no DATE type. Dates are stored as "2006-01-02" TEXT so they
//     sort and compare correctly.
//   - Booleans are stored as INTEGER 0/1.
//   - Foreign keys are enforced only when the connection enables
//     PRAGMA foreign_keys. ClearTables disables enforcement on a pinned
//     connection for the duration of the delete.
type Repo struct {
	db        *sql.DB
	maxParams int
}

func init() {
	storage.Register("sqlite", New)
}

// New opens the database at cfg.DSN (a path or file: URI).
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db, maxParams: defaultMaxParams}, nil
}

func (r *Repo) Close() { _ = r.db.Close() }

// EnsureTables creates missing tables in the given order.
func (r *Repo) EnsureTables(ctx context.Context, tables []storage.TableSpec) error {
	for _, t := range tables {
		if !t.AutoCreateTable {
			continue
		}
		ddl, err := buildCreateTableSQL(t)
		if err != nil {
			return err
		}
		if _, err := r.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table %s: %w", t.Name, err)
		}
	}
	return nil
}

// ClearTables deletes every row from the existing tables among tables in a
// single transaction. Missing tables are skipped.
func (r *Repo) ClearTables(ctx context.Context, tables []string) (err error) {
	conn, err := r.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	// foreign_keys is a no-op inside a transaction, so toggle it around one
	// and restore whatever the DSN configured.
	var fk int
	if err := conn.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&fk); err != nil {
		return err
	}
	if _, err := conn.ExecContext(ctx, "PRAGMA foreign_keys = OFF"); err != nil {
		return err
	}
	defer func() {
		restore := fmt.Sprintf("PRAGMA foreign_keys = %d", fk)
		if _, ferr := conn.ExecContext(context.Background(), restore); ferr != nil && err == nil {
			err = ferr
		}
	}()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, t := range tables {
		var n int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, t,
		).Scan(&n); err != nil {
			return fmt.Errorf("lookup %s: %w", t, err)
		}
		if n == 0 {
			continue
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+sqlIdent(t)); err != nil {
			return fmt.Errorf("clear %s: %w", t, err)
		}
	}
	return tx.Commit()
}

// InsertRows performs chunked multi-row inserts inside one transaction.
func (r *Repo) InsertRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(columns) == 0 {
		return 0, fmt.Errorf("insert %s: no columns", table)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var total int64
	for _, chunk := range chunkRows(rows, rowsPerStatement(r.maxParams, len(columns))) {
		q, args := buildInsertSQL(table, columns, chunk)
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return 0, fmt.Errorf("insert %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return total, nil
}

// CountRows returns SELECT COUNT(*) for table.
func (r *Repo) CountRows(ctx context.Context, table string) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+sqlIdent(table)).Scan(&n)
	return n, err
}

// sqlIdent quotes identifiers for SQLite.
func sqlIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func sqliteType(logical string) string {
	switch logical {
	case storage.TypeInteger, storage.TypeBigint, storage.TypeBoolean:
		return "INTEGER"
	case storage.TypeDecimal:
		return "REAL"
	}
	return "TEXT"
}

func buildCreateTableSQL(t storage.TableSpec) (string, error) {
	if err := t.Validate(); err != nil {
		return "", err
	}
	pk := map[string]bool{}
	for _, c := range t.PrimaryKey {
		pk[c] = true
	}

	parts := make([]string, 0, len(t.Columns)+1)
	for _, c := range t.Columns {
		col := fmt.Sprintf("%s %s", sqlIdent(c.Name), sqliteType(c.Type))
		if pk[c.Name] || !c.IsNullable() {
			col += " NOT NULL"
		}
		if c.References != "" {
			rt, rc, err := storage.SplitReference(c.References)
			if err != nil {
				return "", fmt.Errorf("table %s: %w", t.Name, err)
			}
			col += fmt.Sprintf(" REFERENCES %s(%s)", sqlIdent(rt), sqlIdent(rc))
		}
		parts = append(parts, col)
	}
	if len(t.PrimaryKey) > 0 {
		cols := make([]string, 0, len(t.PrimaryKey))
		for _, c := range t.PrimaryKey {
			cols = append(cols, sqlIdent(c))
		}
		parts = append(parts, "PRIMARY KEY ("+strings.Join(cols, ", ")+")")
	}

	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (%s);`, sqlIdent(t.Name), strings.Join(parts, ", ")), nil
}

// buildInsertSQL renders one multi-row INSERT and its flattened arguments.
func buildInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	colList := make([]string, 0, len(columns))
	for _, c := range columns {
		colList = append(colList, sqlIdent(c))
	}
	placeholders := "(" + strings.TrimRight(strings.Repeat("?,", len(columns)), ",") + ")"

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(sqlIdent(table))
	b.WriteString(" (")
	b.WriteString(strings.Join(colList, ", "))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(placeholders)
		for j := range columns {
			var v any
			if j < len(row) {
				v = row[j]
			}
			args = append(args, sqliteValue(v))
		}
	}
	return b.String(), args
}

// sqliteValue converts values without a native SQLite representation.
func sqliteValue(v any) any {
	switch x := v.(type) {
	case time.Time:
		if x.Hour() == 0 && x.Minute() == 0 && x.Second() == 0 && x.Nanosecond() == 0 {
			return x.Format("2006-01-02")
		}
		return x.UTC().Format(time.RFC3339Nano)
	case bool:
		if x {
			return int64(1)
		}
		return int64(0)
	}
	return v
}

func rowsPerStatement(maxParams, columns int) int {
	if columns <= 0 {
		return 1
	}
	n := maxParams / columns
	if n < 1 {
		n = 1
	}
	return n
}

func chunkRows(rows [][]any, size int) [][][]any {
	if size <= 0 {
		size = len(rows)
	}
	out := make([][][]any, 0, (len(rows)+size-1)/size)
	for start := 0; start < len(rows); start += size {
		end := min(start+size, len(rows))
		out = append(out, rows[start:end])
	}
	return out
}
