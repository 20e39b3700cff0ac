package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	mssql "github.com/microsoft/go-mssqldb"

	"salesetl/internal/storage"
)

const (
	// SQL Server has a hard limit of 2100 parameters. We stay below that.
	maxParams = 2000

	// Batches at or above this size go through the TDS bulk-copy path.
	bulkThreshold = 1000
)

// Repo implements storage.Repository for Microsoft SQL Server.
//
// This implementation supports:
//   - OBJECT_ID guarded CREATE TABLE bootstrap.
//   - ClearTables in one transaction. Constraint checking on every listed
//     table is switched off (NOCHECK) for the deletes and re-enabled WITH
//     CHECK before commit, so existing rows are re-validated.
//   - InsertRows via parameterized multi-row INSERT for small batches and
//     bulk copy (mssql.CopyIn) for large ones, both inside a transaction.
type Repo struct {
	db dbConn
}

func init() {
	storage.Register("mssql", New)
}

// New constructs a Repo using database/sql and the "sqlserver" driver
// registered by github.com/microsoft/go-mssqldb.
//
// This method validates connectivity via PingContext.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	raw, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}

	// Conservative defaults for ETL-style bursty loads.
	raw.SetMaxOpenConns(64)
	raw.SetMaxIdleConns(64)

	if err := raw.PingContext(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	return &Repo{db: &sqlDB{db: raw}}, nil
}

// Close releases database resources held by this repository.
func (r *Repo) Close() {
	if r == nil || r.db == nil {
		return
	}
	_ = r.db.Close()
}

// EnsureTables creates missing tables in the given order.
//
// This method is idempotent and safe to run on every ETL invocation.
func (r *Repo) EnsureTables(ctx context.Context, tables []storage.TableSpec) error {
	for _, t := range tables {
		if !t.AutoCreateTable {
			continue
		}
		ddl, err := buildCreateSQL(t)
		if err != nil {
			return err
		}
		if _, err := r.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("mssql: create table %s: %w", t.Name, err)
		}
	}
	return nil
}

// ClearTables deletes every row from the existing tables among tables.
func (r *Repo) ClearTables(ctx context.Context, tables []string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	existing := make([]string, 0, len(tables))
	for _, t := range tables {
		var ok int
		if err := tx.QueryRowContext(ctx, objectExistsSQL, t).Scan(&ok); err != nil {
			return fmt.Errorf("mssql: lookup %s: %w", t, err)
		}
		if ok == 1 {
			existing = append(existing, t)
		}
	}

	for _, q := range buildClearSQL(existing) {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("mssql: clear: %w", err)
		}
	}
	return tx.Commit()
}

const objectExistsSQL = `SELECT CASE WHEN OBJECT_ID(@p1, N'U') IS NULL THEN 0 ELSE 1 END`

// buildClearSQL returns the statement sequence ClearTables runs in its transaction.
func buildClearSQL(tables []string) []string {
	if len(tables) == 0 {
		return nil
	}
	out := make([]string, 0, len(tables)*3)
	for _, t := range tables {
		out = append(out, "ALTER TABLE "+mssqlTableIdent(t)+" NOCHECK CONSTRAINT ALL;")
	}
	for _, t := range tables {
		out = append(out, "DELETE FROM "+mssqlTableIdent(t)+";")
	}
	for _, t := range tables {
		out = append(out, "ALTER TABLE "+mssqlTableIdent(t)+" WITH CHECK CHECK CONSTRAINT ALL;")
	}
	return out
}

// InsertRows inserts rows in one transaction.
func (r *Repo) InsertRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(columns) == 0 {
		return 0, fmt.Errorf("mssql: insert %s: no columns", table)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var n int64
	if len(rows) >= bulkThreshold {
		n, err = insertBulk(ctx, tx, table, columns, rows)
	} else {
		n, err = insertChunked(ctx, tx, table, columns, rows)
	}
	if err != nil {
		return 0, fmt.Errorf("mssql: insert %s: %w", table, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

func insertChunked(ctx context.Context, tx txConn, table string, columns []string, rows [][]any) (int64, error) {
	perStmt := maxParams / len(columns)
	if perStmt < 1 {
		perStmt = 1
	}
	var total int64
	for start := 0; start < len(rows); start += perStmt {
		end := min(start+perStmt, len(rows))
		q, args := buildBulkInsertSQL(table, columns, rows[start:end])
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return 0, err
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

// insertBulk streams rows through the driver's bulk-copy statement. Each
// ExecContext buffers one row; the final argument-less call flushes.
func insertBulk(ctx context.Context, tx txConn, table string, columns []string, rows [][]any) (int64, error) {
	stmt, err := tx.PrepareContext(ctx, mssql.CopyIn(mssqlTableIdent(table), mssql.BulkOptions{}, columns...))
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, padRow(row, len(columns))...); err != nil {
			return 0, err
		}
	}
	res, err := stmt.ExecContext(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountRows returns SELECT COUNT_BIG(*) for table.
func (r *Repo) CountRows(ctx context.Context, table string) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, "SELECT COUNT_BIG(*) FROM "+mssqlTableIdent(table)).Scan(&n)
	return n, err
}

// buildCreateSQL renders the guarded CREATE TABLE statement for t.
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
		def, err := mssqlColumnDef(c, pk[c.Name])
		if err != nil {
			return "", fmt.Errorf("table %s: %w", t.Name, err)
		}
		defs = append(defs, def)
	}
	if len(t.PrimaryKey) > 0 {
		cols := make([]string, len(t.PrimaryKey))
		for i, c := range t.PrimaryKey {
			cols[i] = mssqlIdent(c)
		}
		defs = append(defs, "PRIMARY KEY ("+strings.Join(cols, ", ")+")")
	}
	return wrapCreateIfMissing(t.Name, strings.Join(defs, ", ")), nil
}

// wrapCreateIfMissing wraps a CREATE TABLE statement in an OBJECT_ID guard.
//
// SQL Server has no CREATE TABLE IF NOT EXISTS.
func wrapCreateIfMissing(tableName string, innerDefs string) string {
	return fmt.Sprintf(
		"IF OBJECT_ID(N'%s', N'U') IS NULL BEGIN CREATE TABLE %s (%s); END;",
		strings.ReplaceAll(tableName, "'", "''"),
		mssqlTableIdent(tableName),
		innerDefs,
	)
}

func mssqlColumnDef(c storage.ColumnSpec, primary bool) (string, error) {
	var b strings.Builder
	b.WriteString(mssqlIdent(c.Name))
	b.WriteString(" ")
	b.WriteString(mssqlType(c.Type))
	if primary || !c.IsNullable() {
		b.WriteString(" NOT NULL")
	} else {
		b.WriteString(" NULL")
	}
	if c.References != "" {
		rt, rc, err := storage.SplitReference(c.References)
		if err != nil {
			return "", err
		}
		b.WriteString(" REFERENCES ")
		b.WriteString(mssqlTableIdent(rt))
		b.WriteString("(")
		b.WriteString(mssqlIdent(rc))
		b.WriteString(")")
	}
	return b.String(), nil
}

func mssqlType(logical string) string {
	switch logical {
	case storage.TypeInteger:
		return "INT"
	case storage.TypeBigint:
		return "BIGINT"
	case storage.TypeDate:
		return "DATE"
	case storage.TypeDecimal:
		return "DECIMAL(14,2)"
	case storage.TypeBoolean:
		return "BIT"
	}
	return "NVARCHAR(255)"
}

// buildBulkInsertSQL renders a multi-row INSERT with @pN placeholders.
func buildBulkInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	cols := make([]string, len(columns))
	for i, c := range columns {
		cols[i] = mssqlIdent(c)
	}

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(mssqlTableIdent(table))
	b.WriteString(" (")
	b.WriteString(strings.Join(cols, ", "))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString("@p")
			b.WriteString(strconv.Itoa(p))
			p++
		}
		b.WriteString(")")
		args = append(args, padRow(row, len(columns))...)
	}
	return b.String(), args
}

func padRow(row []any, n int) []any {
	if len(row) == n {
		return row
	}
	out := make([]any, n)
	copy(out, row)
	return out
}

// mssqlIdent returns a bracket-quoted identifier, escaping ']' as ']]'.
func mssqlIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// mssqlTableIdent returns a bracket-quoted identifier for schema-qualified names.
//
// Example:
//
//	"dbo.fact_sales" -> [dbo].[fact_sales]
func mssqlTableIdent(name string) string {
	parts := strings.Split(name, ".")
	for i := range parts {
		parts[i] = mssqlIdent(strings.TrimSpace(parts[i]))
	}
	return strings.Join(parts, ".")
}
