package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"

	"salesetl/internal/storage"
)

// MySQL caps prepared statements at 65535 placeholders.
const maxParams = 65535

// Repo implements storage.Repository for MySQL and MariaDB.
//
// ClearTables pins one connection so FOREIGN_KEY_CHECKS, which is session
// scoped, applies to the transaction that deletes the rows.
type Repo struct {
	db *sql.DB
}

func init() {
	storage.Register("mysql", New)
}

// New parses cfg.DSN in go-sql-driver format (user:pass@tcp(host:3306)/db),
// forces parseTime so DATE columns scan as time.Time, and pings the server.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	mc, err := mysql.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("mysql: parse dsn: %w", err)
	}
	mc.ParseTime = true

	connector, err := mysql.NewConnector(mc)
	if err != nil {
		return nil, err
	}
	db := sql.OpenDB(connector)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Close() { _ = r.db.Close() }

// EnsureTables creates missing tables in the given order.
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
			return fmt.Errorf("mysql: create table %s: %w", t.Name, err)
		}
	}
	return nil
}

// ClearTables deletes every row from the existing tables among tables in a
// single transaction.
func (r *Repo) ClearTables(ctx context.Context, tables []string) (err error) {
	conn, err := r.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	var checks int
	if err := conn.QueryRowContext(ctx, "SELECT @@SESSION.foreign_key_checks").Scan(&checks); err != nil {
		return err
	}
	if _, err := conn.ExecContext(ctx, "SET FOREIGN_KEY_CHECKS = 0"); err != nil {
		return err
	}
	defer func() {
		restore := fmt.Sprintf("SET FOREIGN_KEY_CHECKS = %d", checks)
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
			`SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = ?`, t,
		).Scan(&n); err != nil {
			return fmt.Errorf("mysql: lookup %s: %w", t, err)
		}
		if n == 0 {
			continue
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+mysqlIdent(t)); err != nil {
			return fmt.Errorf("mysql: clear %s: %w", t, err)
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
		return 0, fmt.Errorf("mysql: insert %s: no columns", table)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	perStmt := max(maxParams/len(columns), 1)
	var total int64
	for start := 0; start < len(rows); start += perStmt {
		end := min(start+perStmt, len(rows))
		q, args := buildInsertSQL(table, columns, rows[start:end])
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return 0, fmt.Errorf("mysql: insert %s: %w", table, err)
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
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+mysqlIdent(table)).Scan(&n)
	return n, err
}

func buildCreateSQL(t storage.TableSpec) (string, error) {
	if err := t.Validate(); err != nil {
		return "", err
	}
	pk := map[string]bool{}
	for _, c := range t.PrimaryKey {
		pk[c] = true
	}

	defs := make([]string, 0, len(t.Columns)+1)
	var fks []string
	for _, c := range t.Columns {
		def := mysqlIdent(c.Name) + " " + mysqlType(c.Type)
		if pk[c.Name] || !c.IsNullable() {
			def += " NOT NULL"
		}
		defs = append(defs, def)

		// MySQL ignores inline REFERENCES, so foreign keys go in table constraints.
		if c.References != "" {
			rt, rc, err := storage.SplitReference(c.References)
			if err != nil {
				return "", fmt.Errorf("table %s: %w", t.Name, err)
			}
			fks = append(fks, fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s (%s)", mysqlIdent(c.Name), mysqlIdent(rt), mysqlIdent(rc)))
		}
	}
	if len(t.PrimaryKey) > 0 {
		cols := make([]string, len(t.PrimaryKey))
		for i, c := range t.PrimaryKey {
			cols[i] = mysqlIdent(c)
		}
		defs = append(defs, "PRIMARY KEY ("+strings.Join(cols, ", ")+")")
	}
	defs = append(defs, fks...)

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", mysqlIdent(t.Name), strings.Join(defs, ", ")), nil
}

func mysqlType(logical string) string {
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
		return "BOOLEAN"
	}
	return "VARCHAR(255)"
}

func buildInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	cols := make([]string, len(columns))
	for i, c := range columns {
		cols[i] = mysqlIdent(c)
	}
	placeholders := "(" + strings.TrimRight(strings.Repeat("?,", len(columns)), ",") + ")"

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(mysqlIdent(table))
	b.WriteString(" (")
	b.WriteString(strings.Join(cols, ", "))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(placeholders)
		for j := range columns {
			if j < len(row) {
				args = append(args, row[j])
			} else {
				args = append(args, nil)
			}
		}
	}
	return b.String(), args
}

// mysqlIdent backtick-quotes an identifier; a dotted name is schema-qualified.
func mysqlIdent(name string) string {
	parts := strings.Split(strings.TrimSpace(name), ".")
	for i := range parts {
		parts[i] = "`" + strings.ReplaceAll(strings.TrimSpace(parts[i]), "`", "``") + "`"
	}
	return strings.Join(parts, ".")
}
