package storage

import (
	"fmt"
	"strings"
)

// Logical column types. Each backend maps them to native types.
const (
	TypeInteger = "integer"
	TypeBigint  = "bigint"
	TypeText    = "text"
	TypeDate    = "date"
	TypeDecimal = "decimal"
	TypeBoolean = "boolean"
)

// TableSpec describes a warehouse table for DDL.
type TableSpec struct {
	Name            string       `json:"name"`
	AutoCreateTable bool         `json:"auto_create_table"`
	Columns         []ColumnSpec `json:"columns"`

	// PrimaryKey lists the primary key columns, in order.
	PrimaryKey []string `json:"primary_key,omitempty"`
}

// ColumnSpec is one column of a TableSpec.
type ColumnSpec struct {
	Name string `json:"name"`
	Type string `json:"type"`

	// References is a raw "table(column)" foreign key target.
	References string `json:"references,omitempty"`

	// Nullable defaults to true when nil.
	Nullable *bool `json:"nullable,omitempty"`
}

// IsNullable reports the effective nullability.
func (c ColumnSpec) IsNullable() bool {
	return c.Nullable == nil || *c.Nullable
}

// ColumnNames returns the column names in order.
func (t TableSpec) ColumnNames() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Name
	}
	return out
}

// Validate checks names, types and that primary key columns exist.
func (t TableSpec) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("table name is empty")
	}
	if len(t.Columns) == 0 {
		return fmt.Errorf("table %s: no columns", t.Name)
	}
	seen := map[string]bool{}
	for _, c := range t.Columns {
		if strings.TrimSpace(c.Name) == "" {
			return fmt.Errorf("table %s: column name is empty", t.Name)
		}
		if seen[c.Name] {
			return fmt.Errorf("table %s: duplicate column %s", t.Name, c.Name)
		}
		seen[c.Name] = true
		switch c.Type {
		case TypeInteger, TypeBigint, TypeText, TypeDate, TypeDecimal, TypeBoolean:
		default:
			return fmt.Errorf("table %s: column %s: unsupported type %q", t.Name, c.Name, c.Type)
		}
	}
	for _, pk := range t.PrimaryKey {
		if !seen[pk] {
			return fmt.Errorf("table %s: primary key column %s not defined", t.Name, pk)
		}
	}
	return nil
}

// SplitReference splits "dim_date(date_id)" into ("dim_date", "date_id").
func SplitReference(ref string) (table, column string, err error) {
	ref = strings.TrimSpace(ref)
	open := strings.IndexByte(ref, '(')
	if open <= 0 || !strings.HasSuffix(ref, ")") {
		return "", "", fmt.Errorf("invalid reference %q, want table(column)", ref)
	}
	return strings.TrimSpace(ref[:open]), strings.TrimSpace(ref[open+1 : len(ref)-1]), nil
}
