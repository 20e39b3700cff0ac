// Package table holds loosely typed in-memory tables shared by the source
// reader, the quality validator and the transformer.
//
// A cell is one of: nil (missing), string, int64, float64, decimal.Decimal,
// bool or time.Time.
// Readers produce strings; later stages replace cells with parsed values.
package table

import "strings"

// Row is one record aligned to Table.Columns.
type Row []any

// Table is a named, column-ordered set of rows.
type Table struct {
	Name    string
	Columns []string
	Rows    []Row

	index map[string]int
}

// New returns an empty table with the given columns.
func New(name string, columns []string) *Table {
	t := &Table{Name: name, Columns: append([]string(nil), columns...)}
	t.reindex()
	return t
}

func (t *Table) reindex() {
	t.index = make(map[string]int, len(t.Columns))
	for i, c := range t.Columns {
		t.index[c] = i
	}
}

// Len returns the number of rows. A nil table has zero rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Index returns the position of column or -1.
func (t *Table) Index(column string) int {
	if t.index == nil || len(t.index) != len(t.Columns) {
		t.reindex()
	}
	if i, ok := t.index[column]; ok {
		return i
	}
	return -1
}

// Has reports whether column exists.
func (t *Table) Has(column string) bool { return t.Index(column) >= 0 }

// Append adds a row. Short rows are padded with nil, long rows truncated.
func (t *Table) Append(r Row) {
	if len(r) != len(t.Columns) {
		fixed := make(Row, len(t.Columns))
		copy(fixed, r)
		r = fixed
	}
	t.Rows = append(t.Rows, r)
}

// Value returns the cell at (row, column), nil when the column is unknown.
func (t *Table) Value(row int, column string) any {
	i := t.Index(column)
	if i < 0 || row < 0 || row >= len(t.Rows) {
		return nil
	}
	return t.Rows[row][i]
}

// WithRows returns a table sharing name and columns with t but holding rows.
func (t *Table) WithRows(rows []Row) *Table {
	out := &Table{Name: t.Name, Columns: t.Columns, Rows: rows}
	out.reindex()
	return out
}

// Filter returns a new table with the rows for which keep is true, in order,
// and the number of rows dropped.
func (t *Table) Filter(keep func(Row) bool) (*Table, int) {
	rows := make([]Row, 0, len(t.Rows))
	for _, r := range t.Rows {
		if keep(r) {
			rows = append(rows, r)
		}
	}
	return t.WithRows(rows), len(t.Rows) - len(rows)
}

// Project returns a copy narrowed to columns, in the given order. Unknown
// columns project as nil.
func (t *Table) Project(name string, columns []string) *Table {
	ix := make([]int, len(columns))
	for i, c := range columns {
		ix[i] = t.Index(c)
	}
	out := New(name, columns)
	out.Rows = make([]Row, 0, len(t.Rows))
	for _, r := range t.Rows {
		nr := make(Row, len(columns))
		for i, si := range ix {
			if si >= 0 {
				nr[i] = r[si]
			}
		}
		out.Rows = append(out.Rows, nr)
	}
	return out
}

// Clone deep-copies the row slices (cells are immutable values).
func (t *Table) Clone() *Table {
	out := New(t.Name, t.Columns)
	out.Rows = make([]Row, len(t.Rows))
	for i, r := range t.Rows {
		out.Rows[i] = append(Row(nil), r...)
	}
	return out
}

// IsMissing reports whether a cell counts as a missing value.
func IsMissing(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	}
	return false
}
