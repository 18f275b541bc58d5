// Package sheet holds the flat tabular model shared by the session service:
// the tagged cell Value, the Table, and the codecs that parse uploads into
// tables and encode tables for export.
//
// A committed Table is treated as immutable. Mutating helpers such as
// [Table.WithCell] return a new Table that shares untouched rows with the
// original, which is what lets readers hold a snapshot while a writer
// prepares the next revision.
package sheet

import (
	"errors"
	"fmt"
)

// ErrDuplicateColumn is returned when a table would contain two columns
// with the same name.
var ErrDuplicateColumn = errors.New("duplicate column")

// Table is an ordered set of uniquely named columns and positional rows.
// Each row holds exactly one Value per column.
type Table struct {
	columns []string
	index   map[string]int
	rows    [][]Value
}

// New builds a table, padding short rows with Empty. It fails on duplicate
// column names or rows wider than the header.
func New(columns []string, rows [][]Value) (*Table, error) {
	index := make(map[string]int, len(columns))
	for i, c := range columns {
		if _, dup := index[c]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateColumn, c)
		}
		index[c] = i
	}

	out := make([][]Value, len(rows))
	for i, r := range rows {
		if len(r) > len(columns) {
			return nil, fmt.Errorf("row %d has %d values for %d columns", i, len(r), len(columns))
		}
		row := make([]Value, len(columns))
		copy(row, r)
		out[i] = row
	}

	return &Table{
		columns: append([]string(nil), columns...),
		index:   index,
		rows:    out,
	}, nil
}

// MustNew is New for tests and literals; it panics on error.
func MustNew(columns []string, rows [][]Value) *Table {
	t, err := New(columns, rows)
	if err != nil {
		panic(err)
	}
	return t
}

// Columns returns a copy of the column names in order.
func (t *Table) Columns() []string {
	return append([]string(nil), t.columns...)
}

// NumRows returns the row count.
func (t *Table) NumRows() int { return len(t.rows) }

// NumColumns returns the column count.
func (t *Table) NumColumns() int { return len(t.columns) }

// ColumnIndex returns the position of a column.
func (t *Table) ColumnIndex(name string) (int, bool) {
	i, ok := t.index[name]
	return i, ok
}

// Cell returns the value at (row, column position).
func (t *Table) Cell(row, col int) Value {
	return t.rows[row][col]
}

// WithCell returns a copy of t with one cell replaced. Only the edited row
// is copied; the others are shared with t.
func (t *Table) WithCell(row, col int, v Value) *Table {
	rows := make([][]Value, len(t.rows))
	copy(rows, t.rows)
	edited := append([]Value(nil), t.rows[row]...)
	edited[col] = v
	rows[row] = edited
	return &Table{columns: t.columns, index: t.index, rows: rows}
}

// SameShape reports whether t and o have identical columns and row count.
func (t *Table) SameShape(o *Table) bool {
	if len(t.rows) != len(o.rows) || len(t.columns) != len(o.columns) {
		return false
	}
	for i := range t.columns {
		if t.columns[i] != o.columns[i] {
			return false
		}
	}
	return true
}

// Equal reports whether both tables hold the same columns and values.
func (t *Table) Equal(o *Table) bool {
	if !t.SameShape(o) {
		return false
	}
	for i := range t.rows {
		for j := range t.rows[i] {
			if !t.rows[i][j].Equal(o.rows[i][j]) {
				return false
			}
		}
	}
	return true
}

// Window returns up to limit records starting at offset, in row order.
func (t *Table) Window(offset, limit int) []map[string]any {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(t.rows) || limit <= 0 {
		return []map[string]any{}
	}
	end := offset + limit
	if end > len(t.rows) {
		end = len(t.rows)
	}

	out := make([]map[string]any, 0, end-offset)
	for i := offset; i < end; i++ {
		rec := make(map[string]any, len(t.columns))
		for c, name := range t.columns {
			rec[name] = t.rows[i][c].Interface()
		}
		out = append(out, rec)
	}
	return out
}
