// Package table is a small column-oriented row store. It backs the query
// pipeline: dataset snapshots expose one immutable Table, and every
// per-request derivation or filter produces a new request-local Table, so
// concurrent requests never synchronize.
package table

import (
	"fmt"
	"sort"
)

// Table is an ordered collection of equal-length named columns.
type Table struct {
	n     int
	names []string
	cols  map[string]*Column
}

// New creates an empty table expecting columns of length n.
func New(n int) *Table {
	return &Table{n: n, cols: make(map[string]*Column)}
}

// Len returns the row count.
func (t *Table) Len() int { return t.n }

// Names returns the column names in insertion order.
// The returned slice is shared; callers must not modify it.
func (t *Table) Names() []string { return t.names }

// Col returns the named column, or false if it does not exist.
func (t *Table) Col(name string) (*Column, bool) {
	c, ok := t.cols[name]
	return c, ok
}

// Has reports whether the named column exists.
func (t *Table) Has(name string) bool {
	_, ok := t.cols[name]
	return ok
}

// Set adds or replaces a column. New columns append to the column order.
func (t *Table) Set(name string, c *Column) error {
	if c.Len() != t.n {
		return fmt.Errorf("table: column %q has %d rows, table has %d", name, c.Len(), t.n)
	}
	if _, exists := t.cols[name]; !exists {
		t.names = append(t.names, name)
	}
	t.cols[name] = c
	return nil
}

// Drop removes a column if present.
func (t *Table) Drop(name string) {
	if _, ok := t.cols[name]; !ok {
		return
	}
	delete(t.cols, name)
	for i, n := range t.names {
		if n == name {
			t.names = append(t.names[:i], t.names[i+1:]...)
			break
		}
	}
}

// Take returns a new table holding the rows selected by idx, in order.
// Shared columns are copied, never aliased, so the source stays immutable.
func (t *Table) Take(idx []int) *Table {
	out := New(len(idx))
	out.names = append([]string(nil), t.names...)
	for _, name := range t.names {
		out.cols[name] = t.cols[name].take(idx)
	}
	return out
}

// Filter returns a new table with only the rows where mask is true.
func (t *Table) Filter(mask []bool) *Table {
	idx := make([]int, 0, len(mask))
	for i, keep := range mask {
		if keep {
			idx = append(idx, i)
		}
	}
	return t.Take(idx)
}

// SortBy returns a new table ordered by the named column. The sort is
// stable, so rows comparing equal keep their prior relative order and
// output is reproducible for identical inputs.
func (t *Table) SortBy(name string, asc bool) (*Table, error) {
	c, ok := t.cols[name]
	if !ok {
		return nil, fmt.Errorf("table: sort column %q not found", name)
	}
	idx := make([]int, t.n)
	for i := range idx {
		idx[i] = i
	}
	if c.Kind() == KindString {
		ss := c.StringValues()
		sort.SliceStable(idx, func(a, b int) bool {
			if asc {
				return ss[idx[a]] < ss[idx[b]]
			}
			return ss[idx[a]] > ss[idx[b]]
		})
	} else {
		sort.SliceStable(idx, func(a, b int) bool {
			if asc {
				return c.Float64At(idx[a]) < c.Float64At(idx[b])
			}
			return c.Float64At(idx[a]) > c.Float64At(idx[b])
		})
	}
	return t.Take(idx), nil
}

// Head returns a new table with at most limit rows. A negative limit
// returns the table unchanged.
func (t *Table) Head(limit int) *Table {
	if limit < 0 || limit >= t.n {
		return t
	}
	idx := make([]int, limit)
	for i := range idx {
		idx[i] = i
	}
	return t.Take(idx)
}
