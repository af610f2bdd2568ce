package query

import (
	"context"
	"fmt"
	"sort"

	"github.com/aurelle-dev/threadlens/internal/dataset"
	"github.com/aurelle-dev/threadlens/internal/domain"
	"github.com/aurelle-dev/threadlens/internal/table"
)

// SimCol names the per-query similarity column for query index i.
func SimCol(i int) string { return fmt.Sprintf("sim%d", i) }

// Resolve selects the candidate rows for a request and attaches one
// similarity column per query. The columns travel with the table from
// here on, so later filters can never desynchronize rows from their
// similarities.
//
// vectors holds one embedding per query, in request order. With no
// queries the whole table passes through with pre-filters applied and
// no similarity columns.
func Resolve(ctx context.Context, d *dataset.Dataset, req *Request, vectors [][]float32) (*table.Table, []string, error) {
	if len(vectors) != len(req.Queries) {
		return nil, nil, fmt.Errorf("got %d vectors for %d queries", len(vectors), len(req.Queries))
	}

	// The pipeline mutates the table it gets, so even the no-query path
	// hands back a copy of the dataset table rather than the table itself.
	if len(req.Queries) == 0 {
		rows, err := clipRows(d.Table, req.PreFilterClip)
		if err != nil {
			return nil, nil, err
		}
		return d.Table.Take(rows), nil, nil
	}

	if req.PreFilterANN != nil {
		return resolveANN(ctx, d, req, vectors)
	}
	return resolveDense(d, req, vectors)
}

// resolveANN restricts candidates to the union of each query's top-K
// neighbors. A row missing from one query's top-K but present in
// another's gets similarity 0 for the query that missed it.
func resolveANN(ctx context.Context, d *dataset.Dataset, req *Request, vectors [][]float32) (*table.Table, []string, error) {
	if d.Index == nil {
		return nil, nil, fmt.Errorf("%w: dataset %s has no ANN index", domain.ErrIndexUnavailable, d.Name)
	}

	hits, err := d.Index.Query(ctx, vectors, *req.PreFilterANN)
	if err != nil {
		return nil, nil, fmt.Errorf("ann query: %w", err)
	}

	// Union of hit rows, keyed by table row so the subset keeps the
	// dataset's row order. Ids the index knows but the table does not
	// are dropped.
	simByRow := make(map[int][]float32)
	for qi, qhits := range hits {
		for _, h := range qhits {
			row, ok := d.RowByID(h.ID)
			if !ok {
				continue
			}
			sims, ok := simByRow[row]
			if !ok {
				sims = make([]float32, len(vectors))
				simByRow[row] = sims
			}
			sims[qi] = 1 - h.Distance
		}
	}

	rows := make([]int, 0, len(simByRow))
	for row := range simByRow {
		rows = append(rows, row)
	}
	sort.Ints(rows)

	t := d.Table.Take(rows)
	simCols := make([]string, len(vectors))
	for qi := range vectors {
		col := make([]float32, len(rows))
		for i, row := range rows {
			col[i] = simByRow[row][qi]
		}
		simCols[qi] = SimCol(qi)
		if err := t.Set(simCols[qi], table.Float32s(col)); err != nil {
			return nil, nil, err
		}
	}

	t, err = applyClips(t, req.PreFilterClip, "pre_filter_clip")
	if err != nil {
		return nil, nil, err
	}
	return t, simCols, nil
}

// resolveDense pre-filters first, then computes exact dot products for
// the surviving rows only.
func resolveDense(d *dataset.Dataset, req *Request, vectors [][]float32) (*table.Table, []string, error) {
	rows, err := clipRows(d.Table, req.PreFilterClip)
	if err != nil {
		return nil, nil, err
	}
	t := d.Table.Take(rows)

	simCols := make([]string, len(vectors))
	for qi, vec := range vectors {
		if len(vec) != d.EmbDim() {
			return nil, nil, fmt.Errorf("query %d: embedding has dim %d, dataset has %d", qi, len(vec), d.EmbDim())
		}
		col := make([]float32, len(rows))
		for i, row := range rows {
			col[i] = dot(d.EmbRow(row), vec)
		}
		simCols[qi] = SimCol(qi)
		if err := t.Set(simCols[qi], table.Float32s(col)); err != nil {
			return nil, nil, err
		}
	}
	return t, simCols, nil
}

// numericCol resolves a request-referenced column and rejects
// non-numeric ones before any per-row access. field names the request
// field for error messages.
func numericCol(t *table.Table, name, field string) (*table.Column, error) {
	col, ok := t.Col(name)
	if !ok {
		return nil, domain.NewUnknownColumn(name, field)
	}
	if !col.IsNumeric() {
		return nil, fmt.Errorf("%w: %s column %q is not numeric", domain.ErrInvalidRequest, field, name)
	}
	return col, nil
}

// clipRows returns the row indices surviving every clip, in order.
func clipRows(t *table.Table, clips map[string]Clip) ([]int, error) {
	keep := make([]bool, t.Len())
	for i := range keep {
		keep[i] = true
	}
	for _, name := range sortedKeys(clips) {
		col, err := numericCol(t, name, "pre_filter_clip")
		if err != nil {
			return nil, err
		}
		clip := clips[name]
		for i := range keep {
			if keep[i] && !clip.Contains(col.Float64At(i)) {
				keep[i] = false
			}
		}
	}
	rows := make([]int, 0, t.Len())
	for i, k := range keep {
		if k {
			rows = append(rows, i)
		}
	}
	return rows, nil
}

// applyClips filters the table by every clip. field names the request
// field for error messages.
func applyClips(t *table.Table, clips map[string]Clip, field string) (*table.Table, error) {
	for _, name := range sortedKeys(clips) {
		col, err := numericCol(t, name, field)
		if err != nil {
			return nil, err
		}
		clip := clips[name]
		mask := make([]bool, t.Len())
		for i := range mask {
			mask[i] = clip.Contains(col.Float64At(i))
		}
		t = t.Filter(mask)
	}
	return t, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func dot(a, b []float32) float32 {
	var acc float32
	for i, v := range a {
		acc += v * b[i]
	}
	return acc
}
