// Package dataset loads and serves immutable per-topic snapshots: a
// columnar table, a row-aligned embedding matrix, scalar metadata, and an
// optional ANN index. Snapshots are built offline, loaded once at process
// start, and never mutated by query handling.
package dataset

import (
	"fmt"

	"github.com/edsrzf/mmap-go"

	"github.com/aurelle-dev/threadlens/internal/ann"
	"github.com/aurelle-dev/threadlens/internal/table"
)

// Bounds is the bounding box of the 2D projection columns, computed over
// the entire dataset at dump time. Heatmap rendering always normalizes
// against this box so renders from different queries are comparable.
type Bounds struct {
	XMin float64 `json:"x_min"`
	XMax float64 `json:"x_max"`
	YMin float64 `json:"y_min"`
	YMax float64 `json:"y_max"`
}

// Dataset is one loaded snapshot. Row i of Table corresponds to row i of
// the embedding matrix; the alignment is established at load time and all
// downstream filtering must preserve or re-derive it.
type Dataset struct {
	Name   string
	Table  *table.Table
	Bounds Bounds
	// Index is nil when the snapshot was loaded without its ANN index.
	Index ann.Index

	embDim  int
	emb     []float32
	mapped  mmap.MMap
	rowByID map[uint32]int
}

// NewInMemory assembles a dataset from already-loaded parts. Used by the
// offline index builder and by tests; the serving path uses Load.
func NewInMemory(name string, tbl *table.Table, emb []float32, dim int, b Bounds, idx ann.Index) (*Dataset, error) {
	if dim <= 0 || len(emb) != tbl.Len()*dim {
		return nil, fmt.Errorf("dataset %s: matrix has %d floats for %d rows of dim %d", name, len(emb), tbl.Len(), dim)
	}
	d := &Dataset{
		Name:   name,
		Table:  tbl,
		Bounds: b,
		Index:  idx,
		embDim: dim,
		emb:    emb,
	}
	if err := d.indexIDs(); err != nil {
		return nil, fmt.Errorf("dataset %s: %w", name, err)
	}
	return d, nil
}

// EmbDim returns the embedding dimensionality.
func (d *Dataset) EmbDim() int { return d.embDim }

// EmbRow returns the embedding vector for table row i. The slice aliases
// the memory-mapped matrix and must be treated as read-only.
func (d *Dataset) EmbRow(i int) []float32 {
	return d.emb[i*d.embDim : (i+1)*d.embDim]
}

// RowByID returns the table row index holding the given id.
func (d *Dataset) RowByID(id uint32) (int, bool) {
	row, ok := d.rowByID[id]
	return row, ok
}

// Close unmaps the embedding matrix and closes the ANN index.
func (d *Dataset) Close() error {
	var first error
	if d.Index != nil {
		if err := d.Index.Close(); err != nil {
			first = err
		}
	}
	if d.mapped != nil {
		if err := d.mapped.Unmap(); err != nil && first == nil {
			first = err
		}
		d.mapped = nil
		d.emb = nil
	}
	return first
}
