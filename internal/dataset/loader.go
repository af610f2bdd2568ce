package dataset

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"unsafe"

	"github.com/edsrzf/mmap-go"
	"github.com/goccy/go-json"
	"github.com/parquet-go/parquet-go"

	"github.com/aurelle-dev/threadlens/internal/ann"
	"github.com/aurelle-dev/threadlens/internal/domain"
	"github.com/aurelle-dev/threadlens/internal/table"
)

// meta is the JSON sidecar written by the offline snapshot builder.
type meta struct {
	Count  int `json:"count"`
	EmbDim int `json:"emb_dim"`
	Bounds
}

// LoadOptions controls optional parts of snapshot loading.
type LoadOptions struct {
	// LoadANN opens the <name>-ann.vgo snapshot. Absence of the file is an
	// error when set: a dataset configured for prefiltering must have one.
	LoadANN bool
}

// MetaPath, TablePath, EmbPath and ANNPath name the on-disk layout of a
// snapshot inside dir.
func MetaPath(dir, name string) string { return filepath.Join(dir, name+"-meta.json") }
func TablePath(dir, name string) string { return filepath.Join(dir, name+"-table.parquet") }
func EmbPath(dir, name string) string  { return filepath.Join(dir, name+"-emb.mat") }
func ANNPath(dir, name string) string  { return filepath.Join(dir, name+"-ann.vgo") }

// Load reads the snapshot for name from dir. It fails with
// domain.ErrNotFound when the sidecar is absent and domain.ErrCorruptData
// when the table or matrix disagrees with the sidecar.
func Load(dir, name string, opts LoadOptions) (*Dataset, error) {
	m, err := loadMeta(MetaPath(dir, name))
	if err != nil {
		return nil, err
	}
	if m.Count < 0 || m.EmbDim <= 0 {
		return nil, fmt.Errorf("%w: %s: meta count=%d emb_dim=%d", domain.ErrCorruptData, name, m.Count, m.EmbDim)
	}

	tbl, err := loadTable(TablePath(dir, name))
	if err != nil {
		return nil, fmt.Errorf("load table for %s: %w", name, err)
	}
	if tbl.Len() != m.Count {
		return nil, fmt.Errorf("%w: %s: table has %d rows, meta says %d", domain.ErrCorruptData, name, tbl.Len(), m.Count)
	}

	emb, mapped, err := mapMatrix(EmbPath(dir, name), m.Count, m.EmbDim)
	if err != nil {
		return nil, fmt.Errorf("map embedding matrix for %s: %w", name, err)
	}

	d := &Dataset{
		Name:   name,
		Table:  tbl,
		Bounds: m.Bounds,
		embDim: m.EmbDim,
		emb:    emb,
		mapped: mapped,
	}

	if err := d.indexIDs(); err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrCorruptData, name, err)
	}

	if opts.LoadANN {
		idx, err := ann.Open(ANNPath(dir, name))
		if err != nil {
			_ = d.Close()
			return nil, fmt.Errorf("load ann index for %s: %w", name, err)
		}
		d.Index = idx
	}

	return d, nil
}

func loadMeta(path string) (meta, error) {
	raw, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return meta{}, fmt.Errorf("%w: missing %s", domain.ErrNotFound, filepath.Base(path))
		}
		return meta{}, fmt.Errorf("read meta %s: %w", path, err)
	}
	var m meta
	if err := json.Unmarshal(raw, &m); err != nil {
		return meta{}, fmt.Errorf("%w: parse meta %s: %v", domain.ErrCorruptData, filepath.Base(path), err)
	}
	return m, nil
}

// indexIDs builds the id -> row lookup used by the ANN join path.
func (d *Dataset) indexIDs() error {
	c, ok := d.Table.Col("id")
	if !ok {
		return fmt.Errorf("table has no id column")
	}
	if c.Kind() != table.KindUint32 {
		return fmt.Errorf("id column is %s, expected uint32", c.Kind())
	}
	ids := c.Uint32Values()
	d.rowByID = make(map[uint32]int, len(ids))
	for i, id := range ids {
		if _, dup := d.rowByID[id]; dup {
			return fmt.Errorf("duplicate id %d", id)
		}
		d.rowByID[id] = i
	}
	return nil
}

// mapMatrix memory-maps a raw little-endian float32 matrix file so worker
// processes serving the same dataset share physical pages.
func mapMatrix(path string, count, dim int) ([]float32, mmap.MMap, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, nil, fmt.Errorf("open matrix: %w", err)
	}
	defer func() { _ = f.Close() }()

	stat, err := f.Stat()
	if err != nil {
		return nil, nil, fmt.Errorf("stat matrix: %w", err)
	}
	want := int64(count) * int64(dim) * 4
	if stat.Size() != want {
		return nil, nil, fmt.Errorf("%w: matrix is %d bytes, expected %d (%d x %d float32)",
			domain.ErrCorruptData, stat.Size(), want, count, dim)
	}
	if count == 0 {
		return nil, nil, nil
	}

	mapped, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("mmap matrix: %w", err)
	}
	emb := unsafe.Slice((*float32)(unsafe.Pointer(&mapped[0])), count*dim)
	return emb, mapped, nil
}

// loadTable reads a flat parquet file into a Table. Physical types map to
// column kinds directly; the id column is uint32 by convention of the
// snapshot builder.
func loadTable(path string) (*table.Table, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: missing %s", domain.ErrNotFound, filepath.Base(path))
		}
		return nil, fmt.Errorf("open: %w", err)
	}
	defer func() { _ = f.Close() }()

	stat, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat: %w", err)
	}
	pf, err := parquet.OpenFile(f, stat.Size())
	if err != nil {
		return nil, fmt.Errorf("%w: open parquet: %v", domain.ErrCorruptData, err)
	}

	names := make([]string, 0)
	for _, p := range pf.Schema().Columns() {
		if len(p) != 1 {
			return nil, fmt.Errorf("%w: nested column %v not supported", domain.ErrCorruptData, p)
		}
		names = append(names, p[0])
	}

	builders := make([]*colBuilder, len(names))
	for i, n := range names {
		builders[i] = &colBuilder{name: n}
	}

	for _, rg := range pf.RowGroups() {
		rows := parquet.NewRowGroupReader(rg)
		buf := make([]parquet.Row, 1024)
		for {
			n, readErr := rows.ReadRows(buf)
			for i := 0; i < n; i++ {
				for _, v := range buf[i] {
					col := v.Column()
					if col < 0 || col >= len(builders) {
						continue
					}
					if err := builders[col].add(v); err != nil {
						return nil, fmt.Errorf("%w: column %s: %v", domain.ErrCorruptData, names[col], err)
					}
				}
			}
			if readErr != nil {
				if errors.Is(readErr, io.EOF) {
					break
				}
				return nil, fmt.Errorf("read rows: %w", readErr)
			}
		}
	}

	rowCount := 0
	if len(builders) > 0 {
		rowCount = builders[0].len()
	}
	t := table.New(rowCount)
	for _, b := range builders {
		if b.len() != rowCount {
			return nil, fmt.Errorf("%w: column %s has %d rows, expected %d", domain.ErrCorruptData, b.name, b.len(), rowCount)
		}
		if err := t.Set(b.name, b.column()); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// colBuilder accumulates one parquet leaf column, choosing the table kind
// from the physical type of its values.
type colBuilder struct {
	name string
	kind table.Kind
	set  bool

	f32 []float32
	f64 []float64
	i64 []int64
	u32 []uint32
	bs  []bool
	ss  []string
}

func (b *colBuilder) add(v parquet.Value) error {
	if !b.set {
		switch v.Kind() {
		case parquet.Boolean:
			b.kind = table.KindBool
		case parquet.Int32:
			// The snapshot builder writes row ids as uint32; other int32
			// columns widen to int64.
			if b.name == "id" {
				b.kind = table.KindUint32
			} else {
				b.kind = table.KindInt64
			}
		case parquet.Int64:
			b.kind = table.KindInt64
		case parquet.Float:
			b.kind = table.KindFloat32
		case parquet.Double:
			b.kind = table.KindFloat64
		case parquet.ByteArray, parquet.FixedLenByteArray:
			b.kind = table.KindString
		default:
			return fmt.Errorf("unsupported parquet kind %s", v.Kind())
		}
		b.set = true
	}

	switch b.kind {
	case table.KindBool:
		b.bs = append(b.bs, !v.IsNull() && v.Boolean())
	case table.KindUint32:
		if v.IsNull() {
			b.u32 = append(b.u32, 0)
		} else {
			b.u32 = append(b.u32, uint32(v.Int32()))
		}
	case table.KindInt64:
		if v.IsNull() {
			b.i64 = append(b.i64, 0)
		} else if v.Kind() == parquet.Int32 {
			b.i64 = append(b.i64, int64(v.Int32()))
		} else {
			b.i64 = append(b.i64, v.Int64())
		}
	case table.KindFloat32:
		if v.IsNull() {
			b.f32 = append(b.f32, 0)
		} else {
			b.f32 = append(b.f32, v.Float())
		}
	case table.KindFloat64:
		if v.IsNull() {
			b.f64 = append(b.f64, 0)
		} else {
			b.f64 = append(b.f64, v.Double())
		}
	case table.KindString:
		if v.IsNull() {
			b.ss = append(b.ss, "")
		} else {
			b.ss = append(b.ss, v.String())
		}
	}
	return nil
}

func (b *colBuilder) len() int {
	switch b.kind {
	case table.KindBool:
		return len(b.bs)
	case table.KindUint32:
		return len(b.u32)
	case table.KindInt64:
		return len(b.i64)
	case table.KindFloat32:
		return len(b.f32)
	case table.KindFloat64:
		return len(b.f64)
	case table.KindString:
		return len(b.ss)
	}
	return 0
}

func (b *colBuilder) column() *table.Column {
	switch b.kind {
	case table.KindBool:
		return table.Bools(b.bs)
	case table.KindUint32:
		return table.Uint32s(b.u32)
	case table.KindInt64:
		return table.Int64s(b.i64)
	case table.KindFloat32:
		return table.Float32s(b.f32)
	case table.KindFloat64:
		return table.Float64s(b.f64)
	case table.KindString:
		return table.Strings(b.ss)
	}
	// Column never saw a value (zero-row file); treat as empty float32.
	return table.Float32s(nil)
}
