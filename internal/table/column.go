package table

import "fmt"

// Kind identifies the element type of a column.
type Kind uint8

const (
	KindFloat32 Kind = iota
	KindFloat64
	KindInt64
	KindUint32
	KindBool
	KindString
)

// Tag returns the one-byte wire tag for the kind, following numpy dtype
// kind characters: 'f' float, 'i' int, 'u' unsigned, 'b' bool, 'O' object.
func (k Kind) Tag() byte {
	switch k {
	case KindFloat32, KindFloat64:
		return 'f'
	case KindInt64:
		return 'i'
	case KindUint32:
		return 'u'
	case KindBool:
		return 'b'
	case KindString:
		return 'O'
	}
	panic(fmt.Sprintf("table: unknown kind %d", k))
}

// Size returns the element size in bytes, or 0 for variable-width kinds.
func (k Kind) Size() int {
	switch k {
	case KindFloat32, KindUint32:
		return 4
	case KindFloat64, KindInt64:
		return 8
	case KindBool:
		return 1
	}
	return 0
}

func (k Kind) String() string {
	switch k {
	case KindFloat32:
		return "float32"
	case KindFloat64:
		return "float64"
	case KindInt64:
		return "int64"
	case KindUint32:
		return "uint32"
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	}
	return fmt.Sprintf("kind(%d)", k)
}

// Column is an immutable, typed column of values. Exactly one of the
// backing slices is non-nil, selected by kind.
type Column struct {
	kind Kind
	f32  []float32
	f64  []float64
	i64  []int64
	u32  []uint32
	bs   []bool
	ss   []string
}

// Float32s wraps a float32 slice as a column. The slice is not copied.
func Float32s(v []float32) *Column { return &Column{kind: KindFloat32, f32: v} }

// Float64s wraps a float64 slice as a column.
func Float64s(v []float64) *Column { return &Column{kind: KindFloat64, f64: v} }

// Int64s wraps an int64 slice as a column.
func Int64s(v []int64) *Column { return &Column{kind: KindInt64, i64: v} }

// Uint32s wraps a uint32 slice as a column.
func Uint32s(v []uint32) *Column { return &Column{kind: KindUint32, u32: v} }

// Bools wraps a bool slice as a column.
func Bools(v []bool) *Column { return &Column{kind: KindBool, bs: v} }

// Strings wraps a string slice as a column.
func Strings(v []string) *Column { return &Column{kind: KindString, ss: v} }

// Kind returns the column's element kind.
func (c *Column) Kind() Kind { return c.kind }

// Len returns the number of values.
func (c *Column) Len() int {
	switch c.kind {
	case KindFloat32:
		return len(c.f32)
	case KindFloat64:
		return len(c.f64)
	case KindInt64:
		return len(c.i64)
	case KindUint32:
		return len(c.u32)
	case KindBool:
		return len(c.bs)
	case KindString:
		return len(c.ss)
	}
	return 0
}

// IsNumeric reports whether Float64At is defined for every row.
// Bool columns count as numeric (0/1), matching their use as weights.
func (c *Column) IsNumeric() bool { return c.kind != KindString }

// Float64At returns the value at row i widened to float64.
// Panics on string columns; callers must check IsNumeric first.
func (c *Column) Float64At(i int) float64 {
	switch c.kind {
	case KindFloat32:
		return float64(c.f32[i])
	case KindFloat64:
		return c.f64[i]
	case KindInt64:
		return float64(c.i64[i])
	case KindUint32:
		return float64(c.u32[i])
	case KindBool:
		if c.bs[i] {
			return 1
		}
		return 0
	}
	panic("table: Float64At on string column")
}

// StringAt returns the string value at row i of a string column.
func (c *Column) StringAt(i int) string { return c.ss[i] }

// Float32Values returns the backing slice of a float32 column.
func (c *Column) Float32Values() []float32 { return c.f32 }

// Float64Values returns the backing slice of a float64 column.
func (c *Column) Float64Values() []float64 { return c.f64 }

// Int64Values returns the backing slice of an int64 column.
func (c *Column) Int64Values() []int64 { return c.i64 }

// Uint32Values returns the backing slice of a uint32 column.
func (c *Column) Uint32Values() []uint32 { return c.u32 }

// BoolValues returns the backing slice of a bool column.
func (c *Column) BoolValues() []bool { return c.bs }

// StringValues returns the backing slice of a string column.
func (c *Column) StringValues() []string { return c.ss }

// take returns a new column holding the rows selected by idx, in order.
func (c *Column) take(idx []int) *Column {
	switch c.kind {
	case KindFloat32:
		out := make([]float32, len(idx))
		for i, j := range idx {
			out[i] = c.f32[j]
		}
		return Float32s(out)
	case KindFloat64:
		out := make([]float64, len(idx))
		for i, j := range idx {
			out[i] = c.f64[j]
		}
		return Float64s(out)
	case KindInt64:
		out := make([]int64, len(idx))
		for i, j := range idx {
			out[i] = c.i64[j]
		}
		return Int64s(out)
	case KindUint32:
		out := make([]uint32, len(idx))
		for i, j := range idx {
			out[i] = c.u32[j]
		}
		return Uint32s(out)
	case KindBool:
		out := make([]bool, len(idx))
		for i, j := range idx {
			out[i] = c.bs[j]
		}
		return Bools(out)
	case KindString:
		out := make([]string, len(idx))
		for i, j := range idx {
			out[i] = c.ss[j]
		}
		return Strings(out)
	}
	panic("table: take on unknown kind")
}
