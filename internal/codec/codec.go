// Package codec serializes table slices into the flat binary format
// consumed by visualization clients. The layout is fixed per endpoint
// version; there is no schema negotiation.
//
// Layout: little-endian uint32 row count, then for each requested column a
// one-byte kind tag. Fixed-width columns follow with a one-byte element
// size and the packed little-endian data. String columns follow with a
// uint32 byte length and a msgpack-encoded string array.
package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/aurelle-dev/threadlens/internal/table"
)

// Pack serializes the named columns of t, in the given order.
func Pack(t *table.Table, cols []string) ([]byte, error) {
	var buf bytes.Buffer
	var scratch [8]byte

	binary.LittleEndian.PutUint32(scratch[:4], uint32(t.Len()))
	buf.Write(scratch[:4])

	for _, name := range cols {
		c, ok := t.Col(name)
		if !ok {
			return nil, fmt.Errorf("codec: column %q not found", name)
		}
		buf.WriteByte(c.Kind().Tag())

		if c.Kind() == table.KindString {
			raw, err := msgpack.Marshal(c.StringValues())
			if err != nil {
				return nil, fmt.Errorf("codec: pack string column %q: %w", name, err)
			}
			binary.LittleEndian.PutUint32(scratch[:4], uint32(len(raw)))
			buf.Write(scratch[:4])
			buf.Write(raw)
			continue
		}

		buf.WriteByte(byte(c.Kind().Size()))
		switch c.Kind() {
		case table.KindFloat32:
			for _, v := range c.Float32Values() {
				binary.LittleEndian.PutUint32(scratch[:4], math.Float32bits(v))
				buf.Write(scratch[:4])
			}
		case table.KindFloat64:
			for _, v := range c.Float64Values() {
				binary.LittleEndian.PutUint64(scratch[:8], math.Float64bits(v))
				buf.Write(scratch[:8])
			}
		case table.KindInt64:
			for _, v := range c.Int64Values() {
				binary.LittleEndian.PutUint64(scratch[:8], uint64(v))
				buf.Write(scratch[:8])
			}
		case table.KindUint32:
			for _, v := range c.Uint32Values() {
				binary.LittleEndian.PutUint32(scratch[:4], v)
				buf.Write(scratch[:4])
			}
		case table.KindBool:
			for _, v := range c.BoolValues() {
				if v {
					buf.WriteByte(1)
				} else {
					buf.WriteByte(0)
				}
			}
		}
	}
	return buf.Bytes(), nil
}

// Unpack reverses Pack for the given column names, in the order they were
// packed. Used by tests and by clients that mirror this package.
func Unpack(data []byte, cols []string) (*table.Table, error) {
	r := reader{data: data}

	n, err := r.uint32()
	if err != nil {
		return nil, err
	}
	t := table.New(int(n))

	for _, name := range cols {
		tag, err := r.byte()
		if err != nil {
			return nil, fmt.Errorf("codec: column %q: %w", name, err)
		}

		if tag == 'O' {
			rawLen, err := r.uint32()
			if err != nil {
				return nil, fmt.Errorf("codec: column %q: %w", name, err)
			}
			raw, err := r.bytes(int(rawLen))
			if err != nil {
				return nil, fmt.Errorf("codec: column %q: %w", name, err)
			}
			var ss []string
			if err := msgpack.Unmarshal(raw, &ss); err != nil {
				return nil, fmt.Errorf("codec: unpack string column %q: %w", name, err)
			}
			if err := t.Set(name, table.Strings(ss)); err != nil {
				return nil, err
			}
			continue
		}

		size, err := r.byte()
		if err != nil {
			return nil, fmt.Errorf("codec: column %q: %w", name, err)
		}
		col, err := readFixed(&r, tag, int(size), int(n))
		if err != nil {
			return nil, fmt.Errorf("codec: column %q: %w", name, err)
		}
		if err := t.Set(name, col); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func readFixed(r *reader, tag byte, size, n int) (*table.Column, error) {
	raw, err := r.bytes(size * n)
	if err != nil {
		return nil, err
	}
	switch {
	case tag == 'f' && size == 4:
		out := make([]float32, n)
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
		return table.Float32s(out), nil
	case tag == 'f' && size == 8:
		out := make([]float64, n)
		for i := range out {
			out[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[i*8:]))
		}
		return table.Float64s(out), nil
	case tag == 'i' && size == 8:
		out := make([]int64, n)
		for i := range out {
			out[i] = int64(binary.LittleEndian.Uint64(raw[i*8:]))
		}
		return table.Int64s(out), nil
	case tag == 'u' && size == 4:
		out := make([]uint32, n)
		for i := range out {
			out[i] = binary.LittleEndian.Uint32(raw[i*4:])
		}
		return table.Uint32s(out), nil
	case tag == 'b' && size == 1:
		out := make([]bool, n)
		for i := range out {
			out[i] = raw[i] != 0
		}
		return table.Bools(out), nil
	}
	return nil, fmt.Errorf("unsupported kind %q with element size %d", tag, size)
}

type reader struct {
	data []byte
	off  int
}

func (r *reader) byte() (byte, error) {
	if r.off >= len(r.data) {
		return 0, fmt.Errorf("truncated payload at offset %d", r.off)
	}
	b := r.data[r.off]
	r.off++
	return b, nil
}

func (r *reader) uint32() (uint32, error) {
	raw, err := r.bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(raw), nil
}

func (r *reader) bytes(n int) ([]byte, error) {
	if r.off+n > len(r.data) {
		return nil, fmt.Errorf("truncated payload: need %d bytes at offset %d, have %d", n, r.off, len(r.data)-r.off)
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b, nil
}
