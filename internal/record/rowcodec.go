package record

import (
	"encoding/binary"
	"errors"
	"math"

	"github.com/shopspring/decimal"
)

var (
	ErrSchemaMismatch = errors.New("rowcodec: schema/values mismatch")
	ErrBadBuffer      = errors.New("rowcodec: buffer underflow/overflow")
	ErrVarTooLong     = errors.New("rowcodec: variable length exceeds u16")
)

// Row format:
//
//	rowID(8) | storedCols(2) | nullmap ceil(n/8) | field0? field1? ...
//
// Fixed types are 8 bytes LE; varlen types (TEXT/BLOB/NUMERIC) are
// u16 length + data. NUMERIC is stored as its decimal string form.
//
// storedCols is the table's column count at write time. Rows written before
// an AddColumn carry fewer fields than the current schema; DecodeRow
// synthesizes the declared default (or NULL) for the missing tail.
func EncodeRow(s Schema, rowID uint64, values []Value) ([]byte, error) {
	nc := s.NumCols()
	if len(values) != nc {
		return nil, ErrSchemaMismatch
	}

	nbBytes := (nc + 7) / 8
	out := make([]byte, 8+2+nbBytes)
	binary.LittleEndian.PutUint64(out[0:], rowID)
	binary.LittleEndian.PutUint16(out[8:], uint16(nc))

	for i, col := range s.Cols {
		v := values[i]
		if err := v.CheckColumn(col); err != nil {
			return nil, ErrSchemaMismatch
		}
		if v.IsNull() {
			// index into out, not a sub-slice: later appends may reallocate
			out[10+i/8] |= 1 << (uint(i) & 7)
			continue
		}

		switch col.Type {
		case ColInteger:
			var b [8]byte
			binary.LittleEndian.PutUint64(b[:], uint64(v.Int))
			out = append(out, b[:]...)

		case ColReal:
			var b [8]byte
			binary.LittleEndian.PutUint64(b[:], math.Float64bits(v.Real))
			out = append(out, b[:]...)

		case ColText:
			var err error
			if out, err = appendVarlen(out, []byte(v.Text)); err != nil {
				return nil, err
			}

		case ColBlob:
			var err error
			if out, err = appendVarlen(out, v.Blob); err != nil {
				return nil, err
			}

		case ColNumeric:
			var err error
			if out, err = appendVarlen(out, []byte(v.Num.String())); err != nil {
				return nil, err
			}

		default:
			return nil, ErrSchemaMismatch
		}
	}
	return out, nil
}

// DecodeRow decodes a tuple against the current schema. Columns beyond the
// tuple's stored column count read back as their declared default.
func DecodeRow(s Schema, buf []byte) (uint64, []Value, error) {
	if len(buf) < 10 {
		return 0, nil, ErrBadBuffer
	}
	rowID := binary.LittleEndian.Uint64(buf[0:])
	stored := int(binary.LittleEndian.Uint16(buf[8:]))

	nc := s.NumCols()
	if stored > nc {
		// tuple written against a wider schema than we know
		return 0, nil, ErrBadBuffer
	}

	nbBytes := (stored + 7) / 8
	if len(buf) < 10+nbBytes {
		return 0, nil, ErrBadBuffer
	}
	nullmap := buf[10 : 10+nbBytes]
	i := 10 + nbBytes

	out := make([]Value, nc)
	for colIdx := 0; colIdx < stored; colIdx++ {
		col := s.Cols[colIdx]
		if (nullmap[colIdx/8]>>(uint(colIdx)&7))&1 == 1 {
			out[colIdx] = Null()
			continue
		}

		switch col.Type {
		case ColInteger:
			if i+8 > len(buf) {
				return 0, nil, ErrBadBuffer
			}
			out[colIdx] = Int(int64(binary.LittleEndian.Uint64(buf[i:])))
			i += 8

		case ColReal:
			if i+8 > len(buf) {
				return 0, nil, ErrBadBuffer
			}
			out[colIdx] = Real(math.Float64frombits(binary.LittleEndian.Uint64(buf[i:])))
			i += 8

		case ColText:
			bs, n, err := readVarlen(buf, i)
			if err != nil {
				return 0, nil, err
			}
			out[colIdx] = Text(string(bs))
			i = n

		case ColBlob:
			bs, n, err := readVarlen(buf, i)
			if err != nil {
				return 0, nil, err
			}
			cp := make([]byte, len(bs))
			copy(cp, bs)
			out[colIdx] = Blob(cp)
			i = n

		case ColNumeric:
			bs, n, err := readVarlen(buf, i)
			if err != nil {
				return 0, nil, err
			}
			d, derr := decimal.NewFromString(string(bs))
			if derr != nil {
				return 0, nil, ErrBadBuffer
			}
			out[colIdx] = Numeric(d)
			i = n

		default:
			return 0, nil, ErrBadBuffer
		}
	}

	// columns added after this row was written
	for colIdx := stored; colIdx < nc; colIdx++ {
		out[colIdx] = s.Cols[colIdx].DefaultValue()
	}
	return rowID, out, nil
}

// RowID reads just the id prefix of an encoded tuple.
func RowID(buf []byte) (uint64, error) {
	if len(buf) < 8 {
		return 0, ErrBadBuffer
	}
	return binary.LittleEndian.Uint64(buf), nil
}

func appendVarlen(out, data []byte) ([]byte, error) {
	if len(data) > math.MaxUint16 {
		return nil, ErrVarTooLong
	}
	var l [2]byte
	binary.LittleEndian.PutUint16(l[:], uint16(len(data)))
	out = append(out, l[:]...)
	return append(out, data...), nil
}

func readVarlen(buf []byte, i int) ([]byte, int, error) {
	if i+2 > len(buf) {
		return nil, 0, ErrBadBuffer
	}
	l := int(binary.LittleEndian.Uint16(buf[i:]))
	i += 2
	if i+l > len(buf) {
		return nil, 0, ErrBadBuffer
	}
	return buf[i : i+l], i + l, nil
}
