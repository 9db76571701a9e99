package record

import (
	"encoding/binary"
	"math"

	"github.com/shopspring/decimal"
)

// AppendValue encodes a single tagged value: kind(1) + payload.
// Used by the catalog to persist column defaults.
func AppendValue(out []byte, v Value) ([]byte, error) {
	out = append(out, byte(v.Kind))
	switch v.Kind {
	case KindNull:
		return out, nil
	case KindInteger:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], uint64(v.Int))
		return append(out, b[:]...), nil
	case KindReal:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], math.Float64bits(v.Real))
		return append(out, b[:]...), nil
	case KindText:
		return appendVarlen(out, []byte(v.Text))
	case KindBlob:
		return appendVarlen(out, v.Blob)
	case KindNumeric:
		return appendVarlen(out, []byte(v.Num.String()))
	}
	return nil, ErrBadBuffer
}

// ReadValue decodes a value written by AppendValue and returns the next
// read offset.
func ReadValue(buf []byte, i int) (Value, int, error) {
	if i >= len(buf) {
		return Value{}, 0, ErrBadBuffer
	}
	kind := ValueKind(buf[i])
	i++
	switch kind {
	case KindNull:
		return Null(), i, nil
	case KindInteger:
		if i+8 > len(buf) {
			return Value{}, 0, ErrBadBuffer
		}
		return Int(int64(binary.LittleEndian.Uint64(buf[i:]))), i + 8, nil
	case KindReal:
		if i+8 > len(buf) {
			return Value{}, 0, ErrBadBuffer
		}
		return Real(math.Float64frombits(binary.LittleEndian.Uint64(buf[i:]))), i + 8, nil
	case KindText:
		bs, n, err := readVarlen(buf, i)
		if err != nil {
			return Value{}, 0, err
		}
		return Text(string(bs)), n, nil
	case KindBlob:
		bs, n, err := readVarlen(buf, i)
		if err != nil {
			return Value{}, 0, err
		}
		cp := make([]byte, len(bs))
		copy(cp, bs)
		return Blob(cp), n, nil
	case KindNumeric:
		bs, n, err := readVarlen(buf, i)
		if err != nil {
			return Value{}, 0, err
		}
		d, derr := decimal.NewFromString(string(bs))
		if derr != nil {
			return Value{}, 0, ErrBadBuffer
		}
		return Numeric(d), n, nil
	}
	return Value{}, 0, ErrBadBuffer
}
