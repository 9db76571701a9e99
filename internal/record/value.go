package record

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ValueKind tags the runtime representation of a single cell.
type ValueKind uint8

const (
	KindNull ValueKind = iota
	KindInteger
	KindReal
	KindText
	KindBlob
	KindNumeric
)

var ErrTypeMismatch = errors.New("record: value does not match column type")

// Value is a tagged variant carried in row order, aligned to the table's
// column list. Only the field matching Kind is meaningful.
type Value struct {
	Kind ValueKind
	Int  int64
	Real float64
	Text string
	Blob []byte
	Num  decimal.Decimal
}

func Null() Value                     { return Value{Kind: KindNull} }
func Int(v int64) Value               { return Value{Kind: KindInteger, Int: v} }
func Real(v float64) Value            { return Value{Kind: KindReal, Real: v} }
func Text(v string) Value             { return Value{Kind: KindText, Text: v} }
func Blob(v []byte) Value             { return Value{Kind: KindBlob, Blob: v} }
func Numeric(v decimal.Decimal) Value { return Value{Kind: KindNumeric, Num: v} }

func (v Value) IsNull() bool { return v.Kind == KindNull }

// CheckColumn verifies the value can be stored in the given column.
func (v Value) CheckColumn(c Column) error {
	if v.IsNull() {
		if !c.Nullable {
			return fmt.Errorf("%w: column %q is not nullable", ErrTypeMismatch, c.Name)
		}
		return nil
	}
	want := map[ColumnType]ValueKind{
		ColInteger: KindInteger,
		ColReal:    KindReal,
		ColText:    KindText,
		ColBlob:    KindBlob,
		ColNumeric: KindNumeric,
	}[c.Type]
	if v.Kind != want {
		return fmt.Errorf("%w: column %q wants %s", ErrTypeMismatch, c.Name, c.Type)
	}
	return nil
}

// Equal compares two values; Blob compares bytes, Numeric compares
// numerically (1.50 equals 1.5).
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindNull:
		return true
	case KindInteger:
		return v.Int == o.Int
	case KindReal:
		return v.Real == o.Real
	case KindText:
		return v.Text == o.Text
	case KindBlob:
		if len(v.Blob) != len(o.Blob) {
			return false
		}
		for i := range v.Blob {
			if v.Blob[i] != o.Blob[i] {
				return false
			}
		}
		return true
	case KindNumeric:
		return v.Num.Equal(o.Num)
	}
	return false
}

func (v Value) String() string {
	switch v.Kind {
	case KindNull:
		return "NULL"
	case KindInteger:
		return fmt.Sprintf("%d", v.Int)
	case KindReal:
		return fmt.Sprintf("%g", v.Real)
	case KindText:
		return v.Text
	case KindBlob:
		return fmt.Sprintf("x'%x'", v.Blob)
	case KindNumeric:
		return v.Num.String()
	}
	return "?"
}
