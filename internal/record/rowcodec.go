package record

import (
	"math"

	"github.com/pkg/errors"

	"github.com/tuannm99/redodb/internal/alias/bx"
)

var (
	ErrValueCount    = errors.New("rowcodec: value count != column count")
	ErrTypeMismatch  = errors.New("rowcodec: value does not match column type")
	ErrShortRow      = errors.New("rowcodec: row buffer underflow")
	ErrUnknownColumn = errors.New("rowcodec: unknown column")
)

// EncodeRow writes the fields back to back:
//
//	INT  -> int32 (BE)
//	TEXT -> int32 length (BE) + UTF-8 bytes
func EncodeRow(s Schema, values []any) ([]byte, error) {
	if len(values) != s.NumCols() {
		return nil, errors.Wrapf(ErrValueCount, "got %d values for %d columns", len(values), s.NumCols())
	}

	out := make([]byte, 0, 8*len(values))
	var b [4]byte
	for i, col := range s.Cols {
		switch col.Type {
		case ColInt32:
			x, ok := asInt32(values[i])
			if !ok {
				return nil, errors.Wrapf(ErrTypeMismatch, "column %q: %T", col.Name, values[i])
			}
			bx.PutI32(b[:], x)
			out = append(out, b[:]...)

		case ColText:
			str, ok := values[i].(string)
			if !ok {
				return nil, errors.Wrapf(ErrTypeMismatch, "column %q: %T", col.Name, values[i])
			}
			bx.PutI32(b[:], int32(len(str)))
			out = append(out, b[:]...)
			out = append(out, str...)

		default:
			return nil, errors.Wrapf(ErrTypeMismatch, "column %q: unsupported type %d", col.Name, col.Type)
		}
	}
	return out, nil
}

// DecodeRow is the inverse of EncodeRow. INT decodes to int32, TEXT to string.
func DecodeRow(s Schema, data []byte) ([]any, error) {
	out := make([]any, s.NumCols())
	off := 0
	for i, col := range s.Cols {
		if off+4 > len(data) {
			return nil, errors.Wrapf(ErrShortRow, "column %q", col.Name)
		}
		n := bx.I32At(data, off)
		off += 4

		switch col.Type {
		case ColInt32:
			out[i] = n
		case ColText:
			if n < 0 || off+int(n) > len(data) {
				return nil, errors.Wrapf(ErrShortRow, "column %q: length %d", col.Name, n)
			}
			out[i] = string(data[off : off+int(n)])
			off += int(n)
		default:
			return nil, errors.Wrapf(ErrTypeMismatch, "column %q: unsupported type %d", col.Name, col.Type)
		}
	}
	return out, nil
}

func asInt32(v any) (int32, bool) {
	switch x := v.(type) {
	case int32:
		return x, true
	case int:
		if x < math.MinInt32 || x > math.MaxInt32 {
			return 0, false
		}
		return int32(x), true
	case int64:
		if x < math.MinInt32 || x > math.MaxInt32 {
			return 0, false
		}
		return int32(x), true
	default:
		return 0, false
	}
}
