package record

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

// makeTestSchema builds the (id INT, name TEXT) schema used across tests.
func makeTestSchema() Schema {
	return Schema{
		Cols: []Column{
			{Name: "id", Type: ColInt32},
			{Name: "name", Type: ColText},
		},
	}
}

func TestEncodeDecodeRow_RoundTrip(t *testing.T) {
	schema := makeTestSchema()

	buf, err := EncodeRow(schema, []any{42, "Alice"})
	require.NoError(t, err)
	require.Equal(t, []byte{0, 0, 0, 42, 0, 0, 0, 5, 'A', 'l', 'i', 'c', 'e'}, buf)

	row, err := DecodeRow(schema, buf)
	require.NoError(t, err)
	require.Equal(t, []any{int32(42), "Alice"}, row)
}

func TestEncodeRow_AcceptsIntKinds(t *testing.T) {
	schema := Schema{Cols: []Column{{Name: "v", Type: ColInt32}}}

	for _, v := range []any{int32(-3), int(-3), int64(-3)} {
		buf, err := EncodeRow(schema, []any{v})
		require.NoError(t, err)
		row, err := DecodeRow(schema, buf)
		require.NoError(t, err)
		require.Equal(t, int32(-3), row[0])
	}
}

func TestEncodeRow_Errors(t *testing.T) {
	schema := makeTestSchema()

	_, err := EncodeRow(schema, []any{1})
	require.ErrorIs(t, err, ErrValueCount)

	_, err = EncodeRow(schema, []any{"x", "y"})
	require.ErrorIs(t, err, ErrTypeMismatch)

	_, err = EncodeRow(schema, []any{1, 2})
	require.ErrorIs(t, err, ErrTypeMismatch)

	_, err = EncodeRow(schema, []any{int64(math.MaxInt32) + 1, "y"})
	require.ErrorIs(t, err, ErrTypeMismatch)
}

func TestDecodeRow_Short(t *testing.T) {
	schema := makeTestSchema()

	_, err := DecodeRow(schema, []byte{0, 0, 0, 1})
	require.ErrorIs(t, err, ErrShortRow)

	_, err = DecodeRow(schema, []byte{0, 0, 0, 1, 0, 0, 0, 9, 'a'})
	require.ErrorIs(t, err, ErrShortRow)
}

func TestSchema_ColumnIndex(t *testing.T) {
	schema := makeTestSchema()

	i, err := schema.ColumnIndex("name")
	require.NoError(t, err)
	require.Equal(t, 1, i)

	_, err = schema.ColumnIndex("missing")
	require.ErrorIs(t, err, ErrUnknownColumn)
	require.Equal(t, "TEXT", schema.Cols[1].Type.String())
}
