package record

import "github.com/pkg/errors"

type ColumnType uint8

const (
	ColInt32 ColumnType = iota
	ColText             // UTF-8
)

func (t ColumnType) String() string {
	switch t {
	case ColInt32:
		return "INT"
	case ColText:
		return "TEXT"
	default:
		return "UNKNOWN"
	}
}

type Column struct {
	Name string
	Type ColumnType
}

type Schema struct {
	Cols []Column
}

func (s Schema) NumCols() int { return len(s.Cols) }

// ColumnIndex returns the position of the named column.
func (s Schema) ColumnIndex(name string) (int, error) {
	for i, c := range s.Cols {
		if c.Name == name {
			return i, nil
		}
	}
	return -1, errors.Wrapf(ErrUnknownColumn, "%q", name)
}
