package heap

import "fmt"

// RecordID points at a record's length prefix inside a heap page. It stays
// valid until the record is deleted or moved by a growing update.
type RecordID struct {
	PageID int32
	Offset int32
}

func (r RecordID) String() string {
	return fmt.Sprintf("(%d,%d)", r.PageID, r.Offset)
}
