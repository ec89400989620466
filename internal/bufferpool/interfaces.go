package bufferpool

import "github.com/tuannm99/redodb/internal/storage"

// PageStore is the slice of storage.DiskManager the pool reads through and
// writes back to.
type PageStore interface {
	ReadPage(pageID int32) ([]byte, error)
	WritePage(pageID int32, data []byte) error
}

type Manager interface {
	GetPage(pageID int32) (*storage.Page, error)
	MarkDirty(pageID int32, dirty bool)
	FlushAll() error
}

var (
	_ PageStore = (*storage.DiskManager)(nil)
	_ Manager   = (*Pool)(nil)
)
