package txn

import (
	"github.com/tuannm99/redodb/internal/bufferpool"
	"github.com/tuannm99/redodb/internal/storage"
	"github.com/tuannm99/redodb/internal/wal"
)

// WAL is the log surface the transaction manager drives.
type WAL interface {
	LogBegin(txID int64) error
	LogUpdate(txID int64, pageID int32, before, after []byte) error
	LogCommit(txID int64) error
	LogAbort(txID int64) error
	Flush() error
	Close() error
}

// Pool is the buffer pool surface: rollback reloads pages through it and
// the hardener flushes it.
type Pool interface {
	GetPage(pageID int32) (*storage.Page, error)
	MarkDirty(pageID int32, dirty bool)
	FlushAll() error
}

// PageWriter receives before-images directly on rollback.
type PageWriter interface {
	WritePage(pageID int32, data []byte) error
}

var (
	_ WAL        = (*wal.Manager)(nil)
	_ Pool       = (*bufferpool.Pool)(nil)
	_ PageWriter = (*storage.DiskManager)(nil)
)
