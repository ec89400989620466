package storage

import (
	"errors"
)

const (
	OneKB = 1 << 10 // 1,024

	// PageSize is the unit of I/O and caching. The page file has no header:
	// page i lives at byte offset i*PageSize.
	PageSize = OneKB * 4
)

const (
	FileMode0644 = 0o644
	FileMode0755 = 0o755

	DBFileName = "database.db"
)

var (
	ErrWrongPageSize    = errors.New("storage: buffer size != PageSize")
	ErrPageOutOfRange   = errors.New("storage: page is beyond end of file")
	ErrInvalidPageID    = errors.New("storage: invalid page id")
	ErrClosed           = errors.New("storage: disk manager is closed")
	ErrInvalidOperation = errors.New("storage: invalid operation")
)
