package storage

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
)

// DiskManager owns the page file: a concatenation of PageSize pages with no
// header. Page ids are assigned sequentially per instance, starting at
// fileLength/PageSize. There is no caching here; that is the buffer pool's job.
type DiskManager struct {
	mu       sync.Mutex
	f        *os.File
	path     string
	nextPage int32
}

// OpenDiskManager opens (or creates) <dir>/database.db.
func OpenDiskManager(dir string) (*DiskManager, error) {
	if err := os.MkdirAll(dir, FileMode0755); err != nil {
		return nil, errors.Wrap(err, "storage: create data dir")
	}
	path := filepath.Join(dir, DBFileName)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, FileMode0644)
	if err != nil {
		return nil, errors.Wrap(err, "storage: open page file")
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, errors.Wrap(err, "storage: stat page file")
	}
	return &DiskManager{
		f:        f,
		path:     path,
		nextPage: int32(info.Size() / PageSize),
	}, nil
}

func (dm *DiskManager) Path() string { return dm.path }

// AllocatePage appends one zero-filled page and returns its id.
func (dm *DiskManager) AllocatePage() (int32, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if dm.f == nil {
		return -1, ErrClosed
	}
	id := dm.nextPage
	if err := dm.writeAt(id, make([]byte, PageSize)); err != nil {
		return -1, err
	}
	dm.nextPage++
	return id, nil
}

// WritePage writes exactly one page at id*PageSize.
func (dm *DiskManager) WritePage(id int32, src []byte) error {
	if len(src) != PageSize {
		return errors.Wrapf(ErrWrongPageSize, "write page %d: got %d bytes", id, len(src))
	}
	if id < 0 {
		return errors.Wrapf(ErrInvalidPageID, "write page %d", id)
	}

	dm.mu.Lock()
	defer dm.mu.Unlock()

	if dm.f == nil {
		return ErrClosed
	}
	if err := dm.writeAt(id, src); err != nil {
		return err
	}
	// Recovery may redo a page that was never allocated in this file
	// (e.g. the page file was lost); keep the id counter ahead of it.
	if id >= dm.nextPage {
		dm.nextPage = id + 1
	}
	return nil
}

func (dm *DiskManager) writeAt(id int32, src []byte) error {
	n, err := dm.f.WriteAt(src, int64(id)*PageSize)
	if err != nil {
		return errors.Wrapf(err, "storage: write page %d", id)
	}
	if n != PageSize {
		return errors.Wrapf(io.ErrShortWrite, "storage: write page %d", id)
	}
	return nil
}

// ReadPage reads exactly one page. Reading beyond end of file is an error.
func (dm *DiskManager) ReadPage(id int32) ([]byte, error) {
	if id < 0 {
		return nil, errors.Wrapf(ErrInvalidPageID, "read page %d", id)
	}

	dm.mu.Lock()
	defer dm.mu.Unlock()

	if dm.f == nil {
		return nil, ErrClosed
	}
	dst := make([]byte, PageSize)
	n, err := dm.f.ReadAt(dst, int64(id)*PageSize)
	if n == PageSize {
		return dst, nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		return nil, errors.Wrapf(ErrPageOutOfRange, "read page %d: %v", id, io.ErrUnexpectedEOF)
	}
	return nil, errors.Wrapf(err, "storage: read page %d", id)
}

// NumPages returns fileLength / PageSize.
func (dm *DiskManager) NumPages() int32 {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return dm.nextPage
}

// Sync forces the page file to stable storage.
func (dm *DiskManager) Sync() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.f == nil {
		return nil
	}
	return errors.Wrap(dm.f.Sync(), "storage: sync page file")
}

func (dm *DiskManager) Close() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.f == nil {
		return nil
	}
	err := dm.f.Close()
	dm.f = nil
	return errors.Wrap(err, "storage: close page file")
}
