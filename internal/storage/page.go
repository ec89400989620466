package storage

import "sync"

// Page is a fixed-size buffer of PageSize bytes with an identity and a
// transient dirty flag. While resident it is owned by a buffer pool slot;
// callers mutate Data in place and report the change through the
// transaction manager.
//
// The latch orders writers of Data against readers that copy it out, such as
// flush and eviction. Writers go through Mutate or Overwrite; readers outside
// those take RLock.
type Page struct {
	ID    int32
	Data  []byte
	dirty bool

	latch sync.RWMutex
}

// NewPage wraps buf as page id. buf must be exactly PageSize bytes.
func NewPage(id int32, buf []byte) (*Page, error) {
	if len(buf) != PageSize {
		return nil, ErrWrongPageSize
	}
	return &Page{ID: id, Data: buf}, nil
}

func (p *Page) Dirty() bool { return p.dirty }

func (p *Page) SetDirty(dirty bool) { p.dirty = dirty }

func (p *Page) RLock()   { p.latch.RLock() }
func (p *Page) RUnlock() { p.latch.RUnlock() }

// Snapshot returns a copy of the page bytes, suitable as a before/after image.
func (p *Page) Snapshot() []byte {
	p.latch.RLock()
	defer p.latch.RUnlock()
	return p.snapshotLocked()
}

func (p *Page) snapshotLocked() []byte {
	out := make([]byte, len(p.Data))
	copy(out, p.Data)
	return out
}

// Mutate runs fn on the page bytes under the write latch and returns the
// page images from before and after it. When fn fails the bytes are put back.
func (p *Page) Mutate(fn func(data []byte) error) (before, after []byte, err error) {
	p.latch.Lock()
	defer p.latch.Unlock()

	before = p.snapshotLocked()
	if err := fn(p.Data); err != nil {
		copy(p.Data, before)
		return nil, nil, err
	}
	return before, p.snapshotLocked(), nil
}

// Overwrite replaces the page bytes with img.
func (p *Page) Overwrite(img []byte) error {
	if len(img) != PageSize {
		return ErrWrongPageSize
	}
	p.latch.Lock()
	defer p.latch.Unlock()
	copy(p.Data, img)
	return nil
}
