package bufferpool

import (
	"container/list"
	"sync"

	"github.com/pkg/errors"

	"github.com/tuannm99/redodb/internal/storage"
)

const DefaultCapacity = 64

// Pool is a capacity-bounded LRU cache of pages over a PageStore.
//
// Recency is an intrusive list (front = most recently used) indexed by
// pageTable. One mutex covers every public operation, and eviction runs
// under the same lock as the lookup/insert that triggered it, so GetPage,
// eviction, MarkDirty and FlushAll never interleave.
type Pool struct {
	disk     PageStore
	capacity int

	mu        sync.Mutex
	lru       *list.List              // of *storage.Page
	pageTable map[int32]*list.Element // pageID -> element in lru
}

func NewPool(disk PageStore, capacity int) *Pool {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Pool{
		disk:      disk,
		capacity:  capacity,
		lru:       list.New(),
		pageTable: make(map[int32]*list.Element, capacity),
	}
}

func (p *Pool) Capacity() int { return p.capacity }

// GetPage returns the cached page, reading it through from disk on a miss.
// The returned page is shared: callers mutate Data in place.
func (p *Pool) GetPage(pageID int32) (*storage.Page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// 1) HIT
	if elem, ok := p.pageTable[pageID]; ok {
		p.lru.MoveToFront(elem)
		return elem.Value.(*storage.Page), nil
	}

	// 2) MISS: read through
	buf, err := p.disk.ReadPage(pageID)
	if err != nil {
		return nil, err
	}
	page, err := storage.NewPage(pageID, buf)
	if err != nil {
		return nil, err
	}
	elem := p.lru.PushFront(page)
	p.pageTable[pageID] = elem

	// 3) Evict
	if p.lru.Len() > p.capacity {
		if err := p.evictLocked(); err != nil {
			// Back out the insert so at most capacity pages stay resident.
			p.lru.Remove(elem)
			delete(p.pageTable, pageID)
			return nil, err
		}
	}
	return page, nil
}

// evictLocked drops the least recently used page, writing it back first
// if it is dirty. Caller holds p.mu.
func (p *Pool) evictLocked() error {
	victim := p.lru.Back()
	if victim == nil {
		return nil
	}
	page := victim.Value.(*storage.Page)
	if page.Dirty() {
		if err := p.writeBack(page); err != nil {
			// Keep the victim resident: its bytes are not on disk yet.
			return errors.Wrapf(err, "bufferpool: evict page %d", page.ID)
		}
		page.SetDirty(false)
	}
	p.lru.Remove(victim)
	delete(p.pageTable, page.ID)
	return nil
}

// writeBack writes the page under its read latch so a concurrent Mutate
// cannot tear the image.
func (p *Pool) writeBack(page *storage.Page) error {
	page.RLock()
	defer page.RUnlock()
	return p.disk.WritePage(page.ID, page.Data)
}

// MarkDirty sets or clears the dirty flag of a resident page.
// It is a no-op when the page is not resident.
func (p *Pool) MarkDirty(pageID int32, dirty bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if elem, ok := p.pageTable[pageID]; ok {
		elem.Value.(*storage.Page).SetDirty(dirty)
	}
}

// FlushAll writes every dirty resident page to disk and clears its flag.
// Nothing is evicted.
func (p *Pool) FlushAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for elem := p.lru.Front(); elem != nil; elem = elem.Next() {
		page := elem.Value.(*storage.Page)
		if !page.Dirty() {
			continue
		}
		if err := p.writeBack(page); err != nil {
			return errors.Wrapf(err, "bufferpool: flush page %d", page.ID)
		}
		page.SetDirty(false)
	}
	return nil
}

// Invalidate drops a resident page without writing it back. Recovery uses it
// after redoing a page directly on disk so the cache never serves stale bytes.
func (p *Pool) Invalidate(pageID int32) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if elem, ok := p.pageTable[pageID]; ok {
		p.lru.Remove(elem)
		delete(p.pageTable, pageID)
	}
}

func (p *Pool) Contains(pageID int32) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.pageTable[pageID]
	return ok
}

func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lru.Len()
}

// Resident returns resident page ids, most recently used first.
func (p *Pool) Resident() []int32 {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]int32, 0, p.lru.Len())
	for elem := p.lru.Front(); elem != nil; elem = elem.Next() {
		out = append(out, elem.Value.(*storage.Page).ID)
	}
	return out
}
