package heap

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/tuannm99/redodb/internal/bufferpool"
	"github.com/tuannm99/redodb/internal/record"
	"github.com/tuannm99/redodb/internal/txn"
)

// PageAllocator hands out fresh zero pages (storage.DiskManager).
type PageAllocator interface {
	AllocatePage() (int32, error)
}

// UpdateRecorder is the transaction manager hook every page change goes
// through (txn.Manager).
type UpdateRecorder interface {
	RecordPageUpdate(id txn.TxID, pageID int32, before, after []byte) error
}

var _ UpdateRecorder = (*txn.Manager)(nil)

// Table is a heap file: an unordered list of slotted pages. Every mutation
// snapshots the whole page before and after the change and hands both
// images to the transaction manager, which makes it recoverable.
//
// The page list lives in memory only; persisting it is the catalog's job.
type Table struct {
	Name   string
	Schema record.Schema

	BP    bufferpool.Manager
	alloc PageAllocator
	tm    UpdateRecorder

	// mu serializes layout changes on this table's pages.
	mu      sync.Mutex
	pageIDs []int32
}

func NewTable(
	name string,
	schema record.Schema,
	bp bufferpool.Manager,
	alloc PageAllocator,
	tm UpdateRecorder,
	existingPages []int32,
) *Table {
	return &Table{
		Name:    name,
		Schema:  schema,
		BP:      bp,
		alloc:   alloc,
		tm:      tm,
		pageIDs: append([]int32(nil), existingPages...),
	}
}

// PageIDs returns the pages owned by the table, in allocation order.
func (t *Table) PageIDs() []int32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]int32(nil), t.pageIDs...)
}

// Insert stores rec in the first page with room, allocating a page when
// none has any.
func (t *Table) Insert(tx txn.TxID, rec []byte) (RecordID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.insertLocked(tx, rec)
}

func (t *Table) insertLocked(tx txn.TxID, rec []byte) (RecordID, error) {
	if len(rec) > MaxRecordSize {
		return RecordID{}, errors.Wrapf(ErrRecordTooLarge, "%d bytes, max %d", len(rec), MaxRecordSize)
	}

	pid, err := t.findPageWithSpace(len(rec))
	if err != nil {
		return RecordID{}, err
	}
	p, err := t.BP.GetPage(pid)
	if err != nil {
		return RecordID{}, err
	}

	var off int
	before, after, err := p.Mutate(func([]byte) error {
		var err error
		off, err = NewHeapPage(p).Insert(rec)
		return err
	})
	if err != nil {
		return RecordID{}, err
	}
	if err := t.tm.RecordPageUpdate(tx, pid, before, after); err != nil {
		return RecordID{}, err
	}
	return RecordID{PageID: pid, Offset: int32(off)}, nil
}

func (t *Table) findPageWithSpace(n int) (int32, error) {
	for _, pid := range t.pageIDs {
		p, err := t.BP.GetPage(pid)
		if err != nil {
			return -1, err
		}
		p.RLock()
		ok, err := NewHeapPage(p).Fits(n)
		p.RUnlock()
		if err != nil {
			return -1, errors.Wrapf(err, "table %s page %d", t.Name, pid)
		}
		if ok {
			return pid, nil
		}
	}

	// all full: a fresh page is zero, i.e. an empty slotted page
	pid, err := t.alloc.AllocatePage()
	if err != nil {
		return -1, err
	}
	t.pageIDs = append(t.pageIDs, pid)
	return pid, nil
}

// Read returns a copy of the live record at rid.
func (t *Table) Read(rid RecordID) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, err := t.BP.GetPage(rid.PageID)
	if err != nil {
		return nil, err
	}
	p.RLock()
	defer p.RUnlock()
	payload, err := NewHeapPage(p).Read(int(rid.Offset))
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", rid)
	}
	return append([]byte(nil), payload...), nil
}

// Update rewrites the record in place when rec fits in the old length.
// Otherwise the old record becomes a tombstone and rec is inserted anew;
// the returned id is then different from rid.
func (t *Table) Update(tx txn.TxID, rid RecordID, rec []byte) (RecordID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, err := t.BP.GetPage(rid.PageID)
	if err != nil {
		return RecordID{}, err
	}
	hp := NewHeapPage(p)
	p.RLock()
	cur, err := hp.Read(int(rid.Offset))
	curLen := len(cur)
	p.RUnlock()
	if err != nil {
		return RecordID{}, errors.Wrapf(err, "update %s", rid)
	}

	if len(rec) == 0 {
		return RecordID{}, errEmptyRecord
	}

	if len(rec) <= curLen {
		before, after, err := p.Mutate(func([]byte) error {
			return hp.Overwrite(int(rid.Offset), rec)
		})
		if err != nil {
			return RecordID{}, err
		}
		if err := t.tm.RecordPageUpdate(tx, rid.PageID, before, after); err != nil {
			return RecordID{}, err
		}
		return rid, nil
	}
	if len(rec) > MaxRecordSize {
		return RecordID{}, errors.Wrapf(ErrRecordTooLarge, "%d bytes, max %d", len(rec), MaxRecordSize)
	}

	// Log the tombstone before inserting: the insert may load other pages
	// and push this one out of the pool.
	before, after, err := p.Mutate(func([]byte) error {
		return hp.Tombstone(int(rid.Offset))
	})
	if err != nil {
		return RecordID{}, err
	}
	if err := t.tm.RecordPageUpdate(tx, rid.PageID, before, after); err != nil {
		return RecordID{}, err
	}
	return t.insertLocked(tx, rec)
}

// Delete turns the record at rid into a tombstone. Its space is not reused.
func (t *Table) Delete(tx txn.TxID, rid RecordID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, err := t.BP.GetPage(rid.PageID)
	if err != nil {
		return err
	}
	before, after, err := p.Mutate(func([]byte) error {
		return NewHeapPage(p).Tombstone(int(rid.Offset))
	})
	if err != nil {
		return errors.Wrapf(err, "delete %s", rid)
	}
	return t.tm.RecordPageUpdate(tx, rid.PageID, before, after)
}

// Scan visits every live record. fn receives a copy of the payload and must
// not call back into the table.
func (t *Table) Scan(fn func(rid RecordID, rec []byte) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, pid := range t.pageIDs {
		p, err := t.BP.GetPage(pid)
		if err != nil {
			return err
		}
		p.RLock()
		err = NewHeapPage(p).ForEach(func(off int, payload []byte) error {
			return fn(RecordID{PageID: pid, Offset: int32(off)}, append([]byte(nil), payload...))
		})
		p.RUnlock()
		if err != nil {
			return err
		}
	}
	return nil
}

// ---- row-level helpers ----

func (t *Table) InsertRow(tx txn.TxID, values []any) (RecordID, error) {
	data, err := record.EncodeRow(t.Schema, values)
	if err != nil {
		return RecordID{}, err
	}
	return t.Insert(tx, data)
}

func (t *Table) ReadRow(rid RecordID) ([]any, error) {
	data, err := t.Read(rid)
	if err != nil {
		return nil, err
	}
	return record.DecodeRow(t.Schema, data)
}

func (t *Table) UpdateRow(tx txn.TxID, rid RecordID, values []any) (RecordID, error) {
	data, err := record.EncodeRow(t.Schema, values)
	if err != nil {
		return RecordID{}, err
	}
	return t.Update(tx, rid, data)
}

func (t *Table) ScanRows(fn func(rid RecordID, row []any) error) error {
	return t.Scan(func(rid RecordID, rec []byte) error {
		row, err := record.DecodeRow(t.Schema, rec)
		if err != nil {
			return errors.Wrapf(err, "decode %s", rid)
		}
		return fn(rid, row)
	})
}
