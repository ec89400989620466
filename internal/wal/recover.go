package wal

import (
	"os"

	"github.com/pkg/errors"
)

// PageWriter lets recovery redo pages without importing storage.
type PageWriter interface {
	WritePage(pageID int32, data []byte) error
}

// Invalidator drops cached copies of pages that recovery rewrote on disk.
type Invalidator interface {
	Invalidate(pageID int32)
}

type RecoveryStats struct {
	Records   int
	Begun     int
	Committed int
	Redone    int

	// TornTail is set when a torn trailing record was found, either by this
	// scan or by Open, which cuts it off before recovery runs.
	TornTail bool

	// MaxTxID is the largest transaction id seen in the log, 0 when empty.
	MaxTxID int64
}

// Recover runs two linear scans over the log. The analysis pass collects
// the ids of begun and committed transactions; the redo pass writes the
// after-image of every UPDATE that belongs to a committed transaction
// straight to disk. There is no undo pass: updates of transactions without
// a COMMIT are simply not redone. pool may be nil.
//
// Recover is idempotent: it only ever writes committed after-images, in log
// order, so a second run produces the same pages.
func (m *Manager) Recover(pool Invalidator, disk PageWriter) (RecoveryStats, error) {
	var stats RecoveryStats
	if m == nil {
		return stats, nil
	}

	f, err := os.Open(m.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return stats, nil
		}
		return stats, errors.Wrap(err, "wal: open for recovery")
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return stats, errors.Wrap(err, "wal: stat for recovery")
	}
	size := info.Size()

	// 1) analysis
	begun := make(map[int64]struct{})
	committed := make(map[int64]struct{})
	res, err := scan(f, size, func(e entry) error {
		if e.txID > stats.MaxTxID {
			stats.MaxTxID = e.txID
		}
		switch e.typ {
		case RecBegin:
			begun[e.txID] = struct{}{}
		case RecCommit:
			committed[e.txID] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return stats, err
	}
	stats.Records = res.records
	stats.TornTail = res.torn || m.tornTail
	stats.Begun = len(begun)
	stats.Committed = len(committed)

	// 2) redo; bounded by the analysis pass so both see the same records.
	_, err = scan(f, res.validEnd, func(e entry) error {
		if e.typ != RecUpdate {
			return nil
		}
		if _, ok := committed[e.txID]; !ok {
			return nil
		}
		rec, err := e.read(f)
		if err != nil {
			return err
		}
		upd := rec.Update
		if err := disk.WritePage(upd.PageID, upd.After); err != nil {
			return errors.Wrapf(err, "wal: redo page %d tx=%d", upd.PageID, e.txID)
		}
		if pool != nil {
			pool.Invalidate(upd.PageID)
		}
		stats.Redone++
		return nil
	})
	return stats, err
}

// ReadAll decodes every complete record in the log, in order.
func (m *Manager) ReadAll() ([]Record, error) {
	f, err := os.Open(m.path)
	if err != nil {
		return nil, errors.Wrap(err, "wal: open for read")
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, errors.Wrap(err, "wal: stat for read")
	}

	var out []Record
	_, err = scan(f, info.Size(), func(e entry) error {
		rec, err := e.read(f)
		if err != nil {
			return err
		}
		out = append(out, rec)
		return nil
	})
	return out, err
}
