package txn

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

var (
	ErrUnknownTx = errors.New("txn: unknown or finished transaction")
	ErrClosed    = errors.New("txn: manager is closed")
)

const (
	DefaultHardenerInterval = 10 * time.Millisecond
	DefaultCloseTimeout     = time.Second
)

// Manager drives the transaction lifecycle: BEGIN, page updates with their
// before-images, SAFE/FAST commit, and rollback. A background hardener
// periodically forces the WAL and dirty pages so FAST commits become
// durable on disk within a bounded lag.
//
// There is no locking across transactions: callers must not mutate the
// same page from two transactions at once.
type Manager struct {
	wal  WAL
	pool Pool
	disk PageWriter
	log  logrus.FieldLogger

	hardenerInterval time.Duration
	closeTimeout     time.Duration

	mu     sync.Mutex
	nextTx TxID
	active map[TxID]*transaction
	closed bool

	stopHardener context.CancelFunc
	hardenerDone chan struct{}
}

type Option func(*Manager)

// WithHardenerInterval sets the hardener period. A value <= 0 disables the
// hardener; FAST commits then reach disk only on eviction, flush or Close.
func WithHardenerInterval(d time.Duration) Option {
	return func(m *Manager) { m.hardenerInterval = d }
}

// WithCloseTimeout bounds how long Close waits for the hardener to stop.
func WithCloseTimeout(d time.Duration) Option {
	return func(m *Manager) { m.closeTimeout = d }
}

// WithStartTxID seeds the id counter. Ids already present in the WAL must
// not be reused, otherwise recovery would treat a new transaction's updates
// as belonging to an old committed one.
func WithStartTxID(id TxID) Option {
	return func(m *Manager) {
		if id > 0 {
			m.nextTx = id
		}
	}
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(m *Manager) { m.log = l }
}

// NewManager builds the manager and starts the hardener.
func NewManager(w WAL, pool Pool, disk PageWriter, opts ...Option) *Manager {
	m := &Manager{
		wal:              w,
		pool:             pool,
		disk:             disk,
		log:              logrus.StandardLogger(),
		hardenerInterval: DefaultHardenerInterval,
		closeTimeout:     DefaultCloseTimeout,
		nextTx:           1,
		active:           make(map[TxID]*transaction),
	}
	for _, o := range opts {
		o(m)
	}
	m.startHardener()
	return m
}

// Begin allocates the next id, logs BEGIN and registers an empty undo list.
func (m *Manager) Begin() (TxID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrClosed
	}
	id := m.nextTx
	m.nextTx++

	if err := m.wal.LogBegin(int64(id)); err != nil {
		return 0, errors.Wrapf(err, "txn: begin %d", id)
	}
	m.active[id] = &transaction{id: id, state: Active}
	return id, nil
}

// RecordPageUpdate must be called after the caller has already changed the
// page bytes in the pool. It remembers before for rollback, logs UPDATE,
// forces the WAL (the page may reach disk any time after this) and marks the
// page dirty. It is the only path by which a page change becomes recoverable.
//
// The undo entry is kept even when logging fails, so Rollback can still
// restore the cached page.
func (m *Manager) RecordPageUpdate(id TxID, pageID int32, before, after []byte) error {
	tx, err := m.lookup(id)
	if err != nil {
		return err
	}

	img := make([]byte, len(before))
	copy(img, before)
	m.mu.Lock()
	tx.undo = append(tx.undo, undoEntry{pageID: pageID, before: img})
	m.mu.Unlock()

	if err := m.wal.LogUpdate(int64(id), pageID, before, after); err != nil {
		return errors.Wrapf(err, "txn: log update tx=%d page=%d", id, pageID)
	}
	if err := m.wal.Flush(); err != nil {
		return errors.Wrapf(err, "txn: force wal tx=%d page=%d", id, pageID)
	}
	m.pool.MarkDirty(pageID, true)
	return nil
}

// Commit logs COMMIT, which is durable on return in both modes. Safe mode
// additionally forces the WAL and flushes all dirty pages before returning.
func (m *Manager) Commit(id TxID, mode CommitMode) error {
	if _, err := m.lookup(id); err != nil {
		return err
	}

	if err := m.wal.LogCommit(int64(id)); err != nil {
		return errors.Wrapf(err, "txn: commit %d", id)
	}
	// From here the transaction is committed; forget its before-images
	// whatever happens to the flush below.
	m.finish(id, Committed)

	if mode == Fast {
		return nil
	}
	if err := m.wal.Flush(); err != nil {
		return errors.Wrapf(err, "txn: safe commit %d: force wal", id)
	}
	if err := m.pool.FlushAll(); err != nil {
		return errors.Wrapf(err, "txn: safe commit %d: flush pages", id)
	}
	return nil
}

// Rollback logs ABORT and restores before-images newest first, both in the
// cached page and directly on disk, then flushes the pool.
func (m *Manager) Rollback(id TxID) error {
	tx, err := m.lookup(id)
	if err != nil {
		return err
	}

	if err := m.wal.LogAbort(int64(id)); err != nil {
		return errors.Wrapf(err, "txn: abort %d", id)
	}

	m.mu.Lock()
	undo := tx.undo
	m.mu.Unlock()

	for i := len(undo) - 1; i >= 0; i-- {
		u := undo[i]
		page, err := m.pool.GetPage(u.pageID)
		if err != nil {
			return errors.Wrapf(err, "txn: rollback %d: load page %d", id, u.pageID)
		}
		if err := page.Overwrite(u.before); err != nil {
			return errors.Wrapf(err, "txn: rollback %d: restore page %d", id, u.pageID)
		}
		m.pool.MarkDirty(u.pageID, true)
		if err := m.disk.WritePage(u.pageID, u.before); err != nil {
			return errors.Wrapf(err, "txn: rollback %d: write page %d", id, u.pageID)
		}
	}
	m.finish(id, Aborted)

	if err := m.pool.FlushAll(); err != nil {
		return errors.Wrapf(err, "txn: rollback %d: flush pages", id)
	}
	return nil
}

func (m *Manager) lookup(id TxID) (*transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	tx, ok := m.active[id]
	if !ok || tx.state != Active {
		return nil, errors.Wrapf(ErrUnknownTx, "tx=%d", id)
	}
	return tx, nil
}

func (m *Manager) finish(id TxID, state State) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if tx, ok := m.active[id]; ok {
		tx.state = state
		tx.undo = nil
		delete(m.active, id)
	}
}

// ActiveCount returns the number of transactions not yet committed or
// rolled back.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// NextTxID returns the id the next Begin will hand out.
func (m *Manager) NextTxID() TxID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nextTx
}

// Close stops the hardener (waiting at most closeTimeout), then forces the
// WAL, flushes the pool and closes the WAL. The page file is left open for
// its owner to close afterwards.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.stopAndWaitHardener()

	var err error
	err = multierr.Append(err, errors.Wrap(m.wal.Flush(), "txn: close: force wal"))
	err = multierr.Append(err, errors.Wrap(m.pool.FlushAll(), "txn: close: flush pages"))
	err = multierr.Append(err, errors.Wrap(m.wal.Close(), "txn: close: close wal"))
	return err
}
