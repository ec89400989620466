package engine

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/tuannm99/redodb/internal"
	"github.com/tuannm99/redodb/internal/bufferpool"
	"github.com/tuannm99/redodb/internal/heap"
	"github.com/tuannm99/redodb/internal/logger"
	"github.com/tuannm99/redodb/internal/record"
	"github.com/tuannm99/redodb/internal/storage"
	"github.com/tuannm99/redodb/internal/txn"
	"github.com/tuannm99/redodb/internal/wal"
)

var (
	ErrDatabaseClosed = errors.New("redodb: database is closed")
	ErrTableExists    = errors.New("redodb: table already open")
	ErrTableNotFound  = errors.New("redodb: table not open")
)

type DatabaseOperation interface {
	CreateTable(name string, schema record.Schema) (*heap.Table, error)
	OpenTable(name string, schema record.Schema, pageIDs []int32) (*heap.Table, error)
	Table(name string) (*heap.Table, error)
	Close() error
}

var _ DatabaseOperation = (*Database)(nil)

// Database wires the storage core together: page file, buffer pool, WAL and
// transaction manager. Open runs crash recovery before anything else can
// touch the pages.
type Database struct {
	DataDir    string
	CommitMode txn.CommitMode

	Disk *storage.DiskManager
	BP   *bufferpool.Pool
	WAL  *wal.Manager
	TM   *txn.Manager

	// Recovery holds what the startup redo pass did.
	Recovery wal.RecoveryStats

	log logrus.FieldLogger

	mu     sync.Mutex
	tables map[string]*heap.Table
	closed bool
}

type Option func(*options)

type options struct {
	log logrus.FieldLogger
}

// WithLogger overrides the logger built from cfg.Log.Level.
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *options) { o.log = l }
}

// Open bootstraps in dependency order: disk, pool, WAL, recovery, then the
// transaction manager seeded past every id found in the log.
func Open(cfg *internal.Config, opts ...Option) (*Database, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	if o.log == nil {
		l, err := logger.New(cfg.Log.Level)
		if err != nil {
			return nil, err
		}
		o.log = l
	}

	mode, err := txn.ParseCommitMode(cfg.Txn.CommitMode)
	if err != nil {
		return nil, err
	}

	dir := cfg.Storage.Workdir
	disk, err := storage.OpenDiskManager(dir)
	if err != nil {
		return nil, err
	}
	bp := bufferpool.NewPool(disk, cfg.BufferPool.Capacity)

	w, err := wal.Open(dir, wal.WithLogger(o.log))
	if err != nil {
		_ = disk.Close()
		return nil, err
	}

	stats, err := w.Recover(bp, disk)
	if err != nil {
		_ = w.Close()
		_ = disk.Close()
		return nil, errors.Wrap(err, "redodb: recovery")
	}
	o.log.WithFields(logrus.Fields{
		"dir":       dir,
		"records":   stats.Records,
		"begun":     stats.Begun,
		"committed": stats.Committed,
		"redone":    stats.Redone,
		"torn_tail": stats.TornTail,
		"max_tx":    stats.MaxTxID,
	}).Info("recovery finished")

	tm := txn.NewManager(w, bp, disk,
		txn.WithHardenerInterval(cfg.Txn.HardenerInterval),
		txn.WithCloseTimeout(cfg.Txn.CloseTimeout),
		txn.WithStartTxID(txn.TxID(stats.MaxTxID+1)),
		txn.WithLogger(o.log),
	)

	return &Database{
		DataDir:    dir,
		CommitMode: mode,
		Disk:       disk,
		BP:         bp,
		WAL:        w,
		TM:         tm,
		Recovery:   stats,
		log:        o.log,
		tables:     make(map[string]*heap.Table),
	}, nil
}

// CreateTable registers a new, empty table.
func (db *Database) CreateTable(name string, schema record.Schema) (*heap.Table, error) {
	return db.OpenTable(name, schema, nil)
}

// OpenTable registers a table over pages it already owns. The page list is
// the caller's to persist; the core keeps no catalog.
func (db *Database) OpenTable(name string, schema record.Schema, pageIDs []int32) (*heap.Table, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return nil, ErrDatabaseClosed
	}
	if _, ok := db.tables[name]; ok {
		return nil, errors.Wrap(ErrTableExists, name)
	}
	for _, pid := range pageIDs {
		if pid < 0 || pid >= db.Disk.NumPages() {
			return nil, errors.Wrapf(storage.ErrInvalidPageID, "table %s page %d", name, pid)
		}
	}

	tbl := heap.NewTable(name, schema, db.BP, db.Disk, db.TM, pageIDs)
	db.tables[name] = tbl
	return tbl, nil
}

func (db *Database) Table(name string) (*heap.Table, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return nil, ErrDatabaseClosed
	}
	tbl, ok := db.tables[name]
	if !ok {
		return nil, errors.Wrap(ErrTableNotFound, name)
	}
	return tbl, nil
}

func (db *Database) Begin() (txn.TxID, error) {
	return db.TM.Begin()
}

// Commit commits with the configured mode.
func (db *Database) Commit(tx txn.TxID) error {
	return db.TM.Commit(tx, db.CommitMode)
}

func (db *Database) Rollback(tx txn.TxID) error {
	return db.TM.Rollback(tx)
}

// Close shuts the transaction manager down (hardener, WAL, pages) and then
// syncs and closes the page file.
func (db *Database) Close() error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return nil
	}
	db.closed = true
	db.mu.Unlock()

	var err error
	err = multierr.Append(err, db.TM.Close())
	err = multierr.Append(err, db.Disk.Sync())
	err = multierr.Append(err, db.Disk.Close())
	if err != nil {
		db.log.WithError(err).Error("close failed")
		return err
	}
	db.log.WithField("dir", db.DataDir).Info("database closed")
	return nil
}
