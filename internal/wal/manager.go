package wal

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/tuannm99/redodb/internal/storage"
)

var (
	ErrBadRecord = errors.New("wal: bad record")
	ErrNoWALFile = errors.New("wal: wal file not open")
)

const FileName = "wal.log"

// Manager is the append-only write-ahead log. All appends go through one
// mutex, so record order on disk matches call order.
type Manager struct {
	mu   sync.Mutex
	f    *os.File
	path string
	size int64 // append offset
	log  logrus.FieldLogger

	tornTail bool // Open cut off a torn trailing record
}

type Option func(*Manager)

func WithLogger(l logrus.FieldLogger) Option {
	return func(m *Manager) { m.log = l }
}

// Open opens (or creates) <dir>/wal.log positioned at end of file. A torn
// trailing record left by a crash mid-append is cut off first, so new
// records are never appended behind garbage.
func Open(dir string, opts ...Option) (*Manager, error) {
	if err := os.MkdirAll(dir, storage.FileMode0755); err != nil {
		return nil, errors.Wrap(err, "wal: create dir")
	}
	path := filepath.Join(dir, FileName)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, storage.FileMode0644)
	if err != nil {
		return nil, errors.Wrap(err, "wal: open")
	}
	m := &Manager{f: f, path: path, log: logrus.StandardLogger()}
	for _, o := range opts {
		o(m)
	}

	if err := m.initTail(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return m, nil
}

func (m *Manager) initTail() error {
	info, err := m.f.Stat()
	if err != nil {
		return errors.Wrap(err, "wal: stat")
	}
	res, err := scan(m.f, info.Size(), nil)
	if err != nil {
		return err
	}
	if res.torn {
		m.log.WithFields(logrus.Fields{
			"path":     m.path,
			"valid":    res.validEnd,
			"file_len": info.Size(),
		}).Warn("wal: discarding torn trailing record")
		if err := m.f.Truncate(res.validEnd); err != nil {
			return errors.Wrap(err, "wal: truncate torn tail")
		}
		if err := m.f.Sync(); err != nil {
			return errors.Wrap(err, "wal: sync after truncate")
		}
		m.tornTail = true
	}
	m.size = res.validEnd
	return nil
}

func (m *Manager) Path() string { return m.path }

// TornTail reports whether Open discarded a torn trailing record.
func (m *Manager) TornTail() bool { return m.tornTail }

// Size returns the number of bytes appended so far.
func (m *Manager) Size() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.size
}

func (m *Manager) LogBegin(txID int64) error {
	return m.append(&Record{Type: RecBegin, TxID: txID}, false)
}

func (m *Manager) LogUpdate(txID int64, pageID int32, before, after []byte) error {
	return m.append(&Record{
		Type:   RecUpdate,
		TxID:   txID,
		Update: &UpdatePayload{PageID: pageID, Before: before, After: after},
	}, false)
}

// LogCommit is durable once it returns, whatever the caller's commit mode.
func (m *Manager) LogCommit(txID int64) error {
	return m.append(&Record{Type: RecCommit, TxID: txID}, true)
}

// LogAbort is durable once it returns.
func (m *Manager) LogAbort(txID int64) error {
	return m.append(&Record{Type: RecAbort, TxID: txID}, true)
}

func (m *Manager) append(rec *Record, sync bool) error {
	buf, err := rec.Encode()
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.f == nil {
		return ErrNoWALFile
	}
	// A failed or short write leaves m.size alone so the next append
	// overwrites the partial bytes.
	if _, err := m.f.WriteAt(buf, m.size); err != nil {
		return errors.Wrapf(err, "wal: append %s tx=%d", rec.Type, rec.TxID)
	}
	m.size += int64(len(buf))
	if sync {
		if err := m.f.Sync(); err != nil {
			return errors.Wrapf(err, "wal: sync %s tx=%d", rec.Type, rec.TxID)
		}
	}
	return nil
}

// Flush forces the log to stable storage.
func (m *Manager) Flush() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.f == nil {
		return nil
	}
	return errors.Wrap(m.f.Sync(), "wal: sync")
}

func (m *Manager) Close() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.f == nil {
		return nil
	}
	err := m.f.Close()
	m.f = nil
	return errors.Wrap(err, "wal: close")
}
