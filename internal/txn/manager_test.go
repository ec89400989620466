package txn

import (
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/sourcegraph/conc/pool"
	"github.com/stretchr/testify/require"

	"github.com/tuannm99/redodb/internal/bufferpool"
	"github.com/tuannm99/redodb/internal/storage"
	"github.com/tuannm99/redodb/internal/wal"
)

type testEnv struct {
	dir  string
	disk *storage.DiskManager
	pool *bufferpool.Pool
	wal  *wal.Manager
	tm   *Manager
}

// newTestEnv wires disk, pool, WAL and manager over a temp dir. The
// hardener is off unless opts turn it on, so tests control when pages move.
func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	return openTestEnv(t, t.TempDir(), opts...)
}

func openTestEnv(t *testing.T, dir string, opts ...Option) *testEnv {
	t.Helper()

	disk, err := storage.OpenDiskManager(dir)
	require.NoError(t, err)
	bp := bufferpool.NewPool(disk, 4)
	w, err := wal.Open(dir)
	require.NoError(t, err)

	opts = append([]Option{WithHardenerInterval(0)}, opts...)
	env := &testEnv{dir: dir, disk: disk, pool: bp, wal: w, tm: NewManager(w, bp, disk, opts...)}
	t.Cleanup(env.crash)
	return env
}

// crash drops every in-memory structure without flushing anything.
func (e *testEnv) crash() {
	if e.tm.stopHardener != nil {
		e.tm.stopHardener()
		<-e.tm.hardenerDone
	}
	_ = e.wal.Close()
	_ = e.disk.Close()
}

// reopenAndRecover simulates a restart: fresh files, fresh pool, recovery.
func reopenAndRecover(t *testing.T, dir string) (*storage.DiskManager, wal.RecoveryStats) {
	t.Helper()

	disk, err := storage.OpenDiskManager(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = disk.Close() })
	bp := bufferpool.NewPool(disk, 4)
	w, err := wal.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	stats, err := w.Recover(bp, disk)
	require.NoError(t, err)
	return disk, stats
}

// setByte mutates the cached page and reports the update, the way the heap
// layer does.
func (e *testEnv) setByte(t *testing.T, tx TxID, pageID int32, off int, v byte) {
	t.Helper()

	p, err := e.pool.GetPage(pageID)
	require.NoError(t, err)
	before, after, err := p.Mutate(func(data []byte) error {
		data[off] = v
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, e.tm.RecordPageUpdate(tx, pageID, before, after))
}

func (e *testEnv) diskByte(t *testing.T, pageID int32, off int) byte {
	t.Helper()
	b, err := e.disk.ReadPage(pageID)
	require.NoError(t, err)
	return b[off]
}

func TestManager_BeginAssignsIncreasingIDs(t *testing.T) {
	env := newTestEnv(t)

	a, err := env.tm.Begin()
	require.NoError(t, err)
	b, err := env.tm.Begin()
	require.NoError(t, err)
	require.Equal(t, TxID(1), a)
	require.Equal(t, TxID(2), b)
	require.Equal(t, 2, env.tm.ActiveCount())

	recs, err := env.wal.ReadAll()
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, wal.RecBegin, recs[0].Type)
}

func TestManager_SafeCommitSurvivesRestart(t *testing.T) {
	env := newTestEnv(t)
	pid, err := env.disk.AllocatePage()
	require.NoError(t, err)

	tx, err := env.tm.Begin()
	require.NoError(t, err)
	env.setByte(t, tx, pid, 0, 55)
	require.NoError(t, env.tm.Commit(tx, Safe))

	// safe commit already put the page on disk
	require.Equal(t, byte(55), env.diskByte(t, pid, 0))
	require.Equal(t, 0, env.tm.ActiveCount())

	env.crash()
	disk, stats := reopenAndRecover(t, env.dir)
	require.Equal(t, 1, stats.Redone)

	b, err := disk.ReadPage(pid)
	require.NoError(t, err)
	require.Equal(t, byte(55), b[0])
}

func TestManager_RollbackRestoresDiskImmediately(t *testing.T) {
	env := newTestEnv(t)
	pid, err := env.disk.AllocatePage()
	require.NoError(t, err)

	tx, err := env.tm.Begin()
	require.NoError(t, err)
	env.setByte(t, tx, pid, 0, 77)
	require.NoError(t, env.tm.Rollback(tx))

	require.Equal(t, byte(0), env.diskByte(t, pid, 0))

	p, err := env.pool.GetPage(pid)
	require.NoError(t, err)
	require.Equal(t, byte(0), p.Data[0])
	require.False(t, p.Dirty())

	recs, err := env.wal.ReadAll()
	require.NoError(t, err)
	require.Equal(t, wal.RecAbort, recs[len(recs)-1].Type)
}

func TestManager_RollbackReplaysNewestFirst(t *testing.T) {
	env := newTestEnv(t)
	pid, err := env.disk.AllocatePage()
	require.NoError(t, err)

	// committed baseline: byte 0 = 10
	base, err := env.tm.Begin()
	require.NoError(t, err)
	env.setByte(t, base, pid, 0, 10)
	require.NoError(t, env.tm.Commit(base, Safe))

	tx, err := env.tm.Begin()
	require.NoError(t, err)
	env.setByte(t, tx, pid, 0, 20)
	env.setByte(t, tx, pid, 1, 30)
	env.setByte(t, tx, pid, 0, 40)
	require.NoError(t, env.tm.Rollback(tx))

	// the oldest before-image wins
	require.Equal(t, byte(10), env.diskByte(t, pid, 0))
	require.Equal(t, byte(0), env.diskByte(t, pid, 1))
}

func TestManager_RollbackAfterEviction(t *testing.T) {
	env := newTestEnv(t)

	var ids []int32
	for i := 0; i < 6; i++ {
		id, err := env.disk.AllocatePage()
		require.NoError(t, err)
		ids = append(ids, id)
	}

	tx, err := env.tm.Begin()
	require.NoError(t, err)
	env.setByte(t, tx, ids[0], 0, 1)
	// push page 0 out of the 4-page pool; eviction writes the dirty bytes
	for _, id := range ids[1:] {
		_, err := env.pool.GetPage(id)
		require.NoError(t, err)
	}
	require.Equal(t, byte(1), env.diskByte(t, ids[0], 0))

	require.NoError(t, env.tm.Rollback(tx))
	require.Equal(t, byte(0), env.diskByte(t, ids[0], 0))
}

func TestManager_UncommittedIsNotRecovered(t *testing.T) {
	env := newTestEnv(t)
	pid, err := env.disk.AllocatePage()
	require.NoError(t, err)

	tx, err := env.tm.Begin()
	require.NoError(t, err)
	env.setByte(t, tx, pid, 0, 99)

	env.crash()
	disk, stats := reopenAndRecover(t, env.dir)
	require.Equal(t, 0, stats.Redone)
	require.Equal(t, 1, stats.Begun)

	b, err := disk.ReadPage(pid)
	require.NoError(t, err)
	require.NotEqual(t, byte(99), b[0])
}

// Pages can reach disk before their transaction finishes (hardener, eviction,
// another transaction's safe commit). Recovery is redo-only, so such a write
// stays on disk after a crash.
func TestManager_UncommittedFlushedPageStaysAfterRecovery(t *testing.T) {
	env := newTestEnv(t)
	pid, err := env.disk.AllocatePage()
	require.NoError(t, err)

	tx, err := env.tm.Begin()
	require.NoError(t, err)
	env.setByte(t, tx, pid, 0, 99)
	require.NoError(t, env.pool.FlushAll())

	env.crash()
	disk, stats := reopenAndRecover(t, env.dir)
	require.Equal(t, 0, stats.Redone)

	b, err := disk.ReadPage(pid)
	require.NoError(t, err)
	require.Equal(t, byte(99), b[0])
}

func TestManager_FastCommitLeavesPagesToHardener(t *testing.T) {
	env := newTestEnv(t)
	pid, err := env.disk.AllocatePage()
	require.NoError(t, err)

	tx, err := env.tm.Begin()
	require.NoError(t, err)
	env.setByte(t, tx, pid, 0, 66)
	require.NoError(t, env.tm.Commit(tx, Fast))

	// no hardener: the page is still only in memory
	require.Equal(t, byte(0), env.diskByte(t, pid, 0))
	p, err := env.pool.GetPage(pid)
	require.NoError(t, err)
	require.True(t, p.Dirty())

	// but COMMIT is in the log, so a crash now is repaired by redo
	env.crash()
	disk, stats := reopenAndRecover(t, env.dir)
	require.Equal(t, 1, stats.Committed)

	b, err := disk.ReadPage(pid)
	require.NoError(t, err)
	require.Equal(t, byte(66), b[0])
}

func TestManager_HardenerFlushesFastCommits(t *testing.T) {
	env := newTestEnv(t, WithHardenerInterval(5*time.Millisecond))
	pid, err := env.disk.AllocatePage()
	require.NoError(t, err)

	tx, err := env.tm.Begin()
	require.NoError(t, err)
	env.setByte(t, tx, pid, 0, 88)
	require.NoError(t, env.tm.Commit(tx, Fast))

	require.Eventually(t, func() bool {
		b, err := env.disk.ReadPage(pid)
		return err == nil && b[0] == 88
	}, 2*time.Second, 5*time.Millisecond)
}

func TestManager_CloseFlushesEverything(t *testing.T) {
	env := newTestEnv(t, WithHardenerInterval(time.Hour))
	pid, err := env.disk.AllocatePage()
	require.NoError(t, err)

	tx, err := env.tm.Begin()
	require.NoError(t, err)
	env.setByte(t, tx, pid, 0, 12)
	require.NoError(t, env.tm.Commit(tx, Fast))

	require.NoError(t, env.tm.Close())
	require.NoError(t, env.tm.Close())
	require.Equal(t, byte(12), env.diskByte(t, pid, 0))

	_, err = env.tm.Begin()
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, env.wal.LogBegin(9), wal.ErrNoWALFile)
}

func TestManager_UnknownTransaction(t *testing.T) {
	env := newTestEnv(t)
	pid, err := env.disk.AllocatePage()
	require.NoError(t, err)

	require.ErrorIs(t, env.tm.Commit(42, Safe), ErrUnknownTx)
	require.ErrorIs(t, env.tm.Rollback(42), ErrUnknownTx)
	require.ErrorIs(t, env.tm.RecordPageUpdate(42, pid, nil, nil), ErrUnknownTx)

	tx, err := env.tm.Begin()
	require.NoError(t, err)
	require.NoError(t, env.tm.Commit(tx, Safe))
	require.ErrorIs(t, env.tm.Commit(tx, Safe), ErrUnknownTx)
	require.ErrorIs(t, env.tm.Rollback(tx), ErrUnknownTx)
}

func TestManager_StartTxIDSkipsLoggedIDs(t *testing.T) {
	env := newTestEnv(t, WithStartTxID(17))

	tx, err := env.tm.Begin()
	require.NoError(t, err)
	require.Equal(t, TxID(17), tx)
	require.Equal(t, TxID(18), env.tm.NextTxID())
}

func TestManager_ConcurrentTransactionsOnDistinctPages(t *testing.T) {
	env := newTestEnv(t, WithHardenerInterval(time.Millisecond))

	// one page per worker, all resident in the 4-page pool
	const workers = 4
	ids := make([]int32, workers)
	for i := range ids {
		id, err := env.disk.AllocatePage()
		require.NoError(t, err)
		ids[i] = id
	}

	tasks := pool.New().WithErrors()
	for w := 0; w < workers; w++ {
		w := w
		tasks.Go(func() error {
			for i := 1; i <= 10; i++ {
				tx, err := env.tm.Begin()
				if err != nil {
					return err
				}
				p, err := env.pool.GetPage(ids[w])
				if err != nil {
					return err
				}
				before, after, err := p.Mutate(func(data []byte) error {
					data[0] = byte(i)
					return nil
				})
				if err != nil {
					return err
				}
				if err := env.tm.RecordPageUpdate(tx, ids[w], before, after); err != nil {
					return err
				}
				mode := Safe
				if i%2 == 0 {
					mode = Fast
				}
				if err := env.tm.Commit(tx, mode); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, tasks.Wait())

	require.NoError(t, env.tm.Close())
	for _, id := range ids {
		require.Equal(t, byte(10), env.diskByte(t, id, 0))
	}
}

// flakyWAL fails Flush a few times to exercise the hardener's error path.
type flakyWAL struct {
	WAL
	mu       sync.Mutex
	failures int
	flushes  int
}

var errFlush = errors.New("fsync: input/output error")

func (w *flakyWAL) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.flushes++
	if w.failures > 0 {
		w.failures--
		return errFlush
	}
	return nil
}

func (w *flakyWAL) flushCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushes
}

func TestHardener_LogsFailuresAndKeepsRunning(t *testing.T) {
	dir := t.TempDir()
	disk, err := storage.OpenDiskManager(dir)
	require.NoError(t, err)
	defer func() { _ = disk.Close() }()
	inner, err := wal.Open(dir)
	require.NoError(t, err)

	logger, hook := logtest.NewNullLogger()
	w := &flakyWAL{WAL: inner, failures: 3}
	tm := NewManager(w, bufferpool.NewPool(disk, 2), disk,
		WithHardenerInterval(time.Millisecond),
		WithLogger(logger),
	)

	require.Eventually(t, func() bool { return w.flushCount() > 5 }, 2*time.Second, time.Millisecond)
	require.NoError(t, tm.Close())

	var warned int
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			require.ErrorIs(t, e.Data[logrus.ErrorKey].(error), errFlush)
			warned++
		}
	}
	require.Equal(t, 3, warned)
}

func TestManager_RollbackRestoresPageWhenLoggingFails(t *testing.T) {
	dir := t.TempDir()
	disk, err := storage.OpenDiskManager(dir)
	require.NoError(t, err)
	inner, err := wal.Open(dir)
	require.NoError(t, err)
	bp := bufferpool.NewPool(disk, 4)

	w := &flakyWAL{WAL: inner}
	tm := NewManager(w, bp, disk, WithHardenerInterval(0))
	t.Cleanup(func() {
		_ = tm.Close()
		_ = disk.Close()
	})

	pid, err := disk.AllocatePage()
	require.NoError(t, err)
	tx, err := tm.Begin()
	require.NoError(t, err)

	p, err := bp.GetPage(pid)
	require.NoError(t, err)
	before, after, err := p.Mutate(func(data []byte) error {
		data[0] = 99
		return nil
	})
	require.NoError(t, err)

	w.failures = 1
	err = tm.RecordPageUpdate(tx, pid, before, after)
	require.ErrorIs(t, err, errFlush)

	require.NoError(t, tm.Rollback(tx))

	p, err = bp.GetPage(pid)
	require.NoError(t, err)
	require.Equal(t, byte(0), p.Data[0])
	onDisk, err := disk.ReadPage(pid)
	require.NoError(t, err)
	require.Equal(t, byte(0), onDisk[0])
}

func TestParseCommitMode(t *testing.T) {
	m, err := ParseCommitMode("fast")
	require.NoError(t, err)
	require.Equal(t, Fast, m)

	m, err = ParseCommitMode("SAFE")
	require.NoError(t, err)
	require.Equal(t, Safe, m)

	_, err = ParseCommitMode("eventually")
	require.Error(t, err)
}
