package main

import (
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/sourcegraph/conc"
	"go.uber.org/atomic"

	"github.com/tuannm99/redodb/internal"
	"github.com/tuannm99/redodb/internal/engine"
	"github.com/tuannm99/redodb/internal/heap"
	"github.com/tuannm99/redodb/internal/record"
	"github.com/tuannm99/redodb/internal/txn"
)

type benchOptions struct {
	Workers  int
	Rows     int
	Duration time.Duration
}

type benchResult struct {
	Mode     txn.CommitMode
	Ops      int64
	Failed   int64
	Elapsed  time.Duration
	Latency  time.Duration // summed over successful ops
	WALBytes int64
}

func (r benchResult) Throughput() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Ops) / r.Elapsed.Seconds()
}

func (r benchResult) AvgLatency() time.Duration {
	if r.Ops == 0 {
		return 0
	}
	return r.Latency / time.Duration(r.Ops)
}

func (r benchResult) Print(w io.Writer) {
	_, _ = fmt.Fprintf(w, "%s commit -> %s tx | throughput %s tx/s | avg %s | failed %s | wal %s\n",
		r.Mode,
		humanize.Comma(r.Ops),
		humanize.CommafWithDigits(r.Throughput(), 1),
		r.AvgLatency(),
		humanize.Comma(r.Failed),
		humanize.Bytes(uint64(r.WALBytes)),
	)
}

func kvSchema() record.Schema {
	return record.Schema{Cols: []record.Column{
		{Name: "k", Type: record.ColInt32},
		{Name: "v", Type: record.ColInt32},
	}}
}

// runBench opens a fresh database under cfg.Storage.Workdir, loads opts.Rows
// rows into kv(k, v) and lets opts.Workers goroutines increment random rows,
// one transaction per increment, until opts.Duration elapses.
func runBench(cfg *internal.Config, mode txn.CommitMode, opts benchOptions, dbOpts ...engine.Option) (res benchResult, err error) {
	res.Mode = mode

	db, err := engine.Open(cfg, dbOpts...)
	if err != nil {
		return res, err
	}
	defer func() {
		if cerr := db.Close(); err == nil {
			err = cerr
		}
	}()

	tbl, rids, err := loadKV(db, opts.Rows)
	if err != nil {
		return res, err
	}

	var (
		ops    atomic.Int64
		failed atomic.Int64
		nanos  atomic.Int64
	)
	start := time.Now()
	deadline := start.Add(opts.Duration)

	var wg conc.WaitGroup
	for w := 0; w < opts.Workers; w++ {
		wg.Go(func() {
			for time.Now().Before(deadline) {
				rid := rids[rand.Intn(len(rids))]
				beg := time.Now()
				if err := increment(db, tbl, rid, mode); err != nil {
					// lost races between workers on the same row
					failed.Inc()
					continue
				}
				ops.Inc()
				nanos.Add(int64(time.Since(beg)))
			}
		})
	}
	wg.Wait()

	res.Elapsed = time.Since(start)
	res.Ops = ops.Load()
	res.Failed = failed.Load()
	res.Latency = time.Duration(nanos.Load())
	res.WALBytes = db.WAL.Size()
	return res, nil
}

func loadKV(db *engine.Database, rows int) (*heap.Table, []heap.RecordID, error) {
	tbl, err := db.CreateTable("kv", kvSchema())
	if err != nil {
		return nil, nil, err
	}
	tx, err := db.Begin()
	if err != nil {
		return nil, nil, err
	}
	rids := make([]heap.RecordID, 0, rows)
	for k := 0; k < rows; k++ {
		rid, err := tbl.InsertRow(tx, []any{k, 0})
		if err != nil {
			_ = db.Rollback(tx)
			return nil, nil, errors.Wrapf(err, "load row %d", k)
		}
		rids = append(rids, rid)
	}
	if err := db.TM.Commit(tx, txn.Safe); err != nil {
		return nil, nil, err
	}
	return tbl, rids, nil
}

// increment runs UPDATE kv SET v = v + 1 for one row as its own transaction.
func increment(db *engine.Database, tbl *heap.Table, rid heap.RecordID, mode txn.CommitMode) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	row, err := tbl.ReadRow(rid)
	if err != nil {
		_ = db.Rollback(tx)
		return err
	}
	if _, err := tbl.UpdateRow(tx, rid, []any{row[0], row[1].(int32) + 1}); err != nil {
		_ = db.Rollback(tx)
		return err
	}
	return db.TM.Commit(tx, mode)
}

// modeDir gives each run its own data dir so runs do not share a log.
func modeDir(base string, mode txn.CommitMode) (string, error) {
	dir := filepath.Join(base, mode.String())
	if err := os.RemoveAll(dir); err != nil {
		return "", errors.Wrap(err, "clean bench dir")
	}
	return dir, nil
}
