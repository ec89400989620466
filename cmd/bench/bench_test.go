package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/tuannm99/redodb/internal"
	"github.com/tuannm99/redodb/internal/engine"
	"github.com/tuannm99/redodb/internal/heap"
	"github.com/tuannm99/redodb/internal/txn"
)

func newBenchConfig(t *testing.T) *internal.Config {
	t.Helper()

	cfg, err := internal.DefaultConfig()
	require.NoError(t, err)
	cfg.Storage.Workdir = t.TempDir()
	return cfg
}

func TestRunBench_BothModesCommitWork(t *testing.T) {
	for _, mode := range []txn.CommitMode{txn.Fast, txn.Safe} {
		t.Run(mode.String(), func(t *testing.T) {
			log, _ := test.NewNullLogger()
			opts := benchOptions{Workers: 4, Rows: 32, Duration: 100 * time.Millisecond}

			res, err := runBench(newBenchConfig(t), mode, opts, engine.WithLogger(log))
			require.NoError(t, err)
			require.Equal(t, mode, res.Mode)
			require.Positive(t, res.Ops)
			require.Positive(t, res.WALBytes)
			require.Positive(t, res.Throughput())
			require.Positive(t, res.AvgLatency())

			var out bytes.Buffer
			res.Print(&out)
			require.Contains(t, out.String(), mode.String()+" commit")
		})
	}
}

func TestRunBench_IncrementsAreDurable(t *testing.T) {
	cfg := newBenchConfig(t)
	log, _ := test.NewNullLogger()
	opts := benchOptions{Workers: 1, Rows: 4, Duration: 50 * time.Millisecond}

	res, err := runBench(cfg, txn.Safe, opts, engine.WithLogger(log))
	require.NoError(t, err)

	db, err := engine.Open(cfg, engine.WithLogger(log))
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	// the load transaction plus one per increment
	require.Equal(t, res.Ops+res.Failed+1, db.Recovery.MaxTxID)

	// a single writer loses no updates
	tbl, err := db.OpenTable("kv", kvSchema(), []int32{0})
	require.NoError(t, err)
	var sum int64
	require.NoError(t, tbl.ScanRows(func(_ heap.RecordID, row []any) error {
		sum += int64(row[1].(int32))
		return nil
	}))
	require.Equal(t, res.Ops, sum)
}

func TestParseModes(t *testing.T) {
	modes, err := parseModes("both")
	require.NoError(t, err)
	require.Equal(t, []txn.CommitMode{txn.Fast, txn.Safe}, modes)

	modes, err = parseModes("fast")
	require.NoError(t, err)
	require.Equal(t, []txn.CommitMode{txn.Fast}, modes)

	_, err = parseModes("never")
	require.Error(t, err)
}

func TestBenchResult_ZeroOps(t *testing.T) {
	var r benchResult
	require.Zero(t, r.Throughput())
	require.Zero(t, r.AvgLatency())
}
