package main

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/tuannm99/redodb/internal"
	"github.com/tuannm99/redodb/internal/engine"
	"github.com/tuannm99/redodb/internal/logger"
	"github.com/tuannm99/redodb/internal/txn"
)

func main() {
	var (
		configPath = pflag.StringP("config", "c", "", "YAML config file (defaults are used when empty)")
		dataDir    = pflag.StringP("data-dir", "d", "", "base directory for bench data (temp dir when empty)")
		mode       = pflag.StringP("mode", "m", "both", "commit mode to measure: fast, safe or both")
		workers    = pflag.IntP("workers", "w", 8, "concurrent writers")
		rows       = pflag.Int("rows", 256, "rows in the kv table")
		duration   = pflag.Duration("duration", 5*time.Second, "run time per mode")
		keep       = pflag.Bool("keep", false, "keep the bench data directory")
	)
	pflag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	log, err := logger.New(cfg.Log.Level)
	if err != nil {
		logrus.Fatalf("logger: %v", err)
	}

	modes, err := parseModes(*mode)
	if err != nil {
		log.Fatal(err)
	}

	base := *dataDir
	if base == "" {
		base, err = os.MkdirTemp("", "redodb-bench-")
		if err != nil {
			log.Fatal(err)
		}
	}
	if !*keep {
		defer func() { _ = os.RemoveAll(base) }()
	}

	opts := benchOptions{Workers: *workers, Rows: *rows, Duration: *duration}
	log.WithFields(logrus.Fields{
		"workers":  opts.Workers,
		"rows":     opts.Rows,
		"duration": opts.Duration,
		"dir":      base,
	}).Info("starting bench")

	for _, m := range modes {
		dir, err := modeDir(base, m)
		if err != nil {
			log.Fatal(err)
		}
		runCfg := *cfg
		runCfg.Storage.Workdir = dir

		res, err := runBench(&runCfg, m, opts, engine.WithLogger(log))
		if err != nil {
			log.WithError(err).WithField("mode", m).Error("bench failed")
			os.Exit(1)
		}
		res.Print(os.Stdout)
	}
}

func loadConfig(path string) (*internal.Config, error) {
	if path == "" {
		return internal.DefaultConfig()
	}
	return internal.LoadConfig(path)
}

func parseModes(s string) ([]txn.CommitMode, error) {
	if s == "both" {
		return []txn.CommitMode{txn.Fast, txn.Safe}, nil
	}
	m, err := txn.ParseCommitMode(s)
	if err != nil {
		return nil, errors.Wrap(err, "--mode")
	}
	return []txn.CommitMode{m}, nil
}
