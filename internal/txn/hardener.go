package txn

import (
	"context"
	"time"
)

func (m *Manager) startHardener() {
	if m.hardenerInterval <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.stopHardener = cancel
	m.hardenerDone = make(chan struct{})
	go m.runHardener(ctx)
}

func (m *Manager) runHardener(ctx context.Context) {
	defer close(m.hardenerDone)

	ticker := time.NewTicker(m.hardenerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.harden()
		}
	}
}

// harden forces the WAL, then the dirty pages. Failures are logged and the
// next tick tries again.
func (m *Manager) harden() {
	defer func() {
		if r := recover(); r != nil {
			m.log.WithField("panic", r).Error("txn: hardener tick panicked")
		}
	}()

	if err := m.wal.Flush(); err != nil {
		m.log.WithError(err).Warn("txn: hardener: force wal failed")
		// Pages must not overtake the log.
		return
	}
	if err := m.pool.FlushAll(); err != nil {
		m.log.WithError(err).Warn("txn: hardener: flush pages failed")
	}
}

func (m *Manager) stopAndWaitHardener() {
	if m.stopHardener == nil {
		return
	}
	m.stopHardener()

	timer := time.NewTimer(m.closeTimeout)
	defer timer.Stop()
	select {
	case <-m.hardenerDone:
	case <-timer.C:
		m.log.WithField("timeout", m.closeTimeout).Warn("txn: hardener did not stop in time")
	}
}
