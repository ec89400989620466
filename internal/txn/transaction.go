package txn

import (
	"fmt"

	"github.com/pkg/errors"
)

type TxID int64

type State uint8

const (
	Active State = iota + 1
	Committed
	Aborted
)

func (s State) String() string {
	switch s {
	case Active:
		return "ACTIVE"
	case Committed:
		return "COMMITTED"
	case Aborted:
		return "ABORTED"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// CommitMode picks how much durability Commit waits for.
type CommitMode uint8

const (
	// Safe forces the WAL and flushes every dirty page before returning.
	Safe CommitMode = iota
	// Fast returns once COMMIT is durable; pages are left to the hardener.
	Fast
)

func (m CommitMode) String() string {
	if m == Fast {
		return "fast"
	}
	return "safe"
}

// ParseCommitMode accepts "safe" or "fast".
func ParseCommitMode(s string) (CommitMode, error) {
	switch s {
	case "safe", "SAFE", "":
		return Safe, nil
	case "fast", "FAST":
		return Fast, nil
	default:
		return Safe, errors.Errorf("txn: invalid commit mode %q", s)
	}
}

type undoEntry struct {
	pageID int32
	before []byte
}

// transaction lives from Begin until Commit/Rollback. undo is ordered oldest
// first and replayed newest first.
type transaction struct {
	id    TxID
	state State
	undo  []undoEntry
}
