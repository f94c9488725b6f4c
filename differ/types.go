package differ

import (
	"github.com/curvelaunch/curvelaunch-engine-go/ledger"
	"github.com/curvelaunch/curvelaunch-engine-go/pool"
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// SnapshotDiff is the delta between two engine snapshots, section by
// section. It is what the stream server broadcasts after the initial full
// snapshot.
type SnapshotDiff struct {
	Timestamp    uint64      `json:"timestamp"`
	FromSequence uint64      `json:"fromSequence"`
	ToSequence   uint64      `json:"toSequence"`
	Pools        pool.Diff   `json:"pools"`
	Liquidity    ledger.Diff `json:"liquidity"`
}

// IsEmpty returns true if neither section carries changes.
func (d *SnapshotDiff) IsEmpty() bool {
	return d.Pools.IsEmpty() && d.Liquidity.IsEmpty()
}
