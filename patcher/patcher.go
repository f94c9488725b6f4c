// Package patcher reconstructs engine snapshots from diffs, the client-side
// counterpart to the differ.
package patcher

import (
	"fmt"

	"github.com/curvelaunch/curvelaunch-engine-go/differ"
	"github.com/curvelaunch/curvelaunch-engine-go/engine"
	"github.com/curvelaunch/curvelaunch-engine-go/ledger"
	"github.com/curvelaunch/curvelaunch-engine-go/pool"
)

// StatePatcher applies snapshot diffs. It holds no state; the caller tracks
// the snapshot chain.
type StatePatcher struct{}

// NewStatePatcher constructs a patcher.
func NewStatePatcher() *StatePatcher {
	return &StatePatcher{}
}

// Patch creates a new snapshot by applying the diff to the old one.
//
// CONTRACT:
//  1. Immutability: the old snapshot is never mutated; every carried-over
//     item is deep-copied.
//  2. Integrity: the diff must start exactly at the old snapshot's sequence.
func (p *StatePatcher) Patch(old *engine.Snapshot, diff *differ.SnapshotDiff) (*engine.Snapshot, error) {
	if old.Sequence != diff.FromSequence {
		return nil, fmt.Errorf("patcher: mismatch fromSequence (snapshot=%d, diff=%d)", old.Sequence, diff.FromSequence)
	}

	pools, err := pool.Patcher(old.Pools, diff.Pools)
	if err != nil {
		return nil, fmt.Errorf("patcher: pools section: %w", err)
	}
	liquidity, err := ledger.Patcher(old.Liquidity, diff.Liquidity)
	if err != nil {
		return nil, fmt.Errorf("patcher: liquidity section: %w", err)
	}

	return &engine.Snapshot{
		Sequence:  diff.ToSequence,
		Timestamp: diff.Timestamp,
		Pools:     pools,
		Liquidity: liquidity,
	}, nil
}
