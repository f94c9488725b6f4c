package differ

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/curvelaunch/curvelaunch-engine-go/engine"
	"github.com/curvelaunch/curvelaunch-engine-go/ledger"
	"github.com/curvelaunch/curvelaunch-engine-go/pool"
)

// StateDifferConfig holds the differ's dependencies.
type StateDifferConfig struct {
	Registry prometheus.Registerer
	Logger   Logger
}

// validate checks if the configuration is valid, ensuring required dependencies are present.
func (c *StateDifferConfig) validate() error {
	if c.Registry == nil {
		return errors.New("config: Registry cannot be nil")
	}
	if c.Logger == nil {
		return errors.New("config: Logger cannot be nil")
	}
	return nil
}

// StateDiffer computes snapshot-to-snapshot deltas with metrics and logging.
type StateDiffer struct {
	metrics *Metrics
	logger  Logger
}

// NewStateDiffer constructs a new differ from a configuration, returning an
// error if the config is invalid.
func NewStateDiffer(cfg *StateDifferConfig) (*StateDiffer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &StateDiffer{
		metrics: NewMetrics(cfg.Registry),
		logger:  cfg.Logger,
	}, nil
}

// Diff computes the delta between two snapshots. The new snapshot must be at
// or beyond the old one in the sequence; a regression means the caller's
// state is corrupt.
func (d *StateDiffer) Diff(old, new *engine.Snapshot) (*SnapshotDiff, error) {
	totalTimer := prometheus.NewTimer(d.metrics.diffDuration)
	defer totalTimer.ObserveDuration()

	if new.Sequence < old.Sequence {
		return nil, fmt.Errorf("differ: sequence regression (old=%d, new=%d)", old.Sequence, new.Sequence)
	}

	diff := &SnapshotDiff{
		Timestamp:    new.Timestamp,
		FromSequence: old.Sequence,
		ToSequence:   new.Sequence,
		Pools:        pool.Differ(old.Pools, new.Pools),
		Liquidity:    ledger.Differ(old.Liquidity, new.Liquidity),
	}

	poolChanges := len(diff.Pools.Additions) + len(diff.Pools.Updates) + len(diff.Pools.Deletions)
	entryChanges := len(diff.Liquidity.Additions) + len(diff.Liquidity.Updates) + len(diff.Liquidity.Deletions)
	d.metrics.changesTotal.WithLabelValues("pools").Add(float64(poolChanges))
	d.metrics.changesTotal.WithLabelValues("liquidity").Add(float64(entryChanges))
	d.logger.Debug("snapshot diff computed",
		"fromSequence", diff.FromSequence,
		"toSequence", diff.ToSequence,
		"poolChanges", poolChanges,
		"entryChanges", entryChanges,
	)
	return diff, nil
}
