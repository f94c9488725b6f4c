// Package risk wraps an external risk oracle behind enable/disable and
// threshold configuration. The gate is advisory middleware for the swap
// engine and ledger; the pricing math never depends on it.
package risk

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/curvelaunch/curvelaunch-engine-go/curve"
)

var (
	// ErrRiskRejected is returned when an oracle verdict fails the
	// configured threshold.
	ErrRiskRejected = errors.New("risk: rejected by oracle verdict")
)

// Assessment is the oracle's verdict on one subject. Score runs 0 to 100,
// higher meaning safer. Flag carries the call-specific boolean: critical for
// strategies, suspicious for tokens, ready for transitions.
type Assessment struct {
	Assessed bool
	Score    uint8
	Flag     bool
}

// Oracle is the external risk-assessment service. Implementations may be
// remote; errors are surfaced to the gate, which treats them per its
// require-assessment setting.
type Oracle interface {
	AssessStrategy(id curve.StrategyID) (Assessment, error)
	AssessToken(poolID common.Hash) (Assessment, error)
	AssessTransition(poolID common.Hash) (Assessment, error)
}

// Config controls the gate. The zero value disables all checks.
type Config struct {
	// Enabled turns the gate on. When false every check passes.
	Enabled bool
	// RequireAssessment rejects subjects the oracle has not assessed (or
	// cannot reach). When false, unassessed subjects pass.
	RequireAssessment bool

	// Minimum acceptable safety scores per subject kind.
	StrategyScoreThreshold   uint8
	TokenScoreThreshold      uint8
	TransitionScoreThreshold uint8
}

// Gate applies Config to oracle verdicts. A nil *Gate allows everything, so
// callers can hold an optional gate without nil checks at every site.
type Gate struct {
	cfg    Config
	oracle Oracle
}

// NewGate creates a gate over an oracle. A nil oracle behaves like an oracle
// that never assesses anything.
func NewGate(cfg Config, oracle Oracle) *Gate {
	return &Gate{cfg: cfg, oracle: oracle}
}

// CheckStrategy verifies a pricing strategy is safe to launch against.
func (g *Gate) CheckStrategy(id curve.StrategyID) error {
	if g == nil {
		return nil
	}
	return g.check("strategy", g.cfg.StrategyScoreThreshold, false, func() (Assessment, error) {
		return g.oracle.AssessStrategy(id)
	})
}

// CheckToken verifies a pool's token is safe to trade.
func (g *Gate) CheckToken(poolID common.Hash) error {
	if g == nil {
		return nil
	}
	return g.check("token", g.cfg.TokenScoreThreshold, false, func() (Assessment, error) {
		return g.oracle.AssessToken(poolID)
	})
}

// CheckTransition verifies a pool is ready to migrate. Unlike the other two
// checks the oracle's flag is a positive signal here and must be set.
func (g *Gate) CheckTransition(poolID common.Hash) error {
	if g == nil {
		return nil
	}
	return g.check("transition", g.cfg.TransitionScoreThreshold, true, func() (Assessment, error) {
		return g.oracle.AssessTransition(poolID)
	})
}

func (g *Gate) check(subject string, threshold uint8, flagIsApproval bool, assess func() (Assessment, error)) error {
	if !g.cfg.Enabled {
		return nil
	}
	if g.oracle == nil {
		return g.unassessed(subject)
	}

	a, err := assess()
	if err != nil {
		if g.cfg.RequireAssessment {
			return fmt.Errorf("%w: %s oracle unavailable: %v", ErrRiskRejected, subject, err)
		}
		return nil
	}
	if !a.Assessed {
		return g.unassessed(subject)
	}

	if flagIsApproval {
		if !a.Flag {
			return fmt.Errorf("%w: %s not marked ready", ErrRiskRejected, subject)
		}
	} else if a.Flag {
		return fmt.Errorf("%w: %s flagged", ErrRiskRejected, subject)
	}
	if a.Score < threshold {
		return fmt.Errorf("%w: %s score %d below threshold %d", ErrRiskRejected, subject, a.Score, threshold)
	}
	return nil
}

func (g *Gate) unassessed(subject string) error {
	if g.cfg.RequireAssessment {
		return fmt.Errorf("%w: %s not assessed", ErrRiskRejected, subject)
	}
	return nil
}
