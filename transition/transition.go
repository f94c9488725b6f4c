// Package transition decides when a bonding-curve pool has earned its
// graduation to external liquidity. The evaluator is a pure predicate over a
// pool snapshot; flipping the lifecycle latch is the engine's job.
package transition

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/curvelaunch/curvelaunch-engine-go/pool"
)

var (
	// ErrUnknownKind is returned for a transition kind the evaluator does
	// not recognize.
	ErrUnknownKind = errors.New("unknown transition kind")
)

// basis point denominator for percentage thresholds.
var bpsDenominator = big.NewInt(10000)

// Evaluator checks pools against their configured transition criterion.
// The zero value uses the wall clock; tests inject a fixed clock.
type Evaluator struct {
	now func() time.Time
}

// NewEvaluator creates an evaluator backed by the system clock.
func NewEvaluator() *Evaluator {
	return &Evaluator{now: time.Now}
}

// NewEvaluatorWithClock creates an evaluator with an injected time source.
func NewEvaluatorWithClock(now func() time.Time) *Evaluator {
	if now == nil {
		now = time.Now
	}
	return &Evaluator{now: now}
}

// ShouldTransition reports whether the pool currently satisfies its
// transition criterion. A pool that has already transitioned never
// qualifies again; the latch is one-way and this predicate respects it.
func (e *Evaluator) ShouldTransition(p pool.Pool) (bool, error) {
	if p.Lifecycle == pool.LifecycleTransitioned {
		return false, nil
	}
	if err := p.Transition.Validate(); err != nil {
		return false, err
	}

	switch p.Transition.Kind {
	case pool.TransitionPercentage:
		return percentageReached(p), nil
	case pool.TransitionPrice:
		return p.LastPrice.Cmp(p.Transition.Threshold) >= 0, nil
	case pool.TransitionTime:
		deadline := time.Unix(p.Transition.Threshold.Int64(), 0)
		return !e.clock().Before(deadline), nil
	default:
		return false, fmt.Errorf("%w: %d", ErrUnknownKind, p.Transition.Kind)
	}
}

func (e *Evaluator) clock() time.Time {
	if e.now == nil {
		return time.Now()
	}
	return e.now()
}

// percentageReached compares circulating supply against the threshold in
// basis points of total supply, in integer arithmetic so 49.99% at a 50%
// threshold stays below the line.
func percentageReached(p pool.Pool) bool {
	// circulating * 10000 >= threshold * total
	lhs := new(big.Int).Mul(p.CirculatingSupply, bpsDenominator)
	rhs := new(big.Int).Mul(p.Transition.Threshold, p.TotalSupply)
	return lhs.Cmp(rhs) >= 0
}
