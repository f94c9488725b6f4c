// Package engine orchestrates curve-priced trading: it resolves trade
// direction, consults the risk gate, quotes against the pricing strategy,
// drives settlement, records the new pool accounting and triggers the
// one-way migration to external liquidity when a pool qualifies.
package engine

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/curvelaunch/curvelaunch-engine-go/curve"
	"github.com/curvelaunch/curvelaunch-engine-go/ledger"
	"github.com/curvelaunch/curvelaunch-engine-go/pool"
	"github.com/curvelaunch/curvelaunch-engine-go/risk"
	"github.com/curvelaunch/curvelaunch-engine-go/transition"
)

// Config wires the engine's collaborators.
type Config struct {
	// Identity is the caller identity the engine presents to the pool
	// authority. It must be on the authority's updater allow-list.
	Identity common.Address

	Pools      *pool.System
	Strategies *curve.Registry
	Ledger     *ledger.Ledger
	Evaluator  *transition.Evaluator
	Gate       *risk.Gate
	Settlement Settlement
	Migrator   Migrator
	Logger     Logger
	Registry   prometheus.Registerer
}

// validate checks if the configuration is valid, ensuring required
// dependencies are present.
func (c *Config) validate() error {
	if c.Pools == nil {
		return fmt.Errorf("%w: Pools cannot be nil", ErrNotConfigured)
	}
	if c.Strategies == nil {
		return fmt.Errorf("%w: Strategies cannot be nil", ErrNotConfigured)
	}
	if c.Settlement == nil {
		return fmt.Errorf("%w: Settlement cannot be nil", ErrNotConfigured)
	}
	if c.Logger == nil {
		return fmt.Errorf("%w: Logger cannot be nil", ErrNotConfigured)
	}
	if c.Registry == nil {
		return fmt.Errorf("%w: Registry cannot be nil", ErrNotConfigured)
	}
	return nil
}

// SnapshotListener observes committed engine state.
type SnapshotListener func(Snapshot)

// Engine is the swap orchestrator. It holds no pool state of its own; every
// persistent effect lands in the pool authority or the liquidity ledger.
type Engine struct {
	identity   common.Address
	pools      *pool.System
	strategies *curve.Registry
	ledger     *ledger.Ledger
	evaluator  *transition.Evaluator
	gate       *risk.Gate
	settlement Settlement
	migrator   Migrator
	logger     Logger
	metrics    *Metrics

	// Reentrancy guard: settlement is a synchronous sub-call that may call
	// back in, so each pool's mutation path admits one call at a time.
	guardMu sync.Mutex
	busy    map[common.Hash]struct{}

	snapMu    sync.Mutex
	sequence  uint64
	listeners []SnapshotListener
}

// NewEngine constructs an engine from a configuration, returning an error if
// the config is invalid.
func NewEngine(cfg *Config) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	l := cfg.Ledger
	if l == nil {
		l = ledger.NewLedger()
	}
	ev := cfg.Evaluator
	if ev == nil {
		ev = transition.NewEvaluator()
	}
	return &Engine{
		identity:   cfg.Identity,
		pools:      cfg.Pools,
		strategies: cfg.Strategies,
		ledger:     l,
		evaluator:  ev,
		gate:       cfg.Gate,
		settlement: cfg.Settlement,
		migrator:   cfg.Migrator,
		logger:     cfg.Logger,
		metrics:    NewMetrics(cfg.Registry),
		busy:       make(map[common.Hash]struct{}),
	}, nil
}

// Ledger exposes the engine's liquidity ledger for read access.
func (e *Engine) Ledger() *ledger.Ledger { return e.ledger }

// OnSnapshot registers a listener for committed state snapshots.
func (e *Engine) OnSnapshot(fn SnapshotListener) {
	if fn == nil {
		return
	}
	e.snapMu.Lock()
	defer e.snapMu.Unlock()
	e.listeners = append(e.listeners, fn)
}

// CurrentSnapshot builds a snapshot of the present state without advancing
// the sequence.
func (e *Engine) CurrentSnapshot() Snapshot {
	e.snapMu.Lock()
	seq := e.sequence
	e.snapMu.Unlock()
	return Snapshot{
		Sequence:  seq,
		Timestamp: uint64(time.Now().UnixNano()),
		Pools:     e.pools.View(),
		Liquidity: e.ledger.View(),
	}
}

func (e *Engine) broadcast() {
	e.snapMu.Lock()
	e.sequence++
	snap := Snapshot{
		Sequence:  e.sequence,
		Timestamp: uint64(time.Now().UnixNano()),
		Pools:     e.pools.View(),
		Liquidity: e.ledger.View(),
	}
	listeners := make([]SnapshotListener, len(e.listeners))
	copy(listeners, e.listeners)
	e.snapMu.Unlock()

	for _, fn := range listeners {
		fn(snap)
	}
}

func (e *Engine) acquire(id common.Hash) error {
	e.guardMu.Lock()
	defer e.guardMu.Unlock()
	if _, busy := e.busy[id]; busy {
		return fmt.Errorf("%w: %x", ErrReentrantCall, id)
	}
	e.busy[id] = struct{}{}
	return nil
}

func (e *Engine) release(id common.Hash) {
	e.guardMu.Lock()
	defer e.guardMu.Unlock()
	delete(e.busy, id)
}

// Launch creates a new bonding-curve pool. The strategy must be registered
// and, when the risk gate is enabled, pass its strategy assessment.
func (e *Engine) Launch(params pool.InitParams) (pool.Pool, error) {
	if _, err := e.strategies.Get(params.StrategyID); err != nil {
		return pool.Pool{}, err
	}
	if err := e.gate.CheckStrategy(params.StrategyID); err != nil {
		return pool.Pool{}, err
	}

	p, err := e.pools.Initialize(e.identity, params)
	if err != nil {
		return pool.Pool{}, err
	}
	e.metrics.launchesTotal.Inc()
	e.logger.Info("pool launched",
		"pool", p.ID.Hex(),
		"token", p.Token.Hex(),
		"strategy", string(p.StrategyID),
	)
	e.broadcast()
	return p, nil
}

// Trade executes one swap. The request amount is signed: negative fixes the
// input side, positive fixes the output side.
func (e *Engine) Trade(req TradeRequest) (TradeResult, error) {
	timer := prometheus.NewTimer(e.metrics.tradeDuration)
	defer timer.ObserveDuration()

	if req.Amount == nil || req.Amount.Sign() == 0 {
		e.metrics.tradesTotal.WithLabelValues("unknown", "invalid").Inc()
		return TradeResult{}, curve.ErrInvalidAmount
	}

	p, isBuy, err := e.resolve(req.AssetIn, req.AssetOut)
	if err != nil {
		e.metrics.tradesTotal.WithLabelValues("unknown", "invalid").Inc()
		return TradeResult{}, err
	}
	direction := "sell"
	if isBuy {
		direction = "buy"
	}

	if err := e.acquire(p.ID); err != nil {
		e.metrics.tradesTotal.WithLabelValues(direction, "reentrant").Inc()
		return TradeResult{}, err
	}
	defer e.release(p.ID)

	// The resolve snapshot may predate a trade that committed in between;
	// quote from the state as it stands under the guard.
	p, err = e.pools.Get(p.ID)
	if err != nil {
		e.metrics.tradesTotal.WithLabelValues(direction, outcome(err)).Inc()
		return TradeResult{}, err
	}

	res, err := e.trade(p, isBuy, req)
	e.metrics.tradesTotal.WithLabelValues(direction, outcome(err)).Inc()
	return res, err
}

// resolve maps an asset pair onto a pool and a trade direction. Reserve in,
// token out is a buy; token in, reserve out is a sell.
func (e *Engine) resolve(assetIn, assetOut common.Address) (pool.Pool, bool, error) {
	if p, err := e.pools.GetByToken(assetOut, assetIn); err == nil {
		return p, true, nil
	}
	if p, err := e.pools.GetByToken(assetIn, assetOut); err == nil {
		return p, false, nil
	}
	return pool.Pool{}, false, fmt.Errorf("%w: %s -> %s", ErrInvalidTokenPath, assetIn.Hex(), assetOut.Hex())
}

func (e *Engine) trade(p pool.Pool, isBuy bool, req TradeRequest) (TradeResult, error) {
	if p.Lifecycle == pool.LifecycleTransitioned {
		return TradeResult{}, fmt.Errorf("%w: %x", pool.ErrAlreadyTransitioned, p.ID)
	}
	if err := e.gate.CheckToken(p.ID); err != nil {
		return TradeResult{}, err
	}
	strategy, err := e.strategies.Get(p.StrategyID)
	if err != nil {
		return TradeResult{}, err
	}

	exactInput := req.Amount.Sign() < 0
	amount := new(big.Int).Abs(req.Amount)

	var amountIn, amountOut, newPrice *big.Int
	newCirculating := new(big.Int)
	newReserve := new(big.Int)

	if isBuy {
		var q curve.Quote
		if exactInput {
			q, err = strategy.QuoteBuy(p.StrategyConfig, p.CirculatingSupply, amount)
			amountIn, amountOut = amount, q.Amount
		} else {
			q, err = strategy.QuoteExactTokensOut(p.StrategyConfig, p.CirculatingSupply, amount)
			amountIn, amountOut = q.Amount, amount
		}
		if err != nil {
			return TradeResult{}, err
		}
		newPrice = q.NewPrice
		newCirculating.Add(p.CirculatingSupply, amountOut)
		newReserve.Add(p.ReserveCollected, amountIn)
	} else {
		var q curve.Quote
		if exactInput {
			q, err = strategy.QuoteSell(p.StrategyConfig, p.CirculatingSupply, amount)
			amountIn, amountOut = amount, q.Amount
		} else {
			q, err = strategy.QuoteExactReserveOut(p.StrategyConfig, p.CirculatingSupply, amount)
			amountIn, amountOut = q.Amount, amount
		}
		if err != nil {
			return TradeResult{}, err
		}
		if amountOut.Cmp(p.ReserveCollected) > 0 {
			return TradeResult{}, fmt.Errorf("%w: owed %v, held %v",
				ErrInsufficientLiquidity, amountOut, p.ReserveCollected)
		}
		newPrice = q.NewPrice
		newCirculating.Sub(p.CirculatingSupply, amountIn)
		newReserve.Sub(p.ReserveCollected, amountOut)
	}

	if err := e.settlement.TakeFrom(req.Caller, req.AssetIn, amountIn); err != nil {
		return TradeResult{}, fmt.Errorf("settlement take: %w", err)
	}
	if err := e.settlement.GiveTo(req.Caller, req.AssetOut, amountOut); err != nil {
		return TradeResult{}, fmt.Errorf("settlement give: %w", err)
	}

	updated, err := e.pools.ApplyTrade(e.identity, p.ID, newCirculating, newReserve, newPrice)
	if err != nil {
		return TradeResult{}, err
	}
	e.logger.Debug("trade recorded",
		"pool", p.ID.Hex(),
		"amountIn", amountIn.String(),
		"amountOut", amountOut.String(),
		"price", newPrice.String(),
	)

	e.maybeTransition(updated)
	e.broadcast()
	return TradeResult{AmountIn: amountIn, AmountOut: amountOut, NewPrice: newPrice}, nil
}

// maybeTransition migrates the pool off the curve if it now qualifies. A
// migration failure is logged and leaves the pool active; the next trade
// re-evaluates.
func (e *Engine) maybeTransition(p pool.Pool) {
	ready, err := e.evaluator.ShouldTransition(p)
	if err != nil {
		e.logger.Error("transition evaluation failed", "pool", p.ID.Hex(), "err", err)
		return
	}
	if !ready {
		return
	}
	if err := e.gate.CheckTransition(p.ID); err != nil {
		e.logger.Warn("transition held back by risk gate", "pool", p.ID.Hex(), "err", err)
		return
	}

	if e.migrator != nil {
		tokenReserve := new(big.Int).Sub(p.TotalSupply, p.CirculatingSupply)
		if err := e.migrator.Migrate(p.ID, tokenReserve, p.ReserveCollected, p.LastPrice); err != nil {
			e.logger.Error("migration failed, pool stays on curve", "pool", p.ID.Hex(), "err", err)
			return
		}
	}
	if _, err := e.pools.MarkTransitioned(e.identity, p.ID, p.LastPrice); err != nil {
		e.logger.Error("could not latch transition", "pool", p.ID.Hex(), "err", err)
		return
	}
	e.metrics.transitionsTotal.Inc()
	e.logger.Info("pool transitioned", "pool", p.ID.Hex(), "price", p.LastPrice.String())
}

// AddLiquidity deposits an asset into a pre-transition pool, crediting the
// depositor's ledger entry and folding the movement into the pool's
// accounting.
func (e *Engine) AddLiquidity(depositor common.Address, poolID common.Hash, asset common.Address, amount *big.Int) error {
	err := e.changeLiquidity(depositor, poolID, asset, amount, true)
	e.metrics.liquidityTotal.WithLabelValues("deposit", outcome(err)).Inc()
	return err
}

// RemoveLiquidity withdraws a previously deposited amount.
func (e *Engine) RemoveLiquidity(depositor common.Address, poolID common.Hash, asset common.Address, amount *big.Int) error {
	err := e.changeLiquidity(depositor, poolID, asset, amount, false)
	e.metrics.liquidityTotal.WithLabelValues("withdraw", outcome(err)).Inc()
	return err
}

func (e *Engine) changeLiquidity(depositor common.Address, poolID common.Hash, asset common.Address, amount *big.Int, deposit bool) error {
	if amount == nil || amount.Sign() <= 0 {
		return curve.ErrInvalidAmount
	}
	if err := e.acquire(poolID); err != nil {
		return err
	}
	defer e.release(poolID)

	p, err := e.pools.Get(poolID)
	if err != nil {
		return err
	}
	if p.Lifecycle == pool.LifecycleTransitioned {
		return fmt.Errorf("%w: %x", pool.ErrAlreadyTransitioned, poolID)
	}
	if asset != p.Token && asset != p.ReserveAsset {
		return fmt.Errorf("%w: asset %s not part of pool", ErrInvalidTokenPath, asset.Hex())
	}
	if err := e.gate.CheckToken(poolID); err != nil {
		return err
	}
	// The depositor's own entry bounds a withdrawal before any pool-level
	// bound; checking it first also means the debit after settlement cannot
	// fail.
	if !deposit && e.ledger.Balance(depositor, poolID, asset).Cmp(amount) < 0 {
		return fmt.Errorf("%w: withdrawal exceeds deposited balance", ledger.ErrInsufficientBalance)
	}

	// Liquidity moved into or out of the curve pool is economically a trade
	// against it, so the pool accounting moves in the matching direction.
	newCirculating := new(big.Int).Set(p.CirculatingSupply)
	newReserve := new(big.Int).Set(p.ReserveCollected)
	if asset == p.ReserveAsset {
		if deposit {
			newReserve.Add(newReserve, amount)
		} else {
			newReserve.Sub(newReserve, amount)
			if newReserve.Sign() < 0 {
				return fmt.Errorf("%w: withdrawal drains reserve", ErrInsufficientLiquidity)
			}
		}
	} else {
		if deposit {
			newCirculating.Sub(newCirculating, amount)
			if newCirculating.Sign() < 0 {
				return fmt.Errorf("%w: deposit exceeds circulating supply", curve.ErrInsufficientSupply)
			}
		} else {
			newCirculating.Add(newCirculating, amount)
			if newCirculating.Cmp(p.TotalSupply) > 0 {
				return fmt.Errorf("%w: withdrawal exceeds pool-held supply", pool.ErrSupplyOutOfBounds)
			}
		}
	}

	strategy, err := e.strategies.Get(p.StrategyID)
	if err != nil {
		return err
	}
	newPrice, err := strategy.Price(p.StrategyConfig, newCirculating)
	if err != nil {
		return err
	}

	if deposit {
		if err := e.settlement.TakeFrom(depositor, asset, amount); err != nil {
			return fmt.Errorf("settlement take: %w", err)
		}
		if _, err := e.ledger.Credit(depositor, poolID, asset, amount); err != nil {
			return err
		}
	} else {
		if err := e.settlement.GiveTo(depositor, asset, amount); err != nil {
			return fmt.Errorf("settlement give: %w", err)
		}
		if _, err := e.ledger.Debit(depositor, poolID, asset, amount); err != nil {
			return err
		}
	}

	updated, err := e.pools.ApplyTrade(e.identity, poolID, newCirculating, newReserve, newPrice)
	if err != nil {
		return err
	}
	e.maybeTransition(updated)
	e.broadcast()
	return nil
}

// PoolInfo returns the current state of one pool.
func (e *Engine) PoolInfo(poolID common.Hash) (pool.Pool, error) {
	return e.pools.Get(poolID)
}

// Price returns a pool's current price: the frozen transition price once the
// pool has migrated, the curve price otherwise.
func (e *Engine) Price(poolID common.Hash) (*big.Int, error) {
	p, err := e.pools.Get(poolID)
	if err != nil {
		return nil, err
	}
	if p.Lifecycle == pool.LifecycleTransitioned {
		return p.TransitionPrice, nil
	}
	strategy, err := e.strategies.Get(p.StrategyID)
	if err != nil {
		return nil, err
	}
	return strategy.Price(p.StrategyConfig, p.CirculatingSupply)
}

// CanTransition reports whether a pool currently satisfies its transition
// criterion. The risk gate is consulted only when the engine acts on the
// result, not here.
func (e *Engine) CanTransition(poolID common.Hash) (bool, error) {
	p, err := e.pools.Get(poolID)
	if err != nil {
		return false, err
	}
	return e.evaluator.ShouldTransition(p)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, risk.ErrRiskRejected):
		return "risk_rejected"
	case errors.Is(err, ErrInsufficientLiquidity), errors.Is(err, ledger.ErrInsufficientBalance):
		return "insufficient_liquidity"
	case errors.Is(err, pool.ErrAlreadyTransitioned):
		return "transitioned"
	case errors.Is(err, curve.ErrCalculationFailed):
		return "calculation_failed"
	case errors.Is(err, ErrReentrantCall):
		return "reentrant"
	default:
		return "invalid"
	}
}
