package engine

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/curvelaunch/curvelaunch-engine-go/ledger"
	"github.com/curvelaunch/curvelaunch-engine-go/pool"
)

var (
	ErrInvalidTokenPath      = errors.New("engine: asset pair does not match any pool")
	ErrInsufficientLiquidity = errors.New("engine: reserve owed exceeds reserve held")
	ErrReentrantCall         = errors.New("engine: reentrant call into pool mutation path")
	ErrNotConfigured         = errors.New("engine: invalid configuration")
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Settlement moves asset balances between parties. Implementations are
// external custody; calls are synchronous sub-calls within the enclosing
// trade and are treated as all-or-nothing with it.
type Settlement interface {
	TakeFrom(payer common.Address, asset common.Address, amount *big.Int) error
	GiveTo(payee common.Address, asset common.Address, amount *big.Int) error
}

// Migrator seeds the downstream AMM pool when a bonding curve graduates. It
// is invoked at most once per pool; a failure leaves the pool active so a
// later trade can retry.
type Migrator interface {
	Migrate(poolID common.Hash, tokenReserve, reserveBalance, price *big.Int) error
}

// TradeRequest specifies one swap. Amount is signed: negative means the
// caller fixes the input side (exact-input), positive means the caller fixes
// the output side (exact-output); the engine solves for the other side.
type TradeRequest struct {
	Caller   common.Address `json:"caller"`
	AssetIn  common.Address `json:"assetIn"`
	AssetOut common.Address `json:"assetOut"`
	Amount   *big.Int       `json:"amount"`
}

// TradeResult reports what actually moved: the amount the pool took from the
// caller, the amount it gave back, and the pool's new spot price.
type TradeResult struct {
	AmountIn  *big.Int `json:"amountIn"`
	AmountOut *big.Int `json:"amountOut"`
	NewPrice  *big.Int `json:"newPrice"`
}

// Snapshot is the engine state broadcast to subscribers after every
// committed mutation. Sequence increases by one per snapshot; Pools and
// Liquidity are deterministic deep-copied views.
type Snapshot struct {
	Sequence  uint64         `json:"sequence"`
	Timestamp uint64         `json:"timestamp"`
	Pools     []pool.Pool    `json:"pools"`
	Liquidity []ledger.Entry `json:"liquidity"`
}
