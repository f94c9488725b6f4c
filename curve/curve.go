package curve

import (
	"errors"
	"fmt"
	"math/big"
)

// Solver tolerance policy. Every iterative solve in every strategy uses the
// same relative tolerance and iteration caps; call sites never pick their own.
const (
	// ToleranceBps is the relative tolerance band for iterative solves,
	// expressed in basis points (10 = 0.1%).
	ToleranceBps = 10
	// MaxBinarySearchIters caps binary searches over token ranges.
	MaxBinarySearchIters = 64
	// MaxRefineIters caps multiplicative refinement of exact-input buys.
	MaxRefineIters = 16
)

// MinTokenUnit is the smallest token quantity a quote may substitute when the
// math rounds to zero for a non-zero input.
var MinTokenUnit = big.NewInt(1)

var (
	ErrInvalidAmount      = errors.New("curve: amount must be positive")
	ErrInvalidConfig      = errors.New("curve: invalid strategy config")
	ErrInsufficientSupply = errors.New("curve: amount exceeds circulating supply")
	ErrSupplyExhausted    = errors.New("curve: no supply left on the curve")
	ErrCalculationFailed  = errors.New("curve: solver did not converge")
	ErrUnknownStrategy    = errors.New("curve: unknown strategy")
)

// StrategyID selects a pricing strategy implementation.
type StrategyID string

// Config holds the immutable per-pool curve parameters, all WAD-scaled.
// InitialPrice, Steepness and TotalSupply are required for every strategy;
// MaxPriceFactor and Midpoint are only read by the sigmoid curve and fall back
// to its defaults when zero.
type Config struct {
	InitialPrice   *big.Int `json:"initialPrice"`
	Steepness      *big.Int `json:"steepness"`
	TotalSupply    *big.Int `json:"totalSupply"`
	MaxPriceFactor *big.Int `json:"maxPriceFactor,omitempty"`
	Midpoint       *big.Int `json:"midpoint,omitempty"`
}

// Validate rejects configurations that would make runtime pricing divide by
// zero. It runs once, when a pool is launched.
func (c Config) Validate() error {
	if c.InitialPrice == nil || c.InitialPrice.Sign() <= 0 {
		return fmt.Errorf("%w: initial price must be positive", ErrInvalidConfig)
	}
	if c.Steepness == nil || c.Steepness.Sign() <= 0 {
		return fmt.Errorf("%w: steepness must be positive", ErrInvalidConfig)
	}
	if c.TotalSupply == nil || c.TotalSupply.Sign() <= 0 {
		return fmt.Errorf("%w: total supply must be positive", ErrInvalidConfig)
	}
	if c.MaxPriceFactor != nil && c.MaxPriceFactor.Sign() < 0 {
		return fmt.Errorf("%w: max price factor must not be negative", ErrInvalidConfig)
	}
	if c.Midpoint != nil && c.Midpoint.Sign() < 0 {
		return fmt.Errorf("%w: midpoint must not be negative", ErrInvalidConfig)
	}
	return nil
}

// Clone returns a deep copy of the config.
func (c Config) Clone() Config {
	out := Config{}
	if c.InitialPrice != nil {
		out.InitialPrice = new(big.Int).Set(c.InitialPrice)
	}
	if c.Steepness != nil {
		out.Steepness = new(big.Int).Set(c.Steepness)
	}
	if c.TotalSupply != nil {
		out.TotalSupply = new(big.Int).Set(c.TotalSupply)
	}
	if c.MaxPriceFactor != nil {
		out.MaxPriceFactor = new(big.Int).Set(c.MaxPriceFactor)
	}
	if c.Midpoint != nil {
		out.Midpoint = new(big.Int).Set(c.Midpoint)
	}
	return out
}

// Quote is the result of any pricing call: the solved-for amount and the spot
// price after the hypothetical trade, both WAD-scaled.
type Quote struct {
	Amount   *big.Int
	NewPrice *big.Int
}

// Strategy is pure pricing math over a pool's circulating supply and its
// immutable config. Implementations hold no per-pool state; the same value
// serves every pool that selected the strategy.
type Strategy interface {
	// Price returns the spot price at the given circulating supply.
	Price(cfg Config, supply *big.Int) (*big.Int, error)

	// QuoteBuy solves for the tokens released by paying reserveIn.
	QuoteBuy(cfg Config, supply, reserveIn *big.Int) (Quote, error)

	// QuoteSell returns the reserve released by returning tokensIn.
	// Fails when tokensIn exceeds the circulating supply.
	QuoteSell(cfg Config, supply, tokensIn *big.Int) (Quote, error)

	// QuoteExactTokensOut returns the reserve required to buy exactly
	// tokensOut.
	QuoteExactTokensOut(cfg Config, supply, tokensOut *big.Int) (Quote, error)

	// QuoteExactReserveOut solves for the tokens that must be sold to
	// release exactly reserveOut.
	QuoteExactReserveOut(cfg Config, supply, reserveOut *big.Int) (Quote, error)
}

// Registry is an immutable strategy lookup, built once at startup.
type Registry struct {
	strategies map[StrategyID]Strategy
}

// NewRegistry builds a registry from the given strategy set. Nil strategies
// are a programmer error and panic.
func NewRegistry(strategies map[StrategyID]Strategy) *Registry {
	copied := make(map[StrategyID]Strategy, len(strategies))
	for id, s := range strategies {
		if s == nil {
			panic(fmt.Sprintf("curve: nil strategy registered under %q", id))
		}
		copied[id] = s
	}
	return &Registry{strategies: copied}
}

// Get returns the strategy registered under id.
func (r *Registry) Get(id StrategyID) (Strategy, error) {
	s, ok := r.strategies[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, id)
	}
	return s, nil
}

// IDs returns the registered strategy identifiers.
func (r *Registry) IDs() []StrategyID {
	out := make([]StrategyID, 0, len(r.strategies))
	for id := range r.strategies {
		out = append(out, id)
	}
	return out
}
