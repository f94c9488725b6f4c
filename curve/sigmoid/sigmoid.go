// Package sigmoid implements an S-shaped pricing curve that starts near the
// initial price, accelerates around a configurable midpoint of the supply and
// flattens toward initialPrice * maxPriceFactor:
//
//	price(s) = P0 + (P0*maxFactor - P0) / (1 + exp(steepness * (midpoint - x)))
//
// with x the sold fraction of total supply. Reserve amounts are integrated
// with the trapezoid rule over the trade interval; inversions use bounded
// binary search under the shared tolerance policy of the curve package.
package sigmoid

import (
	"math/big"

	"github.com/curvelaunch/curvelaunch-engine-go/curve"
	"github.com/curvelaunch/curvelaunch-engine-go/fixedpoint"
)

// ID is the registry identifier for this strategy.
const ID = curve.StrategyID("curvelaunch/sigmoid@v1")

// Defaults applied when the optional config fields are unset.
var (
	// DefaultMaxPriceFactor caps the curve at 10x the initial price.
	DefaultMaxPriceFactor = new(big.Int).Mul(big.NewInt(10), fixedpoint.WAD)
	// DefaultMidpoint puts the inflection at 50% of supply sold.
	DefaultMidpoint = new(big.Int).Div(fixedpoint.WAD, big.NewInt(2))
)

var two = big.NewInt(2)

// Strategy is stateless; one value serves every pool.
type Strategy struct{}

// New returns the sigmoid pricing strategy.
func New() *Strategy { return &Strategy{} }

func maxPriceFactor(cfg curve.Config) *big.Int {
	if cfg.MaxPriceFactor == nil || cfg.MaxPriceFactor.Sign() == 0 {
		return DefaultMaxPriceFactor
	}
	return cfg.MaxPriceFactor
}

func midpoint(cfg curve.Config) *big.Int {
	if cfg.Midpoint == nil || cfg.Midpoint.Sign() == 0 {
		return DefaultMidpoint
	}
	return cfg.Midpoint
}

// Price returns the spot price at the given circulating supply.
func (st *Strategy) Price(cfg curve.Config, supply *big.Int) (*big.Int, error) {
	if supply == nil || supply.Sign() < 0 {
		return nil, curve.ErrInvalidAmount
	}
	if supply.Sign() == 0 {
		return fixedpoint.Clone(cfg.InitialPrice), nil
	}

	// Fraction of supply sold, WAD-scaled.
	sold := new(big.Int)
	if err := fixedpoint.Div(sold, supply, cfg.TotalSupply); err != nil {
		return nil, err
	}

	maxPrice := new(big.Int)
	if err := fixedpoint.Mul(maxPrice, cfg.InitialPrice, maxPriceFactor(cfg)); err != nil {
		return nil, err
	}
	priceRange := maxPrice.Sub(maxPrice, cfg.InitialPrice)
	if priceRange.Sign() < 0 {
		priceRange.SetInt64(0)
	}

	mid := midpoint(cfg)
	exponent := new(big.Int)
	e := new(big.Int)
	denom := new(big.Int)

	if sold.Cmp(mid) < 0 {
		// Below the midpoint: denominator is 1 + exp(k * (m - x)).
		diff := new(big.Int).Sub(mid, sold)
		if err := fixedpoint.Mul(exponent, cfg.Steepness, diff); err != nil {
			return nil, err
		}
		if err := fixedpoint.Exp(e, exponent); err != nil {
			return nil, err
		}
		denom.Add(fixedpoint.WAD, e)
	} else {
		// At or above the midpoint: rewrite as 1 + 1/exp(k * (x - m)) for
		// numerical stability.
		diff := new(big.Int).Sub(sold, mid)
		if err := fixedpoint.Mul(exponent, cfg.Steepness, diff); err != nil {
			return nil, err
		}
		if err := fixedpoint.Exp(e, exponent); err != nil {
			return nil, err
		}
		inv := new(big.Int)
		if err := fixedpoint.Div(inv, fixedpoint.WAD, e); err != nil {
			return nil, err
		}
		denom.Add(fixedpoint.WAD, inv)
	}

	step := new(big.Int)
	if err := fixedpoint.Div(step, priceRange, denom); err != nil {
		return nil, err
	}
	return step.Add(step, cfg.InitialPrice), nil
}

// reserveBetween integrates the curve over [s0, s1] with the trapezoid rule:
// (price(s0) + price(s1)) * (s1 - s0) / 2.
func (st *Strategy) reserveBetween(cfg curve.Config, s0, s1 *big.Int) (*big.Int, error) {
	p0, err := st.Price(cfg, s0)
	if err != nil {
		return nil, err
	}
	p1, err := st.Price(cfg, s1)
	if err != nil {
		return nil, err
	}
	span := new(big.Int).Sub(s1, s0)
	sum := p0.Add(p0, p1)
	reserve := new(big.Int)
	if err := fixedpoint.Mul(reserve, sum, span); err != nil {
		return nil, err
	}
	return reserve.Div(reserve, two), nil
}

// QuoteBuy solves for the tokens released by paying reserveIn.
func (st *Strategy) QuoteBuy(cfg curve.Config, supply, reserveIn *big.Int) (curve.Quote, error) {
	if reserveIn == nil || reserveIn.Sign() <= 0 {
		return curve.Quote{}, curve.ErrInvalidAmount
	}
	remaining := new(big.Int).Sub(cfg.TotalSupply, supply)
	if remaining.Sign() <= 0 {
		return curve.Quote{}, curve.ErrSupplyExhausted
	}

	// First-buyer fast path: price the whole fill at the initial price.
	if supply.Sign() == 0 {
		tokens := new(big.Int)
		if err := fixedpoint.Div(tokens, reserveIn, cfg.InitialPrice); err != nil {
			return curve.Quote{}, err
		}
		if tokens.Sign() == 0 {
			tokens.Set(curve.MinTokenUnit)
		}
		if tokens.Cmp(remaining) > 0 {
			tokens.Set(remaining)
		}
		return st.finish(cfg, new(big.Int).Set(tokens), new(big.Int).Add(supply, tokens))
	}

	// If the payment covers the whole remaining curve, clamp.
	full, err := st.reserveBetween(cfg, supply, cfg.TotalSupply)
	if err != nil {
		return curve.Quote{}, err
	}
	if full.Cmp(reserveIn) <= 0 {
		return st.finish(cfg, remaining, fixedpoint.Clone(cfg.TotalSupply))
	}

	// Invariant: cost(lo) <= reserveIn < cost(hi).
	lo := new(big.Int)
	hi := new(big.Int).Set(remaining)
	mid := new(big.Int)
	end := new(big.Int)

	for i := 0; i < curve.MaxBinarySearchIters; i++ {
		gap := new(big.Int).Sub(hi, lo)
		if gap.Cmp(curve.MinTokenUnit) <= 0 {
			break
		}
		mid.Add(lo, gap.Div(gap, two))

		end.Add(supply, mid)
		cost, err := st.reserveBetween(cfg, supply, end)
		if err != nil {
			return curve.Quote{}, err
		}
		if fixedpoint.WithinRelativeTolerance(cost, reserveIn, curve.ToleranceBps) && cost.Cmp(reserveIn) <= 0 {
			lo.Set(mid)
			break
		}
		if cost.Cmp(reserveIn) <= 0 {
			lo.Set(mid)
		} else {
			hi.Set(mid)
		}
	}

	// lo is the safe side for buys: its cost never exceeds the payment.
	tokens := new(big.Int).Set(lo)
	if tokens.Sign() == 0 {
		tokens.Set(curve.MinTokenUnit)
	}
	return st.finish(cfg, tokens, new(big.Int).Add(supply, tokens))
}

// QuoteSell returns the reserve released by returning tokensIn to the curve.
func (st *Strategy) QuoteSell(cfg curve.Config, supply, tokensIn *big.Int) (curve.Quote, error) {
	if tokensIn == nil || tokensIn.Sign() <= 0 {
		return curve.Quote{}, curve.ErrInvalidAmount
	}
	if tokensIn.Cmp(supply) > 0 {
		return curve.Quote{}, curve.ErrInsufficientSupply
	}

	newSupply := new(big.Int).Sub(supply, tokensIn)
	reserveOut, err := st.reserveBetween(cfg, newSupply, supply)
	if err != nil {
		return curve.Quote{}, err
	}
	if reserveOut.Sign() == 0 {
		return curve.Quote{}, curve.ErrCalculationFailed
	}
	return st.finish(cfg, reserveOut, newSupply)
}

// QuoteExactTokensOut returns the reserve required to buy exactly tokensOut.
func (st *Strategy) QuoteExactTokensOut(cfg curve.Config, supply, tokensOut *big.Int) (curve.Quote, error) {
	if tokensOut == nil || tokensOut.Sign() <= 0 {
		return curve.Quote{}, curve.ErrInvalidAmount
	}
	remaining := new(big.Int).Sub(cfg.TotalSupply, supply)
	if tokensOut.Cmp(remaining) > 0 {
		return curve.Quote{}, curve.ErrSupplyExhausted
	}

	newSupply := new(big.Int).Add(supply, tokensOut)
	reserveNeeded, err := st.reserveBetween(cfg, supply, newSupply)
	if err != nil {
		return curve.Quote{}, err
	}
	if reserveNeeded.Sign() == 0 {
		reserveNeeded.SetInt64(1)
	}
	return st.finish(cfg, reserveNeeded, newSupply)
}

// QuoteExactReserveOut solves for the tokens that must be sold to release
// exactly reserveOut.
func (st *Strategy) QuoteExactReserveOut(cfg curve.Config, supply, reserveOut *big.Int) (curve.Quote, error) {
	if reserveOut == nil || reserveOut.Sign() <= 0 {
		return curve.Quote{}, curve.ErrInvalidAmount
	}
	if supply.Sign() == 0 {
		return curve.Quote{}, curve.ErrInsufficientSupply
	}

	maxOut, err := st.reserveBetween(cfg, new(big.Int), supply)
	if err != nil {
		return curve.Quote{}, err
	}
	if maxOut.Cmp(reserveOut) < 0 {
		return curve.Quote{}, curve.ErrInsufficientSupply
	}

	// Invariant: value(lo) < reserveOut <= value(hi).
	lo := new(big.Int)
	hi := new(big.Int).Set(supply)
	mid := new(big.Int)
	after := new(big.Int)

	for i := 0; i < curve.MaxBinarySearchIters; i++ {
		gap := new(big.Int).Sub(hi, lo)
		if gap.Cmp(curve.MinTokenUnit) <= 0 {
			break
		}
		mid.Add(lo, gap.Div(gap, two))

		after.Sub(supply, mid)
		v, err := st.reserveBetween(cfg, after, supply)
		if err != nil {
			return curve.Quote{}, err
		}
		if fixedpoint.WithinRelativeTolerance(v, reserveOut, curve.ToleranceBps) && v.Cmp(reserveOut) >= 0 {
			hi.Set(mid)
			break
		}
		if v.Cmp(reserveOut) < 0 {
			lo.Set(mid)
		} else {
			hi.Set(mid)
		}
	}

	// hi is the safe side for sells: slightly more tokens sold, never fewer.
	tokens := new(big.Int).Set(hi)
	return st.finish(cfg, tokens, new(big.Int).Sub(supply, tokens))
}

func (st *Strategy) finish(cfg curve.Config, amount, newSupply *big.Int) (curve.Quote, error) {
	newPrice, err := st.Price(cfg, newSupply)
	if err != nil {
		return curve.Quote{}, err
	}
	return curve.Quote{Amount: amount, NewPrice: newPrice}, nil
}
