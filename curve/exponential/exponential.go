// Package exponential implements the launch-phase pricing curve
// price(s) = initialPrice * exp(steepness * s / totalSupply).
//
// Reserve amounts between two supply points have the closed form
//
//	P0 * S / k * (exp(k*s1/S) - exp(k*s0/S))
//
// which is used directly for sells and exact-token quotes. Exact-input buys
// invert it with a bounded multiplicative refinement, exact-reserve-out sells
// with a bounded binary search; both use the shared tolerance policy from the
// curve package.
package exponential

import (
	"math/big"

	"github.com/curvelaunch/curvelaunch-engine-go/curve"
	"github.com/curvelaunch/curvelaunch-engine-go/fixedpoint"
)

// ID is the registry identifier for this strategy.
const ID = curve.StrategyID("curvelaunch/exponential@v1")

// smallBuyDivisor classifies a buy as "very small" when the direct-price token
// estimate is below remaining/smallBuyDivisor. Such buys skip the refinement
// loop, whose relative precision collapses near the WAD floor, and instead
// take the spot-price estimate minus a fixed safety buffer.
var smallBuyDivisor = big.NewInt(1_000_000)

// safetyBufferDivisor is the fixed percentage buffer (0.5%) subtracted from
// direct-price small-buy estimates so the pool never undercollects.
var safetyBufferDivisor = big.NewInt(200)

// Strategy is stateless; one value serves every pool.
type Strategy struct{}

// New returns the exponential pricing strategy.
func New() *Strategy { return &Strategy{} }

// Price returns the spot price at the given circulating supply.
func (st *Strategy) Price(cfg curve.Config, supply *big.Int) (*big.Int, error) {
	if supply == nil || supply.Sign() < 0 {
		return nil, curve.ErrInvalidAmount
	}
	if supply.Sign() == 0 {
		return fixedpoint.Clone(cfg.InitialPrice), nil
	}

	// exponent = k * s / S; the WAD factors of s and S cancel.
	exponent := new(big.Int)
	if err := fixedpoint.MulDiv(exponent, cfg.Steepness, supply, cfg.TotalSupply); err != nil {
		return nil, err
	}
	e := new(big.Int)
	if err := fixedpoint.Exp(e, exponent); err != nil {
		return nil, err
	}
	price := new(big.Int)
	if err := fixedpoint.Mul(price, cfg.InitialPrice, e); err != nil {
		return nil, err
	}
	return price, nil
}

// reserveBetween evaluates the closed-form integral of the price curve over
// [s0, s1], s0 <= s1, returning the WAD reserve amount it represents.
func (st *Strategy) reserveBetween(cfg curve.Config, s0, s1 *big.Int) (*big.Int, error) {
	e0 := new(big.Int)
	e1 := new(big.Int)
	exponent := new(big.Int)

	if err := fixedpoint.MulDiv(exponent, cfg.Steepness, s0, cfg.TotalSupply); err != nil {
		return nil, err
	}
	if err := fixedpoint.Exp(e0, exponent); err != nil {
		return nil, err
	}
	if err := fixedpoint.MulDiv(exponent, cfg.Steepness, s1, cfg.TotalSupply); err != nil {
		return nil, err
	}
	if err := fixedpoint.Exp(e1, exponent); err != nil {
		return nil, err
	}

	// scale = P0 * S / k, still WAD-scaled.
	scale := new(big.Int)
	if err := fixedpoint.MulDiv(scale, cfg.InitialPrice, cfg.TotalSupply, cfg.Steepness); err != nil {
		return nil, err
	}

	diff := e1.Sub(e1, e0)
	reserve := new(big.Int)
	if err := fixedpoint.Mul(reserve, scale, diff); err != nil {
		return nil, err
	}
	return reserve, nil
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

	spot, err := st.Price(cfg, supply)
	if err != nil {
		return curve.Quote{}, err
	}

	// Direct-price seed: tokens = reserveIn / spot.
	guess := new(big.Int)
	if err := fixedpoint.Div(guess, reserveIn, spot); err != nil {
		return curve.Quote{}, err
	}

	if guess.Sign() == 0 {
		// The input is non-zero but rounds below one token unit; substitute
		// the minimum quantum so the trade makes forward progress.
		tokens := new(big.Int).Set(curve.MinTokenUnit)
		if tokens.Cmp(remaining) > 0 {
			tokens.Set(remaining)
		}
		return st.finishBuy(cfg, supply, tokens)
	}

	// Very small buys: the refinement loop loses precision near the WAD
	// floor, so take the spot estimate minus the fixed safety buffer.
	smallCutoff := new(big.Int).Div(remaining, smallBuyDivisor)
	if guess.Cmp(smallCutoff) < 0 {
		buffer := new(big.Int).Div(guess, safetyBufferDivisor)
		tokens := guess.Sub(guess, buffer)
		if tokens.Sign() == 0 {
			tokens.Set(curve.MinTokenUnit)
		}
		return st.finishBuy(cfg, supply, tokens)
	}

	tokens := guess
	if tokens.Cmp(remaining) > 0 {
		tokens.Set(remaining)
	}

	end := new(big.Int)
	need := new(big.Int)
	converged := false
	for i := 0; i < curve.MaxRefineIters; i++ {
		end.Add(supply, tokens)
		r, err := st.reserveBetween(cfg, supply, end)
		if err != nil {
			return curve.Quote{}, err
		}
		need.Set(r)

		if need.Sign() == 0 {
			break
		}
		if fixedpoint.WithinRelativeTolerance(need, reserveIn, curve.ToleranceBps) {
			converged = true
			break
		}

		// Multiplicative update: scale the candidate by reserveIn/need.
		if err := fixedpoint.MulDiv(tokens, tokens, reserveIn, need); err != nil {
			return curve.Quote{}, err
		}
		if tokens.Cmp(remaining) >= 0 {
			tokens.Set(remaining)
			// Buying out the whole curve is a valid clamped result as long
			// as the payment covers it.
			end.Add(supply, tokens)
			r, err := st.reserveBetween(cfg, supply, end)
			if err != nil {
				return curve.Quote{}, err
			}
			need.Set(r)
			converged = need.Cmp(reserveIn) <= 0
			break
		}
		if tokens.Sign() == 0 {
			tokens.Set(curve.MinTokenUnit)
		}
	}
	if !converged {
		return curve.Quote{}, curve.ErrCalculationFailed
	}

	// Safe direction: the integral over the candidate must not exceed the
	// reserve actually paid.
	for i := 0; i < 4 && need.Cmp(reserveIn) > 0; i++ {
		if err := fixedpoint.MulDiv(tokens, tokens, reserveIn, need); err != nil {
			return curve.Quote{}, err
		}
		if tokens.Sign() == 0 {
			break
		}
		end.Add(supply, tokens)
		r, err := st.reserveBetween(cfg, supply, end)
		if err != nil {
			return curve.Quote{}, err
		}
		need.Set(r)
	}
	if need.Cmp(reserveIn) > 0 || tokens.Sign() == 0 {
		return curve.Quote{}, curve.ErrCalculationFailed
	}

	return st.finishBuy(cfg, supply, tokens)
}

func (st *Strategy) finishBuy(cfg curve.Config, supply, tokens *big.Int) (curve.Quote, error) {
	newSupply := new(big.Int).Add(supply, tokens)
	newPrice, err := st.Price(cfg, newSupply)
	if err != nil {
		return curve.Quote{}, err
	}
	return curve.Quote{Amount: tokens, NewPrice: newPrice}, nil
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
		// No reserve quantum can be invented for the seller without
		// breaking reserve conservation.
		return curve.Quote{}, curve.ErrCalculationFailed
	}
	newPrice, err := st.Price(cfg, newSupply)
	if err != nil {
		return curve.Quote{}, err
	}
	return curve.Quote{Amount: reserveOut, NewPrice: newPrice}, nil
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
		// Charge the minimum reserve quantum; rounding in the pool's favor
		// is the legitimate direction here.
		reserveNeeded.SetInt64(1)
	}
	newPrice, err := st.Price(cfg, newSupply)
	if err != nil {
		return curve.Quote{}, err
	}
	return curve.Quote{Amount: reserveNeeded, NewPrice: newPrice}, nil
}

// QuoteExactReserveOut solves for the tokens that must be sold to release
// exactly reserveOut, by binary search over [0, supply].
func (st *Strategy) QuoteExactReserveOut(cfg curve.Config, supply, reserveOut *big.Int) (curve.Quote, error) {
	if reserveOut == nil || reserveOut.Sign() <= 0 {
		return curve.Quote{}, curve.ErrInvalidAmount
	}
	if supply.Sign() == 0 {
		return curve.Quote{}, curve.ErrInsufficientSupply
	}

	// The whole circulating supply bounds what the curve can release.
	maxOut, err := st.sellValue(cfg, supply, supply)
	if err != nil {
		return curve.Quote{}, err
	}
	if maxOut.Cmp(reserveOut) < 0 {
		return curve.Quote{}, curve.ErrInsufficientSupply
	}

	// Invariant: sellValue(lo) < reserveOut <= sellValue(hi).
	lo := new(big.Int)
	hi := new(big.Int).Set(supply)
	mid := new(big.Int)
	two := big.NewInt(2)

	tokens := new(big.Int).Set(hi)
	for i := 0; i < curve.MaxBinarySearchIters; i++ {
		gap := new(big.Int).Sub(hi, lo)
		if gap.Cmp(curve.MinTokenUnit) <= 0 {
			break
		}
		mid.Add(lo, gap.Div(gap, two))

		v, err := st.sellValue(cfg, supply, mid)
		if err != nil {
			return curve.Quote{}, err
		}
		if fixedpoint.WithinRelativeTolerance(v, reserveOut, curve.ToleranceBps) && v.Cmp(reserveOut) >= 0 {
			tokens.Set(mid)
			hi.Set(mid)
			break
		}
		if v.Cmp(reserveOut) < 0 {
			lo.Set(mid)
		} else {
			hi.Set(mid)
		}
	}
	// hi always satisfies the invariant, so undershooting candidates are
	// nudged to it: slightly more tokens sold, never fewer.
	tokens.Set(hi)

	newSupply := new(big.Int).Sub(supply, tokens)
	newPrice, err := st.Price(cfg, newSupply)
	if err != nil {
		return curve.Quote{}, err
	}
	return curve.Quote{Amount: tokens, NewPrice: newPrice}, nil
}

// sellValue is the reserve released by selling tokens at the given supply.
func (st *Strategy) sellValue(cfg curve.Config, supply, tokens *big.Int) (*big.Int, error) {
	after := new(big.Int).Sub(supply, tokens)
	return st.reserveBetween(cfg, after, supply)
}
