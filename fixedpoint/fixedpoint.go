package fixedpoint

import (
	"errors"
	"math/big"
	"sync"
)

var (
	// WAD is the fixed-point scaling factor (10^18). All prices, supplies and
	// reserve amounts in this repository are WAD-scaled integers.
	WAD = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

	// MaxExpInput is the largest argument Exp accepts, chosen so that the
	// WAD-scaled result stays inside 256 bits: ln(2^256 / 10^18) ≈ 133.084.
	MaxExpInput, _ = new(big.Int).SetString("133084258667509499441", 10)

	// expOfOne is e scaled by WAD, accurate to the last digit.
	expOfOne, _ = new(big.Int).SetString("2718281828459045235", 10)

	one = big.NewInt(1)

	ErrDivisionByZero = errors.New("fixedpoint: division by zero")
	ErrNegativeInput  = errors.New("fixedpoint: negative input")
	ErrNilInput       = errors.New("fixedpoint: nil input")
	ErrExpOverflow    = errors.New("fixedpoint: exp argument out of range")
)

// maclaurinTerms bounds the series for the fractional part of Exp. The
// remainder after 20 terms of e^f with f in [0,1) is below 1/21!, far inside
// the documented 1e-9 relative error band.
const maclaurinTerms = 20

// calc holds reusable big.Int scratch space. Instances are not safe for
// concurrent use and are managed by the pool below.
type calc struct {
	product *big.Int
	term    *big.Int
	quo     *big.Int
	rem     *big.Int
}

var calcPool = sync.Pool{
	New: func() any {
		return &calc{
			product: new(big.Int),
			term:    new(big.Int),
			quo:     new(big.Int),
			rem:     new(big.Int),
		}
	},
}

func checkOperands(operands ...*big.Int) error {
	for _, v := range operands {
		if v == nil {
			return ErrNilInput
		}
		if v.Sign() < 0 {
			return ErrNegativeInput
		}
	}
	return nil
}

// Mul writes (a * b) / WAD into dest, rounding toward zero.
func Mul(dest, a, b *big.Int) error {
	if err := checkOperands(a, b); err != nil {
		return err
	}
	c := calcPool.Get().(*calc)
	defer calcPool.Put(c)

	c.product.Mul(a, b)
	dest.Div(c.product, WAD)
	return nil
}

// Div writes (a * WAD) / b into dest, rounding toward zero.
func Div(dest, a, b *big.Int) error {
	if err := checkOperands(a, b); err != nil {
		return err
	}
	if b.Sign() == 0 {
		return ErrDivisionByZero
	}
	c := calcPool.Get().(*calc)
	defer calcPool.Put(c)

	c.product.Mul(a, WAD)
	dest.Div(c.product, b)
	return nil
}

// MulDiv writes (a * b) / c into dest without intermediate WAD scaling.
func MulDiv(dest, a, b, denom *big.Int) error {
	if err := checkOperands(a, b); err != nil {
		return err
	}
	if denom == nil || denom.Sign() == 0 {
		return ErrDivisionByZero
	}
	c := calcPool.Get().(*calc)
	defer calcPool.Put(c)

	c.product.Mul(a, b)
	dest.Div(c.product, denom)
	return nil
}

// Exp writes e^x into dest for a WAD-scaled x >= 0.
//
// The argument is split into integer and fractional parts: the integer part is
// computed by square-and-multiply over the WAD constant for e, the fractional
// part by a bounded Maclaurin series. The result is monotone non-decreasing in
// x and its relative error is dominated by WAD truncation (well under 1e-9).
func Exp(dest, x *big.Int) error {
	if err := checkOperands(x); err != nil {
		return err
	}
	if x.Cmp(MaxExpInput) > 0 {
		return ErrExpOverflow
	}

	c := calcPool.Get().(*calc)
	defer calcPool.Put(c)

	// Split x into n + f with n integer and f in [0, 1).
	c.quo.DivMod(x, WAD, c.rem)
	n := c.quo.Uint64()
	frac := new(big.Int).Set(c.rem)

	// e^f via Maclaurin: 1 + f + f^2/2! + ...
	sum := new(big.Int).Set(WAD)
	c.term.Set(WAD)
	for i := int64(1); i <= maclaurinTerms; i++ {
		c.product.Mul(c.term, frac)
		c.term.Div(c.product, WAD)
		c.term.Div(c.term, big.NewInt(i))
		if c.term.Sign() == 0 {
			break
		}
		sum.Add(sum, c.term)
	}

	// e^n via square-and-multiply on the WAD-scaled base.
	intPart := new(big.Int).Set(WAD)
	base := new(big.Int).Set(expOfOne)
	for n > 0 {
		if n&1 == 1 {
			c.product.Mul(intPart, base)
			intPart.Div(c.product, WAD)
		}
		n >>= 1
		if n > 0 {
			c.product.Mul(base, base)
			base.Div(c.product, WAD)
		}
	}

	c.product.Mul(intPart, sum)
	dest.Div(c.product, WAD)
	return nil
}

// Clone returns an independent copy of v, treating nil as zero.
func Clone(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

// WithinRelativeTolerance reports whether got is within toleranceBps basis
// points of want. A zero want matches only a zero got.
func WithinRelativeTolerance(got, want *big.Int, toleranceBps int64) bool {
	if got == nil || want == nil {
		return false
	}
	if want.Sign() == 0 {
		return got.Sign() == 0
	}
	diff := new(big.Int).Sub(got, want)
	diff.Abs(diff)
	diff.Mul(diff, big.NewInt(10000))
	limit := new(big.Int).Mul(want, big.NewInt(toleranceBps))
	return diff.Cmp(limit) <= 0
}
