package sigmoid

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curvelaunch/curvelaunch-engine-go/curve"
	"github.com/curvelaunch/curvelaunch-engine-go/fixedpoint"
)

func wad(t *testing.T, s string) *big.Int {
	t.Helper()
	r, ok := new(big.Rat).SetString(s)
	require.True(t, ok, "bad rational %q", s)
	r.Mul(r, new(big.Rat).SetInt(fixedpoint.WAD))
	return new(big.Int).Div(r.Num(), r.Denom())
}

// defaultConfig leaves maxPriceFactor and midpoint unset so the strategy
// falls back to 10x / 50%.
func defaultConfig(t *testing.T) curve.Config {
	t.Helper()
	return curve.Config{
		InitialPrice: wad(t, "0.1"),
		Steepness:    wad(t, "10"),
		TotalSupply:  wad(t, "1000"),
	}
}

func supplyAtPct(cfg curve.Config, pct int64) *big.Int {
	s := new(big.Int).Mul(cfg.TotalSupply, big.NewInt(pct))
	return s.Div(s, big.NewInt(100))
}

func TestPriceShape(t *testing.T) {
	st := New()
	cfg := defaultConfig(t)

	p0, err := st.Price(cfg, new(big.Int))
	require.NoError(t, err)
	assert.Equal(t, cfg.InitialPrice, p0)

	// At the midpoint the sigmoid sits halfway between the floor and the cap:
	// 0.1 + (1.0 - 0.1)/2 = 0.55.
	mid, err := st.Price(cfg, supplyAtPct(cfg, 50))
	require.NoError(t, err)
	assert.True(t, fixedpoint.WithinRelativeTolerance(mid, wad(t, "0.55"), 10),
		"midpoint price %s, want ~0.55", mid)

	// Deep past the midpoint the price approaches but never exceeds the cap.
	late, err := st.Price(cfg, supplyAtPct(cfg, 100))
	require.NoError(t, err)
	assert.Equal(t, 1, late.Cmp(mid))
	assert.Equal(t, -1, late.Cmp(wad(t, "1.0")))
}

func TestPriceMonotonic(t *testing.T) {
	st := New()
	cfg := defaultConfig(t)

	prev, err := st.Price(cfg, new(big.Int))
	require.NoError(t, err)
	for _, pct := range []int64{5, 20, 40, 49, 50, 51, 60, 80, 95, 100} {
		p, err := st.Price(cfg, supplyAtPct(cfg, pct))
		require.NoError(t, err)
		assert.Equal(t, 1, p.Cmp(prev), "price not increasing at %d%%", pct)
		prev = p
	}
}

func TestFirstBuyerFastPath(t *testing.T) {
	st := New()
	cfg := defaultConfig(t)

	q, err := st.QuoteBuy(cfg, new(big.Int), wad(t, "1"))
	require.NoError(t, err)
	// 1 reserve at the 0.1 initial price buys 10 tokens.
	assert.Equal(t, wad(t, "10"), q.Amount)
	assert.Equal(t, 1, q.NewPrice.Cmp(cfg.InitialPrice))
}

func TestBuySellRoundTrip(t *testing.T) {
	st := New()
	cfg := defaultConfig(t)
	supply := supplyAtPct(cfg, 30)
	reserveIn := wad(t, "25")

	q, err := st.QuoteBuy(cfg, supply, reserveIn)
	require.NoError(t, err)
	require.Equal(t, 1, q.Amount.Sign())

	// The trapezoid cost of the awarded tokens must not exceed the payment.
	end := new(big.Int).Add(supply, q.Amount)
	cost, err := st.reserveBetween(cfg, supply, end)
	require.NoError(t, err)
	assert.LessOrEqual(t, cost.Cmp(reserveIn), 0)

	sell, err := st.QuoteSell(cfg, end, q.Amount)
	require.NoError(t, err)
	assert.Equal(t, -1, sell.Amount.Cmp(reserveIn), "round trip must cost the trader")
}

func TestBuyClampsToRemainingSupply(t *testing.T) {
	st := New()
	cfg := defaultConfig(t)
	supply := supplyAtPct(cfg, 90)

	// Worth far more than the remaining 10% of the curve.
	q, err := st.QuoteBuy(cfg, supply, wad(t, "1000000"))
	require.NoError(t, err)
	assert.Equal(t, supplyAtPct(cfg, 10), q.Amount)
}

func TestExactReserveOutSafeDirection(t *testing.T) {
	st := New()
	cfg := defaultConfig(t)
	supply := supplyAtPct(cfg, 60)
	reserveOut := wad(t, "12")

	q, err := st.QuoteExactReserveOut(cfg, supply, reserveOut)
	require.NoError(t, err)

	after := new(big.Int).Sub(supply, q.Amount)
	released, err := st.reserveBetween(cfg, after, supply)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, released.Cmp(reserveOut), 0,
		"solved tokens must release at least the requested reserve")
	assert.True(t, fixedpoint.WithinRelativeTolerance(released, reserveOut, 2*curve.ToleranceBps))
}

func TestSellValidation(t *testing.T) {
	st := New()
	cfg := defaultConfig(t)

	_, err := st.QuoteSell(cfg, wad(t, "5"), wad(t, "6"))
	assert.ErrorIs(t, err, curve.ErrInsufficientSupply)

	_, err = st.QuoteSell(cfg, wad(t, "5"), new(big.Int))
	assert.ErrorIs(t, err, curve.ErrInvalidAmount)

	_, err = st.QuoteExactReserveOut(cfg, wad(t, "5"), wad(t, "100000"))
	assert.ErrorIs(t, err, curve.ErrInsufficientSupply)
}
