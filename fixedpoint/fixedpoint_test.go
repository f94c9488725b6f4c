package fixedpoint

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wad is a test helper converting a float-ish decimal string into a WAD int.
func wad(t *testing.T, s string) *big.Int {
	t.Helper()
	r, ok := new(big.Rat).SetString(s)
	require.True(t, ok, "bad rational %q", s)
	r.Mul(r, new(big.Rat).SetInt(WAD))
	return new(big.Int).Div(r.Num(), r.Denom())
}

func TestMulDiv(t *testing.T) {
	dest := new(big.Int)

	require.NoError(t, Mul(dest, wad(t, "2.5"), wad(t, "4")))
	assert.Equal(t, wad(t, "10"), dest)

	require.NoError(t, Div(dest, wad(t, "10"), wad(t, "4")))
	assert.Equal(t, wad(t, "2.5"), dest)

	require.NoError(t, MulDiv(dest, big.NewInt(7), big.NewInt(9), big.NewInt(2)))
	assert.Equal(t, big.NewInt(31), dest)

	assert.ErrorIs(t, Div(dest, WAD, new(big.Int)), ErrDivisionByZero)
	assert.ErrorIs(t, Mul(dest, nil, WAD), ErrNilInput)
	assert.ErrorIs(t, Mul(dest, big.NewInt(-1), WAD), ErrNegativeInput)
}

func TestExpKnownValues(t *testing.T) {
	testCases := []struct {
		name string
		x    string
		want string
		// tolerance is in units of 1e-9 relative error; the series itself
		// is far more accurate, the slack covers WAD truncation.
		tolerance int64
	}{
		{name: "zero", x: "0", want: "1", tolerance: 0},
		{name: "one", x: "1", want: "2.718281828459045235", tolerance: 1},
		{name: "half", x: "0.5", want: "1.648721270700128146", tolerance: 1},
		{name: "two", x: "2", want: "7.389056098930650227", tolerance: 1},
		{name: "ten", x: "10", want: "22026.465794806716516957", tolerance: 1},
		{name: "tiny", x: "0.000025", want: "1.000025000312502604", tolerance: 1},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			dest := new(big.Int)
			require.NoError(t, Exp(dest, wad(t, tc.x)))
			want := wad(t, tc.want)

			diff := new(big.Int).Sub(dest, want)
			diff.Abs(diff)
			// Scale the allowed error down to ~1e-9 relative.
			limit := new(big.Int).Div(want, big.NewInt(1_000_000_000))
			limit.Mul(limit, big.NewInt(tc.tolerance+1))
			assert.LessOrEqual(t, diff.Cmp(limit), 0,
				"exp(%s) = %s, want %s", tc.x, dest, want)
		})
	}
}

func TestExpMonotonic(t *testing.T) {
	prev := new(big.Int)
	require.NoError(t, Exp(prev, new(big.Int)))

	// Walk the [0, 20] range in uneven steps; each result must strictly grow.
	for _, x := range []string{"0.001", "0.01", "0.1", "0.25", "0.5", "1", "1.5", "2", "3", "5", "8", "13", "20"} {
		cur := new(big.Int)
		require.NoError(t, Exp(cur, wad(t, x)))
		assert.Equal(t, 1, cur.Cmp(prev), "exp not increasing at x=%s", x)
		prev = cur
	}
}

func TestExpRange(t *testing.T) {
	dest := new(big.Int)
	assert.ErrorIs(t, Exp(dest, big.NewInt(-1)), ErrNegativeInput)

	over := new(big.Int).Add(MaxExpInput, big.NewInt(1))
	assert.ErrorIs(t, Exp(dest, over), ErrExpOverflow)

	require.NoError(t, Exp(dest, MaxExpInput))
	assert.Equal(t, 1, dest.Sign())
}

func TestWithinRelativeTolerance(t *testing.T) {
	assert.True(t, WithinRelativeTolerance(big.NewInt(1000), big.NewInt(1001), 10))
	assert.False(t, WithinRelativeTolerance(big.NewInt(1000), big.NewInt(1020), 10))
	assert.True(t, WithinRelativeTolerance(new(big.Int), new(big.Int), 10))
	assert.False(t, WithinRelativeTolerance(big.NewInt(1), new(big.Int), 10))
	assert.False(t, WithinRelativeTolerance(nil, big.NewInt(1), 10))
}
