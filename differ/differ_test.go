package differ

import (
	"io"
	"log/slog"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curvelaunch/curvelaunch-engine-go/curve"
	"github.com/curvelaunch/curvelaunch-engine-go/engine"
	"github.com/curvelaunch/curvelaunch-engine-go/ledger"
	"github.com/curvelaunch/curvelaunch-engine-go/pool"
)

func newTestDiffer(t *testing.T) *StateDiffer {
	t.Helper()
	d, err := NewStateDiffer(&StateDifferConfig{
		Registry: prometheus.NewRegistry(),
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	return d
}

func testPool(token byte, circulating int64) pool.Pool {
	tokenAddr := common.BytesToAddress([]byte{token})
	reserveAddr := common.BytesToAddress([]byte{0xff})
	supply := new(big.Int).Mul(big.NewInt(100), big.NewInt(1e18))
	return pool.Pool{
		ID:           pool.DeriveID(tokenAddr, reserveAddr),
		Token:        tokenAddr,
		ReserveAsset: reserveAddr,
		StrategyID:   "curvelaunch/exponential@v1",
		StrategyConfig: curve.Config{
			InitialPrice: big.NewInt(4e17),
			Steepness:    big.NewInt(25e12),
			TotalSupply:  supply,
		},
		TotalSupply:       supply,
		CirculatingSupply: new(big.Int).Mul(big.NewInt(circulating), big.NewInt(1e18)),
		ReserveCollected:  new(big.Int),
		LastPrice:         big.NewInt(4e17),
		Transition:        pool.PercentageTransition(5000),
		Lifecycle:         pool.LifecycleActive,
		TransitionPrice:   new(big.Int),
	}
}

func testEntry(depositor byte, amount int64) ledger.Entry {
	return ledger.Entry{
		Depositor: common.BytesToAddress([]byte{depositor}),
		Pool:      common.HexToHash("0x01"),
		Asset:     common.BytesToAddress([]byte{0xff}),
		Amount:    big.NewInt(amount),
	}
}

func TestDiffRejectsSequenceRegression(t *testing.T) {
	d := newTestDiffer(t)

	old := &engine.Snapshot{Sequence: 5}
	new := &engine.Snapshot{Sequence: 4}
	_, err := d.Diff(old, new)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sequence regression")
}

func TestDiffEmptyWhenNothingChanged(t *testing.T) {
	d := newTestDiffer(t)

	p := testPool(1, 5)
	old := &engine.Snapshot{Sequence: 1, Pools: []pool.Pool{p}}
	new := &engine.Snapshot{Sequence: 2, Pools: []pool.Pool{p}}

	diff, err := d.Diff(old, new)
	require.NoError(t, err)
	assert.True(t, diff.IsEmpty())
	assert.Equal(t, uint64(1), diff.FromSequence)
	assert.Equal(t, uint64(2), diff.ToSequence)
}

func TestDiffCarriesBothSections(t *testing.T) {
	d := newTestDiffer(t)

	oldPool := testPool(1, 5)
	newPool := testPool(1, 7)
	old := &engine.Snapshot{
		Sequence:  1,
		Pools:     []pool.Pool{oldPool},
		Liquidity: []ledger.Entry{testEntry(0xa1, 100)},
	}
	new := &engine.Snapshot{
		Sequence:  2,
		Timestamp: 42,
		Pools:     []pool.Pool{newPool, testPool(2, 0)},
		Liquidity: []ledger.Entry{testEntry(0xa1, 150), testEntry(0xb1, 10)},
	}

	diff, err := d.Diff(old, new)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), diff.Timestamp)

	assert.Len(t, diff.Pools.Additions, 1)
	require.Len(t, diff.Pools.Updates, 1)
	assert.Equal(t, newPool.CirculatingSupply, diff.Pools.Updates[0].CirculatingSupply)

	assert.Len(t, diff.Liquidity.Additions, 1)
	require.Len(t, diff.Liquidity.Updates, 1)
	assert.Equal(t, big.NewInt(150), diff.Liquidity.Updates[0].Amount)
}
