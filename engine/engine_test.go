package engine

import (
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curvelaunch/curvelaunch-engine-go/curve"
	"github.com/curvelaunch/curvelaunch-engine-go/curve/exponential"
	"github.com/curvelaunch/curvelaunch-engine-go/curve/sigmoid"
	"github.com/curvelaunch/curvelaunch-engine-go/ledger"
	"github.com/curvelaunch/curvelaunch-engine-go/pool"
	"github.com/curvelaunch/curvelaunch-engine-go/risk"
)

var (
	engineID = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	trader   = common.HexToAddress("0x00000000000000000000000000000000000000f1")

	tokenAddr   = common.HexToAddress("0x0000000000000000000000000000000000001001")
	reserveAddr = common.HexToAddress("0x0000000000000000000000000000000000002002")
	creatorAddr = common.HexToAddress("0x0000000000000000000000000000000000003003")
)

func wad(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

type settleCall struct {
	kind   string
	party  common.Address
	asset  common.Address
	amount *big.Int
}

// fakeSettlement records asset movements and optionally fails or calls back
// into the engine from inside TakeFrom.
type fakeSettlement struct {
	calls    []settleCall
	takeErr  error
	giveErr  error
	onTake   func()
}

func (s *fakeSettlement) TakeFrom(payer common.Address, asset common.Address, amount *big.Int) error {
	if s.onTake != nil {
		cb := s.onTake
		s.onTake = nil
		cb()
	}
	if s.takeErr != nil {
		return s.takeErr
	}
	s.calls = append(s.calls, settleCall{"take", payer, asset, new(big.Int).Set(amount)})
	return nil
}

func (s *fakeSettlement) GiveTo(payee common.Address, asset common.Address, amount *big.Int) error {
	if s.giveErr != nil {
		return s.giveErr
	}
	s.calls = append(s.calls, settleCall{"give", payee, asset, new(big.Int).Set(amount)})
	return nil
}

type fakeMigrator struct {
	calls int
	err   error
}

func (m *fakeMigrator) Migrate(poolID common.Hash, tokenReserve, reserveBalance, price *big.Int) error {
	if m.err != nil {
		return m.err
	}
	m.calls++
	return nil
}

func newTestEngine(t *testing.T, gate *risk.Gate, settlement Settlement, migrator Migrator) *Engine {
	t.Helper()
	strategies := curve.NewRegistry(map[curve.StrategyID]curve.Strategy{
		exponential.ID: exponential.New(),
		sigmoid.ID:     sigmoid.New(),
	})
	e, err := NewEngine(&Config{
		Identity:   engineID,
		Pools:      pool.NewSystem(engineID),
		Strategies: strategies,
		Ledger:     ledger.NewLedger(),
		Gate:       gate,
		Settlement: settlement,
		Migrator:   migrator,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		Registry:   prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	return e
}

func launchParams() pool.InitParams {
	return pool.InitParams{
		Token:        tokenAddr,
		ReserveAsset: reserveAddr,
		Creator:      creatorAddr,
		TotalSupply:  wad(100),
		Premine:      new(big.Int),
		StrategyID:   exponential.ID,
		StrategyConfig: curve.Config{
			InitialPrice: big.NewInt(4e17),
			Steepness:    big.NewInt(25e12),
			TotalSupply:  wad(100),
		},
		Transition: pool.PercentageTransition(5000),
	}
}

func TestConfigValidation(t *testing.T) {
	_, err := NewEngine(&Config{})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestLaunchRejectsUnknownStrategy(t *testing.T) {
	settlement := &fakeSettlement{}
	e := newTestEngine(t, nil, settlement, nil)

	params := launchParams()
	params.StrategyID = "curvelaunch/constant@v1"
	_, err := e.Launch(params)
	assert.ErrorIs(t, err, curve.ErrUnknownStrategy)
}

func TestBuyThenSellRoundTrip(t *testing.T) {
	settlement := &fakeSettlement{}
	e := newTestEngine(t, nil, settlement, nil)

	p, err := e.Launch(launchParams())
	require.NoError(t, err)

	// Exact-input buy: pay 2 reserve for tokens.
	buy, err := e.Trade(TradeRequest{
		Caller:   trader,
		AssetIn:  reserveAddr,
		AssetOut: tokenAddr,
		Amount:   new(big.Int).Neg(wad(2)),
	})
	require.NoError(t, err)
	assert.Equal(t, wad(2), buy.AmountIn)
	assert.Positive(t, buy.AmountOut.Sign())
	assert.Equal(t, 1, buy.NewPrice.Cmp(big.NewInt(4e17)))

	info, err := e.PoolInfo(p.ID)
	require.NoError(t, err)
	assert.Equal(t, buy.AmountOut, info.CirculatingSupply)
	assert.Equal(t, wad(2), info.ReserveCollected)

	require.Len(t, settlement.calls, 2)
	assert.Equal(t, settleCall{"take", trader, reserveAddr, wad(2)}, settlement.calls[0])
	assert.Equal(t, settleCall{"give", trader, tokenAddr, buy.AmountOut}, settlement.calls[1])

	// Sell everything back: strictly less reserve comes out.
	sell, err := e.Trade(TradeRequest{
		Caller:   trader,
		AssetIn:  tokenAddr,
		AssetOut: reserveAddr,
		Amount:   new(big.Int).Neg(buy.AmountOut),
	})
	require.NoError(t, err)
	assert.Negative(t, sell.AmountOut.Cmp(wad(2)))
	assert.Negative(t, sell.NewPrice.Cmp(buy.NewPrice))

	info, err = e.PoolInfo(p.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, info.CirculatingSupply.Sign())
	assert.Positive(t, info.ReserveCollected.Sign())
}

func TestExactOutputBuy(t *testing.T) {
	settlement := &fakeSettlement{}
	e := newTestEngine(t, nil, settlement, nil)

	p, err := e.Launch(launchParams())
	require.NoError(t, err)

	res, err := e.Trade(TradeRequest{
		Caller:   trader,
		AssetIn:  reserveAddr,
		AssetOut: tokenAddr,
		Amount:   wad(10),
	})
	require.NoError(t, err)
	assert.Equal(t, wad(10), res.AmountOut)
	assert.Positive(t, res.AmountIn.Sign())

	info, err := e.PoolInfo(p.ID)
	require.NoError(t, err)
	assert.Equal(t, wad(10), info.CirculatingSupply)
	assert.Equal(t, res.AmountIn, info.ReserveCollected)
}

func TestTradeValidation(t *testing.T) {
	settlement := &fakeSettlement{}
	e := newTestEngine(t, nil, settlement, nil)
	_, err := e.Launch(launchParams())
	require.NoError(t, err)

	_, err = e.Trade(TradeRequest{Caller: trader, AssetIn: reserveAddr, AssetOut: tokenAddr})
	assert.ErrorIs(t, err, curve.ErrInvalidAmount)

	other := common.HexToAddress("0x9999")
	_, err = e.Trade(TradeRequest{Caller: trader, AssetIn: other, AssetOut: tokenAddr, Amount: wad(1)})
	assert.ErrorIs(t, err, ErrInvalidTokenPath)

	assert.Empty(t, settlement.calls)
}

func TestSellRejectedWhenReserveInsufficient(t *testing.T) {
	settlement := &fakeSettlement{}
	e := newTestEngine(t, nil, settlement, nil)

	params := launchParams()
	params.Premine = wad(10)
	_, err := e.Launch(params)
	require.NoError(t, err)

	// The premine put tokens in circulation but no reserve behind them.
	_, err = e.Trade(TradeRequest{
		Caller:   trader,
		AssetIn:  tokenAddr,
		AssetOut: reserveAddr,
		Amount:   new(big.Int).Neg(wad(5)),
	})
	assert.ErrorIs(t, err, ErrInsufficientLiquidity)
	assert.Empty(t, settlement.calls)
}

type flaggingOracle struct{}

func (flaggingOracle) AssessStrategy(curve.StrategyID) (risk.Assessment, error) {
	return risk.Assessment{Assessed: true, Score: 90}, nil
}

func (flaggingOracle) AssessToken(common.Hash) (risk.Assessment, error) {
	return risk.Assessment{Assessed: true, Score: 10, Flag: true}, nil
}

func (flaggingOracle) AssessTransition(common.Hash) (risk.Assessment, error) {
	return risk.Assessment{Assessed: true, Score: 90, Flag: true}, nil
}

func TestRiskGateBlocksTradeBeforeAnyStateChange(t *testing.T) {
	settlement := &fakeSettlement{}
	gate := risk.NewGate(risk.Config{Enabled: true}, flaggingOracle{})
	e := newTestEngine(t, gate, settlement, nil)

	p, err := e.Launch(launchParams())
	require.NoError(t, err)

	_, err = e.Trade(TradeRequest{
		Caller:   trader,
		AssetIn:  reserveAddr,
		AssetOut: tokenAddr,
		Amount:   new(big.Int).Neg(wad(2)),
	})
	assert.ErrorIs(t, err, risk.ErrRiskRejected)
	assert.Empty(t, settlement.calls)

	info, err := e.PoolInfo(p.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, info.CirculatingSupply.Sign())
	assert.Equal(t, 0, info.ReserveCollected.Sign())
}

func TestReentrantTradeRejected(t *testing.T) {
	settlement := &fakeSettlement{}
	e := newTestEngine(t, nil, settlement, nil)
	_, err := e.Launch(launchParams())
	require.NoError(t, err)

	var reentrantErr error
	settlement.onTake = func() {
		_, reentrantErr = e.Trade(TradeRequest{
			Caller:   trader,
			AssetIn:  reserveAddr,
			AssetOut: tokenAddr,
			Amount:   new(big.Int).Neg(wad(1)),
		})
	}

	_, err = e.Trade(TradeRequest{
		Caller:   trader,
		AssetIn:  reserveAddr,
		AssetOut: tokenAddr,
		Amount:   new(big.Int).Neg(wad(2)),
	})
	require.NoError(t, err)
	assert.ErrorIs(t, reentrantErr, ErrReentrantCall)
}

func TestTransitionRunsExactlyOnce(t *testing.T) {
	settlement := &fakeSettlement{}
	migrator := &fakeMigrator{}
	e := newTestEngine(t, nil, settlement, migrator)

	p, err := e.Launch(launchParams())
	require.NoError(t, err)

	ready, err := e.CanTransition(p.ID)
	require.NoError(t, err)
	assert.False(t, ready)

	// Exact-output buy of half the supply crosses the 5000 bps threshold.
	_, err = e.Trade(TradeRequest{
		Caller:   trader,
		AssetIn:  reserveAddr,
		AssetOut: tokenAddr,
		Amount:   wad(50),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, migrator.calls)

	info, err := e.PoolInfo(p.ID)
	require.NoError(t, err)
	assert.Equal(t, pool.LifecycleTransitioned, info.Lifecycle)
	assert.Positive(t, info.TransitionPrice.Sign())
	assert.Equal(t, info.LastPrice, info.TransitionPrice)

	ready, err = e.CanTransition(p.ID)
	require.NoError(t, err)
	assert.False(t, ready)

	// Every further curve interaction is rejected.
	_, err = e.Trade(TradeRequest{
		Caller:   trader,
		AssetIn:  reserveAddr,
		AssetOut: tokenAddr,
		Amount:   new(big.Int).Neg(wad(1)),
	})
	assert.ErrorIs(t, err, pool.ErrAlreadyTransitioned)
	assert.Equal(t, 1, migrator.calls)

	err = e.AddLiquidity(trader, p.ID, reserveAddr, wad(1))
	assert.ErrorIs(t, err, pool.ErrAlreadyTransitioned)

	// The price is frozen at the transition snapshot.
	price, err := e.Price(p.ID)
	require.NoError(t, err)
	assert.Equal(t, info.TransitionPrice, price)
}

func TestMigrationFailureLeavesPoolActive(t *testing.T) {
	settlement := &fakeSettlement{}
	migrator := &fakeMigrator{err: errors.New("amm unavailable")}
	e := newTestEngine(t, nil, settlement, migrator)

	p, err := e.Launch(launchParams())
	require.NoError(t, err)

	_, err = e.Trade(TradeRequest{
		Caller:   trader,
		AssetIn:  reserveAddr,
		AssetOut: tokenAddr,
		Amount:   wad(50),
	})
	require.NoError(t, err)

	info, err := e.PoolInfo(p.ID)
	require.NoError(t, err)
	assert.Equal(t, pool.LifecycleActive, info.Lifecycle)

	// Once the migrator recovers, the next trade retries and latches.
	migrator.err = nil
	_, err = e.Trade(TradeRequest{
		Caller:   trader,
		AssetIn:  reserveAddr,
		AssetOut: tokenAddr,
		Amount:   wad(1),
	})
	require.NoError(t, err)

	info, err = e.PoolInfo(p.ID)
	require.NoError(t, err)
	assert.Equal(t, pool.LifecycleTransitioned, info.Lifecycle)
	assert.Equal(t, 1, migrator.calls)
}

type notReadyOracle struct{ flaggingOracle }

func (notReadyOracle) AssessToken(common.Hash) (risk.Assessment, error) {
	return risk.Assessment{Assessed: true, Score: 90}, nil
}

func (notReadyOracle) AssessTransition(common.Hash) (risk.Assessment, error) {
	return risk.Assessment{Assessed: true, Score: 90, Flag: false}, nil
}

func TestRiskGateHoldsBackTransition(t *testing.T) {
	settlement := &fakeSettlement{}
	migrator := &fakeMigrator{}
	gate := risk.NewGate(risk.Config{Enabled: true}, notReadyOracle{})
	e := newTestEngine(t, gate, settlement, migrator)

	p, err := e.Launch(launchParams())
	require.NoError(t, err)

	_, err = e.Trade(TradeRequest{
		Caller:   trader,
		AssetIn:  reserveAddr,
		AssetOut: tokenAddr,
		Amount:   wad(50),
	})
	require.NoError(t, err)
	assert.Equal(t, 0, migrator.calls)

	info, err := e.PoolInfo(p.ID)
	require.NoError(t, err)
	assert.Equal(t, pool.LifecycleActive, info.Lifecycle)
}

func TestLiquidityDepositAndWithdraw(t *testing.T) {
	settlement := &fakeSettlement{}
	e := newTestEngine(t, nil, settlement, nil)

	p, err := e.Launch(launchParams())
	require.NoError(t, err)

	require.NoError(t, e.AddLiquidity(trader, p.ID, reserveAddr, wad(3)))
	assert.Equal(t, wad(3), e.Ledger().Balance(trader, p.ID, reserveAddr))

	info, err := e.PoolInfo(p.ID)
	require.NoError(t, err)
	assert.Equal(t, wad(3), info.ReserveCollected)

	err = e.RemoveLiquidity(trader, p.ID, reserveAddr, wad(4))
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	require.NoError(t, e.RemoveLiquidity(trader, p.ID, reserveAddr, wad(3)))
	assert.Equal(t, 0, e.Ledger().Balance(trader, p.ID, reserveAddr).Sign())

	info, err = e.PoolInfo(p.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, info.ReserveCollected.Sign())

	require.Len(t, settlement.calls, 2)
	assert.Equal(t, settleCall{"take", trader, reserveAddr, wad(3)}, settlement.calls[0])
	assert.Equal(t, settleCall{"give", trader, reserveAddr, wad(3)}, settlement.calls[1])
}

func TestLiquidityValidation(t *testing.T) {
	settlement := &fakeSettlement{}
	e := newTestEngine(t, nil, settlement, nil)

	p, err := e.Launch(launchParams())
	require.NoError(t, err)

	err = e.AddLiquidity(trader, p.ID, reserveAddr, new(big.Int))
	assert.ErrorIs(t, err, curve.ErrInvalidAmount)

	other := common.HexToAddress("0x9999")
	err = e.AddLiquidity(trader, p.ID, other, wad(1))
	assert.ErrorIs(t, err, ErrInvalidTokenPath)

	err = e.AddLiquidity(trader, common.HexToHash("0xdead"), reserveAddr, wad(1))
	assert.ErrorIs(t, err, pool.ErrUnknownPool)
}

func TestTokenLiquidityMovesCirculatingSupply(t *testing.T) {
	settlement := &fakeSettlement{}
	e := newTestEngine(t, nil, settlement, nil)

	params := launchParams()
	params.Premine = wad(10)
	p, err := e.Launch(params)
	require.NoError(t, err)

	// Depositing tokens moves them from circulation into the pool.
	require.NoError(t, e.AddLiquidity(trader, p.ID, tokenAddr, wad(4)))
	info, err := e.PoolInfo(p.ID)
	require.NoError(t, err)
	assert.Equal(t, wad(6), info.CirculatingSupply)

	// Withdrawing them releases them back into circulation.
	require.NoError(t, e.RemoveLiquidity(trader, p.ID, tokenAddr, wad(4)))
	info, err = e.PoolInfo(p.ID)
	require.NoError(t, err)
	assert.Equal(t, wad(10), info.CirculatingSupply)

	// A deposit exceeding circulating supply can never be recorded.
	err = e.AddLiquidity(trader, p.ID, tokenAddr, wad(11))
	assert.ErrorIs(t, err, curve.ErrInsufficientSupply)
}

// quietSettlement accepts every movement without recording; safe for
// concurrent use.
type quietSettlement struct{}

func (quietSettlement) TakeFrom(common.Address, common.Address, *big.Int) error { return nil }
func (quietSettlement) GiveTo(common.Address, common.Address, *big.Int) error   { return nil }

func TestConcurrentTradesConserveAccounting(t *testing.T) {
	e := newTestEngine(t, nil, quietSettlement{}, nil)

	params := launchParams()
	params.TotalSupply = wad(1_000_000)
	params.StrategyConfig.TotalSupply = wad(1_000_000)
	params.Transition = pool.PercentageTransition(9999)
	p, err := e.Launch(params)
	require.NoError(t, err)

	// Concurrent buys on one pool: most lose the guard and are rejected,
	// but every accepted trade must be quoted from committed state, so the
	// pool's accounting equals the sum of accepted amounts exactly.
	const workers = 8
	const tradesPerWorker = 25

	type total struct{ in, out *big.Int }
	totals := make([]total, workers)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		totals[w] = total{in: new(big.Int), out: new(big.Int)}
		wg.Add(1)
		go func(acc *total) {
			defer wg.Done()
			for i := 0; i < tradesPerWorker; i++ {
				res, err := e.Trade(TradeRequest{
					Caller:   trader,
					AssetIn:  reserveAddr,
					AssetOut: tokenAddr,
					Amount:   new(big.Int).Neg(wad(1)),
				})
				if err != nil {
					continue
				}
				acc.in.Add(acc.in, res.AmountIn)
				acc.out.Add(acc.out, res.AmountOut)
			}
		}(&totals[w])
	}
	wg.Wait()

	wantReserve := new(big.Int)
	wantCirculating := new(big.Int)
	for _, acc := range totals {
		wantReserve.Add(wantReserve, acc.in)
		wantCirculating.Add(wantCirculating, acc.out)
	}

	info, err := e.PoolInfo(p.ID)
	require.NoError(t, err)
	assert.Equal(t, wantReserve, info.ReserveCollected)
	assert.Equal(t, wantCirculating, info.CirculatingSupply)
}

func TestSnapshotsAdvanceSequence(t *testing.T) {
	settlement := &fakeSettlement{}
	e := newTestEngine(t, nil, settlement, nil)

	var snaps []Snapshot
	e.OnSnapshot(func(s Snapshot) { snaps = append(snaps, s) })

	p, err := e.Launch(launchParams())
	require.NoError(t, err)
	_, err = e.Trade(TradeRequest{
		Caller:   trader,
		AssetIn:  reserveAddr,
		AssetOut: tokenAddr,
		Amount:   new(big.Int).Neg(wad(2)),
	})
	require.NoError(t, err)

	require.Len(t, snaps, 2)
	assert.Equal(t, uint64(1), snaps[0].Sequence)
	assert.Equal(t, uint64(2), snaps[1].Sequence)
	require.Len(t, snaps[1].Pools, 1)
	assert.Equal(t, p.ID, snaps[1].Pools[0].ID)
	assert.Equal(t, wad(2), snaps[1].Pools[0].ReserveCollected)

	current := e.CurrentSnapshot()
	assert.Equal(t, uint64(2), current.Sequence)
}
