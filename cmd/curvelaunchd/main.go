package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/curvelaunch/curvelaunch-engine-go/cmd/curvelaunchd/config"
	"github.com/curvelaunch/curvelaunch-engine-go/curve"
	"github.com/curvelaunch/curvelaunch-engine-go/curve/exponential"
	"github.com/curvelaunch/curvelaunch-engine-go/curve/sigmoid"
	"github.com/curvelaunch/curvelaunch-engine-go/differ"
	"github.com/curvelaunch/curvelaunch-engine-go/engine"
	"github.com/curvelaunch/curvelaunch-engine-go/ledger"
	"github.com/curvelaunch/curvelaunch-engine-go/pool"
	"github.com/curvelaunch/curvelaunch-engine-go/storage/postgres"
	"github.com/curvelaunch/curvelaunch-engine-go/streams/jsonrpc/server"
)

const stateName = "engine"

func main() {
	root := &cobra.Command{
		Use:          "curvelaunchd",
		Short:        "Bonding-curve token launch engine",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the engine and snapshot stream server",
		RunE:  runServe,
	}

	serveCmd.Flags().String("listen", ":8546", "websocket listen address for the snapshot stream")
	serveCmd.Flags().String("metrics", ":9090", "prometheus metrics listen address")
	serveCmd.Flags().String("pg-dsn", "", "Postgres DSN for snapshot persistence (empty disables)")
	serveCmd.Flags().String("identity", "", "engine identity address (hex)")
	serveCmd.Flags().Uint("buffer-size", 64, "per-subscriber event buffer")
	serveCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(serveCmd)

	simulateCmd := &cobra.Command{
		Use:   "simulate",
		Short: "Launch a pool and run random trades against a local engine",
		RunE:  runSimulate,
	}

	simulateCmd.Flags().String("strategy", "exponential", "pricing strategy (exponential, sigmoid)")
	simulateCmd.Flags().Int("trades", 50, "number of random trades")
	simulateCmd.Flags().Int64("seed", 1, "random seed")
	simulateCmd.Flags().String("log-level", "warn", "log level (debug, info, warn, error)")

	root.AddCommand(simulateCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	identity := common.HexToAddress(cfg.Identity)
	registry := prometheus.NewRegistry()
	strategies := curve.NewRegistry(map[curve.StrategyID]curve.Strategy{
		exponential.ID: exponential.New(),
		sigmoid.ID:     sigmoid.New(),
	})

	var (
		store *postgres.Store
		pools *pool.System
		led   *ledger.Ledger
	)
	if cfg.PgDSN != "" {
		store, err = postgres.NewStore(ctx, cfg.PgDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer store.Close()
		if err := store.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate schema: %w", err)
		}

		loadedPools, err := store.LoadPools(ctx)
		if err != nil {
			return fmt.Errorf("load pools: %w", err)
		}
		loadedEntries, err := store.LoadLiquidity(ctx)
		if err != nil {
			return fmt.Errorf("load liquidity: %w", err)
		}
		seq, found, err := store.LoadSequence(ctx, stateName)
		if err != nil {
			return fmt.Errorf("load sequence: %w", err)
		}

		pools = pool.NewSystemFromView(identity, loadedPools)
		led = ledger.NewLedgerFromView(loadedEntries)
		logger.Info("warm start from postgres",
			"pools", len(loadedPools),
			"entries", len(loadedEntries),
			"sequence", seq,
			"sequence_found", found,
		)
	} else {
		pools = pool.NewSystem(identity)
		led = ledger.NewLedger()
	}

	e, err := engine.NewEngine(&engine.Config{
		Identity:   identity,
		Pools:      pools,
		Strategies: strategies,
		Ledger:     led,
		Settlement: &custodyBridge{logger: logger.With("component", "custody")},
		Logger:     logger.With("component", "engine"),
		Registry:   registry,
	})
	if err != nil {
		return err
	}

	if store != nil {
		attachPersistence(ctx, e, store, registry, logger)
	}

	streamDiffer, err := differ.NewStateDiffer(&differ.StateDifferConfig{
		Registry: registry,
		Logger:   logger.With("component", "differ"),
	})
	if err != nil {
		return err
	}

	api, err := server.NewStreamAPI(&server.Config{
		Engine:     e,
		Differ:     streamDiffer,
		Logger:     logger.With("component", "stream-server"),
		BufferSize: cfg.BufferSize,
	})
	if err != nil {
		return err
	}

	rpcServer, err := server.NewRPCServer(api)
	if err != nil {
		return err
	}

	streamServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: rpcServer.WebsocketHandler([]string{"*"}),
	}
	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	}

	go func() {
		logger.Info("snapshot stream listening", "addr", cfg.ListenAddr)
		if err := streamServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("stream server failed", "err", err)
			stop()
		}
	}()
	go func() {
		logger.Info("metrics listening", "addr", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	rpcServer.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = streamServer.Shutdown(shutdownCtx)
	_ = metricsServer.Shutdown(shutdownCtx)
	return nil
}

// attachPersistence subscribes a diff-applying writer to the engine's
// snapshot feed. Write failures are logged; the in-memory engine remains
// authoritative.
func attachPersistence(ctx context.Context, e *engine.Engine, store *postgres.Store, registry prometheus.Registerer, logger *slog.Logger) {
	storeDiffer, err := differ.NewStateDiffer(&differ.StateDifferConfig{
		Registry: prometheus.WrapRegistererWithPrefix("storage_", registry),
		Logger:   logger.With("component", "storage-differ"),
	})
	if err != nil {
		logger.Error("could not build storage differ, persistence disabled", "err", err)
		return
	}

	// Snapshots for concurrent trades on different pools arrive concurrently;
	// writes are serialized so diffs apply in sequence order.
	var mu sync.Mutex
	prev := e.CurrentSnapshot()
	e.OnSnapshot(func(snap engine.Snapshot) {
		mu.Lock()
		defer mu.Unlock()

		writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		diff, err := storeDiffer.Diff(&prev, &snap)
		if err == nil {
			err = store.ApplyDiff(writeCtx, stateName, diff)
		}
		if err != nil {
			logger.Warn("diff write failed, falling back to full snapshot", "sequence", snap.Sequence, "err", err)
			err = store.SaveSnapshot(writeCtx, stateName, snap)
		}
		if err != nil {
			logger.Error("snapshot persistence failed", "sequence", snap.Sequence, "err", err)
			return
		}
		prev = snap
	})
}

// custodyBridge stands in for external token custody: the engine's
// accounting is authoritative, actual asset movement happens off-process.
type custodyBridge struct {
	logger *slog.Logger
}

func (c *custodyBridge) TakeFrom(payer common.Address, asset common.Address, amount *big.Int) error {
	c.logger.Debug("take", "payer", payer.Hex(), "asset", asset.Hex(), "amount", amount.String())
	return nil
}

func (c *custodyBridge) GiveTo(payee common.Address, asset common.Address, amount *big.Int) error {
	c.logger.Debug("give", "payee", payee.Hex(), "asset", asset.Hex(), "amount", amount.String())
	return nil
}

func runSimulate(cmd *cobra.Command, _ []string) error {
	strategyName, _ := cmd.Flags().GetString("strategy")
	trades, _ := cmd.Flags().GetInt("trades")
	seed, _ := cmd.Flags().GetInt64("seed")
	logLevel, _ := cmd.Flags().GetString("log-level")

	logger, err := newLogger(logLevel)
	if err != nil {
		return err
	}

	var strategyID curve.StrategyID
	switch strategyName {
	case "exponential":
		strategyID = exponential.ID
	case "sigmoid":
		strategyID = sigmoid.ID
	default:
		return fmt.Errorf("unknown strategy %q", strategyName)
	}

	identity := common.HexToAddress("0x00000000000000000000000000000000000000e1")
	trader := common.HexToAddress("0x00000000000000000000000000000000000000f1")
	token := common.HexToAddress("0x0000000000000000000000000000000000001001")
	reserve := common.HexToAddress("0x0000000000000000000000000000000000002002")

	strategies := curve.NewRegistry(map[curve.StrategyID]curve.Strategy{
		exponential.ID: exponential.New(),
		sigmoid.ID:     sigmoid.New(),
	})
	e, err := engine.NewEngine(&engine.Config{
		Identity:   identity,
		Pools:      pool.NewSystem(identity),
		Strategies: strategies,
		Settlement: &custodyBridge{logger: logger},
		Logger:     logger,
		Registry:   prometheus.NewRegistry(),
	})
	if err != nil {
		return err
	}

	wad := func(n int64) *big.Int { return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18)) }
	supply := wad(1_000_000)
	p, err := e.Launch(pool.InitParams{
		Token:        token,
		ReserveAsset: reserve,
		Creator:      trader,
		TotalSupply:  supply,
		StrategyID:   strategyID,
		StrategyConfig: curve.Config{
			InitialPrice: big.NewInt(4e17),
			Steepness:    big.NewInt(25e12),
			TotalSupply:  supply,
		},
		Transition: pool.PercentageTransition(8000),
	})
	if err != nil {
		return err
	}
	fmt.Printf("launched pool %s with strategy %s\n", p.ID.Hex(), strategyID)

	rng := rand.New(rand.NewSource(seed))
	var buys, sells, failures int
	for i := 0; i < trades; i++ {
		req := engine.TradeRequest{Caller: trader}
		if rng.Intn(3) < 2 {
			// Exact-input buy with a random reserve amount.
			req.AssetIn, req.AssetOut = reserve, token
			req.Amount = new(big.Int).Neg(wad(int64(1 + rng.Intn(100))))
		} else {
			req.AssetIn, req.AssetOut = token, reserve
			req.Amount = new(big.Int).Neg(wad(int64(1 + rng.Intn(20))))
		}

		res, err := e.Trade(req)
		if err != nil {
			failures++
			logger.Warn("trade rejected", "step", i, "err", err)
			continue
		}
		if req.AssetOut == token {
			buys++
		} else {
			sells++
		}
		logger.Info("trade", "step", i,
			"in", res.AmountIn.String(), "out", res.AmountOut.String(), "price", res.NewPrice.String())
	}

	final, err := e.PoolInfo(p.ID)
	if err != nil {
		return err
	}
	fmt.Printf("done: %d buys, %d sells, %d rejected\n", buys, sells, failures)
	fmt.Printf("circulating %s / %s, reserve collected %s, price %s, lifecycle %s\n",
		final.CirculatingSupply, final.TotalSupply, final.ReserveCollected, final.LastPrice, final.Lifecycle)
	return nil
}

func newLogger(level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(handler), nil
}
