// Package postgres persists engine snapshots. The serve command attaches a
// Store to the engine's snapshot feed so pools and liquidity entries survive
// restarts.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/curvelaunch/curvelaunch-engine-go/curve"
	"github.com/curvelaunch/curvelaunch-engine-go/differ"
	"github.com/curvelaunch/curvelaunch-engine-go/engine"
	"github.com/curvelaunch/curvelaunch-engine-go/ledger"
	"github.com/curvelaunch/curvelaunch-engine-go/pool"
)

// Store provides Postgres persistence for engine state.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	p, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: p}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS pools (
			pool_id TEXT PRIMARY KEY,
			token TEXT NOT NULL,
			reserve_asset TEXT NOT NULL,
			creator TEXT NOT NULL,
			strategy_id TEXT NOT NULL,
			strategy_config JSONB NOT NULL,
			total_supply NUMERIC NOT NULL,
			circulating_supply NUMERIC NOT NULL,
			reserve_collected NUMERIC NOT NULL,
			last_price NUMERIC NOT NULL,
			transition_kind SMALLINT NOT NULL,
			transition_threshold NUMERIC NOT NULL,
			lifecycle SMALLINT NOT NULL,
			transition_price NUMERIC NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE TABLE IF NOT EXISTS liquidity_entries (
			depositor TEXT NOT NULL,
			pool_id TEXT NOT NULL,
			asset TEXT NOT NULL,
			amount NUMERIC NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (depositor, pool_id, asset)
		);
		CREATE TABLE IF NOT EXISTS stream_state (
			name TEXT PRIMARY KEY,
			last_sequence BIGINT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
	`)
	return err
}

// UpsertPools inserts or updates pool rows.
func (s *Store) UpsertPools(ctx context.Context, pools []pool.Pool) error {
	if len(pools) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, p := range pools {
		cfg, err := json.Marshal(p.StrategyConfig)
		if err != nil {
			return err
		}
		batch.Queue(`
			INSERT INTO pools (
				pool_id, token, reserve_asset, creator, strategy_id, strategy_config,
				total_supply, circulating_supply, reserve_collected, last_price,
				transition_kind, transition_threshold, lifecycle, transition_price,
				created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,now(),now())
			ON CONFLICT (pool_id)
			DO UPDATE SET
				circulating_supply = EXCLUDED.circulating_supply,
				reserve_collected = EXCLUDED.reserve_collected,
				last_price = EXCLUDED.last_price,
				lifecycle = EXCLUDED.lifecycle,
				transition_price = EXCLUDED.transition_price,
				updated_at = now()
		`,
			p.ID.Hex(),
			p.Token.Hex(),
			p.ReserveAsset.Hex(),
			p.Creator.Hex(),
			string(p.StrategyID),
			cfg,
			p.TotalSupply.String(),
			p.CirculatingSupply.String(),
			p.ReserveCollected.String(),
			p.LastPrice.String(),
			int16(p.Transition.Kind),
			p.Transition.Threshold.String(),
			int16(p.Lifecycle),
			p.TransitionPrice.String(),
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range pools {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// DeletePools removes pool rows.
func (s *Store) DeletePools(ctx context.Context, ids []common.Hash) error {
	if len(ids) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, id := range ids {
		batch.Queue(`DELETE FROM pools WHERE pool_id=$1`, id.Hex())
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range ids {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// UpsertLiquidity inserts or updates liquidity entries.
func (s *Store) UpsertLiquidity(ctx context.Context, entries []ledger.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(`
			INSERT INTO liquidity_entries (depositor, pool_id, asset, amount, updated_at)
			VALUES ($1, $2, $3, $4, now())
			ON CONFLICT (depositor, pool_id, asset)
			DO UPDATE SET amount = EXCLUDED.amount, updated_at = now()
		`,
			e.Depositor.Hex(),
			e.Pool.Hex(),
			e.Asset.Hex(),
			e.Amount.String(),
		)
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range entries {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// DeleteLiquidity removes drained liquidity entries.
func (s *Store) DeleteLiquidity(ctx context.Context, ids []ledger.EntryID) error {
	if len(ids) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, id := range ids {
		batch.Queue(`DELETE FROM liquidity_entries WHERE depositor=$1 AND pool_id=$2 AND asset=$3`,
			id.Depositor.Hex(), id.Pool.Hex(), id.Asset.Hex())
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range ids {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// ApplyDiff persists one snapshot diff: changed rows are upserted, deleted
// rows removed, and the sequence cursor advanced, all in order.
func (s *Store) ApplyDiff(ctx context.Context, name string, diff *differ.SnapshotDiff) error {
	if err := s.UpsertPools(ctx, append(diff.Pools.Additions, diff.Pools.Updates...)); err != nil {
		return err
	}
	if err := s.DeletePools(ctx, diff.Pools.Deletions); err != nil {
		return err
	}
	if err := s.UpsertLiquidity(ctx, append(diff.Liquidity.Additions, diff.Liquidity.Updates...)); err != nil {
		return err
	}
	if err := s.DeleteLiquidity(ctx, diff.Liquidity.Deletions); err != nil {
		return err
	}
	return s.SaveSequence(ctx, name, diff.ToSequence)
}

// SaveSnapshot persists a full snapshot.
func (s *Store) SaveSnapshot(ctx context.Context, name string, snap engine.Snapshot) error {
	if err := s.UpsertPools(ctx, snap.Pools); err != nil {
		return err
	}
	if err := s.UpsertLiquidity(ctx, snap.Liquidity); err != nil {
		return err
	}
	return s.SaveSequence(ctx, name, snap.Sequence)
}

// LoadPools reads every persisted pool.
func (s *Store) LoadPools(ctx context.Context) ([]pool.Pool, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT pool_id, token, reserve_asset, creator, strategy_id, strategy_config,
			total_supply, circulating_supply, reserve_collected, last_price,
			transition_kind, transition_threshold, lifecycle, transition_price
		FROM pools ORDER BY pool_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []pool.Pool
	for rows.Next() {
		var (
			idHex, tokenHex, reserveHex, creatorHex, strategyID          string
			cfgRaw                                                      []byte
			totalStr, circStr, reserveStr, priceStr                     string
			transitionKind, lifecycle                                   int16
			thresholdStr, transitionPriceStr                            string
		)
		if err := rows.Scan(
			&idHex, &tokenHex, &reserveHex, &creatorHex, &strategyID, &cfgRaw,
			&totalStr, &circStr, &reserveStr, &priceStr,
			&transitionKind, &thresholdStr, &lifecycle, &transitionPriceStr,
		); err != nil {
			return nil, err
		}

		var cfg curve.Config
		if err := json.Unmarshal(cfgRaw, &cfg); err != nil {
			return nil, err
		}

		p := pool.Pool{
			ID:             common.HexToHash(idHex),
			Token:          common.HexToAddress(tokenHex),
			ReserveAsset:   common.HexToAddress(reserveHex),
			Creator:        common.HexToAddress(creatorHex),
			StrategyID:     curve.StrategyID(strategyID),
			StrategyConfig: cfg,
			Transition: pool.TransitionConfig{
				Kind: pool.TransitionKind(transitionKind),
			},
			Lifecycle: pool.Lifecycle(lifecycle),
		}
		if p.TotalSupply, err = bigIntFromNumeric(totalStr); err != nil {
			return nil, err
		}
		if p.CirculatingSupply, err = bigIntFromNumeric(circStr); err != nil {
			return nil, err
		}
		if p.ReserveCollected, err = bigIntFromNumeric(reserveStr); err != nil {
			return nil, err
		}
		if p.LastPrice, err = bigIntFromNumeric(priceStr); err != nil {
			return nil, err
		}
		if p.Transition.Threshold, err = bigIntFromNumeric(thresholdStr); err != nil {
			return nil, err
		}
		if p.TransitionPrice, err = bigIntFromNumeric(transitionPriceStr); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// LoadLiquidity reads every persisted liquidity entry.
func (s *Store) LoadLiquidity(ctx context.Context) ([]ledger.Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT depositor, pool_id, asset, amount
		FROM liquidity_entries ORDER BY pool_id, depositor, asset
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.Entry
	for rows.Next() {
		var depositorHex, poolHex, assetHex, amountStr string
		if err := rows.Scan(&depositorHex, &poolHex, &assetHex, &amountStr); err != nil {
			return nil, err
		}
		amount, err := bigIntFromNumeric(amountStr)
		if err != nil {
			return nil, err
		}
		out = append(out, ledger.Entry{
			Depositor: common.HexToAddress(depositorHex),
			Pool:      common.HexToHash(poolHex),
			Asset:     common.HexToAddress(assetHex),
			Amount:    amount,
		})
	}
	return out, rows.Err()
}

// LoadSequence returns the last persisted sequence for a name.
func (s *Store) LoadSequence(ctx context.Context, name string) (uint64, bool, error) {
	if name == "" {
		return 0, false, fmt.Errorf("state name required")
	}
	var seq uint64
	row := s.pool.QueryRow(ctx, `SELECT last_sequence FROM stream_state WHERE name=$1`, name)
	if err := row.Scan(&seq); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return seq, true, nil
}

// SaveSequence upserts the last persisted sequence for a name.
func (s *Store) SaveSequence(ctx context.Context, name string, seq uint64) error {
	if name == "" {
		return fmt.Errorf("state name required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO stream_state (name, last_sequence, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET last_sequence = EXCLUDED.last_sequence, updated_at = now()
	`, name, seq)
	return err
}

// bigIntFromNumeric parses a base-10 numeric column value.
func bigIntFromNumeric(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid numeric value %q", s)
	}
	return v, nil
}
