// Package ledger tracks pre-transition liquidity contributions. Entries are
// keyed by (depositor, pool, asset) and move independently of the pool's
// swap accounting; the swap engine is responsible for settlement and for the
// pool-side bookkeeping a withdrawal implies.
package ledger

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInvalidAmount       = errors.New("ledger: amount must be positive")
	ErrInsufficientBalance = errors.New("ledger: withdrawal exceeds deposited balance")
)

// Entry is one depositor's balance of one asset in one pool.
type Entry struct {
	Depositor common.Address `json:"depositor"`
	Pool      common.Hash    `json:"pool"`
	Asset     common.Address `json:"asset"`
	Amount    *big.Int       `json:"amount"`
}

type entryKey struct {
	depositor common.Address
	pool      common.Hash
	asset     common.Address
}

// Ledger is a concurrency-safe store of liquidity entries.
type Ledger struct {
	mu      sync.RWMutex
	entries map[entryKey]*big.Int
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{entries: make(map[entryKey]*big.Int)}
}

// NewLedgerFromView restores a ledger from a snapshot. Entries with
// non-positive amounts are dropped.
func NewLedgerFromView(view []Entry) *Ledger {
	l := NewLedger()
	for _, e := range view {
		if e.Amount == nil || e.Amount.Sign() <= 0 {
			continue
		}
		k := entryKey{depositor: e.Depositor, pool: e.Pool, asset: e.Asset}
		l.entries[k] = new(big.Int).Set(e.Amount)
	}
	return l
}

// Credit records a deposit and returns the new balance.
func (l *Ledger) Credit(depositor common.Address, pool common.Hash, asset common.Address, amount *big.Int) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	k := entryKey{depositor: depositor, pool: pool, asset: asset}

	l.mu.Lock()
	defer l.mu.Unlock()
	balance, ok := l.entries[k]
	if !ok {
		balance = new(big.Int)
		l.entries[k] = balance
	}
	balance.Add(balance, amount)
	return new(big.Int).Set(balance), nil
}

// Debit records a withdrawal and returns the new balance. A fully drained
// entry is removed.
func (l *Ledger) Debit(depositor common.Address, pool common.Hash, asset common.Address, amount *big.Int) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	k := entryKey{depositor: depositor, pool: pool, asset: asset}

	l.mu.Lock()
	defer l.mu.Unlock()
	balance, ok := l.entries[k]
	if !ok || balance.Cmp(amount) < 0 {
		have := new(big.Int)
		if ok {
			have.Set(balance)
		}
		return nil, fmt.Errorf("%w: have %v, want %v", ErrInsufficientBalance, have, amount)
	}
	balance.Sub(balance, amount)
	if balance.Sign() == 0 {
		delete(l.entries, k)
		return new(big.Int), nil
	}
	return new(big.Int).Set(balance), nil
}

// Balance returns the current entry amount, zero if none exists.
func (l *Ledger) Balance(depositor common.Address, pool common.Hash, asset common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	k := entryKey{depositor: depositor, pool: pool, asset: asset}
	if balance, ok := l.entries[k]; ok {
		return new(big.Int).Set(balance)
	}
	return new(big.Int)
}

// View returns a deep-copied snapshot of every entry in deterministic order.
func (l *Ledger) View() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Entry, 0, len(l.entries))
	for k, balance := range l.entries {
		out = append(out, Entry{
			Depositor: k.depositor,
			Pool:      k.pool,
			Asset:     k.asset,
			Amount:    new(big.Int).Set(balance),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return lessEntry(out[i], out[j])
	})
	return out
}

func lessEntry(a, b Entry) bool {
	if c := bytes.Compare(a.Pool[:], b.Pool[:]); c != 0 {
		return c < 0
	}
	if c := bytes.Compare(a.Depositor[:], b.Depositor[:]); c != 0 {
		return c < 0
	}
	return bytes.Compare(a.Asset[:], b.Asset[:]) < 0
}
