package pool

import (
	"bytes"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// Registry is a simple, non-thread-safe store of pool accounts. All mutation
// entry points enforce the accounting invariants; concurrency and caller
// authorization live in System.
type Registry struct {
	pools map[common.Hash]*Pool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{pools: make(map[common.Hash]*Pool)}
}

// NewRegistryFromView reconstructs a registry from a snapshot, deep-copying
// every pool so the registry owns its memory.
func NewRegistryFromView(view []Pool) *Registry {
	r := &Registry{pools: make(map[common.Hash]*Pool, len(view))}
	for _, p := range view {
		copied := deepCopyPool(p)
		r.pools[p.ID] = &copied
	}
	return r
}

func (r *Registry) get(id common.Hash) (*Pool, error) {
	p, ok := r.pools[id]
	if !ok {
		return nil, fmt.Errorf("%w: %x", ErrUnknownPool, id)
	}
	return p, nil
}

// insert stores a deep copy of p, rejecting duplicates.
func (r *Registry) insert(p Pool) error {
	if _, exists := r.pools[p.ID]; exists {
		return fmt.Errorf("%w: %x", ErrPoolExists, p.ID)
	}
	copied := deepCopyPool(p)
	r.pools[p.ID] = &copied
	return nil
}

// applyTrade atomically replaces the three mutable accounting fields. The
// caller supplies values consistent with actual asset movement; the registry
// only enforces the bound invariants.
func (r *Registry) applyTrade(id common.Hash, circulating, reserve, price *big.Int) (Pool, error) {
	p, err := r.get(id)
	if err != nil {
		return Pool{}, err
	}
	if p.Lifecycle == LifecycleTransitioned {
		return Pool{}, fmt.Errorf("%w: %x", ErrAlreadyTransitioned, id)
	}
	if circulating == nil || circulating.Sign() < 0 || circulating.Cmp(p.TotalSupply) > 0 {
		return Pool{}, fmt.Errorf("%w: %v of %v", ErrSupplyOutOfBounds, circulating, p.TotalSupply)
	}
	if reserve == nil || reserve.Sign() < 0 {
		return Pool{}, ErrNegativeReserve
	}
	if price == nil || price.Sign() <= 0 {
		return Pool{}, fmt.Errorf("%w: price must be positive", ErrSupplyOutOfBounds)
	}

	p.CirculatingSupply = new(big.Int).Set(circulating)
	p.ReserveCollected = new(big.Int).Set(reserve)
	p.LastPrice = new(big.Int).Set(price)
	return deepCopyPool(*p), nil
}

// markTransitioned flips the one-way lifecycle latch and freezes the price.
func (r *Registry) markTransitioned(id common.Hash, transitionPrice *big.Int) (Pool, error) {
	p, err := r.get(id)
	if err != nil {
		return Pool{}, err
	}
	if p.Lifecycle == LifecycleTransitioned {
		return Pool{}, fmt.Errorf("%w: %x", ErrAlreadyTransitioned, id)
	}
	if transitionPrice == nil || transitionPrice.Sign() <= 0 {
		return Pool{}, fmt.Errorf("%w: transition price must be positive", ErrInvalidTransition)
	}

	p.Lifecycle = LifecycleTransitioned
	p.TransitionPrice = new(big.Int).Set(transitionPrice)
	p.LastPrice = new(big.Int).Set(transitionPrice)
	return deepCopyPool(*p), nil
}

// view returns a deep-copied snapshot of every pool, ordered by ID for
// deterministic diffs.
func (r *Registry) view() []Pool {
	out := make([]Pool, 0, len(r.pools))
	for _, p := range r.pools {
		out = append(out, deepCopyPool(*p))
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].ID[:], out[j].ID[:]) < 0
	})
	return out
}
