package pool

import (
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"

	"github.com/curvelaunch/curvelaunch-engine-go/curve"
)

// InitParams carries everything needed to launch a pool.
type InitParams struct {
	Token          common.Address
	ReserveAsset   common.Address
	Creator        common.Address
	TotalSupply    *big.Int
	Premine        *big.Int
	StrategyID     curve.StrategyID
	StrategyConfig curve.Config
	Transition     TransitionConfig
}

// ChangeListener observes committed pool state changes. Listeners run after
// the mutation's lock is released and receive an independent deep copy.
type ChangeListener func(Pool)

// System is the concurrency-safe pool authority. Writes go through a mutex
// and an allow-list of caller identities; reads are served lock-free from an
// atomically cached view (the registry itself stays single-threaded).
type System struct {
	mu         sync.RWMutex
	registry   *Registry
	owner      common.Address
	authorized map[common.Address]struct{}

	cachedView atomic.Pointer[[]Pool]

	listenerMu sync.RWMutex
	listeners  []ChangeListener
}

// NewSystem creates a pool authority owned by the given identity. The owner
// is always authorized; further updaters (the swap engine) are added with
// Authorize.
func NewSystem(owner common.Address) *System {
	s := &System{
		registry:   NewRegistry(),
		owner:      owner,
		authorized: make(map[common.Address]struct{}),
	}
	s.storeView()
	return s
}

// NewSystemFromView restores a pool authority from a snapshot.
func NewSystemFromView(owner common.Address, view []Pool) *System {
	s := &System{
		registry:   NewRegistryFromView(view),
		owner:      owner,
		authorized: make(map[common.Address]struct{}),
	}
	s.storeView()
	return s
}

// storeView must be called with the write lock held (or before the system is
// shared).
func (s *System) storeView() {
	view := s.registry.view()
	s.cachedView.Store(&view)
}

func (s *System) checkAuthorized(caller common.Address) error {
	if caller == s.owner {
		return nil
	}
	if _, ok := s.authorized[caller]; ok {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrNotAuthorized, caller.Hex())
}

// Authorize adds an identity to the updater allow-list. Owner only.
func (s *System) Authorize(caller, updater common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if caller != s.owner {
		return fmt.Errorf("%w: %s", ErrNotAuthorized, caller.Hex())
	}
	s.authorized[updater] = struct{}{}
	return nil
}

// Revoke removes an identity from the updater allow-list. Owner only.
func (s *System) Revoke(caller, updater common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if caller != s.owner {
		return fmt.Errorf("%w: %s", ErrNotAuthorized, caller.Hex())
	}
	delete(s.authorized, updater)
	return nil
}

// OnChange registers a listener for committed state changes.
func (s *System) OnChange(fn ChangeListener) {
	if fn == nil {
		return
	}
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *System) notify(p Pool) {
	s.listenerMu.RLock()
	listeners := make([]ChangeListener, len(s.listeners))
	copy(listeners, s.listeners)
	s.listenerMu.RUnlock()
	for _, fn := range listeners {
		fn(deepCopyPool(p))
	}
}

// Initialize launches a new pool. Supply starts at the premine, reserve at
// zero, lifecycle active; the initial curve price seeds lastPrice.
func (s *System) Initialize(caller common.Address, params InitParams) (Pool, error) {
	if params.TotalSupply == nil || params.TotalSupply.Sign() <= 0 {
		return Pool{}, fmt.Errorf("%w: total supply must be positive", ErrInvalidSupply)
	}
	premine := params.Premine
	if premine == nil {
		premine = new(big.Int)
	}
	if premine.Sign() < 0 || premine.Cmp(params.TotalSupply) > 0 {
		return Pool{}, fmt.Errorf("%w: premine exceeds total supply", ErrInvalidSupply)
	}
	if err := params.StrategyConfig.Validate(); err != nil {
		return Pool{}, err
	}
	if err := params.Transition.Validate(); err != nil {
		return Pool{}, err
	}

	p := Pool{
		ID:                DeriveID(params.Token, params.ReserveAsset),
		Token:             params.Token,
		ReserveAsset:      params.ReserveAsset,
		Creator:           params.Creator,
		StrategyID:        params.StrategyID,
		StrategyConfig:    params.StrategyConfig.Clone(),
		TotalSupply:       new(big.Int).Set(params.TotalSupply),
		CirculatingSupply: new(big.Int).Set(premine),
		ReserveCollected:  new(big.Int),
		LastPrice:         new(big.Int).Set(params.StrategyConfig.InitialPrice),
		Transition:        params.Transition.clone(),
		Lifecycle:         LifecycleActive,
		TransitionPrice:   new(big.Int),
	}

	s.mu.Lock()
	if err := s.checkAuthorized(caller); err != nil {
		s.mu.Unlock()
		return Pool{}, err
	}
	if err := s.registry.insert(p); err != nil {
		s.mu.Unlock()
		return Pool{}, err
	}
	s.storeView()
	s.mu.Unlock()

	s.notify(p)
	return deepCopyPool(p), nil
}

// ApplyTrade atomically replaces the three mutable accounting fields of a
// pool. The caller is responsible for supplying values consistent with the
// asset movement it settled.
func (s *System) ApplyTrade(caller common.Address, id common.Hash, circulating, reserve, price *big.Int) (Pool, error) {
	s.mu.Lock()
	if err := s.checkAuthorized(caller); err != nil {
		s.mu.Unlock()
		return Pool{}, err
	}
	updated, err := s.registry.applyTrade(id, circulating, reserve, price)
	if err != nil {
		s.mu.Unlock()
		return Pool{}, err
	}
	s.storeView()
	s.mu.Unlock()

	s.notify(updated)
	return updated, nil
}

// MarkTransitioned flips the one-way lifecycle latch, freezing the price.
func (s *System) MarkTransitioned(caller common.Address, id common.Hash, transitionPrice *big.Int) (Pool, error) {
	s.mu.Lock()
	if err := s.checkAuthorized(caller); err != nil {
		s.mu.Unlock()
		return Pool{}, err
	}
	updated, err := s.registry.markTransitioned(id, transitionPrice)
	if err != nil {
		s.mu.Unlock()
		return Pool{}, err
	}
	s.storeView()
	s.mu.Unlock()

	s.notify(updated)
	return updated, nil
}

// Get returns a deep copy of one pool.
func (s *System) Get(id common.Hash) (Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, err := s.registry.get(id)
	if err != nil {
		return Pool{}, err
	}
	return deepCopyPool(*p), nil
}

// GetByToken returns the pool launched for a token, if any.
func (s *System) GetByToken(token, reserveAsset common.Address) (Pool, error) {
	return s.Get(DeriveID(token, reserveAsset))
}

// View returns the cached snapshot of every pool, ordered by ID.
// The returned slice MUST NOT be modified.
func (s *System) View() []Pool {
	return *s.cachedView.Load()
}
