package pool

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/curvelaunch/curvelaunch-engine-go/curve"
)

var (
	ErrUnknownPool          = errors.New("pool: unknown pool")
	ErrPoolExists           = errors.New("pool: pool already exists for token")
	ErrInvalidSupply        = errors.New("pool: invalid supply configuration")
	ErrInvalidTransition    = errors.New("pool: invalid transition config")
	ErrAlreadyTransitioned  = errors.New("pool: pool has transitioned")
	ErrNotTransitioned      = errors.New("pool: pool has not transitioned")
	ErrNotAuthorized        = errors.New("pool: caller not authorized")
	ErrSupplyOutOfBounds    = errors.New("pool: circulating supply out of bounds")
	ErrNegativeReserve      = errors.New("pool: reserve collected must not be negative")
)

// Lifecycle is the one-way pool lifecycle flag.
type Lifecycle uint8

const (
	LifecycleActive Lifecycle = iota
	LifecycleTransitioned
)

func (l Lifecycle) String() string {
	switch l {
	case LifecycleActive:
		return "active"
	case LifecycleTransitioned:
		return "transitioned"
	default:
		return fmt.Sprintf("lifecycle(%d)", uint8(l))
	}
}

// TransitionKind selects which condition releases a pool from curve pricing.
type TransitionKind uint8

const (
	// TransitionPercentage triggers once the sold fraction of total supply
	// reaches a basis-point threshold.
	TransitionPercentage TransitionKind = iota
	// TransitionPrice triggers once the last trade price reaches a
	// WAD-scaled price threshold.
	TransitionPrice
	// TransitionTime triggers at a unix-seconds timestamp.
	TransitionTime
)

func (k TransitionKind) String() string {
	switch k {
	case TransitionPercentage:
		return "percentage"
	case TransitionPrice:
		return "price"
	case TransitionTime:
		return "time"
	default:
		return fmt.Sprintf("transitionKind(%d)", uint8(k))
	}
}

// TransitionConfig pairs a condition kind with its threshold. The threshold
// unit depends on the kind: basis points, WAD price, or unix seconds.
type TransitionConfig struct {
	Kind      TransitionKind `json:"kind"`
	Threshold *big.Int       `json:"threshold"`
}

// PercentageTransition triggers at thresholdBps basis points of supply sold.
func PercentageTransition(thresholdBps int64) TransitionConfig {
	return TransitionConfig{Kind: TransitionPercentage, Threshold: big.NewInt(thresholdBps)}
}

// PriceTransition triggers at the given WAD price.
func PriceTransition(price *big.Int) TransitionConfig {
	return TransitionConfig{Kind: TransitionPrice, Threshold: new(big.Int).Set(price)}
}

// TimeTransition triggers at the given unix-seconds timestamp.
func TimeTransition(unixSeconds int64) TransitionConfig {
	return TransitionConfig{Kind: TransitionTime, Threshold: big.NewInt(unixSeconds)}
}

// Validate rejects thresholds that could never trigger or trigger instantly
// for the wrong reason.
func (c TransitionConfig) Validate() error {
	if c.Threshold == nil || c.Threshold.Sign() <= 0 {
		return fmt.Errorf("%w: threshold must be positive", ErrInvalidTransition)
	}
	switch c.Kind {
	case TransitionPercentage:
		if c.Threshold.Cmp(big.NewInt(10000)) > 0 {
			return fmt.Errorf("%w: percentage threshold above 10000 bps", ErrInvalidTransition)
		}
	case TransitionPrice, TransitionTime:
	default:
		return fmt.Errorf("%w: unknown kind %d", ErrInvalidTransition, c.Kind)
	}
	return nil
}

func (c TransitionConfig) clone() TransitionConfig {
	out := TransitionConfig{Kind: c.Kind}
	if c.Threshold != nil {
		out.Threshold = new(big.Int).Set(c.Threshold)
	}
	return out
}

// Pool is the authoritative economic state of one launched token.
// All amounts and prices are WAD-scaled.
type Pool struct {
	ID           common.Hash    `json:"id"`
	Token        common.Address `json:"token"`
	ReserveAsset common.Address `json:"reserveAsset"`
	Creator      common.Address `json:"creator"`

	StrategyID     curve.StrategyID `json:"strategyId"`
	StrategyConfig curve.Config     `json:"strategyConfig"`

	TotalSupply       *big.Int `json:"totalSupply"`
	CirculatingSupply *big.Int `json:"circulatingSupply"`
	ReserveCollected  *big.Int `json:"reserveCollected"`
	LastPrice         *big.Int `json:"lastPrice"`

	Transition      TransitionConfig `json:"transition"`
	Lifecycle       Lifecycle        `json:"lifecycle"`
	TransitionPrice *big.Int         `json:"transitionPrice"`
}

// DeriveID computes the deterministic pool identifier for a token traded
// against a reserve asset.
func DeriveID(token, reserveAsset common.Address) common.Hash {
	return crypto.Keccak256Hash(token.Bytes(), reserveAsset.Bytes())
}

// deepCopyPool creates a Pool with its own memory for every pointer field so
// snapshots never share *big.Int values with live state.
func deepCopyPool(p Pool) Pool {
	out := p
	out.StrategyConfig = p.StrategyConfig.Clone()
	out.TotalSupply = cloneInt(p.TotalSupply)
	out.CirculatingSupply = cloneInt(p.CirculatingSupply)
	out.ReserveCollected = cloneInt(p.ReserveCollected)
	out.LastPrice = cloneInt(p.LastPrice)
	out.Transition = p.Transition.clone()
	out.TransitionPrice = cloneInt(p.TransitionPrice)
	return out
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
