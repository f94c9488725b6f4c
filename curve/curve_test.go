package curve

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		InitialPrice: big.NewInt(4e17),
		Steepness:    big.NewInt(2.5e13),
		TotalSupply:  new(big.Int).Mul(big.NewInt(100), big.NewInt(1e18)),
	}
}

func TestConfigValidate(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{name: "valid", mutate: func(c *Config) {}, ok: true},
		{name: "nil initial price", mutate: func(c *Config) { c.InitialPrice = nil }},
		{name: "zero initial price", mutate: func(c *Config) { c.InitialPrice = new(big.Int) }},
		{name: "zero steepness", mutate: func(c *Config) { c.Steepness = new(big.Int) }},
		{name: "zero total supply", mutate: func(c *Config) { c.TotalSupply = new(big.Int) }},
		{name: "negative midpoint", mutate: func(c *Config) { c.Midpoint = big.NewInt(-1) }},
		{name: "negative max price factor", mutate: func(c *Config) { c.MaxPriceFactor = big.NewInt(-1) }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			}
		})
	}
}

func TestConfigCloneIsDeep(t *testing.T) {
	cfg := validConfig()
	clone := cfg.Clone()

	clone.InitialPrice.SetInt64(1)
	clone.TotalSupply.SetInt64(1)

	assert.Equal(t, big.NewInt(4e17), cfg.InitialPrice)
	assert.NotEqual(t, cfg.TotalSupply, clone.TotalSupply)
}

type stubStrategy struct{}

func (stubStrategy) Price(Config, *big.Int) (*big.Int, error)                 { return big.NewInt(1), nil }
func (stubStrategy) QuoteBuy(Config, *big.Int, *big.Int) (Quote, error)       { return Quote{}, nil }
func (stubStrategy) QuoteSell(Config, *big.Int, *big.Int) (Quote, error)      { return Quote{}, nil }
func (stubStrategy) QuoteExactTokensOut(Config, *big.Int, *big.Int) (Quote, error) {
	return Quote{}, nil
}
func (stubStrategy) QuoteExactReserveOut(Config, *big.Int, *big.Int) (Quote, error) {
	return Quote{}, nil
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry(map[StrategyID]Strategy{
		"test/stub@v1": stubStrategy{},
	})

	s, err := reg.Get("test/stub@v1")
	require.NoError(t, err)
	assert.NotNil(t, s)

	_, err = reg.Get("missing")
	assert.ErrorIs(t, err, ErrUnknownStrategy)

	assert.ElementsMatch(t, []StrategyID{"test/stub@v1"}, reg.IDs())

	assert.Panics(t, func() {
		NewRegistry(map[StrategyID]Strategy{"nil": nil})
	})
}
