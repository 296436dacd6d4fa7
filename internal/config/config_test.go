package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, uint16(100), cfg.Curve.FeeRateBps)
	assert.Equal(t, uint64(1_073_000_000), cfg.Curve.VirtualBaseReserve)
	assert.Equal(t, 5*time.Minute, cfg.Monitor.PollInterval)
	assert.Equal(t, 69_000.0, cfg.Graduation.MarketCapUSD)
	assert.Equal(t, 20, cfg.Graduation.MinHolders)
	assert.Equal(t, uint16(8_500), cfg.Graduation.LiquidityFractionBps)
	assert.Equal(t, 5*time.Second, cfg.Venues.Timeout)
	assert.Equal(t, 150.0, cfg.Oracle.FallbackPrice)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
curve:
  fee_rate_bps: 250
graduation:
  min_holders: 50
venues:
  default: clmm
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint16(250), cfg.Curve.FeeRateBps)
	assert.Equal(t, 50, cfg.Graduation.MinHolders)
	assert.Equal(t, "clmm", cfg.Venues.Default)
	// Untouched keys keep their defaults.
	assert.Equal(t, 8_000.0, cfg.Graduation.LiquidityUSD)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("LAUNCHFUND_GRADUATION_MIN_HOLDERS", "42")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 42, cfg.Graduation.MinHolders)
}

func TestValidate_RejectsBadValues(t *testing.T) {
	cases := []struct {
		name  string
		tweak func(c *Config)
	}{
		{"fee over 100%", func(c *Config) { c.Curve.FeeRateBps = 10_001 }},
		{"zero virtual reserve", func(c *Config) { c.Curve.VirtualBaseReserve = 0 }},
		{"zero liquidity fraction", func(c *Config) { c.Graduation.LiquidityFractionBps = 0 }},
		{"missing rpc endpoint", func(c *Config) { c.Ledger.RPCEndpoint = "" }},
		{"zero poll interval", func(c *Config) { c.Monitor.PollInterval = 0 }},
		{"zero fallback price", func(c *Config) { c.Oracle.FallbackPrice = 0 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Load("")
			require.NoError(t, err)
			tc.tweak(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestThresholds_Conversion(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	th := cfg.Graduation.Thresholds()
	assert.Equal(t, "69000", th.MarketCapUSD.String())
	assert.Equal(t, "8000", th.LiquidityUSD.String())
	assert.Equal(t, 20, th.MinHolders)
	assert.Equal(t, "1000", th.MinVolume24hUSD.String())
}
