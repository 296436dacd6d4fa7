// internal/config/config.go
//
// Package config loads engine configuration from a YAML file and
// LAUNCHFUND_* environment variables, with sane defaults for everything
// that is not connection-specific.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/launchfund/engine/internal/domain"
)

// Config is the full engine configuration.
type Config struct {
	Ledger     LedgerConfig     `mapstructure:"ledger"`
	Curve      CurveConfig      `mapstructure:"curve"`
	Monitor    MonitorConfig    `mapstructure:"monitor"`
	Graduation GraduationConfig `mapstructure:"graduation"`
	Venues     VenuesConfig     `mapstructure:"venues"`
	Oracle     OracleConfig     `mapstructure:"oracle"`
	Log        LogConfig        `mapstructure:"log"`
}

// LedgerConfig configures the ledger RPC and websocket endpoints.
type LedgerConfig struct {
	RPCEndpoint       string  `mapstructure:"rpc_endpoint"`
	WSEndpoint        string  `mapstructure:"ws_endpoint"`
	PrivateKey        string  `mapstructure:"private_key"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
}

// CurveConfig sets bonding-curve defaults applied at market registration.
type CurveConfig struct {
	FeeRateBps          uint16 `mapstructure:"fee_rate_bps"`
	VirtualBaseReserve  uint64 `mapstructure:"virtual_base_reserve"`
	VirtualQuoteReserve uint64 `mapstructure:"virtual_quote_reserve"`
}

// MonitorConfig tunes transaction ingestion.
type MonitorConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// GraduationConfig sets the eligibility thresholds (USD) and the share of
// raised reserve migrated into the pool.
type GraduationConfig struct {
	MarketCapUSD         float64 `mapstructure:"market_cap_usd"`
	LiquidityUSD         float64 `mapstructure:"liquidity_usd"`
	MinHolders           int     `mapstructure:"min_holders"`
	MinVolume24hUSD      float64 `mapstructure:"min_volume_24h_usd"`
	LiquidityFractionBps uint16  `mapstructure:"liquidity_fraction_bps"`
}

// VenuesConfig tunes the quote aggregator.
type VenuesConfig struct {
	Default string        `mapstructure:"default"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// OracleConfig configures the quote-asset USD price feed.
type OracleConfig struct {
	URL           string        `mapstructure:"url"`
	TTL           time.Duration `mapstructure:"ttl"`
	FallbackPrice float64       `mapstructure:"fallback_price"`
}

// LogConfig configures structured logging output.
type LogConfig struct {
	Level   string `mapstructure:"level"`
	File    string `mapstructure:"file"`
	Console bool   `mapstructure:"console"`
}

// Load reads configuration from path (optional) and the environment.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("LAUNCHFUND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ledger.rpc_endpoint", "https://api.mainnet-beta.solana.com")
	v.SetDefault("ledger.ws_endpoint", "wss://api.mainnet-beta.solana.com")
	v.SetDefault("ledger.requests_per_second", 10.0)

	v.SetDefault("curve.fee_rate_bps", 100)
	v.SetDefault("curve.virtual_base_reserve", uint64(1_073_000_000))
	v.SetDefault("curve.virtual_quote_reserve", uint64(30))

	v.SetDefault("monitor.poll_interval", 5*time.Minute)

	v.SetDefault("graduation.market_cap_usd", 69_000.0)
	v.SetDefault("graduation.liquidity_usd", 8_000.0)
	v.SetDefault("graduation.min_holders", 20)
	v.SetDefault("graduation.min_volume_24h_usd", 1_000.0)
	v.SetDefault("graduation.liquidity_fraction_bps", 8_500)

	v.SetDefault("venues.default", "amm")
	v.SetDefault("venues.timeout", 5*time.Second)

	v.SetDefault("oracle.url", "https://api.coinbase.com/v2/prices/SOL-USD/spot")
	v.SetDefault("oracle.ttl", 5*time.Minute)
	v.SetDefault("oracle.fallback_price", 150.0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.console", true)
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Ledger.RPCEndpoint == "" {
		return fmt.Errorf("ledger.rpc_endpoint is required")
	}
	if c.Curve.FeeRateBps > 10_000 {
		return fmt.Errorf("curve.fee_rate_bps must be at most 10000, got %d", c.Curve.FeeRateBps)
	}
	if c.Curve.VirtualBaseReserve == 0 || c.Curve.VirtualQuoteReserve == 0 {
		return fmt.Errorf("curve virtual reserves must be positive")
	}
	if c.Graduation.LiquidityFractionBps == 0 || c.Graduation.LiquidityFractionBps > 10_000 {
		return fmt.Errorf("graduation.liquidity_fraction_bps must be in (0, 10000], got %d", c.Graduation.LiquidityFractionBps)
	}
	if c.Monitor.PollInterval <= 0 {
		return fmt.Errorf("monitor.poll_interval must be positive")
	}
	if c.Venues.Timeout <= 0 {
		return fmt.Errorf("venues.timeout must be positive")
	}
	if c.Oracle.FallbackPrice <= 0 {
		return fmt.Errorf("oracle.fallback_price must be positive")
	}
	return nil
}

// Thresholds converts the USD threshold settings into domain values.
func (g GraduationConfig) Thresholds() domain.GraduationThresholds {
	return domain.GraduationThresholds{
		MarketCapUSD:    decimal.NewFromFloat(g.MarketCapUSD),
		LiquidityUSD:    decimal.NewFromFloat(g.LiquidityUSD),
		MinHolders:      g.MinHolders,
		MinVolume24hUSD: decimal.NewFromFloat(g.MinVolume24hUSD),
	}
}
