// internal/graduation/evaluator.go
//
// Package graduation decides when a bonding-curve market has outgrown the
// curve and moves it onto an external liquidity venue.
package graduation

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/launchfund/engine/internal/domain"
	"github.com/launchfund/engine/internal/storage"
)

// PriceProvider yields the quote asset's USD price. It never fails; the
// oracle layer owns staleness and fallback.
type PriceProvider interface {
	Price(ctx context.Context) decimal.Decimal
}

// StatsProvider yields activity aggregates for a market.
type StatsProvider interface {
	Stats(marketID string) (*domain.CampaignStats, error)
}

// Report is one eligibility evaluation: the measured values next to the
// market's thresholds, and whether this evaluation promoted the market.
type Report struct {
	MarketID     string
	State        domain.MarketState
	MarketCapUSD decimal.Decimal
	LiquidityUSD decimal.Decimal
	Holders      int
	Volume24hUSD decimal.Decimal
	Ready        bool
	Promoted     bool
}

// Evaluator measures markets against their graduation thresholds and
// promotes Trading markets to Eligible. Promotion happens exactly once;
// re-evaluating an already-eligible market is a no-op.
type Evaluator struct {
	markets *storage.MarketStore
	stats   StatsProvider
	oracle  PriceProvider
	logger  *zap.Logger
	now     func() time.Time
}

// NewEvaluator wires an evaluator over the market store, activity stats and
// the USD oracle.
func NewEvaluator(markets *storage.MarketStore, stats StatsProvider, oracle PriceProvider, logger *zap.Logger) *Evaluator {
	return &Evaluator{
		markets: markets,
		stats:   stats,
		oracle:  oracle,
		logger:  logger.Named("evaluator"),
		now:     time.Now,
	}
}

// Evaluate measures the market and promotes it to Eligible when every
// threshold holds simultaneously.
func (e *Evaluator) Evaluate(ctx context.Context, marketID string) (*Report, error) {
	market, err := e.markets.Get(ctx, marketID)
	if err != nil {
		return nil, err
	}

	report, err := e.measure(ctx, market)
	if err != nil {
		return nil, err
	}

	if report.Ready && market.State == domain.StateTrading {
		if err := market.TransitionTo(domain.StateEligible); err != nil {
			return nil, err
		}
		if err := e.markets.Put(ctx, market); err != nil {
			return nil, err
		}
		report.State = market.State
		report.Promoted = true
		e.logger.Info("Market promoted to eligible",
			zap.String("market", marketID),
			zap.String("market_cap_usd", report.MarketCapUSD.StringFixed(2)),
			zap.String("liquidity_usd", report.LiquidityUSD.StringFixed(2)),
			zap.Int("holders", report.Holders))
	}
	return report, nil
}

// Ready reports eligibility without promoting.
func (e *Evaluator) Ready(ctx context.Context, marketID string) (bool, error) {
	market, err := e.markets.Get(ctx, marketID)
	if err != nil {
		return false, err
	}
	if market.State != domain.StateTrading {
		// Eligible and beyond already cleared the gates.
		return true, nil
	}
	report, err := e.measure(ctx, market)
	if err != nil {
		return false, err
	}
	return report.Ready, nil
}

func (e *Evaluator) measure(ctx context.Context, market *domain.Market) (*Report, error) {
	usd := e.oracle.Price(ctx)

	stats, err := e.stats.Stats(market.ID)
	if err != nil {
		return nil, err
	}

	spot := decimal.NewFromFloat(market.SpotPrice())
	report := &Report{
		MarketID:     market.ID,
		State:        market.State,
		MarketCapUSD: spot.Mul(decimal.NewFromUint64(market.TotalSupply)).Mul(usd),
		LiquidityUSD: decimal.NewFromUint64(market.RealQuoteReserve).Mul(usd),
		Holders:      stats.UniqueHolders,
		Volume24hUSD: decimal.NewFromUint64(stats.Volume24h(e.now())).Mul(usd),
	}

	th := market.Thresholds
	report.Ready = report.MarketCapUSD.GreaterThanOrEqual(th.MarketCapUSD) &&
		report.LiquidityUSD.GreaterThanOrEqual(th.LiquidityUSD) &&
		report.Holders >= th.MinHolders &&
		report.Volume24hUSD.GreaterThanOrEqual(th.MinVolume24hUSD)
	return report, nil
}
