// internal/engine/engine.go
//
// Package engine is the composition root for the market engine. One Engine
// is constructed at startup and injected everywhere; there are no package
// singletons. The engine owns per-market serialization for curve trades and
// ties the monitor's ingestion lifecycle to the process.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/launchfund/engine/internal/config"
	"github.com/launchfund/engine/internal/curve"
	"github.com/launchfund/engine/internal/domain"
	"github.com/launchfund/engine/internal/graduation"
	"github.com/launchfund/engine/internal/ledger"
	"github.com/launchfund/engine/internal/monitor"
	"github.com/launchfund/engine/internal/storage"
	"github.com/launchfund/engine/internal/venue"
)

// RegisterMarketParams is the campaign metadata supplied at launch.
// TargetAmount is the creator's fundraising goal in raw quote units; it is
// informational and does not gate graduation.
type RegisterMarketParams struct {
	Name         string
	TokenSymbol  string
	Description  string
	Creator      string
	TargetAmount uint64
	Address      solana.PublicKey
	BaseMint     solana.PublicKey
	QuoteMint    solana.PublicKey
	TotalSupply  uint64
}

// TradeResult is a completed curve trade: the applied quote plus its
// recorded transaction event.
type TradeResult struct {
	Market *domain.Market
	Event  domain.TransactionEvent
}

// Engine wires the curve, monitor, graduation and venue subsystems behind
// one injected facade.
type Engine struct {
	cfg         *config.Config
	markets     *storage.MarketStore
	graduations *storage.GraduationStore
	monitor     *monitor.Monitor
	evaluator   *graduation.Evaluator
	executor    *graduation.Executor
	venues      *venue.Aggregator
	ledger      ledger.Client
	logger      *zap.Logger
	now         func() time.Time

	mu      sync.Mutex
	locks   map[string]*sync.Mutex // per-market trade serialization
	watched map[string]struct{}    // markets with an evaluation subscription
}

// New assembles an engine from its already-constructed parts.
func New(
	cfg *config.Config,
	markets *storage.MarketStore,
	graduations *storage.GraduationStore,
	mon *monitor.Monitor,
	evaluator *graduation.Evaluator,
	executor *graduation.Executor,
	venues *venue.Aggregator,
	lc ledger.Client,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		cfg:         cfg,
		markets:     markets,
		graduations: graduations,
		monitor:     mon,
		evaluator:   evaluator,
		executor:    executor,
		venues:      venues,
		ledger:      lc,
		logger:      logger.Named("engine"),
		now:         time.Now,
		locks:       make(map[string]*sync.Mutex),
		watched:     make(map[string]struct{}),
	}
}

// Start begins monitor ingestion and re-tracks every stored market.
func (e *Engine) Start(ctx context.Context) error {
	markets, err := e.markets.List(ctx)
	if err != nil {
		return fmt.Errorf("load markets: %w", err)
	}
	for _, m := range markets {
		e.watchMarket(m.ID)
		if err := e.monitor.Track(ctx, m.ID, m.Address); err != nil {
			return fmt.Errorf("track market %s: %w", m.ID, err)
		}
	}
	e.monitor.Start(ctx)
	e.logger.Info("Engine started", zap.Int("markets", len(markets)))
	return nil
}

// Shutdown stops ingestion and drains in-flight work.
func (e *Engine) Shutdown() {
	e.monitor.Shutdown()
	e.logger.Info("Engine stopped")
}

// RegisterMarket launches a new bonding-curve market with the configured
// curve defaults and begins tracking its ledger activity.
func (e *Engine) RegisterMarket(ctx context.Context, params RegisterMarketParams) (*domain.Market, error) {
	if params.Name == "" || params.TokenSymbol == "" || params.TotalSupply == 0 {
		return nil, fmt.Errorf("%w: name, symbol and total supply are required", domain.ErrInvalidAmount)
	}

	market := &domain.Market{
		ID:                  uuid.NewString(),
		Name:                params.Name,
		TokenSymbol:         params.TokenSymbol,
		Description:         params.Description,
		Creator:             params.Creator,
		TargetAmount:        params.TargetAmount,
		Address:             params.Address,
		BaseMint:            params.BaseMint,
		QuoteMint:           params.QuoteMint,
		VirtualBaseReserve:  e.cfg.Curve.VirtualBaseReserve,
		VirtualQuoteReserve: e.cfg.Curve.VirtualQuoteReserve,
		TotalSupply:         params.TotalSupply,
		FeeRateBps:          e.cfg.Curve.FeeRateBps,
		Thresholds:          e.cfg.Graduation.Thresholds(),
		State:               domain.StateTrading,
		CreatedAt:           e.now().Unix(),
	}
	if err := e.markets.Put(ctx, market); err != nil {
		return nil, err
	}
	e.watchMarket(market.ID)
	if err := e.monitor.Track(ctx, market.ID, market.Address); err != nil {
		return nil, err
	}

	e.monitor.RecordLocal(domain.TransactionEvent{
		Signature: "launch-" + market.ID,
		MarketID:  market.ID,
		Type:      domain.TxMarketCreated,
		Actor:     market.Creator,
		BlockTime: e.now(),
		Status:    domain.TxConfirmed,
	})

	e.logger.Info("Market registered",
		zap.String("market", market.ID),
		zap.String("symbol", market.TokenSymbol),
		zap.Uint64("total_supply", market.TotalSupply))
	return market, nil
}

// GetMarket returns a copy of one market.
func (e *Engine) GetMarket(ctx context.Context, marketID string) (*domain.Market, error) {
	return e.markets.Get(ctx, marketID)
}

// Buy executes a contribution against the curve: price, persist the
// post-trade state and record the event, serialized per market.
func (e *Engine) Buy(ctx context.Context, marketID, actor string, quoteIn uint64) (*TradeResult, error) {
	lock := e.marketLock(marketID)
	lock.Lock()
	defer lock.Unlock()

	market, err := e.markets.Get(ctx, marketID)
	if err != nil {
		return nil, err
	}

	quote, err := curve.QuoteBuy(market, quoteIn)
	if err != nil {
		return nil, err
	}
	if err := e.markets.Put(ctx, quote.PostTrade); err != nil {
		return nil, err
	}

	ev := domain.TransactionEvent{
		Signature:   "local-" + uuid.NewString(),
		MarketID:    marketID,
		Type:        domain.TxContribution,
		Actor:       actor,
		QuoteAmount: quote.QuoteIn,
		BaseAmount:  quote.BaseOut,
		Price:       float64(quote.QuoteIn) / float64(quote.BaseOut),
		PriceImpact: quote.PriceImpact,
		BlockTime:   e.now(),
		Status:      domain.TxConfirmed,
	}
	e.monitor.RecordLocal(ev)

	return &TradeResult{Market: quote.PostTrade, Event: ev}, nil
}

// Sell executes a withdrawal against the curve. The payout is bounded by the
// raised (real quote) reserve.
func (e *Engine) Sell(ctx context.Context, marketID, actor string, baseIn uint64) (*TradeResult, error) {
	lock := e.marketLock(marketID)
	lock.Lock()
	defer lock.Unlock()

	market, err := e.markets.Get(ctx, marketID)
	if err != nil {
		return nil, err
	}

	quote, err := curve.QuoteSell(market, baseIn)
	if err != nil {
		return nil, err
	}
	if err := e.markets.Put(ctx, quote.PostTrade); err != nil {
		return nil, err
	}

	ev := domain.TransactionEvent{
		Signature:   "local-" + uuid.NewString(),
		MarketID:    marketID,
		Type:        domain.TxWithdrawal,
		Actor:       actor,
		QuoteAmount: quote.QuoteOut,
		BaseAmount:  quote.BaseIn,
		Price:       float64(quote.QuoteOut) / float64(quote.BaseIn),
		PriceImpact: quote.PriceImpact,
		BlockTime:   e.now(),
		Status:      domain.TxConfirmed,
	}
	e.monitor.RecordLocal(ev)

	return &TradeResult{Market: quote.PostTrade, Event: ev}, nil
}

// SubscribeToTransactions registers a handler for a market's transaction
// events. The returned function unsubscribes.
func (e *Engine) SubscribeToTransactions(marketID string, fn monitor.Handler) func() {
	return e.monitor.Subscribe(marketID, fn)
}

// SubscribeToGraduations registers a handler for completed graduations.
func (e *Engine) SubscribeToGraduations(fn graduation.GraduationHandler) func() {
	return e.executor.Subscribe(fn)
}

// GetCampaignStats returns a snapshot of a market's cached activity.
func (e *Engine) GetCampaignStats(marketID string) (*domain.CampaignStats, error) {
	return e.monitor.Stats(marketID)
}

// IsReadyForGraduation reports whether the market clears every graduation
// threshold.
func (e *Engine) IsReadyForGraduation(ctx context.Context, marketID string) (bool, error) {
	return e.evaluator.Ready(ctx, marketID)
}

// GraduateToPool migrates an eligible market onto a venue. An empty venueID
// lets the aggregator choose.
func (e *Engine) GraduateToPool(ctx context.Context, marketID, venueID string) (*graduation.Result, error) {
	return e.executor.Graduate(ctx, marketID, venueID)
}

// GetSwapQuote fans a post-graduation swap request out to every venue and
// returns the ranked quotes.
func (e *Engine) GetSwapQuote(ctx context.Context, inputMint, outputMint solana.PublicKey, amount uint64) []*venue.PoolQuote {
	return e.venues.GetSwapQuote(ctx, inputMint, outputMint, amount)
}

// ExecuteSwap routes a previously obtained quote to its venue.
func (e *Engine) ExecuteSwap(ctx context.Context, quote *venue.PoolQuote) (*venue.SwapResult, error) {
	return e.venues.ExecuteSwap(ctx, quote)
}

// watchMarket re-runs the eligibility evaluation on every ingested
// transaction for the market, whether it arrived from the ledger or from a
// local trade. Subscribing is idempotent per market.
func (e *Engine) watchMarket(marketID string) {
	e.mu.Lock()
	if _, ok := e.watched[marketID]; ok {
		e.mu.Unlock()
		return
	}
	e.watched[marketID] = struct{}{}
	e.mu.Unlock()

	e.monitor.Subscribe(marketID, func(ev domain.TransactionEvent) {
		if _, err := e.evaluator.Evaluate(context.Background(), ev.MarketID); err != nil {
			e.logger.Warn("Eligibility evaluation failed",
				zap.String("market", ev.MarketID),
				zap.Error(err))
		}
	})
}

func (e *Engine) marketLock(marketID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.locks[marketID]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[marketID] = lock
	}
	return lock
}
