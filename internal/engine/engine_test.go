package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/launchfund/engine/internal/config"
	"github.com/launchfund/engine/internal/domain"
	"github.com/launchfund/engine/internal/graduation"
	"github.com/launchfund/engine/internal/ledger"
	"github.com/launchfund/engine/internal/monitor"
	"github.com/launchfund/engine/internal/storage"
	"github.com/launchfund/engine/internal/storage/memory"
	"github.com/launchfund/engine/internal/venue"
	"github.com/launchfund/engine/internal/venue/stub"
)

type fakeLedger struct {
	mu        sync.Mutex
	transfers []ledger.TransferRequest
}

func (f *fakeLedger) GetRecentSignatures(context.Context, solana.PublicKey, int) ([]solana.Signature, error) {
	return nil, nil
}

func (f *fakeLedger) GetParsedTransaction(context.Context, solana.Signature) (*ledger.RawTransaction, error) {
	return nil, fmt.Errorf("not implemented")
}

func (f *fakeLedger) SubmitTransfer(_ context.Context, req ledger.TransferRequest) (solana.Signature, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transfers = append(f.transfers, req)
	return solana.Signature{}, nil
}

func (f *fakeLedger) OnAccountChange(context.Context, solana.PublicKey, func()) (func(), error) {
	return func() {}, nil
}

type fixedPrice struct{ p decimal.Decimal }

func (f fixedPrice) Price(context.Context) decimal.Decimal { return f.p }

type testHarness struct {
	engine  *Engine
	monitor *monitor.Monitor
	markets *storage.MarketStore
	ledger  *fakeLedger
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	cfg, err := config.Load("")
	require.NoError(t, err)

	store := memory.New()
	markets := storage.NewMarketStore(store)
	graduations := storage.NewGraduationStore(store)
	lc := &fakeLedger{}
	log := zap.NewNop()

	mon := monitor.New(lc, time.Hour, log)
	oracle := fixedPrice{decimal.NewFromInt(150)}
	evaluator := graduation.NewEvaluator(markets, mon, oracle, log)

	v := stub.New(cfg.Venues.Default, 30)
	agg := venue.NewAggregator([]venue.Client{v}, cfg.Venues.Default, cfg.Venues.Timeout, log)
	executor := graduation.NewExecutor(markets, graduations, agg, lc, oracle, cfg.Graduation.LiquidityFractionBps, log)

	return &testHarness{
		engine:  New(cfg, markets, graduations, mon, evaluator, executor, agg, lc, log),
		monitor: mon,
		markets: markets,
		ledger:  lc,
	}
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	return newTestHarness(t).engine
}

func registerTestMarket(t *testing.T, e *Engine) *domain.Market {
	t.Helper()
	m, err := e.RegisterMarket(context.Background(), RegisterMarketParams{
		Name:        "Test Launch",
		TokenSymbol: "TL",
		Creator:     "creator",
		Address:     solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112"),
		BaseMint:    solana.MustPublicKeyFromBase58("4k3Dyjzvzp8eMZWUXbBCjEvwSkkk59S5iCNLY3QrkX6R"),
		QuoteMint:   solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"),
		TotalSupply: 1_000_000_000,
	})
	require.NoError(t, err)
	return m
}

func TestEngine_RegisterMarketAppliesCurveDefaults(t *testing.T) {
	e := newTestEngine(t)
	m := registerTestMarket(t, e)

	assert.Equal(t, domain.StateTrading, m.State)
	assert.Equal(t, uint64(1_073_000_000), m.VirtualBaseReserve)
	assert.Equal(t, uint64(30), m.VirtualQuoteReserve)
	assert.Equal(t, uint16(100), m.FeeRateBps)
	assert.Equal(t, 20, m.Thresholds.MinHolders)

	stats, err := e.GetCampaignStats(m.ID)
	require.NoError(t, err)
	require.Len(t, stats.RecentTransactions, 1)
	assert.Equal(t, domain.TxMarketCreated, stats.RecentTransactions[0].Type)
}

func TestEngine_RegisterMarketValidatesInput(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.RegisterMarket(context.Background(), RegisterMarketParams{Name: "x"})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestEngine_BuyAppliesCurveAndRecords(t *testing.T) {
	e := newTestEngine(t)
	m := registerTestMarket(t, e)
	ctx := context.Background()

	res, err := e.Buy(ctx, m.ID, "alice", 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(265_567_500), res.Event.BaseAmount)
	assert.Equal(t, uint64(40), res.Market.EffectiveQuoteReserve())
	assert.Equal(t, domain.TxContribution, res.Event.Type)
	assert.Positive(t, res.Event.PriceImpact)

	stats, err := e.GetCampaignStats(m.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), stats.TotalVolume)
	assert.Equal(t, 1, stats.UniqueHolders)

	stored, err := e.GetMarket(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), stored.RealQuoteReserve)
}

func TestEngine_SellBoundedByRaisedReserve(t *testing.T) {
	e := newTestEngine(t)
	m := registerTestMarket(t, e)
	ctx := context.Background()

	buy, err := e.Buy(ctx, m.ID, "alice", 10)
	require.NoError(t, err)

	// Selling everything back cannot drain more than was deposited.
	sell, err := e.Sell(ctx, m.ID, "alice", buy.Event.BaseAmount)
	require.NoError(t, err)
	assert.Less(t, sell.Event.QuoteAmount, uint64(10), "round trip must lose the fees")

	_, err = e.Sell(ctx, m.ID, "bob", 900_000_000)
	assert.ErrorIs(t, err, domain.ErrInsufficientReserves)
}

func TestEngine_ConcurrentBuysSerializePerMarket(t *testing.T) {
	e := newTestEngine(t)
	m := registerTestMarket(t, e)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := e.Buy(ctx, m.ID, fmt.Sprintf("actor-%d", n), 1)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	stored, err := e.GetMarket(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), stored.RealQuoteReserve, "no contribution may be lost")

	stats, err := e.GetCampaignStats(m.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), stats.TotalVolume)
}

func TestEngine_FullLifecycle(t *testing.T) {
	e := newTestEngine(t)
	m := registerTestMarket(t, e)
	ctx := context.Background()

	var graduated []domain.GraduationEvent
	e.SubscribeToGraduations(func(ev domain.GraduationEvent) {
		graduated = append(graduated, ev)
	})

	// Twenty distinct contributors push the market over every threshold.
	for i := range 20 {
		_, err := e.Buy(ctx, m.ID, fmt.Sprintf("actor-%d", i), 5)
		require.NoError(t, err)
	}

	ready, err := e.IsReadyForGraduation(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, ready)

	stored, err := e.GetMarket(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateEligible, stored.State, "post-trade evaluation must have promoted the market")

	res, err := e.GraduateToPool(ctx, m.ID, "")
	require.NoError(t, err)
	require.NotNil(t, res.Event)
	assert.False(t, res.AlreadyGraduated)
	require.Len(t, graduated, 1)

	stored, err = e.GetMarket(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateGraduated, stored.State)

	// The curve is closed for good.
	_, err = e.Buy(ctx, m.ID, "late", 1)
	assert.ErrorIs(t, err, domain.ErrMarketGraduated)
	_, err = e.Sell(ctx, m.ID, "late", 1_000)
	assert.ErrorIs(t, err, domain.ErrMarketGraduated)

	// A second graduation call is an idempotent no-op.
	again, err := e.GraduateToPool(ctx, m.ID, "")
	require.NoError(t, err)
	assert.True(t, again.AlreadyGraduated)
	assert.Equal(t, res.Event.PoolAddress, again.Event.PoolAddress)

	// Trading continues on the venue the market graduated to.
	quotes := e.GetSwapQuote(ctx, m.QuoteMint, m.BaseMint, 10)
	require.Len(t, quotes, 1)
	assert.Equal(t, res.Event.VenueID, quotes[0].VenueID)

	swap, err := e.ExecuteSwap(ctx, quotes[0])
	require.NoError(t, err)
	assert.NotNil(t, swap)
}

func TestEngine_LedgerIngestedActivityPromotesMarket(t *testing.T) {
	h := newTestHarness(t)
	m := registerTestMarket(t, h.engine)
	ctx := context.Background()

	// Reserve growth observed from the ledger rather than local trades.
	stored, err := h.markets.Get(ctx, m.ID)
	require.NoError(t, err)
	stored.RealQuoteReserve = 100
	stored.VirtualBaseReserve = 256_000_000
	require.NoError(t, h.markets.Put(ctx, stored))

	// Contributions arriving purely through monitor ingestion must re-run
	// the eligibility evaluation, not just locally executed trades.
	now := time.Now()
	for i := range 25 {
		h.monitor.RecordLocal(domain.TransactionEvent{
			Signature:   fmt.Sprintf("ledger-%02d", i),
			MarketID:    m.ID,
			Type:        domain.TxContribution,
			Actor:       fmt.Sprintf("holder-%02d", i),
			QuoteAmount: 4,
			BaseAmount:  1_000_000,
			Price:       4.0 / 1_000_000.0,
			BlockTime:   now,
			Status:      domain.TxConfirmed,
		})
	}

	stored, err = h.markets.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateEligible, stored.State,
		"ingested activity alone must promote the market")

	ready, err := h.engine.IsReadyForGraduation(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, ready)

	res, err := h.engine.GraduateToPool(ctx, m.ID, "")
	require.NoError(t, err)
	assert.NotNil(t, res.Event)
}

func TestEngine_SellTriggersEvaluation(t *testing.T) {
	h := newTestHarness(t)
	m := registerTestMarket(t, h.engine)
	ctx := context.Background()

	// 19 contributors leave the market one holder short of eligibility.
	for i := range 19 {
		_, err := h.engine.Buy(ctx, m.ID, fmt.Sprintf("actor-%d", i), 5)
		require.NoError(t, err)
	}
	buy, err := h.engine.Buy(ctx, m.ID, "leaver", 5)
	require.NoError(t, err)

	stored, err := h.markets.Get(ctx, m.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StateEligible, stored.State)

	// Once eligible, a sell must still flow through the evaluation path
	// without disturbing the one-way promotion.
	_, err = h.engine.Sell(ctx, m.ID, "leaver", buy.Event.BaseAmount/2)
	require.NoError(t, err)

	stored, err = h.markets.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateEligible, stored.State)
}

func TestEngine_RegisterMarketKeepsCampaignMetadata(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	m, err := h.engine.RegisterMarket(ctx, RegisterMarketParams{
		Name:         "Community Fund",
		TokenSymbol:  "CF",
		Description:  "Funding round for the community treasury",
		Creator:      "creator",
		TargetAmount: 5_000,
		Address:      solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112"),
		BaseMint:     solana.MustPublicKeyFromBase58("4k3Dyjzvzp8eMZWUXbBCjEvwSkkk59S5iCNLY3QrkX6R"),
		QuoteMint:    solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"),
		TotalSupply:  1_000_000_000,
	})
	require.NoError(t, err)

	stored, err := h.markets.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "Funding round for the community treasury", stored.Description)
	assert.Equal(t, uint64(5_000), stored.TargetAmount)
}

func TestEngine_TransactionSubscription(t *testing.T) {
	e := newTestEngine(t)
	m := registerTestMarket(t, e)
	ctx := context.Background()

	var events []domain.TransactionEvent
	unsub := e.SubscribeToTransactions(m.ID, func(ev domain.TransactionEvent) {
		events = append(events, ev)
	})

	_, err := e.Buy(ctx, m.ID, "alice", 5)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.TxContribution, events[0].Type)

	unsub()
	_, err = e.Buy(ctx, m.ID, "alice", 5)
	require.NoError(t, err)
	assert.Len(t, events, 1, "unsubscribed handler must not fire")
}

func TestEngine_StartRetracksStoredMarkets(t *testing.T) {
	e := newTestEngine(t)
	m := registerTestMarket(t, e)

	require.NoError(t, e.Start(context.Background()))
	defer e.Shutdown()

	_, err := e.GetCampaignStats(m.ID)
	assert.NoError(t, err)
}
