// internal/graduation/executor.go
package graduation

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/launchfund/engine/internal/domain"
	"github.com/launchfund/engine/internal/ledger"
	"github.com/launchfund/engine/internal/storage"
	"github.com/launchfund/engine/internal/venue"
)

// ErrGraduationFailed wraps venue or ledger failures during a graduation
// attempt. The market is back in Eligible and the call may be retried.
var ErrGraduationFailed = errors.New("graduation attempt failed")

// DefaultLiquidityFractionBps seeds the pool with 85% of the raised quote
// reserve, leaving the remainder for migration costs.
const DefaultLiquidityFractionBps = 8_500

// GraduationHandler receives the graduation event after a market completes
// its migration.
type GraduationHandler func(ev domain.GraduationEvent)

type gradSubscriber struct {
	id uint64
	fn GraduationHandler
}

// Result is the outcome of a Graduate call. AlreadyGraduated marks the
// idempotent no-op path; Event is always the market's graduation record.
type Result struct {
	Event            *domain.GraduationEvent
	AlreadyGraduated bool
}

// Executor performs the one-way migration of an eligible market onto a
// liquidity venue: freeze curve trading, create the pool, move the raised
// reserve, record the event. Any failure reverts the market to Eligible with
// no reserve mutation.
type Executor struct {
	markets     *storage.MarketStore
	graduations *storage.GraduationStore
	venues      *venue.Aggregator
	ledger      ledger.Client
	oracle      PriceProvider
	fractionBps uint16
	logger      *zap.Logger
	now         func() time.Time

	mu      sync.Mutex
	locks   map[string]*sync.Mutex
	subs    []gradSubscriber
	nextSub uint64
}

// NewExecutor wires a graduation executor. A zero fractionBps selects
// DefaultLiquidityFractionBps.
func NewExecutor(
	markets *storage.MarketStore,
	graduations *storage.GraduationStore,
	venues *venue.Aggregator,
	lc ledger.Client,
	oracle PriceProvider,
	fractionBps uint16,
	logger *zap.Logger,
) *Executor {
	if fractionBps == 0 || fractionBps > 10_000 {
		fractionBps = DefaultLiquidityFractionBps
	}
	return &Executor{
		markets:     markets,
		graduations: graduations,
		venues:      venues,
		ledger:      lc,
		oracle:      oracle,
		fractionBps: fractionBps,
		logger:      logger.Named("executor"),
		now:         time.Now,
		locks:       make(map[string]*sync.Mutex),
	}
}

// Subscribe registers a handler for completed graduations. Handlers run in
// registration order; panics are logged and contained. The returned function
// removes the subscription.
func (e *Executor) Subscribe(fn GraduationHandler) func() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextSub++
	id := e.nextSub
	e.subs = append(e.subs, gradSubscriber{id: id, fn: fn})

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		for i, s := range e.subs {
			if s.id == id {
				e.subs = append(e.subs[:i:i], e.subs[i+1:]...)
				return
			}
		}
	}
}

// Graduate migrates an eligible market onto venueID. An empty venueID lets
// the aggregator pick one. Calling it on a graduated market returns the
// recorded event with AlreadyGraduated set.
func (e *Executor) Graduate(ctx context.Context, marketID, venueID string) (*Result, error) {
	lock := e.marketLock(marketID)
	lock.Lock()
	defer lock.Unlock()

	market, err := e.markets.Get(ctx, marketID)
	if err != nil {
		return nil, err
	}

	if market.State == domain.StateGraduated {
		ev, err := e.graduations.Get(ctx, marketID)
		if err != nil {
			return nil, fmt.Errorf("graduated market %s has no graduation record: %w", marketID, err)
		}
		return &Result{Event: ev, AlreadyGraduated: true}, nil
	}
	if market.State != domain.StateEligible {
		return nil, fmt.Errorf("%w: market %s is %s", domain.ErrNotEligible, marketID, market.State)
	}

	// Freeze curve trading for the duration of the attempt.
	if err := market.TransitionTo(domain.StateGraduating); err != nil {
		return nil, err
	}
	if err := e.markets.Put(ctx, market); err != nil {
		return nil, err
	}

	// A previous attempt may have recorded the graduation and submitted the
	// transfer but failed to persist the final market state. Finish that
	// attempt instead of repeating venue work against the write-once record.
	if ev, err := e.graduations.Get(ctx, marketID); err == nil {
		if err := e.finalize(ctx, market, ev); err != nil {
			e.revert(ctx, market)
			return nil, fmt.Errorf("%w: %v", ErrGraduationFailed, err)
		}
		return &Result{Event: ev}, nil
	}

	result, err := e.execute(ctx, market, venueID)
	if err != nil {
		e.revert(ctx, market)
		return nil, fmt.Errorf("%w: %v", ErrGraduationFailed, err)
	}
	return result, nil
}

// deriveLiquidity computes the pool seed deterministically from the current
// reserves: the configured fraction of the raised quote, plus base at spot.
func (e *Executor) deriveLiquidity(market *domain.Market) (quote, base uint64) {
	quote = mulDiv(market.RealQuoteReserve, uint64(e.fractionBps), 10_000)
	base = mulDiv(quote, market.EffectiveBaseReserve(), market.EffectiveQuoteReserve())
	return quote, base
}

// execute runs the venue and ledger legs of a graduation. The market is in
// Graduating; reserves are untouched until everything has succeeded.
func (e *Executor) execute(ctx context.Context, market *domain.Market, venueID string) (*Result, error) {
	quoteLiquidity, baseLiquidity := e.deriveLiquidity(market)
	if quoteLiquidity == 0 || baseLiquidity == 0 {
		return nil, fmt.Errorf("market %s has no liquidity to migrate", market.ID)
	}

	if venueID == "" {
		venueID = e.venues.SelectGraduationVenue(ctx, market.BaseMint)
	}
	client, err := e.venues.Venue(venueID)
	if err != nil {
		return nil, err
	}

	pool, err := client.CreatePool(ctx, venue.CreatePoolParams{
		BaseMint:    market.BaseMint,
		QuoteMint:   market.QuoteMint,
		BaseAmount:  baseLiquidity,
		QuoteAmount: quoteLiquidity,
	})
	if err != nil {
		return nil, fmt.Errorf("create pool on %s: %w", venueID, err)
	}

	sig, err := e.ledger.SubmitTransfer(ctx, ledger.TransferRequest{
		From:        market.Address,
		To:          pool.PoolAddress,
		QuoteAmount: quoteLiquidity,
	})
	if err != nil {
		return nil, fmt.Errorf("transfer reserve to pool: %w", err)
	}

	usd := e.oracle.Price(ctx)
	event := &domain.GraduationEvent{
		MarketID:            market.ID,
		VenueID:             venueID,
		PoolAddress:         pool.PoolAddress.String(),
		LPTokensIssued:      pool.LPTokens,
		InitialLiquidityUSD: decimal.NewFromUint64(quoteLiquidity).Mul(decimal.NewFromInt(2)).Mul(usd),
		OpeningPrice:        market.SpotPrice(),
		ExecutedAt:          e.now(),
	}
	if err := e.graduations.Put(ctx, event); err != nil {
		return nil, fmt.Errorf("record graduation: %w", err)
	}

	e.logger.Info("Reserve transfer submitted",
		zap.String("market", market.ID),
		zap.String("transfer_signature", sig.String()))

	if err := e.finalize(ctx, market, event); err != nil {
		return nil, err
	}
	return &Result{Event: event}, nil
}

// finalize debits the migrated reserves, persists the Graduated market and
// notifies subscribers. Reserves are still pre-migration when it runs, so the
// liquidity derivation reproduces the recorded amounts exactly.
func (e *Executor) finalize(ctx context.Context, market *domain.Market, event *domain.GraduationEvent) error {
	quoteLiquidity, baseLiquidity := e.deriveLiquidity(market)

	// Debit a clone so a failed persist leaves the caller's market with its
	// pre-migration reserves for the revert.
	post := market.Clone()
	post.RealQuoteReserve -= quoteLiquidity
	if baseLiquidity < post.VirtualBaseReserve {
		post.VirtualBaseReserve -= baseLiquidity
	} else {
		post.VirtualBaseReserve = 0
	}
	if err := post.TransitionTo(domain.StateGraduated); err != nil {
		return err
	}
	if err := e.markets.Put(ctx, post); err != nil {
		return fmt.Errorf("persist graduated market: %w", err)
	}

	e.logger.Info("Market graduated",
		zap.String("market", market.ID),
		zap.String("venue", event.VenueID),
		zap.String("pool", event.PoolAddress),
		zap.Uint64("quote_liquidity", quoteLiquidity),
		zap.Uint64("base_liquidity", baseLiquidity))

	e.broadcast(*event)
	return nil
}

// revert returns a failed attempt to Eligible so it can be retried.
func (e *Executor) revert(ctx context.Context, market *domain.Market) {
	if err := market.TransitionTo(domain.StateEligible); err != nil {
		e.logger.Error("Revert transition failed",
			zap.String("market", market.ID),
			zap.Error(err))
		return
	}
	if err := e.markets.Put(ctx, market); err != nil {
		e.logger.Error("Revert persist failed",
			zap.String("market", market.ID),
			zap.Error(err))
	}
}

func (e *Executor) broadcast(ev domain.GraduationEvent) {
	e.mu.Lock()
	subs := append([]gradSubscriber(nil), e.subs...)
	e.mu.Unlock()

	for _, s := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					e.logger.Error("Graduation handler panicked",
						zap.String("market", ev.MarketID),
						zap.Any("panic", r))
				}
			}()
			s.fn(ev)
		}()
	}
}

func (e *Executor) marketLock(marketID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.locks[marketID]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[marketID] = lock
	}
	return lock
}

// mulDiv computes a*b/c over uint64 without intermediate overflow.
func mulDiv(a, b, c uint64) uint64 {
	if c == 0 {
		return 0
	}
	prod := new(big.Int).Mul(new(big.Int).SetUint64(a), new(big.Int).SetUint64(b))
	return prod.Div(prod, new(big.Int).SetUint64(c)).Uint64()
}
