// internal/monitor/monitor.go
//
// Package monitor ingests confirmed ledger activity for tracked markets and
// maintains bounded in-memory analytics caches over it. Two ingestion paths
// feed the same pipeline: push (account-change notifications) and poll (a
// periodic reconciliation sweep). Both are idempotent; the transaction
// signature is the dedup key.
package monitor

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/launchfund/engine/internal/domain"
	"github.com/launchfund/engine/internal/ledger"
)

const (
	// maxCachedTransactions bounds the per-market recent-transaction cache.
	maxCachedTransactions = 100

	// maxPricePoints bounds the per-market hourly price history (one week).
	maxPricePoints = 168

	// DefaultPollInterval is the reconciliation sweep period.
	DefaultPollInterval = 5 * time.Minute

	// defaultPollWorkers bounds concurrent per-market poll goroutines so one
	// slow market cannot stall the sweep for the rest.
	defaultPollWorkers = 8

	// signatureFetchLimit is how far back one reconciliation pass looks.
	signatureFetchLimit = 50
)

// Handler receives transaction events for a subscribed market. Handlers run
// on the ingestion goroutine; a slow handler slows delivery for later
// subscribers of the same market.
type Handler func(ev domain.TransactionEvent)

type subscriber struct {
	id uint64
	fn Handler
}

// marketCache is everything the monitor retains for one tracked market.
// All fields are guarded by Monitor.mu.
type marketCache struct {
	address solana.PublicKey

	seen         map[string]struct{}
	transactions []domain.TransactionEvent // blockTime ascending
	priceHistory []domain.PricePoint       // bucket ascending

	holders   map[string]int64 // actor -> net base balance
	totalVol  uint64
	totalTxs  int
	trades    int // value-bearing transactions only
	lastPrice float64

	unsubscribe func()
}

// Monitor tracks on-ledger activity for registered markets.
type Monitor struct {
	ledger       ledger.Client
	logger       *zap.Logger
	pollInterval time.Duration
	pollWorkers  *semaphore.Weighted

	mu      sync.RWMutex
	markets map[string]*marketCache
	subs    map[string][]subscriber
	nextSub uint64

	runCtx  context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// New builds a monitor over the given ledger client. A non-positive
// pollInterval selects DefaultPollInterval.
func New(lc ledger.Client, pollInterval time.Duration, logger *zap.Logger) *Monitor {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Monitor{
		ledger:       lc,
		logger:       logger.Named("monitor"),
		pollInterval: pollInterval,
		pollWorkers:  semaphore.NewWeighted(defaultPollWorkers),
		markets:      make(map[string]*marketCache),
		subs:         make(map[string][]subscriber),
	}
}

// Track registers a market for ingestion: an immediate sync, a push
// subscription for account changes, and inclusion in the poll sweep.
func (m *Monitor) Track(ctx context.Context, marketID string, address solana.PublicKey) error {
	m.mu.Lock()
	if _, exists := m.markets[marketID]; exists {
		m.mu.Unlock()
		return nil
	}
	cache := &marketCache{
		address: address,
		seen:    make(map[string]struct{}),
		holders: make(map[string]int64),
	}
	m.markets[marketID] = cache
	m.mu.Unlock()

	unsub, err := m.ledger.OnAccountChange(ctx, address, func() {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.syncMarket(m.runContext(), marketID)
		}()
	})
	if err != nil {
		// Poll-only tracking still works; push is an optimization.
		m.logger.Warn("Account-change subscription failed, falling back to polling only",
			zap.String("market", marketID),
			zap.Error(err))
	} else {
		m.mu.Lock()
		cache.unsubscribe = unsub
		m.mu.Unlock()
	}

	m.syncMarket(ctx, marketID)
	return nil
}

// Untrack stops ingestion for a market and drops its caches.
func (m *Monitor) Untrack(marketID string) {
	m.mu.Lock()
	cache, ok := m.markets[marketID]
	if ok {
		delete(m.markets, marketID)
		delete(m.subs, marketID)
	}
	m.mu.Unlock()

	if ok && cache.unsubscribe != nil {
		cache.unsubscribe()
	}
}

// Subscribe registers a handler for a market's transaction events. Handlers
// are invoked in registration order. The returned function removes the
// subscription.
func (m *Monitor) Subscribe(marketID string, fn Handler) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextSub++
	id := m.nextSub
	m.subs[marketID] = append(m.subs[marketID], subscriber{id: id, fn: fn})

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		list := m.subs[marketID]
		for i, s := range list {
			if s.id == id {
				m.subs[marketID] = append(list[:i:i], list[i+1:]...)
				return
			}
		}
	}
}

// RecordLocal ingests an engine-executed trade through the same dedup and
// broadcast path as on-ledger transactions.
func (m *Monitor) RecordLocal(ev domain.TransactionEvent) {
	m.ingest(ev)
}

// Stats returns a deep-copied snapshot of the market's aggregates, or
// domain.ErrMarketNotFound for untracked markets.
func (m *Monitor) Stats(marketID string) (*domain.CampaignStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cache, ok := m.markets[marketID]
	if !ok {
		return nil, domain.ErrMarketNotFound
	}

	stats := &domain.CampaignStats{
		MarketID:           marketID,
		TotalVolume:        cache.totalVol,
		TotalTransactions:  cache.totalTxs,
		UniqueHolders:      countHolders(cache.holders),
		PriceHistory:       append([]domain.PricePoint(nil), cache.priceHistory...),
		RecentTransactions: append([]domain.TransactionEvent(nil), cache.transactions...),
	}
	// market_created entries carry no value and would deflate the average.
	if cache.trades > 0 {
		stats.AvgTransactionSize = float64(cache.totalVol) / float64(cache.trades)
	}
	return stats, nil
}

// LastPrice returns the most recently observed trade price for the market,
// zero when nothing has been observed yet.
func (m *Monitor) LastPrice(marketID string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if cache, ok := m.markets[marketID]; ok {
		return cache.lastPrice
	}
	return 0
}

// Start launches the reconciliation poll loop. It returns immediately.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.runCtx, m.cancel = context.WithCancel(ctx)
	m.mu.Unlock()

	m.wg.Add(1)
	go m.pollLoop()
}

// Shutdown stops the poll loop, cancels push subscriptions and waits for
// in-flight workers to drain.
func (m *Monitor) Shutdown() {
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
	}
	var unsubs []func()
	for _, cache := range m.markets {
		if cache.unsubscribe != nil {
			unsubs = append(unsubs, cache.unsubscribe)
			cache.unsubscribe = nil
		}
	}
	m.started = false
	m.mu.Unlock()

	for _, u := range unsubs {
		u()
	}
	m.wg.Wait()
}

func (m *Monitor) runContext() context.Context {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.runCtx != nil {
		return m.runCtx
	}
	return context.Background()
}

func (m *Monitor) pollLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	ctx := m.runContext()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.pollAll(ctx)
		}
	}
}

func (m *Monitor) pollAll(ctx context.Context) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.markets))
	for id := range m.markets {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		if err := m.pollWorkers.Acquire(ctx, 1); err != nil {
			return
		}
		m.wg.Add(1)
		go func(marketID string) {
			defer m.wg.Done()
			defer m.pollWorkers.Release(1)
			m.syncMarket(ctx, marketID)
		}(id)
	}
}

// syncMarket reconciles one market against the ledger: fetch recent
// signatures, parse the unseen ones, ingest oldest first.
func (m *Monitor) syncMarket(ctx context.Context, marketID string) {
	m.mu.RLock()
	cache, ok := m.markets[marketID]
	if !ok {
		m.mu.RUnlock()
		return
	}
	address := cache.address
	m.mu.RUnlock()

	sigs, err := m.ledger.GetRecentSignatures(ctx, address, signatureFetchLimit)
	if err != nil {
		m.logger.Warn("Signature fetch failed",
			zap.String("market", marketID),
			zap.Error(err))
		return
	}

	// Newest first from the ledger; replay oldest first so ordered inserts
	// are the common case.
	for i := len(sigs) - 1; i >= 0; i-- {
		sig := sigs[i]

		m.mu.RLock()
		_, dup := cache.seen[sig.String()]
		m.mu.RUnlock()
		if dup {
			continue
		}

		raw, err := m.ledger.GetParsedTransaction(ctx, sig)
		if err != nil {
			m.logger.Warn("Transaction parse failed",
				zap.String("market", marketID),
				zap.String("signature", sig.String()),
				zap.Error(err))
			continue
		}

		ev, ok := m.classify(marketID, address, raw)
		if !ok {
			continue
		}
		m.ingest(ev)
	}
}

// classify reduces a parsed transaction to a TransactionEvent relative to the
// market's address. Transactions with no quote movement against the market
// are recorded as market_created activity.
func (m *Monitor) classify(marketID string, address solana.PublicKey, raw *ledger.RawTransaction) (domain.TransactionEvent, bool) {
	ev := domain.TransactionEvent{
		Signature: raw.Signature.String(),
		MarketID:  marketID,
		BlockTime: raw.BlockTime,
		Status:    domain.TxConfirmed,
	}
	if raw.Failed {
		ev.Status = domain.TxFailed
	}

	var quoteIn, quoteOut, baseOut, baseIn uint64
	var contributor, withdrawer string
	touched := false
	for _, leg := range raw.Legs {
		native := leg.Mint.IsZero()
		switch {
		case native && leg.Destination.Equals(address):
			quoteIn += leg.Amount
			contributor = leg.Source.String()
			touched = true
		case native && leg.Source.Equals(address):
			quoteOut += leg.Amount
			withdrawer = leg.Destination.String()
			touched = true
		case !native && leg.Source.Equals(address):
			baseOut += leg.Amount
			touched = true
		case !native && leg.Destination.Equals(address):
			baseIn += leg.Amount
			touched = true
		}
	}
	if !touched {
		return domain.TransactionEvent{}, false
	}

	switch {
	case quoteIn > 0:
		ev.Type = domain.TxContribution
		ev.Actor = contributor
		ev.QuoteAmount = quoteIn
		ev.BaseAmount = baseOut
		if baseOut > 0 {
			ev.Price = float64(quoteIn) / float64(baseOut)
		} else if last := m.LastPrice(marketID); last > 0 {
			ev.Price = last
			ev.PriceApproximate = true
		}
	case quoteOut > 0:
		ev.Type = domain.TxWithdrawal
		ev.Actor = withdrawer
		ev.QuoteAmount = quoteOut
		ev.BaseAmount = baseIn
		if baseIn > 0 {
			ev.Price = float64(quoteOut) / float64(baseIn)
		} else if last := m.LastPrice(marketID); last > 0 {
			ev.Price = last
			ev.PriceApproximate = true
		}
	default:
		ev.Type = domain.TxMarketCreated
	}
	return ev, true
}

// ingest applies one event to the market's caches and broadcasts it.
// Duplicate signatures are dropped before any state changes.
func (m *Monitor) ingest(ev domain.TransactionEvent) {
	m.mu.Lock()
	cache, ok := m.markets[ev.MarketID]
	if !ok {
		m.mu.Unlock()
		return
	}
	if _, dup := cache.seen[ev.Signature]; dup {
		m.mu.Unlock()
		return
	}
	cache.seen[ev.Signature] = struct{}{}

	if ev.Status == domain.TxConfirmed {
		cache.applyConfirmed(ev)
	}
	handlers := append([]subscriber(nil), m.subs[ev.MarketID]...)
	m.mu.Unlock()

	for _, s := range handlers {
		m.deliver(s, ev)
	}
}

// deliver invokes one handler with panic containment so a broken subscriber
// cannot take the ingestion path down or starve later subscribers.
func (m *Monitor) deliver(s subscriber, ev domain.TransactionEvent) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Transaction handler panicked",
				zap.String("market", ev.MarketID),
				zap.String("signature", ev.Signature),
				zap.Any("panic", r))
		}
	}()
	s.fn(ev)
}

// applyConfirmed mutates the cache for one confirmed event. Caller holds the
// write lock.
func (c *marketCache) applyConfirmed(ev domain.TransactionEvent) {
	c.insertOrdered(ev)

	switch ev.Type {
	case domain.TxContribution:
		c.totalVol += ev.QuoteAmount
		c.totalTxs++
		c.trades++
		c.holders[ev.Actor] += int64(ev.BaseAmount)
	case domain.TxWithdrawal:
		c.totalVol += ev.QuoteAmount
		c.totalTxs++
		c.trades++
		c.holders[ev.Actor] -= int64(ev.BaseAmount)
	case domain.TxMarketCreated:
		c.totalTxs++
		return
	}

	if ev.Price > 0 && c.isNewest(ev) {
		c.lastPrice = ev.Price
	}
	c.updateBucket(ev)
}

// insertOrdered keeps the transaction cache sorted by blockTime and bounded,
// evicting the oldest entry on overflow.
func (c *marketCache) insertOrdered(ev domain.TransactionEvent) {
	i := sort.Search(len(c.transactions), func(i int) bool {
		return c.transactions[i].BlockTime.After(ev.BlockTime)
	})
	c.transactions = append(c.transactions, domain.TransactionEvent{})
	copy(c.transactions[i+1:], c.transactions[i:])
	c.transactions[i] = ev

	if len(c.transactions) > maxCachedTransactions {
		c.transactions = append(c.transactions[:0:0], c.transactions[1:]...)
	}
}

func (c *marketCache) isNewest(ev domain.TransactionEvent) bool {
	n := len(c.transactions)
	return n == 0 || !c.transactions[n-1].BlockTime.After(ev.BlockTime) ||
		c.transactions[n-1].Signature == ev.Signature
}

// updateBucket folds the event into its hour-aligned price bucket. The
// current hour updates in place; a new hour appends and may evict the oldest
// bucket; events older than the retained window are counted in totals only.
func (c *marketCache) updateBucket(ev domain.TransactionEvent) {
	bucket := ev.BlockTime.UTC().Truncate(time.Hour)

	for i := len(c.priceHistory) - 1; i >= 0; i-- {
		p := &c.priceHistory[i]
		if p.BucketTimestamp.Equal(bucket) {
			if ev.Price > 0 {
				p.Price = ev.Price
			}
			p.Volume += ev.QuoteAmount
			p.TxCount++
			return
		}
		if p.BucketTimestamp.Before(bucket) {
			break
		}
	}

	if n := len(c.priceHistory); n > 0 && bucket.Before(c.priceHistory[0].BucketTimestamp) {
		return
	}

	point := domain.PricePoint{
		BucketTimestamp: bucket,
		Price:           ev.Price,
		Volume:          ev.QuoteAmount,
		TxCount:         1,
	}
	i := sort.Search(len(c.priceHistory), func(i int) bool {
		return c.priceHistory[i].BucketTimestamp.After(bucket)
	})
	c.priceHistory = append(c.priceHistory, domain.PricePoint{})
	copy(c.priceHistory[i+1:], c.priceHistory[i:])
	c.priceHistory[i] = point

	if len(c.priceHistory) > maxPricePoints {
		c.priceHistory = append(c.priceHistory[:0:0], c.priceHistory[1:]...)
	}
}

func countHolders(holders map[string]int64) int {
	n := 0
	for _, bal := range holders {
		if bal > 0 {
			n++
		}
	}
	return n
}
