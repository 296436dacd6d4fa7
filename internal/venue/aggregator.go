// internal/venue/aggregator.go
package venue

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultVenueTimeout bounds every per-venue call during a fan-out.
const DefaultVenueTimeout = 5 * time.Second

// Aggregator fans swap-quote requests out to every configured venue and
// ranks the answers. Registration order is the final, deterministic
// tie-breaker everywhere.
type Aggregator struct {
	venues       []Client
	defaultVenue string
	timeout      time.Duration
	logger       *zap.Logger
}

// NewAggregator registers venues in the given order.
func NewAggregator(venues []Client, defaultVenue string, timeout time.Duration, logger *zap.Logger) *Aggregator {
	if timeout <= 0 {
		timeout = DefaultVenueTimeout
	}
	return &Aggregator{
		venues:       venues,
		defaultVenue: defaultVenue,
		timeout:      timeout,
		logger:       logger.Named("aggregator"),
	}
}

// GetSwapQuote queries every venue concurrently. Venues that error or time
// out are omitted; partial results are valid. The result is sorted best
// execution first: OutputAmount desc, PriceImpact asc, registration order.
func (a *Aggregator) GetSwapQuote(ctx context.Context, inputMint, outputMint solana.PublicKey, amount uint64) []*PoolQuote {
	results := make([]*PoolQuote, len(a.venues))

	g, gctx := errgroup.WithContext(ctx)
	for i, v := range a.venues {
		g.Go(func() error {
			vctx, cancel := context.WithTimeout(gctx, a.timeout)
			defer cancel()

			quote, err := v.Quote(vctx, inputMint, outputMint, amount)
			if err != nil {
				a.logger.Debug("Venue quote failed, omitting",
					zap.String("venue", v.ID()),
					zap.Error(err))
				return nil
			}
			results[i] = quote
			return nil
		})
	}
	_ = g.Wait()

	type ranked struct {
		quote *PoolQuote
		order int
	}
	var quotes []ranked
	for i, q := range results {
		if q != nil {
			quotes = append(quotes, ranked{q, i})
		}
	}

	sort.SliceStable(quotes, func(i, j int) bool {
		qi, qj := quotes[i].quote, quotes[j].quote
		if qi.OutputAmount != qj.OutputAmount {
			return qi.OutputAmount > qj.OutputAmount
		}
		if qi.PriceImpact != qj.PriceImpact {
			return qi.PriceImpact < qj.PriceImpact
		}
		return quotes[i].order < quotes[j].order
	})

	out := make([]*PoolQuote, len(quotes))
	for i, r := range quotes {
		out[i] = r.quote
	}
	return out
}

// SelectGraduationVenue picks the venue for a market's pool. If any venue
// already hosts a pool for the base asset, the one with the highest existing
// TVL wins; otherwise the configured default venue is used. Deterministic
// for a given venue-state snapshot.
func (a *Aggregator) SelectGraduationVenue(ctx context.Context, baseMint solana.PublicKey) string {
	var bestVenue string
	var bestTVL uint64

	for _, v := range a.venues {
		vctx, cancel := context.WithTimeout(ctx, a.timeout)
		pools, err := v.FindPools(vctx, baseMint)
		cancel()
		if err != nil {
			a.logger.Debug("FindPools failed, skipping venue",
				zap.String("venue", v.ID()),
				zap.Error(err))
			continue
		}
		for _, p := range pools {
			if tvl := p.TVL(); tvl > bestTVL {
				bestTVL = tvl
				bestVenue = v.ID()
			}
		}
	}

	if bestVenue != "" {
		return bestVenue
	}
	return a.defaultVenue
}

// Venue resolves a registered venue by id.
func (a *Aggregator) Venue(id string) (Client, error) {
	for _, v := range a.venues {
		if v.ID() == id {
			return v, nil
		}
	}
	return nil, fmt.Errorf("venue %s is not registered", id)
}

// ExecuteSwap routes an already-obtained quote back to its venue.
func (a *Aggregator) ExecuteSwap(ctx context.Context, quote *PoolQuote) (*SwapResult, error) {
	if quote == nil {
		return nil, fmt.Errorf("nil quote")
	}
	v, err := a.Venue(quote.VenueID)
	if err != nil {
		return nil, err
	}

	vctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	return v.ExecuteSwap(vctx, quote)
}
