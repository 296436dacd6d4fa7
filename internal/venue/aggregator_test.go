package venue_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/launchfund/engine/internal/venue"
	"github.com/launchfund/engine/internal/venue/stub"
)

var (
	testBaseMint  = solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")
	testQuoteMint = solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")
)

func TestAggregator_SortsBestExecutionFirst(t *testing.T) {
	// Deeper pools give more output for the same input, so depth orders
	// the expected ranking.
	deep := stub.New("deep", 30)
	deep.SeedPool(testBaseMint, testQuoteMint, 10_000_000_000, 10_000_000_000)

	shallow := stub.New("shallow", 30)
	shallow.SeedPool(testBaseMint, testQuoteMint, 1_000_000_000, 1_000_000_000)

	mid := stub.New("mid", 30)
	mid.SeedPool(testBaseMint, testQuoteMint, 5_000_000_000, 5_000_000_000)

	agg := venue.NewAggregator([]venue.Client{shallow, deep, mid}, "deep", time.Second, zap.NewNop())

	quotes := agg.GetSwapQuote(context.Background(), testQuoteMint, testBaseMint, 1_000_000)
	require.Len(t, quotes, 3)

	assert.Equal(t, "deep", quotes[0].VenueID)
	assert.Equal(t, "mid", quotes[1].VenueID)
	assert.Equal(t, "shallow", quotes[2].VenueID)

	for i := 1; i < len(quotes); i++ {
		assert.GreaterOrEqual(t, quotes[i-1].OutputAmount, quotes[i].OutputAmount,
			"quotes must be sorted by output, best first")
	}
}

func TestAggregator_TiesBreakByRegistrationOrder(t *testing.T) {
	// Identical pools on two venues produce identical quotes.
	first := stub.New("first", 30)
	first.SeedPool(testBaseMint, testQuoteMint, 1_000_000_000, 1_000_000_000)

	second := stub.New("second", 30)
	second.SeedPool(testBaseMint, testQuoteMint, 1_000_000_000, 1_000_000_000)

	agg := venue.NewAggregator([]venue.Client{first, second}, "first", time.Second, zap.NewNop())

	for range 5 {
		quotes := agg.GetSwapQuote(context.Background(), testQuoteMint, testBaseMint, 1_000_000)
		require.Len(t, quotes, 2)
		assert.Equal(t, "first", quotes[0].VenueID)
		assert.Equal(t, "second", quotes[1].VenueID)
	}
}

func TestAggregator_OmitsFailingVenues(t *testing.T) {
	healthy := stub.New("healthy", 30)
	healthy.SeedPool(testBaseMint, testQuoteMint, 1_000_000_000, 1_000_000_000)

	broken := stub.New("broken", 30)
	broken.SeedPool(testBaseMint, testQuoteMint, 9_000_000_000, 9_000_000_000)
	broken.FailQuotes(errors.New("rpc unavailable"))

	agg := venue.NewAggregator([]venue.Client{broken, healthy}, "healthy", time.Second, zap.NewNop())

	quotes := agg.GetSwapQuote(context.Background(), testQuoteMint, testBaseMint, 1_000_000)
	require.Len(t, quotes, 1, "failing venue must be omitted, not fail the request")
	assert.Equal(t, "healthy", quotes[0].VenueID)
}

func TestAggregator_OmitsVenuesPastTimeout(t *testing.T) {
	fast := stub.New("fast", 30)
	fast.SeedPool(testBaseMint, testQuoteMint, 1_000_000_000, 1_000_000_000)

	slow := stub.New("slow", 30)
	slow.SeedPool(testBaseMint, testQuoteMint, 9_000_000_000, 9_000_000_000)
	slow.SetLatency(200 * time.Millisecond)

	agg := venue.NewAggregator([]venue.Client{slow, fast}, "fast", 20*time.Millisecond, zap.NewNop())

	quotes := agg.GetSwapQuote(context.Background(), testQuoteMint, testBaseMint, 1_000_000)
	require.Len(t, quotes, 1)
	assert.Equal(t, "fast", quotes[0].VenueID)
}

func TestAggregator_RemovingTopVenueNeverImprovesOthers(t *testing.T) {
	deep := stub.New("deep", 30)
	deep.SeedPool(testBaseMint, testQuoteMint, 10_000_000_000, 10_000_000_000)

	shallow := stub.New("shallow", 30)
	shallow.SeedPool(testBaseMint, testQuoteMint, 1_000_000_000, 1_000_000_000)

	full := venue.NewAggregator([]venue.Client{deep, shallow}, "deep", time.Second, zap.NewNop())
	reduced := venue.NewAggregator([]venue.Client{shallow}, "shallow", time.Second, zap.NewNop())

	ctx := context.Background()
	before := full.GetSwapQuote(ctx, testQuoteMint, testBaseMint, 1_000_000)
	after := reduced.GetSwapQuote(ctx, testQuoteMint, testBaseMint, 1_000_000)

	require.Len(t, before, 2)
	require.Len(t, after, 1)
	assert.Equal(t, before[1].OutputAmount, after[0].OutputAmount,
		"surviving venue's quote must not change when the top venue disappears")
}

func TestAggregator_SelectGraduationVenue_PrefersHighestTVL(t *testing.T) {
	small := stub.New("small", 30)
	small.SeedPool(testBaseMint, testQuoteMint, 1_000_000_000, 1_000_000_000)

	big := stub.New("big", 30)
	big.SeedPool(testBaseMint, testQuoteMint, 1_000_000_000, 50_000_000_000)

	agg := venue.NewAggregator([]venue.Client{small, big}, "small", time.Second, zap.NewNop())

	got := agg.SelectGraduationVenue(context.Background(), testBaseMint)
	assert.Equal(t, "big", got)
}

func TestAggregator_SelectGraduationVenue_DefaultWhenNoPools(t *testing.T) {
	empty1 := stub.New("empty1", 30)
	empty2 := stub.New("empty2", 30)

	agg := venue.NewAggregator([]venue.Client{empty1, empty2}, "empty2", time.Second, zap.NewNop())

	got := agg.SelectGraduationVenue(context.Background(), testBaseMint)
	assert.Equal(t, "empty2", got)
}

func TestAggregator_ExecuteSwapRoutesByQuoteVenue(t *testing.T) {
	v := stub.New("only", 30)
	v.SeedPool(testBaseMint, testQuoteMint, 1_000_000_000, 1_000_000_000)

	agg := venue.NewAggregator([]venue.Client{v}, "only", time.Second, zap.NewNop())
	ctx := context.Background()

	quotes := agg.GetSwapQuote(ctx, testQuoteMint, testBaseMint, 1_000_000)
	require.Len(t, quotes, 1)

	res, err := agg.ExecuteSwap(ctx, quotes[0])
	require.NoError(t, err)
	assert.False(t, res.Signature.IsZero())

	quotes[0].VenueID = "nowhere"
	_, err = agg.ExecuteSwap(ctx, quotes[0])
	assert.Error(t, err)
}
