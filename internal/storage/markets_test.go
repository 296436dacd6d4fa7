package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/launchfund/engine/internal/domain"
	"github.com/launchfund/engine/internal/storage"
	"github.com/launchfund/engine/internal/storage/memory"
)

func TestMarketStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	markets := storage.NewMarketStore(memory.New())

	m := &domain.Market{
		ID:                  "m1",
		Name:                "Launch Token",
		TokenSymbol:         "LNCH",
		VirtualQuoteReserve: 30,
		VirtualBaseReserve:  1_073_000_000,
		TotalSupply:         1_000_000_000,
		FeeRateBps:          100,
		Thresholds: domain.GraduationThresholds{
			MarketCapUSD:    decimal.NewFromInt(69_000),
			LiquidityUSD:    decimal.NewFromInt(8_000),
			MinHolders:      20,
			MinVolume24hUSD: decimal.NewFromInt(1_000),
		},
		State: domain.StateTrading,
	}
	require.NoError(t, markets.Put(ctx, m))

	got, err := markets.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, m.ID, got.ID)
	assert.Equal(t, m.Name, got.Name)
	assert.Equal(t, m.TokenSymbol, got.TokenSymbol)
	assert.Equal(t, m.VirtualQuoteReserve, got.VirtualQuoteReserve)
	assert.Equal(t, m.VirtualBaseReserve, got.VirtualBaseReserve)
	assert.Equal(t, m.TotalSupply, got.TotalSupply)
	assert.Equal(t, m.FeeRateBps, got.FeeRateBps)
	assert.Equal(t, m.State, got.State)
	// Decimals compare by value, not representation.
	assert.True(t, got.Thresholds.MarketCapUSD.Equal(m.Thresholds.MarketCapUSD))
	assert.True(t, got.Thresholds.LiquidityUSD.Equal(m.Thresholds.LiquidityUSD))
	assert.Equal(t, m.Thresholds.MinHolders, got.Thresholds.MinHolders)
	assert.True(t, got.Thresholds.MinVolume24hUSD.Equal(m.Thresholds.MinVolume24hUSD))

	_, err = markets.Get(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrMarketNotFound)
}

func TestMarketStore_List(t *testing.T) {
	ctx := context.Background()
	markets := storage.NewMarketStore(memory.New())

	for _, id := range []string{"b", "a", "c"} {
		require.NoError(t, markets.Put(ctx, &domain.Market{ID: id, State: domain.StateTrading}))
	}

	all, err := markets.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "a", all[0].ID, "listing follows key order")
}

func TestGraduationStore_WriteOnce(t *testing.T) {
	ctx := context.Background()
	grads := storage.NewGraduationStore(memory.New())

	ev := &domain.GraduationEvent{
		MarketID:    "m1",
		VenueID:     "raydium",
		PoolAddress: "pool-addr",
		ExecutedAt:  time.Now().UTC(),
	}
	require.NoError(t, grads.Put(ctx, ev))

	got, err := grads.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "raydium", got.VenueID)

	// The graduation record is the record of truth; a second write for the
	// same market must be rejected.
	require.Error(t, grads.Put(ctx, ev))
}

func TestMemoryStore_CopiesValues(t *testing.T) {
	ctx := context.Background()
	store := memory.New()

	val := []byte("abc")
	require.NoError(t, store.Set(ctx, "k", val))
	val[0] = 'x'

	got, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)

	require.NoError(t, store.Delete(ctx, "k"))
	_, err = store.Get(ctx, "k")
	require.ErrorIs(t, err, storage.ErrNotFound)
}
