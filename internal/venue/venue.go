// internal/venue/venue.go
package venue

import (
	"context"

	"github.com/gagliardetto/solana-go"
)

// PoolQuote is one venue's answer to a swap request. Ephemeral: produced on
// demand, never persisted.
type PoolQuote struct {
	VenueID        string
	InputMint      solana.PublicKey
	OutputMint     solana.PublicKey
	InputAmount    uint64
	OutputAmount   uint64
	PriceImpact    float64
	FeeAmount      uint64
	Route          []string
	ExecutionPrice float64
}

// PoolInfo describes an existing pool on a venue for a given asset pair.
type PoolInfo struct {
	VenueID       string
	Address       solana.PublicKey
	BaseMint      solana.PublicKey
	QuoteMint     solana.PublicKey
	BaseReserves  uint64
	QuoteReserves uint64
	LPSupply      uint64
}

// TVL is the pool's total value locked expressed in quote units, used to
// rank venues that already host a pool for the pair.
func (p *PoolInfo) TVL() uint64 {
	return p.QuoteReserves * 2
}

// CreatePoolParams funds a new pool at its opening price.
type CreatePoolParams struct {
	BaseMint    solana.PublicKey
	QuoteMint   solana.PublicKey
	BaseAmount  uint64
	QuoteAmount uint64
}

// CreatePoolResult is the venue's receipt for a created pool.
type CreatePoolResult struct {
	PoolAddress solana.PublicKey
	LPTokens    uint64
}

// SwapResult is the venue's receipt for an executed swap.
type SwapResult struct {
	Signature solana.Signature
}

// Client is one liquidity venue. Implementations must honor context
// deadlines; a nil quote with nil error means the venue has no route.
type Client interface {
	ID() string
	FindPools(ctx context.Context, baseMint solana.PublicKey) ([]*PoolInfo, error)
	Quote(ctx context.Context, inputMint, outputMint solana.PublicKey, amount uint64) (*PoolQuote, error)
	CreatePool(ctx context.Context, params CreatePoolParams) (*CreatePoolResult, error)
	ExecuteSwap(ctx context.Context, quote *PoolQuote) (*SwapResult, error)
}
