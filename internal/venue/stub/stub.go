// internal/venue/stub/stub.go
//
// Package stub is a deterministic in-memory liquidity venue. It stands in
// for real venue integrations behind the venue.Client interface: quoting is
// plain constant-product math over seeded pools, and pool creation derives
// its address from the venue id and pair. No behavior here models any
// specific production venue.
package stub

import (
	"context"
	"crypto/sha256"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/launchfund/engine/internal/venue"
)

// Venue is an in-memory venue.Client implementation.
type Venue struct {
	id     string
	feeBps uint16

	mu    sync.RWMutex
	pools map[solana.PublicKey]*venue.PoolInfo // keyed by pool address

	// Failure injection for tests and demos.
	quoteErr      error
	createPoolErr error
	latency       time.Duration
}

// New creates an empty stub venue charging feeBps on swaps.
func New(id string, feeBps uint16) *Venue {
	return &Venue{
		id:     id,
		feeBps: feeBps,
		pools:  make(map[solana.PublicKey]*venue.PoolInfo),
	}
}

func (v *Venue) ID() string { return v.id }

// SeedPool installs a pre-existing pool, e.g. to model a venue that already
// hosts the pair.
func (v *Venue) SeedPool(baseMint, quoteMint solana.PublicKey, baseReserves, quoteReserves uint64) solana.PublicKey {
	v.mu.Lock()
	defer v.mu.Unlock()

	addr := v.poolAddress(baseMint, quoteMint)
	v.pools[addr] = &venue.PoolInfo{
		VenueID:       v.id,
		Address:       addr,
		BaseMint:      baseMint,
		QuoteMint:     quoteMint,
		BaseReserves:  baseReserves,
		QuoteReserves: quoteReserves,
		LPSupply:      isqrt(baseReserves, quoteReserves),
	}
	return addr
}

// FailQuotes makes every Quote call return err until reset with nil.
func (v *Venue) FailQuotes(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.quoteErr = err
}

// FailCreatePool makes every CreatePool call return err until reset with nil.
func (v *Venue) FailCreatePool(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.createPoolErr = err
}

// SetLatency delays every call, for timeout tests.
func (v *Venue) SetLatency(d time.Duration) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.latency = d
}

func (v *Venue) wait(ctx context.Context) error {
	v.mu.RLock()
	d := v.latency
	v.mu.RUnlock()
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (v *Venue) FindPools(ctx context.Context, baseMint solana.PublicKey) ([]*venue.PoolInfo, error) {
	if err := v.wait(ctx); err != nil {
		return nil, err
	}

	v.mu.RLock()
	defer v.mu.RUnlock()

	var out []*venue.PoolInfo
	for _, p := range v.pools {
		if p.BaseMint.Equals(baseMint) || p.QuoteMint.Equals(baseMint) {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (v *Venue) Quote(ctx context.Context, inputMint, outputMint solana.PublicKey, amount uint64) (*venue.PoolQuote, error) {
	if err := v.wait(ctx); err != nil {
		return nil, err
	}

	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.quoteErr != nil {
		return nil, v.quoteErr
	}
	if amount == 0 {
		return nil, fmt.Errorf("amount must be positive")
	}

	pool := v.findPair(inputMint, outputMint)
	if pool == nil {
		return nil, nil // no route
	}

	inReserve, outReserve := pool.BaseReserves, pool.QuoteReserves
	if pool.QuoteMint.Equals(inputMint) {
		inReserve, outReserve = outReserve, inReserve
	}

	feeFactor := 1.0 - float64(v.feeBps)/10_000.0
	effIn := float64(amount) * feeFactor
	output := uint64(float64(outReserve) * effIn / (float64(inReserve) + effIn))
	if output == 0 {
		return nil, nil
	}

	spot := float64(outReserve) / float64(inReserve)
	exec := float64(output) / float64(amount)

	return &venue.PoolQuote{
		VenueID:        v.id,
		InputMint:      inputMint,
		OutputMint:     outputMint,
		InputAmount:    amount,
		OutputAmount:   output,
		PriceImpact:    (exec - spot) / spot * 100,
		FeeAmount:      amount - uint64(effIn),
		Route:          []string{pool.Address.String()},
		ExecutionPrice: exec,
	}, nil
}

func (v *Venue) CreatePool(ctx context.Context, params venue.CreatePoolParams) (*venue.CreatePoolResult, error) {
	if err := v.wait(ctx); err != nil {
		return nil, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.createPoolErr != nil {
		return nil, v.createPoolErr
	}
	if params.BaseAmount == 0 || params.QuoteAmount == 0 {
		return nil, fmt.Errorf("pool must be funded on both sides")
	}

	addr := v.poolAddress(params.BaseMint, params.QuoteMint)
	if _, exists := v.pools[addr]; exists {
		return nil, fmt.Errorf("pool already exists for pair")
	}

	lp := isqrt(params.BaseAmount, params.QuoteAmount)
	v.pools[addr] = &venue.PoolInfo{
		VenueID:       v.id,
		Address:       addr,
		BaseMint:      params.BaseMint,
		QuoteMint:     params.QuoteMint,
		BaseReserves:  params.BaseAmount,
		QuoteReserves: params.QuoteAmount,
		LPSupply:      lp,
	}

	return &venue.CreatePoolResult{PoolAddress: addr, LPTokens: lp}, nil
}

func (v *Venue) ExecuteSwap(ctx context.Context, quote *venue.PoolQuote) (*venue.SwapResult, error) {
	if err := v.wait(ctx); err != nil {
		return nil, err
	}
	if quote == nil || quote.VenueID != v.id {
		return nil, fmt.Errorf("quote does not belong to venue %s", v.id)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	pool := v.findPair(quote.InputMint, quote.OutputMint)
	if pool == nil {
		return nil, fmt.Errorf("no pool for pair")
	}

	if pool.BaseMint.Equals(quote.InputMint) {
		pool.BaseReserves += quote.InputAmount
		pool.QuoteReserves -= min(quote.OutputAmount, pool.QuoteReserves)
	} else {
		pool.QuoteReserves += quote.InputAmount
		pool.BaseReserves -= min(quote.OutputAmount, pool.BaseReserves)
	}

	sig := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d|%d",
		v.id, pool.Address, quote.InputAmount, pool.BaseReserves)))
	var full [64]byte
	copy(full[:32], sig[:])
	copy(full[32:], sig[:])

	return &venue.SwapResult{Signature: solana.SignatureFromBytes(full[:])}, nil
}

// findPair must be called with the lock held.
func (v *Venue) findPair(a, b solana.PublicKey) *venue.PoolInfo {
	for _, p := range v.pools {
		if (p.BaseMint.Equals(a) && p.QuoteMint.Equals(b)) ||
			(p.BaseMint.Equals(b) && p.QuoteMint.Equals(a)) {
			return p
		}
	}
	return nil
}

// poolAddress derives a stable address from the venue id and pair.
func (v *Venue) poolAddress(baseMint, quoteMint solana.PublicKey) solana.PublicKey {
	h := sha256.New()
	h.Write([]byte(v.id))
	h.Write(baseMint.Bytes())
	h.Write(quoteMint.Bytes())
	return solana.PublicKeyFromBytes(h.Sum(nil))
}

// isqrt returns floor(sqrt(a*b)), the standard LP issuance for a fresh pool.
func isqrt(a, b uint64) uint64 {
	prod := new(big.Int).Mul(new(big.Int).SetUint64(a), new(big.Int).SetUint64(b))
	return prod.Sqrt(prod).Uint64()
}

var _ venue.Client = (*Venue)(nil)
