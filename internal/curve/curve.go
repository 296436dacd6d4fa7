// internal/curve/curve.go
package curve

import (
	"math/big"

	"github.com/launchfund/engine/internal/domain"
)

// DefaultFeeRateBps is the protocol fee charged on the pre-fee output of
// every curve trade, in basis points.
const DefaultFeeRateBps uint16 = 100

// BuyQuote is the result of pricing a contribution against the curve.
// PostTrade carries the market state the caller must persist atomically
// for the trade to take effect.
type BuyQuote struct {
	QuoteIn     uint64
	BaseOut     uint64
	FeeBase     uint64
	PriceImpact float64
	PostTrade   *domain.Market
}

// SellQuote is the result of pricing a withdrawal against the curve.
type SellQuote struct {
	BaseIn      uint64
	QuoteOut    uint64
	FeeQuote    uint64
	PriceImpact float64
	PostTrade   *domain.Market
}

// QuoteBuy prices quoteIn raw quote units against the market's curve.
//
// Constant product over effective reserves: the pre-fee base output is
// floor(quoteIn * effBase / (effQuote + quoteIn)), which keeps
// effQuote' * effBase' >= k. The fee is retained in the base reserve, so the
// product strictly grows on every fee-bearing trade. Pure function; the
// caller owns persisting PostTrade.
func QuoteBuy(m *domain.Market, quoteIn uint64) (*BuyQuote, error) {
	if m.TradingFrozen() {
		return nil, domain.ErrMarketGraduated
	}
	if quoteIn == 0 {
		return nil, domain.ErrInvalidAmount
	}

	effQuote := m.EffectiveQuoteReserve()
	effBase := m.EffectiveBaseReserve()
	if effQuote == 0 || effBase == 0 {
		return nil, domain.ErrInsufficientReserves
	}

	preFeeOut := mulDiv(quoteIn, effBase, effQuote+quoteIn)
	feeBase := applyFee(preFeeOut, m.FeeRateBps)
	baseOut := preFeeOut - feeBase

	if baseOut == 0 {
		return nil, domain.ErrInvalidAmount
	}
	// The output is served from the virtual base reserve; it must never be
	// drained to zero while the market is still on the curve.
	if baseOut >= m.VirtualBaseReserve {
		return nil, domain.ErrInsufficientReserves
	}

	post := m.Clone()
	post.RealQuoteReserve += quoteIn
	post.VirtualBaseReserve -= baseOut

	return &BuyQuote{
		QuoteIn:     quoteIn,
		BaseOut:     baseOut,
		FeeBase:     feeBase,
		PriceImpact: priceImpact(m.SpotPrice(), float64(quoteIn)/float64(baseOut)),
		PostTrade:   post,
	}, nil
}

// QuoteSell prices baseIn raw base units against the market's curve.
// The payout is drawn from the real quote reserve: a seller can never
// withdraw more value than was actually deposited.
func QuoteSell(m *domain.Market, baseIn uint64) (*SellQuote, error) {
	if m.TradingFrozen() {
		return nil, domain.ErrMarketGraduated
	}
	if baseIn == 0 {
		return nil, domain.ErrInvalidAmount
	}

	effQuote := m.EffectiveQuoteReserve()
	effBase := m.EffectiveBaseReserve()
	if effQuote == 0 || effBase == 0 {
		return nil, domain.ErrInsufficientReserves
	}

	preFeeOut := mulDiv(baseIn, effQuote, effBase+baseIn)
	feeQuote := applyFee(preFeeOut, m.FeeRateBps)
	quoteOut := preFeeOut - feeQuote

	if quoteOut == 0 {
		return nil, domain.ErrInvalidAmount
	}
	if quoteOut >= m.RealQuoteReserve {
		return nil, domain.ErrInsufficientReserves
	}

	post := m.Clone()
	post.VirtualBaseReserve += baseIn
	post.RealQuoteReserve -= quoteOut

	return &SellQuote{
		BaseIn:      baseIn,
		QuoteOut:    quoteOut,
		FeeQuote:    feeQuote,
		PriceImpact: priceImpact(m.SpotPrice(), float64(quoteOut)/float64(baseIn)),
		PostTrade:   post,
	}, nil
}

// K returns the effective constant product for invariant checks.
func K(m *domain.Market) *big.Int {
	q := new(big.Int).SetUint64(m.EffectiveQuoteReserve())
	b := new(big.Int).SetUint64(m.EffectiveBaseReserve())
	return q.Mul(q, b)
}

// mulDiv computes floor(a*b/den) without intermediate overflow.
func mulDiv(a, b, den uint64) uint64 {
	num := new(big.Int).Mul(new(big.Int).SetUint64(a), new(big.Int).SetUint64(b))
	num.Div(num, new(big.Int).SetUint64(den))
	return num.Uint64()
}

// applyFee returns the fee portion of amount at rate basis points, floored.
func applyFee(amount uint64, bps uint16) uint64 {
	return mulDiv(amount, uint64(bps), 10_000)
}

// priceImpact is the signed percentage deviation of the execution price from
// the pre-trade spot price.
func priceImpact(spotBefore, executionPrice float64) float64 {
	if spotBefore == 0 {
		return 0
	}
	return (executionPrice - spotBefore) / spotBefore * 100
}
