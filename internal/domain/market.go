// internal/domain/market.go
package domain

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// MarketState is the lifecycle state of a bonding-curve market.
// Transitions only ever move forward; Graduated is terminal.
type MarketState string

const (
	StateTrading    MarketState = "trading"
	StateEligible   MarketState = "eligible"
	StateGraduating MarketState = "graduating"
	StateGraduated  MarketState = "graduated"
)

// validTransitions encodes the one-way state machine. The single backward
// edge (Graduating -> Eligible) is the failure revert of a graduation
// attempt; a market is never left stuck in Graduating.
var validTransitions = map[MarketState][]MarketState{
	StateTrading:    {StateEligible},
	StateEligible:   {StateGraduating},
	StateGraduating: {StateGraduated, StateEligible},
	StateGraduated:  {},
}

// CanTransitionTo reports whether moving from s to next is a legal transition.
func (s MarketState) CanTransitionTo(next MarketState) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether the state admits no further transitions.
func (s MarketState) Terminal() bool {
	return s == StateGraduated
}

// GraduationThresholds are the eligibility gates for leaving the curve.
// All four must hold simultaneously.
type GraduationThresholds struct {
	MarketCapUSD    decimal.Decimal `json:"market_cap_usd"`
	LiquidityUSD    decimal.Decimal `json:"liquidity_usd"`
	MinHolders      int             `json:"min_holders"`
	MinVolume24hUSD decimal.Decimal `json:"min_volume_24h_usd"`
}

// Market is the bonding-curve state for one launched token.
//
// Pricing uses effective reserves (virtual + real). A contribution credits
// RealQuoteReserve (the actual deposited value) and debits VirtualBaseReserve;
// a withdrawal does the reverse. Real quote reserve is therefore always the
// upper bound on value that can leave the curve, matching the on-ledger
// program's raised-amount accounting.
type Market struct {
	ID                  string               `json:"id"`
	Name                string               `json:"name"`
	TokenSymbol         string               `json:"token_symbol"`
	Description         string               `json:"description,omitempty"`
	Creator             string               `json:"creator"`
	TargetAmount        uint64               `json:"target_amount,omitempty"`
	Address             solana.PublicKey     `json:"address"`
	BaseMint            solana.PublicKey     `json:"base_mint"`
	QuoteMint           solana.PublicKey     `json:"quote_mint"`
	VirtualBaseReserve  uint64               `json:"virtual_base_reserve"`
	VirtualQuoteReserve uint64               `json:"virtual_quote_reserve"`
	RealBaseReserve     uint64               `json:"real_base_reserve"`
	RealQuoteReserve    uint64               `json:"real_quote_reserve"`
	TotalSupply         uint64               `json:"total_supply"`
	FeeRateBps          uint16               `json:"fee_rate_bps"`
	Thresholds          GraduationThresholds `json:"thresholds"`
	State               MarketState          `json:"state"`
	CreatedAt           int64                `json:"created_at"`
}

// EffectiveQuoteReserve returns the quote-side reserve used for pricing.
func (m *Market) EffectiveQuoteReserve() uint64 {
	return m.VirtualQuoteReserve + m.RealQuoteReserve
}

// EffectiveBaseReserve returns the base-side reserve used for pricing.
func (m *Market) EffectiveBaseReserve() uint64 {
	return m.VirtualBaseReserve + m.RealBaseReserve
}

// SpotPrice is the instantaneous curve price in raw quote units per raw base unit.
func (m *Market) SpotPrice() float64 {
	base := m.EffectiveBaseReserve()
	if base == 0 {
		return 0
	}
	return float64(m.EffectiveQuoteReserve()) / float64(base)
}

// TransitionTo validates and applies a state transition in place.
func (m *Market) TransitionTo(next MarketState) error {
	if m.State == next {
		return nil
	}
	if !m.State.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.State, next)
	}
	m.State = next
	return nil
}

// TradingFrozen reports whether curve trading is disabled for the market.
// Trading freezes the moment a graduation attempt starts and never resumes.
func (m *Market) TradingFrozen() bool {
	return m.State == StateGraduating || m.State == StateGraduated
}

// Clone returns a deep copy safe to hand to external readers.
func (m *Market) Clone() *Market {
	cp := *m
	return &cp
}
