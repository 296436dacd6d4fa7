// internal/domain/event.go
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType classifies a parsed ledger transaction against a market.
type TransactionType string

const (
	TxContribution  TransactionType = "contribution"
	TxWithdrawal    TransactionType = "withdrawal"
	TxMarketCreated TransactionType = "market_created"
)

// TransactionStatus is the confirmation status of a parsed transaction.
type TransactionStatus string

const (
	TxConfirmed TransactionStatus = "confirmed"
	TxFailed    TransactionStatus = "failed"
)

// TransactionEvent is one confirmed ledger transaction affecting a market.
// Immutable once recorded; the signature is the dedup key.
type TransactionEvent struct {
	Signature   string          `json:"signature"`
	MarketID    string          `json:"market_id"`
	Type        TransactionType `json:"type"`
	Actor       string          `json:"actor"`
	QuoteAmount uint64          `json:"quote_amount"`
	BaseAmount  uint64          `json:"base_amount,omitempty"`
	Price       float64         `json:"price,omitempty"`
	// PriceApproximate marks prices derived from the last observed curve
	// state rather than the transaction's own transfer legs. Callers must
	// not treat such prices as exact execution prices.
	PriceApproximate bool              `json:"price_approximate,omitempty"`
	PriceImpact      float64           `json:"price_impact,omitempty"`
	BlockTime        time.Time         `json:"block_time"`
	Status           TransactionStatus `json:"status"`
}

// PricePoint is one hour-aligned price bucket: last trade price, summed
// volume and transaction count for the hour. Updated in place while the
// hour is current, never after.
type PricePoint struct {
	BucketTimestamp time.Time `json:"bucket_timestamp"`
	Price           float64   `json:"price"`
	Volume          uint64    `json:"volume"`
	TxCount         int       `json:"tx_count"`
}

// CampaignStats is a read-only aggregate snapshot over a market's cached
// activity. All slices are copies owned by the caller.
type CampaignStats struct {
	MarketID           string             `json:"market_id"`
	TotalVolume        uint64             `json:"total_volume"`
	TotalTransactions  int                `json:"total_transactions"`
	UniqueHolders      int                `json:"unique_holders"`
	AvgTransactionSize float64            `json:"avg_transaction_size"`
	PriceHistory       []PricePoint       `json:"price_history"`
	RecentTransactions []TransactionEvent `json:"recent_transactions"`
}

// Volume24h sums bucket volume over the trailing 24 hours relative to now.
func (s *CampaignStats) Volume24h(now time.Time) uint64 {
	cutoff := now.Add(-24 * time.Hour)
	var total uint64
	for _, p := range s.PriceHistory {
		if !p.BucketTimestamp.Before(cutoff) {
			total += p.Volume
		}
	}
	return total
}

// GraduationEvent records the one-time migration of a market to a liquidity
// venue. Its existence is the graduation record of truth.
type GraduationEvent struct {
	MarketID            string          `json:"market_id"`
	VenueID             string          `json:"venue_id"`
	PoolAddress         string          `json:"pool_address"`
	LPTokensIssued      uint64          `json:"lp_tokens_issued"`
	InitialLiquidityUSD decimal.Decimal `json:"initial_liquidity_usd"`
	OpeningPrice        float64         `json:"opening_price"`
	ExecutedAt          time.Time       `json:"executed_at"`
}
