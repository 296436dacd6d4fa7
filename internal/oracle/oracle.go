// internal/oracle/oracle.go
package oracle

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DefaultTTL is how long a fetched quote-asset USD price stays fresh.
const DefaultTTL = 5 * time.Minute

// Source fetches the USD price of the quote asset from an external feed.
type Source interface {
	QuoteAssetUSDPrice(ctx context.Context) (decimal.Decimal, error)
}

// Cached wraps a Source with a TTL cache and a fallback. Price never fails:
// on source errors it serves the last known value, or the configured
// fallback if nothing was ever fetched. Oracle unavailability is logged,
// never surfaced.
type Cached struct {
	source   Source
	ttl      time.Duration
	fallback decimal.Decimal
	logger   *zap.Logger

	mu        sync.Mutex
	last      decimal.Decimal
	fetchedAt time.Time
}

// NewCached builds the caching layer. A zero ttl uses DefaultTTL.
func NewCached(source Source, ttl time.Duration, fallback decimal.Decimal, logger *zap.Logger) *Cached {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cached{
		source:   source,
		ttl:      ttl,
		fallback: fallback,
		logger:   logger.Named("oracle"),
	}
}

// Price returns the current quote-asset USD price.
func (c *Cached) Price(ctx context.Context) decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.fetchedAt.IsZero() && time.Since(c.fetchedAt) < c.ttl {
		return c.last
	}

	price, err := c.source.QuoteAssetUSDPrice(ctx)
	if err != nil || !price.IsPositive() {
		if !c.fetchedAt.IsZero() {
			c.logger.Warn("Oracle fetch failed, serving last known price",
				zap.String("last", c.last.String()),
				zap.Error(err))
			return c.last
		}
		c.logger.Warn("Oracle fetch failed, serving fallback price",
			zap.String("fallback", c.fallback.String()),
			zap.Error(err))
		return c.fallback
	}

	c.last = price
	c.fetchedAt = time.Now()
	return price
}
