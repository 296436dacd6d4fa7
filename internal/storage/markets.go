// internal/storage/markets.go
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/launchfund/engine/internal/domain"
)

const (
	marketKeyPrefix     = "market/"
	graduationKeyPrefix = "graduation/"
)

// MarketStore persists Market records as JSON over an injected Store.
type MarketStore struct {
	store Store
}

// NewMarketStore wraps a Store with market encoding.
func NewMarketStore(store Store) *MarketStore {
	return &MarketStore{store: store}
}

// Get loads one market. Returns domain.ErrMarketNotFound for unknown ids.
func (s *MarketStore) Get(ctx context.Context, marketID string) (*domain.Market, error) {
	raw, err := s.store.Get(ctx, marketKeyPrefix+marketID)
	if errors.Is(err, ErrNotFound) {
		return nil, domain.ErrMarketNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load market %s: %w", marketID, err)
	}

	var m domain.Market
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode market %s: %w", marketID, err)
	}
	return &m, nil
}

// Put writes one market, replacing any previous record.
func (s *MarketStore) Put(ctx context.Context, m *domain.Market) error {
	if m == nil || m.ID == "" {
		return ErrInvalidInput
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode market %s: %w", m.ID, err)
	}
	return s.store.Set(ctx, marketKeyPrefix+m.ID, raw)
}

// List loads every stored market.
func (s *MarketStore) List(ctx context.Context) ([]*domain.Market, error) {
	keys, err := s.store.List(ctx, marketKeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("list markets: %w", err)
	}

	markets := make([]*domain.Market, 0, len(keys))
	for _, key := range keys {
		raw, err := s.store.Get(ctx, key)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", key, err)
		}
		var m domain.Market
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", key, err)
		}
		markets = append(markets, &m)
	}
	return markets, nil
}

// GraduationStore persists the one GraduationEvent per market.
type GraduationStore struct {
	store Store
}

// NewGraduationStore wraps a Store with graduation-event encoding.
func NewGraduationStore(store Store) *GraduationStore {
	return &GraduationStore{store: store}
}

// Get loads the graduation record for a market, or ErrNotFound.
func (s *GraduationStore) Get(ctx context.Context, marketID string) (*domain.GraduationEvent, error) {
	raw, err := s.store.Get(ctx, graduationKeyPrefix+marketID)
	if err != nil {
		return nil, err
	}
	var ev domain.GraduationEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("decode graduation %s: %w", marketID, err)
	}
	return &ev, nil
}

// Put records a graduation event. A market graduates exactly once; writing a
// second record for the same market is rejected.
func (s *GraduationStore) Put(ctx context.Context, ev *domain.GraduationEvent) error {
	if ev == nil || ev.MarketID == "" {
		return ErrInvalidInput
	}
	if _, err := s.Get(ctx, ev.MarketID); err == nil {
		return fmt.Errorf("graduation already recorded for market %s", ev.MarketID)
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode graduation %s: %w", ev.MarketID, err)
	}
	return s.store.Set(ctx, graduationKeyPrefix+ev.MarketID, raw)
}
