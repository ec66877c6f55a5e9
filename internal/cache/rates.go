package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fjod/go_cart/cart-pricing-service/internal/domain"
)

const ratesKey = "rates:snapshot"

// ErrNoSnapshot is returned when no rate set was ever saved.
var ErrNoSnapshot = errors.New("no rate snapshot")

type rateSnapshot struct {
	RefreshedAt time.Time             `json:"refreshed_at"`
	Rates       []domain.ExchangeRate `json:"rates"`
}

// RateStore keeps the last good exchange-rate set so a restarted instance
// can serve conversions before its first refresh succeeds.
type RateStore struct {
	client *redis.Client
}

func NewRateStore(client *redis.Client) *RateStore {
	return &RateStore{client: client}
}

func (s *RateStore) SaveRates(ctx context.Context, rates []domain.ExchangeRate, refreshedAt time.Time) error {
	data, err := json.Marshal(rateSnapshot{RefreshedAt: refreshedAt, Rates: rates})
	if err != nil {
		return fmt.Errorf("marshal rates failed: %w", err)
	}
	if err := s.client.Set(ctx, ratesKey, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (s *RateStore) LoadRates(ctx context.Context) ([]domain.ExchangeRate, time.Time, error) {
	data, err := s.client.Get(ctx, ratesKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, time.Time{}, ErrNoSnapshot
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("redis get failed: %w", err)
	}

	var snap rateSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, time.Time{}, fmt.Errorf("unmarshal rates failed: %w", err)
	}
	return snap.Rates, snap.RefreshedAt, nil
}
