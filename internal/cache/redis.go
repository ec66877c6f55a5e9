package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fjod/go_cart/cart-pricing-service/internal/domain"
)

// generationTTL outlives any cached cart so a reset counter cannot match a
// generation read before the reset.
const generationTTL = 24 * time.Hour

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{
		client:  client,
		baseTTL: 15 * time.Minute,
	}
}

type RedisCache struct {
	client  *redis.Client
	baseTTL time.Duration
}

func (r *RedisCache) Get(ctx context.Context, ref domain.CartRef) (*domain.Cart, error) {
	data, err := r.client.Get(ctx, cacheKey(ref)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var cart domain.Cart
	if err2 := json.Unmarshal(data, &cart); err2 != nil {
		return nil, fmt.Errorf("unmarshal cart failed: %w", err2)
	}

	return &cart, nil
}

func (r *RedisCache) Generation(ctx context.Context, ref domain.CartRef) (int64, error) {
	gen, err := r.client.Get(ctx, generationKey(ref)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get generation failed: %w", err)
	}
	return gen, nil
}

// Set stores cart only while the generation key still holds generation.
func (r *RedisCache) Set(ctx context.Context, ref domain.CartRef, cart *domain.Cart, generation int64) error {
	jsonCart, err := json.Marshal(cart)
	if err != nil {
		return fmt.Errorf("marshal cart failed: %w", err)
	}

	jitter := time.Duration(rand.Intn(5)) * time.Minute
	ttl := r.baseTTL + jitter
	genKey := generationKey(ref)

	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, genKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != generation {
			return ErrStaleWrite
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, cacheKey(ref), jsonCart, ttl)
			return nil
		})
		return err
	}, genKey)

	switch {
	case errors.Is(err, ErrStaleWrite), errors.Is(err, redis.TxFailedErr):
		return ErrStaleWrite
	case err != nil:
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (r *RedisCache) Delete(ctx context.Context, ref domain.CartRef) error {
	genKey := generationKey(ref)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, cacheKey(ref))
		pipe.Incr(ctx, genKey)
		pipe.Expire(ctx, genKey, generationTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}

	return nil
}

func cacheKey(ref domain.CartRef) string {
	return fmt.Sprintf("cart:%s:%s", ref.OwnerKind, ref.OwnerID)
}

func generationKey(ref domain.CartRef) string {
	return fmt.Sprintf("cartgen:%s:%s", ref.OwnerKind, ref.OwnerID)
}
