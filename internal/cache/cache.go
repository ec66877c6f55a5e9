package cache

import (
	"context"
	"errors"

	"github.com/fjod/go_cart/cart-pricing-service/internal/domain"
)

// CartCache is a disposable read replica of persisted carts.
//
// Every Delete bumps the cart's generation. A reader takes the generation
// before loading from storage and passes it to Set, which refuses to write
// once the generation has moved on. A load that raced a mutation therefore
// never lands in the cache.
type CartCache interface {
	Get(ctx context.Context, ref domain.CartRef) (*domain.Cart, error)
	Generation(ctx context.Context, ref domain.CartRef) (int64, error)
	Set(ctx context.Context, ref domain.CartRef, cart *domain.Cart, generation int64) error
	Delete(ctx context.Context, ref domain.CartRef) error
}

var (
	ErrCacheMiss  = errors.New("cache miss")
	ErrStaleWrite = errors.New("cache generation changed")
)
