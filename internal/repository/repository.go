package repository

import (
	"context"
	"errors"
	"time"

	"github.com/fjod/go_cart/cart-pricing-service/internal/domain"
)

var ErrCartNotFound = errors.New("cart not found")

// CartRepository persists whole cart documents keyed by owner.
// Consumers define this interface, not the MongoDB implementation
type CartRepository interface {
	Load(ctx context.Context, ref domain.CartRef) (*domain.Cart, error)
	Save(ctx context.Context, cart *domain.Cart) error
	Delete(ctx context.Context, ref domain.CartRef) error
}

// CurrencyRepository is the source of the currency catalog.
type CurrencyRepository interface {
	ListCurrencies(ctx context.Context) ([]domain.Currency, error)
}

// RedemptionRepository records coupon redemptions at checkout.
type RedemptionRepository interface {
	RecordRedemption(ctx context.Context, couponID, customerID, orderRef string, at time.Time) error
}

type Credentials struct {
	Host              string
	Port              int
	User              string
	Password          string
	DBName            string
	MigrationsDirPath string
}
