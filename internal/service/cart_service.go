package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/fjod/go_cart/cart-pricing-service/internal/cache"
	"github.com/fjod/go_cart/cart-pricing-service/internal/coupon"
	"github.com/fjod/go_cart/cart-pricing-service/internal/currency"
	"github.com/fjod/go_cart/cart-pricing-service/internal/domain"
	"github.com/fjod/go_cart/cart-pricing-service/internal/exchange"
	"github.com/fjod/go_cart/cart-pricing-service/internal/reconcile"
	"github.com/fjod/go_cart/cart-pricing-service/internal/repository"
)

// Catalog is the product pricing collaborator.
type Catalog interface {
	GetItemPricing(ctx context.Context, productID string, variantID *string) (*domain.ItemPricing, error)
}

// Shipping quotes a price for a method and destination.
type Shipping interface {
	Quote(ctx context.Context, methodID string, dest domain.Destination, packages []domain.Package) (*domain.ShippingQuote, error)
}

type Dependencies struct {
	Repo        repository.CartRepository
	Cache       cache.CartCache
	Redemptions repository.RedemptionRepository
	Catalog     Catalog
	Shipping    Shipping
	Coupons     *coupon.Engine
	Reconciler  *reconcile.Reconciler
	Currencies  *currency.Catalog
	Resolver    *exchange.Resolver
	Formatter   *currency.Formatter
	Logger      *zap.Logger
}

// CartService is the only writer of carts. Every mutation reads the stored
// cart, applies the change to a copy, recomputes all totals and writes the
// whole document back. The last write wins.
type CartService struct {
	repo        repository.CartRepository
	cache       cache.CartCache
	redemptions repository.RedemptionRepository
	catalog     Catalog
	shipping    Shipping
	coupons     *coupon.Engine
	reconciler  *reconcile.Reconciler
	currencies  *currency.Catalog
	resolver    *exchange.Resolver
	formatter   *currency.Formatter
	logger      *zap.Logger
	validate    *validator.Validate
	sfg         singleflight.Group // Prevents cache stampede
	now         func() time.Time
	newID       func() string
}

func NewCartService(deps Dependencies) *CartService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CartService{
		repo:        deps.Repo,
		cache:       deps.Cache,
		redemptions: deps.Redemptions,
		catalog:     deps.Catalog,
		shipping:    deps.Shipping,
		coupons:     deps.Coupons,
		reconciler:  deps.Reconciler,
		currencies:  deps.Currencies,
		resolver:    deps.Resolver,
		formatter:   deps.Formatter,
		logger:      logger,
		validate:    validator.New(),
		now:         time.Now,
		newID:       func() string { return uuid.New().String() },
	}
}

func checkRef(ref domain.CartRef) error {
	if !ref.Valid() {
		return domain.NewValidation(domain.CodeInvalidArgument, "owner", "a user id or guest token is required")
	}
	return nil
}

// GetCart serves from the cache when possible. A missing cart is returned
// empty and is not persisted.
func (s *CartService) GetCart(ctx context.Context, ref domain.CartRef) (*domain.Cart, error) {
	if err := checkRef(ref); err != nil {
		return nil, err
	}

	// Use singleflight to prevent multiple concurrent cache misses for same key
	v, err, _ := s.sfg.Do(ref.String(), func() (interface{}, error) {
		cart, err := s.cache.Get(ctx, ref)
		if err == nil {
			return cart, nil
		}

		if !errors.Is(err, cache.ErrCacheMiss) {
			s.logger.Warn("cache get error", zap.String("cart", ref.String()), zap.Error(err))
		}

		// taken before the load so a concurrent invalidation voids the write-back
		gen, errGen := s.cache.Generation(ctx, ref)
		cart, errGet := s.repo.Load(ctx, ref)
		if errors.Is(errGet, repository.ErrCartNotFound) {
			return domain.NewCart(s.newID(), ref, s.now()), nil
		}
		if errGet != nil {
			return nil, errGet
		}
		if errGen != nil {
			s.logger.Warn("cache generation error", zap.String("cart", ref.String()), zap.Error(errGen))
			return cart, nil
		}

		go func() {
			errSet := s.cache.Set(context.Background(), ref, cart, gen)
			switch {
			case errors.Is(errSet, cache.ErrStaleWrite):
				s.logger.Debug("skipping stale cache write", zap.String("cart", ref.String()))
			case errSet != nil:
				s.logger.Warn("cache set error", zap.String("cart", ref.String()), zap.Error(errSet))
			}
		}()

		return cart, nil
	})
	if err != nil {
		return nil, err
	}

	// singleflight hands the same pointer to every waiter
	return v.(*domain.Cart).Clone(), nil
}

// load reads the authoritative cart, bypassing the cache. exists reports
// whether the cart was found in storage.
func (s *CartService) load(ctx context.Context, ref domain.CartRef) (cart *domain.Cart, exists bool, err error) {
	cart, err = s.repo.Load(ctx, ref)
	if errors.Is(err, repository.ErrCartNotFound) {
		return domain.NewCart(s.newID(), ref, s.now()), false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load cart: %w", err)
	}
	return cart, true, nil
}

// mutation edits cart in place and reports whether anything changed.
type mutation func(ctx context.Context, cart *domain.Cart) (bool, error)

// mutate is all-or-nothing: the stored cart is only replaced when every step
// including recomputation succeeded. An unchanged cart is not written.
func (s *CartService) mutate(ctx context.Context, ref domain.CartRef, op string, fn mutation) (*domain.Cart, error) {
	if err := checkRef(ref); err != nil {
		return nil, err
	}

	current, _, err := s.load(ctx, ref)
	if err != nil {
		return nil, err
	}

	cart := current.Clone()
	changed, err := fn(ctx, cart)
	if err != nil {
		return nil, err
	}
	if !changed {
		return current, nil
	}

	if err := s.recompute(ctx, cart); err != nil {
		return nil, err
	}
	cart.UpdatedAt = s.now()

	if err := s.repo.Save(ctx, cart); err != nil {
		s.logger.Error("repo save cart error", zap.String("op", op), zap.String("cart", ref.String()), zap.Error(err))
		return nil, fmt.Errorf("save cart: %w", err)
	}

	s.invalidateCache(ref)
	return cart, nil
}

// recompute re-evaluates every applied coupon against the current items and
// refreshes all totals.
func (s *CartService) recompute(ctx context.Context, cart *domain.Cart) error {
	if cart.IsEmpty() {
		cart.ShippingSelection = nil
	}
	if err := cart.CheckAmounts(); err != nil {
		return err
	}

	kept, dropped, err := s.repriceCoupons(ctx, cart)
	if err != nil {
		return err
	}
	for _, ac := range dropped {
		s.logger.Info("dropping coupon that no longer applies",
			zap.String("cart", cart.Ref().String()),
			zap.String("code", ac.Code))
	}

	cart.AppliedCoupons = kept
	cart.ApplyTotals()
	return nil
}

// repriceCoupons returns the coupons that still apply with their discounts
// recomputed in application order. Merchandise discounts share the subtotal
// and shipping discounts share the shipping cost, so neither pool can go
// negative.
func (s *CartService) repriceCoupons(ctx context.Context, cart *domain.Cart) (kept, dropped []domain.AppliedCoupon, err error) {
	var merchandise int64
	for _, it := range cart.Items {
		merchandise += it.LineTotal()
	}
	var shipping int64
	if cart.ShippingSelection != nil {
		shipping = cart.ShippingSelection.Cost
	}

	kept = make([]domain.AppliedCoupon, 0, len(cart.AppliedCoupons))
	for _, ac := range cart.AppliedCoupons {
		d, keep, err := s.coupons.Reevaluate(ctx, cart, ac)
		if err != nil {
			return nil, nil, fmt.Errorf("re-evaluate coupon %s: %w", ac.Code, err)
		}
		if !keep {
			dropped = append(dropped, ac)
			continue
		}

		amount := d.DiscountAmount
		if ac.Type == domain.CouponFreeShipping {
			amount = min(amount, shipping)
			shipping -= amount
		} else {
			amount = min(amount, merchandise)
			merchandise -= amount
		}
		ac.DiscountAmount = amount
		ac.AppliesToItemIDs = d.AppliesToItemIDs
		kept = append(kept, ac)
	}
	return kept, dropped, nil
}

func (s *CartService) invalidateCache(ref domain.CartRef) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.cache.Delete(ctx, ref); err != nil {
		s.logger.Warn("cache invalidate error", zap.String("cart", ref.String()), zap.Error(err))
	}
}

func customerID(ref domain.CartRef) string {
	if ref.OwnerKind == domain.OwnerUser {
		return ref.OwnerID
	}
	return ""
}
