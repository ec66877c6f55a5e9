package coupon

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fjod/go_cart/cart-pricing-service/internal/domain"
)

// Store is the read side of coupon definitions and their redemption counts.
type Store interface {
	FindCouponByCode(ctx context.Context, code string) (*domain.Coupon, error)
	CouponUsage(ctx context.Context, couponID, customerID string) (domain.CouponUsage, error)
}

// Decision is a successful evaluation of a coupon against a cart snapshot.
type Decision struct {
	Coupon           *domain.Coupon
	DiscountAmount   int64
	AppliesToItemIDs []string
}

func (d Decision) Applied(now time.Time) domain.AppliedCoupon {
	return domain.AppliedCoupon{
		ID:               uuid.New().String(),
		CouponID:         d.Coupon.ID,
		Code:             d.Coupon.Code,
		Type:             d.Coupon.Type,
		DiscountAmount:   d.DiscountAmount,
		AppliesToItemIDs: d.AppliesToItemIDs,
		Stackable:        d.Coupon.Stackable,
		ExcludedCodes:    d.Coupon.ExcludedCodes,
		AppliedAt:        now,
	}
}

type Engine struct {
	store Store
	now   func() time.Time
}

func NewEngine(store Store) *Engine {
	return &Engine{store: store, now: time.Now}
}

func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Evaluate validates code against the cart in order: existence and activity,
// validity window, usage limits, qualifying minimums, then stacking rules.
// The cart is not modified.
func (e *Engine) Evaluate(ctx context.Context, cart *domain.Cart, code, customerID string) (Decision, error) {
	code = NormalizeCode(code)
	if code == "" {
		return Decision{}, domain.NewValidation(domain.CodeInvalidArgument, "code", "coupon code is required")
	}

	c, err := e.store.FindCouponByCode(ctx, code)
	if err != nil {
		return Decision{}, err
	}
	if err := e.checkAvailability(c); err != nil {
		return Decision{}, err
	}

	usage, err := e.store.CouponUsage(ctx, c.ID, customerID)
	if err != nil {
		return Decision{}, fmt.Errorf("load coupon usage: %w", err)
	}
	if c.UsageLimit != nil && usage.Total >= *c.UsageLimit {
		return Decision{}, domain.NewConflict(domain.CodeUsageLimitExceeded, "coupon usage limit reached")
	}
	if c.PerCustomerLimit != nil && customerID != "" && usage.ByCustomer >= *c.PerCustomerLimit {
		return Decision{}, domain.NewConflict(domain.CodeCustomerLimit, "coupon already used the maximum number of times")
	}

	decision, err := Decide(cart, c)
	if err != nil {
		return Decision{}, err
	}
	if err := checkStacking(cart, c); err != nil {
		return Decision{}, err
	}
	return decision, nil
}

// Reevaluate recomputes an already applied coupon against the current items.
// keep is false when the coupon no longer exists, is outside its window, or
// its minimum condition is no longer met.
func (e *Engine) Reevaluate(ctx context.Context, cart *domain.Cart, applied domain.AppliedCoupon) (Decision, bool, error) {
	c, err := e.store.FindCouponByCode(ctx, applied.Code)
	if err != nil {
		if domain.KindOf(err) == domain.KindNotFound {
			return Decision{}, false, nil
		}
		return Decision{}, false, err
	}
	if e.checkAvailability(c) != nil {
		return Decision{}, false, nil
	}
	decision, err := Decide(cart, c)
	if err != nil {
		return Decision{}, false, nil
	}
	return decision, true, nil
}

func (e *Engine) checkAvailability(c *domain.Coupon) error {
	if !c.IsActive {
		return domain.NewValidation(domain.CodeCouponInactive, "code", "coupon is not active")
	}
	now := e.now()
	if c.StartsAt != nil && now.Before(*c.StartsAt) {
		return domain.NewValidation(domain.CodeCouponNotStarted, "code", "coupon is not valid yet")
	}
	if c.ExpiresAt != nil && !now.Before(*c.ExpiresAt) {
		return domain.NewValidation(domain.CodeCouponExpired, "code", "coupon has expired")
	}
	return nil
}

// checkStacking rejects when either side forbids combining. When a coupon is
// both non-stackable and excluded, non-stackable is reported.
func checkStacking(cart *domain.Cart, c *domain.Coupon) error {
	for _, applied := range cart.AppliedCoupons {
		if applied.Code == c.Code {
			return domain.NewConflict(domain.CodeCouponAlreadyUsed, "coupon is already applied")
		}
	}
	for _, applied := range cart.AppliedCoupons {
		if !applied.Stackable {
			return domain.NewConflict(domain.CodeCouponNotStackable,
				fmt.Sprintf("coupon %s cannot be combined with other coupons", applied.Code))
		}
		if !c.Stackable {
			return domain.NewConflict(domain.CodeCouponNotStackable,
				fmt.Sprintf("coupon %s cannot be combined with other coupons", c.Code))
		}
	}
	for _, applied := range cart.AppliedCoupons {
		if slices.Contains(applied.ExcludedCodes, c.Code) || slices.Contains(c.ExcludedCodes, applied.Code) {
			return domain.NewConflict(domain.CodeCouponExcluded,
				fmt.Sprintf("coupon %s cannot be combined with %s", c.Code, applied.Code))
		}
	}
	return nil
}
