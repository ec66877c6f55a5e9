package service

import (
	"context"
	"fmt"

	"github.com/fjod/go_cart/cart-pricing-service/internal/domain"
)

// ApplyCoupon evaluates code against a snapshot of the cart. A rejected code
// leaves the cart untouched and returns the rule that failed.
func (s *CartService) ApplyCoupon(ctx context.Context, ref domain.CartRef, code string) (*domain.Cart, error) {
	return s.mutate(ctx, ref, "apply_coupon", func(ctx context.Context, cart *domain.Cart) (bool, error) {
		decision, err := s.coupons.Evaluate(ctx, cart.Clone(), code, customerID(ref))
		if err != nil {
			return false, err
		}
		cart.AppliedCoupons = append(cart.AppliedCoupons, decision.Applied(s.now()))
		return true, nil
	})
}

func (s *CartService) RemoveCoupon(ctx context.Context, ref domain.CartRef, appliedID string) (*domain.Cart, error) {
	return s.mutate(ctx, ref, "remove_coupon", func(_ context.Context, cart *domain.Cart) (bool, error) {
		idx, ok := cart.FindCoupon(appliedID)
		if !ok {
			return false, &domain.Error{
				Kind:    domain.KindNotFound,
				Code:    domain.CodeCouponNotFound,
				Field:   "coupon_id",
				Message: fmt.Sprintf("coupon %s is not applied to the cart", appliedID),
			}
		}
		cart.AppliedCoupons = append(cart.AppliedCoupons[:idx], cart.AppliedCoupons[idx+1:]...)
		return true, nil
	})
}

// SetShippingMethod stores the collaborator's quote for the current packages.
func (s *CartService) SetShippingMethod(ctx context.Context, ref domain.CartRef, methodID string, dest domain.Destination) (*domain.Cart, error) {
	if methodID == "" {
		return nil, domain.NewValidation(domain.CodeInvalidArgument, "method_id", "shipping method is required")
	}
	if err := s.validate.Struct(dest); err != nil {
		return nil, domain.NewValidation(domain.CodeInvalidArgument, "destination", "destination is incomplete: "+err.Error())
	}

	return s.mutate(ctx, ref, "set_shipping", func(ctx context.Context, cart *domain.Cart) (bool, error) {
		if cart.IsEmpty() {
			return false, domain.NewValidation(domain.CodeInvalidArgument, "cart", "cannot ship an empty cart")
		}

		quote, err := s.shipping.Quote(ctx, methodID, dest, cart.Packages())
		if err != nil {
			return false, err
		}
		if quote.Currency != cart.Currency {
			return false, domain.NewUnavailable(domain.CodeShippingUnavailable,
				fmt.Sprintf("shipping was quoted in %s but the cart is in %s", quote.Currency, cart.Currency), nil)
		}

		cart.ShippingSelection = &domain.ShippingSelection{
			MethodID:    methodID,
			Destination: dest,
			Cost:        quote.Cost,
			Currency:    quote.Currency,
		}
		return true, nil
	})
}
