package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fjod/go_cart/cart-pricing-service/internal/domain"
)

const validateConcurrency = 4

type itemCheck struct {
	pricing *domain.ItemPricing
	err     error
}

// Validate re-checks every line against the catalog, every coupon against
// the current lines and the shipping quote, without writing anything.
// Catalog outages fail the whole call; per-item answers become issues.
func (s *CartService) Validate(ctx context.Context, ref domain.CartRef) (*domain.CartValidation, error) {
	if err := checkRef(ref); err != nil {
		return nil, err
	}
	cart, _, err := s.load(ctx, ref)
	if err != nil {
		return nil, err
	}

	result := domain.NewCartValidation()

	checks := make([]itemCheck, len(cart.Items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(validateConcurrency)
	for i, it := range cart.Items {
		g.Go(func() error {
			p, err := s.catalog.GetItemPricing(gctx, it.ProductID, it.VariantID)
			if err != nil && domain.KindOf(err) != domain.KindNotFound {
				return err
			}
			checks[i] = itemCheck{pricing: p, err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, it := range cart.Items {
		checkItem(result, it, cart.Currency, checks[i])
	}

	if err := s.checkCoupons(ctx, cart, result); err != nil {
		return nil, err
	}
	s.checkShipping(ctx, cart, result)

	return result, nil
}

func checkItem(result *domain.CartValidation, it domain.CartItem, cartCurrency string, check itemCheck) {
	if check.err != nil {
		result.AddError(domain.ValidationIssue{
			Code:    domain.CodeProductNotFound,
			ItemID:  it.ID,
			Message: fmt.Sprintf("product %s is no longer sold", it.ProductID),
		})
		return
	}
	p := check.pricing

	if !p.InStock {
		result.AddError(domain.ValidationIssue{
			Code:    domain.CodeItemUnavailable,
			ItemID:  it.ID,
			Message: fmt.Sprintf("product %s is out of stock", it.ProductID),
		})
		return
	}
	if p.MaxQuantity > 0 && it.Quantity > p.MaxQuantity {
		result.AddError(domain.ValidationIssue{
			Code:    domain.CodeInvalidQuantity,
			ItemID:  it.ID,
			Message: fmt.Sprintf("only %d of product %s available", p.MaxQuantity, it.ProductID),
		})
	}
	if p.Currency != cartCurrency {
		result.AddError(domain.ValidationIssue{
			Code:    domain.CodeCurrencyMismatch,
			ItemID:  it.ID,
			Message: fmt.Sprintf("product %s is now priced in %s", it.ProductID, p.Currency),
		})
		return
	}
	if p.UnitPrice != it.UnitPrice {
		result.AddWarning(domain.ValidationIssue{
			Code:    domain.IssuePriceChanged,
			ItemID:  it.ID,
			Message: fmt.Sprintf("price of product %s changed from %d to %d", it.ProductID, it.UnitPrice, p.UnitPrice),
		})
	}
}

func (s *CartService) checkCoupons(ctx context.Context, cart *domain.Cart, result *domain.CartValidation) error {
	kept, dropped, err := s.repriceCoupons(ctx, cart)
	if err != nil {
		return err
	}
	for _, ac := range dropped {
		result.AddError(domain.ValidationIssue{
			Code:     domain.IssueCouponInvalid,
			CouponID: ac.ID,
			Message:  fmt.Sprintf("coupon %s no longer applies to this cart", ac.Code),
		})
	}

	stored := make(map[string]int64, len(cart.AppliedCoupons))
	for _, ac := range cart.AppliedCoupons {
		stored[ac.ID] = ac.DiscountAmount
	}
	for _, ac := range kept {
		if prev := stored[ac.ID]; prev != ac.DiscountAmount {
			result.AddWarning(domain.ValidationIssue{
				Code:     domain.IssueDiscountChanged,
				CouponID: ac.ID,
				Message:  fmt.Sprintf("discount of coupon %s changed from %d to %d", ac.Code, prev, ac.DiscountAmount),
			})
		}
	}
	return nil
}

func (s *CartService) checkShipping(ctx context.Context, cart *domain.Cart, result *domain.CartValidation) {
	sel := cart.ShippingSelection
	if sel == nil || cart.IsEmpty() {
		return
	}

	quote, err := s.shipping.Quote(ctx, sel.MethodID, sel.Destination, cart.Packages())
	if err != nil {
		s.logger.Warn("shipping re-quote failed during validation", zap.String("cart", cart.Ref().String()), zap.Error(err))
		result.AddError(domain.ValidationIssue{
			Code:    domain.CodeShippingUnavailable,
			Message: fmt.Sprintf("shipping method %s can no longer be quoted", sel.MethodID),
		})
		return
	}
	if quote.Currency != sel.Currency || quote.Cost != sel.Cost {
		result.AddWarning(domain.ValidationIssue{
			Code:    domain.IssueShippingChanged,
			Message: fmt.Sprintf("shipping cost changed from %d %s to %d %s", sel.Cost, sel.Currency, quote.Cost, quote.Currency),
		})
	}
}
