package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/fjod/go_cart/cart-pricing-service/internal/domain"
)

// AddItem snapshots the current catalog price into the cart. Adding a key
// that is already present bumps its quantity, clamped to stock and to
// domain.MaxLineQuantity.
func (s *CartService) AddItem(ctx context.Context, ref domain.CartRef, productID string, variantID *string, quantity int) (*domain.Cart, error) {
	if quantity < 1 || quantity > domain.MaxLineQuantity {
		return nil, invalidQuantity()
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return nil, domain.NewValidation(domain.CodeInvalidArgument, "product_id", "product id is required")
	}
	if variantID != nil && strings.TrimSpace(*variantID) == "" {
		variantID = nil
	}

	return s.mutate(ctx, ref, "add_item", func(ctx context.Context, cart *domain.Cart) (bool, error) {
		pricing, err := s.lookupPricing(ctx, cart, productID, variantID)
		if err != nil {
			return false, err
		}

		if idx, ok := cart.FindByKey(domain.KeyOf(productID, variantID)); ok {
			item := &cart.Items[idx]
			item.Quantity = pricing.Clamp(item.Quantity + quantity)
			snapshotPrice(item, pricing)
			return true, nil
		}

		if cart.IsEmpty() {
			cart.Currency = pricing.Currency
		}
		item := domain.CartItem{
			ID:        s.newID(),
			ProductID: productID,
			VariantID: variantID,
			Quantity:  pricing.Clamp(quantity),
			AddedAt:   s.now(),
		}
		snapshotPrice(&item, pricing)
		cart.Items = append(cart.Items, item)
		return true, nil
	})
}

// UpdateItem sets a line's quantity and refreshes its price snapshot.
// A quantity of zero or less removes the line.
func (s *CartService) UpdateItem(ctx context.Context, ref domain.CartRef, itemID string, quantity int) (*domain.Cart, error) {
	if quantity > domain.MaxLineQuantity {
		return nil, invalidQuantity()
	}
	return s.mutate(ctx, ref, "update_item", func(ctx context.Context, cart *domain.Cart) (bool, error) {
		idx, ok := cart.FindItem(itemID)
		if !ok {
			return false, &domain.Error{
				Kind:    domain.KindNotFound,
				Code:    domain.CodeItemNotFound,
				Field:   "item_id",
				Message: fmt.Sprintf("item %s is not in the cart", itemID),
			}
		}
		if quantity <= 0 {
			cart.Items = append(cart.Items[:idx], cart.Items[idx+1:]...)
			return true, nil
		}

		item := &cart.Items[idx]
		pricing, err := s.lookupPricing(ctx, cart, item.ProductID, item.VariantID)
		if err != nil {
			return false, err
		}
		item.Quantity = pricing.Clamp(quantity)
		snapshotPrice(item, pricing)
		return true, nil
	})
}

// RemoveItem is idempotent: removing an absent line writes nothing.
func (s *CartService) RemoveItem(ctx context.Context, ref domain.CartRef, itemID string) (*domain.Cart, error) {
	return s.mutate(ctx, ref, "remove_item", func(_ context.Context, cart *domain.Cart) (bool, error) {
		idx, ok := cart.FindItem(itemID)
		if !ok {
			return false, nil
		}
		cart.Items = append(cart.Items[:idx], cart.Items[idx+1:]...)
		return true, nil
	})
}

// ClearCart drops items, coupons and the shipping selection.
func (s *CartService) ClearCart(ctx context.Context, ref domain.CartRef) (*domain.Cart, error) {
	return s.mutate(ctx, ref, "clear_cart", func(_ context.Context, cart *domain.Cart) (bool, error) {
		if cart.IsEmpty() && len(cart.AppliedCoupons) == 0 && cart.ShippingSelection == nil {
			return false, nil
		}
		cart.Items = []domain.CartItem{}
		cart.AppliedCoupons = []domain.AppliedCoupon{}
		cart.ShippingSelection = nil
		return true, nil
	})
}

func invalidQuantity() error {
	return domain.NewValidation(domain.CodeInvalidQuantity, "quantity",
		fmt.Sprintf("quantity must be between 1 and %d", domain.MaxLineQuantity))
}

// lookupPricing fetches current pricing and checks it can go into cart.
func (s *CartService) lookupPricing(ctx context.Context, cart *domain.Cart, productID string, variantID *string) (*domain.ItemPricing, error) {
	pricing, err := s.catalog.GetItemPricing(ctx, productID, variantID)
	if err != nil {
		return nil, err
	}
	if !pricing.InStock {
		return nil, domain.NewUnavailable(domain.CodeItemUnavailable,
			fmt.Sprintf("product %s is out of stock", productID), nil)
	}
	if _, err := s.currencies.Get(pricing.Currency); err != nil {
		return nil, domain.NewUnavailable(domain.CodeCatalogUnavailable,
			fmt.Sprintf("product %s is priced in unsupported currency %q", productID, pricing.Currency), err)
	}
	if !cart.IsEmpty() && pricing.Currency != cart.Currency {
		return nil, domain.NewConflict(domain.CodeCurrencyMismatch,
			fmt.Sprintf("product %s is priced in %s but the cart is in %s", productID, pricing.Currency, cart.Currency))
	}
	return pricing, nil
}

func snapshotPrice(item *domain.CartItem, p *domain.ItemPricing) {
	item.UnitPrice = p.UnitPrice
	item.CompareAtPrice = p.CompareAtPrice
	item.VendorID = p.VendorID
	item.CategoryIDs = append([]string(nil), p.CategoryIDs...)
}
