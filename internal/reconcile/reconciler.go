package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/fjod/go_cart/cart-pricing-service/internal/domain"
)

// StockLookup is the slice of the catalog needed to clamp merged quantities.
type StockLookup interface {
	GetItemPricing(ctx context.Context, productID string, variantID *string) (*domain.ItemPricing, error)
}

// Reconciler folds a guest cart into a user cart at login.
type Reconciler struct {
	stock StockLookup
	now   func() time.Time
}

func NewReconciler(stock StockLookup) *Reconciler {
	return &Reconciler{stock: stock, now: time.Now}
}

// Merge returns a new cart owned by user with the guest lines folded in.
// Lines sharing a key have their quantities summed and clamped to stock.
// Coupons and shipping from both carts are dropped; the caller re-applies
// codes once the user identity is known. Neither input is modified.
func (r *Reconciler) Merge(ctx context.Context, guest, user *domain.Cart) (*domain.Cart, error) {
	if !guest.IsEmpty() && !user.IsEmpty() && guest.Currency != user.Currency {
		return nil, domain.NewConflict(domain.CodeCurrencyMismatch,
			fmt.Sprintf("guest cart is priced in %s but the user cart is priced in %s", guest.Currency, user.Currency))
	}

	merged := user.Clone()
	merged.AppliedCoupons = []domain.AppliedCoupon{}
	merged.ShippingSelection = nil
	if merged.IsEmpty() {
		merged.Currency = guest.Currency
	}

	for _, gi := range guest.Items {
		idx, ok := merged.FindByKey(gi.Key())
		if !ok {
			merged.Items = append(merged.Items, cloneItem(gi))
			continue
		}

		pricing, err := r.stock.GetItemPricing(ctx, gi.ProductID, gi.VariantID)
		if err != nil {
			if domain.KindOf(err) == domain.KindNotFound {
				// product left the catalog, keep the user's line as is
				continue
			}
			return nil, err
		}
		merged.Items[idx].Quantity = pricing.Clamp(merged.Items[idx].Quantity + gi.Quantity)
	}

	merged.UpdatedAt = r.now()
	if err := merged.CheckAmounts(); err != nil {
		return nil, err
	}
	merged.ApplyTotals()
	return merged, nil
}

func cloneItem(it domain.CartItem) domain.CartItem {
	c := &domain.Cart{Items: []domain.CartItem{it}}
	return c.Clone().Items[0]
}
