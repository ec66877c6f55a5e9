package coupon

import (
	"cmp"
	"slices"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/fjod/go_cart/cart-pricing-service/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// Decide checks the currency and minimum conditions of c over the qualifying
// items of cart and computes the discount. It performs no I/O.
func Decide(cart *domain.Cart, c *domain.Coupon) (Decision, error) {
	if c.Currency != nil && cart.Currency != "" && *c.Currency != cart.Currency {
		return Decision{}, domain.NewValidation(domain.CodeCurrencyMismatch, "code",
			"coupon is not valid for the cart currency")
	}

	qualifying := Qualifying(cart, c)
	if len(qualifying) == 0 {
		return Decision{}, domain.NewValidation(domain.CodeNoQualifyingItems, "code",
			"no items in the cart qualify for this coupon")
	}

	var subtotal int64
	quantity := 0
	ids := make([]string, 0, len(qualifying))
	for _, it := range qualifying {
		subtotal += it.LineTotal()
		quantity += it.Quantity
		ids = append(ids, it.ID)
	}

	if subtotal < c.MinimumAmount {
		return Decision{}, domain.NewValidation(domain.CodeMinimumNotMet, "code",
			"cart does not reach the coupon minimum amount")
	}
	if quantity < c.MinimumQuantity {
		return Decision{}, domain.NewValidation(domain.CodeMinimumNotMet, "code",
			"cart does not reach the coupon minimum quantity")
	}

	var discount int64
	switch c.Type {
	case domain.CouponPercentage:
		discount = percentOf(subtotal, c.Value)
	case domain.CouponFixedAmount:
		discount = min(c.Value.Round(0).IntPart(), subtotal)
	case domain.CouponFreeShipping:
		if cart.ShippingSelection != nil {
			discount = cart.ShippingSelection.Cost
		}
	case domain.CouponBulkDiscount:
		tier, ok := pickTier(c.Tiers, quantity)
		if !ok {
			return Decision{}, domain.NewValidation(domain.CodeMinimumNotMet, "code",
				"cart does not reach the first quantity tier")
		}
		discount = percentOf(subtotal, tier.Value)
	case domain.CouponBuyXGetY:
		tier, ok := pickTier(c.Tiers, quantity)
		if !ok {
			return Decision{}, domain.NewValidation(domain.CodeMinimumNotMet, "code",
				"cart does not reach the first quantity tier")
		}
		discount = freeUnits(qualifying, tier)
	default:
		return Decision{}, domain.NewValidation(domain.CodeInvalidArgument, "code", "unsupported coupon type")
	}

	if c.MaximumDiscount != nil && discount > *c.MaximumDiscount {
		discount = *c.MaximumDiscount
	}
	if c.Type != domain.CouponFreeShipping && discount > subtotal {
		discount = subtotal
	}
	if discount < 0 {
		discount = 0
	}

	return Decision{Coupon: c, DiscountAmount: discount, AppliesToItemIDs: ids}, nil
}

// Qualifying returns the items inside the coupon's applicability scope.
func Qualifying(cart *domain.Cart, c *domain.Coupon) []domain.CartItem {
	out := make([]domain.CartItem, 0, len(cart.Items))
	for _, it := range cart.Items {
		if inScope(it, c) {
			out = append(out, it)
		}
	}
	return out
}

func inScope(it domain.CartItem, c *domain.Coupon) bool {
	switch c.Scope {
	case domain.ScopeProducts:
		return slices.Contains(c.ProductIDs, it.ProductID)
	case domain.ScopeCategories:
		for _, cat := range it.CategoryIDs {
			if slices.Contains(c.CategoryIDs, cat) {
				return true
			}
		}
		return false
	case domain.ScopeVendors:
		return slices.Contains(c.VendorIDs, it.VendorID)
	default:
		return true
	}
}

// percentOf returns pct% of amount rounded half-up to a whole minor unit.
func percentOf(amount int64, pct decimal.Decimal) int64 {
	return decimal.NewFromInt(amount).Mul(pct).Div(hundred).Round(0).IntPart()
}

// pickTier walks tiers in ascending threshold order and keeps the highest
// one not exceeding quantity.
func pickTier(tiers []domain.CouponTier, quantity int) (domain.CouponTier, bool) {
	sorted := slices.Clone(tiers)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Threshold < sorted[j].Threshold })

	var best domain.CouponTier
	found := false
	for _, t := range sorted {
		if t.Threshold > quantity {
			break
		}
		best, found = t, true
	}
	return best, found
}

// freeUnits gives away the cheapest units: every Threshold+Value units bought,
// Value of them are free. Lines are walked cheapest first, never unit by unit.
func freeUnits(items []domain.CartItem, tier domain.CouponTier) int64 {
	get := tier.Value.IntPart()
	group := int64(tier.Threshold) + get
	if get <= 0 || group <= 0 {
		return 0
	}

	var units int64
	for _, it := range items {
		units += int64(max(it.Quantity, 0))
	}
	free := (units / group) * get

	byPrice := slices.Clone(items)
	slices.SortStableFunc(byPrice, func(a, b domain.CartItem) int {
		return cmp.Compare(a.UnitPrice, b.UnitPrice)
	})

	var discount int64
	for _, it := range byPrice {
		if free <= 0 {
			break
		}
		n := min(free, int64(max(it.Quantity, 0)))
		discount += n * it.UnitPrice
		free -= n
	}
	return discount
}
