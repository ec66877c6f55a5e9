package service

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/fjod/go_cart/cart-pricing-service/internal/currency"
	"github.com/fjod/go_cart/cart-pricing-service/internal/domain"
	"github.com/fjod/go_cart/cart-pricing-service/internal/exchange"
)

// CartView is a cart priced for display. Stored amounts stay in the native
// currency; only the strings are converted.
type CartView struct {
	Cart            *domain.Cart    `json:"cart"`
	DisplayCurrency string          `json:"display_currency"`
	Rate            decimal.Decimal `json:"rate"`
	RateMethod      exchange.Method `json:"rate_method"`
	RateFallback    bool            `json:"rate_fallback"`
	Lines           []LineView      `json:"lines"`
	Subtotal        string          `json:"subtotal"`
	Discount        string          `json:"discount"`
	Shipping        string          `json:"shipping"`
	Tax             string          `json:"tax"`
	Total           string          `json:"total"`
}

type LineView struct {
	ItemID         string `json:"item_id"`
	UnitPrice      string `json:"unit_price"`
	CompareAtPrice string `json:"compare_at_price,omitempty"`
	LineTotal      string `json:"line_total"`
}

// View renders the cart in displayCurrency, falling back to the cart's own
// currency (or the default one for a cart with no currency yet).
func (s *CartService) View(ctx context.Context, ref domain.CartRef, displayCurrency string, opts currency.FormatOptions) (*CartView, error) {
	cart, err := s.GetCart(ctx, ref)
	if err != nil {
		return nil, err
	}

	native := cart.Currency
	if native == "" {
		native = s.currencies.Default().Code
	}
	display := strings.ToUpper(strings.TrimSpace(displayCurrency))
	if display == "" {
		display = native
	}
	if _, err := s.currencies.Get(display); err != nil {
		return nil, err
	}

	res, err := s.resolver.Resolve(native, display)
	if err != nil {
		return nil, err
	}
	if res.Fallback {
		s.logger.Warn("no exchange rate path, displaying unconverted amounts",
			zap.String("from", native), zap.String("to", display))
	}

	view := &CartView{
		Cart:            cart,
		DisplayCurrency: display,
		Rate:            res.Rate,
		RateMethod:      res.Method,
		RateFallback:    res.Fallback,
		Lines:           make([]LineView, 0, len(cart.Items)),
	}

	render := func(minor int64) (string, error) {
		major, err := s.currencies.ToMajor(minor, native)
		if err != nil {
			return "", err
		}
		// one rate for every amount, rounded once at display
		return s.formatter.Format(major.Mul(res.Rate), display, opts)
	}

	for _, it := range cart.Items {
		line := LineView{ItemID: it.ID}
		if line.UnitPrice, err = render(it.UnitPrice); err != nil {
			return nil, err
		}
		if line.LineTotal, err = render(it.LineTotal()); err != nil {
			return nil, err
		}
		if it.CompareAtPrice != nil {
			if line.CompareAtPrice, err = render(*it.CompareAtPrice); err != nil {
				return nil, err
			}
		}
		view.Lines = append(view.Lines, line)
	}

	for _, f := range []struct {
		dst   *string
		minor int64
	}{
		{&view.Subtotal, cart.Subtotal},
		{&view.Discount, cart.DiscountAmount},
		{&view.Shipping, cart.ShippingCost},
		{&view.Tax, cart.TaxAmount},
		{&view.Total, cart.Total},
	} {
		if *f.dst, err = render(f.minor); err != nil {
			return nil, err
		}
	}

	return view, nil
}

// ResolveRate answers a read-only rate query for two supported currencies.
func (s *CartService) ResolveRate(from, to string) (exchange.Resolution, error) {
	if _, err := s.currencies.Get(from); err != nil {
		return exchange.Resolution{}, err
	}
	if _, err := s.currencies.Get(to); err != nil {
		return exchange.Resolution{}, err
	}
	return s.resolver.Resolve(from, to)
}

// FormatPrice formats amount, given in major units of from, in currency to.
func (s *CartService) FormatPrice(amount decimal.Decimal, from, to string, opts currency.FormatOptions) (string, bool, error) {
	if to == "" {
		to = from
	}
	if _, err := s.currencies.Get(from); err != nil {
		return "", false, err
	}
	return s.formatter.ConvertAndFormat(s.resolver, amount, from, to, opts)
}
