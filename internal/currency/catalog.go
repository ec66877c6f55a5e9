package currency

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/fjod/go_cart/cart-pricing-service/internal/domain"
)

var (
	ErrNoDefault        = errors.New("currency catalog has no default currency")
	ErrMultipleDefaults = errors.New("currency catalog has more than one default currency")
	ErrDuplicateCode    = errors.New("duplicate currency code")
)

// Catalog is the immutable set of currencies known to the platform.
type Catalog struct {
	byCode      map[string]domain.Currency
	defaultCode string
}

func NewCatalog(currencies []domain.Currency) (*Catalog, error) {
	validate := validator.New()
	c := &Catalog{byCode: make(map[string]domain.Currency, len(currencies))}

	for _, cur := range currencies {
		if err := validate.Struct(cur); err != nil {
			return nil, fmt.Errorf("invalid currency %q: %w", cur.Code, err)
		}
		if _, exists := c.byCode[cur.Code]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateCode, cur.Code)
		}
		if cur.IsDefault {
			if c.defaultCode != "" {
				return nil, ErrMultipleDefaults
			}
			c.defaultCode = cur.Code
		}
		c.byCode[cur.Code] = cur
	}
	if c.defaultCode == "" {
		return nil, ErrNoDefault
	}
	return c, nil
}

func (c *Catalog) Get(code string) (domain.Currency, error) {
	cur, ok := c.byCode[strings.ToUpper(code)]
	if !ok {
		return domain.Currency{}, domain.NewNotFound(domain.CodeCurrencyNotFound, fmt.Sprintf("currency %s is not supported", code))
	}
	return cur, nil
}

func (c *Catalog) Default() domain.Currency {
	return c.byCode[c.defaultCode]
}

func (c *Catalog) List() []domain.Currency {
	out := make([]domain.Currency, 0, len(c.byCode))
	for _, cur := range c.byCode {
		out = append(out, cur)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// ToMajor turns minor units (cents) into a decimal amount of the currency.
func (c *Catalog) ToMajor(minor int64, code string) (decimal.Decimal, error) {
	cur, err := c.Get(code)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.New(minor, -cur.DecimalPlaces), nil
}

// ToMinor rounds half-up to the currency precision and returns minor units.
func (c *Catalog) ToMinor(amount decimal.Decimal, code string) (int64, error) {
	cur, err := c.Get(code)
	if err != nil {
		return 0, err
	}
	return amount.Round(cur.DecimalPlaces).Shift(cur.DecimalPlaces).IntPart(), nil
}
