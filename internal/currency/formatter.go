package currency

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/fjod/go_cart/cart-pricing-service/internal/domain"
)

type FormatOptions struct {
	ShowSymbol         bool
	ShowCode           bool
	UseShortFormat     bool
	AlwaysShowDecimals bool
}

func DefaultFormatOptions() FormatOptions {
	return FormatOptions{ShowSymbol: true, AlwaysShowDecimals: true}
}

// Converter converts an amount between currencies without rounding.
type Converter interface {
	Convert(amount decimal.Decimal, from, to string) (decimal.Decimal, bool, error)
}

var (
	thousand = decimal.NewFromInt(1_000)
	million  = decimal.NewFromInt(1_000_000)
)

type Formatter struct {
	catalog *Catalog
}

func NewFormatter(catalog *Catalog) *Formatter {
	return &Formatter{catalog: catalog}
}

// Format rounds amount half-up to the currency's decimal places and renders it
// with the currency's separators and symbol.
func (f *Formatter) Format(amount decimal.Decimal, code string, opts FormatOptions) (string, error) {
	cur, err := f.catalog.Get(code)
	if err != nil {
		return "", err
	}

	abs := amount.Abs()
	var body string
	if opts.UseShortFormat && abs.GreaterThanOrEqual(thousand) {
		body = shortNumber(abs, cur.ThousandsSeparator, cur.DecimalSeparator)
	} else {
		rounded := abs.Round(cur.DecimalPlaces)
		body = groupNumber(rounded.StringFixed(cur.DecimalPlaces), cur.ThousandsSeparator, cur.DecimalSeparator, opts.AlwaysShowDecimals)
	}

	if opts.ShowSymbol {
		if cur.SymbolPosition == domain.SymbolAfter {
			body = body + " " + cur.Symbol
		} else {
			body = cur.Symbol + body
		}
	}
	if amount.IsNegative() && !amount.Round(cur.DecimalPlaces).IsZero() {
		body = "-" + body
	}
	if opts.ShowCode {
		body = body + " " + cur.Code
	}
	return body, nil
}

// ConvertAndFormat converts at full precision and rounds once, at display time.
// The returned flag reports that no rate path existed and 1.0 was used.
func (f *Formatter) ConvertAndFormat(conv Converter, amount decimal.Decimal, from, to string, opts FormatOptions) (string, bool, error) {
	converted, fallback, err := conv.Convert(amount, from, to)
	if err != nil {
		return "", false, err
	}
	s, err := f.Format(converted, to, opts)
	return s, fallback, err
}

func shortNumber(abs decimal.Decimal, thousandsSep, decimalSep string) string {
	suffix := "K"
	scaled := abs.Div(thousand).Round(1)
	if abs.GreaterThanOrEqual(million) || scaled.GreaterThanOrEqual(thousand) {
		suffix = "M"
		scaled = abs.Div(million).Round(1)
	}
	return groupNumber(scaled.StringFixed(1), thousandsSep, decimalSep, false) + suffix
}

func groupNumber(fixed, thousandsSep, decimalSep string, alwaysDecimals bool) string {
	intPart, frac, _ := strings.Cut(fixed, ".")

	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteString(thousandsSep)
		}
		b.WriteRune(r)
	}

	if frac != "" && (alwaysDecimals || strings.Trim(frac, "0") != "") {
		b.WriteString(decimalSep)
		b.WriteString(frac)
	}
	return b.String()
}
