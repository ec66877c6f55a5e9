package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type SymbolPosition string

const (
	SymbolBefore SymbolPosition = "before"
	SymbolAfter  SymbolPosition = "after"
)

type Currency struct {
	Code               string         `json:"code" validate:"required,len=3,uppercase,alpha"`
	Symbol             string         `json:"symbol" validate:"required"`
	SymbolPosition     SymbolPosition `json:"symbol_position" validate:"oneof=before after"`
	DecimalPlaces      int32          `json:"decimal_places" validate:"min=0,max=8"`
	ThousandsSeparator string         `json:"thousands_separator" validate:"max=1"`
	DecimalSeparator   string         `json:"decimal_separator" validate:"required,len=1"`
	IsActive           bool           `json:"is_active"`
	IsDefault          bool           `json:"is_default"`
}

// ExchangeRate is one observed edge of the rate graph: 1 From = Rate To.
type ExchangeRate struct {
	FromCurrency string          `json:"from_currency"`
	ToCurrency   string          `json:"to_currency"`
	Rate         decimal.Decimal `json:"rate"`
	ObservedAt   time.Time       `json:"observed_at"`
}
