package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type CouponType string

const (
	CouponPercentage   CouponType = "PERCENTAGE"
	CouponFixedAmount  CouponType = "FIXED_AMOUNT"
	CouponFreeShipping CouponType = "FREE_SHIPPING"
	CouponBuyXGetY     CouponType = "BUY_X_GET_Y"
	CouponBulkDiscount CouponType = "BULK_DISCOUNT"
)

type CouponScope string

const (
	ScopeAll        CouponScope = "ALL"
	ScopeProducts   CouponScope = "PRODUCTS"
	ScopeCategories CouponScope = "CATEGORIES"
	ScopeVendors    CouponScope = "VENDORS"
)

// CouponTier is a quantity threshold. For BULK_DISCOUNT Value is a percentage
// off the qualifying subtotal; for BUY_X_GET_Y Threshold is X and Value is Y.
type CouponTier struct {
	Threshold int             `json:"threshold"`
	Value     decimal.Decimal `json:"value"`
}

// Coupon is a discount definition. Monetary fields (Value for FIXED_AMOUNT,
// MaximumDiscount, MinimumAmount) are minor units of Currency; PERCENTAGE
// Value is a percentage (10 means 10%).
type Coupon struct {
	ID               string
	Code             string
	Type             CouponType
	Value            decimal.Decimal
	MaximumDiscount  *int64
	MinimumAmount    int64
	MinimumQuantity  int
	Currency         *string
	Scope            CouponScope
	ProductIDs       []string
	CategoryIDs      []string
	VendorIDs        []string
	Stackable        bool
	ExcludedCodes    []string
	Tiers            []CouponTier
	StartsAt         *time.Time
	ExpiresAt        *time.Time
	UsageLimit       *int
	PerCustomerLimit *int
	IsActive         bool
}

type CouponUsage struct {
	Total      int
	ByCustomer int
}
