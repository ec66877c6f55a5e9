package domain

// CartValidation is produced on demand before checkout and never persisted.
type CartValidation struct {
	IsValid  bool              `json:"is_valid"`
	Errors   []ValidationIssue `json:"errors"`
	Warnings []ValidationIssue `json:"warnings"`
}

type ValidationIssue struct {
	Code     string `json:"code"`
	ItemID   string `json:"item_id,omitempty"`
	CouponID string `json:"coupon_id,omitempty"`
	Message  string `json:"message"`
}

func (v *CartValidation) AddError(issue ValidationIssue) {
	v.Errors = append(v.Errors, issue)
	v.IsValid = false
}

func (v *CartValidation) AddWarning(issue ValidationIssue) {
	v.Warnings = append(v.Warnings, issue)
}

// Issue codes that only appear in a CartValidation.
const (
	IssuePriceChanged    = "PRICE_CHANGED"
	IssueDiscountChanged = "DISCOUNT_CHANGED"
	IssueShippingChanged = "SHIPPING_CHANGED"
	IssueCouponInvalid   = "COUPON_NO_LONGER_VALID"
	IssueRateFallback    = "RATE_FALLBACK"
)

func NewCartValidation() *CartValidation {
	return &CartValidation{
		IsValid:  true,
		Errors:   []ValidationIssue{},
		Warnings: []ValidationIssue{},
	}
}
