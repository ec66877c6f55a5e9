package domain

import (
	"errors"
	"fmt"
)

type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindValidation
	KindNotFound
	KindUnavailable
	KindConflict
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "VALIDATION"
	case KindNotFound:
		return "NOT_FOUND"
	case KindUnavailable:
		return "UNAVAILABLE"
	case KindConflict:
		return "CONFLICT"
	default:
		return "INTERNAL"
	}
}

// Error codes reported to callers. They name the rule that failed.
const (
	CodeInvalidQuantity     = "INVALID_QUANTITY"
	CodeInvalidArgument     = "INVALID_ARGUMENT"
	CodeAmountOutOfRange    = "AMOUNT_OUT_OF_RANGE"
	CodeItemUnavailable     = "ITEM_UNAVAILABLE"
	CodeItemNotFound        = "ITEM_NOT_FOUND"
	CodeProductNotFound     = "PRODUCT_NOT_FOUND"
	CodeCartNotFound        = "CART_NOT_FOUND"
	CodeCurrencyMismatch    = "CURRENCY_MISMATCH"
	CodeCurrencyNotFound    = "CURRENCY_NOT_FOUND"
	CodeShippingUnavailable = "SHIPPING_UNAVAILABLE"
	CodeCatalogUnavailable  = "CATALOG_UNAVAILABLE"
	CodeStaleOrMissingRate  = "STALE_OR_MISSING_RATE"
	CodeCouponNotFound      = "COUPON_NOT_FOUND"
	CodeCouponInactive      = "COUPON_INACTIVE"
	CodeCouponExpired       = "COUPON_EXPIRED"
	CodeCouponNotStarted    = "COUPON_NOT_STARTED"
	CodeUsageLimitExceeded  = "USAGE_LIMIT_EXCEEDED"
	CodeCustomerLimit       = "CUSTOMER_USAGE_LIMIT_EXCEEDED"
	CodeMinimumNotMet       = "MINIMUM_NOT_MET"
	CodeNoQualifyingItems   = "NO_QUALIFYING_ITEMS"
	CodeCouponAlreadyUsed   = "COUPON_ALREADY_APPLIED"
	CodeCouponNotStackable  = "COUPON_NOT_STACKABLE"
	CodeCouponExcluded      = "COUPON_EXCLUDED"
)

type Error struct {
	Kind    ErrorKind
	Code    string
	Field   string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind and Code so callers can compare against a template error.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind && (t.Code == "" || e.Code == t.Code)
}

func NewValidation(code, field, message string) *Error {
	return &Error{Kind: KindValidation, Code: code, Field: field, Message: message}
}

func NewNotFound(code, message string) *Error {
	return &Error{Kind: KindNotFound, Code: code, Message: message}
}

func NewUnavailable(code, message string, cause error) *Error {
	return &Error{Kind: KindUnavailable, Code: code, Message: message, Err: cause}
}

func NewConflict(code, message string) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: message}
}

// KindOf reports the kind of a domain error anywhere in the chain.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
