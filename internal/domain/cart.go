package domain

import (
	"fmt"
	"time"
)

type OwnerKind string

const (
	OwnerGuest OwnerKind = "guest"
	OwnerUser  OwnerKind = "user"
)

// CartRef identifies a cart by its owner. A session owns at most one cart.
type CartRef struct {
	OwnerKind OwnerKind
	OwnerID   string
}

func GuestRef(token string) CartRef { return CartRef{OwnerKind: OwnerGuest, OwnerID: token} }
func UserRef(userID string) CartRef { return CartRef{OwnerKind: OwnerUser, OwnerID: userID} }

func (r CartRef) String() string {
	return fmt.Sprintf("%s:%s", r.OwnerKind, r.OwnerID)
}

func (r CartRef) Valid() bool {
	return (r.OwnerKind == OwnerGuest || r.OwnerKind == OwnerUser) && r.OwnerID != ""
}

// Cart amounts are minor units of Currency (cents for USD, yen for JPY).
type Cart struct {
	ID                string             `json:"id" bson:"_id"`
	OwnerKind         OwnerKind          `json:"owner_kind" bson:"owner_kind"`
	OwnerID           string             `json:"owner_id" bson:"owner_id"`
	Items             []CartItem         `json:"items" bson:"items"`
	AppliedCoupons    []AppliedCoupon    `json:"applied_coupons" bson:"applied_coupons"`
	ShippingSelection *ShippingSelection `json:"shipping_selection,omitempty" bson:"shipping_selection,omitempty"`
	Currency          string             `json:"currency" bson:"currency"`
	Subtotal          int64              `json:"subtotal" bson:"subtotal"`
	DiscountAmount    int64              `json:"discount_amount" bson:"discount_amount"`
	ShippingCost      int64              `json:"shipping_cost" bson:"shipping_cost"`
	TaxAmount         int64              `json:"tax_amount" bson:"tax_amount"`
	Total             int64              `json:"total" bson:"total"`
	CreatedAt         time.Time          `json:"created_at" bson:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at" bson:"updated_at"`
}

type CartItem struct {
	ID             string    `json:"id" bson:"id"`
	ProductID      string    `json:"product_id" bson:"product_id"`
	VariantID      *string   `json:"variant_id,omitempty" bson:"variant_id,omitempty"`
	Quantity       int       `json:"quantity" bson:"quantity"`
	UnitPrice      int64     `json:"unit_price" bson:"unit_price"`
	CompareAtPrice *int64    `json:"compare_at_price,omitempty" bson:"compare_at_price,omitempty"`
	VendorID       string    `json:"vendor_id" bson:"vendor_id"`
	CategoryIDs    []string  `json:"category_ids,omitempty" bson:"category_ids,omitempty"`
	AddedAt        time.Time `json:"added_at" bson:"added_at"`
}

// ItemKey is the identity of a cart line: adding an existing key bumps its quantity.
type ItemKey struct {
	ProductID string
	VariantID string
}

func KeyOf(productID string, variantID *string) ItemKey {
	k := ItemKey{ProductID: productID}
	if variantID != nil {
		k.VariantID = *variantID
	}
	return k
}

func (i CartItem) Key() ItemKey {
	return KeyOf(i.ProductID, i.VariantID)
}

func (i CartItem) LineTotal() int64 {
	return i.UnitPrice * int64(i.Quantity)
}

type AppliedCoupon struct {
	ID               string     `json:"id" bson:"id"`
	CouponID         string     `json:"coupon_id" bson:"coupon_id"`
	Code             string     `json:"code" bson:"code"`
	Type             CouponType `json:"type" bson:"type"`
	DiscountAmount   int64      `json:"discount_amount" bson:"discount_amount"`
	AppliesToItemIDs []string   `json:"applies_to_item_ids" bson:"applies_to_item_ids"`
	Stackable        bool       `json:"stackable" bson:"stackable"`
	ExcludedCodes    []string   `json:"excluded_codes,omitempty" bson:"excluded_codes,omitempty"`
	AppliedAt        time.Time  `json:"applied_at" bson:"applied_at"`
}

type Destination struct {
	Country    string `json:"country" bson:"country" validate:"required,len=2,alpha"`
	PostalCode string `json:"postal_code" bson:"postal_code" validate:"required,max=16"`
	Region     string `json:"region,omitempty" bson:"region,omitempty" validate:"max=64"`
}

type ShippingSelection struct {
	MethodID    string      `json:"method_id" bson:"method_id"`
	Destination Destination `json:"destination" bson:"destination"`
	Cost        int64       `json:"cost" bson:"cost"`
	Currency    string      `json:"currency" bson:"currency"`
}

func NewCart(id string, ref CartRef, now time.Time) *Cart {
	return &Cart{
		ID:             id,
		OwnerKind:      ref.OwnerKind,
		OwnerID:        ref.OwnerID,
		Items:          []CartItem{},
		AppliedCoupons: []AppliedCoupon{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func (c *Cart) Ref() CartRef {
	return CartRef{OwnerKind: c.OwnerKind, OwnerID: c.OwnerID}
}

func (c *Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

func (c *Cart) FindItem(itemID string) (int, bool) {
	for i := range c.Items {
		if c.Items[i].ID == itemID {
			return i, true
		}
	}
	return -1, false
}

func (c *Cart) FindByKey(key ItemKey) (int, bool) {
	for i := range c.Items {
		if c.Items[i].Key() == key {
			return i, true
		}
	}
	return -1, false
}

func (c *Cart) FindCoupon(couponID string) (int, bool) {
	for i := range c.AppliedCoupons {
		if c.AppliedCoupons[i].ID == couponID {
			return i, true
		}
	}
	return -1, false
}

func (c *Cart) TotalQuantity() int {
	n := 0
	for _, it := range c.Items {
		n += it.Quantity
	}
	return n
}

// Clone returns a deep copy so a mutation can be discarded on failure.
func (c *Cart) Clone() *Cart {
	cp := *c
	cp.Items = make([]CartItem, len(c.Items))
	for i, it := range c.Items {
		if it.VariantID != nil {
			v := *it.VariantID
			it.VariantID = &v
		}
		if it.CompareAtPrice != nil {
			p := *it.CompareAtPrice
			it.CompareAtPrice = &p
		}
		it.CategoryIDs = append([]string(nil), it.CategoryIDs...)
		cp.Items[i] = it
	}
	cp.AppliedCoupons = make([]AppliedCoupon, len(c.AppliedCoupons))
	for i, ac := range c.AppliedCoupons {
		ac.AppliesToItemIDs = append([]string(nil), ac.AppliesToItemIDs...)
		ac.ExcludedCodes = append([]string(nil), ac.ExcludedCodes...)
		cp.AppliedCoupons[i] = ac
	}
	if c.ShippingSelection != nil {
		s := *c.ShippingSelection
		cp.ShippingSelection = &s
	}
	return &cp
}

// MaxAmount bounds every money amount a cart can hold, in minor units.
const MaxAmount int64 = 100_000_000_000_000

// CheckAmounts rejects a cart whose lines, subtotal or shipping cost fall
// outside [0, MaxAmount]. Totals computed afterwards cannot overflow.
func (c *Cart) CheckAmounts() error {
	var subtotal int64
	for _, it := range c.Items {
		if it.Quantity < 1 || it.Quantity > MaxLineQuantity {
			return NewValidation(CodeInvalidQuantity, "quantity",
				fmt.Sprintf("quantity of item %s must be between 1 and %d", it.ID, MaxLineQuantity))
		}
		if it.UnitPrice < 0 || it.UnitPrice > MaxAmount/int64(it.Quantity) {
			return NewValidation(CodeAmountOutOfRange, "unit_price",
				fmt.Sprintf("line total of item %s is out of range", it.ID))
		}
		subtotal += it.LineTotal()
		if subtotal > MaxAmount {
			return NewValidation(CodeAmountOutOfRange, "subtotal", "cart subtotal is out of range")
		}
	}
	if sel := c.ShippingSelection; sel != nil && (sel.Cost < 0 || sel.Cost > MaxAmount) {
		return NewValidation(CodeAmountOutOfRange, "shipping_cost", "shipping cost is out of range")
	}
	return nil
}

// ApplyTotals recomputes subtotal and total from items, coupons and shipping.
// Coupon discounts must already be capped by the caller; the final clamp only
// guards the total >= 0 invariant.
func (c *Cart) ApplyTotals() {
	var subtotal int64
	for _, it := range c.Items {
		subtotal += it.LineTotal()
	}
	var discount int64
	for _, ac := range c.AppliedCoupons {
		discount += ac.DiscountAmount
	}
	c.Subtotal = subtotal
	c.ShippingCost = 0
	if c.ShippingSelection != nil {
		c.ShippingCost = c.ShippingSelection.Cost
	}
	c.TaxAmount = 0
	c.DiscountAmount = discount
	c.Total = c.Subtotal - c.DiscountAmount + c.ShippingCost + c.TaxAmount
	if c.Total < 0 {
		// shave the overflow off the last coupon so the coupon sum keeps matching
		over := -c.Total
		for i := len(c.AppliedCoupons) - 1; i >= 0 && over > 0; i-- {
			cut := min(over, c.AppliedCoupons[i].DiscountAmount)
			c.AppliedCoupons[i].DiscountAmount -= cut
			over -= cut
		}
		c.DiscountAmount = c.Subtotal + c.ShippingCost + c.TaxAmount
		c.Total = 0
	}
}
