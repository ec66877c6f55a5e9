package domain

// ItemPricing is the catalog's current view of a sellable item. Prices are
// minor units of Currency. MaxQuantity 0 means no per-cart cap.
type ItemPricing struct {
	ProductID      string   `json:"product_id"`
	VariantID      *string  `json:"variant_id,omitempty"`
	UnitPrice      int64    `json:"unit_price"`
	CompareAtPrice *int64   `json:"compare_at_price,omitempty"`
	Currency       string   `json:"currency"`
	InStock        bool     `json:"in_stock"`
	MaxQuantity    int      `json:"max_quantity"`
	VendorID       string   `json:"vendor_id"`
	CategoryIDs    []string `json:"category_ids,omitempty"`
}

// MaxLineQuantity bounds a single cart line whatever the stock says.
const MaxLineQuantity = 999

// Clamp limits quantity to the available stock and to MaxLineQuantity.
func (p *ItemPricing) Clamp(quantity int) int {
	if p.MaxQuantity > 0 && quantity > p.MaxQuantity {
		quantity = p.MaxQuantity
	}
	return min(quantity, MaxLineQuantity)
}

type Package struct {
	ProductID string  `json:"product_id"`
	VariantID *string `json:"variant_id,omitempty"`
	Quantity  int     `json:"quantity"`
}

type ShippingQuote struct {
	Cost     int64  `json:"cost"`
	Currency string `json:"currency"`
}

// Packages lists the cart lines as shipping packages.
func (c *Cart) Packages() []Package {
	out := make([]Package, 0, len(c.Items))
	for _, it := range c.Items {
		out = append(out, Package{ProductID: it.ProductID, VariantID: it.VariantID, Quantity: it.Quantity})
	}
	return out
}
