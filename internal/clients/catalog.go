package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/fjod/go_cart/cart-pricing-service/internal/domain"
)

// CatalogClient looks up current price and stock of sellable items.
type CatalogClient struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
	cb      *gobreaker.CircuitBreaker[*domain.ItemPricing]
	logger  *zap.Logger
}

func NewCatalogClient(baseURL string, timeout time.Duration, logger *zap.Logger) *CatalogClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &CatalogClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    newHTTPClient(),
		timeout: timeout,
		cb:      newBreaker[*domain.ItemPricing]("catalog", logger),
		logger:  logger,
	}
}

func (c *CatalogClient) GetItemPricing(ctx context.Context, productID string, variantID *string) (*domain.ItemPricing, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/products/%s/pricing", c.baseURL, url.PathEscape(productID))
	if variantID != nil {
		endpoint += "?variant_id=" + url.QueryEscape(*variantID)
	}

	pricing, err := c.cb.Execute(func() (*domain.ItemPricing, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, fmt.Errorf("build catalog request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return nil, domain.NewNotFound(domain.CodeProductNotFound,
				fmt.Sprintf("product %s was not found", productID))
		case resp.StatusCode != http.StatusOK:
			return nil, fmt.Errorf("catalog returned status %d", resp.StatusCode)
		}

		var p domain.ItemPricing
		if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
			return nil, fmt.Errorf("decode catalog response: %w", err)
		}
		if p.UnitPrice < 0 || p.MaxQuantity < 0 || (p.CompareAtPrice != nil && *p.CompareAtPrice < 0) {
			return nil, fmt.Errorf("catalog returned negative pricing for %s", productID)
		}
		if p.ProductID == "" {
			p.ProductID = productID
		}
		p.Currency = strings.ToUpper(p.Currency)
		return &p, nil
	})
	if err != nil {
		if domain.KindOf(err) != domain.KindNotFound {
			c.logger.Warn("catalog lookup failed", zap.String("product_id", productID), zap.Error(err))
		}
		return nil, unavailable(domain.CodeCatalogUnavailable, "catalog", err)
	}
	return pricing, nil
}
