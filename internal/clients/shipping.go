package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/fjod/go_cart/cart-pricing-service/internal/domain"
)

type quoteRequest struct {
	MethodID    string             `json:"method_id"`
	Destination domain.Destination `json:"destination"`
	Packages    []domain.Package   `json:"packages"`
}

// ShippingClient asks the shipping collaborator for a price. How the price
// is computed is not this service's concern.
type ShippingClient struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
	cb      *gobreaker.CircuitBreaker[*domain.ShippingQuote]
	logger  *zap.Logger
}

func NewShippingClient(baseURL string, timeout time.Duration, logger *zap.Logger) *ShippingClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &ShippingClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    newHTTPClient(),
		timeout: timeout,
		cb:      newBreaker[*domain.ShippingQuote]("shipping", logger),
		logger:  logger,
	}
}

func (c *ShippingClient) Quote(ctx context.Context, methodID string, dest domain.Destination, packages []domain.Package) (*domain.ShippingQuote, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(quoteRequest{MethodID: methodID, Destination: dest, Packages: packages})
	if err != nil {
		return nil, fmt.Errorf("marshal quote request: %w", err)
	}

	quote, err := c.cb.Execute(func() (*domain.ShippingQuote, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/quotes", bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("build shipping request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			reason, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			msg := fmt.Sprintf("shipping method %s is not available for this destination", methodID)
			if r := strings.TrimSpace(string(reason)); r != "" {
				msg += ": " + r
			}
			return nil, domain.NewUnavailable(domain.CodeShippingUnavailable, msg, errRejected)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("shipping returned status %d", resp.StatusCode)
		}

		var q domain.ShippingQuote
		if err := json.NewDecoder(resp.Body).Decode(&q); err != nil {
			return nil, fmt.Errorf("decode shipping response: %w", err)
		}
		if q.Cost < 0 {
			return nil, fmt.Errorf("shipping returned negative cost %d", q.Cost)
		}
		q.Currency = strings.ToUpper(q.Currency)
		return &q, nil
	})
	if err != nil {
		c.logger.Warn("shipping quote failed", zap.String("method_id", methodID), zap.Error(err))
		return nil, unavailable(domain.CodeShippingUnavailable, "shipping", err)
	}
	return quote, nil
}
