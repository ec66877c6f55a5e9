package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/fjod/go_cart/cart-pricing-service/internal/domain"
)

// RateFeed fetches the full exchange-rate list from an upstream feed.
type RateFeed struct {
	url    string
	http   *http.Client
	cb     *gobreaker.CircuitBreaker[[]domain.ExchangeRate]
	logger *zap.Logger
}

func NewRateFeed(url string, logger *zap.Logger) *RateFeed {
	return &RateFeed{
		url:    url,
		http:   newHTTPClient(),
		cb:     newBreaker[[]domain.ExchangeRate]("rates", logger),
		logger: logger,
	}
}

// FetchRates relies on the caller's deadline.
func (f *RateFeed) FetchRates(ctx context.Context) ([]domain.ExchangeRate, error) {
	rates, err := f.cb.Execute(func() ([]domain.ExchangeRate, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
		if err != nil {
			return nil, fmt.Errorf("build rates request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := f.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("rates feed returned status %d", resp.StatusCode)
		}

		var out []domain.ExchangeRate
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, fmt.Errorf("decode rates: %w", err)
		}
		now := time.Now()
		for i := range out {
			if out[i].ObservedAt.IsZero() {
				out[i].ObservedAt = now
			}
		}
		return out, nil
	})
	if err != nil {
		return nil, unavailable(domain.CodeStaleOrMissingRate, "rates feed", err)
	}
	return rates, nil
}
