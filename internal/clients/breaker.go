package clients

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/fjod/go_cart/cart-pricing-service/internal/domain"
)

const DefaultTimeout = 3 * time.Second

// errRejected marks an explicit refusal by the collaborator. It is a valid
// answer and does not count against the breaker.
var errRejected = errors.New("rejected by collaborator")

func newBreaker[T any](name string, logger *zap.Logger) *gobreaker.CircuitBreaker[T] {
	return gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			if err == nil || errors.Is(err, errRejected) {
				return true
			}
			kind := domain.KindOf(err)
			return kind == domain.KindNotFound || kind == domain.KindValidation
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
}

func newHTTPClient() *http.Client {
	return &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
}

// unavailable maps transport failures, timeouts and an open breaker onto the
// domain taxonomy.
func unavailable(code, what string, err error) error {
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return domain.NewUnavailable(code, what+" is temporarily unavailable", err)
	case errors.Is(err, context.DeadlineExceeded):
		return domain.NewUnavailable(code, what+" timed out", err)
	default:
		return domain.NewUnavailable(code, what+" request failed", err)
	}
}
