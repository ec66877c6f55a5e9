package exchange

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/fjod/go_cart/cart-pricing-service/internal/domain"
)

const DefaultRefreshInterval = time.Hour

// RateSource fetches the full current rate set from upstream.
type RateSource interface {
	FetchRates(ctx context.Context) ([]domain.ExchangeRate, error)
}

// SnapshotStore keeps the last good snapshot across restarts.
type SnapshotStore interface {
	SaveRates(ctx context.Context, rates []domain.ExchangeRate, refreshedAt time.Time) error
	LoadRates(ctx context.Context) ([]domain.ExchangeRate, time.Time, error)
}

var ErrEmptyRateSet = errors.New("rate source returned no usable rates")

// Refresher replaces the resolver snapshot on a fixed interval. A failed
// refresh is logged and the previous snapshot keeps serving.
type Refresher struct {
	source   RateSource
	resolver *Resolver
	store    SnapshotStore
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

func NewRefresher(source RateSource, resolver *Resolver, store SnapshotStore, interval, timeout time.Duration, logger *zap.Logger) *Refresher {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	return &Refresher{
		source:   source,
		resolver: resolver,
		store:    store,
		interval: interval,
		timeout:  timeout,
		logger:   logger,
		now:      time.Now,
	}
}

func (r *Refresher) Run(ctx context.Context) {
	r.restore(ctx)
	if err := r.Refresh(ctx); err != nil {
		r.logger.Error("initial rate refresh failed", zap.Error(err))
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := r.Refresh(ctx); err != nil {
				r.logger.Error("rate refresh failed, serving previous snapshot",
					zap.Error(err),
					zap.Time("snapshot_at", r.resolver.RefreshedAt()))
			}
		case <-ctx.Done():
			return
		}
	}
}

// Refresh fetches and publishes one snapshot.
func (r *Refresher) Refresh(ctx context.Context) error {
	fetchCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rates, err := r.source.FetchRates(fetchCtx)
	if err != nil {
		return err
	}
	if len(rates) == 0 {
		return ErrEmptyRateSet
	}

	at := r.now()
	accepted := r.resolver.Replace(rates, at)
	if accepted == 0 {
		return ErrEmptyRateSet
	}
	r.logger.Info("exchange rates refreshed", zap.Int("rates", accepted))

	if r.store != nil {
		if err := r.store.SaveRates(ctx, r.resolver.Rates(), at); err != nil {
			r.logger.Warn("failed to persist rate snapshot", zap.Error(err))
		}
	}
	return nil
}

func (r *Refresher) restore(ctx context.Context) {
	if r.store == nil {
		return
	}
	rates, at, err := r.store.LoadRates(ctx)
	if err != nil {
		r.logger.Info("no stored rate snapshot", zap.Error(err))
		return
	}
	n := r.resolver.Replace(rates, at)
	r.logger.Info("restored rate snapshot", zap.Int("rates", n), zap.Time("snapshot_at", at))
}
