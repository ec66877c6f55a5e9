package exchange

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/fjod/go_cart/cart-pricing-service/internal/domain"
)

type Method string

const (
	MethodIdentity Method = "identity"
	MethodDirect   Method = "direct"
	MethodReverse  Method = "reverse"
	MethodPivot    Method = "pivot"
	MethodFallback Method = "fallback"
)

// Resolution is the outcome of a rate lookup. Fallback is set when no path
// existed and the identity rate was substituted; callers should warn.
type Resolution struct {
	From     string          `json:"from"`
	To       string          `json:"to"`
	Rate     decimal.Decimal `json:"rate"`
	Method   Method          `json:"method"`
	Fallback bool            `json:"fallback"`
}

type pair struct{ from, to string }

// snapshot is immutable once published.
type snapshot struct {
	edges       map[pair]domain.ExchangeRate
	refreshedAt time.Time
}

// Resolver answers rate queries from the latest committed snapshot.
type Resolver struct {
	pivot  string
	snap   atomic.Pointer[snapshot]
	logger *zap.Logger
}

func NewResolver(pivotCurrency string, logger *zap.Logger) *Resolver {
	r := &Resolver{pivot: strings.ToUpper(pivotCurrency), logger: logger}
	r.snap.Store(&snapshot{edges: map[pair]domain.ExchangeRate{}})
	return r
}

// Replace publishes a new rate set wholesale. Records with a non-positive
// rate or malformed codes are dropped. A set with no usable record is not
// published. Returns the number of accepted edges.
func (r *Resolver) Replace(rates []domain.ExchangeRate, refreshedAt time.Time) int {
	edges := make(map[pair]domain.ExchangeRate, len(rates))
	for _, rate := range rates {
		from, to := strings.ToUpper(rate.FromCurrency), strings.ToUpper(rate.ToCurrency)
		if len(from) != 3 || len(to) != 3 || !rate.Rate.IsPositive() {
			r.logger.Warn("dropping invalid exchange rate",
				zap.String("from", rate.FromCurrency),
				zap.String("to", rate.ToCurrency),
				zap.String("rate", rate.Rate.String()))
			continue
		}
		rate.FromCurrency, rate.ToCurrency = from, to
		key := pair{from, to}
		if prev, ok := edges[key]; ok && prev.ObservedAt.After(rate.ObservedAt) {
			continue
		}
		edges[key] = rate
	}
	if len(edges) == 0 {
		return 0
	}
	r.snap.Store(&snapshot{edges: edges, refreshedAt: refreshedAt})
	return len(edges)
}

// Rates returns the current snapshot as a flat list.
func (r *Resolver) Rates() []domain.ExchangeRate {
	s := r.snap.Load()
	out := make([]domain.ExchangeRate, 0, len(s.edges))
	for _, rate := range s.edges {
		out = append(out, rate)
	}
	return out
}

func (r *Resolver) RefreshedAt() time.Time {
	return r.snap.Load().refreshedAt
}

// Resolve tries identity, direct, reverse and a pivot through the default
// currency, in that order. With no path it returns 1 flagged as fallback.
func (r *Resolver) Resolve(from, to string) (Resolution, error) {
	from, to = strings.ToUpper(from), strings.ToUpper(to)
	res := Resolution{From: from, To: to}

	if from == to {
		res.Rate, res.Method = decimal.NewFromInt(1), MethodIdentity
		return res, nil
	}

	s := r.snap.Load()

	rate, method, found, err := s.leg(from, to)
	if err != nil {
		return Resolution{}, err
	}
	if found {
		res.Rate, res.Method = rate, method
		return res, nil
	}

	if from != r.pivot && to != r.pivot {
		first, _, ok1, err := s.leg(from, r.pivot)
		if err != nil {
			return Resolution{}, err
		}
		second, _, ok2, err := s.leg(r.pivot, to)
		if err != nil {
			return Resolution{}, err
		}
		if ok1 && ok2 {
			res.Rate, res.Method = first.Mul(second), MethodPivot
			return res, nil
		}
	}

	res.Rate, res.Method, res.Fallback = decimal.NewFromInt(1), MethodFallback, true
	return res, nil
}

// Convert multiplies amount by the resolved rate without rounding.
func (r *Resolver) Convert(amount decimal.Decimal, from, to string) (decimal.Decimal, bool, error) {
	res, err := r.Resolve(from, to)
	if err != nil {
		return decimal.Zero, false, err
	}
	return amount.Mul(res.Rate), res.Fallback, nil
}

func (s *snapshot) leg(from, to string) (decimal.Decimal, Method, bool, error) {
	if direct, ok := s.edges[pair{from, to}]; ok {
		return direct.Rate, MethodDirect, true, nil
	}
	if reverse, ok := s.edges[pair{to, from}]; ok {
		if !reverse.Rate.IsPositive() {
			return decimal.Zero, "", false, domain.NewUnavailable(domain.CodeStaleOrMissingRate,
				fmt.Sprintf("reverse rate %s->%s is not usable", to, from), nil)
		}
		return decimal.NewFromInt(1).Div(reverse.Rate), MethodReverse, true, nil
	}
	return decimal.Zero, "", false, nil
}
