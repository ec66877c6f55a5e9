package service

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fjod/go_cart/cart-pricing-service/internal/cache"
	"github.com/fjod/go_cart/cart-pricing-service/internal/coupon"
	"github.com/fjod/go_cart/cart-pricing-service/internal/currency"
	"github.com/fjod/go_cart/cart-pricing-service/internal/domain"
	"github.com/fjod/go_cart/cart-pricing-service/internal/exchange"
	"github.com/fjod/go_cart/cart-pricing-service/internal/reconcile"
	"github.com/fjod/go_cart/cart-pricing-service/internal/repository"
)

type mockRepository struct {
	m       sync.RWMutex
	carts   map[domain.CartRef]*domain.Cart
	ops     []string
	loadErr error
	saveErr error
	delErr  error
}

func newMockRepository(carts ...*domain.Cart) *mockRepository {
	r := &mockRepository{carts: map[domain.CartRef]*domain.Cart{}}
	for _, c := range carts {
		r.carts[c.Ref()] = c.Clone()
	}
	return r
}

func (m *mockRepository) Load(_ context.Context, ref domain.CartRef) (*domain.Cart, error) {
	m.m.RLock()
	defer m.m.RUnlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	c, ok := m.carts[ref]
	if !ok {
		return nil, repository.ErrCartNotFound
	}
	return c.Clone(), nil
}

func (m *mockRepository) Save(_ context.Context, cart *domain.Cart) error {
	m.m.Lock()
	defer m.m.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.ops = append(m.ops, "save:"+cart.Ref().String())
	m.carts[cart.Ref()] = cart.Clone()
	return nil
}

func (m *mockRepository) Delete(_ context.Context, ref domain.CartRef) error {
	m.m.Lock()
	defer m.m.Unlock()
	if m.delErr != nil {
		return m.delErr
	}
	if _, ok := m.carts[ref]; !ok {
		return repository.ErrCartNotFound
	}
	m.ops = append(m.ops, "delete:"+ref.String())
	delete(m.carts, ref)
	return nil
}

func (m *mockRepository) stored(ref domain.CartRef) *domain.Cart {
	m.m.RLock()
	defer m.m.RUnlock()
	return m.carts[ref]
}

func (m *mockRepository) saves() int {
	m.m.RLock()
	defer m.m.RUnlock()
	n := 0
	for _, op := range m.ops {
		if strings.HasPrefix(op, "save:") {
			n++
		}
	}
	return n
}

type mockCache struct {
	m     sync.RWMutex
	carts map[domain.CartRef]*domain.Cart
	gens  map[domain.CartRef]int64
	err   error
}

func newMockCache() *mockCache {
	return &mockCache{carts: map[domain.CartRef]*domain.Cart{}, gens: map[domain.CartRef]int64{}}
}

func (m *mockCache) Get(_ context.Context, ref domain.CartRef) (*domain.Cart, error) {
	m.m.RLock()
	defer m.m.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	c, ok := m.carts[ref]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return c, nil
}

func (m *mockCache) Generation(_ context.Context, ref domain.CartRef) (int64, error) {
	m.m.RLock()
	defer m.m.RUnlock()
	return m.gens[ref], m.err
}

func (m *mockCache) Set(_ context.Context, ref domain.CartRef, cart *domain.Cart, generation int64) error {
	m.m.Lock()
	defer m.m.Unlock()
	if m.gens[ref] != generation {
		return cache.ErrStaleWrite
	}
	m.carts[ref] = cart
	return m.err
}

func (m *mockCache) Delete(_ context.Context, ref domain.CartRef) error {
	m.m.Lock()
	defer m.m.Unlock()
	delete(m.carts, ref)
	m.gens[ref]++
	return m.err
}

func (m *mockCache) getCart(ref domain.CartRef) *domain.Cart {
	m.m.RLock()
	defer m.m.RUnlock()
	return m.carts[ref]
}

type mockCatalog struct {
	m       sync.RWMutex
	pricing map[string]domain.ItemPricing
	err     error
	calls   int
}

func (m *mockCatalog) GetItemPricing(_ context.Context, productID string, _ *string) (*domain.ItemPricing, error) {
	m.m.Lock()
	defer m.m.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	p, ok := m.pricing[productID]
	if !ok {
		return nil, domain.NewNotFound(domain.CodeProductNotFound, "product not found")
	}
	return &p, nil
}

func (m *mockCatalog) set(productID string, p domain.ItemPricing) {
	m.m.Lock()
	defer m.m.Unlock()
	m.pricing[productID] = p
}

func (m *mockCatalog) callCount() int {
	m.m.RLock()
	defer m.m.RUnlock()
	return m.calls
}

type mockShipping struct {
	m     sync.RWMutex
	quote domain.ShippingQuote
	err   error
}

func (m *mockShipping) Quote(context.Context, string, domain.Destination, []domain.Package) (*domain.ShippingQuote, error) {
	m.m.RLock()
	defer m.m.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	q := m.quote
	return &q, nil
}

type mockCouponStore struct {
	m       sync.RWMutex
	coupons map[string]*domain.Coupon
}

func (m *mockCouponStore) FindCouponByCode(_ context.Context, code string) (*domain.Coupon, error) {
	m.m.RLock()
	defer m.m.RUnlock()
	c, ok := m.coupons[code]
	if !ok {
		return nil, domain.NewNotFound(domain.CodeCouponNotFound, "coupon not found")
	}
	return c, nil
}

func (m *mockCouponStore) CouponUsage(context.Context, string, string) (domain.CouponUsage, error) {
	return domain.CouponUsage{}, nil
}

type redemption struct{ couponID, customerID, orderRef string }

type mockRedemptions struct {
	m    sync.RWMutex
	recs []redemption
	err  error
}

func (m *mockRedemptions) RecordRedemption(_ context.Context, couponID, customerID, orderRef string, _ time.Time) error {
	m.m.Lock()
	defer m.m.Unlock()
	if m.err != nil {
		return m.err
	}
	m.recs = append(m.recs, redemption{couponID, customerID, orderRef})
	return nil
}

type fixture struct {
	repo        *mockRepository
	cache       *mockCache
	catalog     *mockCatalog
	shipping    *mockShipping
	redemptions *mockRedemptions
	resolver    *exchange.Resolver
	sut         *CartService
}

var (
	userRef  = domain.UserRef("u1")
	guestRef = domain.GuestRef("g1")
)

func newFixture(t *testing.T, carts ...*domain.Cart) *fixture {
	t.Helper()
	currencies, err := currency.NewCatalog([]domain.Currency{
		{Code: "USD", Symbol: "$", SymbolPosition: domain.SymbolBefore, DecimalPlaces: 2, ThousandsSeparator: ",", DecimalSeparator: ".", IsActive: true, IsDefault: true},
		{Code: "EUR", Symbol: "€", SymbolPosition: domain.SymbolAfter, DecimalPlaces: 2, ThousandsSeparator: ".", DecimalSeparator: ",", IsActive: true},
		{Code: "JPY", Symbol: "¥", SymbolPosition: domain.SymbolBefore, DecimalPlaces: 0, ThousandsSeparator: ",", DecimalSeparator: ".", IsActive: true},
	})
	require.NoError(t, err)

	resolver := exchange.NewResolver("USD", zap.NewNop())
	resolver.Replace([]domain.ExchangeRate{
		{FromCurrency: "USD", ToCurrency: "EUR", Rate: decimal.RequireFromString("0.9"), ObservedAt: time.Now()},
	}, time.Now())

	catalog := &mockCatalog{pricing: map[string]domain.ItemPricing{
		"A": {ProductID: "A", UnitPrice: 1999, Currency: "USD", InStock: true, MaxQuantity: 10, VendorID: "v1"},
		"B": {ProductID: "B", UnitPrice: 500, Currency: "USD", InStock: true, VendorID: "v2"},
		"E": {ProductID: "E", UnitPrice: 700, Currency: "EUR", InStock: true},
		"X": {ProductID: "X", UnitPrice: 100, Currency: "USD", InStock: false},
	}}
	coupons := &mockCouponStore{coupons: map[string]*domain.Coupon{
		"SAVE10": {ID: "c-save10", Code: "SAVE10", Type: domain.CouponPercentage, Value: decimal.NewFromInt(10), Scope: domain.ScopeAll, IsActive: true},
		"ONLYB": {ID: "c-onlyb", Code: "ONLYB", Type: domain.CouponPercentage, Value: decimal.NewFromInt(20), Scope: domain.ScopeProducts,
			ProductIDs: []string{"B"}, IsActive: true, Stackable: true},
		"SHIPFREE": {ID: "c-ship", Code: "SHIPFREE", Type: domain.CouponFreeShipping, Scope: domain.ScopeAll, IsActive: true, Stackable: true},
	}}

	f := &fixture{
		repo:        newMockRepository(carts...),
		cache:       newMockCache(),
		catalog:     catalog,
		shipping:    &mockShipping{quote: domain.ShippingQuote{Cost: 599, Currency: "USD"}},
		redemptions: &mockRedemptions{},
		resolver:    resolver,
	}
	f.sut = NewCartService(Dependencies{
		Repo:        f.repo,
		Cache:       f.cache,
		Redemptions: f.redemptions,
		Catalog:     catalog,
		Shipping:    f.shipping,
		Coupons:     coupon.NewEngine(coupons),
		Reconciler:  reconcile.NewReconciler(catalog),
		Currencies:  currencies,
		Resolver:    resolver,
		Formatter:   currency.NewFormatter(currencies),
		Logger:      zap.NewNop(),
	})
	return f
}

func storedCart(ref domain.CartRef, items ...domain.CartItem) *domain.Cart {
	c := domain.NewCart("cart-"+ref.OwnerID, ref, time.Now())
	c.Currency = "USD"
	c.Items = items
	c.ApplyTotals()
	return c
}

func assertTotalsInvariant(t *testing.T, c *domain.Cart) {
	t.Helper()
	assert.Equal(t, c.Subtotal-c.DiscountAmount+c.ShippingCost+c.TaxAmount, c.Total)
	assert.GreaterOrEqual(t, c.Total, int64(0))
	var sum int64
	for _, ac := range c.AppliedCoupons {
		sum += ac.DiscountAmount
	}
	assert.Equal(t, sum, c.DiscountAmount)
}

func TestGetCart_NotFoundReturnsEmptyCart(t *testing.T) {
	f := newFixture(t)

	ret, err := f.sut.GetCart(context.Background(), userRef)
	require.NoError(t, err)
	assert.Equal(t, userRef, ret.Ref())
	assert.Empty(t, ret.Items)
	assert.Equal(t, 0, f.repo.saves())
}

func TestGetCart_FillsCache(t *testing.T) {
	f := newFixture(t, storedCart(userRef, domain.CartItem{ID: "i1", ProductID: "A", Quantity: 1, UnitPrice: 1999}))

	ret, err := f.sut.GetCart(context.Background(), userRef)
	require.NoError(t, err)
	assert.Len(t, ret.Items, 1)

	require.Eventually(t, func() bool {
		return f.cache.getCart(userRef) != nil
	}, 100*time.Millisecond, 10*time.Millisecond, "cart was not set in cache")
}

// racingRepository runs afterLoad once a load has read storage, standing in
// for a writer that saves and invalidates before the reader writes back.
type racingRepository struct {
	*mockRepository
	afterLoad func()
}

func (r *racingRepository) Load(ctx context.Context, ref domain.CartRef) (*domain.Cart, error) {
	c, err := r.mockRepository.Load(ctx, ref)
	if r.afterLoad != nil {
		r.afterLoad()
	}
	return c, err
}

func TestGetCart_InvalidationDuringLoadSkipsWriteBack(t *testing.T) {
	f := newFixture(t, storedCart(userRef, domain.CartItem{ID: "i1", ProductID: "A", Quantity: 1, UnitPrice: 1999}))
	f.sut.repo = &racingRepository{
		mockRepository: f.repo,
		afterLoad: func() {
			require.NoError(t, f.cache.Delete(context.Background(), userRef))
		},
	}

	ret, err := f.sut.GetCart(context.Background(), userRef)
	require.NoError(t, err)
	assert.Len(t, ret.Items, 1)

	assert.Never(t, func() bool {
		return f.cache.getCart(userRef) != nil
	}, 100*time.Millisecond, 10*time.Millisecond, "stale cart was written back to cache")
}

func TestGetCart_CacheHit(t *testing.T) {
	f := newFixture(t)
	f.cache.carts[userRef] = storedCart(userRef, domain.CartItem{ID: "i1", ProductID: "A", Quantity: 3})

	ret, err := f.sut.GetCart(context.Background(), userRef)
	require.NoError(t, err)
	assert.Equal(t, 3, ret.Items[0].Quantity)
}

func TestGetCart_RepoError(t *testing.T) {
	f := newFixture(t)
	f.repo.loadErr = fmt.Errorf("database error")

	ret, err := f.sut.GetCart(context.Background(), userRef)
	require.ErrorContains(t, err, "database error")
	assert.Nil(t, ret)
}

func TestGetCart_RequiresOwner(t *testing.T) {
	f := newFixture(t)
	_, err := f.sut.GetCart(context.Background(), domain.CartRef{})
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestAddItem_ThenPercentageCoupon(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cart, err := f.sut.AddItem(ctx, userRef, "A", nil, 2)
	require.NoError(t, err)
	assert.Equal(t, "USD", cart.Currency)
	assert.Equal(t, int64(3998), cart.Subtotal)

	cart, err = f.sut.ApplyCoupon(ctx, userRef, "save10")
	require.NoError(t, err)
	assert.Equal(t, int64(3998), cart.Subtotal)
	assert.Equal(t, int64(400), cart.DiscountAmount)
	assert.Equal(t, int64(3598), cart.Total)
	require.Len(t, cart.AppliedCoupons, 1)
	assert.Equal(t, "c-save10", cart.AppliedCoupons[0].CouponID)
	assertTotalsInvariant(t, cart)

	assert.Equal(t, int64(3598), f.repo.stored(userRef).Total)
}

func TestAddItem_SameKeyTwiceMergesAndClamps(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.sut.AddItem(ctx, userRef, "A", nil, 4)
	require.NoError(t, err)
	cart, err := f.sut.AddItem(ctx, userRef, "A", nil, 3)
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, 7, cart.Items[0].Quantity)

	cart, err = f.sut.AddItem(ctx, userRef, "A", nil, 9)
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, 10, cart.Items[0].Quantity)
}

func TestAddItem_QuantityAboveLineMaximum(t *testing.T) {
	f := newFixture(t)

	_, err := f.sut.AddItem(context.Background(), userRef, "B", nil, math.MaxInt32)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
	assert.Equal(t, domain.CodeInvalidQuantity, domain.CodeOf(err))
	assert.Equal(t, 0, f.catalog.callCount())
	assert.Equal(t, 0, f.repo.saves())
}

func TestAddItem_RepeatedAddsStopAtLineMaximum(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.sut.AddItem(ctx, userRef, "B", nil, domain.MaxLineQuantity)
	require.NoError(t, err)
	cart, err := f.sut.AddItem(ctx, userRef, "B", nil, domain.MaxLineQuantity)
	require.NoError(t, err)

	require.Len(t, cart.Items, 1)
	assert.Equal(t, domain.MaxLineQuantity, cart.Items[0].Quantity)
	assert.Equal(t, int64(500*domain.MaxLineQuantity), cart.Subtotal)
	assertTotalsInvariant(t, cart)
}

func TestAddItem_LineTotalOutOfRange(t *testing.T) {
	f := newFixture(t)
	f.catalog.set("H", domain.ItemPricing{ProductID: "H", UnitPrice: math.MaxInt64 / 2, Currency: "USD", InStock: true})

	_, err := f.sut.AddItem(context.Background(), userRef, "H", nil, 3)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
	assert.Equal(t, domain.CodeAmountOutOfRange, domain.CodeOf(err))
	assert.Equal(t, 0, f.repo.saves())
}

func TestAddItem_VariantsAreSeparateLines(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	red, blue := "red", "blue"

	_, err := f.sut.AddItem(ctx, userRef, "A", &red, 1)
	require.NoError(t, err)
	cart, err := f.sut.AddItem(ctx, userRef, "A", &blue, 1)
	require.NoError(t, err)
	assert.Len(t, cart.Items, 2)
}

func TestAddItem_InvalidQuantitySkipsCatalog(t *testing.T) {
	f := newFixture(t)

	_, err := f.sut.AddItem(context.Background(), userRef, "A", nil, 0)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
	assert.Equal(t, domain.CodeInvalidQuantity, domain.CodeOf(err))
	assert.Equal(t, 0, f.catalog.callCount())
}

func TestAddItem_OutOfStock(t *testing.T) {
	f := newFixture(t)

	_, err := f.sut.AddItem(context.Background(), userRef, "X", nil, 1)
	assert.Equal(t, domain.KindUnavailable, domain.KindOf(err))
	assert.Equal(t, domain.CodeItemUnavailable, domain.CodeOf(err))
	assert.Nil(t, f.repo.stored(userRef))
}

func TestAddItem_CurrencyMismatch(t *testing.T) {
	f := newFixture(t, storedCart(userRef, domain.CartItem{ID: "i1", ProductID: "A", Quantity: 1, UnitPrice: 1999}))

	_, err := f.sut.AddItem(context.Background(), userRef, "E", nil, 1)
	assert.Equal(t, domain.KindConflict, domain.KindOf(err))
	assert.Equal(t, domain.CodeCurrencyMismatch, domain.CodeOf(err))
	assert.Len(t, f.repo.stored(userRef).Items, 1)
}

func TestAddItem_CatalogTimeoutLeavesCartUnchanged(t *testing.T) {
	before := storedCart(userRef, domain.CartItem{ID: "i1", ProductID: "A", Quantity: 1, UnitPrice: 1999})
	f := newFixture(t, before)
	f.catalog.err = domain.NewUnavailable(domain.CodeCatalogUnavailable, "catalog timed out", context.DeadlineExceeded)

	_, err := f.sut.AddItem(context.Background(), userRef, "B", nil, 1)
	assert.Equal(t, domain.KindUnavailable, domain.KindOf(err))
	assert.Equal(t, before, f.repo.stored(userRef))
	assert.Equal(t, 0, f.repo.saves())
}

func TestAddItem_SaveErrorIsReturned(t *testing.T) {
	f := newFixture(t)
	f.repo.saveErr = fmt.Errorf("database error")

	_, err := f.sut.AddItem(context.Background(), userRef, "A", nil, 1)
	require.ErrorContains(t, err, "database error")
}

func TestAddItem_InvalidatesCache(t *testing.T) {
	f := newFixture(t)
	f.cache.carts[userRef] = storedCart(userRef)

	_, err := f.sut.AddItem(context.Background(), userRef, "A", nil, 1)
	require.NoError(t, err)
	assert.Nil(t, f.cache.getCart(userRef))
}

func TestUpdateItem(t *testing.T) {
	f := newFixture(t, storedCart(userRef,
		domain.CartItem{ID: "i1", ProductID: "A", Quantity: 1, UnitPrice: 1500},
		domain.CartItem{ID: "i2", ProductID: "B", Quantity: 1, UnitPrice: 500},
	))
	ctx := context.Background()

	cart, err := f.sut.UpdateItem(ctx, userRef, "i1", 3)
	require.NoError(t, err)
	assert.Equal(t, 3, cart.Items[0].Quantity)
	assert.Equal(t, int64(1999), cart.Items[0].UnitPrice, "price snapshot refreshed on update")

	cart, err = f.sut.UpdateItem(ctx, userRef, "i1", 0)
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, "i2", cart.Items[0].ID)

	_, err = f.sut.UpdateItem(ctx, userRef, "nope", 2)
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
	assert.Equal(t, domain.CodeItemNotFound, domain.CodeOf(err))
}

func TestUpdateItem_QuantityAboveLineMaximum(t *testing.T) {
	f := newFixture(t, storedCart(userRef, domain.CartItem{ID: "i2", ProductID: "B", Quantity: 1, UnitPrice: 500}))

	_, err := f.sut.UpdateItem(context.Background(), userRef, "i2", domain.MaxLineQuantity+1)
	assert.Equal(t, domain.CodeInvalidQuantity, domain.CodeOf(err))
	assert.Equal(t, 0, f.catalog.callCount())
	assert.Equal(t, 1, f.repo.stored(userRef).Items[0].Quantity)
}

func TestRemoveItem_AbsentIsNoOp(t *testing.T) {
	before := storedCart(userRef, domain.CartItem{ID: "i1", ProductID: "A", Quantity: 1, UnitPrice: 1999})
	f := newFixture(t, before)

	cart, err := f.sut.RemoveItem(context.Background(), userRef, "missing")
	require.NoError(t, err)
	assert.Equal(t, before, cart)
	assert.Equal(t, before, f.repo.stored(userRef))
	assert.Equal(t, 0, f.repo.saves())
}

func TestRemoveItem_SoleQualifierDropsCoupon(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.sut.AddItem(ctx, userRef, "A", nil, 1)
	require.NoError(t, err)
	cart, err := f.sut.AddItem(ctx, userRef, "B", nil, 2)
	require.NoError(t, err)
	cart, err = f.sut.ApplyCoupon(ctx, userRef, "ONLYB")
	require.NoError(t, err)
	assert.Equal(t, int64(200), cart.DiscountAmount)

	var bID string
	for _, it := range cart.Items {
		if it.ProductID == "B" {
			bID = it.ID
		}
	}
	cart, err = f.sut.RemoveItem(ctx, userRef, bID)
	require.NoError(t, err)
	assert.Empty(t, cart.AppliedCoupons)
	assert.Equal(t, int64(0), cart.DiscountAmount)
	assert.Equal(t, int64(1999), cart.Total)
	assertTotalsInvariant(t, cart)
}

func TestApplyCoupon_RejectionDoesNotWrite(t *testing.T) {
	f := newFixture(t, storedCart(userRef, domain.CartItem{ID: "i1", ProductID: "A", Quantity: 1, UnitPrice: 1999}))

	_, err := f.sut.ApplyCoupon(context.Background(), userRef, "ONLYB")
	assert.Equal(t, domain.CodeNoQualifyingItems, domain.CodeOf(err))

	_, err = f.sut.ApplyCoupon(context.Background(), userRef, "UNKNOWN")
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
	assert.Equal(t, 0, f.repo.saves())
}

func TestRemoveCoupon(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.sut.AddItem(ctx, userRef, "A", nil, 2)
	require.NoError(t, err)
	cart, err := f.sut.ApplyCoupon(ctx, userRef, "SAVE10")
	require.NoError(t, err)

	cart, err = f.sut.RemoveCoupon(ctx, userRef, cart.AppliedCoupons[0].ID)
	require.NoError(t, err)
	assert.Empty(t, cart.AppliedCoupons)
	assert.Equal(t, int64(3998), cart.Total)

	_, err = f.sut.RemoveCoupon(ctx, userRef, "gone")
	assert.Equal(t, domain.CodeCouponNotFound, domain.CodeOf(err))
}

func TestSetShippingMethod_WithFreeShippingCoupon(t *testing.T) {
	f := newFixture(t, storedCart(userRef, domain.CartItem{ID: "i1", ProductID: "A", Quantity: 1, UnitPrice: 1999}))
	ctx := context.Background()
	dest := domain.Destination{Country: "US", PostalCode: "94105"}

	cart, err := f.sut.SetShippingMethod(ctx, userRef, "ground", dest)
	require.NoError(t, err)
	assert.Equal(t, int64(599), cart.ShippingCost)
	assert.Equal(t, int64(2598), cart.Total)

	cart, err = f.sut.ApplyCoupon(ctx, userRef, "SHIPFREE")
	require.NoError(t, err)
	assert.Equal(t, int64(599), cart.DiscountAmount)
	assert.Equal(t, int64(1999), cart.Total)
	assertTotalsInvariant(t, cart)
}

func TestSetShippingMethod_Rejected(t *testing.T) {
	before := storedCart(userRef, domain.CartItem{ID: "i1", ProductID: "A", Quantity: 1, UnitPrice: 1999})
	f := newFixture(t, before)
	f.shipping.err = domain.NewUnavailable(domain.CodeShippingUnavailable, "not offered", nil)

	_, err := f.sut.SetShippingMethod(context.Background(), userRef, "drone", domain.Destination{Country: "US", PostalCode: "1"})
	assert.Equal(t, domain.CodeShippingUnavailable, domain.CodeOf(err))
	assert.Equal(t, before, f.repo.stored(userRef))
}

func TestSetShippingMethod_InvalidDestination(t *testing.T) {
	f := newFixture(t)

	_, err := f.sut.SetShippingMethod(context.Background(), userRef, "ground", domain.Destination{Country: "USA"})
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestSetShippingMethod_QuoteCurrencyMismatch(t *testing.T) {
	f := newFixture(t, storedCart(userRef, domain.CartItem{ID: "i1", ProductID: "A", Quantity: 1, UnitPrice: 1999}))
	f.shipping.quote = domain.ShippingQuote{Cost: 500, Currency: "EUR"}

	_, err := f.sut.SetShippingMethod(context.Background(), userRef, "ground", domain.Destination{Country: "US", PostalCode: "1"})
	assert.Equal(t, domain.CodeShippingUnavailable, domain.CodeOf(err))
}

func TestClearCart_ClearsCouponsAndShipping(t *testing.T) {
	f := newFixture(t, storedCart(userRef, domain.CartItem{ID: "i1", ProductID: "A", Quantity: 2, UnitPrice: 1999}))
	ctx := context.Background()

	_, err := f.sut.SetShippingMethod(ctx, userRef, "ground", domain.Destination{Country: "US", PostalCode: "1"})
	require.NoError(t, err)
	_, err = f.sut.ApplyCoupon(ctx, userRef, "SAVE10")
	require.NoError(t, err)

	cart, err := f.sut.ClearCart(ctx, userRef)
	require.NoError(t, err)
	assert.Empty(t, cart.Items)
	assert.Empty(t, cart.AppliedCoupons)
	assert.Nil(t, cart.ShippingSelection)
	assert.Equal(t, int64(0), cart.Total)
	assertTotalsInvariant(t, cart)
}

func TestValidate_ReportsDriftWithoutWriting(t *testing.T) {
	f := newFixture(t, storedCart(userRef,
		domain.CartItem{ID: "i1", ProductID: "A", Quantity: 1, UnitPrice: 1999},
		domain.CartItem{ID: "i2", ProductID: "B", Quantity: 1, UnitPrice: 500},
		domain.CartItem{ID: "i3", ProductID: "GONE", Quantity: 1, UnitPrice: 100},
	))
	f.catalog.set("A", domain.ItemPricing{ProductID: "A", UnitPrice: 2199, Currency: "USD", InStock: true})
	f.catalog.set("B", domain.ItemPricing{ProductID: "B", UnitPrice: 500, Currency: "USD", InStock: false})

	v, err := f.sut.Validate(context.Background(), userRef)
	require.NoError(t, err)
	assert.False(t, v.IsValid)

	codes := map[string]string{}
	for _, issue := range v.Errors {
		codes[issue.ItemID] = issue.Code
	}
	assert.Equal(t, domain.CodeItemUnavailable, codes["i2"])
	assert.Equal(t, domain.CodeProductNotFound, codes["i3"])
	require.Len(t, v.Warnings, 1)
	assert.Equal(t, domain.IssuePriceChanged, v.Warnings[0].Code)
	assert.Equal(t, "i1", v.Warnings[0].ItemID)
	assert.Equal(t, 0, f.repo.saves())
}

func TestValidate_CatalogOutageFails(t *testing.T) {
	f := newFixture(t, storedCart(userRef, domain.CartItem{ID: "i1", ProductID: "A", Quantity: 1, UnitPrice: 1999}))
	f.catalog.err = domain.NewUnavailable(domain.CodeCatalogUnavailable, "down", nil)

	_, err := f.sut.Validate(context.Background(), userRef)
	assert.Equal(t, domain.KindUnavailable, domain.KindOf(err))
}

func TestValidate_CleanCart(t *testing.T) {
	f := newFixture(t, storedCart(userRef, domain.CartItem{ID: "i1", ProductID: "A", Quantity: 2, UnitPrice: 1999}))
	ctx := context.Background()
	_, err := f.sut.ApplyCoupon(ctx, userRef, "SAVE10")
	require.NoError(t, err)

	v, err := f.sut.Validate(ctx, userRef)
	require.NoError(t, err)
	assert.True(t, v.IsValid)
	assert.Empty(t, v.Errors)
	assert.Empty(t, v.Warnings)
}

func TestView_ConvertsForDisplay(t *testing.T) {
	f := newFixture(t, storedCart(userRef, domain.CartItem{ID: "i1", ProductID: "A", Quantity: 2, UnitPrice: 1999}))

	view, err := f.sut.View(context.Background(), userRef, "eur", currency.DefaultFormatOptions())
	require.NoError(t, err)
	assert.Equal(t, "EUR", view.DisplayCurrency)
	assert.False(t, view.RateFallback)
	assert.Equal(t, exchange.MethodDirect, view.RateMethod)
	assert.Equal(t, "35,98 €", view.Total)
	require.Len(t, view.Lines, 1)
	assert.Equal(t, "17,99 €", view.Lines[0].UnitPrice)
	assert.Equal(t, int64(3998), view.Cart.Total, "stored amounts stay native")
}

func TestView_FallbackIsFlagged(t *testing.T) {
	f := newFixture(t, storedCart(userRef, domain.CartItem{ID: "i1", ProductID: "A", Quantity: 2, UnitPrice: 1999}))

	view, err := f.sut.View(context.Background(), userRef, "JPY", currency.DefaultFormatOptions())
	require.NoError(t, err)
	assert.True(t, view.RateFallback)
	assert.Equal(t, "¥40", view.Total)
}

func TestView_UnknownCurrency(t *testing.T) {
	f := newFixture(t)

	_, err := f.sut.View(context.Background(), userRef, "XYZ", currency.DefaultFormatOptions())
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
}

func TestMergeGuestCart(t *testing.T) {
	guest := storedCart(guestRef, domain.CartItem{ID: "g-a", ProductID: "A", Quantity: 1, UnitPrice: 1999})
	user := storedCart(userRef,
		domain.CartItem{ID: "u-a", ProductID: "A", Quantity: 2, UnitPrice: 1999},
		domain.CartItem{ID: "u-b", ProductID: "B", Quantity: 1, UnitPrice: 500},
	)
	user.AppliedCoupons = []domain.AppliedCoupon{{ID: "ac", CouponID: "c-save10", Code: "SAVE10", Type: domain.CouponPercentage, DiscountAmount: 450}}
	user.ApplyTotals()
	f := newFixture(t, guest, user)

	merged, err := f.sut.MergeGuestCart(context.Background(), "g1", "u1")
	require.NoError(t, err)

	require.Len(t, merged.Items, 2)
	assert.Equal(t, 3, merged.Items[0].Quantity)
	assert.Equal(t, 1, merged.Items[1].Quantity)
	assert.Empty(t, merged.AppliedCoupons)
	assertTotalsInvariant(t, merged)

	assert.Nil(t, f.repo.stored(guestRef))
	assert.Equal(t, 3, f.repo.stored(userRef).Items[0].Quantity)
	assert.Equal(t, []string{"save:user:u1", "delete:guest:g1"}, f.repo.ops)
}

func TestMergeGuestCart_SaveFailureKeepsGuest(t *testing.T) {
	f := newFixture(t,
		storedCart(guestRef, domain.CartItem{ID: "g-a", ProductID: "A", Quantity: 1, UnitPrice: 1999}),
		storedCart(userRef, domain.CartItem{ID: "u-a", ProductID: "A", Quantity: 2, UnitPrice: 1999}),
	)
	f.repo.saveErr = fmt.Errorf("database error")

	_, err := f.sut.MergeGuestCart(context.Background(), "g1", "u1")
	require.ErrorContains(t, err, "database error")
	assert.NotNil(t, f.repo.stored(guestRef))
	assert.Equal(t, 2, f.repo.stored(userRef).Items[0].Quantity)
}

func TestMergeGuestCart_NoGuestCart(t *testing.T) {
	f := newFixture(t, storedCart(userRef, domain.CartItem{ID: "u-a", ProductID: "A", Quantity: 2, UnitPrice: 1999}))

	merged, err := f.sut.MergeGuestCart(context.Background(), "g1", "u1")
	require.NoError(t, err)
	assert.Len(t, merged.Items, 1)
	assert.Empty(t, f.repo.ops)
}

func TestCompleteCheckout_RecordsRedemptionsAndDeletes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.sut.AddItem(ctx, userRef, "A", nil, 2)
	require.NoError(t, err)
	_, err = f.sut.ApplyCoupon(ctx, userRef, "SAVE10")
	require.NoError(t, err)

	require.NoError(t, f.sut.CompleteCheckout(ctx, "u1", "order-9"))
	assert.Nil(t, f.repo.stored(userRef))
	assert.Equal(t, []redemption{{"c-save10", "u1", "order-9"}}, f.redemptions.recs)

	// redelivery of the same event finds no cart
	require.NoError(t, f.sut.CompleteCheckout(ctx, "u1", "order-9"))
}

func TestCompleteCheckout_RedemptionFailureKeepsCart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.sut.AddItem(ctx, userRef, "A", nil, 2)
	require.NoError(t, err)
	_, err = f.sut.ApplyCoupon(ctx, userRef, "SAVE10")
	require.NoError(t, err)
	f.redemptions.err = fmt.Errorf("database error")

	require.Error(t, f.sut.CompleteCheckout(ctx, "u1", "order-9"))
	assert.NotNil(t, f.repo.stored(userRef))
}

func TestResolveRateAndFormatPrice(t *testing.T) {
	f := newFixture(t)

	res, err := f.sut.ResolveRate("EUR", "USD")
	require.NoError(t, err)
	assert.Equal(t, exchange.MethodReverse, res.Method)

	_, err = f.sut.ResolveRate("USD", "XXX")
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))

	out, fallback, err := f.sut.FormatPrice(decimal.RequireFromString("1234.5"), "USD", "", currency.DefaultFormatOptions())
	require.NoError(t, err)
	assert.False(t, fallback)
	assert.Equal(t, "$1,234.50", out)
}
