package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"

	"github.com/fjod/go_cart/cart-pricing-service/internal/domain"
)

func setupTestDB(t *testing.T) (*MongoRepository, func()) {
	if testing.Short() {
		t.Skip("skipping MongoDB container test in short mode")
	}
	ctx := context.Background()

	mongoContainer, err := mongodb.Run(ctx, "mongo:7")
	require.NoError(t, err)

	uri, err := mongoContainer.ConnectionString(ctx)
	require.NoError(t, err)

	db, err := ConnectMongoDB(ctx, uri, "testdb")
	require.NoError(t, err)

	repo := NewMongoRepository(db)
	require.NoError(t, repo.CreateIndexes(ctx))

	cleanup := func() {
		if err := mongoContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	}

	return repo, cleanup
}

func sampleCart(ref domain.CartRef) *domain.Cart {
	now := time.Now().UTC().Truncate(time.Millisecond)
	variant := "blue"
	cart := domain.NewCart("cart-"+ref.OwnerID, ref, now)
	cart.Currency = "USD"
	cart.Items = []domain.CartItem{
		{ID: "i1", ProductID: "p1", VariantID: &variant, Quantity: 2, UnitPrice: 1999, VendorID: "v1", AddedAt: now},
	}
	cart.AppliedCoupons = []domain.AppliedCoupon{
		{ID: "ac1", CouponID: "c1", Code: "SAVE10", Type: domain.CouponPercentage, DiscountAmount: 400, AppliesToItemIDs: []string{"i1"}},
	}
	cart.ApplyTotals()
	return cart
}

func TestLoad_NotFound(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	cart, err := repo.Load(context.Background(), domain.UserRef("nonexistent"))

	assert.ErrorIs(t, err, ErrCartNotFound)
	assert.Nil(t, cart)
}

func TestSave_RoundTripsWholeDocument(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	ref := domain.UserRef("user123")

	require.NoError(t, repo.Save(ctx, sampleCart(ref)))

	cart, err := repo.Load(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "cart-user123", cart.ID)
	assert.Equal(t, domain.OwnerUser, cart.OwnerKind)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, "blue", *cart.Items[0].VariantID)
	assert.Equal(t, int64(1999), cart.Items[0].UnitPrice)
	require.Len(t, cart.AppliedCoupons, 1)
	assert.Equal(t, int64(400), cart.AppliedCoupons[0].DiscountAmount)
	assert.Equal(t, int64(3598), cart.Total)
}

func TestSave_ReplacesExisting(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	ref := domain.UserRef("user123")

	cart := sampleCart(ref)
	require.NoError(t, repo.Save(ctx, cart))

	cart.Items = []domain.CartItem{}
	cart.AppliedCoupons = []domain.AppliedCoupon{}
	cart.ApplyTotals()
	require.NoError(t, repo.Save(ctx, cart))

	got, err := repo.Load(ctx, ref)
	require.NoError(t, err)
	assert.Empty(t, got.Items)
	assert.Empty(t, got.AppliedCoupons)
	assert.Equal(t, int64(0), got.Total)
}

func TestSave_GuestAndUserWithSameIDAreSeparate(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	guest := sampleCart(domain.GuestRef("abc"))
	guest.ID = "guest-cart"
	require.NoError(t, repo.Save(ctx, guest))
	require.NoError(t, repo.Save(ctx, sampleCart(domain.UserRef("abc"))))

	g, err := repo.Load(ctx, domain.GuestRef("abc"))
	require.NoError(t, err)
	assert.Equal(t, "guest-cart", g.ID)
}

func TestDelete(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	ref := domain.GuestRef("token")

	require.NoError(t, repo.Save(ctx, sampleCart(ref)))
	require.NoError(t, repo.Delete(ctx, ref))

	_, err := repo.Load(ctx, ref)
	assert.ErrorIs(t, err, ErrCartNotFound)

	assert.ErrorIs(t, repo.Delete(ctx, ref), ErrCartNotFound)
}
