package repository

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/fjod/go_cart/cart-pricing-service/internal/domain"
)

type MongoRepository struct {
	collection *mongo.Collection
}

func ownerFilter(ref domain.CartRef) bson.M {
	return bson.M{"owner_kind": ref.OwnerKind, "owner_id": ref.OwnerID}
}

func (m *MongoRepository) Load(ctx context.Context, ref domain.CartRef) (*domain.Cart, error) {
	var cart domain.Cart

	err := m.collection.FindOne(ctx, ownerFilter(ref)).Decode(&cart)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrCartNotFound
		}
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}

	if cart.Items == nil {
		cart.Items = []domain.CartItem{}
	}
	if cart.AppliedCoupons == nil {
		cart.AppliedCoupons = []domain.AppliedCoupon{}
	}
	return &cart, nil
}

// Save replaces the whole document in one write, creating it on first save.
func (m *MongoRepository) Save(ctx context.Context, cart *domain.Cart) error {
	opts := options.Replace().SetUpsert(true)

	_, err := m.collection.ReplaceOne(ctx, ownerFilter(cart.Ref()), cart, opts)
	if err != nil {
		return fmt.Errorf("failed to save cart: %w", err)
	}
	return nil
}

func (m *MongoRepository) Delete(ctx context.Context, ref domain.CartRef) error {
	result, err := m.collection.DeleteOne(ctx, ownerFilter(ref))
	if err != nil {
		return fmt.Errorf("failed to delete cart: %w", err)
	}

	if result.DeletedCount == 0 {
		return ErrCartNotFound
	}
	return nil
}

func (m *MongoRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "owner_kind", Value: 1}, {Key: "owner_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			// guest carts are abandoned far more often than user carts
			Keys: bson.D{{Key: "updated_at", Value: 1}},
			Options: options.Index().
				SetExpireAfterSeconds(30 * 24 * 60 * 60).
				SetPartialFilterExpression(bson.M{"owner_kind": domain.OwnerGuest}).
				SetName("guest_updated_at_ttl"),
		},
		{
			Keys: bson.D{{Key: "updated_at", Value: 1}},
			Options: options.Index().
				SetExpireAfterSeconds(90 * 24 * 60 * 60). // 90 days TTL
				SetPartialFilterExpression(bson.M{"owner_kind": domain.OwnerUser}).
				SetName("user_updated_at_ttl"),
		},
	}

	_, err := m.collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	return nil
}

func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{
		collection: db.Collection("carts"),
	}
}
