package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fjod/go_cart/cart-pricing-service/internal/domain"
	"github.com/fjod/go_cart/cart-pricing-service/internal/repository"
)

// MergeGuestCart folds the guest token's cart into the user's cart at login.
// The merged cart is saved before the guest cart is deleted, so a crash in
// between leaves both carts rather than neither.
func (s *CartService) MergeGuestCart(ctx context.Context, guestToken, userID string) (*domain.Cart, error) {
	guestRef, userRef := domain.GuestRef(guestToken), domain.UserRef(userID)
	if !guestRef.Valid() || !userRef.Valid() {
		return nil, domain.NewValidation(domain.CodeInvalidArgument, "owner", "both a guest token and a user id are required")
	}

	guest, guestExists, err := s.load(ctx, guestRef)
	if err != nil {
		return nil, err
	}
	user, _, err := s.load(ctx, userRef)
	if err != nil {
		return nil, err
	}

	if !guestExists {
		return user, nil
	}
	if guest.IsEmpty() {
		s.deleteGuest(ctx, guestRef)
		return user, nil
	}

	merged, err := s.reconciler.Merge(ctx, guest, user)
	if err != nil {
		return nil, err
	}
	merged.UpdatedAt = s.now()

	if err := s.repo.Save(ctx, merged); err != nil {
		s.logger.Error("repo save merged cart error", zap.String("cart", userRef.String()), zap.Error(err))
		return nil, fmt.Errorf("save merged cart: %w", err)
	}
	s.invalidateCache(userRef)
	s.deleteGuest(ctx, guestRef)

	s.logger.Info("merged guest cart",
		zap.String("user_id", userID),
		zap.Int("guest_items", len(guest.Items)),
		zap.Int("merged_items", len(merged.Items)))
	return merged, nil
}

// deleteGuest failures are logged only: the merged cart is already durable.
func (s *CartService) deleteGuest(ctx context.Context, ref domain.CartRef) {
	if err := s.repo.Delete(ctx, ref); err != nil && !errors.Is(err, repository.ErrCartNotFound) {
		s.logger.Error("repo delete guest cart error", zap.String("cart", ref.String()), zap.Error(err))
	}
	s.invalidateCache(ref)
}

// CompleteCheckout records redemptions of the user's applied coupons against
// orderRef and then deletes the cart. Redemptions are idempotent per order,
// so a redelivered event is harmless.
func (s *CartService) CompleteCheckout(ctx context.Context, userID, orderRef string) error {
	ref := domain.UserRef(userID)
	if err := checkRef(ref); err != nil {
		return err
	}

	cart, exists, err := s.load(ctx, ref)
	if err != nil {
		return err
	}
	if !exists {
		s.invalidateCache(ref)
		return nil
	}

	if s.redemptions != nil && orderRef != "" {
		for _, ac := range cart.AppliedCoupons {
			if err := s.redemptions.RecordRedemption(ctx, ac.CouponID, userID, orderRef, s.now()); err != nil {
				return fmt.Errorf("record redemption of %s: %w", ac.Code, err)
			}
		}
	}

	if err := s.repo.Delete(ctx, ref); err != nil && !errors.Is(err, repository.ErrCartNotFound) {
		return fmt.Errorf("delete cart: %w", err)
	}
	s.invalidateCache(ref)
	return nil
}
