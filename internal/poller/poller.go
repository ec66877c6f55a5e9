package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/fjod/go_cart/cart-pricing-service/internal/domain"
)

const (
	CheckoutTopic = "checkout-outbox"
	SessionTopic  = "session-events"
	consumerGroup = "cart-pricing-service-consumer"

	sessionAuthenticated = "authenticated"

	initialBackoff = 500 * time.Millisecond
	maxBackoff     = 30 * time.Second
)

var errMalformed = errors.New("malformed event")

// messageReader is the part of *kafka.Reader the poller drives.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// CartEvents is the part of the cart service driven by events.
type CartEvents interface {
	CompleteCheckout(ctx context.Context, userID, orderRef string) error
	MergeGuestCart(ctx context.Context, guestToken, userID string) (*domain.Cart, error)
}

type checkoutEvent struct {
	CheckoutID string `json:"checkout_id"`
	UserID     string `json:"user_id"`
}

type sessionEvent struct {
	Type       string `json:"type"`
	GuestToken string `json:"guest_token"`
	UserID     string `json:"user_id"`
}

type Poller struct {
	carts   CartEvents
	reader  messageReader
	logger  *zap.Logger
	backoff time.Duration
}

func NewPoller(carts CartEvents, logger *zap.Logger, brokers ...string) *Poller {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		GroupTopics: []string{CheckoutTopic, SessionTopic},
		GroupID:     consumerGroup,
		MaxBytes:    10e6, // 10MB
	})
	return &Poller{carts: carts, reader: reader, logger: logger, backoff: initialBackoff}
}

// Run commits a message only after it was handled or found permanently
// unprocessable. Transient failures are retried with backoff, so delivery is
// at least once and handlers must tolerate repeats.
func (p *Poller) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		m, err := p.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() == nil {
				p.logger.Warn("error fetching message", zap.Error(err))
			}
			continue
		}
		if !p.process(ctx, m) {
			return
		}
		if err := p.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			p.logger.Warn("error committing message",
				zap.String("topic", m.Topic),
				zap.Int("partition", m.Partition),
				zap.Int64("offset", m.Offset),
				zap.Error(err))
		}
	}
}

// process reports false when ctx ended before m was settled.
func (p *Poller) process(ctx context.Context, m kafka.Message) bool {
	backoff := p.backoff
	for {
		err := p.handleMessage(ctx, m)
		if err == nil {
			return true
		}
		fields := []zap.Field{
			zap.String("topic", m.Topic),
			zap.Int("partition", m.Partition),
			zap.Int64("offset", m.Offset),
			zap.Error(err),
		}
		if permanent(err) {
			p.logger.Error("dropping message that cannot be handled", fields...)
			return true
		}
		p.logger.Warn("failed to handle message, retrying", append(fields, zap.Duration("backoff", backoff))...)

		select {
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

func permanent(err error) bool {
	if errors.Is(err, errMalformed) {
		return true
	}
	switch domain.KindOf(err) {
	case domain.KindValidation, domain.KindNotFound, domain.KindConflict:
		return true
	}
	return false
}

func (p *Poller) Close() {
	if err := p.reader.Close(); err != nil {
		p.logger.Warn("error closing reader", zap.Error(err))
	}
}

// handleMessage dispatches one record. Malformed payloads wrap errMalformed.
func (p *Poller) handleMessage(ctx context.Context, m kafka.Message) error {
	switch m.Topic {
	case CheckoutTopic:
		var ev checkoutEvent
		if err := json.Unmarshal(m.Value, &ev); err != nil {
			return fmt.Errorf("%w: parse checkout event: %v", errMalformed, err)
		}
		if ev.UserID == "" {
			return fmt.Errorf("%w: checkout event without user_id", errMalformed)
		}
		orderRef := ev.CheckoutID
		if orderRef == "" {
			orderRef = fmt.Sprintf("%s/%d/%d", m.Topic, m.Partition, m.Offset)
		}
		return p.carts.CompleteCheckout(ctx, ev.UserID, orderRef)

	case SessionTopic:
		var ev sessionEvent
		if err := json.Unmarshal(m.Value, &ev); err != nil {
			return fmt.Errorf("%w: parse session event: %v", errMalformed, err)
		}
		if ev.Type != sessionAuthenticated {
			return nil
		}
		if ev.GuestToken == "" || ev.UserID == "" {
			return fmt.Errorf("%w: authenticated event without guest_token or user_id", errMalformed)
		}
		if _, err := p.carts.MergeGuestCart(ctx, ev.GuestToken, ev.UserID); err != nil {
			return err
		}
		p.logger.Info("guest cart merged on login", zap.String("user_id", ev.UserID))
		return nil

	default:
		p.logger.Debug("ignoring message from unknown topic", zap.String("topic", m.Topic))
		return nil
	}
}
