package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/fjod/electronics-store/internal/domain"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	DefaultCheckoutTopic   = "checkout-completed"
	DefaultCheckoutGroupID = "basket-service-checkout"
)

// readRetryDelay spaces out reads after a broker error
const readRetryDelay = time.Second

// MessageReader is the subset of *kafka.Reader the consumer needs
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// CheckoutCompleter marks a basket as checked out
type CheckoutCompleter interface {
	CompleteCheckout(ctx context.Context, basketID string) error
}

// CheckoutCompleted is the message the checkout system sends once payment
// for a basket went through.
type CheckoutCompleted struct {
	BasketID string `json:"basket_id"`
}

// CheckoutConsumer reads checkout notifications and closes the baskets they
// name. Messages that cannot be applied are logged and skipped.
type CheckoutConsumer struct {
	reader    MessageReader
	completer CheckoutCompleter
	logger    *zap.Logger
}

func NewCheckoutConsumer(brokers []string, topic, groupID string, completer CheckoutCompleter, logger *zap.Logger) *CheckoutConsumer {
	if topic == "" {
		topic = DefaultCheckoutTopic
	}
	if groupID == "" {
		groupID = DefaultCheckoutGroupID
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MaxBytes: 10e6, // 10MB
	})
	return NewConsumer(reader, completer, logger)
}

func NewConsumer(reader MessageReader, completer CheckoutCompleter, logger *zap.Logger) *CheckoutConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CheckoutConsumer{reader: reader, completer: completer, logger: logger}
}

// Run consumes until ctx is cancelled or the reader is closed
func (c *CheckoutConsumer) Run(ctx context.Context) {
	for {
		m, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return
			}
			c.logger.Warn("error reading message", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(readRetryDelay):
			}
			continue
		}
		c.handle(ctx, m)
	}
}

func (c *CheckoutConsumer) handle(ctx context.Context, m kafka.Message) {
	log := c.logger.With(zap.Int("partition", m.Partition), zap.Int64("offset", m.Offset))

	var msg CheckoutCompleted
	if err := json.Unmarshal(m.Value, &msg); err != nil {
		log.Warn("error parsing message", zap.Error(err))
		return
	}
	if msg.BasketID == "" {
		log.Warn("missing basket_id")
		return
	}

	err := c.completer.CompleteCheckout(ctx, msg.BasketID)
	switch {
	case err == nil:
		log.Info("checkout completed", zap.String("basket_id", msg.BasketID))
	case errors.Is(err, domain.ErrBasketNotFound):
		log.Warn("checkout for unknown basket", zap.String("basket_id", msg.BasketID))
	default:
		log.Error("failed to complete checkout", zap.String("basket_id", msg.BasketID), zap.Error(err))
	}
}

func (c *CheckoutConsumer) Close() error {
	return c.reader.Close()
}
