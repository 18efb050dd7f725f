package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/akashsreedhar/order-engine/internal/domain"
	"github.com/segmentio/kafka-go"
)

// OrderPlaced is published after an order record is created. Downstream
// consumers (notifications, fulfilment) hang off this topic.
type OrderPlaced struct {
	OrderID       string                 `json:"order_id"`
	UserID        string                 `json:"user_id"`
	Lines         []domain.CorrectedLine `json:"lines"`
	TotalAmount   float64                `json:"total_amount"`
	Currency      string                 `json:"currency"`
	PaymentMethod string                 `json:"payment_method"`
	PlacedAt      time.Time              `json:"placed_at"`
}

// messageWriter is the slice of kafka.Writer the publisher needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Publisher struct {
	writer messageWriter
}

func NewPublisher(brokers ...string) *Publisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  "order-events",
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
	return &Publisher{writer: w}
}

func (p *Publisher) OrderPlaced(ctx context.Context, event OrderPlaced) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal order event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.OrderID), // order_id for ordering
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte("order.placed")},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish order event: %w", err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
