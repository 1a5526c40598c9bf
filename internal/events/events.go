// Package events publishes order lifecycle events for downstream consumers
// such as fulfilment and email.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"storefront/internal/models"
)

const (
	TypeOrderCreated       = "order.created"
	TypeOrderStatusChanged = "order.status_changed"
)

type OrderEvent struct {
	Type            string    `json:"type"`
	OrderID         string    `json:"orderId"`
	UserID          string    `json:"userId"`
	PaymentIntentID string    `json:"paymentIntentId,omitempty"`
	Status          string    `json:"status"`
	PreviousStatus  string    `json:"previousStatus,omitempty"`
	TrackingNumber  string    `json:"trackingNumber,omitempty"`
	Total           float64   `json:"total"`
	Currency        string    `json:"currency,omitempty"`
	OccurredAt      time.Time `json:"occurredAt"`
}

func OrderCreated(order models.Order, now time.Time) OrderEvent {
	return OrderEvent{
		Type:            TypeOrderCreated,
		OrderID:         order.ID,
		UserID:          order.UserID,
		PaymentIntentID: order.PaymentIntentID,
		Status:          order.Status,
		Total:           order.Total,
		Currency:        order.Currency,
		OccurredAt:      now,
	}
}

func OrderStatusChanged(order models.Order, previous string, now time.Time) OrderEvent {
	e := OrderCreated(order, now)
	e.Type = TypeOrderStatusChanged
	e.PreviousStatus = previous
	e.TrackingNumber = order.TrackingNumber
	return e
}

type Publisher interface {
	Publish(ctx context.Context, event OrderEvent) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events keyed by order id so that every event of an
// order lands on the same partition.
type KafkaPublisher struct {
	writer messageWriter
}

func NewKafkaPublisher(topic string, brokers ...string) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		WriteTimeout:           5 * time.Second,
	}
	return &KafkaPublisher{writer: w}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event OrderEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event.Type, err)
	}

	msg := kafka.Message{
		Key:   []byte(event.OrderID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s event for %s: %w", event.Type, event.OrderID, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NopPublisher drops every event. Used when no brokers are configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, OrderEvent) error { return nil }
func (NopPublisher) Close() error                              { return nil }
