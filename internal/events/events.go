// Package events publishes order lifecycle messages to RabbitMQ.
package events

import (
	"context"
	"time"

	"orderdesk/backend/internal/domain"
	"orderdesk/backend/internal/xid"
)

const (
	TypeOrderFinalized     = "order.finalized"
	TypeOrderStatusChanged = "order.status_changed"
)

// OrderEvent is the JSON body of every published message.
type OrderEvent struct {
	EventID           string    `json:"event_id"`
	Type              string    `json:"type"`
	OrderID           string    `json:"order_id"`
	Channel           string    `json:"channel"`
	DiscountCode      string    `json:"discount_code,omitempty"`
	TotalCents        int64     `json:"total_cents"`
	FulfillmentStatus string    `json:"fulfillment_status"`
	InvoiceStatus     string    `json:"invoice_status"`
	UnifiedStatus     string    `json:"unified_status"`
	OccurredAt        time.Time `json:"occurred_at"`
}

func NewOrderEvent(eventType string, order domain.Order, at time.Time) OrderEvent {
	return OrderEvent{
		EventID:           xid.New("evt"),
		Type:              eventType,
		OrderID:           order.ID,
		Channel:           order.Channel,
		DiscountCode:      order.DiscountCode,
		TotalCents:        order.TotalCents,
		FulfillmentStatus: order.FulfillmentStatus,
		InvoiceStatus:     order.InvoiceStatus,
		UnifiedStatus:     order.UnifiedStatus,
		OccurredAt:        at.UTC(),
	}
}

type Publisher interface {
	Publish(ctx context.Context, event OrderEvent) error
}

type NoopPublisher struct{}

func (NoopPublisher) Publish(_ context.Context, _ OrderEvent) error {
	return nil
}
