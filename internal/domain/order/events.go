package order

import (
	"context"
	"time"
)

// EventType names an order lifecycle event.
type EventType string

const (
	EventPlaced         EventType = "order.placed"
	EventPaymentUpdated EventType = "order.payment_updated"
	EventStatusChanged  EventType = "order.status_changed"
	EventDeleted        EventType = "order.deleted"
)

// Event is a lifecycle notification for downstream consumers such as the
// mailer.
type Event struct {
	Type          EventType     `json:"type"`
	OrderID       string        `json:"orderId"`
	UserID        string        `json:"userId,omitempty"`
	PaymentStatus PaymentStatus `json:"paymentStatus,omitempty"`
	Status        Status        `json:"status,omitempty"`
	PaymentID     string        `json:"paymentId,omitempty"`
	At            time.Time     `json:"at"`
}

// NewEvent builds an event of type t from the current state of o.
func NewEvent(t EventType, o *Order) Event {
	return Event{
		Type:          t,
		OrderID:       o.OrderID,
		UserID:        o.UserID,
		PaymentStatus: o.PaymentStatus,
		Status:        o.Status,
		PaymentID:     o.PaymentID,
		At:            time.Now().UTC(),
	}
}

// EventPublisher delivers order events. Publishing is best effort: callers
// log failures and carry on.
type EventPublisher interface {
	Publish(ctx context.Context, e Event) error
}

// NopPublisher drops every event.
type NopPublisher struct{}

// Publish implements EventPublisher.
func (NopPublisher) Publish(context.Context, Event) error { return nil }
