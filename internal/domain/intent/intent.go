// Package intent records priced checkout attempts tied to gateway orders.
package intent

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/giftbox-api/internal/domain/order"
)

// ErrNotFound is returned when no intent exists for a gateway order id.
var ErrNotFound = errors.New("payment intent not found")

// Status is the lifecycle state of a payment intent.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	// StatusExpired marks intents past their TTL that carry a payment
	// reported by the gateway and therefore cannot simply be dropped.
	StatusExpired Status = "expired"
)

// Intent is a denormalized pricing snapshot recorded when a gateway order is
// created. It is kept for audit and recovery only; confirmation re-prices
// the cart independently.
type Intent struct {
	ID             string
	GatewayOrderID string
	UserID         string
	Items          []order.Item
	TotalAmount    decimal.Decimal
	Discount       decimal.Decimal
	DeliveryFee    decimal.Decimal
	// FinalAmount includes the delivery fee.
	FinalAmount decimal.Decimal
	Address     order.Address
	CouponCode  string
	CouponID    string
	Status      Status
	// PaymentID is set when the gateway reported a payment for this intent
	// before any order existed.
	PaymentID string
	ExpiresAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Repository persists payment intents.
type Repository interface {
	Create(ctx context.Context, in *Intent) error
	GetByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*Intent, error)
	SetStatus(ctx context.Context, gatewayOrderID string, status Status) error
	// RecordPayment stores a gateway payment id on the intent.
	RecordPayment(ctx context.Context, gatewayOrderID, paymentID string) error
	// DeleteExpired removes intents that expired before cutoff unless they
	// hold a payment that never became an order.
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
	// MarkExpired flags pending intents that expired before cutoff but carry
	// a payment.
	MarkExpired(ctx context.Context, cutoff time.Time) (int64, error)
	// ListUnreconciled returns intents holding a payment that never became an
	// order.
	ListUnreconciled(ctx context.Context) ([]Intent, error)
}
