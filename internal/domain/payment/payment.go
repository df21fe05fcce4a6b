// Package payment defines the payment gateway boundary and its signature
// scheme.
package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Currency is the only currency the storefront charges in.
const Currency = "INR"

var (
	// ErrSignatureInvalid is returned when a client-supplied payment
	// signature does not match.
	ErrSignatureInvalid = errors.New("invalid payment signature")
	// ErrWebhookSignatureInvalid is returned when a webhook body signature
	// does not match.
	ErrWebhookSignatureInvalid = errors.New("invalid webhook signature")
)

// Payment statuses reported by the gateway.
const (
	StatusCreated    = "created"
	StatusAuthorized = "authorized"
	StatusCaptured   = "captured"
	StatusRefunded   = "refunded"
	StatusFailed     = "failed"
)

// CreateOrderRequest describes a gateway order. Amount is in minor units.
type CreateOrderRequest struct {
	Amount   int64
	Currency string
	Receipt  string
	Notes    map[string]string
}

// GatewayOrder is an order created at the gateway.
type GatewayOrder struct {
	ID       string
	Amount   int64
	Currency string
	Receipt  string
	Status   string
}

// Payment is a payment record fetched from the gateway.
type Payment struct {
	ID       string
	OrderID  string
	Amount   int64
	Currency string
	Status   string
	Method   string
}

// Succeeded reports whether the payment was captured or authorized.
func (p *Payment) Succeeded() bool {
	return p.Status == StatusCaptured || p.Status == StatusAuthorized
}

// RefundRequest describes a refund. Amount is in minor units.
type RefundRequest struct {
	Amount int64
	Speed  string
	Notes  map[string]string
}

// Refund is a refund record returned by the gateway.
type Refund struct {
	ID        string
	PaymentID string
	Amount    int64
	Status    string
}

// Gateway is the external payment processor.
type Gateway interface {
	CreateOrder(ctx context.Context, req CreateOrderRequest) (*GatewayOrder, error)
	FetchPayment(ctx context.Context, paymentID string) (*Payment, error)
	Refund(ctx context.Context, paymentID string, req RefundRequest) (*Refund, error)
}

// Sign computes the hex HMAC-SHA256 of "orderID|paymentID" with secret.
func Sign(orderID, paymentID string, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a client-supplied payment signature.
func VerifySignature(orderID, paymentID, signature string, secret []byte) error {
	expected := Sign(orderID, paymentID, secret)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrSignatureInvalid
	}
	return nil
}

// SignWebhook computes the hex HMAC-SHA256 of a raw webhook body.
func SignWebhook(body, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyWebhookSignature checks the signature header of a webhook delivery
// against the exact raw body.
func VerifyWebhookSignature(body []byte, signature string, secret []byte) error {
	if signature == "" {
		return ErrWebhookSignatureInvalid
	}
	expected := SignWebhook(body, secret)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrWebhookSignatureInvalid
	}
	return nil
}

// ToMinor converts a currency amount to integer minor units, rounding half
// away from zero.
func ToMinor(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// FromMinor converts integer minor units back to a currency amount.
func FromMinor(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

// Webhook event names handled by the storefront.
const (
	EventPaymentCaptured   = "payment.captured"
	EventPaymentFailed     = "payment.failed"
	EventPaymentAuthorized = "payment.authorized"
	EventOrderPaid         = "order.paid"
)

// WebhookEvent is the decoded subset of a gateway webhook delivery.
type WebhookEvent struct {
	Event string
	// OrderID is the gateway order id, taken from the payment entity or,
	// for order events, from the order entity.
	OrderID     string
	PaymentID   string
	Amount      int64
	ErrorReason string
}

// WebhookDecoder decodes raw webhook bodies.
type WebhookDecoder interface {
	DecodeWebhook(body []byte) (*WebhookEvent, error)
}
