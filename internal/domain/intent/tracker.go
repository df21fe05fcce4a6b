package intent

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/giftbox-api/internal/domain/order"
	"github.com/xenking/giftbox-api/internal/domain/pricing"
)

// DeliveryFees is a flat per-city delivery fee table: one discounted city,
// everything else at the standard fee.
type DeliveryFees struct {
	DiscountedCity string
	DiscountedFee  decimal.Decimal
	StandardFee    decimal.Decimal
}

// For returns the delivery fee for city. Cities match case-insensitively.
func (f DeliveryFees) For(city string) decimal.Decimal {
	if f.DiscountedCity != "" && strings.EqualFold(strings.TrimSpace(city), f.DiscountedCity) {
		return f.DiscountedFee
	}
	return f.StandardFee
}

// Config configures a Tracker.
type Config struct {
	TTL  time.Duration
	Fees DeliveryFees
}

// CreateParams holds the input for recording an intent.
type CreateParams struct {
	GatewayOrderID string
	UserID         string
	Quote          *pricing.Quote
	DeliveryFee    decimal.Decimal
	Address        order.Address
	CouponCode     string
}

// Tracker records and transitions payment intents.
type Tracker struct {
	repo Repository
	cfg  Config
	now  func() time.Time
}

// NewTracker creates a Tracker.
func NewTracker(repo Repository, cfg Config) *Tracker {
	if cfg.TTL <= 0 {
		cfg.TTL = 15 * time.Minute
	}
	return &Tracker{repo: repo, cfg: cfg, now: time.Now}
}

// DeliveryFee returns the delivery fee for a shipping city.
func (t *Tracker) DeliveryFee(city string) decimal.Decimal {
	return t.cfg.Fees.For(city)
}

// Create stores the pricing snapshot for a freshly created gateway order.
func (t *Tracker) Create(ctx context.Context, p CreateParams) (*Intent, error) {
	now := t.now()
	in := &Intent{
		ID:             uuid.NewString(),
		GatewayOrderID: p.GatewayOrderID,
		UserID:         p.UserID,
		Items:          p.Quote.Items,
		TotalAmount:    p.Quote.TotalAmount,
		Discount:       p.Quote.Discount,
		DeliveryFee:    p.DeliveryFee,
		FinalAmount:    p.Quote.FinalAmount.Add(p.DeliveryFee),
		Address:        p.Address,
		CouponCode:     p.CouponCode,
		Status:         StatusPending,
		ExpiresAt:      now.Add(t.cfg.TTL),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if p.Quote.Coupon != nil {
		in.CouponID = p.Quote.Coupon.ID
	}
	if err := t.repo.Create(ctx, in); err != nil {
		return nil, errors.Wrap(err, "create intent")
	}
	return in, nil
}

// Get returns the intent for a gateway order.
func (t *Tracker) Get(ctx context.Context, gatewayOrderID string) (*Intent, error) {
	return t.repo.GetByGatewayOrderID(ctx, gatewayOrderID)
}

// Complete marks the intent as converted into an order.
func (t *Tracker) Complete(ctx context.Context, gatewayOrderID string) error {
	return t.repo.SetStatus(ctx, gatewayOrderID, StatusCompleted)
}

// Fail marks the intent as failed.
func (t *Tracker) Fail(ctx context.Context, gatewayOrderID string) error {
	return t.repo.SetStatus(ctx, gatewayOrderID, StatusFailed)
}

// RecordPayment attaches a gateway-reported payment to an intent that has
// no order yet, keeping it out of expiry cleanup. A failed intent that
// receives a different payment is reopened.
func (t *Tracker) RecordPayment(ctx context.Context, gatewayOrderID, paymentID string) error {
	return t.repo.RecordPayment(ctx, gatewayOrderID, paymentID)
}

// Unreconciled lists intents holding payments that never became orders.
func (t *Tracker) Unreconciled(ctx context.Context) ([]Intent, error) {
	return t.repo.ListUnreconciled(ctx)
}
