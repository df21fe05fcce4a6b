// Package checkout turns priced carts into gateway payments and gateway
// payments into orders. Payment confirmation and gateway webhooks both
// converge on the same order record, keyed by gateway order id.
package checkout

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/giftbox-api/internal/domain/intent"
	"github.com/xenking/giftbox-api/internal/domain/order"
	"github.com/xenking/giftbox-api/internal/domain/payment"
	"github.com/xenking/giftbox-api/internal/domain/pricing"
	"github.com/xenking/giftbox-api/internal/domain/product"
)

const instrumentationName = "github.com/xenking/giftbox-api/internal/domain/checkout"

// refundSpeed is the gateway refund speed used for automatic refunds.
const refundSpeed = "optimum"

// Pricer prices and validates carts.
type Pricer interface {
	Validate(ctx context.Context, items []pricing.ItemRequest, couponCode string) (*pricing.Quote, error)
}

// Intents records payment intents.
type Intents interface {
	DeliveryFee(city string) decimal.Decimal
	Create(ctx context.Context, p intent.CreateParams) (*intent.Intent, error)
	Complete(ctx context.Context, gatewayOrderID string) error
	Fail(ctx context.Context, gatewayOrderID string) error
	RecordPayment(ctx context.Context, gatewayOrderID, paymentID string) error
}

// IDAllocator hands out order ids.
type IDAllocator interface {
	Next(ctx context.Context) (string, error)
}

// CouponCounter redeems coupons.
type CouponCounter interface {
	IncrementUsage(ctx context.Context, id string) error
}

// WebhookStore remembers processed webhook deliveries.
type WebhookStore interface {
	// MarkProcessed records eventID and reports whether it was new.
	MarkProcessed(ctx context.Context, eventID, event string) (bool, error)
}

// Unlock releases a lock taken by Locker.TryLock.
type Unlock func(ctx context.Context) error

// Locker provides advisory locks. TryLock returns ErrLockHeld when key is
// held elsewhere.
type Locker interface {
	TryLock(ctx context.Context, key string) (Unlock, error)
}

type nopLocker struct{}

func (nopLocker) TryLock(context.Context, string) (Unlock, error) {
	return func(context.Context) error { return nil }, nil
}

// Config holds gateway credentials.
type Config struct {
	KeyID         string
	KeySecret     string
	WebhookSecret string
}

// Deps are the collaborators of a Service. Locker, Events, Processed,
// MeterProvider and TracerProvider are optional.
type Deps struct {
	Pricer    Pricer
	Intents   Intents
	Orders    order.Repository
	IDs       IDAllocator
	Stock     product.StockStore
	Coupons   CouponCounter
	Gateway   payment.Gateway
	Webhooks  payment.WebhookDecoder
	Processed WebhookStore
	Locker    Locker
	Events    order.EventPublisher

	MeterProvider  metric.MeterProvider
	TracerProvider trace.TracerProvider
}

// Service orchestrates checkout and payment reconciliation.
type Service struct {
	cfg       Config
	pricer    Pricer
	intents   Intents
	orders    order.Repository
	ids       IDAllocator
	stock     product.StockStore
	coupons   CouponCounter
	gateway   payment.Gateway
	webhooks  payment.WebhookDecoder
	processed WebhookStore
	locker    Locker
	events    order.EventPublisher

	tracer trace.Tracer
	m      *metrics
	now    func() time.Time
}

// NewService creates a Service.
func NewService(cfg Config, d Deps) (*Service, error) {
	if d.Locker == nil {
		d.Locker = nopLocker{}
	}
	if d.Events == nil {
		d.Events = order.NopPublisher{}
	}
	if d.MeterProvider == nil {
		d.MeterProvider = metricnoop.NewMeterProvider()
	}
	if d.TracerProvider == nil {
		d.TracerProvider = tracenoop.NewTracerProvider()
	}
	m, err := newMetrics(d.MeterProvider.Meter(instrumentationName))
	if err != nil {
		return nil, errors.Wrap(err, "create metrics")
	}
	return &Service{
		cfg:       cfg,
		pricer:    d.Pricer,
		intents:   d.Intents,
		orders:    d.Orders,
		ids:       d.IDs,
		stock:     d.Stock,
		coupons:   d.Coupons,
		gateway:   d.Gateway,
		webhooks:  d.Webhooks,
		processed: d.Processed,
		locker:    d.Locker,
		events:    d.Events,
		tracer:    d.TracerProvider.Tracer(instrumentationName),
		m:         m,
		now:       time.Now,
	}, nil
}

type metrics struct {
	ordersPlaced   metric.Int64Counter
	refunds        metric.Int64Counter
	stockConflicts metric.Int64Counter
	webhookEvents  metric.Int64Counter
}

func newMetrics(meter metric.Meter) (*metrics, error) {
	var (
		m   metrics
		err error
	)
	if m.ordersPlaced, err = meter.Int64Counter("checkout.orders.placed",
		metric.WithDescription("Orders created from verified payments"),
	); err != nil {
		return nil, err
	}
	if m.refunds, err = meter.Int64Counter("checkout.refunds",
		metric.WithDescription("Automatic refunds attempted"),
	); err != nil {
		return nil, err
	}
	if m.stockConflicts, err = meter.Int64Counter("checkout.stock.conflicts",
		metric.WithDescription("Orders cancelled by a late stock conflict"),
	); err != nil {
		return nil, err
	}
	if m.webhookEvents, err = meter.Int64Counter("checkout.webhook.events",
		metric.WithDescription("Verified webhook deliveries by event"),
	); err != nil {
		return nil, err
	}
	return &m, nil
}

// QuoteResult is a priced cart including delivery.
type QuoteResult struct {
	*pricing.Quote
	DeliveryFee decimal.Decimal
	// Total is the amount that will be charged.
	Total decimal.Decimal
}

// Quote prices a cart for delivery to city without side effects.
func (s *Service) Quote(ctx context.Context, items []pricing.ItemRequest, couponCode, city string) (*QuoteResult, error) {
	q, err := s.pricer.Validate(ctx, items, couponCode)
	if err != nil {
		return nil, err
	}
	fee := s.intents.DeliveryFee(city)
	return &QuoteResult{Quote: q, DeliveryFee: fee, Total: q.FinalAmount.Add(fee)}, nil
}

// PaymentOrderRequest asks for a gateway order for a cart.
type PaymentOrderRequest struct {
	UserID     string
	Items      []pricing.ItemRequest
	Address    *order.Address
	CouponCode string
}

// PaymentOrder is a created gateway order with its pricing breakdown.
type PaymentOrder struct {
	GatewayOrderID string
	// Amount is in minor units.
	Amount   int64
	Currency string
	KeyID    string
	Quote    *QuoteResult
}

// CreatePaymentOrder prices the cart, creates a gateway order for the total
// including delivery and records a payment intent for it.
func (s *Service) CreatePaymentOrder(ctx context.Context, req PaymentOrderRequest) (_ *PaymentOrder, rerr error) {
	ctx, span := s.tracer.Start(ctx, "checkout.CreatePaymentOrder")
	defer func() { endSpan(span, rerr) }()

	if len(req.Items) == 0 {
		return nil, pricing.ErrEmptyItems
	}
	if req.Address == nil || strings.TrimSpace(req.Address.City) == "" {
		return nil, ErrAddressRequired
	}

	q, err := s.Quote(ctx, req.Items, req.CouponCode, req.Address.City)
	if err != nil {
		return nil, err
	}

	user := req.UserID
	if user == "" {
		user = "guest"
	}
	gw, err := s.gateway.CreateOrder(ctx, payment.CreateOrderRequest{
		Amount:   payment.ToMinor(q.Total),
		Currency: payment.Currency,
		Receipt:  receipt(s.now(), req.UserID),
		Notes: map[string]string{
			"userId":       user,
			"itemCount":    fmt.Sprint(len(req.Items)),
			"deliveryCity": req.Address.City,
			"deliveryFee":  q.DeliveryFee.String(),
		},
	})
	if err != nil {
		return nil, &GatewayError{Op: "create order", Err: err}
	}
	span.SetAttributes(attribute.String("gateway.order_id", gw.ID))

	if _, err := s.intents.Create(ctx, intent.CreateParams{
		GatewayOrderID: gw.ID,
		UserID:         req.UserID,
		Quote:          q.Quote,
		DeliveryFee:    q.DeliveryFee,
		Address:        *req.Address,
		CouponCode:     req.CouponCode,
	}); err != nil {
		return nil, errors.Wrap(err, "record payment intent")
	}

	zctx.From(ctx).Info("Payment order created",
		zap.String("gateway_order_id", gw.ID),
		zap.Int64("amount", gw.Amount),
		zap.String("user_id", user),
	)

	return &PaymentOrder{
		GatewayOrderID: gw.ID,
		Amount:         gw.Amount,
		Currency:       gw.Currency,
		KeyID:          s.cfg.KeyID,
		Quote:          q,
	}, nil
}

// receipt builds the gateway receipt: ord_<unix ms>_<last 6 of user id>,
// capped at 40 characters.
func receipt(now time.Time, userID string) string {
	short := "guest"
	if userID != "" {
		short = userID
		if len(short) > 6 {
			short = short[len(short)-6:]
		}
	}
	r := fmt.Sprintf("ord_%d_%s", now.UnixMilli(), short)
	if len(r) > 40 {
		r = r[:40]
	}
	return r
}

func (s *Service) publish(ctx context.Context, e order.Event) {
	if err := s.events.Publish(ctx, e); err != nil {
		zctx.From(ctx).Warn("Failed to publish order event",
			zap.String("type", string(e.Type)),
			zap.String("order_id", e.OrderID),
			zap.Error(err),
		)
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}
