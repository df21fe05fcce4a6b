package checkout

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/xenking/giftbox-api/internal/domain/coupon"
	"github.com/xenking/giftbox-api/internal/domain/order"
	"github.com/xenking/giftbox-api/internal/domain/payment"
	"github.com/xenking/giftbox-api/internal/domain/pricing"
)

// VerifyRequest is a client-side payment confirmation.
type VerifyRequest struct {
	UserID         string
	GatewayOrderID string
	PaymentID      string
	Signature      string
	Items          []pricing.ItemRequest
	Address        *order.Address
	CouponCode     string
}

// Confirmation is the result of a verified payment.
type Confirmation struct {
	Order     *order.Order
	PaymentID string
	// AlreadyProcessed is set when the order existed before this call.
	AlreadyProcessed bool
}

// VerifyAndCreateOrder verifies a client-reported payment against the
// gateway, re-prices the cart and creates the order with its stock and
// coupon effects. Replays for an already converted gateway order return the
// existing order without further effects.
func (s *Service) VerifyAndCreateOrder(ctx context.Context, req VerifyRequest) (_ *Confirmation, rerr error) {
	ctx, span := s.tracer.Start(ctx, "checkout.VerifyAndCreateOrder")
	defer func() { endSpan(span, rerr) }()

	if req.GatewayOrderID == "" || req.PaymentID == "" || req.Signature == "" {
		return nil, ErrMissingPaymentFields
	}
	if len(req.Items) == 0 {
		return nil, pricing.ErrEmptyItems
	}
	if req.Address == nil {
		return nil, ErrAddressRequired
	}
	if err := payment.VerifySignature(req.GatewayOrderID, req.PaymentID, req.Signature, []byte(s.cfg.KeySecret)); err != nil {
		return nil, err
	}

	// Once the payment is proven, finish regardless of client disconnects.
	ctx = context.WithoutCancel(ctx)
	gid := req.GatewayOrderID
	lg := zctx.From(ctx).With(
		zap.String("gateway_order_id", gid),
		zap.String("payment_id", req.PaymentID),
	)
	ctx = zctx.Base(ctx, lg)
	span.SetAttributes(attribute.String("gateway.order_id", gid))

	if existing, err := s.existingOrder(ctx, gid); err != nil || existing != nil {
		return existing, err
	}

	unlock, err := s.locker.TryLock(ctx, "confirm:"+gid)
	switch {
	case errors.Is(err, ErrLockHeld):
		return nil, ErrConfirmationInProgress
	case err != nil:
		lg.Warn("Confirmation lock unavailable, continuing without it", zap.Error(err))
		unlock = func(context.Context) error { return nil }
	}
	defer func() {
		if err := unlock(ctx); err != nil {
			lg.Warn("Failed to release confirmation lock", zap.Error(err))
		}
	}()

	// The lock may have been taken right after a concurrent confirmation
	// finished.
	if existing, err := s.existingOrder(ctx, gid); err != nil || existing != nil {
		return existing, err
	}

	p, err := s.gateway.FetchPayment(ctx, req.PaymentID)
	if err != nil {
		return nil, &GatewayError{Op: "fetch payment", Err: err}
	}
	if !p.Succeeded() {
		return nil, &PaymentNotSuccessfulError{Status: p.Status}
	}
	if p.OrderID != gid {
		return nil, ErrOrderIDMismatch
	}

	q, err := s.pricer.Validate(ctx, req.Items, req.CouponCode)
	if err != nil {
		s.refund(ctx, p.ID, p.Amount, "order_validation_failed", err)
		s.failIntent(ctx, gid, p.ID)
		return nil, &OrderValidationFailedError{Err: err}
	}

	fee := s.intents.DeliveryFee(req.Address.City)
	final := q.FinalAmount.Add(fee)
	if expected := payment.ToMinor(final); expected != p.Amount {
		mismatch := &AmountMismatchError{Expected: expected, Paid: p.Amount}
		s.refund(ctx, p.ID, p.Amount, "amount_mismatch", mismatch)
		s.failIntent(ctx, gid, p.ID)
		return nil, mismatch
	}

	orderID, err := s.ids.Next(ctx)
	if err != nil {
		s.keepPayment(ctx, gid, p.ID)
		return nil, errors.Wrap(err, "allocate order id")
	}

	o := &order.Order{
		OrderID:        orderID,
		UserID:         req.UserID,
		Items:          q.Items,
		TotalAmount:    q.TotalAmount,
		Discount:       q.Discount,
		DeliveryFee:    fee,
		FinalAmount:    final,
		PaymentStatus:  order.PaymentSuccess,
		PaymentID:      p.ID,
		GatewayOrderID: gid,
		Address:        *req.Address,
		Status:         order.StatusProcessing,
	}
	if q.Coupon != nil {
		o.CouponCode = coupon.NormalizeCode(req.CouponCode)
	}
	if err := s.orders.Create(ctx, o); err != nil {
		if errors.Is(err, order.ErrDuplicateGatewayOrder) {
			lg.Info("Order already processed by a concurrent confirmation")
			return s.existingOrder(ctx, gid)
		}
		s.keepPayment(ctx, gid, p.ID)
		return nil, errors.Wrap(err, "create order")
	}
	lg = lg.With(zap.String("order_id", o.OrderID))

	if conflict := applyStock(ctx, s.stock, q.Stock); conflict != nil {
		return nil, s.cancelForConflict(ctx, o, conflict)
	}

	if q.Coupon != nil {
		if err := s.coupons.IncrementUsage(ctx, q.Coupon.ID); err != nil {
			lg.Warn("Failed to redeem coupon",
				zap.String("coupon", q.Coupon.Code),
				zap.Error(err),
			)
		}
	}

	if err := s.intents.Complete(ctx, gid); err != nil {
		lg.Warn("Failed to complete payment intent", zap.Error(err))
	}
	s.publish(ctx, order.NewEvent(order.EventPlaced, o))
	s.m.ordersPlaced.Add(ctx, 1)

	lg.Info("Order placed", zap.String("final_amount", o.FinalAmount.String()))
	return &Confirmation{Order: o, PaymentID: p.ID}, nil
}

// existingOrder returns the confirmation for an order already created for
// gid, or nil when there is none.
func (s *Service) existingOrder(ctx context.Context, gid string) (*Confirmation, error) {
	o, err := s.orders.GetByGatewayOrderID(ctx, gid)
	switch {
	case errors.Is(err, order.ErrNotFound):
		return nil, nil
	case err != nil:
		return nil, errors.Wrap(err, "look up order")
	}
	return &Confirmation{Order: o, PaymentID: o.PaymentID, AlreadyProcessed: true}, nil
}

func (s *Service) cancelForConflict(ctx context.Context, o *order.Order, conflict *stockConflict) error {
	lg := zctx.From(ctx)
	s.m.stockConflicts.Add(ctx, 1)

	cerr := &StockConflictError{
		OrderID:   o.OrderID,
		ProductID: conflict.change.Target.ProductID,
		Name:      conflict.change.Name,
	}
	s.refund(ctx, o.PaymentID, payment.ToMinor(o.FinalAmount), "stock_conflict", cerr)

	upd := order.PaymentUpdate{PaymentStatus: order.PaymentFailed, Status: order.StatusCancelled}
	if _, err := s.orders.UpdatePayment(ctx, o.OrderID, upd); err != nil {
		lg.Error("Failed to cancel order after stock conflict", zap.Error(err))
	} else {
		o.PaymentStatus = upd.PaymentStatus
		o.Status = upd.Status
		s.publish(ctx, order.NewEvent(order.EventPaymentUpdated, o))
	}
	s.failIntent(ctx, o.GatewayOrderID, o.PaymentID)
	return cerr
}

// refund issues a best-effort full or partial refund. Failures are logged.
func (s *Service) refund(ctx context.Context, paymentID string, amount int64, reason string, cause error) {
	lg := zctx.From(ctx)
	r, err := s.gateway.Refund(ctx, paymentID, payment.RefundRequest{
		Amount: amount,
		Speed:  refundSpeed,
		Notes: map[string]string{
			"reason": reason,
			"error":  cause.Error(),
		},
	})
	outcome := "issued"
	if err != nil {
		outcome = "failed"
		lg.Error("Refund failed",
			zap.String("reason", reason),
			zap.Int64("amount", amount),
			zap.Error(err),
		)
	} else {
		lg.Info("Refund issued",
			zap.String("refund_id", r.ID),
			zap.String("reason", reason),
			zap.Int64("amount", amount),
		)
	}
	s.m.refunds.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", reason),
		attribute.String("outcome", outcome),
	))
}

// failIntent closes the intent of a refunded payment. The payment id is
// recorded first so a late webhook for the same payment does not reopen it.
func (s *Service) failIntent(ctx context.Context, gid, paymentID string) {
	if err := s.intents.RecordPayment(ctx, gid, paymentID); err != nil {
		zctx.From(ctx).Warn("Failed to record refunded payment on intent", zap.Error(err))
	}
	if err := s.intents.Fail(ctx, gid); err != nil {
		zctx.From(ctx).Warn("Failed to mark payment intent failed", zap.Error(err))
	}
}

// keepPayment records the payment on the intent so a taken payment without
// an order surfaces as unreconciled.
func (s *Service) keepPayment(ctx context.Context, gid, paymentID string) {
	if err := s.intents.RecordPayment(ctx, gid, paymentID); err != nil {
		zctx.From(ctx).Error("Failed to record orphaned payment", zap.Error(err))
	}
}
