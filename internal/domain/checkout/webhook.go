package checkout

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/xenking/giftbox-api/internal/domain/order"
	"github.com/xenking/giftbox-api/internal/domain/payment"
)

// HandleWebhook verifies and applies a gateway webhook delivery. Only a bad
// signature is reported to the caller; everything past verification is
// logged and absorbed so the gateway stops retrying. Webhooks never touch
// stock or coupons.
func (s *Service) HandleWebhook(ctx context.Context, body []byte, signature, eventID string) error {
	if err := payment.VerifyWebhookSignature(body, signature, []byte(s.cfg.WebhookSecret)); err != nil {
		return err
	}

	ctx, span := s.tracer.Start(ctx, "checkout.HandleWebhook")
	defer span.End()
	lg := zctx.From(ctx)

	ev, err := s.webhooks.DecodeWebhook(body)
	if err != nil {
		lg.Warn("Undecodable webhook body", zap.Error(err))
		return nil
	}
	span.SetAttributes(attribute.String("webhook.event", ev.Event))
	lg = lg.With(
		zap.String("event", ev.Event),
		zap.String("gateway_order_id", ev.OrderID),
		zap.String("payment_id", ev.PaymentID),
	)
	ctx = zctx.Base(ctx, lg)

	if eventID != "" && s.processed != nil {
		first, err := s.processed.MarkProcessed(ctx, eventID, ev.Event)
		switch {
		case err != nil:
			lg.Warn("Webhook dedupe unavailable", zap.Error(err))
		case !first:
			lg.Debug("Duplicate webhook delivery", zap.String("event_id", eventID))
			return nil
		}
	}
	s.m.webhookEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("event", ev.Event)))

	if err := s.dispatch(ctx, ev); err != nil {
		span.RecordError(err)
		lg.Error("Webhook processing failed", zap.Error(err))
	}
	return nil
}

func (s *Service) dispatch(ctx context.Context, ev *payment.WebhookEvent) error {
	switch ev.Event {
	case payment.EventPaymentCaptured:
		return s.onCaptured(ctx, ev)
	case payment.EventPaymentFailed:
		return s.onFailed(ctx, ev)
	case payment.EventOrderPaid:
		return s.onOrderPaid(ctx, ev)
	case payment.EventPaymentAuthorized:
		return s.onAuthorized(ctx, ev)
	default:
		zctx.From(ctx).Info("Unhandled webhook event")
		return nil
	}
}

// lookup returns the order for a gateway order id, or nil when there is none.
func (s *Service) lookup(ctx context.Context, gid string) (*order.Order, error) {
	if gid == "" {
		return nil, nil
	}
	o, err := s.orders.GetByGatewayOrderID(ctx, gid)
	switch {
	case errors.Is(err, order.ErrNotFound):
		return nil, nil
	case err != nil:
		return nil, errors.Wrap(err, "look up order")
	}
	return o, nil
}

// Success transitions only leave pending. An order cancelled and refunded
// after a stock conflict stays cancelled.
func (s *Service) onCaptured(ctx context.Context, ev *payment.WebhookEvent) error {
	o, err := s.lookup(ctx, ev.OrderID)
	if err != nil {
		return err
	}
	if o == nil {
		return s.orphanPayment(ctx, ev)
	}
	return s.updatePayment(ctx, o, order.PaymentUpdate{
		PaymentStatus: order.PaymentSuccess,
		PaymentID:     ev.PaymentID,
		Status:        order.StatusProcessing,
		OnlyFrom:      order.PaymentPending,
	})
}

func (s *Service) onFailed(ctx context.Context, ev *payment.WebhookEvent) error {
	lg := zctx.From(ctx)
	o, err := s.lookup(ctx, ev.OrderID)
	if err != nil {
		return err
	}
	if o == nil {
		if err := s.intents.Fail(ctx, ev.OrderID); err != nil {
			lg.Debug("No payment intent to fail", zap.Error(err))
		}
		return nil
	}
	// A failed retry must not cancel an order paid by another attempt.
	if o.PaymentStatus == order.PaymentSuccess && o.PaymentID != "" && o.PaymentID != ev.PaymentID {
		lg.Info("Ignoring failure of superseded payment attempt",
			zap.String("order_id", o.OrderID),
			zap.String("order_payment_id", o.PaymentID),
		)
		return nil
	}
	lg.Info("Payment failed", zap.String("reason", ev.ErrorReason))
	return s.updatePayment(ctx, o, order.PaymentUpdate{
		PaymentStatus: order.PaymentFailed,
		Status:        order.StatusCancelled,
	})
}

func (s *Service) onOrderPaid(ctx context.Context, ev *payment.WebhookEvent) error {
	o, err := s.lookup(ctx, ev.OrderID)
	if err != nil {
		return err
	}
	if o == nil {
		if ev.PaymentID == "" {
			zctx.From(ctx).Warn("Order paid without a local order or payment id")
			return nil
		}
		return s.orphanPayment(ctx, ev)
	}
	return s.updatePayment(ctx, o, order.PaymentUpdate{
		PaymentStatus: order.PaymentSuccess,
		Status:        order.StatusProcessing,
		OnlyFrom:      order.PaymentPending,
	})
}

func (s *Service) onAuthorized(ctx context.Context, ev *payment.WebhookEvent) error {
	o, err := s.lookup(ctx, ev.OrderID)
	if err != nil {
		return err
	}
	if o == nil {
		return s.orphanPayment(ctx, ev)
	}
	return s.updatePayment(ctx, o, order.PaymentUpdate{
		PaymentStatus: order.PaymentPending,
		PaymentID:     ev.PaymentID,
		OnlyFrom:      order.PaymentPending,
	})
}

// orphanPayment keeps a payment the gateway reported for a gateway order
// that never became an order.
func (s *Service) orphanPayment(ctx context.Context, ev *payment.WebhookEvent) error {
	zctx.From(ctx).Warn("Payment reported without an order, keeping it for reconciliation",
		zap.Int64("amount", ev.Amount),
	)
	if err := s.intents.RecordPayment(ctx, ev.OrderID, ev.PaymentID); err != nil {
		return errors.Wrap(err, "record payment on intent")
	}
	return nil
}

func (s *Service) updatePayment(ctx context.Context, o *order.Order, upd order.PaymentUpdate) error {
	changed, err := s.orders.UpdatePayment(ctx, o.OrderID, upd)
	if err != nil {
		return errors.Wrap(err, "update order payment")
	}
	if !changed {
		zctx.From(ctx).Debug("Order payment already up to date", zap.String("order_id", o.OrderID))
		return nil
	}

	e := order.NewEvent(order.EventPaymentUpdated, o)
	e.PaymentStatus = upd.PaymentStatus
	if upd.Status != "" {
		e.Status = upd.Status
	}
	if upd.PaymentID != "" {
		e.PaymentID = upd.PaymentID
	}
	e.At = s.now().UTC()
	s.publish(ctx, e)

	zctx.From(ctx).Info("Order payment updated",
		zap.String("order_id", o.OrderID),
		zap.String("payment_status", string(upd.PaymentStatus)),
	)
	return nil
}
