package razorpay

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/giftbox-api/internal/domain/payment"
)

// DecodeWebhook extracts the event name and the payment and order entities
// from a webhook body. Unknown events decode without error.
func (c *Client) DecodeWebhook(body []byte) (*payment.WebhookEvent, error) {
	return DecodeWebhook(body)
}

// DecodeWebhook is the stateless form of Client.DecodeWebhook.
func DecodeWebhook(body []byte) (*payment.WebhookEvent, error) {
	var (
		ev    payment.WebhookEvent
		pay   payment.Payment
		order payment.GatewayOrder
	)
	d := jx.DecodeBytes(body)
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "event":
			return optStr(d, &ev.Event)
		case "payload":
			return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
				switch string(key) {
				case "payment":
					return entity(d, func(d *jx.Decoder) error {
						return decodePayment(d, &pay, &ev.ErrorReason)
					})
				case "order":
					return entity(d, func(d *jx.Decoder) error {
						return decodeOrder(d, &order)
					})
				default:
					return d.Skip()
				}
			})
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode webhook")
	}
	if ev.Event == "" {
		return nil, errors.New("decode webhook: missing event")
	}

	ev.PaymentID = pay.ID
	ev.OrderID = pay.OrderID
	ev.Amount = pay.Amount
	if ev.OrderID == "" {
		ev.OrderID = order.ID
	}
	if ev.Amount == 0 {
		ev.Amount = order.Amount
	}
	return &ev, nil
}

// entity unwraps {"entity": {...}}.
func entity(d *jx.Decoder, fn func(d *jx.Decoder) error) error {
	return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		if string(key) != "entity" {
			return d.Skip()
		}
		return fn(d)
	})
}
