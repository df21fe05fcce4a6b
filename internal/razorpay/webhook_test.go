package razorpay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/giftbox-api/internal/domain/payment"
)

func TestDecodeWebhook(t *testing.T) {
	for _, tt := range []struct {
		name string
		body string
		want payment.WebhookEvent
	}{
		{
			name: "payment captured",
			body: `{"entity":"event","event":"payment.captured","contains":["payment"],
				"payload":{"payment":{"entity":{"id":"pay_1","order_id":"order_1","amount":18000,"status":"captured","error_reason":null}}}}`,
			want: payment.WebhookEvent{Event: payment.EventPaymentCaptured, OrderID: "order_1", PaymentID: "pay_1", Amount: 18000},
		},
		{
			name: "payment failed with reason",
			body: `{"event":"payment.failed","payload":{"payment":{"entity":{"id":"pay_2","order_id":"order_2","amount":500,
				"error_reason":"payment_failed","error_description":"Card declined"}}}}`,
			want: payment.WebhookEvent{Event: payment.EventPaymentFailed, OrderID: "order_2", PaymentID: "pay_2", Amount: 500, ErrorReason: "Card declined"},
		},
		{
			name: "order paid",
			body: `{"event":"order.paid","payload":{"order":{"entity":{"id":"order_3","amount":700,"status":"paid"}}}}`,
			want: payment.WebhookEvent{Event: payment.EventOrderPaid, OrderID: "order_3", Amount: 700},
		},
		{
			name: "unknown event",
			body: `{"event":"refund.created","payload":{"refund":{"entity":{"id":"rfnd_1"}}}}`,
			want: payment.WebhookEvent{Event: "refund.created"},
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := DecodeWebhook([]byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.want, *ev)
		})
	}
}

func TestDecodeWebhook_Invalid(t *testing.T) {
	for name, body := range map[string]string{
		"truncated":     `{"event":"payment.captured","payload":{`,
		"missing event": `{"payload":{}}`,
		"not an object": `[]`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeWebhook([]byte(body))
			require.Error(t, err)
		})
	}
}
