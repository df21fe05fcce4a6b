package razorpay

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/giftbox-api/internal/domain/payment"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL, KeyID: "rzp_test", KeySecret: "s3cret"})
}

func requireBasicAuth(t *testing.T, r *http.Request) {
	t.Helper()
	user, pass, ok := r.BasicAuth()
	require.True(t, ok)
	assert.Equal(t, "rzp_test", user)
	assert.Equal(t, "s3cret", pass)
}

func TestClient_CreateOrder(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		requireBasicAuth(t, r)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/orders", r.URL.Path)

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var (
			amount int64
			notes  = map[string]string{}
		)
		require.NoError(t, jx.DecodeBytes(body).ObjBytes(func(d *jx.Decoder, key []byte) error {
			switch string(key) {
			case "amount":
				v, err := d.Int64()
				amount = v
				return err
			case "notes":
				return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
					v, err := d.Str()
					notes[string(key)] = v
					return err
				})
			default:
				return d.Skip()
			}
		}))
		assert.EqualValues(t, 24000, amount)
		assert.Equal(t, "Aligarh", notes["deliveryCity"])

		_, _ = io.WriteString(w, `{"id":"order_1","entity":"order","amount":24000,"currency":"INR","receipt":"rcpt_1","status":"created","notes":[]}`)
	})

	o, err := c.CreateOrder(context.Background(), payment.CreateOrderRequest{
		Amount: 24000, Currency: payment.Currency, Receipt: "rcpt_1",
		Notes: map[string]string{"deliveryCity": "Aligarh"},
	})
	require.NoError(t, err)
	assert.Equal(t, payment.GatewayOrder{ID: "order_1", Amount: 24000, Currency: "INR", Receipt: "rcpt_1", Status: "created"}, *o)
}

func TestClient_FetchPayment(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		requireBasicAuth(t, r)
		assert.Equal(t, "/payments/pay_1", r.URL.Path)
		_, _ = io.WriteString(w, `{"id":"pay_1","order_id":"order_1","amount":18000,"currency":"INR","status":"captured","method":"upi","error_reason":null}`)
	})

	p, err := c.FetchPayment(context.Background(), "pay_1")
	require.NoError(t, err)
	assert.Equal(t, "order_1", p.OrderID)
	assert.EqualValues(t, 18000, p.Amount)
	assert.True(t, p.Succeeded())
}

func TestClient_Refund(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/payments/pay_1/refund", r.URL.Path)
		_, _ = io.WriteString(w, `{"id":"rfnd_1","payment_id":"pay_1","amount":9999,"status":"processed"}`)
	})

	rf, err := c.Refund(context.Background(), "pay_1", payment.RefundRequest{Amount: 9999, Speed: "optimum"})
	require.NoError(t, err)
	assert.Equal(t, "rfnd_1", rf.ID)
	assert.EqualValues(t, 9999, rf.Amount)
}

func TestClient_APIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"code":"BAD_REQUEST_ERROR","description":"The id provided does not exist","source":null}}`)
	})

	_, err := c.FetchPayment(context.Background(), "pay_x")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "BAD_REQUEST_ERROR", apiErr.Code)
	assert.Contains(t, err.Error(), "does not exist")
}

func TestClient_MalformedResponse(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"id":`)
	})

	_, err := c.FetchPayment(context.Background(), "pay_1")
	require.Error(t, err)
}
