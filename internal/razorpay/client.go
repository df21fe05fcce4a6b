// Package razorpay is a minimal Razorpay REST client covering orders,
// payments, refunds and webhook payloads.
package razorpay

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/xenking/giftbox-api/internal/domain/payment"
)

// DefaultBaseURL is the public Razorpay API root.
const DefaultBaseURL = "https://api.razorpay.com/v1"

var (
	_ payment.Gateway        = (*Client)(nil)
	_ payment.WebhookDecoder = (*Client)(nil)
)

// APIError is an error response returned by the API.
type APIError struct {
	StatusCode  int
	Code        string
	Description string
}

func (e *APIError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("razorpay: status %d", e.StatusCode)
	}
	return fmt.Sprintf("razorpay: %s: %s", e.Code, e.Description)
}

// Config configures a Client.
type Config struct {
	BaseURL   string
	KeyID     string
	KeySecret string
	Timeout   time.Duration
}

// Client talks to the Razorpay API with basic auth.
type Client struct {
	base   string
	keyID  string
	secret string
	http   *http.Client
}

// New creates a Client. Outgoing requests are traced with otelhttp.
func New(cfg Config) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		base:   base,
		keyID:  cfg.KeyID,
		secret: cfg.KeySecret,
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// CreateOrder creates a gateway order.
func (c *Client) CreateOrder(ctx context.Context, req payment.CreateOrderRequest) (*payment.GatewayOrder, error) {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("amount")
	e.Int64(req.Amount)
	e.FieldStart("currency")
	e.Str(req.Currency)
	if req.Receipt != "" {
		e.FieldStart("receipt")
		e.Str(req.Receipt)
	}
	encodeNotes(&e, req.Notes)
	e.ObjEnd()

	var o payment.GatewayOrder
	err := c.do(ctx, http.MethodPost, "/orders", e.Bytes(), func(d *jx.Decoder) error {
		return decodeOrder(d, &o)
	})
	if err != nil {
		return nil, errors.Wrap(err, "create order")
	}
	return &o, nil
}

// FetchPayment returns a payment by id.
func (c *Client) FetchPayment(ctx context.Context, paymentID string) (*payment.Payment, error) {
	var p payment.Payment
	err := c.do(ctx, http.MethodGet, "/payments/"+url.PathEscape(paymentID), nil, func(d *jx.Decoder) error {
		return decodePayment(d, &p, nil)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "fetch payment %s", paymentID)
	}
	return &p, nil
}

// Refund refunds a captured payment.
func (c *Client) Refund(ctx context.Context, paymentID string, req payment.RefundRequest) (*payment.Refund, error) {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("amount")
	e.Int64(req.Amount)
	if req.Speed != "" {
		e.FieldStart("speed")
		e.Str(req.Speed)
	}
	encodeNotes(&e, req.Notes)
	e.ObjEnd()

	var r payment.Refund
	err := c.do(ctx, http.MethodPost, "/payments/"+url.PathEscape(paymentID)+"/refund", e.Bytes(), func(d *jx.Decoder) error {
		return decodeRefund(d, &r)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "refund payment %s", paymentID)
	}
	return &r, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, decode func(d *jx.Decoder) error) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.SetBasicAuth(c.keyID, c.secret)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "send request")
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return errors.Wrap(err, "read response")
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return decodeAPIError(resp.StatusCode, raw)
	}
	if err := decode(jx.DecodeBytes(raw)); err != nil {
		return errors.Wrap(err, "decode response")
	}
	return nil
}

func encodeNotes(e *jx.Encoder, notes map[string]string) {
	if len(notes) == 0 {
		return
	}
	e.FieldStart("notes")
	e.ObjStart()
	for k, v := range notes {
		e.FieldStart(k)
		e.Str(v)
	}
	e.ObjEnd()
}

func decodeAPIError(status int, raw []byte) error {
	apiErr := &APIError{StatusCode: status}
	d := jx.DecodeBytes(raw)
	_ = d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		if string(key) != "error" {
			return d.Skip()
		}
		return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
			switch string(key) {
			case "code":
				return optStr(d, &apiErr.Code)
			case "description":
				return optStr(d, &apiErr.Description)
			default:
				return d.Skip()
			}
		})
	})
	return apiErr
}

// optStr reads a string that may be null.
func optStr(d *jx.Decoder, dst *string) error {
	if d.Next() == jx.Null {
		return d.Null()
	}
	v, err := d.Str()
	if err != nil {
		return err
	}
	*dst = v
	return nil
}

func optInt64(d *jx.Decoder, dst *int64) error {
	if d.Next() == jx.Null {
		return d.Null()
	}
	v, err := d.Int64()
	if err != nil {
		return err
	}
	*dst = v
	return nil
}

func decodeOrder(d *jx.Decoder, o *payment.GatewayOrder) error {
	return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "id":
			return optStr(d, &o.ID)
		case "amount":
			return optInt64(d, &o.Amount)
		case "currency":
			return optStr(d, &o.Currency)
		case "receipt":
			return optStr(d, &o.Receipt)
		case "status":
			return optStr(d, &o.Status)
		default:
			return d.Skip()
		}
	})
}

// decodePayment fills p. When reason is non-nil it receives the failure
// description, falling back to error_reason.
func decodePayment(d *jx.Decoder, p *payment.Payment, reason *string) error {
	var description, code string
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "id":
			return optStr(d, &p.ID)
		case "order_id":
			return optStr(d, &p.OrderID)
		case "amount":
			return optInt64(d, &p.Amount)
		case "currency":
			return optStr(d, &p.Currency)
		case "status":
			return optStr(d, &p.Status)
		case "method":
			return optStr(d, &p.Method)
		case "error_description":
			return optStr(d, &description)
		case "error_reason":
			return optStr(d, &code)
		default:
			return d.Skip()
		}
	})
	if reason != nil {
		*reason = description
		if *reason == "" {
			*reason = code
		}
	}
	return err
}

func decodeRefund(d *jx.Decoder, r *payment.Refund) error {
	return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "id":
			return optStr(d, &r.ID)
		case "payment_id":
			return optStr(d, &r.PaymentID)
		case "amount":
			return optInt64(d, &r.Amount)
		case "status":
			return optStr(d, &r.Status)
		default:
			return d.Skip()
		}
	})
}
