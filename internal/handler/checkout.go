package handler

import (
	"net/http"

	"github.com/xenking/giftbox-api/internal/domain/checkout"
)

type quoteRequest struct {
	Items      []itemRequest `json:"items"`
	CouponCode string        `json:"couponCode,omitempty"`
	City       string        `json:"city,omitempty"`
}

type quoteResponse struct {
	Items       []orderItemResponse `json:"items"`
	TotalAmount float64             `json:"totalAmount"`
	Discount    float64             `json:"discount"`
	FinalAmount float64             `json:"finalAmount"`
	DeliveryFee float64             `json:"deliveryFee"`
	Total       float64             `json:"totalWithDelivery"`
	CouponCode  string              `json:"couponCode,omitempty"`
}

func toQuoteResponse(q *checkout.QuoteResult) quoteResponse {
	resp := quoteResponse{
		Items:       toOrderItems(q.Items),
		TotalAmount: money(q.TotalAmount),
		Discount:    money(q.Discount),
		FinalAmount: money(q.FinalAmount),
		DeliveryFee: money(q.DeliveryFee),
		Total:       money(q.Total),
	}
	if q.Coupon != nil {
		resp.CouponCode = q.Coupon.Code
	}
	return resp
}

func (h *Handler) quote(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	q, err := h.checkout.Quote(r.Context(), toItemRequests(req.Items), req.CouponCode, req.City)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toQuoteResponse(q))
}

type paymentOrderRequest struct {
	Items      []itemRequest `json:"items"`
	Address    *addressDTO   `json:"address"`
	CouponCode string        `json:"couponCode,omitempty"`
}

type paymentOrderResponse struct {
	OrderID  string `json:"orderId"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Key      string `json:"key"`
	quoteResponse
}

func (h *Handler) createPaymentOrder(w http.ResponseWriter, r *http.Request) {
	var req paymentOrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	po, err := h.checkout.CreatePaymentOrder(r.Context(), checkout.PaymentOrderRequest{
		UserID:     userID(r),
		Items:      toItemRequests(req.Items),
		Address:    req.Address.domain(),
		CouponCode: req.CouponCode,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, paymentOrderResponse{
		OrderID:       po.GatewayOrderID,
		Amount:        po.Amount,
		Currency:      po.Currency,
		Key:           po.KeyID,
		quoteResponse: toQuoteResponse(po.Quote),
	})
}

type verifyRequest struct {
	RazorpayOrderID   string        `json:"razorpay_order_id"`
	RazorpayPaymentID string        `json:"razorpay_payment_id"`
	RazorpaySignature string        `json:"razorpay_signature"`
	Items             []itemRequest `json:"items"`
	Address           *addressDTO   `json:"address"`
	CouponCode        string        `json:"couponCode,omitempty"`
}

type verifyResponse struct {
	Order            orderResponse `json:"order"`
	PaymentID        string        `json:"paymentId"`
	AlreadyProcessed bool          `json:"alreadyProcessed,omitempty"`
}

func (h *Handler) verifyOrder(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	conf, err := h.checkout.VerifyAndCreateOrder(r.Context(), checkout.VerifyRequest{
		UserID:         userID(r),
		GatewayOrderID: req.RazorpayOrderID,
		PaymentID:      req.RazorpayPaymentID,
		Signature:      req.RazorpaySignature,
		Items:          toItemRequests(req.Items),
		Address:        req.Address.domain(),
		CouponCode:     req.CouponCode,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, verifyResponse{
		Order:            toOrderResponse(conf.Order),
		PaymentID:        conf.PaymentID,
		AlreadyProcessed: conf.AlreadyProcessed,
	})
}
