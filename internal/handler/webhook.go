package handler

import (
	"io"
	"net/http"
)

const (
	signatureHeader = "x-razorpay-signature"
	eventIDHeader   = "x-razorpay-event-id"
)

// razorpayWebhook passes the exact raw body to signature verification.
func (h *Handler) razorpayWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.fail(w, r, badRequest("invalid request body"))
		return
	}
	err = h.checkout.HandleWebhook(r.Context(), body, r.Header.Get(signatureHeader), r.Header.Get(eventIDHeader))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
