package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/giftbox-api/internal/domain/auth"
	"github.com/xenking/giftbox-api/internal/domain/checkout"
	"github.com/xenking/giftbox-api/internal/domain/order"
	"github.com/xenking/giftbox-api/internal/domain/payment"
	"github.com/xenking/giftbox-api/internal/domain/pricing"
	"github.com/xenking/giftbox-api/internal/domain/product"
	"github.com/xenking/giftbox-api/pkg/httpmiddleware"
)

// errBadRequest marks malformed request bodies and parameters.
var errBadRequest = errors.New("bad request")

type badRequestError struct{ msg string }

func (e *badRequestError) Error() string { return e.msg }
func (e *badRequestError) Unwrap() error { return errBadRequest }

func badRequest(msg string) error { return &badRequestError{msg: msg} }

// mapError converts a domain error into an HTTP status and client message.
// Unknown errors become 500 with a generic message.
func mapError(err error) (int, string) {
	var gateway *checkout.GatewayError
	switch {
	case errors.Is(err, auth.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, auth.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, product.ErrNotFound):
		return http.StatusNotFound, "product not found"
	case errors.Is(err, order.ErrNotFound):
		return http.StatusNotFound, "order not found"
	case errors.Is(err, order.ErrAlreadyCancelled),
		errors.Is(err, checkout.ErrConfirmationInProgress):
		return http.StatusConflict, err.Error()
	case errors.As(err, &gateway):
		return http.StatusBadGateway, "payment gateway unavailable"
	case checkout.IsPaymentVerificationError(err):
		return http.StatusBadRequest, "payment verification failed: " + err.Error()
	case errors.Is(err, errBadRequest),
		errors.Is(err, order.ErrInvalidStatus),
		errors.Is(err, checkout.ErrAddressRequired),
		errors.Is(err, checkout.ErrMissingPaymentFields),
		errors.Is(err, payment.ErrSignatureInvalid),
		errors.Is(err, payment.ErrWebhookSignatureInvalid),
		pricing.IsValidationError(err):
		return http.StatusBadRequest, err.Error()
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

// fail writes err as an API error, logging server-side failures.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := mapError(err)
	if status >= http.StatusInternalServerError {
		zctx.From(r.Context()).Error("Request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeError(w, status, msg)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	httpmiddleware.WriteError(w, status, msg)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return badRequest("invalid request body")
	}
	return nil
}
