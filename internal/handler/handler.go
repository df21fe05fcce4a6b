// Package handler exposes the storefront checkout and order API over HTTP.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/giftbox-api/internal/domain/auth"
	"github.com/xenking/giftbox-api/internal/domain/checkout"
	"github.com/xenking/giftbox-api/internal/domain/order"
	"github.com/xenking/giftbox-api/internal/domain/pricing"
	"github.com/xenking/giftbox-api/internal/domain/product"
)

// Products is the catalog read side.
type Products interface {
	List(ctx context.Context) ([]product.Product, error)
	GetByID(ctx context.Context, id string) (*product.Product, error)
}

// Checkout prices carts and turns payments into orders.
type Checkout interface {
	Quote(ctx context.Context, items []pricing.ItemRequest, couponCode, city string) (*checkout.QuoteResult, error)
	CreatePaymentOrder(ctx context.Context, req checkout.PaymentOrderRequest) (*checkout.PaymentOrder, error)
	VerifyAndCreateOrder(ctx context.Context, req checkout.VerifyRequest) (*checkout.Confirmation, error)
	HandleWebhook(ctx context.Context, body []byte, signature, eventID string) error
}

// Orders manages placed orders.
type Orders interface {
	GetForUser(ctx context.Context, userID, orderID string) (*order.Order, error)
	ListForUser(ctx context.Context, userID string) ([]order.Order, error)
	Cancel(ctx context.Context, userID, orderID string) (*order.Order, error)
	AdminGet(ctx context.Context, orderID string) (*order.Order, error)
	AdminList(ctx context.Context, f order.ListFilter) (*order.Page, error)
	AdminUpdateStatus(ctx context.Context, orderID string, status order.Status) (*order.Order, error)
	AdminDelete(ctx context.Context, orderID string) error
}

// TokenVerifier authenticates customer bearer tokens.
type TokenVerifier interface {
	Verify(token string) (*auth.User, error)
}

// KeyAuthenticator authenticates admin API keys.
type KeyAuthenticator interface {
	Authenticate(ctx context.Context, key, scope string) (*auth.APIKeyInfo, error)
}

// Deps are the collaborators of Handler.
type Deps struct {
	Products Products
	Checkout Checkout
	Orders   Orders
	Tokens   TokenVerifier
	Keys     KeyAuthenticator
}

// Handler serves the /api routes.
type Handler struct {
	products Products
	checkout Checkout
	orders   Orders
	tokens   TokenVerifier
	keys     KeyAuthenticator
}

// NewHandler creates a Handler.
func NewHandler(d Deps) *Handler {
	return &Handler{
		products: d.Products,
		checkout: d.Checkout,
		orders:   d.Orders,
		tokens:   d.Tokens,
		keys:     d.Keys,
	}
}

// Router mounts every route under /api.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/products", h.listProducts)
		r.Get("/products/{id}", h.getProduct)
		r.Post("/webhook/razorpay", h.razorpayWebhook)

		r.Group(func(r chi.Router) {
			r.Use(h.requireUser)
			r.Post("/checkout/quote", h.quote)
			r.Post("/payment/order", h.createPaymentOrder)
			r.Post("/orders/verify", h.verifyOrder)
			r.Get("/orders/me", h.myOrders)
			r.Get("/orders/{orderId}", h.getOrder)
			r.Put("/orders/{orderId}/cancel", h.cancelOrder)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(h.requireAdmin)
			r.Get("/orders", h.adminListOrders)
			r.Get("/orders/{orderId}", h.adminGetOrder)
			r.Put("/orders/{orderId}/status", h.adminUpdateStatus)
			r.Delete("/orders/{orderId}", h.adminDeleteOrder)
		})
	})
	return r
}
