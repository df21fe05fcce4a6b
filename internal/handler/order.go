package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/giftbox-api/internal/domain/order"
)

func (h *Handler) myOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.ListForUser(r.Context(), userID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": toOrderResponses(orders)})
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.GetForUser(r.Context(), userID(r), chi.URLParam(r, "orderId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": toOrderResponse(o)})
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Cancel(r.Context(), userID(r), chi.URLParam(r, "orderId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": toOrderResponse(o)})
}

type paginationResponse struct {
	CurrentPage int  `json:"currentPage"`
	TotalPages  int  `json:"totalPages"`
	TotalCount  int  `json:"totalCount"`
	Limit       int  `json:"limit"`
	HasNext     bool `json:"hasNext"`
	HasPrev     bool `json:"hasPrev"`
}

type orderPageResponse struct {
	Orders     []orderResponse    `json:"orders"`
	Pagination paginationResponse `json:"pagination"`
}

// parseListFilter reads admin listing parameters. Unparseable numbers fall
// back to defaults.
func parseListFilter(r *http.Request) order.ListFilter {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	return order.ListFilter{
		Page:          page,
		Limit:         limit,
		Search:        q.Get("search"),
		Status:        order.Status(q.Get("status")),
		PaymentStatus: order.PaymentStatus(q.Get("paymentStatus")),
		SortBy:        order.SortField(q.Get("sortBy")),
		Descending:    q.Get("order") != "asc",
	}
}

func (h *Handler) adminListOrders(w http.ResponseWriter, r *http.Request) {
	p, err := h.orders.AdminList(r.Context(), parseListFilter(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orderPageResponse{
		Orders: toOrderResponses(p.Orders),
		Pagination: paginationResponse{
			CurrentPage: p.CurrentPage,
			TotalPages:  p.TotalPages,
			TotalCount:  p.TotalCount,
			Limit:       p.Limit,
			HasNext:     p.HasNext,
			HasPrev:     p.HasPrev,
		},
	})
}

func (h *Handler) adminGetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.AdminGet(r.Context(), chi.URLParam(r, "orderId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": toOrderResponse(o)})
}

type statusRequest struct {
	Status order.Status `json:"status"`
}

func (h *Handler) adminUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	o, err := h.orders.AdminUpdateStatus(r.Context(), chi.URLParam(r, "orderId"), req.Status)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": toOrderResponse(o)})
}

func (h *Handler) adminDeleteOrder(w http.ResponseWriter, r *http.Request) {
	if err := h.orders.AdminDelete(r.Context(), chi.URLParam(r, "orderId")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
