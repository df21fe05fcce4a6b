package handler

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/giftbox-api/internal/domain/order"
	"github.com/xenking/giftbox-api/internal/domain/pricing"
	"github.com/xenking/giftbox-api/internal/domain/product"
)

type variantDTO struct {
	Color string `json:"color,omitempty"`
	Size  string `json:"size,omitempty"`
}

func (v *variantDTO) selector() *product.VariantSelector {
	if v == nil {
		return nil
	}
	sel := product.VariantSelector{Color: strings.TrimSpace(v.Color), Size: strings.TrimSpace(v.Size)}
	if sel.IsZero() {
		return nil
	}
	return &sel
}

func toVariantDTO(sel *product.VariantSelector) *variantDTO {
	if sel == nil {
		return nil
	}
	return &variantDTO{Color: sel.Color, Size: sel.Size}
}

type bundleItemRequest struct {
	ProductID string      `json:"productId"`
	Quantity  int         `json:"quantity,omitempty"`
	Variant   *variantDTO `json:"variant,omitempty"`
}

type itemRequest struct {
	ProductID   string              `json:"productId"`
	Quantity    int                 `json:"quantity"`
	Variant     *variantDTO         `json:"variant,omitempty"`
	BundleItems []bundleItemRequest `json:"bundleItems,omitempty"`
}

func toItemRequests(in []itemRequest) []pricing.ItemRequest {
	out := make([]pricing.ItemRequest, len(in))
	for i, it := range in {
		out[i] = pricing.ItemRequest{
			ProductID: strings.TrimSpace(it.ProductID),
			Quantity:  it.Quantity,
			Variant:   it.Variant.selector(),
		}
		for _, bi := range it.BundleItems {
			out[i].BundleItems = append(out[i].BundleItems, pricing.BundleItemRequest{
				ProductID: strings.TrimSpace(bi.ProductID),
				Variant:   bi.Variant.selector(),
			})
		}
	}
	return out
}

type addressDTO struct {
	Name        string `json:"name"`
	Phone       string `json:"phone"`
	AddressLine string `json:"addressLine"`
	City        string `json:"city"`
	State       string `json:"state"`
	ZipCode     string `json:"zipCode"`
}

func (a *addressDTO) domain() *order.Address {
	if a == nil {
		return nil
	}
	return &order.Address{
		Name:        strings.TrimSpace(a.Name),
		Phone:       strings.TrimSpace(a.Phone),
		AddressLine: strings.TrimSpace(a.AddressLine),
		City:        strings.TrimSpace(a.City),
		State:       strings.TrimSpace(a.State),
		ZipCode:     strings.TrimSpace(a.ZipCode),
	}
}

func toAddressDTO(a order.Address) addressDTO {
	return addressDTO(a)
}

type productResponse struct {
	ID            string               `json:"id"`
	Name          string               `json:"name"`
	Description   string               `json:"description,omitempty"`
	Category      string               `json:"category"`
	Price         float64              `json:"price"`
	DiscountPrice *float64             `json:"discountPrice,omitempty"`
	Stock         *int                 `json:"stock,omitempty"`
	Available     bool                 `json:"available"`
	Images        []string             `json:"images"`
	Variants      []variantResponse    `json:"variants,omitempty"`
	IsBundle      bool                 `json:"isBundle"`
	BundleItems   []bundleItemResponse `json:"bundleItems,omitempty"`
}

type variantResponse struct {
	Color string `json:"color,omitempty"`
	Size  string `json:"size,omitempty"`
	Stock *int   `json:"stock,omitempty"`
}

type bundleItemResponse struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

func toProductResponse(p *product.Product) productResponse {
	resp := productResponse{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Category:    p.Category,
		Price:       p.Price.InexactFloat64(),
		Stock:       p.Stock,
		Available:   p.Available,
		Images:      p.Images,
		IsBundle:    p.IsBundle,
	}
	if resp.Images == nil {
		resp.Images = []string{}
	}
	if p.DiscountPrice != nil {
		v := p.DiscountPrice.InexactFloat64()
		resp.DiscountPrice = &v
	}
	for _, v := range p.Variants {
		resp.Variants = append(resp.Variants, variantResponse{Color: v.Color, Size: v.Size, Stock: v.Stock})
	}
	for _, bi := range p.BundleItems {
		resp.BundleItems = append(resp.BundleItems, bundleItemResponse(bi))
	}
	return resp
}

type bundleLineResponse struct {
	ProductID string      `json:"productId"`
	Quantity  int         `json:"quantity"`
	Variant   *variantDTO `json:"variant,omitempty"`
}

type orderItemResponse struct {
	ProductID   string               `json:"productId"`
	Name        string               `json:"name"`
	Quantity    int                  `json:"quantity"`
	Price       float64              `json:"price"`
	Variant     *variantDTO          `json:"variant,omitempty"`
	IsBundle    bool                 `json:"isBundle,omitempty"`
	BundleItems []bundleLineResponse `json:"bundleItems,omitempty"`
}

func toOrderItems(items []order.Item) []orderItemResponse {
	out := make([]orderItemResponse, len(items))
	for i, it := range items {
		out[i] = orderItemResponse{
			ProductID: it.ProductID,
			Name:      it.Name,
			Quantity:  it.Quantity,
			Price:     it.Price.InexactFloat64(),
			Variant:   toVariantDTO(it.Variant),
			IsBundle:  it.IsBundle,
		}
		for _, bl := range it.BundleItems {
			out[i].BundleItems = append(out[i].BundleItems, bundleLineResponse{
				ProductID: bl.ProductID,
				Quantity:  bl.Quantity,
				Variant:   toVariantDTO(bl.Variant),
			})
		}
	}
	return out
}

type orderResponse struct {
	OrderID         string              `json:"orderId"`
	UserID          string              `json:"userId"`
	Items           []orderItemResponse `json:"items"`
	TotalAmount     float64             `json:"totalAmount"`
	Discount        float64             `json:"discount"`
	DeliveryFee     float64             `json:"deliveryFee"`
	FinalAmount     float64             `json:"finalAmount"`
	PaymentStatus   order.PaymentStatus `json:"paymentStatus"`
	PaymentID       string              `json:"paymentId,omitempty"`
	RazorpayOrderID string              `json:"razorpayOrderId"`
	Address         addressDTO          `json:"address"`
	CouponCode      string              `json:"couponCode,omitempty"`
	Status          order.Status        `json:"status"`
	CreatedAt       time.Time           `json:"createdAt"`
	UpdatedAt       time.Time           `json:"updatedAt"`
}

func toOrderResponse(o *order.Order) orderResponse {
	return orderResponse{
		OrderID:         o.OrderID,
		UserID:          o.UserID,
		Items:           toOrderItems(o.Items),
		TotalAmount:     money(o.TotalAmount),
		Discount:        money(o.Discount),
		DeliveryFee:     money(o.DeliveryFee),
		FinalAmount:     money(o.FinalAmount),
		PaymentStatus:   o.PaymentStatus,
		PaymentID:       o.PaymentID,
		RazorpayOrderID: o.GatewayOrderID,
		Address:         toAddressDTO(o.Address),
		CouponCode:      o.CouponCode,
		Status:          o.Status,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
}

func toOrderResponses(orders []order.Order) []orderResponse {
	out := make([]orderResponse, len(orders))
	for i := range orders {
		out[i] = toOrderResponse(&orders[i])
	}
	return out
}

func money(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}
