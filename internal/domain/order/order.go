package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/giftbox-api/internal/domain/product"
)

var (
	// ErrNotFound is returned when an order does not exist or is not visible
	// to the caller.
	ErrNotFound = errors.New("order not found")
	// ErrDuplicateGatewayOrder is returned by Repository.Create when an order
	// for the same gateway order id already exists.
	ErrDuplicateGatewayOrder = errors.New("order already exists for gateway order")
	// ErrAlreadyCancelled is returned when cancelling a cancelled order.
	ErrAlreadyCancelled = errors.New("order already cancelled")
	// ErrInvalidStatus is returned for a lifecycle status outside the allowed set.
	ErrInvalidStatus = errors.New("invalid order status")
)

// PaymentStatus tracks the state of the payment backing an order.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentSuccess PaymentStatus = "success"
	PaymentFailed  PaymentStatus = "failed"
)

// Status is the fulfilment lifecycle state of an order.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

// Valid reports whether s is one of the known lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

// Order is a paid, persisted purchase. Pricing fields are captured at
// creation and never rewritten.
type Order struct {
	OrderID        string
	UserID         string
	Items          []Item
	TotalAmount    decimal.Decimal
	Discount       decimal.Decimal
	DeliveryFee    decimal.Decimal
	FinalAmount    decimal.Decimal
	PaymentStatus  PaymentStatus
	PaymentID      string
	GatewayOrderID string
	Address        Address
	CouponCode     string
	Status         Status
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Item is an order line with the unit price captured at order time.
type Item struct {
	ProductID   string                   `json:"productId"`
	Name        string                   `json:"name"`
	Quantity    int                      `json:"quantity"`
	Price       decimal.Decimal          `json:"price"`
	Variant     *product.VariantSelector `json:"variant,omitempty"`
	IsBundle    bool                     `json:"isBundle,omitempty"`
	BundleItems []BundleLine             `json:"bundleItems,omitempty"`
}

// BundleLine is one resolved component of a bundle line.
type BundleLine struct {
	ProductID string                   `json:"productId"`
	Quantity  int                      `json:"quantity"`
	Variant   *product.VariantSelector `json:"variant,omitempty"`
}

// Address is the shipping address snapshot stored with an order.
type Address struct {
	Name        string `json:"name"`
	Phone       string `json:"phone"`
	AddressLine string `json:"addressLine"`
	City        string `json:"city"`
	State       string `json:"state"`
	ZipCode     string `json:"zipCode"`
}

// PaymentUpdate describes a payment state transition. Empty PaymentID or
// Status leave the stored value untouched. When OnlyFrom is set the update
// only applies to orders whose payment status equals it.
type PaymentUpdate struct {
	PaymentStatus PaymentStatus
	PaymentID     string
	Status        Status
	OnlyFrom      PaymentStatus
}

// SortField is a column admin listings may be ordered by.
type SortField string

const (
	SortCreatedAt   SortField = "createdAt"
	SortFinalAmount SortField = "finalAmount"
	SortOrderID     SortField = "orderId"
)

// ListFilter selects a page of orders for admin listings.
type ListFilter struct {
	Page          int
	Limit         int
	Search        string
	Status        Status
	PaymentStatus PaymentStatus
	SortBy        SortField
	Descending    bool
}

// Repository defines persistence operations for orders.
type Repository interface {
	// Create inserts o. It returns ErrDuplicateGatewayOrder when the gateway
	// order id is already taken.
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id string) (*Order, error)
	GetByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*Order, error)
	ListByUser(ctx context.Context, userID string) ([]Order, error)
	List(ctx context.Context, f ListFilter) ([]Order, int, error)
	UpdateStatus(ctx context.Context, id string, status Status) (*Order, error)
	// UpdatePayment applies upd and reports whether a row changed.
	UpdatePayment(ctx context.Context, id string, upd PaymentUpdate) (bool, error)
	Delete(ctx context.Context, id string) error
}
