package product

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a requested product does not exist.
	ErrNotFound = errors.New("product not found")
	// ErrStockConflict is returned by a conditional decrement that matched no
	// row because the counter no longer covers the requested quantity.
	ErrStockConflict = errors.New("stock conflict")
)

// Product represents a catalog item available for purchase.
type Product struct {
	ID            string
	Name          string
	Description   string
	Category      string
	Price         decimal.Decimal
	DiscountPrice *decimal.Decimal
	// Stock is nil when the product carries no stock counter at all.
	Stock       *int
	Available   bool
	Images      []string
	Variants    []Variant
	IsBundle    bool
	BundleItems []BundleItem
}

// Variant is a stock-bearing sub-selection of a product.
type Variant struct {
	Position int
	Color    string
	Size     string
	Stock    *int
}

// BundleItem declares a component of a bundle product.
type BundleItem struct {
	ProductID string
	Quantity  int
}

// VariantSelector picks a variant by color and/or size. Empty fields match
// any stored value.
type VariantSelector struct {
	Color string `json:"color,omitempty"`
	Size  string `json:"size,omitempty"`
}

// IsZero reports whether neither field is set.
func (s VariantSelector) IsZero() bool {
	return s.Color == "" && s.Size == ""
}

// EffectivePrice returns the discount price when it is set and positive,
// otherwise the list price.
func (p *Product) EffectivePrice() decimal.Decimal {
	if p.DiscountPrice != nil && p.DiscountPrice.IsPositive() {
		return *p.DiscountPrice
	}
	return p.Price
}

// FindVariant returns the first variant matching every non-empty field of
// sel, or nil.
func (p *Product) FindVariant(sel VariantSelector) *Variant {
	for i := range p.Variants {
		v := &p.Variants[i]
		if sel.Color != "" && v.Color != sel.Color {
			continue
		}
		if sel.Size != "" && v.Size != sel.Size {
			continue
		}
		return v
	}
	return nil
}

// StockTarget addresses one stock counter: the product's own counter when
// Variant is nil, otherwise the counter of the variant at that position.
type StockTarget struct {
	ProductID string
	Variant   *int
}

// Repository defines read operations for the product catalog.
type Repository interface {
	List(ctx context.Context) ([]Product, error)
	GetByID(ctx context.Context, id string) (*Product, error)
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
}

// StockStore mutates stock counters atomically.
type StockStore interface {
	// DecrementStock subtracts qty only if the counter holds at least qty,
	// returning ErrStockConflict otherwise.
	DecrementStock(ctx context.Context, target StockTarget, qty int) error
	IncrementStock(ctx context.Context, target StockTarget, qty int) error
}
