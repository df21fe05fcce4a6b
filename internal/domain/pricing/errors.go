package pricing

import (
	"fmt"

	"github.com/go-faster/errors"
)

// ErrEmptyItems is returned when no items are requested.
var ErrEmptyItems = errors.New("items required")

// InvalidQuantityError indicates a line item has a non-positive quantity.
type InvalidQuantityError struct {
	ProductID string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("invalid quantity for product %s", e.ProductID)
}

// ProductUnavailableError indicates a product is missing, disabled or unpriced.
type ProductUnavailableError struct {
	ProductID string
}

func (e *ProductUnavailableError) Error() string {
	return fmt.Sprintf("product unavailable: %s", e.ProductID)
}

// OutOfStockError indicates a product has no stock counter or none left.
type OutOfStockError struct {
	ProductID string
	Name      string
}

func (e *OutOfStockError) Error() string {
	return fmt.Sprintf("out of stock: %s", e.Name)
}

// VariantNotFoundError indicates no variant matched the selector.
type VariantNotFoundError struct {
	ProductID string
	Name      string
}

func (e *VariantNotFoundError) Error() string {
	return fmt.Sprintf("variant not found for product: %s", e.Name)
}

// VariantOutOfStockError indicates the selected variant has no stock left.
type VariantOutOfStockError struct {
	ProductID string
	Name      string
}

func (e *VariantOutOfStockError) Error() string {
	return fmt.Sprintf("variant out of stock for %s", e.Name)
}

// InsufficientStockError indicates a counter cannot cover the requested
// quantity. Component is set when the shortfall is in a bundle component.
type InsufficientStockError struct {
	ProductID string
	Name      string
	Component bool
	Required  int
	Available int
}

func (e *InsufficientStockError) Error() string {
	if e.Component {
		return fmt.Sprintf("insufficient stock for bundle item: %s (required %d, available %d)",
			e.Name, e.Required, e.Available)
	}
	return fmt.Sprintf("insufficient stock for %s (required %d, available %d)",
		e.Name, e.Required, e.Available)
}

// BundleItemNotFoundError indicates a bundle references a missing product.
type BundleItemNotFoundError struct {
	BundleID  string
	ProductID string
}

func (e *BundleItemNotFoundError) Error() string {
	return fmt.Sprintf("bundle item %s not found in bundle %s", e.ProductID, e.BundleID)
}

// BundleItemUnavailableError indicates a bundle component is disabled.
type BundleItemUnavailableError struct {
	BundleID  string
	ProductID string
	Name      string
}

func (e *BundleItemUnavailableError) Error() string {
	return fmt.Sprintf("bundle item unavailable: %s", e.Name)
}

// CouponInvalidError wraps the reason a coupon was rejected.
type CouponInvalidError struct {
	Code   string
	Reason error
}

func (e *CouponInvalidError) Error() string {
	return fmt.Sprintf("invalid, expired, or inapplicable coupon %q: %v", e.Code, e.Reason)
}

func (e *CouponInvalidError) Unwrap() error {
	return e.Reason
}

// IsValidationError reports whether err is a caller-facing pricing or stock
// failure rather than an infrastructure error.
func IsValidationError(err error) bool {
	if errors.Is(err, ErrEmptyItems) {
		return true
	}
	var (
		iq  *InvalidQuantityError
		pu  *ProductUnavailableError
		oos *OutOfStockError
		vnf *VariantNotFoundError
		vos *VariantOutOfStockError
		ins *InsufficientStockError
		bnf *BundleItemNotFoundError
		bun *BundleItemUnavailableError
		ci  *CouponInvalidError
	)
	return errors.As(err, &iq) || errors.As(err, &pu) || errors.As(err, &oos) ||
		errors.As(err, &vnf) || errors.As(err, &vos) || errors.As(err, &ins) ||
		errors.As(err, &bnf) || errors.As(err, &bun) || errors.As(err, &ci)
}
