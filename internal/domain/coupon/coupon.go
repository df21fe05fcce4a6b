package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// DiscountType enumerates the supported coupon discount strategies.
type DiscountType string

const (
	// DiscountPercentage takes a percentage of the order total, optionally capped.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixed takes a fixed amount off the order total.
	DiscountFixed DiscountType = "fixed"
)

var (
	// ErrInvalidCoupon is returned when a coupon code is unknown or inactive.
	ErrInvalidCoupon = errors.New("invalid coupon code")
	// ErrCouponExpired is returned when a coupon is outside its valid time window.
	ErrCouponExpired = errors.New("coupon expired")
	// ErrCouponUsageLimitReached is returned when a coupon has exhausted its allowed uses.
	ErrCouponUsageLimitReached = errors.New("coupon usage limit reached")
	// ErrMinPurchaseNotMet is returned when the order total is below the coupon threshold.
	ErrMinPurchaseNotMet = errors.New("minimum purchase not met")
)

// Coupon is a discount rule redeemable by code.
type Coupon struct {
	ID              string
	Code            string
	Description     string
	Type            DiscountType
	DiscountValue   decimal.Decimal
	DiscountPercent *decimal.Decimal
	MaxDiscount     *decimal.Decimal
	MinPurchase     decimal.Decimal
	ValidFrom       time.Time
	ValidTill       time.Time
	// UsageLimit of zero means unlimited.
	UsageLimit int
	UsedCount  int
	Active     bool
}

// NormalizeCode returns the canonical stored form of a coupon code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Check reports whether c can be redeemed at now against an order total.
func (c *Coupon) Check(total decimal.Decimal, now time.Time) error {
	if !c.Active {
		return ErrInvalidCoupon
	}
	if !c.ValidFrom.IsZero() && now.Before(c.ValidFrom) {
		return ErrCouponExpired
	}
	if now.After(c.ValidTill) {
		return ErrCouponExpired
	}
	if c.UsageLimit > 0 && c.UsedCount >= c.UsageLimit {
		return ErrCouponUsageLimitReached
	}
	if total.LessThan(c.MinPurchase) {
		return ErrMinPurchaseNotMet
	}
	return nil
}

// Discount computes the discount c grants on total, rounded to 2 decimal
// places. Percentage discounts honour MaxDiscount; fixed discounts are
// returned verbatim and may exceed the total.
func (c *Coupon) Discount(total decimal.Decimal) decimal.Decimal {
	switch c.Type {
	case DiscountPercentage:
		percent := c.DiscountValue
		if c.DiscountPercent != nil {
			percent = *c.DiscountPercent
		}
		d := total.Mul(percent).Div(decimal.NewFromInt(100))
		if c.MaxDiscount != nil && d.GreaterThan(*c.MaxDiscount) {
			d = *c.MaxDiscount
		}
		return d.Round(2)
	case DiscountFixed:
		return c.DiscountValue.Round(2)
	default:
		return decimal.Zero
	}
}

// Repository provides lookup and mutation of coupons.
type Repository interface {
	FindByCode(ctx context.Context, code string) (*Coupon, error)
	// IncrementUsage bumps used_count by one unless the usage limit has been
	// reached, in which case it returns ErrCouponUsageLimitReached.
	IncrementUsage(ctx context.Context, id string) error
	ListActiveCodes(ctx context.Context) ([]string, error)
}
