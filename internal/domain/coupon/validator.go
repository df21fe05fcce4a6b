package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Redemption is a validated coupon together with the discount it grants.
// The coupon is not mutated by validation.
type Redemption struct {
	Coupon *Coupon
	Amount decimal.Decimal
}

// Validator validates a coupon code against an order total.
type Validator interface {
	Validate(ctx context.Context, code string, total decimal.Decimal) (*Redemption, error)
}

// Filter is a membership hint for coupon codes. It may lag behind the
// Repository, so a miss is confirmed against the Repository and reported
// back with Invalidate when the code turns out to exist.
type Filter interface {
	MayContain(code string) bool
	Invalidate()
}

// RepoValidator implements Validator by looking up coupons from a Repository.
type RepoValidator struct {
	repo   Repository
	filter Filter
	now    func() time.Time
}

// NewRepoValidator creates a RepoValidator backed by the given Repository.
// filter may be nil.
func NewRepoValidator(repo Repository, filter Filter) *RepoValidator {
	return &RepoValidator{repo: repo, filter: filter, now: time.Now}
}

// Validate looks up the coupon for code, checks its activity, validity window,
// usage limit and minimum purchase, and computes the discount on total.
func (v *RepoValidator) Validate(ctx context.Context, code string, total decimal.Decimal) (*Redemption, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, ErrInvalidCoupon
	}
	miss := v.filter != nil && !v.filter.MayContain(code)

	c, err := v.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrInvalidCoupon) {
			return nil, ErrInvalidCoupon
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}

	if err := c.Check(total, v.now()); err != nil {
		return nil, err
	}
	if miss {
		zctx.From(ctx).Debug("Redeemable coupon missing from index", zap.String("code", code))
		v.filter.Invalidate()
	}

	return &Redemption{Coupon: c, Amount: c.Discount(total)}, nil
}
