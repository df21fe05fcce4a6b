package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/giftbox-api/internal/domain/coupon"
)

const (
	couponColumns = `id, code, description, discount_type, discount_value, discount_percent,
		max_discount, min_purchase, valid_from, valid_till, usage_limit, used_count, active`

	getCouponByCodeSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE code = $1`

	// The usage limit is enforced in the same statement so concurrent
	// redemptions cannot overshoot it.
	incrementCouponUsageSQL = `UPDATE coupons SET used_count = used_count + 1
		WHERE id = $1 AND (usage_limit = 0 OR used_count < usage_limit)`

	listActiveCouponCodesSQL = `SELECT code FROM coupons WHERE active = TRUE AND valid_till >= now()`

	upsertCouponSQL = `INSERT INTO coupons (id, code, description, discount_type, discount_value,
		discount_percent, max_discount, min_purchase, valid_from, valid_till, usage_limit, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (code) DO UPDATE SET
			description = EXCLUDED.description, discount_type = EXCLUDED.discount_type,
			discount_value = EXCLUDED.discount_value, discount_percent = EXCLUDED.discount_percent,
			max_discount = EXCLUDED.max_discount, min_purchase = EXCLUDED.min_purchase,
			valid_from = EXCLUDED.valid_from, valid_till = EXCLUDED.valid_till,
			usage_limit = EXCLUDED.usage_limit, active = EXCLUDED.active`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindByCode looks up a coupon by its normalized code. Inactive coupons are
// returned as well; callers check activity themselves.
// Returns coupon.ErrInvalidCoupon when no coupon exists.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, getCouponByCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrInvalidCoupon
		}
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}
	return &c, nil
}

// IncrementUsage redeems the coupon once. It returns
// coupon.ErrCouponUsageLimitReached when the limit is already used up.
func (r *CouponRepository) IncrementUsage(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, incrementCouponUsageSQL, id)
	if err != nil {
		return fmt.Errorf("incrementing usage for coupon %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrCouponUsageLimitReached
	}
	return nil
}

// ListActiveCodes returns the codes of all active, unexpired coupons.
func (r *CouponRepository) ListActiveCodes(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, listActiveCouponCodesSQL)
	if err != nil {
		return nil, fmt.Errorf("listing active coupon codes: %w", err)
	}
	codes, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("listing active coupon codes: %w", err)
	}
	return codes, nil
}

// Upsert inserts c or updates the coupon with the same code. The usage
// counter of an existing coupon is preserved.
func (r *CouponRepository) Upsert(ctx context.Context, c *coupon.Coupon) error {
	if _, err := r.pool.Exec(ctx, upsertCouponSQL, couponArgs(c)...); err != nil {
		return fmt.Errorf("upserting coupon %q: %w", c.Code, err)
	}
	return nil
}

// UpsertBatch upserts coupons in a single round trip.
func (r *CouponRepository) UpsertBatch(ctx context.Context, coupons []coupon.Coupon) error {
	if len(coupons) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for i := range coupons {
		batch.Queue(upsertCouponSQL, couponArgs(&coupons[i])...)
	}
	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upserting %d coupons: %w", len(coupons), err)
	}
	return nil
}

func couponArgs(c *coupon.Coupon) []any {
	return []any{
		c.ID, coupon.NormalizeCode(c.Code), c.Description, string(c.Type), c.DiscountValue,
		c.DiscountPercent, c.MaxDiscount, c.MinPurchase, c.ValidFrom, c.ValidTill,
		c.UsageLimit, c.Active,
	}
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var (
		c            coupon.Coupon
		discountType string
	)
	err := row.Scan(
		&c.ID, &c.Code, &c.Description, &discountType, &c.DiscountValue, &c.DiscountPercent,
		&c.MaxDiscount, &c.MinPurchase, &c.ValidFrom, &c.ValidTill, &c.UsageLimit, &c.UsedCount,
		&c.Active,
	)
	c.Type = coupon.DiscountType(discountType)
	return c, err
}
