package coupon

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockCouponRepo struct {
	coupon     *Coupon
	err        error
	lookups    int
	lookupCode string
	codes      []string
	listErr    error
}

func (m *mockCouponRepo) FindByCode(_ context.Context, code string) (*Coupon, error) {
	m.lookups++
	m.lookupCode = code
	return m.coupon, m.err
}

func (m *mockCouponRepo) IncrementUsage(_ context.Context, _ string) error {
	return nil
}

func (m *mockCouponRepo) ListActiveCodes(_ context.Context) ([]string, error) {
	return m.codes, m.listErr
}

func decPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestRepoValidator_Validate(t *testing.T) {
	fixedNow := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	pastTime := fixedNow.Add(-24 * time.Hour)
	futureTime := fixedNow.Add(24 * time.Hour)

	tests := []struct {
		name       string
		repo       *mockCouponRepo
		total      decimal.Decimal
		wantAmount decimal.Decimal
		wantErr    error
	}{
		{
			name: "percentage coupon",
			repo: &mockCouponRepo{coupon: &Coupon{
				Code: "SAVE10", Type: DiscountPercentage, DiscountPercent: decPtr("10"),
				ValidTill: futureTime, Active: true,
			}},
			total:      decimal.NewFromInt(500),
			wantAmount: decimal.NewFromInt(50),
		},
		{
			name: "percentage coupon capped by max discount",
			repo: &mockCouponRepo{coupon: &Coupon{
				Code: "SAVE50", Type: DiscountPercentage, DiscountPercent: decPtr("50"),
				MaxDiscount: decPtr("100"), ValidTill: futureTime, Active: true,
			}},
			total:      decimal.NewFromInt(1000),
			wantAmount: decimal.NewFromInt(100),
		},
		{
			name: "percentage coupon under cap is uncapped",
			repo: &mockCouponRepo{coupon: &Coupon{
				Code: "SAVE5", Type: DiscountPercentage, DiscountPercent: decPtr("5"),
				MaxDiscount: decPtr("100"), ValidTill: futureTime, Active: true,
			}},
			total:      decimal.RequireFromString("333.33"),
			wantAmount: decimal.RequireFromString("16.67"),
		},
		{
			name: "fixed coupon is verbatim",
			repo: &mockCouponRepo{coupon: &Coupon{
				Code: "FLAT75", Type: DiscountFixed, DiscountValue: decimal.NewFromInt(75),
				ValidTill: futureTime, Active: true,
			}},
			total:      decimal.NewFromInt(50),
			wantAmount: decimal.NewFromInt(75),
		},
		{
			name:    "unknown code",
			repo:    &mockCouponRepo{err: ErrInvalidCoupon},
			total:   decimal.NewFromInt(50),
			wantErr: ErrInvalidCoupon,
		},
		{
			name: "inactive coupon",
			repo: &mockCouponRepo{coupon: &Coupon{
				Code: "OFF", Type: DiscountFixed, DiscountValue: decimal.NewFromInt(5),
				ValidTill: futureTime, Active: false,
			}},
			total:   decimal.NewFromInt(50),
			wantErr: ErrInvalidCoupon,
		},
		{
			name: "past valid till",
			repo: &mockCouponRepo{coupon: &Coupon{
				Code: "OLD", Type: DiscountFixed, DiscountValue: decimal.NewFromInt(5),
				ValidTill: pastTime, Active: true,
			}},
			total:   decimal.NewFromInt(50),
			wantErr: ErrCouponExpired,
		},
		{
			name: "not yet valid",
			repo: &mockCouponRepo{coupon: &Coupon{
				Code: "SOON", Type: DiscountFixed, DiscountValue: decimal.NewFromInt(5),
				ValidFrom: futureTime, ValidTill: futureTime.Add(time.Hour), Active: true,
			}},
			total:   decimal.NewFromInt(50),
			wantErr: ErrCouponExpired,
		},
		{
			name: "usage limit reached",
			repo: &mockCouponRepo{coupon: &Coupon{
				Code: "LIMITED", Type: DiscountFixed, DiscountValue: decimal.NewFromInt(5),
				ValidTill: futureTime, UsageLimit: 100, UsedCount: 100, Active: true,
			}},
			total:   decimal.NewFromInt(50),
			wantErr: ErrCouponUsageLimitReached,
		},
		{
			name: "unlimited usage",
			repo: &mockCouponRepo{coupon: &Coupon{
				Code: "UNLIMITED", Type: DiscountFixed, DiscountValue: decimal.NewFromInt(5),
				ValidTill: futureTime, UsageLimit: 0, UsedCount: 9999, Active: true,
			}},
			total:      decimal.NewFromInt(50),
			wantAmount: decimal.NewFromInt(5),
		},
		{
			name: "below minimum purchase",
			repo: &mockCouponRepo{coupon: &Coupon{
				Code: "MIN500", Type: DiscountFixed, DiscountValue: decimal.NewFromInt(50),
				MinPurchase: decimal.NewFromInt(500), ValidTill: futureTime, Active: true,
			}},
			total:   decimal.RequireFromString("499.99"),
			wantErr: ErrMinPurchaseNotMet,
		},
		{
			name: "exactly minimum purchase",
			repo: &mockCouponRepo{coupon: &Coupon{
				Code: "MIN500", Type: DiscountFixed, DiscountValue: decimal.NewFromInt(50),
				MinPurchase: decimal.NewFromInt(500), ValidTill: futureTime, Active: true,
			}},
			total:      decimal.NewFromInt(500),
			wantAmount: decimal.NewFromInt(50),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewRepoValidator(tt.repo, nil)
			v.now = func() time.Time { return fixedNow }

			got, err := v.Validate(context.Background(), "code", tt.total)

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, got)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Same(t, tt.repo.coupon, got.Coupon)
			assert.True(t, tt.wantAmount.Equal(got.Amount),
				"expected amount %s, got %s", tt.wantAmount, got.Amount)
		})
	}
}

func TestRepoValidator_NormalizesCode(t *testing.T) {
	repo := &mockCouponRepo{coupon: &Coupon{
		Code: "SAVE10", Type: DiscountFixed, DiscountValue: decimal.NewFromInt(10),
		ValidTill: time.Now().Add(time.Hour), Active: true,
	}}
	v := NewRepoValidator(repo, nil)

	_, err := v.Validate(context.Background(), "  save10 ", decimal.NewFromInt(100))
	require.NoError(t, err)
	assert.Equal(t, "SAVE10", repo.lookupCode)
}

func TestRepoValidator_LookupError(t *testing.T) {
	repo := &mockCouponRepo{err: errors.New("connection reset")}
	v := NewRepoValidator(repo, nil)

	_, err := v.Validate(context.Background(), "ANY", decimal.NewFromInt(100))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidCoupon)
	assert.Contains(t, err.Error(), "lookup coupon")
}

func TestRepoValidator_StaleIndex(t *testing.T) {
	repo := &mockCouponRepo{codes: []string{"SAVE10"}}
	index := NewCodeIndex(repo, 0.0001)
	require.NoError(t, index.Refresh(context.Background()))
	require.False(t, index.MayContain("NEW20"))

	// Created after the last refresh.
	repo.coupon = &Coupon{
		Code: "NEW20", Type: DiscountPercentage, DiscountValue: decimal.NewFromInt(20),
		ValidTill: time.Now().Add(time.Hour), Active: true,
	}
	v := NewRepoValidator(repo, index)

	r, err := v.Validate(context.Background(), "new20", decimal.NewFromInt(100))
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(20).Equal(r.Amount))
	assert.Equal(t, 1, repo.lookups)
	assert.Len(t, index.stale, 1, "miss of an existing code schedules a rebuild")

	t.Run("unknown code", func(t *testing.T) {
		repo := &mockCouponRepo{err: ErrInvalidCoupon, codes: []string{"SAVE10"}}
		index := NewCodeIndex(repo, 0.0001)
		require.NoError(t, index.Refresh(context.Background()))

		_, err := NewRepoValidator(repo, index).Validate(context.Background(), "NEVERISSUED", decimal.NewFromInt(100))
		require.ErrorIs(t, err, ErrInvalidCoupon)
		assert.Equal(t, 1, repo.lookups)
		assert.Empty(t, index.stale)
	})

	t.Run("inactive code", func(t *testing.T) {
		repo := &mockCouponRepo{coupon: &Coupon{Code: "OLD5", ValidTill: time.Now().Add(time.Hour)}, codes: []string{"SAVE10"}}
		index := NewCodeIndex(repo, 0.0001)
		require.NoError(t, index.Refresh(context.Background()))

		_, err := NewRepoValidator(repo, index).Validate(context.Background(), "OLD5", decimal.NewFromInt(100))
		require.ErrorIs(t, err, ErrInvalidCoupon)
		assert.Empty(t, index.stale, "unredeemable codes do not trigger rebuilds")
	})
}

func TestCodeIndex(t *testing.T) {
	repo := &mockCouponRepo{codes: []string{"SAVE10", "flat50"}}
	index := NewCodeIndex(repo, 0.0001)

	assert.True(t, index.MayContain("ANYTHING"), "empty index admits every code")

	require.NoError(t, index.Refresh(context.Background()))
	assert.True(t, index.MayContain("save10"))
	assert.True(t, index.MayContain("FLAT50"))
	assert.False(t, index.MayContain("NOPE-NOT-A-CODE"))
}

func TestCodeIndex_RefreshErrorKeepsFilter(t *testing.T) {
	repo := &mockCouponRepo{codes: []string{"SAVE10"}}
	index := NewCodeIndex(repo, 0.0001)
	require.NoError(t, index.Refresh(context.Background()))

	repo.listErr = errors.New("db down")
	require.Error(t, index.Refresh(context.Background()))
	assert.True(t, index.MayContain("SAVE10"))
}

func TestCodeIndex_RunRebuildsOnInvalidate(t *testing.T) {
	repo := &mockCouponRepo{codes: []string{"SAVE10"}}
	index := NewCodeIndex(repo, 0.0001)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- index.Run(ctx, time.Hour) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})

	require.Eventually(t, func() bool { return index.filter.Load() != nil }, time.Second, 5*time.Millisecond)
	require.False(t, index.MayContain("NEW20"))

	repo.codes = []string{"SAVE10", "NEW20"}
	index.Invalidate()
	index.Invalidate()

	require.Eventually(t, func() bool { return index.MayContain("NEW20") }, time.Second, 5*time.Millisecond)
}
