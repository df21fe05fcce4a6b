//go:build integration

package postgres

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/xenking/giftbox-api/internal/domain/auth"
	"github.com/xenking/giftbox-api/internal/domain/coupon"
	"github.com/xenking/giftbox-api/internal/domain/intent"
	"github.com/xenking/giftbox-api/internal/domain/order"
	"github.com/xenking/giftbox-api/internal/domain/product"
)

func newTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("giftbox"),
		tcpostgres.WithUsername("giftbox"),
		tcpostgres.WithPassword("giftbox"),
		tcpostgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := NewPool(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, RunMigrations(ctx, pool))
	return pool
}

func intPtr(v int) *int { return &v }

func TestRepositories(t *testing.T) {
	pool := newTestPool(t)
	ctx := context.Background()

	products := NewProductRepository(pool)
	coupons := NewCouponRepository(pool)
	orders := NewOrderRepository(pool)
	intents := NewIntentRepository(pool)
	counters := NewCounterRepository(pool)
	webhooks := NewWebhookEventRepository(pool)
	keys := NewAPIKeyRepository(pool)

	t.Run("products and stock", func(t *testing.T) {
		require.NoError(t, products.Upsert(ctx, &product.Product{
			ID: "mug", Name: "Mug", Category: "kitchen", Price: decimal.NewFromInt(250),
			Stock: intPtr(3), Available: true,
		}))
		require.NoError(t, products.Upsert(ctx, &product.Product{
			ID: "tee", Name: "Tee", Category: "apparel", Price: decimal.NewFromInt(500), Available: true,
			Variants: []product.Variant{
				{Position: 0, Color: "red", Size: "M", Stock: intPtr(2)},
				{Position: 1, Color: "blue", Size: "L", Stock: intPtr(0)},
			},
		}))
		require.NoError(t, products.Upsert(ctx, &product.Product{
			ID: "box", Name: "Box", Category: "bundles", Price: decimal.NewFromInt(700), Available: true,
			IsBundle:    true,
			BundleItems: []product.BundleItem{{ProductID: "mug", Quantity: 1}, {ProductID: "tee", Quantity: 1}},
		}))

		all, err := products.List(ctx)
		require.NoError(t, err)
		require.Len(t, all, 3)

		tee, err := products.GetByID(ctx, "tee")
		require.NoError(t, err)
		require.Len(t, tee.Variants, 2)
		assert.Equal(t, "blue", tee.Variants[1].Color)

		box, err := products.GetByID(ctx, "box")
		require.NoError(t, err)
		assert.Len(t, box.BundleItems, 2)
		assert.Nil(t, box.Stock)

		_, err = products.GetByID(ctx, "nope")
		require.ErrorIs(t, err, product.ErrNotFound)

		require.NoError(t, products.DecrementStock(ctx, product.StockTarget{ProductID: "mug"}, 3))
		require.ErrorIs(t, products.DecrementStock(ctx, product.StockTarget{ProductID: "mug"}, 1), product.ErrStockConflict)
		require.NoError(t, products.IncrementStock(ctx, product.StockTarget{ProductID: "mug"}, 1))

		pos := 1
		require.ErrorIs(t, products.DecrementStock(ctx, product.StockTarget{ProductID: "tee", Variant: &pos}, 1), product.ErrStockConflict)

		got, err := products.GetByIDs(ctx, []string{"mug", "missing"})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, 1, *got[0].Stock)
	})

	t.Run("coupons", func(t *testing.T) {
		require.NoError(t, coupons.Upsert(ctx, &coupon.Coupon{
			ID: "c1", Code: "once", Type: coupon.DiscountFixed, DiscountValue: decimal.NewFromInt(50),
			ValidFrom: time.Now().Add(-time.Hour), ValidTill: time.Now().Add(time.Hour),
			UsageLimit: 1, Active: true,
		}))

		c, err := coupons.FindByCode(ctx, "ONCE")
		require.NoError(t, err)
		assert.Equal(t, coupon.DiscountFixed, c.Type)

		require.NoError(t, coupons.IncrementUsage(ctx, c.ID))
		require.ErrorIs(t, coupons.IncrementUsage(ctx, c.ID), coupon.ErrCouponUsageLimitReached)

		codes, err := coupons.ListActiveCodes(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"ONCE"}, codes)

		_, err = coupons.FindByCode(ctx, "MISSING")
		require.ErrorIs(t, err, coupon.ErrInvalidCoupon)
	})

	t.Run("orders", func(t *testing.T) {
		o := &order.Order{
			OrderID: "ORD0001", UserID: "u1", GatewayOrderID: "order_1",
			Items:         []order.Item{{ProductID: "mug", Name: "Mug", Quantity: 1, Price: decimal.NewFromInt(250)}},
			TotalAmount:   decimal.NewFromInt(250),
			FinalAmount:   decimal.NewFromInt(330),
			DeliveryFee:   decimal.NewFromInt(80),
			PaymentStatus: order.PaymentSuccess, PaymentID: "pay_1", Status: order.StatusProcessing,
			Address: order.Address{Name: "Asha 50%", Phone: "999", City: "Delhi", State: "DL"},
		}
		require.NoError(t, orders.Create(ctx, o))
		assert.False(t, o.CreatedAt.IsZero())

		dup := *o
		dup.OrderID = "ORD0002"
		require.ErrorIs(t, orders.Create(ctx, &dup), order.ErrDuplicateGatewayOrder)

		got, err := orders.GetByGatewayOrderID(ctx, "order_1")
		require.NoError(t, err)
		assert.Equal(t, "Delhi", got.Address.City)
		assert.True(t, decimal.NewFromInt(330).Equal(got.FinalAmount))

		page, total, err := orders.List(ctx, order.ListFilter{Page: 1, Limit: 10, Search: "50%"})
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		require.Len(t, page, 1)

		_, total, err = orders.List(ctx, order.ListFilter{Page: 1, Limit: 10, Search: "5_%"})
		require.NoError(t, err)
		assert.Zero(t, total, "wildcards are literal")

		changed, err := orders.UpdatePayment(ctx, "ORD0001", order.PaymentUpdate{
			PaymentStatus: order.PaymentSuccess, OnlyFrom: order.PaymentPending,
		})
		require.NoError(t, err)
		assert.False(t, changed)

		updated, err := orders.UpdateStatus(ctx, "ORD0001", order.StatusShipped)
		require.NoError(t, err)
		assert.Equal(t, order.StatusShipped, updated.Status)

		mine, err := orders.ListByUser(ctx, "u1")
		require.NoError(t, err)
		assert.Len(t, mine, 1)

		require.NoError(t, orders.Delete(ctx, "ORD0001"))
		require.ErrorIs(t, orders.Delete(ctx, "ORD0001"), order.ErrNotFound)
	})

	t.Run("intents", func(t *testing.T) {
		past := time.Now().Add(-time.Hour)
		for _, gid := range []string{"order_a", "order_b", "order_c", "order_d", "order_e"} {
			require.NoError(t, intents.Create(ctx, &intent.Intent{
				ID: gid + "-id", GatewayOrderID: gid, TotalAmount: decimal.NewFromInt(1),
				FinalAmount: decimal.NewFromInt(1), Status: intent.StatusPending, ExpiresAt: past,
			}))
		}
		require.NoError(t, intents.RecordPayment(ctx, "order_b", "pay_b"))
		require.NoError(t, intents.SetStatus(ctx, "order_c", intent.StatusCompleted))
		require.ErrorIs(t, intents.RecordPayment(ctx, "order_c", "pay_c"), intent.ErrNotFound)

		// Refunded payment: failed intent keeps its payment id.
		require.NoError(t, intents.RecordPayment(ctx, "order_d", "pay_d"))
		require.NoError(t, intents.SetStatus(ctx, "order_d", intent.StatusFailed))
		require.NoError(t, intents.RecordPayment(ctx, "order_d", "pay_d"))
		d, err := intents.GetByGatewayOrderID(ctx, "order_d")
		require.NoError(t, err)
		assert.Equal(t, intent.StatusFailed, d.Status)

		// A second payment on a failed intent reopens it.
		require.NoError(t, intents.RecordPayment(ctx, "order_e", "pay_e1"))
		require.NoError(t, intents.SetStatus(ctx, "order_e", intent.StatusFailed))
		require.NoError(t, intents.RecordPayment(ctx, "order_e", "pay_e2"))
		e, err := intents.GetByGatewayOrderID(ctx, "order_e")
		require.NoError(t, err)
		assert.Equal(t, intent.StatusPending, e.Status)

		marked, err := intents.MarkExpired(ctx, time.Now())
		require.NoError(t, err)
		assert.EqualValues(t, 2, marked)

		deleted, err := intents.DeleteExpired(ctx, time.Now())
		require.NoError(t, err)
		assert.EqualValues(t, 3, deleted, "unpaid, completed and failed intents go")

		left, err := intents.ListUnreconciled(ctx)
		require.NoError(t, err)
		require.Len(t, left, 2)
		assert.Equal(t, intent.StatusExpired, left[0].Status)
		assert.Equal(t, "pay_b", left[0].PaymentID)
		assert.Equal(t, "pay_e2", left[1].PaymentID)
	})

	t.Run("counter allocates unique ids concurrently", func(t *testing.T) {
		const n = 50
		var (
			mu   sync.Mutex
			seen = make(map[int64]bool, n)
			wg   sync.WaitGroup
		)
		for range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				v, err := counters.Next(ctx, order.CounterName)
				assert.NoError(t, err)
				mu.Lock()
				seen[v] = true
				mu.Unlock()
			}()
		}
		wg.Wait()
		assert.Len(t, seen, n)

		cur, err := counters.Current(ctx, order.CounterName)
		require.NoError(t, err)
		assert.EqualValues(t, n, cur)
	})

	t.Run("webhook events", func(t *testing.T) {
		fresh, err := webhooks.MarkProcessed(ctx, "evt_1", "payment.captured")
		require.NoError(t, err)
		assert.True(t, fresh)
		fresh, err = webhooks.MarkProcessed(ctx, "evt_1", "payment.captured")
		require.NoError(t, err)
		assert.False(t, fresh)
	})

	t.Run("api keys", func(t *testing.T) {
		hash := auth.HashKey("secret", []byte("pepper"))
		require.NoError(t, keys.Upsert(ctx, &auth.APIKeyInfo{ID: "k1", KeyHash: hash, Name: "ops", Scopes: []string{auth.ScopeAdmin}}))

		k, err := keys.FindByHash(ctx, hash)
		require.NoError(t, err)
		assert.True(t, k.HasScope(auth.ScopeAdmin))

		_, err = keys.FindByHash(ctx, "unknown")
		require.ErrorIs(t, err, auth.ErrUnauthorized)
	})
}
