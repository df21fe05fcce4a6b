package checkout

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/giftbox-api/internal/domain/pricing"
	"github.com/xenking/giftbox-api/internal/domain/product"
)

// stockStep is one conditional decrement that can be undone.
type stockStep struct {
	change pricing.StockChange
	store  product.StockStore
}

func (s stockStep) apply(ctx context.Context) error {
	return s.store.DecrementStock(ctx, s.change.Target, s.change.Quantity)
}

func (s stockStep) compensate(ctx context.Context) error {
	return s.store.IncrementStock(ctx, s.change.Target, s.change.Quantity)
}

// stockConflict is returned by applyStock when a decrement matched no row.
type stockConflict struct {
	change pricing.StockChange
}

func (e *stockConflict) Error() string {
	return "stock conflict on " + e.change.Target.ProductID
}

// applyStock runs every decrement in order. On a conflict, the steps already
// applied are restored in reverse order and the conflict is returned.
// Other store errors are logged and skipped; the order stands.
func applyStock(ctx context.Context, store product.StockStore, changes []pricing.StockChange) *stockConflict {
	lg := zctx.From(ctx)

	applied := make([]stockStep, 0, len(changes))
	for _, c := range changes {
		step := stockStep{change: c, store: store}
		err := step.apply(ctx)
		switch {
		case err == nil:
			applied = append(applied, step)
		case errors.Is(err, product.ErrStockConflict):
			lg.Warn("Stock conflict, rolling back decrements",
				zap.String("product_id", c.Target.ProductID),
				zap.Int("quantity", c.Quantity),
				zap.Int("applied", len(applied)),
			)
			rollbackStock(ctx, applied)
			return &stockConflict{change: c}
		default:
			lg.Error("Stock decrement failed",
				zap.String("product_id", c.Target.ProductID),
				zap.Int("quantity", c.Quantity),
				zap.Error(err),
			)
		}
	}
	return nil
}

func rollbackStock(ctx context.Context, steps []stockStep) {
	for i := len(steps) - 1; i >= 0; i-- {
		s := steps[i]
		if err := s.compensate(ctx); err != nil {
			zctx.From(ctx).Error("Failed to restore stock",
				zap.String("product_id", s.change.Target.ProductID),
				zap.Int("quantity", s.change.Quantity),
				zap.Error(err),
			)
		}
	}
}
