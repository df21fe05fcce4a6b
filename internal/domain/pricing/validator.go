// Package pricing re-derives authoritative prices for a requested cart,
// validates stock including bundle components, and applies coupons.
// It never mutates the catalog.
package pricing

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/giftbox-api/internal/domain/coupon"
	"github.com/xenking/giftbox-api/internal/domain/order"
	"github.com/xenking/giftbox-api/internal/domain/product"
)

// ItemRequest is one requested cart line.
type ItemRequest struct {
	ProductID   string
	Quantity    int
	Variant     *product.VariantSelector
	BundleItems []BundleItemRequest
}

// BundleItemRequest carries a variant override for one bundle component.
type BundleItemRequest struct {
	ProductID string
	Variant   *product.VariantSelector
}

// StockChange is a stock counter decrement implied by a quote.
type StockChange struct {
	Target   product.StockTarget
	Name     string
	Quantity int
}

// Quote is the priced, stock-validated result for a cart.
type Quote struct {
	Items       []order.Item
	TotalAmount decimal.Decimal
	Discount    decimal.Decimal
	FinalAmount decimal.Decimal
	// Coupon is the resolved, not yet redeemed coupon, or nil.
	Coupon *coupon.Coupon
	// Stock lists every counter the order would consume, in line order.
	Stock []StockChange
}

// Validator prices and validates carts against the current catalog.
type Validator struct {
	products product.Repository
	coupons  coupon.Validator
}

// NewValidator creates a Validator.
func NewValidator(products product.Repository, coupons coupon.Validator) *Validator {
	return &Validator{products: products, coupons: coupons}
}

// Validate prices items, checks stock and applies couponCode when non-empty.
func (v *Validator) Validate(ctx context.Context, items []ItemRequest, couponCode string) (*Quote, error) {
	if len(items) == 0 {
		return nil, ErrEmptyItems
	}
	for _, item := range items {
		if item.Quantity <= 0 {
			return nil, &InvalidQuantityError{ProductID: item.ProductID}
		}
	}

	catalog, err := v.loadCatalog(ctx, items)
	if err != nil {
		return nil, err
	}

	q := &Quote{
		Items:       make([]order.Item, 0, len(items)),
		TotalAmount: decimal.Zero,
	}
	for _, item := range items {
		p, ok := catalog[item.ProductID]
		if !ok || !p.Available || !p.Price.IsPositive() {
			return nil, &ProductUnavailableError{ProductID: item.ProductID}
		}

		line := order.Item{
			ProductID: p.ID,
			Name:      p.Name,
			Quantity:  item.Quantity,
			Price:     p.EffectivePrice(),
			Variant:   item.Variant,
			IsBundle:  p.IsBundle,
		}

		change, err := checkOwnStock(p, item.Variant, item.Quantity)
		if err != nil {
			return nil, err
		}
		if change != nil {
			q.Stock = append(q.Stock, *change)
		}

		if p.IsBundle {
			lines, changes, err := checkBundle(p, item, catalog)
			if err != nil {
				return nil, err
			}
			line.BundleItems = lines
			q.Stock = append(q.Stock, changes...)
		}

		q.Items = append(q.Items, line)
		q.TotalAmount = q.TotalAmount.Add(line.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	q.TotalAmount = q.TotalAmount.Round(2)
	q.Discount = decimal.Zero

	if couponCode != "" {
		r, err := v.coupons.Validate(ctx, couponCode, q.TotalAmount)
		if err != nil {
			if isCouponRejection(err) {
				return nil, &CouponInvalidError{Code: couponCode, Reason: err}
			}
			return nil, errors.Wrap(err, "validate coupon")
		}
		q.Coupon = r.Coupon
		q.Discount = r.Amount
	}

	q.FinalAmount = q.TotalAmount.Sub(q.Discount)
	if q.FinalAmount.IsNegative() {
		q.FinalAmount = decimal.Zero
	}
	q.FinalAmount = q.FinalAmount.Round(2)

	return q, nil
}

// loadCatalog fetches requested products and their bundle components in at
// most two batched queries.
func (v *Validator) loadCatalog(ctx context.Context, items []ItemRequest) (map[string]*product.Product, error) {
	catalog := make(map[string]*product.Product, len(items))
	if err := v.fetchInto(ctx, catalog, requestedIDs(items)); err != nil {
		return nil, err
	}

	var componentIDs []string
	for _, p := range catalog {
		if !p.IsBundle {
			continue
		}
		for _, bi := range p.BundleItems {
			if _, ok := catalog[bi.ProductID]; !ok {
				componentIDs = append(componentIDs, bi.ProductID)
			}
		}
	}
	if len(componentIDs) > 0 {
		if err := v.fetchInto(ctx, catalog, dedupe(componentIDs)); err != nil {
			return nil, err
		}
	}
	return catalog, nil
}

func (v *Validator) fetchInto(ctx context.Context, catalog map[string]*product.Product, ids []string) error {
	fetched, err := v.products.GetByIDs(ctx, ids)
	if err != nil {
		return errors.Wrap(err, "get products")
	}
	for i := range fetched {
		catalog[fetched[i].ID] = &fetched[i]
	}
	return nil
}

// checkOwnStock validates the counter a line draws from directly. Bundles
// without their own counter derive availability from components only.
func checkOwnStock(p *product.Product, sel *product.VariantSelector, qty int) (*StockChange, error) {
	if sel != nil && !sel.IsZero() {
		v := p.FindVariant(*sel)
		if v == nil {
			return nil, &VariantNotFoundError{ProductID: p.ID, Name: p.Name}
		}
		if v.Stock == nil || *v.Stock <= 0 {
			return nil, &VariantOutOfStockError{ProductID: p.ID, Name: p.Name}
		}
		if *v.Stock < qty {
			return nil, &InsufficientStockError{ProductID: p.ID, Name: p.Name, Required: qty, Available: *v.Stock}
		}
		pos := v.Position
		return &StockChange{
			Target:   product.StockTarget{ProductID: p.ID, Variant: &pos},
			Name:     p.Name,
			Quantity: qty,
		}, nil
	}

	if p.IsBundle && p.Stock == nil {
		return nil, nil
	}
	if p.Stock == nil || *p.Stock <= 0 {
		return nil, &OutOfStockError{ProductID: p.ID, Name: p.Name}
	}
	if *p.Stock < qty {
		return nil, &InsufficientStockError{ProductID: p.ID, Name: p.Name, Required: qty, Available: *p.Stock}
	}
	return &StockChange{
		Target:   product.StockTarget{ProductID: p.ID},
		Name:     p.Name,
		Quantity: qty,
	}, nil
}

func checkBundle(
	bundle *product.Product,
	item ItemRequest,
	catalog map[string]*product.Product,
) ([]order.BundleLine, []StockChange, error) {
	lines := make([]order.BundleLine, 0, len(bundle.BundleItems))
	changes := make([]StockChange, 0, len(bundle.BundleItems))

	for _, bi := range bundle.BundleItems {
		sub, ok := catalog[bi.ProductID]
		if !ok {
			return nil, nil, &BundleItemNotFoundError{BundleID: bundle.ID, ProductID: bi.ProductID}
		}
		if !sub.Available {
			return nil, nil, &BundleItemUnavailableError{BundleID: bundle.ID, ProductID: sub.ID, Name: sub.Name}
		}

		required := bi.Quantity * item.Quantity
		override := variantOverride(item.BundleItems, bi.ProductID)

		line := order.BundleLine{ProductID: sub.ID, Quantity: bi.Quantity, Variant: override}
		change := StockChange{
			Target:   product.StockTarget{ProductID: sub.ID},
			Name:     sub.Name,
			Quantity: required,
		}

		if override != nil {
			v := sub.FindVariant(*override)
			if v == nil {
				return nil, nil, &VariantNotFoundError{ProductID: sub.ID, Name: sub.Name}
			}
			if available := derefStock(v.Stock); available < required {
				return nil, nil, &InsufficientStockError{
					ProductID: sub.ID, Name: sub.Name, Component: true,
					Required: required, Available: available,
				}
			}
			pos := v.Position
			change.Target.Variant = &pos
		} else if available := derefStock(sub.Stock); sub.Stock == nil || available < required {
			return nil, nil, &InsufficientStockError{
				ProductID: sub.ID, Name: sub.Name, Component: true,
				Required: required, Available: available,
			}
		}

		lines = append(lines, line)
		changes = append(changes, change)
	}
	return lines, changes, nil
}

func variantOverride(reqs []BundleItemRequest, productID string) *product.VariantSelector {
	for _, r := range reqs {
		if r.ProductID == productID && r.Variant != nil && !r.Variant.IsZero() {
			return r.Variant
		}
	}
	return nil
}

func derefStock(s *int) int {
	if s == nil {
		return 0
	}
	return *s
}

func isCouponRejection(err error) bool {
	return errors.Is(err, coupon.ErrInvalidCoupon) ||
		errors.Is(err, coupon.ErrCouponExpired) ||
		errors.Is(err, coupon.ErrCouponUsageLimitReached) ||
		errors.Is(err, coupon.ErrMinPurchaseNotMet)
}

func requestedIDs(items []ItemRequest) []string {
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ProductID
	}
	return dedupe(ids)
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
