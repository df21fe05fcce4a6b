package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/giftbox-api/internal/domain/product"
)

const (
	productColumns = `id, name, description, category, price, discount_price, stock,
		available, is_bundle, images`

	listProductsSQL = `SELECT ` + productColumns + ` FROM products ORDER BY id`

	getProductByIDSQL = `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	getProductsByIDsSQL = `SELECT ` + productColumns + ` FROM products WHERE id = ANY($1)`

	listVariantsSQL = `SELECT product_id, position, color, size, stock
		FROM product_variants WHERE product_id = ANY($1) ORDER BY product_id, position`

	listBundleItemsSQL = `SELECT bundle_id, product_id, quantity
		FROM bundle_items WHERE bundle_id = ANY($1) ORDER BY bundle_id, product_id`

	decrementStockSQL = `UPDATE products SET stock = stock - $2, updated_at = now()
		WHERE id = $1 AND stock >= $2`

	decrementVariantStockSQL = `UPDATE product_variants SET stock = stock - $3
		WHERE product_id = $1 AND position = $2 AND stock >= $3`

	incrementStockSQL = `UPDATE products SET stock = COALESCE(stock, 0) + $2, updated_at = now()
		WHERE id = $1`

	incrementVariantStockSQL = `UPDATE product_variants SET stock = COALESCE(stock, 0) + $3
		WHERE product_id = $1 AND position = $2`

	upsertProductSQL = `INSERT INTO products (id, name, description, category, price, discount_price,
		stock, available, is_bundle, images)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, description = EXCLUDED.description, category = EXCLUDED.category,
			price = EXCLUDED.price, discount_price = EXCLUDED.discount_price, stock = EXCLUDED.stock,
			available = EXCLUDED.available, is_bundle = EXCLUDED.is_bundle, images = EXCLUDED.images,
			updated_at = now()`

	deleteVariantsSQL    = `DELETE FROM product_variants WHERE product_id = $1`
	insertVariantSQL     = `INSERT INTO product_variants (product_id, position, color, size, stock) VALUES ($1, $2, $3, $4, $5)`
	deleteBundleItemsSQL = `DELETE FROM bundle_items WHERE bundle_id = $1`
	insertBundleItemSQL  = `INSERT INTO bundle_items (bundle_id, product_id, quantity) VALUES ($1, $2, $3)`
)

var (
	_ product.Repository = (*ProductRepository)(nil)
	_ product.StockStore = (*ProductRepository)(nil)
)

// ProductRepository implements product.Repository and product.StockStore
// backed by PostgreSQL.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// List returns all products from the catalog ordered by ID.
func (r *ProductRepository) List(ctx context.Context) ([]product.Product, error) {
	rows, err := r.pool.Query(ctx, listProductsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	products, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	return products, r.attachChildren(ctx, products)
}

// GetByID returns a single product by its identifier.
func (r *ProductRepository) GetByID(ctx context.Context, id string) (*product.Product, error) {
	rows, err := r.pool.Query(ctx, getProductByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrNotFound
		}
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}

	products := []product.Product{p}
	if err := r.attachChildren(ctx, products); err != nil {
		return nil, err
	}
	return &products[0], nil
}

// GetByIDs returns products matching any of the given IDs. Missing IDs are
// silently skipped.
func (r *ProductRepository) GetByIDs(ctx context.Context, ids []string) ([]product.Product, error) {
	rows, err := r.pool.Query(ctx, getProductsByIDsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting products by ids: %w", err)
	}
	products, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return nil, fmt.Errorf("getting products by ids: %w", err)
	}
	return products, r.attachChildren(ctx, products)
}

// attachChildren loads variants and bundle items for products in two
// queries.
func (r *ProductRepository) attachChildren(ctx context.Context, products []product.Product) error {
	if len(products) == 0 {
		return nil
	}
	idx := make(map[string]int, len(products))
	ids := make([]string, len(products))
	var bundles []string
	for i, p := range products {
		idx[p.ID] = i
		ids[i] = p.ID
		if p.IsBundle {
			bundles = append(bundles, p.ID)
		}
	}

	rows, err := r.pool.Query(ctx, listVariantsSQL, ids)
	if err != nil {
		return fmt.Errorf("listing variants: %w", err)
	}
	var (
		productID string
		v         product.Variant
	)
	_, err = pgx.ForEachRow(rows, []any{&productID, &v.Position, &v.Color, &v.Size, &v.Stock}, func() error {
		i := idx[productID]
		products[i].Variants = append(products[i].Variants, product.Variant{
			Position: v.Position, Color: v.Color, Size: v.Size, Stock: copyInt(v.Stock),
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("listing variants: %w", err)
	}

	if len(bundles) == 0 {
		return nil
	}
	rows, err = r.pool.Query(ctx, listBundleItemsSQL, bundles)
	if err != nil {
		return fmt.Errorf("listing bundle items: %w", err)
	}
	var (
		bundleID string
		bi       product.BundleItem
	)
	_, err = pgx.ForEachRow(rows, []any{&bundleID, &bi.ProductID, &bi.Quantity}, func() error {
		i := idx[bundleID]
		products[i].BundleItems = append(products[i].BundleItems, bi)
		return nil
	})
	if err != nil {
		return fmt.Errorf("listing bundle items: %w", err)
	}
	return nil
}

// DecrementStock subtracts qty from the target counter only if it holds at
// least qty. It returns product.ErrStockConflict when no row qualified.
func (r *ProductRepository) DecrementStock(ctx context.Context, t product.StockTarget, qty int) error {
	var (
		tag pgconn.CommandTag
		err error
	)
	if t.Variant == nil {
		tag, err = r.pool.Exec(ctx, decrementStockSQL, t.ProductID, qty)
	} else {
		tag, err = r.pool.Exec(ctx, decrementVariantStockSQL, t.ProductID, *t.Variant, qty)
	}
	if err != nil {
		return fmt.Errorf("decrementing stock for %q: %w", t.ProductID, err)
	}
	if tag.RowsAffected() == 0 {
		return product.ErrStockConflict
	}
	return nil
}

// IncrementStock adds qty back to the target counter.
func (r *ProductRepository) IncrementStock(ctx context.Context, t product.StockTarget, qty int) error {
	var (
		tag pgconn.CommandTag
		err error
	)
	if t.Variant == nil {
		tag, err = r.pool.Exec(ctx, incrementStockSQL, t.ProductID, qty)
	} else {
		tag, err = r.pool.Exec(ctx, incrementVariantStockSQL, t.ProductID, *t.Variant, qty)
	}
	if err != nil {
		return fmt.Errorf("incrementing stock for %q: %w", t.ProductID, err)
	}
	if tag.RowsAffected() == 0 {
		return product.ErrNotFound
	}
	return nil
}

// Upsert inserts or replaces a product together with its variants and
// bundle items in one transaction.
func (r *ProductRepository) Upsert(ctx context.Context, p *product.Product) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		images := p.Images
		if images == nil {
			images = []string{}
		}
		if _, err := tx.Exec(ctx, upsertProductSQL,
			p.ID, p.Name, p.Description, p.Category, p.Price, p.DiscountPrice,
			p.Stock, p.Available, p.IsBundle, images,
		); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, deleteVariantsSQL, p.ID); err != nil {
			return err
		}
		for _, v := range p.Variants {
			if _, err := tx.Exec(ctx, insertVariantSQL, p.ID, v.Position, v.Color, v.Size, v.Stock); err != nil {
				return err
			}
		}

		if _, err := tx.Exec(ctx, deleteBundleItemsSQL, p.ID); err != nil {
			return err
		}
		for _, bi := range p.BundleItems {
			if _, err := tx.Exec(ctx, insertBundleItemSQL, p.ID, bi.ProductID, bi.Quantity); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("upserting product %q: %w", p.ID, err)
	}
	return nil
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var p product.Product
	err := row.Scan(
		&p.ID, &p.Name, &p.Description, &p.Category, &p.Price, &p.DiscountPrice,
		&p.Stock, &p.Available, &p.IsBundle, &p.Images,
	)
	return p, err
}

func copyInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
