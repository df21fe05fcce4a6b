package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/giftbox-api/internal/domain/auth"
	"github.com/xenking/giftbox-api/internal/domain/coupon"
	"github.com/xenking/giftbox-api/internal/domain/product"
	"github.com/xenking/giftbox-api/internal/storage/postgres"
)

type productJSON struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	Description   string           `json:"description"`
	Category      string           `json:"category"`
	Price         decimal.Decimal  `json:"price"`
	DiscountPrice *decimal.Decimal `json:"discountPrice"`
	Stock         *int             `json:"stock"`
	Available     bool             `json:"available"`
	Images        []string         `json:"images"`
	Variants      []struct {
		Color string `json:"color"`
		Size  string `json:"size"`
		Stock *int   `json:"stock"`
	} `json:"variants"`
	IsBundle    bool `json:"isBundle"`
	BundleItems []struct {
		ProductID string `json:"productId"`
		Quantity  int    `json:"quantity"`
	} `json:"bundleItems"`
}

func (p productJSON) domain() product.Product {
	out := product.Product{
		ID:            p.ID,
		Name:          p.Name,
		Description:   p.Description,
		Category:      p.Category,
		Price:         p.Price,
		DiscountPrice: p.DiscountPrice,
		Stock:         p.Stock,
		Available:     p.Available,
		Images:        p.Images,
		IsBundle:      p.IsBundle,
	}
	for i, v := range p.Variants {
		out.Variants = append(out.Variants, product.Variant{Position: i, Color: v.Color, Size: v.Size, Stock: v.Stock})
	}
	for _, bi := range p.BundleItems {
		out.BundleItems = append(out.BundleItems, product.BundleItem{ProductID: bi.ProductID, Quantity: bi.Quantity})
	}
	return out
}

func main() {
	var (
		databaseURL  string
		productsFile string
		apiKey       string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&productsFile, "products-file", "db/seed/products.json", "path to products JSON file")
	flag.StringVar(&apiKey, "api-key", "", "admin API key to seed (or GIFTBOX_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or GIFTBOX_AUTH_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKey == "" {
		apiKey = os.Getenv("GIFTBOX_SEED_API_KEY")
	}
	if apiKey == "" {
		slog.Error("API key is required: set --api-key or GIFTBOX_SEED_API_KEY")
		os.Exit(1)
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("GIFTBOX_AUTH_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, productsFile, apiKey, apiKeyPepper); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, productsFile, apiKey, pepper string) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedProducts(ctx, postgres.NewProductRepository(pool), productsFile); err != nil {
		return errors.Wrap(err, "seed products")
	}

	if err := seedCoupons(ctx, postgres.NewCouponRepository(pool), time.Now()); err != nil {
		return errors.Wrap(err, "seed coupons")
	}

	if err := seedAPIKey(ctx, postgres.NewAPIKeyRepository(pool), apiKey, pepper); err != nil {
		return errors.Wrap(err, "seed api key")
	}

	return nil
}

func seedProducts(ctx context.Context, repo *postgres.ProductRepository, productsFile string) error {
	slog.Info("reading products file", slog.String("path", productsFile))

	data, err := os.ReadFile(productsFile)
	if err != nil {
		return errors.Wrap(err, "read products file")
	}

	var products []productJSON
	if err := json.Unmarshal(data, &products); err != nil {
		return errors.Wrap(err, "parse products JSON")
	}

	slog.Info("upserting products", slog.Int("count", len(products)))

	// Bundles reference their components, so components go first.
	for _, bundles := range []bool{false, true} {
		for _, pj := range products {
			if pj.IsBundle != bundles {
				continue
			}
			p := pj.domain()
			if err := repo.Upsert(ctx, &p); err != nil {
				return errors.Wrapf(err, "upsert product %s", p.ID)
			}
			slog.Info("upserted product", slog.String("id", p.ID), slog.String("name", p.Name))
		}
	}

	return nil
}

func seedCoupons(ctx context.Context, repo *postgres.CouponRepository, now time.Time) error {
	slog.Info("seeding default coupons")

	pct := decimal.NewFromInt(10)
	maxDiscount := decimal.NewFromInt(200)
	coupons := []coupon.Coupon{
		{
			ID:              "welcome10",
			Code:            "WELCOME10",
			Description:     "10% off, up to 200",
			Type:            coupon.DiscountPercentage,
			DiscountPercent: &pct,
			MaxDiscount:     &maxDiscount,
			MinPurchase:     decimal.NewFromInt(499),
			ValidFrom:       now,
			ValidTill:       now.AddDate(1, 0, 0),
			Active:          true,
		},
		{
			ID:            "flat100",
			Code:          "FLAT100",
			Description:   "100 off orders above 999",
			Type:          coupon.DiscountFixed,
			DiscountValue: decimal.NewFromInt(100),
			MinPurchase:   decimal.NewFromInt(999),
			ValidFrom:     now,
			ValidTill:     now.AddDate(0, 3, 0),
			UsageLimit:    500,
			Active:        true,
		},
	}

	if err := repo.UpsertBatch(ctx, coupons); err != nil {
		return err
	}
	for _, c := range coupons {
		slog.Info("upserted coupon", slog.String("code", c.Code), slog.String("description", c.Description))
	}

	return nil
}

func seedAPIKey(ctx context.Context, repo *postgres.APIKeyRepository, apiKey, pepper string) error {
	slog.Info("seeding admin API key")

	if err := repo.Upsert(ctx, &auth.APIKeyInfo{
		ID:      "admin",
		KeyHash: auth.HashKey(apiKey, []byte(pepper)),
		Name:    "Admin dashboard key",
		Scopes:  []string{auth.ScopeAdmin},
	}); err != nil {
		return errors.Wrap(err, "upsert admin API key")
	}

	slog.Info("upserted API key", slog.String("id", "admin"))

	return nil
}
