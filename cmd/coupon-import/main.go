// Command coupon-import bulk-loads coupon definitions from gzip-compressed
// CSV files. Each line is
//
//	code,type,value,min_purchase,max_discount,valid_days,usage_limit
//
// where type is "percentage" or "fixed" and max_discount, valid_days and
// usage_limit may be empty. Lines starting with '#' are skipped. A code that
// appears more than once keeps its last definition.
package main

import (
	"bufio"
	"context"
	"encoding/csv"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/giftbox-api/internal/domain/coupon"
	"github.com/xenking/giftbox-api/internal/storage/postgres"
)

const (
	batchSize       = 500
	defaultValidFor = 90 * 24 * time.Hour
)

func main() {
	var databaseURL string

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if flag.NArg() == 0 {
		slog.Error("usage: coupon-import [--database-url URL] file.csv.gz...")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, flag.Args()); err != nil {
		slog.Error("coupon import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("coupon import completed successfully")
}

func run(ctx context.Context, databaseURL string, files []string) error {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			return errors.Wrapf(err, "check file %s", f)
		}
	}

	slog.Info("parsing coupon files", slog.Int("files", len(files)))

	coupons, err := parseFiles(ctx, files, time.Now())
	if err != nil {
		return errors.Wrap(err, "parse coupon files")
	}
	if len(coupons) == 0 {
		slog.Info("no coupons to import")
		return nil
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	return writeCoupons(ctx, postgres.NewCouponRepository(pool), coupons)
}

// parseFiles decodes every file concurrently and merges the results in
// argument order, so later files override earlier ones.
func parseFiles(ctx context.Context, files []string, now time.Time) ([]coupon.Coupon, error) {
	results := make([][]coupon.Coupon, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			f, err := os.Open(path)
			if err != nil {
				return errors.Wrapf(err, "open %s", path)
			}
			defer func() { _ = f.Close() }()

			gz, err := pgzip.NewReader(f)
			if err != nil {
				return errors.Wrapf(err, "create gzip reader for %s", path)
			}
			defer func() { _ = gz.Close() }()

			parsed, err := parseCoupons(ctx, gz, now)
			if err != nil {
				return errors.Wrapf(err, "parse %s", path)
			}
			slog.Info("parsed file", slog.String("path", path), slog.Int("coupons", len(parsed)))
			results[i] = parsed
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	index := make(map[string]int)
	var merged []coupon.Coupon
	for _, r := range results {
		for _, c := range r {
			if i, ok := index[c.Code]; ok {
				merged[i] = c
				continue
			}
			index[c.Code] = len(merged)
			merged = append(merged, c)
		}
	}
	return merged, nil
}

// parseCoupons reads CSV coupon lines from r.
func parseCoupons(ctx context.Context, r io.Reader, now time.Time) ([]coupon.Coupon, error) {
	cr := csv.NewReader(bufio.NewReader(r))
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var out []coupon.Coupon
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		line, _ := cr.FieldPos(0)
		c, err := parseRecord(rec, now)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
		out = append(out, c)
	}
}

func parseRecord(rec []string, now time.Time) (coupon.Coupon, error) {
	field := func(i int) string {
		if i < len(rec) {
			return strings.TrimSpace(rec[i])
		}
		return ""
	}

	code := coupon.NormalizeCode(field(0))
	if code == "" {
		return coupon.Coupon{}, errors.New("empty code")
	}
	c := coupon.Coupon{
		ID:        strings.ToLower(code),
		Code:      code,
		Type:      coupon.DiscountType(field(1)),
		ValidFrom: now,
		ValidTill: now.Add(defaultValidFor),
		Active:    true,
	}

	value, err := decimal.NewFromString(field(2))
	if err != nil {
		return c, errors.Wrap(err, "parse value")
	}
	switch c.Type {
	case coupon.DiscountPercentage:
		if value.LessThanOrEqual(decimal.Zero) || value.GreaterThan(decimal.NewFromInt(100)) {
			return c, errors.Errorf("percentage %s out of range", value)
		}
		c.DiscountPercent = &value
		c.Description = value.String() + "% off"
	case coupon.DiscountFixed:
		c.DiscountValue = value
		c.Description = value.String() + " off"
	default:
		return c, errors.Errorf("unknown discount type %q", c.Type)
	}

	if s := field(3); s != "" {
		if c.MinPurchase, err = decimal.NewFromString(s); err != nil {
			return c, errors.Wrap(err, "parse min purchase")
		}
	}
	if s := field(4); s != "" {
		maxDiscount, err := decimal.NewFromString(s)
		if err != nil {
			return c, errors.Wrap(err, "parse max discount")
		}
		c.MaxDiscount = &maxDiscount
	}
	if s := field(5); s != "" {
		days, err := strconv.Atoi(s)
		if err != nil || days <= 0 {
			return c, errors.Errorf("invalid valid_days %q", s)
		}
		c.ValidTill = now.AddDate(0, 0, days)
	}
	if s := field(6); s != "" {
		if c.UsageLimit, err = strconv.Atoi(s); err != nil || c.UsageLimit < 0 {
			return c, errors.Errorf("invalid usage_limit %q", s)
		}
	}
	return c, nil
}

// writeCoupons upserts coupons in batches.
func writeCoupons(ctx context.Context, repo *postgres.CouponRepository, coupons []coupon.Coupon) error {
	slog.Info("writing coupons to database", slog.Int("count", len(coupons)))

	for start := 0; start < len(coupons); start += batchSize {
		end := min(start+batchSize, len(coupons))
		if err := repo.UpsertBatch(ctx, coupons[start:end]); err != nil {
			return errors.Wrapf(err, "upsert coupons %d-%d", start, end)
		}
		slog.Info("write progress", slog.Int("written", end), slog.Int("total", len(coupons)))
	}

	return nil
}
