package coupon

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// CodeLister lists the codes of all active coupons.
type CodeLister interface {
	ListActiveCodes(ctx context.Context) ([]string, error)
}

// CodeIndex is a bloom filter over active coupon codes, rebuilt
// periodically. Coupons written since the last rebuild are missing from it
// until Invalidate or the next tick triggers a Refresh.
// Until the first successful Refresh every code passes.
type CodeIndex struct {
	lister CodeLister
	fpRate float64
	filter atomic.Pointer[bloom.BloomFilter]
	stale  chan struct{}
}

// NewCodeIndex creates an empty CodeIndex with the given false positive rate.
func NewCodeIndex(lister CodeLister, fpRate float64) *CodeIndex {
	if fpRate <= 0 || fpRate >= 1 {
		fpRate = 0.001
	}
	return &CodeIndex{lister: lister, fpRate: fpRate, stale: make(chan struct{}, 1)}
}

// MayContain reports whether code may be an active coupon code.
func (x *CodeIndex) MayContain(code string) bool {
	f := x.filter.Load()
	if f == nil {
		return true
	}
	return f.TestString(NormalizeCode(code))
}

// Invalidate asks Run to rebuild the filter without waiting for the next
// tick. It never blocks.
func (x *CodeIndex) Invalidate() {
	select {
	case x.stale <- struct{}{}:
	default:
	}
}

// Refresh rebuilds the filter from the lister and swaps it in.
func (x *CodeIndex) Refresh(ctx context.Context) error {
	codes, err := x.lister.ListActiveCodes(ctx)
	if err != nil {
		return errors.Wrap(err, "list active codes")
	}

	n := uint(len(codes))
	if n < 1024 {
		n = 1024
	}
	f := bloom.NewWithEstimates(n, x.fpRate)
	for _, code := range codes {
		f.AddString(NormalizeCode(code))
	}
	x.filter.Store(f)

	zctx.From(ctx).Debug("Coupon index refreshed", zap.Int("codes", len(codes)))
	return nil
}

// Run refreshes the index every interval until ctx is done. Refresh errors
// are logged and the previous filter is kept.
func (x *CodeIndex) Run(ctx context.Context, interval time.Duration) error {
	lg := zctx.From(ctx)
	if err := x.Refresh(ctx); err != nil {
		lg.Warn("Initial coupon index refresh failed", zap.Error(err))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := x.Refresh(ctx); err != nil {
				lg.Warn("Coupon index refresh failed", zap.Error(err))
			}
		case <-x.stale:
			if err := x.Refresh(ctx); err != nil {
				lg.Warn("Coupon index refresh failed", zap.Error(err))
			}
			ticker.Reset(interval)
		}
	}
}
