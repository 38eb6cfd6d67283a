package barcode

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"bizzai/backend/internal/cache"
	"bizzai/backend/internal/domain"
	"bizzai/backend/internal/poserr"
	"bizzai/backend/internal/store"
)

const (
	DefaultSearchLimit = 20
	MaxSearchLimit     = 100
)

// Resolver maps scanned codes to catalog items. It never mutates carts
// or stock.
type Resolver struct {
	items  store.ItemReader
	cache  cache.ItemCache
	ttl    time.Duration
	logger *zap.Logger
}

func NewResolver(items store.ItemReader, itemCache cache.ItemCache, ttl time.Duration, logger *zap.Logger) *Resolver {
	if itemCache == nil {
		itemCache = cache.NoopItemCache{}
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{items: items, cache: itemCache, ttl: ttl, logger: logger}
}

// Resolve matches the trimmed code exactly and case-sensitively against
// item SKUs.
func (r *Resolver) Resolve(ctx context.Context, code string) (*domain.Item, error) {
	code = NormalizeScan(code)
	if code == "" {
		return nil, poserr.NotFound("barcode", code)
	}

	if item, ok, err := r.cache.Get(ctx, code); err != nil {
		r.logger.Warn("item cache read failed", zap.String("sku", code), zap.Error(err))
	} else if ok {
		return item, nil
	}

	item, err := r.items.GetItem(ctx, code)
	if err != nil {
		if poserr.IsNotFound(err) {
			return nil, poserr.NotFound("barcode", code)
		}
		return nil, err
	}

	if err := r.cache.Set(ctx, item, r.ttl); err != nil {
		r.logger.Warn("item cache write failed", zap.String("sku", code), zap.Error(err))
	}
	return item, nil
}

// Search is the explicit name lookup used when a scan misses. It is
// case-insensitive and never consulted by Resolve.
func (r *Resolver) Search(ctx context.Context, term string, limit int) ([]domain.Item, error) {
	if limit < 1 {
		limit = DefaultSearchLimit
	}
	if limit > MaxSearchLimit {
		limit = MaxSearchLimit
	}
	return r.items.SearchItems(ctx, strings.TrimSpace(term), limit)
}

// Forget drops cached entries after their stock or price changed.
func (r *Resolver) Forget(ctx context.Context, skus ...string) {
	if err := r.cache.Invalidate(ctx, skus...); err != nil {
		r.logger.Warn("item cache invalidation failed", zap.Strings("skus", skus), zap.Error(err))
	}
}

// NormalizeScan strips the whitespace and line terminators scanners append.
func NormalizeScan(code string) string {
	return strings.TrimSpace(code)
}
