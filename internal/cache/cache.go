package cache

import (
	"context"
	"time"

	"bizzai/backend/internal/domain"
)

// ItemCache is a read-through cache for barcode resolution. Entries are
// display data only; stock decisions always go to the repository.
type ItemCache interface {
	Get(ctx context.Context, sku string) (*domain.Item, bool, error)
	Set(ctx context.Context, item *domain.Item, ttl time.Duration) error
	Invalidate(ctx context.Context, skus ...string) error
}

type NoopItemCache struct{}

func (NoopItemCache) Get(_ context.Context, _ string) (*domain.Item, bool, error) {
	return nil, false, nil
}

func (NoopItemCache) Set(_ context.Context, _ *domain.Item, _ time.Duration) error {
	return nil
}

func (NoopItemCache) Invalidate(_ context.Context, _ ...string) error {
	return nil
}

func itemKey(sku string) string {
	return "bizzai:item:" + sku
}
