package cache

import (
	"context"
	"time"

	"orderdesk/backend/internal/domain"
)

// CatalogKey is the single key the product catalog snapshot is stored under.
const CatalogKey = "orderdesk:catalog:v1"

type CatalogCache interface {
	Get(ctx context.Context, key string) ([]domain.ProductListing, bool, error)
	Set(ctx context.Context, key string, value []domain.ProductListing, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type NoopCatalogCache struct{}

func (NoopCatalogCache) Get(_ context.Context, _ string) ([]domain.ProductListing, bool, error) {
	return nil, false, nil
}

func (NoopCatalogCache) Set(_ context.Context, _ string, _ []domain.ProductListing, _ time.Duration) error {
	return nil
}

func (NoopCatalogCache) Delete(_ context.Context, _ string) error {
	return nil
}
