package repository

import (
	"context"
	"time"

	"github.com/fjod/go_cart/cart-engine/internal/domain"
)

// AggregateRepository stores carts and orders, one document per aggregate id.
// Missing aggregates are reported with the kind's not-found sentinel.
type AggregateRepository interface {
	GetAggregate(ctx context.Context, kind domain.Kind, aggregateID string) (*domain.Aggregate, error)
	SaveAggregate(ctx context.Context, agg *domain.Aggregate) error
	DeleteAggregate(ctx context.Context, kind domain.Kind, aggregateID string) error
	// ListStaleAggregates returns up to limit ids not updated since before,
	// oldest first.
	ListStaleAggregates(ctx context.Context, kind domain.Kind, before time.Time, limit int64) ([]string, error)
}

// CatalogueRepository reads products and writes back the stock counters the
// engine owns. Everything else on a product is managed elsewhere.
type CatalogueRepository interface {
	GetProduct(ctx context.Context, productID string) (*domain.Product, error)
	UpdateVariantStock(ctx context.Context, productID string, variant domain.Variant) error
}

// Repository is what the cart service depends on.
type Repository interface {
	AggregateRepository
	CatalogueRepository

	// RunInTransaction runs fn with a ctx bound to one transaction. Repository
	// calls made with that ctx commit or abort together; fn may be retried on
	// transient write conflicts, so it must not have side effects outside it.
	RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
