package cache

import (
	"context"
	"errors"

	"github.com/fjod/go_cart/cart-engine/internal/domain"
)

type AggregateCache interface {
	Get(ctx context.Context, kind domain.Kind, aggregateID string) (*domain.Aggregate, error)
	Set(ctx context.Context, agg *domain.Aggregate) error
	Delete(ctx context.Context, kind domain.Kind, aggregateID string) error
}

var ErrCacheMiss = errors.New("cache miss")
