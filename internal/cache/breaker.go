package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fjod/go_cart/cart-engine/internal/domain"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"
)

// BreakerSettings tunes the breaker guarding the cache.
type BreakerSettings struct {
	// ConsecutiveFailures trips the breaker.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration
}

// BreakerCache stops calling a failing cache so requests go straight to the
// repository instead of waiting on Redis timeouts. Misses are not failures.
//
// Deletes bypass the breaker: an invalidation follows a committed write and
// must not be dropped. Keys whose delete failed stay pending and read as
// misses until a later delete reaches the cache.
type BreakerCache struct {
	next AggregateCache
	cb   *gobreaker.CircuitBreaker[*domain.Aggregate]

	mu      sync.Mutex
	pending map[string]struct{}
}

func NewBreakerCache(next AggregateCache, settings BreakerSettings, log *logrus.Logger) *BreakerCache {
	if settings.ConsecutiveFailures == 0 {
		settings.ConsecutiveFailures = 5
	}
	if settings.OpenTimeout <= 0 {
		settings.OpenTimeout = 30 * time.Second
	}

	st := gobreaker.Settings{
		Name:        "aggregate-cache",
		MaxRequests: 1,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrCacheMiss)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if log != nil {
				log.WithFields(logrus.Fields{
					"breaker": name,
					"from":    from.String(),
					"to":      to.String(),
				}).Warn("circuit breaker state changed")
			}
		},
	}

	return &BreakerCache{
		next:    next,
		cb:      gobreaker.NewCircuitBreaker[*domain.Aggregate](st),
		pending: make(map[string]struct{}),
	}
}

func (b *BreakerCache) Get(ctx context.Context, kind domain.Kind, aggregateID string) (*domain.Aggregate, error) {
	if b.isPending(kind, aggregateID) {
		if b.cb.State() == gobreaker.StateOpen {
			return nil, ErrCacheMiss
		}
		if err := b.Delete(ctx, kind, aggregateID); err != nil {
			return nil, ErrCacheMiss
		}
	}
	return b.cb.Execute(func() (*domain.Aggregate, error) {
		return b.next.Get(ctx, kind, aggregateID)
	})
}

func (b *BreakerCache) Set(ctx context.Context, agg *domain.Aggregate) error {
	_, err := b.cb.Execute(func() (*domain.Aggregate, error) {
		return nil, b.next.Set(ctx, agg)
	})
	return err
}

func (b *BreakerCache) Delete(ctx context.Context, kind domain.Kind, aggregateID string) error {
	key := cacheKey(kind, aggregateID)
	if err := b.next.Delete(ctx, kind, aggregateID); err != nil {
		b.mu.Lock()
		b.pending[key] = struct{}{}
		b.mu.Unlock()
		return err
	}
	b.mu.Lock()
	delete(b.pending, key)
	b.mu.Unlock()
	return nil
}

func (b *BreakerCache) isPending(kind domain.Kind, aggregateID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.pending[cacheKey(kind, aggregateID)]
	return ok
}

func (b *BreakerCache) State() gobreaker.State {
	return b.cb.State()
}
