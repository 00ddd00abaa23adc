package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/fjod/go_cart/cart-engine/internal/cache"
	"github.com/fjod/go_cart/cart-engine/internal/domain"
	"github.com/fjod/go_cart/cart-engine/internal/lines"
	"github.com/fjod/go_cart/cart-engine/internal/logger"
	"github.com/fjod/go_cart/cart-engine/internal/repository"
	"github.com/fjod/go_cart/cart-engine/internal/stock"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

var tracer = otel.Tracer("cart-engine")

// Result is the state of an aggregate after a write.
type Result struct {
	Aggregate *domain.Aggregate `json:"aggregate"`
	Outcome   domain.Outcome    `json:"outcome"`
	Delta     domain.StockDelta `json:"stock_delta"`
	// Outcomes lists per-line notices from Refresh.
	Outcomes []domain.Outcome `json:"outcomes,omitempty"`
}

type CartService struct {
	repo     repository.Repository
	cache    cache.AggregateCache
	log      *logrus.Logger
	validate *validator.Validate
	now      func() time.Time
	sfg      singleflight.Group // Prevents cache stampede
}

func NewCartService(repo repository.Repository, cache cache.AggregateCache, log *logrus.Logger) *CartService {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &CartService{
		repo:     repo,
		cache:    cache,
		log:      log,
		validate: validator.New(),
		now:      time.Now,
	}
}

// Mutate applies one quantity change to a cart or order. The aggregate, the
// line pipeline and the variant's stock counters are read and written in a
// single transaction.
//
// A supplier veto returns both a Result carrying the unchanged aggregate and
// an error with code SupplierUnavailable.
func (s *CartService) Mutate(ctx context.Context, kind domain.Kind, aggregateID string, req domain.MutationRequest) (*Result, error) {
	ctx, span := tracer.Start(ctx, "CartService.Mutate", trace.WithAttributes(
		attribute.String("aggregate.kind", string(kind)),
		attribute.String("aggregate.id", aggregateID),
		attribute.String("mutation.mode", req.Mode.String()),
		attribute.Int("mutation.quantity", req.Quantity),
	))
	defer span.End()

	if aggregateID == "" {
		return nil, s.fail(ctx, span, "Mutate", domain.Validation(domain.ErrInvalidRequest, "aggregate_id is required"))
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, s.fail(ctx, span, "Mutate", domain.Validation(domain.ErrInvalidRequest, "%v", err))
	}

	var (
		result  *Result
		vetoErr error
		changed bool
	)
	err := s.repo.RunInTransaction(ctx, func(ctx context.Context) error {
		// reset, the transaction body may run more than once
		result, vetoErr, changed = nil, nil, false

		agg, err := s.loadForWrite(ctx, kind, aggregateID)
		if err != nil {
			return err
		}

		in := lines.Input{Kind: kind, Items: agg.Items, Request: req, Now: s.now()}

		productID, variantID, ok := lines.Identify(agg.Items, req)
		if ok {
			product, err := s.repo.GetProduct(ctx, productID)
			if err != nil {
				if errors.Is(err, domain.ErrProductNotFound) {
					return domain.NotFound(err, "product %s", productID)
				}
				return err
			}
			variant, found := product.Variant(variantID)
			if !found {
				return domain.NotFound(domain.ErrVariantNotFound, "variant %s of product %s", variantID, productID)
			}
			in.Product, in.Variant = *product, variant
		}

		mut, err := lines.Apply(in)
		if err != nil {
			if mut != nil && domain.CodeOf(err) == domain.CodeSupplierUnavailable {
				result, vetoErr = &Result{Aggregate: agg, Outcome: mut.Outcome}, err
				return nil
			}
			return err
		}

		if !mut.Changed {
			result = &Result{Aggregate: agg, Outcome: mut.Outcome}
			return nil
		}

		agg.Items, agg.Totals, agg.ItemCount = mut.Items, mut.Totals, mut.ItemCount
		if err := s.repo.SaveAggregate(ctx, agg); err != nil {
			return err
		}

		if !mut.Delta.IsZero() {
			updated, dirty := stock.ApplyDelta(in.Variant, mut.Delta.Sale, mut.Delta.Rental)
			if dirty {
				if err := s.repo.UpdateVariantStock(ctx, in.Product.ID, updated); err != nil {
					return err
				}
			}
		}

		result = &Result{Aggregate: agg, Outcome: mut.Outcome, Delta: mut.Delta}
		changed = true
		return nil
	})
	if err != nil {
		return nil, s.fail(ctx, span, "Mutate", err)
	}

	if changed {
		invalidateCache(s, kind, aggregateID)
	}

	span.SetAttributes(attribute.String("outcome.type", string(result.Outcome.Type)))
	entry := s.log.WithContext(ctx).WithFields(logrus.Fields{
		"kind":         kind,
		"aggregate_id": aggregateID,
		"mode":         req.Mode.String(),
		"outcome":      result.Outcome.Type,
		"sale_delta":   result.Delta.Sale,
		"rental_delta": result.Delta.Rental,
	})
	if vetoErr != nil {
		span.SetStatus(codes.Error, vetoErr.Error())
		entry.WithError(vetoErr).Warn("mutation vetoed by supplier")
		return result, vetoErr
	}
	entry.Debug("mutation applied")
	return result, nil
}

// GetAggregate reads through the cache. A cart that was never written is
// returned empty; a missing order is NotFound.
func (s *CartService) GetAggregate(ctx context.Context, kind domain.Kind, aggregateID string) (*domain.Aggregate, error) {
	// Use singleflight to prevent multiple concurrent cache misses for same key
	v, err, _ := s.sfg.Do(string(kind)+":"+aggregateID, func() (interface{}, error) {
		agg, err := s.cache.Get(ctx, kind, aggregateID)
		if err == nil {
			return agg, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.log.WithContext(ctx).WithError(err).Warn("cache get error") // log cache error but continue
		}

		agg, errGet := s.repo.GetAggregate(ctx, kind, aggregateID)
		if errGet != nil && errors.Is(errGet, domain.ErrCartNotFound) && kind.CreatedOnDemand() {
			return domain.NewAggregate(kind, aggregateID, s.now()), nil
		}
		if errGet != nil {
			if errors.Is(errGet, kind.ErrNotFound()) {
				return nil, domain.NotFound(errGet, "%s %s", kind, aggregateID)
			}
			return nil, errGet
		}

		go func() {
			errSet := s.cache.Set(context.Background(), agg)
			if errSet != nil {
				s.log.WithError(errSet).Warn("cache set error")
			}
		}()

		return agg, nil
	})
	if err != nil {
		return nil, err
	}

	// callers sharing a singleflight result must not see each other's edits
	return s.refreshOnRead(ctx, v.(*domain.Aggregate).Clone()), nil
}

// refreshOnRead lays the live catalogue over the non-sale lines of an
// editable aggregate. Sale lines keep the price they were bought at. The
// stored document is left alone; the next write or Refresh persists it.
func (s *CartService) refreshOnRead(ctx context.Context, agg *domain.Aggregate) *domain.Aggregate {
	if !agg.Editable() || !hasLiveLines(agg.Items) {
		return agg
	}

	products, err := s.liveProducts(ctx, agg.Items)
	if err != nil {
		s.log.WithContext(ctx).WithError(err).Warn("catalogue read failed, serving stored snapshots")
		return agg
	}

	refreshed := lines.Refresh(agg, products, s.now())
	for _, o := range refreshed.Outcomes {
		s.log.WithContext(ctx).WithFields(logrus.Fields{
			"kind":         agg.Kind,
			"aggregate_id": agg.AggregateID,
		}).Warn(o.Message)
	}
	if refreshed.Changed {
		agg.Items, agg.Totals, agg.ItemCount = refreshed.Items, refreshed.Totals, refreshed.ItemCount
	}
	return agg
}

func hasLiveLines(items []domain.LineItem) bool {
	for _, item := range items {
		if item.Tier != domain.TierSale {
			return true
		}
	}
	return false
}

// liveProducts loads the products behind the non-sale lines. Products that
// no longer exist are left out.
func (s *CartService) liveProducts(ctx context.Context, items []domain.LineItem) (map[string]*domain.Product, error) {
	products := make(map[string]*domain.Product)
	for _, item := range items {
		if item.Tier == domain.TierSale {
			continue
		}
		if _, seen := products[item.ProductID]; seen {
			continue
		}
		product, err := s.repo.GetProduct(ctx, item.ProductID)
		if errors.Is(err, domain.ErrProductNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		products[item.ProductID] = product
	}
	return products, nil
}

// Refresh re-reads the catalogue into every non-sale line of an editable
// aggregate and reports price changes and withdrawn items.
func (s *CartService) Refresh(ctx context.Context, kind domain.Kind, aggregateID string) (*Result, error) {
	ctx, span := tracer.Start(ctx, "CartService.Refresh", trace.WithAttributes(
		attribute.String("aggregate.kind", string(kind)),
		attribute.String("aggregate.id", aggregateID),
	))
	defer span.End()

	var (
		result  *Result
		changed bool
	)
	err := s.repo.RunInTransaction(ctx, func(ctx context.Context) error {
		result, changed = nil, false

		agg, err := s.loadForWrite(ctx, kind, aggregateID)
		if err != nil {
			return err
		}

		products, err := s.liveProducts(ctx, agg.Items)
		if err != nil {
			return err
		}

		refreshed := lines.Refresh(agg, products, s.now())
		outcome := domain.Info("No changes", "Prices are up to date")
		if len(refreshed.Outcomes) > 0 {
			outcome = domain.Warning("Items changed", "%d item(s) in your %s changed", len(refreshed.Outcomes), kind)
		}
		result = &Result{Aggregate: agg, Outcome: outcome, Outcomes: refreshed.Outcomes}

		if !refreshed.Changed {
			return nil
		}
		agg.Items, agg.Totals, agg.ItemCount = refreshed.Items, refreshed.Totals, refreshed.ItemCount
		if err := s.repo.SaveAggregate(ctx, agg); err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		return nil, s.fail(ctx, span, "Refresh", err)
	}

	if changed {
		invalidateCache(s, kind, aggregateID)
	}
	return result, nil
}

// Clear empties an editable aggregate and hands reserved sale and rental
// units back to their variants. A cleared cart is deleted; an order keeps its
// document with no lines.
func (s *CartService) Clear(ctx context.Context, kind domain.Kind, aggregateID string) (*Result, error) {
	ctx, span := tracer.Start(ctx, "CartService.Clear", trace.WithAttributes(
		attribute.String("aggregate.kind", string(kind)),
		attribute.String("aggregate.id", aggregateID),
	))
	defer span.End()

	var (
		result  *Result
		changed bool
	)
	err := s.repo.RunInTransaction(ctx, func(ctx context.Context) error {
		result, changed = nil, false

		agg, err := s.loadForWrite(ctx, kind, aggregateID)
		if err != nil {
			return err
		}
		if len(agg.Items) == 0 {
			result = &Result{Aggregate: agg, Outcome: domain.Info("No changes", "Your %s is already empty", kind)}
			return nil
		}

		restored, err := s.restoreStock(ctx, agg.Items)
		if err != nil {
			return err
		}

		if kind == domain.KindCart {
			if err := s.repo.DeleteAggregate(ctx, kind, aggregateID); err != nil && !errors.Is(err, domain.ErrCartNotFound) {
				return err
			}
			agg = domain.NewAggregate(kind, aggregateID, s.now())
		} else {
			agg.Items, agg.Totals, agg.ItemCount = []domain.LineItem{}, domain.ZeroTotals(), 0
			if err := s.repo.SaveAggregate(ctx, agg); err != nil {
				return err
			}
		}

		result = &Result{
			Aggregate: agg,
			Outcome:   domain.Success(kind.Label()+" cleared", "All items removed from your %s", kind),
			Delta:     restored,
		}
		changed = true
		return nil
	})
	if err != nil {
		return nil, s.fail(ctx, span, "Clear", err)
	}

	if changed {
		invalidateCache(s, kind, aggregateID)
	}
	return result, nil
}

// expiryBatch bounds how many carts one ExpireStaleCarts call handles.
const expiryBatch = 100

// ExpireStaleCarts deletes carts not updated since before and hands their
// sale and rental units back. Each cart is expired in its own transaction; a
// cart written to after it was listed is kept.
func (s *CartService) ExpireStaleCarts(ctx context.Context, before time.Time) (int, error) {
	ctx, span := tracer.Start(ctx, "CartService.ExpireStaleCarts")
	defer span.End()

	ids, err := s.repo.ListStaleAggregates(ctx, domain.KindCart, before, expiryBatch)
	if err != nil {
		return 0, s.fail(ctx, span, "ExpireStaleCarts", err)
	}

	expired := 0
	for _, id := range ids {
		ok, err := s.expireCart(ctx, id, before)
		if err != nil {
			logger.LogError(s.log.WithContext(ctx), "service", "ExpireStaleCarts", id, err)
			continue
		}
		if ok {
			expired++
			invalidateCache(s, domain.KindCart, id)
		}
	}
	span.SetAttributes(attribute.Int("carts.expired", expired))
	return expired, nil
}

func (s *CartService) expireCart(ctx context.Context, cartID string, before time.Time) (bool, error) {
	var (
		expired bool
		delta   domain.StockDelta
	)
	err := s.repo.RunInTransaction(ctx, func(ctx context.Context) error {
		expired, delta = false, domain.StockDelta{}

		agg, err := s.repo.GetAggregate(ctx, domain.KindCart, cartID)
		if errors.Is(err, domain.ErrCartNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if !agg.UpdatedAt.Before(before) {
			return nil
		}

		// a locked cart was sold, its units are not ours to return
		if agg.Editable() {
			if delta, err = s.restoreStock(ctx, agg.Items); err != nil {
				return err
			}
		}
		if err := s.repo.DeleteAggregate(ctx, domain.KindCart, cartID); err != nil {
			return err
		}
		expired = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if expired {
		s.log.WithContext(ctx).WithFields(logrus.Fields{
			"aggregate_id": cartID,
			"sale_delta":   delta.Sale,
			"rental_delta": delta.Rental,
		}).Info("stale cart expired")
	}
	return expired, nil
}

// CompleteCheckout drops a checked-out cart. Its units were sold, so no stock
// is restored.
func (s *CartService) CompleteCheckout(ctx context.Context, userID string) error {
	errDelete := s.repo.DeleteAggregate(ctx, domain.KindCart, userID)
	if errDelete != nil && !errors.Is(errDelete, domain.ErrCartNotFound) {
		logger.LogError(s.log.WithContext(ctx), "service", "CompleteCheckout", userID, errDelete)
		return errDelete
	}

	invalidateCache(s, domain.KindCart, userID)
	return nil
}

// restoreStock returns every sale and rental unit held by items to its
// variant. Lines whose product or variant no longer exists are skipped.
func (s *CartService) restoreStock(ctx context.Context, items []domain.LineItem) (domain.StockDelta, error) {
	type variantKey struct{ productID, variantID string }
	held := make(map[variantKey]domain.StockDelta)
	for _, item := range items {
		k := variantKey{item.ProductID, item.VariantID}
		switch item.Tier {
		case domain.TierSale:
			held[k] = held[k].Add(domain.StockDelta{Sale: item.Quantity})
		case domain.TierRental:
			held[k] = held[k].Add(domain.StockDelta{Rental: item.Quantity})
		}
	}

	keys := make([]variantKey, 0, len(held))
	for k := range held {
		keys = append(keys, k)
	}
	// stable write order keeps concurrent clears from deadlocking on retries
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].productID != keys[j].productID {
			return keys[i].productID < keys[j].productID
		}
		return keys[i].variantID < keys[j].variantID
	})

	var total domain.StockDelta
	for _, k := range keys {
		product, err := s.repo.GetProduct(ctx, k.productID)
		if errors.Is(err, domain.ErrProductNotFound) {
			continue
		}
		if err != nil {
			return domain.StockDelta{}, err
		}
		variant, ok := product.Variant(k.variantID)
		if !ok {
			continue
		}

		d := held[k]
		updated, dirty := stock.ApplyDelta(variant, -d.Sale, -d.Rental)
		if dirty {
			if err := s.repo.UpdateVariantStock(ctx, k.productID, updated); err != nil {
				return domain.StockDelta{}, err
			}
		}
		total = total.Add(domain.StockDelta{Sale: -d.Sale, Rental: -d.Rental})
	}
	return total, nil
}

// loadForWrite returns the aggregate to mutate. Missing carts start empty;
// missing orders and locked aggregates are errors.
func (s *CartService) loadForWrite(ctx context.Context, kind domain.Kind, aggregateID string) (*domain.Aggregate, error) {
	agg, err := s.repo.GetAggregate(ctx, kind, aggregateID)
	switch {
	case err == nil:
	case errors.Is(err, kind.ErrNotFound()) && kind.CreatedOnDemand():
		return domain.NewAggregate(kind, aggregateID, s.now()), nil
	case errors.Is(err, kind.ErrNotFound()):
		return nil, domain.NotFound(err, "%s %s", kind, aggregateID)
	default:
		return nil, err
	}

	if !agg.Editable() {
		return nil, domain.Conflict(domain.ErrAggregateLocked, "%s %s is %s", kind, aggregateID, agg.Status)
	}
	return agg, nil
}

// fail records err on the span and logs it. Business errors log at info,
// everything else is a fault.
func (s *CartService) fail(ctx context.Context, span trace.Span, funcName string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	code := domain.CodeOf(err)
	if code == domain.CodeUnknown {
		logger.LogError(s.log.WithContext(ctx), "service", funcName, nil, err)
		return fmt.Errorf("%s: %w", funcName, err)
	}
	s.log.WithContext(ctx).WithFields(logrus.Fields{
		"funcName": funcName,
		"code":     code.String(),
	}).Info(err.Error())
	return err
}

func invalidateCache(s *CartService, kind domain.Kind, aggregateID string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	errInvalidate := s.cache.Delete(ctx, kind, aggregateID)
	if errInvalidate != nil {
		s.log.WithError(errInvalidate).Warn("cache invalidate error")
	}
}
