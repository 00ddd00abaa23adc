package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cart/cart-engine/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
)

const (
	cartsCollection    = "carts"
	ordersCollection   = "orders"
	productsCollection = "products"
)

type mongoRepository struct {
	client   *mongo.Client
	carts    *mongo.Collection
	orders   *mongo.Collection
	products *mongo.Collection
}

func NewMongoRepository(db *mongo.Database) Repository {
	return &mongoRepository{
		client:   db.Client(),
		carts:    db.Collection(cartsCollection),
		orders:   db.Collection(ordersCollection),
		products: db.Collection(productsCollection),
	}
}

func (m *mongoRepository) collection(kind domain.Kind) *mongo.Collection {
	if kind == domain.KindOrder {
		return m.orders
	}
	return m.carts
}

func (m *mongoRepository) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	sess, err := m.client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer sess.EndSession(ctx)

	txnOpts := options.Transaction().
		SetReadConcern(readconcern.Snapshot()).
		SetWriteConcern(writeconcern.Majority())

	// WithTransaction retries fn on TransientTransactionError and the commit on
	// UnknownTransactionCommitResult.
	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	}, txnOpts)
	return err
}

func (m *mongoRepository) GetAggregate(ctx context.Context, kind domain.Kind, aggregateID string) (*domain.Aggregate, error) {
	var agg domain.Aggregate

	filter := bson.M{"aggregate_id": aggregateID}
	err := m.collection(kind).FindOne(ctx, filter).Decode(&agg)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, kind.ErrNotFound()
		}
		return nil, fmt.Errorf("failed to get %s: %w", kind, err)
	}
	if agg.Items == nil {
		agg.Items = []domain.LineItem{}
	}

	return &agg, nil
}

func (m *mongoRepository) SaveAggregate(ctx context.Context, agg *domain.Aggregate) error {
	now := time.Now()

	if agg.CreatedAt.IsZero() {
		agg.CreatedAt = now
	}
	agg.UpdatedAt = now

	filter := bson.M{"aggregate_id": agg.AggregateID}
	update := bson.M{"$set": agg}
	opts := options.Update().SetUpsert(true)

	_, err := m.collection(agg.Kind).UpdateOne(ctx, filter, update, opts)
	if err != nil {
		return fmt.Errorf("failed to upsert %s: %w", agg.Kind, err)
	}

	return nil
}

func (m *mongoRepository) DeleteAggregate(ctx context.Context, kind domain.Kind, aggregateID string) error {
	filter := bson.M{"aggregate_id": aggregateID}

	result, err := m.collection(kind).DeleteOne(ctx, filter)
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", kind, err)
	}

	if result.DeletedCount == 0 {
		return kind.ErrNotFound()
	}

	return nil
}

func (m *mongoRepository) ListStaleAggregates(ctx context.Context, kind domain.Kind, before time.Time, limit int64) ([]string, error) {
	filter := bson.M{"updated_at": bson.M{"$lt": before}}
	opts := options.Find().
		SetProjection(bson.M{"aggregate_id": 1}).
		SetSort(bson.D{{Key: "updated_at", Value: 1}}).
		SetLimit(limit)

	cursor, err := m.collection(kind).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale %ss: %w", kind, err)
	}
	defer cursor.Close(ctx)

	var ids []string
	for cursor.Next(ctx) {
		var doc struct {
			AggregateID string `bson:"aggregate_id"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode %s id: %w", kind, err)
		}
		ids = append(ids, doc.AggregateID)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("failed to list stale %ss: %w", kind, err)
	}
	return ids, nil
}

func (m *mongoRepository) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	var product domain.Product

	err := m.products.FindOne(ctx, bson.M{"product_id": productID}).Decode(&product)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrProductNotFound
		}
		return nil, fmt.Errorf("failed to get product: %w", err)
	}

	return &product, nil
}

// UpdateVariantStock writes only the counters and the automatic sale flag so
// concurrent catalogue edits to prices or titles are not overwritten.
func (m *mongoRepository) UpdateVariantStock(ctx context.Context, productID string, variant domain.Variant) error {
	set := bson.M{}
	if variant.Sale != nil {
		set["variants.$[v].sale.qty_available"] = variant.Sale.QtyAvailable
		set["variants.$[v].sale.is_on_sale"] = variant.Sale.IsOnSale
	}
	if variant.Rental != nil {
		set["variants.$[v].rental.qty_available"] = variant.Rental.QtyAvailable
	}
	if len(set) == 0 {
		return nil
	}

	filter := bson.M{
		"product_id":          productID,
		"variants.variant_id": variant.VariantID,
	}
	arrayFilters := options.Update().SetArrayFilters(options.ArrayFilters{
		Filters: []interface{}{
			bson.M{"v.variant_id": variant.VariantID},
		},
	})

	result, err := m.products.UpdateOne(ctx, filter, bson.M{"$set": set}, arrayFilters)
	if err != nil {
		return fmt.Errorf("failed to update variant stock: %w", err)
	}

	if result.MatchedCount == 0 {
		return domain.ErrVariantNotFound
	}
	return nil
}

func (m *mongoRepository) CreateIndexes(ctx context.Context) error {
	aggregateIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "aggregate_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}
	// No TTL index: carts hold sale and rental units, so expiry goes through
	// the sweeper, which hands them back before deleting.
	cartIndexes := append(aggregateIndexes, mongo.IndexModel{
		Keys: bson.D{{Key: "updated_at", Value: 1}},
	})
	productIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "product_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}

	if _, err := m.carts.Indexes().CreateMany(ctx, cartIndexes); err != nil {
		return fmt.Errorf("failed to create cart indexes: %w", err)
	}
	if _, err := m.orders.Indexes().CreateMany(ctx, aggregateIndexes); err != nil {
		return fmt.Errorf("failed to create order indexes: %w", err)
	}
	if _, err := m.products.Indexes().CreateMany(ctx, productIndexes); err != nil {
		return fmt.Errorf("failed to create product indexes: %w", err)
	}

	return nil
}

// IndexCreator is implemented by repositories that manage their own indexes.
type IndexCreator interface {
	CreateIndexes(ctx context.Context) error
}
