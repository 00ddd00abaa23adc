package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// ErrNoTransactions is returned when the deployment is a standalone server.
// Every mutation runs in a multi-document transaction, which needs a replica
// set or a sharded cluster.
var ErrNoTransactions = errors.New("mongodb deployment does not support transactions")

const appName = "cart-engine"

// Connect opens a client that encodes money as Decimal128 and returns the
// named database once the primary answers and transactions are available.
func Connect(ctx context.Context, uri, database string) (*mongo.Database, error) {
	clientOpts := options.Client().
		ApplyURI(uri).
		SetAppName(appName).
		SetRegistry(NewRegistry()).
		SetRetryWrites(true).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(5 * time.Second).
		SetMaxPoolSize(100).
		SetMinPoolSize(10)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := checkDeployment(ctx, client); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return client.Database(database), nil
}

func checkDeployment(ctx context.Context, client *mongo.Client) error {
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("failed to ping MongoDB primary: %w", err)
	}

	var hello struct {
		SetName string `bson:"setName"`
		Msg     string `bson:"msg"`
	}
	err := client.Database("admin").RunCommand(ctx, bson.D{{Key: "hello", Value: 1}}).Decode(&hello)
	if err != nil {
		return fmt.Errorf("failed to describe MongoDB deployment: %w", err)
	}
	// mongos answers with msg "isdbgrid"
	if hello.SetName == "" && hello.Msg != "isdbgrid" {
		return ErrNoTransactions
	}
	return nil
}
