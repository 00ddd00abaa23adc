package cli

import (
	"context"
	"os"

	"github.com/fjod/go_cart/cart-engine/internal/cache"
	"github.com/fjod/go_cart/cart-engine/internal/config"
	"github.com/fjod/go_cart/cart-engine/internal/logger"
	"github.com/fjod/go_cart/cart-engine/internal/repository"
	"github.com/fjod/go_cart/cart-engine/internal/service"
	"github.com/redis/go-redis/v9"
)

// OpenApp connects to MongoDB and Redis and builds the cart service.
func OpenApp(ctx context.Context, envFile string) (*App, error) {
	var envFiles []string
	if envFile != "" {
		envFiles = append(envFiles, envFile)
	}
	cfg, err := config.Load(envFiles...)
	if err != nil {
		return nil, err
	}

	log, err := logger.New(cfg.LogLevel, os.Stderr)
	if err != nil {
		return nil, err
	}

	mongoDB, err := repository.Connect(ctx, cfg.MongoURI, cfg.MongoDBName)
	if err != nil {
		return nil, err
	}
	repo := repository.NewMongoRepository(mongoDB)
	if ic, ok := repo.(repository.IndexCreator); ok {
		if err := ic.CreateIndexes(ctx); err != nil {
			_ = mongoDB.Client().Disconnect(ctx)
			return nil, err
		}
	}
	log.WithField("database", cfg.MongoDBName).Debug("connected to MongoDB")

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       0,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		// the breaker keeps requests on the repository while Redis is away
		log.WithError(err).Warn("redis ping failed")
	}

	aggCache := cache.NewBreakerCache(
		cache.NewRedisCache(redisClient, cfg.CacheTTL),
		cache.BreakerSettings{ConsecutiveFailures: cfg.BreakerFailures, OpenTimeout: cfg.BreakerTimeout},
		log,
	)
	svc := service.NewCartService(repo, aggCache, log)

	return &App{
		Config:   cfg,
		Log:      log,
		Engine:   svc,
		Checkout: svc,
		Expirer:  svc,
		Close: func() {
			if err := redisClient.Close(); err != nil {
				log.WithError(err).Warn("redis close failed")
			}
			if err := mongoDB.Client().Disconnect(context.Background()); err != nil {
				log.WithError(err).Warn("mongo disconnect failed")
			}
		},
	}, nil
}
