package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/example/wifi-portal/internal/common"
)

// Open builds the store selected by cfg.StoreDriver and waits for its backing
// service to answer.
func Open(ctx context.Context, cfg *common.Config, logger zerolog.Logger) (Store, error) {
	switch cfg.StoreDriver {
	case "memory":
		return NewMemory(cfg.CodeTTL), nil

	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL must be provided for the postgres store")
		}
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		s, err := NewPostgres(pool, cfg.CodeTTL)
		if err != nil {
			pool.Close()
			return nil, err
		}
		if err := common.RetryConnect(ctx, logger, "postgres", s.Ping); err != nil {
			pool.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		if err := s.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return s, nil

	case "redis":
		client, err := NewRedisClient(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		s, err := NewRedis(client, cfg.CodeTTL)
		if err != nil {
			return nil, err
		}
		if err := common.RetryConnect(ctx, logger, "redis", s.Ping); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		return s, nil

	case "mongo":
		client, err := ConnectMongo(ctx, cfg.MongoURL)
		if err != nil {
			return nil, err
		}
		s, err := newMongoOwned(ctx, client, cfg.MongoDatabase, cfg.CodeTTL)
		if err != nil {
			return nil, err
		}
		if err := common.RetryConnect(ctx, logger, "mongo", s.Ping); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("ping mongo: %w", err)
		}
		if cfg.CodeTTL > 0 {
			if err := s.EnsureIndexes(ctx); err != nil {
				_ = s.Close()
				return nil, err
			}
		}
		return s, nil

	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
}
