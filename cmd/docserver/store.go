package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/gogotex/revdoc/handlers"
	"github.com/gogotex/revdoc/internal/config"
	"github.com/gogotex/revdoc/internal/database"
	"github.com/gogotex/revdoc/internal/document/repository"
	"github.com/gogotex/revdoc/pkg/logger"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"
)

// store is the opened repository plus what is needed to check and close it.
type store struct {
	repo  repository.Repository
	check handlers.Check
	close func(ctx context.Context) error
}

func noClose(context.Context) error { return nil }

func openStore(ctx context.Context, cfg *config.Config, rdb *redis.Client) (*store, error) {
	switch cfg.Store.Backend {
	case config.StoreMongo:
		client, err := database.ConnectMongoRetry(ctx, cfg.MongoDB.URI, cfg.MongoDB.Timeout, 5)
		if err != nil {
			return nil, err
		}
		logger.Infof("using MongoDB store (database %s)", cfg.MongoDB.Database)
		return &store{
			repo:  repository.NewMongoRepo(client.Database(cfg.MongoDB.Database)),
			check: func(ctx context.Context) error { return client.Ping(ctx, nil) },
			close: client.Disconnect,
		}, nil

	case config.StoreRedis:
		if rdb == nil {
			return nil, fmt.Errorf("redis store selected but no redis client")
		}
		logger.Infof("using Redis store at %s", cfg.Redis.Addr())
		return &store{
			repo:  repository.NewRedisRepository(rdb, cfg.Redis.Prefix),
			check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
			close: noClose,
		}, nil

	case config.StorePostgres, config.StoreSQLite:
		driver, dialect := "postgres", repository.Postgres
		if cfg.Store.Backend == config.StoreSQLite {
			driver, dialect = "sqlite", repository.SQLite
		}
		db, err := sql.Open(driver, cfg.SQL.DSN)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", driver, err)
		}
		if dialect == repository.SQLite {
			// one writer at a time
			db.SetMaxOpenConns(1)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ping %s: %w", driver, err)
		}
		repo := repository.NewSQLRepo(db, dialect, cfg.SQL.TablePrefix)
		if err := repo.CreateTables(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		logger.Infof("using %s store", driver)
		return &store{
			repo:  repo,
			check: db.PingContext,
			close: func(context.Context) error { return db.Close() },
		}, nil
	}

	logger.Warnf("using in-memory store; documents are lost on restart")
	return &store{
		repo:  repository.NewMemoryRepo(),
		check: func(context.Context) error { return nil },
		close: noClose,
	}, nil
}
