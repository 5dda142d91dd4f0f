package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"
	"github.com/xraph/grove/drivers/pgdriver"
	"github.com/xraph/grove/drivers/sqlitedriver"
	"github.com/xraph/grove/kv"
	"github.com/xraph/grove/kv/drivers/redisdriver"

	"github.com/ipflow/relay"
	"github.com/ipflow/relay/catalog"
	"github.com/ipflow/relay/internal/config"
	"github.com/ipflow/relay/internal/logging"
	"github.com/ipflow/relay/ratelimit"
	"github.com/ipflow/relay/store"
	"github.com/ipflow/relay/store/memory"
	"github.com/ipflow/relay/store/mongo"
	"github.com/ipflow/relay/store/postgres"
	redisstore "github.com/ipflow/relay/store/redis"
	"github.com/ipflow/relay/store/sqlite"
)

// backend is an opened store plus the rate-limit window paired with it.
// window is nil when the store serves as its own window.
type backend struct {
	store  store.Store
	window ratelimit.Store
	closer []func() error
}

func (b *backend) Close() error {
	var errs []error
	for i := len(b.closer) - 1; i >= 0; i-- {
		errs = append(errs, b.closer[i]())
	}
	return errors.Join(errs...)
}

// openBackend connects the store named by cfg.Store. SQL and document
// stores have no atomic window of their own, so they share the Redis window
// when a Redis URL is configured and fall back to the in-process one.
func openBackend(ctx context.Context, cfg config.Config, logger *slog.Logger) (*backend, error) {
	b := &backend{}

	switch cfg.Store {
	case config.StoreMemory:
		b.store = memory.New()

	case config.StoreRedis:
		kvs, err := openKV(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		b.store = redisstore.New(kvs)

	case config.StorePostgres, config.StoreSQLite, config.StoreMongo:
		db, err := openGrove(ctx, cfg)
		if err != nil {
			return nil, err
		}
		switch cfg.Store {
		case config.StorePostgres:
			b.store = postgres.New(db)
		case config.StoreSQLite:
			b.store = sqlite.New(db)
		default:
			b.store = mongo.New(db)
		}

		if cfg.RedisURL != "" {
			kvs, err := openKV(ctx, cfg.RedisURL)
			if err != nil {
				_ = b.store.Close()
				return nil, err
			}
			window := redisstore.New(kvs)
			b.window = window
			b.closer = append(b.closer, window.Close)
		} else {
			logger.WarnContext(ctx, "no redis url configured, rate limits are per process",
				"store", cfg.Store,
			)
		}

	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}

	b.closer = append([]func() error{b.store.Close}, b.closer...)

	if err := b.store.Ping(ctx); err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("ping %s store: %w", cfg.Store, err)
	}
	return b, nil
}

func openGrove(ctx context.Context, cfg config.Config) (*grove.DB, error) {
	var (
		db  *grove.DB
		err error
	)
	switch cfg.Store {
	case config.StorePostgres:
		pg := pgdriver.New()
		if err = pg.Open(ctx, cfg.DatabaseURL); err == nil {
			db, err = grove.Open(pg)
		}
	case config.StoreSQLite:
		sl := sqlitedriver.New()
		if err = sl.Open(ctx, cfg.SQLitePath); err == nil {
			db, err = grove.Open(sl)
		}
	case config.StoreMongo:
		md := mongodriver.New()
		if err = md.Open(ctx, cfg.MongoURI); err == nil {
			db, err = grove.Open(md)
		}
	default:
		err = fmt.Errorf("store %q is not a grove database", cfg.Store)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Store, err)
	}
	return db, nil
}

func openKV(ctx context.Context, url string) (*kv.Store, error) {
	rd := redisdriver.New()
	if err := rd.Open(ctx, url); err != nil {
		return nil, fmt.Errorf("open redis: %w", err)
	}
	kvs, err := kv.Open(rd)
	if err != nil {
		return nil, fmt.Errorf("kv open: %w", err)
	}
	return kvs, nil
}

// bootstrap loads config, builds the logger and opens the backend. The
// returned cleanup closes everything in reverse order.
func bootstrap(ctx context.Context, configPath string) (config.Config, *slog.Logger, *backend, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, nil, nil, nil, err
	}

	logger, flush, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return config.Config{}, nil, nil, nil, err
	}

	b, err := openBackend(ctx, cfg, logger)
	if err != nil {
		flush()
		return config.Config{}, nil, nil, nil, err
	}

	cleanup := func() {
		if err := b.Close(); err != nil {
			logger.Error("close store", "error", err)
		}
		flush()
	}
	return cfg, logger, b, cleanup, nil
}

// relayOptions maps the backend and config onto relay options.
func relayOptions(cfg config.Config, logger *slog.Logger, b *backend) []relay.Option {
	opts := []relay.Option{
		relay.WithStore(b.store),
		relay.WithLogger(logger),
		relay.WithConfig(cfg.Relay()),
		relay.WithCatalog(catalog.Default()),
	}
	if b.window != nil {
		opts = append(opts, relay.WithRateLimitStore(b.window))
	}
	return opts
}
