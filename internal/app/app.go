// Package app assembles a catalog service from configuration. Both the
// daemon and the CLI open the forest through it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/systemshift/cattree/internal/catalog"
	"github.com/systemshift/cattree/internal/config"
	"github.com/systemshift/cattree/internal/lock"
	"github.com/systemshift/cattree/internal/store"
	"github.com/systemshift/cattree/internal/tree"
	"github.com/systemshift/cattree/internal/tree/closure"
	"github.com/systemshift/cattree/internal/tree/nestedset"
)

// App owns the resources behind one catalog service.
type App struct {
	Service *catalog.Service
	Store   store.Store
	Logger  *slog.Logger

	redis *redis.Client
}

// IndexFor returns the index implementation for kind.
func IndexFor(kind string) (tree.Index, error) {
	switch tree.Kind(kind) {
	case tree.KindClosure:
		return closure.New(), nil
	case tree.KindNested:
		return nestedset.New(), nil
	}
	return nil, fmt.Errorf("unknown index %q (want closure or nested)", kind)
}

// Open connects the configured store and lock and builds the service.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	ix, err := IndexFor(cfg.Index)
	if err != nil {
		return nil, err
	}

	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	a := &App{Store: st, Logger: logger}

	opts := []catalog.Option{catalog.WithLogger(logger)}
	switch cfg.Lock.Driver {
	case "redis":
		a.redis = redis.NewClient(&redis.Options{Addr: cfg.Lock.Redis})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.Close(ctx)
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		var ropts []lock.RedisOption
		if cfg.Lock.TTL > 0 {
			ropts = append(ropts, lock.WithTTL(cfg.Lock.TTL))
		}
		opts = append(opts, catalog.WithLocker(lock.NewRedis(a.redis, ropts...)))
	default:
		opts = append(opts, catalog.WithLocker(lock.NewLocal()))
	}

	a.Service = catalog.New(st, ix, opts...)
	logger.Info("catalog opened",
		slog.String("index", cfg.Index),
		slog.String("store", cfg.Store.Driver),
		slog.String("lock", cfg.Lock.Driver),
	)
	return a, nil
}

func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case "neo4j":
		n, err := store.NewNeo4j(ctx, store.Neo4jConfig{
			URI:      cfg.Neo4j.URI,
			Username: cfg.Neo4j.Username,
			Password: cfg.Neo4j.Password,
			Database: cfg.Neo4j.Database,
		})
		if err != nil {
			return nil, err
		}
		if err := n.EnsureIndexes(ctx); err != nil {
			n.Close(ctx)
			return nil, err
		}
		return n, nil
	default:
		s, err := store.NewSQLite(ctx, cfg.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// Close releases the store and the lock client.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close(ctx))
	}
	return errors.Join(errs...)
}
