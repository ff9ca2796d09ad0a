// Package store selects the backing location store from configuration.
package store

import (
	"context"
	"log/slog"

	"geoquery/config"
	"geoquery/internal/domain/constants"
	"geoquery/internal/domain/service"
	"geoquery/internal/infra/store/memory"
	"geoquery/internal/infra/store/redisstore"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

// Params holds dependencies for the LocationStore, injected by Fx
type Params struct {
	fx.In

	Lc     fx.Lifecycle
	Config *config.Config
	Logger *slog.Logger
}

// NewLocationStore creates the LocationStore named by store.driver
func NewLocationStore(params Params) (service.LocationStore, error) {
	cfg := params.Config.Store
	logger := params.Logger

	driver := constants.StoreDriverMemory
	if cfg != nil && cfg.Driver != "" {
		driver = cfg.Driver
	}

	var store service.LocationStore
	var closers []func() error

	switch driver {
	case constants.StoreDriverMemory:
		logger.Info("Using in-memory location store")

		store = memory.New(logger)

	case constants.StoreDriverRedis:
		if cfg.Redis.Addr == "" {
			return nil, errors.New("redis address is required for redis driver")
		}
		logger.Info("Using redis location store",
			slog.String("addr", cfg.Redis.Addr),
			slog.Int("db", cfg.Redis.DB),
			slog.String("prefix", cfg.Redis.Prefix),
		)

		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		params.Lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				return errors.Wrap(client.Ping(ctx).Err(), "redis ping")
			},
		})

		store = redisstore.New(client, cfg.Redis.Prefix, logger)
		closers = append(closers, client.Close)

	default:
		return nil, errors.Errorf("unknown store driver: %s", driver)
	}

	params.Lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			logger.Info("Closing location store")

			err := store.Close()
			for _, closeFn := range closers {
				if cerr := closeFn(); cerr != nil && err == nil {
					err = cerr
				}
			}

			return errors.WithStack(err)
		},
	})

	return store, nil
}

func asRangeStore(store service.LocationStore) service.RangeStore {
	return store
}

func asLocationIndex(store service.LocationStore) service.LocationIndex {
	return store
}

// Module provides the location store FX module
//
//nolint:gochecknoglobals
var Module = fx.Options(
	fx.Provide(
		NewLocationStore,
		asRangeStore,
		asLocationIndex,
	),
)
