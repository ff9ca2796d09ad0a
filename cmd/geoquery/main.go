package main

import (
	"context"
	"log/slog"
	"os"

	"geoquery/config"
	"geoquery/internal/delivery"
	"geoquery/internal/delivery/api"
	"geoquery/internal/delivery/api/router/handler"
	logs "geoquery/internal/infra/log"
	"geoquery/internal/infra/pubsub"
	"geoquery/internal/infra/store"
	"geoquery/internal/usecase"
	"geoquery/internal/usecase/impl"

	"go.uber.org/fx"
)

type startServerParams struct {
	fx.In
	fx.Lifecycle

	Deliveries []delivery.Delivery `group:"deliveries"`
}

func main() {
	fx.New(
		injectInfra(),
		injectUsecase(),
		injectDelivery(),
		injectHandler(),
		fx.Invoke(
			startWatches,
			startServer,
		),
	).Run()
}

func injectInfra() fx.Option {
	return fx.Options(
		fx.Provide(
			config.New,
			logs.New,
			context.Background,
		),
		store.Module,
		pubsub.Module,
	)
}

func injectUsecase() fx.Option {
	return fx.Options(
		fx.Provide(
			impl.NewLocationService,
			impl.NewQueryService,
			impl.NewWatchService,
		),
	)
}

func injectHandler() fx.Option {
	return fx.Options(
		fx.Provide(
			handler.NewLocationHandler,
			handler.NewWatchHandler,
			handler.NewStreamHandler,
		),
	)
}

func injectDelivery() fx.Option {
	return fx.Options(
		fx.Provide(
			fx.Annotate(
				api.NewServer,
				fx.ResultTags(`group:"deliveries"`),
			),
		),
	)
}

// startWatches runs the configured standing queries for the app's lifetime.
// They stop before the publisher and the store close.
func startWatches(lc fx.Lifecycle, watches usecase.WatchUsecase) {
	lc.Append(fx.Hook{
		OnStart: watches.Start,
		OnStop:  watches.Stop,
	})
}

func startServer(ctx context.Context, params startServerParams) {
	for _, delivery := range params.Deliveries {
		go func() {
			if err := delivery.Serve(ctx); err != nil {
				slog.Error("Failed to start server", slog.Any("error", err))
				os.Exit(1)
			}
		}()
	}
}
