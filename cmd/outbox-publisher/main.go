package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mostafizurRahaman/donation-app-server/internal/app"
	"github.com/mostafizurRahaman/donation-app-server/pkg/config"
	"github.com/mostafizurRahaman/donation-app-server/pkg/logger"
	"github.com/mostafizurRahaman/donation-app-server/pkg/outbox"
	"github.com/mostafizurRahaman/donation-app-server/pkg/outbox/registry"
	"github.com/mostafizurRahaman/donation-app-server/pkg/pubsub"
)

const serviceKind = "outbox-publisher"

func main() {
	cfg, logg, err := app.LoadConfig(serviceKind)
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "serviceKind": serviceKind})

	if err := run(ctx, cfg, logg); err != nil {
		logg.Error(ctx, "outbox publisher stopped unexpectedly", err)
		stop()
		os.Exit(1)
	}
	logg.Info(ctx, "outbox publisher shut down gracefully")
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) error {
	eventRegistry, err := registry.NewEventRegistry(cfg.PubSub)
	if err != nil {
		return fmt.Errorf("build event registry: %w", err)
	}

	rt, err := app.Start(ctx, cfg, logg)
	if err != nil {
		return err
	}
	defer rt.Close()

	bus, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		return fmt.Errorf("bootstrap pubsub: %w", err)
	}
	rt.Track("pubsub", bus)

	publisher, err := NewService(ServiceParams{
		Config:     cfg,
		Logger:     logg,
		DB:         rt.DB,
		Bus:        bus,
		Repository: outbox.NewRepository(rt.DB.DB()),
		Registry:   eventRegistry,
	})
	if err != nil {
		return fmt.Errorf("create outbox publisher: %w", err)
	}

	logg.Info(ctx, "starting outbox publisher")
	if err := publisher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
