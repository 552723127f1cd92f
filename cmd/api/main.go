package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mostafizurRahaman/donation-app-server/api/routes"
	"github.com/mostafizurRahaman/donation-app-server/internal/app"
	"github.com/mostafizurRahaman/donation-app-server/pkg/config"
	"github.com/mostafizurRahaman/donation-app-server/pkg/logger"
	"github.com/mostafizurRahaman/donation-app-server/pkg/metrics"
)

const (
	serviceKind       = "api"
	shutdownTimeout   = 15 * time.Second
	readHeaderTimeout = 10 * time.Second
)

func main() {
	cfg, logg, err := app.LoadConfig(serviceKind)
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logg); err != nil {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) error {
	rt, err := app.Start(ctx, cfg, logg)
	if err != nil {
		return err
	}
	defer rt.Close()

	redisClient, err := rt.ConnectRedis(ctx)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	if err := metrics.RegisterRuntime(registry, rt.DB.SQL(), "donations"); err != nil {
		return fmt.Errorf("register runtime metrics: %w", err)
	}
	services, err := app.Build(ctx, app.Params{
		Config:     cfg,
		Logger:     logg,
		DB:         rt.DB,
		Redis:      redisClient,
		Registerer: registry,
	})
	if err != nil {
		return err
	}

	addr := ":" + listenPort(cfg)
	ctx = logg.WithFields(ctx, map[string]any{
		"env":        cfg.App.Env,
		"addr":       addr,
		"instance":   instanceID(),
		"stripe_env": services.Stripe.Environment(),
	})

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.Dependencies{
			Logger:        logg,
			DB:            rt.DB,
			Redis:         redisClient,
			Gatherer:      registry,
			Donations:     services.Donations,
			Scheduled:     services.Scheduled,
			RoundUps:      services.RoundUps,
			StripeWebhook: services.Webhooks,
			StripeClient:  services.Stripe,
		}),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()
	logg.Info(ctx, "starting api server")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logg.Info(ctx, "shutting down api server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// listenPort prefers the platform-assigned PORT over configuration.
func listenPort(cfg *config.Config) string {
	if port := os.Getenv("PORT"); port != "" {
		return port
	}
	return cfg.App.Port
}

func instanceID() string {
	if id := os.Getenv("DYNO"); id != "" {
		return id
	}
	return "local"
}
