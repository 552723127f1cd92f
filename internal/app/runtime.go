package app

import (
	"context"
	"fmt"
	"io"

	"github.com/joho/godotenv"

	"github.com/mostafizurRahaman/donation-app-server/pkg/config"
	"github.com/mostafizurRahaman/donation-app-server/pkg/db"
	"github.com/mostafizurRahaman/donation-app-server/pkg/logger"
	"github.com/mostafizurRahaman/donation-app-server/pkg/migrate"
	"github.com/mostafizurRahaman/donation-app-server/pkg/redis"
)

// LoadConfig reads .env when present, loads config and returns a logger
// configured for the binary named kind. The returned logger is usable even
// when err is non-nil.
func LoadConfig(kind string) (*config.Config, *logger.Logger, error) {
	logg := logger.New(logger.Options{ServiceName: kind})
	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, logg, err
	}
	cfg.Service.Kind = kind

	return cfg, logger.New(logger.Options{
		ServiceName: kind,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	}), nil
}

type closer struct {
	name string
	c    io.Closer
}

// Runtime owns the connections a binary opens. Close releases them in
// reverse order.
type Runtime struct {
	Config *config.Config
	Logger *logger.Logger
	DB     *db.Client

	closers []closer
}

// Start opens the database and applies migrations when the dev auto-run
// flag is set.
func Start(ctx context.Context, cfg *config.Config, logg *logger.Logger) (*Runtime, error) {
	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return nil, fmt.Errorf("bootstrap database: %w", err)
	}
	rt := &Runtime{Config: cfg, Logger: logg, DB: dbClient}
	rt.Track("database", dbClient)

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		rt.Close()
		return nil, fmt.Errorf("dev migrations: %w", err)
	}
	return rt, nil
}

// ConnectRedis opens the payout-status cache and ties it to the runtime.
func (r *Runtime) ConnectRedis(ctx context.Context) (*redis.Client, error) {
	client, err := redis.New(ctx, r.Config.Redis, r.Logger)
	if err != nil {
		return nil, fmt.Errorf("bootstrap redis: %w", err)
	}
	r.Track("redis", client)
	return client, nil
}

// Track registers c to be closed by Close.
func (r *Runtime) Track(name string, c io.Closer) {
	r.closers = append(r.closers, closer{name: name, c: c})
}

func (r *Runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		entry := r.closers[i]
		if err := entry.c.Close(); err != nil && r.Logger != nil {
			r.Logger.Error(r.Logger.WithField(context.Background(), "resource", entry.name), "error closing resource", err)
		}
	}
	r.closers = nil
}
