package migrate

import (
	"context"
	"fmt"

	"github.com/mostafizurRahaman/donation-app-server/pkg/config"
	"github.com/mostafizurRahaman/donation-app-server/pkg/db"
	"github.com/mostafizurRahaman/donation-app-server/pkg/logger"
)

// MaybeRunDev applies the embedded migrations when running in dev with auto-migrate enabled.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if cfg == nil || !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}

	ctx = logg.WithField(ctx, "env", cfg.App.Env)
	m, err := New(client.SQL(), nil, logg)
	if err != nil {
		return fmt.Errorf("dev auto-migrate: %w", err)
	}
	logg.Info(ctx, "applying donation schema (dev auto-migrate)")
	return m.Up(ctx)
}
