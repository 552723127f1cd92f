package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/mostafizurRahaman/donation-app-server/internal/app"
	"github.com/mostafizurRahaman/donation-app-server/pkg/config"
	"github.com/mostafizurRahaman/donation-app-server/pkg/db"
	"github.com/mostafizurRahaman/donation-app-server/pkg/logger"
	"github.com/mostafizurRahaman/donation-app-server/pkg/migrate"
)

type dbCommand func(m *migrate.Migrator, ctx context.Context) error

func main() {
	cmd := flag.String("cmd", "up", "migration command: up|down|redo|status|version|create|validate")
	dir := flag.String("dir", migrate.SourceDir, "migrations source directory (create/validate)")
	name := flag.String("name", "", "migration name (for create)")
	version := flag.String("version", "", "target version (YYYYMMDDHHMMSS) for -cmd=version")
	flag.Parse()

	// create and validate only touch the filesystem.
	switch *cmd {
	case "create":
		if *name == "" {
			exitf("missing -name for create")
		}
		path, err := migrate.NewSQLMigration(*dir, *name, time.Now())
		if err != nil {
			exitf("failed to create migration: %v", err)
		}
		fmt.Println("created migration:", path)
		return
	case "validate":
		if err := migrate.Validate(os.DirFS(*dir)); err != nil {
			exitf("migration validation failed: %v", err)
		}
		fmt.Println("migration validation passed")
		return
	}

	run, ok := commandFor(*cmd, *version)
	if !ok {
		exitf("unknown -cmd value: %s", *cmd)
	}

	cfg, logg, err := app.LoadConfig("migrate")
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	ctx := logg.WithFields(context.Background(), map[string]any{"env": cfg.App.Env, "cmd": *cmd})

	if err := migrateDB(ctx, cfg, logg, run); err != nil {
		logg.Error(ctx, "migration command failed", err)
		os.Exit(1)
	}
	logg.Info(ctx, "migration command completed")
}

// migrateDB opens a pool without the dev auto-run so down and redo see the
// schema as it is.
func migrateDB(ctx context.Context, cfg *config.Config, logg *logger.Logger, run dbCommand) error {
	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("bootstrap database: %w", err)
	}
	defer dbClient.Close()

	migrator, err := migrate.New(dbClient.SQL(), nil, logg)
	if err != nil {
		return err
	}
	return run(migrator, ctx)
}

// commandFor resolves the database-backed commands. Method expressions take
// the receiver first.
func commandFor(name, version string) (dbCommand, bool) {
	commands := map[string]dbCommand{
		"up":     (*migrate.Migrator).Up,
		"down":   (*migrate.Migrator).Down,
		"redo":   (*migrate.Migrator).Redo,
		"status": (*migrate.Migrator).Status,
		"version": func(m *migrate.Migrator, ctx context.Context) error {
			if version == "" {
				return fmt.Errorf("missing -version for version command")
			}
			return m.To(ctx, version)
		},
	}
	run, ok := commands[name]
	return run, ok
}

func exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
