package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"strconv"

	"github.com/pressly/goose/v3"

	"github.com/mostafizurRahaman/donation-app-server/pkg/logger"
)

var errDBRequired = errors.New("migrate: sql db is required")

// Migrator applies the donation schema through a goose provider.
type Migrator struct {
	provider *goose.Provider
	logg     *logger.Logger
}

// New builds a Migrator over fsys. A nil fsys selects the embedded migrations.
func New(db *sql.DB, fsys fs.FS, logg *logger.Logger) (*Migrator, error) {
	if db == nil {
		return nil, errDBRequired
	}
	if fsys == nil {
		fsys = Files()
	}
	if logg == nil {
		logg = logger.Nop()
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return nil, fmt.Errorf("goose provider: %w", err)
	}
	return &Migrator{provider: provider, logg: logg}, nil
}

// Up applies every pending migration.
func (m *Migrator) Up(ctx context.Context) error {
	results, err := m.provider.Up(ctx)
	m.report(ctx, results...)
	if err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

// Down rolls back the most recent migration.
func (m *Migrator) Down(ctx context.Context) error {
	result, err := m.provider.Down(ctx)
	m.report(ctx, result)
	if err != nil {
		return fmt.Errorf("goose down: %w", err)
	}
	return nil
}

// Redo rolls back the most recent migration and applies it again.
func (m *Migrator) Redo(ctx context.Context) error {
	if err := m.Down(ctx); err != nil {
		return err
	}
	result, err := m.provider.UpByOne(ctx)
	m.report(ctx, result)
	if err != nil {
		return fmt.Errorf("goose up-by-one: %w", err)
	}
	return nil
}

// To moves the schema up or down until the database sits at version (YYYYMMDDHHMMSS).
func (m *Migrator) To(ctx context.Context, version string) error {
	target, err := strconv.ParseInt(version, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid version %q (expected YYYYMMDDHHMMSS): %w", version, err)
	}

	current, err := m.provider.GetDBVersion(ctx)
	if err != nil {
		return fmt.Errorf("get db version: %w", err)
	}

	var results []*goose.MigrationResult
	switch {
	case current == target:
		m.logg.Info(ctx, fmt.Sprintf("schema already at version %d", target))
		return nil
	case current < target:
		results, err = m.provider.UpTo(ctx, target)
	default:
		results, err = m.provider.DownTo(ctx, target)
	}
	m.report(ctx, results...)
	if err != nil {
		return fmt.Errorf("goose migrate to %d: %w", target, err)
	}
	return nil
}

// Status logs every known migration with its applied state.
func (m *Migrator) Status(ctx context.Context) error {
	statuses, err := m.provider.Status(ctx)
	if err != nil {
		return fmt.Errorf("goose status: %w", err)
	}
	for _, st := range statuses {
		if st == nil || st.Source == nil {
			continue
		}
		fields := map[string]any{
			"version": st.Source.Version,
			"path":    st.Source.Path,
			"state":   string(st.State),
		}
		if !st.AppliedAt.IsZero() {
			fields["applied_at"] = st.AppliedAt
		}
		m.logg.Info(m.logg.WithFields(ctx, fields), "migration status")
	}
	return nil
}

func (m *Migrator) report(ctx context.Context, results ...*goose.MigrationResult) {
	for _, res := range results {
		if res == nil || res.Source == nil {
			continue
		}
		fctx := m.logg.WithFields(ctx, map[string]any{
			"version":     res.Source.Version,
			"path":        res.Source.Path,
			"direction":   res.Direction,
			"duration_ms": res.Duration.Milliseconds(),
		})
		if res.Error != nil {
			m.logg.Error(fctx, "migration failed", res.Error)
			continue
		}
		m.logg.Info(fctx, "migration applied")
	}
}
