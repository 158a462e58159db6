package database

import (
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var schema embed.FS

// ErrDirtySchema means a previous migration failed half way and needs an operator.
var ErrDirtySchema = errors.New("ledger schema is dirty")

// migrateLogger routes golang-migrate progress into zap.
type migrateLogger struct {
	logger *zap.Logger
}

func (l migrateLogger) Printf(format string, v ...any) {
	l.logger.Debug("migrate", zap.String("msg", strings.TrimSpace(fmt.Sprintf(format, v...))))
}

func (l migrateLogger) Verbose() bool { return false }

// RunMigrations brings the ledger schema on the primary to the latest version.
// primaryDSN has no protocol prefix, matching Config.PrimaryDSN.
func RunMigrations(logger *zap.Logger, primaryDSN string) error {
	src, err := iofs.New(schema, "migrations")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, "pgx5://"+primaryDSN)
	if err != nil {
		return fmt.Errorf("migration target: %w", err)
	}
	defer func() { _, _ = m.Close() }()
	m.Log = migrateLogger{logger: logger}

	if version, dirty, err := m.Version(); err == nil && dirty {
		return fmt.Errorf("%w at version %d", ErrDirtySchema, version)
	}

	err = m.Up()
	switch {
	case errors.Is(err, migrate.ErrNoChange):
		logger.Info("ledger_schema_up_to_date")
		return nil
	case err != nil:
		return fmt.Errorf("apply migrations: %w", err)
	}

	version, _, err := m.Version()
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	logger.Info("ledger_schema_migrated", zap.Uint("version", version))
	return nil
}
