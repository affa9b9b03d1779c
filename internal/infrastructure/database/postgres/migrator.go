package postgres

import (
	"embed"
	stderrors "errors"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/propelkit/experiments/internal/infrastructure/monitoring/logging"
	"github.com/propelkit/experiments/pkg/errors"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// newMigrator builds a migrate instance over the embedded migration files
// and the connection's pool.
func (c *Connection) newMigrator() (*migrate.Migrate, error) {
	source, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to load embedded migrations")
	}
	driver, err := migratepg.WithInstance(c.db, &migratepg.Config{})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to create migration driver")
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to create migrate instance")
	}
	return m, nil
}

// RunMigrations applies all pending schema migrations.  Called during
// startup; a schema that is already current is not an error.
func (c *Connection) RunMigrations() error {
	m, err := c.newMigrator()
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && !stderrors.Is(err, migrate.ErrNoChange) {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to run migrations")
	}

	version, dirty, err := m.Version()
	if err != nil && !stderrors.Is(err, migrate.ErrNilVersion) {
		c.logger.Warn("failed to read migration version", logging.Err(err))
		return nil
	}
	c.logger.Info("database migrations applied",
		logging.Int64("version", int64(version)),
		logging.Bool("dirty", dirty),
	)
	return nil
}

// MigrationStatus returns the current migration version and dirty flag.
// A database with no applied migrations reports version 0.
func (c *Connection) MigrationStatus() (version uint, dirty bool, err error) {
	m, merr := c.newMigrator()
	if merr != nil {
		return 0, false, merr
	}
	version, dirty, err = m.Version()
	if stderrors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to read migration version")
	}
	return version, dirty, nil
}
