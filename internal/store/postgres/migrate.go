package postgres

import (
	"database/sql"
	"embed"

	"github.com/cockroachdb/errors"
	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrator applies the embedded schema migrations.
type Migrator struct {
	migrate *migrate.Migrate
	logger  *zap.Logger
}

func NewMigrator(db *sql.DB, logger *zap.Logger) (*Migrator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return nil, errors.Wrap(err, "open embedded migrations")
	}
	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return nil, errors.Wrap(err, "create postgres migration driver")
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return nil, errors.Wrap(err, "create migrate instance")
	}
	return &Migrator{migrate: m, logger: logger.Named("migrate")}, nil
}

func (m *Migrator) Up() error {
	m.logger.Info("running migrations up")

	err := m.migrate.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		m.logger.Info("no migrations to apply")
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "migration up failed")
	}
	return m.logVersion()
}

// Down rolls back every migration.
func (m *Migrator) Down() error {
	m.logger.Info("running migrations down")

	err := m.migrate.Down()
	if errors.Is(err, migrate.ErrNoChange) {
		m.logger.Info("no migrations to roll back")
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "migration down failed")
	}
	m.logger.Info("all migrations rolled back")
	return nil
}

// Steps applies n migrations, negative n rolls back.
func (m *Migrator) Steps(n int) error {
	err := m.migrate.Steps(n)
	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "migration steps %d failed", n)
	}
	return m.logVersion()
}

// Force sets the recorded version without running migrations and clears
// the dirty flag.
func (m *Migrator) Force(version int) error {
	if err := m.migrate.Force(version); err != nil {
		return errors.Wrapf(err, "force version %d", version)
	}
	m.logger.Warn("migration version forced", zap.Int("version", version))
	return nil
}

// Close releases the migration connection and the underlying pool.
func (m *Migrator) Close() error {
	srcErr, dbErr := m.migrate.Close()
	return errors.CombineErrors(srcErr, dbErr)
}

func (m *Migrator) Version() (uint, bool, error) {
	version, dirty, err := m.migrate.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

func (m *Migrator) logVersion() error {
	version, dirty, err := m.Version()
	if err != nil {
		return errors.Wrap(err, "read migration version")
	}
	m.logger.Info("migrations completed", zap.Uint("version", version), zap.Bool("dirty", dirty))
	return nil
}

// Migrate brings the schema up to date on an open pool.
func Migrate(db *sql.DB, logger *zap.Logger) error {
	m, err := NewMigrator(db, logger)
	if err != nil {
		return err
	}
	return m.Up()
}
