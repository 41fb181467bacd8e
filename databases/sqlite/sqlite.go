package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"

	_ "modernc.org/sqlite"
)

const DefaultDBFile string = "ai_cogs.sqlite"

//go:embed migrations/*.sql
var migrationFiles embed.FS

type Config struct {
	// Path of the database file. Defaults to DefaultDBFile in the working directory.
	Path   string
	Logger *zap.Logger
}

// New opens the database at cfg.Path, creating it if needed, and applies any
// pending migrations before returning the connection.
func New(ctx context.Context, cfg Config) (*sql.DB, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	filename, err := DBFilename(cfg.Path)
	if err != nil {
		return nil, err
	}

	err = touchDBFile(filename)
	if err != nil {
		return nil, err
	}

	// the migrate driver takes ownership of the connection it is handed and
	// closes it, so migrations run on their own connection
	err = migrateUp(filename, logger)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return nil, err
	}

	// sqlite allows a single writer
	db.SetMaxOpenConns(1)

	err = db.PingContext(ctx)
	if err != nil {
		db.Close()

		return nil, err
	}

	return db, nil
}

func migrateUp(filename string, logger *zap.Logger) error {
	migrationDB, err := sql.Open("sqlite", filename)
	if err != nil {
		return err
	}

	driver, err := migratesqlite.WithInstance(migrationDB, &migratesqlite.Config{})
	if err != nil {
		migrationDB.Close()

		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		driver.Close()

		return fmt.Errorf("failed to open migration files: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		driver.Close()

		return fmt.Errorf("failed to create migrator: %w", err)
	}

	defer m.Close()

	currentVersion, _, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return err
	}

	logger.Info("Running database migrations", zap.Uint("current_version", currentVersion))

	err = m.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	newVersion, _, err := m.Version()
	if err != nil {
		return err
	}

	logger.Info("Database is up to date", zap.Uint("version", newVersion))

	return nil
}

func DBFilename(path string) (string, error) {
	if path != "" {
		return filepath.Abs(path)
	}

	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	return filepath.Join(dir, DefaultDBFile), nil
}

func touchDBFile(filename string) error {
	_, err := os.Stat(filename)
	if os.IsNotExist(err) {
		file, createErr := os.Create(filename)
		if createErr != nil {
			return createErr
		}

		closeErr := file.Close()
		if closeErr != nil {
			return closeErr
		}
	}

	return nil
}
