package repository

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"appmarket/internal/config"
	"appmarket/internal/logger"
)

// Connect подключается к базе, создавая ее при первом запуске, и повторяет
// попытки, пока Postgres поднимается вместе с сервисом
func Connect(conf config.DatabaseConfig, maxAttempts int, delay time.Duration) (*sqlx.DB, error) {
	log := logger.Component("db")

	// Сначала подключаемся к системной базе postgres, которая всегда существует
	sys := conf
	sys.Name = "postgres"

	var db *sqlx.DB
	var err error

	for i := 0; i < maxAttempts; i++ {
		if err = ensureDatabase(sys.GetDSN(), conf.Name); err == nil {
			db, err = sqlx.Connect("postgres", conf.GetDSN())
			if err == nil {
				db.SetMaxOpenConns(25)
				db.SetMaxIdleConns(5)
				db.SetConnMaxLifetime(30 * time.Minute)
				return db, nil
			}
		}

		log.Warn().Err(err).Int("attempt", i+1).Int("max", maxAttempts).Msg("failed to connect to database")
		time.Sleep(delay)
	}

	return nil, fmt.Errorf("failed to connect after %d attempts: %w", maxAttempts, err)
}

func ensureDatabase(systemDSN, name string) error {
	pgDB, err := sqlx.Connect("postgres", systemDSN)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres database: %w", err)
	}
	defer pgDB.Close()

	var exists bool
	if err := pgDB.Get(&exists, "SELECT EXISTS(SELECT datname FROM pg_catalog.pg_database WHERE datname = $1)", name); err != nil {
		return fmt.Errorf("failed to check database existence: %w", err)
	}
	if exists {
		return nil
	}

	logger.Logger.Info().Str("database", name).Msg("database does not exist, creating")
	if _, err := pgDB.Exec("CREATE DATABASE " + pq.QuoteIdentifier(name)); err != nil {
		return fmt.Errorf("failed to create database: %w", err)
	}
	return nil
}

// RunMigrations применяет миграции; грязное состояние сбрасывается на текущую версию
func RunMigrations(sourceURL, databaseURL string) error {
	log := logger.Component("migrate")

	var m *migrate.Migrate
	var err error

	for i := 0; i < 5; i++ {
		m, err = migrate.New(sourceURL, databaseURL)
		if err == nil {
			break
		}
		log.Warn().Err(err).Int("attempt", i+1).Msg("failed to create migrate instance")
		time.Sleep(5 * time.Second)
	}
	if err != nil {
		return fmt.Errorf("failed to create migrate instance after retries: %w", err)
	}
	defer m.Close()

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	if dirty {
		log.Warn().Uint("version", version).Msg("found dirty database state, forcing version")
		if err := m.Force(int(version)); err != nil {
			return fmt.Errorf("failed to force version: %w", err)
		}
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}
