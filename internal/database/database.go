// Package database manages the gorm connection of the SQL sink.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/glebarez/sqlite"
	"github.com/progeek/gpsd-influxdb/internal/config"
	"github.com/progeek/gpsd-influxdb/internal/model"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Dialect names as reported by gorm.
const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

var sqlitePragmas = []string{
	"PRAGMA user_version = 1;",
	"PRAGMA journal_mode = WAL;",
	"PRAGMA synchronous = NORMAL;",
	"PRAGMA cache_size = -8000;",
	"PRAGMA temp_store = MEMORY;",
	"PRAGMA foreign_keys = ON;",
}

// Manager handles database connections.
type Manager struct {
	DB     *gorm.DB
	SqlDB  *sql.DB
	cfg    config.DBConfig
	logger zerolog.Logger
}

// NewManager creates a new database manager.
func NewManager(log zerolog.Logger, cfg config.DBConfig) *Manager {
	return &Manager{cfg: cfg, logger: log}
}

// Connect opens the configured database. A Postgres database that cannot
// be opened or pinged is replaced by the local SQLite file.
func (m *Manager) Connect(ctx context.Context) error {
	if m.cfg.Type == DialectSQLite {
		return m.useSQLite()
	}

	db, err := m.openPostgres()
	if err == nil {
		m.DB = db
		m.SqlDB, err = db.DB()
		if err == nil {
			err = m.SqlDB.PingContext(ctx)
		}
	}
	if err != nil {
		m.logger.Error().Err(err).Str("host", m.cfg.Host).
			Msg("Failed to connect to Postgres DB, trying SQLite")
		if m.SqlDB != nil {
			m.SqlDB.Close()
		}
		return m.useSQLite()
	}

	m.SqlDB.SetMaxOpenConns(10)
	m.logger.Info().Str("host", m.cfg.Host).Str("database", m.cfg.Database).Msg("Connected to Postgres")
	return nil
}

func (m *Manager) useSQLite() error {
	db, err := OpenSQLite(m.cfg.SQLitePath)
	if err != nil {
		return fmt.Errorf("failed to get local SQLite DB: %w", err)
	}
	m.DB = db
	m.SqlDB, err = db.DB()
	if err != nil {
		return fmt.Errorf("failed to access sql interface: %w", err)
	}
	// a single writer avoids SQLITE_BUSY
	m.SqlDB.SetMaxOpenConns(1)
	m.logger.Info().Str("path", m.cfg.SQLitePath).Msg("Using local SQLite DB")
	return nil
}

func (m *Manager) openPostgres() (*gorm.DB, error) {
	dsn := fmt.Sprintf(`host=%s port=%s user=%s password=%s dbname=%s sslmode=disable`,
		m.cfg.Host, m.cfg.Port, m.cfg.Username, m.cfg.Password, m.cfg.Database)

	m.logger.Debug().Str("host", m.cfg.Host).Str("port", m.cfg.Port).Msg("Connecting to Postgres DB")

	return gorm.Open(postgres.New(postgres.Config{
		DSN:                  dsn,
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		SkipDefaultTransaction: true,
		CreateBatchSize:        1000,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
}

// OpenSQLite opens the SQLite file at path and applies the pragmas. An
// empty path opens a private in-memory database.
func OpenSQLite(path string) (*gorm.DB, error) {
	dsn := path
	if dsn == "" {
		dsn = ":memory:"
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		PrepareStmt:            true,
		SkipDefaultTransaction: true,
		CreateBatchSize:        500,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	for _, pragma := range sqlitePragmas {
		if err := db.Exec(pragma).Error; err != nil {
			return nil, fmt.Errorf("error setting PRAGMA: %w", err)
		}
	}
	return db, nil
}

// Dialect returns the name of the connected dialect.
func (m *Manager) Dialect() string {
	if m.DB == nil {
		return ""
	}
	return m.DB.Dialector.Name()
}

// Setup migrates the schema.
func (m *Manager) Setup() error {
	if m.DB == nil {
		return errors.New("database not connected")
	}
	m.logger.Info().Str("dialect", m.Dialect()).Msg("Migrating schema")
	if err := m.DB.AutoMigrate(model.DatabaseModels...); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	m.logger.Info().Msg("Database setup complete")
	return nil
}

// Close closes the underlying connection pool.
func (m *Manager) Close() error {
	if m.SqlDB == nil {
		return nil
	}
	err := m.SqlDB.Close()
	m.DB, m.SqlDB = nil, nil
	return err
}
