// Package database opens the gorm connection backing internal/play/history.
// Schema migration is owned by history.New, not by this package — the only
// thing a play server persists is session history.
package database

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/mantonx/playserver/internal/config"
	"github.com/mantonx/playserver/internal/logger"
)

var DB *gorm.DB

// Initialize opens the configured database connection and applies the
// connection pool settings from config.Get().Database.
func Initialize() error {
	cfg := config.Get().Database

	var db *gorm.DB
	var err error

	switch cfg.Type {
	case "postgres":
		db, err = connectPostgres(cfg)
	case "sqlite":
		db, err = connectSQLite(cfg)
	default:
		return fmt.Errorf("database: unsupported type %q", cfg.Type)
	}
	if err != nil {
		return fmt.Errorf("database: connect: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("database: underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("database: ping: %w", err)
	}

	DB = db
	logger.Info("database: connected (%s)", cfg.Type)
	return nil
}

func connectPostgres(cfg config.DatabaseConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable TimeZone=UTC",
		cfg.Host, cfg.Username, cfg.Password, cfg.Database, cfg.Port)

	return gorm.Open(postgres.Open(dsn), gormConfig(cfg, 500))
}

func connectSQLite(cfg config.DatabaseConfig) (*gorm.DB, error) {
	dsn := cfg.DatabasePath + "?" +
		"cache=shared&" +
		"mode=rwc&" +
		"_journal_mode=WAL&" +
		"_synchronous=NORMAL&" +
		"_busy_timeout=30000&" +
		"_foreign_keys=ON"

	return gorm.Open(sqlite.Open(dsn), gormConfig(cfg, 200))
}

func gormConfig(cfg config.DatabaseConfig, batchSize int) *gorm.Config {
	level := gormlogger.Silent
	if cfg.LogQueries {
		level = gormlogger.Info
	}
	return &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(level),
		CreateBatchSize:        batchSize,
		NowFunc:                func() time.Time { return time.Now().UTC() },
		SkipDefaultTransaction: true,
		PrepareStmt:            true,
	}
}

// GetDB returns the database instance.
func GetDB() *gorm.DB {
	return DB
}

// HealthCheck pings the connection.
func HealthCheck() error {
	if DB == nil {
		return fmt.Errorf("database: not initialized")
	}
	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("database: underlying sql.DB: %w", err)
	}
	return sqlDB.Ping()
}
