package infra

import (
	"fmt"
	"log/slog"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	dbm "payledger/internal/models/db_models"
)

func InitPostgresql(cfg *Config) (*gorm.DB, error) {
	if cfg.PostgresURL == "" {
		return nil, fmt.Errorf("POSTGRES_URL is not set")
	}

	connectionPool, err := gorm.Open(postgres.Open(cfg.PostgresURL), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return connectionPool, nil
}

// Migrate creates or updates the ledger tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&dbm.Account{},
		&dbm.Order{},
		&dbm.Transaction{},
		&dbm.Payment{},
	)
}

func ClosePostgresql(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		slog.Error("error getting database instance", "error", err)
		return
	}

	if err := sqlDB.Close(); err != nil {
		slog.Error("error closing database connection", "error", err)
	} else {
		slog.Info("PostgreSQL database connection closed successfully")
	}
}
