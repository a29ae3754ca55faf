package db

import (
	"context"
	"fmt"
	"time"

	"defeatthememe-backend/internal/metrics"
	"defeatthememe-backend/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects to PostgreSQL and migrates the audit tables.
func Open(dsn string, log *logrus.Entry) (*gorm.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database DSN is required")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		PrepareStmt:            true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		metrics.DBConnectionStatus.Set(0)
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	if err := db.AutoMigrate(&models.RelayAttempt{}); err != nil {
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	metrics.DBConnectionStatus.Set(1)
	log.Info("✅ Database connected and migrated")
	return db, nil
}

// Ping reports database health.
func Ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		metrics.DBConnectionStatus.Set(0)
		return err
	}
	metrics.DBConnectionStatus.Set(1)
	return nil
}
