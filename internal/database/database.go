package database

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pixmora/backend/internal/config"
	"github.com/pixmora/backend/internal/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	db      *gorm.DB
	once    sync.Once
	initErr error
)

// Acquire returns the process-wide connection pool, opening it on first call.
// Concurrent first callers share a single initialization; business logic
// receives the handle through injection rather than calling this directly.
func Acquire(cfg *config.Config) (*gorm.DB, error) {
	once.Do(func() {
		db, initErr = open(cfg)
	})
	return db, initErr
}

func open(cfg *config.Config) (*gorm.DB, error) {
	gdb, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetMaxIdleConns(25)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)

	slog.Info("database connected")
	return gdb, nil
}

// Migrate runs AutoMigrate for the billing core models.
func Migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&models.User{},
		&models.Subscription{},
		&models.LedgerEntry{},
		&models.ProcessedEvent{},
		&models.CheckoutSession{},
		&models.SystemLog{},
	)
}

func Ping(gdb *gorm.DB) error {
	sqlDB, err := gdb.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// Close tears down the pool. Only main calls this, after the server stops.
func Close() error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
