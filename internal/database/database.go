// Package database opens and migrates the gorm connection used by gormstore.
package database

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/Aidin1998/barterex/internal/config"
	"github.com/Aidin1998/barterex/pkg/models"
)

// Open connects to the configured driver and applies pool settings.
func Open(cfg config.DatabaseConfig, logger *zap.Logger) (*gorm.DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	level := gormLogLevel(cfg.LogLevel)

	var (
		db  *gorm.DB
		err error
	)
	switch cfg.Driver {
	case config.DriverPostgres:
		db, err = NewPostgresDB(cfg.DSN, cfg.MaxOpenConns, cfg.MaxIdleConns, cfg.ConnMaxLifetime, level)
	case config.DriverSQLite:
		db, err = NewSQLiteDB(cfg.DSN, level)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	logger.Info("Connected to database", zap.String("driver", cfg.Driver))
	return db, nil
}

// Migrate creates or updates the barterex tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.Balance{}, &models.Order{}, &models.Fill{}); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

func gormLogLevel(level string) gormlogger.LogLevel {
	switch strings.ToLower(level) {
	case "silent":
		return gormlogger.Silent
	case "error":
		return gormlogger.Error
	case "info", "debug":
		return gormlogger.Info
	default:
		return gormlogger.Warn
	}
}
