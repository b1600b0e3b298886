package database

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Aidin1998/barterex/pkg/metrics"
)

// RecordPoolStats copies the pool statistics of db into the connection gauges.
func RecordPoolStats(name string, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	stats := sqlDB.Stats()
	metrics.DBOpenConns.WithLabelValues(name).Set(float64(stats.OpenConnections))
	metrics.DBIdleConns.WithLabelValues(name).Set(float64(stats.Idle))
	metrics.DBInUseConns.WithLabelValues(name).Set(float64(stats.InUse))
	return nil
}

// CollectPoolMetrics records pool statistics every interval until ctx ends.
func CollectPoolMetrics(ctx context.Context, name string, db *gorm.DB, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := RecordPoolStats(name, db); err != nil {
				logger.Warn("Failed to read pool stats", zap.String("db", name), zap.Error(err))
			}
		}
	}
}
