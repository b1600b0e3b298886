package gormstore

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/Aidin1998/barterex/pkg/models"
)

type fills struct {
	db  *gorm.DB
	now func() time.Time
}

func (r *fills) Insert(ctx context.Context, f *models.Fill) error {
	if f.CreatedAt.IsZero() {
		f.CreatedAt = r.now()
	}
	return wrap("insert fill", r.db.WithContext(ctx).Create(f).Error)
}

func (r *fills) ForOrder(ctx context.Context, orderID uint64) ([]*models.Fill, error) {
	var rows []*models.Fill
	err := r.db.WithContext(ctx).
		Where("taker_order_id = ? OR maker_order_id = ?", orderID, orderID).
		Order("created_at, id").
		Find(&rows).Error
	if err != nil {
		return nil, wrap("list fills", err)
	}
	return rows, nil
}
