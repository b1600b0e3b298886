package gormstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Aidin1998/barterex/internal/store"
	"github.com/Aidin1998/barterex/pkg/models"
)

type orders struct {
	db  *gorm.DB
	now func() time.Time
}

func (r *orders) Insert(ctx context.Context, o *models.Order) error {
	now := r.now()
	o.ID = 0
	o.CreatedAt = now
	o.UpdatedAt = now
	return wrap("insert order", r.db.WithContext(ctx).Create(o).Error)
}

func (r *orders) Get(ctx context.Context, id uint64) (*models.Order, error) {
	var o models.Order
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&o).Error; err != nil {
		return nil, wrap("get order", err)
	}
	return &o, nil
}

func (r *orders) Counterparties(ctx context.Context, q store.CounterpartyQuery) ([]*models.Order, error) {
	query := r.db.WithContext(ctx).
		Where("world = ? AND item_to_sell = ? AND item_to_buy = ? AND status <> ?",
			q.World, q.ItemToBuy, q.ItemToSell, models.OrderStatusFilled)
	if q.ExcludeAccount != "" {
		query = query.Where("account <> ?", q.ExcludeAccount)
	}
	if q.Limit != nil {
		// models.Crosses, evaluated by the database
		query = query.Where("amount_to_buy * ? <= amount_to_sell * ?", q.Limit.AmountToBuy, q.Limit.AmountToSell)
	}

	var rows []*models.Order
	err := query.
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, wrap("select counterparties", err)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return models.BetterForTaker(rows[i], rows[j])
	})
	return rows, nil
}

func (r *orders) UpdateFill(ctx context.Context, o *models.Order, prevFilled int64) error {
	o.UpdatedAt = r.now()
	result := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND amount_filled = ?", o.ID, prevFilled).
		Updates(map[string]interface{}{
			"amount_filled": o.AmountFilled,
			"amount_spent":  o.AmountSpent,
			"status":        o.Status,
			"updated_at":    o.UpdatedAt,
		})
	if result.Error != nil {
		return wrap("update order fill", result.Error)
	}
	if result.RowsAffected != 1 {
		return fmt.Errorf("update order %d fill: %w", o.ID, store.ErrConflict)
	}
	return nil
}

func (r *orders) OpenSellCommitment(ctx context.Context, account, world, item string) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Select("COALESCE(SUM(amount_to_sell - amount_spent), 0)").
		Where("account = ? AND world = ? AND item_to_sell = ? AND status <> ?",
			account, world, item, models.OrderStatusFilled).
		Scan(&total).Error
	if err != nil {
		return 0, wrap("sum open sell orders", err)
	}
	return total, nil
}

func (r *orders) OpenForItem(ctx context.Context, world, account, item string) ([]*models.Order, error) {
	query := r.db.WithContext(ctx).
		Where("world = ? AND status <> ? AND (item_to_sell = ? OR item_to_buy = ?)",
			world, models.OrderStatusFilled, item, item)
	if account != "" {
		query = query.Where("account = ?", account)
	}
	var rows []*models.Order
	if err := query.Order("id").Find(&rows).Error; err != nil {
		return nil, wrap("list open orders", err)
	}
	return rows, nil
}
