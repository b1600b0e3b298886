package gormstore

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Aidin1998/barterex/internal/store"
	"github.com/Aidin1998/barterex/pkg/models"
)

type balances struct {
	db  *gorm.DB
	now func() time.Time
}

func balanceScope(key store.BalanceKey) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("account = ? AND world = ? AND item = ?", key.Account, key.World, key.Item)
	}
}

func (r *balances) Get(ctx context.Context, key store.BalanceKey) (int64, error) {
	return r.get(ctx, key, false)
}

func (r *balances) GetForUpdate(ctx context.Context, key store.BalanceKey) (int64, error) {
	return r.get(ctx, key, true)
}

func (r *balances) get(ctx context.Context, key store.BalanceKey, forUpdate bool) (int64, error) {
	query := r.db.WithContext(ctx).Scopes(balanceScope(key))
	if forUpdate {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var bal models.Balance
	err := query.Take(&bal).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, wrap("get balance", err)
	}
	return bal.Quantity, nil
}

func (r *balances) Increment(ctx context.Context, key store.BalanceKey, amount int64) error {
	row := models.Balance{
		Account:   key.Account,
		World:     key.World,
		Item:      key.Item,
		Quantity:  amount,
		UpdatedAt: r.now(),
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "account"}, {Name: "world"}, {Name: "item"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"quantity":   gorm.Expr("balances.quantity + excluded.quantity"),
			"updated_at": gorm.Expr("excluded.updated_at"),
		}),
	}).Create(&row).Error
	return wrap("increment balance", err)
}

func (r *balances) DecrementIfAvailable(ctx context.Context, key store.BalanceKey, amount int64) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Balance{}).
		Scopes(balanceScope(key)).
		Where("quantity >= ?", amount).
		Updates(map[string]interface{}{
			"quantity":   gorm.Expr("quantity - ?", amount),
			"updated_at": r.now(),
		})
	if result.Error != nil {
		return false, wrap("decrement balance", result.Error)
	}
	return result.RowsAffected == 1, nil
}

func (r *balances) ListForAccount(ctx context.Context, account, world string) ([]models.Balance, error) {
	var rows []models.Balance
	err := r.db.WithContext(ctx).
		Where("account = ? AND world = ?", account, world).
		Order("item").
		Find(&rows).Error
	if err != nil {
		return nil, wrap("list balances", err)
	}
	return rows, nil
}
