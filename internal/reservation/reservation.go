// Package reservation derives how much of an item an account can still
// commit. Nothing is stored: every call recomputes the figure from the
// balance row and the account's open sell orders.
package reservation

import (
	"context"
	"fmt"

	"github.com/Aidin1998/barterex/internal/store"
)

// View computes available balances inside a unit of work.
type View struct{}

// Reserved is the part of item still promised by the account's open sell
// orders in world.
func (View) Reserved(ctx context.Context, tx store.Tx, account, world, item string) (int64, error) {
	reserved, err := tx.Orders().OpenSellCommitment(ctx, account, world, item)
	if err != nil {
		return 0, fmt.Errorf("reserved %s: %w", item, err)
	}
	return reserved, nil
}

// Available returns balance minus reservations. The balance row is locked
// until tx ends, so concurrent callers for the same item queue behind it.
func (v View) Available(ctx context.Context, tx store.Tx, account, world, item string) (int64, error) {
	balance, err := tx.Balances().GetForUpdate(ctx, store.BalanceKey{Account: account, World: world, Item: item})
	if err != nil {
		return 0, fmt.Errorf("balance %s: %w", item, err)
	}
	reserved, err := v.Reserved(ctx, tx, account, world, item)
	if err != nil {
		return 0, err
	}
	return balance - reserved, nil
}
