package bookkeeper

import (
	"context"
	"errors"
	"fmt"

	"github.com/Aidin1998/barterex/internal/store"
	"github.com/Aidin1998/barterex/pkg/models"
)

var (
	// ErrInvalidAmount is returned for non-positive or oversized amounts.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrInvalidKey is returned when account, world or item is empty.
	ErrInvalidKey = errors.New("account, world and item are required")
	// ErrInsufficientFunds is matched by every *InsufficientFundsError.
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// InsufficientFundsError reports how much was available when a debit or
// reservation failed.
type InsufficientFundsError struct {
	Account   string
	World     string
	Item      string
	Available int64
	Required  int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: %s has %d %s available in %s, %d required",
		e.Account, e.Available, e.Item, e.World, e.Required)
}

// Is makes errors.Is(err, ErrInsufficientFunds) hold.
func (e *InsufficientFundsError) Is(target error) bool {
	return target == ErrInsufficientFunds
}

// Ledger moves item quantities within a caller's unit of work. It never
// commits on its own, so several calls succeed or fail together.
type Ledger struct{}

func checkArgs(account, world, item string, amount int64) error {
	if account == "" || world == "" || item == "" {
		return ErrInvalidKey
	}
	if amount <= 0 || amount > models.MaxAmount {
		return fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}
	return nil
}

// Credit adds amount of item to the account, creating the balance row on
// first use.
func (Ledger) Credit(ctx context.Context, tx store.Tx, account, world, item string, amount int64) error {
	if err := checkArgs(account, world, item, amount); err != nil {
		return err
	}
	key := store.BalanceKey{Account: account, World: world, Item: item}
	if err := tx.Balances().Increment(ctx, key, amount); err != nil {
		return fmt.Errorf("credit %s: %w", item, err)
	}
	return nil
}

// Debit removes amount of item from the account. The balance never goes
// below zero: a short balance yields *InsufficientFundsError and leaves the
// row untouched.
func (Ledger) Debit(ctx context.Context, tx store.Tx, account, world, item string, amount int64) error {
	if err := checkArgs(account, world, item, amount); err != nil {
		return err
	}
	key := store.BalanceKey{Account: account, World: world, Item: item}
	ok, err := tx.Balances().DecrementIfAvailable(ctx, key, amount)
	if err != nil {
		return fmt.Errorf("debit %s: %w", item, err)
	}
	if ok {
		return nil
	}
	have, err := tx.Balances().Get(ctx, key)
	if err != nil {
		return fmt.Errorf("debit %s: %w", item, err)
	}
	return &InsufficientFundsError{Account: account, World: world, Item: item, Available: have, Required: amount}
}

// Balance returns the account's quantity of item, zero when never credited.
func (Ledger) Balance(ctx context.Context, tx store.Tx, account, world, item string) (int64, error) {
	v, err := tx.Balances().Get(ctx, store.BalanceKey{Account: account, World: world, Item: item})
	if err != nil {
		return 0, fmt.Errorf("balance %s: %w", item, err)
	}
	return v, nil
}
