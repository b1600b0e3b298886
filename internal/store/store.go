// Package store defines the storage boundary shared by the ledger, the order
// book and the matching engine. Every read and write happens inside a unit of
// work obtained from Store.WithinTx.
package store

import (
	"context"
	"errors"

	"github.com/Aidin1998/barterex/pkg/models"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a concurrent unit of work invalidated this one.
	// The whole unit of work has been rolled back and may be retried.
	ErrConflict = errors.New("concurrent modification")
	// ErrUnavailable is returned when the underlying storage failed.
	ErrUnavailable = errors.New("storage unavailable")
)

// Store opens atomic units of work.
type Store interface {
	// WithinTx runs fn inside one transaction. A non-nil error from fn, or a
	// panic, discards every mutation made through tx.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}

// Tx exposes the repositories bound to one unit of work.
type Tx interface {
	Balances() BalanceRepository
	Orders() OrderRepository
	Fills() FillRepository
}

// BalanceKey identifies one ledger row.
type BalanceKey struct {
	Account string
	World   string
	Item    string
}

// BalanceRepository stores ledger rows. Missing rows read as zero.
type BalanceRepository interface {
	Get(ctx context.Context, key BalanceKey) (int64, error)
	// GetForUpdate reads the row and holds a write lock on it until the unit of work ends.
	GetForUpdate(ctx context.Context, key BalanceKey) (int64, error)
	// Increment adds amount, creating the row when absent.
	Increment(ctx context.Context, key BalanceKey, amount int64) error
	// DecrementIfAvailable subtracts amount only when the row holds at least
	// amount. It reports whether the decrement happened.
	DecrementIfAvailable(ctx context.Context, key BalanceKey, amount int64) (bool, error)
	// ListForAccount returns the account's rows in world ordered by item.
	ListForAccount(ctx context.Context, account, world string) ([]models.Balance, error)
}

// CounterpartyQuery selects resting orders that sell ItemToBuy for ItemToSell.
type CounterpartyQuery struct {
	World      string
	ItemToBuy  string
	ItemToSell string
	// ExcludeAccount drops orders owned by this account when set.
	ExcludeAccount string
	// Limit, when set, keeps only orders that cross with it (see models.Crosses).
	Limit *models.Order
}

// OrderRepository stores orders.
type OrderRepository interface {
	// Insert persists o and assigns its ID and timestamps.
	Insert(ctx context.Context, o *models.Order) error
	Get(ctx context.Context, id uint64) (*models.Order, error)
	// Counterparties returns open orders matching q, best price for the
	// incoming order first, ties by ascending ID. Returned rows are locked
	// for update where the backend supports it.
	Counterparties(ctx context.Context, q CounterpartyQuery) ([]*models.Order, error)
	// UpdateFill persists o's fill fields and status if the stored
	// AmountFilled still equals prevFilled, otherwise it returns ErrConflict.
	UpdateFill(ctx context.Context, o *models.Order, prevFilled int64) error
	// OpenSellCommitment sums AmountToSell-AmountSpent over the account's
	// open orders selling item in world.
	OpenSellCommitment(ctx context.Context, account, world, item string) (int64, error)
	// OpenForItem lists open orders in world with item on either side,
	// optionally restricted to one account, ordered by ID.
	OpenForItem(ctx context.Context, world, account, item string) ([]*models.Order, error)
}

// FillRepository stores executed fills.
type FillRepository interface {
	Insert(ctx context.Context, f *models.Fill) error
	// ForOrder lists fills where the order was taker or maker, oldest first.
	ForOrder(ctx context.Context, orderID uint64) ([]*models.Fill, error)
}
