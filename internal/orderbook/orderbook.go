// Package orderbook stores resting barter orders and answers the questions
// the matching engine asks of them. All methods act on the caller's unit of
// work.
package orderbook

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/shopspring/decimal"

	"github.com/Aidin1998/barterex/internal/store"
	"github.com/Aidin1998/barterex/pkg/models"
)

// PricePrecision is the number of decimal places of display prices.
const PricePrecision = 8

var (
	// ErrOverfill is returned when a fill would exceed what an order wants or gives.
	ErrOverfill = errors.New("fill exceeds order amounts")
	// ErrInvalidFill is returned for negative fill quantities.
	ErrInvalidFill = errors.New("invalid fill quantity")
)

// Side tells whether an order gives away or asks for the listed item.
type Side string

const (
	// SideAsk orders sell the item.
	SideAsk Side = "ask"
	// SideBid orders buy the item.
	SideBid Side = "bid"
)

// Entry is an open order seen from one item's point of view.
type Entry struct {
	Order *models.Order   `json:"order"`
	Side  Side            `json:"side"`
	Price decimal.Decimal `json:"price"`
}

// Query selects counterparties for an incoming order that wants ItemToBuy
// and pays with ItemToSell.
type Query struct {
	World      string
	ItemToBuy  string
	ItemToSell string
	// ExcludeAccount skips the incoming order's own account.
	ExcludeAccount string
	// Limit, when set, keeps only orders priced within it.
	Limit *models.Order
}

// Book is the order book. It holds no state of its own.
type Book struct{}

// Insert stores o as a fresh, unfilled order and assigns its ID.
func (Book) Insert(ctx context.Context, tx store.Tx, o *models.Order) error {
	o.AmountFilled = 0
	o.AmountSpent = 0
	o.Status = models.OrderStatusUnfilled
	if err := tx.Orders().Insert(ctx, o); err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// OpenOrdersFor yields resting orders selling q.ItemToBuy for q.ItemToSell,
// best price for the incoming order first and oldest first among equals.
// Nothing is read until the sequence is ranged over, and every range reads
// afresh.
func (Book) OpenOrdersFor(ctx context.Context, tx store.Tx, q Query) iter.Seq2[*models.Order, error] {
	return func(yield func(*models.Order, error) bool) {
		rows, err := tx.Orders().Counterparties(ctx, store.CounterpartyQuery{
			World:          q.World,
			ItemToBuy:      q.ItemToBuy,
			ItemToSell:     q.ItemToSell,
			ExcludeAccount: q.ExcludeAccount,
			Limit:          q.Limit,
		})
		if err != nil {
			yield(nil, fmt.Errorf("open orders: %w", err))
			return
		}
		for _, o := range rows {
			if !yield(o, nil) {
				return
			}
		}
	}
}

// ApplyFill records that o received more of its buy item and gave more of
// its sell item, then persists it. The write only lands if nobody else
// filled o since it was read; otherwise store.ErrConflict is returned and o
// is left as it was.
func (Book) ApplyFill(ctx context.Context, tx store.Tx, o *models.Order, received, given int64) error {
	if received < 0 || given < 0 {
		return fmt.Errorf("%w: received %d, given %d", ErrInvalidFill, received, given)
	}
	if received > o.Remaining() || given > o.Unspent() {
		return fmt.Errorf("%w: order %d", ErrOverfill, o.ID)
	}
	if received == 0 && given == 0 {
		return nil
	}

	prev := o.Clone()
	o.AmountFilled += received
	o.AmountSpent += given
	o.RefreshStatus()
	if err := tx.Orders().UpdateFill(ctx, o, prev.AmountFilled); err != nil {
		*o = *prev
		return err
	}
	return nil
}

// OrdersForAccountItem lists open orders in world that buy or sell item,
// optionally only account's. Prices are in the counter item per unit of item.
func (Book) OrdersForAccountItem(ctx context.Context, tx store.Tx, world, account, item string) ([]Entry, error) {
	rows, err := tx.Orders().OpenForItem(ctx, world, account, item)
	if err != nil {
		return nil, fmt.Errorf("orders for %s: %w", item, err)
	}
	entries := make([]Entry, 0, len(rows))
	for _, o := range rows {
		e := Entry{Order: o}
		if o.ItemToSell == item {
			e.Side = SideAsk
			e.Price = ratio(o.AmountToBuy, o.AmountToSell)
		} else {
			e.Side = SideBid
			e.Price = ratio(o.AmountToSell, o.AmountToBuy)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Get loads one order.
func (Book) Get(ctx context.Context, tx store.Tx, id uint64) (*models.Order, error) {
	o, err := tx.Orders().Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("order %d: %w", id, err)
	}
	return o, nil
}

// Fills lists the fills order id took part in, oldest first.
func (Book) Fills(ctx context.Context, tx store.Tx, id uint64) ([]*models.Fill, error) {
	fills, err := tx.Fills().ForOrder(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fills for order %d: %w", id, err)
	}
	return fills, nil
}

func ratio(num, den int64) decimal.Decimal {
	return decimal.NewFromInt(num).DivRound(decimal.NewFromInt(den), PricePrecision)
}
