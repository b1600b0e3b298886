package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aidin1998/barterex/internal/store"
	"github.com/Aidin1998/barterex/pkg/models"
	"github.com/Aidin1998/barterex/testutil"
)

func newOrder(account, buy, sell string, amountBuy, amountSell int64) *models.Order {
	return &models.Order{
		Account: account, World: "world",
		ItemToBuy: buy, ItemToSell: sell,
		AmountToBuy: amountBuy, AmountToSell: amountSell,
		Status: models.OrderStatusUnfilled,
	}
}

func TestStoreBackends(t *testing.T) {
	for _, ns := range testutil.Stores(t) {
		t.Run(ns.Name, func(t *testing.T) {
			t.Run("rollback on error", func(t *testing.T) { testRollbackOnError(t, ns.Store) })
			t.Run("rollback on panic", func(t *testing.T) { testRollbackOnPanic(t, ns.Store) })
			t.Run("counterparties", func(t *testing.T) { testCounterparties(t, ns.Store) })
			t.Run("update fill", func(t *testing.T) { testUpdateFill(t, ns.Store) })
			t.Run("fills", func(t *testing.T) { testFills(t, ns.Store) })
			t.Run("balances", func(t *testing.T) { testBalances(t, ns.Store) })
		})
	}
}

func testRollbackOnError(t *testing.T, st store.Store) {
	ctx := context.Background()
	key := store.BalanceKey{Account: "r1", World: "world", Item: "gem"}
	boom := errors.New("boom")

	var id uint64
	err := st.WithinTx(ctx, func(tx store.Tx) error {
		require.NoError(t, tx.Balances().Increment(ctx, key, 9))
		o := newOrder("r1", "gem", "rock", 1, 1)
		require.NoError(t, tx.Orders().Insert(ctx, o))
		id = o.ID
		return boom
	})
	require.ErrorIs(t, err, boom)

	require.NoError(t, st.WithinTx(ctx, func(tx store.Tx) error {
		v, err := tx.Balances().Get(ctx, key)
		require.NoError(t, err)
		assert.Zero(t, v)
		_, err = tx.Orders().Get(ctx, id)
		assert.ErrorIs(t, err, store.ErrNotFound)
		return nil
	}))
}

func testRollbackOnPanic(t *testing.T, st store.Store) {
	ctx := context.Background()
	key := store.BalanceKey{Account: "r2", World: "world", Item: "gem"}

	assert.Panics(t, func() {
		_ = st.WithinTx(ctx, func(tx store.Tx) error {
			_ = tx.Balances().Increment(ctx, key, 4)
			panic("mid-flight")
		})
	})

	require.NoError(t, st.WithinTx(ctx, func(tx store.Tx) error {
		v, err := tx.Balances().Get(ctx, key)
		assert.Zero(t, v)
		return err
	}))
}

func testCounterparties(t *testing.T, st store.Store) {
	ctx := context.Background()
	require.NoError(t, st.WithinTx(ctx, func(tx store.Tx) error {
		// makers selling wood for clay at different prices
		cheap := newOrder("m1", "clay", "wood", 1, 4)    // asks 0.25 clay per wood
		mid := newOrder("m2", "clay", "wood", 1, 2)      // 0.5
		midLater := newOrder("m3", "clay", "wood", 2, 4) // 0.5, younger
		dear := newOrder("m4", "clay", "wood", 3, 1)     // 3
		own := newOrder("taker", "clay", "wood", 1, 10)
		other := newOrder("m5", "wood", "clay", 1, 1) // wrong side
		for _, o := range []*models.Order{mid, dear, cheap, midLater, own, other} {
			require.NoError(t, tx.Orders().Insert(ctx, o))
		}

		got, err := tx.Orders().Counterparties(ctx, store.CounterpartyQuery{
			World: "world", ItemToBuy: "wood", ItemToSell: "clay", ExcludeAccount: "taker",
		})
		require.NoError(t, err)
		require.Len(t, got, 4)
		assert.Equal(t, []string{"m1", "m2", "m3", "m4"}, accounts(got))

		// taker buys 2 wood for 1 clay: only makers asking <= 0.5 clay per wood cross
		limit := newOrder("taker", "wood", "clay", 2, 1)
		got, err = tx.Orders().Counterparties(ctx, store.CounterpartyQuery{
			World: "world", ItemToBuy: "wood", ItemToSell: "clay", ExcludeAccount: "taker", Limit: limit,
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"m1", "m2", "m3"}, accounts(got))

		// filled orders drop out
		cheap.AmountFilled, cheap.AmountSpent = 1, 4
		cheap.RefreshStatus()
		require.NoError(t, tx.Orders().UpdateFill(ctx, cheap, 0))
		got, err = tx.Orders().Counterparties(ctx, store.CounterpartyQuery{
			World: "world", ItemToBuy: "wood", ItemToSell: "clay", Limit: limit,
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"taker", "m2", "m3"}, accounts(got))

		open, err := tx.Orders().OpenForItem(ctx, "world", "", "clay")
		require.NoError(t, err)
		assert.Len(t, open, 5)
		open, err = tx.Orders().OpenForItem(ctx, "world", "m5", "clay")
		require.NoError(t, err)
		assert.Len(t, open, 1)
		return nil
	}))
}

func testUpdateFill(t *testing.T, st store.Store) {
	ctx := context.Background()
	var id uint64
	require.NoError(t, st.WithinTx(ctx, func(tx store.Tx) error {
		o := newOrder("u1", "a", "b", 10, 10)
		require.NoError(t, tx.Orders().Insert(ctx, o))
		id = o.ID
		return nil
	}))

	require.NoError(t, st.WithinTx(ctx, func(tx store.Tx) error {
		o, err := tx.Orders().Get(ctx, id)
		require.NoError(t, err)
		o.AmountFilled, o.AmountSpent = 4, 4
		o.RefreshStatus()
		return tx.Orders().UpdateFill(ctx, o, 0)
	}))

	err := st.WithinTx(ctx, func(tx store.Tx) error {
		stale := newOrder("u1", "a", "b", 10, 10)
		stale.ID = id
		stale.AmountFilled, stale.AmountSpent = 6, 6
		stale.RefreshStatus()
		return tx.Orders().UpdateFill(ctx, stale, 0)
	})
	require.ErrorIs(t, err, store.ErrConflict)

	require.NoError(t, st.WithinTx(ctx, func(tx store.Tx) error {
		o, err := tx.Orders().Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, int64(4), o.AmountFilled)
		assert.Equal(t, models.OrderStatusPartial, o.Status)

		committed, err := tx.Orders().OpenSellCommitment(ctx, "u1", "world", "b")
		require.NoError(t, err)
		assert.Equal(t, int64(6), committed)
		return nil
	}))
}

func testFills(t *testing.T, st store.Store) {
	ctx := context.Background()
	require.NoError(t, st.WithinTx(ctx, func(tx store.Tx) error {
		for i := 0; i < 3; i++ {
			require.NoError(t, tx.Fills().Insert(ctx, &models.Fill{
				ID: uuid.NewString(), World: "world",
				TakerOrderID: 900, MakerOrderID: uint64(901 + i),
				TakerAccount: "t", MakerAccount: "m",
				TakerItem: "x", TakerReceived: 1, MakerItem: "y", MakerReceived: 2,
			}))
		}
		taker, err := tx.Fills().ForOrder(ctx, 900)
		require.NoError(t, err)
		assert.Len(t, taker, 3)
		maker, err := tx.Fills().ForOrder(ctx, 902)
		require.NoError(t, err)
		require.Len(t, maker, 1)
		assert.Equal(t, int64(2), maker[0].MakerReceived)
		return nil
	}))
}

func testBalances(t *testing.T, st store.Store) {
	ctx := context.Background()
	require.NoError(t, st.WithinTx(ctx, func(tx store.Tx) error {
		b := tx.Balances()
		for _, item := range []string{"zinc", "apple", "moss"} {
			require.NoError(t, b.Increment(ctx, store.BalanceKey{Account: "lb", World: "world", Item: item}, 2))
		}
		ok, err := b.DecrementIfAvailable(ctx, store.BalanceKey{Account: "lb", World: "world", Item: "moss"}, 3)
		require.NoError(t, err)
		assert.False(t, ok)
		ok, err = b.DecrementIfAvailable(ctx, store.BalanceKey{Account: "lb", World: "world", Item: "moss"}, 2)
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = b.DecrementIfAvailable(ctx, store.BalanceKey{Account: "lb", World: "world", Item: "ghost"}, 1)
		require.NoError(t, err)
		assert.False(t, ok)

		rows, err := b.ListForAccount(ctx, "lb", "world")
		require.NoError(t, err)
		require.Len(t, rows, 3)
		assert.Equal(t, "apple", rows[0].Item)
		assert.Equal(t, int64(0), rows[1].Quantity)
		assert.Equal(t, "zinc", rows[2].Item)
		return nil
	}))
}

func accounts(orders []*models.Order) []string {
	out := make([]string, len(orders))
	for i, o := range orders {
		out[i] = o.Account
	}
	return out
}
