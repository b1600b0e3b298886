package trading

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aidin1998/barterex/internal/bookkeeper"
	"github.com/Aidin1998/barterex/internal/orderbook"
	"github.com/Aidin1998/barterex/internal/store"
	"github.com/Aidin1998/barterex/pkg/models"
	"github.com/Aidin1998/barterex/testutil"
)

const world = "overworld"

type harness struct {
	t      *testing.T
	store  store.Store
	engine *Engine
	bank   *bookkeeper.Service
}

func newHarness(t *testing.T, st store.Store, opts ...Option) *harness {
	return &harness{
		t:      t,
		store:  st,
		engine: NewEngine(nil, st, opts...),
		bank:   bookkeeper.NewService(nil, st),
	}
}

func (h *harness) deposit(account, item string, amount int64) {
	h.t.Helper()
	require.NoError(h.t, h.bank.Deposit(context.Background(), account, world, item, amount))
}

func (h *harness) balance(account, item string) int64 {
	h.t.Helper()
	v, err := h.bank.Balance(context.Background(), account, world, item)
	require.NoError(h.t, err)
	return v
}

func (h *harness) available(account, item string) int64 {
	h.t.Helper()
	v, err := h.bank.Available(context.Background(), account, world, item)
	require.NoError(h.t, err)
	return v
}

func (h *harness) submit(account, buy, sell string, amountBuy, amountSell int64) (*Result, error) {
	return h.engine.SubmitOrder(context.Background(), OrderRequest{
		Account: account, World: world,
		ItemToBuy: buy, ItemToSell: sell,
		AmountToBuy: amountBuy, AmountToSell: amountSell,
	})
}

func (h *harness) mustSubmit(account, buy, sell string, amountBuy, amountSell int64) *Result {
	h.t.Helper()
	res, err := h.submit(account, buy, sell, amountBuy, amountSell)
	require.NoError(h.t, err)
	return res
}

func (h *harness) order(id uint64) *models.Order {
	h.t.Helper()
	o, _, err := h.engine.Order(context.Background(), id)
	require.NoError(h.t, err)
	return o
}

func eachStore(t *testing.T, fn func(t *testing.T, h *harness)) {
	for _, ns := range testutil.Stores(t) {
		t.Run(ns.Name, func(t *testing.T) {
			fn(t, newHarness(t, ns.Store))
		})
	}
}

func TestFullMatchWoodForStone(t *testing.T) {
	eachStore(t, func(t *testing.T, h *harness) {
		h.deposit("alice", "wood", 20)
		h.deposit("bob", "stone", 10)

		resting := h.mustSubmit("alice", "stone", "wood", 10, 20)
		assert.Zero(t, resting.Filled)
		assert.Equal(t, int64(10), resting.Remaining)
		assert.Equal(t, models.OrderStatusUnfilled, resting.Order.Status)
		assert.Empty(t, resting.Fills)
		assert.Zero(t, h.available("alice", "wood"), "resting order reserves the wood")

		res := h.mustSubmit("bob", "wood", "stone", 20, 10)
		assert.Equal(t, int64(20), res.Filled)
		assert.Zero(t, res.Remaining)
		assert.Equal(t, models.OrderStatusFilled, res.Order.Status)
		require.Len(t, res.Fills, 1)
		fill := res.Fills[0]
		assert.Equal(t, resting.Order.ID, fill.MakerOrderID)
		assert.Equal(t, res.Order.ID, fill.TakerOrderID)
		assert.Equal(t, "wood", fill.TakerItem)
		assert.Equal(t, int64(20), fill.TakerReceived)
		assert.Equal(t, "stone", fill.MakerItem)
		assert.Equal(t, int64(10), fill.MakerReceived)

		assert.Equal(t, models.OrderStatusFilled, h.order(resting.Order.ID).Status)
		assert.Zero(t, h.balance("alice", "wood"))
		assert.Equal(t, int64(10), h.balance("alice", "stone"))
		assert.Zero(t, h.balance("bob", "stone"))
		assert.Equal(t, int64(20), h.balance("bob", "wood"))

		_, fills, err := h.engine.Order(context.Background(), resting.Order.ID)
		require.NoError(t, err)
		require.Len(t, fills, 1)
		assert.Equal(t, fill.ID, fills[0].ID)
	})
}

func TestLotGranularityLeavesTakerPartial(t *testing.T) {
	eachStore(t, func(t *testing.T, h *harness) {
		h.deposit("maker", "wood", 130)
		h.deposit("taker", "gold", 30)

		// lot of 7 gold for 13 wood
		maker := h.mustSubmit("maker", "gold", "wood", 70, 130)

		// 50 wood for at most 30 gold: only 3 whole lots fit the 50 wood wanted
		res := h.mustSubmit("taker", "wood", "gold", 50, 30)
		assert.Equal(t, int64(39), res.Filled)
		assert.Equal(t, int64(11), res.Remaining)
		assert.Equal(t, models.OrderStatusPartial, res.Order.Status)
		assert.Equal(t, int64(21), res.Order.AmountSpent)

		m := h.order(maker.Order.ID)
		assert.Equal(t, int64(21), m.AmountFilled)
		assert.Equal(t, int64(39), m.AmountSpent)
		assert.Equal(t, models.OrderStatusPartial, m.Status)

		assert.Equal(t, int64(39), h.balance("taker", "wood"))
		assert.Equal(t, int64(9), h.balance("taker", "gold"))
		assert.Zero(t, h.available("taker", "gold"), "the unspent 9 gold stay reserved")
		assert.Equal(t, int64(21), h.balance("maker", "gold"))
		assert.Equal(t, int64(91), h.balance("maker", "wood"))
		assert.Zero(t, h.available("maker", "wood"))
	})
}

func TestInsufficientAvailableRejectsWithoutWriting(t *testing.T) {
	eachStore(t, func(t *testing.T, h *harness) {
		h.deposit("carol", "iron", 5)

		_, err := h.submit("carol", "coal", "iron", 1, 6)
		require.Error(t, err)
		assert.Equal(t, KindInsufficientFunds, KindOf(err))
		assert.False(t, Retryable(err))
		var insufficient *bookkeeper.InsufficientFundsError
		require.ErrorAs(t, err, &insufficient)
		assert.Equal(t, int64(5), insufficient.Available)
		assert.Equal(t, int64(6), insufficient.Required)

		asks, bids, err := h.engine.OrdersForItem(context.Background(), world, "", "iron")
		require.NoError(t, err)
		assert.Empty(t, asks)
		assert.Empty(t, bids)
	})
}

func TestReservationBlocksSecondSell(t *testing.T) {
	eachStore(t, func(t *testing.T, h *harness) {
		h.deposit("dave", "sand", 10)
		h.mustSubmit("dave", "glass", "sand", 1, 10)

		_, err := h.submit("dave", "clay", "sand", 1, 1)
		var insufficient *bookkeeper.InsufficientFundsError
		require.ErrorAs(t, err, &insufficient)
		assert.Zero(t, insufficient.Available)
	})
}

func TestNoMatchRests(t *testing.T) {
	eachStore(t, func(t *testing.T, h *harness) {
		h.deposit("alice", "wood", 10)
		h.deposit("bob", "stone", 10)

		// alice asks 2 stone per wood, bob offers 1 stone per wood
		h.mustSubmit("alice", "stone", "wood", 20, 10)
		res := h.mustSubmit("bob", "wood", "stone", 10, 10)
		assert.Zero(t, res.Filled)
		assert.Equal(t, models.OrderStatusUnfilled, res.Order.Status)

		asks, bids, err := h.engine.OrdersForItem(context.Background(), world, "", "wood")
		require.NoError(t, err)
		require.Len(t, asks, 1)
		require.Len(t, bids, 1)
		assert.Equal(t, "2", asks[0].Price.String())
		assert.Equal(t, "1", bids[0].Price.String())
		assert.Equal(t, orderbook.SideAsk, asks[0].Side)
	})
}

func TestSelfTradeExcluded(t *testing.T) {
	eachStore(t, func(t *testing.T, h *harness) {
		h.deposit("erin", "wood", 10)
		h.deposit("erin", "stone", 10)

		h.mustSubmit("erin", "stone", "wood", 5, 10)
		res := h.mustSubmit("erin", "wood", "stone", 10, 5)
		assert.Zero(t, res.Filled)
		assert.Equal(t, int64(10), h.balance("erin", "wood"))
	})
}

func TestBestPriceFirstAndTakerGetsMakerPrice(t *testing.T) {
	eachStore(t, func(t *testing.T, h *harness) {
		h.deposit("m1", "wood", 10)
		h.deposit("m2", "wood", 10)
		h.deposit("m3", "wood", 10)
		h.deposit("taker", "stone", 100)

		dear := h.mustSubmit("m1", "stone", "wood", 20, 10)  // 2 stone per wood
		cheap := h.mustSubmit("m2", "stone", "wood", 5, 10)  // 0.5
		older := h.mustSubmit("m3", "stone", "wood", 10, 10) // 1

		// taker pays up to 2 stone per wood for 15 wood
		res := h.mustSubmit("taker", "wood", "stone", 15, 30)
		require.Len(t, res.Fills, 2)
		assert.Equal(t, cheap.Order.ID, res.Fills[0].MakerOrderID)
		assert.Equal(t, int64(10), res.Fills[0].TakerReceived)
		assert.Equal(t, int64(5), res.Fills[0].MakerReceived)
		assert.Equal(t, older.Order.ID, res.Fills[1].MakerOrderID)
		assert.Equal(t, int64(5), res.Fills[1].TakerReceived)
		assert.Equal(t, int64(5), res.Fills[1].MakerReceived)

		assert.Equal(t, int64(15), res.Filled)
		assert.Equal(t, int64(10), res.Order.AmountSpent, "taker pays maker prices, not its limit")
		assert.Equal(t, int64(90), h.balance("taker", "stone"))
		assert.Equal(t, models.OrderStatusUnfilled, h.order(dear.Order.ID).Status)
	})
}

func TestEqualPricesFillOldestFirst(t *testing.T) {
	eachStore(t, func(t *testing.T, h *harness) {
		h.deposit("first", "wood", 4)
		h.deposit("second", "wood", 4)
		h.deposit("taker", "stone", 4)

		first := h.mustSubmit("first", "stone", "wood", 2, 4)
		second := h.mustSubmit("second", "stone", "wood", 1, 2)

		res := h.mustSubmit("taker", "wood", "stone", 4, 2)
		require.Len(t, res.Fills, 1)
		assert.Equal(t, first.Order.ID, res.Fills[0].MakerOrderID)
		assert.Equal(t, models.OrderStatusUnfilled, h.order(second.Order.ID).Status)
	})
}

func TestValidation(t *testing.T) {
	h := newHarness(t, testutil.NewMemStore())
	tests := []struct {
		name string
		req  OrderRequest
	}{
		{"missing account", OrderRequest{World: world, ItemToBuy: "a", ItemToSell: "b", AmountToBuy: 1, AmountToSell: 1}},
		{"missing world", OrderRequest{Account: "x", ItemToBuy: "a", ItemToSell: "b", AmountToBuy: 1, AmountToSell: 1}},
		{"same items", OrderRequest{Account: "x", World: world, ItemToBuy: "a", ItemToSell: "a", AmountToBuy: 1, AmountToSell: 1}},
		{"zero buy", OrderRequest{Account: "x", World: world, ItemToBuy: "a", ItemToSell: "b", AmountToBuy: 0, AmountToSell: 1}},
		{"negative sell", OrderRequest{Account: "x", World: world, ItemToBuy: "a", ItemToSell: "b", AmountToBuy: 1, AmountToSell: -4}},
		{"markup in item", OrderRequest{Account: "x", World: world, ItemToBuy: "<b>a</b>", ItemToSell: "b", AmountToBuy: 1, AmountToSell: 1}},
		{"too large", OrderRequest{Account: "x", World: world, ItemToBuy: "a", ItemToSell: "b", AmountToBuy: models.MaxAmount + 1, AmountToSell: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.engine.SubmitOrder(context.Background(), tt.req)
			require.ErrorIs(t, err, ErrInvalidOrder)
			assert.Equal(t, KindInvalidOrder, KindOf(err))
		})
	}
}

type recordingPublisher struct {
	mu    sync.Mutex
	fills []*models.Fill
	err   error
}

func (p *recordingPublisher) PublishFills(_ context.Context, fills []*models.Fill) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fills = append(p.fills, fills...)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func TestFillsPublishedAfterCommit(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	h := newHarness(t, testutil.NewMemStore(), WithPublisher(pub))
	h.deposit("alice", "wood", 20)
	h.deposit("bob", "stone", 10)

	h.mustSubmit("alice", "stone", "wood", 10, 20)
	res, err := h.submit("bob", "wood", "stone", 20, 10)
	require.NoError(t, err, "publish failures do not undo a committed trade")
	require.Len(t, pub.fills, 1)
	assert.Equal(t, res.Fills[0].ID, pub.fills[0].ID)
}

// failingStore fails every unit of work with the configured error.
type failingStore struct{ err error }

func (s failingStore) WithinTx(context.Context, func(store.Tx) error) error { return s.err }
func (s failingStore) Close() error                                         { return nil }

func TestStoreErrorsAreClassified(t *testing.T) {
	req := OrderRequest{Account: "x", World: world, ItemToBuy: "a", ItemToSell: "b", AmountToBuy: 1, AmountToSell: 1}

	_, err := NewEngine(nil, failingStore{err: store.ErrConflict}).SubmitOrder(context.Background(), req)
	assert.ErrorIs(t, err, ErrConcurrencyConflict)
	assert.ErrorIs(t, err, store.ErrConflict)
	assert.True(t, Retryable(err))

	_, err = NewEngine(nil, failingStore{err: store.ErrUnavailable}).SubmitOrder(context.Background(), req)
	assert.ErrorIs(t, err, ErrStorageFailure)
	assert.Equal(t, KindStorageFailure, KindOf(err))
	assert.True(t, Retryable(err))

	_, err = NewEngine(nil, failingStore{err: context.DeadlineExceeded}).SubmitOrder(context.Background(), req)
	assert.ErrorIs(t, err, ErrStorageFailure)
}

func TestRollbackOnMidLoopFailure(t *testing.T) {
	eachStore(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		h.deposit("maker", "wood", 10)
		h.deposit("taker", "stone", 5)
		maker := h.mustSubmit("maker", "stone", "wood", 5, 10)

		// drain the maker's wood behind the reservation's back
		require.NoError(t, h.store.WithinTx(ctx, func(tx store.Tx) error {
			return bookkeeper.Ledger{}.Debit(ctx, tx, "maker", world, "wood", 10)
		}))

		_, err := h.submit("taker", "wood", "stone", 10, 5)
		require.ErrorIs(t, err, bookkeeper.ErrInsufficientFunds)

		assert.Equal(t, int64(5), h.balance("taker", "stone"), "taker debit rolled back")
		assert.Zero(t, h.balance("taker", "wood"), "taker credit rolled back")
		assert.Zero(t, h.balance("maker", "stone"))
		assert.Zero(t, h.order(maker.Order.ID).AmountFilled)

		asks, bids, err := h.engine.OrdersForItem(ctx, world, "taker", "stone")
		require.NoError(t, err)
		assert.Empty(t, asks, "the taker order was never committed")
		assert.Empty(t, bids)
	})
}
