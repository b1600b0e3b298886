package trading

import (
	"context"
	"errors"
	"testing"

	"pgregory.net/rapid"

	"github.com/Aidin1998/barterex/internal/bookkeeper"
	"github.com/Aidin1998/barterex/internal/store"
	"github.com/Aidin1998/barterex/pkg/models"
	"github.com/Aidin1998/barterex/testutil"
)

var (
	propAccounts = []string{"a0", "a1", "a2"}
	propItems    = []string{"x", "y", "z"}
)

// exchangeModel tracks what must hold no matter how orders interleave.
type exchangeModel struct {
	engine *Engine
	bank   *bookkeeper.Service
	store  store.Store
	// net deposits per item across all accounts
	supply map[string]int64
	orders map[uint64]*models.Order
}

func (m *exchangeModel) deposit(t *rapid.T) {
	account := rapid.SampledFrom(propAccounts).Draw(t, "account")
	item := rapid.SampledFrom(propItems).Draw(t, "item")
	amount := rapid.Int64Range(1, 50).Draw(t, "amount")
	if err := m.bank.Deposit(context.Background(), account, world, item, amount); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	m.supply[item] += amount
}

func (m *exchangeModel) withdraw(t *rapid.T) {
	account := rapid.SampledFrom(propAccounts).Draw(t, "account")
	item := rapid.SampledFrom(propItems).Draw(t, "item")
	amount := rapid.Int64Range(1, 30).Draw(t, "amount")
	err := m.bank.Withdraw(context.Background(), account, world, item, amount)
	switch {
	case err == nil:
		m.supply[item] -= amount
	case errors.Is(err, bookkeeper.ErrInsufficientFunds):
	default:
		t.Fatalf("withdraw: %v", err)
	}
}

func (m *exchangeModel) submit(t *rapid.T) {
	account := rapid.SampledFrom(propAccounts).Draw(t, "account")
	buy := rapid.SampledFrom(propItems).Draw(t, "buy")
	sell := rapid.SampledFrom(propItems).Filter(func(s string) bool { return s != buy }).Draw(t, "sell")
	req := OrderRequest{
		Account: account, World: world,
		ItemToBuy: buy, ItemToSell: sell,
		AmountToBuy:  rapid.Int64Range(1, 40).Draw(t, "amountToBuy"),
		AmountToSell: rapid.Int64Range(1, 40).Draw(t, "amountToSell"),
	}

	res, err := m.engine.SubmitOrder(context.Background(), req)
	if err != nil {
		if KindOf(err) != KindInsufficientFunds {
			t.Fatalf("submit %+v: %v", req, err)
		}
		return
	}
	m.orders[res.Order.ID] = res.Order.Clone()

	var spent int64
	for _, f := range res.Fills {
		maker, ok := m.orders[f.MakerOrderID]
		if !ok {
			t.Fatalf("fill %s names unknown maker %d", f.ID, f.MakerOrderID)
		}
		if f.MakerAccount == account {
			t.Fatalf("order %d traded with its own account", res.Order.ID)
		}
		// maker price is honoured exactly
		if f.MakerReceived*maker.AmountToSell != f.TakerReceived*maker.AmountToBuy {
			t.Fatalf("fill %+v off maker price %d/%d", f, maker.AmountToBuy, maker.AmountToSell)
		}
		spent += f.MakerReceived
	}
	// taker never pays more than its own limit
	if spent*req.AmountToBuy > res.Filled*req.AmountToSell {
		t.Fatalf("taker paid %d for %d, limit %d/%d", spent, res.Filled, req.AmountToSell, req.AmountToBuy)
	}
	if res.Filled+res.Remaining != req.AmountToBuy {
		t.Fatalf("filled %d + remaining %d != %d", res.Filled, res.Remaining, req.AmountToBuy)
	}
}

func (m *exchangeModel) check(t *rapid.T) {
	ctx := context.Background()
	totals := make(map[string]int64)
	for _, account := range propAccounts {
		for _, item := range propItems {
			bal, err := m.bank.Balance(ctx, account, world, item)
			if err != nil {
				t.Fatalf("balance: %v", err)
			}
			if bal < 0 {
				t.Fatalf("%s holds %d %s", account, bal, item)
			}
			avail, err := m.bank.Available(ctx, account, world, item)
			if err != nil {
				t.Fatalf("available: %v", err)
			}
			if avail < 0 {
				t.Fatalf("%s has %d %s available, reservations exceed balance", account, avail, item)
			}
			totals[item] += bal
		}
	}
	for _, item := range propItems {
		if totals[item] != m.supply[item] {
			t.Fatalf("%s not conserved: held %d, deposited %d", item, totals[item], m.supply[item])
		}
	}

	for id, prev := range m.orders {
		cur, _, err := m.engine.Order(ctx, id)
		if err != nil {
			t.Fatalf("order %d: %v", id, err)
		}
		if cur.AmountFilled < prev.AmountFilled || cur.AmountSpent < prev.AmountSpent {
			t.Fatalf("order %d went backwards: %+v -> %+v", id, prev, cur)
		}
		if cur.AmountFilled > cur.AmountToBuy || cur.AmountSpent > cur.AmountToSell {
			t.Fatalf("order %d overfilled: %+v", id, cur)
		}
		if cur.Status != models.StatusFor(cur.AmountFilled, cur.AmountToBuy) {
			t.Fatalf("order %d status %s with %d/%d filled", id, cur.Status, cur.AmountFilled, cur.AmountToBuy)
		}
		m.orders[id] = cur
	}
}

func runExchangeModel(t *rapid.T, st store.Store) {
	m := &exchangeModel{
		engine: NewEngine(nil, st),
		bank:   bookkeeper.NewService(nil, st),
		store:  st,
		supply: make(map[string]int64),
		orders: make(map[uint64]*models.Order),
	}
	t.Repeat(map[string]func(*rapid.T){
		"deposit":  m.deposit,
		"withdraw": m.withdraw,
		"submit":   m.submit,
		"":         m.check,
	})
}

func TestExchangeInvariants(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		runExchangeModel(t, testutil.NewMemStore())
	})
}

func TestExchangeInvariantsSQLite(t *testing.T) {
	if testing.Short() {
		t.Skip("sqlite model run skipped in short mode")
	}
	rapid.Check(t, func(rt *rapid.T) {
		// each run gets its own database file
		runExchangeModel(rt, testutil.NewSQLiteStore(t))
	})
}

func TestLotIsReducedRatio(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		maker := &models.Order{
			AmountToBuy:  rapid.Int64Range(1, models.MaxAmount).Draw(t, "makerBuy"),
			AmountToSell: rapid.Int64Range(1, models.MaxAmount).Draw(t, "makerSell"),
		}
		lotBuy, lotSell := maker.Lot()
		if lotBuy*maker.AmountToSell != lotSell*maker.AmountToBuy {
			t.Fatalf("lot %d/%d is not the ratio %d/%d", lotBuy, lotSell, maker.AmountToBuy, maker.AmountToSell)
		}
		if maker.AmountToBuy%lotBuy != 0 || maker.AmountToSell%lotSell != 0 {
			t.Fatalf("lot %d/%d does not divide %d/%d", lotBuy, lotSell, maker.AmountToBuy, maker.AmountToSell)
		}
	})
}
