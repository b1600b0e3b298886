// Package memstore is an in-memory store.Store. Units of work are fully
// serialized by one mutex and rolled back from an undo log, which makes it a
// faithful stand-in for the database in unit tests.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tidwall/btree"

	"github.com/Aidin1998/barterex/internal/store"
	"github.com/Aidin1998/barterex/pkg/models"
)

type bookKey struct {
	world string
	buy   string
	sell  string
}

// bookEntry indexes an open order by its price. Amounts never change after
// insert, so the entry stays valid while the order is open.
type bookEntry struct {
	id   uint64
	buy  int64
	sell int64
}

func entryLess(a, b bookEntry) bool {
	lhs := a.buy * b.sell
	rhs := b.buy * a.sell
	if lhs != rhs {
		return lhs < rhs
	}
	return a.id < b.id
}

// Store keeps balances, orders and fills in maps guarded by one mutex.
type Store struct {
	mu       sync.Mutex
	balances map[store.BalanceKey]models.Balance
	orders   map[uint64]*models.Order
	books    map[bookKey]*btree.BTreeG[bookEntry]
	fills    []*models.Fill
	nextID   uint64
	now      func() time.Time
	closed   bool
}

// New returns an empty store.
func New() *Store {
	return &Store{
		balances: make(map[store.BalanceKey]models.Balance),
		orders:   make(map[uint64]*models.Order),
		books:    make(map[bookKey]*btree.BTreeG[bookEntry]),
		now:      time.Now,
	}
}

// WithinTx implements store.Store. The callback runs while holding the store
// lock; an error or panic replays the undo log before the lock is released.
func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Tx) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("memstore closed: %w", store.ErrUnavailable)
	}

	t := &tx{s: s}
	defer func() {
		if r := recover(); r != nil {
			t.rollback()
			panic(r)
		}
	}()
	if err = fn(t); err != nil {
		t.rollback()
		return err
	}
	return nil
}

// Close makes later units of work fail with store.ErrUnavailable.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Store) book(k bookKey) *btree.BTreeG[bookEntry] {
	b, ok := s.books[k]
	if !ok {
		b = btree.NewBTreeG[bookEntry](entryLess)
		s.books[k] = b
	}
	return b
}

type tx struct {
	s    *Store
	undo []func()
}

func (t *tx) record(f func()) { t.undo = append(t.undo, f) }

func (t *tx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *tx) Balances() store.BalanceRepository { return (*balances)(t) }
func (t *tx) Orders() store.OrderRepository     { return (*orders)(t) }
func (t *tx) Fills() store.FillRepository       { return (*fills)(t) }

type balances tx

func (r *balances) Get(ctx context.Context, key store.BalanceKey) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return r.s.balances[key].Quantity, nil
}

func (r *balances) GetForUpdate(ctx context.Context, key store.BalanceKey) (int64, error) {
	return r.Get(ctx, key)
}

func (r *balances) Increment(ctx context.Context, key store.BalanceKey, amount int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.set(key, r.s.balances[key].Quantity+amount)
	return nil
}

func (r *balances) DecrementIfAvailable(ctx context.Context, key store.BalanceKey, amount int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	row, ok := r.s.balances[key]
	if !ok || row.Quantity < amount {
		return false, nil
	}
	r.set(key, row.Quantity-amount)
	return true, nil
}

func (r *balances) set(key store.BalanceKey, quantity int64) {
	prev, existed := r.s.balances[key]
	(*tx)(r).record(func() {
		if existed {
			r.s.balances[key] = prev
		} else {
			delete(r.s.balances, key)
		}
	})
	r.s.balances[key] = models.Balance{
		Account:   key.Account,
		World:     key.World,
		Item:      key.Item,
		Quantity:  quantity,
		UpdatedAt: r.s.now(),
	}
}

func (r *balances) ListForAccount(ctx context.Context, account, world string) ([]models.Balance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rows []models.Balance
	for k, b := range r.s.balances {
		if k.Account == account && k.World == world {
			rows = append(rows, b)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Item < rows[j].Item })
	return rows, nil
}

type orders tx

func (r *orders) Insert(ctx context.Context, o *models.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s := r.s
	s.nextID++
	now := s.now()
	o.ID = s.nextID
	o.CreatedAt = now
	o.UpdatedAt = now

	stored := o.Clone()
	s.orders[o.ID] = stored
	k := bookKey{world: o.World, buy: o.ItemToBuy, sell: o.ItemToSell}
	e := bookEntry{id: o.ID, buy: o.AmountToBuy, sell: o.AmountToSell}
	if stored.IsOpen() {
		s.book(k).Set(e)
	}
	(*tx)(r).record(func() {
		delete(s.orders, e.id)
		s.book(k).Delete(e)
		s.nextID--
	})
	return nil
}

func (r *orders) Get(ctx context.Context, id uint64) (*models.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	o, ok := r.s.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %d: %w", id, store.ErrNotFound)
	}
	return o.Clone(), nil
}

func (r *orders) Counterparties(ctx context.Context, q store.CounterpartyQuery) ([]*models.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b, ok := r.s.books[bookKey{world: q.World, buy: q.ItemToSell, sell: q.ItemToBuy}]
	if !ok {
		return nil, nil
	}
	var out []*models.Order
	b.Scan(func(e bookEntry) bool {
		o := r.s.orders[e.id]
		if o == nil || !o.IsOpen() {
			return true
		}
		if q.ExcludeAccount != "" && o.Account == q.ExcludeAccount {
			return true
		}
		if q.Limit != nil && !models.Crosses(o, q.Limit) {
			// entries are sorted by price, nothing further can cross
			return false
		}
		out = append(out, o.Clone())
		return true
	})
	return out, nil
}

func (r *orders) UpdateFill(ctx context.Context, o *models.Order, prevFilled int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s := r.s
	cur, ok := s.orders[o.ID]
	if !ok {
		return fmt.Errorf("order %d: %w", o.ID, store.ErrNotFound)
	}
	if cur.AmountFilled != prevFilled {
		return fmt.Errorf("update order %d fill: %w", o.ID, store.ErrConflict)
	}

	prev := cur.Clone()
	o.UpdatedAt = s.now()
	next := cur.Clone()
	next.AmountFilled = o.AmountFilled
	next.AmountSpent = o.AmountSpent
	next.Status = o.Status
	next.UpdatedAt = o.UpdatedAt
	s.orders[o.ID] = next

	k := bookKey{world: cur.World, buy: cur.ItemToBuy, sell: cur.ItemToSell}
	e := bookEntry{id: cur.ID, buy: cur.AmountToBuy, sell: cur.AmountToSell}
	if prev.IsOpen() && !next.IsOpen() {
		s.book(k).Delete(e)
	}
	(*tx)(r).record(func() {
		s.orders[prev.ID] = prev
		if prev.IsOpen() {
			s.book(k).Set(e)
		}
	})
	return nil
}

func (r *orders) OpenSellCommitment(ctx context.Context, account, world, item string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var total int64
	for _, o := range r.s.orders {
		if o.Account == account && o.World == world && o.ItemToSell == item && o.IsOpen() {
			total += o.Unspent()
		}
	}
	return total, nil
}

func (r *orders) OpenForItem(ctx context.Context, world, account, item string) ([]*models.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []*models.Order
	for _, o := range r.s.orders {
		if o.World != world || !o.IsOpen() {
			continue
		}
		if account != "" && o.Account != account {
			continue
		}
		if o.ItemToSell == item || o.ItemToBuy == item {
			out = append(out, o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type fills tx

func (r *fills) Insert(ctx context.Context, f *models.Fill) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s := r.s
	if f.CreatedAt.IsZero() {
		f.CreatedAt = s.now()
	}
	c := *f
	s.fills = append(s.fills, &c)
	n := len(s.fills) - 1
	(*tx)(r).record(func() { s.fills = s.fills[:n] })
	return nil
}

func (r *fills) ForOrder(ctx context.Context, orderID uint64) ([]*models.Fill, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []*models.Fill
	for _, f := range r.s.fills {
		if f.TakerOrderID == orderID || f.MakerOrderID == orderID {
			c := *f
			out = append(out, &c)
		}
	}
	return out, nil
}
