package models

import (
	"time"
)

// OrderStatus is derived from an order's fill progress; it is never set directly.
type OrderStatus string

const (
	OrderStatusUnfilled OrderStatus = "unfilled"
	OrderStatusPartial  OrderStatus = "partial"
	OrderStatusFilled   OrderStatus = "filled"
)

// MaxAmount bounds order amounts so that price cross-multiplication fits in int64.
const MaxAmount int64 = 1<<31 - 1

// Balance is the quantity of one item an account holds in one world.
type Balance struct {
	Account   string    `json:"account" gorm:"primaryKey;size:64"`
	World     string    `json:"world" gorm:"primaryKey;size:64"`
	Item      string    `json:"item" gorm:"primaryKey;size:128"`
	Quantity  int64     `json:"quantity" gorm:"not null;default:0;check:quantity >= 0"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Order is an open offer to give AmountToSell of ItemToSell for AmountToBuy of ItemToBuy.
type Order struct {
	ID           uint64      `json:"id" gorm:"primaryKey;autoIncrement"`
	Account      string      `json:"account" gorm:"size:64;not null;index:idx_orders_account_sell,priority:1"`
	World        string      `json:"world" gorm:"size:64;not null;index:idx_orders_book,priority:1;index:idx_orders_account_sell,priority:2"`
	ItemToBuy    string      `json:"item_to_buy" gorm:"size:128;not null;index:idx_orders_book,priority:2"`
	ItemToSell   string      `json:"item_to_sell" gorm:"size:128;not null;index:idx_orders_book,priority:3;index:idx_orders_account_sell,priority:3"`
	AmountToBuy  int64       `json:"amount_to_buy" gorm:"not null;check:amount_to_buy > 0"`
	AmountToSell int64       `json:"amount_to_sell" gorm:"not null;check:amount_to_sell > 0"`
	AmountFilled int64       `json:"amount_filled" gorm:"not null;default:0"`
	AmountSpent  int64       `json:"amount_spent" gorm:"not null;default:0"`
	Status       OrderStatus `json:"status" gorm:"size:16;not null;index"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// Remaining is how much of ItemToBuy the order still wants.
func (o *Order) Remaining() int64 {
	return o.AmountToBuy - o.AmountFilled
}

// Unspent is how much of ItemToSell the order may still give away.
func (o *Order) Unspent() int64 {
	return o.AmountToSell - o.AmountSpent
}

// IsOpen reports whether the order can still take part in matching.
func (o *Order) IsOpen() bool {
	return o.Status != OrderStatusFilled
}

// RefreshStatus recomputes Status from the fill progress.
func (o *Order) RefreshStatus() {
	o.Status = StatusFor(o.AmountFilled, o.AmountToBuy)
}

// Clone returns a copy safe to mutate independently.
func (o *Order) Clone() *Order {
	c := *o
	return &c
}

// StatusFor derives an order status from filled vs wanted quantity.
func StatusFor(filled, toBuy int64) OrderStatus {
	switch {
	case filled >= toBuy:
		return OrderStatusFilled
	case filled > 0:
		return OrderStatusPartial
	default:
		return OrderStatusUnfilled
	}
}

// Fill records one execution between an incoming (taker) order and a resting (maker) order.
// TakerItem is what the taker received, MakerItem is what the maker received.
type Fill struct {
	ID            string    `json:"id" gorm:"primaryKey;size:36"`
	World         string    `json:"world" gorm:"size:64;not null"`
	TakerOrderID  uint64    `json:"taker_order_id" gorm:"not null;index"`
	MakerOrderID  uint64    `json:"maker_order_id" gorm:"not null;index"`
	TakerAccount  string    `json:"taker_account" gorm:"size:64;not null"`
	MakerAccount  string    `json:"maker_account" gorm:"size:64;not null"`
	TakerItem     string    `json:"taker_item" gorm:"size:128;not null"`
	TakerReceived int64     `json:"taker_received" gorm:"not null"`
	MakerItem     string    `json:"maker_item" gorm:"size:128;not null"`
	MakerReceived int64     `json:"maker_received" gorm:"not null"`
	CreatedAt     time.Time `json:"created_at"`
}
