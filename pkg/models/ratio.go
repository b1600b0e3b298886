package models

// GCD returns the greatest common divisor of a and b (0 only when both are 0).
func GCD(a, b int64) int64 {
	if a < 0 {
		a = -a
	}
	if b < 0 {
		b = -b
	}
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// Lot returns the order's exchange ratio in lowest terms: the smallest
// (buy, sell) pair that respects its price exactly.
func (o *Order) Lot() (buy, sell int64) {
	g := GCD(o.AmountToBuy, o.AmountToSell)
	if g == 0 {
		return 0, 0
	}
	return o.AmountToBuy / g, o.AmountToSell / g
}

// Crosses reports whether resting order maker is acceptable to taker: the
// maker asks no more of the taker's sell item per unit of the taker's buy
// item than the taker offers.
func Crosses(maker, taker *Order) bool {
	return maker.AmountToBuy*taker.AmountToBuy <= taker.AmountToSell*maker.AmountToSell
}

// BetterForTaker orders two resting orders on the same side: a precedes b
// when a asks less per unit it gives, with the older order winning ties.
func BetterForTaker(a, b *Order) bool {
	lhs := a.AmountToBuy * b.AmountToSell
	rhs := b.AmountToBuy * a.AmountToSell
	if lhs != rhs {
		return lhs < rhs
	}
	return a.ID < b.ID
}
