package economy

import (
	"slices"

	"github.com/shopspring/decimal"
)

// Ledger maps goods to quantities. It is the unit of exchange between every component.
//
// Resting balances never go below zero: Add and Subtract clamp at zero and report the
// uncovered part as a shortfall. Signed delta records are built with Change and Merge.
type Ledger map[GoodID]decimal.Decimal

// Amount is one ledger line.
type Amount struct {
	Good GoodID          `json:"good"`
	Qty  decimal.Decimal `json:"qty"`
}

// NewLedger returns an empty ledger.
func NewLedger() Ledger {
	return make(Ledger)
}

// Get returns the quantity held, or zero if the good is untracked.
func (l Ledger) Get(g GoodID) decimal.Decimal {
	return l[g]
}

// Contains reports whether the good has an entry (possibly zero).
func (l Ledger) Contains(g GoodID) bool {
	_, ok := l[g]
	return ok
}

// Add applies a signed amount with the clamp-at-zero policy.
// Returns the part of a negative amount the balance could not cover.
func (l Ledger) Add(g GoodID, amount decimal.Decimal) (shortfall decimal.Decimal) {
	next := l[g].Add(amount)
	if next.IsNegative() {
		l[g] = decimal.Zero
		return next.Neg()
	}
	l[g] = next
	return decimal.Zero
}

// Subtract is Add with the amount negated.
func (l Ledger) Subtract(g GoodID, amount decimal.Decimal) (shortfall decimal.Decimal) {
	return l.Add(g, amount.Neg())
}

// Change applies a signed amount without clamping. Only for delta records.
func (l Ledger) Change(g GoodID, delta decimal.Decimal) {
	l[g] = l[g].Add(delta)
}

// Merge adds every entry of other into l without clamping.
func (l Ledger) Merge(other Ledger) {
	for g, q := range other {
		l.Change(g, q)
	}
}

// Apply adds a signed delta with the clamp policy and returns the per-good shortfalls.
func (l Ledger) Apply(delta Ledger) Ledger {
	short := NewLedger()
	for _, g := range delta.Goods() {
		if s := l.Add(g, delta[g]); s.IsPositive() {
			short[g] = s
		}
	}
	return short
}

// Multiply returns a new ledger with every entry scaled.
func (l Ledger) Multiply(scalar decimal.Decimal) Ledger {
	out := make(Ledger, len(l))
	for g, q := range l {
		out[g] = q.Mul(scalar)
	}
	return out
}

// GetMany returns the requested goods in the requested order. Untracked goods read as zero.
func (l Ledger) GetMany(goods []GoodID) []Amount {
	out := make([]Amount, 0, len(goods))
	for _, g := range goods {
		out = append(out, Amount{Good: g, Qty: l[g]})
	}
	return out
}

// Goods returns the tracked goods in ascending handle order.
func (l Ledger) Goods() []GoodID {
	keys := make([]GoodID, 0, len(l))
	for g := range l {
		keys = append(keys, g)
	}
	slices.Sort(keys)
	return keys
}

// Amounts returns the ledger as sorted lines.
func (l Ledger) Amounts() []Amount {
	return l.GetMany(l.Goods())
}

// Total sums every entry.
func (l Ledger) Total() decimal.Decimal {
	total := decimal.Zero
	for _, q := range l {
		total = total.Add(q)
	}
	return total
}

// Clone returns an independent copy.
func (l Ledger) Clone() Ledger {
	out := make(Ledger, len(l))
	for g, q := range l {
		out[g] = q
	}
	return out
}

// Prune drops zero entries.
func (l Ledger) Prune() {
	for g, q := range l {
		if q.IsZero() {
			delete(l, g)
		}
	}
}

// IsEmpty reports whether every entry is zero.
func (l Ledger) IsEmpty() bool {
	for _, q := range l {
		if !q.IsZero() {
			return false
		}
	}
	return true
}

// Equal compares two ledgers, treating missing entries as zero.
func (l Ledger) Equal(other Ledger) bool {
	for g, q := range l {
		if !q.Equal(other[g]) {
			return false
		}
	}
	for g, q := range other {
		if !q.Equal(l[g]) {
			return false
		}
	}
	return true
}
