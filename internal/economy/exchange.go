package economy

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Buy resolves a request for amount of good against the registry and returns what was
// delivered, keyed by product. A want is served by the products that satisfy it.
//
// The amount is rationed across sellers in proportion to weight, each capped at what it
// still offers; capacity a capped seller cannot supply is redistributed over the rest
// until the request is met or every seller is exhausted. The buyer's own listings are
// skipped. Delivery never exceeds amount, and every unit credited to cart is debited
// from exactly one seller. An empty market delivers nothing without error.
func (m *Market) Buy(buyer TraderID, cart Ledger, good GoodID, amount decimal.Decimal) (Ledger, error) {
	if cart == nil {
		return nil, fmt.Errorf("market %d: buy with nil cart: %w", m.ID, ErrInvalidArgument)
	}
	if amount.IsNegative() {
		return nil, fmt.Errorf("market %d: buy %s of %d: %w", m.ID, amount, good, ErrNegativeAmount)
	}
	g, ok := m.catalog.Good(good)
	if !ok {
		return nil, fmt.Errorf("market %d: buy good %d: %w", m.ID, good, ErrUnknownGood)
	}

	delivered := NewLedger()
	if !amount.IsPositive() {
		return delivered, nil
	}
	m.Demand.Change(good, amount)

	var roster Roster
	if g.IsWant() {
		var err error
		if roster, err = m.WantSellers(good); err != nil {
			return nil, err
		}
	} else {
		roster = m.Sellers(good)
	}
	if len(roster.Entries) == 0 || !roster.TotalWeight.IsPositive() {
		return delivered, nil
	}

	for _, a := range ration(roster.Entries, buyer, amount) {
		e := roster.Entries[a.entry]
		e.Seller.ForSale.Subtract(e.Good, a.qty)
		e.Seller.Sold.Change(e.Good, a.qty)
		m.Sold.Change(e.Good, a.qty)
		cart.Change(e.Good, a.qty)
		delivered.Change(e.Good, a.qty)
	}
	return delivered, nil
}

type allocation struct {
	entry int
	qty   decimal.Decimal
}

type candidate struct {
	entry     int
	weight    decimal.Decimal
	available decimal.Decimal
}

// ration water-fills amount over the entries. Entries with non-positive weight or
// nothing left to offer take no share.
func ration(entries []SellerEntry, buyer TraderID, amount decimal.Decimal) []allocation {
	var active []candidate
	for i, e := range entries {
		if e.Seller.ID == buyer || !e.Weight.IsPositive() {
			continue
		}
		avail := e.Seller.ForSale.Get(e.Good)
		if !avail.IsPositive() {
			continue
		}
		active = append(active, candidate{entry: i, weight: e.Weight, available: avail})
	}

	var out []allocation
	remaining := amount
	for remaining.IsPositive() && len(active) > 0 {
		total := decimal.Zero
		for _, c := range active {
			total = total.Add(c.weight)
		}

		// The last candidate takes the exact remainder so rounding never over-delivers.
		shares := make([]decimal.Decimal, len(active))
		assigned := decimal.Zero
		for i, c := range active {
			if i == len(active)-1 {
				shares[i] = decimal.Max(remaining.Sub(assigned), decimal.Zero)
				break
			}
			shares[i] = remaining.Mul(c.weight).Div(total)
			assigned = assigned.Add(shares[i])
		}

		var next []candidate
		capped := false
		for i, c := range active {
			if shares[i].GreaterThanOrEqual(c.available) {
				capped = true
				take := decimal.Min(c.available, remaining)
				if take.IsPositive() {
					out = append(out, allocation{entry: c.entry, qty: take})
					remaining = remaining.Sub(take)
				}
				continue
			}
			next = append(next, c)
		}
		if capped {
			active = next
			continue
		}

		for i, c := range active {
			if shares[i].IsPositive() {
				out = append(out, allocation{entry: c.entry, qty: shares[i]})
			}
		}
		break
	}
	return out
}
