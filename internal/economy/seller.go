package economy

import "github.com/shopspring/decimal"

// TraderID identifies a buyer or seller across markets, e.g. "group:3".
type TraderID string

// Seller is the narrow capability record anything offering goods provides.
// ForSale is debited in place by exchanges; Sold accumulates what left.
type Seller struct {
	ID      TraderID
	Selling bool
	ForSale Ledger
	Prices  Ledger // Asking price per good; missing entries ask the market price
	Sold    Ledger
}

// NewSeller returns a seller with empty ledgers. Selling is left false until goods are listed.
func NewSeller(id TraderID) *Seller {
	return &Seller{
		ID:      id,
		ForSale: NewLedger(),
		Prices:  NewLedger(),
		Sold:    NewLedger(),
	}
}

// PriceOf returns the asking price for a good, or marketPrice when none is set.
func (s *Seller) PriceOf(g GoodID, marketPrice decimal.Decimal) decimal.Decimal {
	if p, ok := s.Prices[g]; ok {
		return p
	}
	return marketPrice
}
