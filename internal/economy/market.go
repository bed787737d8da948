package economy

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// MarketID identifies a market.
type MarketID uint64

// Seller weight: a seller priced below market gets proportionally more of each buy request.
const (
	baseSellerWeight  = 100
	priceWeightFactor = 5
)

// SellerWeight returns 100 + (marketPrice - sellerPrice) * 5. Extreme overpricing goes negative.
func SellerWeight(marketPrice, sellerPrice decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(baseSellerWeight).
		Add(marketPrice.Sub(sellerPrice).Mul(decimal.NewFromInt(priceWeightFactor)))
}

// SellerEntry is one seller offering one product.
type SellerEntry struct {
	Seller *Seller
	Good   GoodID // The product actually sold, even when listed under a want
	Weight decimal.Decimal
}

// Roster lists the sellers of a good and their aggregate weight.
type Roster struct {
	Entries     []SellerEntry
	TotalWeight decimal.Decimal
}

func (r *Roster) add(e SellerEntry) {
	r.Entries = append(r.Entries, e)
	r.TotalWeight = r.TotalWeight.Add(e.Weight)
}

// Market holds the seller registry for one trading location.
//
// The registry is rebuilt every day: BeginDay clears it, sellers register during the
// offer step, and Freeze makes it read-only for the buy phase. The want cache is
// computed lazily from the registry and dropped whenever the registry changes.
type Market struct {
	ID         MarketID
	Name       string
	Prices     Ledger // Market price per good
	BasePrices Ledger // Prices at creation; price discovery moves around these
	Stockpile  Ledger // Loose unclaimed resources, offered daily at market price
	ForSale    Ledger // Offered today, all sellers
	Sold       Ledger // Sold today, all sellers
	Demand     Ledger // Requested today, all buyers, before rationing

	catalog    *Catalog
	rosters    map[GoodID]*Roster
	wantCache  map[GoodID]*Roster
	registered map[TraderID]bool
	stock      *Seller
	frozen     bool
}

// NewMarket creates a market. Prices and stockpile may be nil.
func NewMarket(id MarketID, name string, catalog *Catalog, prices, stockpile Ledger) (*Market, error) {
	if catalog == nil {
		return nil, fmt.Errorf("new market %d: nil catalog: %w", id, ErrInvalidArgument)
	}
	if prices == nil {
		prices = NewLedger()
	}
	if stockpile == nil {
		stockpile = NewLedger()
	}
	m := &Market{
		ID:         id,
		Name:       name,
		Prices:     prices,
		BasePrices: prices.Clone(),
		Stockpile:  stockpile,
		catalog:    catalog,
	}
	m.BeginDay()
	return m, nil
}

// Catalog returns the goods catalog the market trades in.
func (m *Market) Catalog() *Catalog {
	return m.catalog
}

// PriceOf returns the market price for a good (zero if never priced).
func (m *Market) PriceOf(g GoodID) decimal.Decimal {
	return m.Prices.Get(g)
}

// BeginDay resets the registry, the want cache and the daily totals, and unfreezes.
// A stockpile offer left unreclaimed from an earlier day is returned first.
func (m *Market) BeginDay() {
	if m.stock != nil {
		m.ReclaimStockpile()
	}
	m.rosters = make(map[GoodID]*Roster)
	m.wantCache = make(map[GoodID]*Roster)
	m.registered = make(map[TraderID]bool)
	m.ForSale = NewLedger()
	m.Sold = NewLedger()
	m.Demand = NewLedger()
	m.stock = nil
	m.frozen = false
}

// Freeze makes the registry read-only until the next BeginDay.
func (m *Market) Freeze() {
	m.frozen = true
}

// Frozen reports whether the registry is read-only.
func (m *Market) Frozen() bool {
	return m.frozen
}

// AddSeller registers every positive for-sale line of a selling seller.
func (m *Market) AddSeller(s *Seller) error {
	if s == nil {
		return fmt.Errorf("market %d: add nil seller: %w", m.ID, ErrInvalidArgument)
	}
	if m.frozen {
		return fmt.Errorf("market %d: add seller %s: %w", m.ID, s.ID, ErrMarketFrozen)
	}
	if !s.Selling {
		return nil
	}
	if m.registered[s.ID] {
		return fmt.Errorf("market %d: seller %s already registered: %w", m.ID, s.ID, ErrInvalidArgument)
	}

	for _, g := range s.ForSale.Goods() {
		qty := s.ForSale[g]
		if !qty.IsPositive() {
			continue
		}
		good, ok := m.catalog.Good(g)
		if !ok {
			return fmt.Errorf("market %d: seller %s lists good %d: %w", m.ID, s.ID, g, ErrUnknownGood)
		}
		if good.IsWant() {
			return fmt.Errorf("market %d: seller %s lists want %q: %w", m.ID, s.ID, good.Key(), ErrInvalidArgument)
		}

		r, ok := m.rosters[g]
		if !ok {
			r = &Roster{TotalWeight: decimal.Zero}
			m.rosters[g] = r
		}
		market := m.PriceOf(g)
		r.add(SellerEntry{Seller: s, Good: g, Weight: SellerWeight(market, s.PriceOf(g, market))})
		m.ForSale.Change(g, qty)
	}

	m.registered[s.ID] = true
	// Any cached want roster may now be missing this seller.
	clear(m.wantCache)
	return nil
}

// Sellers returns the roster registered directly for a product.
func (m *Market) Sellers(g GoodID) Roster {
	r, ok := m.rosters[g]
	if !ok {
		return Roster{TotalWeight: decimal.Zero}
	}
	return *r
}

// WantSellers aggregates the sellers of every product that satisfies a want through use,
// consumption or ownership. A seller appears once per product it sells. Products with
// no sellers are skipped. The result is cached until the registry changes.
func (m *Market) WantSellers(want GoodID) (Roster, error) {
	if r, ok := m.wantCache[want]; ok {
		return *r, nil
	}
	w, ok := m.catalog.Good(want)
	if !ok {
		return Roster{}, fmt.Errorf("market %d: want sellers %d: %w", m.ID, want, ErrUnknownGood)
	}
	if !w.IsWant() {
		return Roster{}, fmt.Errorf("market %d: want sellers %q: %w", m.ID, w.Key(), ErrNotAWant)
	}

	r := &Roster{TotalWeight: decimal.Zero}
	for _, sources := range [][]GoodID{w.UseSources, w.ConsumptionSources, w.OwnershipSources} {
		for _, p := range sources {
			pr, ok := m.rosters[p]
			if !ok {
				continue
			}
			for _, e := range pr.Entries {
				r.add(e)
			}
		}
	}
	m.wantCache[want] = r
	return *r, nil
}

// OfferStockpile lists the whole stockpile for sale at market price. Call between
// BeginDay and Freeze; ReclaimStockpile returns what did not sell.
func (m *Market) OfferStockpile() error {
	if m.Stockpile.IsEmpty() {
		return nil
	}
	s := NewSeller(TraderID(fmt.Sprintf("market:%d:stockpile", m.ID)))
	for _, g := range m.Stockpile.Goods() {
		if q := m.Stockpile[g]; q.IsPositive() {
			s.ForSale[g] = q
		}
	}
	s.Selling = !s.ForSale.IsEmpty()
	if err := m.AddSeller(s); err != nil {
		return err
	}
	for g, q := range s.ForSale {
		m.Stockpile.Subtract(g, q)
	}
	m.stock = s
	return nil
}

// ReclaimStockpile moves unsold stockpile goods back and returns what was sold.
func (m *Market) ReclaimStockpile() Ledger {
	if m.stock == nil {
		return NewLedger()
	}
	m.Stockpile.Merge(m.stock.ForSale)
	m.Stockpile.Prune()
	sold := m.stock.Sold.Clone()
	m.stock = nil
	return sold
}

// SellerCount returns how many distinct sellers registered today.
func (m *Market) SellerCount() int {
	return len(m.registered)
}

// TradedGoods returns the goods with at least one registered seller, sorted.
func (m *Market) TradedGoods() []GoodID {
	l := make(Ledger, len(m.rosters))
	for g := range m.rosters {
		l[g] = decimal.Zero
	}
	return l.Goods()
}
