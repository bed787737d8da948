package economy

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

type fixture struct {
	cat    *Catalog
	grain  GoodID
	bread  GoodID
	rice   GoodID
	food   GoodID
	market *Market
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{cat: NewCatalog()}
	var err error
	if f.grain, err = f.cat.AddProduct(ProductDef{Name: "Grain", Fractional: true}); err != nil {
		t.Fatalf("AddProduct: %v", err)
	}
	if f.bread, err = f.cat.AddProduct(ProductDef{Name: "Bread"}); err != nil {
		t.Fatalf("AddProduct: %v", err)
	}
	if f.rice, err = f.cat.AddProduct(ProductDef{Name: "Rice"}); err != nil {
		t.Fatalf("AddProduct: %v", err)
	}
	f.food, err = f.cat.AddWant(WantDef{Name: "Food", Consumption: []GoodID{f.bread, f.rice}})
	if err != nil {
		t.Fatalf("AddWant: %v", err)
	}
	f.market, err = NewMarket(1, "Crossroads", f.cat, Ledger{f.grain: d("10"), f.bread: d("4"), f.rice: d("4")}, nil)
	if err != nil {
		t.Fatalf("NewMarket: %v", err)
	}
	return f
}

func seller(id string, g GoodID, qty, price string) *Seller {
	s := NewSeller(TraderID(id))
	s.ForSale[g] = d(qty)
	s.Prices[g] = d(price)
	s.Selling = true
	return s
}

func TestSellerWeightFavorsCheaperSellers(t *testing.T) {
	below := SellerWeight(d("10"), d("8"))
	above := SellerWeight(d("10"), d("12"))
	if !below.Equal(d("110")) || !above.Equal(d("90")) {
		t.Fatalf("expected 110/90, got %s/%s", below, above)
	}
	if !below.GreaterThan(above) {
		t.Fatalf("expected seller below market to outweigh seller above")
	}
	if !SellerWeight(d("10"), d("40")).IsNegative() {
		t.Fatalf("expected extreme overpricing to give negative weight")
	}
}

func TestAddSellerSkipsNonSelling(t *testing.T) {
	f := newFixture(t)
	s := seller("a", f.grain, "5", "10")
	s.Selling = false
	if err := f.market.AddSeller(s); err != nil {
		t.Fatalf("AddSeller: %v", err)
	}
	if n := len(f.market.Sellers(f.grain).Entries); n != 0 {
		t.Fatalf("expected no entries, got %d", n)
	}
	if err := f.market.AddSeller(nil); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for nil seller, got %v", err)
	}
}

func TestBuySplitsByWeightAndRedistributesCappedShare(t *testing.T) {
	f := newFixture(t)
	a := seller("a", f.grain, "50", "8")
	b := seller("b", f.grain, "200", "12")
	for _, s := range []*Seller{a, b} {
		if err := f.market.AddSeller(s); err != nil {
			t.Fatalf("AddSeller: %v", err)
		}
	}
	r := f.market.Sellers(f.grain)
	if !r.TotalWeight.Equal(d("200")) {
		t.Fatalf("expected aggregate weight 200, got %s", r.TotalWeight)
	}
	f.market.Freeze()

	cart := NewLedger()
	got, err := f.market.Buy("buyer", cart, f.grain, d("100"))
	if err != nil {
		t.Fatalf("Buy: %v", err)
	}
	if !got.Get(f.grain).Equal(d("100")) {
		t.Fatalf("expected 100 delivered, got %s", got.Get(f.grain))
	}
	if !a.Sold.Get(f.grain).Equal(d("50")) || !a.ForSale.Get(f.grain).IsZero() {
		t.Fatalf("expected A to sell out 50, sold %s left %s", a.Sold.Get(f.grain), a.ForSale.Get(f.grain))
	}
	if !b.Sold.Get(f.grain).Equal(d("50")) || !b.ForSale.Get(f.grain).Equal(d("150")) {
		t.Fatalf("expected B to sell 50, sold %s left %s", b.Sold.Get(f.grain), b.ForSale.Get(f.grain))
	}
	if !cart.Equal(got) || !f.market.Sold.Equal(got) {
		t.Fatalf("cart %v and market sold %v must match delivery %v", cart, f.market.Sold, got)
	}
}

func TestBuyUncontestedSplitsProportionally(t *testing.T) {
	f := newFixture(t)
	a := seller("a", f.grain, "500", "8")
	b := seller("b", f.grain, "500", "12")
	_ = f.market.AddSeller(a)
	_ = f.market.AddSeller(b)

	got, err := f.market.Buy("buyer", NewLedger(), f.grain, d("100"))
	if err != nil {
		t.Fatalf("Buy: %v", err)
	}
	if !a.Sold.Get(f.grain).Equal(d("55")) || !b.Sold.Get(f.grain).Equal(d("45")) {
		t.Fatalf("expected 55/45 split, got %s/%s", a.Sold.Get(f.grain), b.Sold.Get(f.grain))
	}
	if !got.Get(f.grain).Equal(d("100")) {
		t.Fatalf("expected 100 delivered, got %s", got.Get(f.grain))
	}
}

func TestBuyNeverExceedsRequestAndConservesGoods(t *testing.T) {
	f := newFixture(t)
	sellers := []*Seller{
		seller("a", f.grain, "7", "9"),
		seller("b", f.grain, "3", "10"),
		seller("c", f.grain, "11", "11.5"),
	}
	for _, s := range sellers {
		_ = f.market.AddSeller(s)
	}

	for _, req := range []string{"1", "10", "20", "100"} {
		before := decimal.Zero
		for _, s := range sellers {
			before = before.Add(s.ForSale.Get(f.grain))
		}
		cart := NewLedger()
		got, err := f.market.Buy("buyer", cart, f.grain, d(req))
		if err != nil {
			t.Fatalf("Buy %s: %v", req, err)
		}
		after := decimal.Zero
		for _, s := range sellers {
			after = after.Add(s.ForSale.Get(f.grain))
		}
		delivered := got.Get(f.grain)
		if delivered.GreaterThan(d(req)) {
			t.Fatalf("request %s: delivered %s", req, delivered)
		}
		if !before.Sub(after).Equal(delivered) || !cart.Get(f.grain).Equal(delivered) {
			t.Fatalf("request %s: debited %s, delivered %s, cart %s", req, before.Sub(after), delivered, cart.Get(f.grain))
		}
	}
}

func TestBuySkipsBuyerOwnListing(t *testing.T) {
	f := newFixture(t)
	_ = f.market.AddSeller(seller("group:1", f.grain, "10", "10"))
	got, err := f.market.Buy("group:1", NewLedger(), f.grain, d("5"))
	if err != nil {
		t.Fatalf("Buy: %v", err)
	}
	if !got.IsEmpty() {
		t.Fatalf("expected nothing delivered from own listing, got %v", got)
	}
}

func TestBuyFromEmptyMarketDeliversNothing(t *testing.T) {
	f := newFixture(t)
	got, err := f.market.Buy("buyer", NewLedger(), f.grain, d("5"))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !got.IsEmpty() {
		t.Fatalf("expected empty delivery, got %v", got)
	}
}

func TestBuyRejectsMisuse(t *testing.T) {
	f := newFixture(t)
	if _, err := f.market.Buy("buyer", nil, f.grain, d("1")); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if _, err := f.market.Buy("buyer", NewLedger(), f.grain, d("-1")); !errors.Is(err, ErrNegativeAmount) {
		t.Fatalf("expected ErrNegativeAmount, got %v", err)
	}
	if _, err := f.market.Buy("buyer", NewLedger(), 99, d("1")); !errors.Is(err, ErrUnknownGood) {
		t.Fatalf("expected ErrUnknownGood, got %v", err)
	}
}

func TestBuyIgnoresNonPositiveWeights(t *testing.T) {
	f := newFixture(t)
	gouger := seller("gouger", f.grain, "100", "40")
	_ = f.market.AddSeller(gouger)
	got, err := f.market.Buy("buyer", NewLedger(), f.grain, d("5"))
	if err != nil {
		t.Fatalf("Buy: %v", err)
	}
	if !got.IsEmpty() {
		t.Fatalf("expected no delivery from negative-weight seller, got %v", got)
	}
}

func TestWantSellersSkipsProductsWithoutSellers(t *testing.T) {
	f := newFixture(t)
	s := seller("baker", f.bread, "20", "3")
	_ = f.market.AddSeller(s)

	r, err := f.market.WantSellers(f.food)
	if err != nil {
		t.Fatalf("WantSellers: %v", err)
	}
	if len(r.Entries) != 1 || r.Entries[0].Seller != s || r.Entries[0].Good != f.bread {
		t.Fatalf("expected only the bread seller, got %+v", r.Entries)
	}
	if !r.TotalWeight.Equal(d("105")) {
		t.Fatalf("expected weight 105, got %s", r.TotalWeight)
	}

	if _, err := f.market.WantSellers(f.bread); !errors.Is(err, ErrNotAWant) {
		t.Fatalf("expected ErrNotAWant, got %v", err)
	}
}

func TestWantCacheDroppedWhenRegistryChanges(t *testing.T) {
	f := newFixture(t)
	_ = f.market.AddSeller(seller("baker", f.bread, "20", "4"))
	if r, _ := f.market.WantSellers(f.food); len(r.Entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(r.Entries))
	}

	_ = f.market.AddSeller(seller("farmer", f.rice, "20", "4"))
	r, _ := f.market.WantSellers(f.food)
	if len(r.Entries) != 2 {
		t.Fatalf("expected cache refresh to see 2 entries, got %d", len(r.Entries))
	}

	f.market.BeginDay()
	if r, _ := f.market.WantSellers(f.food); len(r.Entries) != 0 {
		t.Fatalf("expected BeginDay to clear the registry, got %d entries", len(r.Entries))
	}
}

func TestBuyWantDeliversProducts(t *testing.T) {
	f := newFixture(t)
	_ = f.market.AddSeller(seller("baker", f.bread, "2", "4"))
	_ = f.market.AddSeller(seller("farmer", f.rice, "10", "4"))

	got, err := f.market.Buy("buyer", NewLedger(), f.food, d("6"))
	if err != nil {
		t.Fatalf("Buy: %v", err)
	}
	if got.Contains(f.food) {
		t.Fatalf("delivery must be keyed by product, got %v", got)
	}
	if !got.Get(f.bread).Equal(d("2")) || !got.Get(f.rice).Equal(d("4")) {
		t.Fatalf("expected 2 bread + 4 rice, got %v", got)
	}
}

func TestFrozenMarketRejectsSellers(t *testing.T) {
	f := newFixture(t)
	f.market.Freeze()
	err := f.market.AddSeller(seller("late", f.grain, "1", "10"))
	if !errors.Is(err, ErrMarketFrozen) {
		t.Fatalf("expected ErrMarketFrozen, got %v", err)
	}
}

func TestStockpileOfferAndReclaim(t *testing.T) {
	f := newFixture(t)
	f.market.Stockpile[f.grain] = d("30")
	if err := f.market.OfferStockpile(); err != nil {
		t.Fatalf("OfferStockpile: %v", err)
	}
	if !f.market.ForSale.Get(f.grain).Equal(d("30")) {
		t.Fatalf("expected 30 offered, got %s", f.market.ForSale.Get(f.grain))
	}
	if _, err := f.market.Buy("buyer", NewLedger(), f.grain, d("12")); err != nil {
		t.Fatalf("Buy: %v", err)
	}
	sold := f.market.ReclaimStockpile()
	if !sold.Get(f.grain).Equal(d("12")) {
		t.Fatalf("expected 12 sold, got %s", sold.Get(f.grain))
	}
	if !f.market.Stockpile.Get(f.grain).Equal(d("18")) {
		t.Fatalf("expected 18 back in stockpile, got %s", f.market.Stockpile.Get(f.grain))
	}
}

func TestBeginDayReturnsUnreclaimedStockpile(t *testing.T) {
	f := newFixture(t)
	f.market.Stockpile[f.grain] = d("10")
	if err := f.market.OfferStockpile(); err != nil {
		t.Fatalf("OfferStockpile: %v", err)
	}
	if _, err := f.market.Buy("buyer", NewLedger(), f.grain, d("4")); err != nil {
		t.Fatalf("Buy: %v", err)
	}
	f.market.BeginDay()
	if !f.market.Stockpile.Get(f.grain).Equal(d("6")) {
		t.Fatalf("expected 6 unsold grain back in stockpile, got %s", f.market.Stockpile.Get(f.grain))
	}
	if sold := f.market.ReclaimStockpile(); !sold.IsEmpty() {
		t.Fatalf("expected nothing left to reclaim, got %v", sold)
	}
}

func TestCatalogRejectsBadWants(t *testing.T) {
	f := newFixture(t)
	if _, err := f.cat.AddWant(WantDef{Name: "Meta", Use: []GoodID{f.food}}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected want-of-want rejected, got %v", err)
	}
	if _, err := f.cat.AddWant(WantDef{Name: "Dup", Use: []GoodID{f.bread}, Ownership: []GoodID{f.bread}}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected overlapping sources rejected, got %v", err)
	}
	if _, err := f.cat.AddProduct(ProductDef{Name: "Grain"}); !errors.Is(err, ErrDuplicateGood) {
		t.Fatalf("expected duplicate rejected, got %v", err)
	}
	if id, ok := f.cat.Lookup("Bread"); !ok || id != f.bread {
		t.Fatalf("expected lookup by key to resolve bread")
	}
}

func TestDecayModel(t *testing.T) {
	whole := Good{FailureChance: d("0.25")}
	if got := (DecayModel{}).Loss(whole, d("7")); !got.Equal(d("1")) {
		t.Fatalf("expected floor(1.75)=1, got %s", got)
	}
	frac := Good{FailureChance: d("0.25"), Fractional: true}
	if got := (DecayModel{}).Loss(frac, d("7")); !got.Equal(d("1.75")) {
		t.Fatalf("expected 1.75, got %s", got)
	}
}
